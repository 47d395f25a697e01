package session

import (
	"arbor/internal/diag"
	"arbor/internal/reconcile"
	"arbor/internal/unit"
)

// EventKind enumerates what a mailbox event asks the consumer to do.
type EventKind uint8

const (
	EventSessionStarted EventKind = iota
	EventSessionFinished
	EventContainerStarted
	EventContainerFailed
	EventUnitStarted
	EventUnitFailed
	EventUnitFinished
	EventBatchFinished
	EventSchedule
	EventInvalidate
	// EventDiagnostics signals that the store changed for a file.
	EventDiagnostics
	// EventUnits signals that the registry changed.
	EventUnits
	// EventCall runs a closure on the consumer goroutine.
	EventCall
)

func (k EventKind) String() string {
	switch k {
	case EventSessionStarted:
		return "session_started"
	case EventSessionFinished:
		return "session_finished"
	case EventContainerStarted:
		return "container_started"
	case EventContainerFailed:
		return "container_failed"
	case EventUnitStarted:
		return "unit_started"
	case EventUnitFailed:
		return "unit_failed"
	case EventUnitFinished:
		return "unit_finished"
	case EventBatchFinished:
		return "batch_finished"
	case EventSchedule:
		return "schedule"
	case EventInvalidate:
		return "invalidate"
	case EventDiagnostics:
		return "diagnostics"
	case EventUnits:
		return "units"
	case EventCall:
		return "call"
	}
	return "unknown"
}

// Event is an immutable message for the consumer goroutine.
type Event struct {
	Kind     EventKind
	Key      unit.Key
	Path     string
	Expected []unit.Key
	Added    []*diag.Diagnostic
	Removed  []*diag.Diagnostic
	Action   reconcile.Action
	call     func()
}
