// Package eventlog records and replays the event stream of a session as a
// msgpack file: one header followed by records in push order.
package eventlog

import (
	"errors"
	"time"

	"arbor/internal/diag"
	"arbor/internal/source"
	"arbor/internal/unit"
)

// Current schema version - increment when Record format changes
const SchemaVersion uint16 = 1

// ErrSchema reports a log written with an incompatible schema or a record
// that cannot be interpreted.
var ErrSchema = errors.New("event log schema mismatch")

// Header opens every log.
type Header struct {
	Schema    uint16
	Created   time.Time
	SessionID string
}

// Kind of a record.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindFileUpdate
	KindFileRemove
	KindLeaf
	KindLeafRemove
	KindReport
	KindClearResolution
	KindClearAnalysis
	KindSessionStarted
	KindSessionFinished
	KindContainerStarted
	KindContainerFailed
	KindUnitStarted
	KindUnitFailed
	KindUnitFinished
	KindBatchFinished
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFileUpdate:
		return "file_update"
	case KindFileRemove:
		return "file_remove"
	case KindLeaf:
		return "leaf"
	case KindLeafRemove:
		return "leaf_remove"
	case KindReport:
		return "report"
	case KindClearResolution:
		return "clear_resolution"
	case KindClearAnalysis:
		return "clear_analysis"
	case KindSessionStarted:
		return "session_started"
	case KindSessionFinished:
		return "session_finished"
	case KindContainerStarted:
		return "container_started"
	case KindContainerFailed:
		return "container_failed"
	case KindUnitStarted:
		return "unit_started"
	case KindUnitFailed:
		return "unit_failed"
	case KindUnitFinished:
		return "unit_finished"
	case KindBatchFinished:
		return "batch_finished"
	}
	return "unknown"
}

// Span is a byte range inside the file of the record's module.
type Span struct {
	Start uint32
	End   uint32
}

// Note is a secondary span of a recorded diagnostic.
type Note struct {
	Span Span
	Msg  string
}

// Diagnostic is the file-independent form of diag.Diagnostic. File handles
// are not stable across runs, so spans are relative to the record's module.
type Diagnostic struct {
	Severity uint8
	Code     uint16
	Stage    uint8
	Message  string
	Owner    unit.Key
	Span     Span
	Revision uint32
	Notes    []Note
}

// Record is one logged event. Which fields are meaningful depends on Kind.
type Record struct {
	Seq        uint64
	Kind       Kind
	Key        unit.Key
	Path       string
	Module     string
	Content    []byte
	Span       Span
	Parent     unit.Key
	Expected   []unit.Key
	Diagnostic *Diagnostic
}

// FromDiagnostic converts d for a record of module.
func FromDiagnostic(d *diag.Diagnostic) *Diagnostic {
	out := &Diagnostic{
		Severity: uint8(d.Severity),
		Code:     uint16(d.Code),
		Stage:    uint8(d.Stage),
		Message:  d.Message,
		Owner:    d.Owner,
		Span:     Span{Start: d.Primary.Start, End: d.Primary.End},
		Revision: d.Revision,
	}
	for _, n := range d.Notes {
		out.Notes = append(out.Notes, Note{Span: Span{Start: n.Span.Start, End: n.Span.End}, Msg: n.Msg})
	}
	return out
}

// Report materializes the recorded diagnostic against file, emits it
// through r and returns it.
func (d *Diagnostic) Report(r diag.Reporter, file source.FileID) *diag.Diagnostic {
	b := diag.NewReportBuilder(r, diag.Severity(d.Severity), diag.Code(d.Code),
		source.Span{File: file, Start: d.Span.Start, End: d.Span.End}, d.Message).
		WithStage(diag.Stage(d.Stage)).
		WithOwner(d.Owner).
		AtRevision(d.Revision)
	for _, n := range d.Notes {
		b.WithNote(source.Span{File: file, Start: n.Span.Start, End: n.Span.End}, n.Msg)
	}
	return b.Emit()
}
