package diag

import (
	"arbor/internal/source"
	"arbor/internal/unit"
)

type Note struct {
	Span source.Span
	Msg  string
}

// Diagnostic is immutable once accepted by a store. Identity is the pointer:
// two reports with equal fields are still two diagnostics.
type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Stage    Stage
	Owner    unit.Key // weak; zero when the producer did not know the definition
	Primary  source.Span
	Revision uint32 // file revision Primary was computed against
	Notes    []Note
	Seq      uint64 // insertion order, assigned by the store
}

// Location returns the primary span pinned to its revision.
func (d *Diagnostic) Location() source.Location {
	return source.Location{Span: d.Primary, Revision: d.Revision}
}

// HasOwner reports whether the producer attributed the diagnostic to a unit.
func (d *Diagnostic) HasOwner() bool {
	return !d.Owner.IsZero()
}

// OneLine renders the diagnostic as a single line without location.
func (d *Diagnostic) OneLine() string {
	return d.Code.ID() + " " + sanitizeMessage(d.Message)
}
