package diag

import (
	"arbor/internal/source"
	"arbor/internal/unit"
)

// Reporter: минимальный контракт получения диагностик от анализатора.
// Реализации: diagstore.Store, BagReporter, DedupReporter, MultiReporter.
type Reporter interface {
	Report(d *Diagnostic)
}

// ReportBuilder accumulates diagnostic details before emitting to Reporter.
type ReportBuilder struct {
	reporter Reporter
	diag     Diagnostic
	emitted  bool
}

// NewReportBuilder constructs a builder bound to Reporter.
// The stage defaults to the code's usual stage.
func NewReportBuilder(r Reporter, sev Severity, code Code, primary source.Span, msg string) *ReportBuilder {
	return &ReportBuilder{
		reporter: r,
		diag: Diagnostic{
			Severity: sev,
			Code:     code,
			Stage:    code.DefaultStage(),
			Message:  msg,
			Primary:  primary,
		},
	}
}

// WithStage overrides the stage bucket.
func (b *ReportBuilder) WithStage(stage Stage) *ReportBuilder {
	if b == nil {
		return nil
	}
	b.diag.Stage = stage
	return b
}

// WithOwner attributes the diagnostic to a definition.
func (b *ReportBuilder) WithOwner(key unit.Key) *ReportBuilder {
	if b == nil {
		return nil
	}
	b.diag.Owner = key
	return b
}

// AtRevision pins the primary span to a file revision.
func (b *ReportBuilder) AtRevision(rev uint32) *ReportBuilder {
	if b == nil {
		return nil
	}
	b.diag.Revision = rev
	return b
}

// WithNote appends a note to diagnostic.
func (b *ReportBuilder) WithNote(sp source.Span, msg string) *ReportBuilder {
	if b == nil {
		return nil
	}
	b.diag.Notes = append(b.diag.Notes, Note{Span: sp, Msg: msg})
	return b
}

// Emit sends a fresh diagnostic to the underlying reporter exactly once
// and returns it, or nil when already emitted.
func (b *ReportBuilder) Emit() *Diagnostic {
	if b == nil || b.emitted {
		return nil
	}
	b.emitted = true
	d := b.diag
	if b.reporter != nil {
		b.reporter.Report(&d)
	}
	return &d
}

// Diagnostic returns accumulated diagnostic without emitting.
func (b *ReportBuilder) Diagnostic() Diagnostic {
	if b == nil {
		return Diagnostic{}
	}
	return b.diag
}

// BagReporter: адаптер, который пишет в *Bag.
type BagReporter struct{ Bag *Bag }

func (r BagReporter) Report(d *Diagnostic) {
	if r.Bag == nil || d == nil {
		return
	}
	r.Bag.Add(d)
}

// MultiReporter fans a diagnostic out to several reporters.
type MultiReporter []Reporter

func (m MultiReporter) Report(d *Diagnostic) {
	for _, r := range m {
		if r != nil {
			r.Report(d)
		}
	}
}
