package eventlog

import (
	"fmt"

	"arbor/internal/diag"
	"arbor/internal/session"
	"arbor/internal/source"
	"arbor/internal/unit"
)

// Sink receives the lifecycle part of a replayed stream. *session.Session
// implements it.
type Sink interface {
	Report(d *diag.Diagnostic)
	SessionStarted(expected ...unit.Key)
	SessionFinished()
	ContainerStarted(path string)
	ContainerFailed(path string)
	UnitStarted(key unit.Key)
	UnitFailed(key unit.Key)
	UnitFinished(key unit.Key)
	BatchFinished()
	Invalidate(path string)
}

var _ Sink = (*session.Session)(nil)

// Apply replays rec: file and unit definitions go to the project, lifecycle
// events and diagnostics to sink.
func Apply(p *session.Project, sink Sink, rec Record) error {
	switch rec.Kind {
	case KindFile:
		if _, err := p.AddContainer(rec.Path, rec.Module, rec.Content); err != nil {
			return fmt.Errorf("record %d: %w", rec.Seq, err)
		}
	case KindFileUpdate:
		file, err := fileOf(p, rec)
		if err != nil {
			return err
		}
		if _, ok := p.Files.Update(file, rec.Content); !ok {
			return fmt.Errorf("record %d: module %s: file is no longer valid", rec.Seq, rec.Module)
		}
	case KindFileRemove:
		sink.Invalidate(rec.Path)
	case KindLeaf:
		file, err := fileOf(p, rec)
		if err != nil {
			return err
		}
		span := source.Span{File: file, Start: rec.Span.Start, End: rec.Span.End}
		if _, err := p.Units.DefineLeaf(rec.Key, rec.Parent, span); err != nil {
			return fmt.Errorf("record %d: %w", rec.Seq, err)
		}
	case KindLeafRemove:
		p.Units.RemoveLeaf(rec.Key)
	case KindReport:
		if rec.Diagnostic == nil {
			return fmt.Errorf("%w: record %d: report without diagnostic", ErrSchema, rec.Seq)
		}
		file, err := fileOf(p, rec)
		if err != nil {
			return err
		}
		rec.Diagnostic.Report(sink, file)
	case KindClearResolution:
		file, err := fileOf(p, rec)
		if err != nil {
			return err
		}
		p.Store.ClearResolutionDiagnostics(file)
	case KindClearAnalysis:
		file, err := fileOf(p, rec)
		if err != nil {
			return err
		}
		var leaf *unit.Key
		if !rec.Key.IsZero() {
			leaf = &rec.Key
		}
		p.Store.ClearAnalysisDiagnostics(file, leaf)
	case KindSessionStarted:
		sink.SessionStarted(rec.Expected...)
	case KindSessionFinished:
		sink.SessionFinished()
	case KindContainerStarted:
		sink.ContainerStarted(rec.Module)
	case KindContainerFailed:
		sink.ContainerFailed(rec.Module)
	case KindUnitStarted:
		sink.UnitStarted(rec.Key)
	case KindUnitFailed:
		sink.UnitFailed(rec.Key)
	case KindUnitFinished:
		sink.UnitFinished(rec.Key)
	case KindBatchFinished:
		sink.BatchFinished()
	default:
		return fmt.Errorf("%w: record %d: unknown kind %d", ErrSchema, rec.Seq, rec.Kind)
	}
	return nil
}

func fileOf(p *session.Project, rec Record) (source.FileID, error) {
	module := rec.Module
	if module == "" {
		module = rec.Key.Module
	}
	u, ok := p.Units.Resolve(unit.Key{Module: module})
	if !ok {
		return source.NoFileID, fmt.Errorf("record %d (%s): unknown module %q", rec.Seq, rec.Kind, module)
	}
	return u.File, nil
}
