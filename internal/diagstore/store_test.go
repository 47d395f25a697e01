package diagstore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbor/internal/diag"
	"arbor/internal/source"
	"arbor/internal/unit"
)

type fixture struct {
	files *source.FileSet
	units *unit.Registry
	store *Store
	file  source.FileID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	files := source.NewFileSet()
	file := files.AddVirtual("mod.ar", "mod", []byte("def outer {\n  def inner {}\n}\ndef other {}\n"))
	units := unit.NewRegistry(files)
	_, err := units.DefineContainer("mod", file)
	require.NoError(t, err)
	outer := unit.Key{Module: "mod", Name: "outer"}
	_, err = units.DefineLeaf(outer, unit.Key{}, source.Span{File: file, Start: 0, End: 28})
	require.NoError(t, err)
	_, err = units.DefineLeaf(unit.Key{Module: "mod", Name: "outer.inner"}, outer, source.Span{File: file, Start: 13, End: 25})
	require.NoError(t, err)
	_, err = units.DefineLeaf(unit.Key{Module: "mod", Name: "other"}, unit.Key{}, source.Span{File: file, Start: 29, End: 41})
	require.NoError(t, err)
	return fixture{files: files, units: units, store: New(files, units), file: file}
}

func (f fixture) report(stage diag.Stage, owner string, sev diag.Severity) *diag.Diagnostic {
	d := &diag.Diagnostic{
		Severity: sev,
		Code:     diag.AnaTypeMismatch,
		Message:  owner,
		Stage:    stage,
		Primary:  source.Span{File: f.file, Start: 0, End: 3},
	}
	if owner != "" {
		d.Owner = unit.Key{Module: "mod", Name: owner}
	}
	f.store.Report(d)
	return d
}

func TestReportThenInvalidate(t *testing.T) {
	f := newFixture(t)
	d := f.report(diag.StageAnalysis, "outer", diag.SevError)

	require.Equal(t, []*diag.Diagnostic{d}, f.store.GetAll(f.file))
	require.True(t, f.store.HasAny())

	f.files.Invalidate(f.file)
	assert.Empty(t, f.store.GetAll(f.file))
	assert.False(t, f.store.HasAny())
	assert.Empty(t, f.store.Files())
}

func TestReportOnInvalidFileIsNoop(t *testing.T) {
	f := newFixture(t)
	f.report(diag.StageAnalysis, "outer", diag.SevError)
	f.files.Invalidate(f.file)

	var removed int
	f.store.OnChange(func(c Change) { removed += len(c.Removed) })
	f.report(diag.StageAnalysis, "outer", diag.SevError)
	assert.Equal(t, 1, removed, "purge reports the previously stored diagnostic")
	assert.False(t, f.store.HasAny())

	f.store.Report(nil)
	f.store.Report(&diag.Diagnostic{Primary: source.Span{File: source.NoFileID}})
	f.store.Report(&diag.Diagnostic{Primary: source.Span{File: 99}})
	assert.False(t, f.store.HasAny())
}

func TestGetAllOrdersResolutionFirst(t *testing.T) {
	f := newFixture(t)
	a1 := f.report(diag.StageAnalysis, "outer", diag.SevError)
	r1 := f.report(diag.StageResolution, "other", diag.SevWarning)
	a2 := f.report(diag.StageAnalysis, "other", diag.SevInfo)

	assert.Equal(t, []*diag.Diagnostic{r1, a1, a2}, f.store.GetAll(f.file))
	assert.Equal(t, []*diag.Diagnostic{a1, a2}, f.store.AnalysisDiagnostics(f.file))
	assert.Less(t, a1.Seq, r1.Seq)
	assert.Less(t, r1.Seq, a2.Seq)
}

func TestClearAnalysisByLeaf(t *testing.T) {
	f := newFixture(t)
	outer := f.report(diag.StageAnalysis, "outer", diag.SevError)
	inner := f.report(diag.StageAnalysis, "outer.inner", diag.SevError)
	other := f.report(diag.StageAnalysis, "other", diag.SevError)
	gone := f.report(diag.StageAnalysis, "removed", diag.SevError)
	orphan := f.report(diag.StageAnalysis, "", diag.SevError)
	res := f.report(diag.StageResolution, "outer", diag.SevError)

	leaf := unit.Key{Module: "mod", Name: "outer"}
	f.store.ClearAnalysisDiagnostics(f.file, &leaf)

	got := f.store.GetAll(f.file)
	assert.Equal(t, []*diag.Diagnostic{res, other, orphan}, got)
	assert.NotContains(t, got, outer)
	assert.NotContains(t, got, inner)
	assert.NotContains(t, got, gone)

	f.store.ClearAnalysisDiagnostics(f.file, nil)
	assert.Equal(t, []*diag.Diagnostic{res}, f.store.GetAll(f.file))

	f.store.ClearResolutionDiagnostics(f.file)
	assert.False(t, f.store.HasAny())
	assert.Empty(t, f.store.Files(), "empty buckets are dropped")
}

func TestErrorsAndClearAll(t *testing.T) {
	f := newFixture(t)
	other := f.files.AddVirtual("b.ar", "b", []byte("x"))
	f.report(diag.StageAnalysis, "outer", diag.SevError)
	f.store.Report(&diag.Diagnostic{Severity: diag.SevGoal, Stage: diag.StageAnalysis, Primary: source.Span{File: other}})

	errs := f.store.Errors()
	require.Len(t, errs, 2)
	assert.Equal(t, []source.FileID{f.file, other}, f.store.Files())
	assert.Equal(t, 2, f.store.Len())

	var removed int
	f.store.OnChange(func(c Change) { removed += len(c.Removed) })
	f.store.ClearAll()
	assert.Equal(t, 2, removed)
	assert.False(t, f.store.HasAny())
}

func TestConcurrentReports(t *testing.T) {
	f := newFixture(t)
	const workers, per = 8, 50
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range per {
				f.report(diag.StageAnalysis, "outer", diag.SevError)
				_ = f.store.GetAll(f.file)
			}
		}()
	}
	wg.Wait()

	all := f.store.GetAll(f.file)
	require.Len(t, all, workers*per)
	seen := make(map[uint64]bool, len(all))
	for _, d := range all {
		assert.False(t, seen[d.Seq], "duplicate seq %d", d.Seq)
		seen[d.Seq] = true
	}
}

func TestReportSamePointerTwice(t *testing.T) {
	f := newFixture(t)
	d := f.report(diag.StageAnalysis, "other", diag.SevWarning)
	seq := d.Seq

	f.store.Report(d)
	assert.Equal(t, seq, d.Seq, "stored diagnostic must not change")
	assert.Equal(t, []*diag.Diagnostic{d}, f.store.GetAll(f.file))

	f.store.ClearAnalysisDiagnostics(f.file, nil)
	f.store.Report(d)
	assert.Equal(t, seq, d.Seq)
	got := f.store.GetAll(f.file)
	require.Len(t, got, 1)
	assert.NotSame(t, d, got[0])
	assert.Greater(t, got[0].Seq, seq)
	assert.Equal(t, d.Message, got[0].Message)
}
