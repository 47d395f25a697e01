package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbor/internal/diag"
	"arbor/internal/diagstore"
	"arbor/internal/source"
	"arbor/internal/tree"
	"arbor/internal/unit"
)

type project struct {
	files *source.FileSet
	units *unit.Registry
	store *diagstore.Store
	file  source.FileID
}

func newProject(t *testing.T) project {
	t.Helper()
	files := source.NewFileSet()
	file := files.AddVirtual("m.ar", "m", []byte("def f {}\ndef g {}\n\n"))
	units := unit.NewRegistry(files)
	_, err := units.DefineContainer("m", file)
	require.NoError(t, err)
	_, err = units.DefineLeaf(unit.Key{Module: "m", Name: "f"}, unit.Key{}, source.Span{File: file, Start: 0, End: 8})
	require.NoError(t, err)
	_, err = units.DefineLeaf(unit.Key{Module: "m", Name: "g"}, unit.Key{}, source.Span{File: file, Start: 9, End: 17})
	require.NoError(t, err)
	return project{files: files, units: units, store: diagstore.New(files, units), file: file}
}

func (p project) report(owner string, start uint32, sev diag.Severity) *diag.Diagnostic {
	d := &diag.Diagnostic{Severity: sev, Stage: diag.StageAnalysis, Primary: source.Span{File: p.file, Start: start, End: start + 1}}
	if owner != "" {
		d.Owner = unit.Key{Module: "m", Name: owner}
	}
	p.store.Report(d)
	return d
}

func TestBuildAttributesDiagnostics(t *testing.T) {
	p := newProject(t)
	owned := p.report("g", 0, diag.SevError)
	byPos := p.report("", 2, diag.SevWarning)
	orphan := p.report("", 18, diag.SevError)
	stale := p.report("gone", 10, diag.SevError)

	s := Build(p.units, p.store, Options{})
	assert.Equal(t, []*diag.Diagnostic{byPos}, s.Diagnostics(unit.Key{Module: "m", Name: "f"}))
	assert.ElementsMatch(t, []*diag.Diagnostic{owned, stale}, s.Diagnostics(unit.Key{Module: "m", Name: "g"}))
	assert.Equal(t, 1, s.Unattributed())
	_ = orphan
}

func TestBuildHidesQuietUnits(t *testing.T) {
	p := newProject(t)
	s := Build(p.units, p.store, Options{})
	tr := tree.New()
	tree.NewSynchronizer(tr).Update(tr.Root(), s.Children)
	assert.Zero(t, tr.Count(), "units without diagnostics or lifecycle are hidden")

	seen := map[unit.Key]bool{{Module: "m", Name: "g"}: true}
	s = Build(p.units, p.store, Options{Seen: func(k unit.Key) bool { return seen[k] }})
	tree.NewSynchronizer(tr).Update(tr.Root(), s.Children)
	require.Equal(t, 2, tr.Count())
	assert.Equal(t, "g", tr.Root().Child(0).Child(0).Label())
}

func TestBuildMinSeverity(t *testing.T) {
	p := newProject(t)
	p.report("f", 0, diag.SevInfo)
	warn := p.report("f", 0, diag.SevWarningUnused)

	s := Build(p.units, p.store, Options{MinSeverity: diag.SevWarning})
	assert.Equal(t, []*diag.Diagnostic{warn}, s.Diagnostics(unit.Key{Module: "m", Name: "f"}))
}

func TestBuildDropsInvalidFiles(t *testing.T) {
	p := newProject(t)
	p.report("f", 0, diag.SevError)
	p.files.Invalidate(p.file)

	s := Build(p.units, p.store, Options{Seen: func(unit.Key) bool { return true }})
	tr := tree.New()
	tree.NewSynchronizer(tr).Update(tr.Root(), s.Children)
	assert.Zero(t, tr.Count())
}
