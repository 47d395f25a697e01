package nav

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbor/internal/diag"
	"arbor/internal/diagstore"
	"arbor/internal/snapshot"
	"arbor/internal/source"
	"arbor/internal/tree"
	"arbor/internal/unit"
)

type fixture struct {
	files *source.FileSet
	units *unit.Registry
	store *diagstore.Store
	tree  *tree.Tree
	file  source.FileID
}

func newFixture(t *testing.T, leaves int) *fixture {
	t.Helper()
	files := source.NewFileSet()
	content := make([]byte, leaves*10)
	file := files.AddVirtual("m.ar", "m", content)
	units := unit.NewRegistry(files)
	_, err := units.DefineContainer("m", file)
	require.NoError(t, err)
	for i := range leaves {
		start := uint32(i * 10)
		_, err := units.DefineLeaf(unit.Key{Module: "m", Name: string(rune('a' + i))}, unit.Key{}, source.Span{File: file, Start: start, End: start + 9})
		require.NoError(t, err)
	}
	return &fixture{files: files, units: units, store: diagstore.New(files, units), tree: tree.New(), file: file}
}

func (f *fixture) report(sev diag.Severity, start, end uint32) *diag.Diagnostic {
	d := &diag.Diagnostic{Severity: sev, Stage: diag.StageAnalysis, Primary: source.Span{File: f.file, Start: start, End: end}}
	f.store.Report(d)
	return d
}

func (f *fixture) sync() {
	s := snapshot.Build(f.units, f.store, snapshot.Options{})
	tree.NewSynchronizer(f.tree).Update(f.tree.Root(), s.Children)
}

func TestSelectExpandsAndScrolls(t *testing.T) {
	f := newFixture(t, 6)
	var ds []*diag.Diagnostic
	for i := range 6 {
		ds = append(ds, f.report(diag.SevError, uint32(i*10), uint32(i*10+1)))
	}
	f.sync()

	sel := NewSelection(Viewport{Width: 40, Height: 3, ScrollbarWidth: 2})
	require.True(t, sel.Select(f.tree.Root(), ds[5]))
	n := sel.Selected()
	require.NotNil(t, n)
	assert.Same(t, ds[5], n.Diagnostic())
	for p := n.Parent(); p.Parent() != nil; p = p.Parent() {
		assert.True(t, p.Expanded())
	}

	rows := Rows(f.tree.Root())
	// container, leaf f, its diagnostic
	assert.Len(t, rows, 8)
	assert.Equal(t, 5, sel.ScrollTop())
	assert.Equal(t, Rect{X: 0, Y: 5, Width: 38, Height: 3}, sel.Visible())

	require.True(t, sel.SelectFirst(f.tree.Root()))
	assert.Same(t, ds[0], sel.Selected().Diagnostic())
	assert.LessOrEqual(t, sel.ScrollTop(), 2)
}

func TestVisibleWidthNeverNegative(t *testing.T) {
	sel := NewSelection(Viewport{Width: 1, Height: 2, ScrollbarWidth: 5})
	assert.Equal(t, 0, sel.Visible().Width)
}

func TestSelectMissing(t *testing.T) {
	f := newFixture(t, 1)
	sel := NewSelection(Viewport{Width: 10, Height: 10})
	assert.False(t, sel.SelectFirst(f.tree.Root()))
	assert.False(t, sel.Select(f.tree.Root(), &diag.Diagnostic{}))
	assert.Nil(t, sel.Selected())
}

func TestSelectedDetachedNode(t *testing.T) {
	f := newFixture(t, 1)
	d := f.report(diag.SevError, 0, 1)
	f.sync()
	sel := NewSelection(Viewport{Width: 10, Height: 10})
	require.True(t, sel.Select(f.tree.Root(), d))

	f.files.Invalidate(f.file)
	f.sync()
	assert.Nil(t, sel.Selected())
}

func TestDiagnosticsAt(t *testing.T) {
	f := newFixture(t, 2)
	info := f.report(diag.SevInfo, 0, 5)
	errd := f.report(diag.SevError, 2, 8)
	warn := f.report(diag.SevWarning, 0, 5)
	empty := f.report(diag.SevGoal, 3, 3)
	f.report(diag.SevError, 10, 12)

	assert.Equal(t, []*diag.Diagnostic{errd, warn, empty, info}, DiagnosticsAt(f.store, f.files, f.file, 3, diag.SevInfo))
	assert.Equal(t, []*diag.Diagnostic{errd, warn}, DiagnosticsAt(f.store, f.files, f.file, 3, diag.SevWarning))
	assert.Empty(t, DiagnosticsAt(f.store, f.files, f.file, 9, diag.SevInfo))

	// a new revision makes every old diagnostic stale
	_, ok := f.files.Update(f.file, make([]byte, 20))
	require.True(t, ok)
	assert.Empty(t, DiagnosticsAt(f.store, f.files, f.file, 3, diag.SevInfo))
}

type recorder struct {
	locs  []source.Location
	focus bool
}

func (r *recorder) Jump(loc source.Location, focus bool) {
	r.locs = append(r.locs, loc)
	r.focus = focus
}

func TestNavigate(t *testing.T) {
	f := newFixture(t, 2)
	d := f.report(diag.SevError, 12, 14)
	f.sync()

	container := f.tree.Root().Child(0)
	leaf := container.Child(0)
	dn := leaf.Child(0)

	var r recorder
	assert.True(t, Navigate(dn, f.units, f.files, &r, true))
	assert.True(t, Navigate(leaf, f.units, f.files, &r, false))
	assert.True(t, Navigate(container, f.units, f.files, &r, false))
	require.Len(t, r.locs, 3)
	assert.Equal(t, d.Primary, r.locs[0].Span)
	assert.Equal(t, source.Span{File: f.file, Start: 10, End: 19}, r.locs[1].Span)
	assert.Equal(t, source.Span{File: f.file}, r.locs[2].Span)
	assert.False(t, r.focus)

	assert.False(t, Navigate(f.tree.Root(), f.units, f.files, &r, true))
	assert.False(t, Navigate(nil, f.units, f.files, &r, true))

	f.files.Invalidate(f.file)
	assert.False(t, Navigate(dn, f.units, f.files, &r, true))
	assert.False(t, Navigate(leaf, f.units, f.files, JumperFunc(func(source.Location, bool) { t.Fatal("unexpected jump") }), true))
	assert.Len(t, r.locs, 3)
}

func TestSelectAt(t *testing.T) {
	f := newFixture(t, 1)
	f.report(diag.SevInfo, 0, 5)
	errd := f.report(diag.SevError, 0, 5)
	f.sync()

	sel := NewSelection(Viewport{Width: 10, Height: 10})
	assert.Same(t, errd, sel.SelectAt(f.tree.Root(), f.store, f.files, f.file, 1, diag.SevInfo))
	assert.Same(t, errd, sel.Selected().Diagnostic())
	assert.Nil(t, sel.SelectAt(f.tree.Root(), f.store, f.files, f.file, 7, diag.SevInfo))
}
