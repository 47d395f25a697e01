package testkit

import (
	"testing"

	"arbor/internal/diag"
	"arbor/internal/diagstore"
	"arbor/internal/snapshot"
	"arbor/internal/source"
	"arbor/internal/tree"
	"arbor/internal/unit"
)

func TestSyncedTreeSatisfiesInvariants(t *testing.T) {
	files := source.NewFileSet()
	file := files.AddVirtual("m.ar", "m", []byte("def a { def b {} }\ndef c {}\n"))
	units := unit.NewRegistry(files)
	if _, err := units.DefineContainer("m", file); err != nil {
		t.Fatal(err)
	}
	a := unit.Key{Module: "m", Name: "a"}
	b := unit.Key{Module: "m", Name: "b"}
	c := unit.Key{Module: "m", Name: "c"}
	for _, def := range []struct {
		key, parent unit.Key
		start, end  uint32
	}{
		{a, unit.Key{}, 0, 18},
		{b, a, 8, 16},
		{c, unit.Key{}, 19, 27},
	} {
		if _, err := units.DefineLeaf(def.key, def.parent, source.Span{File: file, Start: def.start, End: def.end}); err != nil {
			t.Fatal(err)
		}
	}
	if err := CheckUnitSpans(units, files); err != nil {
		t.Fatal(err)
	}

	store := diagstore.New(files, units)
	store.Report(&diag.Diagnostic{Severity: diag.SevWarning, Stage: diag.StageAnalysis, Primary: source.Span{File: file, Start: 12, End: 13}})
	store.Report(&diag.Diagnostic{Severity: diag.SevError, Stage: diag.StageAnalysis, Owner: c, Primary: source.Span{File: file, Start: 23, End: 24}})

	tr := tree.New()
	snap := snapshot.Build(units, store, snapshot.Options{})
	tree.NewSynchronizer(tr).Update(tr.Root(), snap.Children)
	if err := CheckTreeInvariants(tr.Root()); err != nil {
		t.Fatal(err)
	}
}

func TestCheckUnitSpansRejectsOverflow(t *testing.T) {
	files := source.NewFileSet()
	file := files.AddVirtual("m.ar", "m", []byte("def a {}\n"))
	units := unit.NewRegistry(files)
	if _, err := units.DefineContainer("m", file); err != nil {
		t.Fatal(err)
	}
	if _, err := units.DefineLeaf(unit.Key{Module: "m", Name: "a"}, unit.Key{}, source.Span{File: file, Start: 0, End: 8}); err != nil {
		t.Fatal(err)
	}
	if _, ok := files.Update(file, []byte("def")); !ok {
		t.Fatal("update failed")
	}
	if err := CheckUnitSpans(units, files); err == nil {
		t.Fatal("expected span beyond content to be reported")
	}
}

func TestCheckTreeInvariantsEmpty(t *testing.T) {
	if err := CheckTreeInvariants(tree.New().Root()); err != nil {
		t.Fatal(err)
	}
	if err := CheckTreeInvariants(nil); err == nil {
		t.Fatal("expected error for nil root")
	}
}
