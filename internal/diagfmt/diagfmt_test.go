package diagfmt

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"arbor/internal/diag"
	"arbor/internal/diagstore"
	"arbor/internal/snapshot"
	"arbor/internal/source"
	"arbor/internal/tree"
	"arbor/internal/unit"
)

const content = "def a {}\ndef b {}\n"

func fixture(t *testing.T) (*source.FileSet, source.FileID, *diag.Bag) {
	t.Helper()
	fs := source.NewFileSet()
	file := fs.AddVirtual("m.ar", "m", []byte(content))
	bag := diag.NewBag(10)
	diag.NewReportBuilder(diag.BagReporter{Bag: bag}, diag.SevError, diag.AnaTypeMismatch, source.Span{File: file, Start: 4, End: 5}, "bad").
		WithNote(source.Span{File: file, Start: 13, End: 14}, "declared here").
		Emit()
	return fs, file, bag
}

func TestPrettyShowsCaret(t *testing.T) {
	fs, _, bag := fixture(t)
	var buf bytes.Buffer
	Pretty(&buf, bag, fs, PrettyOpts{ShowNotes: true})

	want := "m.ar:1:5: ERROR ANA2001: bad\n" +
		" 1 | def a {}\n" +
		"   |     ^\n" +
		"  note: m.ar:2:5: declared here\n"
	if got := buf.String(); got != want {
		t.Fatalf("unexpected output:\n%s\nwant:\n%s", got, want)
	}
}

func TestPrettyContextLines(t *testing.T) {
	fs, file, _ := fixture(t)
	bag := diag.NewBag(1)
	bag.Add(&diag.Diagnostic{Severity: diag.SevWarning, Code: diag.AnaUnusedDef, Primary: source.Span{File: file, Start: 13, End: 14}, Message: "unused"})

	var buf bytes.Buffer
	Pretty(&buf, bag, fs, PrettyOpts{Context: 1})
	out := buf.String()
	if !strings.Contains(out, " 1 | def a {}") || !strings.Contains(out, " 2 | def b {}") {
		t.Fatalf("missing context lines:\n%s", out)
	}
}

func TestPrettyStale(t *testing.T) {
	fs, file, bag := fixture(t)
	if _, changed := fs.Update(file, []byte("changed\n")); !changed {
		t.Fatal("update did not bump revision")
	}
	var buf bytes.Buffer
	Pretty(&buf, bag, fs, PrettyOpts{})
	if got := buf.String(); got != "m.ar: ERROR ANA2001: bad (stale)\n" {
		t.Fatalf("got %q", got)
	}
}

func TestJSON(t *testing.T) {
	fs, _, bag := fixture(t)
	var buf bytes.Buffer
	if err := JSON(&buf, bag, fs, JSONOpts{IncludePositions: true, IncludeNotes: true}); err != nil {
		t.Fatal(err)
	}
	var out DiagnosticsOutput
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Count != 1 {
		t.Fatalf("count = %d", out.Count)
	}
	d := out.Diagnostics[0]
	if d.Code != "ANA2001" || d.Severity != "ERROR" || d.Stage != "analysis" {
		t.Fatalf("unexpected diagnostic %+v", d)
	}
	if d.Location.StartLine != 1 || d.Location.StartCol != 5 || d.Location.File != "m.ar" {
		t.Fatalf("unexpected location %+v", d.Location)
	}
	if len(d.Notes) != 1 || d.Notes[0].Location.StartLine != 2 {
		t.Fatalf("unexpected notes %+v", d.Notes)
	}
}

func TestJSONMax(t *testing.T) {
	fs, file, bag := fixture(t)
	bag.Add(&diag.Diagnostic{Severity: diag.SevInfo, Code: diag.AnaInfo, Primary: source.Span{File: file}, Message: "hint"})
	out := BuildDiagnosticsOutput(bag, fs, JSONOpts{Max: 1})
	if out.Count != 1 || out.Diagnostics[0].Location.StartLine != 0 {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestTreeDump(t *testing.T) {
	fs := source.NewFileSet()
	file := fs.AddVirtual("m.ar", "m", []byte(content))
	units := unit.NewRegistry(fs)
	if _, err := units.DefineContainer("m", file); err != nil {
		t.Fatal(err)
	}
	a := unit.Key{Module: "m", Name: "a"}
	b := unit.Key{Module: "m", Name: "b"}
	if _, err := units.DefineLeaf(a, unit.Key{}, source.Span{File: file, Start: 0, End: 8}); err != nil {
		t.Fatal(err)
	}
	if _, err := units.DefineLeaf(b, unit.Key{}, source.Span{File: file, Start: 9, End: 17}); err != nil {
		t.Fatal(err)
	}
	store := diagstore.New(fs, units)
	store.Report(&diag.Diagnostic{Severity: diag.SevError, Code: diag.AnaTypeMismatch, Message: "bad", Stage: diag.StageAnalysis, Primary: source.Span{File: file, Start: 4, End: 5}})

	tr := tree.New()
	snap := snapshot.Build(units, store, snapshot.Options{Seen: func(k unit.Key) bool { return k == b }})
	tree.NewSynchronizer(tr).Update(tr.Root(), snap.Children)
	c := tr.Root().Child(0)
	c.SetState(tree.StateRunning)
	c.Child(0).SetState(tree.StateFinished)
	c.Child(1).MarkFailed()
	c.Child(1).SetState(tree.StateRunning)

	var buf bytes.Buffer
	if err := Tree(&buf, tr.Root(), TreeOpts{}); err != nil {
		t.Fatal(err)
	}
	want := "session not-started\n" +
		"└─ running    m\n" +
		"   ├─ finished   a\n" +
		"   │  └─ ERROR ANA2001 bad\n" +
		"   └─ running!   b\n"
	if got := buf.String(); got != want {
		t.Fatalf("unexpected dump:\n%s\nwant:\n%s", got, want)
	}

	buf.Reset()
	if err := Tree(&buf, tr.Root(), TreeOpts{Collapsed: true}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "ANA2001") {
		t.Fatalf("collapsed dump shows diagnostics:\n%s", buf.String())
	}
}
