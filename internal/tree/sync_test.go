package tree

import (
	"testing"

	"arbor/internal/diag"
	"arbor/internal/source"
	"arbor/internal/unit"
)

type snapshot map[unit.Key][]Payload

func (s snapshot) children(n *Node) []Payload {
	switch n.Kind() {
	case KindRoot:
		return s[unit.Key{}]
	case KindContainer, KindLeaf:
		return s[n.Key()]
	}
	return nil
}

func key(mod, name string) unit.Key { return unit.Key{Module: mod, Name: name} }

func sample() (snapshot, []*diag.Diagnostic) {
	ds := []*diag.Diagnostic{
		{Severity: diag.SevInfo, Seq: 1, Message: "info"},
		{Severity: diag.SevWarningUnused, Seq: 2, Message: "unused"},
		{Severity: diag.SevError, Seq: 3, Message: "error"},
		{Severity: diag.SevWarning, Seq: 4, Message: "warning"},
		{Severity: diag.SevGoal, Seq: 5, Message: "goal"},
	}
	s := snapshot{
		{}: {ContainerPayload("b"), ContainerPayload("a")},
		key("a", ""): {LeafPayload(key("a", "g"), 40), LeafPayload(key("a", "f"), 10)},
		key("b", ""): {LeafPayload(key("b", "h"), 0)},
		key("a", "f"): {
			DiagnosticPayload(ds[0]), DiagnosticPayload(ds[1]), DiagnosticPayload(ds[2]),
			DiagnosticPayload(ds[3]), DiagnosticPayload(ds[4]),
		},
	}
	return s, ds
}

func TestUpdateIsIdempotent(t *testing.T) {
	tr := New()
	sync := NewSynchronizer(tr)
	snap, _ := sample()

	first := sync.Update(tr.Root(), snap.children)
	if first.Added != 2+3+5 {
		t.Fatalf("first update added %d nodes, want 10", first.Added)
	}
	version := tr.Version()
	second := sync.Update(tr.Root(), snap.children)
	if second.Mutations() != 0 {
		t.Fatalf("second update performed %d mutations", second.Mutations())
	}
	if tr.Version() != version {
		t.Fatal("tree version changed without mutations")
	}
}

func TestOrderingInvariant(t *testing.T) {
	tr := New()
	snap, ds := sample()
	NewSynchronizer(tr).Update(tr.Root(), snap.children)

	root := tr.Root()
	if root.Child(0).Key().Module != "a" || root.Child(1).Key().Module != "b" {
		t.Fatalf("containers not ordered by path: %s, %s", root.Child(0).Label(), root.Child(1).Label())
	}
	a := root.Child(0)
	if a.Child(0).Key().Name != "f" || a.Child(1).Key().Name != "g" {
		t.Fatal("leaves not ordered by offset")
	}

	got := a.Child(0).Children()
	want := []*diag.Diagnostic{ds[2], ds[1], ds[3], ds[4], ds[0]}
	if len(got) != len(want) {
		t.Fatalf("got %d diagnostics", len(got))
	}
	for i := range want {
		if got[i].Diagnostic() != want[i] {
			t.Errorf("position %d: got %q, want %q", i, got[i].Diagnostic().Message, want[i].Message)
		}
	}
}

func TestRemovalListenersPostOrder(t *testing.T) {
	tr := New()
	snap, _ := sample()
	sync := NewSynchronizer(tr)
	sync.Update(tr.Root(), snap.children)

	var order []Kind
	tr.OnRemove(func(n *Node) {
		if n.Parent() == nil {
			t.Error("listener must run before unlinking")
		}
		order = append(order, n.Kind())
	})

	snap[unit.Key{}] = []Payload{ContainerPayload("b")}
	st := sync.Update(tr.Root(), snap.children)
	if st.Removed != 1 {
		t.Fatalf("removed = %d, want 1 subtree", st.Removed)
	}
	// 5 diagnostics, then f, then g, then a
	if len(order) != 8 || order[0] != KindDiagnostic || order[len(order)-1] != KindContainer {
		t.Fatalf("unexpected removal order %v", order)
	}
	if tr.Count() != 2 {
		t.Fatalf("count = %d, want 2", tr.Count())
	}
}

func TestMovedLeafKeepsNode(t *testing.T) {
	tr := New()
	snap, _ := sample()
	sync := NewSynchronizer(tr)
	sync.Update(tr.Root(), snap.children)

	f := tr.Root().Child(0).Child(0)
	f.SetState(StateRunning)

	snap[key("a", "")] = []Payload{LeafPayload(key("a", "g"), 40), LeafPayload(key("a", "f"), 90)}
	st := sync.Update(tr.Root(), snap.children)
	if st.Moved != 1 || st.Added != 0 || st.Removed != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
	a := tr.Root().Child(0)
	if a.Child(1) != f || f.State() != StateRunning {
		t.Fatal("moved leaf must keep its node and state")
	}
	if sync.Update(tr.Root(), snap.children).Mutations() != 0 {
		t.Fatal("update after move must be idempotent")
	}
}

func TestEnsureNoDuplicates(t *testing.T) {
	tr := New()
	a1, created := tr.Ensure(tr.Root(), ContainerPayload("a"))
	if !created {
		t.Fatal("first Ensure must create")
	}
	a2, created := tr.Ensure(tr.Root(), ContainerPayload("a"))
	if created || a1 != a2 {
		t.Fatal("second Ensure must return the existing node")
	}
	tr.Ensure(tr.Root(), ContainerPayload("0"))
	if tr.Root().Len() != 2 || tr.Root().Child(1) != a1 {
		t.Fatal("Ensure must insert at sorted position")
	}
}

func TestFailedIsSticky(t *testing.T) {
	n := &Node{}
	n.SetState(StateRunning)
	n.MarkFailed()
	n.SetState(StateFinished)
	if n.State() != StateFinished || !n.Failed() {
		t.Fatalf("state=%s failed=%v", n.State(), n.Failed())
	}
}

func TestReset(t *testing.T) {
	tr := New()
	snap, _ := sample()
	NewSynchronizer(tr).Update(tr.Root(), snap.children)
	removed := 0
	tr.OnRemove(func(*Node) { removed++ })
	tr.Root().SetState(StateRunning)
	tr.Reset()
	if tr.Count() != 0 || removed != 10 || tr.Root().State() != StateNotStarted {
		t.Fatalf("count=%d removed=%d state=%s", tr.Count(), removed, tr.Root().State())
	}
}

func TestCompareUnsequencedIsAntisymmetric(t *testing.T) {
	a := &diag.Diagnostic{Severity: diag.SevError, Message: "same", Primary: source.Span{File: 1, Start: 2}}
	b := &diag.Diagnostic{Severity: diag.SevError, Message: "same", Primary: source.Span{File: 1, Start: 5}}
	c := &diag.Diagnostic{Severity: diag.SevError, Message: "same", Primary: source.Span{File: 1, Start: 5}}

	pa, pb, pc := DiagnosticPayload(a), DiagnosticPayload(b), DiagnosticPayload(c)
	if ab, ba := Compare(pa, pb), Compare(pb, pa); ab != -ba || ab == 0 {
		t.Fatalf("Compare(a,b) = %d, Compare(b,a) = %d", ab, ba)
	}
	if got := Compare(pb, pc); got != 0 || Compare(pc, pb) != 0 {
		t.Fatalf("identical unsequenced diagnostics compare %d", got)
	}
}
