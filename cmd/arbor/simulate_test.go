package main

import (
	"bytes"
	"context"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"arbor/internal/config"
	"arbor/internal/diagfmt"
	"arbor/internal/eventlog"
	"arbor/internal/logging"
	"arbor/internal/session"
	"arbor/internal/testkit"
	"arbor/internal/trace"
	"arbor/internal/tree"
	"arbor/internal/unit"
)

func testEnv(t *testing.T) {
	t.Helper()
	prev := env
	env = &appEnv{
		cfg:    config.Default(),
		log:    &logging.Logger{Logger: logging.Discard()},
		tracer: trace.Nop,
	}
	t.Cleanup(func() { env = prev })
}

func dumpTree(t *testing.T, ctx context.Context, sess *session.Session) string {
	t.Helper()
	var buf bytes.Buffer
	if err := printTree(ctx, &buf, sess, diagfmt.TreeOpts{}); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestSimulateRecordReplay(t *testing.T) {
	testEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logPath := filepath.Join(t.TempDir(), "run.mp")
	p := session.NewProject(".")
	sess := newSession(ctx, p)
	defer sess.Close()

	w, err := eventlog.Create(logPath, sess.ID())
	if err != nil {
		t.Fatal(err)
	}
	em := &emitter{p: p, sess: sess, w: w}
	opts := simulateOptions{modules: 3, defs: 5, workers: 4, seed: 7, errorRate: 0.5}
	if err := simulate(ctx, em, opts); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	live := dumpTree(t, ctx, sess)
	if err := testkit.CheckUnitSpans(p.Units, p.Files); err != nil {
		t.Fatal(err)
	}
	checkErr := make(chan error, 1)
	if err := sess.Tree(ctx, func(root *tree.Node) { checkErr <- testkit.CheckTreeInvariants(root) }); err != nil {
		t.Fatal(err)
	}
	if err := <-checkErr; err != nil {
		t.Fatal(err)
	}

	st, err := sess.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Reconcile.Dropped != 0 {
		t.Fatalf("dropped %d events", st.Reconcile.Dropped)
	}

	p2 := session.NewProject(".")
	replayed := newSession(ctx, p2)
	defer replayed.Close()
	res, err := replayLog(ctx, logPath, p2, replayed, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if res.skipped != 0 || res.header.SessionID != sess.ID() {
		t.Fatalf("unexpected replay result %+v", res)
	}
	if got := dumpTree(t, ctx, replayed); got != live {
		t.Fatalf("replayed tree differs\nlive:\n%s\nreplayed:\n%s", live, got)
	}
}

func TestDefEventsDeterministic(t *testing.T) {
	d := simDef{key: unit.Key{Module: "m", Name: "d"}, start: 0, end: 20}
	a := defEvents(rand.New(rand.NewPCG(1, 2)), d, 1)
	b := defEvents(rand.New(rand.NewPCG(1, 2)), d, 1)
	if len(a) != 3 || len(b) != 3 {
		t.Fatalf("expected report plus two lifecycle events, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Kind != b[i].Kind {
			t.Fatalf("event %d differs: %s vs %s", i, a[i].Kind, b[i].Kind)
		}
	}
	if a[0].Kind != eventlog.KindReport || a[0].Diagnostic == nil {
		t.Fatalf("first event = %s", a[0].Kind)
	}
}

func TestReadUIMode(t *testing.T) {
	for in, want := range map[string]uiMode{"": uiModeAuto, "AUTO": uiModeAuto, "on": uiModeOn, " off ": uiModeOff} {
		got, err := readUIMode(in)
		if err != nil || got != want {
			t.Errorf("readUIMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := readUIMode("sometimes"); err == nil {
		t.Error("expected error for invalid mode")
	}
	if shouldUseTUI(uiModeAuto, true) {
		t.Error("quiet auto mode must not start the UI")
	}
}

func TestResolveColor(t *testing.T) {
	if on, err := resolveColor("on"); err != nil || !on {
		t.Errorf("on = %v, %v", on, err)
	}
	if on, err := resolveColor("off"); err != nil || on {
		t.Errorf("off = %v, %v", on, err)
	}
	if _, err := resolveColor("rainbow"); err == nil {
		t.Error("expected error")
	}
}
