package observ

import (
	"errors"
	"strings"
	"testing"
	"time"

	"arbor/internal/unit"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestUnitTimerAccumulates(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	ut := NewUnitTimer(clk.now)
	k := unit.Key{Module: "m", Name: "f"}

	ut.Start(k)
	clk.advance(10 * time.Millisecond)
	if got := ut.Stop(k); got != 10*time.Millisecond {
		t.Fatalf("first interval = %v", got)
	}

	// restart accumulates
	ut.Start(k)
	ut.Start(k)
	clk.advance(5 * time.Millisecond)
	if got := ut.Elapsed(k); got != 15*time.Millisecond {
		t.Fatalf("elapsed while running = %v", got)
	}
	if got := ut.Stop(k); got != 15*time.Millisecond {
		t.Fatalf("total = %v", got)
	}
	if ut.Running(k) {
		t.Fatal("clock should be stopped")
	}

	if got := ut.Stop(unit.Key{Module: "x"}); got != 0 {
		t.Fatalf("unknown key = %v", got)
	}
	ut.Reset()
	if ut.Len() != 0 {
		t.Fatal("reset must drop clocks")
	}
}

func TestTimerSummary(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	tm := newTimer(clk.now)
	idx := tm.Begin("replay")
	clk.advance(3 * time.Millisecond)
	tm.End(idx, "42 records")
	tm.End(99, "ignored")

	err := tm.Measure("render", func() error {
		clk.advance(2 * time.Millisecond)
		return errors.New("closed pipe")
	})
	if err == nil {
		t.Fatal("Measure must return the phase error")
	}

	s := tm.Summary()
	for _, want := range []string{"replay", "3.00 ms  // 42 records", "render", "// closed pipe", "total                   5.00 ms"} {
		if !strings.Contains(s, want) {
			t.Fatalf("summary misses %q:\n%s", want, s)
		}
	}
	r := tm.Report()
	if len(r.Phases) != 2 || !r.Phases[1].Failed || r.Phases[0].Failed {
		t.Fatalf("unexpected report %+v", r)
	}
}
