package observ

import (
	"time"

	"arbor/internal/unit"
)

type unitClock struct {
	started time.Time
	running bool
	total   time.Duration
}

// UnitTimer accumulates wall time per unit. A unit may be started and
// stopped several times within a session; durations add up.
type UnitTimer struct {
	now    func() time.Time
	clocks map[unit.Key]*unitClock
}

// NewUnitTimer returns a timer using time.Now. now may be replaced in tests.
func NewUnitTimer(now func() time.Time) *UnitTimer {
	if now == nil {
		now = time.Now
	}
	return &UnitTimer{now: now, clocks: make(map[unit.Key]*unitClock)}
}

// Start begins measuring key. Starting a running clock is a no-op.
func (t *UnitTimer) Start(key unit.Key) {
	c := t.clocks[key]
	if c == nil {
		c = &unitClock{}
		t.clocks[key] = c
	}
	if c.running {
		return
	}
	c.started = t.now()
	c.running = true
}

// Stop ends the current interval and returns the accumulated duration.
func (t *UnitTimer) Stop(key unit.Key) time.Duration {
	c := t.clocks[key]
	if c == nil {
		return 0
	}
	if c.running {
		c.total += t.now().Sub(c.started)
		c.running = false
	}
	return c.total
}

// Elapsed returns the accumulated duration including a running interval.
func (t *UnitTimer) Elapsed(key unit.Key) time.Duration {
	c := t.clocks[key]
	if c == nil {
		return 0
	}
	if c.running {
		return c.total + t.now().Sub(c.started)
	}
	return c.total
}

// Running reports whether key has an open interval.
func (t *UnitTimer) Running(key unit.Key) bool {
	c := t.clocks[key]
	return c != nil && c.running
}

// Forget drops the clock of key.
func (t *UnitTimer) Forget(key unit.Key) {
	delete(t.clocks, key)
}

// Reset drops every clock.
func (t *UnitTimer) Reset() {
	t.clocks = make(map[unit.Key]*unitClock)
}

// Len is the number of tracked units.
func (t *UnitTimer) Len() int { return len(t.clocks) }
