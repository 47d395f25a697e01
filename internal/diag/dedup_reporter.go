package diag

import (
	"sync"

	"arbor/internal/source"
	"arbor/internal/unit"
)

type dedupKey struct {
	code  Code
	sev   Severity
	stage Stage
	owner unit.Key
	file  source.FileID
	start uint32
	end   uint32
	rev   uint32
	msg   string
}

func keyOf(d *Diagnostic) dedupKey {
	return dedupKey{
		code:  d.Code,
		sev:   d.Severity,
		stage: d.Stage,
		owner: d.Owner,
		file:  d.Primary.File,
		start: d.Primary.Start,
		end:   d.Primary.End,
		rev:   d.Revision,
		msg:   d.Message,
	}
}

// DedupReporter wraps another Reporter and suppresses duplicate diagnostics
// with the same code, severity, stage, owner, primary location and message.
// Producers that rerun a pass without clearing use it to avoid doubled rows.
type DedupReporter struct {
	next Reporter
	mu   sync.Mutex
	seen map[dedupKey]struct{}
}

// NewDedupReporter returns a Reporter that filters out duplicates while
// forwarding unique diagnostics to the provided reporter.
func NewDedupReporter(next Reporter) *DedupReporter {
	return &DedupReporter{
		next: next,
		seen: make(map[dedupKey]struct{}),
	}
}

func (r *DedupReporter) Report(d *Diagnostic) {
	if r == nil || d == nil {
		return
	}
	key := keyOf(d)
	r.mu.Lock()
	_, dup := r.seen[key]
	if !dup {
		r.seen[key] = struct{}{}
	}
	r.mu.Unlock()
	if dup {
		return
	}
	if r.next != nil {
		r.next.Report(d)
	}
}

// Forget lets a diagnostic equal to d through again. Call it when d leaves
// the downstream store so a producer can report it anew.
func (r *DedupReporter) Forget(d *Diagnostic) {
	if r == nil || d == nil {
		return
	}
	r.mu.Lock()
	delete(r.seen, keyOf(d))
	r.mu.Unlock()
}

// Len is the number of distinct diagnostics currently remembered.
func (r *DedupReporter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
