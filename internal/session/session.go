// Package session serializes everything that touches the rendered tree.
//
// Producers push events from any goroutine onto an unbounded mailbox. One
// consumer goroutine applies them to the reconciler in push order, recovers
// from panics per event and, after draining a batch, resynchronizes the tree
// with a fresh snapshot when anything changed. Reads of the tree run as
// closures on the same goroutine.
package session

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"arbor/internal/diag"
	"arbor/internal/diagstore"
	"arbor/internal/logging"
	"arbor/internal/metrics"
	"arbor/internal/nav"
	"arbor/internal/reconcile"
	"arbor/internal/snapshot"
	"arbor/internal/source"
	"arbor/internal/trace"
	"arbor/internal/tree"
	"arbor/internal/unit"
)

// ErrClosed is returned by pull operations once the session is closed.
var ErrClosed = errors.New("session closed")

// Options configure a Session.
type Options struct {
	Logger *slog.Logger
	Tracer trace.Tracer
	// MinSeverity hides lower ranked diagnostics from the tree and cursor lookups.
	MinSeverity diag.Severity
	Viewport    nav.Viewport
	// Jumper receives Navigate requests; nil disables navigation.
	Jumper nav.Jumper
	// Now is the clock for unit timers; nil means time.Now.
	Now func() time.Time
	// SpanParent parents the session's trace spans.
	SpanParent uint64
	// Dedup drops a report equal to a diagnostic the store still holds.
	Dedup bool
}

// Stats are counters of the consumer goroutine.
type Stats struct {
	Processed    uint64
	Panics       uint64
	Syncs        uint64
	Unattributed int
	Reconcile    reconcile.Stats
}

// Session owns the rendered tree of one project.
type Session struct {
	id      string
	project *Project
	log     *slog.Logger
	tracer  trace.Tracer
	jumper  nav.Jumper
	min     diag.Severity
	span    uint64

	reporter diag.Reporter
	dedup    *diag.DedupReporter

	mb        *mailbox
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	processed atomic.Uint64
	panics    atomic.Uint64

	// owned by the consumer goroutine
	tree         *tree.Tree
	syncer       *tree.Synchronizer
	rec          *reconcile.Reconciler
	sel          *nav.Selection
	dirty        bool
	syncs        uint64
	unattributed int
	onAdded      []func(*diag.Diagnostic)
	onRemoved    []func(*diag.Diagnostic)
}

// New starts a session over p. The session installs itself as the change
// hook of p's store and registry.
func New(p *Project, opts Options) *Session {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = trace.Nop
	}
	t := tree.New()
	s := &Session{
		id:      uuid.NewString(),
		project: p,
		log:     logging.OrDiscard(opts.Logger),
		tracer:  tracer,
		jumper:  opts.Jumper,
		min:     opts.MinSeverity,
		span:    opts.SpanParent,
		mb:      newMailbox(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		tree:    t,
		syncer:  tree.NewSynchronizer(t),
		sel:     nav.NewSelection(opts.Viewport),
		dirty:   true,
	}
	s.log = s.log.With("session", s.id)
	s.reporter = diag.MultiReporter{p.Store, countingReporter{}}
	if opts.Dedup {
		s.dedup = diag.NewDedupReporter(s.reporter)
		s.reporter = s.dedup
	}
	s.rec = reconcile.New(t, p.Units, reconcile.Options{
		Logger:     s.log,
		Tracer:     tracer,
		Now:        opts.Now,
		SpanParent: opts.SpanParent,
	})

	t.OnAdd(func(n *tree.Node) {
		if n.Kind() == tree.KindDiagnostic {
			for _, fn := range s.onAdded {
				fn(n.Diagnostic())
			}
		}
	})
	t.OnRemove(func(n *tree.Node) {
		if n.Kind() == tree.KindDiagnostic {
			for _, fn := range s.onRemoved {
				fn(n.Diagnostic())
			}
		}
	})

	p.Store.OnChange(func(c diagstore.Change) {
		for _, d := range c.Removed {
			s.dedup.Forget(d)
		}
		s.mb.push(Event{Kind: EventDiagnostics, Added: c.Added, Removed: c.Removed})
	})
	p.Units.OnChange(func() {
		s.mb.push(Event{Kind: EventUnits})
	})

	go s.run()
	return s
}

// ID is the unique identifier of the session.
func (s *Session) ID() string { return s.id }

// Project returns the project the session renders.
func (s *Session) Project() *Project { return s.project }

func (s *Session) push(ev Event) {
	if !s.mb.push(ev) {
		metrics.RecordDropped("closed")
		s.log.Debug("event after close ignored", "kind", ev.Kind.String())
	}
}

// Report stores d. The store is not part of the serialized context; the
// tree catches up on the next drained batch.
func (s *Session) Report(d *diag.Diagnostic) {
	if d == nil || s.closed() {
		return
	}
	s.reporter.Report(d)
}

type countingReporter struct{}

func (countingReporter) Report(d *diag.Diagnostic) { metrics.RecordDiagnostic(d.Stage.String()) }

func (s *Session) SessionStarted(expected ...unit.Key) {
	s.push(Event{Kind: EventSessionStarted, Expected: expected})
}

func (s *Session) SessionFinished() { s.push(Event{Kind: EventSessionFinished}) }

func (s *Session) ContainerStarted(path string) {
	s.push(Event{Kind: EventContainerStarted, Path: path})
}

func (s *Session) ContainerFailed(path string) {
	s.push(Event{Kind: EventContainerFailed, Path: path})
}

func (s *Session) UnitStarted(key unit.Key) { s.push(Event{Kind: EventUnitStarted, Key: key}) }

func (s *Session) UnitFailed(key unit.Key) { s.push(Event{Kind: EventUnitFailed, Key: key}) }

func (s *Session) UnitFinished(key unit.Key) { s.push(Event{Kind: EventUnitFinished, Key: key}) }

func (s *Session) BatchFinished() { s.push(Event{Kind: EventBatchFinished}) }

// Schedule runs action on the node of key once it exists.
func (s *Session) Schedule(key unit.Key, action reconcile.Action) {
	s.push(Event{Kind: EventSchedule, Key: key, Action: action})
}

// Invalidate marks the container registered under path as gone. Its nodes
// disappear on the next synchronization.
func (s *Session) Invalidate(path string) { s.push(Event{Kind: EventInvalidate, Path: path}) }

// GetDiagnostics returns the stored diagnostics of file.
func (s *Session) GetDiagnostics(file source.FileID) []*diag.Diagnostic {
	return s.project.Store.GetAll(file)
}

// DiagnosticsOverlapping returns the current diagnostics under offset, most
// severe first.
func (s *Session) DiagnosticsOverlapping(file source.FileID, offset uint32) []*diag.Diagnostic {
	return nav.DiagnosticsAt(s.project.Store, s.project.Files, file, offset, s.min)
}

// OnDiagnosticAdded registers fn for diagnostic rows added to the tree. fn
// runs on the consumer goroutine.
func (s *Session) OnDiagnosticAdded(fn func(*diag.Diagnostic)) {
	if fn != nil {
		s.push(Event{Kind: EventCall, call: func() { s.onAdded = append(s.onAdded, fn) }})
	}
}

// OnDiagnosticRemoved registers fn for diagnostic rows removed from the tree.
func (s *Session) OnDiagnosticRemoved(fn func(*diag.Diagnostic)) {
	if fn != nil {
		s.push(Event{Kind: EventCall, call: func() { s.onRemoved = append(s.onRemoved, fn) }})
	}
}

// Select selects the row of d, or the first diagnostic when d is nil.
func (s *Session) Select(ctx context.Context, d *diag.Diagnostic) (bool, error) {
	var found bool
	if err := s.do(ctx, func() { found = s.sel.Select(s.tree.Root(), d) }); err != nil {
		return false, err
	}
	return found, nil
}

// SelectFirst selects the first diagnostic row.
func (s *Session) SelectFirst(ctx context.Context) (bool, error) {
	var found bool
	if err := s.do(ctx, func() { found = s.sel.SelectFirst(s.tree.Root()) }); err != nil {
		return false, err
	}
	return found, nil
}

// SelectAt selects the most severe diagnostic under the cursor.
func (s *Session) SelectAt(ctx context.Context, file source.FileID, offset uint32) (*diag.Diagnostic, error) {
	var d *diag.Diagnostic
	err := s.do(ctx, func() {
		d = s.sel.SelectAt(s.tree.Root(), s.project.Store, s.project.Files, file, offset, s.min)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Navigate jumps to the source of the selected row.
func (s *Session) Navigate(ctx context.Context, focus bool) (bool, error) {
	var ok bool
	err := s.do(ctx, func() {
		ok = nav.Navigate(s.sel.Selected(), s.project.Units, s.project.Files, s.jumper, focus)
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Resize changes the viewport used for scrolling.
func (s *Session) Resize(ctx context.Context, vp nav.Viewport) error {
	return s.do(ctx, func() { s.sel.Resize(vp) })
}

// Tree runs fn with the synchronized root on the consumer goroutine. fn must
// not retain nodes.
func (s *Session) Tree(ctx context.Context, fn func(root *tree.Node)) error {
	return s.do(ctx, func() { fn(s.tree.Root()) })
}

// View is Tree with access to the selection.
func (s *Session) View(ctx context.Context, fn func(root *tree.Node, sel *nav.Selection)) error {
	return s.do(ctx, func() { fn(s.tree.Root(), s.sel) })
}

// Sync waits until every event pushed before it has been applied and the
// tree is synchronized.
func (s *Session) Sync(ctx context.Context) error {
	return s.do(ctx, func() {})
}

// Stats returns the consumer counters.
func (s *Session) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.do(ctx, func() {
		st = Stats{
			Processed:    s.processed.Load(),
			Panics:       s.panics.Load(),
			Syncs:        s.syncs,
			Unattributed: s.unattributed,
			Reconcile:    s.rec.Stats(),
		}
	})
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// Close stops the consumer after it applied what was already queued. Later
// pushes are ignored and pull operations fail with ErrClosed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mb.close()
		close(s.stop)
	})
	<-s.done
	return nil
}

// Done is closed when the consumer goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) closed() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Session) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	ok := s.mb.push(Event{Kind: EventCall, call: func() {
		defer close(finished)
		fn()
	}})
	if !ok {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.mb.signal:
			s.drain()
		case <-s.stop:
			s.drain()
			s.log.Debug("session consumer stopped")
			return
		}
	}
}

func (s *Session) drain() {
	batch := s.mb.drain()
	if len(batch) == 0 {
		return
	}
	span := trace.Begin(s.tracer, trace.ScopeBatch, "drain", s.span)
	for i := range batch {
		s.apply(&batch[i])
	}
	s.resync()
	span.WithExtra("events", strconv.Itoa(len(batch))).End("")
}

func (s *Session) apply(ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			metrics.RecordDropped("panic")
			s.log.Error("event handler panicked", "kind", ev.Kind.String(), "panic", r, "stack", string(debug.Stack()))
		}
	}()
	s.processed.Add(1)
	metrics.RecordEvent(ev.Kind.String())

	switch ev.Kind {
	case EventSessionStarted:
		s.rec.SessionStarted(ev.Expected...)
	case EventSessionFinished:
		s.rec.SessionFinished()
	case EventContainerStarted:
		s.rec.ContainerStarted(ev.Path)
	case EventContainerFailed:
		s.rec.ContainerFailed(ev.Path)
	case EventUnitStarted:
		s.rec.UnitStarted(ev.Key)
	case EventUnitFailed:
		s.rec.UnitFailed(ev.Key)
	case EventUnitFinished:
		s.rec.UnitFinished(ev.Key)
	case EventBatchFinished:
		s.rec.BatchFinished()
	case EventSchedule:
		s.rec.Schedule(ev.Key, ev.Action)
	case EventInvalidate:
		s.invalidate(ev.Path)
	case EventUnits:
		s.rec.Prune()
	case EventDiagnostics:
	case EventCall:
		// reads observe every event pushed before them
		s.resync()
		ev.call()
		return
	}
	s.dirty = true
}

func (s *Session) invalidate(path string) {
	module := path
	if u, ok := s.project.ContainerByPath(path); ok {
		module = u.Key.Module
	}
	if !s.project.Units.InvalidateContainer(module) {
		s.log.Debug("invalidate: no such container", "path", path)
		return
	}
	s.rec.Forget(module)
	s.log.Debug("container invalidated", "module", module)
}

func (s *Session) resync() {
	if !s.dirty {
		return
	}
	s.dirty = false
	start := time.Now()
	snap := snapshot.Build(s.project.Units, s.project.Store, snapshot.Options{
		MinSeverity: s.min,
		Seen:        s.rec.Seen,
	})
	st := s.syncer.Update(s.tree.Root(), snap.Children)
	if st.Removed > 0 {
		s.rec.Prune()
	}
	s.syncs++
	metrics.RecordSync(time.Since(start), st.Added, st.Removed, st.Moved)
	if n := snap.Unattributed(); n != s.unattributed {
		s.unattributed = n
		if n > 0 {
			s.log.Debug("diagnostics without an enclosing definition", "count", n)
		}
	}
	if st.Mutations() > 0 {
		trace.Point(s.tracer, trace.ScopeBatch, "sync",
			"added="+strconv.Itoa(st.Added)+" removed="+strconv.Itoa(st.Removed)+" moved="+strconv.Itoa(st.Moved), 0)
	}
}
