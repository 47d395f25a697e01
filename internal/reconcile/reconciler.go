// Package reconcile turns the analysis engine's lifecycle notifications into
// node states of the rendered tree. Notifications arrive out of order; an
// event naming a unit without a node yet is deferred and replayed when the
// node appears.
//
// A Reconciler is not safe for concurrent use. The session runs it on its
// single consumer goroutine.
package reconcile

import (
	"log/slog"
	"slices"
	"time"

	"arbor/internal/logging"
	"arbor/internal/metrics"
	"arbor/internal/observ"
	"arbor/internal/trace"
	"arbor/internal/tree"
	"arbor/internal/unit"
)

// Action runs against the node of a unit once it exists.
type Action func(n *tree.Node)

type deferred struct {
	key     unit.Key
	actions []Action
}

// Options configure a Reconciler.
type Options struct {
	Logger *slog.Logger
	Tracer trace.Tracer
	// Now is the clock used for unit timers; nil means time.Now.
	Now func() time.Time
	// SpanParent parents the session spans, usually the command's span.
	SpanParent uint64
}

// Stats summarize what the reconciler did since creation.
type Stats struct {
	Dropped  int
	Deferred int
	Replayed int
	Warnings int
}

// Reconciler applies lifecycle events to a tree.
type Reconciler struct {
	tree   *tree.Tree
	units  *unit.Registry
	log    *slog.Logger
	tracer trace.Tracer
	timers *observ.UnitTimer

	live     map[unit.Key]*tree.Node
	deferred map[unit.Key]*deferred
	order    []unit.Key // keys in the order their first action was deferred
	expected map[unit.Key]struct{}
	seen     map[unit.Key]struct{}

	started     bool
	finished    bool
	sessionSpan *trace.Span
	sessionAt   time.Time
	now         func() time.Time
	spanParent  uint64
	stats       Stats
}

// New creates a reconciler for t, resolving keys through units.
func New(t *tree.Tree, units *unit.Registry, opts Options) *Reconciler {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = trace.Nop
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	r := &Reconciler{
		tree:   t,
		units:  units,
		log:    logging.OrDiscard(opts.Logger),
		tracer: tracer,
		timers:     observ.NewUnitTimer(now),
		now:        now,
		spanParent: opts.SpanParent,
	}
	r.resetTransient()
	r.seen = make(map[unit.Key]struct{})
	return r
}

func (r *Reconciler) resetTransient() {
	r.live = make(map[unit.Key]*tree.Node)
	r.deferred = make(map[unit.Key]*deferred)
	r.order = nil
	r.expected = make(map[unit.Key]struct{})
	r.timers.Reset()
}

// SessionStarted begins a new session. Units seen by a previous session stop
// being shown unless they report again or carry diagnostics.
func (r *Reconciler) SessionStarted(expected ...unit.Key) {
	if r.sessionSpan != nil {
		r.sessionSpan.End("restarted")
	}
	r.resetTransient()
	r.seen = make(map[unit.Key]struct{})
	for _, k := range expected {
		r.expected[k] = struct{}{}
	}
	r.started = true
	r.finished = false
	r.sessionAt = r.now()

	root := r.tree.Root()
	root.SetState(tree.StateRunning)
	root.SetDuration(0)
	r.sessionSpan = trace.Begin(r.tracer, trace.ScopeSession, "session", r.spanParent)
	r.log.Debug("session started", "expected", len(expected))
}

// ContainerStarted creates the node of a container if needed and replays
// actions deferred for it.
func (r *Reconciler) ContainerStarted(path string) {
	key := unit.Key{Module: path}
	if !r.accept(key, "container started") {
		return
	}
	r.startContainer(key)
}

func (r *Reconciler) startContainer(key unit.Key) *tree.Node {
	if n, ok := r.liveNode(key); ok {
		return n
	}
	n, _ := r.tree.Ensure(r.tree.Root(), tree.ContainerPayload(key.Module))
	if r.finished {
		n.SetState(tree.StateTerminated)
	} else {
		n.SetState(tree.StateRunning)
	}
	r.live[key] = n
	r.seen[key] = struct{}{}
	trace.Point(r.tracer, trace.ScopeContainer, "container:"+key.Module, "started", r.sessionSpan.ID())
	r.replay(key, n)
	return n
}

// ContainerFailed marks a container failed, or defers until it starts.
func (r *Reconciler) ContainerFailed(path string) {
	key := unit.Key{Module: path}
	if !r.accept(key, "container failed") {
		return
	}
	r.withNode(key, (*tree.Node).MarkFailed)
}

// UnitStarted creates the node of a definition in Running state, starts its
// timer and replays actions deferred for it in arrival order. Its container
// is started first when necessary.
func (r *Reconciler) UnitStarted(key unit.Key) {
	if key.IsContainer() {
		r.ContainerStarted(key.Module)
		return
	}
	if !r.accept(key, "unit started") {
		return
	}
	r.startUnit(key)
}

func (r *Reconciler) startUnit(key unit.Key) *tree.Node {
	u, _ := r.units.Resolve(key)
	container := r.startContainer(key.ContainerKey())

	if n, ok := r.liveNode(key); ok && n.State() != tree.StateNotStarted {
		r.stats.Warnings++
		r.log.Warn("analysis has already been started", "unit", key.String())
		return n
	}

	n, _ := r.tree.Ensure(container, tree.LeafPayload(key, u.Span.Start))
	if r.finished {
		n.SetState(tree.StateTerminated)
	} else {
		n.SetState(tree.StateRunning)
	}
	r.live[key] = n
	r.seen[key] = struct{}{}
	r.timers.Start(key)
	trace.Point(r.tracer, trace.ScopeUnit, "unit:"+key.String(), "started", r.sessionSpan.ID())
	r.replay(key, n)
	return n
}

// UnitFailed marks a definition failed, or defers until it starts.
func (r *Reconciler) UnitFailed(key unit.Key) {
	if key.IsContainer() {
		r.ContainerFailed(key.Module)
		return
	}
	if !r.accept(key, "unit failed") {
		return
	}
	r.withNode(key, (*tree.Node).MarkFailed)
}

// UnitFinished stops the timer of a definition, records its duration and
// detaches it from the live index. Finishing a unit that has not started yet
// is deferred.
func (r *Reconciler) UnitFinished(key unit.Key) {
	if key.IsContainer() {
		r.log.Debug("container finish ignored, containers finish with the batch", "unit", key.String())
		return
	}
	if !r.accept(key, "unit finished") {
		return
	}
	if n, ok := r.liveNode(key); ok {
		r.finishUnit(key, n)
		return
	}
	r.enqueue(key, r.finishAction(key))
}

func (r *Reconciler) finishAction(key unit.Key) Action {
	return func(n *tree.Node) {
		if cur, ok := r.live[key]; ok && cur == n {
			r.finishUnit(key, n)
		}
	}
}

func (r *Reconciler) finishUnit(key unit.Key, n *tree.Node) {
	n.SetDuration(r.timers.Stop(key))
	if n.State() != tree.StateTerminated {
		n.SetState(tree.StateFinished)
	}
	delete(r.live, key)
	trace.Point(r.tracer, trace.ScopeUnit, "unit:"+key.String(), "finished", r.sessionSpan.ID())
	// actions that arrived for the finished unit still run once
	r.replay(key, n)
}

// BatchFinished closes a batch: units that only ever received deferred
// actions get nodes, every live node is finished and the transient indexes
// are cleared.
func (r *Reconciler) BatchFinished() {
	for _, key := range r.order {
		if _, pending := r.deferred[key]; !pending {
			continue
		}
		if !r.units.IsValidKey(key) {
			r.drop(key, "batch finished", "invalid_unit")
			delete(r.deferred, key)
			continue
		}
		if key.IsContainer() {
			r.startContainer(key)
			continue
		}
		n := r.startUnit(key)
		if cur, ok := r.live[key]; ok && cur == n {
			r.finishUnit(key, n)
		}
	}

	var containers []unit.Key
	for key, n := range r.live {
		if key.IsContainer() {
			containers = append(containers, key)
			continue
		}
		n.SetDuration(r.timers.Stop(key))
		if n.State() != tree.StateTerminated {
			n.SetState(tree.StateFinished)
		}
	}
	for _, key := range containers {
		if n := r.live[key]; n.State() != tree.StateTerminated {
			n.SetState(tree.StateFinished)
		}
	}

	expected := r.expected
	r.resetTransient()
	r.expected = expected
	trace.Point(r.tracer, trace.ScopeBatch, "batch", "finished", r.sessionSpan.ID())
}

// SessionFinished ends the session. The root becomes Terminated when a node
// is still live or an expected unit never reported, Finished otherwise.
// Calling it again has no effect.
func (r *Reconciler) SessionFinished() {
	if r.finished {
		return
	}
	r.finished = true
	r.Prune()

	incomplete := len(r.live) > 0
	for k := range r.expected {
		if _, ok := r.seen[k]; !ok {
			incomplete = true
			break
		}
	}
	for key, n := range r.live {
		if !key.IsContainer() {
			n.SetDuration(r.timers.Stop(key))
		}
		n.SetState(tree.StateTerminated)
	}

	root := r.tree.Root()
	if r.started {
		root.SetDuration(r.now().Sub(r.sessionAt))
	}
	if incomplete {
		root.SetState(tree.StateTerminated)
		r.log.Warn("session finished before every unit completed", "live", len(r.live), "expected", len(r.expected))
	} else {
		root.SetState(tree.StateFinished)
	}
	if r.sessionSpan != nil {
		r.sessionSpan.End(root.State().String())
		r.sessionSpan = nil
	}
	r.resetTransient()
}

// Forget drops the live nodes, deferred actions and timers of a container
// and its leaves. The session calls it when the container is invalidated so
// the stale nodes do not keep the session incomplete.
func (r *Reconciler) Forget(path string) {
	owned := func(k unit.Key) bool { return k.Module == path }
	for key := range r.live {
		if owned(key) {
			delete(r.live, key)
			r.timers.Forget(key)
		}
	}
	for key := range r.deferred {
		if owned(key) {
			delete(r.deferred, key)
		}
	}
	r.order = slices.DeleteFunc(r.order, owned)
}

// Prune drops live nodes, deferred actions and timers of units that no
// longer resolve in the registry, and live entries whose node was unlinked
// from the tree. The session calls it after every registry change and after
// each resync. It returns the number of entries dropped.
func (r *Reconciler) Prune() int {
	pruned := 0
	for key, n := range r.live {
		if n.Attached() && r.units.IsValidKey(key) {
			continue
		}
		delete(r.live, key)
		r.timers.Forget(key)
		pruned++
	}
	for key := range r.deferred {
		if !r.units.IsValidKey(key) {
			delete(r.deferred, key)
			pruned++
		}
	}
	r.order = slices.DeleteFunc(r.order, func(k unit.Key) bool {
		_, pending := r.deferred[k]
		return !pending
	})
	if pruned > 0 {
		r.log.Debug("stale units pruned", "count", pruned)
	}
	return pruned
}

// liveNode returns the live node of key. An entry whose node is no longer
// in the tree is dropped and reported as absent.
func (r *Reconciler) liveNode(key unit.Key) (*tree.Node, bool) {
	n, ok := r.live[key]
	if !ok {
		return nil, false
	}
	if !n.Attached() {
		delete(r.live, key)
		r.timers.Forget(key)
		return nil, false
	}
	return n, true
}

// Schedule runs action on the node of key now if the unit is live, or
// defers it until the node is created.
func (r *Reconciler) Schedule(key unit.Key, action Action) {
	if action == nil || !r.accept(key, "schedule") {
		return
	}
	r.withNode(key, action)
}

// ScheduleRoot runs action on the root node.
func (r *Reconciler) ScheduleRoot(action Action) {
	if action != nil {
		action(r.tree.Root())
	}
}

func (r *Reconciler) withNode(key unit.Key, action Action) {
	if n, ok := r.liveNode(key); ok {
		action(n)
		return
	}
	r.enqueue(key, action)
}

func (r *Reconciler) enqueue(key unit.Key, action Action) {
	d := r.deferred[key]
	if d == nil {
		d = &deferred{key: key}
		r.deferred[key] = d
		r.order = append(r.order, key)
	}
	d.actions = append(d.actions, action)
	r.stats.Deferred++
	metrics.RecordDeferred()
	r.log.Debug("action deferred", "unit", key.String(), "pending", len(d.actions))
}

// replay runs the deferred actions of key one at a time so an action that
// finishes the unit sees the rest flushed exactly once.
func (r *Reconciler) replay(key unit.Key, n *tree.Node) {
	replayed := 0
	for {
		d := r.deferred[key]
		if d == nil || len(d.actions) == 0 {
			delete(r.deferred, key)
			break
		}
		a := d.actions[0]
		d.actions = d.actions[1:]
		a(n)
		replayed++
	}
	if replayed > 0 {
		r.stats.Replayed += replayed
		metrics.RecordReplayed(replayed)
	}
}

func (r *Reconciler) accept(key unit.Key, event string) bool {
	if _, ok := r.units.Resolve(key); ok {
		return true
	}
	r.drop(key, event, "unknown_unit")
	return false
}

func (r *Reconciler) drop(key unit.Key, event, reason string) {
	r.stats.Dropped++
	metrics.RecordDropped(reason)
	r.log.Warn("event dropped", "event", event, "unit", key.String(), "reason", reason)
}

// Seen reports whether key took part in the current session.
func (r *Reconciler) Seen(key unit.Key) bool {
	_, ok := r.seen[key]
	return ok
}

// Live reports whether key has a node in progress.
func (r *Reconciler) Live(key unit.Key) bool {
	_, ok := r.live[key]
	return ok
}

// Pending returns the number of deferred actions waiting for key.
func (r *Reconciler) Pending(key unit.Key) int {
	if d := r.deferred[key]; d != nil {
		return len(d.actions)
	}
	return 0
}

// Finished reports whether SessionFinished ran for the current session.
func (r *Reconciler) Finished() bool { return r.finished }

// Elapsed returns the accumulated analysis time of a unit, including a
// running interval.
func (r *Reconciler) Elapsed(key unit.Key) time.Duration { return r.timers.Elapsed(key) }

// Stats returns counters since creation.
func (r *Reconciler) Stats() Stats { return r.stats }
