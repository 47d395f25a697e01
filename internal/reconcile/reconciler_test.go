package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbor/internal/source"
	"arbor/internal/tree"
	"arbor/internal/unit"
)

type env struct {
	tree  *tree.Tree
	units *unit.Registry
	files *source.FileSet
	rec   *Reconciler
	clock time.Time
}

var (
	def1 = unit.Key{Module: "mod", Name: "def1"}
	def2 = unit.Key{Module: "mod", Name: "def2"}
)

func newEnv(t *testing.T) *env {
	t.Helper()
	files := source.NewFileSet()
	file := files.AddVirtual("mod.ar", "mod", []byte("def def1 {}\ndef def2 {}\n"))
	units := unit.NewRegistry(files)
	_, err := units.DefineContainer("mod", file)
	require.NoError(t, err)
	_, err = units.DefineLeaf(def1, unit.Key{}, source.Span{File: file, Start: 0, End: 11})
	require.NoError(t, err)
	_, err = units.DefineLeaf(def2, unit.Key{}, source.Span{File: file, Start: 12, End: 23})
	require.NoError(t, err)

	e := &env{tree: tree.New(), units: units, files: files, clock: time.Unix(100, 0)}
	e.rec = New(e.tree, units, Options{Now: func() time.Time { return e.clock }})
	return e
}

func (e *env) node(key unit.Key) *tree.Node {
	c := e.tree.Find(e.tree.Root(), tree.ContainerPayload(key.Module))
	if c == nil || key.IsContainer() {
		return c
	}
	u, _ := e.units.Resolve(key)
	return e.tree.Find(c, tree.LeafPayload(key, u.Span.Start))
}

func TestUnitFailedBeforeStartIsReplayed(t *testing.T) {
	e := newEnv(t)
	e.rec.SessionStarted()

	e.rec.UnitFailed(def1)
	assert.Nil(t, e.node(def1), "no node before start")
	assert.Equal(t, 1, e.rec.Pending(def1))

	e.rec.UnitStarted(def1)
	n := e.node(def1)
	require.NotNil(t, n)
	assert.Equal(t, tree.StateFailed, n.State())
	assert.True(t, n.Failed())
	assert.Zero(t, e.rec.Pending(def1))
	assert.Equal(t, 1, e.rec.Stats().Replayed)
}

func TestDeferredReplayOrder(t *testing.T) {
	e := newEnv(t)
	e.rec.SessionStarted()

	var got []int
	for i := range 5 {
		e.rec.Schedule(def1, func(*tree.Node) { got = append(got, i) })
	}
	e.rec.UnitStarted(def1)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)

	// live node: actions run immediately, nothing is queued
	e.rec.Schedule(def1, func(*tree.Node) { got = append(got, 5) })
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, got)
	assert.Zero(t, e.rec.Pending(def1))
}

func TestFinishBeforeStartFlushesOnce(t *testing.T) {
	e := newEnv(t)
	e.rec.SessionStarted()

	calls := 0
	e.rec.UnitFinished(def1)
	e.rec.Schedule(def1, func(*tree.Node) { calls++ })
	e.rec.UnitStarted(def1)

	n := e.node(def1)
	require.NotNil(t, n)
	assert.Equal(t, tree.StateFinished, n.State())
	assert.Equal(t, 1, calls)
	assert.False(t, e.rec.Live(def1))
}

func TestSessionFinishedWithUnfinishedContainerTerminates(t *testing.T) {
	e := newEnv(t)
	e.rec.SessionStarted()
	e.rec.ContainerStarted("mod")
	e.rec.SessionFinished()

	assert.Equal(t, tree.StateTerminated, e.tree.Root().State())
	assert.Equal(t, tree.StateTerminated, e.node(unit.Key{Module: "mod"}).State())

	// idempotent
	e.rec.SessionFinished()
	assert.Equal(t, tree.StateTerminated, e.tree.Root().State())
}

func TestSessionFinishedCleanly(t *testing.T) {
	e := newEnv(t)
	e.rec.SessionStarted(def1)
	e.rec.UnitStarted(def1)
	e.rec.UnitFinished(def1)
	e.rec.BatchFinished()
	e.rec.SessionFinished()

	assert.Equal(t, tree.StateFinished, e.tree.Root().State())
	assert.Equal(t, tree.StateFinished, e.node(unit.Key{Module: "mod"}).State())
	assert.True(t, e.rec.Seen(def1))
}

func TestExpectedUnitMissingTerminates(t *testing.T) {
	e := newEnv(t)
	e.rec.SessionStarted(def1, def2)
	e.rec.UnitStarted(def1)
	e.rec.UnitFinished(def1)
	e.rec.BatchFinished()
	e.rec.SessionFinished()
	assert.Equal(t, tree.StateTerminated, e.tree.Root().State())
}

func TestDoubleStartKeepsNode(t *testing.T) {
	e := newEnv(t)
	e.rec.SessionStarted()
	e.rec.UnitStarted(def1)
	first := e.node(def1)
	e.rec.UnitFailed(def1)

	e.rec.UnitStarted(def1)
	assert.Same(t, first, e.node(def1))
	assert.Equal(t, tree.StateFailed, first.State(), "second start must not reset the node")
	assert.Equal(t, 1, e.rec.Stats().Warnings)
	assert.Equal(t, 1, e.tree.Root().Child(0).Len())
}

func TestUnknownUnitsAreDropped(t *testing.T) {
	e := newEnv(t)
	e.rec.SessionStarted()
	e.rec.UnitStarted(unit.Key{Module: "mod", Name: "nope"})
	e.rec.UnitFailed(unit.Key{Module: "other", Name: "x"})
	e.rec.ContainerStarted("other")
	e.rec.Schedule(unit.Key{Module: "nope"}, func(*tree.Node) { t.Fatal("must not run") })

	assert.Equal(t, 4, e.rec.Stats().Dropped)
	assert.Zero(t, e.tree.Count())
}

func TestNoDuplicateContainers(t *testing.T) {
	e := newEnv(t)
	e.rec.SessionStarted()
	e.rec.UnitStarted(def1)
	e.rec.ContainerStarted("mod")
	e.rec.UnitStarted(def2)
	require.Equal(t, 1, e.tree.Root().Len())
	assert.Equal(t, 2, e.tree.Root().Child(0).Len())
}

func TestBatchFinishedMaterializesDeferred(t *testing.T) {
	e := newEnv(t)
	e.rec.SessionStarted()
	e.rec.UnitFailed(def2)
	e.rec.ContainerFailed("mod")
	e.rec.UnitStarted(def1)

	e.rec.BatchFinished()

	n2 := e.node(def2)
	require.NotNil(t, n2)
	assert.Equal(t, tree.StateFinished, n2.State())
	assert.True(t, n2.Failed())
	c := e.node(unit.Key{Module: "mod"})
	assert.Equal(t, tree.StateFinished, c.State())
	assert.Equal(t, tree.StateFinished, e.node(def1).State())
	assert.False(t, e.rec.Live(def1))
	assert.Zero(t, e.rec.Pending(def2))
}

func TestTimersAccumulateAcrossRestarts(t *testing.T) {
	e := newEnv(t)
	e.rec.SessionStarted()
	e.rec.UnitStarted(def1)
	e.clock = e.clock.Add(30 * time.Millisecond)
	e.rec.UnitFinished(def1)
	assert.Equal(t, 30*time.Millisecond, e.node(def1).Duration())

	e.rec.UnitStarted(def1)
	e.clock = e.clock.Add(20 * time.Millisecond)
	e.rec.UnitFinished(def1)
	assert.Equal(t, 50*time.Millisecond, e.node(def1).Duration())
}

func TestContainerStartedAfterSessionFinishedIsTerminated(t *testing.T) {
	e := newEnv(t)
	e.rec.SessionStarted()
	e.rec.SessionFinished()
	e.rec.ContainerStarted("mod")
	assert.Equal(t, tree.StateTerminated, e.node(unit.Key{Module: "mod"}).State())
}

func TestInvalidatedUnitsAreDropped(t *testing.T) {
	e := newEnv(t)
	e.rec.SessionStarted()
	e.rec.UnitFailed(def1)
	e.units.InvalidateContainer("mod")
	e.rec.BatchFinished()
	assert.Zero(t, e.tree.Count())
	assert.Equal(t, 1, e.rec.Stats().Dropped)
}

func TestForgetReleasesContainer(t *testing.T) {
	e := newEnv(t)
	e.rec.SessionStarted()
	e.rec.UnitStarted(def1)
	e.rec.UnitFailed(def2)
	require.True(t, e.rec.Live(def1))
	require.Equal(t, 1, e.rec.Pending(def2))

	e.rec.Forget("mod")
	assert.False(t, e.rec.Live(def1))
	assert.False(t, e.rec.Live(unit.Key{Module: "mod"}))
	assert.Zero(t, e.rec.Pending(def2))

	e.rec.SessionFinished()
	assert.Equal(t, tree.StateFinished, e.tree.Root().State())
}

func TestPruneDropsRemovedUnits(t *testing.T) {
	e := newEnv(t)
	e.rec.SessionStarted()
	e.rec.UnitStarted(def1)
	e.rec.UnitFailed(def2)
	require.True(t, e.rec.Live(def1))
	require.Equal(t, 1, e.rec.Pending(def2))

	require.True(t, e.units.RemoveLeaf(def1))
	require.True(t, e.units.RemoveLeaf(def2))
	assert.Equal(t, 2, e.rec.Prune())
	assert.False(t, e.rec.Live(def1))
	assert.Zero(t, e.rec.Pending(def2))

	e.rec.SessionFinished()
	assert.Equal(t, tree.StateFinished, e.tree.Root().State())
}

func TestDetachedNodeIsRestarted(t *testing.T) {
	e := newEnv(t)
	e.rec.SessionStarted()
	e.rec.UnitStarted(def1)
	old := e.node(def1)
	require.NotNil(t, old)

	e.tree.Remove(old)
	e.rec.UnitStarted(def1)
	n := e.node(def1)
	require.NotNil(t, n)
	assert.NotSame(t, old, n)
	assert.Equal(t, tree.StateRunning, n.State())
	assert.Zero(t, e.rec.Stats().Warnings)

	e.rec.UnitFinished(def1)
	assert.Equal(t, tree.StateFinished, n.State())
}
