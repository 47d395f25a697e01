// Package metrics exposes Prometheus collectors for session activity.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// eventsProcessed counts events applied by the session consumer.
	// Labels: kind (session_started, unit_finished, ...)
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbor",
		Subsystem: "session",
		Name:      "events_processed_total",
		Help:      "Events applied by the session consumer",
	}, []string{"kind"})

	// eventsDropped counts events that were ignored.
	// Labels: reason (unknown_unit, invalid_unit, closed, panic)
	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbor",
		Subsystem: "session",
		Name:      "events_dropped_total",
		Help:      "Events dropped by the session",
	}, []string{"reason"})

	deferredQueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbor",
		Subsystem: "reconcile",
		Name:      "deferred_queued_total",
		Help:      "Actions deferred because their node did not exist yet",
	})

	deferredReplayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbor",
		Subsystem: "reconcile",
		Name:      "deferred_replayed_total",
		Help:      "Deferred actions replayed on node creation",
	})

	// treeMutations counts structural tree changes.
	// Labels: op (added, removed, moved)
	treeMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbor",
		Subsystem: "tree",
		Name:      "mutations_total",
		Help:      "Structural tree mutations by operation",
	}, []string{"op"})

	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "arbor",
		Subsystem: "tree",
		Name:      "sync_duration_seconds",
		Help:      "Time spent synchronizing the tree with a fresh snapshot",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	// diagnosticsReported counts diagnostics accepted by the store.
	// Labels: stage (resolution, analysis)
	diagnosticsReported = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbor",
		Subsystem: "store",
		Name:      "diagnostics_reported_total",
		Help:      "Diagnostics accepted by the store",
	}, []string{"stage"})

	mailboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbor",
		Subsystem: "session",
		Name:      "mailbox_depth",
		Help:      "Events waiting in the session mailbox",
	})
)

// RecordEvent counts one processed event.
func RecordEvent(kind string) {
	eventsProcessed.WithLabelValues(kind).Inc()
}

// RecordDropped counts one dropped event.
func RecordDropped(reason string) {
	eventsDropped.WithLabelValues(reason).Inc()
}

// RecordDeferred counts queued deferred actions.
func RecordDeferred() {
	deferredQueued.Inc()
}

// RecordReplayed counts replayed deferred actions.
func RecordReplayed(n int) {
	deferredReplayed.Add(float64(n))
}

// RecordSync records one synchronizer run.
func RecordSync(d time.Duration, added, removed, moved int) {
	syncDuration.Observe(d.Seconds())
	treeMutations.WithLabelValues("added").Add(float64(added))
	treeMutations.WithLabelValues("removed").Add(float64(removed))
	treeMutations.WithLabelValues("moved").Add(float64(moved))
}

// RecordDiagnostic counts one accepted diagnostic.
func RecordDiagnostic(stage string) {
	diagnosticsReported.WithLabelValues(stage).Inc()
}

// SetMailboxDepth publishes the current mailbox length.
func SetMailboxDepth(n int) {
	mailboxDepth.Set(float64(n))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
