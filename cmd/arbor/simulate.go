package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"fortio.org/safecast"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"arbor/internal/diag"
	"arbor/internal/eventlog"
	"arbor/internal/session"
	"arbor/internal/source"
	"arbor/internal/trace"
	"arbor/internal/unit"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive a synthetic project with concurrent out-of-order producers",
	Long: `Simulate generates modules of definitions, then lets several workers
report lifecycle events and diagnostics for them in a shuffled order.
The session must converge to the same tree whatever the interleaving.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

type simulateOptions struct {
	modules   int
	defs      int
	workers   int
	rate      float64
	seed      uint64
	errorRate float64
	record    string
}

func init() {
	simulateCmd.Flags().Int("modules", 4, "number of modules")
	simulateCmd.Flags().Int("defs", 8, "definitions per module")
	simulateCmd.Flags().Int("workers", 4, "concurrent producers")
	simulateCmd.Flags().Float64("rate", 0, "events per second across producers (0 means unlimited)")
	simulateCmd.Flags().Uint64("seed", 1, "random seed")
	simulateCmd.Flags().Float64("error-rate", 0.3, "probability that a definition reports a diagnostic")
	simulateCmd.Flags().String("record", "", "record the generated event stream to this file")
	simulateCmd.Flags().String("ui", "auto", "live tree view (auto|on|off)")
	simulateCmd.Flags().Bool("timings", false, "show definition timings")
}

func readSimulateOptions(cmd *cobra.Command) (simulateOptions, error) {
	var (
		opts simulateOptions
		err  error
	)
	f := cmd.Flags()
	if opts.modules, err = f.GetInt("modules"); err != nil {
		return opts, err
	}
	if opts.defs, err = f.GetInt("defs"); err != nil {
		return opts, err
	}
	if opts.workers, err = f.GetInt("workers"); err != nil {
		return opts, err
	}
	if opts.rate, err = f.GetFloat64("rate"); err != nil {
		return opts, err
	}
	if opts.seed, err = f.GetUint64("seed"); err != nil {
		return opts, err
	}
	if opts.errorRate, err = f.GetFloat64("error-rate"); err != nil {
		return opts, err
	}
	if opts.record, err = f.GetString("record"); err != nil {
		return opts, err
	}
	if opts.modules <= 0 || opts.defs <= 0 || opts.workers <= 0 {
		return opts, fmt.Errorf("--modules, --defs and --workers must be positive")
	}
	return opts, nil
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	opts, err := readSimulateOptions(cmd)
	if err != nil {
		return err
	}
	uiFlag, _ := cmd.Flags().GetString("ui")
	mode, err := readUIMode(uiFlag)
	if err != nil {
		return err
	}
	timings, _ := cmd.Flags().GetBool("timings")

	ctx, span := trace.StartSpan(cmd.Context(), trace.ScopeSession, "simulate")
	defer span.End("")

	p := session.NewProject(".")
	sess := newSession(ctx, p)
	defer sess.Close()

	em := &emitter{p: p, sess: sess}
	if opts.record != "" {
		w, err := eventlog.Create(opts.record, sess.ID())
		if err != nil {
			return err
		}
		em.w = w
		defer func() {
			if err := w.Close(); err != nil {
				env.log.Error("close event log", "path", opts.record, "err", err)
			}
		}()
	}

	work := func(ctx context.Context) error {
		return simulate(ctx, em, opts)
	}
	if shouldUseTUI(mode, env.quiet) {
		return runTreeWithUI(ctx, "simulate", sess, work)
	}
	if err := work(ctx); err != nil {
		return err
	}
	if env.quiet {
		return nil
	}
	if err := printTree(ctx, cmd.OutOrStdout(), sess, treeOptsFor(timings)); err != nil {
		return err
	}
	st, err := sess.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d events, %d deferred, %d replayed, %d dropped\n",
		st.Processed, st.Reconcile.Deferred, st.Reconcile.Replayed, st.Reconcile.Dropped)
	if em.w != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "recorded %d records to %s\n", em.w.Len(), opts.record)
	}
	return nil
}

// emitter applies generated records to the session, recording them first
// when a writer is set. The lock keeps the log in the order the session saw.
type emitter struct {
	mu   sync.Mutex
	p    *session.Project
	sess *session.Session
	w    *eventlog.Writer
}

func (e *emitter) emit(rec eventlog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.w != nil {
		if err := e.w.Write(rec); err != nil {
			return fmt.Errorf("record: %w", err)
		}
	}
	return eventlog.Apply(e.p, e.sess, rec)
}

type simDef struct {
	key   unit.Key
	start uint32
	end   uint32
}

// simulate defines the project, then runs the producers.
func simulate(ctx context.Context, em *emitter, opts simulateOptions) error {
	defs, err := defineProject(em, opts)
	if err != nil {
		return err
	}
	expected := make([]unit.Key, len(defs))
	for i, d := range defs {
		expected[i] = d.key
	}
	if err := em.emit(eventlog.Record{Kind: eventlog.KindSessionStarted, Expected: expected}); err != nil {
		return err
	}

	limit := rate.Inf
	if opts.rate > 0 {
		limit = rate.Limit(opts.rate)
	}
	limiter := rate.NewLimiter(limit, 1)

	g, ctx := errgroup.WithContext(ctx)
	for w := range opts.workers {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(opts.seed, uint64(w)))
			for i := w; i < len(defs); i += opts.workers {
				for _, rec := range defEvents(rng, defs[i], opts.errorRate) {
					if err := limiter.Wait(ctx); err != nil {
						return err
					}
					if err := em.emit(rec); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := em.emit(eventlog.Record{Kind: eventlog.KindBatchFinished}); err != nil {
		return err
	}
	return em.emit(eventlog.Record{Kind: eventlog.KindSessionFinished})
}

func defineProject(em *emitter, opts simulateOptions) ([]simDef, error) {
	var defs []simDef
	for m := range opts.modules {
		module := fmt.Sprintf("m%02d", m)
		var b strings.Builder
		var local []simDef
		for d := range opts.defs {
			start, err := safecast.Conv[uint32](b.Len())
			if err != nil {
				return nil, fmt.Errorf("module %s: %w", module, err)
			}
			fmt.Fprintf(&b, "def d%02d {\n  body %d\n}\n", d, d)
			end, err := safecast.Conv[uint32](b.Len() - 1)
			if err != nil {
				return nil, fmt.Errorf("module %s: %w", module, err)
			}
			local = append(local, simDef{
				key:   unit.Key{Module: module, Name: fmt.Sprintf("d%02d", d)},
				start: start,
				end:   end,
			})
		}
		rec := eventlog.Record{Kind: eventlog.KindFile, Path: module + ".ar", Module: module, Content: []byte(b.String())}
		if err := em.emit(rec); err != nil {
			return nil, err
		}
		if err := em.emit(eventlog.Record{Kind: eventlog.KindContainerStarted, Module: module}); err != nil {
			return nil, err
		}
		for _, d := range local {
			rec := eventlog.Record{Kind: eventlog.KindLeaf, Key: d.key, Module: module, Span: eventlog.Span{Start: d.start, End: d.end}}
			if err := em.emit(rec); err != nil {
				return nil, err
			}
		}
		defs = append(defs, local...)
	}
	return defs, nil
}

// defEvents returns the lifecycle of one definition. Half of the time the
// terminal event is sent before the start to exercise deferral.
func defEvents(rng *rand.Rand, d simDef, errorRate float64) []eventlog.Record {
	started := eventlog.Record{Kind: eventlog.KindUnitStarted, Key: d.key}
	end := eventlog.Record{Kind: eventlog.KindUnitFinished, Key: d.key}

	var out []eventlog.Record
	if rng.Float64() < errorRate {
		codes := diag.Codes()
		code := codes[rng.IntN(len(codes))]
		// spans are module relative, the file is bound on apply
		b := diag.NewReportBuilder(nil, code.DefaultSeverity(), code,
			source.Span{Start: d.start + 4, End: d.start + 7}, code.Title())
		// some producers do not know the owner; the store attributes by offset
		if rng.IntN(3) > 0 {
			b.WithOwner(d.key)
		}
		if rng.IntN(4) == 0 {
			b.WithNote(source.Span{Start: d.start, End: d.start + 3}, "definition starts here")
		}
		built := b.Diagnostic()
		out = append(out, eventlog.Record{Kind: eventlog.KindReport, Module: d.key.Module, Diagnostic: eventlog.FromDiagnostic(&built)})
		if code.DefaultSeverity() == diag.SevError {
			end.Kind = eventlog.KindUnitFailed
		}
	}
	if rng.IntN(2) == 0 {
		return append(out, end, started)
	}
	return append(out, started, end)
}
