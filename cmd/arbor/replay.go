package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"arbor/internal/observ"
	"arbor/internal/session"
	"arbor/internal/trace"
	"arbor/internal/watch"
)

var replayCmd = &cobra.Command{
	Use:   "replay <log.mp>",
	Short: "Replay an event log into a live diagnostic tree",
	Long: `Replay reads a recorded event log, applies it to a fresh session and
shows the resulting tree. With --watch the session stays open and files
removed or rewritten under DIR invalidate or refresh their modules.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().String("ui", "auto", "live tree view (auto|on|off)")
	replayCmd.Flags().String("watch", "", "keep the session open and watch this directory")
	replayCmd.Flags().String("base", ".", "directory recorded file paths are relative to")
	replayCmd.Flags().Bool("timings", false, "show definition and phase timings")
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx, span := trace.StartSpan(cmd.Context(), trace.ScopeSession, "replay")
	defer span.End("")
	uiFlag, err := cmd.Flags().GetString("ui")
	if err != nil {
		return fmt.Errorf("failed to get ui flag: %w", err)
	}
	mode, err := readUIMode(uiFlag)
	if err != nil {
		return err
	}
	watchDir, err := cmd.Flags().GetString("watch")
	if err != nil {
		return fmt.Errorf("failed to get watch flag: %w", err)
	}
	baseDir, err := cmd.Flags().GetString("base")
	if err != nil {
		return fmt.Errorf("failed to get base flag: %w", err)
	}
	timings, err := cmd.Flags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}
	if watchDir != "" && !cmd.Flags().Changed("base") {
		baseDir = watchDir
	}

	log := env.log.With("cmd", "replay", "log", args[0])
	p := session.NewProject(baseDir)
	sess := newSession(ctx, p)
	defer sess.Close()

	treeOpts := treeOptsFor(timings)

	var watcher *watch.Watcher
	if watchDir != "" {
		watcher, err = watch.New(watchDir, watch.Options{
			Debounce: env.cfg.Debounce(),
			Ignore:   env.cfg.Watch.Ignore,
			Logger:   env.log.Logger,
		})
		if err != nil {
			return fmt.Errorf("watch %s: %w", watchDir, err)
		}
	}

	tui := shouldUseTUI(mode, env.quiet)
	out := cmd.OutOrStdout()
	report := !tui && !env.quiet

	timer := observ.NewTimer()
	work := func(ctx context.Context) error {
		var res replayResult
		err := timer.Measure("replay", func() error {
			var err error
			res, err = replayLog(ctx, args[0], p, sess, log)
			return err
		})
		if err != nil {
			return err
		}
		log.Info("replayed", "session", res.header.SessionID, "applied", res.applied, "skipped", res.skipped)
		if err := timer.Measure("sync", func() error { return sess.Sync(ctx) }); err != nil {
			return err
		}
		if report {
			if err := timer.Measure("render", func() error { return printTree(ctx, out, sess, treeOpts) }); err != nil {
				return err
			}
		}
		if timings && !tui {
			fmt.Fprint(cmd.ErrOrStderr(), timer.Summary())
		}
		if watcher == nil {
			return nil
		}
		return watcher.Run(ctx, func(ctx context.Context, batch []watch.Change) {
			r := watch.Apply(ctx, p, sess, batch, env.log.Logger)
			log.Info("watch batch", "invalidated", r.Invalidated, "reloaded", r.Reloaded, "unchanged", r.Unchanged, "ignored", r.Ignored)
			// without the live view every effective batch reprints the tree
			if !report || r.Invalidated+r.Reloaded == 0 {
				return
			}
			fmt.Fprintf(out, "\n%d invalidated, %d reloaded\n", r.Invalidated, r.Reloaded)
			if err := printTree(ctx, out, sess, treeOpts); err != nil {
				log.Warn("print tree", "err", err)
			}
		})
	}

	if tui {
		return runTreeWithUI(ctx, filepath.Base(args[0]), sess, work)
	}
	return work(ctx)
}
