package main

import (
	"fmt"
	"strings"

	"fortio.org/safecast"
	"github.com/spf13/cobra"

	"arbor/internal/diag"
	"arbor/internal/diagfmt"
	"arbor/internal/session"
	"arbor/internal/trace"
	"arbor/internal/unit"
)

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics <log.mp> <module>",
	Short: "Print the diagnostics of one module after replaying a log",
	Long: `Diagnostics replays an event log and prints what the store holds for
the module's file. With --at only diagnostics whose range contains the
offset are shown, ranked by severity.`,
	Args: cobra.ExactArgs(2),
	RunE: runDiagnostics,
}

func init() {
	diagnosticsCmd.Flags().Int("at", -1, "only diagnostics overlapping this byte offset")
	diagnosticsCmd.Flags().String("format", "short", "output format (short|pretty|json)")
	diagnosticsCmd.Flags().Bool("notes", false, "include notes")
	diagnosticsCmd.Flags().Int("max-diagnostics", 100, "maximum number of diagnostics to show")
	diagnosticsCmd.Flags().Int8("context", 0, "source lines around the primary line in pretty output")
}

func runDiagnostics(cmd *cobra.Command, args []string) error {
	ctx, span := trace.StartSpan(cmd.Context(), trace.ScopeSession, "diagnostics")
	defer span.End("")
	at, _ := cmd.Flags().GetInt("at")
	format, _ := cmd.Flags().GetString("format")
	notes, _ := cmd.Flags().GetBool("notes")
	maxDiags, _ := cmd.Flags().GetInt("max-diagnostics")
	contextLines, _ := cmd.Flags().GetInt8("context")

	format = strings.ToLower(format)
	switch format {
	case "short", "pretty", "json":
	default:
		return fmt.Errorf("unsupported format %q (must be short, pretty or json)", format)
	}

	log := env.log.With("cmd", "diagnostics", "log", args[0])
	p := session.NewProject(".")
	sess := newSession(ctx, p)
	defer sess.Close()

	if _, err := replayLog(ctx, args[0], p, sess, log); err != nil {
		return err
	}
	if err := sess.Sync(ctx); err != nil {
		return err
	}

	module, ok := p.Units.Resolve(unit.Key{Module: args[1]})
	if !ok {
		return fmt.Errorf("unknown module %q", args[1])
	}

	var items []*diag.Diagnostic
	if at >= 0 {
		offset, err := safecast.Conv[uint32](at)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		items = sess.DiagnosticsOverlapping(module.File, offset)
		// keep the tree selection in step with the cursor
		if env.cfg.View.AutoScrollFromSource && len(items) > 0 {
			if _, err := sess.SelectAt(ctx, module.File, offset); err != nil {
				return err
			}
		}
	} else {
		items = sess.GetDiagnostics(module.File)
		diag.SortByRank(items)
	}

	bag := diag.NewBag(maxDiags)
	collect := diag.BagReporter{Bag: bag}
	for _, d := range items {
		collect.Report(d)
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		return diagfmt.JSON(out, bag, p.Files, diagfmt.JSONOpts{
			IncludePositions: true,
			IncludeNotes:     notes,
			Max:              maxDiags,
		})
	case "pretty":
		diagfmt.Pretty(out, bag, p.Files, diagfmt.PrettyOpts{
			Color:     env.color,
			Context:   contextLines,
			ShowNotes: notes,
		})
	default:
		fmt.Fprint(out, diag.FormatShortDiagnostics(bag.Items(), p.Files, notes))
	}
	if !env.quiet && bag.Len() == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no diagnostics")
	}
	return nil
}
