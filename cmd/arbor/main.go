package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"arbor/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "arbor",
	Short: "Live diagnostic tree for incrementally analyzed projects",
	Long: `arbor replays and simulates analysis sessions and renders their
diagnostics as a live tree of modules, definitions and messages`,
	SilenceUsage:      true,
	PersistentPreRunE: setupEnv,
}

// main registers subcommands and persistent flags, executes the root command
// and releases whatever the command set up. Errors exit with status 1.
func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(diagnosticsCmd)
	rootCmd.AddCommand(versionCmd)

	// Глобальные флаги
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to arbor.toml (default: discovered from the working directory)")
	flags.String("color", "auto", "colorize output (auto|on|off)")
	flags.Bool("quiet", false, "suppress non-essential output")
	flags.String("log-level", "", "log level (debug|info|warn|error), overrides [log].level")
	flags.String("log-file", "", "write logs to a rotated file instead of stderr")
	flags.String("trace", "", "trace output file (\"-\" for stderr)")
	flags.String("trace-level", "", "trace level (off|error|phase|detail|debug), overrides [trace].level")
	flags.String("trace-mode", "", "trace storage mode (stream|ring|both), overrides [trace].mode")
	flags.Duration("trace-heartbeat", 0, "emit a trace heartbeat at this interval (0 disables)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flags.String("cpu-profile", "", "write a CPU profile to this file")
	flags.String("mem-profile", "", "write a heap profile to this file on exit")
	flags.String("runtime-trace", "", "write a Go runtime trace to this file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	closeEnv()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// isTerminal проверяет, является ли файл терминалом
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
