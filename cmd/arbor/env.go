package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"arbor/internal/config"
	"arbor/internal/logging"
	"arbor/internal/metrics"
	"arbor/internal/trace"
)

// appEnv is what every subcommand runs with: the resolved configuration,
// the logger, the tracer and the output flags.
type appEnv struct {
	cfg    config.Config
	log    *logging.Logger
	tracer trace.Tracer
	color  bool
	quiet  bool

	cleanups []func()
}

var env *appEnv

func setupEnv(cmd *cobra.Command, _ []string) error {
	flags := cmd.Root().PersistentFlags()
	e := &appEnv{tracer: trace.Nop}
	env = e

	cfgPath, err := flags.GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	if cfgPath != "" {
		e.cfg, err = config.Load(cfgPath)
	} else {
		e.cfg, err = config.Discover(".")
	}
	if err != nil {
		return err
	}

	if e.quiet, err = flags.GetBool("quiet"); err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}
	colorMode, err := flags.GetString("color")
	if err != nil {
		return fmt.Errorf("failed to get color flag: %w", err)
	}
	if e.color, err = resolveColor(colorMode); err != nil {
		return err
	}
	color.NoColor = !e.color

	logCfg := e.cfg.Logging()
	if lvl, _ := flags.GetString("log-level"); lvl != "" {
		logCfg.Level = lvl
	}
	if file, _ := flags.GetString("log-file"); file != "" {
		logCfg.File = file
	}
	if e.log, err = logging.New(logCfg); err != nil {
		return err
	}
	e.cleanups = append(e.cleanups, func() { _ = e.log.Close() })

	cleanupTrace, err := setupTracing(cmd, e.cfg.Trace)
	if err != nil {
		return err
	}
	e.tracer = trace.FromContext(cmd.Context())
	e.cleanups = append(e.cleanups, cleanupTrace)

	cleanupProf, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	e.cleanups = append(e.cleanups, cleanupProf)

	addr, _ := flags.GetString("metrics-addr")
	if addr == "" {
		addr = e.cfg.Metrics.Addr
	}
	if addr != "" {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := metrics.Serve(ctx, addr); err != nil {
				e.log.Error("metrics server stopped", "addr", addr, "err", err)
			}
		}()
		e.cleanups = append(e.cleanups, func() {
			cancel()
			<-done
		})
		e.log.Info("serving metrics", "addr", addr)
	}
	return nil
}

// closeEnv runs cleanups in reverse order of registration.
func closeEnv() {
	if env == nil {
		return
	}
	for i := len(env.cleanups) - 1; i >= 0; i-- {
		env.cleanups[i]()
	}
	env.cleanups = nil
}

func resolveColor(mode string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto":
		return isTerminal(os.Stdout) && !color.NoColor, nil
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid --color value %q (expected auto|on|off)", mode)
}
