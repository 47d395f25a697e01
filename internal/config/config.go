// Package config loads arbor.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"arbor/internal/diag"
	"arbor/internal/logging"
	"arbor/internal/trace"
)

// FileName is the name looked up from the working directory upwards.
const FileName = "arbor.toml"

type Config struct {
	View    ViewConfig    `toml:"view"`
	Log     LogConfig     `toml:"log"`
	Trace   TraceConfig   `toml:"trace"`
	Metrics MetricsConfig `toml:"metrics"`
	Watch   WatchConfig   `toml:"watch"`

	// Path of the file the config was read from, empty for defaults.
	Path string `toml:"-"`
}

type ViewConfig struct {
	MinSeverity          string `toml:"min_severity"`
	AutoScrollFromSource bool   `toml:"auto_scroll_from_source"`
	ViewportWidth        int    `toml:"viewport_width"`
	ViewportHeight       int    `toml:"viewport_height"`
	DedupDiagnostics     bool   `toml:"dedup_diagnostics"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

type TraceConfig struct {
	Level    string `toml:"level"`
	Mode     string `toml:"mode"`
	Output   string `toml:"output"`
	RingSize int    `toml:"ring_size"`
}

type MetricsConfig struct {
	Addr string `toml:"addr"`
}

type WatchConfig struct {
	Debounce string   `toml:"debounce"`
	Ignore   []string `toml:"ignore"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		View: ViewConfig{
			MinSeverity:          "info",
			AutoScrollFromSource: true,
			ViewportWidth:        100,
			ViewportHeight:       30,
			DedupDiagnostics:     true,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		Trace: TraceConfig{
			Level:    "off",
			Mode:     "stream",
			Output:   "",
			RingSize: 4096,
		},
		Watch: WatchConfig{
			Debounce: "100ms",
		},
	}
}

// Find walks up from startDir looking for arbor.toml.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Discover finds and loads the config above startDir, or returns defaults.
func Discover(startDir string) (Config, error) {
	path, ok, err := Find(startDir)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Default(), nil
	}
	return Load(path)
}

// Load decodes path over the defaults and validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("view", "min_severity") {
		if _, err := diag.ParseSeverity(cfg.View.MinSeverity); err != nil {
			return Config{}, fmt.Errorf("%s: [view].min_severity: %w", path, err)
		}
	}
	if meta.IsDefined("log", "level") {
		if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
			return Config{}, fmt.Errorf("%s: [log].level: %w", path, err)
		}
	}
	if meta.IsDefined("log", "format") && cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return Config{}, fmt.Errorf("%s: [log].format must be text or json", path)
	}
	if meta.IsDefined("trace", "level") {
		if _, err := trace.ParseLevel(cfg.Trace.Level); err != nil {
			return Config{}, fmt.Errorf("%s: [trace].level: %w", path, err)
		}
	}
	if meta.IsDefined("trace", "mode") {
		if _, err := trace.ParseMode(cfg.Trace.Mode); err != nil {
			return Config{}, fmt.Errorf("%s: [trace].mode: %w", path, err)
		}
	}
	if meta.IsDefined("watch", "debounce") {
		if _, err := time.ParseDuration(cfg.Watch.Debounce); err != nil {
			return Config{}, fmt.Errorf("%s: [watch].debounce: %w", path, err)
		}
	}
	if cfg.View.ViewportWidth < 0 || cfg.View.ViewportHeight < 0 {
		return Config{}, fmt.Errorf("%s: [view] viewport size must not be negative", path)
	}
	cfg.Path = path
	return cfg, nil
}

// MinSeverity returns the parsed [view].min_severity.
func (c Config) MinSeverity() diag.Severity {
	sev, err := diag.ParseSeverity(c.View.MinSeverity)
	if err != nil {
		return diag.SevInfo
	}
	return sev
}

// Debounce returns the parsed [watch].debounce.
func (c Config) Debounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		return 100 * time.Millisecond
	}
	return d
}

// Logging converts [log] into logging options.
func (c Config) Logging() logging.Config {
	return logging.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}
