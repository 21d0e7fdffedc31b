package config

import (
	"flag"
	"strings"
	"time"
)

// Flags holds CLI overrides. Zero values leave the loaded config unchanged.
type Flags struct {
	ConfigPath  string
	Debug       bool
	LogFile     string
	TargetSize  float64
	MaxSizeMB   int
	Disable     string // Comma-separated format tags
	Concurrency int
	Debounce    time.Duration
}

// RegisterFlags binds the shared flags to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.ConfigPath, "config", "", "Path to config file")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	fs.StringVar(&f.LogFile, "log-file", "", "Write logs to this file (rotated)")
	fs.Float64Var(&f.TargetSize, "target-size", 0, "Canonical viewing volume diameter")
	fs.IntVar(&f.MaxSizeMB, "max-size-mb", 0, "Reject inputs larger than this many MiB")
	fs.StringVar(&f.Disable, "disable", "", "Comma-separated formats to reject, e.g. fbx,dae")
	fs.IntVar(&f.Concurrency, "concurrency", 0, "Files inspected in parallel")
	fs.DurationVar(&f.Debounce, "debounce", 0, "Quiet period before a changed file is reloaded")
	return f
}

// apply applies CLI flag overrides to the config.
func (f *Flags) apply(cfg *Config) {
	if f.Debug {
		cfg.Logging.Level = "debug"
	}
	if f.LogFile != "" {
		cfg.Logging.LogFile = f.LogFile
	}
	if f.TargetSize > 0 {
		cfg.Scene.TargetSize = f.TargetSize
	}
	if f.MaxSizeMB > 0 {
		cfg.Loader.MaxFileSizeMB = f.MaxSizeMB
	}
	if f.Disable != "" {
		for _, tag := range strings.Split(f.Disable, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				cfg.Loader.DisabledFormats = append(cfg.Loader.DisabledFormats, tag)
			}
		}
	}
	if f.Concurrency > 0 {
		cfg.Inspect.Concurrency = f.Concurrency
	}
	if f.Debounce > 0 {
		cfg.Watch.Debounce = f.Debounce
	}
}
