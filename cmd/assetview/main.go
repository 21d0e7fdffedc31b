// assetview is a CLI host for the asset import pipeline: it decodes,
// validates and normalizes 3D files the way the interactive viewer does.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/Faultbox/assetview/internal/config"
	"github.com/Faultbox/assetview/internal/logger"
	"github.com/Faultbox/assetview/internal/viewer"
	"github.com/Faultbox/assetview/internal/viewer/camera"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	command, rest := args[0], args[1:]
	switch command {
	case "inspect", "i":
		return cmdInspect(rest, stdout, stderr)
	case "watch", "w":
		return cmdWatch(rest, stdout, stderr)
	case "formats":
		return cmdFormats(rest, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `assetview - 3D asset import and normalization

Usage:
  assetview <command> [options]

Commands:
  inspect [options] <file|dir>...   Decode, validate and normalize files
  watch [options] <file>            Reload a file every time it is saved
  formats [options]                 List accepted formats

Options shared by all commands:
  -config <path>      Config file (default ./assetview.yaml, then user config dir)
  -debug              Debug logging
  -log-file <path>    Also log to a rotated file
  -target-size <n>    Canonical viewing volume diameter
  -max-size-mb <n>    Reject larger inputs
  -disable <list>     Comma-separated formats to reject

Examples:
  assetview inspect chair.glb table.fbx
  assetview inspect -concurrency 8 ./models
  assetview watch -debounce 500ms lamp.obj`)
}

// setup loads config from the shared flags and initializes logging.
func setup(f *config.Flags, stderr io.Writer) (*config.Config, bool) {
	cfg, err := config.Load(f)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, false
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, false
	}
	logger.Debug("config loaded",
		zap.Float64("target_size", cfg.Scene.TargetSize),
		zap.Int("max_file_size_mb", cfg.Loader.MaxFileSizeMB),
		zap.Strings("disabled_formats", cfg.Loader.DisabledFormats),
	)
	return cfg, true
}

// viewerConfig maps file config onto pipeline settings. cfg must be valid.
func viewerConfig(cfg *config.Config) viewer.Config {
	disabled, _ := cfg.Loader.Disabled()
	cam := camera.DefaultConfig()
	cam.MinRadius = cfg.Camera.MinRadius
	cam.MaxRadius = cfg.Camera.MaxRadius
	cam.InitialRadius = cfg.Camera.InitialRadius
	cam.ZoomStep = cfg.Camera.ZoomStep
	cam.IdleDelay = cfg.Camera.IdleDelay

	return viewer.Config{
		TargetSize:  cfg.Scene.TargetSize,
		MaxFileSize: cfg.Loader.MaxFileSize(),
		Disabled:    disabled,
		Camera:      cam,
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}
