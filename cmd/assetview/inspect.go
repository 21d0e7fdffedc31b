package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/assetview/internal/config"
	"github.com/Faultbox/assetview/internal/logger"
	"github.com/Faultbox/assetview/internal/viewer"
	"github.com/Faultbox/assetview/pkg/formats"
)

// inspectResult is one line of inspect output.
type inspectResult struct {
	Path      string
	Size      int64
	State     viewer.State
	Err       error
	Elapsed   time.Duration
	FitRadius float64
}

func cmdInspect(args []string, stdout, stderr io.Writer) int {
	fset := newFlagSet("inspect", stderr)
	shared := config.RegisterFlags(fset)
	verbose := fset.Bool("v", false, "Print bounds, scale and camera fit radius")
	timeout := fset.Duration("timeout", 2*time.Minute, "Per-file decode timeout")
	if err := fset.Parse(args); err != nil {
		return 2
	}
	if fset.NArg() < 1 {
		fmt.Fprintln(stderr, "Usage: assetview inspect [options] <file|dir>...")
		return 2
	}

	cfg, ok := setup(shared, stderr)
	if !ok {
		return 1
	}
	defer logger.Sync()

	paths, err := collectInputs(fset.Args())
	if err != nil {
		logger.Error("collect inputs failed", zap.Error(err))
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(paths) == 0 {
		fmt.Fprintln(stderr, "No supported files found")
		return 1
	}

	results := inspectAll(context.Background(), viewerConfig(cfg), paths, cfg.Inspect.Concurrency, *timeout)

	failed := 0
	for _, r := range results {
		printResult(stdout, r, *verbose)
		if r.Err != nil || r.State.Status != viewer.StatusReady {
			failed++
		}
	}
	fmt.Fprintf(stdout, "\n%d files, %d ready, %d failed\n", len(results), len(results)-failed, failed)
	if failed > 0 {
		logger.Warn("inspect finished with failures", zap.Int("files", len(results)), zap.Int("failed", failed))
		return 1
	}
	logger.Info("inspect finished", zap.Int("files", len(results)))
	return 0
}

// collectInputs expands directories into the supported files they contain.
// Explicit file arguments are kept even when their extension is unsupported
// so they show up as failures.
func collectInputs(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != arg && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if _, err := formats.FromFilename(path); err == nil {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// inspectAll runs every file through its own viewer, at most concurrency at a
// time. Results keep the input order.
func inspectAll(ctx context.Context, vcfg viewer.Config, paths []string, concurrency int, timeout time.Duration) []inspectResult {
	results := make([]inspectResult, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			results[i] = inspectOne(ctx, vcfg, path, timeout)
			// Per-file failures are reported, not propagated.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func inspectOne(ctx context.Context, vcfg viewer.Config, path string, timeout time.Duration) inspectResult {
	res := inspectResult{Path: path}
	start := time.Now()

	data, err := os.ReadFile(path)
	if err != nil {
		res.Err = err
		return res
	}
	res.Size = int64(len(data))

	v := viewer.New(vcfg, viewer.WithLogger(logger.L().With(zap.String("file", path))))
	defer v.Unmount()

	gen, err := v.SetInput(filepath.Base(path), data)
	if err != nil {
		// Rejected before decoding; the viewer already settled in Error.
		res.State = v.State()
		res.Elapsed = time.Since(start)
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res.State, res.Err = v.Await(ctx, gen)
	if res.State.Status == viewer.StatusReady {
		res.FitRadius = v.Camera().FitRadius(vcfg.TargetSize)
	}
	res.Elapsed = time.Since(start)
	return res
}

func printResult(w io.Writer, r inspectResult, verbose bool) {
	size := humanize.Bytes(uint64(r.Size))
	switch {
	case r.Err != nil:
		fmt.Fprintf(w, "error  %-40s %9s  %v\n", r.Path, size, r.Err)
	case r.State.Status == viewer.StatusReady:
		st := r.State.Stats
		fmt.Fprintf(w, "ready  %-40s %9s  meshes=%d vertices=%s (%s)\n",
			r.Path, size, st.MeshCount, humanize.Comma(int64(st.VertexCount)), r.Elapsed.Round(time.Millisecond))
		if verbose {
			s := st.Bounds.Size()
			fmt.Fprintf(w, "       size=%.4gx%.4gx%.4g center=(%.4g, %.4g, %.4g) scale=%.4g fit-radius=%.3g\n",
				s.X, s.Y, s.Z, st.Bounds.Center().X, st.Bounds.Center().Y, st.Bounds.Center().Z, st.Scale, r.FitRadius)
		}
	case r.State.Err != nil:
		fmt.Fprintf(w, "error  %-40s %9s  %s: %s\n", r.Path, size, r.State.Err.Kind, r.State.Err.Message)
	default:
		fmt.Fprintf(w, "error  %-40s %9s  unexpected state %s\n", r.Path, size, r.State.Status)
	}
}
