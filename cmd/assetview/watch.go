package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Faultbox/assetview/internal/config"
	"github.com/Faultbox/assetview/internal/logger"
	"github.com/Faultbox/assetview/internal/viewer"
)

func cmdWatch(args []string, stdout, stderr io.Writer) int {
	fset := newFlagSet("watch", stderr)
	shared := config.RegisterFlags(fset)
	if err := fset.Parse(args); err != nil {
		return 2
	}
	if fset.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: assetview watch [options] <file>")
		return 2
	}

	cfg, ok := setup(shared, stderr)
	if !ok {
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := newWatcher(viewerConfig(cfg), fset.Arg(0), cfg.Watch.Debounce, stdout)
	if err := w.run(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// watcher re-supplies one file to a viewer every time it settles after a
// write. Saves that land while a decode is running supersede it.
type watcher struct {
	path     string
	debounce time.Duration
	viewer   *viewer.Viewer
	log      *zap.Logger

	outMu sync.Mutex
	out   io.Writer
}

func newWatcher(vcfg viewer.Config, path string, debounce time.Duration, out io.Writer) *watcher {
	w := &watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		log:      logger.L().Named("watch"),
		out:      out,
	}
	w.viewer = viewer.New(vcfg, viewer.WithEvents(viewer.Events{
		OnReady: func(g uint64, st viewer.Stats) {
			w.printf("[%d] ready   meshes=%d vertices=%s scale=%.4g\n",
				g, st.MeshCount, humanize.Comma(int64(st.VertexCount)), st.Scale)
		},
		OnError: func(g uint64, err *viewer.Error) {
			w.printf("[%d] error   %s: %s\n", g, err.Kind, err.Message)
		},
	}))
	return w
}

func (w *watcher) printf(format string, args ...any) {
	w.outMu.Lock()
	defer w.outMu.Unlock()
	fmt.Fprintf(w.out, format, args...)
}

// run loads the file once, then reloads it on change until ctx is done.
func (w *watcher) run(ctx context.Context) error {
	defer w.viewer.Unmount()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	// Watch the directory: editors often save by rename, which drops a
	// watch placed on the file itself.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}

	if err := w.reload(); err != nil {
		return err
	}
	w.log.Info("watching", zap.String("path", w.path), zap.Duration("debounce", w.debounce))

	tick := w.debounce / 4
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var pending time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.Now()
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < w.debounce {
				continue
			}
			pending = time.Time{}
			if err := w.reload(); err != nil {
				w.log.Warn("reload failed", zap.Error(err))
			}
		}
	}
}

// reload reads the file and hands it to the viewer. A missing file between
// rename steps is not an error; the next event retries.
func (w *watcher) reload() error {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, os.ErrNotExist) {
		w.log.Debug("file missing, waiting for next change", zap.String("path", w.path))
		return nil
	}
	if err != nil {
		return err
	}

	g, err := w.viewer.SetInput(filepath.Base(w.path), data)
	if err != nil {
		// Already reported through OnError.
		return nil
	}
	w.printf("[%d] loading %s (%s)\n", g, filepath.Base(w.path), humanize.Bytes(uint64(len(data))))
	return nil
}
