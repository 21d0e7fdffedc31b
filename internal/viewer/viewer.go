// Package viewer ties the import pipeline into a per-instance state machine.
//
// A Viewer moves Idle -> Loading(g) -> Ready(g) | Error(g) and back to
// Loading(g+1) whenever its input changes. Each input change bumps the
// generation; a completion carrying any other generation is dropped without
// touching state or resources. The viewer owns exactly one resource handle at
// a time and revokes it once, after canceling the decode that reads it.
package viewer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/assetview/internal/logger"
	"github.com/Faultbox/assetview/internal/viewer/camera"
	"github.com/Faultbox/assetview/internal/viewer/geometry"
	"github.com/Faultbox/assetview/internal/viewer/loader"
	"github.com/Faultbox/assetview/internal/viewer/material"
	"github.com/Faultbox/assetview/internal/viewer/placeholder"
	"github.com/Faultbox/assetview/internal/viewer/resource"
	"github.com/Faultbox/assetview/internal/viewer/scene"
	"github.com/Faultbox/assetview/pkg/formats"
)

// Config holds pipeline settings.
type Config struct {
	TargetSize  float64 // Canonical viewing volume diameter
	MaxFileSize int64   // Bytes; zero disables the limit
	Disabled    []formats.Format
	Camera      camera.Config
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		TargetSize:  scene.DefaultTargetSize,
		MaxFileSize: 256 << 20,
		Camera:      camera.DefaultConfig(),
	}
}

// Viewer is one mounted viewer instance.
type Viewer struct {
	mu sync.Mutex

	cfg        Config
	log        *zap.Logger
	registry   *resource.Registry
	dispatcher *loader.Dispatcher
	camera     *camera.Controller
	events     Events

	state     State
	handle    resource.Handle
	cancel    context.CancelFunc
	settled   chan struct{}
	unmounted bool

	done chan struct{}
	wg   sync.WaitGroup

	// progressMu spans the currency check and the OnProgress call, which
	// run on decode goroutines that wg does not track.
	progressMu sync.Mutex
}

type options struct {
	decoders   map[formats.Format]formats.Decoder
	log        *zap.Logger
	registry   *resource.Registry
	events     Events
	cameraOpts []camera.Option
}

// Option configures a Viewer.
type Option func(*options)

// WithDecoders replaces the default dispatch table.
func WithDecoders(d map[formats.Format]formats.Decoder) Option {
	return func(o *options) { o.decoders = d }
}

// WithLogger sets the viewer logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRegistry shares a resource registry, mainly so tests can inspect it.
func WithRegistry(r *resource.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithEvents registers event callbacks.
func WithEvents(e Events) Option {
	return func(o *options) { o.events = e }
}

// WithCameraOptions passes options through to the camera controller.
func WithCameraOptions(opts ...camera.Option) Option {
	return func(o *options) { o.cameraOpts = append(o.cameraOpts, opts...) }
}

// New mounts a viewer in the Idle state.
func New(cfg Config, opts ...Option) *Viewer {
	o := options{decoders: formats.DefaultDecoders()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.L()
	}
	if o.registry == nil {
		o.registry = resource.NewRegistry()
	}
	if cfg.TargetSize <= 0 {
		cfg.TargetSize = scene.DefaultTargetSize
	}

	log := o.log.Named("viewer")
	settled := make(chan struct{})
	close(settled)

	return &Viewer{
		cfg:      cfg,
		log:      log,
		registry: o.registry,
		dispatcher: loader.New(o.decoders, o.registry,
			loader.WithLogger(log.Named("loader")),
			loader.WithDisabled(cfg.Disabled...),
		),
		camera:  camera.New(cfg.Camera, o.cameraOpts...),
		events:  o.events,
		settled: settled,
		done:    make(chan struct{}),
	}
}

// Camera returns the viewer's camera controller.
func (v *Viewer) Camera() *camera.Controller {
	return v.camera
}

// Formats returns the formats this viewer accepts.
func (v *Viewer) Formats() []formats.Format {
	return v.dispatcher.Formats()
}

// State returns the current state.
func (v *Viewer) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Generation returns the current input generation.
func (v *Viewer) Generation() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.Generation
}

// Stats returns the committed scene statistics when Ready.
func (v *Viewer) Stats() (Stats, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.Stats, v.state.Status == StatusReady
}

// Placeholder returns the wireframe to draw instead of a scene while Loading
// or after an Error.
func (v *Viewer) Placeholder() (placeholder.Wireframe, bool) {
	v.mu.Lock()
	status := v.state.Status
	v.mu.Unlock()

	switch status {
	case StatusLoading:
		return placeholder.New(placeholder.Loading, v.cfg.TargetSize/2), true
	case StatusError:
		return placeholder.New(placeholder.Failed, v.cfg.TargetSize/2), true
	default:
		return placeholder.Wireframe{}, false
	}
}

// SetInput replaces the viewer input with data, inferring the format from
// name's extension. It returns the new generation. Unsupported formats and
// oversized input settle the generation in Error synchronously and return
// the same error; otherwise decoding continues in the background.
func (v *Viewer) SetInput(name string, data []byte) (uint64, error) {
	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return 0, ErrUnmounted
	}

	g := v.state.Generation + 1
	v.supersedeLocked()
	v.state = State{Status: StatusLoading, Generation: g}
	v.settled = make(chan struct{})
	log := v.log.With(zap.Uint64("generation", g), zap.String("name", name))

	format, err := formats.FromFilename(name)
	if err != nil {
		return g, v.failLocked(log, g, classify(err))
	}
	log = log.With(zap.Stringer("format", format))
	if v.cfg.MaxFileSize > 0 && int64(len(data)) > v.cfg.MaxFileSize {
		return g, v.failLocked(log, g, &Error{
			Kind:    KindDecodeFailure,
			Message: fmt.Sprintf("%s: %d bytes, limit %d", ErrAssetTooLarge, len(data), v.cfg.MaxFileSize),
			Err:     ErrAssetTooLarge,
		})
	}

	v.handle = v.registry.Create(data)
	ctx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel

	results, err := v.dispatcher.Load(ctx, loader.Asset{Handle: v.handle, Format: format}, g, func(p int) {
		v.progress(g, p)
	})
	if err != nil {
		return g, v.failLocked(log, g, classify(err))
	}
	log.Info("load started", zap.Stringer("handle", v.handle), zap.Int("bytes", len(data)))

	v.wg.Add(1)
	go v.await(log, results)
	v.mu.Unlock()
	return g, nil
}

// supersedeLocked cancels the in-flight decode, then revokes its handle and
// drops the committed scene. Awaiters of the old generation are woken.
func (v *Viewer) supersedeLocked() {
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.revokeLocked()
	if v.state.Scene != nil {
		v.state.Scene.Release()
	}
	if !v.state.Settled() {
		closeOnce(v.settled)
	}
}

func (v *Viewer) revokeLocked() {
	if v.handle == "" {
		return
	}
	if err := v.registry.Revoke(v.handle); err != nil {
		v.log.Warn("revoke failed", zap.Stringer("handle", v.handle), zap.Error(err))
	} else {
		v.log.Debug("handle revoked", zap.Stringer("handle", v.handle))
	}
	v.handle = ""
}

// failLocked commits Error for generation g, unlocks and emits the event.
func (v *Viewer) failLocked(log *zap.Logger, g uint64, e *Error) error {
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.state = State{Status: StatusError, Generation: g, Err: e}
	closeOnce(v.settled)
	v.mu.Unlock()

	log.Warn("load failed", zap.Stringer("kind", e.Kind), zap.String("message", e.Message))
	v.events.fail(g, e)
	return e
}

func (v *Viewer) progress(g uint64, p int) {
	v.progressMu.Lock()
	defer v.progressMu.Unlock()
	v.mu.Lock()
	current := !v.unmounted && v.state.Generation == g && v.state.Status == StatusLoading
	if current {
		v.state.Progress = p
	}
	v.mu.Unlock()
	if current {
		v.events.progress(g, p)
	}
}

func (v *Viewer) await(log *zap.Logger, results <-chan loader.Result) {
	defer v.wg.Done()
	select {
	case res := <-results:
		v.complete(log, res)
	case <-v.done:
	}
}

// isCurrent reports whether generation g may still mutate state.
func (v *Viewer) isCurrent(g uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.unmounted && v.state.Generation == g
}

// complete runs validation and normalization for a decode result and commits
// it if its generation is still current.
func (v *Viewer) complete(log *zap.Logger, res loader.Result) {
	g := res.Generation
	if res.Canceled || !v.isCurrent(g) {
		log.Debug("stale result dropped", zap.Bool("canceled", res.Canceled))
		return
	}

	ns, stats, err := v.build(res)

	v.mu.Lock()
	if v.unmounted || v.state.Generation != g {
		v.mu.Unlock()
		if ns != nil {
			ns.Release()
		}
		log.Debug("stale result dropped")
		return
	}
	if err != nil {
		v.failLocked(log, g, classify(err))
		return
	}

	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.state = State{Status: StatusReady, Generation: g, Scene: ns, Stats: stats, Progress: 100}
	closeOnce(v.settled)
	v.mu.Unlock()

	v.camera.Reset()
	log.Info("scene ready",
		zap.Int("meshes", stats.MeshCount),
		zap.Int("vertices", stats.VertexCount),
		zap.Float64("scale", stats.Scale),
	)
	v.events.ready(g, stats)
}

// build is the synchronous tail of the pipeline: validate, fix materials,
// normalize. It either returns a scene or an error, never both.
func (v *Viewer) build(res loader.Result) (*scene.NormalizedScene, Stats, error) {
	if res.Err != nil {
		return nil, Stats{}, res.Err
	}
	gs, err := geometry.Validate(res.Graph)
	if err != nil {
		return nil, Stats{}, err
	}
	report := material.Normalize(res.Graph)
	v.log.Debug("materials normalized",
		zap.Uint64("generation", res.Generation),
		zap.Int("defaulted", report.Defaulted),
		zap.Int("materials", report.Materials),
		zap.Int("textures", report.Textures),
	)

	ns := scene.Normalize(res.Graph, gs.Bounds, v.cfg.TargetSize)
	return ns, Stats{
		MeshCount:   gs.MeshCount,
		VertexCount: gs.VertexCount,
		Bounds:      gs.Bounds,
		Scale:       ns.Scale,
	}, nil
}

// Await blocks until generation g settles and returns the settled state. It
// returns ErrSuperseded if newer input replaced g first and ErrUnmounted
// after Unmount.
func (v *Viewer) Await(ctx context.Context, g uint64) (State, error) {
	v.mu.Lock()
	if v.state.Generation != g {
		v.mu.Unlock()
		return State{}, ErrSuperseded
	}
	settled := v.settled
	v.mu.Unlock()

	select {
	case <-settled:
	case <-ctx.Done():
		return State{}, ctx.Err()
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	switch {
	case v.unmounted:
		return State{}, ErrUnmounted
	case v.state.Generation != g:
		return State{}, ErrSuperseded
	}
	return v.state, nil
}

// Unmount tears the viewer down: it cancels the in-flight decode, revokes the
// current handle, releases the scene and stops the camera's idle timer. No
// state changes or events happen afterwards. Unmount is idempotent.
func (v *Viewer) Unmount() {
	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return
	}
	v.unmounted = true
	v.supersedeLocked()
	closeOnce(v.settled)
	g := v.state.Generation
	v.state = State{Status: StatusIdle, Generation: g}
	close(v.done)
	v.mu.Unlock()

	// Wait out a progress callback that passed its check before unmounted
	// was set.
	v.progressMu.Lock()
	v.progressMu.Unlock()
	v.wg.Wait()
	v.camera.Close()
	v.log.Info("viewer unmounted", zap.Uint64("generation", g))
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}
