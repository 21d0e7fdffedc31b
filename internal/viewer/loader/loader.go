// Package loader dispatches asset decoding to one decoder per format.
//
// The dispatch table is fixed at construction. Load rejects formats without a
// decoder before any goroutine starts, then decodes asynchronously and
// delivers exactly one Result per call.
package loader

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/Faultbox/assetview/internal/logger"
	"github.com/Faultbox/assetview/internal/viewer/resource"
	"github.com/Faultbox/assetview/pkg/formats"
	"github.com/Faultbox/assetview/pkg/scenegraph"
)

// Resolver turns a resource handle into bytes.
type Resolver interface {
	Resolve(h resource.Handle) ([]byte, error)
}

// Asset is a registered blob plus its format tag.
type Asset struct {
	Handle resource.Handle
	Format formats.Format
}

// Result is the outcome of one Load call. Exactly one of Graph, Err or
// Canceled is set.
type Result struct {
	Generation uint64
	Format     formats.Format
	Graph      *scenegraph.Graph
	Err        error
	Canceled   bool
}

// Dispatcher owns an immutable format to decoder table.
type Dispatcher struct {
	decoders map[formats.Format]formats.Decoder
	resolver Resolver
	log      *zap.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithDisabled removes formats from the dispatch table.
func WithDisabled(disabled ...formats.Format) Option {
	return func(d *Dispatcher) {
		for _, f := range disabled {
			delete(d.decoders, f)
		}
	}
}

// New builds a dispatcher over a copy of decoders. Entries for invalid
// formats and nil decoders are dropped.
func New(decoders map[formats.Format]formats.Decoder, resolver Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		decoders: make(map[formats.Format]formats.Decoder, len(decoders)),
		resolver: resolver,
		log:      logger.L(),
	}
	for f, dec := range decoders {
		if f.Valid() && dec != nil {
			d.decoders[f] = dec
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Supports reports whether f has a decoder.
func (d *Dispatcher) Supports(f formats.Format) bool {
	_, ok := d.decoders[f]
	return ok
}

// Formats returns the dispatchable formats in declaration order.
func (d *Dispatcher) Formats() []formats.Format {
	out := make([]formats.Format, 0, len(d.decoders))
	for f := range d.decoders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Load starts decoding asset in the background and returns a channel that
// receives one Result. Unsupported formats and unresolvable handles fail
// synchronously. Canceling ctx abandons the decode: the Result then has
// Canceled set and no error.
//
// generation is stamped on the Result; the dispatcher never compares it.
func (d *Dispatcher) Load(ctx context.Context, asset Asset, generation uint64, progress formats.ProgressFunc) (<-chan Result, error) {
	decode, ok := d.decoders[asset.Format]
	if !ok {
		return nil, &UnsupportedFormatError{Format: asset.Format}
	}
	data, err := d.resolver.Resolve(asset.Handle)
	if err != nil {
		return nil, err
	}

	log := d.log.With(
		zap.Uint64("generation", generation),
		zap.Stringer("format", asset.Format),
	)
	log.Debug("decode started", zap.Int("bytes", len(data)))

	out := make(chan Result, 1)
	go func() {
		res := Result{Generation: generation, Format: asset.Format}
		graph, err := d.run(ctx, decode, data, monotonic(ctx, progress))

		switch {
		case ctx.Err() != nil:
			res.Canceled = true
			log.Debug("decode canceled")
		case err != nil:
			res.Err = &DecodeError{Format: asset.Format, Detail: err.Error(), Err: err}
			log.Debug("decode failed", zap.Error(err))
		case graph == nil:
			res.Err = &DecodeError{Format: asset.Format, Detail: "decoder returned no scene"}
		default:
			res.Graph = graph
			log.Debug("decode finished")
		}
		out <- res
	}()
	return out, nil
}

// run calls decode, turning a panic inside a decoder into an error.
func (d *Dispatcher) run(ctx context.Context, decode formats.Decoder, data []byte, progress formats.ProgressFunc) (g *scenegraph.Graph, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decoder panic: %v", r)
		}
	}()
	return decode(ctx, data, progress)
}

// monotonic clamps progress to [0,100], drops values that go backwards and
// stops forwarding once ctx is done. The returned func is never nil.
func monotonic(ctx context.Context, fn formats.ProgressFunc) formats.ProgressFunc {
	last := -1
	return func(p int) {
		if fn == nil || ctx.Err() != nil {
			return
		}
		p = max(0, min(p, 100))
		if p <= last {
			return
		}
		last = p
		fn(p)
	}
}
