package viewer

import (
	"context"
	"errors"
	gomath "math"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Faultbox/assetview/internal/testassets"
	"github.com/Faultbox/assetview/internal/viewer/loader"
	"github.com/Faultbox/assetview/internal/viewer/resource"
	"github.com/Faultbox/assetview/pkg/formats"
	"github.com/Faultbox/assetview/pkg/math"
	"github.com/Faultbox/assetview/pkg/scenegraph"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder collects events from any goroutine.
type recorder struct {
	mu       sync.Mutex
	progress map[uint64][]int
	ready    []uint64
	failed   []*Error
}

func newRecorder() *recorder {
	return &recorder{progress: make(map[uint64][]int)}
}

func (r *recorder) events() Events {
	return Events{
		OnProgress: func(g uint64, p int) {
			r.mu.Lock()
			r.progress[g] = append(r.progress[g], p)
			r.mu.Unlock()
		},
		OnReady: func(g uint64, _ Stats) {
			r.mu.Lock()
			r.ready = append(r.ready, g)
			r.mu.Unlock()
		},
		OnError: func(_ uint64, err *Error) {
			r.mu.Lock()
			r.failed = append(r.failed, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) counts() (ready, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ready), len(r.failed)
}

func await(t *testing.T, v *Viewer, g uint64) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := v.Await(ctx, g)
	if err != nil {
		t.Fatalf("Await(%d) error = %v", g, err)
	}
	return st
}

// gatedDecoder blocks until its gate is closed and ignores cancellation,
// like a decoder without cancellation support.
func gatedDecoder(gate <-chan struct{}, g *scenegraph.Graph) formats.Decoder {
	return func(ctx context.Context, data []byte, progress formats.ProgressFunc) (*scenegraph.Graph, error) {
		<-gate
		progress(50)
		return g, nil
	}
}

func cubeGraph(center [3]float32, size float32) *scenegraph.Graph {
	box := testassets.Cube(center, size)
	g := scenegraph.New("cube")
	n := scenegraph.NewNode("cube")
	n.Mesh = &scenegraph.Mesh{Positions: box.Corners()}
	g.Root.Add(n)
	return g
}

func decodersWith(f formats.Format, d formats.Decoder) map[formats.Format]formats.Decoder {
	m := formats.DefaultDecoders()
	m[f] = d
	return m
}

func TestEveryFormatReachesReady(t *testing.T) {
	samples := testassets.Samples(testassets.Cube([3]float32{5, 5, 5}, 2))

	for _, f := range formats.All() {
		t.Run(f.String(), func(t *testing.T) {
			rec := newRecorder()
			v := New(DefaultConfig(), WithEvents(rec.events()))
			defer v.Unmount()

			g, err := v.SetInput("cube."+f.String(), samples[f.String()])
			if err != nil {
				t.Fatalf("SetInput() error = %v", err)
			}
			st := await(t, v, g)
			if st.Status != StatusReady {
				t.Fatalf("status = %s (%v), want ready", st.Status, st.Err)
			}
			if st.Stats.MeshCount < 1 || st.Stats.VertexCount < 8 {
				t.Errorf("stats = %+v", st.Stats)
			}

			b := st.Scene.Bounds()
			if d := b.MaxDimension(); gomath.Abs(d-v.cfg.TargetSize) > 1e-5 {
				t.Errorf("normalized max dimension = %v, want %v", d, v.cfg.TargetSize)
			}
			if c := b.Center(); !c.ApproxEqual(math.Vec3{}, 1e-5) {
				t.Errorf("normalized center = %v", c)
			}
			if ready, _ := rec.counts(); ready != 1 {
				t.Errorf("expected 1 ready event, got %d", ready)
			}
			rec.mu.Lock()
			for _, p := range rec.progress[g] {
				if p < 0 || p > 100 {
					t.Errorf("progress %d out of range", p)
				}
			}
			rec.mu.Unlock()
		})
	}
}

func TestWorkedExampleScale(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetSize = 4
	v := New(cfg)
	defer v.Unmount()

	g, _ := v.SetInput("cube.obj", testassets.OBJ(testassets.Cube([3]float32{5, 5, 5}, 2)))
	st := await(t, v, g)
	if st.Status != StatusReady {
		t.Fatalf("status = %s", st.Status)
	}
	if st.Stats.Scale != 2 || st.Scene.Translation != (math.Vec3{X: -5, Y: -5, Z: -5}) {
		t.Errorf("scale %v translation %v, want 2 and (-5,-5,-5)", st.Stats.Scale, st.Scene.Translation)
	}
}

func TestStaleResultDiscarded(t *testing.T) {
	gateA := make(chan struct{})
	decoders := decodersWith(formats.OBJ, gatedDecoder(gateA, cubeGraph([3]float32{0, 0, 0}, 100)))
	reg := resource.NewRegistry()
	rec := newRecorder()
	v := New(DefaultConfig(), WithDecoders(decoders), WithRegistry(reg), WithEvents(rec.events()))
	defer v.Unmount()

	genA, err := v.SetInput("a.obj", []byte("slow"))
	if err != nil {
		t.Fatal(err)
	}
	genB, err := v.SetInput("b.stl", testassets.STL(testassets.Cube([3]float32{1, 1, 1}, 2)))
	if err != nil {
		t.Fatal(err)
	}
	if genB != genA+1 {
		t.Fatalf("generations %d then %d", genA, genB)
	}
	if _, err := v.Await(context.Background(), genA); !errors.Is(err, ErrSuperseded) {
		t.Errorf("Await(A) error = %v, want ErrSuperseded", err)
	}

	stB := await(t, v, genB)
	if stB.Status != StatusReady {
		t.Fatalf("B status = %s", stB.Status)
	}

	close(gateA)
	// Give A's decode time to land.
	time.Sleep(20 * time.Millisecond)

	st := v.State()
	if st.Generation != genB || st.Scene != stB.Scene || st.Stats != stB.Stats {
		t.Errorf("A's late result overwrote B: %+v", st)
	}
	if reg.Outstanding() != 1 {
		t.Errorf("Outstanding() = %d, want 1", reg.Outstanding())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.ready) != 1 || rec.ready[0] != genB {
		t.Errorf("ready events = %v, want only %d", rec.ready, genB)
	}
	if len(rec.progress[genA]) != 0 {
		t.Errorf("stale progress emitted: %v", rec.progress[genA])
	}
}

func TestStaleCompletionIsNoop(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rec := newRecorder()
	v := New(DefaultConfig(), WithLogger(zap.New(core)), WithEvents(rec.events()))
	defer v.Unmount()

	g1, _ := v.SetInput("one.obj", testassets.OBJ(testassets.Cube([3]float32{}, 1)))
	await(t, v, g1)
	g2, _ := v.SetInput("two.obj", testassets.OBJ(testassets.Cube([3]float32{}, 3)))
	want := await(t, v, g2)

	// A result for g1 that was never canceled still cannot commit.
	v.complete(v.log, loader.Result{Generation: g1, Format: formats.OBJ, Graph: cubeGraph([3]float32{9, 9, 9}, 1)})

	if got := v.State(); got.Generation != want.Generation || got.Scene != want.Scene {
		t.Errorf("stale completion mutated state: %+v", got)
	}
	if ready, _ := rec.counts(); ready != 2 {
		t.Errorf("ready events = %d, want 2", ready)
	}
	if logs.FilterMessage("stale result dropped").Len() == 0 {
		t.Error("stale drop not logged")
	}
}

func TestUnmountCleansUp(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	gate := make(chan struct{})
	reg := resource.NewRegistry()
	rec := newRecorder()
	v := New(DefaultConfig(),
		WithDecoders(decodersWith(formats.FBX, gatedDecoder(gate, cubeGraph([3]float32{}, 1)))),
		WithRegistry(reg),
		WithEvents(rec.events()),
		WithLogger(zap.New(core)),
	)

	g, err := v.SetInput("pending.fbx", []byte("in flight"))
	if err != nil {
		t.Fatal(err)
	}
	if reg.Outstanding() != 1 {
		t.Fatalf("Outstanding() = %d, want 1", reg.Outstanding())
	}

	v.Unmount()
	v.Unmount()

	if reg.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d after unmount, want 0", reg.Outstanding())
	}
	if n := logs.FilterMessage("handle revoked").Len(); n != 1 {
		t.Errorf("handle revoked %d times, want 1", n)
	}
	if logs.FilterMessage("revoke failed").Len() != 0 {
		t.Error("revoke attempted on an already revoked handle")
	}

	close(gate)
	time.Sleep(20 * time.Millisecond)

	st := v.State()
	if st.Status != StatusIdle || st.Generation != g || st.Scene != nil {
		t.Errorf("state after unmount = %+v", st)
	}
	if ready, failed := rec.counts(); ready != 0 || failed != 0 {
		t.Errorf("events after unmount: %d ready, %d failed", ready, failed)
	}
	if _, err := v.SetInput("again.obj", nil); !errors.Is(err, ErrUnmounted) {
		t.Errorf("SetInput after unmount error = %v, want ErrUnmounted", err)
	}
}

func TestUnmountReleasesScene(t *testing.T) {
	v := New(DefaultConfig())
	g, _ := v.SetInput("cube.stl", testassets.STL(testassets.Cube([3]float32{}, 2)))
	st := await(t, v, g)

	v.Unmount()

	if !st.Scene.Released() {
		t.Error("scene not released on unmount")
	}
}

func TestSupersedeReleasesPreviousScene(t *testing.T) {
	v := New(DefaultConfig())
	defer v.Unmount()

	g1, _ := v.SetInput("a.obj", testassets.OBJ(testassets.Cube([3]float32{}, 2)))
	first := await(t, v, g1)
	g2, _ := v.SetInput("b.obj", testassets.OBJ(testassets.Cube([3]float32{}, 2)))
	await(t, v, g2)

	if !first.Scene.Released() {
		t.Error("previous scene still held after new input")
	}
}

// truncatedSTL declares five triangles but carries bytes for none.
func truncatedSTL() []byte {
	data := make([]byte, 90)
	data[80] = 5
	return data
}

func TestLoadFailures(t *testing.T) {
	empty := func(ctx context.Context, data []byte, progress formats.ProgressFunc) (*scenegraph.Graph, error) {
		g := scenegraph.New("empty")
		g.Root.Add(scenegraph.NewNode("group"))
		return g, nil
	}
	hollow := func(ctx context.Context, data []byte, progress formats.ProgressFunc) (*scenegraph.Graph, error) {
		g := scenegraph.New("hollow")
		n := scenegraph.NewNode("mesh")
		n.Mesh = &scenegraph.Mesh{}
		g.Root.Add(n)
		return g, nil
	}
	point := func(ctx context.Context, data []byte, progress formats.ProgressFunc) (*scenegraph.Graph, error) {
		g := scenegraph.New("point")
		n := scenegraph.NewNode("mesh")
		n.Mesh = &scenegraph.Mesh{Positions: [][3]float32{{1, 1, 1}}}
		g.Root.Add(n)
		return g, nil
	}

	tests := []struct {
		name     string
		file     string
		data     []byte
		decoders map[formats.Format]formats.Decoder
		cfg      func(*Config)
		sync     bool
		want     ErrorKind
	}{
		{name: "unknown extension", file: "model.3ds", sync: true, want: KindUnsupportedFormat},
		{name: "no extension", file: "model", sync: true, want: KindUnsupportedFormat},
		{name: "disabled format", file: "model.dae", data: []byte("<COLLADA/>"), sync: true,
			cfg: func(c *Config) { c.Disabled = []formats.Format{formats.DAE} }, want: KindUnsupportedFormat},
		{name: "too large", file: "big.stl", data: make([]byte, 64), sync: true,
			cfg: func(c *Config) { c.MaxFileSize = 32 }, want: KindDecodeFailure},
		{name: "truncated stl", file: "broken.stl", data: truncatedSTL(), want: KindDecodeFailure},
		{name: "garbage glb", file: "broken.glb", data: []byte("glTF????"), want: KindDecodeFailure},
		{name: "empty scene", file: "empty.obj", decoders: decodersWith(formats.OBJ, empty), want: KindEmptyGeometry},
		{name: "no vertices", file: "hollow.obj", decoders: decodersWith(formats.OBJ, hollow), want: KindInvalidBounds},
		{name: "single point", file: "point.obj", decoders: decodersWith(formats.OBJ, point), want: KindDegenerateSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			opts := []Option{}
			if tt.decoders != nil {
				opts = append(opts, WithDecoders(tt.decoders))
			}
			rec := newRecorder()
			opts = append(opts, WithEvents(rec.events()))
			v := New(cfg, opts...)
			defer v.Unmount()

			g, err := v.SetInput(tt.file, tt.data)
			if tt.sync {
				if kind, ok := KindOf(err); !ok || kind != tt.want {
					t.Fatalf("SetInput() error = %v, want kind %s", err, tt.want)
				}
			} else if err != nil {
				t.Fatalf("SetInput() error = %v", err)
			}

			st := await(t, v, g)
			if st.Status != StatusError || st.Err == nil {
				t.Fatalf("status = %s, want error", st.Status)
			}
			if st.Err.Kind != tt.want {
				t.Errorf("kind = %s (%s), want %s", st.Err.Kind, st.Err.Message, tt.want)
			}
			if st.Scene != nil {
				t.Error("failed load committed a scene")
			}
			if _, failed := rec.counts(); failed != 1 {
				t.Errorf("expected 1 error event, got %d", failed)
			}
			if w, ok := v.Placeholder(); !ok || w.Kind.String() != "failed" {
				t.Errorf("Placeholder() = %v, %v", w.Kind, ok)
			}
		})
	}
}

func TestOneHandleOutstanding(t *testing.T) {
	reg := resource.NewRegistry()
	v := New(DefaultConfig(), WithRegistry(reg))
	defer v.Unmount()

	data := testassets.OBJ(testassets.Cube([3]float32{}, 1))
	var last uint64
	for i := 0; i < 10; i++ {
		g, err := v.SetInput("cube.obj", data)
		if err != nil {
			t.Fatal(err)
		}
		if reg.Outstanding() != 1 {
			t.Fatalf("after input %d: Outstanding() = %d, want 1", i, reg.Outstanding())
		}
		last = g
	}
	if st := await(t, v, last); st.Status != StatusReady || st.Generation != 10 {
		t.Errorf("final state = %s gen %d", st.Status, st.Generation)
	}

	// A rejected input leaves no handle behind.
	if _, err := v.SetInput("cube.ply", data); err == nil {
		t.Fatal("expected rejection")
	}
	if reg.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d after rejected input, want 0", reg.Outstanding())
	}
}

func TestPlaceholderWhileLoading(t *testing.T) {
	gate := make(chan struct{})
	v := New(DefaultConfig(), WithDecoders(decodersWith(formats.OBJ, gatedDecoder(gate, cubeGraph([3]float32{}, 1)))))
	defer v.Unmount()

	if _, ok := v.Placeholder(); ok {
		t.Error("idle viewer should show no placeholder")
	}
	g, _ := v.SetInput("slow.obj", nil)
	if w, ok := v.Placeholder(); !ok || w.Kind.String() != "loading" {
		t.Errorf("Placeholder() while loading = %v, %v", w.Kind, ok)
	}
	close(gate)
	await(t, v, g)
	if _, ok := v.Placeholder(); ok {
		t.Error("ready viewer should show no placeholder")
	}
	if st, ok := v.Stats(); !ok || st.MeshCount != 1 {
		t.Errorf("Stats() = %+v, %v", st, ok)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	steps := func(ctx context.Context, data []byte, progress formats.ProgressFunc) (*scenegraph.Graph, error) {
		for _, p := range []int{10, 5, 30, 30, 200} {
			progress(p)
		}
		return cubeGraph([3]float32{}, 1), nil
	}
	rec := newRecorder()
	v := New(DefaultConfig(), WithDecoders(decodersWith(formats.STL, steps)), WithEvents(rec.events()))
	defer v.Unmount()

	g, _ := v.SetInput("steps.stl", nil)
	await(t, v, g)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	got := rec.progress[g]
	want := []int{10, 30, 100}
	if len(got) != len(want) {
		t.Fatalf("progress = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("progress = %v, want %v", got, want)
			break
		}
	}
}

func TestUnmountWaitsForProgressCallback(t *testing.T) {
	decode := func(ctx context.Context, data []byte, progress formats.ProgressFunc) (*scenegraph.Graph, error) {
		progress(40)
		<-ctx.Done()
		progress(80)
		return nil, ctx.Err()
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	var (
		mu       sync.Mutex
		once     sync.Once
		returned bool
		late     int
	)
	events := Events{
		OnProgress: func(uint64, int) {
			mu.Lock()
			if returned {
				late++
			}
			mu.Unlock()
			once.Do(func() { close(entered) })
			<-release
		},
	}
	v := New(DefaultConfig(), WithDecoders(decodersWith(formats.OBJ, decode)), WithEvents(events))

	if _, err := v.SetInput("slow.obj", nil); err != nil {
		t.Fatal(err)
	}
	<-entered

	unmounted := make(chan struct{})
	go func() {
		v.Unmount()
		mu.Lock()
		returned = true
		mu.Unlock()
		close(unmounted)
	}()

	select {
	case <-unmounted:
		t.Fatal("Unmount returned while OnProgress was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-unmounted
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if late != 0 {
		t.Errorf("%d progress events after Unmount returned", late)
	}
}
