package camera

import (
	gomath "math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Faultbox/assetview/pkg/math"
)

// fakeClock collects scheduled idle callbacks so tests fire them by hand.
type fakeClock struct {
	mu      sync.Mutex
	pending []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
}

func (fc *fakeClock) AfterFunc(d time.Duration, f func()) func() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	t := &fakeTimer{delay: d, f: f}
	fc.pending = append(fc.pending, t)
	return func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		was := !t.stopped
		t.stopped = true
		return was
	}
}

// fireAll runs every scheduled callback, including stopped ones, to model a
// timer that fired while it was being canceled.
func (fc *fakeClock) fireAll() {
	fc.mu.Lock()
	ts := fc.pending
	fc.pending = nil
	fc.mu.Unlock()
	for _, t := range ts {
		t.f()
	}
}

func (fc *fakeClock) live() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	n := 0
	for _, t := range fc.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}

func newTestController(t *testing.T) (*Controller, *fakeClock) {
	t.Helper()
	fc := &fakeClock{}
	c := New(DefaultConfig(), WithAfterFunc(fc.AfterFunc))
	t.Cleanup(c.Close)
	return c, fc
}

func TestSetPreset(t *testing.T) {
	c, _ := newTestController(t)
	r := c.State().ZoomRadius

	for _, d := range Directions() {
		c.SetPreset(d)
		got := c.Position()
		want := d.Unit().Scale(r)
		if got != want {
			t.Errorf("SetPreset(%s) position = %v, want %v", d, got, want)
		}
	}
}

func TestPresetSymmetry(t *testing.T) {
	c, _ := newTestController(t)
	c.Zoom(3)

	pairs := [][2]Direction{{Front, Back}, {Left, Right}, {Top, Bottom}}
	for _, p := range pairs {
		c.SetPreset(p[0])
		a := c.Position()
		c.SetPreset(p[1])
		b := c.Position()
		if a != b.Neg() {
			t.Errorf("%s %v and %s %v are not negations", p[0], a, p[1], b)
		}
	}
}

func TestZoomClamps(t *testing.T) {
	c, _ := newTestController(t)
	cfg := c.Config()

	for i := 0; i < 3; i++ {
		c.Zoom(gomath.Inf(1))
	}
	if got := c.State().ZoomRadius; got != cfg.MaxRadius {
		t.Errorf("zoom(+inf) radius = %v, want %v", got, cfg.MaxRadius)
	}
	for i := 0; i < 3; i++ {
		c.Zoom(gomath.Inf(-1))
	}
	if got := c.State().ZoomRadius; got != cfg.MinRadius {
		t.Errorf("zoom(-inf) radius = %v, want %v", got, cfg.MinRadius)
	}

	for i := 0; i < 100; i++ {
		c.ZoomOut()
	}
	if got := c.State().ZoomRadius; got != cfg.MaxRadius {
		t.Errorf("repeated ZoomOut radius = %v, want %v", got, cfg.MaxRadius)
	}
}

func TestZoomRoundTrip(t *testing.T) {
	radii := []float64{3, 5, 7.3, 8, 11.1}
	deltas := []float64{1, 2.5, 0.25, 6, 0.1, 0.3, 0.7, 1.3, 2.2, -0.7, -2.2}
	for _, r0 := range radii {
		for _, d := range deltas {
			cfg := DefaultConfig()
			cfg.MinRadius = 0.5
			cfg.InitialRadius = r0
			c := New(cfg, WithAfterFunc((&fakeClock{}).AfterFunc))
			c.SetPreset(Right)
			before := c.State()

			c.Zoom(d)
			c.Zoom(-d)

			if diff := cmp.Diff(before, c.State()); diff != "" {
				t.Errorf("radius %v: zoom(%v) then zoom(%v) mismatch (-want +got):\n%s", r0, d, -d, diff)
			}
			c.Close()
		}
	}
}

func TestZoomPreservesDirection(t *testing.T) {
	c, _ := newTestController(t)
	c.Orbit(100, 40)
	c.EndInteraction()
	dir := c.Position().Normalize()

	c.Zoom(4)

	st := c.State()
	if !st.Position.Normalize().ApproxEqual(dir, 1e-12) {
		t.Errorf("direction changed: %v -> %v", dir, st.Position.Normalize())
	}
	if gomath.Abs(st.Position.Length()-st.ZoomRadius) > 1e-12 {
		t.Errorf("|position| = %v, radius %v", st.Position.Length(), st.ZoomRadius)
	}
}

func TestZoomIgnoresNaN(t *testing.T) {
	c, _ := newTestController(t)
	before := c.State()
	c.Zoom(gomath.NaN())
	if c.State() != before {
		t.Error("zoom(NaN) changed state")
	}
}

func TestOrbitPitchClamp(t *testing.T) {
	c, _ := newTestController(t)
	c.Orbit(0, 1e6)
	if y := c.Position().Normalize().Y; y >= 1 || y < gomath.Sin(maxPitch)-1e-9 {
		t.Errorf("pitch not clamped below the pole: y = %v", y)
	}
	c.Orbit(0, -1e6)
	if y := c.Position().Normalize().Y; y <= -1 || y > -gomath.Sin(maxPitch)+1e-9 {
		t.Errorf("pitch not clamped above the pole: y = %v", y)
	}
	if r := c.State().ZoomRadius; r != DefaultConfig().InitialRadius {
		t.Errorf("orbit changed radius to %v", r)
	}
}

func TestPanAndDollyStayInLimits(t *testing.T) {
	c, _ := newTestController(t)
	cfg := c.Config()
	for i := 0; i < 50; i++ {
		c.Pan(500, -300)
		c.Dolly(-5)
	}
	st := c.State()
	if st.ZoomRadius < cfg.MinRadius || st.ZoomRadius > cfg.MaxRadius {
		t.Errorf("radius %v outside limits", st.ZoomRadius)
	}
	if gomath.Abs(st.Position.Length()-st.ZoomRadius) > 1e-9 {
		t.Errorf("|position| = %v, radius %v", st.Position.Length(), st.ZoomRadius)
	}
	for i := 0; i < 50; i++ {
		c.Dolly(5)
	}
	if got := c.State().ZoomRadius; got != cfg.MinRadius {
		t.Errorf("dolly in radius = %v, want %v", got, cfg.MinRadius)
	}
}

func TestInteractionIdleTimer(t *testing.T) {
	c, fc := newTestController(t)

	var mu sync.Mutex
	var events []bool
	unsubscribe := c.Subscribe(func(on bool) {
		mu.Lock()
		events = append(events, on)
		mu.Unlock()
	})
	defer unsubscribe()

	c.Orbit(10, 0)
	c.Orbit(10, 0)
	if !c.State().Interacting {
		t.Fatal("orbit should raise interacting")
	}
	c.EndInteraction()
	if fc.live() != 1 {
		t.Fatalf("expected 1 armed timer, got %d", fc.live())
	}

	// A new interaction supersedes the armed timer.
	c.BeginInteraction()
	if fc.live() != 0 {
		t.Errorf("pending idle timer not canceled, %d live", fc.live())
	}
	c.EndInteraction()
	c.EndInteraction()
	if fc.live() != 1 {
		t.Errorf("re-arming should leave exactly 1 live timer, got %d", fc.live())
	}

	fc.fireAll()

	if c.State().Interacting {
		t.Error("idle timer did not lower interacting")
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]bool{true, false}, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestStaleIdleFireIgnored(t *testing.T) {
	c, fc := newTestController(t)
	c.BeginInteraction()
	c.EndInteraction()

	// Deliver the superseded callback after a new interaction, as a timer
	// racing its Stop would.
	c.BeginInteraction()
	fc.fireAll()

	if !c.State().Interacting {
		t.Error("timer canceled by a new interaction must not lower interacting")
	}
}

func TestUnsubscribe(t *testing.T) {
	c, fc := newTestController(t)
	calls := 0
	unsubscribe := c.Subscribe(func(bool) { calls++ })
	unsubscribe()
	unsubscribe()

	c.BeginInteraction()
	c.EndInteraction()
	fc.fireAll()
	if calls != 0 {
		t.Errorf("unsubscribed listener called %d times", calls)
	}
}

func TestRealTimerLowersInteracting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleDelay = 10 * time.Millisecond
	c := New(cfg)
	defer c.Close()

	done := make(chan struct{})
	c.Subscribe(func(on bool) {
		if !on {
			close(done)
		}
	})
	c.Dolly(1)
	c.EndInteraction()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("idle timer never fired")
	}
}

func TestResetAndFitRadius(t *testing.T) {
	c, _ := newTestController(t)
	c.SetPreset(Top)
	c.Zoom(5)
	c.Reset()

	want := Front.Unit().Scale(DefaultConfig().InitialRadius)
	if got := c.Position(); got != want {
		t.Errorf("Reset() position = %v, want %v", got, want)
	}

	r := c.FitRadius(4)
	wantR := 2 * gomath.Sqrt(3) / gomath.Sin(gomath.Pi/8)
	if gomath.Abs(r-wantR) > 1e-9 {
		t.Errorf("FitRadius(4) = %v, want %v", r, wantR)
	}
	if got := c.FitRadius(1e6); got != c.Config().MaxRadius {
		t.Errorf("FitRadius(huge) = %v, want clamp to %v", got, c.Config().MaxRadius)
	}
}

func TestNewSanitizesConfig(t *testing.T) {
	c := New(Config{MinRadius: 5, MaxRadius: 3, InitialRadius: 100})
	cfg := c.Config()
	if cfg.MaxRadius != 5 || cfg.InitialRadius != 5 {
		t.Errorf("sanitized config = %+v", cfg)
	}
}

func TestViewMatrixAtPoles(t *testing.T) {
	c, _ := newTestController(t)
	for _, d := range []Direction{Top, Bottom} {
		c.SetPreset(d)
		m := c.ViewMatrix()
		if !m.IsFinite() {
			t.Errorf("%s view matrix not finite: %v", d, m)
		}
		// The origin lands on the view axis.
		o := m.TransformVec3(math.Vec3{})
		if gomath.Abs(o.X) > 1e-9 || gomath.Abs(o.Y) > 1e-9 {
			t.Errorf("%s: origin maps to %v", d, o)
		}
	}
}

func TestParseDirection(t *testing.T) {
	for _, d := range Directions() {
		got, err := ParseDirection(d.String())
		if err != nil || got != d {
			t.Errorf("ParseDirection(%q) = %v, %v", d, got, err)
		}
	}
	if _, err := ParseDirection("diagonal"); err == nil {
		t.Error("expected error for unknown preset")
	}
}
