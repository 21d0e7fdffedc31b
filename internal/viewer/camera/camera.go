// Package camera implements the viewer's orbit camera: preset views, stepped
// zoom, and free orbit/pan/dolly input around a look-at point fixed at the
// origin.
//
// Interactive input raises the interacting signal. Ending an interaction arms
// a single-shot idle timer that lowers it again unless another interaction
// starts first.
package camera

import (
	gomath "math"
	"sync"
	"time"

	"github.com/Faultbox/assetview/pkg/math"
)

// Config holds camera constraints and sensitivities.
type Config struct {
	MinRadius     float64
	MaxRadius     float64
	InitialRadius float64
	ZoomStep      float64       // Radius change per zoom step
	IdleDelay     time.Duration // Delay before interacting drops after input ends
	FieldOfView   float64       // Vertical, radians

	OrbitSensitivity float64 // Radians per input unit
	PanSensitivity   float64 // Fraction of radius per input unit
	DollySensitivity float64 // Fraction of radius per input unit
}

// DefaultConfig returns settings sized for a canonical volume of diameter 4.
func DefaultConfig() Config {
	return Config{
		MinRadius:        2,
		MaxRadius:        20,
		InitialRadius:    8,
		ZoomStep:         1,
		IdleDelay:        3 * time.Second,
		FieldOfView:      gomath.Pi / 4,
		OrbitSensitivity: 0.005,
		PanSensitivity:   0.002,
		DollySensitivity: 0.1,
	}
}

// maxPitch keeps orbit input short of the poles so the up vector stays valid.
const maxPitch = gomath.Pi/2 - 0.01

// State is a snapshot of the camera. LookAt is always the origin.
type State struct {
	Position    math.Vec3
	ZoomRadius  float64
	Interacting bool
}

// AfterFunc schedules f after d and returns a function that cancels it,
// reporting whether the call was stopped before firing.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Controller is the camera state machine.
type Controller struct {
	mu sync.Mutex

	cfg    Config
	dir    math.Vec3 // Unit vector from origin to camera
	radius float64

	interacting bool
	afterFunc   AfterFunc
	stopIdle    func() bool
	idleSeq     uint64

	subs    map[int]func(bool)
	nextSub int
}

// Option configures a Controller.
type Option func(*Controller)

// WithAfterFunc replaces the idle timer scheduler.
func WithAfterFunc(fn AfterFunc) Option {
	return func(c *Controller) {
		if fn != nil {
			c.afterFunc = fn
		}
	}
}

// New creates a controller at the front preset and the initial radius.
// Radius limits are sanitized so MinRadius <= InitialRadius <= MaxRadius.
func New(cfg Config, opts ...Option) *Controller {
	def := DefaultConfig()
	if cfg.MinRadius <= 0 {
		cfg.MinRadius = def.MinRadius
	}
	if cfg.MaxRadius < cfg.MinRadius {
		cfg.MaxRadius = cfg.MinRadius
	}
	if cfg.ZoomStep <= 0 {
		cfg.ZoomStep = def.ZoomStep
	}
	if cfg.FieldOfView <= 0 || cfg.FieldOfView >= gomath.Pi {
		cfg.FieldOfView = def.FieldOfView
	}
	if cfg.OrbitSensitivity == 0 {
		cfg.OrbitSensitivity = def.OrbitSensitivity
	}
	if cfg.PanSensitivity == 0 {
		cfg.PanSensitivity = def.PanSensitivity
	}
	if cfg.DollySensitivity == 0 {
		cfg.DollySensitivity = def.DollySensitivity
	}
	cfg.InitialRadius = clamp(cfg.InitialRadius, cfg.MinRadius, cfg.MaxRadius)

	c := &Controller{
		cfg:       cfg,
		dir:       Front.Unit(),
		radius:    cfg.InitialRadius,
		afterFunc: realAfterFunc,
		subs:      make(map[int]func(bool)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the sanitized configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// State returns the current camera state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Position:    c.dir.Scale(c.radius),
		ZoomRadius:  c.radius,
		Interacting: c.interacting,
	}
}

// Position returns the camera position in world space.
func (c *Controller) Position() math.Vec3 {
	return c.State().Position
}

// ViewMatrix returns the view matrix looking at the origin.
func (c *Controller) ViewMatrix() math.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return math.LookAt(c.dir.Scale(c.radius), math.Vec3{}, upFor(c.dir))
}

// upFor picks an up vector that is never parallel to dir.
func upFor(dir math.Vec3) math.Vec3 {
	if gomath.Abs(dir.Y) > 0.999 {
		return math.Vec3{Z: -gomath.Copysign(1, dir.Y)}
	}
	return math.Vec3{Y: 1}
}

// SetPreset moves the camera onto the preset axis at the current radius.
func (c *Controller) SetPreset(d Direction) {
	c.mu.Lock()
	c.dir = d.Unit()
	c.mu.Unlock()
}

// Zoom changes the radius by delta zoom steps, clamped to the radius limits.
// The viewing direction is preserved. Positive delta moves away.
func (c *Controller) Zoom(delta float64) {
	if gomath.IsNaN(delta) {
		return
	}
	c.mu.Lock()
	c.radius = clamp(zoomRadius(c.radius, delta*c.cfg.ZoomStep), c.cfg.MinRadius, c.cfg.MaxRadius)
	c.mu.Unlock()
}

// radiusGrid is the number of grid cells per unit that zoomed radii snap to.
// Both terms are rounded to whole cells before adding, so zoom(d) followed by
// zoom(-d) lands on the starting radius.
const radiusGrid = 1e9

func zoomRadius(radius, step float64) float64 {
	next := radius + step
	if gomath.IsInf(next, 0) || gomath.Abs(next)*radiusGrid >= 1<<53 {
		return next
	}
	return (gomath.Round(radius*radiusGrid) + gomath.Round(step*radiusGrid)) / radiusGrid
}

// ZoomIn moves one step closer.
func (c *Controller) ZoomIn() { c.Zoom(-1) }

// ZoomOut moves one step away.
func (c *Controller) ZoomOut() { c.Zoom(1) }

// Reset restores the front preset at the initial radius.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.dir = Front.Unit()
	c.radius = c.cfg.InitialRadius
	c.mu.Unlock()
}

// FitRadius returns the radius at which a sphere enclosing a cube of edge
// size fills the vertical field of view, clamped to the radius limits.
func (c *Controller) FitRadius(size float64) float64 {
	halfDiagonal := size * gomath.Sqrt(3) / 2
	return clamp(halfDiagonal/gomath.Sin(c.cfg.FieldOfView/2), c.cfg.MinRadius, c.cfg.MaxRadius)
}

// BeginInteraction raises the interacting signal and cancels any pending
// idle timer.
func (c *Controller) BeginInteraction() {
	c.mu.Lock()
	changed := c.beginLocked()
	c.mu.Unlock()
	if changed {
		c.notify(true)
	}
}

func (c *Controller) beginLocked() bool {
	c.cancelIdleLocked()
	if c.interacting {
		return false
	}
	c.interacting = true
	return true
}

// EndInteraction arms the idle timer. Only the most recently armed timer can
// lower the interacting signal.
func (c *Controller) EndInteraction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.interacting {
		return
	}
	c.cancelIdleLocked()
	c.idleSeq++
	seq := c.idleSeq
	c.stopIdle = c.afterFunc(c.cfg.IdleDelay, func() { c.idle(seq) })
}

func (c *Controller) idle(seq uint64) {
	c.mu.Lock()
	if seq != c.idleSeq || !c.interacting {
		c.mu.Unlock()
		return
	}
	c.interacting = false
	c.stopIdle = nil
	c.mu.Unlock()
	c.notify(false)
}

func (c *Controller) cancelIdleLocked() {
	if c.stopIdle != nil {
		c.stopIdle()
		c.stopIdle = nil
	}
	// A timer that already fired must not act.
	c.idleSeq++
}

// Orbit rotates the camera around the origin from pointer deltas. Pitch is
// clamped short of the poles.
func (c *Controller) Orbit(dx, dy float64) {
	c.interact(func() {
		yaw := gomath.Atan2(c.dir.X, c.dir.Z) - dx*c.cfg.OrbitSensitivity
		pitch := gomath.Asin(clamp(c.dir.Y, -1, 1)) + dy*c.cfg.OrbitSensitivity
		pitch = clamp(pitch, -maxPitch, maxPitch)
		c.dir = math.Vec3{
			X: gomath.Cos(pitch) * gomath.Sin(yaw),
			Y: gomath.Sin(pitch),
			Z: gomath.Cos(pitch) * gomath.Cos(yaw),
		}
	})
}

// Pan slides the camera across the view plane. The look-at point stays at the
// origin, so the camera swings toward the pan direction and the radius follows
// the new distance.
func (c *Controller) Pan(dx, dy float64) {
	c.interact(func() {
		up := upFor(c.dir)
		right := up.Cross(c.dir).Normalize()
		viewUp := c.dir.Cross(right)
		k := c.radius * c.cfg.PanSensitivity
		pos := c.dir.Scale(c.radius).Add(right.Scale(-dx * k)).Add(viewUp.Scale(dy * k))
		if pos.Length() == 0 {
			return
		}
		c.dir = pos.Normalize()
		c.radius = clamp(pos.Length(), c.cfg.MinRadius, c.cfg.MaxRadius)
	})
}

// Dolly zooms proportionally to the current radius from scroll input.
// Positive delta moves closer.
func (c *Controller) Dolly(delta float64) {
	c.interact(func() {
		c.radius = clamp(c.radius-delta*c.radius*c.cfg.DollySensitivity, c.cfg.MinRadius, c.cfg.MaxRadius)
	})
}

func (c *Controller) interact(apply func()) {
	c.mu.Lock()
	changed := c.beginLocked()
	apply()
	c.mu.Unlock()
	if changed {
		c.notify(true)
	}
}

// Subscribe registers fn to receive interacting transitions. fn runs on the
// goroutine that caused the transition, which for idle transitions is the
// timer goroutine. The returned func removes the subscription.
func (c *Controller) Subscribe(fn func(interacting bool)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

func (c *Controller) notify(interacting bool) {
	c.mu.Lock()
	fns := make([]func(bool), 0, len(c.subs))
	for id := 0; id < c.nextSub; id++ {
		if fn, ok := c.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(interacting)
	}
}

// Close cancels the idle timer and drops all subscribers.
func (c *Controller) Close() {
	c.mu.Lock()
	c.cancelIdleLocked()
	c.subs = make(map[int]func(bool))
	c.mu.Unlock()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
