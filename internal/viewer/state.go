package viewer

import (
	"github.com/Faultbox/assetview/internal/viewer/scene"
	"github.com/Faultbox/assetview/pkg/math"
)

// Status is the viewer lifecycle phase.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// Stats describes the committed scene.
type Stats struct {
	MeshCount   int
	VertexCount int
	Bounds      math.Box3 // Before normalization
	Scale       float64   // Uniform normalization scale
}

// State is a snapshot of the viewer. Scene is set only when Ready and Err
// only when Error.
type State struct {
	Status     Status
	Generation uint64
	Scene      *scene.NormalizedScene
	Stats      Stats
	Err        *Error
	Progress   int
}

// Settled reports whether the load for Generation has finished.
func (s State) Settled() bool {
	return s.Status == StatusReady || s.Status == StatusError
}

// Events receives viewer notifications. Any field may be nil. Callbacks run
// on the goroutine that produced them, must not block and must not call
// Unmount. No callback runs after Unmount returns.
type Events struct {
	OnProgress func(generation uint64, percent int)
	OnReady    func(generation uint64, stats Stats)
	OnError    func(generation uint64, err *Error)
}

func (e Events) progress(g uint64, p int) {
	if e.OnProgress != nil {
		e.OnProgress(g, p)
	}
}

func (e Events) ready(g uint64, st Stats) {
	if e.OnReady != nil {
		e.OnReady(g, st)
	}
}

func (e Events) fail(g uint64, err *Error) {
	if e.OnError != nil {
		e.OnError(g, err)
	}
}
