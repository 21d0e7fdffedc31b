// Package scene centers and uniformly scales a validated graph into the
// canonical viewing volume.
package scene

import (
	"github.com/Faultbox/assetview/pkg/math"
	"github.com/Faultbox/assetview/pkg/scenegraph"
)

// DefaultTargetSize is the canonical viewing volume diameter.
const DefaultTargetSize = 4.0

// WrapperName names the node that carries the normalization scale.
const WrapperName = "normalized"

// NormalizedScene is a single wrapper node holding the centered graph.
type NormalizedScene struct {
	Root        *scenegraph.Node // Wrapper; uniform scale only
	Translation math.Vec3        // Applied to the graph root, before scaling
	Scale       float64
	TargetSize  float64
	Source      math.Box3 // Bounds the scene was normalized from

	released bool
}

// Normalize translates g's root by -center of box and wraps it in a node
// scaled by targetSize / box.MaxDimension(). box must come from a successful
// validation of g. A non-positive targetSize means DefaultTargetSize.
//
// g.Root is modified in place and becomes the wrapper's only child.
func Normalize(g *scenegraph.Graph, box math.Box3, targetSize float64) *NormalizedScene {
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}
	offset := box.Center().Neg()
	scale := targetSize / box.MaxDimension()

	root := g.Root
	centered := math.Translate(offset).Mul(root.LocalMatrix())
	root.Matrix = &centered

	wrapper := scenegraph.NewNode(WrapperName)
	wrapper.Scale = math.Vec3{X: scale, Y: scale, Z: scale}
	wrapper.Add(root)

	return &NormalizedScene{
		Root:        wrapper,
		Translation: offset,
		Scale:       scale,
		TargetSize:  targetSize,
		Source:      box,
	}
}

// Graph returns the scene as a graph rooted at the wrapper.
func (s *NormalizedScene) Graph() *scenegraph.Graph {
	if s == nil || s.released {
		return nil
	}
	return &scenegraph.Graph{Root: s.Root}
}

// Bounds returns the world-space bounds of the normalized geometry.
func (s *NormalizedScene) Bounds() math.Box3 {
	b := math.EmptyBox()
	s.Graph().Walk(func(n *scenegraph.Node, world math.Mat4) {
		if n.Mesh == nil {
			return
		}
		for _, p := range n.Mesh.Positions {
			b = b.ExpandByPoint(world.TransformVec3(math.V3(p)))
		}
	})
	return b
}

// Release drops the scene's references to the graph. It is safe to call more
// than once.
func (s *NormalizedScene) Release() {
	if s == nil || s.released {
		return
	}
	s.released = true
	s.Root.Children = nil
	s.Root = nil
}

// Released reports whether Release has been called.
func (s *NormalizedScene) Released() bool {
	return s == nil || s.released
}
