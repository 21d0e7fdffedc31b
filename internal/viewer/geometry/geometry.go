// Package geometry validates decoded scene graphs before they are normalized.
package geometry

import (
	"errors"
	"fmt"
	gomath "math"

	"github.com/Faultbox/assetview/pkg/math"
	"github.com/Faultbox/assetview/pkg/scenegraph"
)

// Validation errors.
var (
	ErrEmptyGeometry  = errors.New("scene contains no meshes")
	ErrInvalidBounds  = errors.New("scene has no bounded geometry")
	ErrDegenerateSize = errors.New("scene bounds are degenerate")
)

// Stats summarizes a valid graph.
type Stats struct {
	MeshCount   int
	VertexCount int
	Bounds      math.Box3 // World space, union over every mesh
}

// Validate walks g, counting meshes and vertices and accumulating world-space
// bounds. It returns zero Stats on any failure.
func Validate(g *scenegraph.Graph) (Stats, error) {
	var st Stats
	bounds := math.EmptyBox()
	finite := true

	g.Walk(func(n *scenegraph.Node, world math.Mat4) {
		if n.Mesh == nil {
			return
		}
		st.MeshCount++
		st.VertexCount += n.Mesh.VertexCount()
		mesh := math.EmptyBox()
		for _, p := range n.Mesh.Positions {
			w := world.TransformVec3(math.V3(p))
			if !w.IsFinite() {
				finite = false
				continue
			}
			mesh = mesh.ExpandByPoint(w)
		}
		bounds = bounds.Union(mesh)
	})

	if st.MeshCount == 0 {
		return Stats{}, ErrEmptyGeometry
	}
	if !finite {
		return Stats{}, fmt.Errorf("%w: non-finite vertex position", ErrDegenerateSize)
	}
	if bounds.IsEmpty() {
		return Stats{}, ErrInvalidBounds
	}
	if d := bounds.MaxDimension(); d == 0 || gomath.IsNaN(d) || gomath.IsInf(d, 0) {
		return Stats{}, fmt.Errorf("%w: max dimension %v", ErrDegenerateSize, d)
	}
	st.Bounds = bounds
	return st, nil
}
