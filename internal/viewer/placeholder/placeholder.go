// Package placeholder builds the wireframe boxes shown in place of a scene:
// orange while an asset loads, red when it failed.
package placeholder

import (
	"github.com/Faultbox/assetview/pkg/math"
)

// Kind selects which placeholder to show.
type Kind int

const (
	Loading Kind = iota
	Failed
)

func (k Kind) String() string {
	if k == Failed {
		return "failed"
	}
	return "loading"
}

// Color is linear RGBA.
type Color [4]float32

var (
	Orange = Color{1, 0.55, 0, 1}
	Red    = Color{1, 0.1, 0.1, 1}
)

// VertexCount is the number of vertices in a box wireframe (12 edges x 2).
const VertexCount = 24

// Wireframe is a line list ready for the render surface.
type Wireframe struct {
	Kind     Kind
	Color    Color
	Vertices []float32 // xyz per vertex, two vertices per line
}

// New returns the placeholder of kind k: a cube of edge size centered at the
// origin.
func New(k Kind, size float64) Wireframe {
	h := size / 2
	box := math.Box3{Min: math.Vec3{X: -h, Y: -h, Z: -h}, Max: math.Vec3{X: h, Y: h, Z: h}}
	c := Orange
	if k == Failed {
		c = Red
	}
	return Wireframe{Kind: k, Color: c, Vertices: BoxLines(box, 0)}
}

// BoxLines returns line vertices for the edges of b grown by padding on every
// side. An empty box yields nil.
func BoxLines(b math.Box3, padding float64) []float32 {
	if b.IsEmpty() {
		return nil
	}
	pad := math.Vec3{X: padding, Y: padding, Z: padding}
	lo, hi := b.Min.Sub(pad), b.Max.Add(pad)
	minX, minY, minZ := float32(lo.X), float32(lo.Y), float32(lo.Z)
	maxX, maxY, maxZ := float32(hi.X), float32(hi.Y), float32(hi.Z)

	return []float32{
		// Bottom face
		minX, minY, minZ, maxX, minY, minZ,
		maxX, minY, minZ, maxX, minY, maxZ,
		maxX, minY, maxZ, minX, minY, maxZ,
		minX, minY, maxZ, minX, minY, minZ,
		// Top face
		minX, maxY, minZ, maxX, maxY, minZ,
		maxX, maxY, minZ, maxX, maxY, maxZ,
		maxX, maxY, maxZ, minX, maxY, maxZ,
		minX, maxY, maxZ, minX, maxY, minZ,
		// Verticals
		minX, minY, minZ, minX, maxY, minZ,
		maxX, minY, minZ, maxX, maxY, minZ,
		maxX, minY, maxZ, maxX, maxY, maxZ,
		minX, minY, maxZ, minX, maxY, maxZ,
	}
}
