// Package scenegraph defines the decoded scene representation shared by the
// format decoders and the import pipeline: a node tree of local transforms,
// meshes and materials.
package scenegraph

import (
	"github.com/Faultbox/assetview/pkg/math"
)

// ColorSpace describes how texel values of a map are encoded.
type ColorSpace int

const (
	ColorSpaceUnspecified ColorSpace = iota
	ColorSpaceSRGB                   // Display-referred, gamma encoded
	ColorSpaceLinear                 // Data-referred, linear
)

// String returns the color space name.
func (c ColorSpace) String() string {
	switch c {
	case ColorSpaceSRGB:
		return "srgb"
	case ColorSpaceLinear:
		return "linear"
	default:
		return "unspecified"
	}
}

// MapSlot identifies which material input a texture feeds.
type MapSlot int

const (
	MapBaseColor MapSlot = iota
	MapEmissive
	MapNormal
	MapRoughness
	MapMetalness
	MapOcclusion
)

// MapSlots returns every slot, color slots first.
func MapSlots() []MapSlot {
	return []MapSlot{MapBaseColor, MapEmissive, MapNormal, MapRoughness, MapMetalness, MapOcclusion}
}

// String returns the slot name.
func (s MapSlot) String() string {
	switch s {
	case MapBaseColor:
		return "baseColor"
	case MapEmissive:
		return "emissive"
	case MapNormal:
		return "normal"
	case MapRoughness:
		return "roughness"
	case MapMetalness:
		return "metalness"
	case MapOcclusion:
		return "occlusion"
	default:
		return "unknown"
	}
}

// Texture is a reference to image data bound to a material slot. Pixel data
// stays with the decoder; the pipeline only tags it.
type Texture struct {
	Name       string
	ColorSpace ColorSpace
}

// Material is a metallic-roughness PBR material.
type Material struct {
	Name        string
	BaseColor   [4]float64 // RGBA, linear
	Roughness   float64
	Metalness   float64
	DoubleSided bool
	Maps        map[MapSlot]*Texture
}

// Mesh is triangle geometry attached to a node.
type Mesh struct {
	Name          string
	Positions     [][3]float32 // Vertex positions in node-local space
	Indices       []uint32     // Triangle list; empty means non-indexed
	Materials     []*Material  // Per primitive group; may be empty
	CastShadow    bool
	ReceiveShadow bool
}

// VertexCount returns the number of vertex attributes in the mesh.
func (m *Mesh) VertexCount() int {
	return len(m.Positions)
}

// LocalBounds returns the bounding box of the mesh in its node's space.
func (m *Mesh) LocalBounds() math.Box3 {
	b := math.EmptyBox()
	for _, p := range m.Positions {
		b = b.ExpandByPoint(math.V3(p))
	}
	return b
}

// Node is a transform in the hierarchy, optionally carrying a mesh.
type Node struct {
	Name        string
	Translation math.Vec3
	Rotation    math.Quat
	Scale       math.Vec3
	Matrix      *math.Mat4 // Overrides TRS when set
	Mesh        *Mesh
	Children    []*Node
}

// NewNode returns a node with identity transform.
func NewNode(name string) *Node {
	return &Node{
		Name:     name,
		Rotation: math.QuatIdentity(),
		Scale:    math.Vec3{X: 1, Y: 1, Z: 1},
	}
}

// Add appends children and returns n for chaining.
func (n *Node) Add(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

// LocalMatrix returns the node-local matrix.
func (n *Node) LocalMatrix() math.Mat4 {
	if n.Matrix != nil {
		return *n.Matrix
	}
	return math.FromTRS(n.Translation, n.Rotation, n.Scale)
}

// Graph is a decoded scene.
type Graph struct {
	Root *Node
}

// New returns a graph with an empty root node.
func New(rootName string) *Graph {
	return &Graph{Root: NewNode(rootName)}
}

// WalkFunc is called for every node with its world matrix.
type WalkFunc func(n *Node, world math.Mat4)

// Walk visits every node depth-first, parents before children.
func (g *Graph) Walk(fn WalkFunc) {
	if g == nil || g.Root == nil {
		return
	}
	walk(g.Root, math.Identity(), fn)
}

func walk(n *Node, parent math.Mat4, fn WalkFunc) {
	world := parent.Mul(n.LocalMatrix())
	fn(n, world)
	for _, c := range n.Children {
		if c != nil {
			walk(c, world, fn)
		}
	}
}

// Meshes returns every mesh node in walk order.
func (g *Graph) Meshes() []*Node {
	var out []*Node
	g.Walk(func(n *Node, _ math.Mat4) {
		if n.Mesh != nil {
			out = append(out, n)
		}
	})
	return out
}
