// COLLADA (DAE) decoder: geometry, materials and the visual scene hierarchy.
package formats

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	gomath "math"
	"strconv"
	"strings"

	"github.com/Faultbox/assetview/pkg/math"
	"github.com/Faultbox/assetview/pkg/scenegraph"
)

// DAE format errors.
var (
	ErrInvalidDAE       = errors.New("invalid COLLADA document")
	ErrMissingDAESource = errors.New("COLLADA position source not found")
	ErrInvalidDAEIndex  = errors.New("COLLADA index out of range")
)

type daeDocument struct {
	XMLName      xml.Name         `xml:"COLLADA"`
	Asset        daeAsset         `xml:"asset"`
	Materials    []daeMaterial    `xml:"library_materials>material"`
	Geometries   []daeGeometry    `xml:"library_geometries>geometry"`
	VisualScenes []daeVisualScene `xml:"library_visual_scenes>visual_scene"`
	Scene        struct {
		Instance struct {
			URL string `xml:"url,attr"`
		} `xml:"instance_visual_scene"`
	} `xml:"scene"`
}

type daeAsset struct {
	Unit struct {
		Meter float64 `xml:"meter,attr"`
	} `xml:"unit"`
	UpAxis string `xml:"up_axis"`
}

type daeMaterial struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

type daeGeometry struct {
	ID   string   `xml:"id,attr"`
	Name string   `xml:"name,attr"`
	Mesh *daeMesh `xml:"mesh"`
}

type daeMesh struct {
	Sources   []daeSource    `xml:"source"`
	Vertices  daeVertices    `xml:"vertices"`
	Triangles []daePrimitive `xml:"triangles"`
	Polylists []daePrimitive `xml:"polylist"`
}

type daeSource struct {
	ID       string `xml:"id,attr"`
	Floats   string `xml:"float_array"`
	Accessor struct {
		Stride int `xml:"stride,attr"`
	} `xml:"technique_common>accessor"`
}

type daeVertices struct {
	ID     string     `xml:"id,attr"`
	Inputs []daeInput `xml:"input"`
}

type daeInput struct {
	Semantic string `xml:"semantic,attr"`
	Source   string `xml:"source,attr"`
	Offset   int    `xml:"offset,attr"`
}

type daePrimitive struct {
	Count    int        `xml:"count,attr"`
	Material string     `xml:"material,attr"`
	Inputs   []daeInput `xml:"input"`
	VCount   string     `xml:"vcount"`
	P        string     `xml:"p"`
}

type daeVisualScene struct {
	ID    string    `xml:"id,attr"`
	Nodes []daeNode `xml:"node"`
}

type daeNode struct {
	ID         string                `xml:"id,attr"`
	Name       string                `xml:"name,attr"`
	Matrix     string                `xml:"matrix"`
	Translate  string                `xml:"translate"`
	Rotates    []string              `xml:"rotate"`
	Scale      string                `xml:"scale"`
	Geometries []daeInstanceGeometry `xml:"instance_geometry"`
	Nodes      []daeNode             `xml:"node"`
}

type daeInstanceGeometry struct {
	URL       string `xml:"url,attr"`
	Materials []struct {
		Symbol string `xml:"symbol,attr"`
		Target string `xml:"target,attr"`
	} `xml:"bind_material>technique_common>instance_material"`
}

// daeGeometryData is a decoded geometry before material binding.
type daeGeometryData struct {
	name      string
	positions [][3]float32
	indices   []uint32
	symbols   []string // material symbols in primitive order
}

// DecodeDAE decodes a COLLADA 1.4/1.5 document.
func DecodeDAE(ctx context.Context, data []byte, progress ProgressFunc) (*scenegraph.Graph, error) {
	var doc daeDocument
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDAE, err)
	}
	progress.report(1, 3)

	materials := make(map[string]*scenegraph.Material, len(doc.Materials))
	for _, m := range doc.Materials {
		name := m.Name
		if name == "" {
			name = m.ID
		}
		materials[m.ID] = defaultMaterial(name)
	}

	geometries := make(map[string]*daeGeometryData, len(doc.Geometries))
	var order []string
	for i, geom := range doc.Geometries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if geom.Mesh == nil {
			continue
		}
		gd, err := buildDAEGeometry(geom)
		if err != nil {
			return nil, fmt.Errorf("geometry %q: %w", geom.ID, err)
		}
		geometries[geom.ID] = gd
		order = append(order, geom.ID)
		progress.report(len(doc.Geometries)+i+1, 3*len(doc.Geometries))
	}

	g := scenegraph.New("collada")
	if doc.Asset.Unit.Meter > 0 {
		m := doc.Asset.Unit.Meter
		g.Root.Scale = math.Vec3{X: m, Y: m, Z: m}
	}
	switch strings.TrimSpace(doc.Asset.UpAxis) {
	case "Z_UP":
		g.Root.Rotation = math.QuatFromAxisAngle(math.Vec3{X: 1}, -gomath.Pi/2)
	case "X_UP":
		g.Root.Rotation = math.QuatFromAxisAngle(math.Vec3{Z: 1}, gomath.Pi/2)
	}

	if scene := doc.visualScene(); scene != nil {
		for _, n := range scene.Nodes {
			node, err := buildDAENode(n, geometries, materials)
			if err != nil {
				return nil, err
			}
			g.Root.Add(node)
		}
	} else {
		for _, id := range order {
			gd := geometries[id]
			node := scenegraph.NewNode(gd.name)
			node.Mesh = gd.mesh(nil, materials)
			g.Root.Add(node)
		}
	}

	progress.report(3, 3)
	return g, nil
}

// visualScene returns the scene referenced by <scene>, else the first one.
func (d *daeDocument) visualScene() *daeVisualScene {
	want := strings.TrimPrefix(d.Scene.Instance.URL, "#")
	for i := range d.VisualScenes {
		if d.VisualScenes[i].ID == want {
			return &d.VisualScenes[i]
		}
	}
	if len(d.VisualScenes) > 0 {
		return &d.VisualScenes[0]
	}
	return nil
}

func buildDAEGeometry(geom daeGeometry) (*daeGeometryData, error) {
	name := geom.Name
	if name == "" {
		name = geom.ID
	}
	gd := &daeGeometryData{name: name}

	positions, err := geom.Mesh.positions()
	if err != nil {
		return nil, err
	}
	gd.positions = positions

	for _, tri := range geom.Mesh.Triangles {
		if err := gd.addPrimitive(tri, nil); err != nil {
			return nil, err
		}
	}
	for _, poly := range geom.Mesh.Polylists {
		counts, err := parseInts(poly.VCount)
		if err != nil {
			return nil, fmt.Errorf("%w: vcount: %v", ErrInvalidDAE, err)
		}
		if err := gd.addPrimitive(poly, counts); err != nil {
			return nil, err
		}
	}
	return gd, nil
}

// positions resolves <vertices><input semantic="POSITION"> to its source.
func (m *daeMesh) positions() ([][3]float32, error) {
	var srcID string
	for _, in := range m.Vertices.Inputs {
		if in.Semantic == "POSITION" {
			srcID = strings.TrimPrefix(in.Source, "#")
		}
	}
	for _, src := range m.Sources {
		if src.ID != srcID {
			continue
		}
		vals, err := parseFloats(src.Floats)
		if err != nil {
			return nil, fmt.Errorf("%w: float_array: %v", ErrInvalidDAE, err)
		}
		stride := src.Accessor.Stride
		if stride < 3 {
			stride = 3
		}
		out := make([][3]float32, len(vals)/stride)
		for i := range out {
			out[i] = [3]float32{float32(vals[i*stride]), float32(vals[i*stride+1]), float32(vals[i*stride+2])}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrMissingDAESource, srcID)
}

// addPrimitive appends fan-triangulated polygons. counts holds the corner
// count of every polygon; nil means prim.Count triangles.
func (gd *daeGeometryData) addPrimitive(prim daePrimitive, counts []int) error {
	p, err := parseInts(prim.P)
	if err != nil {
		return fmt.Errorf("%w: p: %v", ErrInvalidDAE, err)
	}

	stride := 1
	vertexOffset := -1
	for _, in := range prim.Inputs {
		if in.Offset < 0 || in.Offset > len(p) {
			return fmt.Errorf("%w: input offset %d with %d indices", ErrInvalidDAE, in.Offset, len(p))
		}
		if in.Offset+1 > stride {
			stride = in.Offset + 1
		}
		if in.Semantic == "VERTEX" {
			vertexOffset = in.Offset
		}
	}
	if vertexOffset < 0 {
		return fmt.Errorf("%w: primitive without VERTEX input", ErrInvalidDAE)
	}

	// Counts come from the file; every corner must be backed by p.
	corners := len(p) / stride
	if counts == nil {
		if prim.Count < 0 || prim.Count > corners/3 {
			return fmt.Errorf("%w: triangles count %d with %d indices", ErrInvalidDAE, prim.Count, len(p))
		}
		counts = make([]int, prim.Count)
		for i := range counts {
			counts[i] = 3
		}
	}

	cursor := 0
	for _, n := range counts {
		if n < 0 || n > corners-cursor {
			return fmt.Errorf("%w: polygon with %d corners and %d indices left", ErrInvalidDAE, n, len(p)-cursor*stride)
		}
		if n < 3 {
			cursor += n
			continue
		}
		corner := make([]uint32, n)
		for c := 0; c < n; c++ {
			at := (cursor+c)*stride + vertexOffset
			if at >= len(p) {
				return fmt.Errorf("%w: p has %d values", ErrInvalidDAEIndex, len(p))
			}
			idx := p[at]
			if idx < 0 || idx >= len(gd.positions) {
				return fmt.Errorf("%w: %d with %d positions", ErrInvalidDAEIndex, idx, len(gd.positions))
			}
			corner[c] = uint32(idx)
		}
		for i := 1; i+1 < n; i++ {
			gd.indices = append(gd.indices, corner[0], corner[i], corner[i+1])
		}
		cursor += n
	}
	if prim.Material != "" {
		gd.symbols = append(gd.symbols, prim.Material)
	}
	return nil
}

// mesh instantiates the geometry. bindings maps material symbols to
// library_materials ids; unbound symbols are looked up directly.
func (gd *daeGeometryData) mesh(bindings map[string]string, materials map[string]*scenegraph.Material) *scenegraph.Mesh {
	m := &scenegraph.Mesh{Name: gd.name, Positions: gd.positions, Indices: gd.indices}
	for _, sym := range gd.symbols {
		id := sym
		if target, ok := bindings[sym]; ok {
			id = target
		}
		mat, ok := materials[id]
		if !ok {
			mat = defaultMaterial(sym)
			materials[id] = mat
		}
		m.Materials = append(m.Materials, mat)
	}
	return m
}

func buildDAENode(n daeNode, geometries map[string]*daeGeometryData, materials map[string]*scenegraph.Material) (*scenegraph.Node, error) {
	name := n.Name
	if name == "" {
		name = n.ID
	}
	node := scenegraph.NewNode(name)
	if err := applyDAETransform(node, n); err != nil {
		return nil, fmt.Errorf("node %q: %w", name, err)
	}

	for i, inst := range n.Geometries {
		gd, ok := geometries[strings.TrimPrefix(inst.URL, "#")]
		if !ok {
			continue
		}
		bindings := make(map[string]string, len(inst.Materials))
		for _, im := range inst.Materials {
			bindings[im.Symbol] = strings.TrimPrefix(im.Target, "#")
		}
		mesh := gd.mesh(bindings, materials)
		if i == 0 {
			node.Mesh = mesh
			continue
		}
		extra := scenegraph.NewNode(fmt.Sprintf("%s_%d", name, i))
		extra.Mesh = mesh
		node.Add(extra)
	}

	for _, c := range n.Nodes {
		child, err := buildDAENode(c, geometries, materials)
		if err != nil {
			return nil, err
		}
		node.Add(child)
	}
	return node, nil
}

// applyDAETransform sets the node-local transform. COLLADA matrices are
// row-major; translate/rotate/scale are composed in that order.
func applyDAETransform(node *scenegraph.Node, n daeNode) error {
	if strings.TrimSpace(n.Matrix) != "" {
		vals, err := parseFloats(n.Matrix)
		if err != nil || len(vals) != 16 {
			return fmt.Errorf("%w: matrix", ErrInvalidDAE)
		}
		var m math.Mat4
		for row := 0; row < 4; row++ {
			for col := 0; col < 4; col++ {
				m[col*4+row] = vals[row*4+col]
			}
		}
		node.Matrix = &m
		return nil
	}
	if v, ok, err := parseVec3(n.Translate); err != nil {
		return err
	} else if ok {
		node.Translation = v
	}
	for _, r := range n.Rotates {
		vals, err := parseFloats(r)
		if err != nil || len(vals) != 4 {
			return fmt.Errorf("%w: rotate", ErrInvalidDAE)
		}
		axis := math.Vec3{X: vals[0], Y: vals[1], Z: vals[2]}.Normalize()
		node.Rotation = node.Rotation.Mul(math.QuatFromAxisAngle(axis, vals[3]*gomath.Pi/180))
	}
	if v, ok, err := parseVec3(n.Scale); err != nil {
		return err
	} else if ok {
		node.Scale = v
	}
	return nil
}

func parseVec3(s string) (math.Vec3, bool, error) {
	if strings.TrimSpace(s) == "" {
		return math.Vec3{}, false, nil
	}
	vals, err := parseFloats(s)
	if err != nil || len(vals) != 3 {
		return math.Vec3{}, false, fmt.Errorf("%w: vector %q", ErrInvalidDAE, s)
	}
	return math.Vec3{X: vals[0], Y: vals[1], Z: vals[2]}, true, nil
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseInts(s string) ([]int, error) {
	fields := strings.Fields(s)
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
