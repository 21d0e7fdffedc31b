// FBX decoder for the binary node-record encoding (versions 6.1 through 7.7).
package formats

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	gomath "math"
	"strings"

	"github.com/Faultbox/assetview/pkg/math"
	"github.com/Faultbox/assetview/pkg/scenegraph"
)

// FBX format errors.
var (
	ErrInvalidFBXMagic         = errors.New("invalid FBX magic: expected 'Kaydara FBX Binary'")
	ErrUnsupportedFBXEncoding  = errors.New("ASCII FBX is not supported")
	ErrTruncatedFBX            = errors.New("truncated FBX data")
	ErrInvalidFBXProperty      = errors.New("invalid FBX property")
	ErrInvalidFBXPolygonVertex = errors.New("FBX polygon vertex index out of range")
)

const (
	fbxMagic      = "Kaydara FBX Binary  \x00"
	fbxHeaderSize = 27 // magic + 0x1A 0x00 + uint32 version
	fbxWideFrom   = 7500
	fbxMaxArray   = 1 << 28 // bytes
)

// fbxNode is one record of the FBX node tree.
type fbxNode struct {
	Name     string
	Props    []any
	Children []*fbxNode
}

// Child returns the first child with the given name.
func (n *fbxNode) Child(name string) *fbxNode {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// fbxDocument is a parsed binary FBX file.
type fbxDocument struct {
	Version uint32
	Nodes   []*fbxNode
}

// Node returns the first top-level node with the given name.
func (d *fbxDocument) Node(name string) *fbxNode {
	for _, n := range d.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

type fbxReader struct {
	data []byte
	pos  int
	wide bool // 64-bit record header fields (v7.5+)
}

// parseFBX parses the node tree of a binary FBX file.
func parseFBX(data []byte) (*fbxDocument, error) {
	if len(data) < fbxHeaderSize {
		if bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte(";")) {
			return nil, ErrUnsupportedFBXEncoding
		}
		return nil, ErrTruncatedFBX
	}
	if string(data[:len(fbxMagic)]) != fbxMagic {
		if bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte(";")) {
			return nil, ErrUnsupportedFBXEncoding
		}
		return nil, ErrInvalidFBXMagic
	}

	doc := &fbxDocument{Version: binary.LittleEndian.Uint32(data[23:])}
	r := &fbxReader{data: data, pos: fbxHeaderSize, wide: doc.Version >= fbxWideFrom}

	for r.pos+r.recordHeaderSize() <= len(data) {
		node, err := r.readNode()
		if err != nil {
			return nil, err
		}
		if node == nil {
			break
		}
		doc.Nodes = append(doc.Nodes, node)
	}
	return doc, nil
}

func (r *fbxReader) recordHeaderSize() int {
	if r.wide {
		return 25
	}
	return 13
}

func (r *fbxReader) need(n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return ErrTruncatedFBX
	}
	return nil
}

func (r *fbxReader) u8() uint8 {
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *fbxReader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *fbxReader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

// offset reads a record header field whose width depends on the version.
func (r *fbxReader) offset() uint64 {
	if r.wide {
		return r.u64()
	}
	return uint64(r.u32())
}

// readNode reads one record. A nil node without error is the null record that
// terminates a node list.
func (r *fbxReader) readNode() (*fbxNode, error) {
	if err := r.need(r.recordHeaderSize()); err != nil {
		return nil, err
	}
	end := r.offset()
	numProps := r.offset()
	_ = r.offset() // property list length; properties are self-delimiting
	nameLen := int(r.u8())

	if end == 0 {
		return nil, nil
	}
	if end > uint64(len(r.data)) || end < uint64(r.pos) {
		return nil, fmt.Errorf("%w: record ends at %d of %d", ErrTruncatedFBX, end, len(r.data))
	}
	if err := r.need(nameLen); err != nil {
		return nil, err
	}
	node := &fbxNode{Name: string(r.data[r.pos : r.pos+nameLen])}
	r.pos += nameLen

	if numProps > uint64(end) {
		return nil, fmt.Errorf("%w: %s declares %d properties", ErrInvalidFBXProperty, node.Name, numProps)
	}
	node.Props = make([]any, 0, numProps)
	for i := uint64(0); i < numProps; i++ {
		p, err := r.readProperty()
		if err != nil {
			return nil, fmt.Errorf("%s property %d: %w", node.Name, i, err)
		}
		node.Props = append(node.Props, p)
	}

	for uint64(r.pos) < end {
		child, err := r.readNode()
		if err != nil {
			return nil, err
		}
		if child == nil {
			break
		}
		node.Children = append(node.Children, child)
	}
	r.pos = int(end)
	return node, nil
}

func (r *fbxReader) readProperty() (any, error) {
	if err := r.need(1); err != nil {
		return nil, err
	}
	code := r.u8()
	switch code {
	case 'Y':
		if err := r.need(2); err != nil {
			return nil, err
		}
		v := int16(binary.LittleEndian.Uint16(r.data[r.pos:]))
		r.pos += 2
		return v, nil
	case 'C':
		if err := r.need(1); err != nil {
			return nil, err
		}
		return r.u8() != 0, nil
	case 'I':
		if err := r.need(4); err != nil {
			return nil, err
		}
		return int32(r.u32()), nil
	case 'F':
		if err := r.need(4); err != nil {
			return nil, err
		}
		return gomath.Float32frombits(r.u32()), nil
	case 'D':
		if err := r.need(8); err != nil {
			return nil, err
		}
		return gomath.Float64frombits(r.u64()), nil
	case 'L':
		if err := r.need(8); err != nil {
			return nil, err
		}
		return int64(r.u64()), nil
	case 'S', 'R':
		if err := r.need(4); err != nil {
			return nil, err
		}
		n := int(r.u32())
		if err := r.need(n); err != nil {
			return nil, err
		}
		raw := r.data[r.pos : r.pos+n]
		r.pos += n
		if code == 'S' {
			return string(raw), nil
		}
		return append([]byte(nil), raw...), nil
	case 'f', 'd', 'l', 'i', 'b':
		return r.readArray(code)
	default:
		return nil, fmt.Errorf("%w: type code %q", ErrInvalidFBXProperty, code)
	}
}

func (r *fbxReader) readArray(code byte) (any, error) {
	if err := r.need(12); err != nil {
		return nil, err
	}
	length := int(r.u32())
	encoding := r.u32()
	compressed := int(r.u32())
	if err := r.need(compressed); err != nil {
		return nil, err
	}
	raw := r.data[r.pos : r.pos+compressed]
	r.pos += compressed

	elem := 4
	switch code {
	case 'd', 'l':
		elem = 8
	case 'b':
		elem = 1
	}
	size := length * elem
	if length < 0 || size > fbxMaxArray {
		return nil, fmt.Errorf("%w: array of %d elements", ErrInvalidFBXProperty, length)
	}

	switch encoding {
	case 0:
	case 1:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFBXProperty, err)
		}
		raw, err = io.ReadAll(io.LimitReader(zr, int64(size)+1))
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFBXProperty, err)
		}
	default:
		return nil, fmt.Errorf("%w: array encoding %d", ErrInvalidFBXProperty, encoding)
	}
	if len(raw) != size {
		return nil, fmt.Errorf("%w: array holds %d bytes, want %d", ErrInvalidFBXProperty, len(raw), size)
	}

	switch code {
	case 'f':
		out := make([]float64, length)
		for i := range out {
			out[i] = float64(gomath.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
		}
		return out, nil
	case 'd':
		out := make([]float64, length)
		for i := range out {
			out[i] = gomath.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return out, nil
	case 'i':
		out := make([]int64, length)
		for i := range out {
			out[i] = int64(int32(binary.LittleEndian.Uint32(raw[i*4:])))
		}
		return out, nil
	case 'l':
		out := make([]int64, length)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return out, nil
	default:
		return append([]byte(nil), raw...), nil
	}
}

// DecodeFBX decodes a binary FBX file. Geometry objects become meshes attached
// to the Model they are connected to; Model hierarchy and local TRS are kept.
func DecodeFBX(ctx context.Context, data []byte, progress ProgressFunc) (*scenegraph.Graph, error) {
	doc, err := parseFBX(data)
	if err != nil {
		return nil, err
	}
	progress.report(1, 3)

	objects := doc.Node("Objects")
	if objects == nil {
		return scenegraph.New("fbx"), nil
	}

	var (
		modelOrder []int64
		models     = make(map[int64]*scenegraph.Node)
		meshes     = make(map[int64]*scenegraph.Mesh)
		meshOrder  []int64
		materials  = make(map[int64]*scenegraph.Material)
		textures   = make(map[int64]*scenegraph.Texture)
	)

	for i, obj := range objects.Children {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		id, ok := fbxInt(obj.prop(0))
		if !ok {
			continue
		}
		name := fbxObjectName(obj.prop(1))

		switch obj.Name {
		case "Model":
			node := scenegraph.NewNode(name)
			applyFBXTransform(node, obj.Child("Properties70"))
			models[id] = node
			modelOrder = append(modelOrder, id)
		case "Geometry":
			mesh, err := buildFBXMesh(name, obj)
			if err != nil {
				return nil, fmt.Errorf("geometry %q: %w", name, err)
			}
			if mesh != nil {
				meshes[id] = mesh
				meshOrder = append(meshOrder, id)
			}
		case "Material":
			materials[id] = buildFBXMaterial(name, obj.Child("Properties70"))
		case "Texture":
			textures[id] = &scenegraph.Texture{Name: name}
		}
	}
	progress.report(2, 3)

	parents := make(map[int64]int64)
	attached := make(map[int64]bool)
	modelMaterials := make(map[int64][]*scenegraph.Material)

	if conns := doc.Node("Connections"); conns != nil {
		for _, c := range conns.Children {
			if c.Name != "C" || len(c.Props) < 3 {
				continue
			}
			kind, _ := c.Props[0].(string)
			child, ok1 := fbxInt(c.Props[1])
			parent, ok2 := fbxInt(c.Props[2])
			if !ok1 || !ok2 {
				continue
			}

			switch {
			case kind == "OP":
				tex, okTex := textures[child]
				mat, okMat := materials[parent]
				if okTex && okMat {
					slotName, _ := c.prop(3).(string)
					if slot, ok := fbxTextureSlot(slotName); ok {
						mat.Maps[slot] = tex
					}
				}
			case meshes[child] != nil && models[parent] != nil:
				model := models[parent]
				if model.Mesh == nil {
					model.Mesh = meshes[child]
				} else {
					extra := scenegraph.NewNode(model.Name + "_geometry")
					extra.Mesh = meshes[child]
					model.Add(extra)
				}
				attached[child] = true
			case materials[child] != nil && models[parent] != nil:
				modelMaterials[parent] = append(modelMaterials[parent], materials[child])
			case models[child] != nil:
				parents[child] = parent
			}
		}
	}

	g := scenegraph.New("fbx")
	for _, id := range modelOrder {
		node := models[id]
		if node.Mesh != nil {
			node.Mesh.Materials = append(node.Mesh.Materials, modelMaterials[id]...)
		}
		if parent, ok := models[parents[id]]; ok && parents[id] != id {
			parent.Add(node)
		} else {
			g.Root.Add(node)
		}
	}
	for _, id := range meshOrder {
		if !attached[id] {
			node := scenegraph.NewNode(meshes[id].Name)
			node.Mesh = meshes[id]
			g.Root.Add(node)
		}
	}

	progress.report(3, 3)
	return g, nil
}

func (n *fbxNode) prop(i int) any {
	if i < len(n.Props) {
		return n.Props[i]
	}
	return nil
}

// buildFBXMesh triangulates PolygonVertexIndex, where a negative entry (bitwise
// complemented) closes a polygon. Returns nil for non-mesh geometry.
func buildFBXMesh(name string, geom *fbxNode) (*scenegraph.Mesh, error) {
	vertNode := geom.Child("Vertices")
	if vertNode == nil {
		return nil, nil
	}
	coords, _ := vertNode.prop(0).([]float64)
	positions := make([][3]float32, len(coords)/3)
	for i := range positions {
		positions[i] = [3]float32{float32(coords[i*3]), float32(coords[i*3+1]), float32(coords[i*3+2])}
	}

	mesh := &scenegraph.Mesh{Name: name, Positions: positions}
	idxNode := geom.Child("PolygonVertexIndex")
	if idxNode == nil {
		return mesh, nil
	}
	raw, _ := idxNode.prop(0).([]int64)

	var polygon []uint32
	for _, v := range raw {
		last := v < 0
		if last {
			v = ^v
		}
		if v >= int64(len(positions)) {
			return nil, fmt.Errorf("%w: %d with %d vertices", ErrInvalidFBXPolygonVertex, v, len(positions))
		}
		polygon = append(polygon, uint32(v))
		if last {
			for i := 1; i+1 < len(polygon); i++ {
				mesh.Indices = append(mesh.Indices, polygon[0], polygon[i], polygon[i+1])
			}
			polygon = polygon[:0]
		}
	}
	return mesh, nil
}

func buildFBXMaterial(name string, props *fbxNode) *scenegraph.Material {
	mat := defaultMaterial(name)
	for _, p := range fbxProperties(props) {
		key, _ := p.prop(0).(string)
		switch key {
		case "DiffuseColor":
			if v, ok := fbxVec3(p); ok {
				mat.BaseColor = [4]float64{v.X, v.Y, v.Z, 1}
			}
		case "Opacity":
			if f, ok := fbxFloat(p.prop(4)); ok {
				mat.BaseColor[3] = f
			}
		}
	}
	return mat
}

func applyFBXTransform(node *scenegraph.Node, props *fbxNode) {
	for _, p := range fbxProperties(props) {
		key, _ := p.prop(0).(string)
		v, ok := fbxVec3(p)
		if !ok {
			continue
		}
		switch key {
		case "Lcl Translation":
			node.Translation = v
		case "Lcl Scaling":
			node.Scale = v
		case "Lcl Rotation":
			node.Rotation = eulerXYZDegrees(v)
		}
	}
}

// eulerXYZDegrees converts FBX's default XYZ Euler order to a quaternion.
func eulerXYZDegrees(deg math.Vec3) math.Quat {
	toRad := gomath.Pi / 180
	qx := math.QuatFromAxisAngle(math.Vec3{X: 1}, deg.X*toRad)
	qy := math.QuatFromAxisAngle(math.Vec3{Y: 1}, deg.Y*toRad)
	qz := math.QuatFromAxisAngle(math.Vec3{Z: 1}, deg.Z*toRad)
	return qz.Mul(qy).Mul(qx)
}

func fbxProperties(props *fbxNode) []*fbxNode {
	if props == nil {
		return nil
	}
	var out []*fbxNode
	for _, c := range props.Children {
		if c.Name == "P" {
			out = append(out, c)
		}
	}
	return out
}

// fbxVec3 reads the three values of a Properties70 "P" entry (name, type,
// label, flags, x, y, z).
func fbxVec3(p *fbxNode) (math.Vec3, bool) {
	x, ok1 := fbxFloat(p.prop(4))
	y, ok2 := fbxFloat(p.prop(5))
	z, ok3 := fbxFloat(p.prop(6))
	return math.Vec3{X: x, Y: y, Z: z}, ok1 && ok2 && ok3
}

func fbxTextureSlot(property string) (scenegraph.MapSlot, bool) {
	switch property {
	case "DiffuseColor", "BaseColor":
		return scenegraph.MapBaseColor, true
	case "EmissiveColor":
		return scenegraph.MapEmissive, true
	case "NormalMap", "Bump":
		return scenegraph.MapNormal, true
	case "ShininessExponent", "Roughness":
		return scenegraph.MapRoughness, true
	case "ReflectionFactor", "Metalness":
		return scenegraph.MapMetalness, true
	case "AmbientOcclusion":
		return scenegraph.MapOcclusion, true
	default:
		return 0, false
	}
}

// fbxObjectName strips the "\x00\x01Class" suffix FBX appends to object names.
func fbxObjectName(v any) string {
	s, _ := v.(string)
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return s
}

func fbxInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	default:
		return 0, false
	}
}

func fbxFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64, int32, int16:
		i, _ := fbxInt(n)
		return float64(i), true
	default:
		return 0, false
	}
}
