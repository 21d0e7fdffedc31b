// Package testassets generates small well-formed assets in every supported
// format for tests: an axis-aligned box as 8 vertices and 6 quads.
package testassets

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
)

// Box is an axis-aligned box in source units.
type Box struct {
	Min, Max [3]float32
}

// Cube returns a box of edge size centered at c.
func Cube(c [3]float32, size float32) Box {
	h := size / 2
	return Box{
		Min: [3]float32{c[0] - h, c[1] - h, c[2] - h},
		Max: [3]float32{c[0] + h, c[1] + h, c[2] + h},
	}
}

// Corners returns the 8 box corners.
func (b Box) Corners() [][3]float32 {
	lo, hi := b.Min, b.Max
	return [][3]float32{
		{lo[0], lo[1], lo[2]}, {hi[0], lo[1], lo[2]}, {hi[0], hi[1], lo[2]}, {lo[0], hi[1], lo[2]},
		{lo[0], lo[1], hi[2]}, {hi[0], lo[1], hi[2]}, {hi[0], hi[1], hi[2]}, {lo[0], hi[1], hi[2]},
	}
}

// Quads are the six faces as zero-based corner indices.
var Quads = [6][4]int{
	{0, 3, 2, 1}, {4, 5, 6, 7}, {0, 1, 5, 4},
	{3, 7, 6, 2}, {0, 4, 7, 3}, {1, 2, 6, 5},
}

// Triangles returns the 36 triangle-list indices.
func Triangles() []uint16 {
	var out []uint16
	for _, q := range Quads {
		out = append(out, uint16(q[0]), uint16(q[1]), uint16(q[2]), uint16(q[0]), uint16(q[2]), uint16(q[3]))
	}
	return out
}

// OBJ returns the box as Wavefront OBJ text.
func OBJ(b Box) []byte {
	var sb strings.Builder
	sb.WriteString("o Box\n")
	for _, c := range b.Corners() {
		fmt.Fprintf(&sb, "v %g %g %g\n", c[0], c[1], c[2])
	}
	sb.WriteString("usemtl Grey\n")
	for _, q := range Quads {
		fmt.Fprintf(&sb, "f %d %d %d %d\n", q[0]+1, q[1]+1, q[2]+1, q[3]+1)
	}
	return []byte(sb.String())
}

// STL returns the box as binary STL.
func STL(b Box) []byte {
	corners := b.Corners()
	tris := Triangles()
	buf := new(bytes.Buffer)
	buf.Write(make([]byte, 80))
	binary.Write(buf, binary.LittleEndian, uint32(len(tris)/3))
	for i := 0; i < len(tris); i += 3 {
		binary.Write(buf, binary.LittleEndian, [3]float32{})
		for _, idx := range tris[i : i+3] {
			binary.Write(buf, binary.LittleEndian, corners[idx])
		}
		binary.Write(buf, binary.LittleEndian, uint16(0))
	}
	return buf.Bytes()
}

// gltfBuffer packs positions followed by uint16 indices.
func gltfBuffer(b Box) []byte {
	buf := new(bytes.Buffer)
	for _, c := range b.Corners() {
		binary.Write(buf, binary.LittleEndian, c)
	}
	binary.Write(buf, binary.LittleEndian, Triangles())
	return buf.Bytes()
}

func gltfJSON(b Box, bufferURI string, bufferLen int) string {
	uri := ""
	if bufferURI != "" {
		uri = fmt.Sprintf(`,"uri":%q`, bufferURI)
	}
	return fmt.Sprintf(`{
  "asset": {"version": "2.0"},
  "scene": 0,
  "scenes": [{"nodes": [0]}],
  "nodes": [{"name": "Box", "mesh": 0}],
  "meshes": [{"name": "Box", "primitives": [{"attributes": {"POSITION": 0}, "indices": 1, "material": 0}]}],
  "materials": [{"name": "Paint", "pbrMetallicRoughness": {"baseColorFactor": [0.8, 0.1, 0.1, 1], "metallicFactor": 0.5, "roughnessFactor": 0.25}}],
  "accessors": [
    {"bufferView": 0, "componentType": 5126, "count": 8, "type": "VEC3", "min": [%g, %g, %g], "max": [%g, %g, %g]},
    {"bufferView": 1, "componentType": 5123, "count": 36, "type": "SCALAR"}
  ],
  "bufferViews": [
    {"buffer": 0, "byteOffset": 0, "byteLength": 96},
    {"buffer": 0, "byteOffset": 96, "byteLength": 72}
  ],
  "buffers": [{"byteLength": %d%s}]
}`, b.Min[0], b.Min[1], b.Min[2], b.Max[0], b.Max[1], b.Max[2], bufferLen, uri)
}

// GLTF returns the box as glTF JSON with an embedded data URI buffer.
func GLTF(b Box) []byte {
	data := gltfBuffer(b)
	uri := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(data)
	return []byte(gltfJSON(b, uri, len(data)))
}

// GLB returns the box as a binary glTF container.
func GLB(b Box) []byte {
	bin := gltfBuffer(b)
	return GLBContainer([]byte(gltfJSON(b, "", len(bin))), bin)
}

// GLBContainer wraps a JSON document and a BIN payload in a GLB v2 header.
func GLBContainer(js, bin []byte) []byte {
	js = append([]byte(nil), js...)
	bin = append([]byte(nil), bin...)
	for len(js)%4 != 0 {
		js = append(js, ' ')
	}
	for len(bin)%4 != 0 {
		bin = append(bin, 0)
	}

	buf := new(bytes.Buffer)
	buf.WriteString("glTF")
	binary.Write(buf, binary.LittleEndian, uint32(2))
	binary.Write(buf, binary.LittleEndian, uint32(12+8+len(js)+8+len(bin)))
	binary.Write(buf, binary.LittleEndian, uint32(len(js)))
	binary.Write(buf, binary.LittleEndian, uint32(0x4E4F534A)) // JSON
	buf.Write(js)
	binary.Write(buf, binary.LittleEndian, uint32(len(bin)))
	binary.Write(buf, binary.LittleEndian, uint32(0x004E4942)) // BIN
	buf.Write(bin)
	return buf.Bytes()
}

// DAE returns the box as a COLLADA document.
func DAE(b Box) []byte {
	var pos, vcount, p strings.Builder
	for _, c := range b.Corners() {
		fmt.Fprintf(&pos, "%g %g %g ", c[0], c[1], c[2])
	}
	for _, q := range Quads {
		vcount.WriteString("4 ")
		fmt.Fprintf(&p, "%d %d %d %d ", q[0], q[1], q[2], q[3])
	}
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<COLLADA xmlns="http://www.collada.org/2005/11/COLLADASchema" version="1.4.1">
  <asset><unit meter="1"/><up_axis>Y_UP</up_axis></asset>
  <library_materials><material id="Grey-material" name="Grey"/></library_materials>
  <library_geometries>
    <geometry id="Box-mesh" name="Box">
      <mesh>
        <source id="Box-positions">
          <float_array id="Box-positions-array" count="24">%s</float_array>
          <technique_common><accessor source="#Box-positions-array" count="8" stride="3"/></technique_common>
        </source>
        <vertices id="Box-vertices"><input semantic="POSITION" source="#Box-positions"/></vertices>
        <polylist material="Grey-material" count="6">
          <input semantic="VERTEX" source="#Box-vertices" offset="0"/>
          <vcount>%s</vcount>
          <p>%s</p>
        </polylist>
      </mesh>
    </geometry>
  </library_geometries>
  <library_visual_scenes>
    <visual_scene id="Scene">
      <node id="Box" name="Box"><instance_geometry url="#Box-mesh"/></node>
    </visual_scene>
  </library_visual_scenes>
  <scene><instance_visual_scene url="#Scene"/></scene>
</COLLADA>
`, pos.String(), vcount.String(), p.String()))
}

// FBX returns the box as a binary FBX 7.4 file.
func FBX(b Box) []byte {
	var coords []float64
	for _, c := range b.Corners() {
		coords = append(coords, float64(c[0]), float64(c[1]), float64(c[2]))
	}
	var polys []int32
	for _, q := range Quads {
		polys = append(polys, int32(q[0]), int32(q[1]), int32(q[2]), ^int32(q[3]))
	}
	return EncodeFBX(
		FBXNode{Name: "Objects", Children: []FBXNode{
			{Name: "Geometry", Props: []any{int64(1), "Box\x00\x01Geometry", "Mesh"}, Children: []FBXNode{
				{Name: "Vertices", Props: []any{coords}},
				{Name: "PolygonVertexIndex", Props: []any{polys}},
			}},
			{Name: "Model", Props: []any{int64(2), "Box\x00\x01Model", "Mesh"}},
		}},
		FBXNode{Name: "Connections", Children: []FBXNode{
			{Name: "C", Props: []any{"OO", int64(2), int64(0)}},
			{Name: "C", Props: []any{"OO", int64(1), int64(2)}},
		}},
	)
}

// Samples returns the box in every supported format keyed by file extension.
func Samples(b Box) map[string][]byte {
	return map[string][]byte{
		"glb":  GLB(b),
		"gltf": GLTF(b),
		"fbx":  FBX(b),
		"obj":  OBJ(b),
		"stl":  STL(b),
		"dae":  DAE(b),
	}
}
