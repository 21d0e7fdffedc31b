// glTF 2.0 decoder for both the JSON (.gltf) and binary (.glb) containers.
package formats

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/Faultbox/assetview/pkg/math"
	"github.com/Faultbox/assetview/pkg/scenegraph"
)

// glTF format errors.
var (
	ErrInvalidGLTF      = errors.New("invalid glTF document")
	ErrDracoUnsupported = errors.New("draco-compressed glTF requires a Draco decoder")
	ErrGLTFAccessor     = errors.New("glTF accessor read failed")
)

const dracoExtension = "KHR_draco_mesh_compression"

// DecodeGLTF decodes a self-contained glTF or GLB asset. Buffers must be
// embedded (GLB BIN chunk or data URIs); external files cannot be resolved
// from a single uploaded blob.
func DecodeGLTF(ctx context.Context, data []byte, progress ProgressFunc) (*scenegraph.Graph, error) {
	if err := checkGLBBuffers(data); err != nil {
		return nil, err
	}
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGLTF, err)
	}
	for _, ext := range doc.ExtensionsRequired {
		if ext == dracoExtension {
			return nil, ErrDracoUnsupported
		}
	}

	b := &gltfBuilder{
		doc:       doc,
		materials: make(map[int]*scenegraph.Material),
		visited:   make(map[int]bool),
		progress:  progress,
		total:     len(doc.Nodes),
	}

	g := scenegraph.New("gltf")
	for _, idx := range rootNodes(doc) {
		node, err := b.node(ctx, idx)
		if err != nil {
			return nil, err
		}
		if node != nil {
			g.Root.Add(node)
		}
	}
	progress.report(1, 1)
	return g, nil
}

// checkGLBBuffers rejects GLB buffers declaring more bytes than the whole
// container holds. gltf allocates the BIN chunk from buffer.byteLength.
func checkGLBBuffers(data []byte) error {
	if len(data) < 20 || string(data[:4]) != "glTF" {
		return nil
	}
	jsonLen := int64(binary.LittleEndian.Uint32(data[12:16]))
	if 20+jsonLen > int64(len(data)) {
		return fmt.Errorf("%w: JSON chunk of %d bytes in %d-byte container", ErrInvalidGLTF, jsonLen, len(data))
	}
	var head struct {
		Buffers []struct {
			ByteLength int64 `json:"byteLength"`
		} `json:"buffers"`
	}
	if err := json.NewDecoder(bytes.NewReader(data[20 : 20+jsonLen])).Decode(&head); err != nil {
		return nil
	}
	for i, buf := range head.Buffers {
		if buf.ByteLength < 0 || buf.ByteLength > int64(len(data)) {
			return fmt.Errorf("%w: buffer %d declares %d bytes in %d-byte container", ErrInvalidGLTF, i, buf.ByteLength, len(data))
		}
	}
	return nil
}

// rootNodes returns the default scene's nodes, falling back to every node
// that is nobody's child when the document declares no scene.
func rootNodes(doc *gltf.Document) []int {
	if len(doc.Scenes) > 0 {
		scene := 0
		if doc.Scene != nil && *doc.Scene < len(doc.Scenes) {
			scene = *doc.Scene
		}
		return doc.Scenes[scene].Nodes
	}
	isChild := make(map[int]bool)
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			isChild[c] = true
		}
	}
	var roots []int
	for i := range doc.Nodes {
		if !isChild[i] {
			roots = append(roots, i)
		}
	}
	return roots
}

type gltfBuilder struct {
	doc       *gltf.Document
	materials map[int]*scenegraph.Material
	visited   map[int]bool
	progress  ProgressFunc
	done      int
	total     int
}

func (b *gltfBuilder) node(ctx context.Context, idx int) (*scenegraph.Node, error) {
	if idx < 0 || idx >= len(b.doc.Nodes) || b.visited[idx] {
		return nil, nil
	}
	b.visited[idx] = true
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := b.doc.Nodes[idx]
	node := scenegraph.NewNode(src.Name)

	m := src.MatrixOrDefault()
	if m != identityMatrix {
		local := math.Mat4(m)
		node.Matrix = &local
	} else {
		t := src.TranslationOrDefault()
		r := src.RotationOrDefault()
		s := src.ScaleOrDefault()
		node.Translation = math.Vec3{X: t[0], Y: t[1], Z: t[2]}
		node.Rotation = math.Quat{X: r[0], Y: r[1], Z: r[2], W: r[3]}
		node.Scale = math.Vec3{X: s[0], Y: s[1], Z: s[2]}
	}

	if src.Mesh != nil && *src.Mesh < len(b.doc.Meshes) {
		meshes, err := b.meshes(*src.Mesh)
		if err != nil {
			return nil, err
		}
		// A single primitive sits on the node; several become child nodes.
		if len(meshes) == 1 {
			node.Mesh = meshes[0]
		} else {
			for _, mesh := range meshes {
				child := scenegraph.NewNode(mesh.Name)
				child.Mesh = mesh
				node.Add(child)
			}
		}
	}

	b.done++
	b.progress.report(b.done, b.total)

	for _, c := range src.Children {
		child, err := b.node(ctx, c)
		if err != nil {
			return nil, err
		}
		if child != nil {
			node.Add(child)
		}
	}
	return node, nil
}

var identityMatrix = [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

func (b *gltfBuilder) meshes(idx int) ([]*scenegraph.Mesh, error) {
	src := b.doc.Meshes[idx]
	var out []*scenegraph.Mesh
	for i, prim := range src.Primitives {
		for name := range prim.Extensions {
			if name == dracoExtension {
				return nil, ErrDracoUnsupported
			}
		}
		posIdx, ok := prim.Attributes[gltf.POSITION]
		if !ok || posIdx >= len(b.doc.Accessors) {
			continue
		}
		if err := checkAccessor(b.doc, b.doc.Accessors[posIdx]); err != nil {
			return nil, fmt.Errorf("%w: mesh %q primitive %d positions: %v", ErrGLTFAccessor, src.Name, i, err)
		}
		positions, err := modeler.ReadPosition(b.doc, b.doc.Accessors[posIdx], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: mesh %q primitive %d positions: %v", ErrGLTFAccessor, src.Name, i, err)
		}

		mesh := &scenegraph.Mesh{Name: src.Name, Positions: positions}
		if len(src.Primitives) > 1 {
			mesh.Name = fmt.Sprintf("%s_%d", src.Name, i)
		}
		if prim.Indices != nil && *prim.Indices < len(b.doc.Accessors) {
			if err := checkAccessor(b.doc, b.doc.Accessors[*prim.Indices]); err != nil {
				return nil, fmt.Errorf("%w: mesh %q primitive %d indices: %v", ErrGLTFAccessor, src.Name, i, err)
			}
			indices, err := modeler.ReadIndices(b.doc, b.doc.Accessors[*prim.Indices], nil)
			if err != nil {
				return nil, fmt.Errorf("%w: mesh %q primitive %d indices: %v", ErrGLTFAccessor, src.Name, i, err)
			}
			mesh.Indices = indices
		}
		if prim.Material != nil && *prim.Material < len(b.doc.Materials) {
			mesh.Materials = []*scenegraph.Material{b.material(*prim.Material)}
		}
		out = append(out, mesh)
	}
	return out, nil
}

// checkAccessor verifies that every element acr describes lies inside its
// buffer view and that the view lies inside the loaded buffer. modeler sizes
// its output from acr.Count alone.
func checkAccessor(doc *gltf.Document, acr *gltf.Accessor) error {
	if acr == nil {
		return errors.New("nil accessor")
	}
	if acr.BufferView == nil {
		return errors.New("accessor without buffer view")
	}
	if err := checkView(doc, *acr.BufferView, acr.ByteOffset, acr.Count, gltf.SizeOfElement(acr.ComponentType, acr.Type)); err != nil {
		return err
	}
	if sp := acr.Sparse; sp != nil {
		if sp.Count < 0 || sp.Count > acr.Count {
			return fmt.Errorf("sparse count %d exceeds accessor count %d", sp.Count, acr.Count)
		}
		if err := checkView(doc, sp.Indices.BufferView, sp.Indices.ByteOffset, sp.Count, sp.Indices.ComponentType.ByteSize()); err != nil {
			return fmt.Errorf("sparse indices: %w", err)
		}
		if err := checkView(doc, sp.Values.BufferView, sp.Values.ByteOffset, sp.Count, gltf.SizeOfElement(acr.ComponentType, acr.Type)); err != nil {
			return fmt.Errorf("sparse values: %w", err)
		}
	}
	return nil
}

func checkView(doc *gltf.Document, viewIdx, offset, count, elemSize int) error {
	if viewIdx < 0 || viewIdx >= len(doc.BufferViews) || doc.BufferViews[viewIdx] == nil {
		return fmt.Errorf("buffer view %d out of range", viewIdx)
	}
	view := doc.BufferViews[viewIdx]
	if view.Buffer < 0 || view.Buffer >= len(doc.Buffers) || doc.Buffers[view.Buffer] == nil {
		return fmt.Errorf("buffer %d out of range", view.Buffer)
	}
	data := len(doc.Buffers[view.Buffer].Data)
	if view.ByteOffset < 0 || view.ByteLength < 0 || view.ByteOffset > data || view.ByteLength > data-view.ByteOffset {
		return fmt.Errorf("buffer view %d [%d+%d] outside %d-byte buffer", viewIdx, view.ByteOffset, view.ByteLength, data)
	}
	if count < 0 || elemSize <= 0 || offset < 0 || offset > view.ByteLength {
		return fmt.Errorf("bad accessor layout: offset %d count %d", offset, count)
	}
	if count == 0 {
		return nil
	}
	stride := view.ByteStride
	if stride < elemSize {
		stride = elemSize
	}
	avail := view.ByteLength - offset
	if avail < elemSize || count-1 > (avail-elemSize)/stride {
		return fmt.Errorf("%d elements of %d bytes exceed %d bytes in buffer view %d", count, elemSize, avail, viewIdx)
	}
	return nil
}

// material converts a glTF material once and shares it between primitives.
func (b *gltfBuilder) material(idx int) *scenegraph.Material {
	if m, ok := b.materials[idx]; ok {
		return m
	}
	src := b.doc.Materials[idx]
	mat := defaultMaterial(src.Name)
	mat.DoubleSided = src.DoubleSided
	mat.Metalness = 1

	if pbr := src.PBRMetallicRoughness; pbr != nil {
		mat.BaseColor = pbr.BaseColorFactorOrDefault()
		mat.Metalness = pbr.MetallicFactorOrDefault()
		mat.Roughness = pbr.RoughnessFactorOrDefault()
		if pbr.BaseColorTexture != nil {
			mat.Maps[scenegraph.MapBaseColor] = &scenegraph.Texture{Name: src.Name + ".baseColor"}
		}
		if pbr.MetallicRoughnessTexture != nil {
			// One texture: roughness in G, metalness in B.
			tex := &scenegraph.Texture{Name: src.Name + ".metallicRoughness"}
			mat.Maps[scenegraph.MapRoughness] = tex
			mat.Maps[scenegraph.MapMetalness] = tex
		}
	}
	if src.NormalTexture != nil {
		mat.Maps[scenegraph.MapNormal] = &scenegraph.Texture{Name: src.Name + ".normal"}
	}
	if src.EmissiveTexture != nil {
		mat.Maps[scenegraph.MapEmissive] = &scenegraph.Texture{Name: src.Name + ".emissive"}
	}
	if src.OcclusionTexture != nil {
		mat.Maps[scenegraph.MapOcclusion] = &scenegraph.Texture{Name: src.Name + ".occlusion"}
	}

	b.materials[idx] = mat
	return mat
}
