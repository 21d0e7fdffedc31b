// Wavefront OBJ decoder.
package formats

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Faultbox/assetview/pkg/scenegraph"
)

// OBJ format errors.
var (
	ErrInvalidOBJVertex = errors.New("invalid OBJ vertex")
	ErrInvalidOBJFace   = errors.New("invalid OBJ face")
	ErrInvalidOBJIndex  = errors.New("OBJ face index out of range")
)

const objChunk = 4096

// objGroup accumulates one "o"/"g" section. Vertices are shared file-wide in
// OBJ, so each group remaps the global indices it references.
type objGroup struct {
	name      string
	remap     map[int]uint32
	positions [][3]float32
	indices   []uint32
	materials []*scenegraph.Material
}

func newOBJGroup(name string) *objGroup {
	return &objGroup{name: name, remap: make(map[int]uint32)}
}

func (g *objGroup) vertex(global int, all [][3]float32) uint32 {
	if idx, ok := g.remap[global]; ok {
		return idx
	}
	idx := uint32(len(g.positions))
	g.positions = append(g.positions, all[global])
	g.remap[global] = idx
	return idx
}

// DecodeOBJ decodes OBJ text. Each object or group with faces becomes one mesh
// node. mtllib references cannot be resolved from a single blob, so usemtl
// only names the material.
func DecodeOBJ(ctx context.Context, data []byte, progress ProgressFunc) (*scenegraph.Graph, error) {
	var (
		vertices  [][3]float32
		groups    []*objGroup
		materials = make(map[string]*scenegraph.Material)
	)
	current := newOBJGroup("default")
	groups = append(groups, current)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	consumed := 0
	line := 0
	for scanner.Scan() {
		line++
		consumed += len(scanner.Bytes()) + 1
		if line%objChunk == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			progress.report(consumed, len(data))
		}

		text := scanner.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("%w: line %d", ErrInvalidOBJVertex, line)
			}
			var p [3]float32
			for i := 0; i < 3; i++ {
				f, err := strconv.ParseFloat(fields[i+1], 32)
				if err != nil {
					return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidOBJVertex, line, err)
				}
				p[i] = float32(f)
			}
			vertices = append(vertices, p)

		case "o", "g":
			name := "default"
			if len(fields) > 1 {
				name = strings.Join(fields[1:], " ")
			}
			// Reuse an empty group rather than leaving faceless meshes behind.
			if len(current.indices) == 0 {
				current.name = name
			} else {
				current = newOBJGroup(name)
				groups = append(groups, current)
			}

		case "usemtl":
			if len(fields) < 2 {
				continue
			}
			name := fields[1]
			mat, ok := materials[name]
			if !ok {
				mat = defaultMaterial(name)
				materials[name] = mat
			}
			if !containsMaterial(current.materials, mat) {
				current.materials = append(current.materials, mat)
			}

		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("%w: line %d: need at least 3 vertices", ErrInvalidOBJFace, line)
			}
			corner := make([]uint32, 0, len(fields)-1)
			for _, ref := range fields[1:] {
				global, err := resolveOBJIndex(ref, len(vertices))
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				corner = append(corner, current.vertex(global, vertices))
			}
			// Triangulate polygons as a fan around the first corner.
			for i := 1; i+1 < len(corner); i++ {
				current.indices = append(current.indices, corner[0], corner[i], corner[i+1])
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading OBJ: %w", err)
	}

	g := scenegraph.New("obj")
	for _, grp := range groups {
		if len(grp.indices) == 0 {
			continue
		}
		node := scenegraph.NewNode(grp.name)
		node.Mesh = &scenegraph.Mesh{
			Name:      grp.name,
			Positions: grp.positions,
			Indices:   grp.indices,
			Materials: grp.materials,
		}
		g.Root.Add(node)
	}
	progress.report(len(data), len(data))
	return g, nil
}

// resolveOBJIndex parses the position part of a face reference ("7", "7/2",
// "7//3", "-1") into a zero-based index.
func resolveOBJIndex(ref string, count int) (int, error) {
	if i := strings.IndexByte(ref, '/'); i >= 0 {
		ref = ref[:i]
	}
	n, err := strconv.Atoi(ref)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOBJFace, ref)
	}
	idx := n - 1
	if n < 0 {
		idx = count + n
	}
	if idx < 0 || idx >= count {
		return 0, fmt.Errorf("%w: %d with %d vertices", ErrInvalidOBJIndex, n, count)
	}
	return idx, nil
}

func containsMaterial(list []*scenegraph.Material, m *scenegraph.Material) bool {
	for _, x := range list {
		if x == m {
			return true
		}
	}
	return false
}
