// STL (stereolithography) decoder for binary and ASCII variants.
package formats

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Faultbox/assetview/pkg/scenegraph"
)

// STL format errors.
var (
	ErrTruncatedSTL    = errors.New("truncated STL data")
	ErrInvalidSTLASCII = errors.New("invalid ASCII STL")
)

const (
	stlHeaderSize   = 80
	stlTriangleSize = 50 // normal + 3 vertices (12 floats) + attribute count
	stlChunk        = 4096
)

// DecodeSTL decodes binary or ASCII STL into a single-mesh graph.
func DecodeSTL(ctx context.Context, data []byte, progress ProgressFunc) (*scenegraph.Graph, error) {
	var (
		positions [][3]float32
		err       error
	)
	if isBinarySTL(data) {
		positions, err = parseBinarySTL(ctx, data, progress)
	} else {
		positions, err = parseASCIISTL(ctx, data, progress)
	}
	if err != nil {
		return nil, err
	}

	g := scenegraph.New("stl")
	node := scenegraph.NewNode("solid")
	node.Mesh = &scenegraph.Mesh{Name: "solid", Positions: positions}
	g.Root.Add(node)
	return g, nil
}

// isBinarySTL distinguishes the variants. ASCII files start with "solid", but
// so do some binary exporters' headers, so the size check wins when it matches.
func isBinarySTL(data []byte) bool {
	if len(data) >= stlHeaderSize+4 {
		n := binary.LittleEndian.Uint32(data[stlHeaderSize:])
		if uint64(stlHeaderSize+4)+uint64(n)*stlTriangleSize == uint64(len(data)) {
			return true
		}
	}
	return !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("solid"))
}

func parseBinarySTL(ctx context.Context, data []byte, progress ProgressFunc) ([][3]float32, error) {
	if len(data) < stlHeaderSize+4 {
		return nil, ErrTruncatedSTL
	}
	count := int(binary.LittleEndian.Uint32(data[stlHeaderSize:]))
	body := data[stlHeaderSize+4:]
	if len(body) < count*stlTriangleSize {
		return nil, fmt.Errorf("%w: header declares %d triangles, have bytes for %d",
			ErrTruncatedSTL, count, len(body)/stlTriangleSize)
	}

	positions := make([][3]float32, 0, count*3)
	for i := 0; i < count; i++ {
		if i%stlChunk == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			progress.report(i, count)
		}
		tri := body[i*stlTriangleSize:]
		// Skip the 12-byte facet normal; it is recomputed by renderers.
		for v := 0; v < 3; v++ {
			off := 12 + v*12
			positions = append(positions, [3]float32{
				readFloat32(tri[off:]),
				readFloat32(tri[off+4:]),
				readFloat32(tri[off+8:]),
			})
		}
	}
	progress.report(count, count)
	return positions, nil
}

func parseASCIISTL(ctx context.Context, data []byte, progress ProgressFunc) ([][3]float32, error) {
	var positions [][3]float32
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	consumed := 0
	line := 0
	for scanner.Scan() {
		line++
		consumed += len(scanner.Bytes()) + 1
		if line%stlChunk == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			progress.report(consumed, len(data))
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0] != "vertex" {
			continue
		}
		if len(fields) != 4 {
			return nil, fmt.Errorf("%w: line %d: vertex needs 3 coordinates", ErrInvalidSTLASCII, line)
		}
		var p [3]float32
		for i := 0; i < 3; i++ {
			f, err := strconv.ParseFloat(fields[i+1], 32)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidSTLASCII, line, err)
			}
			p[i] = float32(f)
		}
		positions = append(positions, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSTLASCII, err)
	}
	if len(positions)%3 != 0 {
		return nil, fmt.Errorf("%w: %d vertices is not a whole number of facets", ErrInvalidSTLASCII, len(positions))
	}
	progress.report(len(data), len(data))
	return positions, nil
}

func readFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
