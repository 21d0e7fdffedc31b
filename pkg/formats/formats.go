// Package formats identifies the supported 3D interchange formats and provides
// the default decoders that turn raw asset bytes into a scenegraph.Graph.
package formats

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Faultbox/assetview/pkg/scenegraph"
)

// ErrUnsupportedFormat is returned for tags and extensions outside the closed
// format set.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Format is a supported asset format tag.
type Format int

const (
	Unknown Format = iota
	GLB
	GLTF
	FBX
	OBJ
	STL
	DAE
)

// All lists every supported format in declaration order.
func All() []Format {
	return []Format{GLB, GLTF, FBX, OBJ, STL, DAE}
}

// String returns the lowercase tag, which is also the file extension.
func (f Format) String() string {
	switch f {
	case GLB:
		return "glb"
	case GLTF:
		return "gltf"
	case FBX:
		return "fbx"
	case OBJ:
		return "obj"
	case STL:
		return "stl"
	case DAE:
		return "dae"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	return f >= GLB && f <= DAE
}

// Parse maps a tag such as "glb" or ".GLB" to a Format.
func Parse(tag string) (Format, error) {
	tag = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(tag)), ".")
	for _, f := range All() {
		if f.String() == tag {
			return f, nil
		}
	}
	return Unknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, tag)
}

// FromFilename infers the format from the file extension.
func FromFilename(name string) (Format, error) {
	ext := filepath.Ext(name)
	if ext == "" {
		return Unknown, fmt.Errorf("%w: %q has no extension", ErrUnsupportedFormat, name)
	}
	return Parse(ext)
}

// ProgressFunc receives best-effort decode progress in percent (0-100).
type ProgressFunc func(percent int)

// report converts done/total to a percentage. Safe on a nil func.
func (p ProgressFunc) report(done, total int) {
	if p == nil || total <= 0 {
		return
	}
	pct := done * 100 / total
	if pct > 100 {
		pct = 100
	}
	p(pct)
}

// Decoder turns raw asset bytes into a scene graph. Decoders should check ctx
// between chunks of work and return ctx.Err() when it is done.
type Decoder func(ctx context.Context, data []byte, progress ProgressFunc) (*scenegraph.Graph, error)

// DefaultDecoders returns a fresh table with the built-in decoder for every
// supported format.
func DefaultDecoders() map[Format]Decoder {
	return map[Format]Decoder{
		GLB:  DecodeGLTF,
		GLTF: DecodeGLTF,
		FBX:  DecodeFBX,
		OBJ:  DecodeOBJ,
		STL:  DecodeSTL,
		DAE:  DecodeDAE,
	}
}

// defaultMaterial is used by decoders when a format names a material but
// carries no usable parameters.
func defaultMaterial(name string) *scenegraph.Material {
	return &scenegraph.Material{
		Name:      name,
		BaseColor: [4]float64{1, 1, 1, 1},
		Roughness: 1,
		Maps:      make(map[scenegraph.MapSlot]*scenegraph.Texture),
	}
}
