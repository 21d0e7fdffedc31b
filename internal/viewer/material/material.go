// Package material fills in missing materials and tags texture color spaces
// so metallic-roughness shading reads each map correctly.
package material

import (
	"github.com/Faultbox/assetview/pkg/math"
	"github.com/Faultbox/assetview/pkg/scenegraph"
)

// DefaultName names the material assigned to meshes that have none.
const DefaultName = "default"

// Default returns a neutral mid-grey, double-sided material.
//
// A new value is returned on every call so meshes never share it.
func Default() *scenegraph.Material {
	return &scenegraph.Material{
		Name:        DefaultName,
		BaseColor:   [4]float64{0.5, 0.5, 0.5, 1},
		Roughness:   0.5,
		Metalness:   0.1,
		DoubleSided: true,
		Maps:        make(map[scenegraph.MapSlot]*scenegraph.Texture),
	}
}

// SlotColorSpace returns the color space a map in slot s is encoded in.
// Color data is display-referred; everything else is linear data.
func SlotColorSpace(s scenegraph.MapSlot) scenegraph.ColorSpace {
	switch s {
	case scenegraph.MapBaseColor, scenegraph.MapEmissive:
		return scenegraph.ColorSpaceSRGB
	default:
		return scenegraph.ColorSpaceLinear
	}
}

// Report counts what Normalize changed.
type Report struct {
	Meshes    int // Mesh nodes visited
	Defaulted int // Default materials assigned to empty meshes or nil slots
	Materials int // Distinct existing materials corrected
	Textures  int // Distinct textures tagged
}

// Normalize corrects every mesh in g in place. It never fails.
func Normalize(g *scenegraph.Graph) Report {
	var r Report
	seenMat := make(map[*scenegraph.Material]bool)
	seenTex := make(map[*scenegraph.Texture]bool)

	g.Walk(func(n *scenegraph.Node, _ math.Mat4) {
		m := n.Mesh
		if m == nil {
			return
		}
		r.Meshes++
		m.CastShadow = true
		m.ReceiveShadow = true

		if !hasMaterial(m) {
			m.Materials = []*scenegraph.Material{Default()}
			r.Defaulted++
			return
		}
		for i, mat := range m.Materials {
			if mat == nil {
				m.Materials[i] = Default()
				r.Defaulted++
				continue
			}
			if seenMat[mat] {
				continue
			}
			seenMat[mat] = true
			r.Materials++
			mat.DoubleSided = true
			// A texture shared between slots takes the first slot's color space.
			for _, slot := range scenegraph.MapSlots() {
				tex := mat.Maps[slot]
				if tex == nil || seenTex[tex] {
					continue
				}
				seenTex[tex] = true
				tex.ColorSpace = SlotColorSpace(slot)
				r.Textures++
			}
		}
	})
	return r
}

func hasMaterial(m *scenegraph.Mesh) bool {
	for _, mat := range m.Materials {
		if mat != nil {
			return true
		}
	}
	return false
}
