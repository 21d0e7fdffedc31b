package material

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Faultbox/assetview/pkg/scenegraph"
)

func TestNormalizeAssignsDefault(t *testing.T) {
	g := scenegraph.New("root")
	bare := scenegraph.NewNode("bare")
	bare.Mesh = &scenegraph.Mesh{Positions: [][3]float32{{0, 0, 0}}}
	holes := scenegraph.NewNode("holes")
	holes.Mesh = &scenegraph.Mesh{Materials: []*scenegraph.Material{nil}}
	g.Root.Add(bare, holes)

	r := Normalize(g)

	if diff := cmp.Diff(Report{Meshes: 2, Defaulted: 2}, r); diff != "" {
		t.Errorf("Report mismatch (-want +got):\n%s", diff)
	}
	for _, n := range []*scenegraph.Node{bare, holes} {
		if len(n.Mesh.Materials) != 1 {
			t.Fatalf("%s: expected 1 material, got %d", n.Name, len(n.Mesh.Materials))
		}
		if diff := cmp.Diff(Default(), n.Mesh.Materials[0]); diff != "" {
			t.Errorf("%s: material mismatch (-want +got):\n%s", n.Name, diff)
		}
		if !n.Mesh.CastShadow || !n.Mesh.ReceiveShadow {
			t.Errorf("%s: shadows not enabled", n.Name)
		}
	}
	if bare.Mesh.Materials[0] == holes.Mesh.Materials[0] {
		t.Error("default material should not be shared between meshes")
	}
}

func TestDefaultIsNeutral(t *testing.T) {
	m := Default()
	if m.BaseColor != [4]float64{0.5, 0.5, 0.5, 1} {
		t.Errorf("BaseColor = %v, want mid-grey", m.BaseColor)
	}
	if m.Roughness != 0.5 || m.Metalness > 0.2 || !m.DoubleSided {
		t.Errorf("Default() = %+v", m)
	}
}

func TestNormalizeTagsColorSpaces(t *testing.T) {
	packed := &scenegraph.Texture{Name: "orm"}
	mat := &scenegraph.Material{
		Name: "wood",
		Maps: map[scenegraph.MapSlot]*scenegraph.Texture{
			scenegraph.MapBaseColor: {Name: "albedo"},
			scenegraph.MapEmissive:  {Name: "glow"},
			scenegraph.MapNormal:    {Name: "normal", ColorSpace: scenegraph.ColorSpaceSRGB},
			scenegraph.MapRoughness: packed,
			scenegraph.MapMetalness: packed,
			scenegraph.MapOcclusion: {Name: "ao"},
		},
	}

	g := scenegraph.New("root")
	for _, name := range []string{"a", "b"} {
		n := scenegraph.NewNode(name)
		n.Mesh = &scenegraph.Mesh{Materials: []*scenegraph.Material{mat}}
		g.Root.Add(n)
	}

	r := Normalize(g)

	if diff := cmp.Diff(Report{Meshes: 2, Materials: 1, Textures: 5}, r); diff != "" {
		t.Errorf("Report mismatch (-want +got):\n%s", diff)
	}
	if !mat.DoubleSided {
		t.Error("existing material not forced double-sided")
	}
	want := map[scenegraph.MapSlot]scenegraph.ColorSpace{
		scenegraph.MapBaseColor: scenegraph.ColorSpaceSRGB,
		scenegraph.MapEmissive:  scenegraph.ColorSpaceSRGB,
		scenegraph.MapNormal:    scenegraph.ColorSpaceLinear,
		scenegraph.MapRoughness: scenegraph.ColorSpaceLinear,
		scenegraph.MapMetalness: scenegraph.ColorSpaceLinear,
		scenegraph.MapOcclusion: scenegraph.ColorSpaceLinear,
	}
	for slot, cs := range want {
		if got := mat.Maps[slot].ColorSpace; got != cs {
			t.Errorf("%s map tagged %s, want %s", slot, got, cs)
		}
	}
}

func TestNormalizeKeepsMixedSlots(t *testing.T) {
	mat := &scenegraph.Material{Name: "metal"}
	n := scenegraph.NewNode("mixed")
	n.Mesh = &scenegraph.Mesh{Materials: []*scenegraph.Material{mat, nil}}
	g := scenegraph.New("root")
	g.Root.Add(n)

	r := Normalize(g)

	if diff := cmp.Diff(Report{Meshes: 1, Defaulted: 1, Materials: 1}, r); diff != "" {
		t.Errorf("Report mismatch (-want +got):\n%s", diff)
	}
	if n.Mesh.Materials[0] != mat {
		t.Error("existing material replaced")
	}
	if n.Mesh.Materials[1] == nil || n.Mesh.Materials[1].Name != DefaultName {
		t.Error("nil material slot not filled with default")
	}
}

func TestNormalizeSharedTextureTakesColorSlot(t *testing.T) {
	for i := 0; i < 20; i++ {
		shared := &scenegraph.Texture{Name: "atlas"}
		mat := &scenegraph.Material{
			Name: "atlas",
			Maps: map[scenegraph.MapSlot]*scenegraph.Texture{
				scenegraph.MapOcclusion: shared,
				scenegraph.MapNormal:    shared,
				scenegraph.MapBaseColor: shared,
			},
		}
		n := scenegraph.NewNode("atlas")
		n.Mesh = &scenegraph.Mesh{Materials: []*scenegraph.Material{mat}}
		g := scenegraph.New("root")
		g.Root.Add(n)

		r := Normalize(g)

		if r.Textures != 1 {
			t.Fatalf("Textures = %d, want 1", r.Textures)
		}
		if shared.ColorSpace != scenegraph.ColorSpaceSRGB {
			t.Fatalf("run %d: shared texture tagged %s, want %s", i, shared.ColorSpace, scenegraph.ColorSpaceSRGB)
		}
	}
}
