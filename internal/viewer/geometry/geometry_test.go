package geometry

import (
	"errors"
	gomath "math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Faultbox/assetview/pkg/math"
	"github.com/Faultbox/assetview/pkg/scenegraph"
)

func meshNode(name string, positions ...[3]float32) *scenegraph.Node {
	n := scenegraph.NewNode(name)
	n.Mesh = &scenegraph.Mesh{Name: name, Positions: positions}
	return n
}

func TestValidateWorldBounds(t *testing.T) {
	g := scenegraph.New("root")
	a := meshNode("a", [3]float32{0, 0, 0}, [3]float32{1, 1, 1})
	b := meshNode("b", [3]float32{-1, 0, 0}, [3]float32{1, 2, 0}, [3]float32{0, 0, 3})
	b.Translation = math.Vec3{X: 10}
	parent := scenegraph.NewNode("group")
	parent.Scale = math.Vec3{X: 2, Y: 2, Z: 2}
	parent.Add(b)
	g.Root.Add(a, parent)

	st, err := Validate(g)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	want := Stats{
		MeshCount:   2,
		VertexCount: 5,
		Bounds: math.Box3{
			Min: math.Vec3{X: 0, Y: 0, Z: 0},
			Max: math.Vec3{X: 22, Y: 4, Z: 6},
		},
	}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("Validate() mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateRotatedMesh(t *testing.T) {
	g := scenegraph.New("root")
	n := meshNode("bar", [3]float32{0, 0, 0}, [3]float32{4, 0, 0}, [3]float32{4, 1, 0})
	n.Rotation = math.QuatFromAxisAngle(math.Vec3{Z: 1}, gomath.Pi/2)
	g.Root.Add(n)

	st, err := Validate(g)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	want := math.Box3{Min: math.Vec3{X: -1, Y: 0}, Max: math.Vec3{X: 0, Y: 4}}
	if !st.Bounds.Min.ApproxEqual(want.Min, 1e-9) || !st.Bounds.Max.ApproxEqual(want.Max, 1e-9) {
		t.Errorf("Bounds = %+v, want %+v", st.Bounds, want)
	}
}

func TestValidateFailures(t *testing.T) {
	nan := float32(gomath.NaN())
	inf := float32(gomath.Inf(1))

	tests := []struct {
		name    string
		build   func(g *scenegraph.Graph)
		wantErr error
	}{
		{"no nodes", func(g *scenegraph.Graph) {}, ErrEmptyGeometry},
		{"only transforms", func(g *scenegraph.Graph) {
			g.Root.Add(scenegraph.NewNode("empty").Add(scenegraph.NewNode("leaf")))
		}, ErrEmptyGeometry},
		{"mesh without vertices", func(g *scenegraph.Graph) {
			g.Root.Add(meshNode("hollow"))
		}, ErrInvalidBounds},
		{"single point", func(g *scenegraph.Graph) {
			g.Root.Add(meshNode("dot", [3]float32{1, 2, 3}, [3]float32{1, 2, 3}))
		}, ErrDegenerateSize},
		{"nan vertex", func(g *scenegraph.Graph) {
			g.Root.Add(meshNode("bad", [3]float32{0, 0, 0}, [3]float32{nan, 1, 1}))
		}, ErrDegenerateSize},
		{"infinite vertex", func(g *scenegraph.Graph) {
			g.Root.Add(meshNode("far", [3]float32{0, 0, 0}, [3]float32{inf, 1, 1}))
		}, ErrDegenerateSize},
		{"zero scale", func(g *scenegraph.Graph) {
			n := meshNode("flat", [3]float32{0, 0, 0}, [3]float32{1, 1, 1})
			n.Scale = math.Vec3{}
			g.Root.Add(n)
		}, ErrDegenerateSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := scenegraph.New("root")
			tt.build(g)
			st, err := Validate(g)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if st != (Stats{}) {
				t.Errorf("Validate() returned partial stats %+v", st)
			}
		})
	}
}

func TestValidateNilGraph(t *testing.T) {
	if _, err := Validate(nil); !errors.Is(err, ErrEmptyGeometry) {
		t.Errorf("Validate(nil) error = %v, want ErrEmptyGeometry", err)
	}
}
