package math

import (
	"math"
	"testing"
)

func TestIdentity(t *testing.T) {
	m := Identity()
	// Diagonal should be 1
	if m[0] != 1 || m[5] != 1 || m[10] != 1 || m[15] != 1 {
		t.Error("Identity diagonal should be 1")
	}
	// Off-diagonal should be 0
	if m[1] != 0 || m[4] != 0 {
		t.Error("Identity off-diagonal should be 0")
	}
}

func TestMulIdentity(t *testing.T) {
	m := Translate(Vec3{1, 2, 3})
	result := m.Mul(Identity())

	for i := 0; i < 16; i++ {
		if result[i] != m[i] {
			t.Errorf("M * I should equal M, element %d: got %f, want %f", i, result[i], m[i])
		}
	}
}

func TestTranslate(t *testing.T) {
	m := Translate(Vec3{5, 10, 15})

	// Translation should be in column 4 (indices 12, 13, 14)
	if m[12] != 5 || m[13] != 10 || m[14] != 15 {
		t.Errorf("Translate: got (%f, %f, %f), want (5, 10, 15)", m[12], m[13], m[14])
	}
}

func TestTransformVec3(t *testing.T) {
	tests := []struct {
		name string
		m    Mat4
		p    Vec3
		want Vec3
	}{
		{"translate", Translate(Vec3{10, 20, 30}), Vec3{1, 2, 3}, Vec3{11, 22, 33}},
		{"scale", Scale(Vec3{2, 2, 2}), Vec3{1, 2, 3}, Vec3{2, 4, 6}},
		{"scale then translate", Translate(Vec3{-5, -5, -5}).Mul(Scale(Vec3{2, 2, 2})), Vec3{1, 1, 1}, Vec3{-3, -3, -3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.m.TransformVec3(tt.p)
			if got != tt.want {
				t.Errorf("TransformVec3() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromTRS(t *testing.T) {
	rot := QuatFromAxisAngle(Vec3{0, 1, 0}, math.Pi/2)
	m := FromTRS(Vec3{1, 0, 0}, rot, Vec3{2, 2, 2})

	// (1,0,0) scaled to (2,0,0), rotated 90deg about Y to (0,0,-2), moved to (1,0,-2)
	got := m.TransformVec3(Vec3{1, 0, 0})
	if !got.ApproxEqual(Vec3{1, 0, -2}, 1e-9) {
		t.Errorf("FromTRS point = %v, want (1, 0, -2)", got)
	}
}

func TestTransformDirectionIgnoresTranslation(t *testing.T) {
	m := Translate(Vec3{100, 100, 100})
	got := m.TransformDirection(Vec3{0, 1, 0})
	if got != (Vec3{0, 1, 0}) {
		t.Errorf("TransformDirection() = %v, want (0, 1, 0)", got)
	}
}

func TestLookAt(t *testing.T) {
	m := LookAt(Vec3{0, 0, 5}, Vec3{}, Vec3{0, 1, 0})

	// The eye maps to the view-space origin.
	got := m.TransformVec3(Vec3{0, 0, 5})
	if !got.ApproxEqual(Vec3{}, 1e-9) {
		t.Errorf("LookAt eye = %v, want origin", got)
	}
}

func TestMat4IsFinite(t *testing.T) {
	if !Identity().IsFinite() {
		t.Error("identity should be finite")
	}
	m := Identity()
	m[3] = math.NaN()
	if m.IsFinite() {
		t.Error("matrix with NaN should not be finite")
	}
}
