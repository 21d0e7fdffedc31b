package camera

import (
	"fmt"
	"strings"

	"github.com/Faultbox/assetview/pkg/math"
)

// Direction is a preset view direction. The camera sits on the named side of
// the origin and looks back at it.
type Direction int

const (
	Front Direction = iota
	Back
	Left
	Right
	Top
	Bottom
)

// Directions lists every preset.
func Directions() []Direction {
	return []Direction{Front, Back, Left, Right, Top, Bottom}
}

// Unit returns the unit vector from the origin to the camera for d. Y is up
// and the front of an asset faces +Z.
func (d Direction) Unit() math.Vec3 {
	switch d {
	case Front:
		return math.Vec3{Z: 1}
	case Back:
		return math.Vec3{Z: -1}
	case Left:
		return math.Vec3{X: -1}
	case Right:
		return math.Vec3{X: 1}
	case Top:
		return math.Vec3{Y: 1}
	case Bottom:
		return math.Vec3{Y: -1}
	default:
		return math.Vec3{Z: 1}
	}
}

func (d Direction) String() string {
	switch d {
	case Front:
		return "front"
	case Back:
		return "back"
	case Left:
		return "left"
	case Right:
		return "right"
	case Top:
		return "top"
	case Bottom:
		return "bottom"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection maps a preset name to a Direction.
func ParseDirection(s string) (Direction, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, d := range Directions() {
		if d.String() == s {
			return d, nil
		}
	}
	return Front, fmt.Errorf("unknown camera preset %q", s)
}
