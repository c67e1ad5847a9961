package scene

import (
	"github.com/dshills/tabletop/internal/engine/geom"
	"github.com/dshills/tabletop/internal/engine/operation"
)

// Shape types understood by the scene.
const (
	TypeRect   = "rect"
	TypeCircle = "circle"
)

// Shape is a live shape on the canvas.
//
// Ref is the top-left corner for rects and the center for circles. Angle is
// in degrees around the shape center.
type Shape struct {
	ID     string
	Type   string
	Ref    geom.Point
	Width  float64
	Height float64
	Radius float64
	Angle  float64
	Floor  int
	Layer  string

	// attrs is the snapshot the shape was created from. It carries every
	// attribute the scene does not model so snapshots round-trip intact.
	attrs operation.Snapshot
}

// Center returns the rotation center of the shape.
func (s *Shape) Center() geom.Point {
	if s.Type == TypeRect {
		return geom.Pt(s.Ref.X+s.Width/2, s.Ref.Y+s.Height/2)
	}
	return s.Ref
}

// corner returns a rect corner in the unrotated frame:
// 0 top-left, 1 top-right, 2 bottom-right, 3 bottom-left.
func (s *Shape) corner(i int) geom.Point {
	switch i {
	case 1:
		return geom.Pt(s.Ref.X+s.Width, s.Ref.Y)
	case 2:
		return geom.Pt(s.Ref.X+s.Width, s.Ref.Y+s.Height)
	case 3:
		return geom.Pt(s.Ref.X, s.Ref.Y+s.Height)
	default:
		return s.Ref
	}
}

// Corner returns resize handle i of a rect (see Resize for numbering).
func (s *Shape) Corner(i int) geom.Point {
	return s.corner(i)
}

func (s *Shape) position() ShapePosition {
	return ShapePosition{UUID: s.ID, X: s.Ref.X, Y: s.Ref.Y, Angle: s.Angle}
}
