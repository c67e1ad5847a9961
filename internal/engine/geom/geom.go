// Package geom provides the small set of 2D primitives that shape operations
// carry as parameters: global points, vectors and rotation about a pivot.
package geom

import "math"

// Epsilon is the tolerance used when comparing coordinates.
const Epsilon = 1e-9

// Point is a position in global canvas coordinates.
type Point struct {
	X float64
	Y float64
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Add returns p translated by v.
func (p Point) Add(v Vector) Point {
	return Point{X: p.X + v.X, Y: p.Y + v.Y}
}

// Sub returns the vector from q to p.
func (p Point) Sub(q Point) Vector {
	return Vector{X: p.X - q.X, Y: p.Y - q.Y}
}

// Distance returns the euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// RotateAround rotates p by angle degrees around center.
// Positive angles rotate clockwise on a y-down canvas.
func (p Point) RotateAround(center Point, angle float64) Point {
	rad := angle * math.Pi / 180
	sin, cos := math.Sincos(rad)
	dx := p.X - center.X
	dy := p.Y - center.Y
	return Point{
		X: center.X + dx*cos - dy*sin,
		Y: center.Y + dx*sin + dy*cos,
	}
}

// Approx reports whether p and q are within tol of each other on both axes.
func (p Point) Approx(q Point, tol float64) bool {
	return math.Abs(p.X-q.X) <= tol && math.Abs(p.Y-q.Y) <= tol
}

// Array returns the point as an [x, y] pair.
func (p Point) Array() [2]float64 {
	return [2]float64{p.X, p.Y}
}

// Vector is a displacement in global canvas coordinates.
type Vector struct {
	X float64
	Y float64
}

// VectorFromPoints returns the vector pointing from "from" to "to".
func VectorFromPoints(from, to Point) Vector {
	return to.Sub(from)
}

// Reverse returns the vector pointing the opposite way.
func (v Vector) Reverse() Vector {
	return Vector{X: -v.X, Y: -v.Y}
}

// Length returns the magnitude of v.
func (v Vector) Length() float64 {
	return math.Hypot(v.X, v.Y)
}

// IsZero reports whether v has no displacement.
func (v Vector) IsZero() bool {
	return math.Abs(v.X) <= Epsilon && math.Abs(v.Y) <= Epsilon
}

// Approx reports whether v and w are within tol of each other on both axes.
func (v Vector) Approx(w Vector, tol float64) bool {
	return math.Abs(v.X-w.X) <= tol && math.Abs(v.Y-w.Y) <= tol
}
