// Package geometry provides the 3D primitives used to trace X-rays through a phantom:
// vectors, parametric rays, and shapes that report how much of a ray lies inside them.
package geometry

import "math"

// Vector3 represents a point or direction in 3-dimensional space (cm).
type Vector3 struct {
	X, Y, Z float64
}

// Add returns the sum of vectors a and b.
func (a Vector3) Add(b Vector3) Vector3 { return Vector3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }

// Sub returns the difference of vectors a and b.
func (a Vector3) Sub(b Vector3) Vector3 { return Vector3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }

// Scale returns the vector a multiplied by the scalar s.
func (a Vector3) Scale(s float64) Vector3 { return Vector3{a.X * s, a.Y * s, a.Z * s} }

// Dot returns the dot product of the vectors a and b.
func (a Vector3) Dot(b Vector3) float64 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

// Cross returns the cross product of the vectors a and b.
func (a Vector3) Cross(b Vector3) Vector3 {
	return Vector3{
		X: a.Y*b.Z - a.Z*b.Y,
		Y: a.Z*b.X - a.X*b.Z,
		Z: a.X*b.Y - a.Y*b.X,
	}
}

// Len returns the Euclidean length of the vector.
func (a Vector3) Len() float64 { return math.Sqrt(a.Dot(a)) }

// Norm returns a unit-length version of the vector. The zero vector is returned unchanged.
func (a Vector3) Norm() Vector3 {
	l := a.Len()
	if l == 0 {
		return a
	}
	return a.Scale(1 / l)
}

// RotateZ returns the vector rotated by theta radians counter-clockwise about the z axis.
func (a Vector3) RotateZ(theta float64) Vector3 {
	s, c := math.Sincos(theta)
	return Vector3{
		X: a.X*c - a.Y*s,
		Y: a.X*s + a.Y*c,
		Z: a.Z,
	}
}

// RadialDistance returns the distance of the point from the z-parallel axis through (cx, cy).
func (a Vector3) RadialDistance(cx, cy float64) float64 {
	return math.Hypot(a.X-cx, a.Y-cy)
}
