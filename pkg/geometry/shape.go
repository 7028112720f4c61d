package geometry

import "math"

// Shape is a solid that can report the length of a ray lying inside it.
// Implementations return 0 when the ray misses the shape.
type Shape interface {
	RayPathLength(r Ray) float64
}

// Container is implemented by shapes that can answer point-membership queries.
// It is optional; it is used to render reference images of a phantom.
type Container interface {
	Contains(p Vector3) bool
}

// Cylinder is a solid cylinder with its axis parallel to z.
//
// Height is recorded but not used by RayPathLength: the cylinder is treated as
// infinitely long, so callers must keep rays within the z extent themselves.
type Cylinder struct {
	Centroid Vector3
	Radius   float64
	Height   float64
}

// NewCylinder creates a z-aligned cylinder.
func NewCylinder(centroid Vector3, radius, height float64) *Cylinder {
	return &Cylinder{Centroid: centroid, Radius: radius, Height: height}
}

// RayPathLength returns the length of the part of r inside the cylinder.
//
// The ray is projected onto the xy plane and intersected with the circle of the
// cylinder's cross-section. If the origin lies inside the circle only the exit root
// counts; otherwise the distance between both roots (the chord) is used.
func (c *Cylinder) RayPathLength(r Ray) float64 {
	ox := r.Origin.X - c.Centroid.X
	oy := r.Origin.Y - c.Centroid.Y
	dx, dy := r.Direction.X, r.Direction.Y

	inside := math.Hypot(ox, oy) < c.Radius

	a := dx*dx + dy*dy
	if a == 0 {
		// Ray parallel to the axis.
		if inside {
			return r.Len()
		}
		return 0
	}
	b := 2 * (ox*dx + oy*dy)
	cc := ox*ox + oy*oy - c.Radius*c.Radius

	qCheck := b*b - 4*a*cc
	if qCheck < 0 {
		return 0
	}
	sq := math.Sqrt(qCheck)
	root0 := (-b + sq) / (2 * a)
	root1 := (-b - sq) / (2 * a)

	if inside {
		return r.Len() * math.Max(root0, root1)
	}
	return r.Len() * math.Abs(root0-root1)
}

// Contains reports whether p lies inside the cylinder's circular footprint and,
// when Height is positive, within its z extent.
func (c *Cylinder) Contains(p Vector3) bool {
	if p.RadialDistance(c.Centroid.X, c.Centroid.Y) >= c.Radius {
		return false
	}
	if c.Height > 0 && math.Abs(p.Z-c.Centroid.Z) > c.Height/2 {
		return false
	}
	return true
}

// Sphere is a solid sphere.
type Sphere struct {
	Center Vector3
	Radius float64
}

// NewSphere creates a sphere.
func NewSphere(center Vector3, radius float64) *Sphere {
	return &Sphere{Center: center, Radius: radius}
}

// RayPathLength returns the length of the part of r inside the sphere, using the
// same exit-root rule as Cylinder when the origin is inside.
func (s *Sphere) RayPathLength(r Ray) float64 {
	o := r.Origin.Sub(s.Center)
	a := r.Direction.Dot(r.Direction)
	if a == 0 {
		return 0
	}
	b := 2 * o.Dot(r.Direction)
	c := o.Dot(o) - s.Radius*s.Radius

	qCheck := b*b - 4*a*c
	if qCheck < 0 {
		return 0
	}
	sq := math.Sqrt(qCheck)
	root0 := (-b + sq) / (2 * a)
	root1 := (-b - sq) / (2 * a)

	if o.Len() < s.Radius {
		return r.Len() * math.Max(root0, root1)
	}
	return r.Len() * math.Abs(root0-root1)
}

// Contains reports whether p lies inside the sphere.
func (s *Sphere) Contains(p Vector3) bool {
	return p.Sub(s.Center).Len() < s.Radius
}
