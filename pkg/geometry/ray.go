package geometry

// Ray is a finite parametric segment. Direction carries both orientation and length,
// so At(0) is the origin and At(1) is Origin+Direction.
type Ray struct {
	Origin    Vector3
	Direction Vector3
}

// NewRay returns the ray running from the point from to the point to.
func NewRay(from, to Vector3) Ray {
	return Ray{Origin: from, Direction: to.Sub(from)}
}

// At returns the point at parameter t along the ray.
func (r Ray) At(t float64) Vector3 {
	return r.Origin.Add(r.Direction.Scale(t))
}

// Len returns the length of the ray, i.e. the magnitude of its direction.
func (r Ray) Len() float64 { return r.Direction.Len() }
