package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// Triangle is three points and a normal vector.
type Triangle struct {
	p0 r3.Vector
	p1 r3.Vector
	p2 r3.Vector

	normal r3.Vector
}

// NewTriangle creates a Triangle from three points. The normal follows the right hand rule over p0, p1, p2.
func NewTriangle(p0, p1, p2 r3.Vector) *Triangle {
	return &Triangle{
		p0:     p0,
		p1:     p1,
		p2:     p2,
		normal: PlaneNormal(p0, p1, p2),
	}
}

// Points returns the three vertices.
func (t *Triangle) Points() []r3.Vector {
	return []r3.Vector{t.p0, t.p1, t.p2}
}

// Normal returns the unit normal of the triangle.
func (t *Triangle) Normal() r3.Vector {
	return t.normal
}

// Centroid returns the mean of the three vertices.
func (t *Triangle) Centroid() r3.Vector {
	return t.p0.Add(t.p1).Add(t.p2).Mul(1. / 3.)
}

// Area returns the area of the triangle.
func (t *Triangle) Area() float64 {
	return t.p1.Sub(t.p0).Cross(t.p2.Sub(t.p0)).Norm() / 2
}

// InteriorAngles returns the angles in radians at p0, p1 and p2.
func (t *Triangle) InteriorAngles() [3]float64 {
	return TriangleAngles(t.p0, t.p1, t.p2)
}

// Transform returns the triangle expressed in the parent frame of pose.
func (t *Triangle) Transform(pose Pose) *Triangle {
	return NewTriangle(TransformPoint(pose, t.p0), TransformPoint(pose, t.p1), TransformPoint(pose, t.p2))
}

// PlaneNormal returns the unit normal of the plane through p0, p1 and p2, or the zero vector if the
// points are collinear.
func PlaneNormal(p0, p1, p2 r3.Vector) r3.Vector {
	n := p1.Sub(p0).Cross(p2.Sub(p0))
	if n.Norm2() == 0 {
		return r3.Vector{}
	}
	return n.Normalize()
}

// TriangleAngles returns the interior angles in radians at a, b and c. Degenerate corners have a zero angle.
func TriangleAngles(a, b, c r3.Vector) [3]float64 {
	return [3]float64{
		cornerAngle(a, b, c),
		cornerAngle(b, c, a),
		cornerAngle(c, a, b),
	}
}

func cornerAngle(at, p, q r3.Vector) float64 {
	u, v := p.Sub(at), q.Sub(at)
	if u.Norm2() == 0 || v.Norm2() == 0 {
		return 0
	}
	return math.Atan2(u.Cross(v).Norm(), u.Dot(v))
}
