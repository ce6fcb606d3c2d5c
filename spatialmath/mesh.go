package spatialmath

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Mesh is a set of triangles over a shared vertex list, expressed in the frame of its pose.
type Mesh struct {
	pose      Pose
	vertices  []r3.Vector
	indices   [][3]int
	triangles []*Triangle
}

// NewMesh builds a mesh from vertices and triangle vertex indices. Every index must refer to an
// existing vertex.
func NewMesh(pose Pose, vertices []r3.Vector, indices [][3]int) (*Mesh, error) {
	if pose == nil {
		pose = NewZeroPose()
	}
	triangles := make([]*Triangle, 0, len(indices))
	for i, tri := range indices {
		for _, idx := range tri {
			if idx < 0 || idx >= len(vertices) {
				return nil, errors.Errorf("triangle %d references vertex %d but mesh has %d vertices", i, idx, len(vertices))
			}
		}
		triangles = append(triangles, NewTriangle(vertices[tri[0]], vertices[tri[1]], vertices[tri[2]]))
	}
	return &Mesh{
		pose:      pose,
		vertices:  vertices,
		indices:   indices,
		triangles: triangles,
	}, nil
}

// Pose returns the pose of the mesh.
func (m *Mesh) Pose() Pose {
	return m.pose
}

// Vertices returns the vertices of the mesh.
func (m *Mesh) Vertices() []r3.Vector {
	return m.vertices
}

// Indices returns the vertex indices of every triangle.
func (m *Mesh) Indices() [][3]int {
	return m.indices
}

// Triangles returns the triangles of the mesh.
func (m *Mesh) Triangles() []*Triangle {
	return m.triangles
}

// NumTriangles returns the number of triangles.
func (m *Mesh) NumTriangles() int {
	return len(m.indices)
}

// Area returns the total surface area.
func (m *Mesh) Area() float64 {
	area := 0.
	for _, t := range m.triangles {
		area += t.Area()
	}
	return area
}

// TriangleList returns the vertices of every triangle in order, three per triangle, expressed in
// the parent frame of the mesh pose.
func (m *Mesh) TriangleList() []r3.Vector {
	out := make([]r3.Vector, 0, 3*len(m.triangles))
	for _, t := range m.triangles {
		for _, p := range t.Points() {
			out = append(out, TransformPoint(m.pose, p))
		}
	}
	return out
}

// Transform returns a copy of the mesh moved by pose.
func (m *Mesh) Transform(pose Pose) *Mesh {
	// Triangle points are in frame of mesh, like the corners of a box, so no need to transform them
	return &Mesh{
		pose:      Compose(pose, m.pose),
		vertices:  m.vertices,
		indices:   m.indices,
		triangles: m.triangles,
	}
}
