// Package pointcloud defines an ordered point cloud and the filtering, resampling and
// normal estimation stages that operate on it.
//
// Clouds are plain ordered slices of r3.Vector so that per-point attributes such as
// normals and colors can be kept index aligned with them.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData returns meta data with inverted bounds so the first merged point sets them.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.Inf(1),
		MinY: math.Inf(1),
		MinZ: math.Inf(1),
		MaxX: math.Inf(-1),
		MaxY: math.Inf(-1),
		MaxZ: math.Inf(-1),
	}
}

// Merge updates the bounds to include p.
func (meta *MetaData) Merge(p r3.Vector) {
	meta.MinX = math.Min(meta.MinX, p.X)
	meta.MinY = math.Min(meta.MinY, p.Y)
	meta.MinZ = math.Min(meta.MinZ, p.Z)
	meta.MaxX = math.Max(meta.MaxX, p.X)
	meta.MaxY = math.Max(meta.MaxY, p.Y)
	meta.MaxZ = math.Max(meta.MaxZ, p.Z)
}

// Min returns the lower corner of the bounding box.
func (meta MetaData) Min() r3.Vector {
	return r3.Vector{X: meta.MinX, Y: meta.MinY, Z: meta.MinZ}
}

// Max returns the upper corner of the bounding box.
func (meta MetaData) Max() r3.Vector {
	return r3.Vector{X: meta.MaxX, Y: meta.MaxY, Z: meta.MaxZ}
}

// PointCloud is an ordered, monochrome collection of points. The zero value is an
// empty cloud ready to use.
type PointCloud struct {
	points []r3.Vector
	meta   MetaData
}

// New returns an empty PointCloud.
func New() *PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated PointCloud.
func NewWithPrealloc(size int) *PointCloud {
	return &PointCloud{points: make([]r3.Vector, 0, size), meta: NewMetaData()}
}

// NewFromPoints returns a PointCloud holding a copy of pts.
func NewFromPoints(pts []r3.Vector) *PointCloud {
	cloud := NewWithPrealloc(len(pts))
	cloud.Append(pts...)
	return cloud
}

// Size returns the number of points in the cloud.
func (cloud *PointCloud) Size() int {
	if cloud == nil {
		return 0
	}
	return len(cloud.points)
}

// At returns the i-th point.
func (cloud *PointCloud) At(i int) r3.Vector {
	return cloud.points[i]
}

// Points returns the underlying points. The slice must not be modified.
func (cloud *PointCloud) Points() []r3.Vector {
	if cloud == nil {
		return nil
	}
	return cloud.points
}

// MetaData returns the bounds of the cloud.
func (cloud *PointCloud) MetaData() MetaData {
	if cloud == nil || len(cloud.points) == 0 {
		return NewMetaData()
	}
	return cloud.meta
}

// Append adds points to the end of the cloud.
func (cloud *PointCloud) Append(pts ...r3.Vector) {
	if len(cloud.points) == 0 {
		cloud.meta = NewMetaData()
	}
	for _, p := range pts {
		cloud.points = append(cloud.points, p)
		cloud.meta.Merge(p)
	}
}

// AppendCloud adds all points of other to the end of the cloud.
func (cloud *PointCloud) AppendCloud(other *PointCloud) {
	cloud.Append(other.Points()...)
}

// Clone returns a deep copy of the cloud.
func (cloud *PointCloud) Clone() *PointCloud {
	return NewFromPoints(cloud.Points())
}

// Subset returns a new cloud made of the points at the given indices, in order.
func (cloud *PointCloud) Subset(indices []int) *PointCloud {
	out := NewWithPrealloc(len(indices))
	for _, i := range indices {
		out.Append(cloud.points[i])
	}
	return out
}

// Iterate calls fn for every point in order. If fn returns false, iteration stops.
func (cloud *PointCloud) Iterate(fn func(i int, p r3.Vector) bool) {
	for i, p := range cloud.Points() {
		if !fn(i, p) {
			return
		}
	}
}

// Clear removes all points but keeps the allocated storage.
func (cloud *PointCloud) Clear() {
	cloud.points = cloud.points[:0]
	cloud.meta = NewMetaData()
}

// RemoveNaN returns a cloud without the points that have a NaN or infinite coordinate,
// and the indices of the kept points in the input.
func RemoveNaN(cloud *PointCloud) (*PointCloud, []int) {
	out := NewWithPrealloc(cloud.Size())
	kept := make([]int, 0, cloud.Size())
	cloud.Iterate(func(i int, p r3.Vector) bool {
		if isFinite(p.X) && isFinite(p.Y) && isFinite(p.Z) {
			out.Append(p)
			kept = append(kept, i)
		}
		return true
	})
	return out, kept
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Vectors is a series of three-dimensional vectors.
type Vectors []r3.Vector

// Len returns the number of vectors.
func (vs Vectors) Len() int {
	return len(vs)
}

// Swap swaps two vectors positionally.
func (vs Vectors) Swap(i, j int) {
	vs[i], vs[j] = vs[j], vs[i]
}

// Less returns which vector is less than the other based on
// r3.Vector.Cmp.
func (vs Vectors) Less(i, j int) bool {
	return vs[i].Cmp(vs[j]) < 0
}
