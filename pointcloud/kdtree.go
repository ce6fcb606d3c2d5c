package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Neighbor is the result of a nearest neighbor query: the index of the point in the
// indexed cloud and its euclidean distance to the query.
type Neighbor struct {
	Index    int
	Distance float64
}

// KDTree indexes a PointCloud for nearest neighbor queries.
type KDTree struct {
	tree  *kdtree.Tree
	cloud *PointCloud
}

// ToKDTree builds a kd-tree over the points of cloud. The cloud must not be modified
// while the tree is in use.
func ToKDTree(cloud *PointCloud) *KDTree {
	pts := make(kdPoints, cloud.Size())
	for i, p := range cloud.Points() {
		pts[i] = kdPoint{p: p, index: i}
	}
	kd := &KDTree{cloud: cloud}
	if len(pts) > 0 {
		kd.tree = kdtree.New(pts, false)
	}
	return kd
}

// Size returns the number of indexed points.
func (kd *KDTree) Size() int {
	return kd.cloud.Size()
}

// Cloud returns the indexed cloud.
func (kd *KDTree) Cloud() *PointCloud {
	return kd.cloud
}

// KNearestNeighbors returns the k points closest to p sorted by increasing distance. If p
// is itself in the cloud it is part of the result.
func (kd *KDTree) KNearestNeighbors(p r3.Vector, k int) []Neighbor {
	if kd.tree == nil || k <= 0 {
		return nil
	}
	keeper := kdtree.NewNKeeper(k)
	kd.tree.NearestSet(keeper, kdPoint{p: p, index: -1})
	return collect(keeper.Heap)
}

// KNearestNeighborsOf returns the k points closest to the i-th indexed point, excluding the point itself.
func (kd *KDTree) KNearestNeighborsOf(i, k int) []Neighbor {
	return withoutIndex(kd.KNearestNeighbors(kd.cloud.At(i), k+1), i)
}

// RadiusNearestNeighbors returns every point within radius of p sorted by increasing distance.
func (kd *KDTree) RadiusNearestNeighbors(p r3.Vector, radius float64) []Neighbor {
	if kd.tree == nil || radius < 0 {
		return nil
	}
	// kdPoint distances are squared.
	keeper := kdtree.NewDistKeeper(radius * radius)
	kd.tree.NearestSet(keeper, kdPoint{p: p, index: -1})
	return collect(keeper.Heap)
}

// collect drops the keeper sentinels and converts squared distances.
func collect(heap kdtree.Heap) []Neighbor {
	out := make([]Neighbor, 0, len(heap))
	for _, cd := range heap {
		pt, ok := cd.Comparable.(kdPoint)
		if !ok {
			continue
		}
		out = append(out, Neighbor{Index: pt.index, Distance: math.Sqrt(cd.Dist)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance == out[j].Distance {
			return out[i].Index < out[j].Index
		}
		return out[i].Distance < out[j].Distance
	})
	return out
}

// withoutIndex removes the neighbor with the given index, or the farthest one if it is
// absent, so that a k+1 query yields k true neighbors.
func withoutIndex(nbs []Neighbor, index int) []Neighbor {
	for i, nb := range nbs {
		if nb.Index == index {
			return append(nbs[:i:i], nbs[i+1:]...)
		}
	}
	if len(nbs) == 0 {
		return nbs
	}
	return nbs[:len(nbs)-1]
}

type kdPoint struct {
	p     r3.Vector
	index int
}

func coord(p r3.Vector, d kdtree.Dim) float64 {
	switch d {
	case 0:
		return p.X
	case 1:
		return p.Y
	default:
		return p.Z
	}
}

func (p kdPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(kdPoint)
	return coord(p.p, d) - coord(q.p, d)
}

func (p kdPoint) Dims() int { return 3 }

func (p kdPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(kdPoint)
	return p.p.Sub(q.p).Norm2()
}

type kdPoints []kdPoint

func (p kdPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p kdPoints) Len() int                      { return len(p) }
func (p kdPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

func (p kdPoints) Pivot(d kdtree.Dim) int {
	plane := kdPlane{dim: d, points: p}
	return kdtree.Partition(plane, kdtree.MedianOfMedians(plane))
}

// kdPlane sorts points along one dimension for median selection.
type kdPlane struct {
	dim    kdtree.Dim
	points kdPoints
}

func (p kdPlane) Len() int { return len(p.points) }
func (p kdPlane) Less(i, j int) bool {
	return coord(p.points[i].p, p.dim) < coord(p.points[j].p, p.dim)
}
func (p kdPlane) Swap(i, j int) { p.points[i], p.points[j] = p.points[j], p.points[i] }
func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}
