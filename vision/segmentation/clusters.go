package segmentation

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	pc "github.com/godel-robotics/surfacedetection/pointcloud"
)

// Cluster is a group of point indices into a shared cloud, with the color used to draw it.
type Cluster struct {
	Indices []int
	Color   color.NRGBA
}

// Size returns the number of points in the cluster.
func (c Cluster) Size() int {
	return len(c.Indices)
}

// Clusters is an ordered set of pairwise disjoint clusters.
type Clusters []Cluster

// N gives the number of clusters.
func (cs Clusters) N() int {
	return len(cs)
}

// Sizes returns the size of every cluster, in order.
func (cs Clusters) Sizes() []int {
	return lo.Map(cs, func(c Cluster, _ int) int { return c.Size() })
}

// TotalPoints returns the number of clustered points.
func (cs Clusters) TotalPoints() int {
	return lo.SumBy(cs, func(c Cluster) int { return c.Size() })
}

// Largest returns the position of the first cluster with the most points, or -1 if there are none.
func (cs Clusters) Largest() int {
	largest := -1
	for i, c := range cs {
		if largest < 0 || c.Size() > cs[largest].Size() {
			largest = i
		}
	}
	return largest
}

// WithoutLargest removes the largest cluster when there are at least two clusters.
func (cs Clusters) WithoutLargest() Clusters {
	if len(cs) < 2 {
		return cs
	}
	largest := cs.Largest()
	out := make(Clusters, 0, len(cs)-1)
	out = append(out, cs[:largest]...)
	return append(out, cs[largest+1:]...)
}

// Validate checks that every index is within a cloud of the given size and belongs to one cluster only.
func (cs Clusters) Validate(size int) error {
	seen := make(map[int]int)
	for ci, c := range cs {
		for _, idx := range c.Indices {
			if idx < 0 || idx >= size {
				return errors.Errorf("cluster %d has index %d outside of cloud of size %d", ci, idx, size)
			}
			if other, ok := seen[idx]; ok {
				return errors.Errorf("index %d belongs to clusters %d and %d", idx, other, ci)
			}
			seen[idx] = ci
		}
	}
	return nil
}

// PointClouds returns one cloud per cluster.
func (cs Clusters) PointClouds(cloud *pc.PointCloud) []*pc.PointCloud {
	return lo.Map(cs, func(c Cluster, _ int) *pc.PointCloud { return cloud.Subset(c.Indices) })
}

// ColoredCloud returns the clustered points painted with the color of their cluster, cluster by cluster.
func (cs Clusters) ColoredCloud(cloud *pc.PointCloud) *pc.ColoredPointCloud {
	out := pc.NewColored()
	for _, c := range cs {
		for _, idx := range c.Indices {
			out.AppendColored(cloud.At(idx), c.Color)
		}
	}
	return out
}

// golden angle in degrees; consecutive hues stay far apart
const hueStep = 137.50776405003785

// ClusterColor returns a deterministic, opaque color for the i-th cluster.
func ClusterColor(i int) color.NRGBA {
	c := colorful.Hsv(math.Mod(float64(i)*hueStep, 360), 0.85, 0.95)
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}
