package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// VoxelCoords stores voxel coordinates in grid axes.
type VoxelCoords struct {
	I, J, K int64
}

// IsEqual tests if two VoxelCoords are the same.
func (c VoxelCoords) IsEqual(c2 VoxelCoords) bool {
	return c.I == c2.I && c.J == c2.J && c.K == c2.K
}

// GetVoxelCoordinates computes the coordinates of the voxel of edge voxelSize containing pt.
// The grid is anchored at the origin so that the same point always maps to the same voxel.
func GetVoxelCoordinates(pt r3.Vector, voxelSize float64) VoxelCoords {
	return VoxelCoords{
		I: int64(math.Floor(pt.X / voxelSize)),
		J: int64(math.Floor(pt.Y / voxelSize)),
		K: int64(math.Floor(pt.Z / voxelSize)),
	}
}

// VoxelCenter returns the center of the voxel with the given coordinates.
func VoxelCenter(c VoxelCoords, voxelSize float64) r3.Vector {
	return r3.Vector{
		X: (float64(c.I) + 0.5) * voxelSize,
		Y: (float64(c.J) + 0.5) * voxelSize,
		Z: (float64(c.K) + 0.5) * voxelSize,
	}
}

type voxelSum struct {
	sum r3.Vector
	num int
}

// VoxelDownsample replaces all points falling into the same cubic voxel of edge leafSize by
// their centroid. Output points are ordered by the first occurrence of their voxel in the input.
func VoxelDownsample(cloud *PointCloud, leafSize float64) (*PointCloud, error) {
	if leafSize <= 0 || math.IsNaN(leafSize) {
		return nil, errors.Errorf("voxel leaf size must be positive, got %v", leafSize)
	}
	order := make([]VoxelCoords, 0)
	voxels := make(map[VoxelCoords]*voxelSum)
	cloud.Iterate(func(_ int, p r3.Vector) bool {
		key := GetVoxelCoordinates(p, leafSize)
		v, ok := voxels[key]
		if !ok {
			v = &voxelSum{}
			voxels[key] = v
			order = append(order, key)
		}
		v.sum = v.sum.Add(p)
		v.num++
		return true
	})

	out := NewWithPrealloc(len(order))
	for _, key := range order {
		v := voxels[key]
		if v.num == 1 {
			out.Append(v.sum)
			continue
		}
		out.Append(v.sum.Mul(1 / float64(v.num)))
	}
	return out, nil
}
