package pointcloud

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
)

// MakeTestPlane creates a regular nx by ny grid of points with the given spacing on the plane
// z = height, starting at (x0, y0).
func MakeTestPlane(nx, ny int, spacing, x0, y0, height float64) *PointCloud {
	pc := NewWithPrealloc(nx * ny)
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			pc.Append(r3.Vector{X: x0 + float64(i)*spacing, Y: y0 + float64(j)*spacing, Z: height})
		}
	}
	return pc
}

// MakeTestDome creates a spherical cap of the given height cut from a sphere of radius
// sphereRadius, sampled on an xy grid with the given spacing and resting on z = 0 with its
// axis through center.
func MakeTestDome(center r3.Vector, sphereRadius, height, spacing float64) *PointCloud {
	baseRadius := math.Sqrt(sphereRadius*sphereRadius - (sphereRadius-height)*(sphereRadius-height))
	n := int(baseRadius / spacing)
	pc := New()
	for i := -n; i <= n; i++ {
		for j := -n; j <= n; j++ {
			x, y := float64(i)*spacing, float64(j)*spacing
			r2 := x*x + y*y
			if r2 >= baseRadius*baseRadius {
				continue
			}
			z := math.Sqrt(sphereRadius*sphereRadius-r2) - (sphereRadius - height)
			pc.Append(r3.Vector{X: center.X + x, Y: center.Y + y, Z: center.Z + z})
		}
	}
	return pc
}

// MakeNoisyPlane creates n random points on the z = 0 plane inside [0, size)^2 with uniform
// noise of the given amplitude along z. The generator is seeded so the cloud is reproducible.
func MakeNoisyPlane(n int, size, noise float64, seed int64) *PointCloud {
	//nolint:gosec
	r := rand.New(rand.NewSource(seed))
	pc := NewWithPrealloc(n)
	for i := 0; i < n; i++ {
		pc.Append(r3.Vector{
			X: r.Float64() * size,
			Y: r.Float64() * size,
			Z: (r.Float64()*2 - 1) * noise,
		})
	}
	return pc
}
