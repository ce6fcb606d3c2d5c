package pointcloud

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestGetVoxelCoordinates(t *testing.T) {
	test.That(t, GetVoxelCoordinates(r3.Vector{X: 0.015, Y: -0.001, Z: 0.03}, 0.01), test.ShouldResemble,
		VoxelCoords{I: 1, J: -1, K: 3})
	c := VoxelCenter(VoxelCoords{I: 1, J: -1, K: 0}, 0.01)
	test.That(t, c.X, test.ShouldAlmostEqual, 0.015)
	test.That(t, c.Y, test.ShouldAlmostEqual, -0.005)
	test.That(t, c.Z, test.ShouldAlmostEqual, 0.005)
	test.That(t, VoxelCoords{I: 1}.IsEqual(VoxelCoords{I: 1}), test.ShouldBeTrue)
}

func TestVoxelDownsample(t *testing.T) {
	pc := NewFromPoints([]r3.Vector{
		{X: 0.001, Y: 0.001, Z: 0.001},
		{X: 0.025, Y: 0.001, Z: 0.001},
		{X: 0.009, Y: 0.009, Z: 0.009},
	})
	out, err := VoxelDownsample(pc, 0.01)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Size(), test.ShouldEqual, 2)
	// ordered by first occurrence of the voxel
	test.That(t, out.At(0).X, test.ShouldAlmostEqual, 0.005)
	test.That(t, out.At(0).Z, test.ShouldAlmostEqual, 0.005)
	test.That(t, out.At(1), test.ShouldResemble, r3.Vector{X: 0.025, Y: 0.001, Z: 0.001})

	_, err = VoxelDownsample(pc, 0)
	test.That(t, err, test.ShouldNotBeNil)

	empty, err := VoxelDownsample(New(), 0.01)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, empty.Size(), test.ShouldEqual, 0)
}

func TestVoxelDownsampleIdempotent(t *testing.T) {
	for _, leaf := range []float64{0.003, 0.01, 0.05} {
		pc := MakeNoisyPlane(2000, 0.3, 0.02, 3)
		once, err := VoxelDownsample(pc, leaf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, once.Size(), test.ShouldBeLessThanOrEqualTo, pc.Size())

		twice, err := VoxelDownsample(once, leaf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, twice.Size(), test.ShouldEqual, once.Size())
	}
}
