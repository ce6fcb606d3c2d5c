package segmentation

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/godel-robotics/surfacedetection/logging"
	pc "github.com/godel-robotics/surfacedetection/pointcloud"
	"github.com/godel-robotics/surfacedetection/utils"
)

// patches builds a cloud of flat patches, each given as a grid size, an origin, two in-plane axes and the
// patch normal.
type patch struct {
	nu, nv int
	origin r3.Vector
	u, v   r3.Vector
	normal r3.Vector
}

func makePatches(patches ...patch) (*pc.PointCloud, pc.Normals) {
	cloud := pc.New()
	var normals pc.Normals
	for _, p := range patches {
		for i := 0; i < p.nu; i++ {
			for j := 0; j < p.nv; j++ {
				cloud.Append(p.origin.Add(p.u.Mul(float64(i) * 0.01)).Add(p.v.Mul(float64(j) * 0.01)))
				normals = append(normals, pc.Normal{Vector: p.normal})
			}
		}
	}
	return cloud, normals
}

var (
	floor = patch{nu: 15, nv: 10, u: r3.Vector{X: 1}, v: r3.Vector{Y: 1}, normal: r3.Vector{Z: 1}}
	wall  = patch{nu: 10, nv: 5, origin: r3.Vector{Y: 5}, u: r3.Vector{X: 1}, v: r3.Vector{Z: 1}, normal: r3.Vector{Y: 1}}
)

func defaultRegionConfig() RegionGrowingConfig {
	return RegionGrowingConfig{
		MinClusterSize:      100,
		MaxClusterSize:      100000,
		Neighbors:           10,
		SmoothnessThreshold: utils.DegToRad(7),
		CurvatureThreshold:  1,
	}
}

func TestRegionGrowingConfig(t *testing.T) {
	cfg := defaultRegionConfig()
	test.That(t, cfg.CheckValid(), test.ShouldBeNil)
	cfg.MaxClusterSize = 10
	test.That(t, cfg.CheckValid().Error(), test.ShouldContainSubstring, "max_cluster_size")
	cfg = defaultRegionConfig()
	cfg.Neighbors = 0
	test.That(t, cfg.CheckValid().Error(), test.ShouldContainSubstring, "neighbors must be at least 1")
	cfg = defaultRegionConfig()
	cfg.SmoothnessThreshold = -1
	test.That(t, cfg.CheckValid().Error(), test.ShouldContainSubstring, "smoothness_threshold_rad")
}

func TestGrowRegionsDiscardsSmallClusters(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cloud, normals := makePatches(floor, wall)
	test.That(t, cloud.Size(), test.ShouldEqual, 200)

	clusters, colored, err := GrowRegions(context.Background(), cloud, normals, defaultRegionConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, clusters.N(), test.ShouldEqual, 1)
	test.That(t, clusters[0].Size(), test.ShouldEqual, 150)
	for _, idx := range clusters[0].Indices {
		test.That(t, idx, test.ShouldBeLessThan, 150)
	}
	test.That(t, clusters.Validate(cloud.Size()), test.ShouldBeNil)
	test.That(t, colored.Size(), test.ShouldEqual, 150)
	test.That(t, colored.Validate(), test.ShouldBeNil)
	for _, c := range colored.Colors() {
		test.That(t, c, test.ShouldResemble, clusters[0].Color)
	}
}

func TestGrowRegionsSmoothness(t *testing.T) {
	logger := logging.NewTestLogger(t)
	// an L shaped pair of patches sharing the x axis edge
	vertical := patch{nu: 15, nv: 10, origin: r3.Vector{Z: 0.01}, u: r3.Vector{X: 1}, v: r3.Vector{Z: 1}, normal: r3.Vector{Y: 1}}
	cloud, normals := makePatches(floor, vertical)
	clusters, _, err := GrowRegions(context.Background(), cloud, normals, defaultRegionConfig(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, clusters.Sizes(), test.ShouldResemble, []int{150, 150})
	test.That(t, clusters[0].Color, test.ShouldNotResemble, clusters[1].Color)

	cfg := defaultRegionConfig()
	cfg.SmoothnessThreshold = utils.DegToRad(91)
	clusters, _, err = GrowRegions(context.Background(), cloud, normals, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, clusters.Sizes(), test.ShouldResemble, []int{300})
}

func TestGrowRegionsMaxSizeCaps(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cloud, normals := makePatches(floor, wall)
	cfg := defaultRegionConfig()
	cfg.MinClusterSize = 10
	cfg.MaxClusterSize = 100
	clusters, _, err := GrowRegions(context.Background(), cloud, normals, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, clusters.N(), test.ShouldBeGreaterThanOrEqualTo, 2)
	test.That(t, clusters[0].Size(), test.ShouldEqual, 100)
	for _, size := range clusters.Sizes() {
		test.That(t, size, test.ShouldBeLessThanOrEqualTo, 100)
	}
	test.That(t, clusters.TotalPoints(), test.ShouldBeLessThanOrEqualTo, 200)
	test.That(t, clusters.Validate(cloud.Size()), test.ShouldBeNil)
}

func TestGrowRegionsIgnoreLargest(t *testing.T) {
	logger := logging.NewTestLogger(t)
	big := patch{nu: 12, nv: 10, origin: r3.Vector{X: 3}, u: r3.Vector{X: 1}, v: r3.Vector{Y: 1}, normal: r3.Vector{Z: 1}}
	cloud, normals := makePatches(floor, big)

	cfg := defaultRegionConfig()
	clusters, _, err := GrowRegions(context.Background(), cloud, normals, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, clusters.Sizes(), test.ShouldResemble, []int{150, 120})

	cfg.IgnoreLargest = true
	clusters, colored, err := GrowRegions(context.Background(), cloud, normals, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, clusters.Sizes(), test.ShouldResemble, []int{120})
	test.That(t, colored.Size(), test.ShouldEqual, 120)
	test.That(t, clusters[0].Color, test.ShouldResemble, ClusterColor(0))

	// a single cluster is kept
	single, singleNormals := makePatches(floor)
	clusters, _, err = GrowRegions(context.Background(), single, singleNormals, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, clusters.Sizes(), test.ShouldResemble, []int{150})
}

func TestGrowRegionsCurvature(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cloud, normals := makePatches(floor)
	for i := range normals {
		normals[i].Curvature = 2
	}
	cfg := defaultRegionConfig()
	cfg.MinClusterSize = 1
	clusters, _, err := GrowRegions(context.Background(), cloud, normals, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	// no point may continue a region, so every region is a seed and its direct neighbors
	test.That(t, clusters.N(), test.ShouldBeGreaterThan, 1)
	for _, size := range clusters.Sizes() {
		test.That(t, size, test.ShouldBeLessThanOrEqualTo, cfg.Neighbors+1)
	}
	test.That(t, clusters.TotalPoints(), test.ShouldEqual, 150)
}

func TestGrowRegionsErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cloud, normals := makePatches(floor)
	_, _, err := GrowRegions(context.Background(), cloud, normals[1:], defaultRegionConfig(), logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, _, err = GrowRegions(context.Background(), pc.New(), nil, defaultRegionConfig(), logger)
	test.That(t, errors.Is(err, pc.ErrInsufficientData), test.ShouldBeTrue)

	_, _, err = GrowRegions(context.Background(), cloud, normals, RegionGrowingConfig{}, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestClusters(t *testing.T) {
	cs := Clusters{{Indices: []int{0, 1}}, {Indices: []int{2, 3, 4}}, {Indices: []int{5, 6, 7}}}
	test.That(t, cs.Largest(), test.ShouldEqual, 1)
	test.That(t, cs.WithoutLargest().Sizes(), test.ShouldResemble, []int{2, 3})
	test.That(t, cs.Sizes(), test.ShouldResemble, []int{2, 3, 3})
	test.That(t, Clusters{{Indices: []int{1}}}.WithoutLargest().N(), test.ShouldEqual, 1)
	test.That(t, Clusters{}.Largest(), test.ShouldEqual, -1)

	test.That(t, cs.Validate(8), test.ShouldBeNil)
	test.That(t, cs.Validate(7), test.ShouldNotBeNil)
	test.That(t, Clusters{{Indices: []int{1}}, {Indices: []int{1}}}.Validate(2), test.ShouldNotBeNil)

	cloud := pc.MakeTestPlane(2, 4, 1, 0, 0, 0)
	clouds := cs.PointClouds(cloud)
	test.That(t, len(clouds), test.ShouldEqual, 3)
	test.That(t, clouds[2].At(0), test.ShouldResemble, cloud.At(5))

	seen := map[[3]uint8]bool{}
	for i := 0; i < 10; i++ {
		c := ClusterColor(i)
		test.That(t, c.A, test.ShouldEqual, uint8(255))
		test.That(t, ClusterColor(i), test.ShouldResemble, c)
		seen[[3]uint8{c.R, c.G, c.B}] = true
	}
	test.That(t, len(seen), test.ShouldEqual, 10)
}
