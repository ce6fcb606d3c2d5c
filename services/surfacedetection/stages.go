package surfacedetection

import (
	"context"

	"github.com/pkg/errors"

	"github.com/godel-robotics/surfacedetection/logging"
	pc "github.com/godel-robotics/surfacedetection/pointcloud"
	"github.com/godel-robotics/surfacedetection/spatialmath"
	"github.com/godel-robotics/surfacedetection/surface"
	"github.com/godel-robotics/surfacedetection/vision/segmentation"
)

// ApplyStatisticalFilter removes points whose mean distance to their stout_mean nearest neighbors is
// more than stout_stdev_threshold standard deviations above the cloud average.
func ApplyStatisticalFilter(ctx context.Context, cloud *pc.PointCloud, cfg *Config) (*pc.PointCloud, error) {
	out, _, err := pc.StatisticalOutlierFilter(ctx, cloud, cfg.StatisticalMeanK, cfg.StatisticalStdevMult)
	return out, err
}

// ApplyTabletopSegmentation removes the dominant support plane.
func ApplyTabletopSegmentation(cloud *pc.PointCloud, cfg *Config, logger logging.Logger) (*pc.PointCloud, error) {
	out, _, err := segmentation.RemoveSupportPlane(cloud, cfg.TabletopConfig(), logger)
	return out, err
}

// ApplyVoxelDownsampling replaces the points of every voxel_leaf sized voxel by their centroid.
func ApplyVoxelDownsampling(cloud *pc.PointCloud, cfg *Config) (*pc.PointCloud, error) {
	return pc.VoxelDownsample(cloud, cfg.VoxelLeaf)
}

// ApplyNormalEstimation returns one normal per point from its k_search nearest neighbors.
func ApplyNormalEstimation(ctx context.Context, cloud *pc.PointCloud, cfg *Config) (pc.Normals, error) {
	return pc.EstimateNormals(ctx, cloud, cfg.KSearch, pc.NormalOptions{})
}

// ApplyMLSSurfaceSmoothing returns the smoothed cloud with its normals.
func ApplyMLSSurfaceSmoothing(ctx context.Context, cloud *pc.PointCloud, cfg *Config) (*pc.PointCloud, pc.Normals, error) {
	return pc.MovingLeastSquares(ctx, cloud, cfg.MLSOptions())
}

// ApplyRegionGrowingSegmentation clusters the cloud into smooth patches and paints them.
func ApplyRegionGrowingSegmentation(
	ctx context.Context,
	cloud *pc.PointCloud,
	normals pc.Normals,
	cfg *Config,
	logger logging.Logger,
) (segmentation.Clusters, *pc.ColoredPointCloud, error) {
	return segmentation.GrowRegions(ctx, cloud, normals, cfg.RegionGrowingConfig(), logger)
}

// ApplyFastTriangulation meshes a single cluster.
func ApplyFastTriangulation(
	cloud *pc.PointCloud,
	normals pc.Normals,
	cfg *Config,
	logger logging.Logger,
) (*spatialmath.Mesh, error) {
	return surface.Triangulate(cloud, normals, cfg.TriangulationConfig(), logger)
}

// normalStage produces the cloud used for segmentation together with its normals.
type normalStage interface {
	name() string
	run(ctx context.Context, cloud *pc.PointCloud) (*pc.PointCloud, pc.Normals, error)
}

type estimationStage struct {
	cfg *Config
}

func (s estimationStage) name() string {
	return string(NormalEstimation)
}

func (s estimationStage) run(ctx context.Context, cloud *pc.PointCloud) (*pc.PointCloud, pc.Normals, error) {
	normals, err := ApplyNormalEstimation(ctx, cloud, s.cfg)
	if err != nil {
		return nil, nil, err
	}
	return cloud, normals, nil
}

type mlsStage struct {
	cfg *Config
}

func (s mlsStage) name() string {
	return string(MovingLeastSquares)
}

func (s mlsStage) run(ctx context.Context, cloud *pc.PointCloud) (*pc.PointCloud, pc.Normals, error) {
	return ApplyMLSSurfaceSmoothing(ctx, cloud, s.cfg)
}

func newNormalStage(cfg *Config) (normalStage, error) {
	switch cfg.NormalMethod {
	case NormalEstimation, "":
		return estimationStage{cfg: cfg}, nil
	case MovingLeastSquares:
		return mlsStage{cfg: cfg}, nil
	default:
		return nil, errors.Errorf("unknown normal method %q", cfg.NormalMethod)
	}
}
