package surfacedetection

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/godel-robotics/surfacedetection/config"
	pc "github.com/godel-robotics/surfacedetection/pointcloud"
	"github.com/godel-robotics/surfacedetection/surface"
	"github.com/godel-robotics/surfacedetection/utils"
	"github.com/godel-robotics/surfacedetection/vision/segmentation"
)

// NormalMethod selects how the pipeline produces normals.
type NormalMethod string

const (
	// NormalEstimation fits a plane over the k nearest neighbors of every point.
	NormalEstimation NormalMethod = "normal_estimation"
	// MovingLeastSquares smooths the cloud and produces normals from the local surface fit.
	MovingLeastSquares NormalMethod = "mls"
)

// DefaultNamespace is the parameter namespace read by the command line tool.
const DefaultNamespace = "surface_detection"

// Config holds every parameter of the pipeline. Angles are in radians.
type Config struct {
	FrameID   string `json:"frame_id"`
	UseOctree bool   `json:"use_octomap"`

	StatisticalMeanK     int     `json:"stout_mean"`
	StatisticalStdevMult float64 `json:"stout_stdev_threshold"`
	KSearch              int     `json:"k_search"`

	RGMinClusterSize      int     `json:"rg_min_cluster_size"`
	RGMaxClusterSize      int     `json:"rg_max_cluster_size"`
	RGNeighbors           int     `json:"rg_neighbors"`
	RGSmoothnessThreshold float64 `json:"rg_smoothness_threshold"`
	RGCurvatureThreshold  float64 `json:"rg_curvature_threshold"`

	TRSearchRadius      float64 `json:"tr_search_radius"`
	TRMu                float64 `json:"tr_mu"`
	TRNearestNeighbors  int     `json:"tr_nearest_neighbors"`
	TRMaxSurfaceAngle   float64 `json:"tr_max_surface_angle"`
	TRMinAngle          float64 `json:"tr_min_angle"`
	TRMaxAngle          float64 `json:"tr_max_angle"`
	TRNormalConsistency bool    `json:"tr_normal_consistency"`

	VoxelLeaf          float64 `json:"voxel_leaf"`
	OccupancyThreshold float64 `json:"occupancy_threshold"`

	MLSUpsamplingRadius float64 `json:"mls_upsampling_radius"`
	MLSSearchRadius     float64 `json:"mls_search_radius"`
	MLSPointDensity     int     `json:"mls_point_density"`

	UseTabletopSegmentation   bool    `json:"use_tabletop_segmentation"`
	TabletopDistanceThreshold float64 `json:"tabletop_seg_distance_thresh"`

	MarkerAlpha          float64      `json:"marker_alpha"`
	IgnoreLargestCluster bool         `json:"ignore_largest_cluster"`
	NormalMethod         NormalMethod `json:"normal_method"`
}

// DefaultConfig returns the configuration used when no parameter overrides it.
func DefaultConfig() Config {
	return Config{
		FrameID:   "world_frame",
		UseOctree: false,

		StatisticalMeanK:     50,
		StatisticalStdevMult: 1.0,
		KSearch:              50,

		RGMinClusterSize:      100,
		RGMaxClusterSize:      100000,
		RGNeighbors:           50,
		RGSmoothnessThreshold: utils.DegToRad(7),
		RGCurvatureThreshold:  1.0,

		TRSearchRadius:      0.01,
		TRMu:                2.5,
		TRNearestNeighbors:  100,
		TRMaxSurfaceAngle:   math.Pi / 4,
		TRMinAngle:          math.Pi / 18,
		TRMaxAngle:          2 * math.Pi / 3,
		TRNormalConsistency: false,

		VoxelLeaf:          0.01,
		OccupancyThreshold: 0.1,

		MLSUpsamplingRadius: 0.01,
		MLSSearchRadius:     0.01,
		MLSPointDensity:     40,

		UseTabletopSegmentation:   true,
		TabletopDistanceThreshold: 0.005,

		MarkerAlpha:          1.0,
		IgnoreLargestCluster: false,
		NormalMethod:         NormalEstimation,
	}
}

// LoadConfig reads the parameters under namespace from the file at path on top of the defaults.
// The returned config is validated; on error the zero Config is returned.
func LoadConfig(path, namespace string) (Config, error) {
	params, err := config.ReadParams(path)
	if err != nil {
		return Config{}, err
	}
	ns, err := config.Namespace(params, namespace)
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig()
	if err := config.Decode(ns, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every parameter and reports all invalid ones.
func (cfg *Config) Validate() error {
	var errs error
	check := func(field string, ok bool, format string, args ...interface{}) {
		if !ok {
			errs = multierr.Append(errs, config.NewConfigurationError(field, errors.Errorf(format, args...)))
		}
	}
	check("frame_id", cfg.FrameID != "", "must not be empty")
	check("stout_mean", cfg.StatisticalMeanK >= 1, "must be at least 1, got %d", cfg.StatisticalMeanK)
	check("stout_stdev_threshold", cfg.StatisticalStdevMult >= 0, "cannot be negative, got %v", cfg.StatisticalStdevMult)
	check("k_search", cfg.KSearch >= 3, "must be at least 3, got %d", cfg.KSearch)
	check("voxel_leaf", cfg.VoxelLeaf > 0, "must be greater than 0, got %v", cfg.VoxelLeaf)
	check("occupancy_threshold", cfg.OccupancyThreshold >= 0 && cfg.OccupancyThreshold <= 1,
		"must be between 0 and 1, got %v", cfg.OccupancyThreshold)
	check("mls_search_radius", cfg.MLSSearchRadius > 0, "must be greater than 0, got %v", cfg.MLSSearchRadius)
	check("mls_upsampling_radius", cfg.MLSUpsamplingRadius >= 0, "cannot be negative, got %v", cfg.MLSUpsamplingRadius)
	check("mls_point_density", cfg.MLSPointDensity >= 0, "cannot be negative, got %d", cfg.MLSPointDensity)
	check("tabletop_seg_distance_thresh", cfg.TabletopDistanceThreshold > 0,
		"must be greater than 0, got %v", cfg.TabletopDistanceThreshold)
	check("marker_alpha", cfg.MarkerAlpha >= 0 && cfg.MarkerAlpha <= 1, "must be between 0 and 1, got %v", cfg.MarkerAlpha)
	check("normal_method", cfg.NormalMethod == NormalEstimation || cfg.NormalMethod == MovingLeastSquares,
		"must be %q or %q, got %q", NormalEstimation, MovingLeastSquares, cfg.NormalMethod)

	rg := cfg.RegionGrowingConfig()
	if err := rg.CheckValid(); err != nil {
		errs = multierr.Append(errs, config.NewConfigurationError("rg", err))
	}
	tr := cfg.TriangulationConfig()
	if err := tr.CheckValid(); err != nil {
		errs = multierr.Append(errs, config.NewConfigurationError("tr", err))
	}
	return errs
}

// TabletopConfig returns the support plane removal parameters.
func (cfg *Config) TabletopConfig() segmentation.TabletopConfig {
	return segmentation.TabletopConfig{DistanceThresh: cfg.TabletopDistanceThreshold}
}

// RegionGrowingConfig returns the region growing parameters.
func (cfg *Config) RegionGrowingConfig() segmentation.RegionGrowingConfig {
	return segmentation.RegionGrowingConfig{
		MinClusterSize:      cfg.RGMinClusterSize,
		MaxClusterSize:      cfg.RGMaxClusterSize,
		Neighbors:           cfg.RGNeighbors,
		SmoothnessThreshold: cfg.RGSmoothnessThreshold,
		CurvatureThreshold:  cfg.RGCurvatureThreshold,
		IgnoreLargest:       cfg.IgnoreLargestCluster,
	}
}

// TriangulationConfig returns the triangulation parameters.
func (cfg *Config) TriangulationConfig() surface.TriangulationConfig {
	return surface.TriangulationConfig{
		SearchRadius:        cfg.TRSearchRadius,
		Mu:                  cfg.TRMu,
		MaxNearestNeighbors: cfg.TRNearestNeighbors,
		MaxSurfaceAngle:     cfg.TRMaxSurfaceAngle,
		MinAngle:            cfg.TRMinAngle,
		MaxAngle:            cfg.TRMaxAngle,
		NormalConsistency:   cfg.TRNormalConsistency,
	}
}

// MLSOptions returns the moving least squares parameters.
func (cfg *Config) MLSOptions() pc.MLSOptions {
	return pc.MLSOptions{
		SearchRadius:     cfg.MLSSearchRadius,
		UpsamplingRadius: cfg.MLSUpsamplingRadius,
		PointDensity:     cfg.MLSPointDensity,
	}
}

func (cfg Config) String() string {
	return fmt.Sprintf(
		"frame=%s octree=%t stout=(k=%d, mult=%.2f) k_search=%d rg=(min=%d, max=%d, nn=%d, smooth=%.1f°, curv=%.3f) "+
			"tr=(r=%.4f, mu=%.2f, nn=%d, surf=%.1f°, angles=[%.1f°, %.1f°], consistent=%t) voxel=%.4f occupancy=%.2f "+
			"mls=(search=%.4f, up=%.4f, density=%d) tabletop=(%t, %.4f) alpha=%.2f ignore_largest=%t normals=%s",
		cfg.FrameID, cfg.UseOctree, cfg.StatisticalMeanK, cfg.StatisticalStdevMult, cfg.KSearch,
		cfg.RGMinClusterSize, cfg.RGMaxClusterSize, cfg.RGNeighbors, utils.RadToDeg(cfg.RGSmoothnessThreshold),
		cfg.RGCurvatureThreshold, cfg.TRSearchRadius, cfg.TRMu, cfg.TRNearestNeighbors,
		utils.RadToDeg(cfg.TRMaxSurfaceAngle), utils.RadToDeg(cfg.TRMinAngle), utils.RadToDeg(cfg.TRMaxAngle),
		cfg.TRNormalConsistency, cfg.VoxelLeaf, cfg.OccupancyThreshold, cfg.MLSSearchRadius, cfg.MLSUpsamplingRadius,
		cfg.MLSPointDensity, cfg.UseTabletopSegmentation, cfg.TabletopDistanceThreshold, cfg.MarkerAlpha,
		cfg.IgnoreLargestCluster, cfg.NormalMethod,
	)
}
