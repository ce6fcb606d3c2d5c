package segmentation

import (
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/godel-robotics/surfacedetection/logging"
	pc "github.com/godel-robotics/surfacedetection/pointcloud"
	"github.com/godel-robotics/surfacedetection/utils"
)

// RegionGrowingConfig specifies the parameters of normal aware region growing.
type RegionGrowingConfig struct {
	MinClusterSize      int     `json:"min_cluster_size"`
	MaxClusterSize      int     `json:"max_cluster_size"`
	Neighbors           int     `json:"neighbors"`
	SmoothnessThreshold float64 `json:"smoothness_threshold_rad"`
	CurvatureThreshold  float64 `json:"curvature_threshold"`
	IgnoreLargest       bool    `json:"ignore_largest_cluster"`
}

// CheckValid checks to see in the inputs values are valid.
func (cfg *RegionGrowingConfig) CheckValid() error {
	if cfg.MinClusterSize < 1 {
		return errors.Errorf("min_cluster_size must be at least 1, got %d", cfg.MinClusterSize)
	}
	if cfg.MaxClusterSize < cfg.MinClusterSize {
		return errors.Errorf("max_cluster_size (%d) cannot be less than min_cluster_size (%d)", cfg.MaxClusterSize, cfg.MinClusterSize)
	}
	if cfg.Neighbors < 1 {
		return errors.Errorf("neighbors must be at least 1, got %d", cfg.Neighbors)
	}
	if cfg.SmoothnessThreshold < 0 || cfg.SmoothnessThreshold > math.Pi {
		return errors.Errorf("smoothness_threshold_rad must be between 0 and pi, got %v", cfg.SmoothnessThreshold)
	}
	if cfg.CurvatureThreshold < 0 {
		return errors.Errorf("curvature_threshold cannot be less than 0, got %v", cfg.CurvatureThreshold)
	}
	return nil
}

// GrowRegions clusters the cloud into smooth surface patches. Seeds are taken by increasing curvature; a
// neighbor joins the region of the current point when the angle between their normals, regardless of
// orientation, is at most the smoothness threshold, and it continues the growth when its own curvature is
// below the curvature threshold. A region stops growing once it holds MaxClusterSize points and is dropped
// if it has fewer than MinClusterSize points. It returns the clusters, with their colors, and the clustered
// points painted by cluster.
func GrowRegions(
	ctx context.Context,
	cloud *pc.PointCloud,
	normals pc.Normals,
	cfg RegionGrowingConfig,
	logger logging.Logger,
) (Clusters, *pc.ColoredPointCloud, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, nil, err
	}
	if err := pc.CheckAligned(cloud, normals); err != nil {
		return nil, nil, err
	}
	n := cloud.Size()
	if n == 0 {
		return nil, nil, pc.NewInsufficientDataError("region growing", 0, 1)
	}

	kd := pc.ToKDTree(cloud)
	neighbors := make([][]int, n)
	err := utils.ParallelForEach(ctx, n, func(i int) {
		nbs := kd.KNearestNeighborsOf(i, cfg.Neighbors)
		neighbors[i] = make([]int, len(nbs))
		for j, nb := range nbs {
			neighbors[i][j] = nb.Index
		}
	})
	if err != nil {
		return nil, nil, err
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return normals[order[a]].Curvature < normals[order[b]].Curvature
	})

	cosThresh := math.Cos(cfg.SmoothnessThreshold)
	labeled := make([]bool, n)
	var clusters Clusters
	discarded := 0
	for _, seed := range order {
		if labeled[seed] {
			continue
		}
		region := growRegion(seed, neighbors, normals, labeled, cosThresh, cfg)
		if len(region) < cfg.MinClusterSize {
			discarded++
			continue
		}
		clusters = append(clusters, Cluster{Indices: region})
	}

	found := len(clusters)
	if cfg.IgnoreLargest {
		clusters = clusters.WithoutLargest()
	}
	for i := range clusters {
		clusters[i].Color = ClusterColor(i)
	}
	logger.Debugw("region growing done",
		"points", n, "clusters", found, "kept", clusters.N(), "discarded", discarded, "sizes", clusters.Sizes())
	return clusters, clusters.ColoredCloud(cloud), nil
}

func growRegion(
	seed int,
	neighbors [][]int,
	normals pc.Normals,
	labeled []bool,
	cosThresh float64,
	cfg RegionGrowingConfig,
) []int {
	labeled[seed] = true
	region := []int{seed}
	queue := []int{seed}
	for len(queue) > 0 && len(region) < cfg.MaxClusterSize {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range neighbors[cur] {
			if len(region) >= cfg.MaxClusterSize {
				break
			}
			if labeled[nb] {
				continue
			}
			if math.Abs(normals[cur].Vector.Dot(normals[nb].Vector)) < cosThresh {
				continue
			}
			labeled[nb] = true
			region = append(region, nb)
			if normals[nb].Curvature < cfg.CurvatureThreshold {
				queue = append(queue, nb)
			}
		}
	}
	return region
}
