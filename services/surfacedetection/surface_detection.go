// Package surfacedetection fuses point clouds and extracts triangle meshes of the smooth surfaces in them.
//
// Clouds are added with AddCloud, then FindSurfaces runs the pipeline:
//
//	acquired cloud -> support plane removal -> statistical filter -> voxel downsampling
//	-> normals (plane fit or moving least squares) -> region growing -> per cluster triangulation
//
// Results of the last successful pass are available through the Get accessors.
package surfacedetection

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/godel-robotics/surfacedetection/logging"
	pc "github.com/godel-robotics/surfacedetection/pointcloud"
	"github.com/godel-robotics/surfacedetection/spatialmath"
)

// ErrNotInitialized is returned when the pipeline is used before Init.
var ErrNotInitialized = errors.New("surface detection is not initialized")

// Summary counts what the last pipeline pass did.
type Summary struct {
	CloudsAcquired  int
	PointsAcquired  int
	PointsProcessed int
	Clusters        int
	Meshes          int
	SkippedClusters int
	LastError       string
}

func (s Summary) String() string {
	str := fmt.Sprintf(
		"clouds acquired: %d, points acquired: %d, points processed: %d, clusters found: %d, meshes built: %d, clusters skipped: %d",
		s.CloudsAcquired, s.PointsAcquired, s.PointsProcessed, s.Clusters, s.Meshes, s.SkippedClusters,
	)
	if s.LastError != "" {
		str += ", last error: " + s.LastError
	}
	return str
}

// SurfaceDetection owns the pipeline configuration, the accumulated clouds and the results of the last pass.
// One FindSurfaces pass holds the same lock as AddCloud, so clouds may arrive from another goroutine.
type SurfaceDetection struct {
	mu     sync.Mutex
	logger logging.Logger

	cfg         Config
	initialized bool
	source      CloudSource
	normals     normalStage

	cloudsAcquired int
	pointsAcquired int

	coloredCloud  *pc.ColoredPointCloud
	surfaceClouds []*pc.PointCloud
	meshes        []*spatialmath.Mesh
	markers       []Marker
	summary       Summary
}

// NewSurfaceDetection returns a pipeline holding the default configuration. Init must be called before use.
func NewSurfaceDetection(logger logging.Logger) *SurfaceDetection {
	return &SurfaceDetection{
		logger:       logger,
		cfg:          DefaultConfig(),
		coloredCloud: pc.NewColored(),
	}
}

// Init allocates the cloud source and the normal stage for the current configuration and clears all state.
func (sd *SurfaceDetection) Init() error {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if err := sd.cfg.Validate(); err != nil {
		return err
	}
	source, err := newCloudSource(&sd.cfg, sd.logger)
	if err != nil {
		return err
	}
	normals, err := newNormalStage(&sd.cfg)
	if err != nil {
		return err
	}
	sd.source = source
	sd.normals = normals
	sd.cloudsAcquired = 0
	sd.pointsAcquired = 0
	sd.clearResults()
	sd.initialized = true
	sd.logger.Debugw("surface detection initialized", "config", sd.cfg.String())
	return nil
}

// LoadParameters reads the configuration under namespace from the parameter file at path. On error the
// current configuration is kept.
func (sd *SurfaceDetection) LoadParameters(path, namespace string) error {
	cfg, err := LoadConfig(path, namespace)
	if err != nil {
		sd.logger.Errorw("failed to load parameters", "path", path, "namespace", namespace, "error", err)
		return err
	}
	return sd.SetConfig(cfg)
}

// SetConfig validates and applies cfg. If the pipeline is initialized and the cloud source changes kind or
// resolution, the accumulated clouds are discarded.
func (sd *SurfaceDetection) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sd.mu.Lock()
	defer sd.mu.Unlock()

	old := sd.cfg
	sd.cfg = cfg
	if !sd.initialized {
		return nil
	}
	normals, err := newNormalStage(&sd.cfg)
	if err != nil {
		sd.cfg = old
		return err
	}
	sd.normals = normals
	if old.UseOctree != cfg.UseOctree || (cfg.UseOctree && old.VoxelLeaf != cfg.VoxelLeaf) {
		source, err := newCloudSource(&sd.cfg, sd.logger)
		if err != nil {
			sd.cfg = old
			return err
		}
		if sd.source.Size() > 0 {
			sd.logger.Warnw("cloud source changed, discarding accumulated data", "points", sd.source.Size())
		}
		sd.source = source
		sd.cloudsAcquired = 0
		sd.pointsAcquired = 0
	}
	return nil
}

// Config returns the current configuration.
func (sd *SurfaceDetection) Config() Config {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return sd.cfg
}

// AddCloud accumulates a cloud expressed in the configured frame. Non finite points are dropped.
func (sd *SurfaceDetection) AddCloud(cloud *pc.PointCloud) error {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if !sd.initialized {
		return ErrNotInitialized
	}
	finite, _ := pc.RemoveNaN(cloud)
	if err := sd.source.Insert(finite); err != nil {
		return errors.Wrap(err, "cannot add cloud")
	}
	sd.cloudsAcquired++
	sd.pointsAcquired += finite.Size()
	sd.logger.Debugw("added cloud", "points", finite.Size(), "dropped", cloud.Size()-finite.Size(), "clouds", sd.cloudsAcquired)
	return nil
}

// FindSurfaces runs the pipeline over the accumulated clouds and reports whether it succeeded.
func (sd *SurfaceDetection) FindSurfaces() bool {
	return sd.FindSurfacesContext(context.Background()) == nil
}

type passResult struct {
	processed     int
	coloredCloud  *pc.ColoredPointCloud
	surfaceClouds []*pc.PointCloud
	meshes        []*spatialmath.Mesh
	markers       []Marker
	clusters      int
	skipped       int
}

// FindSurfacesContext runs the pipeline. ctx is checked between stages. On error the results of the
// previous successful pass are kept.
func (sd *SurfaceDetection) FindSurfacesContext(ctx context.Context) error {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if !sd.initialized {
		return ErrNotInitialized
	}

	res, err := sd.runPass(ctx)
	sd.summary.CloudsAcquired = sd.cloudsAcquired
	sd.summary.PointsAcquired = sd.pointsAcquired
	if err != nil {
		sd.summary.LastError = err.Error()
		sd.logger.Errorw("surface detection failed", "error", err)
		return err
	}
	sd.coloredCloud = res.coloredCloud
	sd.surfaceClouds = res.surfaceClouds
	sd.meshes = res.meshes
	sd.markers = res.markers
	sd.summary.PointsProcessed = res.processed
	sd.summary.Clusters = res.clusters
	sd.summary.Meshes = len(res.meshes)
	sd.summary.SkippedClusters = res.skipped
	sd.summary.LastError = ""
	sd.logger.Infow("surface detection done", "summary", sd.summary.String())
	return nil
}

func (sd *SurfaceDetection) runPass(ctx context.Context) (*passResult, error) {
	cfg := &sd.cfg
	cloud := sd.source.Cloud(cfg.OccupancyThreshold)
	sd.logger.CDebugw(ctx, "acquired cloud", "points", cloud.Size(), "octree", cfg.UseOctree)
	if cloud.Size() == 0 {
		return nil, pc.NewInsufficientDataError("acquisition", 0, 1)
	}

	var err error
	if cfg.UseTabletopSegmentation {
		before := cloud.Size()
		if cloud, err = ApplyTabletopSegmentation(cloud, cfg, sd.logger); err != nil {
			return nil, errors.Wrap(err, "tabletop segmentation")
		}
		sd.logger.CDebugw(ctx, "tabletop segmentation", "in", before, "out", cloud.Size())
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	before := cloud.Size()
	if cloud, err = ApplyStatisticalFilter(ctx, cloud, cfg); err != nil {
		return nil, errors.Wrap(err, "statistical filter")
	}
	sd.logger.CDebugw(ctx, "statistical filter", "in", before, "out", cloud.Size())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	before = cloud.Size()
	if cloud, err = ApplyVoxelDownsampling(cloud, cfg); err != nil {
		return nil, errors.Wrap(err, "voxel downsampling")
	}
	sd.logger.CDebugw(ctx, "voxel downsampling", "in", before, "out", cloud.Size(), "leaf", cfg.VoxelLeaf)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	before = cloud.Size()
	cloud, normals, err := sd.normals.run(ctx, cloud)
	if err != nil {
		return nil, errors.Wrap(err, sd.normals.name())
	}
	sd.logger.CDebugw(ctx, "normals", "method", sd.normals.name(), "in", before, "out", cloud.Size())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clusters, colored, err := ApplyRegionGrowingSegmentation(ctx, cloud, normals, cfg, sd.logger)
	if err != nil {
		return nil, errors.Wrap(err, "region growing")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &passResult{
		processed:     cloud.Size(),
		coloredCloud:  colored,
		surfaceClouds: clusters.PointClouds(cloud),
		clusters:      clusters.N(),
	}
	for i, cluster := range clusters {
		mesh, err := ApplyFastTriangulation(res.surfaceClouds[i], normals.Subset(cluster.Indices), cfg, sd.logger)
		if err != nil {
			res.skipped++
			sd.logger.Warnw("skipping cluster", "cluster", i, "points", cluster.Size(), "error", err)
			continue
		}
		res.markers = append(res.markers, NewMeshMarker(len(res.meshes), cfg.FrameID, mesh, cluster.Color, cfg.MarkerAlpha))
		res.meshes = append(res.meshes, mesh)
	}
	return res, nil
}

// ClearResults drops the results of the last pass. The configuration and the accumulated clouds are kept.
func (sd *SurfaceDetection) ClearResults() {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.clearResults()
}

func (sd *SurfaceDetection) clearResults() {
	sd.coloredCloud = pc.NewColored()
	sd.surfaceClouds = nil
	sd.meshes = nil
	sd.markers = nil
	sd.summary = Summary{CloudsAcquired: sd.cloudsAcquired, PointsAcquired: sd.pointsAcquired}
}

// Reset drops the results and the accumulated clouds.
func (sd *SurfaceDetection) Reset() {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if sd.source != nil {
		sd.source.Reset()
	}
	sd.cloudsAcquired = 0
	sd.pointsAcquired = 0
	sd.clearResults()
}

// GetResultsSummary describes the last pass.
func (sd *SurfaceDetection) GetResultsSummary() string {
	return sd.Summary().String()
}

// Summary returns the counters of the last pass.
func (sd *SurfaceDetection) Summary() Summary {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return sd.summary
}

// GetSurfaceMarkers returns one marker per mesh.
func (sd *SurfaceDetection) GetSurfaceMarkers() []Marker {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return append([]Marker{}, sd.markers...)
}

// GetSurfaceClouds returns the points of every cluster, one cloud per cluster.
func (sd *SurfaceDetection) GetSurfaceClouds() []*pc.PointCloud {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return lo.Map(sd.surfaceClouds, func(c *pc.PointCloud, _ int) *pc.PointCloud { return c.Clone() })
}

// Meshes returns the meshes of the last pass.
func (sd *SurfaceDetection) Meshes() []*spatialmath.Mesh {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return append([]*spatialmath.Mesh{}, sd.meshes...)
}

// GetFullCloud returns the accumulated cloud, taken from the octree when it is enabled.
func (sd *SurfaceDetection) GetFullCloud() *pc.PointCloud {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if sd.source == nil {
		return pc.New()
	}
	return sd.source.Cloud(sd.cfg.OccupancyThreshold)
}

// GetRegionColoredCloud returns the clustered points of the last pass painted by cluster.
func (sd *SurfaceDetection) GetRegionColoredCloud() *pc.ColoredPointCloud {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return sd.coloredCloud.Clone()
}

// WriteFullCloud writes the accumulated cloud as binary PCD.
func (sd *SurfaceDetection) WriteFullCloud(w io.Writer) error {
	return pc.ToPCD(sd.GetFullCloud(), w, pc.PCDBinary)
}

// WriteRegionColoredCloud writes the colored segmentation cloud as binary PCD.
func (sd *SurfaceDetection) WriteRegionColoredCloud(w io.Writer) error {
	return pc.ColoredToPCD(sd.GetRegionColoredCloud(), w, pc.PCDBinary)
}
