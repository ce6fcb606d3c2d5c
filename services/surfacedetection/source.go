package surfacedetection

import (
	"github.com/godel-robotics/surfacedetection/logging"
	"github.com/godel-robotics/surfacedetection/octree"
	pc "github.com/godel-robotics/surfacedetection/pointcloud"
)

// CloudSource accumulates acquired clouds and yields the cloud the pipeline works on.
type CloudSource interface {
	// Insert adds a cloud that is already expressed in the pipeline frame.
	Insert(cloud *pc.PointCloud) error
	// Cloud returns the accumulated cloud. Sources that track occupancy only return voxels
	// at or above threshold.
	Cloud(threshold float64) *pc.PointCloud
	Reset()
	// Size is the number of points (or occupied voxels) held.
	Size() int
}

// bufferSource appends every cloud to one working buffer.
type bufferSource struct {
	buf *pc.PointCloud
}

func newBufferSource() *bufferSource {
	return &bufferSource{buf: pc.New()}
}

func (s *bufferSource) Insert(cloud *pc.PointCloud) error {
	s.buf.AppendCloud(cloud)
	return nil
}

func (s *bufferSource) Cloud(float64) *pc.PointCloud {
	return s.buf.Clone()
}

func (s *bufferSource) Reset() {
	s.buf.Clear()
}

func (s *bufferSource) Size() int {
	return s.buf.Size()
}

// occupancySource fuses clouds into a probabilistic octree.
type occupancySource struct {
	tree *octree.Octree
}

func newOccupancySource(resolution float64, logger logging.Logger) (*occupancySource, error) {
	tree, err := octree.New(resolution, logger)
	if err != nil {
		return nil, err
	}
	return &occupancySource{tree: tree}, nil
}

func (s *occupancySource) Insert(cloud *pc.PointCloud) error {
	return s.tree.Insert(cloud)
}

func (s *occupancySource) Cloud(threshold float64) *pc.PointCloud {
	return s.tree.Extract(threshold)
}

func (s *occupancySource) Reset() {
	s.tree.Reset()
}

func (s *occupancySource) Size() int {
	return s.tree.Size()
}

func newCloudSource(cfg *Config, logger logging.Logger) (CloudSource, error) {
	if cfg.UseOctree {
		return newOccupancySource(cfg.VoxelLeaf, logger.Sublogger("octree"))
	}
	return newBufferSource(), nil
}
