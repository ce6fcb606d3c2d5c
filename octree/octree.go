// Package octree implements a sparse probabilistic occupancy octree used to fuse point clouds
// into a denoised volumetric map.
package octree

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/godel-robotics/surfacedetection/logging"
	pc "github.com/godel-robotics/surfacedetection/pointcloud"
)

// Each node in the octree is either an internal node which links to other nodes, is an empty node with
// no observations, or is an occupied leaf voxel which carries an occupancy log-odds.
const (
	InternalNode = NodeType(iota)
	LeafNodeEmpty
	LeafNodeFilled
)

// NodeType represents the possible types of nodes in an octree.
type NodeType uint8

// Default sensor model, the same as OctoMap's.
const (
	DefaultHitProbability = 0.7
	DefaultClampingMax    = 0.971
)

// deeper trees would overflow voxel keys
const maxLevel = 40

// Logit converts a probability to log-odds.
func Logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

// Probability converts log-odds to a probability.
func Probability(logOdds float64) float64 {
	return 1 - 1/(1+math.Exp(logOdds))
}

// Option configures an Octree.
type Option func(*Octree)

// WithHitProbability sets the probability applied for each observation of a voxel.
func WithHitProbability(p float64) Option {
	return func(o *Octree) { o.hit = Logit(p) }
}

// WithClampingMax sets the upper bound of a voxel's occupancy probability.
func WithClampingMax(p float64) Option {
	return func(o *Octree) { o.clampMax = Logit(p) }
}

// Octree is an occupancy volume made of cubic leaf voxels of a fixed resolution. Voxels are addressed
// by integer keys on a grid anchored at the origin; the root cube grows toward new keys on demand, up to
// 2^40 voxels along each axis. Each insertion can only raise the occupancy of a voxel.
type Octree struct {
	logger     logging.Logger
	resolution float64
	hit        float64
	clampMax   float64

	root       *basicOctree
	rootLevel  uint
	rootOrigin pc.VoxelCoords
	size       int
	meta       pc.MetaData
}

// New creates an empty octree whose leaves have the given edge length.
func New(resolution float64, logger logging.Logger, opts ...Option) (*Octree, error) {
	if resolution <= 0 || math.IsNaN(resolution) || math.IsInf(resolution, 0) {
		return nil, errors.Errorf("invalid resolution (%v) for octree", resolution)
	}
	o := &Octree{
		logger:     logger,
		resolution: resolution,
		hit:        Logit(DefaultHitProbability),
		clampMax:   Logit(DefaultClampingMax),
		meta:       pc.NewMetaData(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.hit <= 0 || math.IsNaN(o.hit) {
		return nil, errors.New("hit probability must be greater than 0.5")
	}
	if o.clampMax < o.hit || math.IsNaN(o.clampMax) {
		return nil, errors.New("clamping maximum must not be below the hit probability")
	}
	return o, nil
}

// Resolution returns the leaf edge length.
func (o *Octree) Resolution() float64 {
	return o.resolution
}

// Size returns the number of observed leaf voxels.
func (o *Octree) Size() int {
	return o.size
}

// MetaData returns the bounds of every point inserted since the last reset.
func (o *Octree) MetaData() pc.MetaData {
	return o.meta
}

// Reset discards all accumulated occupancy.
func (o *Octree) Reset() {
	o.root = nil
	o.rootLevel = 0
	o.rootOrigin = pc.VoxelCoords{}
	o.size = 0
	o.meta = pc.NewMetaData()
}

// Insert fuses a cloud into the volume: every distinct voxel touched by the cloud receives one hit.
// Points with non-finite coordinates are skipped. If any voxel cannot be addressed the volume is
// left unchanged.
func (o *Octree) Insert(cloud *pc.PointCloud) error {
	seen := make(map[pc.VoxelCoords]struct{}, cloud.Size())
	keys := make([]pc.VoxelCoords, 0, cloud.Size())
	skipped := 0
	cloud.Iterate(func(_ int, p r3.Vector) bool {
		if !finite(p) {
			skipped++
			return true
		}
		key := pc.GetVoxelCoordinates(p, o.resolution)
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
		return true
	})

	ext := extent{level: o.rootLevel, origin: o.rootOrigin, empty: o.root == nil}
	for _, key := range keys {
		var err error
		if ext, err = ext.grownTo(key); err != nil {
			return err
		}
	}

	cloud.Iterate(func(_ int, p r3.Vector) bool {
		if finite(p) {
			o.meta.Merge(p)
		}
		return true
	})
	for _, key := range keys {
		o.updateLeaf(key)
	}
	if skipped > 0 {
		o.logger.Debugw("skipped non finite points", "count", skipped)
	}
	o.logger.Debugw("inserted cloud into octree", "points", cloud.Size(), "voxels", len(keys), "leaves", o.size)
	return nil
}

// Extract returns the center of every leaf voxel whose occupancy probability is at least threshold.
// The order is deterministic for a given volume.
func (o *Octree) Extract(threshold float64) *pc.PointCloud {
	out := pc.NewWithPrealloc(o.size)
	if o.root == nil {
		return out
	}
	minLogOdds := Logit(threshold)
	o.root.collect(o.rootLevel, o.rootOrigin, minLogOdds, func(key pc.VoxelCoords) {
		out.Append(pc.VoxelCenter(key, o.resolution))
	})
	return out
}

// Probability returns the occupancy probability of the voxel containing p, and whether that voxel
// has ever been observed.
func (o *Octree) Probability(p r3.Vector) (float64, bool) {
	if o.root == nil || !finite(p) {
		return 0.5, false
	}
	key := pc.GetVoxelCoordinates(p, o.resolution)
	if !contains(o.rootLevel, o.rootOrigin, key) {
		return 0.5, false
	}
	node := o.root.find(o.rootLevel, o.rootOrigin, key)
	if node == nil || node.nodeType != LeafNodeFilled {
		return 0.5, false
	}
	return Probability(node.logOdds), true
}

// extent is the key range covered by the root.
type extent struct {
	level  uint
	origin pc.VoxelCoords
	empty  bool
}

// grownTo returns the extent the root reaches once key is inserted.
func (e extent) grownTo(key pc.VoxelCoords) (extent, error) {
	if e.empty {
		return extent{origin: key}, nil
	}
	for !contains(e.level, e.origin, key) {
		if e.level >= maxLevel {
			return e, errors.Errorf("voxel %v is too far from the octree volume", key)
		}
		e.origin, _ = expandToward(e.level, e.origin, key)
		e.level++
	}
	return e, nil
}

// updateLeaf applies one hit to the voxel with the given key; the key must fit within maxLevel.
func (o *Octree) updateLeaf(key pc.VoxelCoords) {
	if o.root == nil {
		o.root = newLeafNodeEmpty()
		o.rootLevel = 0
		o.rootOrigin = key
	}
	for !contains(o.rootLevel, o.rootOrigin, key) {
		o.expand(key)
	}
	if o.root.insert(o.rootLevel, o.rootOrigin, key, o.hit, o.clampMax) {
		o.size++
	}
}

// expand doubles the root cube toward key.
func (o *Octree) expand(key pc.VoxelCoords) {
	origin, idx := expandToward(o.rootLevel, o.rootOrigin, key)
	parent := newInternalNode()
	if o.root.nodeType != LeafNodeEmpty {
		parent.children[idx] = o.root
		parent.logOdds = o.root.logOdds
	}
	o.root = parent
	o.rootLevel++
	o.rootOrigin = origin
}

func finite(p r3.Vector) bool {
	for _, f := range []float64{p.X, p.Y, p.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
