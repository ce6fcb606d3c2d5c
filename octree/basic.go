package octree

import (
	"math"

	pc "github.com/godel-robotics/surfacedetection/pointcloud"
)

// basicOctree is a node of the octree. A node at level L covers 2^L leaf voxels along each axis,
// starting at its origin key; level 0 nodes are leaves. Internal nodes keep the maximum log-odds of
// their subtree so that extraction can prune unoccupied branches.
type basicOctree struct {
	nodeType NodeType
	children []*basicOctree
	logOdds  float64
}

func newLeafNodeEmpty() *basicOctree {
	return &basicOctree{nodeType: LeafNodeEmpty, logOdds: math.Inf(-1)}
}

func newLeafNodeFilled(logOdds float64) *basicOctree {
	return &basicOctree{nodeType: LeafNodeFilled, logOdds: logOdds}
}

func newInternalNode() *basicOctree {
	return &basicOctree{nodeType: InternalNode, children: make([]*basicOctree, 8), logOdds: math.Inf(-1)}
}

// contains reports whether key falls inside the node at level with the given origin.
func contains(level uint, origin, key pc.VoxelCoords) bool {
	span := int64(1) << level
	return key.I >= origin.I && key.I < origin.I+span &&
		key.J >= origin.J && key.J < origin.J+span &&
		key.K >= origin.K && key.K < origin.K+span
}

// childIndex returns the octant of the level node at origin that holds key.
func childIndex(key, origin pc.VoxelCoords, level uint) int {
	bit := level - 1
	return int(((key.I-origin.I)>>bit)&1) | int(((key.J-origin.J)>>bit)&1)<<1 | int(((key.K-origin.K)>>bit)&1)<<2
}

// expandToward returns the origin of the level+1 node that extends the level node at origin one
// step toward key, and the octant the old node takes in it. On every axis where key lies below
// origin the new node grows downward, otherwise upward.
func expandToward(level uint, origin, key pc.VoxelCoords) (pc.VoxelCoords, int) {
	span := int64(1) << level
	idx := 0
	if key.I < origin.I {
		origin.I -= span
		idx |= 1
	}
	if key.J < origin.J {
		origin.J -= span
		idx |= 2
	}
	if key.K < origin.K {
		origin.K -= span
		idx |= 4
	}
	return origin, idx
}

func childOrigin(origin pc.VoxelCoords, level uint, index int) pc.VoxelCoords {
	half := int64(1) << (level - 1)
	return pc.VoxelCoords{
		I: origin.I + int64(index&1)*half,
		J: origin.J + int64((index>>1)&1)*half,
		K: origin.K + int64((index>>2)&1)*half,
	}
}

// insert applies one hit to the leaf with the given key and reports whether the leaf is new.
func (node *basicOctree) insert(level uint, origin, key pc.VoxelCoords, hit, clampMax float64) bool {
	if level == 0 {
		created := node.nodeType == LeafNodeEmpty
		if created {
			node.nodeType = LeafNodeFilled
			node.logOdds = 0
		}
		node.logOdds = math.Min(node.logOdds+hit, clampMax)
		return created
	}
	if node.nodeType != InternalNode {
		*node = *newInternalNode()
	}
	idx := childIndex(key, origin, level)
	child := node.children[idx]
	if child == nil {
		child = newLeafNodeEmpty()
		node.children[idx] = child
	}
	created := child.insert(level-1, childOrigin(origin, level, idx), key, hit, clampMax)
	node.logOdds = math.Max(node.logOdds, child.logOdds)
	return created
}

func (node *basicOctree) find(level uint, origin, key pc.VoxelCoords) *basicOctree {
	if level == 0 {
		return node
	}
	if node.nodeType != InternalNode {
		return nil
	}
	idx := childIndex(key, origin, level)
	child := node.children[idx]
	if child == nil {
		return nil
	}
	return child.find(level-1, childOrigin(origin, level, idx), key)
}

// collect visits, in octant order, the key of every leaf with at least minLogOdds.
func (node *basicOctree) collect(level uint, origin pc.VoxelCoords, minLogOdds float64, fn func(pc.VoxelCoords)) {
	if node.logOdds < minLogOdds {
		return
	}
	switch node.nodeType {
	case LeafNodeFilled:
		fn(origin)
	case InternalNode:
		for idx, child := range node.children {
			if child != nil {
				child.collect(level-1, childOrigin(origin, level, idx), minLogOdds, fn)
			}
		}
	case LeafNodeEmpty:
	}
}
