// Package segmentation implements support plane removal and normal aware region growing over
// point clouds.
package segmentation

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/godel-robotics/surfacedetection/logging"
	pc "github.com/godel-robotics/surfacedetection/pointcloud"
	"github.com/godel-robotics/surfacedetection/utils"
)

// Defaults of the support plane search.
const (
	DefaultRansacIterations = 1000
	// DefaultMaxPlaneTilt is the largest angle between a support plane normal and +Z.
	DefaultMaxPlaneTilt = 30 * math.Pi / 180
)

// TabletopConfig specifies the parameters of support plane removal.
type TabletopConfig struct {
	DistanceThresh float64 `json:"distance_threshold"`
	Iterations     int     `json:"iterations"`
	MaxTilt        float64 `json:"max_tilt_rad"`
}

// CheckValid checks to see in the inputs values are valid.
func (cfg *TabletopConfig) CheckValid() error {
	if cfg.DistanceThresh <= 0 {
		return errors.Errorf("distance_threshold must be greater than 0, got %v", cfg.DistanceThresh)
	}
	if cfg.Iterations < 0 {
		return errors.Errorf("iterations cannot be less than 0, got %d", cfg.Iterations)
	}
	if cfg.MaxTilt < 0 || cfg.MaxTilt > math.Pi/2 {
		return errors.Errorf("max_tilt_rad must be between 0 and pi/2, got %v", cfg.MaxTilt)
	}
	return nil
}

func (cfg TabletopConfig) withDefaults() TabletopConfig {
	if cfg.Iterations == 0 {
		cfg.Iterations = DefaultRansacIterations
	}
	if cfg.MaxTilt == 0 {
		cfg.MaxTilt = DefaultMaxPlaneTilt
	}
	return cfg
}

// Plane defines a planar object in a point cloud.
type Plane struct {
	normal  r3.Vector
	offset  float64
	inliers []int
}

// NewEmptyPlane initializes an empty plane object.
func NewEmptyPlane() *Plane {
	return &Plane{}
}

// Normal returns the unit normal of the plane.
func (p *Plane) Normal() r3.Vector {
	return p.normal
}

// Equation returns the plane equation [0]x + [1]y + [2]z + [3] = 0.
func (p *Plane) Equation() [4]float64 {
	return [4]float64{p.normal.X, p.normal.Y, p.normal.Z, p.offset}
}

// Distance calculates the signed distance from the plane to the input point.
func (p *Plane) Distance(pt r3.Vector) float64 {
	return p.normal.Dot(pt) + p.offset
}

// Inliers returns the indices of the points of the segmented cloud lying on the plane.
func (p *Plane) Inliers() []int {
	return p.inliers
}

// Empty reports whether no plane was found.
func (p *Plane) Empty() bool {
	return len(p.inliers) == 0
}

// SegmentPlane segments the biggest plane in the point cloud whose normal is within maxTilt of +Z.
// nIterations is the number of iteration for ransac
// nIter to choose? nIter = log(1-p)/log(1-(1-e)^s), where p is prob of success, e is outlier ratio, s is subset size (3 for plane).
// threshold is the maximum allowed distance to the found plane for a point to belong to it.
// The random generator is seeded so the result is reproducible. This function returns the Plane, as well
// as the remaining points in a pointcloud.
func SegmentPlane(cloud *pc.PointCloud, nIterations int, threshold, maxTilt float64) (*Plane, *pc.PointCloud) {
	nPoints := cloud.Size()
	if nPoints < 3 { // if point cloud does not have even 3 points, return original cloud with no planes
		return NewEmptyPlane(), cloud.Clone()
	}
	//nolint:gosec
	r := rand.New(rand.NewSource(1))
	pts := cloud.Points()
	minCos := math.Cos(maxTilt)

	var best *Plane
	bestInliers := 0
	for i := 0; i < nIterations; i++ {
		// sample 3 distinct points
		n1 := utils.SampleRandomIntRange(0, nPoints-1, r)
		n2 := utils.SampleRandomIntRange(0, nPoints-1, r)
		n3 := utils.SampleRandomIntRange(0, nPoints-1, r)
		if n1 == n2 || n1 == n3 || n2 == n3 {
			continue
		}
		p1, p2, p3 := pts[n1], pts[n2], pts[n3]

		// cross product to get the normal unit vector to the plane (v1, v2)
		cross := p2.Sub(p1).Cross(p3.Sub(p1))
		if cross.Norm2() == 0 {
			continue
		}
		vec := cross.Normalize()
		if vec.Z < 0 {
			vec = vec.Mul(-1)
		}
		if vec.Z < minCos {
			continue
		}
		candidate := &Plane{normal: vec, offset: -vec.Dot(p1)}

		currentInliers := 0
		for _, pt := range pts {
			if math.Abs(candidate.Distance(pt)) <= threshold {
				currentInliers++
			}
		}
		// if the current plane contains more points than the previously stored one, save this one as the biggest plane
		if currentInliers > bestInliers {
			best = candidate
			bestInliers = currentInliers
		}
	}
	if best == nil || bestInliers < 3 {
		return NewEmptyPlane(), cloud.Clone()
	}

	remaining := pc.NewWithPrealloc(nPoints - bestInliers)
	best.inliers = make([]int, 0, bestInliers)
	for i, pt := range pts {
		if math.Abs(best.Distance(pt)) <= threshold {
			best.inliers = append(best.inliers, i)
		} else {
			remaining.Append(pt)
		}
	}
	return best, remaining
}

// RemoveSupportPlane finds the dominant roughly horizontal plane of the cloud and returns the cloud without
// its inliers. If no plane is found the cloud is returned unchanged.
func RemoveSupportPlane(cloud *pc.PointCloud, cfg TabletopConfig, logger logging.Logger) (*pc.PointCloud, *Plane, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, nil, err
	}
	cfg = cfg.withDefaults()
	plane, remaining := SegmentPlane(cloud, cfg.Iterations, cfg.DistanceThresh, cfg.MaxTilt)
	if plane.Empty() {
		logger.Debugw("no support plane found", "points", cloud.Size())
		return remaining, plane, nil
	}
	logger.Debugw("removed support plane",
		"equation", plane.Equation(), "inliers", len(plane.Inliers()), "remaining", remaining.Size())
	return remaining, plane, nil
}
