// Package scan moves a camera around an object and hands the clouds it captures to registered callbacks.
package scan

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/godel-robotics/surfacedetection/logging"
	pc "github.com/godel-robotics/surfacedetection/pointcloud"
	"github.com/godel-robotics/surfacedetection/spatialmath"
)

// WaitCloudTimeout bounds the wait for the cloud of one scan pose.
const WaitCloudTimeout = 2 * time.Second

var (
	// ErrScanNotReceived is returned when no cloud arrives at a scan pose.
	ErrScanNotReceived = errors.New("scan cloud not received")
	// ErrUnreachable is returned when too few scan poses can be reached.
	ErrUnreachable = errors.New("scan poses are not reachable")
)

// Mover moves the tool center point to a pose in the world frame.
type Mover interface {
	MoveTo(ctx context.Context, pose spatialmath.Pose) error
}

// PathPlanner is optionally implemented by a Mover. PlanPath returns the fraction of poses, in [0, 1],
// that a continuous path through them reaches.
type PathPlanner interface {
	PlanPath(ctx context.Context, poses []spatialmath.Pose) (float64, error)
}

// CloudSource provides the clouds captured by the camera, already expressed in the scan target frame.
type CloudSource interface {
	WaitForCloud(ctx context.Context, timeout time.Duration) (*pc.PointCloud, error)
}

// Callback receives every captured cloud.
type Callback func(cloud *pc.PointCloud) error

// SweepPoses returns the tool poses of the sweep: for every sweep angle alpha the camera pose relative to
// the object is zoffset * Rz(alpha) * xoffset * Ry(tilt), and the tool pose is
// world_to_obj * obj_to_cam * inverse(tcp_to_cam).
func SweepPoses(cfg Config) []spatialmath.Pose {
	n := cfg.NumScanPoints
	if n < 1 {
		return nil
	}
	incr := 0.
	if n > 1 {
		incr = (cfg.SweepAngleEnd - cfg.SweepAngleStart) / float64(n-1)
	}
	worldToObj := cfg.WorldToObjPose.Pose()
	camToTCP := spatialmath.PoseInverse(cfg.TCPToCamPose.Pose())
	zoffset := spatialmath.NewPoseFromPoint(r3.Vector{Z: cfg.CamToObjZOffset})
	xoffset := spatialmath.NewPoseFromPoint(r3.Vector{X: cfg.CamToObjXOffset})
	tilt := spatialmath.NewPoseFromOrientation(&spatialmath.R4AA{Theta: cfg.CamTiltAngle, RY: 1})

	poses := make([]spatialmath.Pose, 0, n)
	for i := 0; i < n; i++ {
		alpha := cfg.SweepAngleStart + incr*float64(i)
		rot := spatialmath.NewPoseFromOrientation(&spatialmath.R4AA{Theta: alpha, RZ: 1})
		objToCam := spatialmath.Compose(spatialmath.Compose(spatialmath.Compose(zoffset, rot), xoffset), tilt)
		poses = append(poses, spatialmath.Compose(spatialmath.Compose(worldToObj, objToCam), camToTCP))
	}
	return poses
}

// Scanner runs scan sweeps.
type Scanner struct {
	cfg    Config
	mover  Mover
	clouds CloudSource
	logger logging.Logger

	mu        sync.Mutex
	callbacks []Callback
}

// NewScanner returns a Scanner for the given sweep. clouds may be nil when only moves are performed.
func NewScanner(cfg Config, mover Mover, clouds CloudSource, logger logging.Logger) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if mover == nil {
		return nil, errors.New("scanner needs a mover")
	}
	return &Scanner{cfg: cfg, mover: mover, clouds: clouds, logger: logger}, nil
}

// AddScanCallback registers cb to receive every captured cloud.
func (s *Scanner) AddScanCallback(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// ScanPoses returns the tool poses of the sweep.
func (s *Scanner) ScanPoses() []spatialmath.Pose {
	return SweepPoses(s.cfg)
}

// Scan visits every sweep pose and, unless moveOnly, passes the cloud captured there to the callbacks.
// It returns the number of poses reached. A failed move ends the scan when StopOnPlanningError is set and
// is skipped otherwise; a missing cloud is logged and skipped.
func (s *Scanner) Scan(ctx context.Context, moveOnly bool) (int, error) {
	poses := s.ScanPoses()
	if planner, ok := s.mover.(PathPlanner); ok {
		fraction, err := planner.PlanPath(ctx, poses)
		if err != nil {
			return 0, errors.Wrap(err, "cannot plan scan path")
		}
		if math.IsNaN(fraction) || fraction < s.cfg.ReachableScanPointsRatio {
			s.logger.Warnw("reachable scan poses below threshold", "fraction", fraction, "threshold", s.cfg.ReachableScanPointsRatio)
			return 0, errors.Wrapf(ErrUnreachable, "%.2f reachable, need %.2f", fraction, s.cfg.ReachableScanPointsRatio)
		}
		s.logger.Infow("reachable scan poses at or above threshold", "fraction", fraction, "threshold", s.cfg.ReachableScanPointsRatio)
	}
	if !moveOnly && s.clouds == nil {
		return 0, errors.New("scan needs a cloud source")
	}

	s.mu.Lock()
	callbacks := append([]Callback{}, s.callbacks...)
	s.mu.Unlock()

	reached := 0
	for i, pose := range poses {
		if err := ctx.Err(); err != nil {
			return reached, err
		}
		if err := s.mover.MoveTo(ctx, pose); err != nil {
			if s.cfg.StopOnPlanningError {
				s.logger.Errorw("planning error encountered, quitting scan", "pose", i, "error", err)
				break
			}
			s.logger.Warnw("move to scan pose failed, skipping scan", "pose", i, "error", err)
			continue
		}
		reached++

		if moveOnly {
			s.logger.Debugw("move only, skipping scan", "pose", i)
			continue
		}
		cloud, err := s.clouds.WaitForCloud(ctx, WaitCloudTimeout)
		if err == nil && cloud == nil {
			err = ErrScanNotReceived
		}
		if err != nil {
			s.logger.Errorw("cloud not received", "pose", i, "error", err)
			continue
		}
		finite, _ := pc.RemoveNaN(cloud)
		s.logger.Infow("cloud received", "pose", i, "points", finite.Size(), "frame", s.cfg.ScanTargetFrame)

		var cbErr error
		for _, cb := range callbacks {
			cbErr = multierr.Append(cbErr, cb(finite))
		}
		if cbErr != nil {
			s.logger.Warnw("scan callback failed", "pose", i, "error", cbErr)
		}
	}
	return reached, nil
}
