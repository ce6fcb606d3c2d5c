package scan

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"

	"github.com/godel-robotics/surfacedetection/logging"
	pc "github.com/godel-robotics/surfacedetection/pointcloud"
	"github.com/godel-robotics/surfacedetection/services/surfacedetection"
	"github.com/godel-robotics/surfacedetection/spatialmath"
)

type fakeMover struct {
	fail     map[int]bool
	fraction float64
	plan     bool
	moves    []spatialmath.Pose
}

func (m *fakeMover) MoveTo(ctx context.Context, pose spatialmath.Pose) error {
	i := len(m.moves)
	m.moves = append(m.moves, pose)
	if m.fail[i] {
		return errors.Errorf("cannot reach pose %d", i)
	}
	return nil
}

type plannerMover struct {
	fakeMover
}

func (m *plannerMover) PlanPath(ctx context.Context, poses []spatialmath.Pose) (float64, error) {
	return m.fraction, nil
}

type fakeClouds struct {
	clouds []*pc.PointCloud
	calls  int
}

func (c *fakeClouds) WaitForCloud(ctx context.Context, timeout time.Duration) (*pc.PointCloud, error) {
	i := c.calls
	c.calls++
	if i >= len(c.clouds) || c.clouds[i] == nil {
		return nil, errors.Wrap(ErrScanNotReceived, "timed out")
	}
	return c.clouds[i], nil
}

func sweepConfig(n int) Config {
	cfg := DefaultConfig()
	cfg.NumScanPoints = n
	cfg.CamToObjZOffset = 0.5
	cfg.CamToObjXOffset = 0.3
	cfg.SweepAngleStart = 0
	cfg.SweepAngleEnd = math.Pi / 2
	return cfg
}

func TestSweepPoses(t *testing.T) {
	cfg := sweepConfig(3)
	poses := SweepPoses(cfg)
	test.That(t, len(poses), test.ShouldEqual, 3)

	for i, alpha := range []float64{0, math.Pi / 4, math.Pi / 2} {
		p := poses[i]
		expected := r3.Vector{X: 0.3 * math.Cos(alpha), Y: 0.3 * math.Sin(alpha), Z: 0.5}
		test.That(t, spatialmath.PoseAlmostCoincidentEps(p, spatialmath.NewPoseFromPoint(expected), 1e-9), test.ShouldBeTrue)

		rz := (&spatialmath.R4AA{Theta: alpha, RZ: 1}).Quaternion()
		ry := (&spatialmath.R4AA{Theta: cfg.CamTiltAngle, RY: 1}).Quaternion()
		test.That(t, spatialmath.QuaternionAlmostEqual(p.Orientation().Quaternion(), quat.Mul(rz, ry), 1e-9), test.ShouldBeTrue)
	}

	// the camera axis is tilted toward the object axis
	viewDir := spatialmath.RotateVector(poses[0].Orientation().Quaternion(), r3.Vector{Z: 1})
	test.That(t, viewDir.X, test.ShouldBeLessThan, 0)
	test.That(t, viewDir.Z, test.ShouldBeGreaterThan, 0)

	cfg.NumScanPoints = 1
	poses = SweepPoses(cfg)
	test.That(t, len(poses), test.ShouldEqual, 1)
	test.That(t, poses[0].Point().X, test.ShouldAlmostEqual, 0.3)

	cfg.NumScanPoints = 0
	test.That(t, SweepPoses(cfg), test.ShouldBeEmpty)
}

func TestSweepPosesWithFrames(t *testing.T) {
	cfg := sweepConfig(2)
	cfg.SweepAngleEnd = 0
	cfg.CamTiltAngle = 0
	cfg.WorldToObjPose = PoseConfig{X: 1, Y: 2}
	cfg.TCPToCamPose = PoseConfig{Z: 0.1}
	poses := SweepPoses(cfg)
	test.That(t, len(poses), test.ShouldEqual, 2)
	expected := spatialmath.NewPoseFromPoint(r3.Vector{X: 1.3, Y: 2, Z: 0.4})
	test.That(t, spatialmath.PoseAlmostEqual(poses[0], expected), test.ShouldBeTrue)
	test.That(t, spatialmath.PoseAlmostEqual(poses[1], expected), test.ShouldBeTrue)

	cfg.WorldToObjPose = PoseConfig{RZ: math.Pi / 2}
	cfg.TCPToCamPose = PoseConfig{}
	poses = SweepPoses(cfg)
	test.That(t, poses[0].Point().X, test.ShouldAlmostEqual, 0)
	test.That(t, poses[0].Point().Y, test.ShouldAlmostEqual, 0.3)
}

func TestScan(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cloud := pc.NewFromPoints([]r3.Vector{{X: 1}, {Y: 1}, {X: math.NaN()}})
	clouds := &fakeClouds{clouds: []*pc.PointCloud{cloud, nil, cloud, cloud}}
	mover := &fakeMover{}

	scanner, err := NewScanner(sweepConfig(4), mover, clouds, logger)
	test.That(t, err, test.ShouldBeNil)
	var received []int
	scanner.AddScanCallback(func(c *pc.PointCloud) error {
		received = append(received, c.Size())
		return nil
	})
	scanner.AddScanCallback(func(c *pc.PointCloud) error {
		return errors.New("ignored")
	})

	reached, err := scanner.Scan(context.Background(), false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reached, test.ShouldEqual, 4)
	test.That(t, len(mover.moves), test.ShouldEqual, 4)
	// the second cloud never arrived and NaN points are dropped
	test.That(t, received, test.ShouldResemble, []int{2, 2, 2})
}

func TestScanMoveFailures(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	cfg := sweepConfig(5)
	mover := &fakeMover{fail: map[int]bool{1: true}}
	clouds := &fakeClouds{}
	scanner, err := NewScanner(cfg, mover, clouds, logger)
	test.That(t, err, test.ShouldBeNil)

	reached, err := scanner.Scan(context.Background(), false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reached, test.ShouldEqual, 1)
	test.That(t, len(mover.moves), test.ShouldEqual, 2)
	test.That(t, logs.FilterMessageSnippet("quitting scan").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessageSnippet("cloud not received").Len(), test.ShouldEqual, 1)

	cfg.StopOnPlanningError = false
	mover = &fakeMover{fail: map[int]bool{1: true, 3: true}}
	scanner, err = NewScanner(cfg, mover, clouds, logger)
	test.That(t, err, test.ShouldBeNil)
	reached, err = scanner.Scan(context.Background(), true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reached, test.ShouldEqual, 3)
	test.That(t, len(mover.moves), test.ShouldEqual, 5)
	test.That(t, logs.FilterMessageSnippet("skipping scan").Len(), test.ShouldBeGreaterThanOrEqualTo, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = scanner.Scan(ctx, true)
	test.That(t, err, test.ShouldBeError, context.Canceled)
}

func TestScanReachability(t *testing.T) {
	logger := logging.NewTestLogger(t)
	mover := &plannerMover{fakeMover{fraction: 0.2}}
	scanner, err := NewScanner(sweepConfig(3), mover, nil, logger)
	test.That(t, err, test.ShouldBeNil)

	reached, err := scanner.Scan(context.Background(), true)
	test.That(t, errors.Is(err, ErrUnreachable), test.ShouldBeTrue)
	test.That(t, reached, test.ShouldEqual, 0)
	test.That(t, mover.moves, test.ShouldBeEmpty)

	mover.fraction = 0.9
	reached, err = scanner.Scan(context.Background(), true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reached, test.ShouldEqual, 3)

	_, err = scanner.Scan(context.Background(), false)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cloud source")
}

func TestScanIntoSurfaceDetection(t *testing.T) {
	logger := logging.NewTestLogger(t)
	sd := surfacedetection.NewSurfaceDetection(logger.Sublogger("detection"))
	test.That(t, sd.Init(), test.ShouldBeNil)

	view := pc.MakeTestPlane(10, 10, 0.01, 0, 0, 0)
	clouds := &fakeClouds{clouds: []*pc.PointCloud{view, view, view}}
	scanner, err := NewScanner(sweepConfig(3), &fakeMover{}, clouds, logger)
	test.That(t, err, test.ShouldBeNil)
	scanner.AddScanCallback(sd.AddCloud)

	reached, err := scanner.Scan(context.Background(), false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reached, test.ShouldEqual, 3)
	test.That(t, sd.GetFullCloud().Size(), test.ShouldEqual, 3*view.Size())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.json")
	body := `{"robot_scan": {
		"group_name": "arm",
		"num_scan_points": "12",
		"cam_tilt_angle": -0.5,
		"stop_on_planning_error": false,
		"tcp_to_cam_pose": {"x": 0, "y": 0, "z": "0.1", "rx": 0, "ry": 0, "rz": 0},
		"world_to_obj_pose": {"x": 1, "y": 0, "z": 0, "rx": 0, "ry": 0, "rz": 1.57}
	}}`
	test.That(t, os.WriteFile(path, []byte(body), 0o600), test.ShouldBeNil)

	cfg, err := LoadConfig(path, "robot_scan")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.GroupName, test.ShouldEqual, "arm")
	test.That(t, cfg.NumScanPoints, test.ShouldEqual, 12)
	test.That(t, cfg.CamTiltAngle, test.ShouldAlmostEqual, -0.5)
	test.That(t, cfg.StopOnPlanningError, test.ShouldBeFalse)
	test.That(t, cfg.TCPToCamPose, test.ShouldResemble, PoseConfig{Z: 0.1})
	test.That(t, cfg.WorldToObjPose, test.ShouldResemble, PoseConfig{X: 1, RZ: 1.57})
	test.That(t, cfg.TCPFrame, test.ShouldEqual, DefaultConfig().TCPFrame)

	badPose := filepath.Join(t.TempDir(), "bad.json")
	test.That(t, os.WriteFile(badPose, []byte(`{"tcp_to_cam_pose": {"x": 0}}`), 0o600), test.ShouldBeNil)
	_, err = LoadConfig(badPose, "")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "tcp_to_cam_pose/y")

	badRatio := filepath.Join(t.TempDir(), "ratio.json")
	test.That(t, os.WriteFile(badRatio, []byte(`{"reachable_scan_points_ratio": 2}`), 0o600), test.ShouldBeNil)
	_, err = LoadConfig(badRatio, "")
	test.That(t, err.Error(), test.ShouldContainSubstring, "reachable_scan_points_ratio")
}

func TestPoseConfig(t *testing.T) {
	p := PoseConfig{X: 1, RX: 0.1, RY: 0.2, RZ: 0.3}.Pose()
	test.That(t, p.Point(), test.ShouldResemble, r3.Vector{X: 1})
	ea := p.Orientation().EulerAngles()
	test.That(t, ea.Roll, test.ShouldAlmostEqual, 0.1)
	test.That(t, ea.Pitch, test.ShouldAlmostEqual, 0.2)
	test.That(t, ea.Yaw, test.ShouldAlmostEqual, 0.3)
}
