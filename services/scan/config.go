package scan

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/godel-robotics/surfacedetection/config"
	"github.com/godel-robotics/surfacedetection/spatialmath"
)

// PoseConfig is a pose given as a position and fixed axis roll, pitch, yaw angles in radians.
type PoseConfig struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
	RX float64 `json:"rx"`
	RY float64 `json:"ry"`
	RZ float64 `json:"rz"`
}

// Pose converts the config to a Pose.
func (p PoseConfig) Pose() spatialmath.Pose {
	return spatialmath.NewPose(
		r3.Vector{X: p.X, Y: p.Y, Z: p.Z},
		&spatialmath.EulerAngles{Roll: p.RX, Pitch: p.RY, Yaw: p.RZ},
	)
}

var poseFields = []string{"x", "y", "z", "rx", "ry", "rz"}

const (
	tcpToCamKey   = "tcp_to_cam_pose"
	worldToObjKey = "world_to_obj_pose"
)

// Config describes the scan sweep. The camera circles the object at CamToObjXOffset from its vertical
// axis and CamToObjZOffset above it, tilted by CamTiltAngle, from SweepAngleStart to SweepAngleEnd.
type Config struct {
	GroupName  string `json:"group_name"`
	WorldFrame string `json:"world_frame"`
	TCPFrame   string `json:"tcp_frame"`

	TCPToCamPose   PoseConfig `json:"-"`
	WorldToObjPose PoseConfig `json:"-"`

	CamToObjZOffset float64 `json:"cam_to_obj_zoffset"`
	CamToObjXOffset float64 `json:"cam_to_obj_xoffset"`
	CamTiltAngle    float64 `json:"cam_tilt_angle"`
	SweepAngleStart float64 `json:"sweep_angle_start"`
	SweepAngleEnd   float64 `json:"sweep_angle_end"`

	ScanTopic                string  `json:"scan_topic"`
	ScanTargetFrame          string  `json:"scan_target_frame"`
	NumScanPoints            int     `json:"num_scan_points"`
	ReachableScanPointsRatio float64 `json:"reachable_scan_points_ratio"`
	StopOnPlanningError      bool    `json:"stop_on_planning_error"`
}

// DefaultConfig returns a full turn of 20 poses with the camera tilted 45 degrees down.
func DefaultConfig() Config {
	return Config{
		GroupName:                "manipulator",
		WorldFrame:               "world_frame",
		TCPFrame:                 "tcp",
		CamTiltAngle:             -math.Pi / 4,
		SweepAngleStart:          0,
		SweepAngleEnd:            2 * math.Pi,
		ScanTopic:                "point_cloud",
		ScanTargetFrame:          "world_frame",
		NumScanPoints:            20,
		ReachableScanPointsRatio: 0.5,
		StopOnPlanningError:      true,
	}
}

// Validate checks the sweep parameters.
func (cfg *Config) Validate() error {
	var errs error
	if cfg.NumScanPoints < 1 {
		errs = multierr.Append(errs, config.NewConfigurationError("num_scan_points",
			errors.Errorf("must be at least 1, got %d", cfg.NumScanPoints)))
	}
	if cfg.ReachableScanPointsRatio < 0 || cfg.ReachableScanPointsRatio > 1 {
		errs = multierr.Append(errs, config.NewConfigurationError("reachable_scan_points_ratio",
			errors.Errorf("must be between 0 and 1, got %v", cfg.ReachableScanPointsRatio)))
	}
	if cfg.WorldFrame == "" {
		errs = multierr.Append(errs, config.NewConfigurationError("world_frame", errors.New("must not be empty")))
	}
	return errs
}

// LoadConfig reads the scan parameters under namespace on top of the defaults. Poses, when present,
// must define all of x, y, z, rx, ry and rz.
func LoadConfig(path, namespace string) (Config, error) {
	params, err := config.ReadParams(path)
	if err != nil {
		return Config{}, err
	}
	ns, err := config.Namespace(params, namespace)
	if err != nil {
		return Config{}, err
	}
	return FromParams(ns)
}

// FromParams decodes scan parameters.
func FromParams(params config.Params) (Config, error) {
	cfg := DefaultConfig()
	rest := config.Params{}
	for k, v := range params {
		if k != tcpToCamKey && k != worldToObjKey {
			rest[k] = v
		}
	}
	if err := config.Decode(rest, &cfg); err != nil {
		return Config{}, err
	}
	for key, dst := range map[string]*PoseConfig{tcpToCamKey: &cfg.TCPToCamPose, worldToObjKey: &cfg.WorldToObjPose} {
		if _, ok := params[key]; !ok {
			continue
		}
		pose, err := parsePose(params, key)
		if err != nil {
			return Config{}, err
		}
		*dst = pose
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parsePose(params config.Params, key string) (PoseConfig, error) {
	sub, err := config.Namespace(params, key)
	if err != nil {
		return PoseConfig{}, err
	}
	var values [6]float64
	for i, field := range poseFields {
		v, err := config.Float64(sub, field)
		if err != nil {
			var cfgErr *config.ConfigurationError
			if errors.As(err, &cfgErr) {
				err = cfgErr.Err
			}
			return PoseConfig{}, config.NewConfigurationError(key+"/"+field, err)
		}
		values[i] = v
	}
	return PoseConfig{X: values[0], Y: values[1], Z: values[2], RX: values[3], RY: values[4], RZ: values[5]}, nil
}
