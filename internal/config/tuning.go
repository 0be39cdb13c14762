package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// QuasiJointCount is the length of the controlled quasi-velocity vector:
// base rotation, base translation and the four arm joints.
const QuasiJointCount = 6

// ArmJointCount is the number of revolute arm joints.
const ArmJointCount = 4

// JointSpec describes the limits of one controlled quasi-joint. Missing
// position limits mean the joint is unbounded (the mobile base).
type JointSpec struct {
	Name        string   `json:"name"`
	MinPosition *float64 `json:"min_position,omitempty"`
	MaxPosition *float64 `json:"max_position,omitempty"`
	MaxVelocity float64  `json:"max_velocity"`
	Weight      *float64 `json:"weight,omitempty"`
}

// PoseSpec is a position plus a unit quaternion (w, x, y, z).
type PoseSpec struct {
	Position    [3]float64 `json:"position"`
	Orientation [4]float64 `json:"orientation"`
}

// MarkerSpec places a fiducial marker in the world frame.
type MarkerSpec struct {
	ID int `json:"id"`
	PoseSpec
}

// TuningConfig represents the root configuration for the estimator, the
// task-priority controller and the manipulator geometry. Every scalar is a
// pointer so partial JSON files fall back to the Get* defaults.
type TuningConfig struct {
	// Estimator params
	EstimatorRateHz        *float64 `json:"estimator_rate_hz,omitempty"`
	ProcessNoisePos        *float64 `json:"process_noise_pos,omitempty"`
	ProcessNoiseAtt        *float64 `json:"process_noise_att,omitempty"`
	ProcessNoiseVel        *float64 `json:"process_noise_vel,omitempty"`
	ProcessNoiseRate       *float64 `json:"process_noise_rate,omitempty"`
	InitialPosSigma        *float64 `json:"initial_pos_sigma,omitempty"`
	InitialAttSigma        *float64 `json:"initial_att_sigma,omitempty"`
	InitialVelSigma        *float64 `json:"initial_vel_sigma,omitempty"`
	OdomLinearNoise        *float64 `json:"odom_linear_noise,omitempty"`
	OdomAngularNoise       *float64 `json:"odom_angular_noise,omitempty"`
	MarkerPositionNoise    *float64 `json:"marker_position_noise,omitempty"`
	MarkerOrientationNoise *float64 `json:"marker_orientation_noise,omitempty"`
	OdomGateThreshold      *float64 `json:"odom_gate_threshold,omitempty"`
	MarkerGateThreshold    *float64 `json:"marker_gate_threshold,omitempty"`
	StalenessThreshold     *string  `json:"staleness_threshold,omitempty"` // duration string like "250ms"
	MarkerTimeout          *string  `json:"marker_timeout,omitempty"`      // duration string like "2s"
	MarkerTimeoutInflation *float64 `json:"marker_timeout_inflation,omitempty"`
	MaxCovarianceTrace     *float64 `json:"max_covariance_trace,omitempty"`
	MaxPredictDt           *float64 `json:"max_predict_dt,omitempty"`
	MaxPendingObservations *int     `json:"max_pending_observations,omitempty"`

	// Controller params
	ControlRateHz        *float64    `json:"control_rate_hz,omitempty"`
	CycleBudget          *string     `json:"cycle_budget,omitempty"` // duration string like "15ms"
	DampingMax           *float64    `json:"damping_max,omitempty"`
	SingularThreshold    *float64    `json:"singular_threshold,omitempty"`
	RankTolerance        *float64    `json:"rank_tolerance,omitempty"`
	TaskTolerance        *float64    `json:"task_tolerance,omitempty"`
	JointLimitActivate   *float64    `json:"joint_limit_activate,omitempty"`
	JointLimitDeactivate *float64    `json:"joint_limit_deactivate,omitempty"`
	JointLimitGain       *float64    `json:"joint_limit_gain,omitempty"`
	ObstacleActivate     *float64    `json:"obstacle_activate,omitempty"`
	ObstacleDeactivate   *float64    `json:"obstacle_deactivate,omitempty"`
	Joints               []JointSpec `json:"joints,omitempty"`

	// Manipulator geometry (metres)
	ManiBX     *float64 `json:"mani_bx,omitempty"`
	ManiBZ     *float64 `json:"mani_bz,omitempty"`
	ManiD1     *float64 `json:"mani_d1,omitempty"`
	ManiD2     *float64 `json:"mani_d2,omitempty"`
	ManiMZ     *float64 `json:"mani_mz,omitempty"`
	ManiMX     *float64 `json:"mani_mx,omitempty"`
	ManiMountX *float64 `json:"mani_mount_x,omitempty"`

	// Camera extrinsic (base_footprint -> camera) and marker map
	CameraExtrinsic *PoseSpec    `json:"camera_extrinsic,omitempty"`
	Markers         []MarkerSpec `json:"markers,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a config with every field populated from the
// built-in defaults. It does not touch the filesystem.
func DefaultTuningConfig() *TuningConfig {
	c := EmptyTuningConfig()
	return &TuningConfig{
		EstimatorRateHz:        ptrFloat64(c.GetEstimatorRateHz()),
		ProcessNoisePos:        ptrFloat64(c.GetProcessNoisePos()),
		ProcessNoiseAtt:        ptrFloat64(c.GetProcessNoiseAtt()),
		ProcessNoiseVel:        ptrFloat64(c.GetProcessNoiseVel()),
		ProcessNoiseRate:       ptrFloat64(c.GetProcessNoiseRate()),
		InitialPosSigma:        ptrFloat64(c.GetInitialPosSigma()),
		InitialAttSigma:        ptrFloat64(c.GetInitialAttSigma()),
		InitialVelSigma:        ptrFloat64(c.GetInitialVelSigma()),
		OdomLinearNoise:        ptrFloat64(c.GetOdomLinearNoise()),
		OdomAngularNoise:       ptrFloat64(c.GetOdomAngularNoise()),
		MarkerPositionNoise:    ptrFloat64(c.GetMarkerPositionNoise()),
		MarkerOrientationNoise: ptrFloat64(c.GetMarkerOrientationNoise()),
		OdomGateThreshold:      ptrFloat64(c.GetOdomGateThreshold()),
		MarkerGateThreshold:    ptrFloat64(c.GetMarkerGateThreshold()),
		StalenessThreshold:     ptrString(c.GetStalenessThreshold().String()),
		MarkerTimeout:          ptrString(c.GetMarkerTimeout().String()),
		MarkerTimeoutInflation: ptrFloat64(c.GetMarkerTimeoutInflation()),
		MaxCovarianceTrace:     ptrFloat64(c.GetMaxCovarianceTrace()),
		MaxPredictDt:           ptrFloat64(c.GetMaxPredictDt()),
		MaxPendingObservations: ptrInt(c.GetMaxPendingObservations()),
		ControlRateHz:          ptrFloat64(c.GetControlRateHz()),
		CycleBudget:            ptrString(c.GetCycleBudget().String()),
		DampingMax:             ptrFloat64(c.GetDampingMax()),
		SingularThreshold:      ptrFloat64(c.GetSingularThreshold()),
		RankTolerance:          ptrFloat64(c.GetRankTolerance()),
		TaskTolerance:          ptrFloat64(c.GetTaskTolerance()),
		JointLimitActivate:     ptrFloat64(c.GetJointLimitActivate()),
		JointLimitDeactivate:   ptrFloat64(c.GetJointLimitDeactivate()),
		JointLimitGain:         ptrFloat64(c.GetJointLimitGain()),
		ObstacleActivate:       ptrFloat64(c.GetObstacleActivate()),
		ObstacleDeactivate:     ptrFloat64(c.GetObstacleDeactivate()),
		Joints:                 c.GetJoints(),
		ManiBX:                 ptrFloat64(c.GetManiBX()),
		ManiBZ:                 ptrFloat64(c.GetManiBZ()),
		ManiD1:                 ptrFloat64(c.GetManiD1()),
		ManiD2:                 ptrFloat64(c.GetManiD2()),
		ManiMZ:                 ptrFloat64(c.GetManiMZ()),
		ManiMX:                 ptrFloat64(c.GetManiMX()),
		ManiMountX:             ptrFloat64(c.GetManiMountX()),
		CameraExtrinsic:        ptrPose(c.GetCameraExtrinsic()),
		Markers:                c.GetMarkers(),
	}
}

func ptrPose(p PoseSpec) *PoseSpec { return &p }

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,       // from cmd/manipulator/
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Any error here
// is a fatal startup error: the control loop never runs on a config that
// fails validation.
func (c *TuningConfig) Validate() error {
	positive := map[string]*float64{
		"estimator_rate_hz":        c.EstimatorRateHz,
		"control_rate_hz":          c.ControlRateHz,
		"odom_gate_threshold":      c.OdomGateThreshold,
		"marker_gate_threshold":    c.MarkerGateThreshold,
		"max_covariance_trace":     c.MaxCovarianceTrace,
		"max_predict_dt":           c.MaxPredictDt,
		"odom_linear_noise":        c.OdomLinearNoise,
		"odom_angular_noise":       c.OdomAngularNoise,
		"marker_position_noise":    c.MarkerPositionNoise,
		"marker_orientation_noise": c.MarkerOrientationNoise,
		"singular_threshold":       c.SingularThreshold,
	}
	for name, v := range positive {
		if v != nil && !(*v > 0) {
			return fmt.Errorf("%s must be positive, got %v", name, *v)
		}
	}

	nonNegative := map[string]*float64{
		"process_noise_pos":        c.ProcessNoisePos,
		"process_noise_att":        c.ProcessNoiseAtt,
		"process_noise_vel":        c.ProcessNoiseVel,
		"process_noise_rate":       c.ProcessNoiseRate,
		"marker_timeout_inflation": c.MarkerTimeoutInflation,
		"damping_max":              c.DampingMax,
		"rank_tolerance":           c.RankTolerance,
		"task_tolerance":           c.TaskTolerance,
	}
	for name, v := range nonNegative {
		if v != nil && (*v < 0 || math.IsNaN(*v)) {
			return fmt.Errorf("%s must be non-negative, got %v", name, *v)
		}
	}

	for name, s := range map[string]*string{
		"staleness_threshold": c.StalenessThreshold,
		"marker_timeout":      c.MarkerTimeout,
		"cycle_budget":        c.CycleBudget,
	} {
		if s != nil && *s != "" {
			d, err := time.ParseDuration(*s)
			if err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *s, err)
			}
			if d <= 0 {
				return fmt.Errorf("%s must be positive, got %s", name, *s)
			}
		}
	}

	if c.MaxPendingObservations != nil && *c.MaxPendingObservations < 1 {
		return fmt.Errorf("max_pending_observations must be at least 1, got %d", *c.MaxPendingObservations)
	}

	if c.JointLimitActivate != nil && c.JointLimitDeactivate != nil &&
		*c.JointLimitDeactivate <= *c.JointLimitActivate {
		return fmt.Errorf("joint_limit_deactivate (%v) must exceed joint_limit_activate (%v)",
			*c.JointLimitDeactivate, *c.JointLimitActivate)
	}
	if c.ObstacleActivate != nil && c.ObstacleDeactivate != nil &&
		*c.ObstacleDeactivate <= *c.ObstacleActivate {
		return fmt.Errorf("obstacle_deactivate (%v) must exceed obstacle_activate (%v)",
			*c.ObstacleDeactivate, *c.ObstacleActivate)
	}

	if c.Joints != nil {
		if len(c.Joints) != QuasiJointCount {
			return fmt.Errorf("joints must describe %d quasi-joints, got %d", QuasiJointCount, len(c.Joints))
		}
		for i, j := range c.Joints {
			if !(j.MaxVelocity > 0) {
				return fmt.Errorf("joint %d (%s): max_velocity must be positive, got %v", i, j.Name, j.MaxVelocity)
			}
			if j.MinPosition != nil && j.MaxPosition != nil && *j.MinPosition >= *j.MaxPosition {
				return fmt.Errorf("joint %d (%s): min_position %v must be below max_position %v",
					i, j.Name, *j.MinPosition, *j.MaxPosition)
			}
			if j.Weight != nil && !(*j.Weight > 0) {
				return fmt.Errorf("joint %d (%s): weight must be positive, got %v", i, j.Name, *j.Weight)
			}
		}
	}

	if c.CameraExtrinsic != nil {
		if err := validatePose(*c.CameraExtrinsic); err != nil {
			return fmt.Errorf("camera_extrinsic: %w", err)
		}
	}
	seen := make(map[int]bool, len(c.Markers))
	for _, m := range c.Markers {
		if seen[m.ID] {
			return fmt.Errorf("marker %d declared twice", m.ID)
		}
		seen[m.ID] = true
		if err := validatePose(m.PoseSpec); err != nil {
			return fmt.Errorf("marker %d: %w", m.ID, err)
		}
	}

	return nil
}

func validatePose(p PoseSpec) error {
	var n float64
	for _, v := range p.Orientation {
		n += v * v
	}
	if math.Abs(math.Sqrt(n)-1) > 1e-3 {
		return fmt.Errorf("orientation must be a unit quaternion, norm=%.4f", math.Sqrt(n))
	}
	for _, v := range p.Position {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("position must be finite")
		}
	}
	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// GetEstimatorRateHz returns the estimator_rate_hz value or the default.
func (c *TuningConfig) GetEstimatorRateHz() float64 { return floatOr(c.EstimatorRateHz, 100) }

// GetProcessNoisePos returns the process_noise_pos value or the default (m²/s).
func (c *TuningConfig) GetProcessNoisePos() float64 { return floatOr(c.ProcessNoisePos, 1e-4) }

// GetProcessNoiseAtt returns the process_noise_att value or the default (rad²/s).
func (c *TuningConfig) GetProcessNoiseAtt() float64 { return floatOr(c.ProcessNoiseAtt, 1e-4) }

// GetProcessNoiseVel returns the process_noise_vel value or the default ((m/s)²/s).
func (c *TuningConfig) GetProcessNoiseVel() float64 { return floatOr(c.ProcessNoiseVel, 0.05) }

// GetProcessNoiseRate returns the process_noise_rate value or the default ((rad/s)²/s).
func (c *TuningConfig) GetProcessNoiseRate() float64 { return floatOr(c.ProcessNoiseRate, 0.05) }

// GetInitialPosSigma returns the initial_pos_sigma value or the default.
func (c *TuningConfig) GetInitialPosSigma() float64 { return floatOr(c.InitialPosSigma, 0.05) }

// GetInitialAttSigma returns the initial_att_sigma value or the default.
func (c *TuningConfig) GetInitialAttSigma() float64 { return floatOr(c.InitialAttSigma, 0.05) }

// GetInitialVelSigma returns the initial_vel_sigma value or the default.
func (c *TuningConfig) GetInitialVelSigma() float64 { return floatOr(c.InitialVelSigma, 0.1) }

// GetOdomLinearNoise returns the odom_linear_noise value or the default (σ², (m/s)²).
func (c *TuningConfig) GetOdomLinearNoise() float64 { return floatOr(c.OdomLinearNoise, 0.01) }

// GetOdomAngularNoise returns the odom_angular_noise value or the default (σ², (rad/s)²).
func (c *TuningConfig) GetOdomAngularNoise() float64 { return floatOr(c.OdomAngularNoise, 0.01) }

// GetMarkerPositionNoise returns the marker_position_noise value or the default (σ², m²).
func (c *TuningConfig) GetMarkerPositionNoise() float64 {
	return floatOr(c.MarkerPositionNoise, 0.0004)
}

// GetMarkerOrientationNoise returns the marker_orientation_noise value or the default (σ², rad²).
func (c *TuningConfig) GetMarkerOrientationNoise() float64 {
	return floatOr(c.MarkerOrientationNoise, 0.003)
}

// GetOdomGateThreshold returns the odom_gate_threshold value or the default.
// 22.46 is the chi-square 0.999 quantile for 6 degrees of freedom.
func (c *TuningConfig) GetOdomGateThreshold() float64 { return floatOr(c.OdomGateThreshold, 22.46) }

// GetMarkerGateThreshold returns the marker_gate_threshold value or the default.
// 16.81 is the chi-square 0.99 quantile for 6 degrees of freedom.
func (c *TuningConfig) GetMarkerGateThreshold() float64 {
	return floatOr(c.MarkerGateThreshold, 16.81)
}

// GetStalenessThreshold parses and returns the staleness_threshold.
func (c *TuningConfig) GetStalenessThreshold() time.Duration {
	return durationOr(c.StalenessThreshold, 250*time.Millisecond)
}

// GetMarkerTimeout parses and returns the marker_timeout.
func (c *TuningConfig) GetMarkerTimeout() time.Duration {
	return durationOr(c.MarkerTimeout, 2*time.Second)
}

// GetMarkerTimeoutInflation returns the marker_timeout_inflation value or the default.
func (c *TuningConfig) GetMarkerTimeoutInflation() float64 {
	return floatOr(c.MarkerTimeoutInflation, 0.01)
}

// GetMaxCovarianceTrace returns the max_covariance_trace value or the default.
func (c *TuningConfig) GetMaxCovarianceTrace() float64 {
	return floatOr(c.MaxCovarianceTrace, 1e4)
}

// GetMaxPredictDt returns the max_predict_dt value (seconds) or the default.
func (c *TuningConfig) GetMaxPredictDt() float64 { return floatOr(c.MaxPredictDt, 0.05) }

// GetMaxPendingObservations returns the max_pending_observations value or the default.
func (c *TuningConfig) GetMaxPendingObservations() int {
	if c.MaxPendingObservations == nil {
		return 64
	}
	return *c.MaxPendingObservations
}

// GetControlRateHz returns the control_rate_hz value or the default.
func (c *TuningConfig) GetControlRateHz() float64 { return floatOr(c.ControlRateHz, 50) }

// GetCycleBudget parses and returns the cycle_budget.
func (c *TuningConfig) GetCycleBudget() time.Duration {
	return durationOr(c.CycleBudget, 15*time.Millisecond)
}

// GetDampingMax returns the damping_max value or the default.
func (c *TuningConfig) GetDampingMax() float64 { return floatOr(c.DampingMax, 0.05) }

// GetSingularThreshold returns the singular_threshold value or the default.
func (c *TuningConfig) GetSingularThreshold() float64 { return floatOr(c.SingularThreshold, 0.02) }

// GetRankTolerance returns the rank_tolerance value or the default.
func (c *TuningConfig) GetRankTolerance() float64 { return floatOr(c.RankTolerance, 1e-6) }

// GetTaskTolerance returns the task_tolerance value or the default.
func (c *TuningConfig) GetTaskTolerance() float64 { return floatOr(c.TaskTolerance, 1e-6) }

// GetJointLimitActivate returns the joint_limit_activate value or the default.
func (c *TuningConfig) GetJointLimitActivate() float64 {
	return floatOr(c.JointLimitActivate, 0.05)
}

// GetJointLimitDeactivate returns the joint_limit_deactivate value or the default.
func (c *TuningConfig) GetJointLimitDeactivate() float64 {
	return floatOr(c.JointLimitDeactivate, 0.08)
}

// GetJointLimitGain returns the joint_limit_gain value or the default.
func (c *TuningConfig) GetJointLimitGain() float64 { return floatOr(c.JointLimitGain, 0.5) }

// GetObstacleActivate returns the obstacle_activate value or the default.
func (c *TuningConfig) GetObstacleActivate() float64 { return floatOr(c.ObstacleActivate, 0.15) }

// GetObstacleDeactivate returns the obstacle_deactivate value or the default.
func (c *TuningConfig) GetObstacleDeactivate() float64 {
	return floatOr(c.ObstacleDeactivate, 0.25)
}

// GetJoints returns the quasi-joint limits or the SwiftPro-on-Kobuki defaults.
func (c *TuningConfig) GetJoints() []JointSpec {
	if c.Joints != nil {
		out := make([]JointSpec, len(c.Joints))
		copy(out, c.Joints)
		return out
	}
	return []JointSpec{
		{Name: "base_rotate", MaxVelocity: 1.0, Weight: ptrFloat64(10)},
		{Name: "base_translate", MaxVelocity: 0.3, Weight: ptrFloat64(50)},
		{Name: "joint1", MinPosition: ptrFloat64(-1.571), MaxPosition: ptrFloat64(1.571), MaxVelocity: 1.0, Weight: ptrFloat64(0.5)},
		{Name: "joint2", MinPosition: ptrFloat64(-1.571), MaxPosition: ptrFloat64(0.050), MaxVelocity: 1.0, Weight: ptrFloat64(1)},
		{Name: "joint3", MinPosition: ptrFloat64(-1.571), MaxPosition: ptrFloat64(0.050), MaxVelocity: 1.0, Weight: ptrFloat64(1)},
		{Name: "joint4", MinPosition: ptrFloat64(-1.571), MaxPosition: ptrFloat64(1.571), MaxVelocity: 1.0, Weight: ptrFloat64(1)},
	}
}

// GetManiBX returns the mani_bx value or the default.
func (c *TuningConfig) GetManiBX() float64 { return floatOr(c.ManiBX, 0.0132) }

// GetManiBZ returns the mani_bz value or the default.
func (c *TuningConfig) GetManiBZ() float64 { return floatOr(c.ManiBZ, 0.1080) }

// GetManiD1 returns the mani_d1 value or the default.
func (c *TuningConfig) GetManiD1() float64 { return floatOr(c.ManiD1, 0.1420) }

// GetManiD2 returns the mani_d2 value or the default.
func (c *TuningConfig) GetManiD2() float64 { return floatOr(c.ManiD2, 0.1588) }

// GetManiMZ returns the mani_mz value or the default.
func (c *TuningConfig) GetManiMZ() float64 { return floatOr(c.ManiMZ, 0.0722) }

// GetManiMX returns the mani_mx value or the default.
func (c *TuningConfig) GetManiMX() float64 { return floatOr(c.ManiMX, 0.0565) }

// GetManiMountX returns the mani_mount_x value or the default.
func (c *TuningConfig) GetManiMountX() float64 { return floatOr(c.ManiMountX, 0.037) }

// GetCameraExtrinsic returns the base->camera transform or the default
// realsense mounting on the Kobuki base.
func (c *TuningConfig) GetCameraExtrinsic() PoseSpec {
	if c.CameraExtrinsic != nil {
		return *c.CameraExtrinsic
	}
	return PoseSpec{
		Position:    [3]float64{0.136, -0.033, -0.116},
		Orientation: [4]float64{0.5, 0.5, 0.5, 0.5},
	}
}

// GetMarkers returns the known marker map. An empty map means marker
// observations can never be associated and are counted as unknown.
func (c *TuningConfig) GetMarkers() []MarkerSpec {
	out := make([]MarkerSpec, len(c.Markers))
	copy(out, c.Markers)
	return out
}
