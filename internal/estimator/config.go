package estimator

import (
	"time"

	"github.com/banshee-data/mobile-manipulator/internal/config"
	"github.com/banshee-data/mobile-manipulator/internal/geom"
)

// Config holds the filter parameters.
type Config struct {
	ProcessNoisePos  float64 // position random walk (m²/s)
	ProcessNoiseAtt  float64 // attitude random walk (rad²/s)
	ProcessNoiseVel  float64 // velocity random walk ((m/s)²/s)
	ProcessNoiseRate float64 // angular rate random walk ((rad/s)²/s)

	InitialPosSigma float64
	InitialAttSigma float64
	InitialVelSigma float64

	OdomLinearNoise        float64 // σ² per axis
	OdomAngularNoise       float64
	MarkerPositionNoise    float64
	MarkerOrientationNoise float64

	OdomGateThreshold   float64 // Mahalanobis d² gate
	MarkerGateThreshold float64

	StalenessThreshold     time.Duration
	MarkerTimeout          time.Duration
	MarkerTimeoutInflation float64 // extra pos/att variance per second without markers
	MaxCovarianceTrace     float64
	MaxPredictDt           float64 // seconds per predict sub-step
	MaxPendingObservations int

	CameraExtrinsic geom.Pose         // base_footprint → camera
	Markers         map[int]geom.Pose // marker ID → world pose
}

// DefaultEstimatorConfig returns estimator configuration loaded from the
// canonical tuning defaults file (config/tuning.defaults.json).
// Panics if the file cannot be found.
func DefaultEstimatorConfig() Config {
	return EstimatorConfigFromTuning(config.MustLoadDefaultConfig())
}

// EstimatorConfigFromTuning builds a Config from a loaded TuningConfig.
func EstimatorConfigFromTuning(cfg *config.TuningConfig) Config {
	markers := make(map[int]geom.Pose)
	for _, m := range cfg.GetMarkers() {
		markers[m.ID] = poseFromSpec(m.PoseSpec)
	}
	return Config{
		ProcessNoisePos:        cfg.GetProcessNoisePos(),
		ProcessNoiseAtt:        cfg.GetProcessNoiseAtt(),
		ProcessNoiseVel:        cfg.GetProcessNoiseVel(),
		ProcessNoiseRate:       cfg.GetProcessNoiseRate(),
		InitialPosSigma:        cfg.GetInitialPosSigma(),
		InitialAttSigma:        cfg.GetInitialAttSigma(),
		InitialVelSigma:        cfg.GetInitialVelSigma(),
		OdomLinearNoise:        cfg.GetOdomLinearNoise(),
		OdomAngularNoise:       cfg.GetOdomAngularNoise(),
		MarkerPositionNoise:    cfg.GetMarkerPositionNoise(),
		MarkerOrientationNoise: cfg.GetMarkerOrientationNoise(),
		OdomGateThreshold:      cfg.GetOdomGateThreshold(),
		MarkerGateThreshold:    cfg.GetMarkerGateThreshold(),
		StalenessThreshold:     cfg.GetStalenessThreshold(),
		MarkerTimeout:          cfg.GetMarkerTimeout(),
		MarkerTimeoutInflation: cfg.GetMarkerTimeoutInflation(),
		MaxCovarianceTrace:     cfg.GetMaxCovarianceTrace(),
		MaxPredictDt:           cfg.GetMaxPredictDt(),
		MaxPendingObservations: cfg.GetMaxPendingObservations(),
		CameraExtrinsic:        poseFromSpec(cfg.GetCameraExtrinsic()),
		Markers:                markers,
	}
}

func poseFromSpec(p config.PoseSpec) geom.Pose {
	return geom.Pose{
		Position:    p.Position,
		Orientation: geom.Normalize(geom.QuatFromArray(p.Orientation)),
	}
}

// InitialEstimate returns an estimate at pose with zero velocity and the
// configured initial uncertainty.
func InitialEstimate(cfg Config, ts time.Time, pose geom.Pose) PoseEstimate {
	est := PoseEstimate{
		Position:    pose.Position,
		Orientation: geom.Normalize(pose.Orientation),
		Timestamp:   ts,
	}
	sig := [4]float64{cfg.InitialPosSigma, cfg.InitialAttSigma, cfg.InitialVelSigma, cfg.InitialVelSigma}
	for b, s := range sig {
		for k := 0; k < 3; k++ {
			i := 3*b + k
			est.Covariance[i*StateDim+i] = s * s
		}
	}
	return est
}
