package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/mobile-manipulator/internal/control"
	"github.com/banshee-data/mobile-manipulator/internal/estimator"
	"github.com/banshee-data/mobile-manipulator/internal/geom"
	"github.com/banshee-data/mobile-manipulator/internal/kinematics"
	"github.com/banshee-data/mobile-manipulator/internal/snapshot"
	"github.com/banshee-data/mobile-manipulator/internal/tasks"
	"github.com/banshee-data/mobile-manipulator/internal/timeutil"
)

// SimActuatorConfig contains configuration for SimActuator.
type SimActuatorConfig struct {
	Base   kinematics.BaseState
	Joints tasks.JointConfiguration
	Mode   kinematics.IntegrationMode
	// Step is the integration interval per command, normally the control
	// period.
	Step  time.Duration
	Clock timeutil.Clock

	// JointState receives the joint configuration after every command.
	JointState *snapshot.Latest[tasks.JointConfiguration]
	// Observe receives synthetic sensor data. Optional.
	Observe func(estimator.Observation)

	// Markers seen by a perfect camera every MarkerEvery commands. Zero
	// disables marker synthesis.
	Markers         map[int]geom.Pose
	CameraExtrinsic geom.Pose
	MarkerEvery     int
}

// SimActuator is a software-in-the-loop platform. Commands are integrated
// through the kinematic model; the resulting joint state and body
// velocities are reported back as if measured.
type SimActuator struct {
	mu    sync.Mutex
	cfg   SimActuatorConfig
	base  kinematics.BaseState
	jc    tasks.JointConfiguration
	count int
}

// NewSimActuator creates a SimActuator at the configured base pose.
func NewSimActuator(cfg SimActuatorConfig) *SimActuator {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.CameraExtrinsic.Orientation == (geom.Pose{}).Orientation {
		cfg.CameraExtrinsic = geom.IdentityPose()
	}
	s := &SimActuator{cfg: cfg, base: cfg.Base, jc: cfg.Joints}
	if cfg.JointState != nil {
		cfg.JointState.Store(s.jc)
	}
	return s
}

// Send clamps cmd to the joint velocity limits and integrates it for one
// step.
func (s *SimActuator) Send(_ context.Context, cmd control.Command) error {
	s.mu.Lock()
	dt := s.cfg.Step.Seconds()
	u := cmd.Velocities
	for i := range u {
		if limit := s.jc.MaxVelocity[i]; limit > 0 {
			u[i] = clampAbs(u[i], limit)
		}
	}

	var q [kinematics.NumArm]float64
	s.base, q = kinematics.Integrate(s.base, s.jc.Arm(), u, dt, s.cfg.Mode)
	s.jc = s.jc.WithArm(q)
	s.jc.Position[kinematics.BaseRotate] = s.base.Yaw
	s.jc.Position[kinematics.BaseTranslate] += u[kinematics.BaseTranslate] * dt
	s.jc.Velocity = u
	now := s.cfg.Clock.Now()
	s.jc.Timestamp = now
	s.count++

	jc := s.jc
	var obs []estimator.Observation
	if s.cfg.Observe != nil {
		obs = append(obs, estimator.NewOdometryObservation(now,
			[3]float64{u[kinematics.BaseTranslate], 0, 0},
			[3]float64{0, 0, u[kinematics.BaseRotate]}))
		if s.cfg.MarkerEvery > 0 && s.count%s.cfg.MarkerEvery == 0 {
			obs = append(obs, s.markersLocked(now)...)
		}
	}
	s.mu.Unlock()

	if s.cfg.JointState != nil {
		s.cfg.JointState.Store(jc)
	}
	for _, o := range obs {
		s.cfg.Observe(o)
	}
	return nil
}

func (s *SimActuator) markersLocked(now time.Time) []estimator.Observation {
	camera := s.base.Pose().Compose(s.cfg.CameraExtrinsic)
	inv := camera.Inverse()
	out := make([]estimator.Observation, 0, len(s.cfg.Markers))
	for id, m := range s.cfg.Markers {
		rel := inv.Compose(m)
		out = append(out, estimator.NewMarkerObservation(now, id, rel.Position, rel.Orientation))
	}
	return out
}

// Base returns the simulated ground-truth base state.
func (s *SimActuator) Base() kinematics.BaseState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

// Joints returns the simulated joint configuration.
func (s *SimActuator) Joints() tasks.JointConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jc
}

func clampAbs(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
