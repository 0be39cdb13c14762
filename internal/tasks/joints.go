package tasks

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/mobile-manipulator/internal/config"
)

// JointConfiguration is the state of the controlled quasi-joints in the
// order [base_rotate, base_translate, joint1..joint4]. Base entries have
// infinite position limits.
type JointConfiguration struct {
	Position    [config.QuasiJointCount]float64
	Velocity    [config.QuasiJointCount]float64
	MinPosition [config.QuasiJointCount]float64
	MaxPosition [config.QuasiJointCount]float64
	MaxVelocity [config.QuasiJointCount]float64
	Timestamp   time.Time
}

// JointConfigurationFromTuning returns a configuration at zero position
// with limits from the tuning config.
func JointConfigurationFromTuning(cfg *config.TuningConfig) JointConfiguration {
	var jc JointConfiguration
	for i, spec := range cfg.GetJoints() {
		if i >= config.QuasiJointCount {
			break
		}
		jc.MinPosition[i] = math.Inf(-1)
		jc.MaxPosition[i] = math.Inf(1)
		if spec.MinPosition != nil {
			jc.MinPosition[i] = *spec.MinPosition
		}
		if spec.MaxPosition != nil {
			jc.MaxPosition[i] = *spec.MaxPosition
		}
		jc.MaxVelocity[i] = spec.MaxVelocity
	}
	return jc
}

// Arm returns the four arm joint positions.
func (j JointConfiguration) Arm() [config.ArmJointCount]float64 {
	var q [config.ArmJointCount]float64
	copy(q[:], j.Position[2:])
	return q
}

// WithArm returns a copy with the arm joint positions replaced.
func (j JointConfiguration) WithArm(q [config.ArmJointCount]float64) JointConfiguration {
	copy(j.Position[2:], q[:])
	return j
}

// Validate checks positions and velocities are finite and the limits are
// consistent.
func (j JointConfiguration) Validate() error {
	for i := 0; i < config.QuasiJointCount; i++ {
		if !finite(j.Position[i]) || !finite(j.Velocity[i]) {
			return fmt.Errorf("joint %d: non-finite state", i)
		}
		if math.IsNaN(j.MinPosition[i]) || math.IsNaN(j.MaxPosition[i]) || j.MinPosition[i] > j.MaxPosition[i] {
			return fmt.Errorf("joint %d: invalid limits [%v, %v]", i, j.MinPosition[i], j.MaxPosition[i])
		}
		if !(j.MaxVelocity[i] >= 0) {
			return fmt.Errorf("joint %d: max velocity must be non-negative, got %v", i, j.MaxVelocity[i])
		}
	}
	return nil
}
