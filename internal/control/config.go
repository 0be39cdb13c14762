package control

import (
	"time"

	"github.com/banshee-data/mobile-manipulator/internal/config"
	"github.com/banshee-data/mobile-manipulator/internal/kinematics"
	"github.com/banshee-data/mobile-manipulator/internal/timeutil"
)

// Config holds the controller parameters.
type Config struct {
	// ControlPeriod is the horizon used to turn position limits into
	// velocity bounds. Zero disables the position window.
	ControlPeriod time.Duration

	DampingMax        float64 // λmax
	SingularThreshold float64 // ε, damping starts when σmin drops below it
	RankTolerance     float64 // singular values at or below are dropped from the projector
	TaskTolerance     float64 // residual norm below which a task counts as satisfied

	// Weights scale the joint-space metric. A heavier joint moves less.
	Weights [kinematics.NumQuasi]float64
}

// DefaultControllerConfig returns controller configuration loaded from the
// canonical tuning defaults file (config/tuning.defaults.json).
// Panics if the file cannot be found.
func DefaultControllerConfig() Config {
	return ControllerConfigFromTuning(config.MustLoadDefaultConfig())
}

// ControllerConfigFromTuning builds a Config from a loaded TuningConfig.
func ControllerConfigFromTuning(cfg *config.TuningConfig) Config {
	c := Config{
		ControlPeriod:     timeutil.PeriodFromRate(cfg.GetControlRateHz()),
		DampingMax:        cfg.GetDampingMax(),
		SingularThreshold: cfg.GetSingularThreshold(),
		RankTolerance:     cfg.GetRankTolerance(),
		TaskTolerance:     cfg.GetTaskTolerance(),
	}
	for i := range c.Weights {
		c.Weights[i] = 1
	}
	for i, j := range cfg.GetJoints() {
		if i < len(c.Weights) && j.Weight != nil {
			c.Weights[i] = *j.Weight
		}
	}
	return c
}

// UnitWeights returns cfg with every joint weight set to one.
func (c Config) UnitWeights() Config {
	for i := range c.Weights {
		c.Weights[i] = 1
	}
	return c
}
