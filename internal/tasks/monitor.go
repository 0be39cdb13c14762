package tasks

import (
	"math"
	"sync"

	"github.com/banshee-data/mobile-manipulator/internal/config"
)

// JointLimitMonitor tracks which arm joints are near a limit, with
// separate activation and deactivation margins so a joint hovering at the
// threshold does not chatter.
type JointLimitMonitor struct {
	mu         sync.Mutex
	lower      [config.ArmJointCount]float64
	upper      [config.ArmJointCount]float64
	activate   float64
	deactivate float64
	gain       float64
	state      [config.ArmJointCount]int
}

// NewJointLimitMonitor builds a monitor from the arm limits in jc.
func NewJointLimitMonitor(jc JointConfiguration, activate, deactivate, gain float64) *JointLimitMonitor {
	m := &JointLimitMonitor{activate: activate, deactivate: deactivate, gain: gain}
	copy(m.lower[:], jc.MinPosition[2:])
	copy(m.upper[:], jc.MaxPosition[2:])
	return m
}

// JointLimitMonitorFromTuning builds a monitor from the tuning config.
func JointLimitMonitorFromTuning(cfg *config.TuningConfig) *JointLimitMonitor {
	return NewJointLimitMonitor(JointConfigurationFromTuning(cfg),
		cfg.GetJointLimitActivate(), cfg.GetJointLimitDeactivate(), cfg.GetJointLimitGain())
}

// Update advances the hysteresis with the arm positions q and returns the
// activation vector.
func (m *JointLimitMonitor) Update(q [config.ArmJointCount]float64) [config.ArmJointCount]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range q {
		switch m.state[i] {
		case 0:
			if q[i] >= m.upper[i]-m.activate {
				m.state[i] = -1
			} else if q[i] <= m.lower[i]+m.activate {
				m.state[i] = 1
			}
		case -1:
			if q[i] <= m.upper[i]-m.deactivate {
				m.state[i] = 0
			}
		case 1:
			if q[i] >= m.lower[i]+m.deactivate {
				m.state[i] = 0
			}
		}
	}
	return m.state
}

// Task returns the joint-limit task for the current activation state.
func (m *JointLimitMonitor) Task(rank int) Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	act := make([]int, len(m.state))
	active := false
	for i, s := range m.state {
		act[i] = s
		active = active || s != 0
	}
	return Task{
		Rank:       rank,
		Kind:       KindJointLimit,
		Name:       "joint_limits",
		Gain:       m.gain,
		Active:     active,
		Activation: act,
	}
}

// ObstacleMonitor switches an obstacle-avoidance task on when the
// end-effector comes within the activation distance of a point obstacle
// in the plane, and off once it is beyond the deactivation distance.
type ObstacleMonitor struct {
	mu         sync.Mutex
	obstacle   [2]float64
	activate   float64
	deactivate float64
	active     bool
	distance   float64
}

// NewObstacleMonitor returns a monitor for the obstacle at (x, y).
func NewObstacleMonitor(obstacle [2]float64, activate, deactivate float64) *ObstacleMonitor {
	return &ObstacleMonitor{obstacle: obstacle, activate: activate, deactivate: deactivate, distance: math.Inf(1)}
}

// Update evaluates the hysteresis for the end-effector position ee and
// reports whether the task is active.
func (m *ObstacleMonitor) Update(ee [2]float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.distance = math.Hypot(ee[0]-m.obstacle[0], ee[1]-m.obstacle[1])
	switch {
	case !m.active && m.distance <= m.activate:
		m.active = true
	case m.active && m.distance >= m.deactivate:
		m.active = false
	}
	return m.active
}

// Distance returns the last evaluated end-effector distance.
func (m *ObstacleMonitor) Distance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.distance
}

// Task returns the obstacle task for the current activation state.
func (m *ObstacleMonitor) Task(rank int, gain float64) Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Task{
		Rank:   rank,
		Kind:   KindObstacle,
		Name:   "obstacle",
		Target: []float64{m.obstacle[0], m.obstacle[1]},
		Gain:   gain,
		Active: m.active,
	}
}
