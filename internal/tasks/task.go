// Package tasks defines the prioritised kinematic tasks consumed by the
// controller, the joint configuration they are evaluated against, and the
// provider-side helpers that decide which tasks are active each cycle.
package tasks

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/mobile-manipulator/internal/config"
)

// Sentinel errors shared with the controller.
var (
	ErrMalformedTask     = errors.New("tasks: malformed task")
	ErrDuplicatePriority = errors.New("tasks: duplicate priority among active tasks")
)

// Kind tags how a task is resolved into a Jacobian and desired velocity.
type Kind string

const (
	KindEEPosition      Kind = "ee_position"      // target (x, y, z)
	KindEEOrientation   Kind = "ee_orientation"   // target (yaw)
	KindEEConfiguration Kind = "ee_configuration" // target (x, y, z, yaw)
	KindBaseHeading     Kind = "base_heading"     // target (yaw)
	KindBasePosition    Kind = "base_position"    // target (x, y)
	KindJointPosition   Kind = "joint_position"   // target (arm joint 1..4, angle)
	KindJointLimit      Kind = "joint_limit"      // activation per arm joint
	KindObstacle        Kind = "obstacle"         // target (obstacle x, y)
	KindRaw             Kind = "raw"              // explicit Jacobian and desired velocity
)

// targetLen is the number of target values each kind expects.
var targetLen = map[Kind]int{
	KindEEPosition:      3,
	KindEEOrientation:   1,
	KindEEConfiguration: 4,
	KindBaseHeading:     1,
	KindBasePosition:    2,
	KindJointPosition:   2,
	KindJointLimit:      0,
	KindObstacle:        2,
	KindRaw:             0,
}

// Known reports whether k is a recognised kind.
func (k Kind) Known() bool {
	_, ok := targetLen[k]
	return ok
}

// TaskDim returns the task-space dimension of a kind, or 0 when it depends
// on the task itself (joint limits and raw tasks).
func (k Kind) TaskDim() int {
	switch k {
	case KindJointPosition:
		return 1
	default:
		return targetLen[k]
	}
}

// Task is one entry of the prioritised task set. Lower Rank is higher
// priority. The desired task velocity is FeedForward + Gain·(target − x).
type Task struct {
	Rank        int       `json:"rank"`
	Kind        Kind      `json:"kind"`
	Name        string    `json:"name"`
	Target      []float64 `json:"target,omitempty"`
	FeedForward []float64 `json:"feed_forward,omitempty"`
	Gain        float64   `json:"gain"`
	Active      bool      `json:"active"`

	// KindJointLimit: −1 pushes a joint down from its upper limit, +1 up
	// from its lower limit, 0 leaves it free.
	Activation []int `json:"activation,omitempty"`

	// KindRaw
	Jacobian [][]float64 `json:"jacobian,omitempty"`
	Desired  []float64   `json:"desired,omitempty"`
}

// Label returns the task name, or its kind and rank when unnamed.
func (t Task) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("%s#%d", t.Kind, t.Rank)
}

// Dim returns the number of task-space rows before activation filtering.
func (t Task) Dim() int {
	switch t.Kind {
	case KindRaw:
		return len(t.Desired)
	case KindJointLimit:
		return len(t.Activation)
	default:
		return t.Kind.TaskDim()
	}
}

// Validate checks the task is well formed. Column counts of raw Jacobians
// are left to the controller, which owns the joint-space dimension.
func (t Task) Validate() error {
	if !t.Kind.Known() {
		return fmt.Errorf("%w: %s: unknown kind %q", ErrMalformedTask, t.Label(), t.Kind)
	}
	if !finite(t.Gain) || t.Gain < 0 {
		return fmt.Errorf("%w: %s: gain must be finite and non-negative, got %v", ErrMalformedTask, t.Label(), t.Gain)
	}
	if want := targetLen[t.Kind]; want > 0 && len(t.Target) != want {
		return fmt.Errorf("%w: %s: target needs %d values, got %d", ErrMalformedTask, t.Label(), want, len(t.Target))
	}
	if !allFinite(t.Target) || !allFinite(t.FeedForward) || !allFinite(t.Desired) {
		return fmt.Errorf("%w: %s: non-finite value", ErrMalformedTask, t.Label())
	}
	if n := len(t.FeedForward); n != 0 && n != t.Dim() {
		return fmt.Errorf("%w: %s: feed_forward needs %d values, got %d", ErrMalformedTask, t.Label(), t.Dim(), n)
	}

	switch t.Kind {
	case KindJointPosition:
		j := t.Target[0]
		if j != math.Trunc(j) || j < 1 || j > config.ArmJointCount {
			return fmt.Errorf("%w: %s: joint index %v outside 1..%d", ErrMalformedTask, t.Label(), j, config.ArmJointCount)
		}
	case KindJointLimit:
		if len(t.Activation) != config.ArmJointCount {
			return fmt.Errorf("%w: %s: activation needs %d values, got %d",
				ErrMalformedTask, t.Label(), config.ArmJointCount, len(t.Activation))
		}
		for _, a := range t.Activation {
			if a < -1 || a > 1 {
				return fmt.Errorf("%w: %s: activation %d outside {-1, 0, 1}", ErrMalformedTask, t.Label(), a)
			}
		}
	case KindRaw:
		if len(t.Desired) == 0 || len(t.Jacobian) != len(t.Desired) {
			return fmt.Errorf("%w: %s: jacobian has %d rows for %d desired values",
				ErrMalformedTask, t.Label(), len(t.Jacobian), len(t.Desired))
		}
		for _, row := range t.Jacobian {
			if !allFinite(row) {
				return fmt.Errorf("%w: %s: non-finite jacobian entry", ErrMalformedTask, t.Label())
			}
		}
	}
	return nil
}

// ValidateRanks returns ErrDuplicatePriority if two active tasks share a
// rank.
func ValidateRanks(set []Task) error {
	seen := make(map[int]string, len(set))
	for _, t := range set {
		if !t.Active {
			continue
		}
		if other, ok := seen[t.Rank]; ok {
			return fmt.Errorf("%w: rank %d used by %s and %s", ErrDuplicatePriority, t.Rank, other, t.Label())
		}
		seen[t.Rank] = t.Label()
	}
	return nil
}

// ActiveByRank returns the active tasks sorted by ascending rank.
func ActiveByRank(set []Task) []Task {
	out := make([]Task, 0, len(set))
	for _, t := range set {
		if t.Active {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func allFinite(v []float64) bool {
	for _, x := range v {
		if !finite(x) {
			return false
		}
	}
	return true
}
