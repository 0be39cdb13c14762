package visualiser

import (
	"github.com/banshee-data/mobile-manipulator/internal/control"
	"github.com/banshee-data/mobile-manipulator/internal/estimator"
	"github.com/banshee-data/mobile-manipulator/internal/geom"
)

// Frame is the visualiser view of one control cycle: the pose it ran
// against, the command it produced and the per-task outcome.
type Frame struct {
	FrameID        uint64 `json:"frame_id,string"`
	TimestampNanos int64  `json:"timestamp_ns,string"`

	Pose    PoseFrame    `json:"pose"`
	Command CommandFrame `json:"command"`
	Tasks   []TaskFrame  `json:"tasks,omitempty"`

	Skipped         []string `json:"skipped,omitempty"`
	ClampViolations []string `json:"clamp_violations,omitempty"`
}

// PoseFrame is the base pose estimate.
type PoseFrame struct {
	Seq             uint64     `json:"seq,string"`
	Position        [3]float64 `json:"position"`
	Orientation     [4]float64 `json:"orientation"` // w, x, y, z
	Yaw             float64    `json:"yaw"`
	PositionSigma   [3]float64 `json:"position_sigma"`
	CovarianceTrace float64    `json:"covariance_trace"`
	VisionDegraded  bool       `json:"vision_degraded"`
}

// CommandFrame is the quasi-velocity command.
type CommandFrame struct {
	Seq        uint64     `json:"seq,string"`
	Velocities [6]float64 `json:"velocities"`
}

// TaskFrame is one task's outcome.
type TaskFrame struct {
	Name     string  `json:"name"`
	Rank     int     `json:"rank"`
	Kind     string  `json:"kind"`
	Error    float64 `json:"error"`
	Residual float64 `json:"residual"`
	Damping  float64 `json:"damping"`
	Inactive bool    `json:"inactive,omitempty"`
	Skipped  bool    `json:"skipped,omitempty"`
}

// NewFrame builds a frame from a completed control cycle.
func NewFrame(pose estimator.PoseEstimate, res control.Result) *Frame {
	f := &Frame{
		FrameID:        res.Command.Seq,
		TimestampNanos: res.Command.Timestamp.UnixNano(),
		Pose: PoseFrame{
			Seq:             pose.Seq,
			Position:        pose.Position,
			Orientation:     geom.QuatToArray(pose.Orientation),
			Yaw:             geom.Yaw(pose.Orientation),
			PositionSigma:   pose.PositionSigma(),
			CovarianceTrace: pose.CovarianceTrace(),
			VisionDegraded:  pose.VisionDegraded,
		},
		Command: CommandFrame{Seq: res.Command.Seq, Velocities: res.Command.Velocities},
		Skipped: append([]string(nil), res.Skipped...),
	}
	for _, t := range res.Tasks {
		f.Tasks = append(f.Tasks, TaskFrame{
			Name:     t.Name,
			Rank:     t.Rank,
			Kind:     string(t.Kind),
			Error:    t.Error,
			Residual: t.Residual,
			Damping:  t.Damping,
			Inactive: t.Inactive,
			Skipped:  t.Skipped,
		})
	}
	for _, c := range res.ClampViolations {
		f.ClampViolations = append(f.ClampViolations, c.Task)
	}
	return f
}
