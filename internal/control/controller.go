// Package control implements the task-priority velocity controller. Each
// cycle it resolves a ranked task set into joint velocities by recursive
// null-space projection, so a lower-priority task only acts in the
// directions left free by every task above it.
package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/mobile-manipulator/internal/estimator"
	"github.com/banshee-data/mobile-manipulator/internal/kinematics"
	"github.com/banshee-data/mobile-manipulator/internal/monitoring"
	"github.com/banshee-data/mobile-manipulator/internal/tasks"
)

var (
	ErrDuplicatePriority = tasks.ErrDuplicatePriority
	ErrMalformedTask     = tasks.ErrMalformedTask
	ErrDimensionMismatch = errors.New("control: jacobian dimension mismatch")
	ErrInvalidState      = errors.New("control: invalid joint or pose state")
)

var logf = monitoring.Component("control")

// Command is one cycle's joint velocity command in quasi-joint order.
type Command struct {
	Velocities [kinematics.NumQuasi]float64
	Timestamp  time.Time
	Seq        uint64
}

// TaskReport describes how one task fared in a cycle.
type TaskReport struct {
	Name  string
	Rank  int
	Kind  tasks.Kind
	Error float64 // ‖target − x‖ at the start of the cycle

	// Residual norms ‖ẋd − J·dq‖ before and after clamping.
	Residual        float64
	ClampedResidual float64

	SigmaMin float64
	SigmaMax float64
	Damping  float64
	SVDRank  int

	Inactive bool // zero Jacobian or nothing to act on
	Skipped  bool // dropped because the cycle deadline passed
}

// ClampEvent records a task that was satisfied before clamping and is not
// after it.
type ClampEvent struct {
	Task    string
	Before  float64
	After   float64
	Clamped []int // joints whose command was clipped
}

// Result is the output of one controller cycle.
type Result struct {
	Command         Command
	Unclamped       [kinematics.NumQuasi]float64
	Tasks           []TaskReport
	Skipped         []string
	ClampViolations []ClampEvent
}

// Controller computes joint velocity commands from a task set. It keeps no
// state between cycles and is safe for concurrent use.
type Controller struct {
	cfg   Config
	model *kinematics.Model
	scale [kinematics.NumQuasi]float64 // 1/√w
}

// NewController returns a controller for the given model. Non-positive
// weights are treated as one.
func NewController(cfg Config, model *kinematics.Model) *Controller {
	c := &Controller{cfg: cfg, model: model}
	for i, w := range cfg.Weights {
		if !(w > 0) {
			logf("joint %d weight %v not positive, using 1", i, w)
			w = 1
		}
		c.scale[i] = 1 / math.Sqrt(w)
	}
	return c
}

// Config returns the controller configuration.
func (c *Controller) Config() Config { return c.cfg }

// Model returns the kinematic model tasks are resolved against.
func (c *Controller) Model() *kinematics.Model { return c.model }

// Compute resolves the task set into a clamped joint velocity command.
//
// When ctx expires mid-cycle the remaining lower-priority tasks are skipped
// and listed in Result.Skipped. The highest-priority task is always
// processed and the command is always clamped.
func (c *Controller) Compute(ctx context.Context, set []tasks.Task, joints tasks.JointConfiguration, pose estimator.PoseEstimate) (Result, error) {
	res := Result{Command: Command{Timestamp: pose.Timestamp}}

	if err := joints.Validate(); err != nil {
		return res, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if !pose.Pose().Finite() {
		return res, fmt.Errorf("%w: non-finite pose", ErrInvalidState)
	}
	for _, t := range set {
		if err := t.Validate(); err != nil {
			return res, err
		}
		if t.Kind != tasks.KindRaw {
			continue
		}
		for i, row := range t.Jacobian {
			if len(row) != kinematics.NumQuasi {
				return res, fmt.Errorf("%w: %s: jacobian row %d has %d columns, want %d",
					ErrDimensionMismatch, t.Label(), i, len(row), kinematics.NumQuasi)
			}
		}
	}
	if err := tasks.ValidateRanks(set); err != nil {
		return res, err
	}

	active := tasks.ActiveByRank(set)
	if len(active) == 0 {
		return res, nil
	}

	s := state{
		base: kinematics.BaseFromPose(pose.Pose()),
		q:    joints.Arm(),
	}
	S := mat.NewDiagDense(kinematics.NumQuasi, c.scale[:])

	n := kinematics.NumQuasi
	P := identity(n)
	dqw := mat.NewVecDense(n, nil) // weighted coordinates
	var solved []resolved

	for i, t := range active {
		if i > 0 && ctx.Err() != nil {
			for _, rest := range active[i:] {
				res.Skipped = append(res.Skipped, rest.Label())
				res.Tasks = append(res.Tasks, TaskReport{Name: rest.Label(), Rank: rest.Rank, Kind: rest.Kind, Skipped: true})
			}
			monitoring.Event(monitoring.EventTaskSkipped, "deadline passed, skipped %d task(s) from %s", len(active)-i, t.Label())
			break
		}

		r, err := c.resolve(t, s)
		if err != nil {
			return Result{Command: res.Command}, err
		}
		rep := TaskReport{Name: t.Label(), Rank: t.Rank, Kind: t.Kind}
		if r.J == nil || isZero(r.J) {
			rep.Inactive = true
			res.Tasks = append(res.Tasks, rep)
			continue
		}
		rep.Error = floats.Norm(r.err, 2)

		var Jw, Jbar mat.Dense
		Jw.Mul(r.J, S)
		Jbar.Mul(&Jw, P)

		var resid mat.VecDense
		resid.MulVec(&Jw, dqw)
		resid.SubVec(r.desired, &resid)

		damped, trunc, st, ok := pseudoInverses(&Jbar, c.cfg.SingularThreshold, c.cfg.DampingMax, c.cfg.RankTolerance)
		if !ok {
			monitoring.Event(monitoring.EventSingularTask, "%s: SVD failed, task dropped", t.Label())
			rep.Inactive = true
			res.Tasks = append(res.Tasks, rep)
			continue
		}
		rep.SigmaMin, rep.SigmaMax, rep.Damping, rep.SVDRank = st.SigmaMin, st.SigmaMax, st.Lambda, st.Rank
		if st.Lambda > 0 {
			monitoring.DefaultEvents.Inc(monitoring.EventSingularTask)
		}

		var step mat.VecDense
		step.MulVec(damped, &resid)
		dqw.AddVec(dqw, &step)

		var proj mat.Dense
		proj.Mul(trunc, &Jbar)
		P.Sub(P, &proj)

		solved = append(solved, r)
		res.Tasks = append(res.Tasks, rep)
	}

	var dq [kinematics.NumQuasi]float64
	for i := range dq {
		dq[i] = c.scale[i] * dqw.AtVec(i)
	}
	res.Unclamped = dq
	clamped, clippedJoints := c.clamp(dq, joints)
	res.Command.Velocities = clamped

	c.checkClamp(&res, solved, dq, clamped, clippedJoints)
	return res, nil
}

// clamp bounds each joint by its velocity limit intersected with the
// velocity that keeps it inside its position limits over one period. A
// joint already outside its window may only move back towards it.
func (c *Controller) clamp(dq [kinematics.NumQuasi]float64, jc tasks.JointConfiguration) ([kinematics.NumQuasi]float64, []int) {
	T := c.cfg.ControlPeriod.Seconds()
	var out [kinematics.NumQuasi]float64
	var clipped []int
	for i, v := range dq {
		lo, hi := jointWindow(jc.Position[i], jc.MinPosition[i], jc.MaxPosition[i], jc.MaxVelocity[i], T)
		out[i] = math.Min(math.Max(v, lo), hi)
		if out[i] != v {
			clipped = append(clipped, i)
		}
	}
	return out, clipped
}

func jointWindow(q, qmin, qmax, vmax, T float64) (lo, hi float64) {
	lo, hi = -vmax, vmax
	if T <= 0 {
		return lo, hi
	}
	lo = math.Max(lo, (qmin-q)/T)
	hi = math.Min(hi, (qmax-q)/T)
	if lo <= hi {
		return lo, hi
	}
	switch {
	case q > qmax:
		return -vmax, 0
	case q < qmin:
		return 0, vmax
	}
	return 0, 0
}

func (c *Controller) checkClamp(res *Result, solved []resolved, before, after [kinematics.NumQuasi]float64, clipped []int) {
	b := mat.NewVecDense(kinematics.NumQuasi, before[:])
	a := mat.NewVecDense(kinematics.NumQuasi, after[:])
	k := 0
	for i := range res.Tasks {
		rep := &res.Tasks[i]
		if rep.Inactive || rep.Skipped {
			continue
		}
		r := solved[k]
		k++
		rep.Residual = residualNorm(r, b)
		rep.ClampedResidual = residualNorm(r, a)
		if len(clipped) == 0 {
			continue
		}
		if rep.Residual <= c.cfg.TaskTolerance && rep.ClampedResidual > c.cfg.TaskTolerance {
			ev := ClampEvent{Task: rep.Name, Before: rep.Residual, After: rep.ClampedResidual, Clamped: clipped}
			res.ClampViolations = append(res.ClampViolations, ev)
			monitoring.Event(monitoring.EventClampViolation, "%s residual %.3g -> %.3g after clamping joints %v",
				ev.Task, ev.Before, ev.After, clipped)
		}
	}
}

func residualNorm(r resolved, dq *mat.VecDense) float64 {
	var v mat.VecDense
	v.MulVec(r.J, dq)
	v.SubVec(r.desired, &v)
	return mat.Norm(&v, 2)
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
