package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/mobile-manipulator/internal/control"
	"github.com/banshee-data/mobile-manipulator/internal/estimator"
	"github.com/banshee-data/mobile-manipulator/internal/monitoring"
	"github.com/banshee-data/mobile-manipulator/internal/snapshot"
	"github.com/banshee-data/mobile-manipulator/internal/tasks"
	"github.com/banshee-data/mobile-manipulator/internal/timeutil"
)

// ErrNoEstimate is returned by ControlLoop.Step before the first pose
// estimate has been published.
var ErrNoEstimate = errors.New("runtime: no pose estimate yet")

// Observer receives every completed control cycle.
type Observer interface {
	ObserveCycle(pose estimator.PoseEstimate, res control.Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(estimator.PoseEstimate, control.Result)

// ObserveCycle calls f.
func (f ObserverFunc) ObserveCycle(p estimator.PoseEstimate, r control.Result) { f(p, r) }

// ControlLoopConfig contains configuration for ControlLoop.
type ControlLoopConfig struct {
	Controller *control.Controller
	Actuator   Actuator
	// Clock drives the loop; if nil, uses timeutil.RealClock.
	Clock timeutil.Clock
	// Period is the control interval (1 / ControlRateHz).
	Period time.Duration
	// Budget bounds a single Compute call. Zero means unbounded.
	Budget time.Duration

	Pose   *snapshot.Latest[estimator.PoseEstimate]
	Tasks  *snapshot.Latest[tasks.TaskSet]
	Joints *snapshot.Latest[tasks.JointConfiguration]
	// DefaultJoints is used until a joint configuration is published.
	DefaultJoints tasks.JointConfiguration

	// JointLimits, when set, adds a joint-limit task at JointLimitRank.
	JointLimits    *tasks.JointLimitMonitor
	JointLimitRank int

	// History records per-task error norms. Optional.
	History   *tasks.ErrorHistory
	Observers []Observer
}

// ControlLoop runs the controller at a fixed rate against the latest
// estimate, task set and joint state.
type ControlLoop struct {
	cfg   ControlLoopConfig
	clock timeutil.Clock
	seq   uint64
}

// NewControlLoop creates a ControlLoop. Missing snapshots are created
// empty.
func NewControlLoop(cfg ControlLoopConfig) *ControlLoop {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Pose == nil {
		cfg.Pose = &snapshot.Latest[estimator.PoseEstimate]{}
	}
	if cfg.Tasks == nil {
		cfg.Tasks = &snapshot.Latest[tasks.TaskSet]{}
	}
	if cfg.Joints == nil {
		cfg.Joints = &snapshot.Latest[tasks.JointConfiguration]{}
	}
	return &ControlLoop{cfg: cfg, clock: cfg.Clock}
}

// Tasks returns the task-set snapshot the loop reads.
func (l *ControlLoop) Tasks() *snapshot.Latest[tasks.TaskSet] { return l.cfg.Tasks }

// Joints returns the joint-state snapshot the loop reads.
func (l *ControlLoop) Joints() *snapshot.Latest[tasks.JointConfiguration] { return l.cfg.Joints }

// Step runs one control cycle and hands the command to the actuator. A
// Compute error produces no command.
func (l *ControlLoop) Step(ctx context.Context) (control.Result, error) {
	start := l.clock.Now()

	pose, ok := l.cfg.Pose.Load()
	if !ok {
		return control.Result{}, ErrNoEstimate
	}
	set, _ := l.cfg.Tasks.Load()
	joints, ok := l.cfg.Joints.Load()
	if !ok {
		joints = l.cfg.DefaultJoints
	}

	active := set.Tasks
	if l.cfg.JointLimits != nil {
		l.cfg.JointLimits.Update(joints.Arm())
		active = append(append([]tasks.Task(nil), set.Tasks...), l.cfg.JointLimits.Task(l.cfg.JointLimitRank))
	}

	cctx := ctx
	if l.cfg.Budget > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, l.cfg.Budget)
		defer cancel()
	}
	res, err := l.cfg.Controller.Compute(cctx, active, joints, pose)
	if err != nil {
		logf("control cycle: %v", err)
		return res, err
	}

	l.seq++
	res.Command.Seq = l.seq
	if l.cfg.Actuator != nil {
		if err := l.cfg.Actuator.Send(ctx, res.Command); err != nil {
			logf("actuator: %v", err)
		}
	}

	if l.cfg.History != nil {
		for _, r := range res.Tasks {
			if !r.Inactive && !r.Skipped {
				l.cfg.History.Record(r.Name, pose.Timestamp, r.Error)
			}
		}
	}
	for _, o := range l.cfg.Observers {
		o.ObserveCycle(pose, res)
	}

	if elapsed := l.clock.Since(start); l.cfg.Period > 0 && elapsed > l.cfg.Period {
		monitoring.Event(monitoring.EventCycleOverrun, "control cycle %d took %v (period %v)", l.seq, elapsed, l.cfg.Period)
	}
	return res, nil
}

// Run ticks the loop until ctx is cancelled. On exit a zero command is sent
// so the platform stops.
func (l *ControlLoop) Run(ctx context.Context) error {
	if l.cfg.Period <= 0 {
		logf("control loop: period is zero or negative, not starting")
		return nil
	}
	ticker := l.clock.NewTicker(l.cfg.Period)
	defer ticker.Stop()

	logf("control loop started: period=%v budget=%v", l.cfg.Period, l.cfg.Budget)
	for {
		select {
		case <-ctx.Done():
			logf("control loop stopping")
			l.stop()
			return nil
		case <-ticker.C():
			_, _ = l.Step(ctx)
		}
	}
}

func (l *ControlLoop) stop() {
	if l.cfg.Actuator == nil {
		return
	}
	l.seq++
	cmd := control.Command{Timestamp: l.clock.Now(), Seq: l.seq}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.cfg.Actuator.Send(ctx, cmd); err != nil {
		logf("stop command: %v", err)
	}
}
