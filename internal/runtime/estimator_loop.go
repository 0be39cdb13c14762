package runtime

import (
	"context"
	"time"

	"github.com/banshee-data/mobile-manipulator/internal/estimator"
	"github.com/banshee-data/mobile-manipulator/internal/monitoring"
	"github.com/banshee-data/mobile-manipulator/internal/snapshot"
	"github.com/banshee-data/mobile-manipulator/internal/timeutil"
)

var logf = monitoring.Component("runtime")

// EstimatorLoopConfig contains configuration for EstimatorLoop.
type EstimatorLoopConfig struct {
	Estimator *estimator.Estimator
	// Clock drives the loop; if nil, uses timeutil.RealClock.
	Clock timeutil.Clock
	// Period is the predict interval (1 / EstimatorRateHz).
	Period time.Duration
	// QueueSize bounds the observations waiting between ticks.
	QueueSize int
	// Out receives the estimate after every tick. Optional.
	Out *snapshot.Latest[estimator.PoseEstimate]
}

// EstimatorLoop predicts the filter forward each tick and folds in the
// observations that arrived since the previous one.
type EstimatorLoop struct {
	est    *estimator.Estimator
	clock  timeutil.Clock
	period time.Duration
	queue  chan estimator.Observation
	out    *snapshot.Latest[estimator.PoseEstimate]
	last   time.Time
}

// NewEstimatorLoop creates an EstimatorLoop. The first tick predicts from
// the estimator's current timestamp.
func NewEstimatorLoop(cfg EstimatorLoopConfig) *EstimatorLoop {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	size := cfg.QueueSize
	if size < 1 {
		size = 64
	}
	out := cfg.Out
	if out == nil {
		out = &snapshot.Latest[estimator.PoseEstimate]{}
	}
	return &EstimatorLoop{
		est:    cfg.Estimator,
		clock:  clock,
		period: cfg.Period,
		queue:  make(chan estimator.Observation, size),
		out:    out,
		last:   cfg.Estimator.Estimate().Timestamp,
	}
}

// Latest returns the snapshot the loop publishes into.
func (l *EstimatorLoop) Latest() *snapshot.Latest[estimator.PoseEstimate] { return l.out }

// Submit queues an observation without blocking. It reports false and
// counts a drop when the queue is full.
func (l *EstimatorLoop) Submit(obs estimator.Observation) bool {
	select {
	case l.queue <- obs:
		return true
	default:
		monitoring.DefaultEvents.Inc(monitoring.EventObservationDropped)
		return false
	}
}

// Step runs one tick at now: correct with every queued observation, then
// predict by the elapsed time. Observations stamped since the previous tick
// are buffered by the estimator and applied at their own epoch during the
// predict. Returns the published estimate.
func (l *EstimatorLoop) Step(now time.Time) estimator.PoseEstimate {
	for n := len(l.queue); n > 0; n-- {
		select {
		case obs := <-l.queue:
			if _, err := l.est.Correct(obs); err != nil {
				logf("correct %s: %v", obs.Kind, err)
			}
		default:
			n = 1
		}
	}

	if dt := now.Sub(l.last); dt > 0 {
		if _, err := l.est.Predict(dt); err != nil {
			logf("predict %v: %v", dt, err)
		}
		l.last = now
	}

	est := l.est.Estimate()
	l.out.Store(est)
	return est
}

// Run ticks the loop until ctx is cancelled.
func (l *EstimatorLoop) Run(ctx context.Context) error {
	if l.period <= 0 {
		logf("estimator loop: period is zero or negative, not starting")
		return nil
	}
	ticker := l.clock.NewTicker(l.period)
	defer ticker.Stop()

	logf("estimator loop started: period=%v", l.period)
	for {
		select {
		case <-ctx.Done():
			logf("estimator loop stopping")
			return nil
		case now := <-ticker.C():
			l.Step(now)
		}
	}
}
