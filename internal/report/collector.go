// Package report turns recorded control runs into plots: PNG files written
// with gonum/plot after a run, and live HTML charts on the debug mux.
package report

import (
	"sync"
	"time"

	"github.com/banshee-data/mobile-manipulator/internal/control"
	"github.com/banshee-data/mobile-manipulator/internal/estimator"
	"github.com/banshee-data/mobile-manipulator/internal/monitoring"
	"github.com/banshee-data/mobile-manipulator/internal/tasks"
)

var logf = monitoring.Component("report")

// PoseSample is one recorded base pose and its uncertainty.
type PoseSample struct {
	Time            time.Time
	X, Y            float64
	CovarianceTrace float64
	VisionDegraded  bool
}

// Collector accumulates what the plots need from completed control
// cycles. Task errors go to a shared ErrorHistory, usually the one the
// control loop records into.
type Collector struct {
	history *tasks.ErrorHistory
	record  bool
	max     int

	mu    sync.Mutex
	poses []PoseSample
}

// NewCollector returns a collector keeping at most max pose samples. When
// history is nil the collector creates one and records task errors itself.
func NewCollector(history *tasks.ErrorHistory, max int) *Collector {
	if max < 1 {
		max = 1
	}
	c := &Collector{history: history, max: max}
	if history == nil {
		c.history = tasks.NewErrorHistory(max)
		c.record = true
	}
	return c
}

// History returns the task error history plotted by the collector.
func (c *Collector) History() *tasks.ErrorHistory { return c.history }

// ObserveCycle records the pose and, for a private history, task errors.
func (c *Collector) ObserveCycle(pose estimator.PoseEstimate, res control.Result) {
	if c.record {
		for _, t := range res.Tasks {
			if !t.Skipped && !t.Inactive {
				c.history.Record(t.Name, pose.Timestamp, t.Error)
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.poses = append(c.poses, PoseSample{
		Time:            pose.Timestamp,
		X:               pose.Position[0],
		Y:               pose.Position[1],
		CovarianceTrace: pose.CovarianceTrace(),
		VisionDegraded:  pose.VisionDegraded,
	})
	if len(c.poses) > c.max {
		c.poses = append(c.poses[:0:0], c.poses[len(c.poses)-c.max:]...)
	}
}

// Poses returns a copy of the recorded pose samples.
func (c *Collector) Poses() []PoseSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PoseSample(nil), c.poses...)
}
