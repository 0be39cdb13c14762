package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/mobile-manipulator/internal/control"
	"github.com/banshee-data/mobile-manipulator/internal/estimator"
	"github.com/banshee-data/mobile-manipulator/internal/geom"
	"github.com/banshee-data/mobile-manipulator/internal/monitoring"
	"github.com/banshee-data/mobile-manipulator/internal/timeutil"
)

// RecorderConfig contains configuration for Recorder.
type RecorderConfig struct {
	// DB is the open telemetry database.
	DB *DB
	// Label is a free-form run description (e.g. "sil drive-to-point").
	Label string
	// Tuning is stored as JSON with the run; nil stores "{}".
	Tuning any
	// QueueSize bounds the cycles waiting to be written (default 1024).
	QueueSize int
	// FlushInterval is how often Run writes queued cycles (default 500ms).
	FlushInterval time.Duration
	// Clock defaults to timeutil.RealClock.
	Clock timeutil.Clock
	// Events are written with the run when it finishes (default
	// monitoring.DefaultEvents).
	Events *monitoring.Events
}

// RecorderStats reports recorder throughput.
type RecorderStats struct {
	Queued  int
	Written uint64
	Dropped uint64
}

type cycleRow struct {
	seq        uint64
	ts         time.Time
	poseSeq    uint64
	position   [3]float64
	yaw        float64
	covTrace   float64
	degraded   bool
	velocities [6]float64
	skipped    int
	clamps     int
	tasks      []control.TaskReport
}

// Recorder writes control cycles of one run to the database. ObserveCycle
// never blocks the control loop: cycles are queued and written in batches
// by Run or Flush, and dropped when the queue is full.
type Recorder struct {
	db     *DB
	runID  string
	clock  timeutil.Clock
	events *monitoring.Events
	every  time.Duration

	queue   chan cycleRow
	flushMu sync.Mutex

	written  atomic.Uint64
	dropped  atomic.Uint64
	finished atomic.Bool
}

// NewRecorder starts a new run and returns its recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("telemetry: recorder needs a database")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Events == nil {
		cfg.Events = monitoring.DefaultEvents
	}

	tuning := []byte("{}")
	if cfg.Tuning != nil {
		b, err := json.Marshal(cfg.Tuning)
		if err != nil {
			return nil, fmt.Errorf("telemetry: marshal tuning: %w", err)
		}
		tuning = b
	}

	r := &Recorder{
		db:     cfg.DB,
		runID:  uuid.NewString(),
		clock:  cfg.Clock,
		events: cfg.Events,
		every:  cfg.FlushInterval,
		queue:  make(chan cycleRow, cfg.QueueSize),
	}
	_, err := cfg.DB.Exec(`INSERT INTO runs (run_id, label, started_ns, tuning_json) VALUES (?, ?, ?, ?)`,
		r.runID, cfg.Label, cfg.Clock.Now().UnixNano(), string(tuning))
	if err != nil {
		return nil, fmt.Errorf("telemetry: start run: %w", err)
	}
	logf("run %s started (%s)", r.runID, cfg.Label)
	return r, nil
}

// RunID returns the UUID of the run being recorded.
func (r *Recorder) RunID() string { return r.runID }

// ObserveCycle queues one control cycle.
func (r *Recorder) ObserveCycle(pose estimator.PoseEstimate, res control.Result) {
	if r.finished.Load() {
		return
	}
	row := cycleRow{
		seq:        res.Command.Seq,
		ts:         res.Command.Timestamp,
		poseSeq:    pose.Seq,
		position:   pose.Position,
		yaw:        geom.Yaw(pose.Orientation),
		covTrace:   pose.CovarianceTrace(),
		degraded:   pose.VisionDegraded,
		velocities: res.Command.Velocities,
		skipped:    len(res.Skipped),
		clamps:     len(res.ClampViolations),
		tasks:      append([]control.TaskReport(nil), res.Tasks...),
	}
	select {
	case r.queue <- row:
	default:
		if r.dropped.Add(1)%100 == 1 {
			logf("queue full, dropped %d cycles so far", r.dropped.Load())
		}
	}
}

// Flush writes every queued cycle in a single transaction.
func (r *Recorder) Flush() error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	var rows []cycleRow
drain:
	for {
		select {
		case row := <-r.queue:
			rows = append(rows, row)
		default:
			break drain
		}
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("telemetry: begin: %w", err)
	}
	defer tx.Rollback()

	cycleStmt, err := tx.Prepare(`INSERT OR REPLACE INTO cycles (
		run_id, seq, timestamp_ns, pose_seq, x, y, z, yaw, covariance_trace,
		vision_degraded, velocities_json, skipped, clamp_violations
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("telemetry: prepare cycles: %w", err)
	}
	defer cycleStmt.Close()

	taskStmt, err := tx.Prepare(`INSERT OR REPLACE INTO task_errors (
		run_id, seq, name, rank, kind, error, residual, clamped_residual,
		sigma_min, damping, inactive, skipped
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("telemetry: prepare task_errors: %w", err)
	}
	defer taskStmt.Close()

	for _, row := range rows {
		vel, _ := json.Marshal(row.velocities)
		if _, err := cycleStmt.Exec(r.runID, int64(row.seq), row.ts.UnixNano(), int64(row.poseSeq),
			row.position[0], row.position[1], row.position[2], row.yaw, row.covTrace,
			row.degraded, string(vel), row.skipped, row.clamps); err != nil {
			return fmt.Errorf("telemetry: insert cycle %d: %w", row.seq, err)
		}
		for _, t := range row.tasks {
			if _, err := taskStmt.Exec(r.runID, int64(row.seq), t.Name, t.Rank, string(t.Kind),
				t.Error, t.Residual, t.ClampedResidual, t.SigmaMin, t.Damping,
				t.Inactive, t.Skipped); err != nil {
				return fmt.Errorf("telemetry: insert task %s/%d: %w", t.Name, row.seq, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("telemetry: commit: %w", err)
	}
	r.written.Add(uint64(len(rows)))
	return nil
}

// Finish flushes, stores the event counters and closes the run. Later
// cycles are ignored.
func (r *Recorder) Finish() error {
	if r.finished.Swap(true) {
		return nil
	}
	if err := r.Flush(); err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("telemetry: begin: %w", err)
	}
	defer tx.Rollback()

	for name, count := range r.events.Snapshot() {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO run_events (run_id, name, count) VALUES (?, ?, ?)`,
			r.runID, name, int64(count)); err != nil {
			return fmt.Errorf("telemetry: insert event %s: %w", name, err)
		}
	}
	if _, err := tx.Exec(`UPDATE runs SET ended_ns = ? WHERE run_id = ?`, r.clock.Now().UnixNano(), r.runID); err != nil {
		return fmt.Errorf("telemetry: end run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("telemetry: commit: %w", err)
	}
	st := r.Stats()
	logf("run %s finished: %d cycles written, %d dropped", r.runID, st.Written, st.Dropped)
	return nil
}

// Run flushes every FlushInterval until ctx is cancelled, then finishes
// the run.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.Finish()
		case <-ticker.C():
			if err := r.Flush(); err != nil {
				logf("flush failed: %v", err)
			}
		}
	}
}

// Stats returns the current recorder counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Queued:  len(r.queue),
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
	}
}
