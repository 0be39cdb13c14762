package telemetry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Run summarises one recorded run.
type Run struct {
	ID      string     `json:"run_id"`
	Label   string     `json:"label"`
	Started time.Time  `json:"started"`
	Ended   *time.Time `json:"ended,omitempty"`
	Cycles  int        `json:"cycles"`
}

// CycleRecord is one stored control cycle.
type CycleRecord struct {
	Seq             uint64
	Timestamp       time.Time
	PoseSeq         uint64
	Position        [3]float64
	Yaw             float64
	CovarianceTrace float64
	VisionDegraded  bool
	Velocities      [6]float64
	Skipped         int
	ClampViolations int
}

// TaskErrorRecord is one task's report within a stored cycle.
type TaskErrorRecord struct {
	Seq             uint64    `json:"seq"`
	Timestamp       time.Time `json:"timestamp"`
	Name            string    `json:"name"`
	Rank            int       `json:"rank"`
	Kind            string    `json:"kind"`
	Error           float64   `json:"error"`
	Residual        float64   `json:"residual"`
	ClampedResidual float64   `json:"clamped_residual"`
	SigmaMin        float64   `json:"sigma_min"`
	Damping         float64   `json:"damping"`
	Inactive        bool      `json:"inactive,omitempty"`
	Skipped         bool      `json:"skipped,omitempty"`
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT r.run_id, r.label, r.started_ns, r.ended_ns,
			(SELECT COUNT(*) FROM cycles c WHERE c.run_id = r.run_id)
		FROM runs r ORDER BY r.started_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run     Run
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &run.Label, &started, &ended, &run.Cycles); err != nil {
			return nil, err
		}
		run.Started = time.Unix(0, started)
		if ended.Valid {
			t := time.Unix(0, ended.Int64)
			run.Ended = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Cycles returns the cycles of a run in sequence order.
func (db *DB) Cycles(runID string) ([]CycleRecord, error) {
	rows, err := db.Query(`
		SELECT seq, timestamp_ns, pose_seq, x, y, z, yaw, covariance_trace,
			vision_degraded, velocities_json, skipped, clamp_violations
		FROM cycles WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CycleRecord
	for rows.Next() {
		var (
			c   CycleRecord
			ts  int64
			vel string
		)
		if err := rows.Scan(&c.Seq, &ts, &c.PoseSeq, &c.Position[0], &c.Position[1], &c.Position[2],
			&c.Yaw, &c.CovarianceTrace, &c.VisionDegraded, &vel, &c.Skipped, &c.ClampViolations); err != nil {
			return nil, err
		}
		c.Timestamp = time.Unix(0, ts)
		if err := json.Unmarshal([]byte(vel), &c.Velocities); err != nil {
			return nil, fmt.Errorf("cycle %d velocities: %w", c.Seq, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TaskErrors returns the reports of one named task across a run. An empty
// name returns every task.
func (db *DB) TaskErrors(runID, name string) ([]TaskErrorRecord, error) {
	rows, err := db.Query(`
		SELECT t.seq, c.timestamp_ns, t.name, t.rank, t.kind, t.error, t.residual,
			t.clamped_residual, t.sigma_min, t.damping, t.inactive, t.skipped
		FROM task_errors t
		JOIN cycles c ON c.run_id = t.run_id AND c.seq = t.seq
		WHERE t.run_id = ? AND (? = '' OR t.name = ?)
		ORDER BY t.seq, t.rank`, runID, name, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskErrorRecord
	for rows.Next() {
		var (
			r  TaskErrorRecord
			ts int64
		)
		if err := rows.Scan(&r.Seq, &ts, &r.Name, &r.Rank, &r.Kind, &r.Error, &r.Residual,
			&r.ClampedResidual, &r.SigmaMin, &r.Damping, &r.Inactive, &r.Skipped); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunEvents returns the event counters stored when the run finished.
func (db *DB) RunEvents(runID string) (map[string]uint64, error) {
	rows, err := db.Query(`SELECT name, count FROM run_events WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var (
			name  string
			count int64
		)
		if err := rows.Scan(&name, &count); err != nil {
			return nil, err
		}
		out[name] = uint64(count)
	}
	return out, rows.Err()
}
