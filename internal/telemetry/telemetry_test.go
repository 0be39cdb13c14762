package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mobile-manipulator/internal/control"
	"github.com/banshee-data/mobile-manipulator/internal/estimator"
	"github.com/banshee-data/mobile-manipulator/internal/geom"
	"github.com/banshee-data/mobile-manipulator/internal/monitoring"
	"github.com/banshee-data/mobile-manipulator/internal/tasks"
	"github.com/banshee-data/mobile-manipulator/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func cycle(seq uint64, x float64) (estimator.PoseEstimate, control.Result) {
	pose := estimator.PoseEstimate{
		Position:    [3]float64{x, 0.5, 0},
		Orientation: geom.FromYaw(0.25),
		Timestamp:   t0,
		Seq:         seq + 100,
	}
	pose.Covariance[0] = 0.01
	pose.Covariance[estimator.StateDim+1] = 0.02

	res := control.Result{
		Command: control.Command{
			Velocities: [6]float64{0.1, 0.2, 0, 0, 0, -0.3},
			Timestamp:  t0.Add(time.Duration(seq) * 20 * time.Millisecond),
			Seq:        seq,
		},
		Tasks: []control.TaskReport{
			{Name: "ee", Rank: 1, Kind: tasks.KindEEPosition, Error: 1 / float64(seq), Residual: 0.01, SigmaMin: 0.3, Damping: 0},
			{Name: "posture", Rank: 2, Kind: tasks.KindJointPosition, Error: 0.5, Skipped: seq == 2},
		},
	}
	if seq == 2 {
		res.Skipped = []string{"posture"}
	}
	return pose, res
}

// --------------------------------------------------------------------------
// Schema
// --------------------------------------------------------------------------

func TestOpen_MigratesToLatest(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Already at the latest version.
	require.NoError(t, db.MigrateUp())

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	_, err = db.Exec(`SELECT COUNT(*) FROM cycles`)
	assert.Error(t, err, "cycles table should be dropped by the down migration")
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "telemetry.db")

	db, err := Open(path)
	require.NoError(t, err)
	r, err := NewRecorder(RecorderConfig{DB: db, Label: "first", Events: monitoring.NewEvents()})
	require.NoError(t, err)
	require.NoError(t, r.Finish())
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	runs, err := db.Runs(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "first", runs[0].Label)
}

// --------------------------------------------------------------------------
// Recorder
// --------------------------------------------------------------------------

func TestRecorder_FlushAndQuery(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	events := monitoring.NewEvents()
	events.Add(monitoring.EventTaskSkipped, 3)

	clock := timeutil.NewMockClock(t0)
	r, err := NewRecorder(RecorderConfig{
		DB:     db,
		Label:  "unit",
		Tuning: map[string]float64{"damping_max": 0.05},
		Clock:  clock,
		Events: events,
	})
	require.NoError(t, err)
	_, parseErr := uuid.Parse(r.RunID())
	require.NoError(t, parseErr)

	for seq := uint64(1); seq <= 3; seq++ {
		r.ObserveCycle(cycle(seq, float64(seq)))
	}
	assert.Equal(t, 3, r.Stats().Queued)
	require.NoError(t, r.Flush())
	assert.Equal(t, uint64(3), r.Stats().Written)
	assert.Equal(t, 0, r.Stats().Queued)

	cycles, err := db.Cycles(r.RunID())
	require.NoError(t, err)
	require.Len(t, cycles, 3)
	c := cycles[1]
	assert.Equal(t, uint64(2), c.Seq)
	assert.Equal(t, uint64(102), c.PoseSeq)
	assert.Equal(t, [3]float64{2, 0.5, 0}, c.Position)
	assert.InDelta(t, 0.25, c.Yaw, 1e-12)
	assert.InDelta(t, 0.03, c.CovarianceTrace, 1e-12)
	assert.Equal(t, [6]float64{0.1, 0.2, 0, 0, 0, -0.3}, c.Velocities)
	assert.Equal(t, 1, c.Skipped)
	assert.True(t, c.Timestamp.Equal(t0.Add(40*time.Millisecond)))

	ee, err := db.TaskErrors(r.RunID(), "ee")
	require.NoError(t, err)
	require.Len(t, ee, 3)
	assert.InDelta(t, 1.0/3, ee[2].Error, 1e-12)
	assert.Equal(t, string(tasks.KindEEPosition), ee[0].Kind)

	all, err := db.TaskErrors(r.RunID(), "")
	require.NoError(t, err)
	assert.Len(t, all, 6)
	var skipped int
	for _, rec := range all {
		if rec.Skipped {
			skipped++
		}
	}
	assert.Equal(t, 1, skipped)

	clock.Advance(time.Minute)
	require.NoError(t, r.Finish())
	runs, err := db.Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].Cycles)
	require.NotNil(t, runs[0].Ended)
	assert.True(t, runs[0].Ended.Equal(t0.Add(time.Minute)))

	counts, err := db.RunEvents(r.RunID())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), counts[monitoring.EventTaskSkipped])

	// Cycles after Finish are ignored.
	r.ObserveCycle(cycle(4, 4))
	assert.Equal(t, 0, r.Stats().Queued)
	require.NoError(t, r.Finish())
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	r, err := NewRecorder(RecorderConfig{DB: db, QueueSize: 2, Events: monitoring.NewEvents()})
	require.NoError(t, err)

	for seq := uint64(1); seq <= 5; seq++ {
		r.ObserveCycle(cycle(seq, 0))
	}
	st := r.Stats()
	assert.Equal(t, 2, st.Queued)
	assert.Equal(t, uint64(3), st.Dropped)

	require.NoError(t, r.Flush())
	cycles, err := db.Cycles(r.RunID())
	require.NoError(t, err)
	assert.Len(t, cycles, 2)
}

func TestRecorder_RunFlushesPeriodicallyAndFinishes(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	clock := timeutil.NewMockClock(t0)
	r, err := NewRecorder(RecorderConfig{DB: db, Clock: clock, FlushInterval: 100 * time.Millisecond, Events: monitoring.NewEvents()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.ObserveCycle(cycle(1, 0))
	require.Eventually(t, func() bool {
		clock.Advance(100 * time.Millisecond)
		return r.Stats().Written == 1
	}, 2*time.Second, 5*time.Millisecond)

	r.ObserveCycle(cycle(2, 0))
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, uint64(2), r.Stats().Written)
	runs, err := db.Runs(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.NotNil(t, runs[0].Ended)
}

func TestNewRecorder_RequiresDB(t *testing.T) {
	t.Parallel()
	_, err := NewRecorder(RecorderConfig{})
	assert.Error(t, err)
}

// --------------------------------------------------------------------------
// Admin routes
// --------------------------------------------------------------------------

func loopbackRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAttachAdminRoutes(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	r, err := NewRecorder(RecorderConfig{DB: db, Label: "admin", Events: monitoring.NewEvents()})
	require.NoError(t, err)
	r.ObserveCycle(cycle(1, 0))
	require.NoError(t, r.Flush())

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, loopbackRequest(http.MethodGet, "/debug/telemetry-runs"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var runs []Run
	require.NoError(t, json.NewDecoder(w.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, r.RunID(), runs[0].ID)
	assert.Equal(t, 1, runs[0].Cycles)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, loopbackRequest(http.MethodGet, "/debug/telemetry-runs?limit=soon"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, loopbackRequest(http.MethodGet, "/debug/telemetry-task-errors?run="+r.RunID()+"&task=ee"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var records []TaskErrorRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, "ee", records[0].Name)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, loopbackRequest(http.MethodGet, "/debug/telemetry-task-errors"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, loopbackRequest(http.MethodGet, "/debug/telemetry-task-errors?run=missing"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, loopbackRequest(http.MethodPost, "/debug/telemetry-task-errors?run="+r.RunID()))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, loopbackRequest(http.MethodGet, "/debug/telemetry-backup"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))
	assert.NotZero(t, w.Body.Len())
}
