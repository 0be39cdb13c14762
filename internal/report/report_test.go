package report

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mobile-manipulator/internal/control"
	"github.com/banshee-data/mobile-manipulator/internal/estimator"
	"github.com/banshee-data/mobile-manipulator/internal/geom"
	"github.com/banshee-data/mobile-manipulator/internal/monitoring"
	"github.com/banshee-data/mobile-manipulator/internal/tasks"
	"github.com/banshee-data/mobile-manipulator/internal/telemetry"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func cycle(i int) (estimator.PoseEstimate, control.Result) {
	ts := t0.Add(time.Duration(i) * 20 * time.Millisecond)
	pose := estimator.PoseEstimate{
		Position:       [3]float64{0.01 * float64(i), 0.02 * float64(i), 0},
		Orientation:    geom.IdentityQuat,
		Timestamp:      ts,
		VisionDegraded: i > 5,
	}
	pose.Covariance[0] = 0.01 * float64(i+1)
	res := control.Result{
		Command: control.Command{Seq: uint64(i + 1), Timestamp: ts},
		Tasks: []control.TaskReport{
			{Name: "ee", Rank: 1, Kind: tasks.KindEEPosition, Error: 1 / float64(i+1)},
			{Name: "heading", Rank: 2, Kind: tasks.KindBaseHeading, Error: 0.1, Skipped: i%2 == 1},
		},
	}
	return pose, res
}

func filledCollector(n int) *Collector {
	c := NewCollector(nil, 100)
	for i := 0; i < n; i++ {
		c.ObserveCycle(cycle(i))
	}
	return c
}

// --------------------------------------------------------------------------
// Collector
// --------------------------------------------------------------------------

func TestCollector_RecordsPosesAndErrors(t *testing.T) {
	t.Parallel()
	c := filledCollector(10)

	poses := c.Poses()
	require.Len(t, poses, 10)
	assert.InDelta(t, 0.09, poses[9].X, 1e-12)
	assert.InDelta(t, 0.1, poses[9].CovarianceTrace, 1e-12)
	assert.True(t, poses[9].VisionDegraded)

	assert.Equal(t, []string{"ee", "heading"}, c.History().Names())
	assert.Len(t, c.History().Series("ee"), 10)
	assert.Len(t, c.History().Series("heading"), 5, "skipped tasks are not recorded")
}

func TestCollector_BoundedAndSharedHistory(t *testing.T) {
	t.Parallel()
	shared := tasks.NewErrorHistory(10)
	c := NewCollector(shared, 3)
	for i := 0; i < 5; i++ {
		c.ObserveCycle(cycle(i))
	}
	poses := c.Poses()
	require.Len(t, poses, 3)
	assert.Equal(t, t0.Add(40*time.Millisecond), poses[0].Time)
	assert.Same(t, shared, c.History())
	assert.Empty(t, shared.Names(), "a shared history is filled by its owner")
}

// --------------------------------------------------------------------------
// PNG plots
// --------------------------------------------------------------------------

func TestWritePlots(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "plots")
	c := filledCollector(20)

	written, err := c.WritePlots(dir)
	require.NoError(t, err)
	require.Len(t, written, 3)
	for _, name := range []string{TaskErrorsFile, CovarianceTraceFile, BasePathFile} {
		b, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.True(t, bytes.HasPrefix(b, pngMagic), "%s is not a PNG", name)
	}
}

func TestWritePlots_EmptyCollector(t *testing.T) {
	t.Parallel()
	written, err := NewCollector(nil, 10).WritePlots(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, written)
}

func TestPlotFunctions_RequireData(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	assert.Error(t, PlotTaskErrors(tasks.NewErrorHistory(1), filepath.Join(dir, "a.png")))
	assert.Error(t, PlotCovarianceTrace(nil, filepath.Join(dir, "b.png")))
	assert.Error(t, PlotBasePath(nil, filepath.Join(dir, "c.png")))
}

// --------------------------------------------------------------------------
// Live charts
// --------------------------------------------------------------------------

func TestControlChartsHandler(t *testing.T) {
	t.Parallel()
	c := filledCollector(8)
	mux := http.NewServeMux()
	c.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/control-charts", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	body := w.Body.String()
	assert.Contains(t, body, "Task error norms")
	assert.Contains(t, body, "Covariance trace")
	assert.Contains(t, body, "Base path")
}

// --------------------------------------------------------------------------
// Stored runs
// --------------------------------------------------------------------------

func TestCollectorFromRun(t *testing.T) {
	t.Parallel()
	db, err := telemetry.Open(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	defer db.Close()

	rec, err := telemetry.NewRecorder(telemetry.RecorderConfig{DB: db, Events: monitoring.NewEvents()})
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		rec.ObserveCycle(cycle(i))
	}
	require.NoError(t, rec.Finish())

	c, err := CollectorFromRun(db, rec.RunID())
	require.NoError(t, err)
	assert.Len(t, c.Poses(), 6)
	assert.Len(t, c.History().Series("ee"), 6)
	assert.Len(t, c.History().Series("heading"), 3)

	written, err := c.WritePlots(t.TempDir())
	require.NoError(t, err)
	assert.Len(t, written, 3)

	_, err = CollectorFromRun(db, "no-such-run")
	assert.Error(t, err)
}
