package estimator

import (
	"errors"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/mobile-manipulator/internal/config"
	"github.com/banshee-data/mobile-manipulator/internal/geom"
	"github.com/banshee-data/mobile-manipulator/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var testMarker = geom.Pose{
	Position:    [3]float64{1.5, 0, -0.15},
	Orientation: geom.QuatFromArray([4]float64{0.5, -0.5, 0.5, -0.5}),
}

func testConfig() Config {
	cfg := EstimatorConfigFromTuning(config.DefaultTuningConfig())
	cfg.Markers = map[int]geom.Pose{1: testMarker}
	return cfg
}

func newTestEstimator(cfg Config, pose geom.Pose) *Estimator {
	return New(cfg, InitialEstimate(cfg, t0, pose))
}

// markerSeenFrom returns the observation a perfect detector would report
// with the base at truth.
func markerSeenFrom(cfg Config, truth geom.Pose, ts time.Time) Observation {
	camera := truth.Compose(cfg.CameraExtrinsic)
	rel := camera.Inverse().Compose(cfg.Markers[1])
	return NewMarkerObservation(ts, 1, rel.Position, rel.Orientation)
}

func requirePSD(t *testing.T, est PoseEstimate) {
	t.Helper()
	for i := 0; i < StateDim; i++ {
		for j := 0; j < StateDim; j++ {
			require.InDelta(t, est.CovarianceAt(i, j), est.CovarianceAt(j, i), 1e-12)
		}
	}
	var eig mat.EigenSym
	require.True(t, eig.Factorize(est.CovarianceMatrix(), false))
	for _, v := range eig.Values(nil) {
		require.GreaterOrEqual(t, v, -1e-12)
	}
}

// --------------------------------------------------------------------------
// Predict
// --------------------------------------------------------------------------

func TestPredict_TraceNonDecreasing(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	init := InitialEstimate(cfg, t0, geom.Pose{Orientation: geom.FromYaw(0.3)})
	init.LinearVelocity = [3]float64{0.4, 0, 0}
	init.AngularVelocity = [3]float64{0, 0, 0.8}
	e := New(cfg, init)

	prev := e.Estimate().CovarianceTrace()
	for i := 0; i < 200; i++ {
		est, err := e.Predict(10 * time.Millisecond)
		require.NoError(t, err)
		tr := est.CovarianceTrace()
		require.GreaterOrEqual(t, tr, prev-1e-12, "step %d", i)
		prev = tr
		requirePSD(t, est)
	}
}

func TestPredict_ConstantVelocityMotion(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	init := InitialEstimate(cfg, t0, geom.Pose{Orientation: geom.FromYaw(math.Pi / 2)})
	init.LinearVelocity = [3]float64{1, 0, 0}
	e := New(cfg, init)

	est, err := e.Predict(time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 0, est.Position[0], 1e-9)
	assert.InDelta(t, 1, est.Position[1], 1e-9)
	assert.Equal(t, t0.Add(time.Second), est.Timestamp)
	assert.Equal(t, uint64(1), e.Stats().Predicts)

	// Turning in place.
	init = InitialEstimate(cfg, t0, geom.IdentityPose())
	init.AngularVelocity = [3]float64{0, 0, 0.5}
	e = New(cfg, init)
	est, err = e.Predict(2 * time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, geom.Yaw(est.Orientation), 1e-9)
}

func TestPredict_NonPositiveDt(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(testConfig(), geom.IdentityPose())
	before := e.Estimate()

	for _, dt := range []time.Duration{0, -time.Millisecond} {
		_, err := e.Predict(dt)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNonPositiveDt))
	}
	assert.Equal(t, before, e.Estimate())
	assert.Equal(t, uint64(2), e.Stats().NonPositiveDt)
}

func TestPredict_TraceCap(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxCovarianceTrace = 0.2
	e := newTestEstimator(cfg, geom.IdentityPose())

	for i := 0; i < 100; i++ {
		est, err := e.Predict(50 * time.Millisecond)
		require.NoError(t, err)
		require.LessOrEqual(t, est.CovarianceTrace(), cfg.MaxCovarianceTrace+1e-9)
	}
	assert.Positive(t, e.Stats().CovarianceCapped)
	requirePSD(t, e.Estimate())
}

func TestPredict_VisionDegradedAfterMarkerTimeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	e := newTestEstimator(cfg, geom.IdentityPose())

	est, err := e.Predict(cfg.MarkerTimeout - 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, est.VisionDegraded)

	est, err = e.Predict(200 * time.Millisecond)
	require.NoError(t, err)
	assert.True(t, est.VisionDegraded)

	// Inflation makes the degraded filter less certain than one without it.
	cfgNoInflation := cfg
	cfgNoInflation.MarkerTimeoutInflation = 0
	ref := newTestEstimator(cfgNoInflation, geom.IdentityPose())
	_, err = ref.Predict(cfg.MarkerTimeout + 100*time.Millisecond)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err = e.Predict(100 * time.Millisecond)
		require.NoError(t, err)
		_, err = ref.Predict(100 * time.Millisecond)
		require.NoError(t, err)
	}
	assert.Greater(t, e.Estimate().CovarianceAt(0, 0), ref.Estimate().CovarianceAt(0, 0))

	// An accepted marker restores vision.
	now := e.Estimate().Timestamp
	out, err := e.Correct(markerSeenFrom(cfg, geom.IdentityPose(), now))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, out)
	assert.False(t, e.Estimate().VisionDegraded)
}

// --------------------------------------------------------------------------
// Correct
// --------------------------------------------------------------------------

func TestCorrect_OdometryTraceNonIncreasing(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(testConfig(), geom.IdentityPose())
	_, err := e.Predict(100 * time.Millisecond)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		before := e.Estimate()
		obs := NewOdometryObservation(before.Timestamp, [3]float64{0.05, 0, 0}, [3]float64{0, 0, 0.02})
		out, err := e.Correct(obs)
		require.NoError(t, err)
		require.Equal(t, OutcomeApplied, out)
		after := e.Estimate()
		require.LessOrEqual(t, after.CovarianceTrace(), before.CovarianceTrace()+1e-12)
		requirePSD(t, after)
	}
	est := e.Estimate()
	assert.InDelta(t, 0.05, est.LinearVelocity[0], 0.01)
	assert.InDelta(t, 0.02, est.AngularVelocity[2], 0.01)
}

func TestCorrect_GatedObservationLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(testConfig(), geom.IdentityPose())
	before := e.Estimate()

	outlier := NewOdometryObservation(t0, [3]float64{100, 0, 0}, [3]float64{})
	for i := 0; i < 2; i++ {
		out, err := e.Correct(outlier)
		require.NoError(t, err)
		assert.Equal(t, OutcomeGated, out)
		assert.Equal(t, before, e.Estimate())
	}
	st := e.Stats()
	assert.Equal(t, uint64(2), st.Gated)
	assert.Zero(t, st.Applied)
	assert.Greater(t, st.LastMahalanobis, testConfig().OdomGateThreshold)
}

func TestCorrect_StaleMarkerIsDiscarded(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	e := newTestEstimator(cfg, geom.IdentityPose())
	_, err := e.Predict(time.Second)
	require.NoError(t, err)
	before := e.Estimate()

	out, err := e.Correct(markerSeenFrom(cfg, geom.Pose{Position: [3]float64{0.3, 0, 0}, Orientation: geom.IdentityQuat}, t0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, out)
	assert.Equal(t, before, e.Estimate())
	assert.Equal(t, uint64(1), e.Stats().Stale)
}

// movingEstimator starts at the origin driving forward at 1 m/s.
func movingEstimator(cfg Config) *Estimator {
	start := InitialEstimate(cfg, t0, geom.IdentityPose())
	start.LinearVelocity = [3]float64{1, 0, 0}
	return New(cfg, start)
}

func atX(x float64) geom.Pose {
	return geom.Pose{Position: [3]float64{x, 0, 0}, Orientation: geom.IdentityQuat}
}

func TestCorrect_LateMarkerIsAppliedAtItsOwnEpoch(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	seen := markerSeenFrom(cfg, atX(0.05), t0.Add(50*time.Millisecond))

	late := movingEstimator(cfg)
	_, err := late.Predict(200 * time.Millisecond)
	require.NoError(t, err)
	out, err := late.Correct(seen)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	// The same marker delivered before the predict reached it.
	onTime := movingEstimator(cfg)
	out, err = onTime.Correct(seen)
	require.NoError(t, err)
	require.Equal(t, OutcomeBuffered, out)
	_, err = onTime.Predict(200 * time.Millisecond)
	require.NoError(t, err)

	got, want := late.Estimate(), onTime.Estimate()
	assert.Equal(t, t0.Add(200*time.Millisecond), got.Timestamp)
	assert.InDelta(t, 0.2, got.Position[0], 0.01)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, want.Position[i], got.Position[i], 1e-9, "position %d", i)
	}
	assert.InDelta(t, want.CovarianceTrace(), got.CovarianceTrace(), 1e-9)
	requirePSD(t, got)

	st := late.Stats()
	assert.Equal(t, uint64(1), st.Applied)
	assert.Equal(t, uint64(1), st.Replayed)
	assert.Zero(t, st.Stale)
}

func TestCorrect_LateMarkerReplaysLaterObservations(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	marker := markerSeenFrom(cfg, atX(0.05), t0.Add(50*time.Millisecond))
	odom := NewOdometryObservation(t0.Add(100*time.Millisecond), [3]float64{1, 0, 0}, [3]float64{})

	late := movingEstimator(cfg)
	_, err := late.Predict(100 * time.Millisecond)
	require.NoError(t, err)
	out, err := late.Correct(odom)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, out)
	_, err = late.Predict(100 * time.Millisecond)
	require.NoError(t, err)
	out, err = late.Correct(marker)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, out)

	inOrder := movingEstimator(cfg)
	for _, obs := range []Observation{marker, odom} {
		out, err := inOrder.Correct(obs)
		require.NoError(t, err)
		require.Equal(t, OutcomeBuffered, out)
	}
	_, err = inOrder.Predict(200 * time.Millisecond)
	require.NoError(t, err)

	got, want := late.Estimate(), inOrder.Estimate()
	for i := 0; i < 3; i++ {
		assert.InDelta(t, want.Position[i], got.Position[i], 1e-9, "position %d", i)
		assert.InDelta(t, want.LinearVelocity[i], got.LinearVelocity[i], 1e-9, "velocity %d", i)
	}
	assert.InDelta(t, want.CovarianceTrace(), got.CovarianceTrace(), 1e-9)
	assert.Equal(t, uint64(2), late.Stats().Applied, "replayed odometry is not counted twice")
	assert.Equal(t, uint64(1), late.Stats().Replayed)
}

func TestCorrect_LateBeforeRetainedHistoryIsStale(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	e := newTestEstimator(cfg, geom.IdentityPose())
	_, err := e.Predict(100 * time.Millisecond)
	require.NoError(t, err)
	before := e.Estimate()

	// Within the staleness threshold, but older than the initial state.
	out, err := e.Correct(NewOdometryObservation(t0.Add(-50*time.Millisecond), [3]float64{}, [3]float64{}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, out)
	assert.Equal(t, before.Position, e.Estimate().Position)
	assert.Equal(t, before.Covariance, e.Estimate().Covariance)
	assert.Equal(t, uint64(1), e.Stats().Stale)
	assert.Zero(t, e.Stats().Replayed)
}

func TestCorrect_FutureObservationIsBufferedUntilPredict(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(testConfig(), geom.IdentityPose())
	future := t0.Add(15 * time.Millisecond)

	out, err := e.Correct(NewOdometryObservation(future, [3]float64{0.1, 0, 0}, [3]float64{}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeBuffered, out)
	assert.Equal(t, 1, e.Pending())

	_, err = e.Predict(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Pending())
	assert.Zero(t, e.Stats().Applied)

	est, err := e.Predict(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, e.Pending())
	assert.Equal(t, uint64(1), e.Stats().Applied)
	assert.Equal(t, t0.Add(20*time.Millisecond), est.Timestamp)
	assert.Greater(t, est.LinearVelocity[0], 0.0)
}

func TestCorrect_PendingBufferDropsOldest(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxPendingObservations = 2
	e := newTestEstimator(cfg, geom.IdentityPose())

	for _, s := range []int{3, 1, 2} {
		out, err := e.Correct(NewOdometryObservation(t0.Add(time.Duration(s)*time.Second), [3]float64{}, [3]float64{}))
		require.NoError(t, err)
		require.Equal(t, OutcomeBuffered, out)
	}
	assert.Equal(t, 2, e.Pending())
	assert.Equal(t, uint64(1), e.Stats().Dropped)

	// The t0+1s observation was evicted.
	_, err := e.Predict(1500 * time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, e.Stats().Applied)

	_, err = e.Predict(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.Stats().Applied)
	assert.Zero(t, e.Pending())
}

func TestCorrect_Malformed(t *testing.T) {
	t.Parallel()

	asym := make([]float64, 36)
	for i := 0; i < 6; i++ {
		asym[i*6+i] = 0.01
	}
	asym[1] = 0.005

	tests := []struct {
		name string
		obs  Observation
	}{
		{"nan twist", NewOdometryObservation(t0, [3]float64{math.NaN(), 0, 0}, [3]float64{})},
		{"inf rate", NewOdometryObservation(t0, [3]float64{}, [3]float64{0, 0, math.Inf(1)})},
		{"zero quaternion", NewMarkerObservation(t0, 1, [3]float64{0, 0, 1}, quat.Number{})},
		{"missing timestamp", NewOdometryObservation(time.Time{}, [3]float64{}, [3]float64{})},
		{"unknown kind", Observation{Timestamp: t0}},
		{"asymmetric covariance", func() Observation {
			o := NewOdometryObservation(t0, [3]float64{}, [3]float64{})
			o.Covariance = asym
			return o
		}()},
		{"short covariance", func() Observation {
			o := NewOdometryObservation(t0, [3]float64{}, [3]float64{})
			o.Covariance = []float64{1, 0, 0, 1}
			return o
		}()},
		{"confidence above one", func() Observation {
			o := NewMarkerObservation(t0, 1, [3]float64{0, 0, 1}, geom.IdentityQuat)
			o.Confidence = 1.5
			return o
		}()},
	}

	e := newTestEstimator(testConfig(), geom.IdentityPose())
	before := e.Estimate()
	for _, tt := range tests {
		out, err := e.Correct(tt.obs)
		require.Error(t, err, tt.name)
		assert.True(t, errors.Is(err, ErrMalformedObservation), tt.name)
		assert.Equal(t, OutcomeMalformed, out, tt.name)
	}
	assert.Equal(t, before, e.Estimate())
	assert.Equal(t, uint64(len(tests)), e.Stats().Malformed)
}

func TestCorrect_InvalidAndUnknownMarkers(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(testConfig(), geom.IdentityPose())

	invalid := NewMarkerObservation(t0, 1, [3]float64{0, 0, 1}, geom.IdentityQuat)
	invalid.Valid = false
	out, err := e.Correct(invalid)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, out)

	out, err = e.Correct(NewMarkerObservation(t0, 42, [3]float64{0, 0, 1}, geom.IdentityQuat))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownMarker, out)

	st := e.Stats()
	assert.Equal(t, uint64(1), st.Invalid)
	assert.Equal(t, uint64(1), st.UnknownMarker)
	assert.Zero(t, st.Applied)
}

func TestCorrect_MarkerPullsTowardsTruth(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	truth := geom.Pose{Position: [3]float64{0.2, 0.1, 0}, Orientation: geom.FromYaw(0.05)}
	guess := geom.Pose{Position: [3]float64{0.25, 0.06, 0}, Orientation: geom.FromYaw(0.05)}
	e := newTestEstimator(cfg, guess)

	obs := markerSeenFrom(cfg, truth, t0)
	posErr := func() float64 {
		return geom.Norm(geom.Sub(e.Estimate().Position, truth.Position))
	}

	beforeErr := posErr()
	out, err := e.Correct(obs)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, out)
	assert.Less(t, posErr(), beforeErr)
	assert.Less(t, e.Stats().LastMahalanobis, cfg.MarkerGateThreshold)
	requirePSD(t, e.Estimate())
}

func TestCorrect_LowConfidenceMarkerMovesLess(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	truth := geom.Pose{Position: [3]float64{0.02, 0, 0}, Orientation: geom.IdentityQuat}

	shift := func(conf float64) float64 {
		e := newTestEstimator(cfg, geom.IdentityPose())
		obs := markerSeenFrom(cfg, truth, t0)
		obs.Confidence = conf
		out, err := e.Correct(obs)
		require.NoError(t, err)
		require.Equal(t, OutcomeApplied, out)
		return e.Estimate().Position[0]
	}
	assert.Greater(t, shift(1), shift(0.2))
}

// --------------------------------------------------------------------------
// Publication, reset and concurrency
// --------------------------------------------------------------------------

func TestSinkReceivesPublications(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(testConfig(), geom.IdentityPose())
	var got []PoseEstimate
	e.SetSink(SinkFunc(func(p PoseEstimate) { got = append(got, p) }))

	_, err := e.Predict(10 * time.Millisecond)
	require.NoError(t, err)
	_, err = e.Correct(NewOdometryObservation(t0.Add(10*time.Millisecond), [3]float64{}, [3]float64{}))
	require.NoError(t, err)
	// Rejected and buffered corrections publish the unchanged estimate too.
	out, err := e.Correct(NewOdometryObservation(t0.Add(10*time.Millisecond), [3]float64{50, 0, 0}, [3]float64{}))
	require.NoError(t, err)
	require.Equal(t, OutcomeGated, out)
	out, err = e.Correct(NewOdometryObservation(t0.Add(time.Second), [3]float64{}, [3]float64{}))
	require.NoError(t, err)
	require.Equal(t, OutcomeBuffered, out)

	// Malformed input is an error and is not published.
	_, err = e.Correct(NewOdometryObservation(t0, [3]float64{math.NaN(), 0, 0}, [3]float64{}))
	require.Error(t, err)

	require.Len(t, got, 4)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Seq, got[i].Seq)
	}
	assert.Equal(t, got[2].Position, got[3].Position)
	assert.Equal(t, e.Estimate(), got[3])
}

func TestReset(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	e := newTestEstimator(cfg, geom.IdentityPose())
	_, err := e.Predict(time.Second)
	require.NoError(t, err)
	_, err = e.Correct(NewOdometryObservation(t0.Add(2*time.Second), [3]float64{}, [3]float64{}))
	require.NoError(t, err)

	target := geom.Pose{Position: [3]float64{3, -1, 0}, Orientation: geom.FromYaw(1)}
	e.Reset(PoseEstimate{Position: target.Position, Orientation: target.Orientation, Timestamp: t0.Add(5 * time.Second)})

	est := e.Estimate()
	assert.Equal(t, target.Position, est.Position)
	assert.Equal(t, t0.Add(5*time.Second), est.Timestamp)
	assert.Zero(t, e.Pending())
	assert.InDelta(t, InitialEstimate(cfg, t0, target).CovarianceTrace(), est.CovarianceTrace(), 1e-12)
	assert.Equal(t, uint64(1), e.Stats().Predicts, "counters survive reset")
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	e := newTestEstimator(cfg, geom.IdentityPose())

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, _ = e.Predict(5 * time.Millisecond)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			ts := e.Estimate().Timestamp
			_, _ = e.Correct(NewOdometryObservation(ts, [3]float64{}, [3]float64{}))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			est := e.Estimate()
			_ = est.CovarianceTrace()
		}
	}()
	wg.Wait()

	assert.Equal(t, t0.Add(500*time.Millisecond), e.Estimate().Timestamp)
	requirePSD(t, e.Estimate())
}

func TestOutcomeAndKindStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "stale", OutcomeStale.String())
	assert.Equal(t, "unknown_marker", OutcomeUnknownMarker.String())
	assert.Equal(t, "marker", ObservationMarker.String())
	assert.Contains(t, ObservationKind(9).String(), "9")
}
