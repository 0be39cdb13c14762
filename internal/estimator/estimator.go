package estimator

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/mobile-manipulator/internal/geom"
	"github.com/banshee-data/mobile-manipulator/internal/monitoring"
)

// minStep is the smallest sub-step integrated by propagate (seconds).
const minStep = 1e-9

// Estimator is the recursive pose filter.
type Estimator struct {
	mu  sync.Mutex
	cfg Config

	x     nominal
	P     *mat.SymDense
	epoch time.Time
	seq   uint64

	lastMarker time.Time
	degraded   bool
	pending    []Observation // sorted by timestamp, all after epoch when buffered

	// Recent states and processed observations, for applying late
	// observations at their own epoch.
	checkpoints []checkpoint
	history     []Observation
	replaying   bool

	stats Stats
	sink  Sink
}

// New returns an Estimator initialised from initial. A zero covariance in
// initial is replaced by the configured initial uncertainty.
func New(cfg Config, initial PoseEstimate) *Estimator {
	if cfg.MaxPendingObservations < 1 {
		cfg.MaxPendingObservations = 1
	}
	if !(cfg.MaxPredictDt > 0) {
		cfg.MaxPredictDt = 0.05
	}
	e := &Estimator{cfg: cfg}
	e.resetLocked(initial)
	return e
}

// SetSink installs the publication sink; nil disables publication.
func (e *Estimator) SetSink(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = s
}

// Reset re-initialises the filter. Counters are kept.
func (e *Estimator) Reset(initial PoseEstimate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked(initial)
	e.seq++
	e.publishLocked()
}

func (e *Estimator) resetLocked(initial PoseEstimate) {
	if initial.CovarianceTrace() == 0 {
		seeded := InitialEstimate(e.cfg, initial.Timestamp, initial.Pose())
		initial.Covariance = seeded.Covariance
	}
	e.x = nominal{
		p: initial.Position,
		q: geom.Normalize(initial.Orientation),
		v: initial.LinearVelocity,
		w: initial.AngularVelocity,
	}
	data := make([]float64, StateDim*StateDim)
	copy(data, initial.Covariance[:])
	e.P = symmetrize(mat.NewDense(StateDim, StateDim, data))
	clampPSD(e.P)
	e.epoch = initial.Timestamp
	e.lastMarker = initial.Timestamp
	e.degraded = false
	e.pending = nil
	e.history = nil
	e.checkpoints = nil
	e.checkpointLocked()
}

// Estimate returns the current estimate. It never mutates the filter.
func (e *Estimator) Estimate() PoseEstimate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Stats returns a copy of the filter counters.
func (e *Estimator) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Pending returns the number of buffered future observations.
func (e *Estimator) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Predict advances the filter by dt. Buffered observations stamped inside
// the interval are applied at their own epoch on the way.
func (e *Estimator) Predict(dt time.Duration) (PoseEstimate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if dt <= 0 {
		e.stats.NonPositiveDt++
		return e.snapshotLocked(), fmt.Errorf("%w: %v", ErrNonPositiveDt, dt)
	}

	target := e.epoch.Add(dt)
	for len(e.pending) > 0 && !e.pending[0].Timestamp.After(target) {
		obs := e.pending[0]
		e.pending = e.pending[1:]
		if step := obs.Timestamp.Sub(e.epoch); step > 0 {
			e.propagate(step)
		}
		e.update(obs)
	}
	if rem := target.Sub(e.epoch); rem > 0 {
		e.propagate(rem)
	}

	e.stats.Predicts++
	e.seq++
	e.publishLocked()
	return e.snapshotLocked(), nil
}

// Correct folds obs into the estimate, or classifies why it was not.
func (e *Estimator) Correct(obs Observation) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validateObservation(obs); err != nil {
		e.stats.Malformed++
		monitoring.Event(monitoring.EventObservationMalformed, "%s: %v", obs.Kind, err)
		return OutcomeMalformed, fmt.Errorf("%w: %v", ErrMalformedObservation, err)
	}

	if obs.Kind == ObservationMarker {
		if !obs.Valid {
			e.stats.Invalid++
			return OutcomeInvalid, nil
		}
		if _, ok := e.cfg.Markers[obs.MarkerID]; !ok {
			e.stats.UnknownMarker++
			return OutcomeUnknownMarker, nil
		}
	}

	if age := e.epoch.Sub(obs.Timestamp); age > e.cfg.StalenessThreshold {
		e.stats.Stale++
		monitoring.Event(monitoring.EventObservationStale, "%s observation %v older than epoch", obs.Kind, age)
		return OutcomeStale, nil
	}

	var out Outcome
	switch {
	case obs.Timestamp.After(e.epoch):
		e.bufferLocked(obs)
		out = OutcomeBuffered
	case obs.Timestamp.Before(e.epoch):
		var ok bool
		if out, ok = e.rewindLocked(obs); !ok {
			e.stats.Stale++
			monitoring.Event(monitoring.EventObservationStale, "%s observation at %v predates retained history", obs.Kind, obs.Timestamp)
		}
	default:
		out = e.update(obs)
	}

	e.seq++
	e.publishLocked()
	return out, nil
}

func (e *Estimator) bufferLocked(obs Observation) {
	i := sort.Search(len(e.pending), func(i int) bool {
		return e.pending[i].Timestamp.After(obs.Timestamp)
	})
	e.pending = append(e.pending, Observation{})
	copy(e.pending[i+1:], e.pending[i:])
	e.pending[i] = obs
	e.stats.Buffered++

	if over := len(e.pending) - e.cfg.MaxPendingObservations; over > 0 {
		e.pending = append(e.pending[:0:0], e.pending[over:]...)
		e.stats.Dropped += uint64(over)
		monitoring.DefaultEvents.Add(monitoring.EventObservationDropped, uint64(over))
	}
}

// update performs the gated Joseph-form correction at the current epoch.
func (e *Estimator) update(obs Observation) Outcome {
	e.recordLocked(obs)

	var in innovation
	switch obs.Kind {
	case ObservationMarker:
		in = e.markerInnovation(obs)
	default:
		in = e.odometryInnovation(obs)
	}

	var HP mat.Dense
	HP.Mul(in.H, e.P)
	var S mat.Dense
	S.Mul(&HP, in.H.T())
	S.Add(&S, in.R)

	var chol mat.Cholesky
	if ok := chol.Factorize(symmetrize(&S)); !ok {
		e.stats.Gated++
		e.event(monitoring.EventObservationGated, "%s innovation covariance not positive definite", obs.Kind)
		return OutcomeGated
	}

	var sy mat.VecDense
	if err := chol.SolveVecTo(&sy, in.y); err != nil {
		e.stats.Gated++
		return OutcomeGated
	}
	d2 := mat.Dot(in.y, &sy)
	e.stats.LastMahalanobis = d2
	if math.IsNaN(d2) || d2 > in.gate {
		e.stats.Gated++
		e.event(monitoring.EventObservationGated, "%s d²=%.2f exceeds gate %.2f", obs.Kind, d2, in.gate)
		return OutcomeGated
	}

	// K = P Hᵀ S⁻¹ = (S⁻¹ H P)ᵀ
	var SiHP mat.Dense
	if err := chol.SolveTo(&SiHP, &HP); err != nil {
		e.stats.Gated++
		return OutcomeGated
	}
	K := mat.DenseCopyOf(SiHP.T())

	var dx mat.VecDense
	dx.MulVec(K, in.y)

	// Joseph form: (I - KH) P (I - KH)ᵀ + K R Kᵀ
	IKH := identity(StateDim)
	var KH mat.Dense
	KH.Mul(K, in.H)
	IKH.Sub(IKH, &KH)

	var A, Pn mat.Dense
	A.Mul(IKH, e.P)
	Pn.Mul(&A, IKH.T())
	var KR, KRK mat.Dense
	KR.Mul(K, in.R)
	KRK.Mul(&KR, K.T())
	Pn.Add(&Pn, &KRK)

	e.P = symmetrize(&Pn)
	clampPSD(e.P)
	e.x = e.x.retract(dx.RawVector().Data)

	if obs.Kind == ObservationMarker {
		e.lastMarker = e.epoch
		if e.degraded {
			e.degraded = false
			e.logf("[estimator] marker %d accepted, vision restored", obs.MarkerID)
		}
	}
	e.stats.Applied++
	return OutcomeApplied
}

// propagate integrates the motion model over d in sub-steps of at most
// MaxPredictDt.
func (e *Estimator) propagate(d time.Duration) {
	remaining := d.Seconds()
	for remaining > minStep {
		h := math.Min(remaining, e.cfg.MaxPredictDt)
		e.predictStep(h)
		remaining -= h
	}
	e.epoch = e.epoch.Add(d)
	e.updateDegradedLocked()
	e.checkpointLocked()
}

// predictStep is one constant-velocity step of h seconds:
//
//	p' = p + R v h,  q' = q ⊗ exp(ω h),  v' = v,  ω' = ω
//
// with error-state transition
//
//	δp' = δp − R[v]ₓh δθ + R h δv
//	δθ' = exp(−ω h) δθ + h δω
func (e *Estimator) predictStep(h float64) {
	prevTrace := traceSym(e.P)

	R := geom.RotationMatrix(e.x.q)
	Rw := geom.RotationMatrix(geom.FromRotationVector(geom.Scale(-h, e.x.w)))
	v := e.x.v

	F := identity(StateDim)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var rv float64 // (R [v]ₓ)ᵢⱼ
			for k := 0; k < 3; k++ {
				rv += R[3*i+k] * skew(v, k, j)
			}
			F.Set(idxPos+i, idxAtt+j, -rv*h)
			F.Set(idxPos+i, idxVel+j, R[3*i+j]*h)
			F.Set(idxAtt+i, idxAtt+j, Rw[3*i+j])
		}
		F.Set(idxAtt+i, idxRate+i, h)
	}

	var FP, Pn mat.Dense
	FP.Mul(F, e.P)
	Pn.Mul(&FP, F.T())
	P := symmetrize(&Pn)
	addDiag(P, idxPos, 3, e.cfg.ProcessNoisePos*h)
	addDiag(P, idxAtt, 3, e.cfg.ProcessNoiseAtt*h)
	addDiag(P, idxVel, 3, e.cfg.ProcessNoiseVel*h)
	addDiag(P, idxRate, 3, e.cfg.ProcessNoiseRate*h)
	clampPSD(P)

	// Uncertainty never shrinks without information.
	if tr := traceSym(P); tr < prevTrace {
		addDiag(P, 0, StateDim, (prevTrace-tr)/StateDim)
	}

	if e.degraded && e.cfg.MarkerTimeoutInflation > 0 {
		addDiag(P, idxPos, 6, e.cfg.MarkerTimeoutInflation*h)
	}

	if tr := traceSym(P); e.cfg.MaxCovarianceTrace > 0 && tr > e.cfg.MaxCovarianceTrace {
		P.ScaleSym(e.cfg.MaxCovarianceTrace/tr, P)
		e.stats.CovarianceCapped++
		if !e.replaying {
			monitoring.DefaultEvents.Inc(monitoring.EventCovarianceCapped)
		}
	}
	e.P = P

	e.x.p = geom.Add(e.x.p, geom.Scale(h, geom.Rotate(e.x.q, v)))
	e.x.q = geom.Normalize(quatMulExp(e.x.q, geom.Scale(h, e.x.w)))
}

func (e *Estimator) updateDegradedLocked() {
	degraded := e.epoch.Sub(e.lastMarker) > e.cfg.MarkerTimeout
	if degraded && !e.degraded {
		e.event(monitoring.EventVisionDegraded, "no marker accepted for %v", e.epoch.Sub(e.lastMarker))
	}
	e.degraded = degraded
}

func (e *Estimator) snapshotLocked() PoseEstimate {
	est := PoseEstimate{
		Position:        e.x.p,
		Orientation:     e.x.q,
		LinearVelocity:  e.x.v,
		AngularVelocity: e.x.w,
		Timestamp:       e.epoch,
		Seq:             e.seq,
		VisionDegraded:  e.degraded,
	}
	for i := 0; i < StateDim; i++ {
		for j := 0; j < StateDim; j++ {
			est.Covariance[i*StateDim+j] = e.P.At(i, j)
		}
	}
	return est
}

// event and logf are silent while history is being replayed.
func (e *Estimator) event(name, format string, args ...any) {
	if !e.replaying {
		monitoring.Event(name, format, args...)
	}
}

func (e *Estimator) logf(format string, args ...any) {
	if !e.replaying {
		monitoring.Logf(format, args...)
	}
}

func (e *Estimator) publishLocked() {
	if e.sink != nil {
		e.sink.PublishEstimate(e.snapshotLocked())
	}
}
