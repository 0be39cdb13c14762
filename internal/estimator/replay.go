package estimator

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/mobile-manipulator/internal/monitoring"
)

// checkpoint is the filter state at epoch, taken right after propagation
// and before any correction stamped at epoch.
type checkpoint struct {
	epoch      time.Time
	x          nominal
	P          *mat.SymDense
	lastMarker time.Time
	degraded   bool
}

func (e *Estimator) checkpointLocked() {
	P := mat.NewSymDense(StateDim, nil)
	P.CopySym(e.P)
	e.checkpoints = append(e.checkpoints, checkpoint{
		epoch:      e.epoch,
		x:          e.x,
		P:          P,
		lastMarker: e.lastMarker,
		degraded:   e.degraded,
	})
	e.pruneHistoryLocked()
}

// pruneHistoryLocked keeps the newest checkpoint at or before the staleness
// horizon and everything after it, plus the observations they replay.
func (e *Estimator) pruneHistoryLocked() {
	horizon := e.epoch.Add(-e.cfg.StalenessThreshold)
	keep := 0
	for i, c := range e.checkpoints {
		if c.epoch.After(horizon) {
			break
		}
		keep = i
	}
	if keep > 0 {
		e.checkpoints = append(e.checkpoints[:0:0], e.checkpoints[keep:]...)
	}

	oldest := e.checkpoints[0].epoch
	drop := sort.Search(len(e.history), func(i int) bool {
		return !e.history[i].Timestamp.Before(oldest)
	})
	if drop > 0 {
		e.history = append(e.history[:0:0], e.history[drop:]...)
	}
}

// recordLocked appends obs to the replay history. obs is stamped at the
// current epoch, so the history stays sorted.
func (e *Estimator) recordLocked(obs Observation) {
	if e.replaying {
		return
	}
	e.history = append(e.history, obs)
}

// rewindLocked applies a late observation at its own epoch: the filter is
// restored to the newest checkpoint not after obs, and every observation
// processed since is run again in timestamp order up to the current epoch.
// It reports false when no checkpoint reaches back far enough.
func (e *Estimator) rewindLocked(obs Observation) (Outcome, bool) {
	i := sort.Search(len(e.checkpoints), func(i int) bool {
		return e.checkpoints[i].epoch.After(obs.Timestamp)
	}) - 1
	if i < 0 {
		return OutcomeStale, false
	}
	c := e.checkpoints[i]
	target := e.epoch

	// Observations at or after the checkpoint epoch are replayed; obs goes
	// after any already processed with the same timestamp.
	from := sort.Search(len(e.history), func(j int) bool {
		return !e.history[j].Timestamp.Before(c.epoch)
	})
	at := sort.Search(len(e.history), func(j int) bool {
		return e.history[j].Timestamp.After(obs.Timestamp)
	})
	replay := make([]Observation, 0, len(e.history)-from+1)
	replay = append(replay, e.history[from:at]...)
	self := len(replay)
	replay = append(replay, obs)
	replay = append(replay, e.history[at:]...)

	e.history = append(e.history[:from:from], replay...)
	e.checkpoints = e.checkpoints[:i+1]
	e.x = c.x
	e.P = mat.NewSymDense(StateDim, nil)
	e.P.CopySym(c.P)
	e.epoch = c.epoch
	e.lastMarker = c.lastMarker
	e.degraded = c.degraded

	// Counters and events already reflect the replayed observations.
	saved := e.stats
	e.replaying = true
	var out Outcome
	var d2 float64
	for k, r := range replay {
		if step := r.Timestamp.Sub(e.epoch); step > 0 {
			e.propagate(step)
		}
		o := e.update(r)
		if k == self {
			out, d2 = o, e.stats.LastMahalanobis
		}
	}
	if rem := target.Sub(e.epoch); rem > 0 {
		e.propagate(rem)
	}
	e.replaying = false

	e.stats = saved
	e.stats.Replayed++
	e.stats.LastMahalanobis = d2
	switch out {
	case OutcomeApplied:
		e.stats.Applied++
	case OutcomeGated:
		e.stats.Gated++
		monitoring.Event(monitoring.EventObservationGated, "late %s rejected at %v", obs.Kind, obs.Timestamp)
	}
	return out, true
}
