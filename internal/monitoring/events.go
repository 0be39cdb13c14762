package monitoring

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
)

// Observability event names raised by the core. Statistical rejections and
// kinematic degradation are events, never errors.
const (
	EventObservationGated     = "estimator.observation_gated"
	EventObservationStale     = "estimator.observation_stale"
	EventObservationMalformed = "estimator.observation_malformed"
	EventObservationDropped   = "estimator.observation_dropped"
	EventVisionDegraded       = "estimator.vision_degraded"
	EventCovarianceCapped     = "estimator.covariance_capped"
	EventClampViolation       = "control.clamp_violation"
	EventTaskSkipped          = "control.task_skipped"
	EventCycleOverrun         = "control.cycle_overrun"
	EventSingularTask         = "control.singular_task"
)

// Events is a set of named monotonic counters.
type Events struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Uint64
}

// NewEvents returns an empty counter set.
func NewEvents() *Events {
	return &Events{counters: make(map[string]*atomic.Uint64)}
}

// DefaultEvents is the process-wide counter set served on the debug mux.
var DefaultEvents = NewEvents()

func (e *Events) counter(name string) *atomic.Uint64 {
	e.mu.RLock()
	c, ok := e.counters[name]
	e.mu.RUnlock()
	if ok {
		return c
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok = e.counters[name]; !ok {
		c = new(atomic.Uint64)
		e.counters[name] = c
	}
	return c
}

// Inc increments the named counter by one.
func (e *Events) Inc(name string) { e.counter(name).Add(1) }

// Add increments the named counter by n.
func (e *Events) Add(name string, n uint64) { e.counter(name).Add(n) }

// Get returns the current value of the named counter.
func (e *Events) Get(name string) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if c, ok := e.counters[name]; ok {
		return c.Load()
	}
	return 0
}

// Snapshot returns a copy of all counters.
func (e *Events) Snapshot() map[string]uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]uint64, len(e.counters))
	for k, c := range e.counters {
		out[k] = c.Load()
	}
	return out
}

// ServeHTTP writes the counters as a JSON object with sorted keys.
func (e *Events) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := e.Snapshot()
	names := make([]string, 0, len(snap))
	for k := range snap {
		names = append(names, k)
	}
	sort.Strings(names)

	type entry struct {
		Name  string `json:"name"`
		Count uint64 `json:"count"`
	}
	out := make([]entry, 0, len(names))
	for _, n := range names {
		out = append(out, entry{Name: n, Count: snap[n]})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Event increments name on DefaultEvents and logs the formatted message.
func Event(name, format string, v ...interface{}) {
	DefaultEvents.Inc(name)
	Logf("[event "+name+"] "+format, v...)
}
