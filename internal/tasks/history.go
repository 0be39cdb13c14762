package tasks

import (
	"sort"
	"sync"
	"time"
)

// ErrorSample is one recorded task error norm.
type ErrorSample struct {
	Time time.Time
	Norm float64
}

// ErrorHistory keeps a bounded per-task history of error norms.
type ErrorHistory struct {
	mu     sync.Mutex
	max    int
	series map[string][]ErrorSample
}

// NewErrorHistory returns a history holding at most max samples per task.
func NewErrorHistory(max int) *ErrorHistory {
	if max < 1 {
		max = 1
	}
	return &ErrorHistory{max: max, series: make(map[string][]ErrorSample)}
}

// Record appends a sample, evicting the oldest once the task is full.
func (h *ErrorHistory) Record(name string, ts time.Time, norm float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := append(h.series[name], ErrorSample{Time: ts, Norm: norm})
	if len(s) > h.max {
		s = append(s[:0:0], s[len(s)-h.max:]...)
	}
	h.series[name] = s
}

// Series returns a copy of the samples recorded for name.
func (h *ErrorHistory) Series(name string) []ErrorSample {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ErrorSample, len(h.series[name]))
	copy(out, h.series[name])
	return out
}

// Names returns the recorded task names in sorted order.
func (h *ErrorHistory) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.series))
	for n := range h.series {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
