package serialmux

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/mobile-manipulator/internal/estimator"
	"github.com/banshee-data/mobile-manipulator/internal/monitoring"
)

var logf = monitoring.Component("serial")

// DeviceState holds the latest status values reported by the controller.
type DeviceState struct {
	mu     sync.Mutex
	values map[string]any
}

// NewDeviceState returns an empty state.
func NewDeviceState() *DeviceState {
	return &DeviceState{values: make(map[string]any)}
}

// Apply merges the keys of a JSON status line.
func (d *DeviceState) Apply(line string) error {
	var v map[string]any
	if err := json.Unmarshal([]byte(line), &v); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, val := range v {
		d.values[k] = val
	}
	return nil
}

// Snapshot returns a copy of the state.
func (d *DeviceState) Snapshot() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]any, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

// OdometryPump subscribes to a mux and submits every odometry line as an
// estimator observation.
type OdometryPump struct {
	mux    SerialMuxInterface
	submit func(estimator.Observation) bool

	parsed    atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64
}

// NewOdometryPump returns a pump feeding submit, which must not block.
func NewOdometryPump(mux SerialMuxInterface, submit func(estimator.Observation) bool) *OdometryPump {
	return &OdometryPump{mux: mux, submit: submit}
}

// Run consumes lines until ctx is cancelled or the mux closes.
func (p *OdometryPump) Run(ctx context.Context) error {
	id, lines := p.mux.Subscribe()
	defer p.mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			p.HandleLine(line)
		}
	}
}

// HandleLine processes one device line.
func (p *OdometryPump) HandleLine(line string) {
	if ClassifyLine(line) != EventTypeOdometry {
		return
	}
	obs, err := ParseOdometryLine(line)
	if err != nil {
		p.malformed.Add(1)
		logf("%v", err)
		return
	}
	p.parsed.Add(1)
	if !p.submit(obs) {
		p.dropped.Add(1)
	}
}

// Counts returns the parsed, malformed and dropped line counts.
func (p *OdometryPump) Counts() (parsed, malformed, dropped uint64) {
	return p.parsed.Load(), p.malformed.Load(), p.dropped.Load()
}
