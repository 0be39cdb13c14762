package ingest

import (
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/mobile-manipulator/internal/estimator"
	"github.com/banshee-data/mobile-manipulator/internal/monitoring"
	"github.com/banshee-data/mobile-manipulator/internal/tasks"
)

var logf = monitoring.Component("ingest")

// Sink receives decoded messages. Nil functions discard that message type.
type Sink struct {
	// Observation queues an observation and reports whether it was
	// accepted.
	Observation func(estimator.Observation) bool
	TaskSet     func(tasks.TaskSet)
	Joints      func(tasks.JointConfiguration)
}

// Stats counts datagrams through a Dispatcher.
type Stats struct {
	received  atomic.Uint64
	bytes     atomic.Uint64
	decoded   atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64
}

// StatsSnapshot is a copy of the counters.
type StatsSnapshot struct {
	Received  uint64 `json:"received"`
	Bytes     uint64 `json:"bytes"`
	Decoded   uint64 `json:"decoded"`
	Malformed uint64 `json:"malformed"`
	Dropped   uint64 `json:"dropped"`
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Received:  s.received.Load(),
		Bytes:     s.bytes.Load(),
		Decoded:   s.decoded.Load(),
		Malformed: s.malformed.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// LogStats logs the counters.
func (s *Stats) LogStats() {
	v := s.Snapshot()
	logf("received=%d bytes=%d decoded=%d malformed=%d dropped=%d",
		v.Received, v.Bytes, v.Decoded, v.Malformed, v.Dropped)
}

// Dispatcher decodes datagrams and routes them to a Sink.
type Dispatcher struct {
	sink     Sink
	template tasks.JointConfiguration
	stats    Stats
}

// NewDispatcher returns a Dispatcher. Joint reports are overlaid on
// template, which supplies the joint limits.
func NewDispatcher(sink Sink, template tasks.JointConfiguration) *Dispatcher {
	return &Dispatcher{sink: sink, template: template}
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() *Stats { return &d.stats }

// HandlePacket decodes one datagram. Malformed input is counted and
// returned as an error; it never panics.
func (d *Dispatcher) HandlePacket(payload []byte) error {
	d.stats.received.Add(1)
	d.stats.bytes.Add(uint64(len(payload)))

	if err := d.handle(payload); err != nil {
		d.stats.malformed.Add(1)
		return err
	}
	d.stats.decoded.Add(1)
	return nil
}

func (d *Dispatcher) handle(payload []byte) error {
	kind, err := peekType(payload)
	if err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	switch kind {
	case TypeOdometry, TypeMarker:
		obs, err := decodeObservation(kind, payload)
		if err != nil {
			return err
		}
		if d.sink.Observation != nil && !d.sink.Observation(obs) {
			d.stats.dropped.Add(1)
		}
	case TypeTasks:
		ts, err := tasks.DecodeTaskSet(payload)
		if err != nil {
			return err
		}
		if d.sink.TaskSet != nil {
			d.sink.TaskSet(ts)
		}
	case TypeJoints:
		jc, err := decodeJoints(payload, d.template)
		if err != nil {
			return err
		}
		if d.sink.Joints != nil {
			d.sink.Joints(jc)
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownType, kind)
	}
	return nil
}
