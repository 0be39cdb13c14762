// Package snapshot hands the most recent value from one periodic loop to
// another without blocking either side.
package snapshot

import "sync/atomic"

type entry[T any] struct {
	v   T
	seq uint64
}

// Latest holds the last published value. Readers always see a complete
// value; a writer never waits for a reader. The zero value is empty and
// ready to use.
type Latest[T any] struct {
	p   atomic.Pointer[entry[T]]
	seq atomic.Uint64
}

// Store publishes v. T should be a value type (or treated as immutable
// once stored).
func (l *Latest[T]) Store(v T) {
	e := &entry[T]{v: v, seq: l.seq.Add(1)}
	l.p.Store(e)
}

// Load returns the latest value and false if nothing was stored yet.
func (l *Latest[T]) Load() (T, bool) {
	e := l.p.Load()
	if e == nil {
		var zero T
		return zero, false
	}
	return e.v, true
}

// LoadSeq returns the latest value together with its publication number.
func (l *Latest[T]) LoadSeq() (T, uint64, bool) {
	e := l.p.Load()
	if e == nil {
		var zero T
		return zero, 0, false
	}
	return e.v, e.seq, true
}

// Seq returns the number of values published so far.
func (l *Latest[T]) Seq() uint64 { return l.seq.Load() }
