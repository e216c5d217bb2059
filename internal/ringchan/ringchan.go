package ringchan

import "sync/atomic"

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// It wraps an underlying buffered channel and ensures the producer never blocks:
// if the buffer is full, the oldest element is discarded. A slow result consumer
// therefore loses its oldest results instead of stalling the scheduler.
//
// # Example
//
//	rc := ringchan.New[scan.Result](3)
//
//	// Writer: always succeeds, drops oldest if full.
//	for i := 0; i < 10; i++ {
//	    rc.Send(r)
//	}
//
//	// Reader: acts like a normal Go channel.
//	for v := range rc.C() {
//	    fmt.Println("got:", v)
//	}
//
// A RingChannel has a single writer; Send and Close must not race each other.
type RingChannel[T any] struct {
	ch      chan T
	closed  atomic.Bool
	metrics Metrics
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
// Consumers can range over this until it's closed.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts an item, discarding the oldest if the buffer is full. It reports
// whether an item was dropped. Sending on a closed RingChannel is a no-op.
func (rc *RingChannel[T]) Send(v T) bool {
	if rc.closed.Load() {
		return false
	}

	dropped := false
	for {
		select {
		case rc.ch <- v:
			rc.metrics.Written.Add(1)
			return dropped
		default:
		}
		select {
		case <-rc.ch: // drop oldest
			rc.metrics.Overwritten.Add(1)
			dropped = true
		default:
			// a reader drained it meanwhile; retry the send
		}
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. Buffered items stay readable.
// Calling Close more than once is safe.
func (rc *RingChannel[T]) Close() {
	if rc.closed.CompareAndSwap(false, true) {
		close(rc.ch)
	}
}

// Closed reports whether Close was called.
func (rc *RingChannel[T]) Closed() bool {
	return rc.closed.Load()
}

// Stats returns a snapshot of the write counters.
func (rc *RingChannel[T]) Stats() Stats {
	return Stats{
		Written:     rc.metrics.Written.Load(),
		Overwritten: rc.metrics.Overwritten.Load(),
	}
}

// Metrics provides lock-free counters for RingChannel.
type Metrics struct {
	Written     atomic.Int64
	Overwritten atomic.Int64
}

// Stats is a point-in-time copy of Metrics.
type Stats struct {
	Written     int64 `json:"written"`
	Overwritten int64 `json:"overwritten"`
}
