// Package ringchan provides a bounded channel that overwrites its oldest
// element instead of blocking the producer.
//
// The event loop publishes telemetry into a RingChannel so that a slow
// consumer (a terminal printer, say) only ever loses old samples and never
// stalls the loop.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded, overwrite-oldest buffer that reads like a channel.
//
//	rc := ringchan.New[Event](64)
//	go func() {
//	    for ev := range rc.C() {
//	        render(ev)
//	    }
//	}()
//	rc.Send(ev) // never blocks
type RingChannel[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
	stats  Stats
}

// New creates a RingChannel holding up to capacity elements.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element when full. It reports
// whether an element was discarded. Sending on a closed RingChannel is a
// no-op.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		atomic.AddInt64(&rc.stats.Rejected, 1)
		return false
	}

	for {
		select {
		case rc.ch <- v:
			atomic.AddInt64(&rc.stats.Written, 1)
			return dropped
		default:
		}
		// full: make room, a concurrent reader may already have done so
		select {
		case <-rc.ch:
			atomic.AddInt64(&rc.stats.Overwritten, 1)
			dropped = true
		default:
		}
	}
}

// TryReceive returns the oldest element without blocking
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		return v, ok
	default:
		return v, false
	}
}

// Len returns the number of buffered elements
func (rc *RingChannel[T]) Len() int { return len(rc.ch) }

// Cap returns the capacity
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Close closes the receive side once; buffered elements remain readable.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return
	}
	rc.closed = true
	close(rc.ch)
}

// Stats returns a snapshot of the counters
func (rc *RingChannel[T]) Stats() Stats {
	return Stats{
		Written:     atomic.LoadInt64(&rc.stats.Written),
		Overwritten: atomic.LoadInt64(&rc.stats.Overwritten),
		Rejected:    atomic.LoadInt64(&rc.stats.Rejected),
	}
}

// Stats counts what happened to sent elements
type Stats struct {
	Written     int64
	Overwritten int64
	Rejected    int64 // sent after Close
}
