package lua

import "sync/atomic"

// RingChannel is a bounded channel with overwrite-oldest semantics. Producers never block:
// when the buffer is full the oldest element is discarded.
//
//	rc := NewRingChannel[int](3)
//	for i := 0; i < 10; i++ {
//	    rc.ForceSend(i)
//	}
//	// rc.C() now yields 7, 8, 9
type RingChannel[T any] struct {
	ch          chan T
	written     atomic.Int64
	overwritten atomic.Int64
}

func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// ForceSend inserts v, discarding the oldest element when full. It reports whether an
// element was dropped.
func (rc *RingChannel[T]) ForceSend(v T) bool {
	dropped := false
	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped
		default:
		}
		select {
		case <-rc.ch:
			rc.overwritten.Add(1)
			dropped = true
		default:
		}
	}
}

// TrySend inserts v only if there is room.
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		rc.written.Add(1)
		return true
	default:
		return false
	}
}

func (rc *RingChannel[T]) Len() int { return len(rc.ch) }
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Written and Overwritten count accepted and discarded elements.
func (rc *RingChannel[T]) Written() int64     { return rc.written.Load() }
func (rc *RingChannel[T]) Overwritten() int64 { return rc.overwritten.Load() }

// Close closes the channel. Sending afterwards panics.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}
