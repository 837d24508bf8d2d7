// Copyright (c) Portbridge contributors. All rights reserved.

// Package concurrency provides small synchronization helpers used throughout portbridge.
package concurrency

import "sync/atomic"

// AutoResetEvent is a level-triggered, auto-resetting notification:
// Set() makes the next (single) Wait() receive succeed, after which the event
// is cleared again. SetAndFreeze() permanently signals the event, making every
// subsequent Wait() receive succeed immediately.
type AutoResetEvent struct {
	channel chan struct{}
	frozen  atomic.Bool
}

func NewAutoResetEvent(initialState bool) *AutoResetEvent {
	retval := &AutoResetEvent{
		channel: make(chan struct{}, 1),
	}
	if initialState {
		retval.Set()
	}
	return retval
}

// Wait returns the channel to receive the event signal from.
func (e *AutoResetEvent) Wait() <-chan struct{} {
	return e.channel
}

// Set signals the event. Non-blocking; signalling an already-set event is a no-op.
// Must not be called concurrently with SetAndFreeze().
func (e *AutoResetEvent) Set() {
	if e.frozen.Load() {
		return
	}
	select {
	case e.channel <- struct{}{}:
	default:
	}
}

// Clear resets the event to non-signalled. Non-blocking.
// Must not be called concurrently with SetAndFreeze().
func (e *AutoResetEvent) Clear() {
	if e.frozen.Load() {
		panic("Clear() called on frozen event")
	}
	select {
	case <-e.channel:
	default:
	}
}

// SetAndFreeze signals the event forever: Wait() always returns a ready channel afterwards.
// Safe to call multiple times.
func (e *AutoResetEvent) SetAndFreeze() {
	if e.frozen.CompareAndSwap(false, true) {
		close(e.channel)
	}
}

// Frozen reports whether SetAndFreeze() has been called.
func (e *AutoResetEvent) Frozen() bool {
	return e.frozen.Load()
}
