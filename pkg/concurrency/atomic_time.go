// Copyright (c) Portbridge contributors. All rights reserved.

package concurrency

import (
	"sync/atomic"
	"time"
)

// AtomicTime stores a time.Time that can be read and updated atomically.
// The zero value holds the Unix epoch.
type AtomicTime struct {
	unixNano atomic.Int64
}

func AtomicTimeNow() *AtomicTime {
	var at AtomicTime
	at.Store(time.Now())
	return &at
}

func (at *AtomicTime) Load() time.Time {
	return time.Unix(0, at.unixNano.Load())
}

func (at *AtomicTime) Store(t time.Time) {
	if t.IsZero() {
		panic("cannot store zero time")
	}
	at.unixNano.Store(t.UnixNano())
}

// TryAdvancingTo moves the stored time forward to t.
// If the stored time is already at or past t, it is left unchanged.
func (at *AtomicTime) TryAdvancingTo(t time.Time) {
	newNano := t.UnixNano()
	for {
		oldNano := at.unixNano.Load()
		if oldNano >= newNano {
			return
		}
		if at.unixNano.CompareAndSwap(oldNano, newNano) {
			return
		}
	}
}
