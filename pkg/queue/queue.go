// Copyright (c) Portbridge contributors. All rights reserved.

// Package queue implements a generic, goroutine-safe FIFO queue using a single
// lock and a dynamically sized circular buffer.
package queue

import (
	"sync"

	"github.com/portbridge/portbridge/pkg/concurrency"
	"github.com/portbridge/portbridge/pkg/container"
)

type ConcurrentQueue[T any] struct {
	lock    *sync.Mutex
	newData *concurrency.AutoResetEvent
	buf     *container.RingBuffer[T]
}

func NewConcurrentQueue[T any]() *ConcurrentQueue[T] {
	return &ConcurrentQueue[T]{
		lock:    &sync.Mutex{},
		buf:     container.NewRingBuffer[T](),
		newData: concurrency.NewAutoResetEvent(false),
	}
}

func (q *ConcurrentQueue[T]) Enqueue(v T) {
	q.lock.Lock()
	defer q.lock.Unlock()
	defer q.newData.Set()
	q.buf.Push(v)
}

func (q *ConcurrentQueue[T]) Dequeue() (T, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.buf.Pop()
}

func (q *ConcurrentQueue[T]) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.buf.Len()
}

// NewData returns a channel that delivers a value whenever data is enqueued.
// ONLY ONE CONSUMING GOROUTINE should use this channel.
func (q *ConcurrentQueue[T]) NewData() <-chan struct{} {
	return q.newData.Wait()
}
