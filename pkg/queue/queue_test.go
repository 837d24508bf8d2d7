// Copyright (c) Portbridge contributors. All rights reserved.

package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueOrdering(t *testing.T) {
	t.Parallel()

	q := NewConcurrentQueue[int]()
	for i := 0; i < 50; i++ {
		q.Enqueue(i)
	}
	require.Equal(t, 50, q.Len())

	for i := 0; i < 50; i++ {
		v, ok := q.Dequeue()
		require.True(t, ok)
		require.Equal(t, i, v)
	}

	_, ok := q.Dequeue()
	require.False(t, ok)
	require.Equal(t, 0, q.Len())
}

func TestQueueNewDataSignal(t *testing.T) {
	t.Parallel()

	q := NewConcurrentQueue[string]()

	select {
	case <-q.NewData():
		t.Fatal("empty queue should not signal new data")
	case <-time.After(50 * time.Millisecond):
	}

	q.Enqueue("hello")
	select {
	case <-q.NewData():
	case <-time.After(time.Second):
		t.Fatal("enqueue did not signal new data")
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	t.Parallel()

	const producers = 8
	const perProducer = 100

	q := NewConcurrentQueue[int]()
	wg := &sync.WaitGroup{}
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(i)
			}
		}()
	}
	wg.Wait()

	count := 0
	for {
		if _, ok := q.Dequeue(); !ok {
			break
		}
		count++
	}
	require.Equal(t, producers*perProducer, count)
}
