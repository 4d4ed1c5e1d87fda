package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobQueue_RunsFIFO(t *testing.T) {
	q := newJobQueue()
	defer q.Close()

	var mu sync.Mutex
	var got []int
	for i := 1; i <= 3; i++ {
		i := i
		require.True(t, q.Enqueue(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}

	require.NoError(t, q.perform(context.Background(), func() error { return nil }))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestJobQueue_TryDequeue_Empty(t *testing.T) {
	q := &jobQueue{signal: make(chan struct{}, 1)}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
	assert.Equal(t, 0, q.Len())
}

func TestJobQueue_CloseDrainsQueuedJobs(t *testing.T) {
	q := newJobQueue()

	release := make(chan struct{})
	ran := make(chan int, 2)
	q.Enqueue(func() { <-release; ran <- 1 })
	q.Enqueue(func() { ran <- 2 })

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned before queued jobs ran")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-closed
	assert.Equal(t, 1, <-ran)
	assert.Equal(t, 2, <-ran)
}

func TestJobQueue_EnqueueAfterClose(t *testing.T) {
	q := newJobQueue()
	q.Close()

	assert.False(t, q.Enqueue(func() {}), "enqueue after close should return false")
	assert.ErrorIs(t, q.perform(context.Background(), func() error { return nil }), ErrContextClosed)
	q.Close() // second close is a no-op
}

func TestJobQueue_PerformHonorsCancellation(t *testing.T) {
	q := newJobQueue()
	defer q.Close()

	block := make(chan struct{})
	q.Enqueue(func() { <-block })

	ctx, cancel := context.WithCancel(context.Background())
	called := false
	errc := make(chan error, 1)
	go func() {
		errc <- q.perform(ctx, func() error { called = true; return nil })
	}()

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(block)
	// The cancelled job is skipped once it reaches the front.
	require.NoError(t, q.perform(context.Background(), func() error { return nil }))
	assert.False(t, called)
}
