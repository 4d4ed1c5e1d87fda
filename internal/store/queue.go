package store

import (
	"context"
	"errors"
	"sync"
)

// ErrContextClosed is returned by operations submitted to a closed context.
var ErrContextClosed = errors.New("context queue closed")

// job is a unit of work run on a context's queue.
type job func()

// jobQueue is a thread-safe FIFO of jobs drained by a single goroutine.
//
// The queue is unbounded so submitters never block behind a slow job.
// The signal channel (buffered, size 1) coalesces wakeups; Close closes it
// to release the run loop.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []job
	closed bool
	signal chan struct{}
	done   chan struct{}
}

// newJobQueue creates an empty queue and starts its run loop.
func newJobQueue() *jobQueue {
	q := &jobQueue{
		jobs:   make([]job, 0, 16),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue adds a job to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *jobQueue) Enqueue(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.jobs = append(q.jobs, j)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front job without blocking.
func (q *jobQueue) TryDequeue() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil, false
	}

	j := q.jobs[0]
	q.jobs[0] = nil // release the closure for GC

	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}

	return j, true
}

// Len returns the number of jobs waiting.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close stops accepting jobs. Jobs already queued still run; Close waits
// for them.
func (q *jobQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.signal)
	}
	q.mu.Unlock()

	<-q.done
}

func (q *jobQueue) isDrained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.jobs) == 0
}

// run drains the queue until it is closed and empty.
func (q *jobQueue) run() {
	defer close(q.done)
	for {
		for {
			j, ok := q.TryDequeue()
			if !ok {
				break
			}
			j()
		}
		if q.isDrained() {
			return
		}
		<-q.signal
	}
}

// perform runs fn on the queue and waits for its result.
// If ctx ends before fn starts, fn is skipped and ctx.Err() returned.
func (q *jobQueue) perform(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	ok := q.Enqueue(func() {
		if err := ctx.Err(); err != nil {
			result <- err
			return
		}
		result <- fn()
	})
	if !ok {
		return ErrContextClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// performAsync queues fn without waiting.
func (q *jobQueue) performAsync(fn func()) bool {
	return q.Enqueue(fn)
}
