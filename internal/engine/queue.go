package engine

import (
	"context"
	"slices"
	"sync"
)

// job is one queued mutation request. Jobs execute one at a time on the
// Run loop goroutine; a running job is never preempted.
type job struct {
	name     string
	token    string
	priority int
	seq      int64

	run func(ctx context.Context) error

	// done, when non-nil, receives the job's result exactly once. Used by
	// lifecycle operations that surface storage errors to their caller.
	done chan error
}

// jobQueue is a thread-safe priority-then-submission queue.
//
// The queue is unbounded so bursts of candidate updates never block the
// producer. Jobs with a higher priority are inserted ahead of queued jobs
// with a lower one; jobs of equal priority keep FIFO order.
//
// The signal channel enables context-aware waiting in the Run loop.
type jobQueue struct {
	mu       sync.Mutex
	jobs     []*job
	closed   bool
	inflight bool
	seq      int64
	signal   chan struct{} // buffered, size 1; coalesces multiple signals
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]*job, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a job, placing it before every queued job of strictly
// lower priority. Thread-safe. Returns false if the queue is closed.
func (q *jobQueue) Enqueue(j *job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.seq++
	j.seq = q.seq

	at := len(q.jobs)
	for i, queued := range q.jobs {
		if queued.priority < j.priority {
			at = i
			break
		}
	}
	q.jobs = slices.Insert(q.jobs, at, j)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front job without blocking. The
// job counts as in flight until Done is called, so a dequeued-but-not-
// yet-running job can never make the queue look idle.
func (q *jobQueue) TryDequeue() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil, false
	}
	j := q.jobs[0]
	// Nil out the slot so the backing array does not retain the job.
	q.jobs[0] = nil
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	q.inflight = true
	return j, true
}

// Done marks the in-flight job as finished.
func (q *jobQueue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight = false
}

// Busy reports whether jobs are queued or one is in flight.
func (q *jobQueue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs) > 0 || q.inflight
}

// Wait returns a channel that signals when jobs may be available. The
// channel closes when the queue closes, waking all waiters.
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued jobs.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Closed reports whether Close has been called. A wakeup from the
// signal channel with an empty queue is not enough to conclude the
// queue closed: the token left over from a job consumed on the fast
// path looks identical to a real close.
func (q *jobQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting jobs and wakes all waiters.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
