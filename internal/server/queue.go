// Package server provides the bounded job queue that decouples connection
// readers from command execution in the worker pool.
package server

import "sync"

// JobQueue is a bounded, thread-safe FIFO of pending jobs. Enqueue blocks
// while the queue is at capacity, which is the system's only backpressure
// mechanism: a stalled reader stops draining its socket, bounding memory use
// under load. Dequeue blocks while the queue is empty. Each job is delivered
// to exactly one worker in enqueue order.
type JobQueue struct {
	jobs      chan Job
	closeOnce sync.Once
}

// NewJobQueue creates a queue with the given capacity. Capacities below one
// are coerced to one so Enqueue can always make progress against a consumer.
func NewJobQueue(capacity int) *JobQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &JobQueue{
		jobs: make(chan Job, capacity),
	}
}

// Enqueue adds a job, blocking the caller while the queue is full.
func (q *JobQueue) Enqueue(job Job) {
	q.jobs <- job
}

// Dequeue removes and returns the oldest job, blocking while the queue is
// empty. It returns ok=false once the queue has been closed and drained,
// which is each worker's signal to exit.
func (q *JobQueue) Dequeue() (Job, bool) {
	job, ok := <-q.jobs
	return job, ok
}

// Close marks the queue closed. Workers drain any jobs already enqueued and
// then observe the closure; jobs never enqueued are discarded with the
// process, per the shutdown contract. Close is safe to call more than once.
func (q *JobQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.jobs)
	})
}

// Cap returns the queue's fixed capacity.
func (q *JobQueue) Cap() int {
	return cap(q.jobs)
}
