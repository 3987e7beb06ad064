// Package queue provides the at-least-once dispatch channel carrying
// job references from submission to workers.
//
// The queue is intentionally dumb: it guarantees delivery at least
// once and nothing more. Duplicate deliveries are expected (startup
// recovery re-enqueues from the job store) and are made safe by the
// job store's conditional claim, not by the queue.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Message is the queue message schema.
type Message struct {
	JobID       string    `json:"job_id"`
	Fingerprint string    `json:"fingerprint"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	Attempt     int       `json:"attempt"`
}

// ErrClosed indicates the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is the dispatch channel between the orchestrator and workers.
type Queue interface {
	// Enqueue makes the message available for delivery immediately.
	Enqueue(ctx context.Context, msg Message) error

	// EnqueueAfter makes the message available after delay. Used for
	// retry backoff.
	EnqueueAfter(ctx context.Context, msg Message, delay time.Duration) error

	// Receive blocks until a message is available, the context is
	// cancelled, or the queue is closed.
	Receive(ctx context.Context) (Message, error)

	// Close stops delivery. Pending delayed messages are dropped; the
	// job store re-enqueues them on the next startup recovery pass.
	Close() error
}

// Memory is a bounded in-process queue.
//
// Memory is safe for concurrent use by any number of producers and
// consumers.
type Memory struct {
	ch   chan Message
	done chan struct{}

	mu     sync.Mutex
	closed bool
	timers sync.WaitGroup
}

var _ Queue = (*Memory)(nil)

// DefaultCapacity bounds the in-flight message buffer.
const DefaultCapacity = 1024

// NewMemory creates a bounded in-process queue.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{
		ch:   make(chan Message, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue makes the message available for delivery immediately.
// Blocks when the buffer is full (backpressure).
func (q *Memory) Enqueue(ctx context.Context, msg Message) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	case q.ch <- msg:
		return nil
	}
}

// EnqueueAfter schedules the message for delivery after delay.
//
// The delay timer is detached from ctx: retry backoff must survive the
// enqueueing worker's own lifecycle. Close drops undelivered timers.
func (q *Memory) EnqueueAfter(ctx context.Context, msg Message, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, msg)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.timers.Add(1)
	q.mu.Unlock()

	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}

	timer := time.NewTimer(delay)
	go func() {
		defer q.timers.Done()
		defer timer.Stop()
		select {
		case <-q.done:
		case <-timer.C:
			select {
			case <-q.done:
			case q.ch <- msg:
			}
		}
	}()
	return nil
}

// Receive blocks until a message is available.
func (q *Memory) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-q.done:
		return Message{}, ErrClosed
	case msg, ok := <-q.ch:
		if !ok {
			return Message{}, ErrClosed
		}
		return msg, nil
	}
}

// Close stops delivery and releases pending delay timers.
func (q *Memory) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.timers.Wait()
	return nil
}

// Len reports the number of buffered (immediately deliverable)
// messages. Delayed messages are not counted until their timer fires.
func (q *Memory) Len() int {
	return len(q.ch)
}
