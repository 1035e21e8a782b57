package detect

import (
	"sync/atomic"

	"github.com/ringlab/go-passage/internal/sensor"
)

// Queue is the bounded single-producer/single-consumer hand-off between the
// sampling context and the detection context. The producer never blocks: a
// full queue drops the newest reading and counts it. That is backpressure
// policy, not an error.
type Queue struct {
	ch         chan sensor.Reading
	pushed     atomic.Uint64
	dropped    atomic.Uint64
	generation atomic.Uint64
}

// NewQueue creates a queue with the given capacity
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan sensor.Reading, capacity),
	}
}

// TryPush enqueues a reading without blocking. Returns false when the
// reading was dropped because the queue is full.
func (q *Queue) TryPush(r sensor.Reading) bool {
	select {
	case q.ch <- r:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Drain appends everything currently queued to buf, in FIFO order, without
// blocking, and returns the extended buffer.
func (q *Queue) Drain(buf []sensor.Reading) []sensor.Reading {
	for {
		select {
		case r := <-q.ch:
			buf = append(buf, r)
		default:
			return buf
		}
	}
}

// Len returns the number of queued readings
func (q *Queue) Len() int {
	return len(q.ch)
}

// Pushed returns the total number of accepted readings
func (q *Queue) Pushed() uint64 {
	return q.pushed.Load()
}

// Dropped returns the total number of dropped readings
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Generation returns the queue's reset generation. A consumer that observes
// a generation change knows the queue was reset externally and must discard
// its derived transient state.
func (q *Queue) Generation() uint64 {
	return q.generation.Load()
}

// Reset discards all queued readings and bumps the generation counter
func (q *Queue) Reset() {
	for {
		select {
		case <-q.ch:
		default:
			q.generation.Add(1)
			return
		}
	}
}
