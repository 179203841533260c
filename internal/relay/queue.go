package relay

import (
	"errors"
	"sync"
	"sync/atomic"
)

var errQueueFull = errors.New("segment queue is full")

// segmentQueue is a bounded single-producer/single-consumer FIFO of segment
// payloads. It counts segments that were enqueued but not yet marked done so
// the producer can wait for the consumer to catch up.
type segmentQueue struct {
	ch        chan []byte
	pending   atomic.Int64
	taskDone  chan struct{}
	closeOnce sync.Once
}

func newSegmentQueue(size int) *segmentQueue {
	return &segmentQueue{
		ch:       make(chan []byte, size),
		taskDone: make(chan struct{}, 1),
	}
}

// TryPut enqueues b without blocking. It must not be called after Close.
func (q *segmentQueue) TryPut(b []byte) error {
	q.pending.Add(1)
	select {
	case q.ch <- b:
		return nil
	default:
		q.pending.Add(-1)
		return errQueueFull
	}
}

// Get blocks for the next segment. ok is false once the queue is closed and
// empty.
func (q *segmentQueue) Get() (b []byte, ok bool) {
	b, ok = <-q.ch
	return b, ok
}

// Done marks one dequeued segment as processed.
func (q *segmentQueue) Done() {
	q.pending.Add(-1)
	select {
	case q.taskDone <- struct{}{}:
	default:
	}
}

// Len returns the number of segments waiting to be dequeued.
func (q *segmentQueue) Len() int {
	return len(q.ch)
}

// Close marks end-of-stream. Segments already queued can still be read.
func (q *segmentQueue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// WaitDrained blocks until every enqueued segment is marked done. It returns
// false if abort is closed first.
func (q *segmentQueue) WaitDrained(abort <-chan struct{}) bool {
	for q.pending.Load() > 0 {
		select {
		case <-q.taskDone:
		case <-abort:
			return q.pending.Load() <= 0
		}
	}
	return true
}
