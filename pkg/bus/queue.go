package bus

import (
	"errors"
	"sync"

	"github.com/itohio/thermolog/pkg/sample"
)

// ErrQueueFull is returned by Push on a FailWhenFull queue that has no room.
var ErrQueueFull = errors.New("queue full")

// Policy selects what a full queue does with a new sample.
type Policy int

const (
	// DropOldest overwrites the oldest queued sample.
	DropOldest Policy = iota
	// FailWhenFull rejects the sample and marks the queue as overflowed.
	FailWhenFull
)

func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case FailWhenFull:
		return "fail-when-full"
	default:
		return "unknown"
	}
}

// Queue is a bounded single-producer/single-consumer FIFO of samples.
// Push never blocks. The consumer waits on Ready and takes everything with Drain.
type Queue struct {
	name   string
	policy Policy

	mu         sync.Mutex
	buf        []sample.Sample
	head       int // oldest element
	count      int
	dropped    uint64
	overflowed bool
	closed     bool

	ready chan struct{}
}

// NewQueue creates a queue holding up to capacity samples.
func NewQueue(name string, capacity int, policy Policy) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		name:   name,
		policy: policy,
		buf:    make([]sample.Sample, capacity),
		ready:  make(chan struct{}, 1),
	}
}

// Name returns the sink name.
func (q *Queue) Name() string {
	return q.name
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return len(q.buf)
}

// Push enqueues a copy of s.
func (q *Queue) Push(s sample.Sample) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	if q.count == len(q.buf) {
		switch q.policy {
		case FailWhenFull:
			q.dropped++
			q.overflowed = true
			q.signal()
			return ErrQueueFull
		default:
			// Overwrite oldest: it sits at head.
			q.buf[q.head] = s
			q.head = (q.head + 1) % len(q.buf)
			q.dropped++
			q.signal()
			return nil
		}
	}

	q.buf[(q.head+q.count)%len(q.buf)] = s
	q.count++
	q.signal()
	return nil
}

// signal must be called with mu held.
func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled after a Push. One signal may cover several samples.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Drain appends all queued samples, oldest first, to dst and empties the queue.
func (q *Queue) Drain(dst []sample.Sample) []sample.Sample {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := 0; i < q.count; i++ {
		dst = append(dst, q.buf[(q.head+i)%len(q.buf)])
	}
	q.head = 0
	q.count = 0
	return dst
}

// Len returns the number of queued samples.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Dropped returns how many samples were discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Overflowed reports whether a FailWhenFull queue rejected a sample.
func (q *Queue) Overflowed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflowed
}

// Close makes further pushes no-ops. Queued samples can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.signal()
}
