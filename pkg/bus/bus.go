package bus

import (
	"sync"

	"github.com/itohio/thermolog/pkg/sample"
	"github.com/rs/zerolog/log"
)

// Bus fans filtered samples out to the display queue, the recording queue
// while a recording is active, and any extra taps. Publish never blocks.
type Bus struct {
	display *Queue

	mu        sync.RWMutex
	recording *Queue
	taps      []*Queue
}

// New creates a bus whose display queue holds displayCap samples.
func New(displayCap int) *Bus {
	return &Bus{
		display: NewQueue("display", displayCap, DropOldest),
	}
}

// Display returns the display sink queue.
func (b *Bus) Display() *Queue {
	return b.display
}

// Publish delivers s to every attached sink. Each sink receives its own copy.
func (b *Bus) Publish(s sample.Sample) {
	_ = b.display.Push(s)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.recording != nil {
		if err := b.recording.Push(s); err != nil {
			log.Debug().Err(err).Str("sink", b.recording.Name()).Msg("recording queue rejected sample")
		}
	}
	for _, tap := range b.taps {
		_ = tap.Push(s)
	}
}

// AttachRecording creates and attaches a FailWhenFull recording queue. Any
// previously attached recording queue is detached and closed.
func (b *Bus) AttachRecording(capacity int) *Queue {
	q := NewQueue("recording", capacity, FailWhenFull)

	b.mu.Lock()
	prev := b.recording
	b.recording = q
	b.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return q
}

// DetachRecording detaches q if it is the attached recording queue and closes
// it. After DetachRecording returns, no further samples reach q.
func (b *Bus) DetachRecording(q *Queue) {
	b.mu.Lock()
	if b.recording == q {
		b.recording = nil
	}
	b.mu.Unlock()

	q.Close()
}

// Recording returns the attached recording queue, or nil.
func (b *Bus) Recording() *Queue {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.recording
}

// Tap attaches an extra drop-oldest sink.
func (b *Bus) Tap(name string, capacity int) *Queue {
	q := NewQueue(name, capacity, DropOldest)

	b.mu.Lock()
	b.taps = append(b.taps, q)
	b.mu.Unlock()

	return q
}

// Untap detaches and closes a tap.
func (b *Bus) Untap(q *Queue) {
	b.mu.Lock()
	for i, tap := range b.taps {
		if tap == q {
			b.taps = append(b.taps[:i], b.taps[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	q.Close()
}
