package recording

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/itohio/thermolog/pkg/bus"
	"github.com/itohio/thermolog/pkg/sample"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// session is the lone writer of one recording file. It drains its queue when
// signalled and flushes on a ticker.
type session struct {
	queue      *bus.Queue
	writer     *rowWriter
	clock      clockwork.Clock
	flushEvery time.Duration

	written atomic.Uint64

	stop chan struct{}
	done chan struct{}
	err  error // valid after done is closed
}

func newSession(queue *bus.Queue, writer *rowWriter, clock clockwork.Clock, flushEvery time.Duration) *session {
	return &session{
		queue:      queue,
		writer:     writer,
		clock:      clock,
		flushEvery: flushEvery,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (s *session) run() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.err = fmt.Errorf("panic in recording writer: %v", r)
			log.Error().Err(s.err).Msg("recording writer crashed")
		}
		if err := s.writer.Close(); err != nil && s.err == nil {
			s.err = fmt.Errorf("%w: %v", ErrFileWriteFailed, err)
		}
	}()

	ticker := s.clock.NewTicker(s.flushEvery)
	defer ticker.Stop()

	var pending []sample.Sample
	for {
		select {
		case <-s.stop:
			_, s.err = s.drain(pending)
			return
		case <-s.queue.Ready():
			var err error
			if pending, err = s.drain(pending); err != nil {
				s.err = err
				return
			}
		case <-ticker.Chan():
			if err := s.writer.Flush(); err != nil {
				s.err = fmt.Errorf("%w: %v", ErrFileWriteFailed, err)
				return
			}
		}
	}
}

// drain writes everything queued. Samples queued before an overflow are still
// written so the file holds a gap-free prefix.
func (s *session) drain(dst []sample.Sample) ([]sample.Sample, error) {
	dst = s.queue.Drain(dst[:0])
	if err := s.writer.Write(dst); err != nil {
		return dst, fmt.Errorf("%w: %v", ErrFileWriteFailed, err)
	}
	s.written.Add(uint64(len(dst)))

	if s.queue.Overflowed() {
		return dst, fmt.Errorf("%w: %d samples rejected by a queue of %d",
			ErrBackpressureExceeded, s.queue.Dropped(), s.queue.Cap())
	}
	return dst, nil
}

// stopAndWait requests a final drain and waits for the file to be closed.
func (s *session) stopAndWait() {
	select {
	case <-s.done:
	default:
		close(s.stop)
		<-s.done
	}
}
