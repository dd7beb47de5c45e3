package connection

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/itohio/thermolog/pkg/sample"
	"github.com/itohio/thermolog/pkg/telemetry"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const readBufferSize = 256

// Publisher receives filtered samples from the read loop.
type Publisher interface {
	Publish(s sample.Sample)
}

type stats struct {
	lines     atomic.Uint64
	malformed atomic.Uint64
	samples   atomic.Uint64
}

// readSession runs Framer -> Parser -> Filter -> Publisher for one open
// transport. The framer and filter bank belong to the controller and are only
// touched by run while the session is live.
type readSession struct {
	port    telemetry.Port
	framer  *telemetry.Framer
	filters *sample.FilterBank
	out     Publisher
	clock   clockwork.Clock
	stats   *stats

	done chan struct{}
	err  error // valid after done is closed
}

func newReadSession(port telemetry.Port, framer *telemetry.Framer, filters *sample.FilterBank, out Publisher, clock clockwork.Clock) *readSession {
	return &readSession{
		port:    port,
		framer:  framer,
		filters: filters,
		out:     out,
		clock:   clock,
		stats:   &stats{},
		done:    make(chan struct{}),
	}
}

func (s *readSession) run() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.err = fmt.Errorf("panic in read loop: %v", r)
			log.Error().Err(s.err).Msg("read loop crashed")
		}
	}()

	buf := make([]byte, readBufferSize)
	var lines []string
	for {
		n, err := s.port.Read(buf)
		if n > 0 {
			overflows := s.framer.Overflows()
			lines = s.framer.Feed(lines[:0], buf[:n])
			if d := s.framer.Overflows() - overflows; d > 0 {
				s.stats.malformed.Add(d)
				log.Debug().Uint64("count", d).Msg("discarded oversized line")
			}

			now := s.clock.Now()
			for _, line := range lines {
				s.handleLine(line, now)
			}
		}
		if err != nil {
			s.err = err
			return
		}
	}
}

func (s *readSession) handleLine(line string, arrival time.Time) {
	if line == "" {
		return
	}
	s.stats.lines.Add(1)

	raw, err := telemetry.ParseLine(line, arrival)
	if err != nil {
		s.stats.malformed.Add(1)
		log.Debug().Err(err).Str("line", line).Msg("dropping line")
		return
	}

	s.out.Publish(s.filters.Apply(raw))
	s.stats.samples.Add(1)
}

// closeAndWait closes the transport, which unblocks a pending Read, and waits
// for the loop to exit.
func (s *readSession) closeAndWait() {
	if err := s.port.Close(); err != nil && !errors.Is(err, telemetry.ErrPortClosed) {
		log.Warn().Err(err).Msg("error closing transport")
	}
	<-s.done
}
