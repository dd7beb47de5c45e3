package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itohio/thermolog/pkg/sample"
	"github.com/itohio/thermolog/pkg/telemetry"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Options configures a Controller.
type Options struct {
	Factory      telemetry.PortFactory
	BaudRate     int
	TimeConstant time.Duration
	Clock        clockwork.Clock
}

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdDisconnect
)

type command struct {
	kind  commandKind
	port  string
	reply chan error
}

// Controller owns the transport lifecycle and the read loop. All state
// transitions happen on the goroutine running Run; other goroutines issue
// commands and read snapshots.
type Controller struct {
	factory telemetry.PortFactory
	baud    int
	clock   clockwork.Clock
	out     Publisher

	cmds chan command
	done chan struct{}

	mu    sync.RWMutex
	snap  Snapshot
	stats *stats

	lmu       sync.RWMutex
	listeners []func(Snapshot)

	// Owned by Run. The framer and filters are reset for every connection.
	sess    *readSession
	seq     uint64
	framer  *telemetry.Framer
	filters *sample.FilterBank
}

// New creates a controller publishing filtered samples to out.
func New(out Publisher, opts Options) *Controller {
	if opts.Factory == nil {
		opts.Factory = telemetry.SerialFactory
	}
	if opts.BaudRate == 0 {
		opts.BaudRate = telemetry.DefaultBaudRate
	}
	if opts.TimeConstant <= 0 {
		opts.TimeConstant = sample.DefaultTimeConstant
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	return &Controller{
		factory: opts.Factory,
		baud:    opts.BaudRate,
		clock:   opts.Clock,
		out:     out,
		framer:  telemetry.NewFramer(),
		filters: sample.NewFilterBank(opts.TimeConstant),
		cmds:    make(chan command),
		done:    make(chan struct{}),
		snap: Snapshot{
			State: Disconnected,
			Since: opts.Clock.Now(),
		},
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	s := c.snap
	st := c.stats
	c.mu.RUnlock()

	if st != nil {
		s.LinesRead = st.lines.Load()
		s.Malformed = st.malformed.Load()
		s.Samples = st.samples.Load()
	}
	return s
}

// OnChange registers a callback invoked after every state transition. Callbacks
// run on the controller goroutine and must not block or issue commands.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Connect opens port and starts the read loop.
func (c *Controller) Connect(ctx context.Context, port string) error {
	return c.do(ctx, command{kind: cmdConnect, port: port})
}

// Disconnect closes the transport. Disconnecting while disconnected is a no-op.
func (c *Controller) Disconnect(ctx context.Context) error {
	return c.do(ctx, command{kind: cmdDisconnect})
}

func (c *Controller) do(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)

	select {
	case c.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes commands until ctx is cancelled, then closes any open transport.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	for {
		var ended <-chan struct{}
		if c.sess != nil {
			ended = c.sess.done
		}

		select {
		case <-ctx.Done():
			c.disconnect()
			return nil
		case cmd := <-c.cmds:
			cmd.reply <- c.handle(cmd)
		case <-ended:
			c.readFailed()
		}
	}
}

func (c *Controller) handle(cmd command) error {
	switch cmd.kind {
	case cmdConnect:
		return c.connect(cmd.port)
	case cmdDisconnect:
		c.disconnect()
		return nil
	default:
		return fmt.Errorf("unknown command %d", cmd.kind)
	}
}

func (c *Controller) connect(name string) error {
	if c.sess != nil {
		return ErrAlreadyConnected
	}

	c.transition(func(s *Snapshot) {
		s.State = Connecting
		s.Port = name
		s.LastError = nil
	})

	var (
		port telemetry.Port
		err  error
	)
	if name == "" {
		err = fmt.Errorf("no port selected")
	} else {
		port, err = c.factory(name, c.baud)
	}
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrTransportOpenFailed, name, err)
		log.Warn().Err(err).Msg("connect failed")
		c.transition(func(s *Snapshot) {
			s.State = Failed
			s.LastError = err
		})
		c.transition(func(s *Snapshot) {
			s.State = Disconnected
		})
		return err
	}

	// A torn line or filter state from the previous connection never carries over.
	c.framer.Reset()
	c.filters.Reset()

	c.seq++
	c.sess = newReadSession(port, c.framer, c.filters, c.out, c.clock)

	c.mu.Lock()
	c.stats = c.sess.stats
	c.mu.Unlock()

	c.transition(func(s *Snapshot) {
		s.State = Connected
		s.Session = c.seq
	})
	log.Info().Str("port", name).Uint64("session", c.seq).Int("baud", c.baud).Msg("connected")

	go c.sess.run()

	return nil
}

func (c *Controller) disconnect() {
	if c.sess == nil {
		return
	}

	sess := c.sess
	c.sess = nil
	sess.closeAndWait()

	c.transition(func(s *Snapshot) {
		s.State = Disconnected
	})
	log.Info().Uint64("lines", sess.stats.lines.Load()).
		Uint64("malformed", sess.stats.malformed.Load()).
		Msg("disconnected")
}

// readFailed handles a read loop that ended without a disconnect request.
func (c *Controller) readFailed() {
	sess := c.sess
	c.sess = nil
	sess.closeAndWait()

	err := fmt.Errorf("%w: %w", ErrTransportReadFailed, sess.err)
	log.Warn().Err(err).Msg("read loop ended")

	c.transition(func(s *Snapshot) {
		s.State = Disconnected
		s.LastError = err
	})
}

// transition applies fn to the snapshot and notifies listeners.
func (c *Controller) transition(fn func(s *Snapshot)) {
	c.mu.Lock()
	fn(&c.snap)
	c.snap.Since = c.clock.Now()
	c.mu.Unlock()

	snap := c.Snapshot()

	c.lmu.RLock()
	listeners := make([]func(Snapshot), len(c.listeners))
	copy(listeners, c.listeners)
	c.lmu.RUnlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
