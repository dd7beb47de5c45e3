package recording

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/itohio/thermolog/pkg/bus"
	"github.com/itohio/thermolog/pkg/connection"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	DefaultFlushInterval = time.Second
	DefaultQueueSize     = 4096
)

// ConnectionSource is the connection controller as seen by the recorder.
type ConnectionSource interface {
	Snapshot() connection.Snapshot
	OnChange(fn func(connection.Snapshot))
}

// Sink hands out recording queues.
type Sink interface {
	AttachRecording(capacity int) *bus.Queue
	DetachRecording(q *bus.Queue)
}

// Options configures a Controller.
type Options struct {
	Fs            afero.Fs
	Clock         clockwork.Clock
	FlushInterval time.Duration
	QueueSize     int
	// Path preselects a file; the controller starts in FileChosen.
	Path string
}

type commandKind int

const (
	cmdChooseFile commandKind = iota
	cmdStart
	cmdStop
)

type command struct {
	kind  commandKind
	path  string
	reply chan error
}

// Controller owns the recording lifecycle and the single writer of the
// output file. State changes happen on the goroutine running Run.
type Controller struct {
	conn       ConnectionSource
	sink       Sink
	fs         afero.Fs
	clock      clockwork.Clock
	flushEvery time.Duration
	queueSize  int

	cmds   chan command
	events chan connection.Snapshot
	done   chan struct{}

	mu   sync.RWMutex
	snap Snapshot
	live *session

	lmu       sync.RWMutex
	listeners []func(Snapshot)

	// Owned by Run.
	sess        *session
	queue       *bus.Queue
	connSession uint64
}

// New creates a recording controller fed by sink and gated on conn.
func New(conn ConnectionSource, sink Sink, opts Options) *Controller {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	c := &Controller{
		conn:       conn,
		sink:       sink,
		fs:         opts.Fs,
		clock:      opts.Clock,
		flushEvery: opts.FlushInterval,
		queueSize:  opts.QueueSize,
		cmds:       make(chan command),
		events:     make(chan connection.Snapshot, 16),
		done:       make(chan struct{}),
	}
	if opts.Path != "" {
		c.snap = Snapshot{State: FileChosen, Path: opts.Path}
	}

	conn.OnChange(c.connectionChanged)
	return c
}

// connectionChanged runs on the connection goroutine.
func (c *Controller) connectionChanged(s connection.Snapshot) {
	if s.State != connection.Disconnected {
		return
	}
	select {
	case c.events <- s:
	case <-c.done:
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	s := c.snap
	live := c.live
	c.mu.RUnlock()

	if live != nil {
		s.SamplesWritten = live.written.Load()
	}
	return s
}

// OnChange registers a callback invoked after every state transition.
// Callbacks run on the controller goroutine and must not issue commands.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// ChooseFile selects the output path. Not allowed while recording.
func (c *Controller) ChooseFile(ctx context.Context, path string) error {
	return c.do(ctx, command{kind: cmdChooseFile, path: path})
}

// Start opens the chosen file and begins recording. Requires a Connected
// connection.
func (c *Controller) Start(ctx context.Context) error {
	return c.do(ctx, command{kind: cmdStart})
}

// Stop ends the recording, flushing and closing the file. Stopping while not
// recording is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	return c.do(ctx, command{kind: cmdStop})
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

// Run processes commands until ctx is cancelled. An active recording is
// stopped and its file closed before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	for {
		var ended <-chan struct{}
		if c.sess != nil {
			ended = c.sess.done
		}

		select {
		case <-ctx.Done():
			c.end(nil)
			return nil
		case cmd := <-c.cmds:
			cmd.reply <- c.handle(cmd)
		case ev := <-c.events:
			if c.sess != nil && ev.Session == c.connSession {
				log.Warn().Uint64("session", ev.Session).Msg("connection lost, stopping recording")
				c.end(ErrInterruptedByDisconnect)
			}
		case <-ended:
			c.end(nil)
		}
	}
}

func (c *Controller) handle(cmd command) error {
	switch cmd.kind {
	case cmdChooseFile:
		return c.chooseFile(cmd.path)
	case cmdStart:
		return c.start()
	case cmdStop:
		c.end(nil)
		return nil
	default:
		return fmt.Errorf("unknown command %d", cmd.kind)
	}
}

func (c *Controller) chooseFile(path string) error {
	if c.sess != nil {
		return ErrRecordingActive
	}
	if path == "" {
		return ErrNoFileChosen
	}

	c.transition(func(s *Snapshot) {
		s.State = FileChosen
		s.Path = path
	})
	log.Info().Str("path", path).Msg("recording file chosen")
	return nil
}

func (c *Controller) start() error {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	switch {
	case c.sess != nil:
		return ErrAlreadyRecording
	case snap.State == Idle:
		return ErrNoFileChosen
	}

	conn := c.conn.Snapshot()
	if conn.State != connection.Connected {
		return fmt.Errorf("%w: connection is %s", ErrNotConnected, conn.State)
	}

	file, err := c.fs.OpenFile(snap.Path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return c.startFailed(fmt.Errorf("%w: %v", ErrFileWriteFailed, err))
	}

	start := c.clock.Now()
	writer, err := newRowWriter(file, start)
	if err != nil {
		_ = file.Close()
		return c.startFailed(fmt.Errorf("%w: %s: %v", ErrFileWriteFailed, snap.Path, err))
	}

	c.queue = c.sink.AttachRecording(c.queueSize)
	c.sess = newSession(c.queue, writer, c.clock, c.flushEvery)
	c.connSession = conn.Session

	c.mu.Lock()
	c.live = c.sess
	c.mu.Unlock()

	c.transition(func(s *Snapshot) {
		s.State = Recording
		s.SessionStart = start
		s.SamplesWritten = 0
		s.LastError = nil
	})
	log.Info().Str("path", snap.Path).Uint64("connection", conn.Session).Msg("recording started")

	go c.sess.run()
	return nil
}

func (c *Controller) startFailed(err error) error {
	log.Error().Err(err).Msg("cannot start recording")
	c.transition(func(s *Snapshot) {
		s.LastError = err
	})
	return err
}

// end stops the active session. reason is reported when the session itself
// did not fail.
func (c *Controller) end(reason error) {
	if c.sess == nil {
		return
	}

	sess := c.sess
	c.sink.DetachRecording(c.queue)
	sess.stopAndWait()
	c.sess = nil
	c.queue = nil

	err := reason
	if sess.err != nil {
		err = sess.err
	}

	written := sess.written.Load()
	c.mu.Lock()
	c.live = nil
	c.mu.Unlock()

	c.transition(func(s *Snapshot) {
		s.State = FileChosen
		s.SamplesWritten = written
		s.LastError = err
	})

	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("path", c.snap.Path).Uint64("samples", written).Msg("recording stopped")
}

// transition applies fn to the snapshot and notifies listeners.
func (c *Controller) transition(fn func(s *Snapshot)) {
	c.mu.Lock()
	fn(&c.snap)
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
