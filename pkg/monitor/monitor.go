// Package monitor wires the acquisition pipeline together and exposes the
// command surface used by the UI.
package monitor

import (
	"context"

	"github.com/itohio/thermolog/pkg/bus"
	"github.com/itohio/thermolog/pkg/config"
	"github.com/itohio/thermolog/pkg/connection"
	"github.com/itohio/thermolog/pkg/display"
	"github.com/itohio/thermolog/pkg/publish"
	"github.com/itohio/thermolog/pkg/recording"
	"github.com/itohio/thermolog/pkg/telemetry"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Options configures a Monitor. Zero values select real devices, the OS
// filesystem and the wall clock.
type Options struct {
	Config  *config.Config
	Factory telemetry.PortFactory
	Clock   clockwork.Clock
	Fs      afero.Fs
	// MQTT enables the live mirror when non-nil. Run closes it on exit.
	MQTT publish.Client
}

// Monitor owns the bus, both controllers, the display consumer and the
// optional MQTT mirror.
type Monitor struct {
	cfg       *config.Config
	bus       *bus.Bus
	conn      *connection.Controller
	rec       *recording.Controller
	display   *display.Display
	publisher *publish.Publisher
	mqtt      publish.Client
}

// New builds the pipeline. Nothing runs until Run is called.
func New(opts Options) *Monitor {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	b := bus.New(cfg.Bus.DisplayQueue)

	conn := connection.New(b, connection.Options{
		Factory:      opts.Factory,
		BaudRate:     cfg.Serial.BaudRate,
		TimeConstant: cfg.Filter.TimeConstant,
		Clock:        opts.Clock,
	})

	rec := recording.New(conn, b, recording.Options{
		Fs:            opts.Fs,
		Clock:         opts.Clock,
		FlushInterval: cfg.Recording.FlushInterval,
		QueueSize:     cfg.Bus.RecordingQueue,
		Path:          cfg.Recording.Path,
	})

	disp := display.New(b.Display(), display.Options{
		Clock:           opts.Clock,
		RefreshInterval: cfg.Display.RefreshInterval,
		Window:          cfg.Display.Window,
		MaxPoints:       cfg.Display.MaxPoints,
	})

	m := &Monitor{
		cfg:     cfg,
		bus:     b,
		conn:    conn,
		rec:     rec,
		display: disp,
		mqtt:    opts.MQTT,
	}
	if opts.MQTT != nil {
		m.publisher = publish.New(opts.MQTT, b.Tap("mqtt", cfg.Bus.PublishQueue), cfg.MQTT.Topic)
	}
	return m
}

// Run runs every component until ctx is cancelled. The transport and any
// open recording file are closed before Run returns.
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return m.conn.Run(ctx) })
	g.Go(func() error { return m.rec.Run(ctx) })
	g.Go(func() error { return m.display.Run(ctx) })
	if m.publisher != nil {
		g.Go(func() error { return m.publisher.Run(ctx) })
	}

	log.Info().Msg("monitor started")
	err := g.Wait()

	if m.mqtt != nil {
		if cerr := m.mqtt.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("closing mqtt client")
		}
	}
	log.Info().Msg("monitor stopped")
	return err
}

// Connect opens port and starts acquiring samples.
func (m *Monitor) Connect(ctx context.Context, port string) error {
	return m.conn.Connect(ctx, port)
}

// Disconnect closes the transport. An active recording stops with
// recording.ErrInterruptedByDisconnect.
func (m *Monitor) Disconnect(ctx context.Context) error {
	return m.conn.Disconnect(ctx)
}

// ChooseFile selects the recording file.
func (m *Monitor) ChooseFile(ctx context.Context, path string) error {
	return m.rec.ChooseFile(ctx, path)
}

// StartRecording starts writing samples to the chosen file.
func (m *Monitor) StartRecording(ctx context.Context) error {
	return m.rec.Start(ctx)
}

// StopRecording flushes and closes the recording file.
func (m *Monitor) StopRecording(ctx context.Context) error {
	return m.rec.Stop(ctx)
}

// Connection returns the connection state.
func (m *Monitor) Connection() connection.Snapshot {
	return m.conn.Snapshot()
}

// Recording returns the recording state.
func (m *Monitor) Recording() recording.Snapshot {
	return m.rec.Snapshot()
}

// OnConnectionChange registers a connection state listener.
func (m *Monitor) OnConnectionChange(fn func(connection.Snapshot)) {
	m.conn.OnChange(fn)
}

// OnRecordingChange registers a recording state listener.
func (m *Monitor) OnRecordingChange(fn func(recording.Snapshot)) {
	m.rec.OnChange(fn)
}

// Display returns the display consumer.
func (m *Monitor) Display() *display.Display {
	return m.display
}

// Publisher returns the MQTT mirror, or nil when disabled.
func (m *Monitor) Publisher() *publish.Publisher {
	return m.publisher
}

// Config returns the configuration the monitor was built with.
func (m *Monitor) Config() *config.Config {
	return m.cfg
}
