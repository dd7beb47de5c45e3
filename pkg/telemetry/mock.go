package telemetry

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"github.com/itohio/thermolog/pkg/config"
	"github.com/jonboulle/clockwork"
)

// ErrPortClosed is returned by Read on a closed mock port.
var ErrPortClosed = errors.New("port closed")

const (
	plantTimeConstant = 30 * time.Second // thermal lag of the simulated heater block
	heatPerVolt       = 10.0             // steady-state °C above ambient per output volt
	errorVoltsPerDeg  = 0.1              // error amplifier scale
	maxOutputVolts    = 5.0
)

// Mock simulates the temperature controller: a heated block under
// proportional control that prints one wire line per sample period.
type Mock struct {
	cfg   config.MockConfig
	clock clockwork.Clock

	pr     *io.PipeReader
	pw     *io.PipeWriter
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	startTime   time.Time
	temperature float64
}

// Ensure Mock implements Port.
var _ Port = (*Mock)(nil)

// NewMock creates a simulated device and starts emitting lines.
func NewMock(cfg *config.MockConfig, clock clockwork.Clock) *Mock {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()

	m := &Mock{
		cfg:         *cfg,
		clock:       clock,
		pr:          pr,
		pw:          pw,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		startTime:   clock.Now(),
		temperature: cfg.Ambient,
	}

	go m.generate()

	return m
}

// MockFactory returns a PortFactory that opens a fresh simulated device for
// every connection. The port name and baud rate are ignored.
func MockFactory(cfg *config.MockConfig, clock clockwork.Clock) PortFactory {
	return func(string, int) (Port, error) {
		return NewMock(cfg, clock), nil
	}
}

// Read reads generated wire bytes.
func (m *Mock) Read(p []byte) (int, error) {
	return m.pr.Read(p)
}

// Close stops the generator and unblocks pending reads.
func (m *Mock) Close() error {
	m.cancel()
	_ = m.pr.CloseWithError(ErrPortClosed)
	<-m.done
	return nil
}

// Temperature returns the current simulated temperature.
func (m *Mock) Temperature() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.temperature
}

func (m *Mock) generate() {
	defer close(m.done)
	defer m.pw.Close()

	ticker := m.clock.NewTicker(m.cfg.SampleRate)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.Chan():
			line := FormatLine(m.step(now))
			if _, err := io.WriteString(m.pw, line); err != nil {
				return
			}
		}
	}
}

// step advances the plant by one sample period.
func (m *Mock) step(now time.Time) RawSample {
	m.mu.Lock()
	defer m.mu.Unlock()

	errV := (m.cfg.Setpoint - m.temperature) * errorVoltsPerDeg
	out := math.Max(0, math.Min(maxOutputVolts, m.cfg.Gain*errV))

	// First-order thermal response toward the steady state for this output.
	target := m.cfg.Ambient + out*heatPerVolt
	dt := m.cfg.SampleRate.Seconds()
	m.temperature += (target - m.temperature) * (1 - math.Exp(-dt/plantTimeConstant.Seconds()))

	elapsed := now.Sub(m.startTime).Seconds()
	noise := (math.Sin(elapsed*1.7) + math.Cos(elapsed*0.9)) * m.cfg.Noise * 0.5

	return RawSample{
		ArrivalTime:  now,
		TemperatureC: m.temperature + noise,
		SetpointC:    m.cfg.Setpoint,
		ErrorV:       errV,
		OutputV:      out,
	}
}
