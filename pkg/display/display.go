package display

import (
	"context"
	"sync"
	"time"

	"github.com/itohio/thermolog/pkg/bus"
	"github.com/itohio/thermolog/pkg/sample"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultRefreshInterval = 200 * time.Millisecond
	DefaultWindow          = 10 * time.Minute
	DefaultMaxPoints       = 1000
)

// Frame is what a refresh hands to OnUpdate callbacks.
type Frame struct {
	Latest  sample.Sample
	Origin  time.Time       // Chart time zero, moved by Clear
	History []sample.Sample // Window contents, oldest first, at most MaxPoints
	Dropped uint64          // Samples the display queue discarded so far
}

// Options configures a Display.
type Options struct {
	Clock           clockwork.Clock
	RefreshInterval time.Duration
	Window          time.Duration
	MaxPoints       int
}

// Display drains the display queue at the refresh rate and keeps the latest
// sample plus a time window of history.
// Buffers are ordered oldest first and trimmed by timestamp, not count.
type Display struct {
	queue     *bus.Queue
	clock     clockwork.Clock
	refresh   time.Duration
	window    time.Duration
	maxPoints int

	mu      sync.RWMutex
	samples []sample.Sample
	latest  sample.Sample
	has     bool
	origin  time.Time

	callbacks []func(Frame)
	cbMu      sync.RWMutex

	drained []sample.Sample // owned by Run
}

// New creates a display reading from queue.
func New(queue *bus.Queue, opts Options) *Display {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = DefaultMaxPoints
	}

	return &Display{
		queue:     queue,
		clock:     opts.Clock,
		refresh:   opts.RefreshInterval,
		window:    opts.Window,
		maxPoints: opts.MaxPoints,
		origin:    opts.Clock.Now(),
	}
}

// Run drains the queue every refresh interval until ctx is cancelled.
func (d *Display) Run(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			d.Refresh()
		}
	}
}

// Refresh drains pending samples and notifies callbacks if any arrived. Run
// calls it on every tick; call it directly only when Run is not running.
func (d *Display) Refresh() {
	d.drained = d.queue.Drain(d.drained[:0])
	if len(d.drained) == 0 {
		return
	}

	d.mu.Lock()
	d.samples = append(d.samples, d.drained...)
	d.latest = d.drained[len(d.drained)-1]
	d.has = true
	d.trim()
	d.mu.Unlock()

	d.notifyCallbacks()
}

// trim removes samples older than the window, measured from the latest one.
// Must be called with mu held.
func (d *Display) trim() {
	cutoff := d.latest.Timestamp.Add(-d.window)
	idx := 0
	for idx < len(d.samples) && !d.samples[idx].Timestamp.After(cutoff) {
		idx++
	}
	if idx > 0 {
		n := copy(d.samples, d.samples[idx:])
		d.samples = d.samples[:n]
	}
}

// Latest returns the most recent sample. ok is false until one arrives.
func (d *Display) Latest() (s sample.Sample, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.latest, d.has
}

// History returns the window contents downsampled to maxPoints (0 means all).
// The result is written into dst from index 0 when it has enough capacity.
func (d *Display) History(dst []sample.Sample, maxPoints int) []sample.Sample {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sample.DownsampleSamples(dst, d.samples, maxPoints)
}

// Origin returns the chart time zero.
func (d *Display) Origin() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.origin
}

// Clear drops the history and restarts the chart time at now. The latest
// value is kept.
func (d *Display) Clear() {
	d.mu.Lock()
	d.samples = d.samples[:0]
	d.origin = d.clock.Now()
	d.mu.Unlock()
}

// Dropped returns how many samples the display queue discarded.
func (d *Display) Dropped() uint64 {
	return d.queue.Dropped()
}

// OnUpdate registers a callback invoked after each refresh that received
// samples. All callbacks share the Frame and must not modify it.
func (d *Display) OnUpdate(fn func(Frame)) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.callbacks = append(d.callbacks, fn)
}

func (d *Display) notifyCallbacks() {
	d.cbMu.RLock()
	callbacks := make([]func(Frame), len(d.callbacks))
	copy(callbacks, d.callbacks)
	d.cbMu.RUnlock()

	if len(callbacks) == 0 {
		return
	}

	d.mu.RLock()
	frame := Frame{
		Latest:  d.latest,
		Origin:  d.origin,
		History: sample.DownsampleSamples(nil, d.samples, d.maxPoints),
		Dropped: d.queue.Dropped(),
	}
	d.mu.RUnlock()

	for _, cb := range callbacks {
		cb(frame)
	}
}
