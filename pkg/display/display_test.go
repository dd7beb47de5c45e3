package display

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/itohio/thermolog/pkg/bus"
	"github.com/itohio/thermolog/pkg/sample"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func push(q *bus.Queue, start time.Time, from, to int) {
	for i := from; i < to; i++ {
		_ = q.Push(sample.Sample{
			Timestamp:    start.Add(time.Duration(i) * time.Second),
			TemperatureC: float64(i),
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	d := New(bus.NewQueue("display", 4, bus.DropOldest), Options{})
	assert.Equal(t, DefaultRefreshInterval, d.refresh)
	assert.Equal(t, DefaultWindow, d.window)
	assert.Equal(t, DefaultMaxPoints, d.maxPoints)

	_, ok := d.Latest()
	assert.False(t, ok)
}

func TestRefresh_Latest(t *testing.T) {
	q := bus.NewQueue("display", 16, bus.DropOldest)
	d := New(q, Options{Clock: clockwork.NewFakeClock()})

	now := time.Now()
	push(q, now, 0, 3)
	d.Refresh()

	s, ok := d.Latest()
	require.True(t, ok)
	assert.Equal(t, 2.0, s.TemperatureC)
	assert.Len(t, d.History(nil, 0), 3)
	assert.Zero(t, q.Len())
}

func TestRefresh_WindowRemoval(t *testing.T) {
	q := bus.NewQueue("display", 64, bus.DropOldest)
	d := New(q, Options{Clock: clockwork.NewFakeClock(), Window: 10 * time.Second})

	now := time.Now()
	push(q, now, 0, 25)
	d.Refresh()

	history := d.History(nil, 0)
	require.Len(t, history, 10)
	assert.Equal(t, 15.0, history[0].TemperatureC, "samples at or before the cutoff are removed")
	assert.Equal(t, 24.0, history[9].TemperatureC)
}

func TestHistory_Downsampled(t *testing.T) {
	q := bus.NewQueue("display", 128, bus.DropOldest)
	d := New(q, Options{Clock: clockwork.NewFakeClock()})

	push(q, time.Now(), 0, 100)
	d.Refresh()

	history := d.History(make([]sample.Sample, 0, 10), 10)
	require.Len(t, history, 10)
	assert.Equal(t, 0.0, history[0].TemperatureC)
	assert.Equal(t, 99.0, history[9].TemperatureC)
}

func TestHistory_ReusesDst(t *testing.T) {
	q := bus.NewQueue("display", 16, bus.DropOldest)
	d := New(q, Options{Clock: clockwork.NewFakeClock()})

	push(q, time.Now(), 0, 3)
	d.Refresh()

	dst := make([]sample.Sample, 5, 16)
	dst[0].TemperatureC = -1
	history := d.History(dst, 0)
	require.Len(t, history, 3, "previous contents are not kept")
	assert.Equal(t, 0.0, history[0].TemperatureC)
	assert.Same(t, &dst[0], &history[0], "backing array is reused")
}

func TestClear(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := bus.NewQueue("display", 16, bus.DropOldest)
	d := New(q, Options{Clock: clock})
	origin := d.Origin()

	push(q, clock.Now(), 0, 5)
	d.Refresh()

	clock.Advance(time.Minute)
	d.Clear()

	assert.Empty(t, d.History(nil, 0))
	assert.Equal(t, origin.Add(time.Minute), d.Origin())
	_, ok := d.Latest()
	assert.True(t, ok, "latest value survives a clear")
}

func TestOnUpdate(t *testing.T) {
	q := bus.NewQueue("display", 4, bus.DropOldest)
	d := New(q, Options{Clock: clockwork.NewFakeClock(), MaxPoints: 2})

	var frames []Frame
	d.OnUpdate(func(f Frame) {
		frames = append(frames, f)
	})

	d.Refresh()
	assert.Empty(t, frames, "no callback without new samples")

	push(q, time.Now(), 0, 6)
	d.Refresh()

	require.Len(t, frames, 1)
	f := frames[0]
	assert.Equal(t, 5.0, f.Latest.TemperatureC)
	assert.Len(t, f.History, 2)
	assert.Equal(t, uint64(2), f.Dropped, "queue of 4 dropped the two oldest")
	assert.Equal(t, uint64(2), d.Dropped())
	assert.Equal(t, 2.0, d.History(nil, 0)[0].TemperatureC)
}

func TestRun_RefreshesOnTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := bus.NewQueue("display", 16, bus.DropOldest)
	d := New(q, Options{Clock: clock, RefreshInterval: 200 * time.Millisecond})

	updates := make(chan Frame, 4)
	d.OnUpdate(func(f Frame) { updates <- f })

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, d.Run(ctx))
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	push(q, clock.Now(), 0, 2)
	clock.Advance(200 * time.Millisecond)

	select {
	case f := <-updates:
		assert.Equal(t, 1.0, f.Latest.TemperatureC)
		assert.Len(t, f.History, 2)
	case <-time.After(time.Second):
		t.Fatal("no update after refresh tick")
	}
}

func TestConcurrentReaders(t *testing.T) {
	q := bus.NewQueue("display", 1024, bus.DropOldest)
	d := New(q, Options{Clock: clockwork.NewFakeClock()})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var buf []sample.Sample
			for j := 0; j < 100; j++ {
				buf = d.History(buf[:0], 50)
				d.Latest()
			}
		}()
	}

	now := time.Now()
	for i := 0; i < 100; i++ {
		push(q, now, i*10, i*10+10)
		d.Refresh()
	}
	wg.Wait()

	s, ok := d.Latest()
	require.True(t, ok)
	assert.Equal(t, 999.0, s.TemperatureC)
}
