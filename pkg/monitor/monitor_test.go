package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/itohio/thermolog/pkg/config"
	"github.com/itohio/thermolog/pkg/connection"
	"github.com/itohio/thermolog/pkg/publish"
	"github.com/itohio/thermolog/pkg/recording"
	"github.com/itohio/thermolog/pkg/telemetry"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const recordPath = "dados.csv"

type harness struct {
	m       *Monitor
	factory *telemetry.FakeFactory
	clock   *clockwork.FakeClock
	fs      afero.Fs
}

func newHarness(t *testing.T, mqtt publish.Client) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Recording.Path = recordPath

	h := &harness{
		factory: &telemetry.FakeFactory{},
		clock:   clockwork.NewFakeClockAt(time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)),
		fs:      afero.NewMemMapFs(),
	}
	h.m = New(Options{
		Config:  cfg,
		Factory: h.factory.Open,
		Clock:   h.clock,
		Fs:      h.fs,
		MQTT:    mqtt,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.m.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return h
}

func line(temperature float64) string {
	return fmt.Sprintf("T(°C)=%.1f SP(°C)=30.0 Erro(V)=0.50 Saida(V)=1.20\r\n", temperature)
}

// feed writes one line per second of fake time.
func (h *harness) feed(t *testing.T, lines ...string) {
	t.Helper()
	for _, l := range lines {
		want := h.m.Connection().Samples + 1
		require.NoError(t, h.factory.Last().Write(l))
		require.Eventually(t, func() bool {
			return h.m.Connection().Samples == want
		}, time.Second, time.Millisecond)
		h.clock.Advance(time.Second)
	}
}

func (h *harness) rows(t *testing.T) []recording.Row {
	t.Helper()
	f, err := h.fs.Open(recordPath)
	require.NoError(t, err)
	defer f.Close()

	var rows []recording.Row
	require.NoError(t, gocsv.Unmarshal(f, &rows))
	return rows
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func TestMonitor_EndToEndRecording(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.m.Connect(ctx, "COM4"))
	assert.Equal(t, recording.FileChosen, h.m.Recording().State)
	require.NoError(t, h.m.StartRecording(ctx))

	h.feed(t, repeat("T(°C)=25.0 SP(°C)=30.0 Erro(V)=0.50 Saida(V)=1.20\r\n", 10)...)
	require.NoError(t, h.m.StopRecording(ctx))

	snap := h.m.Recording()
	assert.Equal(t, recording.FileChosen, snap.State)
	assert.Equal(t, uint64(10), snap.SamplesWritten)
	assert.NoError(t, snap.LastError)

	rows := h.rows(t)
	require.Len(t, rows, 10)
	for i, row := range rows {
		assert.InDelta(t, float64(i), row.Time, 1e-3)
		assert.InDelta(t, 25.0, row.TemperatureC, 1e-9)
		assert.InDelta(t, 30.0, row.SetpointC, 1e-9)
		assert.InDelta(t, 0.5, row.ErrorV, 1e-9)
		assert.InDelta(t, 1.2, row.OutputV, 1e-9)
	}
}

func TestMonitor_FilteredStepApproachesInput(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.m.Connect(ctx, "COM4"))
	require.NoError(t, h.m.StartRecording(ctx))

	h.feed(t, line(20))
	h.feed(t, repeat(line(25), 9)...)
	require.NoError(t, h.m.StopRecording(ctx))

	rows := h.rows(t)
	require.Len(t, rows, 10)
	assert.Equal(t, 20.0, rows[0].TemperatureC, "first sample is unsmoothed")
	for i := 1; i < len(rows); i++ {
		assert.Greater(t, rows[i].TemperatureC, rows[i-1].TemperatureC)
		assert.Less(t, rows[i].TemperatureC, 25.0)
	}
	want := 25 - 5*math.Exp(-9.0/5.0)
	assert.InDelta(t, want, rows[9].TemperatureC, 1e-9)
}

func TestMonitor_StartRecordingRequiresConnection(t *testing.T) {
	h := newHarness(t, nil)

	err := h.m.StartRecording(context.Background())
	assert.ErrorIs(t, err, recording.ErrNotConnected)

	exists, err := afero.Exists(h.fs, recordPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMonitor_DisconnectStopsRecording(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.m.Connect(ctx, "COM4"))
	require.NoError(t, h.m.StartRecording(ctx))
	h.feed(t, repeat(line(25), 3)...)

	require.NoError(t, h.m.Disconnect(ctx))
	require.Eventually(t, func() bool {
		return h.m.Recording().State == recording.FileChosen
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, h.m.Recording().LastError, recording.ErrInterruptedByDisconnect)
	assert.Len(t, h.rows(t), 3)
}

func TestMonitor_ReadFailureStopsRecording(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.m.Connect(ctx, "COM4"))
	require.NoError(t, h.m.StartRecording(ctx))
	h.feed(t, line(25))

	h.factory.Last().Fail(assert.AnError)
	require.Eventually(t, func() bool {
		return h.m.Recording().State == recording.FileChosen
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, h.m.Connection().LastError, connection.ErrTransportReadFailed)
	assert.ErrorIs(t, h.m.Recording().LastError, recording.ErrInterruptedByDisconnect)
	assert.Len(t, h.rows(t), 1)
}

func TestMonitor_RecordAfterReconnect(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.m.Connect(ctx, "COM4"))
	h.feed(t, line(10))
	require.NoError(t, h.m.Disconnect(ctx))

	require.NoError(t, h.m.Connect(ctx, "COM4"))
	require.NoError(t, h.m.StartRecording(ctx))
	h.feed(t, line(40), line(40))
	require.NoError(t, h.m.StopRecording(ctx))

	rows := h.rows(t)
	require.Len(t, rows, 2)
	assert.Equal(t, 40.0, rows[0].TemperatureC, "filters reset on reconnect")
	assert.Equal(t, 40.0, rows[1].TemperatureC)
	assert.Equal(t, 0.0, rows[0].Time)
	assert.Equal(t, 1.0, rows[1].Time)
}

func TestMonitor_DisplayReceivesSamples(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.m.Connect(context.Background(), "COM4"))

	h.feed(t, line(21), line(22))

	require.Eventually(t, func() bool {
		h.clock.Advance(h.m.Config().Display.RefreshInterval)
		return len(h.m.Display().History(nil, 0)) == 2
	}, time.Second, time.Millisecond)

	s, ok := h.m.Display().Latest()
	require.True(t, ok)
	assert.Greater(t, s.TemperatureC, 21.0)
}

func TestMonitor_MQTTMirror(t *testing.T) {
	client := &publish.FakeClient{}
	h := newHarness(t, client)
	require.NotNil(t, h.m.Publisher())

	require.NoError(t, h.m.Connect(context.Background(), "COM4"))
	h.feed(t, line(25), line(26))

	require.Eventually(t, func() bool {
		return len(client.Messages()) == 2
	}, time.Second, time.Millisecond)

	msg := client.Messages()[0]
	assert.Equal(t, h.m.Config().MQTT.Topic, msg.Topic)
	var payload publish.Payload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, 25.0, payload.TemperatureC)
	assert.Equal(t, "2026-10-15T09:00:00Z", payload.Timestamp)
}

func TestMonitor_GracefulShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &publish.FakeClient{}
	factory := &telemetry.FakeFactory{}
	fs := afero.NewMemMapFs()
	m := New(Options{Factory: factory.Open, Fs: fs, MQTT: client})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.NoError(t, m.Connect(context.Background(), "COM4"))
	require.NoError(t, m.StartRecording(context.Background()))
	require.NoError(t, factory.Last().Write(line(25)))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}

	assert.True(t, factory.Last().Closed())
	assert.True(t, client.Closed())
	assert.NotEqual(t, recording.Recording, m.Recording().State)

	exists, err := afero.Exists(fs, config.Default().Recording.Path)
	require.NoError(t, err)
	assert.True(t, exists)
}
