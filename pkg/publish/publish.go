// Package publish mirrors filtered samples to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/itohio/thermolog/pkg/bus"
	"github.com/itohio/thermolog/pkg/sample"
	"github.com/rs/zerolog/log"
)

// Client sends payloads to a broker.
type Client interface {
	// Publish sends one message. Errors are reported, never fatal.
	Publish(topic string, payload []byte) error

	// Close disconnects from the broker.
	Close() error
}

// Payload is the JSON message for one filtered sample.
type Payload struct {
	Timestamp    string  `json:"timestamp"`
	TemperatureC float64 `json:"temperature_c"`
	SetpointC    float64 `json:"setpoint_c"`
	ErrorV       float64 `json:"error_v"`
	OutputV      float64 `json:"output_v"`
}

// FormatPayload creates the JSON payload for a sample.
func FormatPayload(s sample.Sample) ([]byte, error) {
	return json.Marshal(Payload{
		Timestamp:    s.Timestamp.UTC().Format(time.RFC3339Nano),
		TemperatureC: s.TemperatureC,
		SetpointC:    s.SetpointC,
		ErrorV:       s.ErrorV,
		OutputV:      s.OutputV,
	})
}

// Publisher drains a bus tap and forwards every sample to a Client.
type Publisher struct {
	client Client
	queue  *bus.Queue
	topic  string

	published atomic.Uint64
	failed    atomic.Uint64
}

// New creates a publisher for queue. The queue should be a drop-oldest tap so
// a slow broker never holds back the read loop.
func New(client Client, queue *bus.Queue, topic string) *Publisher {
	return &Publisher{
		client: client,
		queue:  queue,
		topic:  topic,
	}
}

// Run forwards samples until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	var pending []sample.Sample
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.queue.Ready():
			pending = p.queue.Drain(pending[:0])
			for _, s := range pending {
				p.publish(s)
			}
		}
	}
}

func (p *Publisher) publish(s sample.Sample) {
	payload, err := FormatPayload(s)
	if err == nil {
		err = p.client.Publish(p.topic, payload)
	}
	if err != nil {
		// Log the first failure and then every 100th to keep a dead broker quiet.
		if n := p.failed.Add(1); n == 1 || n%100 == 0 {
			log.Warn().Err(err).Uint64("failed", n).Str("topic", p.topic).Msg("mqtt publish failed")
		}
		return
	}
	p.published.Add(1)
}

// Published returns how many samples reached the broker.
func (p *Publisher) Published() uint64 {
	return p.published.Load()
}

// Failed returns how many samples could not be published.
func (p *Publisher) Failed() uint64 {
	return p.failed.Load()
}
