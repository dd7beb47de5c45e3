package publish

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/itohio/thermolog/pkg/config"
	"github.com/rs/zerolog/log"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// newClient is replaced in tests.
var newClient = paho.NewClient

// PahoClient publishes to an actual MQTT broker.
type PahoClient struct {
	client paho.Client
}

// NewPahoClient connects to the broker in cfg.
func NewPahoClient(cfg config.MQTTConfig) (*PahoClient, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost")
		}).
		SetOnConnectHandler(func(paho.Client) {
			log.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
		})

	client := newClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// Stop the background connect retry as well.
		client.Disconnect(0)
		return nil, fmt.Errorf("connect to broker %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect to broker %s: %w", cfg.Broker, err)
	}

	return &PahoClient{client: client}, nil
}

// Publish sends payload with QoS 0, not retained.
func (p *PahoClient) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *PahoClient) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
