package publish

import (
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/itohio/thermolog/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubToken struct {
	done bool
	err  error
}

func (t *stubToken) Wait() bool                     { return t.done }
func (t *stubToken) WaitTimeout(time.Duration) bool { return t.done }
func (t *stubToken) Error() error                   { return t.err }

func (t *stubToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.done {
		close(ch)
	}
	return ch
}

// stubClient answers Connect with a canned token and counts disconnects.
type stubClient struct {
	paho.Client
	token       *stubToken
	disconnects int
}

func (c *stubClient) Connect() paho.Token { return c.token }
func (c *stubClient) Disconnect(uint)     { c.disconnects++ }

func useStubClient(t *testing.T, token *stubToken) *stubClient {
	t.Helper()
	stub := &stubClient{token: token}
	prev := newClient
	newClient = func(*paho.ClientOptions) paho.Client { return stub }
	t.Cleanup(func() { newClient = prev })
	return stub
}

func TestNewPahoClient_FailedConnectStopsClient(t *testing.T) {
	cfg := config.MQTTConfig{Broker: "tcp://127.0.0.1:1883", ClientID: "thermolog-test"}

	tests := []struct {
		name  string
		token *stubToken
		want  string
	}{
		{
			name:  "timeout",
			token: &stubToken{},
			want:  "timeout",
		},
		{
			name:  "refused",
			token: &stubToken{done: true, err: errors.New("connection refused")},
			want:  "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := useStubClient(t, tt.token)

			client, err := NewPahoClient(cfg)
			require.Error(t, err)
			assert.Nil(t, client)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, 1, stub.disconnects, "a failed connect must not leave the client retrying")
		})
	}
}

func TestNewPahoClient_Connected(t *testing.T) {
	stub := useStubClient(t, &stubToken{done: true})

	client, err := NewPahoClient(config.MQTTConfig{Broker: "tcp://127.0.0.1:1883", ClientID: "thermolog-test"})
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Zero(t, stub.disconnects)

	require.NoError(t, client.Close())
	assert.Equal(t, 1, stub.disconnects)
}
