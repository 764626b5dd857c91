package natsclient

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EKaterinaTR/winm/errors"
)

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("nats://localhost:4222")

	assert.Equal(t, 5*time.Second, c.reconnectWait)
	assert.NotNil(t, c.logger)
}

func TestNewClient_Options(t *testing.T) {
	logger := slog.Default()
	c := NewClient("nats://localhost:4222",
		WithLogger(logger),
		WithReconnectWait(time.Second),
		WithName("winm-test"))

	assert.Equal(t, time.Second, c.reconnectWait)
	assert.Equal(t, "winm-test", c.clientName)
	assert.Same(t, logger, c.Logger())
}

func TestPublish_WithoutConnection(t *testing.T) {
	c := NewClient("nats://localhost:4222")

	err := c.Publish(context.Background(), "graph.tasks", []byte("{}"))
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))
}

func TestJetStream_WithoutConnection(t *testing.T) {
	c := NewClient("nats://localhost:4222")

	_, err := c.JetStream()
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))
}

func TestClose_Idempotent(t *testing.T) {
	c := NewClient("nats://localhost:4222")

	assert.NoError(t, c.Close(context.Background()))
	assert.NoError(t, c.Close(context.Background()))
}
