package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock config for testing
type mockConfig struct {
	transport string
	role      string
	prefix    string
}

func (m *mockConfig) GetTransport() string              { return m.transport }
func (m *mockConfig) GetRole() string                   { return m.role }
func (m *mockConfig) GetTopicPrefix() string            { return m.prefix }
func (m *mockConfig) GetKafkaBrokers() []string         { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string     { return "" }
func (m *mockConfig) GetRabbitMQURL() string            { return "" }
func (m *mockConfig) GetNATSURL() string                { return "" }
func (m *mockConfig) GetWebSocketURL() string           { return "" }
func (m *mockConfig) GetWebSocketListenAddress() string { return "" }

type mockChannel struct {
	sent   []string
	closed bool
}

func (m *mockChannel) SendMessage(_ context.Context, msg string) error {
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockChannel) Subscribe(context.Context) (<-chan string, error) {
	ch := make(chan string)
	close(ch)
	return ch, nil
}

func (m *mockChannel) Close() error {
	m.closed = true
	return nil
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotNil(t, reg)
	assert.NotNil(t, reg.builders)
	assert.NotNil(t, reg.capabilities)
	assert.Empty(t, reg.Names())
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()

	builder := func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Channel, error) {
		return &mockChannel{}, nil
	}

	reg.Register("test-transport", builder)
	assert.True(t, reg.Has("test-transport"))
	assert.Contains(t, reg.Names(), "test-transport")
	assert.Equal(t, Capabilities{Name: "test-transport"}, reg.GetCapabilities("test-transport"))
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"nats", "channel", "kafka"} {
		reg.Register(name, nil)
	}
	assert.Equal(t, []string{"channel", "kafka", "nats"}, reg.Names())
}

func TestRegistry_Build(t *testing.T) {
	t.Run("builds registered transport", func(t *testing.T) {
		reg := NewRegistry()
		expected := &mockChannel{}
		reg.RegisterWithCapabilities("mock", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Channel, error) {
			assert.NotNil(t, logger)
			assert.Equal(t, "remote", cfg.GetRole())
			return expected, nil
		}, Capabilities{Name: "mock", SupportsOrdering: true})

		ch, err := reg.Build(context.Background(), &mockConfig{transport: "mock", role: "remote"}, nil)
		require.NoError(t, err)
		assert.Same(t, expected, ch)
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewRegistry().Build(context.Background(), nil, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config is required")
	})

	t.Run("unknown transport", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register("kafka", nil)
		_, err := reg.Build(context.Background(), &mockConfig{transport: "sqs"}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown transport: "sqs"`)
		assert.Contains(t, err.Error(), "kafka")
	})

	t.Run("refuses unordered transport", func(t *testing.T) {
		reg := NewRegistry()
		called := false
		reg.RegisterWithCapabilities("http", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Channel, error) {
			called = true
			return &mockChannel{}, nil
		}, Capabilities{Name: "http"})

		_, err := reg.Build(context.Background(), &mockConfig{transport: "http"}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not preserve message order")
		assert.False(t, called)
	})

	t.Run("propagates builder error", func(t *testing.T) {
		reg := NewRegistry()
		reg.Register("broken", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Channel, error) {
			return nil, errors.New("dial failed")
		})
		_, err := reg.Build(context.Background(), &mockConfig{transport: "broken"}, watermill.NopLogger{})
		assert.EqualError(t, err, "dial failed")
	})
}

func TestDefaultRegistryHelpers(t *testing.T) {
	original := DefaultRegistry
	defer func() { DefaultRegistry = original }()
	DefaultRegistry = NewRegistry()

	Register("plain", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Channel, error) {
		return &mockChannel{}, nil
	})
	RegisterWithCapabilities("ordered", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Channel, error) {
		return &mockChannel{}, nil
	}, Capabilities{Name: "ordered", SupportsOrdering: true})

	assert.True(t, DefaultRegistry.Has("plain"))
	assert.True(t, GetCapabilities("ordered").SupportsOrdering)

	ch, err := Build(context.Background(), &mockConfig{transport: "ordered"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, ch)
}
