package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/uisync/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "channel", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.True(t, caps.SupportsPersistence)
	assert.False(t, caps.CrossProcess)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.ChannelCapabilities, caps)
	assert.Equal(t, "channel", caps.Name)
}

func TestTransportName(t *testing.T) {
	assert.Equal(t, "channel", TransportName)
}

func TestBuild(t *testing.T) {
	t.Run("host and remote built from config talk to each other", func(t *testing.T) {
		originalFactory := Factory
		defer func() { Factory = originalFactory }()

		pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true, BlockPublishUntilSubscriberAck: true}, watermill.NopLogger{})
		defer pubSub.Close()
		Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
			assert.True(t, cfg.Persistent)
			return pubSub, pubSub
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		host, err := Build(ctx, &mockConfig{role: "host"}, watermill.NopLogger{})
		require.NoError(t, err)
		remote, err := Build(ctx, &mockConfig{role: "remote"}, watermill.NopLogger{})
		require.NoError(t, err)

		in, err := remote.Subscribe(ctx)
		require.NoError(t, err)
		sent := sendAsync(ctx, host, "hello:[]")
		assert.Equal(t, "hello:[]", receive(t, in))
		require.NoError(t, <-sent)

		require.NoError(t, host.Close())
		require.NoError(t, remote.SendMessage(ctx, "still-open:[]"), "closing one endpoint must not close the shared pub/sub")
	})

	t.Run("default factory shares one pub/sub", func(t *testing.T) {
		pub1, _ := Factory(gochannel.Config{}, watermill.NopLogger{})
		pub2, _ := Factory(gochannel.Config{}, watermill.NopLogger{})
		assert.Same(t, pub1, pub2)
	})
}

func TestNewPair(t *testing.T) {
	host, remote := NewPair("pair", nil)
	defer host.Close()
	defer remote.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hostIn, err := host.Subscribe(ctx)
	require.NoError(t, err)
	remoteIn, err := remote.Subscribe(ctx)
	require.NoError(t, err)

	toRemote := sendAsync(ctx, host, "RenderBatch:[1,\"AQ==\"]")
	toHost := sendAsync(ctx, remote, "RenderCompleted:[1,null]")

	assert.Equal(t, "RenderBatch:[1,\"AQ==\"]", receive(t, remoteIn))
	assert.Equal(t, "RenderCompleted:[1,null]", receive(t, hostIn))
	require.NoError(t, <-toRemote)
	require.NoError(t, <-toHost)

	provider, ok := host.(transport.CapabilitiesProvider)
	require.True(t, ok)
	assert.Equal(t, transport.ChannelCapabilities, provider.Capabilities())
}

func sendAsync(ctx context.Context, ch transport.Channel, msgs ...string) <-chan error {
	errs := make(chan error, 1)
	go func() {
		for _, msg := range msgs {
			if err := ch.SendMessage(ctx, msg); err != nil {
				errs <- err
				return
			}
		}
		errs <- nil
	}()
	return errs
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

type mockConfig struct {
	role string
}

func (m *mockConfig) GetTransport() string              { return TransportName }
func (m *mockConfig) GetRole() string                   { return m.role }
func (m *mockConfig) GetTopicPrefix() string            { return "test" }
func (m *mockConfig) GetKafkaBrokers() []string         { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string     { return "" }
func (m *mockConfig) GetRabbitMQURL() string            { return "" }
func (m *mockConfig) GetNATSURL() string                { return "" }
func (m *mockConfig) GetWebSocketURL() string           { return "" }
func (m *mockConfig) GetWebSocketListenAddress() string { return "" }
