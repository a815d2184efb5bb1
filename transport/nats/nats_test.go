package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsio "github.com/nats-io/nats.go"
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
	assert.Equal(t, "nats", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.False(t, caps.SupportsPersistence)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.NATSCapabilities, caps)
	assert.Equal(t, "nats", caps.Name)
}

func TestTransportName(t *testing.T) {
	assert.Equal(t, "nats", TransportName)
}

func withFactories(t *testing.T, pub func(nats.PublisherConfig) (message.Publisher, error), sub func(nats.SubscriberConfig) (message.Subscriber, error)) {
	t.Helper()
	originalPubFactory := PublisherFactory
	originalSubFactory := SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPubFactory
		SubscriberFactory = originalSubFactory
	})
	PublisherFactory = func(cfg nats.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		return pub(cfg)
	}
	SubscriberFactory = func(cfg nats.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		return sub(cfg)
	}
}

func TestBuild(t *testing.T) {
	t.Run("creates channel with mocked factories", func(t *testing.T) {
		mockPub := &mockPublisher{}
		mockSub := &mockSubscriber{}
		withFactories(t,
			func(cfg nats.PublisherConfig) (message.Publisher, error) {
				assert.Equal(t, "nats://example:4222", cfg.URL)
				assert.NotNil(t, cfg.Marshaler)
				assert.True(t, cfg.JetStream.Disabled)
				return mockPub, nil
			},
			func(cfg nats.SubscriberConfig) (message.Subscriber, error) {
				assert.Equal(t, "nats://example:4222", cfg.URL)
				assert.NotNil(t, cfg.Unmarshaler)
				assert.Equal(t, 1, cfg.SubscribersCount)
				assert.Empty(t, cfg.QueueGroupPrefix)
				assert.True(t, cfg.JetStream.Disabled)
				return mockSub, nil
			},
		)

		cfg := &mockConfig{url: "nats://example:4222", prefix: "app", role: "host"}
		ch, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)

		require.NoError(t, ch.SendMessage(context.Background(), "RenderBatch:[1,\"\"]"))
		assert.Equal(t, []string{"app.to_remote"}, mockPub.topics)
		require.Len(t, mockPub.payloads, 1)
		assert.Equal(t, "RenderBatch:[1,\"\"]", mockPub.payloads[0])

		_, err = ch.Subscribe(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"app.to_host"}, mockSub.topics)

		provider, ok := ch.(transport.CapabilitiesProvider)
		require.True(t, ok)
		assert.Equal(t, transport.NATSCapabilities, provider.Capabilities())
		require.NoError(t, ch.Close())
		assert.True(t, mockPub.closed)
		assert.True(t, mockSub.closed)
	})

	t.Run("names connections by role and defaults the url", func(t *testing.T) {
		withFactories(t,
			func(cfg nats.PublisherConfig) (message.Publisher, error) {
				assert.Equal(t, natsio.DefaultURL, cfg.URL)
				assert.Equal(t, "uisync-remote-pub", optionsName(t, cfg.NatsOptions))
				return &mockPublisher{}, nil
			},
			func(cfg nats.SubscriberConfig) (message.Subscriber, error) {
				assert.Equal(t, natsio.DefaultURL, cfg.URL)
				assert.Equal(t, "uisync-remote-sub", optionsName(t, cfg.NatsOptions))
				return &mockSubscriber{}, nil
			},
		)

		ch, err := Build(context.Background(), &mockConfig{role: "remote", prefix: "app"}, watermill.NopLogger{})
		require.NoError(t, err)
		pubsub, ok := ch.(*transport.PubSubChannel)
		require.True(t, ok)
		outbound, inbound := pubsub.Topics()
		assert.Equal(t, "app.to_host", outbound)
		assert.Equal(t, "app.to_remote", inbound)
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		withFactories(t,
			func(nats.PublisherConfig) (message.Publisher, error) {
				return nil, errors.New("publisher error")
			},
			func(nats.SubscriberConfig) (message.Subscriber, error) {
				t.Fatal("subscriber must not be created")
				return nil, nil
			},
		)

		_, err := Build(context.Background(), &mockConfig{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})

	t.Run("returns error when subscriber factory fails", func(t *testing.T) {
		pub := &mockPublisher{}
		withFactories(t,
			func(nats.PublisherConfig) (message.Publisher, error) {
				return pub, nil
			},
			func(nats.SubscriberConfig) (message.Subscriber, error) {
				return nil, errors.New("subscriber error")
			},
		)

		_, err := Build(context.Background(), &mockConfig{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
		assert.True(t, pub.closed)
	})
}

func optionsName(t *testing.T, opts []natsio.Option) string {
	t.Helper()
	options := natsio.GetDefaultOptions()
	for _, opt := range opts {
		require.NoError(t, opt(&options))
	}
	return options.Name
}

type mockConfig struct {
	url    string
	role   string
	prefix string
}

func (m *mockConfig) GetTransport() string              { return TransportName }
func (m *mockConfig) GetRole() string                   { return m.role }
func (m *mockConfig) GetTopicPrefix() string            { return m.prefix }
func (m *mockConfig) GetKafkaBrokers() []string         { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string     { return "" }
func (m *mockConfig) GetRabbitMQURL() string            { return "" }
func (m *mockConfig) GetNATSURL() string                { return m.url }
func (m *mockConfig) GetWebSocketURL() string           { return "" }
func (m *mockConfig) GetWebSocketListenAddress() string { return "" }

type mockPublisher struct {
	topics   []string
	payloads []string
	closed   bool
}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error {
	m.topics = append(m.topics, topic)
	for _, msg := range messages {
		m.payloads = append(m.payloads, string(msg.Payload))
	}
	return nil
}

func (m *mockPublisher) Close() error {
	m.closed = true
	return nil
}

type mockSubscriber struct {
	topics []string
	closed bool
}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	m.topics = append(m.topics, topic)
	return make(chan *message.Message), nil
}

func (m *mockSubscriber) Close() error {
	m.closed = true
	return nil
}
