package natscore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/uisync/internal/runtime/errors"
	"github.com/drblury/uisync/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "nats-core", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.False(t, caps.SupportsPersistence)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.NATSCoreCapabilities, caps)
	assert.Equal(t, "nats-core", caps.Name)
}

func TestTransportName(t *testing.T) {
	assert.Equal(t, "nats-core", TransportName)
}

// fakeBroker routes published frames to the matching sync subscription.
type fakeBroker struct {
	mu      sync.Mutex
	subs    map[string]*fakeSubscription
	drained bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subs: map[string]*fakeSubscription{}}
}

func (b *fakeBroker) Publish(subject string, data []byte) error {
	b.mu.Lock()
	sub := b.subs[subject]
	b.mu.Unlock()
	if sub != nil {
		sub.msgs <- &nats.Msg{Subject: subject, Data: data}
	}
	return nil
}

func (b *fakeBroker) SubscribeSync(subject string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &fakeSubscription{msgs: make(chan *nats.Msg, 16)}
	b.subs[subject] = sub
	return sub, nil
}

func (b *fakeBroker) Drain() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drained = true
	return nil
}

type fakeSubscription struct {
	msgs         chan *nats.Msg
	unsubscribed bool
}

func (s *fakeSubscription) NextMsgWithContext(ctx context.Context) (*nats.Msg, error) {
	select {
	case msg := <-s.msgs:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSubscription) Unsubscribe() error {
	s.unsubscribed = true
	return nil
}

func TestBuild(t *testing.T) {
	t.Run("connects with role name and default url", func(t *testing.T) {
		original := ConnectFactory
		defer func() { ConnectFactory = original }()

		broker := newFakeBroker()
		ConnectFactory = func(url string, opts ...nats.Option) (Conn, error) {
			assert.Equal(t, nats.DefaultURL, url)
			options := nats.GetDefaultOptions()
			for _, opt := range opts {
				require.NoError(t, opt(&options))
			}
			assert.Equal(t, "uisync-remote", options.Name)
			return broker, nil
		}

		ch, err := Build(context.Background(), &mockConfig{role: "remote", prefix: "app"}, watermill.NopLogger{})
		require.NoError(t, err)
		natsCh, ok := ch.(*Channel)
		require.True(t, ok)
		assert.Equal(t, "app.to_host", natsCh.outbound)
		assert.Equal(t, "app.to_remote", natsCh.inbound)
	})

	t.Run("wraps connection error", func(t *testing.T) {
		original := ConnectFactory
		defer func() { ConnectFactory = original }()

		ConnectFactory = func(url string, opts ...nats.Option) (Conn, error) {
			return nil, errors.New("no servers available")
		}

		_, err := Build(context.Background(), &mockConfig{url: "nats://example:4222"}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to NATS")
		assert.Contains(t, err.Error(), "no servers available")
	})
}

func TestChannelRoundTrip(t *testing.T) {
	broker := newFakeBroker()
	host := NewChannel(broker, "p.to_remote", "p.to_host", nil)
	remote := NewChannel(broker, "p.to_host", "p.to_remote", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remoteIn, err := remote.Subscribe(ctx)
	require.NoError(t, err)
	_, err = remote.Subscribe(ctx)
	assert.Error(t, err)

	for _, msg := range []string{"a:[]", "b:[]", "c:[]"} {
		require.NoError(t, host.SendMessage(ctx, msg))
	}
	for _, want := range []string{"a:[]", "b:[]", "c:[]"} {
		select {
		case got := <-remoteIn:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
	}

	require.NoError(t, remote.Close())
	require.NoError(t, remote.Close())
	assert.True(t, broker.drained)
	assert.ErrorIs(t, remote.SendMessage(ctx, "x:[]"), errspkg.ErrChannelClosed)
	_, err = remote.Subscribe(ctx)
	assert.ErrorIs(t, err, errspkg.ErrChannelClosed)

	select {
	case _, ok := <-remoteIn:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed")
	}
	assert.Equal(t, transport.NATSCoreCapabilities, remote.Capabilities())
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
