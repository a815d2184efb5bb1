// Package natscore provides a NATS Core transport for uisync that talks to
// nats.go directly. Frames travel as raw payloads on two subjects over one
// connection per endpoint; NATS keeps per-publisher order on a subject. Use
// it when the peer is not a watermill endpoint and cannot read the
// header-wrapped messages of the "nats" transport.
package natscore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"

	errspkg "github.com/drblury/uisync/internal/runtime/errors"
	"github.com/drblury/uisync/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-core"

// Conn is the subset of *nats.Conn the channel needs.
type Conn interface {
	Publish(subject string, data []byte) error
	SubscribeSync(subject string) (Subscription, error)
	Drain() error
}

// Subscription is the subset of *nats.Subscription the channel needs.
type Subscription interface {
	NextMsgWithContext(ctx context.Context) (*nats.Msg, error)
	Unsubscribe() error
}

// ConnectFactory allows overriding the connection creation for testing.
var ConnectFactory = func(url string, opts ...nats.Option) (Conn, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return natsConn{Conn: nc}, nil
}

type natsConn struct {
	*nats.Conn
}

func (c natsConn) SubscribeSync(subject string) (Subscription, error) {
	return c.Conn.SubscribeSync(subject)
}

func init() {
	Register()
}

// Register registers the NATS Core transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCoreCapabilities)
}

// Build connects to the configured server and returns the endpoint for the
// configured role.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Channel, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		url = nats.DefaultURL
	}
	role := transport.RoleOf(cfg)

	conn, err := ConnectFactory(url, nats.Name(fmt.Sprintf("uisync-%s", role)))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	outbound, inbound := transport.Topics(cfg.GetTopicPrefix(), role)
	return NewChannel(conn, outbound, inbound, logger), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCoreCapabilities
}

// Channel is a transport.Channel over two NATS subjects.
type Channel struct {
	conn     Conn
	outbound string
	inbound  string
	logger   watermill.LoggerAdapter

	mu         sync.Mutex
	subscribed bool
	cancel     context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// NewChannel wraps an established connection.
func NewChannel(conn Conn, outbound, inbound string, logger watermill.LoggerAdapter) *Channel {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Channel{
		conn:     conn,
		outbound: outbound,
		inbound:  inbound,
		logger:   logger.With(watermill.LogFields{"outbound": outbound, "inbound": inbound}),
		closed:   make(chan struct{}),
	}
}

// SendMessage publishes msg on the outbound subject.
func (c *Channel) SendMessage(_ context.Context, msg string) error {
	select {
	case <-c.closed:
		return errspkg.ErrChannelClosed
	default:
	}
	return c.conn.Publish(c.outbound, []byte(msg))
}

// Subscribe reads the inbound subject on one goroutine, so frames are handed
// over in arrival order. Frames wait in the subscription's pending buffer
// while the consumer is busy.
func (c *Channel) Subscribe(ctx context.Context) (<-chan string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return nil, errspkg.ErrChannelClosed
	default:
	}
	if c.subscribed {
		return nil, errors.New("uisync: channel already has a subscriber")
	}

	sub, err := c.conn.SubscribeSync(c.inbound)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", c.inbound, err)
	}
	c.subscribed = true

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	out := make(chan string)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				c.logger.Debug("NATS unsubscribe failed", watermill.LogFields{"error": err.Error()})
			}
		}()
		for {
			msg, err := sub.NextMsgWithContext(subCtx)
			if err != nil {
				if subCtx.Err() != nil || isTerminal(err) {
					return
				}
				c.logger.Error("NATS receive failed", err, nil)
				continue
			}
			select {
			case out <- string(msg.Data):
			case <-subCtx.Done():
				return
			}
		}
	}()
	return out, nil
}

func isTerminal(err error) bool {
	return errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrBadSubscription) ||
		errors.Is(err, context.Canceled)
}

// Close stops the subscription and drains the connection.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.closed)
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()
		if err := c.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.closeErr = err
		}
	})
	return c.closeErr
}

// Capabilities returns the capabilities of this transport.
func (c *Channel) Capabilities() transport.Capabilities {
	return transport.NATSCoreCapabilities
}
