package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/uisync/internal/runtime/errors"
)

// PubSubChannel adapts a watermill Publisher/Subscriber pair into a Channel.
// Outbound frames are published to one topic and inbound frames are read from
// the other, so the same broker carries both directions.
type PubSubChannel struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	outbound   string
	inbound    string
	closers    []io.Closer
	logger     watermill.LoggerAdapter
	caps       Capabilities

	mu         sync.Mutex
	subscribed bool
	closeOnce  sync.Once
	closed     chan struct{}
	closeErr   error
}

// PubSubOption customises a PubSubChannel.
type PubSubOption func(*PubSubChannel)

// WithClosers registers resources closed after the publisher and subscriber,
// such as a shared broker connection.
func WithClosers(closers ...io.Closer) PubSubOption {
	return func(c *PubSubChannel) {
		c.closers = append(c.closers, closers...)
	}
}

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(logger watermill.LoggerAdapter) PubSubOption {
	return func(c *PubSubChannel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCapabilities sets what Capabilities reports.
func WithCapabilities(caps Capabilities) PubSubOption {
	return func(c *PubSubChannel) {
		c.caps = caps
	}
}

// NewPubSubChannel bridges pub and sub into a Channel publishing to outbound
// and consuming inbound.
func NewPubSubChannel(pub message.Publisher, sub message.Subscriber, outbound, inbound string, opts ...PubSubOption) *PubSubChannel {
	c := &PubSubChannel{
		publisher:  pub,
		subscriber: sub,
		outbound:   outbound,
		inbound:    inbound,
		logger:     watermill.NopLogger{},
		caps:       Capabilities{Name: "pubsub", SupportsOrdering: true, SupportsAck: true},
		closed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Topics returns the outbound and inbound topic names.
func (c *PubSubChannel) Topics() (outbound, inbound string) {
	return c.outbound, c.inbound
}

// SendMessage publishes msg as the payload of one watermill message.
func (c *PubSubChannel) SendMessage(ctx context.Context, msg string) error {
	select {
	case <-c.closed:
		return errspkg.ErrChannelClosed
	default:
	}

	m := message.NewMessage(watermill.NewUUID(), []byte(msg))
	if ctx != nil {
		m.SetContext(ctx)
	}
	return c.publisher.Publish(c.outbound, m)
}

// Subscribe starts consuming the inbound topic. Each message is acked once it
// has been handed to the returned stream, so the broker releases the next one
// only after the previous was taken and order is kept.
func (c *PubSubChannel) Subscribe(ctx context.Context) (<-chan string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		return nil, errors.New("uisync: channel already has a subscriber")
	}
	c.subscribed = true
	c.mu.Unlock()

	select {
	case <-c.closed:
		return nil, errspkg.ErrChannelClosed
	default:
	}

	messages, err := c.subscriber.Subscribe(ctx, c.inbound)
	if err != nil {
		return nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closed:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- string(msg.Payload):
					msg.Ack()
				case <-ctx.Done():
					msg.Nack()
					return
				case <-c.closed:
					msg.Nack()
					return
				}
			}
		}
	}()
	return out, nil
}

// Close shuts down the publisher, the subscriber and any registered closers.
// It is safe to call more than once.
func (c *PubSubChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		var errs []error
		if c.publisher != nil {
			errs = append(errs, c.publisher.Close())
		}
		if c.subscriber != nil && any(c.subscriber) != any(c.publisher) {
			errs = append(errs, c.subscriber.Close())
		}
		for _, closer := range c.closers {
			errs = append(errs, closer.Close())
		}
		c.closeErr = errors.Join(errs...)
		if c.closeErr != nil {
			c.logger.Error("Failed to close pub/sub channel", c.closeErr, watermill.LogFields{"outbound": c.outbound, "inbound": c.inbound})
		}
	})
	return c.closeErr
}

// Capabilities returns the set supplied by the building transport.
func (c *PubSubChannel) Capabilities() Capabilities {
	return c.caps
}
