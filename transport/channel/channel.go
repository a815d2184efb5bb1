// Package channel provides an in-process transport backed by watermill's
// gochannel. Both endpoints of a pair must live in the same process; it is
// used for tests, local development and embedding.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/uisync/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

var (
	sharedMu     sync.Mutex
	sharedPubSub *gochannel.GoChannel
)

// Factory allows overriding the channel creation for testing. The default
// returns one process-wide persistent gochannel so a host and a remote built
// separately from config find each other.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedPubSub == nil {
		sharedPubSub = gochannel.NewGoChannel(cfg, logger)
	}
	return sharedPubSub, sharedPubSub
}

func init() {
	Register()
}

// Register registers the channel transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates the endpoint for the configured role on the shared gochannel.
// Closing it leaves the shared pub/sub open for the other endpoint.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Channel, error) {
	pub, sub := Factory(gochannel.Config{Persistent: true, BlockPublishUntilSubscriberAck: true}, logger)
	outbound, inbound := transport.Topics(cfg.GetTopicPrefix(), transport.RoleOf(cfg))
	return transport.NewPubSubChannel(
		nopClosePublisher{pub}, nopCloseSubscriber{sub}, outbound, inbound,
		transport.WithLogger(logger),
		transport.WithCapabilities(transport.ChannelCapabilities),
	), nil
}

// NewPair returns two connected channels over a private gochannel. Closing
// either endpoint closes the underlying pub/sub.
func NewPair(topicPrefix string, logger watermill.LoggerAdapter) (host, remote transport.Channel) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true, BlockPublishUntilSubscriberAck: true}, logger)

	hostOut, hostIn := transport.Topics(topicPrefix, transport.RoleHost)
	remoteOut, remoteIn := transport.Topics(topicPrefix, transport.RoleRemote)
	host = transport.NewPubSubChannel(pubSub, pubSub, hostOut, hostIn,
		transport.WithLogger(logger), transport.WithCapabilities(transport.ChannelCapabilities))
	remote = transport.NewPubSubChannel(pubSub, pubSub, remoteOut, remoteIn,
		transport.WithLogger(logger), transport.WithCapabilities(transport.ChannelCapabilities))
	return host, remote
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

type nopClosePublisher struct{ message.Publisher }

func (nopClosePublisher) Close() error { return nil }

type nopCloseSubscriber struct{ message.Subscriber }

func (nopCloseSubscriber) Close() error { return nil }
