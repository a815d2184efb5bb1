// Package nats provides a NATS Core transport for uisync built on
// watermill-nats. Each direction is one subject; a single subscriber per
// endpoint keeps frames in publish order.
package nats

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsio "github.com/nats-io/nats.go"

	"github.com/drblury/uisync/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates the endpoint for the configured role.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Channel, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		url = natsio.DefaultURL
	}
	role := transport.RoleOf(cfg)
	marshaler := &nats.NATSMarshaler{}
	// Frames are fire-and-forget on plain subjects.
	jetStream := nats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: []natsio.Option{natsio.Name(fmt.Sprintf("uisync-%s-pub", role))},
			Marshaler:   marshaler,
			JetStream:   jetStream,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			NatsOptions:      []natsio.Option{natsio.Name(fmt.Sprintf("uisync-%s-sub", role))},
			Unmarshaler:      marshaler,
			SubscribersCount: 1,
			JetStream:        jetStream,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	outbound, inbound := transport.Topics(cfg.GetTopicPrefix(), role)
	return transport.NewPubSubChannel(publisher, subscriber, outbound, inbound,
		transport.WithLogger(logger),
		transport.WithCapabilities(transport.NATSCapabilities),
	), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
