// Package rabbitmq provides a RabbitMQ/AMQP transport for uisync. Each
// direction is one durable queue read by a single consumer, which keeps
// delivery in publish order.
package rabbitmq

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/uisync/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

// CloseConnection allows overriding how the shared connection is released.
var CloseConnection = func(conn *amqp.ConnectionWrapper) error {
	return conn.Close()
}

func init() {
	Register()
}

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build creates the endpoint for the configured role. Publisher and
// subscriber share one connection, closed together with the channel.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Channel, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return nil, fmt.Errorf("rabbitmq: url is required")
	}

	amqpConfig := amqp.NewDurableQueueConfig(url)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return nil, err
	}
	release := connectionCloser{conn: conn}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = release.Close()
		return nil, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		_ = release.Close()
		return nil, err
	}

	outbound, inbound := transport.Topics(cfg.GetTopicPrefix(), transport.RoleOf(cfg))
	return transport.NewPubSubChannel(publisher, subscriber, outbound, inbound,
		transport.WithLogger(logger),
		transport.WithCapabilities(transport.RabbitMQCapabilities),
		transport.WithClosers(release),
	), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}

type connectionCloser struct {
	conn *amqp.ConnectionWrapper
}

func (c connectionCloser) Close() error {
	return CloseConnection(c.conn)
}
