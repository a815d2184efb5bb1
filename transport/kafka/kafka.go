// Package kafka provides a Kafka transport for uisync. Each direction is one
// topic; every frame carries the same partition key so a direction maps onto
// a single partition and keeps its order.
package kafka

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/uisync/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the Kafka transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// partitionByTopic keys every message with its topic name.
func partitionByTopic(topic string, _ *message.Message) (string, error) {
	return topic, nil
}

// ConsumerGroup returns the configured group or "<prefix>-<role>".
func ConsumerGroup(cfg transport.Config) string {
	if group := cfg.GetKafkaConsumerGroup(); group != "" {
		return group
	}
	prefix := cfg.GetTopicPrefix()
	if prefix == "" {
		prefix = transport.DefaultTopicPrefix
	}
	return fmt.Sprintf("%s-%s", prefix, transport.RoleOf(cfg))
}

// Build creates the endpoint for the configured role.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Channel, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	marshaler := kafka.NewWithPartitioningMarshaler(partitionByTopic)

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: marshaler,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:       brokers,
			Unmarshaler:   marshaler,
			ConsumerGroup: ConsumerGroup(cfg),
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	outbound, inbound := transport.Topics(cfg.GetTopicPrefix(), transport.RoleOf(cfg))
	return transport.NewPubSubChannel(publisher, subscriber, outbound, inbound,
		transport.WithLogger(logger),
		transport.WithCapabilities(transport.KafkaCapabilities),
	), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
