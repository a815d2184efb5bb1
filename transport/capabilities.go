package transport

// Capabilities describes the delivery guarantees of a transport backend.
type Capabilities struct {
	// SupportsOrdering indicates messages in one direction arrive in send
	// order. Render batch sync refuses transports without it.
	SupportsOrdering bool

	// SupportsPersistence indicates messages sent before the peer subscribed
	// are retained and delivered once it does.
	SupportsPersistence bool

	// SupportsAck indicates the backend acknowledges delivery to the broker.
	SupportsAck bool

	// CrossProcess indicates the endpoints may live in different processes.
	CrossProcess bool

	// MaxMessageSize is the maximum frame size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string

	// Version is the transport/driver version.
	Version string
}

// SuitableForRenderSync reports whether the backend keeps the ordering the
// batch protocol depends on.
func (c Capabilities) SuitableForRenderSync() bool {
	return c.SupportsOrdering
}

// FitsMessage reports whether a frame of size bytes is within limits.
func (c Capabilities) FitsMessage(size int) bool {
	return c.MaxMessageSize == 0 || int64(size) <= c.MaxMessageSize
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for the in-process watermill gochannel transport.
	ChannelCapabilities = Capabilities{
		Name:                "channel",
		SupportsOrdering:    true,
		SupportsPersistence: true,
		SupportsAck:         true,
		CrossProcess:        false,
	}

	// KafkaCapabilities for Apache Kafka. Each direction is a single-partition
	// topic read by one consumer group.
	KafkaCapabilities = Capabilities{
		Name:                "kafka",
		SupportsOrdering:    true,
		SupportsPersistence: true,
		SupportsAck:         true,
		CrossProcess:        true,
		MaxMessageSize:      1048576, // broker default message.max.bytes
	}

	// RabbitMQCapabilities for RabbitMQ durable queues with a single consumer.
	RabbitMQCapabilities = Capabilities{
		Name:                "rabbitmq",
		SupportsOrdering:    true,
		SupportsPersistence: true,
		SupportsAck:         true,
		CrossProcess:        true,
		MaxMessageSize:      134217728, // 128MB
	}

	// NATSCapabilities for NATS Core subjects through watermill-nats. One
	// publisher connection and a single subscriber preserve order per
	// subject; messages are not retained.
	NATSCapabilities = Capabilities{
		Name:                "nats",
		SupportsOrdering:    true,
		SupportsPersistence: false,
		SupportsAck:         false,
		CrossProcess:        true,
		MaxMessageSize:      1048576, // Default 1MB
	}

	// NATSCoreCapabilities for NATS Core subjects carrying raw frames.
	NATSCoreCapabilities = Capabilities{
		Name:                "nats-core",
		SupportsOrdering:    true,
		SupportsPersistence: false,
		SupportsAck:         false,
		CrossProcess:        true,
		MaxMessageSize:      1048576,
	}

	// WebSocketCapabilities for a single gorilla/websocket connection.
	WebSocketCapabilities = Capabilities{
		Name:                "websocket",
		SupportsOrdering:    true,
		SupportsPersistence: false,
		SupportsAck:         false,
		CrossProcess:        true,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Returns a zero Capabilities struct if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
