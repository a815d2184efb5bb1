// Package transport defines the Channel contract shared by the two uisync
// endpoints and the registry that builds concrete channels from config.
// Each transport implementation (channel, kafka, rabbitmq, nats, nats-core, websocket)
// lives in its own sub-package and registers itself with the registry.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
)

// Channel is a bidirectional, ordered, reliable text-message pipe between the
// host and the remote endpoint. Messages sent by one side arrive at the other
// in send order.
type Channel interface {
	// SendMessage queues msg for delivery to the peer.
	SendMessage(ctx context.Context, msg string) error
	// Subscribe returns the inbound message stream. The stream is closed when
	// ctx is done or the channel is closed. A channel supports one subscriber.
	Subscribe(ctx context.Context) (<-chan string, error)
	Close() error
}

// Role identifies which end of the pair a process plays.
type Role string

const (
	// RoleHost owns the UI state and produces render batches.
	RoleHost Role = "host"
	// RoleRemote applies render batches and acknowledges them.
	RoleRemote Role = "remote"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleHost || r == RoleRemote
}

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == RoleHost {
		return RoleRemote
	}
	return RoleHost
}

// DefaultTopicPrefix names the topics used when no prefix is configured.
const DefaultTopicPrefix = "uisync"

// Topics returns the outbound and inbound topic names for role. The host
// publishes to "<prefix>.to_remote" and reads "<prefix>.to_host"; the remote
// does the opposite.
func Topics(prefix string, role Role) (outbound, inbound string) {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	toRemote := fmt.Sprintf("%s.to_remote", prefix)
	toHost := fmt.Sprintf("%s.to_host", prefix)
	if role == RoleRemote {
		return toHost, toRemote
	}
	return toRemote, toHost
}

// Builder is the function signature for creating a channel from config.
// Each transport package provides a Builder that is registered by name.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Channel, error)

// Config provides the configuration values needed by transports.
// This interface allows transports to read only what they need without
// depending on the full config package.
type Config interface {
	// GetTransport returns the transport name.
	GetTransport() string
	// GetRole returns "host" or "remote".
	GetRole() string
	// GetTopicPrefix returns the prefix for topic, subject and queue names.
	GetTopicPrefix() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// WebSocket
	GetWebSocketURL() string
	GetWebSocketListenAddress() string
}

// CapabilitiesProvider is implemented by channels that can report their
// capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// RoleOf parses the configured role, defaulting to host.
func RoleOf(cfg Config) Role {
	if cfg == nil {
		return RoleHost
	}
	role := Role(cfg.GetRole())
	if !role.Valid() {
		return RoleHost
	}
	return role
}
