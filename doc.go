// Package uisync keeps a UI rendered on a host process in sync with a remote
// endpoint that displays it. Both ends exchange named events over a single
// bidirectional channel; every frame is "<eventName>:<json-array>".
//
// The host produces render batches. Each batch gets a strictly increasing
// sequence number and stays pending until the remote acknowledges it with
// RenderCompleted. Acknowledgements are cumulative, so acknowledging batch N
// retires every pending batch up to N. The remote applies batches strictly in
// order, replays acknowledgements for resent batches, drops batches that
// arrive ahead of its cursor and latches the first apply failure for good.
//
// All protocol state of an endpoint is owned by its Dispatcher, a single
// goroutine that runs posted work in order. UpdateDisplay may be called from
// any goroutine; it hops onto the dispatcher before numbering the batch.
//
// # Transports
//
// Config.Transport selects how the two endpoints are connected:
//   - channel: in-process Go channels (tests, embedding)
//   - websocket: one peer-to-peer WebSocket connection
//   - kafka: two topics through Kafka
//   - rabbitmq: two durable AMQP queues
//   - nats: two NATS subjects through watermill
//   - nats-core: two NATS subjects carrying raw frames
//
// # Startup
//
// The remote sends Init once it is ready. The host then asks the remote to
// attach every root component registered through Startup and renders each
// root for the first time.
//
// # Remote calls
//
// Service.Peer invokes named methods on the other endpoint with
// BeginInvoke/EndInvoke and serves methods registered on it. Handlers run on
// the dispatcher.
//
// # Observability
//
// Logging goes through ServiceLogger (slog or Watermill adapters). With
// MetricsEnabled, Prometheus collectors are served on /metrics; with
// StatusEnabled, a JSON snapshot of the endpoint is served on /api/status.
// BatchHooks observe every batch lifecycle step on either side.
package uisync
