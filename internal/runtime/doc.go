/*
Package runtime wires one uisync endpoint together.

# Package Structure

## Core Service (service.go)

The Service struct owns:
  - the transport Channel and the event Multiplexer on top of it
  - the Dispatcher that serialises all protocol state
  - the render batch Producer (host) or Consumer (remote)
  - the remote call Peer
  - HTTP servers for metrics and the status API

## Startup (handshake.go, startup.go)

The host waits for the remote's Init event, then attaches the root
components collected by Startup and renders each of them once.

## Hooks & Metrics (hooks.go, metrics.go)

Pre-built BatchHooks for logging, Prometheus metrics and alerting.

## Status (status.go, resources.go)

HTTP API for introspecting the endpoint: dispatcher queue, pending batches,
consumer cursor, handshake state and process resource usage.

# Sub-packages

  - config/: endpoint configuration with validation
  - dispatcher/: the single-goroutine sync context
  - errors/: sentinel errors, error types and classification
  - future/: completion handles for batches and remote calls
  - ids/: ULID generation for endpoints and calls
  - interop/: remote method calls over BeginInvoke/EndInvoke
  - ipc/: the event multiplexer and frame codec
  - jsoncodec/: JSON marshaling utilities
  - logging/: logger interface and adapters
  - render/: the render batch producer and consumer

# Usage Example

	cfg := &uisync.Config{Role: "host", Transport: "websocket", WebSocketListenAddress: ":8765"}

	svc := uisync.NewService(cfg, logger, ctx, uisync.ServiceDependencies{
		Startup: uisync.StartupFunc(func(b *uisync.ApplicationBuilder) {
			b.AddRootComponent("#app", app)
		}),
	})

	go svc.Start(ctx)
	seq, err := svc.UpdateDisplay(payload).Wait(ctx)
*/
package runtime
