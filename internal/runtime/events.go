package runtime

import (
	"context"
	"fmt"

	errspkg "github.com/drblury/uisync/internal/runtime/errors"
	"github.com/drblury/uisync/internal/runtime/ipc"
	"github.com/drblury/uisync/internal/runtime/jsoncodec"
	"github.com/drblury/uisync/transport"
)

// MethodDispatchEvent carries a UI event from the remote endpoint to the
// host.
const MethodDispatchEvent = "DispatchEvent"

// EventDescriptor addresses a UI event to a handler on the host.
type EventDescriptor struct {
	HandlerID   int64  `json:"handler_id"`
	EventType   string `json:"event_type"`
	ComponentID int64  `json:"component_id,omitempty"`
}

// UIEvent is one event raised in the remote UI. Args is the raw JSON the
// remote sent, or nil.
type UIEvent struct {
	Descriptor EventDescriptor
	Args       jsoncodec.RawMessage
}

// EventHandler handles UI events on the host. It runs on the dispatcher, so
// it may call UpdateDisplay and produce the resulting render synchronously.
// A returned error fails the remote DispatchEvent call.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev UIEvent) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, ev UIEvent) error

func (f EventHandlerFunc) HandleEvent(ctx context.Context, ev UIEvent) error { return f(ctx, ev) }

func (s *Service) registerEventHandler(h EventHandler) error {
	return s.peer.Register(MethodDispatchEvent, func(ctx context.Context, args ipc.Args) (any, error) {
		var ev UIEvent
		if err := args.Decode(0, &ev.Descriptor); err != nil {
			return nil, fmt.Errorf("event descriptor: %w", err)
		}
		if args.Len() > 1 && !args.IsNull(1) {
			ev.Args = args.Raw(1)
		}
		return nil, h.HandleEvent(ctx, ev)
	})
}

// DispatchEvent sends a UI event to the host and waits until its handler
// ran. Remote only.
func (s *Service) DispatchEvent(ctx context.Context, descriptor EventDescriptor, eventArgs any) error {
	if s.role != transport.RoleRemote {
		return errspkg.ErrWrongRole
	}
	_, err := s.peer.Invoke(ctx, MethodDispatchEvent, descriptor, eventArgs)
	return err
}
