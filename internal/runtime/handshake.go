package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	errspkg "github.com/drblury/uisync/internal/runtime/errors"
	"github.com/drblury/uisync/internal/runtime/ipc"
	"github.com/drblury/uisync/internal/runtime/logging"
	"github.com/drblury/uisync/transport"
)

// EventInit is sent once by the remote endpoint when it is ready.
const EventInit = "Init"

// InitState is what the remote endpoint announced in its Init event.
type InitState struct {
	InitialURI string    `json:"initial_uri"`
	BaseURI    string    `json:"base_uri"`
	ReceivedAt time.Time `json:"received_at"`
	// Extra holds any arguments after the base URI.
	Extra ipc.Args `json:"-"`
}

type handshake struct {
	once  sync.Once
	done  chan struct{}
	state InitState
}

func newHandshake() *handshake {
	return &handshake{done: make(chan struct{})}
}

func (h *handshake) complete(state InitState) bool {
	completed := false
	h.once.Do(func() {
		h.state = state
		close(h.done)
		completed = true
	})
	return completed
}

func (h *handshake) completed() (InitState, bool) {
	select {
	case <-h.done:
		return h.state, true
	default:
		return InitState{}, false
	}
}

func parseInit(args ipc.Args) (InitState, error) {
	initialURI, err := args.String(0)
	if err != nil {
		return InitState{}, fmt.Errorf("init: initial uri: %w", err)
	}
	baseURI, err := args.String(1)
	if err != nil {
		return InitState{}, fmt.Errorf("init: base uri: %w", err)
	}
	state := InitState{InitialURI: initialURI, BaseURI: baseURI, ReceivedAt: time.Now()}
	if args.Len() > 2 {
		state.Extra = args[2:]
	}
	return state, nil
}

// listenForInit subscribes the host to Init. The subscription is removed
// once a well-formed Init arrived; later Init events have no subscriber and
// are dropped by the multiplexer. A malformed Init is reported and the host
// keeps waiting.
func (s *Service) listenForInit() {
	var sub ipc.Subscription
	sub = s.mux.On(EventInit, func(args ipc.Args) {
		state, err := parseInit(args)
		if err != nil {
			s.reportUnhandled(err)
			return
		}
		s.mux.Off(sub)
		if !s.handshake.complete(state) {
			return
		}
		s.navigation.seed(state)
		s.Logger.Info("Remote endpoint initialised", logging.LogFields{
			"initial_uri": state.InitialURI,
			"base_uri":    state.BaseURI,
		})
		s.attachRootComponents()
	})
}

// SendInit announces the remote endpoint to the host. Only the remote role
// sends Init.
func (s *Service) SendInit(ctx context.Context, initialURI, baseURI string, extra ...any) error {
	if s.role != transport.RoleRemote {
		return errspkg.ErrWrongRole
	}
	args := append([]any{initialURI, baseURI}, extra...)
	return s.mux.Send(ctx, EventInit, args...)
}

// WaitForInit blocks until the remote endpoint sent Init. Without a deadline
// on ctx the configured handshake timeout applies.
func (s *Service) WaitForInit(ctx context.Context) (InitState, error) {
	if s.role != transport.RoleHost {
		return InitState{}, errspkg.ErrWrongRole
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && s.Conf.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Conf.HandshakeTimeout)
		defer cancel()
	}
	select {
	case <-s.handshake.done:
		return s.handshake.state, nil
	case <-ctx.Done():
		return InitState{}, fmt.Errorf("%w: %w", errspkg.ErrHandshakeIncomplete, ctx.Err())
	}
}
