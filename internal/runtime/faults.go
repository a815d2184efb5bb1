package runtime

import (
	"errors"
	"fmt"

	errspkg "github.com/drblury/uisync/internal/runtime/errors"
	"github.com/drblury/uisync/internal/runtime/ipc"
	"github.com/drblury/uisync/internal/runtime/logging"
)

// EventError carries a fault message to the other endpoint. Either side may
// send it; the receiver routes it to its unhandled-error hook.
const EventError = "Error"

// reportToPeer tells the other endpoint about err. The local report is left
// to the caller.
func (s *Service) reportToPeer(err error) {
	if sendErr := s.mux.Send(s.ctx, EventError, err.Error()); sendErr != nil {
		s.Logger.Error("Failed to report error to peer", sendErr, logging.LogFields{"error": err.Error()})
	}
}

// onPeerError receives Error(message) from the other endpoint.
func (s *Service) onPeerError(args ipc.Args) {
	msg, err := args.String(0)
	if err != nil {
		s.reportUnhandled(fmt.Errorf("malformed %s: %w", EventError, err))
		return
	}
	s.reportUnhandled(&errspkg.PeerFaultError{Message: msg})
}

// acknowledge hands RenderCompleted to the producer. A protocol violation is
// reported to the remote endpoint as well as locally.
func (s *Service) acknowledge(seq int64, errMsg *string) error {
	err := s.producer.OnAcknowledge(seq, errMsg)
	var violation *errspkg.ProtocolViolationError
	if errors.As(err, &violation) {
		s.reportToPeer(violation)
	}
	return err
}
