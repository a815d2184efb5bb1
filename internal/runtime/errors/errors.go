package errors

import (
	"context"
	sterrors "errors"
	"fmt"
)

var (
	ErrChannelRequired     = sterrors.New("uisync: channel is required")
	ErrDispatcherRequired  = sterrors.New("uisync: dispatcher is required")
	ErrSenderRequired      = sterrors.New("uisync: event sender is required")
	ErrApplierRequired     = sterrors.New("uisync: batch applier is required")
	ErrConfigRequired      = sterrors.New("uisync: configuration is required")
	ErrLoggerRequired      = sterrors.New("uisync: logger is required")
	ErrServiceRequired     = sterrors.New("uisync: service is required")
	ErrEventNameRequired   = sterrors.New("uisync: event name is required")
	ErrMethodRequired      = sterrors.New("uisync: method name is required")
	ErrDispatcherStopped   = sterrors.New("uisync: dispatcher stopped")
	ErrChannelClosed       = sterrors.New("uisync: channel closed")
	ErrProducerClosed      = sterrors.New("uisync: producer closed")
	ErrWrongRole           = sterrors.New("uisync: operation not available for this endpoint role")
	ErrHandshakeIncomplete = sterrors.New("uisync: handshake not completed")
	ErrNotOnDispatcher     = sterrors.New("uisync: must be called from the dispatcher goroutine")
	ErrUnknownMethod       = sterrors.New("uisync: unknown method")
	ErrMethodRegistered    = sterrors.New("uisync: method already registered")
)

// ErrCanceled is returned for work, batches and calls abandoned during
// teardown. It matches context.Canceled through errors.Is.
var ErrCanceled error = canceledError{}

type canceledError struct{}

func (canceledError) Error() string { return "uisync: operation canceled" }

func (canceledError) Is(target error) bool { return target == context.Canceled }

// ProtocolViolationError reports an acknowledgement for a batch that was never
// produced. It is fatal to the producer that observed it.
type ProtocolViolationError struct {
	Acknowledged int64
	LastProduced int64
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("uisync: received an acknowledgement for batch %d when the last batch produced was %d", e.Acknowledged, e.LastProduced)
}

// FatalError is the sticky fault latched by a consumer after its first failed
// apply. Seq is the batch the fault is reported against.
type FatalError struct {
	Seq     int64
	Message string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("uisync: batch %d failed to apply: %s", e.Seq, e.Message)
}

// BatchError rejects a produced batch that the remote side could not apply.
type BatchError struct {
	Seq     int64
	Message string
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("uisync: remote failed to apply batch %d: %s", e.Seq, e.Message)
}

// PanicError carries a value recovered from a panicking work item.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("uisync: work item panicked: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// RemoteCallError is returned to callers whose remote invocation failed on the
// other endpoint.
type RemoteCallError struct {
	Method  string
	CallID  string
	Message string
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("uisync: remote call %s (%s) failed: %s", e.Method, e.CallID, e.Message)
}

// PeerFaultError is a fault the other endpoint reported through its Error
// event.
type PeerFaultError struct {
	Message string
}

func (e *PeerFaultError) Error() string {
	return "uisync: peer reported an error: " + e.Message
}

// ConfigValidationError wraps configuration problems found by Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "uisync: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// Category groups errors for metrics labels and log routing.
type Category string

const (
	CategoryNone      Category = "none"
	CategoryCanceled  Category = "canceled"
	CategoryProtocol  Category = "protocol"
	CategoryApply     Category = "apply"
	CategoryRemote    Category = "remote"
	CategoryWork      Category = "work"
	CategoryTransport Category = "transport"
)

// Classify maps an error onto its Category.
func Classify(err error) Category {
	if err == nil {
		return CategoryNone
	}

	var (
		violation *ProtocolViolationError
		fatal     *FatalError
		batch     *BatchError
		panicked  *PanicError
		remote    *RemoteCallError
		peer      *PeerFaultError
	)
	switch {
	case sterrors.Is(err, ErrCanceled), sterrors.Is(err, context.Canceled):
		return CategoryCanceled
	case sterrors.As(err, &violation):
		return CategoryProtocol
	case sterrors.As(err, &fatal), sterrors.As(err, &batch):
		return CategoryApply
	case sterrors.As(err, &remote), sterrors.As(err, &peer):
		return CategoryRemote
	case sterrors.As(err, &panicked):
		return CategoryWork
	case sterrors.Is(err, ErrChannelClosed):
		return CategoryTransport
	}
	return CategoryWork
}
