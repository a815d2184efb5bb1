package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrChannelRequired", ErrChannelRequired, "uisync: channel is required"},
		{"ErrDispatcherStopped", ErrDispatcherStopped, "uisync: dispatcher stopped"},
		{"ErrCanceled", ErrCanceled, "uisync: operation canceled"},
		{"ErrProducerClosed", ErrProducerClosed, "uisync: producer closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestCanceledMatchesContextCanceled(t *testing.T) {
	wrapped := fmt.Errorf("send: %w", ErrCanceled)
	assert.ErrorIs(t, wrapped, context.Canceled)
	assert.ErrorIs(t, wrapped, ErrCanceled)
	assert.NotErrorIs(t, ErrDispatcherStopped, context.Canceled)
}

func TestProtocolViolationMessage(t *testing.T) {
	err := &ProtocolViolationError{Acknowledged: 9, LastProduced: 3}
	assert.Equal(t, "uisync: received an acknowledgement for batch 9 when the last batch produced was 3", err.Error())
}

func TestPanicErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &PanicError{Value: inner}
	assert.ErrorIs(t, err, inner)

	assert.Nil(t, (&PanicError{Value: "text"}).Unwrap())
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "invalid port")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryNone},
		{"canceled", ErrCanceled, CategoryCanceled},
		{"context canceled", context.Canceled, CategoryCanceled},
		{"protocol", &ProtocolViolationError{Acknowledged: 2, LastProduced: 1}, CategoryProtocol},
		{"fatal", fmt.Errorf("wrap: %w", &FatalError{Seq: 1, Message: "x"}), CategoryApply},
		{"batch", &BatchError{Seq: 1, Message: "x"}, CategoryApply},
		{"remote", &RemoteCallError{Method: "m", Message: "x"}, CategoryRemote},
		{"peer fault", &PeerFaultError{Message: "x"}, CategoryRemote},
		{"panic", &PanicError{Value: "x"}, CategoryWork},
		{"transport", ErrChannelClosed, CategoryTransport},
		{"other", errors.New("other"), CategoryWork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
