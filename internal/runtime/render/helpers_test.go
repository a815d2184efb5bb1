package render

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drblury/uisync/internal/runtime/dispatcher"
)

type sentEvent struct {
	name string
	args []any
}

type recordingSender struct {
	mu     sync.Mutex
	events []sentEvent
	err    error
}

func (s *recordingSender) Send(_ context.Context, eventName string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, sentEvent{name: eventName, args: args})
	return nil
}

func (s *recordingSender) Events() []sentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentEvent(nil), s.events...)
}

// sequences returns the sequence numbers of sent RenderBatch events.
func (s *recordingSender) sequences() []int64 {
	var out []int64
	for _, ev := range s.Events() {
		if ev.name == EventRenderBatch {
			out = append(out, ev.args[0].(int64))
		}
	}
	return out
}

// acks returns the (seq, error) pairs of sent RenderCompleted events.
func (s *recordingSender) acks() []ack {
	var out []ack
	for _, ev := range s.Events() {
		if ev.name != EventRenderCompleted {
			continue
		}
		a := ack{seq: ev.args[0].(int64)}
		if msg, ok := ev.args[1].(string); ok {
			a.err = &msg
		}
		out = append(out, a)
	}
	return out
}

type ack struct {
	seq int64
	err *string
}

func okAck(seq int64) ack { return ack{seq: seq} }

func errAck(seq int64, msg string) ack { return ack{seq: seq, err: &msg} }

func newTestDispatcher(t *testing.T) *dispatcher.Dispatcher {
	t.Helper()
	d := dispatcher.New(context.Background(), dispatcher.Options{Name: "test"})
	t.Cleanup(d.Stop)
	return d
}

// onDispatcher runs fn on d and fails the test on error.
func onDispatcher(t *testing.T, d *dispatcher.Dispatcher, fn func()) {
	t.Helper()
	require.NoError(t, d.Send(func() error {
		fn()
		return nil
	}))
}

func strPtr(s string) *string { return &s }

var errApply = errors.New("element not found")
