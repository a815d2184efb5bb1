package interop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drblury/uisync/internal/runtime/dispatcher"
	"github.com/drblury/uisync/internal/runtime/ipc"
	"github.com/drblury/uisync/internal/runtime/jsoncodec"
)

type sentFrame struct {
	event string
	args  []any
}

// recordingBus records outbound frames and lets tests inject inbound ones.
type recordingBus struct {
	mu     sync.Mutex
	sent   []sentFrame
	err    error
	nextID int
	subs   map[ipc.Subscription]ipc.Callback
	events map[ipc.Subscription]string
}

func newRecordingBus() *recordingBus {
	return &recordingBus{
		subs:   make(map[ipc.Subscription]ipc.Callback),
		events: make(map[ipc.Subscription]string),
	}
}

func (b *recordingBus) Send(_ context.Context, eventName string, args ...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, sentFrame{event: eventName, args: args})
	return nil
}

// On hands out subscriptions from a private multiplexer so they are real
// ipc.Subscription values.
func (b *recordingBus) On(eventName string, cb ipc.Callback) ipc.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := subscriptionSource.On(eventName, func(ipc.Args) {})
	b.subs[sub] = cb
	b.events[sub] = eventName
	return sub
}

func (b *recordingBus) Off(sub ipc.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
	delete(b.events, sub)
}

func (b *recordingBus) Registered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *recordingBus) Sent() []sentFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentFrame(nil), b.sent...)
}

// deliver encodes args the way the multiplexer would and invokes every
// callback registered for eventName.
func (b *recordingBus) deliver(t *testing.T, eventName string, args ...any) {
	t.Helper()
	payload, err := jsoncodec.MarshalArray(args)
	require.NoError(t, err)
	items, err := jsoncodec.SplitArray(payload)
	require.NoError(t, err)

	b.mu.Lock()
	var cbs []ipc.Callback
	for sub, cb := range b.subs {
		if b.events[sub] == eventName {
			cbs = append(cbs, cb)
		}
	}
	b.mu.Unlock()
	for _, cb := range cbs {
		cb(ipc.Args(items))
	}
}

var subscriptionSource = func() *ipc.Multiplexer {
	mux, err := ipc.New(nopChannel{}, ipc.Options{})
	if err != nil {
		panic(err)
	}
	return mux
}()

type nopChannel struct{}

func (nopChannel) SendMessage(context.Context, string) error { return nil }

func (nopChannel) Subscribe(context.Context) (<-chan string, error) {
	return make(chan string), nil
}

func (nopChannel) Close() error { return nil }

func newTestPeer(t *testing.T, bus Bus, opts Options) *Peer {
	t.Helper()
	d := dispatcher.New(context.Background(), dispatcher.Options{Name: "test"})
	opts.Bus = bus
	opts.Dispatcher = d
	peer, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = peer.Close()
		d.Stop()
	})
	return peer
}

type recordingObserver struct {
	mu                       sync.Mutex
	starts, completes, serve []string
}

func outcome(method string, err error) string {
	if err != nil {
		return method + ":error"
	}
	return method + ":<nil>"
}

func (o *recordingObserver) CallStarted(method string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts = append(o.starts, method)
}

func (o *recordingObserver) CallCompleted(method string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completes = append(o.completes, outcome(method, err))
}

func (o *recordingObserver) CallServed(method string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.serve = append(o.serve, outcome(method, err))
}

func (o *recordingObserver) started() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.starts...)
}

func (o *recordingObserver) completed() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.completes...)
}

func (o *recordingObserver) served() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.serve...)
}
