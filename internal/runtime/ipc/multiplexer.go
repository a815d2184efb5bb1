// Package ipc multiplexes named events over a single transport Channel.
//
// Every frame has the form "<eventName>:<json-array>", where the array holds
// the event arguments in order. The event name ends at the first ':'.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"

	errspkg "github.com/drblury/uisync/internal/runtime/errors"
	"github.com/drblury/uisync/internal/runtime/jsoncodec"
	"github.com/drblury/uisync/internal/runtime/logging"
	"github.com/drblury/uisync/transport"
)

// Drop reasons reported to the Observer.
const (
	DropUnknownEvent = "unknown_event"
	DropMalformed    = "malformed"
)

// Callback handles one inbound event. It runs on the dispatch goroutine of
// the multiplexer, never concurrently with another callback.
type Callback func(args Args)

// Subscription identifies one registration for Off.
type Subscription struct {
	event string
	id    uint64
}

// Event returns the event name the subscription is registered for.
func (s Subscription) Event() string { return s.event }

// Observer receives frame-level counters.
type Observer interface {
	FrameSent(event string)
	FrameReceived(event string)
	FrameDropped(event, reason string)
}

// Options configures a Multiplexer.
type Options struct {
	Logger   logging.ServiceLogger
	Observer Observer
}

type registration struct {
	id uint64
	cb Callback
}

// Multiplexer routes frames between a Channel and named event callbacks.
type Multiplexer struct {
	channel  transport.Channel
	log      logging.ServiceLogger
	observer Observer

	mu            sync.Mutex
	registrations map[string][]registration
	nextID        uint64

	inbox   *inbox
	running atomic.Bool
	cancel  context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// New creates a multiplexer over channel.
func New(channel transport.Channel, opts Options) (*Multiplexer, error) {
	if channel == nil {
		return nil, errspkg.ErrChannelRequired
	}
	return &Multiplexer{
		channel:       channel,
		log:           logging.OrNop(opts.Logger).With(logging.LogFields{"component": "ipc"}),
		observer:      opts.Observer,
		registrations: make(map[string][]registration),
		inbox:         newInbox(),
	}, nil
}

// Send encodes args as a JSON array and writes one frame.
func (m *Multiplexer) Send(ctx context.Context, eventName string, args ...any) error {
	if err := validateEventName(eventName); err != nil {
		return err
	}
	payload, err := jsoncodec.MarshalArray(args)
	if err != nil {
		return fmt.Errorf("encode %s arguments: %w", eventName, err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := m.channel.SendMessage(ctx, eventName+":"+string(payload)); err != nil {
		return fmt.Errorf("send %s: %w", eventName, err)
	}
	if m.observer != nil {
		m.observer.FrameSent(eventName)
	}
	return nil
}

func validateEventName(name string) error {
	if name == "" {
		return errspkg.ErrEventNameRequired
	}
	if strings.Contains(name, ":") {
		return fmt.Errorf("uisync: event name %q must not contain ':'", name)
	}
	return nil
}

// On registers a durable callback. Callbacks for one event run in
// registration order.
func (m *Multiplexer) On(eventName string, cb Callback) Subscription {
	return m.register(eventName, func(Subscription) Callback { return cb })
}

// Once registers a callback that unregisters itself before its first run.
func (m *Multiplexer) Once(eventName string, cb Callback) Subscription {
	var fired atomic.Bool
	return m.register(eventName, func(sub Subscription) Callback {
		return func(args Args) {
			if !fired.CompareAndSwap(false, true) {
				return
			}
			m.Off(sub)
			cb(args)
		}
	})
}

func (m *Multiplexer) register(eventName string, build func(Subscription) Callback) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	sub := Subscription{event: eventName, id: m.nextID}
	m.registrations[eventName] = append(m.registrations[eventName], registration{id: sub.id, cb: build(sub)})
	return sub
}

// Off removes one registration. Unknown subscriptions are ignored.
func (m *Multiplexer) Off(sub Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	regs := m.registrations[sub.event]
	for i, reg := range regs {
		if reg.id != sub.id {
			continue
		}
		next := make([]registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(m.registrations, sub.event)
		} else {
			m.registrations[sub.event] = next
		}
		return
	}
}

// Registered returns the number of callbacks for eventName.
func (m *Multiplexer) Registered(eventName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.registrations[eventName])
}

// HandleMessage decodes one frame and invokes the callbacks registered at the
// moment of dispatch. Frames for unknown events are dropped.
func (m *Multiplexer) HandleMessage(raw string) error {
	idx := strings.IndexByte(raw, ':')
	if idx <= 0 {
		m.drop("", DropMalformed)
		err := fmt.Errorf("uisync: malformed frame: missing event name")
		m.log.Error("Dropping inbound frame", err, logging.LogFields{"frame_length": len(raw)})
		return err
	}
	eventName := raw[:idx]

	m.mu.Lock()
	regs := m.registrations[eventName]
	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)
	m.mu.Unlock()

	if len(snapshot) == 0 {
		m.drop(eventName, DropUnknownEvent)
		m.log.Debug("No callbacks for inbound event", logging.LogFields{"event": eventName})
		return nil
	}

	items, err := jsoncodec.SplitArray([]byte(raw[idx+1:]))
	if err != nil {
		m.drop(eventName, DropMalformed)
		err = fmt.Errorf("uisync: malformed %s arguments: %w", eventName, err)
		m.log.Error("Dropping inbound frame", err, logging.LogFields{"event": eventName})
		return err
	}
	if m.observer != nil {
		m.observer.FrameReceived(eventName)
	}

	args := Args(items)
	for _, reg := range snapshot {
		m.invoke(eventName, reg.cb, args)
	}
	return nil
}

func (m *Multiplexer) invoke(eventName string, cb Callback, args Args) {
	defer func() {
		if r := recover(); r != nil {
			err := &errspkg.PanicError{Value: r, Stack: debug.Stack()}
			m.log.Error("Event callback panicked", err, logging.LogFields{"event": eventName})
		}
	}()
	cb(args)
}

func (m *Multiplexer) drop(eventName, reason string) {
	if m.observer != nil {
		m.observer.FrameDropped(eventName, reason)
	}
}

// Run subscribes to the channel and dispatches inbound frames until ctx is
// done, the channel stream ends or Close is called. The transport is drained
// by a reader goroutine into an unbounded inbox; callbacks run on the calling
// goroutine in arrival order.
func (m *Multiplexer) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("uisync: multiplexer already running")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	stream, err := m.channel.Subscribe(runCtx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	go func() {
		defer m.inbox.close()
		for msg := range stream {
			m.inbox.push(msg)
		}
	}()

	m.log.Debug("Multiplexer running", nil)
	for {
		msg, ok := m.inbox.pop(runCtx)
		if !ok {
			m.log.Debug("Multiplexer stopped", nil)
			return nil
		}
		_ = m.HandleMessage(msg)
	}
}

// Backlog returns the number of received frames waiting for dispatch.
func (m *Multiplexer) Backlog() int {
	return m.inbox.len()
}

// Close stops Run and closes the channel. It is safe to call more than once.
func (m *Multiplexer) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		cancel := m.cancel
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		m.inbox.close()
		m.closeErr = m.channel.Close()
	})
	return m.closeErr
}
