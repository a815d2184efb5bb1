// Package interop implements request/response calls between the two
// endpoints on top of the event multiplexer.
//
// A call is a BeginInvoke(callID, method, argsJSON) frame answered by exactly
// one EndInvoke(callID, success, resultOrError) frame. Either endpoint may
// call the other.
package interop

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/drblury/uisync/internal/runtime/dispatcher"
	errspkg "github.com/drblury/uisync/internal/runtime/errors"
	"github.com/drblury/uisync/internal/runtime/future"
	"github.com/drblury/uisync/internal/runtime/ids"
	"github.com/drblury/uisync/internal/runtime/ipc"
	"github.com/drblury/uisync/internal/runtime/jsoncodec"
	"github.com/drblury/uisync/internal/runtime/logging"
)

const (
	EventBeginInvoke = "BeginInvoke"
	EventEndInvoke   = "EndInvoke"
)

// Bus is the part of the multiplexer a Peer needs.
type Bus interface {
	Send(ctx context.Context, eventName string, args ...any) error
	On(eventName string, cb ipc.Callback) ipc.Subscription
	Off(sub ipc.Subscription)
}

// Handler serves one inbound call. args holds the decoded call arguments.
// The returned value is encoded as JSON for the caller.
type Handler func(ctx context.Context, args ipc.Args) (any, error)

// Observer receives call-level counters.
type Observer interface {
	CallStarted(method string)
	CallCompleted(method string, elapsed time.Duration, err error)
	CallServed(method string, err error)
}

// Options configures a Peer.
type Options struct {
	Bus Bus
	// Dispatcher runs inbound calls.
	Dispatcher *dispatcher.Dispatcher
	Logger     logging.ServiceLogger
	Observer   Observer
	// Timeout bounds Invoke when the caller's context has no deadline.
	// Zero disables it.
	Timeout time.Duration
	// Context is the parent of the context handed to inbound handlers and
	// used for replies. Close cancels it either way.
	Context context.Context
}

type pendingCall struct {
	method  string
	started time.Time
	result  *future.Future[jsoncodec.RawMessage]
}

// Peer issues calls to, and serves calls from, the other endpoint.
type Peer struct {
	bus      Bus
	d        *dispatcher.Dispatcher
	log      logging.ServiceLogger
	observer Observer
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[string]*pendingCall
	subs     []ipc.Subscription
	closed   bool
}

// New creates a Peer and subscribes it to the call events on the bus.
func New(opts Options) (*Peer, error) {
	if opts.Bus == nil {
		return nil, errspkg.ErrChannelRequired
	}
	if opts.Dispatcher == nil {
		return nil, errspkg.ErrDispatcherRequired
	}
	parent := opts.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	p := &Peer{
		bus:      opts.Bus,
		d:        opts.Dispatcher,
		log:      logging.OrNop(opts.Logger).With(logging.LogFields{"component": "interop"}),
		observer: opts.Observer,
		timeout:  opts.Timeout,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]Handler),
		pending:  make(map[string]*pendingCall),
	}
	p.subs = []ipc.Subscription{
		opts.Bus.On(EventBeginInvoke, p.handleBegin),
		opts.Bus.On(EventEndInvoke, p.handleEnd),
	}
	return p, nil
}

// Register makes method callable by the other endpoint.
func (p *Peer) Register(method string, h Handler) error {
	if method == "" {
		return errspkg.ErrMethodRequired
	}
	if h == nil {
		return fmt.Errorf("uisync: handler for %q is nil", method)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.handlers[method]; ok {
		return fmt.Errorf("%w: %s", errspkg.ErrMethodRegistered, method)
	}
	p.handlers[method] = h
	return nil
}

// Unregister removes method. Calls already running complete normally.
func (p *Peer) Unregister(method string) {
	p.mu.Lock()
	delete(p.handlers, method)
	p.mu.Unlock()
}

// Invoke calls method on the other endpoint and waits for its result.
func (p *Peer) Invoke(ctx context.Context, method string, args ...any) (jsoncodec.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	callID, result := p.begin(ctx, method, args)
	raw, err := result.Wait(ctx)
	if err != nil && ctx.Err() != nil && callID != "" {
		p.forget(callID, ctx.Err())
	}
	return raw, err
}

// InvokeAsync calls method on the other endpoint. The returned future
// completes when the reply arrives or the Peer is closed; it never times out.
func (p *Peer) InvokeAsync(ctx context.Context, method string, args ...any) *future.Future[jsoncodec.RawMessage] {
	if ctx == nil {
		ctx = context.Background()
	}
	_, result := p.begin(ctx, method, args)
	return result
}

// InvokeInto calls method and decodes its result into out. A nil out
// discards the result.
func (p *Peer) InvokeInto(ctx context.Context, out any, method string, args ...any) error {
	raw, err := p.Invoke(ctx, method, args...)
	if err != nil {
		return err
	}
	if out == nil || jsoncodec.IsNull(raw) {
		return nil
	}
	if err := jsoncodec.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (p *Peer) begin(ctx context.Context, method string, args []any) (string, *future.Future[jsoncodec.RawMessage]) {
	if method == "" {
		return "", future.Rejected[jsoncodec.RawMessage](errspkg.ErrMethodRequired)
	}
	argsJSON, err := jsoncodec.MarshalArray(args)
	if err != nil {
		return "", future.Rejected[jsoncodec.RawMessage](fmt.Errorf("encode %s arguments: %w", method, err))
	}

	callID := ids.NewCallID()
	call := &pendingCall{method: method, started: time.Now(), result: future.New[jsoncodec.RawMessage]()}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", future.Canceled[jsoncodec.RawMessage]()
	}
	p.pending[callID] = call
	p.mu.Unlock()

	if p.observer != nil {
		p.observer.CallStarted(method)
	}
	if err := p.bus.Send(ctx, EventBeginInvoke, callID, method, string(argsJSON)); err != nil {
		p.forget(callID, err)
		return callID, call.result
	}
	p.log.Trace("Remote call started", logging.LogFields{"method": method, "call_id": callID})
	return callID, call.result
}

// forget drops a pending call and rejects it with err.
func (p *Peer) forget(callID string, err error) {
	p.mu.Lock()
	call, ok := p.pending[callID]
	delete(p.pending, callID)
	p.mu.Unlock()
	if ok {
		p.finish(callID, call, nil, err)
	}
}

func (p *Peer) finish(callID string, call *pendingCall, raw jsoncodec.RawMessage, err error) {
	if err != nil {
		call.result.Reject(err)
	} else {
		call.result.Resolve(raw)
	}
	if p.observer != nil {
		p.observer.CallCompleted(call.method, time.Since(call.started), err)
	}
	if err != nil {
		p.log.Debug("Remote call failed", logging.LogFields{"method": call.method, "call_id": callID, "error": err.Error()})
	}
}

func (p *Peer) handleEnd(args ipc.Args) {
	callID, err := args.String(0)
	if err != nil {
		p.log.Error("Malformed EndInvoke frame", err, nil)
		return
	}
	success, err := args.Bool(1)
	if err != nil {
		p.log.Error("Malformed EndInvoke frame", err, logging.LogFields{"call_id": callID})
		return
	}

	p.mu.Lock()
	call, ok := p.pending[callID]
	delete(p.pending, callID)
	p.mu.Unlock()
	if !ok {
		p.log.Debug("Reply for unknown call", logging.LogFields{"call_id": callID})
		return
	}

	if success {
		raw := args.Raw(2)
		if raw == nil {
			raw = jsoncodec.Null
		}
		p.finish(callID, call, raw, nil)
		return
	}

	message, decodeErr := args.String(2)
	if decodeErr != nil {
		message = string(args.Raw(2))
	}
	p.finish(callID, call, nil, &errspkg.RemoteCallError{Method: call.method, CallID: callID, Message: message})
}

func (p *Peer) handleBegin(args ipc.Args) {
	callID, err := args.String(0)
	if err != nil {
		p.log.Error("Malformed BeginInvoke frame", err, nil)
		return
	}
	method, err := args.String(1)
	if err != nil {
		p.reply(callID, false, "malformed call: "+err.Error())
		return
	}
	argsJSON, err := args.String(2)
	if err != nil {
		p.reply(callID, false, "malformed call arguments: "+err.Error())
		return
	}
	callArgs, err := jsoncodec.SplitArray([]byte(argsJSON))
	if err != nil {
		p.reply(callID, false, "malformed call arguments: "+err.Error())
		return
	}

	p.mu.Lock()
	h, ok := p.handlers[method]
	p.mu.Unlock()
	if !ok {
		p.log.Info("Call for unknown method", logging.LogFields{"method": method, "call_id": callID})
		p.serve(method, errspkg.ErrUnknownMethod)
		p.reply(callID, false, fmt.Sprintf("%s %q", errspkg.ErrUnknownMethod.Error(), method))
		return
	}

	// Inbound calls run on the dispatcher in arrival order. Post keeps the
	// multiplexer free to deliver replies to calls the handler makes itself.
	if err := p.d.Post(func() error {
		result, err := p.call(h, ipc.Args(callArgs))
		p.serve(method, err)
		if err != nil {
			p.reply(callID, false, err.Error())
			return nil
		}
		p.reply(callID, true, result)
		return nil
	}); err != nil {
		p.reply(callID, false, err.Error())
	}
}

func (p *Peer) call(h Handler, args ipc.Args) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.PanicError{Value: r, Stack: debug.Stack()}
			p.log.Error("Call handler panicked", err, nil)
		}
	}()
	return h(p.ctx, args)
}

func (p *Peer) serve(method string, err error) {
	if p.observer != nil {
		p.observer.CallServed(method, err)
	}
}

func (p *Peer) reply(callID string, success bool, resultOrError any) {
	if err := p.bus.Send(p.ctx, EventEndInvoke, callID, success, resultOrError); err != nil {
		p.log.Error("Failed to send call reply", err, logging.LogFields{"call_id": callID})
	}
}

// Pending returns the number of outbound calls awaiting a reply.
func (p *Peer) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close rejects every pending call with ErrCanceled and stops serving
// inbound calls. It is safe to call more than once.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pending := p.pending
	p.pending = make(map[string]*pendingCall)
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	for _, sub := range subs {
		p.bus.Off(sub)
	}
	p.cancel()
	for callID, call := range pending {
		p.finish(callID, call, nil, errspkg.ErrCanceled)
	}
	return nil
}
