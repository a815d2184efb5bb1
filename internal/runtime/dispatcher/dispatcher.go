// Package dispatcher implements the single-threaded synchronization context
// every piece of UI and batch-protocol state is mutated on.
//
// Exactly one goroutine drains a FIFO of work items. Post enqueues without
// waiting; Send waits for completion, or runs inline when the caller already
// is the dispatch goroutine.
package dispatcher

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	errspkg "github.com/drblury/uisync/internal/runtime/errors"
	"github.com/drblury/uisync/internal/runtime/future"
	"github.com/drblury/uisync/internal/runtime/logging"
)

// State is the lifecycle position of a Dispatcher.
type State int32

const (
	Running State = iota
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options configures a Dispatcher.
type Options struct {
	// Name labels log lines and metrics.
	Name   string
	Logger logging.ServiceLogger
	// OnUnhandledError receives every error returned or panic raised by a
	// work item. It runs on the dispatch goroutine.
	OnUnhandledError func(error)
	// OnWorkCompleted observes each executed item.
	OnWorkCompleted func(elapsed time.Duration, err error)
}

type workItem struct {
	fn    func() error
	abort func(error)
}

// Dispatcher serializes work onto one goroutine.
type Dispatcher struct {
	name        string
	log         logging.ServiceLogger
	onUnhandled func(error)
	onWork      func(time.Duration, error)

	ctx   context.Context
	mu    sync.Mutex
	queue []*workItem
	// closing is set once Stop or cancellation stops admission.
	closing bool
	wake    chan struct{}

	state  atomic.Int32
	loopID atomic.Uint64
	done   chan struct{}
}

// New starts a dispatcher. Cancelling ctx interrupts the loop and fails the
// work still queued with ErrCanceled.
func New(ctx context.Context, opts Options) *Dispatcher {
	if ctx == nil {
		ctx = context.Background()
	}
	name := opts.Name
	if name == "" {
		name = "dispatcher"
	}
	d := &Dispatcher{
		name:        name,
		log:         logging.OrNop(opts.Logger).With(logging.LogFields{"dispatcher": name}),
		onUnhandled: opts.OnUnhandledError,
		onWork:      opts.OnWorkCompleted,
		ctx:         ctx,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	d.state.Store(int32(Running))

	started := make(chan struct{})
	go d.run(started)
	<-started
	return d
}

// Name returns the configured dispatcher name.
func (d *Dispatcher) Name() string { return d.name }

// State reports the current lifecycle state.
func (d *Dispatcher) State() State { return State(d.state.Load()) }

// CheckAccess reports whether the caller runs on the dispatch goroutine.
func (d *Dispatcher) CheckAccess() bool {
	id := d.loopID.Load()
	return id != 0 && id == goroutineID()
}

// Len returns the number of queued, not yet started, work items.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Post enqueues fn and returns immediately.
func (d *Dispatcher) Post(fn func() error) error {
	if fn == nil {
		return nil
	}
	return d.enqueue(&workItem{fn: func() error { return d.execute(fn) }})
}

// Send runs fn on the dispatch goroutine and waits for it. Called from the
// dispatch goroutine itself, fn runs inline. The returned error is fn's error,
// a *PanicError, ErrCanceled when the dispatcher was torn down before fn ran,
// or ErrDispatcherStopped.
func (d *Dispatcher) Send(fn func() error) error {
	if fn == nil {
		return nil
	}
	if d.CheckAccess() {
		return d.execute(fn)
	}

	result := make(chan error, 1)
	item := &workItem{
		fn: func() error {
			err := d.execute(fn)
			result <- err
			return err
		},
		abort: func(err error) { result <- err },
	}
	if err := d.enqueue(item); err != nil {
		return err
	}
	return <-result
}

// InvokeAsync posts fn and returns a future for its result. A panic rejects
// the future with *PanicError; teardown rejects it with ErrCanceled.
func InvokeAsync[T any](d *Dispatcher, fn func() (T, error)) *future.Future[T] {
	f := future.New[T]()
	item := &workItem{
		fn: func() error {
			var v T
			err := d.execute(func() error {
				var err error
				v, err = fn()
				return err
			})
			if err != nil {
				f.Reject(err)
				return err
			}
			f.Resolve(v)
			return nil
		},
		abort: func(err error) { f.Reject(err) },
	}
	if err := d.enqueue(item); err != nil {
		f.Reject(err)
	}
	return f
}

// Invoke runs fn on the dispatcher and waits for its result, inline when
// called from the dispatch goroutine.
func Invoke[T any](ctx context.Context, d *Dispatcher, fn func() (T, error)) (T, error) {
	if d.CheckAccess() {
		var v T
		err := d.execute(func() error {
			var err error
			v, err = fn()
			return err
		})
		return v, err
	}
	return InvokeAsync(d, fn).Wait(ctx)
}

// Stop closes the queue, lets the loop drain what is already queued and waits
// for it to exit. Called from the dispatch goroutine it only requests the stop.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closing {
		d.closing = true
		d.state.CompareAndSwap(int32(Running), int32(Stopping))
	}
	d.mu.Unlock()
	d.signal()

	if d.CheckAccess() {
		return
	}
	<-d.done
}

// Done is closed once the loop has exited.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Wait blocks until the loop has exited.
func (d *Dispatcher) Wait() { <-d.done }

func (d *Dispatcher) enqueue(item *workItem) error {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return errspkg.ErrDispatcherStopped
	}
	d.queue = append(d.queue, item)
	d.mu.Unlock()
	d.signal()
	return nil
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run(started chan<- struct{}) {
	d.loopID.Store(goroutineID())
	close(started)
	defer func() {
		d.loopID.Store(0)
		d.state.Store(int32(Stopped))
		close(d.done)
		d.log.Debug("Dispatcher stopped", nil)
	}()

	for {
		item, ok := d.next()
		if !ok {
			return
		}
		_ = item.fn()
	}
}

// next blocks for the next item. It reports false once the queue is closed and
// drained, or the construction context is done.
func (d *Dispatcher) next() (*workItem, bool) {
	for {
		if d.ctx.Err() != nil {
			d.abort()
			return nil, false
		}

		d.mu.Lock()
		if len(d.queue) > 0 {
			item := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()
			return item, true
		}
		closing := d.closing
		d.mu.Unlock()
		if closing {
			return nil, false
		}

		select {
		case <-d.wake:
		case <-d.ctx.Done():
		}
	}
}

func (d *Dispatcher) abort() {
	d.mu.Lock()
	d.closing = true
	d.state.Store(int32(Stopping))
	pending := d.queue
	d.queue = nil
	d.mu.Unlock()

	if len(pending) > 0 {
		d.log.Debug("Dispatcher cancelled with queued work", logging.LogFields{"queued": len(pending)})
	}
	for _, item := range pending {
		if item.abort != nil {
			item.abort(errspkg.ErrCanceled)
		}
	}
}

// execute runs fn with panic recovery and routes failures to the
// unhandled-error hook.
func (d *Dispatcher) execute(fn func() error) error {
	start := time.Now()
	err := safeCall(fn)
	if d.onWork != nil {
		d.onWork(time.Since(start), err)
	}
	if err != nil {
		d.reportUnhandled(err)
	}
	return err
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

func (d *Dispatcher) reportUnhandled(err error) {
	d.log.Error("Unhandled dispatcher work error", err, logging.LogFields{"category": string(errspkg.Classify(err))})
	if d.onUnhandled == nil {
		return
	}
	if hookErr := safeCall(func() error {
		d.onUnhandled(err)
		return nil
	}); hookErr != nil {
		d.log.Error("Unhandled error hook panicked", hookErr, nil)
	}
}
