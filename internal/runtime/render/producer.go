package render

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/uisync/internal/runtime/dispatcher"
	errspkg "github.com/drblury/uisync/internal/runtime/errors"
	"github.com/drblury/uisync/internal/runtime/future"
	"github.com/drblury/uisync/internal/runtime/logging"
)

const tracerName = "uisync-render"

// ProducerOptions configures a Producer.
type ProducerOptions struct {
	// Context bounds every batch write. Cancelling it unblocks a send that
	// is stuck in the transport. Defaults to context.Background().
	Context    context.Context
	Dispatcher *dispatcher.Dispatcher
	Sender     Sender
	Logger     logging.ServiceLogger
	// FirstSequence numbers the first batch. Defaults to 1.
	FirstSequence int64
	// MaxPendingBatches bounds unacknowledged batches in flight. Further
	// batches wait in a local backlog. Zero means unbounded.
	MaxPendingBatches int
	Hooks             BatchHooks
	Tracer            trace.Tracer
}

// ProducerStats is a point-in-time view of a Producer.
type ProducerStats struct {
	NextSequence     int64 `json:"next_sequence"`
	LastAcknowledged int64 `json:"last_acknowledged"`
	Pending          int   `json:"pending"`
	Queued           int   `json:"queued"`
	Closed           bool  `json:"closed"`
	Fault            error `json:"-"`
}

// Producer sends render batches and tracks them until acknowledged.
//
// All state is owned by the dispatcher goroutine: Produce and OnAcknowledge
// must run there. No lock is taken.
type Producer struct {
	ctx        context.Context
	d          *dispatcher.Dispatcher
	sender     Sender
	log        logging.ServiceLogger
	hooks      BatchHooks
	tracer     trace.Tracer
	maxPending int

	next      int64
	lastAcked int64
	pending   []*pendingBatch
	backlog   []*queuedBatch
	disposing bool
	fault     error
}

// NewProducer validates opts and returns a Producer.
func NewProducer(opts ProducerOptions) (*Producer, error) {
	if opts.Dispatcher == nil {
		return nil, errspkg.ErrDispatcherRequired
	}
	if opts.Sender == nil {
		return nil, errspkg.ErrSenderRequired
	}
	first := opts.FirstSequence
	if first <= 0 {
		first = DefaultFirstSequence
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	maxPending := opts.MaxPendingBatches
	if maxPending < 0 {
		maxPending = 0
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return &Producer{
		ctx:        ctx,
		d:          opts.Dispatcher,
		sender:     opts.Sender,
		log:        logging.OrNop(opts.Logger).With(logging.LogFields{"component": "render_producer"}),
		hooks:      opts.Hooks,
		tracer:     tracer,
		maxPending: maxPending,
		next:       first,
		lastAcked:  first - 1,
	}, nil
}

// Produce assigns the next sequence number to payload, records it as pending
// and sends it. The returned future resolves with the sequence number once
// the batch is acknowledged, is rejected with *BatchError when the remote
// failed to apply it, or with ErrCanceled at teardown.
//
// Produce takes ownership of payload. Never Wait on the future from the
// dispatcher goroutine; use Then.
func (p *Producer) Produce(payload []byte) *future.Future[int64] {
	if !p.d.CheckAccess() {
		return future.Rejected[int64](errspkg.ErrNotOnDispatcher)
	}
	if p.disposing {
		return future.Canceled[int64]()
	}
	if p.fault != nil {
		return future.Rejected[int64](p.fault)
	}

	result := future.New[int64]()
	if p.maxPending > 0 && (len(p.pending) >= p.maxPending || len(p.backlog) > 0) {
		p.backlog = append(p.backlog, &queuedBatch{payload: payload, result: result})
		p.log.Debug("Render batch queued behind pending acknowledgements", logging.LogFields{
			"pending": len(p.pending),
			"queued":  len(p.backlog),
		})
		return result
	}
	p.send(payload, result)
	return result
}

func (p *Producer) send(payload []byte, result *future.Future[int64]) {
	seq := p.next
	p.next++

	ctx, span := p.tracer.Start(p.ctx, "render.produce", trace.WithAttributes(
		attribute.Int64("render.seq", seq),
		attribute.Int("render.size", len(payload)),
	))
	entry := &pendingBatch{
		seq:    seq,
		size:   len(payload),
		sentAt: time.Now(),
		result: result,
		span:   span,
	}
	p.pending = append(p.pending, entry)

	// A failed send leaves the entry pending; the batch is never re-sent and
	// the entry is cancelled at teardown.
	if err := p.sender.Send(ctx, EventRenderBatch, seq, payload); err != nil {
		span.RecordError(err)
		p.log.Error("Failed to send render batch", err, logging.LogFields{"seq": seq})
		return
	}
	if p.hooks.OnBatchSent != nil {
		p.hooks.OnBatchSent(BatchContext{Seq: seq, Size: entry.size, SentAt: entry.sentAt})
	}
}

// OnAcknowledge retires every pending batch up to seq. errMsg is nil for a
// successful acknowledgement; otherwise each retired batch is rejected with
// it. Acknowledgements below the lowest pending batch are ignored. An
// acknowledgement above the last produced batch faults the producer and
// returns *ProtocolViolationError.
func (p *Producer) OnAcknowledge(seq int64, errMsg *string) error {
	if !p.d.CheckAccess() {
		return errspkg.ErrNotOnDispatcher
	}
	if p.disposing {
		return nil
	}

	if len(p.pending) == 0 || seq < p.pending[0].seq {
		p.log.Debug("Ignoring stale render acknowledgement", logging.LogFields{"seq": seq, "last_acknowledged": p.lastAcked})
		if p.hooks.OnStaleAcknowledgement != nil {
			p.hooks.OnStaleAcknowledgement(seq)
		}
		return nil
	}

	last := p.pending[0].seq
	for len(p.pending) > 0 && p.pending[0].seq <= seq {
		entry := p.pending[0]
		p.pending[0] = nil
		p.pending = p.pending[1:]
		last = entry.seq
		p.lastAcked = entry.seq
		p.retire(entry, errMsg)
	}

	if last < seq {
		violation := &errspkg.ProtocolViolationError{Acknowledged: seq, LastProduced: last}
		p.fault = violation
		p.log.Error("Render protocol violation", violation, nil)
		if p.hooks.OnProtocolViolation != nil {
			p.hooks.OnProtocolViolation(violation)
		}
		p.rejectBacklog(violation)
		return violation
	}

	p.scheduleBacklog()
	return nil
}

func (p *Producer) retire(entry *pendingBatch, errMsg *string) {
	bctx := BatchContext{Seq: entry.seq, Size: entry.size, SentAt: entry.sentAt, Duration: time.Since(entry.sentAt)}
	if errMsg == nil {
		entry.span.End()
		entry.result.Resolve(entry.seq)
		if p.hooks.OnBatchAcknowledged != nil {
			p.hooks.OnBatchAcknowledged(bctx)
		}
		return
	}
	p.fail(entry, bctx, &errspkg.BatchError{Seq: entry.seq, Message: *errMsg})
}

func (p *Producer) fail(entry *pendingBatch, bctx BatchContext, err error) {
	entry.span.RecordError(err)
	entry.span.SetStatus(codes.Error, err.Error())
	entry.span.End()
	entry.result.Reject(err)
	if p.hooks.OnBatchFailed != nil {
		p.hooks.OnBatchFailed(bctx, err)
	}
}

// scheduleBacklog posts a backlog flush. The flush is skipped when the
// producer is shutting down by the time it runs.
func (p *Producer) scheduleBacklog() {
	if len(p.backlog) == 0 {
		return
	}
	if err := p.d.Post(func() error {
		if p.disposing {
			return nil
		}
		p.flushBacklog()
		return nil
	}); err != nil {
		p.log.Debug("Backlog flush not scheduled", logging.LogFields{"error": err.Error()})
	}
}

func (p *Producer) flushBacklog() {
	if p.fault != nil {
		p.rejectBacklog(p.fault)
		return
	}
	for len(p.backlog) > 0 && (p.maxPending == 0 || len(p.pending) < p.maxPending) {
		queued := p.backlog[0]
		p.backlog[0] = nil
		p.backlog = p.backlog[1:]
		p.send(queued.payload, queued.result)
	}
}

func (p *Producer) rejectBacklog(err error) {
	for _, queued := range p.backlog {
		queued.result.Reject(err)
	}
	p.backlog = nil
}

// Close cancels every pending and queued batch. It runs on the dispatcher
// when the dispatcher is still running, and directly once it has exited.
func (p *Producer) Close() error {
	if p.d.CheckAccess() {
		p.cancelAll()
		return nil
	}
	err := p.d.Send(func() error {
		p.cancelAll()
		return nil
	})
	if errors.Is(err, errspkg.ErrDispatcherStopped) || errors.Is(err, errspkg.ErrCanceled) {
		<-p.d.Done()
		p.cancelAll()
		return nil
	}
	return err
}

func (p *Producer) cancelAll() {
	if p.disposing {
		return
	}
	p.disposing = true

	pending := p.pending
	p.pending = nil
	for _, entry := range pending {
		p.fail(entry, BatchContext{Seq: entry.seq, Size: entry.size, SentAt: entry.sentAt, Duration: time.Since(entry.sentAt)}, errspkg.ErrCanceled)
	}
	p.rejectBacklog(errspkg.ErrCanceled)
	if len(pending) > 0 {
		p.log.Info("Cancelled pending render batches", logging.LogFields{"count": len(pending)})
	}
}

func (p *Producer) stats() ProducerStats {
	return ProducerStats{
		NextSequence:     p.next,
		LastAcknowledged: p.lastAcked,
		Pending:          len(p.pending),
		Queued:           len(p.backlog),
		Closed:           p.disposing,
		Fault:            p.fault,
	}
}

// Stats returns a snapshot, read on the dispatcher goroutine.
func (p *Producer) Stats() ProducerStats {
	if p.d.CheckAccess() {
		return p.stats()
	}
	s, err := dispatcher.Invoke(context.Background(), p.d, func() (ProducerStats, error) {
		return p.stats(), nil
	})
	if err != nil {
		<-p.d.Done()
		return p.stats()
	}
	return s
}

// Pending returns the number of unacknowledged batches.
func (p *Producer) Pending() int {
	return p.Stats().Pending
}

// Fault returns the protocol violation that faulted the producer, if any.
func (p *Producer) Fault() error {
	return p.Stats().Fault
}
