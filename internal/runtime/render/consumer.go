package render

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/uisync/internal/runtime/errors"
	"github.com/drblury/uisync/internal/runtime/logging"
)

// ConsumerOptions configures a Consumer.
type ConsumerOptions struct {
	Sender  Sender
	Applier Applier
	Logger  logging.ServiceLogger
	// FirstSequence is the sequence number expected first. Defaults to 1.
	FirstSequence int64
	Hooks         BatchHooks
	// OnFatal is called once, when the first apply failure latches.
	OnFatal func(err *errspkg.FatalError)
	Tracer  trace.Tracer
}

// ConsumerStats is a point-in-time view of a Consumer.
type ConsumerStats struct {
	Cursor       int64  `json:"cursor"`
	LastApplied  int64  `json:"last_applied"`
	Faulted      bool   `json:"faulted"`
	FatalSeq     int64  `json:"fatal_seq,omitempty"`
	FatalMessage string `json:"fatal_message,omitempty"`
}

// Consumer applies render batches strictly in sequence order and
// acknowledges them. After the first failed apply it never applies again.
//
// Apply calls must be serialized; the runtime routes them through the
// dispatcher.
type Consumer struct {
	sender  Sender
	applier Applier
	log     logging.ServiceLogger
	hooks   BatchHooks
	onFatal func(*errspkg.FatalError)
	tracer  trace.Tracer

	next  int64
	fatal *errspkg.FatalError
}

// NewConsumer validates opts and returns a Consumer.
func NewConsumer(opts ConsumerOptions) (*Consumer, error) {
	if opts.Sender == nil {
		return nil, errspkg.ErrSenderRequired
	}
	if opts.Applier == nil {
		return nil, errspkg.ErrApplierRequired
	}
	first := opts.FirstSequence
	if first <= 0 {
		first = DefaultFirstSequence
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Consumer{
		sender:  opts.Sender,
		applier: opts.Applier,
		log:     logging.OrNop(opts.Logger).With(logging.LogFields{"component": "render_consumer"}),
		hooks:   opts.Hooks,
		onFatal: opts.OnFatal,
		tracer:  tracer,
		next:    first,
	}, nil
}

// Apply handles one delivered batch.
//
//   - seq below the cursor is a resend: its acknowledgement is replayed
//     without applying it again. A resend of the failed batch re-reports
//     the fatal error instead.
//   - seq above the cursor is ignored, or answered with the fatal error
//     tagged cursor-1 once a fault is latched.
//   - seq at the cursor advances the cursor and applies the batch.
//
// Apply returns *FatalError whenever it reports the latched fault.
func (c *Consumer) Apply(ctx context.Context, seq int64, payload []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	bctx := BatchContext{Seq: seq, Size: len(payload)}

	switch {
	case seq < c.next:
		if c.fatal != nil && seq >= c.fatal.Seq {
			return c.reportFatal(ctx, c.fatal.Seq)
		}
		c.acknowledge(ctx, seq, nil)
		if c.hooks.OnBatchReplayed != nil {
			c.hooks.OnBatchReplayed(bctx)
		}
		return nil

	case seq > c.next:
		if c.fatal != nil {
			return c.reportFatal(ctx, c.next-1)
		}
		c.log.Debug("Dropping render batch ahead of cursor", logging.LogFields{"seq": seq, "cursor": c.next})
		if c.hooks.OnBatchDropped != nil {
			c.hooks.OnBatchDropped(bctx)
		}
		return nil
	}

	if c.fatal != nil {
		return c.reportFatal(ctx, c.next-1)
	}

	c.next++
	spanCtx, span := c.tracer.Start(ctx, "render.apply", trace.WithAttributes(
		attribute.Int64("render.seq", seq),
		attribute.Int("render.size", len(payload)),
	))
	start := time.Now()
	err := c.applier.ApplyBatch(spanCtx, seq, payload)
	bctx.Duration = time.Since(start)

	if err == nil {
		span.End()
		c.acknowledge(ctx, seq, nil)
		if c.hooks.OnBatchApplied != nil {
			c.hooks.OnBatchApplied(bctx)
		}
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()

	c.fatal = &errspkg.FatalError{Seq: seq, Message: err.Error()}
	msg := c.fatal.Message
	c.acknowledge(ctx, seq, &msg)
	c.log.Error("Render batch failed to apply", err, logging.LogFields{"seq": seq})
	if c.hooks.OnBatchRejected != nil {
		c.hooks.OnBatchRejected(bctx, c.fatal)
	}
	if c.onFatal != nil {
		c.onFatal(c.fatal)
	}
	return c.fatal
}

// reportFatal re-sends the latched error tagged with seq.
func (c *Consumer) reportFatal(ctx context.Context, seq int64) error {
	msg := c.fatal.Message
	c.acknowledge(ctx, seq, &msg)
	return &errspkg.FatalError{Seq: seq, Message: msg}
}

func (c *Consumer) acknowledge(ctx context.Context, seq int64, errMsg *string) {
	var arg any
	if errMsg != nil {
		arg = *errMsg
	}
	if err := c.sender.Send(ctx, EventRenderCompleted, seq, arg); err != nil {
		c.log.Error("Failed to send render acknowledgement", err, logging.LogFields{"seq": seq})
	}
}

// Cursor returns the next expected sequence number.
func (c *Consumer) Cursor() int64 { return c.next }

// Fatal returns the latched fault, or nil.
func (c *Consumer) Fatal() *errspkg.FatalError { return c.fatal }

// Stats returns a snapshot. Like Apply it must not race with other calls.
func (c *Consumer) Stats() ConsumerStats {
	s := ConsumerStats{Cursor: c.next, LastApplied: c.next - 1}
	if c.fatal != nil {
		s.Faulted = true
		s.FatalSeq = c.fatal.Seq
		s.FatalMessage = c.fatal.Message
		s.LastApplied = c.fatal.Seq - 1
	}
	return s
}
