package render

import "time"

// BatchContext describes one batch to hooks.
type BatchContext struct {
	// Seq is the batch sequence number.
	Seq int64
	// Size is the payload length in bytes.
	Size int
	// SentAt is when the producer sent the batch (zero on the consumer side).
	SentAt time.Time
	// Duration is the acknowledgement latency on the producer side and the
	// apply time on the consumer side.
	Duration time.Duration
}

// BatchHooks defines callbacks for batch lifecycle events.
// All hooks are optional - nil hooks are simply not called. Hooks run on the
// dispatcher goroutine and must not block.
type BatchHooks struct {
	// OnBatchSent is called after the producer wrote a batch to the channel.
	OnBatchSent func(ctx BatchContext)
	// OnBatchAcknowledged is called when a pending batch is retired
	// successfully.
	OnBatchAcknowledged func(ctx BatchContext)
	// OnBatchFailed is called when a pending batch is retired with an error,
	// including cancellation at teardown.
	OnBatchFailed func(ctx BatchContext, err error)
	// OnStaleAcknowledgement is called for acknowledgements of already
	// retired batches.
	OnStaleAcknowledgement func(seq int64)
	// OnProtocolViolation is called when an acknowledgement references a
	// batch that was never produced.
	OnProtocolViolation func(err error)

	// OnBatchApplied is called when the consumer applied a batch.
	OnBatchApplied func(ctx BatchContext)
	// OnBatchReplayed is called when the consumer re-acknowledged a resend.
	OnBatchReplayed func(ctx BatchContext)
	// OnBatchDropped is called when the consumer ignored a batch ahead of
	// its cursor.
	OnBatchDropped func(ctx BatchContext)
	// OnBatchRejected is called once when the consumer fails to apply a batch.
	OnBatchRejected func(ctx BatchContext, err error)
}

// Merge combines two BatchHooks, creating a new BatchHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h BatchHooks) Merge(other BatchHooks) BatchHooks {
	return BatchHooks{
		OnBatchSent:            chain(h.OnBatchSent, other.OnBatchSent),
		OnBatchAcknowledged:    chain(h.OnBatchAcknowledged, other.OnBatchAcknowledged),
		OnBatchFailed:          chainErr(h.OnBatchFailed, other.OnBatchFailed),
		OnStaleAcknowledgement: chain(h.OnStaleAcknowledgement, other.OnStaleAcknowledgement),
		OnProtocolViolation:    chain(h.OnProtocolViolation, other.OnProtocolViolation),
		OnBatchApplied:         chain(h.OnBatchApplied, other.OnBatchApplied),
		OnBatchReplayed:        chain(h.OnBatchReplayed, other.OnBatchReplayed),
		OnBatchDropped:         chain(h.OnBatchDropped, other.OnBatchDropped),
		OnBatchRejected:        chainErr(h.OnBatchRejected, other.OnBatchRejected),
	}
}

func chain[T any](a, b func(T)) func(T) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(v T) {
		a(v)
		b(v)
	}
}

func chainErr(a, b func(BatchContext, error)) func(BatchContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx BatchContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}
