// Package render implements the sequenced render-batch protocol between the
// host (Producer) and the remote endpoint (Consumer).
//
// The host stamps every batch with a strictly increasing sequence number and
// keeps it pending until the remote acknowledges it. Acknowledgements are
// cumulative: acknowledging N confirms every batch up to N.
package render

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/uisync/internal/runtime/future"
)

// Event names of the batch protocol.
const (
	// EventRenderBatch carries (sequenceNumber, base64 payload) to the remote.
	EventRenderBatch = "RenderBatch"
	// EventRenderCompleted carries (sequenceNumber, error|null) back to the host.
	EventRenderCompleted = "RenderCompleted"
)

// DefaultFirstSequence is the number given to the first produced batch.
const DefaultFirstSequence int64 = 1

// Sender writes one named event. The ipc Multiplexer implements it.
type Sender interface {
	Send(ctx context.Context, eventName string, args ...any) error
}

// Applier mutates local UI state with one batch payload.
type Applier interface {
	ApplyBatch(ctx context.Context, seq int64, payload []byte) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, seq int64, payload []byte) error

func (f ApplierFunc) ApplyBatch(ctx context.Context, seq int64, payload []byte) error {
	return f(ctx, seq, payload)
}

// Batch is one sequenced payload as seen by the consumer.
type Batch struct {
	Seq     int64
	Payload []byte
}

// pendingBatch is held by the producer between send and acknowledgement.
type pendingBatch struct {
	seq    int64
	size   int
	sentAt time.Time
	result *future.Future[int64]
	span   trace.Span
}

// queuedBatch waits for a free in-flight slot; it gets its sequence number
// only when it is sent, so numbering stays gap-free.
type queuedBatch struct {
	payload []byte
	result  *future.Future[int64]
}
