package runtime

import (
	"github.com/drblury/uisync/internal/runtime/logging"
	"github.com/drblury/uisync/internal/runtime/render"
)

// BatchContext provides information about one render batch to hooks.
type BatchContext = render.BatchContext

// BatchHooks defines callbacks for render batch lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type BatchHooks = render.BatchHooks

// LoggingHooks returns pre-built hooks that log render batch lifecycle events.
func LoggingHooks(logger logging.ServiceLogger) BatchHooks {
	logger = logging.OrNop(logger)
	return BatchHooks{
		OnBatchSent: func(ctx BatchContext) {
			logger.Debug("Render batch sent", logging.LogFields{
				"seq":  ctx.Seq,
				"size": ctx.Size,
			})
		},
		OnBatchAcknowledged: func(ctx BatchContext) {
			logger.Debug("Render batch acknowledged", logging.LogFields{
				"seq":         ctx.Seq,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnBatchFailed: func(ctx BatchContext, err error) {
			logger.Error("Render batch failed", err, logging.LogFields{
				"seq":         ctx.Seq,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnStaleAcknowledgement: func(seq int64) {
			logger.Debug("Stale render acknowledgement", logging.LogFields{"seq": seq})
		},
		OnBatchApplied: func(ctx BatchContext) {
			logger.Debug("Render batch applied", logging.LogFields{
				"seq":         ctx.Seq,
				"size":        ctx.Size,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnBatchReplayed: func(ctx BatchContext) {
			logger.Info("Render batch resent, acknowledgement replayed", logging.LogFields{"seq": ctx.Seq})
		},
		OnBatchDropped: func(ctx BatchContext) {
			logger.Info("Render batch ahead of cursor dropped", logging.LogFields{"seq": ctx.Seq})
		},
	}
}

// MetricsHooks returns pre-built hooks that record render batch metrics.
func MetricsHooks(m *Metrics) BatchHooks {
	if m == nil {
		return BatchHooks{}
	}
	return BatchHooks{
		OnBatchSent:            func(ctx BatchContext) { m.RecordBatch("sent", 0) },
		OnBatchAcknowledged:    func(ctx BatchContext) { m.RecordBatch("acknowledged", ctx.Duration) },
		OnBatchFailed:          func(ctx BatchContext, err error) { m.RecordBatch("failed", ctx.Duration) },
		OnStaleAcknowledgement: func(int64) { m.RecordStaleAck() },
		OnProtocolViolation:    func(error) { m.RecordProtocolViolation() },
		OnBatchApplied:         func(ctx BatchContext) { m.RecordBatch("applied", ctx.Duration) },
		OnBatchReplayed:        func(ctx BatchContext) { m.RecordBatch("replayed", 0) },
		OnBatchDropped:         func(ctx BatchContext) { m.RecordBatch("dropped", 0) },
		OnBatchRejected:        func(ctx BatchContext, err error) { m.RecordBatch("rejected", ctx.Duration) },
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts when either side
// of the render stream breaks for good.
func AlertingHooks(alertFunc func(err error)) BatchHooks {
	if alertFunc == nil {
		return BatchHooks{}
	}
	return BatchHooks{
		OnProtocolViolation: alertFunc,
		OnBatchRejected: func(_ BatchContext, err error) {
			alertFunc(err)
		},
	}
}
