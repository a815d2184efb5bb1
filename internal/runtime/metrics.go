package runtime

import (
	sterrors "errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	errspkg "github.com/drblury/uisync/internal/runtime/errors"
	"github.com/drblury/uisync/internal/runtime/ipc"
)

// unknownLabel replaces names chosen by the peer that no handler knows, so
// a misbehaving peer cannot grow label cardinality.
const unknownLabel = "unknown"

// Metrics collects frame, render batch, dispatcher and remote call
// statistics. It implements ipc.Observer and interop.Observer.
type Metrics struct {
	mu sync.RWMutex

	totals MetricsSnapshot

	// Prometheus collectors
	framesSent       *prometheus.CounterVec
	framesReceived   *prometheus.CounterVec
	framesDropped    *prometheus.CounterVec
	batchesTotal     *prometheus.CounterVec
	ackLatency       prometheus.Histogram
	applyDuration    prometheus.Histogram
	staleAcks        prometheus.Counter
	protocolErrors   prometheus.Counter
	workDuration     *prometheus.HistogramVec
	unhandledErrors  *prometheus.CounterVec
	callsTotal       *prometheus.CounterVec
	callDuration     *prometheus.HistogramVec
	callsServedTotal *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

// MetricsSnapshot provides a point-in-time view of the counters.
type MetricsSnapshot struct {
	FramesSent          uint64            `json:"frames_sent"`
	FramesReceived      uint64            `json:"frames_received"`
	FramesDropped       uint64            `json:"frames_dropped"`
	BatchesSent         uint64            `json:"batches_sent"`
	BatchesAcknowledged uint64            `json:"batches_acknowledged"`
	BatchesFailed       uint64            `json:"batches_failed"`
	StaleAcks           uint64            `json:"stale_acks"`
	ProtocolViolations  uint64            `json:"protocol_violations"`
	BatchesApplied      uint64            `json:"batches_applied"`
	BatchesReplayed     uint64            `json:"batches_replayed"`
	BatchesDropped      uint64            `json:"batches_dropped"`
	BatchesRejected     uint64            `json:"batches_rejected"`
	WorkItems           uint64            `json:"work_items"`
	CallsStarted        uint64            `json:"calls_started"`
	CallsFailed         uint64            `json:"calls_failed"`
	CallsServed         uint64            `json:"calls_served"`
	UnhandledErrors     map[string]uint64 `json:"unhandled_errors"`
	CollectedAt         time.Time         `json:"collected_at"`
}

const metricsNamespace = "uisync"

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogram(subsystem, name, help string, buckets []float64) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
}

func newHistogramVec(subsystem, name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// NewMetrics creates the collectors. They are not registered until Register.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	latencyBuckets := []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5}
	return &Metrics{
		totals:           MetricsSnapshot{UnhandledErrors: make(map[string]uint64)},
		registerer:       registerer,
		framesSent:       newCounterVec("ipc", "frames_sent_total", "Frames written to the channel", []string{"event"}),
		framesReceived:   newCounterVec("ipc", "frames_received_total", "Frames dispatched to at least one callback", []string{"event"}),
		framesDropped:    newCounterVec("ipc", "frames_dropped_total", "Inbound frames dropped before dispatch", []string{"event", "reason"}),
		batchesTotal:     newCounterVec("render", "batches_total", "Render batches by lifecycle outcome", []string{"outcome"}),
		ackLatency:       newHistogram("render", "ack_latency_seconds", "Time from sending a render batch to its acknowledgement", latencyBuckets),
		applyDuration:    newHistogram("render", "apply_duration_seconds", "Time spent applying one render batch", latencyBuckets),
		staleAcks:        newCounter("render", "stale_acks_total", "Acknowledgements for already retired batches"),
		protocolErrors:   newCounter("render", "protocol_violations_total", "Acknowledgements for batches that were never produced"),
		workDuration:     newHistogramVec("dispatcher", "work_duration_seconds", "Duration of dispatcher work items", latencyBuckets, []string{"result"}),
		unhandledErrors:  newCounterVec("dispatcher", "unhandled_errors_total", "Errors routed to the unhandled-error hook", []string{"category"}),
		callsTotal:       newCounterVec("interop", "calls_total", "Outbound remote calls by result", []string{"method", "result"}),
		callDuration:     newHistogramVec("interop", "call_duration_seconds", "Outbound remote call round-trip time", latencyBuckets, []string{"method"}),
		callsServedTotal: newCounterVec("interop", "calls_served_total", "Inbound remote calls by result", []string{"method", "result"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.framesSent,
		m.framesReceived,
		m.framesDropped,
		m.batchesTotal,
		m.ackLatency,
		m.applyDuration,
		m.staleAcks,
		m.protocolErrors,
		m.workDuration,
		m.unhandledErrors,
		m.callsTotal,
		m.callDuration,
		m.callsServedTotal,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			// Check if it's already registered (not an error)
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *Metrics) FrameSent(event string) {
	m.mu.Lock()
	m.totals.FramesSent++
	m.mu.Unlock()
	m.framesSent.WithLabelValues(event).Inc()
}

func (m *Metrics) FrameReceived(event string) {
	m.mu.Lock()
	m.totals.FramesReceived++
	m.mu.Unlock()
	m.framesReceived.WithLabelValues(event).Inc()
}

func (m *Metrics) FrameDropped(event, reason string) {
	m.mu.Lock()
	m.totals.FramesDropped++
	m.mu.Unlock()
	if reason == ipc.DropUnknownEvent {
		event = unknownLabel
	}
	m.framesDropped.WithLabelValues(event, reason).Inc()
}

// RecordBatch counts one render batch lifecycle outcome. Producer outcomes
// are sent, acknowledged and failed; consumer outcomes are applied,
// replayed, dropped and rejected.
func (m *Metrics) RecordBatch(outcome string, elapsed time.Duration) {
	m.mu.Lock()
	switch outcome {
	case "sent":
		m.totals.BatchesSent++
	case "acknowledged":
		m.totals.BatchesAcknowledged++
		m.ackLatency.Observe(elapsed.Seconds())
	case "failed":
		m.totals.BatchesFailed++
	case "applied":
		m.totals.BatchesApplied++
		m.applyDuration.Observe(elapsed.Seconds())
	case "replayed":
		m.totals.BatchesReplayed++
	case "dropped":
		m.totals.BatchesDropped++
	case "rejected":
		m.totals.BatchesRejected++
		m.applyDuration.Observe(elapsed.Seconds())
	}
	m.mu.Unlock()
	m.batchesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordStaleAck() {
	m.mu.Lock()
	m.totals.StaleAcks++
	m.mu.Unlock()
	m.staleAcks.Inc()
}

func (m *Metrics) RecordProtocolViolation() {
	m.mu.Lock()
	m.totals.ProtocolViolations++
	m.mu.Unlock()
	m.protocolErrors.Inc()
}

// ObserveWork records one executed dispatcher work item.
func (m *Metrics) ObserveWork(elapsed time.Duration, err error) {
	m.mu.Lock()
	m.totals.WorkItems++
	m.mu.Unlock()
	m.workDuration.WithLabelValues(resultLabel(err)).Observe(elapsed.Seconds())
}

// RecordUnhandled counts an error that reached the unhandled-error hook.
func (m *Metrics) RecordUnhandled(err error) {
	category := string(errspkg.Classify(err))
	m.mu.Lock()
	m.totals.UnhandledErrors[category]++
	m.mu.Unlock()
	m.unhandledErrors.WithLabelValues(category).Inc()
}

func (m *Metrics) CallStarted(string) {
	m.mu.Lock()
	m.totals.CallsStarted++
	m.mu.Unlock()
}

func (m *Metrics) CallCompleted(method string, elapsed time.Duration, err error) {
	if err != nil {
		m.mu.Lock()
		m.totals.CallsFailed++
		m.mu.Unlock()
	}
	m.callsTotal.WithLabelValues(method, resultLabel(err)).Inc()
	m.callDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) CallServed(method string, err error) {
	m.mu.Lock()
	m.totals.CallsServed++
	m.mu.Unlock()
	if sterrors.Is(err, errspkg.ErrUnknownMethod) {
		method = unknownLabel
	}
	m.callsServedTotal.WithLabelValues(method, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return string(errspkg.Classify(err))
}

// GetSnapshot returns a point-in-time snapshot of all counters.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := m.totals
	snapshot.UnhandledErrors = make(map[string]uint64, len(m.totals.UnhandledErrors))
	for category, n := range m.totals.UnhandledErrors {
		snapshot.UnhandledErrors[category] = n
	}
	snapshot.CollectedAt = time.Now()
	return snapshot
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totals = MetricsSnapshot{UnhandledErrors: make(map[string]uint64)}
	m.framesSent.Reset()
	m.framesReceived.Reset()
	m.framesDropped.Reset()
	m.batchesTotal.Reset()
	m.workDuration.Reset()
	m.unhandledErrors.Reset()
	m.callsTotal.Reset()
	m.callDuration.Reset()
	m.callsServedTotal.Reset()
}
