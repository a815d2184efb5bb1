package runtime

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/drblury/uisync/internal/runtime/dispatcher"
	"github.com/drblury/uisync/internal/runtime/jsoncodec"
	"github.com/drblury/uisync/internal/runtime/render"
)

// StatusSnapshot is served on /api/status.
type StatusSnapshot struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Transport string    `json:"transport"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`

	Dispatcher DispatcherStatus `json:"dispatcher"`
	Backlog    int              `json:"inbound_backlog"`
	Calls      int              `json:"pending_calls"`

	Producer      *render.ProducerStats `json:"producer,omitempty"`
	ProducerFault string                `json:"producer_fault,omitempty"`
	Consumer      *render.ConsumerStats `json:"consumer,omitempty"`

	Handshake HandshakeStatus  `json:"handshake"`
	Metrics   *MetricsSnapshot `json:"metrics,omitempty"`
	Resource  ResourceUsage    `json:"resource"`
}

type DispatcherStatus struct {
	State  string `json:"state"`
	Queued int    `json:"queued"`
}

type HandshakeStatus struct {
	Completed  bool       `json:"completed"`
	InitialURI string     `json:"initial_uri,omitempty"`
	BaseURI    string     `json:"base_uri,omitempty"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
	// Location is the remote's current location as last reported.
	Location string `json:"location,omitempty"`
}

// StartStatusServer registers /api/status when the status API is enabled.
func (s *Service) StartStatusServer() {
	if !s.Conf.StatusEnabled {
		return
	}

	port := s.Conf.StatusPort
	if port == 0 {
		port = 8081
	}

	s.RegisterHTTPHandler(port, "/api/status", http.HandlerFunc(s.handleGetStatus))
}

// Status collects a point-in-time view of the endpoint.
func (s *Service) Status() StatusSnapshot {
	snapshot := StatusSnapshot{
		ID:        s.id,
		Role:      string(s.role),
		Transport: s.Conf.Transport,
		StartedAt: s.startedAt,
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Dispatcher: DispatcherStatus{
			State:  s.dispatcher.State().String(),
			Queued: s.dispatcher.Len(),
		},
		Backlog:  s.mux.Backlog(),
		Calls:    s.peer.Pending(),
		Resource: s.resources.Snapshot(),
	}

	if s.producer != nil {
		stats := s.producer.Stats()
		snapshot.Producer = &stats
		if stats.Fault != nil {
			snapshot.ProducerFault = stats.Fault.Error()
		}
	}
	if s.consumer != nil {
		stats := s.consumerStats()
		snapshot.Consumer = &stats
	}

	if state, ok := s.handshake.completed(); ok {
		receivedAt := state.ReceivedAt
		snapshot.Handshake = HandshakeStatus{
			Completed:  true,
			InitialURI: state.InitialURI,
			BaseURI:    state.BaseURI,
			ReceivedAt: &receivedAt,
		}
		snapshot.Handshake.Location, _ = s.navigation.location()
	}

	if s.metrics != nil {
		metrics := s.metrics.GetSnapshot()
		snapshot.Metrics = &metrics
	}
	return snapshot
}

// consumerStats reads the consumer on the dispatcher, or directly once the
// dispatcher has stopped.
func (s *Service) consumerStats() render.ConsumerStats {
	if s.dispatcher.CheckAccess() {
		return s.consumer.Stats()
	}
	stats, err := dispatcher.Invoke(context.Background(), s.dispatcher, func() (render.ConsumerStats, error) {
		return s.consumer.Stats(), nil
	})
	if err != nil {
		<-s.dispatcher.Done()
		return s.consumer.Stats()
	}
	return stats
}

func (s *Service) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.Conf != nil && len(s.Conf.StatusCORSAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		allowedOrigin := s.getAllowedCORSOrigin(origin)
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, OPTIONS")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := jsoncodec.Marshal(s.Status())
	if err != nil {
		s.Logger.Error("Failed to encode status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(body)
}

// getAllowedCORSOrigin returns the Access-Control-Allow-Origin value for the
// request origin, or "" when it is not allowed.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.StatusCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
