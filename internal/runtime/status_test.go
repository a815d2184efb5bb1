package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/uisync/internal/runtime/config"
	"github.com/drblury/uisync/internal/runtime/jsoncodec"
	channeltransport "github.com/drblury/uisync/transport/channel"
)

func newStatusTestService(t *testing.T, cfg *configpkg.Config) *Service {
	t.Helper()
	hostCh, _ := channeltransport.NewPair("status-"+t.Name(), nil)
	svc, err := TryNewService(cfg, newTestLogger(), context.Background(), ServiceDependencies{Channel: hostCh})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestHandleGetStatus(t *testing.T) {
	svc := newStatusTestService(t, &configpkg.Config{Role: "host"})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	svc.handleGetStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status StatusSnapshot
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, svc.ID(), status.ID)
	assert.Equal(t, "host", status.Role)
	assert.Equal(t, "channel", status.Transport)
	assert.Equal(t, "running", status.Dispatcher.State)
	require.NotNil(t, status.Producer)
	assert.Equal(t, int64(1), status.Producer.NextSequence)
	assert.Nil(t, status.Consumer)
	assert.False(t, status.Handshake.Completed)
	assert.Nil(t, status.Metrics)
	assert.NotZero(t, status.Resource.Goroutines)
}

func TestHandleGetStatus_RemoteReportsConsumer(t *testing.T) {
	_, remoteCh := channeltransport.NewPair("status-remote", nil)
	svc, err := TryNewService(&configpkg.Config{Role: "remote"}, newTestLogger(), context.Background(),
		ServiceDependencies{Channel: remoteCh, Applier: &remoteUI{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	status := svc.Status()
	require.NotNil(t, status.Consumer)
	assert.Equal(t, int64(1), status.Consumer.Cursor)
	assert.Nil(t, status.Producer)
}

func TestHandleGetStatus_AfterClose(t *testing.T) {
	svc := newStatusTestService(t, &configpkg.Config{Role: "host"})
	require.NoError(t, svc.Close())

	status := svc.Status()
	assert.Equal(t, "stopped", status.Dispatcher.State)
	require.NotNil(t, status.Producer)
	assert.True(t, status.Producer.Closed)
}

func TestHandleGetStatus_CORS(t *testing.T) {
	tests := []struct {
		name           string
		allowedOrigins []string
		requestOrigin  string
		expectedOrigin string
	}{
		{name: "no config", allowedOrigins: nil, requestOrigin: "http://ui.local", expectedOrigin: ""},
		{name: "wildcard", allowedOrigins: []string{"*"}, requestOrigin: "http://ui.local", expectedOrigin: "*"},
		{name: "exact match", allowedOrigins: []string{"http://ui.local"}, requestOrigin: "http://ui.local", expectedOrigin: "http://ui.local"},
		{name: "case insensitive", allowedOrigins: []string{"HTTP://UI.LOCAL"}, requestOrigin: "http://ui.local", expectedOrigin: "http://ui.local"},
		{name: "not allowed", allowedOrigins: []string{"http://other.local"}, requestOrigin: "http://ui.local", expectedOrigin: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newStatusTestService(t, &configpkg.Config{Role: "host", StatusCORSAllowedOrigins: tt.allowedOrigins})

			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			req.Header.Set("Origin", tt.requestOrigin)
			rec := httptest.NewRecorder()
			svc.handleGetStatus(rec, req)

			assert.Equal(t, tt.expectedOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestHandleGetStatus_Preflight(t *testing.T) {
	svc := newStatusTestService(t, &configpkg.Config{Role: "host", StatusCORSAllowedOrigins: []string{"*"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "http://ui.local")
	rec := httptest.NewRecorder()
	svc.handleGetStatus(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Empty(t, rec.Body.String())
}

func TestHandleGetStatus_MethodNotAllowed(t *testing.T) {
	svc := newStatusTestService(t, &configpkg.Config{Role: "host"})

	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	rec := httptest.NewRecorder()
	svc.handleGetStatus(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Allow"))
}

func TestStartStatusServer(t *testing.T) {
	svc := newStatusTestService(t, &configpkg.Config{Role: "host", StatusEnabled: true, StatusPort: 18081})
	svc.StartStatusServer()

	svc.httpServersMu.Lock()
	defer svc.httpServersMu.Unlock()
	require.Contains(t, svc.httpServers, 18081)

	rec := httptest.NewRecorder()
	svc.httpServers[18081].ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartStatusServer_Disabled(t *testing.T) {
	svc := newStatusTestService(t, &configpkg.Config{Role: "host"})
	svc.StartStatusServer()

	assert.Empty(t, svc.httpServers)
}
