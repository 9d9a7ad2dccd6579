package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/visualrange-engine/internal/display"
	"github.com/aristath/visualrange-engine/internal/feed"
)

func newTestServer(t *testing.T, displays DisplayRegistry) *Server {
	t.Helper()
	m := feed.NewManager("ws://example.invalid/feed", "token", feed.JSONCodec, zerolog.Nop())
	return New(Config{
		Port:      0,
		Log:       zerolog.Nop(),
		Manager:   m,
		Displays:  displays,
		StartedAt: time.Now(),
	})
}

func TestHealthEndpointReturnsHealthyStatus(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
}

func TestMetricsEndpointReturnsManagerCounters(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var metrics feed.Metrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.Equal(t, 0, metrics.ActiveSymbols)
}

func TestDisplaysEndpointWithoutRegistryReturnsEmptyList(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/displays", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var ids []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ids))
	assert.Empty(t, ids)
}

func TestDisplaySnapshotForUnknownDisplayReturnsNotFound(t *testing.T) {
	registry := display.NewRegistry()
	s := newTestServer(t, registry)
	req := httptest.NewRequest(http.MethodGet, "/api/displays/nope/snapshot", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDisplaySnapshotForRegisteredDisplay(t *testing.T) {
	registry := display.NewRegistry()
	m := feed.NewManager("ws://example.invalid/feed", "token", feed.JSONCodec, zerolog.Nop())
	owner := display.New("display-1", m, display.DefaultConfig(), zerolog.Nop())
	registry.Add(owner)

	s := newTestServer(t, registry)
	req := httptest.NewRequest(http.MethodGet, "/api/displays/display-1/snapshot", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var view display.DebugSnapshotView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "display-1", view.DisplayID)
}
