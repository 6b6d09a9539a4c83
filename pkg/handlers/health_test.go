package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayforge/bridge-engine/pkg/config"
)

type stubRunState struct{ running bool }

func (s stubRunState) Running() bool { return s.running }

func TestHealthAndPing(t *testing.T) {
	cfg := &config.Config{Env: "test", Version: "1.2.3"}
	cfg.Database.Backend = "sqlite"

	mux := http.NewServeMux()
	NewHealthHandler(cfg, stubRunState{running: true}, zap.NewNop()).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "bridge-engine", resp.Service)
	assert.Equal(t, "sqlite", resp.Database)
	assert.True(t, resp.SyncRunning)
}
