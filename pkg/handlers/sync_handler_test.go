package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayforge/bridge-engine/pkg/apperrors"
	"github.com/relayforge/bridge-engine/pkg/models"
	"github.com/relayforge/bridge-engine/pkg/services"
)

func newSyncMux(runner *mockRunner, service *mockService) *http.ServeMux {
	mux := http.NewServeMux()
	NewSyncHandler(runner, service, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestRunSync_ReturnsResult(t *testing.T) {
	runner := &mockRunner{cycleResult: &services.CycleResult{
		RunID:  "run-1",
		Status: models.ActivityCompleted,
	}}
	mux := newSyncMux(runner, &mockService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var result services.CycleResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "run-1", result.RunID)
}

func TestRunSync_ConflictWhileRunning(t *testing.T) {
	runner := &mockRunner{
		cycleResult: &services.CycleResult{Status: "skipped"},
		cycleErr:    apperrors.ErrSyncInProgress,
	}
	mux := newSyncMux(runner, &mockService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "sync_in_progress")
}

func TestRunReconciliation_ReturnsReport(t *testing.T) {
	runner := &mockRunner{report: &models.ReconciliationReport{Matched: 7, Status: "completed"}}
	mux := newSyncMux(runner, &mockService{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reconcile", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var report models.ReconciliationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 7, report.Matched)
}

func TestSyncRecord_ValidatesRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad json", "{"},
		{"bad source", `{"source":"spreadsheet","entity_type":"company","record_id":"T1"}`},
		{"bad entity", `{"source":"tracker","entity_type":"invoice","record_id":"T1"}`},
		{"missing id", `{"source":"tracker","entity_type":"company"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &mockService{}
			mux := newSyncMux(&mockRunner{}, service)

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync/record", strings.NewReader(tt.body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, service.syncedRecords)
		})
	}
}

func TestSyncRecord_DispatchesChange(t *testing.T) {
	service := &mockService{}
	mux := newSyncMux(&mockRunner{}, service)

	body := `{"source":"crm","entity_type":"contact","record_id":"C9"}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync/record", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, service.syncedRecords, 1)
	assert.Equal(t, models.SourceCRM, service.syncedRecords[0].Source)
	assert.Equal(t, models.EntityContact, service.syncedRecords[0].ChangeType)
	assert.Equal(t, "C9", service.syncedRecords[0].RecordID)
}

func TestVerify_ReportsProblems(t *testing.T) {
	service := &mockService{problems: []string{"crm companies property \"tracker_task_id\" does not exist"}}
	mux := newSyncMux(&mockRunner{}, service)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/verify", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		OK       bool     `json:"ok"`
		Problems []string `json:"problems"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.OK)
	assert.Len(t, resp.Problems, 1)
}

func TestConnectivity_FailurePropagates(t *testing.T) {
	service := &mockService{testErr: assert.AnError}
	mux := newSyncMux(&mockRunner{}, service)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/connectivity", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
