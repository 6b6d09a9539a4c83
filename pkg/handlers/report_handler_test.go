package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayforge/bridge-engine/pkg/models"
	"github.com/relayforge/bridge-engine/pkg/services"
	"github.com/relayforge/bridge-engine/pkg/store"
)

func newReportMux(t *testing.T) (*http.ServeMux, *store.Repositories) {
	repos := openTestRepos(t)
	mappings := &mockService{mappingReport: &services.MappingReport{Active: 2, Total: 3}}

	mux := http.NewServeMux()
	NewReportHandler(repos, mappings, zap.NewNop()).RegisterRoutes(mux)
	return mux, repos
}

func TestListActivities(t *testing.T) {
	mux, repos := newReportMux(t)
	ctx := context.Background()

	id, err := repos.Activities.Start(ctx, "full_sync")
	require.NoError(t, err)
	require.NoError(t, repos.Activities.Complete(ctx, &models.SyncActivity{
		ID: id, CompaniesProcessed: 4, Summary: "done",
	}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/activities", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var activities []*models.SyncActivity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &activities))
	require.Len(t, activities, 1)
	assert.Equal(t, 4, activities[0].CompaniesProcessed)
}

func TestActivityReportCSV(t *testing.T) {
	mux, repos := newReportMux(t)
	ctx := context.Background()

	id, err := repos.Activities.Start(ctx, "full_sync")
	require.NoError(t, err)
	require.NoError(t, repos.Activities.RecordFieldChange(ctx, &models.FieldChange{
		ActivityID:       id,
		CompanyName:      "Acme",
		TrackerCompanyID: "T1",
		CRMCompanyID:     "C1",
		EntityType:       models.EntityCompany,
		FieldName:        "Account Status",
		SystemChanged:    "crm",
		OldValue:         "Prospect",
		NewValue:         "Customer",
		Changed:          true,
	}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/activities/%d/report", id), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	body := rec.Body.String()
	assert.Contains(t, body, "field_name,system_changed,old_value,new_value,changed")
	assert.Contains(t, body, "Acme,T1,C1,Account Status,crm,Prospect,Customer,true")
}

func TestActivityChanges_RejectsBadID(t *testing.T) {
	mux, _ := newReportMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/activities/nope/changes", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestReport_NotFoundBeforeFirstRun(t *testing.T) {
	mux, repos := newReportMux(t)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/latest", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, repos.Reports.Save(ctx, &models.ReconciliationReport{
		Matched: 5, Status: "completed",
	}))

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report models.ReconciliationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 5, report.Matched)
}

func TestMappingsEndpoint(t *testing.T) {
	mux, _ := newReportMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/mappings", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var report services.MappingReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Active)
	assert.Equal(t, 3, report.Total)
}

func TestChangeStats(t *testing.T) {
	mux, repos := newReportMux(t)
	ctx := context.Background()

	require.NoError(t, repos.Changes.Track(ctx, &models.TrackedChange{
		Source:     models.SourceTracker,
		RecordID:   "T1",
		ChangeType: models.EntityCompany,
	}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/changes/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.ChangeStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Pending)
}
