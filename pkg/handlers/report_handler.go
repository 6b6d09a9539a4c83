package handlers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/bridge-engine/pkg/apperrors"
	"github.com/relayforge/bridge-engine/pkg/services"
	"github.com/relayforge/bridge-engine/pkg/store"
)

const defaultListLimit = 50

// MappingReporter is the engine surface behind the mapping summary.
type MappingReporter interface {
	Mappings(ctx context.Context) (*services.MappingReport, error)
}

// ReportHandler serves the audit-trail read endpoints: activities, per-field
// changes, issues, reconciliation reports, mappings and queue stats.
type ReportHandler struct {
	repos    *store.Repositories
	mappings MappingReporter
	logger   *zap.Logger
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(repos *store.Repositories, mappings MappingReporter, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{repos: repos, mappings: mappings, logger: logger}
}

// RegisterRoutes registers the report handler's routes on the given mux.
func (h *ReportHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/activities", h.ListActivities)
	mux.HandleFunc("GET /api/activities/{id}/changes", h.ActivityChanges)
	mux.HandleFunc("GET /api/activities/{id}/report", h.ActivityReportCSV)
	mux.HandleFunc("GET /api/issues", h.ListIssues)
	mux.HandleFunc("GET /api/reports/latest", h.LatestReport)
	mux.HandleFunc("GET /api/mappings", h.Mappings)
	mux.HandleFunc("GET /api/changes/stats", h.ChangeStats)
}

func listLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultListLimit
}

// ListActivities handles GET /api/activities.
func (h *ReportHandler) ListActivities(w http.ResponseWriter, r *http.Request) {
	activities, err := h.repos.Activities.Recent(r.Context(), listLimit(r))
	if err != nil {
		h.logger.Error("Failed to list activities", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	if err := WriteJSON(w, http.StatusOK, activities); err != nil {
		h.logger.Error("Failed to encode activities", zap.Error(err))
	}
}

func activityID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// ActivityChanges handles GET /api/activities/{id}/changes.
func (h *ReportHandler) ActivityChanges(w http.ResponseWriter, r *http.Request) {
	id, err := activityID(r)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid activity id")
		return
	}
	changes, err := h.repos.Activities.Changes(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list activity changes", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	if err := WriteJSON(w, http.StatusOK, changes); err != nil {
		h.logger.Error("Failed to encode changes", zap.Error(err))
	}
}

// ActivityReportCSV handles GET /api/activities/{id}/report: the per-field
// change log as a CSV download.
func (h *ReportHandler) ActivityReportCSV(w http.ResponseWriter, r *http.Request) {
	id, err := activityID(r)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid activity id")
		return
	}
	changes, err := h.repos.Activities.Changes(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list activity changes", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=sync-activity-%d.csv", id))

	cw := csv.NewWriter(w)
	record := []string{
		"timestamp", "entity_type", "company_name", "tracker_company_id",
		"crm_company_id", "field_name", "system_changed", "old_value",
		"new_value", "changed",
	}
	if err := cw.Write(record); err != nil {
		h.logger.Error("Failed to write csv header", zap.Error(err))
		return
	}
	for _, fc := range changes {
		record = []string{
			fc.CreatedAt.Format(time.RFC3339),
			fc.EntityType, fc.CompanyName, fc.TrackerCompanyID,
			fc.CRMCompanyID, fc.FieldName, fc.SystemChanged,
			fc.OldValue, fc.NewValue, strconv.FormatBool(fc.Changed),
		}
		if err := cw.Write(record); err != nil {
			h.logger.Error("Failed to write csv row", zap.Error(err))
			return
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Error("Failed to flush csv", zap.Error(err))
	}
}

// ListIssues handles GET /api/issues: unresolved reconciliation issues.
func (h *ReportHandler) ListIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := h.repos.Issues.Unresolved(r.Context(), listLimit(r))
	if err != nil {
		h.logger.Error("Failed to list issues", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	if err := WriteJSON(w, http.StatusOK, issues); err != nil {
		h.logger.Error("Failed to encode issues", zap.Error(err))
	}
}

// LatestReport handles GET /api/reports/latest.
func (h *ReportHandler) LatestReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.repos.Reports.Latest(r.Context())
	if errors.Is(err, apperrors.ErrNotFound) {
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "no reconciliation has run yet")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load report", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	if err := WriteJSON(w, http.StatusOK, report); err != nil {
		h.logger.Error("Failed to encode report", zap.Error(err))
	}
}

// Mappings handles GET /api/mappings.
func (h *ReportHandler) Mappings(w http.ResponseWriter, r *http.Request) {
	report, err := h.mappings.Mappings(r.Context())
	if err != nil {
		h.logger.Error("Failed to load mappings", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	if err := WriteJSON(w, http.StatusOK, report); err != nil {
		h.logger.Error("Failed to encode mappings", zap.Error(err))
	}
}

// ChangeStats handles GET /api/changes/stats.
func (h *ReportHandler) ChangeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repos.Changes.Stats(r.Context())
	if err != nil {
		h.logger.Error("Failed to load change stats", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	if err := WriteJSON(w, http.StatusOK, stats); err != nil {
		h.logger.Error("Failed to encode stats", zap.Error(err))
	}
}
