package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/relayforge/bridge-engine/pkg/apperrors"
	"github.com/relayforge/bridge-engine/pkg/models"
	"github.com/relayforge/bridge-engine/pkg/services"
)

// SyncRunner is the orchestrator surface the sync handler triggers.
type SyncRunner interface {
	RunCycle(ctx context.Context) (*services.CycleResult, error)
	RunReconciliation(ctx context.Context) (*models.ReconciliationReport, error)
}

// SyncService is the engine surface behind the single-record and preflight
// endpoints.
type SyncService interface {
	SyncSingleRecord(ctx context.Context, change *models.TrackedChange) error
	Verify(ctx context.Context) ([]string, error)
	TestSync(ctx context.Context) error
}

// SyncHandler exposes the sync triggers over HTTP.
type SyncHandler struct {
	runner  SyncRunner
	service SyncService
	logger  *zap.Logger
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(runner SyncRunner, service SyncService, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{runner: runner, service: service, logger: logger}
}

// RegisterRoutes registers the sync handler's routes on the given mux.
func (h *SyncHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sync", h.RunSync)
	mux.HandleFunc("POST /api/reconcile", h.RunReconciliation)
	mux.HandleFunc("POST /api/sync/record", h.SyncRecord)
	mux.HandleFunc("GET /api/verify", h.Verify)
	mux.HandleFunc("GET /api/connectivity", h.Connectivity)
}

// RunSync handles POST /api/sync: one full cycle, rejected while another is
// in flight.
func (h *SyncHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.runner.RunCycle(r.Context())
	if errors.Is(err, apperrors.ErrSyncInProgress) {
		_ = ErrorResponse(w, http.StatusConflict, "sync_in_progress", "a sync cycle is already running")
		return
	}
	if err != nil {
		h.logger.Error("Sync cycle failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "sync_failed", err.Error())
		return
	}
	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to encode sync result", zap.Error(err))
	}
}

// RunReconciliation handles POST /api/reconcile.
func (h *SyncHandler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.RunReconciliation(r.Context())
	if errors.Is(err, apperrors.ErrSyncInProgress) {
		_ = ErrorResponse(w, http.StatusConflict, "reconciliation_in_progress", "a reconciliation is already running")
		return
	}
	if err != nil {
		h.logger.Error("Reconciliation failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "reconciliation_failed", err.Error())
		return
	}
	if err := WriteJSON(w, http.StatusOK, report); err != nil {
		h.logger.Error("Failed to encode reconciliation report", zap.Error(err))
	}
}

type syncRecordRequest struct {
	Source     string `json:"source"`
	EntityType string `json:"entity_type"`
	RecordID   string `json:"record_id"`
}

func (req *syncRecordRequest) validate() string {
	if req.Source != models.SourceTracker && req.Source != models.SourceCRM {
		return "source must be tracker or crm"
	}
	if req.EntityType != models.EntityCompany && req.EntityType != models.EntityContact {
		return "entity_type must be company or contact"
	}
	if req.RecordID == "" {
		return "record_id is required"
	}
	return ""
}

// SyncRecord handles POST /api/sync/record: push one record through the
// matching directional logic immediately.
func (h *SyncHandler) SyncRecord(w http.ResponseWriter, r *http.Request) {
	var req syncRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	err := h.service.SyncSingleRecord(r.Context(), &models.TrackedChange{
		Source:     req.Source,
		ChangeType: req.EntityType,
		RecordID:   req.RecordID,
	})
	if err != nil {
		h.logger.Error("Single-record sync failed",
			zap.String("source", req.Source),
			zap.String("record_id", req.RecordID),
			zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "sync_failed", err.Error())
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]string{"status": "synced"}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Verify handles GET /api/verify: preflight both schemas against the
// configured field mappings.
func (h *SyncHandler) Verify(w http.ResponseWriter, r *http.Request) {
	problems, err := h.service.Verify(r.Context())
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadGateway, "verify_failed", err.Error())
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]any{
		"ok":       len(problems) == 0,
		"problems": problems,
	}); err != nil {
		h.logger.Error("Failed to encode verify response", zap.Error(err))
	}
}

// Connectivity handles GET /api/connectivity: cheap authenticated call to
// each side.
func (h *SyncHandler) Connectivity(w http.ResponseWriter, r *http.Request) {
	if err := h.service.TestSync(r.Context()); err != nil {
		_ = ErrorResponse(w, http.StatusBadGateway, "connectivity_failed", err.Error())
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
