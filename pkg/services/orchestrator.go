package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relayforge/bridge-engine/pkg/apperrors"
	"github.com/relayforge/bridge-engine/pkg/models"
)

// Activity types written to the audit trail.
const (
	ActivityFullSync       = "full_sync"
	ActivityReconciliation = "reconciliation"
)

// CycleResult is the outcome of one full sync cycle.
type CycleResult struct {
	RunID      string      `json:"run_id"`
	ActivityID int64       `json:"activity_id"`
	Status     string      `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	Duration   string      `json:"duration"`
	Companies  *PassResult `json:"companies,omitempty"`
	Contacts   *PassResult `json:"contacts,omitempty"`
	Names      *PassResult `json:"names,omitempty"`
	IDs        *PassResult `json:"ids,omitempty"`
	Queued     int         `json:"queued"`
	Errors     int         `json:"errors"`
}

// Orchestrator sequences the sync passes and guards them against overlap.
// Cycles and reconciliations each run at most one at a time; a trigger that
// lands while one is in flight is rejected, not queued.
type Orchestrator struct {
	engine      *Engine
	cycling     atomic.Bool
	reconciling atomic.Bool
	logger      *zap.Logger
}

// NewOrchestrator creates an orchestrator over the engine.
func NewOrchestrator(engine *Engine, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{engine: engine, logger: logger.Named("orchestrator")}
}

// Running reports whether a cycle is in flight.
func (o *Orchestrator) Running() bool {
	return o.cycling.Load()
}

// RunCycle executes one full sync cycle: companies out, contacts out,
// companies in, contacts in when enabled, then the name and id
// cross-reference passes, and finally a change-detection sweep that queues
// and drains anything the batch windows raced past.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !o.cycling.CompareAndSwap(false, true) {
		return &CycleResult{Status: "skipped"}, apperrors.ErrSyncInProgress
	}
	defer o.cycling.Store(false)

	e := o.engine
	result := &CycleResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    models.ActivityRunning,
	}
	log := o.logger.With(zap.String("run_id", result.RunID))
	log.Info("Starting sync cycle")

	activityID, err := e.repos.Activities.Start(ctx, ActivityFullSync)
	if err != nil {
		return nil, err
	}
	result.ActivityID = activityID

	diag := NewDiagnostics()
	fail := func(stage string, err error) (*CycleResult, error) {
		result.Status = models.ActivityFailed
		log.Error("Sync cycle failed", zap.String("stage", stage), zap.Error(err))
		if ferr := e.repos.Activities.Fail(ctx, activityID, stage+": "+err.Error()); ferr != nil {
			log.Error("Failed to mark activity failed", zap.Error(ferr))
		}
		return result, fmt.Errorf("%s: %w", stage, err)
	}

	companiesOut, err := e.SyncCompaniesOutbound(ctx, diag, activityID)
	if err != nil {
		return fail("companies outbound", err)
	}
	contactsOut, err := e.SyncContactsOutbound(ctx, diag, activityID)
	if err != nil {
		return fail("contacts outbound", err)
	}
	companiesIn, err := e.SyncCompaniesInbound(ctx, diag, activityID)
	if err != nil {
		return fail("companies inbound", err)
	}
	contactsIn := &PassResult{}
	if e.cfg.Sync.ContactsCRMToTracker {
		contactsIn, err = e.SyncContactsInbound(ctx, diag, activityID)
		if err != nil {
			return fail("contacts inbound", err)
		}
	}
	names, err := e.SyncCompanyNames(ctx, diag, activityID)
	if err != nil {
		return fail("company names", err)
	}
	ids, err := e.SyncCompanyIDs(ctx, diag)
	if err != nil {
		return fail("company ids", err)
	}

	queued, err := e.DetectChanges(ctx)
	if err != nil {
		return fail("change detection", err)
	}
	synced, failed, err := e.ProcessPendingChanges(ctx)
	if err != nil {
		return fail("pending changes", err)
	}

	result.Companies = sumPasses(companiesOut, companiesIn)
	result.Contacts = sumPasses(contactsOut, contactsIn)
	result.Names = names
	result.IDs = ids
	result.Queued = queued
	result.Errors = companiesOut.Failed + contactsOut.Failed + companiesIn.Failed +
		contactsIn.Failed + names.Failed + ids.Failed + failed
	result.Status = models.ActivityCompleted
	result.Duration = time.Since(result.StartedAt).Round(time.Millisecond).String()

	changes := result.Companies.Created + result.Companies.Updated +
		result.Contacts.Created + result.Contacts.Updated +
		names.Updated + ids.Updated + synced

	if err := e.repos.Activities.Complete(ctx, &models.SyncActivity{
		ID:                 activityID,
		ActivityType:       ActivityFullSync,
		CompaniesProcessed: result.Companies.Processed,
		ContactsProcessed:  result.Contacts.Processed,
		ChangesMade:        changes,
		Errors:             result.Errors,
		Summary:            fmt.Sprintf("run %s: %d companies, %d contacts, %d changes, %d errors", result.RunID, result.Companies.Processed, result.Contacts.Processed, changes, result.Errors),
	}); err != nil {
		return result, err
	}

	for _, line := range diag.Report() {
		log.Info(line)
	}
	log.Info("Sync cycle complete",
		zap.String("duration", result.Duration),
		zap.Int("changes", changes),
		zap.Int("errors", result.Errors))
	return result, nil
}

// RunReconciliation executes one full-population audit under its own
// overlap guard, so a slow audit never blocks sync cycles.
func (o *Orchestrator) RunReconciliation(ctx context.Context) (*models.ReconciliationReport, error) {
	if !o.reconciling.CompareAndSwap(false, true) {
		return nil, apperrors.ErrSyncInProgress
	}
	defer o.reconciling.Store(false)

	e := o.engine
	activityID, err := e.repos.Activities.Start(ctx, ActivityReconciliation)
	if err != nil {
		return nil, err
	}

	report, err := e.Reconcile(ctx)
	if err != nil {
		if ferr := e.repos.Activities.Fail(ctx, activityID, err.Error()); ferr != nil {
			o.logger.Error("Failed to mark activity failed", zap.Error(ferr))
		}
		return nil, err
	}

	if err := e.repos.Activities.Complete(ctx, &models.SyncActivity{
		ID:                 activityID,
		ActivityType:       ActivityReconciliation,
		CompaniesProcessed: report.TrackerTotal,
		ChangesMade:        0,
		Errors:             report.Mismatched + report.TrackerOnly + report.CRMOnly,
		Summary:            report.Details,
	}); err != nil {
		return report, err
	}
	return report, nil
}

// sumPasses folds the outbound and inbound counters of one entity type.
func sumPasses(out, in *PassResult) *PassResult {
	return &PassResult{
		Processed: out.Processed + in.Processed,
		Created:   out.Created + in.Created,
		Updated:   out.Updated + in.Updated,
		Matched:   out.Matched + in.Matched,
		Skipped:   out.Skipped + in.Skipped,
		Failed:    out.Failed + in.Failed,
	}
}
