package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/bridge-engine/pkg/apperrors"
	"github.com/relayforge/bridge-engine/pkg/config"
	"github.com/relayforge/bridge-engine/pkg/fieldmap"
	"github.com/relayforge/bridge-engine/pkg/gateway"
	"github.com/relayforge/bridge-engine/pkg/models"
	"github.com/relayforge/bridge-engine/pkg/store"
)

// First-run lookback windows. Batch passes reach back a week; inbound
// passes and the change detector cover much shorter windows because they
// run continuously once established.
const (
	outboundFirstRunLookback = 7 * 24 * time.Hour
	inboundFirstRunLookback  = 24 * time.Hour
	detectorFirstRunLookback = time.Hour

	// Cross-sync passes walk the full population; the window just bounds
	// the tracker listing.
	crossSyncLookback = 365 * 24 * time.Hour
)

// PassResult summarizes one directional pass.
type PassResult struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Matched   int `json:"matched"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Engine implements the sync semantics over the two gateways and the
// store. One Engine serves the whole process; every method is safe to call
// from the single orchestrator goroutine.
type Engine struct {
	cfg     *config.Config
	tracker gateway.TrackerGateway
	crm     gateway.CRMGateway
	repos   *store.Repositories
	tiers   fieldmap.TierTable
	logger  *zap.Logger
}

// NewEngine creates a sync engine.
func NewEngine(cfg *config.Config, tracker gateway.TrackerGateway, crm gateway.CRMGateway, repos *store.Repositories, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		tracker: tracker,
		crm:     crm,
		repos:   repos,
		tiers:   cfg.TierTable(),
		logger:  logger.Named("engine"),
	}
}

// syncWindow resolves the [start, end] range for a pass from its watermark,
// falling back to the first-run lookback.
func (e *Engine) syncWindow(ctx context.Context, stateKey string, lookback time.Duration) (start, end time.Time, err error) {
	end = time.Now().UTC()

	wm, err := e.repos.State.GetTime(ctx, stateKey)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if wm != nil {
		return *wm, end, nil
	}
	return end.Add(-lookback), end, nil
}

// crmCompanyPropertyNames returns every configured CRM company property
// internal name, the set read back on fetches.
func (e *Engine) crmCompanyPropertyNames() []string {
	names := make([]string, 0, len(e.cfg.CRM.CompanyProperties))
	for _, name := range e.cfg.CRM.CompanyProperties {
		names = append(names, name)
	}
	return names
}

func (e *Engine) crmContactPropertyNames() []string {
	names := make([]string, 0, len(e.cfg.CRM.ContactProperties))
	for _, name := range e.cfg.CRM.ContactProperties {
		names = append(names, name)
	}
	return names
}

// companyFromTask extracts the system-neutral company record from a marked
// tracker task. The marker never survives into Name.
func (e *Engine) companyFromTask(task *gateway.TrackerTask) *models.Company {
	cf := e.cfg.Tracker.CompanyFields
	return &models.Company{
		Name:          fieldmap.CleanCompanyName(task.Title),
		TrackerID:     task.ID,
		AccountStatus: task.Field(cf["account_status"]),
		AffinityScore: task.Field(cf["affinity_score"]),
		AccountTier:   task.Field(cf["account_tier"]),
	}
}

// crmCompanyProperties builds the outbound property payload. The
// cross-reference id is stamped on every write, and the tier is translated
// to the CRM's priority vocabulary.
func (e *Engine) crmCompanyProperties(c *models.Company) map[string]string {
	props := e.cfg.CRM.CompanyProperties
	return map[string]string{
		props["name"]:             c.Name,
		props["account_status"]:   c.AccountStatus,
		props["affinity_score"]:   c.AffinityScore,
		props["account_priority"]: e.tiers.Priority(c.AccountTier),
		props["tracker_task_id"]:  c.TrackerID,
	}
}

// contactFromTask extracts a contact from a tracker task. When both name
// fields are empty the task title is split on the first space.
func (e *Engine) contactFromTask(task *gateway.TrackerTask) *models.Contact {
	cf := e.cfg.Tracker.ContactFields
	c := &models.Contact{
		TrackerID: task.ID,
		FirstName: task.Field(cf["first_name"]),
		LastName:  task.Field(cf["last_name"]),
		Email:     strings.TrimSpace(task.Field(cf["email"])),
		Phone:     task.Field(cf["phone"]),
		Mobile:    task.Field(cf["mobile"]),
		Address1:  task.Field(cf["address1"]),
		Address2:  task.Field(cf["address2"]),
		City:      task.Field(cf["city"]),
		State:     task.Field(cf["state"]),
		Country:   task.Field(cf["country"]),
	}

	if c.FirstName == "" && c.LastName == "" {
		first, last, _ := strings.Cut(task.Title, " ")
		c.FirstName = first
		c.LastName = last
	}
	return c
}

// crmContactProperties builds the outbound contact payload. There is no
// job-title entry on purpose; the field has no tracker counterpart.
func (e *Engine) crmContactProperties(c *models.Contact) map[string]string {
	props := e.cfg.CRM.ContactProperties
	return map[string]string{
		props["firstname"]:   c.FirstName,
		props["lastname"]:    c.LastName,
		props["email"]:       c.Email,
		props["phone"]:       c.Phone,
		props["mobilephone"]: c.Mobile,
		props["address"]:     c.Address1,
		props["address2"]:    c.Address2,
		props["city"]:        c.City,
		props["state"]:       c.State,
		props["country"]:     c.Country,
	}
}

// resolveCRMCompany finds or creates the CRM counterpart of a tracker
// company. Resolution order: active mapping (a 404 there deactivates the
// stale row and falls through), search by cross-reference id, create.
// The returned properties are the CRM's current values when the record
// already existed, nil when it was just created.
func (e *Engine) resolveCRMCompany(ctx context.Context, diag *Diagnostics, task *gateway.TrackerTask, name string, props map[string]string) (crmID string, current map[string]string, created bool, err error) {
	propNames := e.crmCompanyPropertyNames()

	crmID, err = e.repos.Mappings.CRMIDByTracker(ctx, task.ID)
	if err != nil && !errors.Is(err, apperrors.ErrNoMapping) {
		return "", nil, false, err
	}
	if err == nil {
		obj, getErr := e.crm.Get(ctx, gateway.ObjectCompany, crmID, propNames)
		if getErr == nil {
			return crmID, obj.Properties, false, nil
		}
		if !gateway.IsNotFound(getErr) {
			return "", nil, false, getErr
		}

		// The mapped CRM record is gone. Deactivate the stale row and
		// fall through to search/create.
		diag.RecordIssue(CategoryStaleMapping, task.ID, name, "",
			fmt.Sprintf("mapped crm company %s no longer exists", crmID))
		e.logger.Warn("Deactivating stale mapping",
			zap.String("tracker_id", task.ID),
			zap.String("crm_id", crmID))
		if derr := e.repos.Mappings.Deactivate(ctx, task.ID, "crm record deleted"); derr != nil {
			return "", nil, false, derr
		}
	}

	// No usable mapping. Search by the cross-reference id, never by name.
	refProp := e.cfg.CRM.CompanyProperties["tracker_task_id"]
	results, err := e.crm.Search(ctx, gateway.ObjectCompany, []gateway.Filter{{
		PropertyName: refProp,
		Operator:     gateway.OpEqual,
		Value:        task.ID,
	}}, propNames)
	if err != nil {
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			// The cross-reference property likely does not exist remotely.
			diag.RecordIssue(CategorySearchRejected, task.ID, name, refProp,
				"crm search rejected; the cross-reference property may not exist")
		}
		return "", nil, false, err
	}

	if len(results) > 0 {
		obj := results[0]
		if err := e.upsertMapping(ctx, task.ID, obj.ID, name); err != nil {
			return "", nil, false, err
		}
		return obj.ID, obj.Properties, false, nil
	}

	obj, err := e.crm.Create(ctx, gateway.ObjectCompany, props)
	if err != nil {
		return "", nil, false, err
	}
	if err := e.upsertMapping(ctx, task.ID, obj.ID, name); err != nil {
		return "", nil, false, err
	}
	return obj.ID, nil, true, nil
}

func (e *Engine) upsertMapping(ctx context.Context, trackerID, crmID, name string) error {
	return e.repos.Mappings.Upsert(ctx, &models.CompanyMapping{
		TrackerCompanyID: trackerID,
		CRMCompanyID:     crmID,
		CompanyName:      name,
	})
}

// recordCompanyFieldChanges writes the per-field audit rows for an outbound
// company write. A row is written for every field, changed or not.
func (e *Engine) recordCompanyFieldChanges(ctx context.Context, activityID int64, c *models.Company, crmID string, before map[string]string) {
	if activityID == 0 {
		return
	}

	props := e.cfg.CRM.CompanyProperties
	fields := []struct {
		label string
		prop  string
		next  string
	}{
		{"Account Status", props["account_status"], c.AccountStatus},
		{"Affinity Score", props["affinity_score"], c.AffinityScore},
		{"Priority", props["account_priority"], e.tiers.Priority(c.AccountTier)},
	}

	for _, f := range fields {
		old := before[f.prop]
		if err := e.repos.Activities.RecordFieldChange(ctx, &models.FieldChange{
			ActivityID:       activityID,
			CompanyName:      c.Name,
			TrackerCompanyID: c.TrackerID,
			CRMCompanyID:     crmID,
			EntityType:       models.EntityCompany,
			FieldName:        f.label,
			SystemChanged:    "crm",
			OldValue:         old,
			NewValue:         f.next,
			Changed:          old != f.next,
		}); err != nil {
			e.logger.Warn("Failed to record field change", zap.Error(err))
		}
	}
}

// addIssue persists a reconciliation issue, logging rather than failing the
// pass when the write itself fails.
func (e *Engine) addIssue(ctx context.Context, source, entityType, entityID, issueType, detail string) {
	if err := e.repos.Issues.Add(ctx, &models.ReconciliationIssue{
		Source:     source,
		EntityType: entityType,
		EntityID:   entityID,
		IssueType:  issueType,
		Detail:     detail,
	}); err != nil {
		e.logger.Warn("Failed to record issue", zap.Error(err))
	}
}
