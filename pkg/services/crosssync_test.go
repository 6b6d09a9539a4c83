package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/bridge-engine/pkg/gateway"
)

func TestSyncCompanyNames_CopiesCRMNameOntoCard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	obj := env.crm.addObject(gateway.ObjectCompany, map[string]string{"name": "Acme Corporation GmbH"})
	task := addCompanyCard(env, "Acme", map[string]string{"cf_crm_id": obj.ID})

	activityID, err := env.repos.Activities.Start(ctx, ActivityFullSync)
	require.NoError(t, err)

	result, err := env.engine.SyncCompanyNames(ctx, NewDiagnostics(), activityID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, "Acme Corporation GmbH", task.Field("cf_crm_name"))
	assert.Equal(t, "AdminCard_Acme", task.Title, "the title itself is never rewritten")

	changes, err := env.repos.Activities.Changes(ctx, activityID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "CRM Account Name", changes[0].FieldName)
	assert.True(t, changes[0].Changed)
}

func TestSyncCompanyNames_MatchedWhenAlreadyCurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	obj := env.crm.addObject(gateway.ObjectCompany, map[string]string{"name": "Acme"})
	task := addCompanyCard(env, "Acme", map[string]string{
		"cf_crm_id":   obj.ID,
		"cf_crm_name": "Acme",
	})

	result, err := env.engine.SyncCompanyNames(ctx, NewDiagnostics(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, 0, result.Updated)
	assert.Zero(t, env.tracker.updates[task.ID])
}

func TestSyncCompanyNames_UnlinkedCardIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	addCompanyCard(env, "Nowhere Inc", nil)

	diag := NewDiagnostics()
	result, err := env.engine.SyncCompanyNames(ctx, diag, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, diag.CategoryCounts()[CategoryNoCrossReference])
}

func TestSyncCompanyNames_StaleMappingIsRepaired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	obj := env.crm.addObject(gateway.ObjectCompany, map[string]string{"name": "Globex International"})
	task := addCompanyCard(env, "Globex", nil)
	obj.Properties["tracker_task_id"] = task.ID

	// Mapping points at a CRM record that no longer exists.
	require.NoError(t, env.engine.upsertMapping(ctx, task.ID, "C-gone", "Globex"))

	diag := NewDiagnostics()
	result, err := env.engine.SyncCompanyNames(ctx, diag, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, diag.CategoryCounts()[CategoryStaleMapping])
	assert.Equal(t, "Globex International", task.Field("cf_crm_name"))

	// The mapping is re-pointed at the record found by cross-reference.
	crmID, err := env.repos.Mappings.CRMIDByTracker(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, obj.ID, crmID)
}

func TestSyncCompanyIDs_StampsBothSides(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task := addCompanyCard(env, "Acme", nil)
	obj := env.crm.addObject(gateway.ObjectCompany, map[string]string{
		"name":            "Acme",
		"tracker_task_id": task.ID,
	})

	result, err := env.engine.SyncCompanyIDs(ctx, NewDiagnostics())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, obj.ID, task.Field("cf_crm_id"))
	assert.Equal(t, task.ID, obj.Property("tracker_task_id"))

	// The pair is fully stamped now; a second pass only confirms it.
	result, err = env.engine.SyncCompanyIDs(ctx, NewDiagnostics())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, 0, result.Updated)
}

func TestSyncCompanyIDs_StampsCRMFromStoredID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	obj := env.crm.addObject(gateway.ObjectCompany, map[string]string{"name": "Acme"})
	task := addCompanyCard(env, "Acme", map[string]string{"cf_crm_id": obj.ID})

	result, err := env.engine.SyncCompanyIDs(ctx, NewDiagnostics())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, task.ID, obj.Property("tracker_task_id"))

	// The pass also repairs the local mapping table.
	crmID, err := env.repos.Mappings.CRMIDByTracker(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, obj.ID, crmID)
}
