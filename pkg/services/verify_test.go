package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/bridge-engine/pkg/gateway"
)

func fullSchemas(env *testEnv) {
	for _, id := range env.cfg.Tracker.CompanyFields {
		env.tracker.defs = append(env.tracker.defs, gateway.CustomFieldDef{ID: id})
	}
	for _, id := range env.cfg.Tracker.ContactFields {
		env.tracker.defs = append(env.tracker.defs, gateway.CustomFieldDef{ID: id})
	}
	for _, name := range env.cfg.CRM.CompanyProperties {
		env.crm.props[gateway.ObjectCompany] = append(env.crm.props[gateway.ObjectCompany], name)
	}
	for _, name := range env.cfg.CRM.ContactProperties {
		env.crm.props[gateway.ObjectContact] = append(env.crm.props[gateway.ObjectContact], name)
	}
}

func TestVerify_CleanConfiguration(t *testing.T) {
	env := newTestEnv(t)
	fullSchemas(env)

	problems, err := env.engine.Verify(context.Background())
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestVerify_ReportsMissingSchemaEntries(t *testing.T) {
	env := newTestEnv(t)
	fullSchemas(env)

	env.cfg.Tracker.CompanyFields["account_status"] = "cf_typo"
	env.cfg.CRM.ContactProperties["email"] = "email_typo"

	problems, err := env.engine.Verify(context.Background())
	require.NoError(t, err)
	require.Len(t, problems, 2)
	assert.Contains(t, problems[0], "cf_typo")
	assert.Contains(t, problems[1], "email_typo")
}

func TestVerify_ReportsTierTableThatDoesNotRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	fullSchemas(env)

	// Two tiers collapsing onto one priority cannot round-trip.
	env.cfg.Sync.TierToPriority["Tier 3"] = "High"
	env.engine.tiers = env.cfg.TierTable()

	problems, err := env.engine.Verify(context.Background())
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "round-trip")
}

func TestTestSync_ReportsUnreachableSide(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.engine.TestSync(ctx))

	env.crm.err = assert.AnError
	err := env.engine.TestSync(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crm connectivity")
}

func TestMappings_Report(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.engine.upsertMapping(ctx, "T1", "C1", "Acme"))
	require.NoError(t, env.engine.upsertMapping(ctx, "T2", "C2", "Globex"))
	require.NoError(t, env.repos.Mappings.Deactivate(ctx, "T2", "crm record deleted"))

	report, err := env.engine.Mappings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Active)
}
