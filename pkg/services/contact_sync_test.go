package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/bridge-engine/pkg/gateway"
)

func TestSyncContactsOutbound_SkipsWithoutEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.tracker.addTask(contactsFolder, "Jane Doe", map[string]string{
		"cf_first": "Jane",
		"cf_last":  "Doe",
	})

	diag := NewDiagnostics()
	result, err := env.engine.SyncContactsOutbound(ctx, diag, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, env.crm.creates, "a contact without an email must never be pushed")

	issues, err := env.repos.Issues.Unresolved(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, issues, "a missing email is a skip, not an error")
}

func TestSyncContactsOutbound_CreatesContact(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.tracker.addTask(contactsFolder, "Jane Doe", map[string]string{
		"cf_first": "Jane",
		"cf_last":  "Doe",
		"cf_email": "jane@acme.test",
		"cf_phone": "555-0100",
	})

	result, err := env.engine.SyncContactsOutbound(ctx, NewDiagnostics(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)

	contacts := env.crm.sorted(gateway.ObjectContact)
	require.Len(t, contacts, 1)
	assert.Equal(t, "Jane", contacts[0].Property("firstname"))
	assert.Equal(t, "jane@acme.test", contacts[0].Property("email"))
	assert.Equal(t, "555-0100", contacts[0].Property("phone"))
}

func TestSyncContactsOutbound_NameFallsBackToTitle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.tracker.addTask(contactsFolder, "John Quincy Smith", map[string]string{
		"cf_email": "john@acme.test",
	})

	_, err := env.engine.SyncContactsOutbound(ctx, NewDiagnostics(), 0)
	require.NoError(t, err)

	contacts := env.crm.sorted(gateway.ObjectContact)
	require.Len(t, contacts, 1)
	assert.Equal(t, "John", contacts[0].Property("firstname"))
	assert.Equal(t, "Quincy Smith", contacts[0].Property("lastname"))
}

func TestSyncContactsOutbound_UpdatesByEmailMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.tracker.addTask(contactsFolder, "Jane Doe", map[string]string{
		"cf_first": "Jane",
		"cf_last":  "Doe",
		"cf_email": "jane@acme.test",
		"cf_city":  "Berlin",
	})
	existing := env.crm.addObject(gateway.ObjectContact, map[string]string{
		"firstname": "Jane",
		"lastname":  "Doe",
		"email":     "jane@acme.test",
		"city":      "Munich",
	})

	result, err := env.engine.SyncContactsOutbound(ctx, NewDiagnostics(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, "Berlin", existing.Properties["city"])
}

func TestSyncContactsOutbound_AssociatesNewContactWithCompany(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	company := env.crm.addObject(gateway.ObjectCompany, map[string]string{"name": "Acme"})
	env.tracker.addTask(contactsFolder, "Jane Doe", map[string]string{
		"cf_email":  "jane@acme.test",
		"cf_crm_id": company.ID,
	})

	_, err := env.engine.SyncContactsOutbound(ctx, NewDiagnostics(), 0)
	require.NoError(t, err)

	contacts := env.crm.sorted(gateway.ObjectContact)
	require.Len(t, contacts, 1)
	require.Len(t, env.crm.associations, 1)
	assert.Equal(t, contacts[0].ID+"->"+company.ID, env.crm.associations[0])
}

func TestSyncContactsInbound_UpdatesTaskAndTitle(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Sync.ContactsCRMToTracker = true
	ctx := context.Background()

	task := env.tracker.addTask(contactsFolder, "Jane Doe", map[string]string{
		"cf_first": "Jane",
		"cf_last":  "Doe",
		"cf_email": "jane@acme.test",
		"cf_city":  "Munich",
	})
	env.crm.addObject(gateway.ObjectContact, map[string]string{
		"firstname": "Janet",
		"lastname":  "Doe",
		"email":     "jane@acme.test",
		"city":      "Berlin",
		"phone":     "555-0101",
	})

	result, err := env.engine.SyncContactsInbound(ctx, NewDiagnostics(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Updated)

	assert.Equal(t, "Janet", task.Field("cf_first"))
	assert.Equal(t, "Berlin", task.Field("cf_city"))
	assert.Equal(t, "555-0101", task.Field("cf_phone"))
	assert.Equal(t, "Janet Doe", task.Title, "inbound contact sync keeps the title in step with the name")
}

func TestSyncContactsInbound_NeverCreatesTasks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.crm.addObject(gateway.ObjectContact, map[string]string{
		"firstname": "Ghost",
		"email":     "ghost@acme.test",
	})

	result, err := env.engine.SyncContactsInbound(ctx, NewDiagnostics(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, env.tracker.tasks)
}
