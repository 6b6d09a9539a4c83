package handlers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayforge/bridge-engine/pkg/config"
	"github.com/relayforge/bridge-engine/pkg/models"
	"github.com/relayforge/bridge-engine/pkg/services"
	"github.com/relayforge/bridge-engine/pkg/store"
)

type mockRunner struct {
	cycleResult *services.CycleResult
	cycleErr    error
	report      *models.ReconciliationReport
	reportErr   error
}

func (m *mockRunner) RunCycle(context.Context) (*services.CycleResult, error) {
	return m.cycleResult, m.cycleErr
}

func (m *mockRunner) RunReconciliation(context.Context) (*models.ReconciliationReport, error) {
	return m.report, m.reportErr
}

type mockService struct {
	syncedRecords []*models.TrackedChange
	syncErr       error
	problems      []string
	verifyErr     error
	testErr       error
	mappingReport *services.MappingReport
}

func (m *mockService) SyncSingleRecord(_ context.Context, change *models.TrackedChange) error {
	m.syncedRecords = append(m.syncedRecords, change)
	return m.syncErr
}

func (m *mockService) Verify(context.Context) ([]string, error) {
	return m.problems, m.verifyErr
}

func (m *mockService) TestSync(context.Context) error {
	return m.testErr
}

func (m *mockService) Mappings(context.Context) (*services.MappingReport, error) {
	return m.mappingReport, nil
}

func openTestRepos(t *testing.T) *store.Repositories {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Backend:        store.DialectSQLite,
		SQLitePath:     filepath.Join(t.TempDir(), "test.db"),
		MaxConnections: 2,
	}
	require.NoError(t, store.RunMigrations(cfg, zap.NewNop()))

	db, err := store.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return store.NewRepositories(db)
}
