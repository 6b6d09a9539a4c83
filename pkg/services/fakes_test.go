package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayforge/bridge-engine/pkg/apperrors"
	"github.com/relayforge/bridge-engine/pkg/config"
	"github.com/relayforge/bridge-engine/pkg/gateway"
	"github.com/relayforge/bridge-engine/pkg/store"
)

// fakeTracker is an in-memory tracker backend.
type fakeTracker struct {
	tasks   map[string]*gateway.TrackerTask
	folders map[string][]string
	defs    []gateway.CustomFieldDef
	nextID  int
	updates map[string]int
	err     error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		tasks:   make(map[string]*gateway.TrackerTask),
		folders: make(map[string][]string),
		updates: make(map[string]int),
	}
}

var _ gateway.TrackerGateway = (*fakeTracker)(nil)

func (f *fakeTracker) addTask(folderID, title string, fields map[string]string) *gateway.TrackerTask {
	f.nextID++
	task := &gateway.TrackerTask{
		ID:          "T" + strconv.Itoa(f.nextID),
		Title:       title,
		UpdatedDate: time.Now().UTC(),
	}
	for id, value := range fields {
		task.CustomFields = append(task.CustomFields, gateway.TrackerCustomField{ID: id, Value: value})
	}
	f.tasks[task.ID] = task
	f.folders[folderID] = append(f.folders[folderID], task.ID)
	return task
}

func (f *fakeTracker) folderTasks(folderID string) []*gateway.TrackerTask {
	ids := append([]string(nil), f.folders[folderID]...)
	sort.Strings(ids)
	tasks := make([]*gateway.TrackerTask, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, f.tasks[id])
	}
	return tasks
}

func (f *fakeTracker) TasksUpdatedBetween(_ context.Context, folderID string, start, end time.Time) ([]*gateway.TrackerTask, error) {
	if f.err != nil {
		return nil, f.err
	}
	var tasks []*gateway.TrackerTask
	for _, task := range f.folderTasks(folderID) {
		if task.UpdatedDate.After(start) && !task.UpdatedDate.After(end) {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

func (f *fakeTracker) FolderTasks(_ context.Context, folderID string) ([]*gateway.TrackerTask, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.folderTasks(folderID), nil
}

func (f *fakeTracker) TasksByField(_ context.Context, folderID, fieldID, value string) ([]*gateway.TrackerTask, error) {
	if f.err != nil {
		return nil, f.err
	}
	var tasks []*gateway.TrackerTask
	for _, task := range f.folderTasks(folderID) {
		if task.Field(fieldID) == value {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

func (f *fakeTracker) Task(_ context.Context, taskID string) (*gateway.TrackerTask, error) {
	if f.err != nil {
		return nil, f.err
	}
	task, ok := f.tasks[taskID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return task, nil
}

func (f *fakeTracker) CreateTask(_ context.Context, folderID string, input *gateway.TaskInput) (*gateway.TrackerTask, error) {
	if f.err != nil {
		return nil, f.err
	}
	fields := make(map[string]string, len(input.CustomFields))
	for _, cf := range input.CustomFields {
		fields[cf.ID] = cf.Value
	}
	return f.addTask(folderID, input.Title, fields), nil
}

func (f *fakeTracker) UpdateTask(_ context.Context, taskID string, input *gateway.TaskInput) (*gateway.TrackerTask, error) {
	if f.err != nil {
		return nil, f.err
	}
	task, ok := f.tasks[taskID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if input.Title != "" {
		task.Title = input.Title
	}
	for _, cf := range input.CustomFields {
		applied := false
		for i := range task.CustomFields {
			if task.CustomFields[i].ID == cf.ID {
				task.CustomFields[i].Value = cf.Value
				applied = true
				break
			}
		}
		if !applied {
			task.CustomFields = append(task.CustomFields, cf)
		}
	}
	f.updates[taskID]++
	return task, nil
}

func (f *fakeTracker) CustomFields(_ context.Context) ([]gateway.CustomFieldDef, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.defs, nil
}

// fakeCRM is an in-memory CRM backend.
type fakeCRM struct {
	objects      map[string]map[string]*gateway.CRMObject
	nextID       int
	props        map[string][]string
	sinceProps   map[string][]string
	associations []string
	creates      int
	updates      int
	searchErr    error
	err          error
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		objects: map[string]map[string]*gateway.CRMObject{
			gateway.ObjectCompany: {},
			gateway.ObjectContact: {},
		},
		props:      make(map[string][]string),
		sinceProps: make(map[string][]string),
	}
}

var _ gateway.CRMGateway = (*fakeCRM)(nil)

func (f *fakeCRM) addObject(objectType string, properties map[string]string) *gateway.CRMObject {
	f.nextID++
	obj := &gateway.CRMObject{
		ID:         "C" + strconv.Itoa(f.nextID),
		Properties: properties,
		UpdatedAt:  time.Now().UTC(),
	}
	f.objects[objectType][obj.ID] = obj
	return obj
}

func (f *fakeCRM) sorted(objectType string) []*gateway.CRMObject {
	ids := make([]string, 0, len(f.objects[objectType]))
	for id := range f.objects[objectType] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	objects := make([]*gateway.CRMObject, 0, len(ids))
	for _, id := range ids {
		objects = append(objects, f.objects[objectType][id])
	}
	return objects
}

func (f *fakeCRM) Search(_ context.Context, objectType string, filters []gateway.Filter, _ []string) ([]*gateway.CRMObject, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if f.err != nil {
		return nil, f.err
	}
	var results []*gateway.CRMObject
	for _, obj := range f.sorted(objectType) {
		if matchesFilters(obj, filters) {
			results = append(results, obj)
		}
	}
	return results, nil
}

func matchesFilters(obj *gateway.CRMObject, filters []gateway.Filter) bool {
	for _, filter := range filters {
		switch filter.Operator {
		case gateway.OpEqual:
			if obj.Property(filter.PropertyName) != filter.Value {
				return false
			}
		case gateway.OpGreaterThan:
			if filter.PropertyName != "lastmodifieddate" {
				return false
			}
			ms, err := strconv.ParseInt(filter.Value, 10, 64)
			if err != nil || !obj.UpdatedAt.After(time.UnixMilli(ms)) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (f *fakeCRM) UpdatedSince(_ context.Context, objectType string, since time.Time, properties []string) ([]*gateway.CRMObject, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sinceProps[objectType] = properties
	var results []*gateway.CRMObject
	for _, obj := range f.sorted(objectType) {
		if obj.UpdatedAt.After(since) {
			results = append(results, obj)
		}
	}
	return results, nil
}

func (f *fakeCRM) List(_ context.Context, objectType string, _ []string) ([]*gateway.CRMObject, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sorted(objectType), nil
}

func (f *fakeCRM) Get(_ context.Context, objectType, id string, _ []string) (*gateway.CRMObject, error) {
	if f.err != nil {
		return nil, f.err
	}
	obj, ok := f.objects[objectType][id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return obj, nil
}

func (f *fakeCRM) Create(_ context.Context, objectType string, properties map[string]string) (*gateway.CRMObject, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.creates++
	copied := make(map[string]string, len(properties))
	for k, v := range properties {
		copied[k] = v
	}
	return f.addObject(objectType, copied), nil
}

func (f *fakeCRM) Update(_ context.Context, objectType, id string, properties map[string]string) error {
	if f.err != nil {
		return f.err
	}
	obj, ok := f.objects[objectType][id]
	if !ok {
		return apperrors.ErrNotFound
	}
	f.updates++
	for k, v := range properties {
		obj.Properties[k] = v
	}
	return nil
}

func (f *fakeCRM) FindContactByEmail(ctx context.Context, email string, properties []string) (*gateway.CRMObject, error) {
	results, err := f.Search(ctx, gateway.ObjectContact, []gateway.Filter{{
		PropertyName: "email", Operator: gateway.OpEqual, Value: email,
	}}, properties)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return results[0], nil
}

func (f *fakeCRM) AssociateContactWithCompany(_ context.Context, contactID, companyID string) error {
	if f.err != nil {
		return f.err
	}
	f.associations = append(f.associations, fmt.Sprintf("%s->%s", contactID, companyID))
	return nil
}

func (f *fakeCRM) PropertyNames(_ context.Context, objectType string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.props[objectType], nil
}

// Field ids and folder ids used throughout the tests.
const (
	companiesFolder = "F-companies"
	contactsFolder  = "F-contacts"
)

func testConfig() *config.Config {
	return &config.Config{
		Tracker: config.TrackerConfig{
			CompaniesFolderID: companiesFolder,
			ContactsFolderID:  contactsFolder,
			CompanyFields: map[string]string{
				"account_status":   "cf_status",
				"affinity_score":   "cf_score",
				"account_tier":     "cf_tier",
				"crm_account_id":   "cf_crm_id",
				"crm_account_name": "cf_crm_name",
			},
			ContactFields: map[string]string{
				"first_name": "cf_first",
				"last_name":  "cf_last",
				"email":      "cf_email",
				"phone":      "cf_phone",
				"mobile":     "cf_mobile",
				"address1":   "cf_addr1",
				"address2":   "cf_addr2",
				"city":       "cf_city",
				"state":      "cf_state",
				"country":    "cf_country",
			},
		},
		CRM: config.CRMConfig{
			CompanyProperties: map[string]string{
				"name":             "name",
				"account_status":   "account_status",
				"affinity_score":   "affinity_score",
				"account_priority": "hs_priority",
				"tracker_task_id":  "tracker_task_id",
			},
			ContactProperties: map[string]string{
				"firstname":   "firstname",
				"lastname":    "lastname",
				"email":       "email",
				"phone":       "phone",
				"mobilephone": "mobilephone",
				"address":     "address",
				"address2":    "address2",
				"city":        "city",
				"state":       "state",
				"country":     "country",
			},
		},
		Sync: config.SyncConfig{
			TierToPriority:              map[string]string{"Tier 1": "High", "Tier 2": "Medium"},
			PriorityToTier:              map[string]string{"High": "Tier 1", "Medium": "Tier 2"},
			CycleIntervalSeconds:        300,
			ReconciliationIntervalHours: 24,
		},
	}
}

type testEnv struct {
	engine  *Engine
	cfg     *config.Config
	tracker *fakeTracker
	crm     *fakeCRM
	repos   *store.Repositories
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dbCfg := &config.DatabaseConfig{
		Backend:        store.DialectSQLite,
		SQLitePath:     filepath.Join(t.TempDir(), "test.db"),
		MaxConnections: 2,
	}
	require.NoError(t, store.RunMigrations(dbCfg, zap.NewNop()))

	db, err := store.Open(context.Background(), dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := testConfig()
	tracker := newFakeTracker()
	crm := newFakeCRM()
	repos := store.NewRepositories(db)

	return &testEnv{
		engine:  NewEngine(cfg, tracker, crm, repos, zap.NewNop()),
		cfg:     cfg,
		tracker: tracker,
		crm:     crm,
		repos:   repos,
	}
}
