package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/bridge-engine/pkg/apperrors"
	"github.com/relayforge/bridge-engine/pkg/config"
	"github.com/relayforge/bridge-engine/pkg/jsonutil"
)

// trackerMinInterval spaces tracker requests; its API budget is far tighter
// than the CRM's.
const trackerMinInterval = time.Second

const trackerPageSize = 100

// TrackerTask is a task record from the project tracker. Companies and
// contacts are both represented as tasks, distinguished by folder.
type TrackerTask struct {
	ID           string               `json:"id"`
	Title        string               `json:"title"`
	UpdatedDate  time.Time            `json:"updatedDate"`
	CustomFields []TrackerCustomField `json:"customFields"`
}

// TrackerCustomField is one custom-field value on a task.
type TrackerCustomField struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// UnmarshalJSON tolerates non-string field values. Numeric and checkbox
// fields come back as JSON numbers and booleans; everything downstream
// compares strings.
func (f *TrackerCustomField) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID    string          `json:"id"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.ID = raw.ID
	f.Value = jsonutil.FlexibleString(raw.Value)
	return nil
}

// Field returns the value of the custom field with the given id, or "".
func (t *TrackerTask) Field(fieldID string) string {
	for _, f := range t.CustomFields {
		if f.ID == fieldID {
			return f.Value
		}
	}
	return ""
}

// TaskInput is the mutable subset of a task for create and update calls.
type TaskInput struct {
	Title        string               `json:"title,omitempty"`
	CustomFields []TrackerCustomField `json:"customFields,omitempty"`
}

// SetField appends or replaces a custom-field value on the input.
func (in *TaskInput) SetField(fieldID, value string) {
	for i, f := range in.CustomFields {
		if f.ID == fieldID {
			in.CustomFields[i].Value = value
			return
		}
	}
	in.CustomFields = append(in.CustomFields, TrackerCustomField{ID: fieldID, Value: value})
}

// CustomFieldDef is a custom-field definition from the tracker account
// schema. Only the preflight verification reads these.
type CustomFieldDef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// TrackerGateway talks to the project tracker API.
type TrackerGateway interface {
	TasksUpdatedBetween(ctx context.Context, folderID string, start, end time.Time) ([]*TrackerTask, error)
	FolderTasks(ctx context.Context, folderID string) ([]*TrackerTask, error)
	TasksByField(ctx context.Context, folderID, fieldID, value string) ([]*TrackerTask, error)
	Task(ctx context.Context, taskID string) (*TrackerTask, error)
	CreateTask(ctx context.Context, folderID string, input *TaskInput) (*TrackerTask, error)
	UpdateTask(ctx context.Context, taskID string, input *TaskInput) (*TrackerTask, error)
	CustomFields(ctx context.Context) ([]CustomFieldDef, error)
}

type trackerGateway struct {
	api *apiClient
}

// NewTrackerGateway creates a gateway for the configured tracker account.
func NewTrackerGateway(cfg *config.TrackerConfig, logger *zap.Logger) TrackerGateway {
	return &trackerGateway{
		api: newAPIClient(cfg.BaseURL, cfg.Token, trackerMinInterval, logger.Named("tracker")),
	}
}

var _ TrackerGateway = (*trackerGateway)(nil)

// trackerEnvelope is the list response shape: a data array plus an opaque
// continuation token.
type trackerEnvelope struct {
	Data          []*TrackerTask `json:"data"`
	NextPageToken string         `json:"nextPageToken"`
}

// listTasks drains every page of a task listing.
func (g *trackerGateway) listTasks(ctx context.Context, path string, query url.Values) ([]*TrackerTask, error) {
	query.Set("fields", `["customFields"]`)
	query.Set("pageSize", fmt.Sprint(trackerPageSize))

	var tasks []*TrackerTask
	for {
		var envelope trackerEnvelope
		if err := g.api.do(ctx, http.MethodGet, path, query, nil, &envelope); err != nil {
			return nil, fmt.Errorf("failed to list tracker tasks: %w", err)
		}
		tasks = append(tasks, envelope.Data...)

		if envelope.NextPageToken == "" {
			return tasks, nil
		}
		query.Set("nextPageToken", envelope.NextPageToken)
	}
}

// TasksUpdatedBetween returns tasks in the folder whose last update falls in
// [start, end].
func (g *trackerGateway) TasksUpdatedBetween(ctx context.Context, folderID string, start, end time.Time) ([]*TrackerTask, error) {
	window, err := json.Marshal(map[string]string{
		"start": start.UTC().Format(time.RFC3339),
		"end":   end.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode update window: %w", err)
	}

	query := url.Values{}
	query.Set("updatedDate", string(window))
	return g.listTasks(ctx, "/folders/"+folderID+"/tasks", query)
}

// FolderTasks returns every task in the folder. Used by reconciliation,
// which audits the full population.
func (g *trackerGateway) FolderTasks(ctx context.Context, folderID string) ([]*TrackerTask, error) {
	return g.listTasks(ctx, "/folders/"+folderID+"/tasks", url.Values{})
}

// TasksByField returns tasks in the folder carrying the given custom-field
// value. This is how cross-reference ids are resolved; titles are never used
// as identifiers.
func (g *trackerGateway) TasksByField(ctx context.Context, folderID, fieldID, value string) ([]*TrackerTask, error) {
	filter, err := json.Marshal(map[string]string{"id": fieldID, "value": value})
	if err != nil {
		return nil, fmt.Errorf("failed to encode field filter: %w", err)
	}

	query := url.Values{}
	query.Set("customField", string(filter))
	return g.listTasks(ctx, "/folders/"+folderID+"/tasks", query)
}

func (g *trackerGateway) Task(ctx context.Context, taskID string) (*TrackerTask, error) {
	query := url.Values{}
	query.Set("fields", `["customFields"]`)

	var envelope trackerEnvelope
	err := g.api.do(ctx, http.MethodGet, "/tasks/"+taskID, query, nil, &envelope)
	if IsNotFound(err) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tracker task %s: %w", taskID, err)
	}
	if len(envelope.Data) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return envelope.Data[0], nil
}

func (g *trackerGateway) CreateTask(ctx context.Context, folderID string, input *TaskInput) (*TrackerTask, error) {
	var envelope trackerEnvelope
	if err := g.api.do(ctx, http.MethodPost, "/folders/"+folderID+"/tasks", nil, input, &envelope); err != nil {
		return nil, fmt.Errorf("failed to create tracker task: %w", err)
	}
	if len(envelope.Data) == 0 {
		return nil, fmt.Errorf("tracker returned no task for create")
	}
	return envelope.Data[0], nil
}

// CustomFields lists the account's custom-field definitions.
func (g *trackerGateway) CustomFields(ctx context.Context) ([]CustomFieldDef, error) {
	var envelope struct {
		Data []CustomFieldDef `json:"data"`
	}
	if err := g.api.do(ctx, http.MethodGet, "/customfields", nil, nil, &envelope); err != nil {
		return nil, fmt.Errorf("failed to list tracker custom fields: %w", err)
	}
	return envelope.Data, nil
}

func (g *trackerGateway) UpdateTask(ctx context.Context, taskID string, input *TaskInput) (*TrackerTask, error) {
	var envelope trackerEnvelope
	err := g.api.do(ctx, http.MethodPut, "/tasks/"+taskID, nil, input, &envelope)
	if IsNotFound(err) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update tracker task %s: %w", taskID, err)
	}
	if len(envelope.Data) == 0 {
		return nil, fmt.Errorf("tracker returned no task for update")
	}
	return envelope.Data[0], nil
}
