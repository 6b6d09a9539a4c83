package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/bridge-engine/pkg/apperrors"
	"github.com/relayforge/bridge-engine/pkg/config"
	"github.com/relayforge/bridge-engine/pkg/jsonutil"
)

// crmMinInterval spaces CRM requests.
const crmMinInterval = 150 * time.Millisecond

const crmPageSize = 100

// CRM object types.
const (
	ObjectCompany = "companies"
	ObjectContact = "contacts"
)

// Filter operators understood by the CRM search endpoint.
const (
	OpEqual       = "EQ"
	OpGreaterThan = "GT"
	OpHasProperty = "HAS_PROPERTY"
)

// CRMObject is one CRM record: an opaque id plus a flat property bag.
type CRMObject struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Property returns a property value, or "" when absent.
func (o *CRMObject) Property(name string) string {
	return o.Properties[name]
}

// UnmarshalJSON flattens the property bag to strings. Number and boolean
// property types arrive as their JSON forms, not as strings.
func (o *CRMObject) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         string                     `json:"id"`
		Properties map[string]json.RawMessage `json:"properties"`
		UpdatedAt  time.Time                  `json:"updatedAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	o.ID = raw.ID
	o.Properties = jsonutil.FlexibleStringMap(raw.Properties)
	o.UpdatedAt = raw.UpdatedAt
	return nil
}

// Filter is one search predicate.
type Filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value,omitempty"`
}

// CRMGateway talks to the CRM API. All operations are generic over the
// object type; the sync services only ever use companies and contacts.
type CRMGateway interface {
	Search(ctx context.Context, objectType string, filters []Filter, properties []string) ([]*CRMObject, error)
	UpdatedSince(ctx context.Context, objectType string, since time.Time, properties []string) ([]*CRMObject, error)
	List(ctx context.Context, objectType string, properties []string) ([]*CRMObject, error)
	Get(ctx context.Context, objectType, id string, properties []string) (*CRMObject, error)
	Create(ctx context.Context, objectType string, properties map[string]string) (*CRMObject, error)
	Update(ctx context.Context, objectType, id string, properties map[string]string) error
	FindContactByEmail(ctx context.Context, email string, properties []string) (*CRMObject, error)
	AssociateContactWithCompany(ctx context.Context, contactID, companyID string) error
	PropertyNames(ctx context.Context, objectType string) ([]string, error)
}

type crmGateway struct {
	api *apiClient
}

// NewCRMGateway creates a gateway for the configured CRM account.
func NewCRMGateway(cfg *config.CRMConfig, logger *zap.Logger) CRMGateway {
	return &crmGateway{
		api: newAPIClient(cfg.BaseURL, cfg.Token, crmMinInterval, logger.Named("crm")),
	}
}

var _ CRMGateway = (*crmGateway)(nil)

// crmPage is the list/search response shape: results plus a cursor.
type crmPage struct {
	Results []*CRMObject `json:"results"`
	Paging  struct {
		Next struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

type crmSearchRequest struct {
	FilterGroups []crmFilterGroup `json:"filterGroups"`
	Properties   []string         `json:"properties,omitempty"`
	Limit        int              `json:"limit"`
	After        string           `json:"after,omitempty"`
}

type crmFilterGroup struct {
	Filters []Filter `json:"filters"`
}

// Search drains every page of a filtered search.
func (g *crmGateway) Search(ctx context.Context, objectType string, filters []Filter, properties []string) ([]*CRMObject, error) {
	req := crmSearchRequest{
		FilterGroups: []crmFilterGroup{{Filters: filters}},
		Properties:   properties,
		Limit:        crmPageSize,
	}

	var objects []*CRMObject
	for {
		var page crmPage
		if err := g.api.do(ctx, http.MethodPost, "/crm/v3/objects/"+objectType+"/search", nil, &req, &page); err != nil {
			return nil, fmt.Errorf("failed to search crm %s: %w", objectType, err)
		}
		objects = append(objects, page.Results...)

		if page.Paging.Next.After == "" {
			return objects, nil
		}
		req.After = page.Paging.Next.After
	}
}

// UpdatedSince returns objects modified after the watermark. The CRM filters
// on its millisecond-epoch modification timestamp.
func (g *crmGateway) UpdatedSince(ctx context.Context, objectType string, since time.Time, properties []string) ([]*CRMObject, error) {
	return g.Search(ctx, objectType, []Filter{{
		PropertyName: "lastmodifieddate",
		Operator:     OpGreaterThan,
		Value:        strconv.FormatInt(since.UnixMilli(), 10),
	}}, properties)
}

// List returns the full object population. Used by reconciliation.
func (g *crmGateway) List(ctx context.Context, objectType string, properties []string) ([]*CRMObject, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(crmPageSize))
	if len(properties) > 0 {
		query.Set("properties", strings.Join(properties, ","))
	}

	var objects []*CRMObject
	for {
		var page crmPage
		if err := g.api.do(ctx, http.MethodGet, "/crm/v3/objects/"+objectType, query, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to list crm %s: %w", objectType, err)
		}
		objects = append(objects, page.Results...)

		if page.Paging.Next.After == "" {
			return objects, nil
		}
		query.Set("after", page.Paging.Next.After)
	}
}

func (g *crmGateway) Get(ctx context.Context, objectType, id string, properties []string) (*CRMObject, error) {
	query := url.Values{}
	if len(properties) > 0 {
		query.Set("properties", strings.Join(properties, ","))
	}

	var obj CRMObject
	err := g.api.do(ctx, http.MethodGet, "/crm/v3/objects/"+objectType+"/"+id, query, nil, &obj)
	if IsNotFound(err) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crm %s %s: %w", objectType, id, err)
	}
	return &obj, nil
}

func (g *crmGateway) Create(ctx context.Context, objectType string, properties map[string]string) (*CRMObject, error) {
	body := map[string]any{"properties": properties}

	var obj CRMObject
	if err := g.api.do(ctx, http.MethodPost, "/crm/v3/objects/"+objectType, nil, body, &obj); err != nil {
		return nil, fmt.Errorf("failed to create crm %s: %w", objectType, err)
	}
	return &obj, nil
}

func (g *crmGateway) Update(ctx context.Context, objectType, id string, properties map[string]string) error {
	body := map[string]any{"properties": properties}

	err := g.api.do(ctx, http.MethodPatch, "/crm/v3/objects/"+objectType+"/"+id, nil, body, nil)
	if IsNotFound(err) {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update crm %s %s: %w", objectType, id, err)
	}
	return nil
}

// FindContactByEmail resolves a contact by its only reliable cross-system
// key.
func (g *crmGateway) FindContactByEmail(ctx context.Context, email string, properties []string) (*CRMObject, error) {
	results, err := g.Search(ctx, ObjectContact, []Filter{{
		PropertyName: "email",
		Operator:     OpEqual,
		Value:        email,
	}}, properties)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return results[0], nil
}

// PropertyNames lists the property names defined on a CRM object schema.
// Only the preflight verification reads these.
func (g *crmGateway) PropertyNames(ctx context.Context, objectType string) ([]string, error) {
	var page struct {
		Results []struct {
			Name string `json:"name"`
		} `json:"results"`
	}
	if err := g.api.do(ctx, http.MethodGet, "/crm/v3/properties/"+objectType, nil, nil, &page); err != nil {
		return nil, fmt.Errorf("failed to list crm %s properties: %w", objectType, err)
	}

	names := make([]string, 0, len(page.Results))
	for _, p := range page.Results {
		names = append(names, p.Name)
	}
	return names, nil
}

// AssociateContactWithCompany links a contact to its company using the
// default association type.
func (g *crmGateway) AssociateContactWithCompany(ctx context.Context, contactID, companyID string) error {
	path := fmt.Sprintf("/crm/v4/objects/contact/%s/associations/default/company/%s", contactID, companyID)

	if err := g.api.do(ctx, http.MethodPut, path, nil, nil, nil); err != nil {
		return fmt.Errorf("failed to associate contact %s with company %s: %w", contactID, companyID, err)
	}
	return nil
}
