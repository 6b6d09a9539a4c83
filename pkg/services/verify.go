package services

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/relayforge/bridge-engine/pkg/gateway"
	"github.com/relayforge/bridge-engine/pkg/models"
)

// Verify preflights the configuration against both live schemas: every
// configured tracker custom field and CRM property must actually exist, and
// the tier translation table must round-trip. It returns one line per
// problem; an empty slice means the configuration is usable.
func (e *Engine) Verify(ctx context.Context) ([]string, error) {
	var problems []string

	defs, err := e.tracker.CustomFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read tracker custom fields: %w", err)
	}
	known := make(map[string]bool, len(defs))
	for _, def := range defs {
		known[def.ID] = true
	}
	problems = append(problems, missingFields("tracker company field", e.cfg.Tracker.CompanyFields, known)...)
	problems = append(problems, missingFields("tracker contact field", e.cfg.Tracker.ContactFields, known)...)

	for _, objectType := range []string{gateway.ObjectCompany, gateway.ObjectContact} {
		names, err := e.crm.PropertyNames(ctx, objectType)
		if err != nil {
			return nil, fmt.Errorf("failed to read crm %s properties: %w", objectType, err)
		}
		knownProps := make(map[string]bool, len(names))
		for _, n := range names {
			knownProps[n] = true
		}
		configured := e.cfg.CRM.CompanyProperties
		if objectType == gateway.ObjectContact {
			configured = e.cfg.CRM.ContactProperties
		}
		problems = append(problems, missingFields("crm "+objectType+" property", configured, knownProps)...)
	}

	for tier, priority := range e.cfg.Sync.TierToPriority {
		if back := e.tiers.Tier(priority); back != tier {
			problems = append(problems,
				fmt.Sprintf("tier table does not round-trip: %q -> %q -> %q", tier, priority, back))
		}
	}

	if len(problems) > 0 {
		e.logger.Warn("Configuration verification found problems", zap.Strings("problems", problems))
	}
	return problems, nil
}

// missingFields returns one problem line per configured key whose mapped
// identifier is unknown to the live schema.
func missingFields(kind string, configured map[string]string, known map[string]bool) []string {
	var problems []string
	for key, id := range configured {
		if !known[id] {
			problems = append(problems, fmt.Sprintf("%s %q (%s) does not exist", kind, key, id))
		}
	}
	sort.Strings(problems)
	return problems
}

// TestSync checks that both APIs are reachable with the configured
// credentials. It reads each system's schema endpoint, the cheapest
// authenticated call either side offers.
func (e *Engine) TestSync(ctx context.Context) error {
	if _, err := e.tracker.CustomFields(ctx); err != nil {
		return fmt.Errorf("tracker connectivity check failed: %w", err)
	}
	if _, err := e.crm.PropertyNames(ctx, gateway.ObjectCompany); err != nil {
		return fmt.Errorf("crm connectivity check failed: %w", err)
	}
	return nil
}

// MappingReport is the current state of the identity-mapping table.
type MappingReport struct {
	Active   int                      `json:"active"`
	Total    int                      `json:"total"`
	Mappings []*models.CompanyMapping `json:"mappings"`
}

// Mappings reports every identity mapping plus the active count.
func (e *Engine) Mappings(ctx context.Context) (*MappingReport, error) {
	mappings, err := e.repos.Mappings.List(ctx)
	if err != nil {
		return nil, err
	}
	active, err := e.repos.Mappings.CountActive(ctx)
	if err != nil {
		return nil, err
	}
	return &MappingReport{Active: active, Total: len(mappings), Mappings: mappings}, nil
}
