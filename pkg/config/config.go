package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/relayforge/bridge-engine/pkg/fieldmap"
)

// Config holds all configuration for the bridge engine.
// Configuration comes from a YAML file with environment variable overrides;
// environment variables always win. Secrets (API tokens, database URLs) must
// only come from environment variables (yaml:"-" fields).
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Database DatabaseConfig `yaml:"database"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	CRM      CRMConfig      `yaml:"crm"`
	Sync     SyncConfig     `yaml:"sync"`
}

// DatabaseConfig selects and configures the persistence backend. The sqlite
// backend serves single-instance/local deployments, postgres serves
// multi-instance deployments; both carry identical semantics.
type DatabaseConfig struct {
	Backend        string `yaml:"backend" env:"DB_BACKEND" env-default:"sqlite" validate:"oneof=sqlite postgres"`
	SQLitePath     string `yaml:"sqlite_path" env:"SQLITE_PATH" env-default:"bridge.db"`
	PostgresURL    string `yaml:"-" env:"DATABASE_URL"` // Secret - not in YAML
	MaxConnections int    `yaml:"max_connections" env:"DB_MAX_CONNECTIONS" env-default:"10" validate:"gt=0"`
}

// TrackerConfig describes the project-management side: the folders that hold
// company and contact tasks and the custom-field identifiers for every
// synced attribute.
type TrackerConfig struct {
	BaseURL           string            `yaml:"base_url" env:"TRACKER_BASE_URL" validate:"required,url"`
	Token             string            `yaml:"-" env:"TRACKER_TOKEN"` // Secret - not in YAML
	CompaniesFolderID string            `yaml:"companies_folder_id" env:"TRACKER_COMPANIES_FOLDER_ID"`
	ContactsFolderID  string            `yaml:"contacts_folder_id" env:"TRACKER_CONTACTS_FOLDER_ID"`
	CompanyFields     map[string]string `yaml:"company_fields"`
	ContactFields     map[string]string `yaml:"contact_fields"`
}

// CRMConfig describes the CRM side: internal property names for every synced
// attribute per object type.
type CRMConfig struct {
	BaseURL           string            `yaml:"base_url" env:"CRM_BASE_URL" validate:"required,url"`
	Token             string            `yaml:"-" env:"CRM_TOKEN"` // Secret - not in YAML
	CompanyProperties map[string]string `yaml:"company_properties"`
	ContactProperties map[string]string `yaml:"contact_properties"`
}

// SyncConfig holds the value-translation tables and cycle behavior toggles.
type SyncConfig struct {
	TierToPriority map[string]string `yaml:"tier_to_priority"`
	PriorityToTier map[string]string `yaml:"priority_to_tier"`

	// ContactsCRMToTracker enables the opt-in CRM→tracker contacts direction.
	ContactsCRMToTracker bool `yaml:"sync_contacts_crm_to_tracker" env:"SYNC_CONTACTS_CRM_TO_TRACKER" env-default:"false"`

	CycleIntervalSeconds        int `yaml:"cycle_interval_seconds" env:"CYCLE_INTERVAL_SECONDS" env-default:"300" validate:"gt=0"`
	ReconciliationIntervalHours int `yaml:"reconciliation_interval_hours" env:"RECONCILIATION_INTERVAL_HOURS" env-default:"24" validate:"gt=0"`
}

// Required company/contact field keys. Missing any of these is a fatal
// startup error; the sync routines index the maps directly.
var (
	requiredTrackerCompanyFields = []string{
		"account_status", "affinity_score", "account_tier",
		"crm_account_id", "crm_account_name",
	}
	requiredTrackerContactFields = []string{
		"first_name", "last_name", "email", "phone", "mobile",
		"address1", "address2", "city", "state", "country",
	}
	requiredCRMCompanyProperties = []string{
		"name", "account_status", "affinity_score", "account_priority",
		"tracker_task_id",
	}
	requiredCRMContactProperties = []string{
		"firstname", "lastname", "email", "phone", "mobilephone",
		"address", "address2", "city", "state", "country",
	}
)

// Load reads configuration from the given YAML path with environment
// variable overrides, then validates it exhaustively. Every problem found is
// reported in one error so operators fix the file once, not key by key.
func Load(path, version string) (*Config, error) {
	cfg := &Config{Version: version}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks scalar constraints and every required field-mapping key.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var problems []string

	if c.Tracker.CompaniesFolderID == "" {
		problems = append(problems, "missing tracker.companies_folder_id")
	}
	if c.Tracker.ContactsFolderID == "" {
		problems = append(problems, "missing tracker.contacts_folder_id")
	}

	problems = append(problems, missingKeys("tracker.company_fields", c.Tracker.CompanyFields, requiredTrackerCompanyFields)...)
	problems = append(problems, missingKeys("tracker.contact_fields", c.Tracker.ContactFields, requiredTrackerContactFields)...)
	problems = append(problems, missingKeys("crm.company_properties", c.CRM.CompanyProperties, requiredCRMCompanyProperties)...)
	problems = append(problems, missingKeys("crm.contact_properties", c.CRM.ContactProperties, requiredCRMContactProperties)...)

	if c.Database.Backend == "postgres" && c.Database.PostgresURL == "" {
		problems = append(problems, "database.backend is postgres but DATABASE_URL is not set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(problems, "\n  - "))
	}

	return nil
}

func missingKeys(section string, m map[string]string, required []string) []string {
	var problems []string
	for _, key := range required {
		if m[key] == "" {
			problems = append(problems, fmt.Sprintf("missing %s.%s", section, key))
		}
	}
	return problems
}

// TierTable returns the configured tier↔priority translation table.
func (c *Config) TierTable() fieldmap.TierTable {
	return fieldmap.TierTable{
		TierToPriority: c.Sync.TierToPriority,
		PriorityToTier: c.Sync.PriorityToTier,
	}
}

// CycleInterval returns the event-path cadence as a duration.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Sync.CycleIntervalSeconds) * time.Second
}

// ReconciliationInterval returns the audit cadence as a duration.
func (c *Config) ReconciliationInterval() time.Duration {
	return time.Duration(c.Sync.ReconciliationIntervalHours) * time.Hour
}
