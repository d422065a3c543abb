package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/botfleet/botfleet/pkg/types"
)

// Settings are the orchestrator's own process-level knobs, taken from the
// environment. Tenant-specific inputs arrive per invocation instead.
type Settings struct {
	// StateDir holds per-tenant deploy dirs, env files, snapshots, and
	// the attempt history database.
	StateDir string `env:"BOTFLEET_STATE_DIR" envDefault:"/var/lib/botfleet"`

	// Shared Postgres server admin access.
	DBHost          string `env:"BOTFLEET_DB_HOST" envDefault:"127.0.0.1"`
	DBPort          int    `env:"BOTFLEET_DB_PORT" envDefault:"5432"`
	DBAdminUser     string `env:"BOTFLEET_DB_ADMIN_USER" envDefault:"postgres"`
	DBAdminPassword string `env:"BOTFLEET_DB_ADMIN_PASSWORD"`

	// ServerContainer names the shared Postgres server's container.
	ServerContainer string `env:"BOTFLEET_DB_CONTAINER" envDefault:"botfleet-postgres"`

	LogLevel string `env:"BOTFLEET_LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"BOTFLEET_LOG_JSON" envDefault:"false"`
}

// AdminConnString returns the admin DSN for the shared server's
// maintenance database.
func (s Settings) AdminConnString() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/postgres",
		s.DBAdminUser, s.DBAdminPassword, s.DBHost, s.DBPort)
}

// LoadSettings parses Settings from the process environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse environment: %w", err)
	}
	return s, nil
}

// TenantConfig is one tenant's entry in the fleet file.
type TenantConfig struct {
	// HostPort publishes the tenant's service port on the host; each
	// tenant needs its own.
	HostPort int `yaml:"host_port"`
	// Toggles are extra env-file entries (feature flags).
	Toggles map[string]string `yaml:"toggles"`
}

// Fleet is the static per-host tenant configuration (tenants.yaml).
type Fleet struct {
	Defaults struct {
		ContainerPort int    `yaml:"container_port"`
		HealthPath    string `yaml:"health_path"`
	} `yaml:"defaults"`
	Tenants map[string]TenantConfig `yaml:"tenants"`
}

// LoadFleet reads the fleet file. A missing file yields an empty fleet
// with defaults, since single-tenant hosts often don't carry one.
func LoadFleet(path string) (Fleet, error) {
	fleet := Fleet{Tenants: map[string]TenantConfig{}}
	fleet.Defaults.ContainerPort = 8000
	fleet.Defaults.HealthPath = "/health"

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fleet, nil
	}
	if err != nil {
		return Fleet{}, fmt.Errorf("read fleet file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fleet); err != nil {
		return Fleet{}, fmt.Errorf("parse fleet file: %w", err)
	}
	if fleet.Tenants == nil {
		fleet.Tenants = map[string]TenantConfig{}
	}
	return fleet, nil
}

// DeployRequest carries the invocation inputs for one deployment attempt.
// Every field is required; absent inputs fail validation loudly instead of
// falling back to defaults.
type DeployRequest struct {
	Tenant string     `validate:"required"`
	Image  string     `validate:"required"`
	Secret string     `validate:"required"`
	Mode   types.Mode `validate:"required,oneof=production staging"`
}

var validate = validator.New()

// Validate checks the request and reports the first problem as a
// types.ValidationError.
func (r DeployRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			reason := "is required"
			if fe.Tag() == "oneof" {
				reason = "must be one of: production, staging"
			}
			return &types.ValidationError{Field: fe.Field(), Reason: reason}
		}
		return err
	}
	if !types.ValidName(r.Tenant) {
		return &types.ValidationError{
			Field:  "Tenant",
			Reason: "must be a lowercase slug (letters, digits, '-', '_', max 31 chars)",
		}
	}
	return nil
}
