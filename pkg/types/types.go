package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// tenant names become database, role, and container names, so they are
// restricted to a conservative slug alphabet.
var tenantNameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,30}$`)

// TenantIdentity identifies one isolated bot instance on the shared server.
// Name is the idempotency key for provisioning: re-provisioning the same name
// is a no-op, and an existing principal's credential is never overwritten.
type TenantIdentity struct {
	Name             string
	CredentialSecret string
}

// ValidName reports whether name is a usable tenant slug.
func ValidName(name string) bool {
	return tenantNameRe.MatchString(name)
}

// slug converts the tenant name into an identifier safe for SQL object names.
func (t TenantIdentity) slug() string {
	return strings.ReplaceAll(t.Name, "-", "_")
}

// DatabaseName returns the tenant's database name on the shared server.
func (t TenantIdentity) DatabaseName() string {
	return "bot_" + t.slug()
}

// RoleName returns the tenant's credential principal name.
func (t TenantIdentity) RoleName() string {
	return "bot_" + t.slug()
}

// ContainerName returns the name of the tenant's service container.
func (t TenantIdentity) ContainerName() string {
	return "bot-" + t.Name
}

// ConnString builds the tenant-scoped database connection string handed to
// the service through its generated env file.
func (t TenantIdentity) ConnString(host string, port int) string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s",
		t.RoleName(), t.CredentialSecret, host, port, t.DatabaseName())
}

// Mode is the deployment environment mode.
type Mode string

const (
	ModeProduction Mode = "production"
	ModeStaging    Mode = "staging"
)

// Valid reports whether the mode is one of the supported environments.
func (m Mode) Valid() bool {
	return m == ModeProduction || m == ModeStaging
}

// Snapshot is a point-in-time capture of the previous working deployment,
// consumed only by rollback. Exactly one snapshot is retained per tenant;
// the newest overwrites its predecessor.
type Snapshot struct {
	Tenant    string    `json:"tenant"`
	Timestamp time.Time `json:"timestamp"`
	// Dir is the snapshot directory holding the copied deployment files.
	Dir string `json:"dir"`
	// EnvFile is the copied environment file inside Dir, empty if the
	// tenant had no env file at snapshot time (first deploy).
	EnvFile string `json:"env_file,omitempty"`
	// Image is the image reference the tenant was running when the
	// snapshot was taken, empty if nothing was running.
	Image string `json:"image,omitempty"`
}

// MigrationState classifies a tenant schema against its migration history.
type MigrationState struct {
	// SchemaObjectsExist is true when the tenant's expected tables are
	// physically present in the database.
	SchemaObjectsExist bool
	// HistoryTracked is true when the migration-history table exists and
	// records at least one applied revision.
	HistoryTracked bool
	// Ambiguous is true when only part of the expected schema exists.
	// Ambiguous state is a hard failure requiring operator intervention.
	Ambiguous bool
}

// AttemptState is one state of a deployment attempt's state machine.
type AttemptState string

const (
	StateValidating     AttemptState = "validating"
	StateBackingUp      AttemptState = "backing_up"
	StateStoppingOld    AttemptState = "stopping_old"
	StateProvisioning   AttemptState = "provisioning"
	StateMigrating      AttemptState = "migrating"
	StateStarting       AttemptState = "starting"
	StateHealthChecking AttemptState = "health_checking"
	StateSucceeded      AttemptState = "succeeded"
	StateRollingBack    AttemptState = "rolling_back"
	StateRolledBack     AttemptState = "rolled_back"
	StateFailed         AttemptState = "failed"
)

// Terminal reports whether the state ends the attempt.
func (s AttemptState) Terminal() bool {
	switch s {
	case StateSucceeded, StateRolledBack, StateFailed:
		return true
	}
	return false
}

// Transition records one state entry during an attempt, for the history log.
type Transition struct {
	State     AttemptState `json:"state"`
	EnteredAt time.Time    `json:"entered_at"`
	Err       string       `json:"error,omitempty"`
}

// Attempt is the persisted record of one pipeline execution.
type Attempt struct {
	ID         string       `json:"id"`
	Tenant     string       `json:"tenant"`
	Image      string       `json:"image"`
	Mode       Mode         `json:"mode"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Final      AttemptState `json:"final"`
	// FailedIn names the state whose entry action failed, so operators can
	// locate the fault without reading full logs. Empty on success.
	FailedIn    AttemptState `json:"failed_in,omitempty"`
	Error       string       `json:"error,omitempty"`
	Transitions []Transition `json:"transitions"`
}
