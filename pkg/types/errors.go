package types

import (
	"fmt"
	"time"
)

// ValidationError reports a missing or malformed required input. It is
// raised before any side effect, so no rollback is needed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input %q: %s", e.Field, e.Reason)
}

// ResourceUnavailableError means a required external resource (shared
// database server, container runtime) stayed unreachable after bounded
// retries. Raised before mutating state.
type ResourceUnavailableError struct {
	Resource string
	Err      error
}

func (e *ResourceUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s unavailable: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("%s unavailable", e.Resource)
}

func (e *ResourceUnavailableError) Unwrap() error { return e.Err }

// ProvisioningError means database or principal creation failed for a
// reason other than "already exists".
type ProvisioningError struct {
	Step string
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning failed at %s: %v", e.Step, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// MigrationAmbiguityError means the schema state cannot be unambiguously
// classified. The pipeline surfaces it to the operator and never attempts
// automated repair of data; rollback only ever touches the service.
type MigrationAmbiguityError struct {
	Tenant string
	Detail string
}

func (e *MigrationAmbiguityError) Error() string {
	return fmt.Sprintf("migration state for tenant %q is ambiguous: %s; operator intervention required", e.Tenant, e.Detail)
}

// HealthCheckTimeoutError means the new instance never became healthy
// within the polling budget. Triggers rollback.
type HealthCheckTimeoutError struct {
	Endpoint string
	Waited   time.Duration
}

func (e *HealthCheckTimeoutError) Error() string {
	return fmt.Sprintf("service at %s not healthy after %s", e.Endpoint, e.Waited)
}
