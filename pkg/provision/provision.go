package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/botfleet/botfleet/pkg/log"
	"github.com/botfleet/botfleet/pkg/probe"
	"github.com/botfleet/botfleet/pkg/retry"
	"github.com/botfleet/botfleet/pkg/runtime"
	"github.com/botfleet/botfleet/pkg/types"
)

// adminDB is the maintenance database admin statements run against.
const adminDB = "postgres"

// Postgres error codes for races between concurrent "create if missing"
// calls. Both degrade the loser to a no-op.
const (
	codeDuplicateDatabase = "42P04"
	codeDuplicateObject   = "42710"
)

// Provisioner guarantees a tenant has an isolated database and credential
// principal on the shared server, without ever destroying existing tenant
// state. All mutations are phrased as ensure-exists operations so retried
// or concurrent calls for the same tenant are safe without locking.
type Provisioner struct {
	SQL     SQLClient
	Runtime runtime.Runtime
	Prober  *probe.Prober

	// ServerContainer names the shared Postgres server's container.
	ServerContainer string

	// ReadyPolicy bounds the wait for the server to accept connections
	// after being started.
	ReadyPolicy retry.Policy
}

// New creates a provisioner with the default readiness budget
// (30 polls, 2s apart).
func New(sql SQLClient, rt runtime.Runtime, prober *probe.Prober, serverContainer string) *Provisioner {
	return &Provisioner{
		SQL:             sql,
		Runtime:         rt,
		Prober:          prober,
		ServerContainer: serverContainer,
		ReadyPolicy:     retry.Fixed(2*time.Second, 30),
	}
}

// EnsureServerRunning starts the shared database server's container if it
// is stopped, then blocks until the server accepts connections or the
// retry budget is exhausted. Exhaustion fails loudly with a
// ResourceUnavailableError; it never silently proceeds.
func (p *Provisioner) EnsureServerRunning(ctx context.Context) error {
	logger := log.WithComponent("provision")

	info, err := p.Runtime.Inspect(ctx, p.ServerContainer)
	if err != nil {
		return &types.ResourceUnavailableError{Resource: "database server", Err: err}
	}

	switch info.Status {
	case runtime.StatusAbsent:
		return &types.ResourceUnavailableError{
			Resource: "database server",
			Err:      fmt.Errorf("container %s does not exist; create the shared server first", p.ServerContainer),
		}
	case runtime.StatusStopped:
		logger.Info().Str("container", p.ServerContainer).Msg("database server stopped, starting it")
		if err := p.Runtime.StartExisting(ctx, p.ServerContainer); err != nil {
			return &types.ResourceUnavailableError{Resource: "database server", Err: err}
		}
	case runtime.StatusRunning:
		// Nothing to do; still verify it answers below.
	}

	if err := p.ReadyPolicy.Until(ctx, p.Prober.DatabaseReady); err != nil {
		return &types.ResourceUnavailableError{
			Resource: "database server",
			Err:      fmt.Errorf("not ready after %s: %w", p.ReadyPolicy.Budget(), err),
		}
	}
	logger.Debug().Msg("database server ready")
	return nil
}

// EnsureTenantDatabase idempotently creates the tenant's database and
// credential principal and grants it full privileges. Re-running with the
// same name is a no-op; an existing principal's credential is never
// changed, since the currently deployed service still holds the old one.
func (p *Provisioner) EnsureTenantDatabase(ctx context.Context, id types.TenantIdentity) error {
	logger := log.WithTenant(id.Name).With().Str("component", "provision").Logger()

	if err := p.ensureDatabase(ctx, id); err != nil {
		return err
	}
	if err := p.ensureRole(ctx, id, logger); err != nil {
		return err
	}
	if err := p.grant(ctx, id); err != nil {
		return err
	}

	logger.Info().
		Str("database", id.DatabaseName()).
		Str("role", id.RoleName()).
		Msg("tenant database provisioned")
	return nil
}

func (p *Provisioner) ensureDatabase(ctx context.Context, id types.TenantIdentity) error {
	exists, err := p.SQL.Exists(ctx, adminDB,
		`SELECT 1 FROM pg_database WHERE datname = $1`, id.DatabaseName())
	if err != nil {
		return &types.ProvisioningError{Step: "check database", Err: err}
	}
	if exists {
		return nil
	}

	// CREATE DATABASE has no IF NOT EXISTS; a concurrent provisioner
	// winning the race surfaces as duplicate_database, which is fine.
	stmt := "CREATE DATABASE " + pgx.Identifier{id.DatabaseName()}.Sanitize()
	if err := p.SQL.Exec(ctx, adminDB, stmt); err != nil && !isDuplicate(err) {
		return &types.ProvisioningError{Step: "create database", Err: err}
	}
	return nil
}

func (p *Provisioner) ensureRole(ctx context.Context, id types.TenantIdentity, logger zerolog.Logger) error {
	exists, err := p.SQL.Exists(ctx, adminDB,
		`SELECT 1 FROM pg_roles WHERE rolname = $1`, id.RoleName())
	if err != nil {
		return &types.ProvisioningError{Step: "check role", Err: err}
	}
	if exists {
		// Never reset an existing principal's password: the running
		// service's stored credential would be invalidated mid-flight.
		logger.Debug().Str("role", id.RoleName()).Msg("role exists, leaving credential untouched")
		return nil
	}

	stmt := fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD %s",
		pgx.Identifier{id.RoleName()}.Sanitize(),
		quoteLiteral(id.CredentialSecret))
	if err := p.SQL.Exec(ctx, adminDB, stmt); err != nil && !isDuplicate(err) {
		return &types.ProvisioningError{Step: "create role", Err: err}
	}
	return nil
}

// EnsureTableAccess grants the tenant's principal full access to every
// table and sequence in its database, plus default privileges covering
// objects created by future migrations. Schema objects are created
// through the admin connection and owned by the admin role, so the
// database- and schema-level grants in EnsureTenantDatabase do not reach
// them; this must run again after every migration pass.
func (p *Provisioner) EnsureTableAccess(ctx context.Context, id types.TenantIdentity) error {
	role := pgx.Identifier{id.RoleName()}.Sanitize()

	stmts := []string{
		"GRANT ALL ON ALL TABLES IN SCHEMA public TO " + role,
		"GRANT ALL ON ALL SEQUENCES IN SCHEMA public TO " + role,
		"ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL ON TABLES TO " + role,
		"ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL ON SEQUENCES TO " + role,
	}
	for _, stmt := range stmts {
		if err := p.SQL.Exec(ctx, id.DatabaseName(), stmt); err != nil {
			return &types.ProvisioningError{Step: "grant table access", Err: err}
		}
	}
	return nil
}

func (p *Provisioner) grant(ctx context.Context, id types.TenantIdentity) error {
	db := pgx.Identifier{id.DatabaseName()}.Sanitize()
	role := pgx.Identifier{id.RoleName()}.Sanitize()

	// Re-granting is always safe.
	if err := p.SQL.Exec(ctx, adminDB,
		fmt.Sprintf("GRANT ALL PRIVILEGES ON DATABASE %s TO %s", db, role)); err != nil {
		return &types.ProvisioningError{Step: "grant database", Err: err}
	}

	// Schema grants must run inside the tenant's own database.
	if err := p.SQL.Exec(ctx, id.DatabaseName(),
		fmt.Sprintf("GRANT ALL ON SCHEMA public TO %s", role)); err != nil {
		return &types.ProvisioningError{Step: "grant schema", Err: err}
	}
	return nil
}

// isDuplicate reports whether err is a duplicate database/role error from
// losing a creation race.
func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeDuplicateDatabase || pgErr.Code == codeDuplicateObject
	}
	return false
}

// quoteLiteral quotes s as a SQL string literal. CREATE ROLE does not
// accept bind parameters for the password clause.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
