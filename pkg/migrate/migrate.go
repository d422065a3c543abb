package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/botfleet/botfleet/pkg/log"
	"github.com/botfleet/botfleet/pkg/metrics"
	"github.com/botfleet/botfleet/pkg/provision"
	"github.com/botfleet/botfleet/pkg/types"
)

const historyTable = "schema_migrations"

// expectedTables are the tenant schema's tables in migration order. All
// present means the schema exists; a strict subset means the state is
// ambiguous and needs an operator.
var expectedTables = []string{"users", "user_activity"}

// fingerprintColumns are columns the head revision expects on the primary
// table. Checked before stamping untracked history, as a cheap guard
// against stamping a schema that predates the current head.
var fingerprintColumns = []string{"id", "telegram_id", "username", "is_active", "created_at", "updated_at"}

// Reconciler resolves the gap between physically existing schema objects
// and tracked migration history, then brings the tenant schema to head.
type Reconciler struct {
	SQL provision.SQLClient
}

// NewReconciler creates a reconciler using the given admin SQL client.
func NewReconciler(sql provision.SQLClient) *Reconciler {
	return &Reconciler{SQL: sql}
}

// ComputeState inspects the tenant database's catalogs and classifies its
// schema against migration history. Computed fresh on every deploy.
func (r *Reconciler) ComputeState(ctx context.Context, id types.TenantIdentity) (types.MigrationState, error) {
	db := id.DatabaseName()

	present := 0
	for _, table := range expectedTables {
		exists, err := r.tableExists(ctx, db, table)
		if err != nil {
			return types.MigrationState{}, fmt.Errorf("inspect table %s: %w", table, err)
		}
		if exists {
			present++
		}
	}

	state := types.MigrationState{
		SchemaObjectsExist: present == len(expectedTables),
		Ambiguous:          present > 0 && present < len(expectedTables),
	}

	historyExists, err := r.tableExists(ctx, db, historyTable)
	if err != nil {
		return types.MigrationState{}, fmt.Errorf("inspect history table: %w", err)
	}
	if historyExists {
		tracked, err := r.SQL.Exists(ctx, db, `SELECT 1 FROM `+historyTable+` LIMIT 1`)
		if err != nil {
			return types.MigrationState{}, fmt.Errorf("inspect history rows: %w", err)
		}
		state.HistoryTracked = tracked
	}
	return state, nil
}

// Reconcile brings the tenant schema in line with the computed state:
//
//   - history tracked: apply pending migrations normally
//   - schema exists, history untracked: stamp history at head without
//     executing migration scripts (state correction, not a schema change)
//   - neither: run all migrations from scratch
//   - ambiguous: hard failure, no guessing
func (r *Reconciler) Reconcile(ctx context.Context, id types.TenantIdentity, state types.MigrationState) error {
	logger := log.WithTenant(id.Name).With().Str("component", "migrate").Logger()

	if state.Ambiguous {
		return &types.MigrationAmbiguityError{
			Tenant: id.Name,
			Detail: "only part of the expected schema exists",
		}
	}

	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	switch {
	case state.SchemaObjectsExist && !state.HistoryTracked:
		// Schema created by hand or inherited from a prior deployment
		// mechanism. Verify it plausibly matches head, then record all
		// known revisions as applied without running their scripts.
		if err := r.verifyFingerprint(ctx, id); err != nil {
			return err
		}
		logger.Warn().
			Str("head", headVersion(migrations)).
			Msg("schema exists without migration history; stamping history at head without running migrations")
		return r.stamp(ctx, id, migrations)

	case state.HistoryTracked:
		return r.applyPending(ctx, id, migrations, logger)

	default:
		logger.Info().Msg("empty database, running all migrations")
		return r.applyPending(ctx, id, migrations, logger)
	}
}

func (r *Reconciler) tableExists(ctx context.Context, db, table string) (bool, error) {
	return r.SQL.Exists(ctx, db,
		`SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1`,
		table)
}

// verifyFingerprint checks that the primary table carries the columns the
// head revision expects. A lightweight guard, not a full schema diff: a
// pre-head schema must not be silently stamped as current.
func (r *Reconciler) verifyFingerprint(ctx context.Context, id types.TenantIdentity) error {
	db := id.DatabaseName()
	var missing []string
	for _, col := range fingerprintColumns {
		exists, err := r.SQL.Exists(ctx, db,
			`SELECT 1 FROM information_schema.columns WHERE table_schema = 'public' AND table_name = 'users' AND column_name = $1`,
			col)
		if err != nil {
			return fmt.Errorf("inspect column %s: %w", col, err)
		}
		if !exists {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &types.MigrationAmbiguityError{
			Tenant: id.Name,
			Detail: fmt.Sprintf("existing schema does not match head revision (users table missing columns: %s)", strings.Join(missing, ", ")),
		}
	}
	return nil
}

func (r *Reconciler) ensureHistoryTable(ctx context.Context, db string) error {
	return r.SQL.Exec(ctx, db,
		`CREATE TABLE IF NOT EXISTS `+historyTable+` (version VARCHAR(16) PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`)
}

// stamp records every known revision as applied without executing any
// migration script. Only reached after the fingerprint check passed.
func (r *Reconciler) stamp(ctx context.Context, id types.TenantIdentity, migrations []Migration) error {
	db := id.DatabaseName()
	if err := r.ensureHistoryTable(ctx, db); err != nil {
		return fmt.Errorf("create history table: %w", err)
	}
	for _, m := range migrations {
		if err := r.markApplied(ctx, db, m.Version); err != nil {
			return err
		}
	}
	metrics.MigrationsStamped.Inc()
	return nil
}

// applyPending runs every migration not yet recorded in the history table,
// in version order, recording each as it lands.
func (r *Reconciler) applyPending(ctx context.Context, id types.TenantIdentity, migrations []Migration, logger zerolog.Logger) error {
	db := id.DatabaseName()
	if err := r.ensureHistoryTable(ctx, db); err != nil {
		return fmt.Errorf("create history table: %w", err)
	}

	for _, m := range migrations {
		applied, err := r.SQL.Exists(ctx, db,
			`SELECT 1 FROM `+historyTable+` WHERE version = $1`, m.Version)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", m.Version, err)
		}
		if applied {
			continue
		}

		logger.Info().Str("version", m.Version).Str("name", m.Name).Msg("applying migration")
		if err := r.SQL.Exec(ctx, db, m.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Version, err)
		}
		if err := r.markApplied(ctx, db, m.Version); err != nil {
			return err
		}
	}
	return nil
}

// markApplied records a revision in the history table. ON CONFLICT keeps
// retried reconciliations idempotent.
func (r *Reconciler) markApplied(ctx context.Context, db, version string) error {
	err := r.SQL.Exec(ctx, db,
		`INSERT INTO `+historyTable+` (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`, version)
	if err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	return nil
}
