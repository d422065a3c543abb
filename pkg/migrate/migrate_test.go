package migrate

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botfleet/botfleet/pkg/metrics"
	"github.com/botfleet/botfleet/pkg/types"
)

// fakeDB models one tenant database's catalog state for the reconciler.
type fakeDB struct {
	tables  map[string]bool
	columns map[string]bool // users table columns
	applied map[string]bool // history rows
	execs   []string
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		tables:  map[string]bool{},
		columns: map[string]bool{},
		applied: map[string]bool{},
	}
}

func headColumns() map[string]bool {
	cols := map[string]bool{}
	for _, c := range fingerprintColumns {
		cols[c] = true
	}
	return cols
}

func (f *fakeDB) Exec(_ context.Context, db, sql string, args ...any) error {
	f.execs = append(f.execs, sql)
	switch {
	case strings.HasPrefix(sql, "CREATE TABLE IF NOT EXISTS "+historyTable):
		f.tables[historyTable] = true
	case strings.HasPrefix(sql, "INSERT INTO "+historyTable):
		f.applied[args[0].(string)] = true
	case strings.Contains(sql, "CREATE TABLE IF NOT EXISTS users"):
		f.tables["users"] = true
		f.columns = headColumns()
	case strings.Contains(sql, "CREATE TABLE IF NOT EXISTS user_activity"):
		f.tables["user_activity"] = true
	}
	return nil
}

func (f *fakeDB) Exists(_ context.Context, db, query string, args ...any) (bool, error) {
	switch {
	case strings.Contains(query, "information_schema.tables"):
		return f.tables[args[0].(string)], nil
	case strings.Contains(query, "information_schema.columns"):
		return f.columns[args[0].(string)], nil
	case strings.Contains(query, "WHERE version"):
		return f.applied[args[0].(string)], nil
	case strings.Contains(query, "FROM "+historyTable+" LIMIT 1"):
		return len(f.applied) > 0, nil
	}
	return false, nil
}

func (f *fakeDB) migrationExecs() int {
	n := 0
	for _, s := range f.execs {
		if strings.Contains(s, "CREATE TABLE IF NOT EXISTS users") ||
			strings.Contains(s, "CREATE TABLE IF NOT EXISTS user_activity") {
			n++
		}
	}
	return n
}

var acme = types.TenantIdentity{Name: "acme", CredentialSecret: "s3cret"}

func TestComputeState_EmptyDatabase(t *testing.T) {
	r := NewReconciler(newFakeDB())

	state, err := r.ComputeState(context.Background(), acme)
	require.NoError(t, err)

	assert.False(t, state.SchemaObjectsExist)
	assert.False(t, state.HistoryTracked)
	assert.False(t, state.Ambiguous)
}

func TestComputeState_SchemaWithoutHistory(t *testing.T) {
	db := newFakeDB()
	db.tables["users"] = true
	db.tables["user_activity"] = true

	state, err := NewReconciler(db).ComputeState(context.Background(), acme)
	require.NoError(t, err)

	assert.True(t, state.SchemaObjectsExist)
	assert.False(t, state.HistoryTracked)
	assert.False(t, state.Ambiguous)
}

func TestComputeState_PartialSchemaIsAmbiguous(t *testing.T) {
	db := newFakeDB()
	db.tables["users"] = true // user_activity missing

	state, err := NewReconciler(db).ComputeState(context.Background(), acme)
	require.NoError(t, err)

	assert.True(t, state.Ambiguous)
	assert.False(t, state.SchemaObjectsExist)
}

func TestReconcile_FreshDatabaseRunsAllMigrations(t *testing.T) {
	db := newFakeDB()
	r := NewReconciler(db)

	require.NoError(t, r.Reconcile(context.Background(), acme, types.MigrationState{}))

	assert.True(t, db.tables["users"])
	assert.True(t, db.tables["user_activity"])
	assert.True(t, db.applied["0001"])
	assert.True(t, db.applied["0002"])
}

func TestReconcile_StampsWithoutRunningMigrations(t *testing.T) {
	db := newFakeDB()
	db.tables["users"] = true
	db.tables["user_activity"] = true
	db.columns = headColumns()

	stamped := testutil.ToFloat64(metrics.MigrationsStamped)

	r := NewReconciler(db)
	state := types.MigrationState{SchemaObjectsExist: true, HistoryTracked: false}
	require.NoError(t, r.Reconcile(context.Background(), acme, state))

	// History is now tracked at head, and no migration script ran.
	assert.True(t, db.applied["0001"])
	assert.True(t, db.applied["0002"])
	assert.Zero(t, db.migrationExecs())
	assert.Equal(t, stamped+1, testutil.ToFloat64(metrics.MigrationsStamped))
}

func TestReconcile_StampRefusedOnFingerprintMismatch(t *testing.T) {
	db := newFakeDB()
	db.tables["users"] = true
	db.tables["user_activity"] = true
	db.columns = headColumns()
	delete(db.columns, "is_active") // schema predates head

	stamped := testutil.ToFloat64(metrics.MigrationsStamped)

	r := NewReconciler(db)
	state := types.MigrationState{SchemaObjectsExist: true, HistoryTracked: false}
	err := r.Reconcile(context.Background(), acme, state)

	var ambiguous *types.MigrationAmbiguityError
	require.ErrorAs(t, err, &ambiguous)
	assert.Contains(t, ambiguous.Detail, "is_active")
	assert.Empty(t, db.applied)

	// A refused stamp is not a stamp.
	assert.Equal(t, stamped, testutil.ToFloat64(metrics.MigrationsStamped))
}

func TestReconcile_TrackedHistoryAppliesOnlyPending(t *testing.T) {
	db := newFakeDB()
	db.tables["users"] = true
	db.tables[historyTable] = true
	db.applied["0001"] = true

	r := NewReconciler(db)
	state := types.MigrationState{SchemaObjectsExist: false, HistoryTracked: true}
	require.NoError(t, r.Reconcile(context.Background(), acme, state))

	assert.True(t, db.applied["0002"])
	assert.Equal(t, 1, db.migrationExecs())
}

func TestReconcile_AmbiguousStateIsHardFailure(t *testing.T) {
	r := NewReconciler(newFakeDB())

	err := r.Reconcile(context.Background(), acme, types.MigrationState{Ambiguous: true})

	var ambiguous *types.MigrationAmbiguityError
	require.ErrorAs(t, err, &ambiguous)
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, "0001", migrations[0].Version)
	assert.Equal(t, "create_users", migrations[0].Name)
	assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS users")
	assert.Equal(t, "0002", headVersion(migrations))
}
