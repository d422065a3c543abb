package envfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"

	"github.com/botfleet/botfleet/pkg/types"
)

// Well-known keys consumed by the bot service.
const (
	KeyBotToken    = "BOT_TOKEN"
	KeyDatabaseURL = "DATABASE_URL"
	KeyEnvironment = "ENVIRONMENT"
	KeyLogLevel    = "LOG_LEVEL"
)

// Build assembles the full environment for a tenant's service instance:
// the tenant-scoped database connection string, the bot credential, the
// mode flag, and any feature toggles configured for the tenant.
func Build(id types.TenantIdentity, mode types.Mode, dbHost string, dbPort int, toggles map[string]string) map[string]string {
	values := map[string]string{
		KeyBotToken:    id.CredentialSecret,
		KeyDatabaseURL: id.ConnString(dbHost, dbPort),
		KeyEnvironment: string(mode),
		KeyLogLevel:    "INFO",
	}
	for k, v := range toggles {
		values[k] = v
	}
	return values
}

// Write regenerates the env file at path from scratch. The file is never
// merged with previous contents; stale keys from earlier deploys must not
// survive.
func Write(path string, values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create env file dir: %w", err)
	}
	if err := godotenv.Write(values, path); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	// The file carries the tenant credential.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("restrict env file mode: %w", err)
	}
	return nil
}

// Read loads an env file into a map. Used by tests and by the rollback
// path to rebuild the previous container environment.
func Read(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	return values, nil
}

// Flatten converts values to the KEY=VALUE slice the container runtime
// expects, in deterministic order.
func Flatten(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	// Sorted for stable container specs across re-runs.
	sort.Strings(keys)

	out := make([]string, 0, len(values))
	for _, k := range keys {
		out = append(out, k+"="+values[k])
	}
	return out
}
