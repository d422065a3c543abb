package envfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botfleet/botfleet/pkg/types"
)

func TestBuild(t *testing.T) {
	id := types.TenantIdentity{Name: "acme", CredentialSecret: "123:token"}

	values := Build(id, types.ModeProduction, "localhost", 5432, map[string]string{
		"REDIS_ENABLED": "false",
	})

	assert.Equal(t, "123:token", values[KeyBotToken])
	assert.Equal(t, "postgresql://bot_acme:123:token@localhost:5432/bot_acme", values[KeyDatabaseURL])
	assert.Equal(t, "production", values[KeyEnvironment])
	assert.Equal(t, "false", values["REDIS_ENABLED"])
}

func TestWriteRegeneratesCompletely(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acme", ".env")

	require.NoError(t, Write(path, map[string]string{
		"BOT_TOKEN": "old",
		"STALE_KEY": "should-vanish",
	}))
	require.NoError(t, Write(path, map[string]string{
		"BOT_TOKEN": "new",
	}))

	values, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, "new", values["BOT_TOKEN"])
	assert.NotContains(t, values, "STALE_KEY")
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	in := map[string]string{
		"BOT_TOKEN":    "123:abc",
		"DATABASE_URL": "postgresql://bot_acme:pw@localhost:5432/bot_acme",
		"ENVIRONMENT":  "staging",
	}

	require.NoError(t, Write(path, in))
	out, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, in, out)
}

func TestFlattenIsSortedAndStable(t *testing.T) {
	env := Flatten(map[string]string{"B": "2", "A": "1", "C": "3"})
	assert.Equal(t, []string{"A=1", "B=2", "C=3"}, env)
}
