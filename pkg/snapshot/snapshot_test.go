package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCreateAndLatest(t *testing.T) {
	root := t.TempDir()
	deployDir := filepath.Join(root, "acme", "current")
	envFile := filepath.Join(deployDir, ".env")
	writeFile(t, filepath.Join(deployDir, "docker-compose.yml"), "services: {}")
	writeFile(t, envFile, "BOT_TOKEN=old\n")

	store := NewStore(root)
	snap, err := store.Create("acme", deployDir, envFile, "bot:v1")
	require.NoError(t, err)

	assert.Equal(t, "acme", snap.Tenant)
	assert.Equal(t, "bot:v1", snap.Image)
	assert.FileExists(t, filepath.Join(snap.Dir, "files", "docker-compose.yml"))
	assert.FileExists(t, snap.EnvFile)

	got, ok, err := store.Latest("acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.Image, got.Image)
	assert.Equal(t, snap.Dir, got.Dir)
}

func TestCreate_LatestWins(t *testing.T) {
	root := t.TempDir()
	deployDir := filepath.Join(root, "acme", "current")
	writeFile(t, filepath.Join(deployDir, "a.txt"), "v1")

	store := NewStore(root)
	_, err := store.Create("acme", deployDir, "", "bot:v1")
	require.NoError(t, err)

	writeFile(t, filepath.Join(deployDir, "b.txt"), "v2")
	require.NoError(t, os.Remove(filepath.Join(deployDir, "a.txt")))

	snap, err := store.Create("acme", deployDir, "", "bot:v2")
	require.NoError(t, err)

	// Exactly one snapshot remains and it reflects the newest state.
	assert.NoFileExists(t, filepath.Join(snap.Dir, "files", "a.txt"))
	assert.FileExists(t, filepath.Join(snap.Dir, "files", "b.txt"))

	got, ok, err := store.Latest("acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bot:v2", got.Image)
}

func TestCreate_FirstDeployWithNothingRunning(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	snap, err := store.Create("acme", filepath.Join(root, "acme", "current"), "", "")
	require.NoError(t, err)

	assert.Empty(t, snap.Image)
	assert.Empty(t, snap.EnvFile)

	_, ok, err := store.Latest("acme")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRestore(t *testing.T) {
	root := t.TempDir()
	deployDir := filepath.Join(root, "acme", "current")
	envFile := filepath.Join(deployDir, ".env")
	writeFile(t, filepath.Join(deployDir, "config.yml"), "version: 1")
	writeFile(t, envFile, "BOT_TOKEN=old\n")

	store := NewStore(root)
	snap, err := store.Create("acme", deployDir, envFile, "bot:v1")
	require.NoError(t, err)

	// Failed deploy scribbles over the deploy dir.
	writeFile(t, filepath.Join(deployDir, "config.yml"), "version: 2-broken")
	writeFile(t, envFile, "BOT_TOKEN=new-broken\n")

	require.NoError(t, store.Restore(snap, deployDir, envFile))

	data, err := os.ReadFile(filepath.Join(deployDir, "config.yml"))
	require.NoError(t, err)
	assert.Equal(t, "version: 1", string(data))

	env, err := os.ReadFile(envFile)
	require.NoError(t, err)
	assert.Equal(t, "BOT_TOKEN=old\n", string(env))
}

func TestLatest_NoSnapshot(t *testing.T) {
	store := NewStore(t.TempDir())

	_, ok, err := store.Latest("ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	_, err := store.Create("acme", filepath.Join(root, "nothing"), "", "")
	require.NoError(t, err)
	require.NoError(t, store.Delete("acme"))

	_, ok, err := store.Latest("acme")
	require.NoError(t, err)
	assert.False(t, ok)
}
