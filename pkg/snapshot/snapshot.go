package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/botfleet/botfleet/pkg/log"
	"github.com/botfleet/botfleet/pkg/types"
)

const (
	filesDir = "files"
	metaFile = "meta.json"
)

// Store manages one snapshot per tenant under a well-known root. The
// newest snapshot always overwrites its predecessor; a snapshot is only
// ever consumed by rollback, never by forward deploys.
type Store struct {
	Root string
}

// NewStore creates a snapshot store rooted at root.
func NewStore(root string) *Store {
	return &Store{Root: root}
}

func (s *Store) dir(tenant string) string {
	return filepath.Join(s.Root, tenant, "snapshot")
}

// Create captures the tenant's deployment directory and environment file.
// A missing deploy directory (first-ever deploy) yields a valid empty
// snapshot so rollback semantics stay uniform.
func (s *Store) Create(tenant, deployDir, envFile, image string) (types.Snapshot, error) {
	dir := s.dir(tenant)

	// Latest wins: drop the previous snapshot before writing the new one.
	if err := os.RemoveAll(dir); err != nil {
		return types.Snapshot{}, fmt.Errorf("clear previous snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, filesDir), 0o755); err != nil {
		return types.Snapshot{}, fmt.Errorf("create snapshot dir: %w", err)
	}

	snap := types.Snapshot{
		Tenant:    tenant,
		Timestamp: time.Now().UTC(),
		Dir:       dir,
		Image:     image,
	}

	if _, err := os.Stat(deployDir); err == nil {
		if err := copyDir(deployDir, filepath.Join(dir, filesDir)); err != nil {
			return types.Snapshot{}, fmt.Errorf("copy deploy dir: %w", err)
		}
	}
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			dst := filepath.Join(dir, filepath.Base(envFile))
			if err := copyFile(envFile, dst); err != nil {
				return types.Snapshot{}, fmt.Errorf("copy env file: %w", err)
			}
			snap.EnvFile = dst
		}
	}

	if err := s.writeMeta(snap); err != nil {
		return types.Snapshot{}, err
	}

	logger := log.WithTenant(tenant)
	logger.Info().
		Str("dir", dir).
		Str("image", image).
		Msg("snapshot created")
	return snap, nil
}

// Latest returns the tenant's retained snapshot, if any.
func (s *Store) Latest(tenant string) (types.Snapshot, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir(tenant), metaFile))
	if os.IsNotExist(err) {
		return types.Snapshot{}, false, nil
	}
	if err != nil {
		return types.Snapshot{}, false, fmt.Errorf("read snapshot meta: %w", err)
	}

	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return types.Snapshot{}, false, fmt.Errorf("decode snapshot meta: %w", err)
	}
	return snap, true, nil
}

// Restore puts the snapshot's files back into deployDir and its env file
// back to envFile, replacing whatever the failed deploy left behind.
func (s *Store) Restore(snap types.Snapshot, deployDir, envFile string) error {
	if err := os.RemoveAll(deployDir); err != nil {
		return fmt.Errorf("clear deploy dir: %w", err)
	}
	if err := os.MkdirAll(deployDir, 0o755); err != nil {
		return fmt.Errorf("recreate deploy dir: %w", err)
	}
	if err := copyDir(filepath.Join(snap.Dir, filesDir), deployDir); err != nil {
		return fmt.Errorf("restore deploy dir: %w", err)
	}
	if snap.EnvFile != "" && envFile != "" {
		if err := copyFile(snap.EnvFile, envFile); err != nil {
			return fmt.Errorf("restore env file: %w", err)
		}
	}

	logger := log.WithTenant(snap.Tenant)
	logger.Info().Str("dir", deployDir).Msg("snapshot restored")
	return nil
}

// Delete removes the tenant's snapshot. Called after a rollback consumed it.
func (s *Store) Delete(tenant string) error {
	if err := os.RemoveAll(s.dir(tenant)); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *Store) writeMeta(snap types.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(snap.Dir, metaFile), data, 0o644); err != nil {
		return fmt.Errorf("write snapshot meta: %w", err)
	}
	return nil
}

func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := os.MkdirAll(dstPath, 0o755); err != nil {
				return err
			}
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
