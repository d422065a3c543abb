package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/botfleet/botfleet/pkg/types"
)

var bucketAttempts = []byte("attempts")

// Store persists deployment attempt records in a local BoltDB file so
// operators can audit what happened to a tenant without digging through
// CI logs.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the history database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dataDir, "history.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAttempts)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// key orders attempts per tenant by start time. The attempt ID breaks
// ties between attempts started in the same nanosecond.
func key(a *types.Attempt) []byte {
	return []byte(a.Tenant + "/" + a.StartedAt.UTC().Format("2006-01-02T15:04:05.000000000") + "/" + a.ID)
}

// Record stores one finished attempt.
func (s *Store) Record(a *types.Attempt) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttempts)
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return b.Put(key(a), data)
	})
}

// ListByTenant returns the tenant's attempts, oldest first.
func (s *Store) ListByTenant(tenant string) ([]*types.Attempt, error) {
	var attempts []*types.Attempt
	prefix := []byte(tenant + "/")

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAttempts).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var a types.Attempt
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			attempts = append(attempts, &a)
		}
		return nil
	})
	return attempts, err
}

// Latest returns the tenant's most recent attempt.
func (s *Store) Latest(tenant string) (*types.Attempt, bool, error) {
	attempts, err := s.ListByTenant(tenant)
	if err != nil {
		return nil, false, err
	}
	if len(attempts) == 0 {
		return nil, false, nil
	}
	return attempts[len(attempts)-1], true, nil
}
