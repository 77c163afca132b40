package bolt

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/screenwise/screenwise/internal/storage"
	"go.etcd.io/bbolt"
)

const (
	bucketUsageRecords   = "usage_records"
	bucketSummaries      = "summaries"
	bucketStaleScores    = "stale_scores"
	bucketOverrideEvents = "override_events"
	bucketApplied        = "applied_decisions"
)

// Store implements the storage.Store interface using bbolt.
type Store struct {
	db *bbolt.DB
}

// Open opens a bbolt-backed store.
func Open(path string) (*Store, error) {
	if err := storage.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{
			bucketUsageRecords,
			bucketSummaries,
			bucketStaleScores,
			bucketOverrideEvents,
			bucketApplied,
		} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Usage returns the UsageStore implementation.
func (s *Store) Usage() storage.UsageStore {
	return &usageStore{db: s.db}
}
