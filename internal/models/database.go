package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/timshannon/bolthold"
	"go.etcd.io/bbolt"
)

// Database wraps the bolthold store holding watch progress
type Database struct {
	store *bolthold.Store
}

// NewDatabase creates a new database connection
func NewDatabase(path string) (*Database, error) {
	store, err := bolthold.Open(path, 0600, &bolthold.Options{
		Options: &bbolt.Options{
			Timeout: 1 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{store: store}, nil
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.store.Close()
}

// Watch progress operations

// SaveProgress upserts the resume position for a title
func (db *Database) SaveProgress(progress *WatchProgress) error {
	progress.UpdatedAt = time.Now()
	return db.store.Upsert(progress.TitleID, progress)
}

// GetProgress retrieves the resume position for a title
func (db *Database) GetProgress(titleID string) (*WatchProgress, error) {
	var progress WatchProgress
	err := db.store.Get(titleID, &progress)
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

// DeleteProgress removes the stored position for a title
func (db *Database) DeleteProgress(titleID string) error {
	return db.store.Delete(titleID, &WatchProgress{})
}

// ListContinueWatching retrieves incomplete items, most recently watched first
func (db *Database) ListContinueWatching() ([]*WatchProgress, error) {
	var items []*WatchProgress
	err := db.store.Find(&items, nil)
	if err != nil {
		return nil, err
	}

	incomplete := items[:0]
	for _, item := range items {
		if item.PositionSeconds > 0 && !item.Completed() {
			incomplete = append(incomplete, item)
		}
	}

	// Most recent first
	sort.Slice(incomplete, func(i, j int) bool {
		return incomplete[i].UpdatedAt.After(incomplete[j].UpdatedAt)
	})

	return incomplete, nil
}

// DeleteStaleProgress removes entries not updated within the retention window
func (db *Database) DeleteStaleProgress(retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)

	var stale []*WatchProgress
	err := db.store.Find(&stale, bolthold.Where("UpdatedAt").Lt(cutoff))
	if err != nil {
		return 0, err
	}

	for _, item := range stale {
		if err := db.store.Delete(item.TitleID, &WatchProgress{}); err != nil {
			return 0, err
		}
	}

	return len(stale), nil
}

// IsNotFound reports whether err is the store's not-found error
func IsNotFound(err error) bool {
	return err == bolthold.ErrNotFound
}
