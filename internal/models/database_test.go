package models

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestProgressUpsert(t *testing.T) {
	db := testDB(t)

	if err := db.SaveProgress(&WatchProgress{TitleID: "tt1", PositionSeconds: 100, DurationSeconds: 7200}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := db.SaveProgress(&WatchProgress{TitleID: "tt1", PositionSeconds: 250, DurationSeconds: 7200}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := db.GetProgress("tt1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PositionSeconds != 250 {
		t.Errorf("expected upserted position 250, got %d", got.PositionSeconds)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt stamped on save")
	}
}

func TestGetProgressNotFound(t *testing.T) {
	db := testDB(t)

	_, err := db.GetProgress("missing")
	if err == nil || !IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestDeleteProgress(t *testing.T) {
	db := testDB(t)

	if err := db.SaveProgress(&WatchProgress{TitleID: "tt1", PositionSeconds: 100, DurationSeconds: 7200}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := db.DeleteProgress("tt1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.GetProgress("tt1"); !IsNotFound(err) {
		t.Errorf("expected not-found after delete, got %v", err)
	}
}

func TestListContinueWatchingOrderAndFilter(t *testing.T) {
	db := testDB(t)

	// Completed, untouched and in-progress entries; only the in-progress
	// ones come back, most recent first.
	entries := []*WatchProgress{
		{TitleID: "tt-old", PositionSeconds: 600, DurationSeconds: 7200},
		{TitleID: "tt-recent", PositionSeconds: 1800, DurationSeconds: 7200},
		{TitleID: "tt-finished", PositionSeconds: 7000, DurationSeconds: 7200},
		{TitleID: "tt-unstarted", PositionSeconds: 0, DurationSeconds: 7200},
	}
	for _, p := range entries {
		if err := db.SaveProgress(p); err != nil {
			t.Fatalf("save %s: %v", p.TitleID, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	items, err := db.ListContinueWatching()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 continue-watching items, got %d", len(items))
	}
	if items[0].TitleID != "tt-recent" || items[1].TitleID != "tt-old" {
		t.Errorf("expected most recent first, got [%s %s]", items[0].TitleID, items[1].TitleID)
	}
}

func TestDeleteStaleProgress(t *testing.T) {
	db := testDB(t)

	if err := db.SaveProgress(&WatchProgress{TitleID: "tt-stale", PositionSeconds: 600, DurationSeconds: 7200}); err != nil {
		t.Fatalf("save: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	removed, err := db.DeleteStaleProgress(time.Hour)
	if err != nil {
		t.Fatalf("cleanup with long retention: %v", err)
	}
	if removed != 0 {
		t.Errorf("expected nothing removed under a long retention, got %d", removed)
	}

	removed, err = db.DeleteStaleProgress(time.Millisecond)
	if err != nil {
		t.Fatalf("cleanup with short retention: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected the aged entry removed, got %d", removed)
	}
	if _, err := db.GetProgress("tt-stale"); !IsNotFound(err) {
		t.Errorf("expected entry gone after cleanup, got %v", err)
	}
}
