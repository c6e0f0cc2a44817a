package state

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrate_IsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate call should be a no-op, got: %v", err)
	}
}

func TestPurgeOldRuns(t *testing.T) {
	db := openTestDB(t)

	old := &Run{ID: "run-old", ProjectID: "p", Instruction: "x", Status: "completed", StartedAt: time.Now().Add(-48 * time.Hour)}
	recent := &Run{ID: "run-new", ProjectID: "p", Instruction: "x", Status: "completed", StartedAt: time.Now()}
	if err := db.CreateRun(old); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateRun(recent); err != nil {
		t.Fatal(err)
	}

	count, err := db.PurgeOldRuns(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldRuns failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 purged run, got %d", count)
	}
	if _, err := db.GetRun("run-new"); err != nil {
		t.Fatalf("expected the recent run to survive, got: %v", err)
	}
	if _, err := db.GetRun("run-old"); err == nil {
		t.Fatal("expected the old run to have been purged")
	}
}
