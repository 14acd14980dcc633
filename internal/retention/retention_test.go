package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hypercode/collab/internal/db"
	"github.com/hypercode/collab/internal/snapshot"
)

func TestSweepRemovesStaleSnapshots(t *testing.T) {
	store := snapshot.New(t.TempDir())
	history, err := db.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer history.Close()

	if err := store.Save("stale-room", map[string]string{"a": "b"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save("live-room", map[string]string{"a": "b"}); err != nil {
		t.Fatal(err)
	}
	if err := history.RecordAuto("stale-room", "a", "b"); err != nil {
		t.Fatal(err)
	}

	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(store.Path("stale-room"), past, past); err != nil {
		t.Fatal(err)
	}

	sweeper := New(store, history, Config{
		Interval:         time.Hour,
		SnapshotTTL:      24 * time.Hour,
		KeepAutoVersions: 5,
	})
	sweeper.SweepNow()

	if _, err := os.Stat(store.Path("stale-room")); !os.IsNotExist(err) {
		t.Error("stale snapshot should be deleted")
	}
	if _, err := os.Stat(store.Path("live-room")); err != nil {
		t.Errorf("live snapshot should survive: %v", err)
	}

	versions, err := history.ListVersions("stale-room", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 0 {
		t.Errorf("history for swept room should be gone, got %d rows", len(versions))
	}
}

func TestZeroTTLNeverDeletesSnapshots(t *testing.T) {
	store := snapshot.New(t.TempDir())

	if err := store.Save("old", map[string]string{"a": "b"}); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-1000 * time.Hour)
	if err := os.Chtimes(store.Path("old"), past, past); err != nil {
		t.Fatal(err)
	}

	sweeper := New(store, nil, Config{Interval: time.Hour, SnapshotTTL: 0})
	sweeper.SweepNow()

	if _, err := os.Stat(store.Path("old")); err != nil {
		t.Errorf("ttl=0 must preserve snapshots: %v", err)
	}
}
