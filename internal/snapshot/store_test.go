package snapshot

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingRoomReturnsEmpty(t *testing.T) {
	store := New(t.TempDir())

	files, err := store.Load("never-seen")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected empty map, got %v", files)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := New(t.TempDir())

	want := map[string]string{
		"src/index.js": "console.log('hi')",
		"readme.md":    "# hello",
	}
	if err := store.Save("room-1", want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load("room-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("files[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestSaveWritesPrettyJSONUnderSubdir(t *testing.T) {
	base := t.TempDir()
	store := New(base)

	if err := store.Save("room-x", map[string]string{"a.txt": "b"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	path := filepath.Join(base, "collab-snapshots", "room-x.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("snapshot not at expected path: %v", err)
	}

	var files map[string]string
	if err := json.Unmarshal(data, &files); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	if string(data[0]) != "{" || len(data) < len(`{"a.txt":"b"}`) {
		t.Errorf("unexpected document: %s", data)
	}
}

func TestSaveOverwrites(t *testing.T) {
	store := New(t.TempDir())

	if err := store.Save("r", map[string]string{"f": "v1", "g": "x"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save("r", map[string]string{"f": "v2"}); err != nil {
		t.Fatal(err)
	}

	got, err := store.Load("r")
	if err != nil {
		t.Fatal(err)
	}
	if got["f"] != "v2" {
		t.Errorf("f = %q, want v2", got["f"])
	}
	if _, ok := got["g"]; ok {
		t.Error("stale key survived overwrite")
	}
}

func TestInvalidRoomIDs(t *testing.T) {
	store := New(t.TempDir())

	for _, id := range []string{"", "..", "a/b", `a\b`} {
		if err := store.Save(id, map[string]string{}); !errors.Is(err, ErrBadRoomID) {
			t.Errorf("Save(%q) err = %v, want ErrBadRoomID", id, err)
		}
	}
}

func TestStale(t *testing.T) {
	base := t.TempDir()
	store := New(base)

	if err := store.Save("old-room", map[string]string{"a": "b"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save("fresh-room", map[string]string{"a": "b"}); err != nil {
		t.Fatal(err)
	}

	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(store.Path("old-room"), past, past); err != nil {
		t.Fatal(err)
	}

	stale, err := store.Stale(time.Hour)
	if err != nil {
		t.Fatalf("Stale: %v", err)
	}
	if len(stale) != 1 || stale[0] != "old-room" {
		t.Errorf("stale = %v, want [old-room]", stale)
	}
}

func TestDeleteMissingIsNoError(t *testing.T) {
	store := New(t.TempDir())
	if err := store.Delete("ghost"); err != nil {
		t.Errorf("Delete: %v", err)
	}
}
