// Package snapshot persists each room's file-content map as one JSON
// document on disk. Persistence is best-effort: callers log failures and
// keep serving from memory.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const snapshotSubdir = "collab-snapshots"

// ErrBadRoomID is returned for room ids that would escape the snapshot
// directory.
var ErrBadRoomID = errors.New("snapshot: invalid room id")

// Store reads and writes per-room snapshots under <base>/collab-snapshots.
type Store struct {
	dir string
}

// New returns a Store rooted at baseDir. The directory is created on
// first write, not here.
func New(baseDir string) *Store {
	return &Store{dir: filepath.Join(baseDir, snapshotSubdir)}
}

// Dir returns the resolved snapshot directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the on-disk location for a room's snapshot document.
func (s *Store) Path(roomID string) string {
	return filepath.Join(s.dir, roomID+".json")
}

func validRoomID(roomID string) bool {
	if roomID == "" {
		return false
	}
	return !strings.ContainsAny(roomID, `/\`) && roomID != "." && roomID != ".."
}

// Load reads a room's snapshot if one exists. Absence is not an error;
// callers get an empty map.
func (s *Store) Load(roomID string) (map[string]string, error) {
	if !validRoomID(roomID) {
		return map[string]string{}, ErrBadRoomID
	}

	data, err := os.ReadFile(s.Path(roomID))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return map[string]string{}, fmt.Errorf("read snapshot %s: %w", roomID, err)
	}

	files := make(map[string]string)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &files); err != nil {
			return map[string]string{}, fmt.Errorf("parse snapshot %s: %w", roomID, err)
		}
	}
	return files, nil
}

// Save writes the full snapshot map as pretty JSON, overwriting any
// previous document. Invoked synchronously on every content mutation so
// the durable copy never lags the in-memory room.
func (s *Store) Save(roomID string, files map[string]string) error {
	if !validRoomID(roomID) {
		return ErrBadRoomID
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	if files == nil {
		files = map[string]string{}
	}
	data, err := json.MarshalIndent(files, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", roomID, err)
	}

	if err := os.WriteFile(s.Path(roomID), data, 0644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", roomID, err)
	}
	return nil
}

// Delete removes a room's snapshot document. Used only by the retention
// sweeper; the live protocol never deletes snapshots.
func (s *Store) Delete(roomID string) error {
	if !validRoomID(roomID) {
		return ErrBadRoomID
	}
	err := os.Remove(s.Path(roomID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Stale lists room ids whose snapshot files have not been modified within
// ttl.
func (s *Store) Stale(ttl time.Duration) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	cutoff := time.Now().Add(-ttl)
	var stale []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, strings.TrimSuffix(name, ".json"))
		}
	}
	return stale, nil
}
