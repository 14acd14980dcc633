// Package db keeps a sqlite-backed history of saved snapshot versions.
// The live source of truth for room content is the JSON snapshot store;
// history is auxiliary and best-effort.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type History struct {
	db *sql.DB
}

// Version is one recorded snapshot of a single file.
type Version struct {
	ID          int       `json:"id"`
	RoomID      string    `json:"room_id"`
	FileID      string    `json:"file_id"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	IsAuto      bool      `json:"is_auto"`
	CreatedAt   time.Time `json:"created_at"`
}

// Open creates or opens the history database at dbPath.
func Open(dbPath string) (*History, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL keeps concurrent readers (stats endpoint) cheap.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("version history database initialized at %s", dbPath)
	return &History{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshot_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		file_id TEXT NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		is_auto BOOLEAN DEFAULT TRUE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_snapshot_versions_room ON snapshot_versions(room_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_snapshot_versions_file ON snapshot_versions(room_id, file_id);
	`
	_, err := db.Exec(schema)
	return err
}

func (h *History) Close() error {
	return h.db.Close()
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// RecordAuto appends an auto version row for a saved file. Identical
// consecutive saves of the same file are skipped by hash.
func (h *History) RecordAuto(roomID, fileID, content string) error {
	hash := hashContent(content)

	var lastHash string
	err := h.db.QueryRow(`
		SELECT content_hash FROM snapshot_versions
		WHERE room_id = ? AND file_id = ?
		ORDER BY id DESC LIMIT 1
	`, roomID, fileID).Scan(&lastHash)
	if err == nil && lastHash == hash {
		return nil
	}
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	_, err = h.db.Exec(`
		INSERT INTO snapshot_versions (room_id, file_id, content, content_hash, is_auto)
		VALUES (?, ?, ?, ?, TRUE)
	`, roomID, fileID, content, hash)
	return err
}

// ListVersions returns a room's versions, newest first.
func (h *History) ListVersions(roomID string, limit, offset int) ([]Version, error) {
	rows, err := h.db.Query(`
		SELECT id, room_id, file_id, content, content_hash, is_auto, created_at
		FROM snapshot_versions
		WHERE room_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		var v Version
		if err := rows.Scan(&v.ID, &v.RoomID, &v.FileID, &v.Content, &v.ContentHash, &v.IsAuto, &v.CreatedAt); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// LatestVersion returns the most recent version of one file, or nil if
// none was recorded.
func (h *History) LatestVersion(roomID, fileID string) (*Version, error) {
	row := h.db.QueryRow(`
		SELECT id, room_id, file_id, content, content_hash, is_auto, created_at
		FROM snapshot_versions
		WHERE room_id = ? AND file_id = ?
		ORDER BY id DESC LIMIT 1
	`, roomID, fileID)

	var v Version
	err := row.Scan(&v.ID, &v.RoomID, &v.FileID, &v.Content, &v.ContentHash, &v.IsAuto, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// PruneAuto removes old auto versions of each file in a room, keeping the
// most recent keepCount per file.
func (h *History) PruneAuto(roomID string, keepCount int) error {
	_, err := h.db.Exec(`
		DELETE FROM snapshot_versions
		WHERE room_id = ? AND is_auto = TRUE AND id NOT IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY file_id ORDER BY id DESC
				) AS rn
				FROM snapshot_versions
				WHERE room_id = ? AND is_auto = TRUE
			) WHERE rn <= ?
		)
	`, roomID, roomID, keepCount)
	return err
}

// DeleteRoom removes every version row for a room.
func (h *History) DeleteRoom(roomID string) error {
	_, err := h.db.Exec("DELETE FROM snapshot_versions WHERE room_id = ?", roomID)
	return err
}

// RoomIDs lists every room id with at least one recorded version.
func (h *History) RoomIDs() ([]string, error) {
	rows, err := h.db.Query("SELECT DISTINCT room_id FROM snapshot_versions")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats returns aggregate counters for the stats endpoint.
func (h *History) Stats() (map[string]any, error) {
	stats := make(map[string]any)

	var roomCount int
	if err := h.db.QueryRow("SELECT COUNT(DISTINCT room_id) FROM snapshot_versions").Scan(&roomCount); err != nil {
		return nil, err
	}
	stats["room_count"] = roomCount

	var versionCount int
	if err := h.db.QueryRow("SELECT COUNT(*) FROM snapshot_versions").Scan(&versionCount); err != nil {
		return nil, err
	}
	stats["version_count"] = versionCount

	return stats, nil
}
