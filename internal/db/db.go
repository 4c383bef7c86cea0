// Package db opens the SQLite database shared by the pending store and the
// library index, and provides small helpers around database/sql.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

const currentSchemaVersion = 2

// Open opens (creating if needed) the database at path and applies the schema.
// A single connection is used so writers never contend for the file lock.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)

	if err := initSchema(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return conn, nil
}

func initSchema(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS pending_items (
			id TEXT PRIMARY KEY,
			source_path TEXT NOT NULL UNIQUE,
			video_title TEXT NOT NULL,
			channel TEXT NOT NULL,
			extension TEXT NOT NULL,
			inferred_title TEXT,
			inferred_artist TEXT,
			current_title TEXT,
			current_artist TEXT,
			genre TEXT,
			artwork_present INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_message TEXT,
			raw_response TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_items(status);
		CREATE INDEX IF NOT EXISTS idx_pending_created_at ON pending_items(created_at);

		CREATE TABLE IF NOT EXISTS library_tracks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL UNIQUE,
			mtime INTEGER NOT NULL,
			title TEXT NOT NULL,
			artist TEXT NOT NULL,
			album_artist TEXT NOT NULL,
			album TEXT NOT NULL,
			genre TEXT,
			year INTEGER,
			track_number INTEGER,
			has_artwork INTEGER NOT NULL DEFAULT 0,
			added_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tracks_artist ON library_tracks(artist);
		CREATE INDEX IF NOT EXISTS idx_tracks_artist_album ON library_tracks(artist, album);
		CREATE INDEX IF NOT EXISTS idx_tracks_genre ON library_tracks(genre);

		CREATE TABLE IF NOT EXISTS library_scans (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			files_seen INTEGER NOT NULL,
			indexed INTEGER NOT NULL,
			removed INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			full INTEGER NOT NULL DEFAULT 0,
			unchanged INTEGER NOT NULL DEFAULT 0
		);
	`)
	if err != nil {
		return err
	}

	// Migrations for databases created before the columns existed; errors
	// mean the column is already there.
	_, _ = conn.Exec(`ALTER TABLE library_scans ADD COLUMN full INTEGER NOT NULL DEFAULT 0`)
	_, _ = conn.Exec(`ALTER TABLE library_scans ADD COLUMN unchanged INTEGER NOT NULL DEFAULT 0`)

	_, err = conn.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, currentSchemaVersion)
	return err
}
