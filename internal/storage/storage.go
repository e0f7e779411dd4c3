// Package storage owns the single embedded SQLite database file shared by
// the bar store, universe store, queue store, and job store. All four
// stores open short-lived statements against the same *sql.DB; only one
// process is expected to write to the file at a time, per component.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const dbFilename = "ingest.db"

// DBPath returns the path to the SQLite database file under dataDir
// (relative if dataDir is relative), creating dataDir with 0700
// permissions if needed.
func DBPath(dataDir string) (string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	return filepath.Join(dataDir, dbFilename), nil
}

// Open opens the embedded database, enabling WAL mode so progress reads
// are not blocked behind an in-flight writer commit, and verifies
// connectivity. It also bootstraps the schema if the tables do not yet
// exist.
func Open(dataDir string) (*sql.DB, error) {
	path, err := DBPath(dataDir)
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	// A single file means a single writer; callers (bar store, queue
	// store, job store) each issue short-lived statements rather than
	// holding connections, so one open connection is enough to avoid
	// SQLITE_BUSY under concurrent writers from the same process.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return db, nil
}
