// Package journal records session runs in SQLite: one row per run, its
// state transitions and periodic timing samples. It holds observability data
// only; registered classes are never persisted.
package journal

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

// Journal represents a SQLite database connection for run records.
type Journal struct {
	db   *sql.DB
	path string
}

// New opens the journal at dbPath, enables foreign keys and runs migrations.
func New(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers and keeps PRAGMAs in effect.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	j := &Journal{
		db:   db,
		path: dbPath,
	}

	if err := j.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// DB returns the underlying database connection.
func (j *Journal) DB() *sql.DB {
	return j.db
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}
