// Package db persists traffic events and the intersection status to sqlite.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/crossroads/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultSampleRetention bounds how long status samples are kept.
const DefaultSampleRetention = 24 * time.Hour

// DB wraps the sqlite handle and implements the arbitration loop's sink.
type DB struct {
	*sql.DB
	path string

	// retention is a time.Duration in nanoseconds; zero keeps every sample.
	retention atomic.Int64
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
}

// OpenDB opens the database file and applies connection pragmas without
// touching the schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	db := &DB{DB: sqlDB, path: path}
	db.SetSampleRetention(DefaultSampleRetention)
	return db, nil
}

// NewDB opens the database and migrates it to the latest schema.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	migFS, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(migFS); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string { return db.path }

// SetSampleRetention sets how long status samples are kept. Zero or negative
// disables pruning.
func (db *DB) SetSampleRetention(d time.Duration) {
	if d < 0 {
		d = 0
	}
	db.retention.Store(int64(d))
}

func getMigrationsFS() (fs.FS, error) {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return sub, nil
}

var logf = monitoring.Component("db")

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
