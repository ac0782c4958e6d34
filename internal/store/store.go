// Package store implements the persistence layer: the SQLite repository for
// proxies, check definitions, associations, and results, plus the derived
// alive and banned-at queries.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/maypok86/otter"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/proxyvet/proxyvet/internal/checkdef"
)

const defCacheCapacity = 1024

// Store wraps the registry database. All writes are serialized by an
// internal mutex: the embedded engine is single-writer and concurrent
// record_result calls from workers must not interleave at the driver level.
type Store struct {
	db *sql.DB
	mu sync.Mutex

	// defs caches decoded definition JSON by check id. Entries are evicted
	// on check removal; definitions are immutable otherwise.
	defs otter.Cache[int64, checkdef.Options]
}

// Open opens (or creates) the registry database at path, applies pragmas and
// migrations, and returns a ready Store.
func Open(path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := migrateDB(db); err != nil {
		db.Close()
		return nil, err
	}

	defs, err := otter.MustBuilder[int64, checkdef.Options](defCacheCapacity).Build()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build definition cache: %w", err)
	}

	return &Store{db: db, defs: defs}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.defs.Close()
	return s.db.Close()
}

// openDB opens a SQLite database with recommended pragmas: WAL journal mode,
// synchronous=NORMAL, foreign_keys=ON, busy_timeout=5000.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}

	// Single-writer: only one connection needed.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q on %s: %w", p, path, err)
		}
	}

	return db, nil
}

// isUniqueViolation reports whether err is a UNIQUE-constraint failure from
// the sqlite driver.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
