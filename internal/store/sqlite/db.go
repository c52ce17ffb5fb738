package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/juju/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS counters (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    current_queue INTEGER NOT NULL DEFAULT 0,
    max_queue INTEGER NOT NULL CHECK(max_queue > 0),
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    deleted_at INTEGER,
    CHECK(current_queue >= 0 AND current_queue <= max_queue)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_counters_name_alive ON counters(name) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS queues (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    number INTEGER NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('CLAIMED', 'CALLED', 'RELEASED', 'SKIPPED', 'SERVED', 'RESET')),
    counter_id INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (counter_id) REFERENCES counters(id)
);
CREATE INDEX IF NOT EXISTS idx_queues_counter_status ON queues(counter_id, status, created_at);
CREATE INDEX IF NOT EXISTS idx_queues_number ON queues(number);
`

// Open opens a SQLite database. The pool is pinned to one connection so
// writers are serialised and ":memory:" databases stay shared.
func Open(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, errors.Annotate(err, "open database")
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Annotate(err, "enable foreign keys")
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.Annotate(err, "set busy timeout")
	}
	return db, nil
}

// Migrate creates the counters and queues tables when they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Annotate(err, "apply schema")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
