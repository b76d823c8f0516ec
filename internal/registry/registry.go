// Package registry records training runs and prediction records in SQLite.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("run not found")

// Migration is one schema step, applied once per database.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// Registry is a SQLite-backed record of training runs and predictions.
type Registry struct {
	db *sql.DB
	mu sync.Mutex // Serialize migrations
}

// Open opens (or creates) the registry database at path, applies pragmas
// and runs pending migrations.
func Open(ctx context.Context, path string) (*Registry, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create registry dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// SQLite performs best with a single write connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	r := &Registry{db: db}
	if err := r.Migrate(ctx, migrations); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the underlying database connection.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Tx executes fn within a database transaction. The transaction is
// committed if fn returns nil, rolled back otherwise.
func (r *Registry) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}

// Migrate applies the migrations not yet recorded in _migrations, in order.
func (r *Registry) Migrate(ctx context.Context, ms []Migration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			version     INTEGER  PRIMARY KEY,
			description TEXT     NOT NULL,
			applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for _, m := range ms {
		var count int
		if err := r.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM _migrations WHERE version = ?", m.Version,
		).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		err := r.Tx(ctx, func(tx *sql.Tx) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO _migrations (version, description) VALUES (?, ?)",
				m.Version, m.Description,
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "create training_runs",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE training_runs (
					id            TEXT    PRIMARY KEY,
					created_at    TEXT    NOT NULL,
					pollutant     TEXT    NOT NULL,
					train_rows    INTEGER NOT NULL,
					test_rows     INTEGER NOT NULL,
					mae           REAL    NOT NULL,
					f1            REAL    NOT NULL,
					f1_defined    INTEGER NOT NULL,
					baseline_mae  REAL,
					threshold     REAL    NOT NULL,
					feature_names TEXT    NOT NULL,
					artifact_dir  TEXT    NOT NULL
				)`)
			return err
		},
	},
	{
		Version:     2,
		Description: "create predictions",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE predictions (
					id                    INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id                TEXT    NOT NULL REFERENCES training_runs(id),
					created_at            TEXT    NOT NULL,
					predicted_value       REAL    NOT NULL,
					predicted_violation   INTEGER NOT NULL,
					violation_probability REAL    NOT NULL,
					alert                 TEXT    NOT NULL,
					record                TEXT    NOT NULL
				)`); err != nil {
				return err
			}
			_, err := tx.Exec("CREATE INDEX idx_predictions_run ON predictions(run_id)")
			return err
		},
	},
}
