package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/affinityd/internal/store"
)

// Dialect is the SQLite flavour of the configuration schema.
var Dialect = store.Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS process(
			id INTEGER PRIMARY KEY NOT NULL,
			name TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cpu(
			id INTEGER PRIMARY KEY NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS process_selected_cpu(
			process_id INTEGER NOT NULL REFERENCES process(id),
			cpu_id INTEGER NOT NULL REFERENCES cpu(id),
			PRIMARY KEY (process_id, cpu_id)
		);`,
	},
	SelectProcess:  `SELECT name FROM process WHERE id = ?;`,
	SelectCPUs:     `SELECT cpu_id FROM process_selected_cpu WHERE process_id = ? ORDER BY cpu_id;`,
	DeleteSelected: `DELETE FROM process_selected_cpu WHERE process_id = ?;`,
	UpsertProcess:  `INSERT INTO process(id, name) VALUES(?, ?) ON CONFLICT(id) DO UPDATE SET name=excluded.name;`,
	InsertCPU:      `INSERT INTO cpu(id) VALUES(?) ON CONFLICT(id) DO NOTHING;`,
	InsertSelected: `INSERT INTO process_selected_cpu(process_id, cpu_id) VALUES(?, ?) ON CONFLICT DO NOTHING;`,
}

// DB is a store.Store backed by SQLite (modernc.org/sqlite driver, CGO-free).
// The journal runs in WAL mode so the worker can read while a save is in
// flight.
type DB struct {
	*store.SQLStore
}

// New opens a SQLite database at path. Use ":memory:" for an in-memory database.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if p == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		d.SetMaxOpenConns(1)
	}
	ctx := context.Background()
	// busy timeout helps with short concurrent locks
	if _, err := d.ExecContext(ctx, "PRAGMA busy_timeout=3000;"); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if p != ":memory:" {
		if _, err := d.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
	}
	return &DB{SQLStore: store.NewSQLStore(d, Dialect)}, nil
}
