package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/affinityd/internal/store"
)

var Dialect = store.Dialect{
	Name: "postgres",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS process(
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cpu(
			id INTEGER PRIMARY KEY
		);`,
		`CREATE TABLE IF NOT EXISTS process_selected_cpu(
			process_id INTEGER NOT NULL REFERENCES process(id),
			cpu_id INTEGER NOT NULL REFERENCES cpu(id),
			PRIMARY KEY (process_id, cpu_id)
		);`,
	},
	SelectProcess:  `SELECT name FROM process WHERE id = $1;`,
	SelectCPUs:     `SELECT cpu_id FROM process_selected_cpu WHERE process_id = $1 ORDER BY cpu_id;`,
	DeleteSelected: `DELETE FROM process_selected_cpu WHERE process_id = $1;`,
	UpsertProcess:  `INSERT INTO process(id, name) VALUES($1, $2) ON CONFLICT(id) DO UPDATE SET name=EXCLUDED.name;`,
	InsertCPU:      `INSERT INTO cpu(id) VALUES($1) ON CONFLICT(id) DO NOTHING;`,
	InsertSelected: `INSERT INTO process_selected_cpu(process_id, cpu_id) VALUES($1, $2) ON CONFLICT DO NOTHING;`,
}

// DB is a store.Store backed by PostgreSQL through the pgx stdlib driver.
type DB struct {
	*store.SQLStore
}

// New prepares a pool for dsn. No connection is made until first use.
func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return &DB{SQLStore: store.NewSQLStore(d, Dialect)}, nil
}
