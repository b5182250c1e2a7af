package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loykin/affinityd/internal/cpuset"
)

// DefaultProcessName is the target used until the user saves a configuration.
const DefaultProcessName = "iRacingSim64DX11.exe"

// MainProcessID is the sentinel id of the singleton process row.
const MainProcessID = 0

var (
	// ErrUnavailable wraps failures to open or reach the database.
	ErrUnavailable = errors.New("configuration storage unavailable")
	// ErrIndexRange means a stored CPU index cannot be represented in a mask.
	ErrIndexRange = errors.New("persisted cpu index out of range")
)

// Configuration is the desired state: which process to pin and where.
type Configuration struct {
	ProcessName string
	Selections  cpuset.Selection
}

// DefaultConfiguration targets DefaultProcessName on every CPU.
func DefaultConfiguration(cpuCount int) Configuration {
	return Configuration{
		ProcessName: DefaultProcessName,
		Selections:  cpuset.NewAllSelected(cpuCount),
	}
}

// Store persists a single Configuration.
//
// Load returns the default configuration, without persisting it, when
// nothing has been saved yet. Save replaces the stored configuration
// atomically.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Load(ctx context.Context, cpuCount int) (Configuration, error)
	Save(ctx context.Context, cfg Configuration) error
	Close() error
}

// Dialect holds the driver specific statements used by SQLStore.
type Dialect struct {
	Name           string
	Schema         []string
	SelectProcess  string
	SelectCPUs     string
	DeleteSelected string
	UpsertProcess  string
	InsertCPU      string
	InsertSelected string
}

// SQLStore implements Store on database/sql for any Dialect.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB, d Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: d}
}

// DB exposes the underlying handle for driver specific tuning.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for _, q := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure %s schema: %w", s.dialect.Name, err)
		}
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, cpuCount int) (Configuration, error) {
	var name string
	err := s.db.QueryRowContext(ctx, s.dialect.SelectProcess, MainProcessID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("No saved configuration, using default", "process", DefaultProcessName)
		return DefaultConfiguration(cpuCount), nil
	}
	if err != nil {
		return Configuration{}, fmt.Errorf("query process: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.SelectCPUs, MainProcessID)
	if err != nil {
		return Configuration{}, fmt.Errorf("query selected cpus: %w", err)
	}
	defer func() { _ = rows.Close() }()
	indices := make([]int, 0, cpuCount)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return Configuration{}, fmt.Errorf("scan selected cpu: %w", err)
		}
		if id < 0 || id >= cpuset.MaxCPUs {
			return Configuration{}, fmt.Errorf("%w: %d", ErrIndexRange, id)
		}
		indices = append(indices, int(id))
	}
	if err := rows.Err(); err != nil {
		return Configuration{}, fmt.Errorf("iterate selected cpus: %w", err)
	}
	return Configuration{
		ProcessName: name,
		Selections:  cpuset.NewPreselected(indices, cpuCount),
	}, nil
}

// Save deletes the previous selection rows and inserts the new process name
// and selection in one transaction.
func (s *SQLStore) Save(ctx context.Context, cfg Configuration) (err error) {
	indices := cfg.Selections.Indices()
	for _, id := range indices {
		if id < 0 || id >= cpuset.MaxCPUs {
			return fmt.Errorf("%w: %d", ErrIndexRange, id)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, s.dialect.DeleteSelected, MainProcessID); err != nil {
		return fmt.Errorf("delete selected cpus: %w", err)
	}
	if _, err = tx.ExecContext(ctx, s.dialect.UpsertProcess, MainProcessID, cfg.ProcessName); err != nil {
		return fmt.Errorf("upsert process: %w", err)
	}
	for _, id := range indices {
		if _, err = tx.ExecContext(ctx, s.dialect.InsertCPU, id); err != nil {
			return fmt.Errorf("insert cpu %d: %w", id, err)
		}
		if _, err = tx.ExecContext(ctx, s.dialect.InsertSelected, MainProcessID, id); err != nil {
			return fmt.Errorf("insert selected cpu %d: %w", id, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	slog.Info("Saved configuration", "process", cfg.ProcessName, "cpus", cpuset.FormatList(indices))
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }
