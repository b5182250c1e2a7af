package factory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/affinityd/internal/store"
	pg "github.com/loykin/affinityd/internal/store/postgres"
	sq "github.com/loykin/affinityd/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - sqlite:  "sqlite://<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//
// The parent directory of a SQLite file is created when missing.
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		d = d[len("sqlite://"):]
	}
	if d != ":memory:" && d != "" {
		if err := os.MkdirAll(filepath.Dir(d), 0o750); err != nil {
			return nil, fmt.Errorf("%w: create store directory: %v", store.ErrUnavailable, err)
		}
	}
	return sq.New(d)
}
