package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/loykin/affinityd/internal/cpuset"
	"github.com/loykin/affinityd/internal/store"
)

// startPostgresContainer starts a PostgreSQL container for tests
// and returns a DSN suitable for pgx stdlib. It skips the test if Docker is unavailable.
func startPostgresContainer(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Skipf("Failed to get host info: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Skipf("Failed to get mapped port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
	waitForPostgres(t, dsn)
	return dsn
}

func waitForPostgres(t *testing.T, dsn string) {
	deadline := time.Now().Add(45 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			err = db.PingContext(ctx)
			_ = db.Close()
		}
		cancel()
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready in time: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestNewDoesNotConnect(t *testing.T) {
	db, err := New("postgres://nobody@127.0.0.1:1/none?sslmode=disable")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = db.EnsureSchema(ctx)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestPostgresSaveLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	dsn := startPostgresContainer(t)

	db, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	require.NoError(t, db.EnsureSchema(ctx))

	cfg, err := db.Load(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, store.DefaultProcessName, cfg.ProcessName)

	want := store.Configuration{ProcessName: "pgsvc", Selections: cpuset.NewPreselected([]int{1, 3}, 4)}
	require.NoError(t, db.Save(ctx, want))
	got, err := db.Load(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "pgsvc", got.ProcessName)
	assert.Equal(t, []int{1, 3}, got.Selections.Indices())

	require.NoError(t, db.Save(ctx, store.Configuration{ProcessName: "pgsvc", Selections: cpuset.New(4)}))
	got, err = db.Load(ctx, 4)
	require.NoError(t, err)
	assert.Zero(t, got.Selections.Len())
}
