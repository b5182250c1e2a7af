package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/affinityd/internal/heartbeat"
	"github.com/loykin/affinityd/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	sink, err := New("sqlite://" + filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer func() { assert.NoError(t, sink.Close()) }()
	ctx := context.Background()

	synced := heartbeat.Heartbeat{At: time.Now().UTC(), IsSynced: heartbeat.Bool(true)}
	require.NoError(t, sink.Send(ctx, history.FromHeartbeat(synced, "game.exe", 1, true)))

	failed := heartbeat.Heartbeat{At: time.Now().UTC(), Error: "permission denied"}
	require.NoError(t, sink.Send(ctx, history.FromHeartbeat(failed, "game.exe", 1, false)))

	n, err := sink.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var nulls int
	require.NoError(t, sink.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM heartbeat_history WHERE is_synced IS NULL AND error = 'permission denied'`).Scan(&nulls))
	assert.Equal(t, 1, nulls)
}

func TestNewEmptyDSN(t *testing.T) {
	_, err := New(" ")
	assert.Error(t, err)
}
