package history_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/affinityd/internal/heartbeat"
	"github.com/loykin/affinityd/internal/history"
	"github.com/loykin/affinityd/internal/history/sqlite"
)

type sendOnly struct{}

func (sendOnly) Send(context.Context, history.Event) error { return nil }
func (sendOnly) Close() error                              { return nil }

type failingPruner struct{ sendOnly }

func (failingPruner) Prune(context.Context, time.Time) (int64, error) {
	return 0, errors.New("disk full")
}

func TestValidateSchedule(t *testing.T) {
	for _, s := range []string{"@hourly", "@every 30m", "0 */6 * * *", "*/10 * * * * *"} {
		assert.NoError(t, history.ValidateSchedule(s), s)
	}
	assert.Error(t, history.ValidateSchedule("every hour"))
}

func TestNewRetentionRejects(t *testing.T) {
	_, err := history.NewRetention("@hourly", 0, nil, nil)
	assert.Error(t, err)
	_, err = history.NewRetention("not a schedule", time.Hour, nil, nil)
	assert.Error(t, err)
}

func TestRetentionPrunesSQLite(t *testing.T) {
	sink, err := sqlite.New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	ctx := context.Background()

	now := time.Now().UTC()
	old := heartbeat.Heartbeat{At: now.Add(-48 * time.Hour), IsSynced: heartbeat.Bool(true)}
	recent := heartbeat.Heartbeat{At: now.Add(-time.Hour), IsSynced: heartbeat.Bool(true)}
	require.NoError(t, sink.Send(ctx, history.FromHeartbeat(old, "game.exe", 1, false)))
	require.NoError(t, sink.Send(ctx, history.FromHeartbeat(old, "game.exe", 1, true)))
	require.NoError(t, sink.Send(ctx, history.FromHeartbeat(recent, "game.exe", 1, false)))

	r, err := history.NewRetention("", 24*time.Hour, []history.Sink{sink, sendOnly{}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Prunable())

	n, err := r.PruneNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := sink.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, left)
}

func TestRetentionKeepsGoingAfterFailure(t *testing.T) {
	sink, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	ctx := context.Background()
	old := heartbeat.Heartbeat{At: time.Now().UTC().Add(-2 * time.Hour)}
	require.NoError(t, sink.Send(ctx, history.FromHeartbeat(old, "x", 0, false)))

	r, err := history.NewRetention("@daily", time.Hour, []history.Sink{failingPruner{}, sink}, nil)
	require.NoError(t, err)
	n, err := r.PruneNow(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, int64(1), n)
}

func TestRetentionStartStop(t *testing.T) {
	r, err := history.NewRetention("@every 1h", time.Hour, nil, nil)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	assert.Error(t, r.Start())
	r.Stop()
	r.Stop()
}
