package gateway

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemFindByNameEmpty(t *testing.T) {
	procs, err := NewSystem().FindByName(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, procs)
}

func TestSystemFindsSelf(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)
	name := filepath.Base(exe)
	if runtime.GOOS == "linux" && len(name) > 15 {
		// comm is truncated; gopsutil only restores it when cmdline agrees
		t.Skip("test binary name too long for comm matching")
	}
	procs, err := NewSystem().FindByName(context.Background(), name)
	require.NoError(t, err)

	found := false
	for _, p := range procs {
		if int(p.PID) == os.Getpid() {
			found = true
		}
	}
	assert.True(t, found, "own pid %d not among %v", os.Getpid(), procs)
}

func TestSystemAffinityOfSelf(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux only")
	}
	gw := NewSystem()
	self := Process{PID: int32(os.Getpid())}
	ctx := context.Background()

	mask, err := gw.Affinity(ctx, self)
	require.NoError(t, err)
	assert.NotZero(t, mask)

	// writing back the current mask is always permitted
	require.NoError(t, gw.SetAffinity(ctx, self, mask))
	assert.ErrorIs(t, gw.SetAffinity(ctx, self, 0), ErrInvalidMask)
}

func TestSystemAffinityMissingProcess(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux only")
	}
	// pid_max is at most 2^22 on linux
	_, err := NewSystem().Affinity(context.Background(), Process{PID: 1 << 30})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSystemHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSystem().Affinity(ctx, Process{PID: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFake(t *testing.T) {
	f := NewFake()
	f.Allowed = 0b0111
	f.Add(Process{PID: 1, Name: "a"}, 0b1)
	f.Add(Process{PID: 2, Name: "b"}, 0b1)
	ctx := context.Background()

	procs, err := f.FindByName(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []Process{{PID: 1, Name: "a"}}, procs)

	require.NoError(t, f.SetAffinity(ctx, procs[0], 0b1110))
	assert.Equal(t, uint64(0b0110), f.Mask(1))
	assert.Equal(t, 1, f.SetCalls(1))

	f.Remove(1)
	_, err = f.Affinity(ctx, Process{PID: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}
