package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/affinityd/internal/cpuset"
	"github.com/loykin/affinityd/internal/gateway"
	"github.com/loykin/affinityd/internal/store"
)

// Cooldown is the pause between reconciliation ticks.
const Cooldown = 5 * time.Second

// Operations is everything a tick needs from the outside world. Production
// code uses SystemOperations; tests substitute deterministic doubles.
type Operations interface {
	// Sleep blocks for the cooldown interval. It returns ctx.Err() when ctx
	// is done first.
	Sleep(ctx context.Context) error
	LoadConfiguration(ctx context.Context) (store.Configuration, error)
	FindProcesses(ctx context.Context, name string) ([]gateway.Process, error)
	// CheckSynced reports whether every process has the configured affinity.
	CheckSynced(ctx context.Context, cfg store.Configuration, procs []gateway.Process) (bool, error)
	// ApplySync writes the configured affinity to every process.
	ApplySync(ctx context.Context, cfg store.Configuration, procs []gateway.Process) error
}

// SystemOperations wires a tick to a real store, gateway and clock.
type SystemOperations struct {
	Store    store.Store
	Gateway  gateway.Gateway
	Interval time.Duration
	// CPUCount reports the machine's logical CPU count for each load.
	CPUCount func(ctx context.Context) int
}

func (o *SystemOperations) Sleep(ctx context.Context) error {
	d := o.Interval
	if d <= 0 {
		d = Cooldown
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o *SystemOperations) LoadConfiguration(ctx context.Context) (store.Configuration, error) {
	n := 0
	if o.CPUCount != nil {
		n = o.CPUCount(ctx)
	}
	return o.Store.Load(ctx, n)
}

func (o *SystemOperations) FindProcesses(ctx context.Context, name string) ([]gateway.Process, error) {
	return o.Gateway.FindByName(ctx, name)
}

// CheckSynced stops at the first process whose affinity differs.
func (o *SystemOperations) CheckSynced(ctx context.Context, cfg store.Configuration, procs []gateway.Process) (bool, error) {
	for _, p := range procs {
		mask, err := o.Gateway.Affinity(ctx, p)
		if err != nil {
			return false, fmt.Errorf("read affinity of %s (pid %d): %w", p.Name, p.PID, err)
		}
		actual := cpuset.NewPreselected(cpuset.FromMask(mask), cfg.Selections.CPUCount())
		if !actual.Equal(cfg.Selections) {
			return false, nil
		}
	}
	return true, nil
}

func (o *SystemOperations) ApplySync(ctx context.Context, cfg store.Configuration, procs []gateway.Process) error {
	mask := cfg.Selections.Mask()
	for _, p := range procs {
		if err := o.Gateway.SetAffinity(ctx, p, mask); err != nil {
			return fmt.Errorf("set affinity of %s (pid %d) to %s: %w", p.Name, p.PID, cfg.Selections, err)
		}
	}
	return nil
}
