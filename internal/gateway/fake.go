package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Gateway for tests. Masks written through SetAffinity
// are ANDed with Allowed when Allowed is non-zero, imitating an OS that
// clamps requests to the CPUs it actually has.
type Fake struct {
	mu      sync.Mutex
	procs   []Process
	masks   map[int32]uint64
	sets    map[int32]int
	Allowed uint64
	FindErr error
	GetErr  error
	SetErr  error
}

func NewFake() *Fake {
	return &Fake{masks: make(map[int32]uint64), sets: make(map[int32]int)}
}

// Add registers a running process with its current mask.
func (f *Fake) Add(p Process, mask uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs = append(f.procs, p)
	f.masks[p.PID] = mask
}

// Remove drops every process with pid.
func (f *Fake) Remove(pid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.procs[:0]
	for _, p := range f.procs {
		if p.PID != pid {
			out = append(out, p)
		}
	}
	f.procs = out
	delete(f.masks, pid)
}

// SetCalls returns how often SetAffinity was called for pid.
func (f *Fake) SetCalls(pid int32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets[pid]
}

// Mask returns the current mask of pid.
func (f *Fake) Mask(pid int32) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.masks[pid]
}

func (f *Fake) FindByName(_ context.Context, name string) ([]Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FindErr != nil {
		return nil, f.FindErr
	}
	var out []Process
	for _, p := range f.procs {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *Fake) Affinity(_ context.Context, p Process) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetErr != nil {
		return 0, f.GetErr
	}
	m, ok := f.masks[p.PID]
	if !ok {
		return 0, fmt.Errorf("pid %d: %w", p.PID, ErrNotFound)
	}
	return m, nil
}

func (f *Fake) SetAffinity(_ context.Context, p Process, mask uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets[p.PID]++
	if f.SetErr != nil {
		return f.SetErr
	}
	if _, ok := f.masks[p.PID]; !ok {
		return fmt.Errorf("pid %d: %w", p.PID, ErrNotFound)
	}
	if mask == 0 {
		return ErrInvalidMask
	}
	if f.Allowed != 0 {
		mask &= f.Allowed
	}
	f.masks[p.PID] = mask
	return nil
}
