package gateway

import (
	"context"
	"errors"
	"log/slog"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

var (
	// ErrPermission means the OS refused access to the process.
	ErrPermission = errors.New("permission denied")
	// ErrNotFound means the process no longer exists.
	ErrNotFound = errors.New("process not found")
	// ErrInvalidMask means the mask selects no CPU the process may run on.
	ErrInvalidMask = errors.New("invalid affinity mask")
	// ErrUnsupported is returned on platforms without affinity control.
	ErrUnsupported = errors.New("affinity control not supported on this platform")
)

// Process identifies an OS process matched by name.
type Process struct {
	PID  int32  `json:"pid"`
	Name string `json:"name"`
}

// Gateway observes and mutates process CPU affinity.
type Gateway interface {
	// FindByName returns every running process whose name equals name exactly.
	FindByName(ctx context.Context, name string) ([]Process, error)
	Affinity(ctx context.Context, p Process) (uint64, error)
	SetAffinity(ctx context.Context, p Process, mask uint64) error
}

// System is the Gateway for the host operating system.
type System struct{}

func NewSystem() *System { return &System{} }

func (System) FindByName(ctx context.Context, name string) ([]Process, error) {
	if name == "" {
		return nil, nil
	}
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Process, 0, 1)
	for _, p := range procs {
		n, err := p.NameWithContext(ctx)
		if err != nil {
			// exited between listing and inspection
			continue
		}
		if n == name {
			out = append(out, Process{PID: p.Pid, Name: n})
		}
	}
	slog.Debug("Enumerated processes", "name", name, "matched", len(out))
	return out, nil
}

func (System) Affinity(ctx context.Context, p Process) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return getAffinity(p.PID)
}

func (System) SetAffinity(ctx context.Context, p Process, mask uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if mask == 0 {
		return ErrInvalidMask
	}
	return setAffinity(p.PID, mask)
}
