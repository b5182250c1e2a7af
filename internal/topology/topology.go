package topology

import (
	"context"
	"log/slog"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/loykin/affinityd/internal/cpuset"
)

// OnlinePath lists the CPUs the kernel currently has online.
const OnlinePath = "/sys/devices/system/cpu/online"

// LogicalCPUs returns the number of logical CPUs, capped at cpuset.MaxCPUs.
func LogicalCPUs(ctx context.Context) int {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n <= 0 {
		slog.Debug("Falling back to runtime CPU count", "error", err)
		n = runtime.NumCPU()
	}
	if n > cpuset.MaxCPUs {
		slog.Warn("Only the first CPUs can be pinned", "cpus", n, "max", cpuset.MaxCPUs)
		n = cpuset.MaxCPUs
	}
	return n
}

// Online returns the online CPU indices as reported by sysfs. It returns nil
// when the file is unavailable, e.g. outside Linux.
func Online() []int {
	b, err := os.ReadFile(OnlinePath)
	if err != nil {
		return nil
	}
	ids, err := cpuset.ParseList(string(b))
	if err != nil {
		slog.Debug("Unparseable online cpu list", "error", err)
		return nil
	}
	return ids
}
