//go:build linux

package gateway

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func getAffinity(pid int32) (uint64, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(int(pid), &set); err != nil {
		return 0, classify(pid, err)
	}
	var mask uint64
	for i := 0; i < 64; i++ {
		if set.IsSet(i) {
			mask |= uint64(1) << uint(i)
		}
	}
	return mask, nil
}

func setAffinity(pid int32, mask uint64) error {
	var set unix.CPUSet
	set.Zero()
	for i := 0; i < 64; i++ {
		if mask&(uint64(1)<<uint(i)) != 0 {
			set.Set(i)
		}
	}
	if err := unix.SchedSetaffinity(int(pid), &set); err != nil {
		return classify(pid, err)
	}
	return nil
}

func classify(pid int32, err error) error {
	switch {
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return fmt.Errorf("pid %d: %w", pid, ErrPermission)
	case errors.Is(err, unix.ESRCH):
		return fmt.Errorf("pid %d: %w", pid, ErrNotFound)
	case errors.Is(err, unix.EINVAL):
		return fmt.Errorf("pid %d: %w", pid, ErrInvalidMask)
	}
	return fmt.Errorf("pid %d: %w", pid, err)
}
