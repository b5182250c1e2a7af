//go:build windows

package gateway

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                   = windows.NewLazySystemDLL("kernel32.dll")
	procGetProcessAffinityMask = kernel32.NewProc("GetProcessAffinityMask")
	procSetProcessAffinityMask = kernel32.NewProc("SetProcessAffinityMask")
)

// withProcess opens pid with access and always closes the handle before returning.
func withProcess(pid int32, access uint32, fn func(windows.Handle) error) error {
	h, err := windows.OpenProcess(access, false, uint32(pid))
	if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
		return fmt.Errorf("pid %d: %w", pid, ErrNotFound)
	}
	if err != nil {
		return classify(pid, err)
	}
	defer func() { _ = windows.CloseHandle(h) }()
	return fn(h)
}

func getAffinity(pid int32) (uint64, error) {
	var processMask, systemMask uintptr
	err := withProcess(pid, windows.PROCESS_QUERY_LIMITED_INFORMATION, func(h windows.Handle) error {
		r, _, e := procGetProcessAffinityMask.Call(uintptr(h),
			uintptr(unsafe.Pointer(&processMask)),
			uintptr(unsafe.Pointer(&systemMask)))
		if r == 0 {
			return classify(pid, e)
		}
		return nil
	})
	return uint64(processMask), err
}

func setAffinity(pid int32, mask uint64) error {
	return withProcess(pid, windows.PROCESS_SET_INFORMATION, func(h windows.Handle) error {
		r, _, e := procSetProcessAffinityMask.Call(uintptr(h), uintptr(mask))
		if r == 0 {
			return classify(pid, e)
		}
		return nil
	})
}

func classify(pid int32, err error) error {
	switch {
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return fmt.Errorf("pid %d: %w", pid, ErrPermission)
	case errors.Is(err, windows.ERROR_INVALID_PARAMETER):
		return fmt.Errorf("pid %d: %w", pid, ErrInvalidMask)
	}
	return fmt.Errorf("pid %d: %w", pid, err)
}
