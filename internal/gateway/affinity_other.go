//go:build !linux && !windows

package gateway

func getAffinity(int32) (uint64, error) { return 0, ErrUnsupported }

func setAffinity(int32, uint64) error { return ErrUnsupported }
