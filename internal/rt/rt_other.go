//go:build !linux

package rt

import "time"

// setThreadPriority заглушка на не-Linux: поток остаётся с обычным планированием.
func setThreadPriority(prio int) error {
	_ = prio
	return nil
}

// LockMemory заглушка на не-Linux.
func LockMemory() error {
	return nil
}

// TimerResolution заглушка на не-Linux.
func TimerResolution() time.Duration {
	return 0
}
