//go:build linux

package rt

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// setThreadPriority переводит текущий поток в SCHED_FIFO с приоритетом prio.
// Требует CAP_SYS_NICE или root.
func setThreadPriority(prio int) error {
	attr := &unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(prio),
	}
	if err := unix.SchedSetAttr(0, attr, 0); err != nil {
		return fmt.Errorf("sched_setattr fifo %d: %w", prio, err)
	}
	return nil
}

// LockMemory закрепляет текущие и будущие страницы процесса в памяти,
// чтобы подкачка не задерживала тики. Требует CAP_IPC_LOCK или root.
func LockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall: %w", err)
	}
	return nil
}

// TimerResolution разрешение монотонных часов (clock_getres).
func TimerResolution() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGetres(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}
