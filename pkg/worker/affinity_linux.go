//go:build linux

package worker

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// setAffinity binds the calling OS thread to cpu. The caller must hold the
// thread via runtime.LockOSThread.
func setAffinity(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity cpu %d: %w", cpu, err)
	}
	return nil
}
