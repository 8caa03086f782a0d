//go:build linux

package encoding

import "golang.org/x/sys/unix"

// pinProcess restricts pid to cpus.
func pinProcess(pid int, cpus []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		set.Set(cpu)
	}
	return unix.SchedSetaffinity(pid, &set)
}

func affinitySupported() bool { return true }
