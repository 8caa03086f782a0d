package encoding

import (
	"context"
	"os/exec"

	"github.com/shirou/gopsutil/v4/mem"
)

// commandContext builds frame source and encoder processes. It is a
// package-level variable so tests can substitute helper processes.
var commandContext = exec.CommandContext

// SetCommandContextForTests overrides process construction during tests.
func SetCommandContextForTests(fn func(context.Context, string, ...string) *exec.Cmd) func() {
	previous := commandContext
	commandContext = fn
	return func() {
		commandContext = previous
	}
}

// SetHostStatsForTests overrides the CPU and memory probes used by
// AutoWorkers.
func SetHostStatsForTests(cpus func(bool) (int, error), memory func() (*mem.VirtualMemoryStat, error)) func() {
	prevCPU, prevMem := cpuCounts, virtualMemory
	cpuCounts, virtualMemory = cpus, memory
	return func() {
		cpuCounts, virtualMemory = prevCPU, prevMem
	}
}
