package encoding

import (
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"chunkwise/internal/logging"
)

var (
	cpuCounts     = cpu.Counts
	virtualMemory = mem.VirtualMemory
)

// ResolveWorkers returns requested when positive and AutoWorkers otherwise.
func ResolveWorkers(requested int, enc Encoder, logger *slog.Logger) int {
	if requested > 0 {
		return requested
	}
	return AutoWorkers(enc, logger)
}

// AutoWorkers sizes the pool from logical CPUs divided by the encoder's
// thread hint, capped by available memory over its per-worker estimate.
// The result is at least 1.
func AutoWorkers(enc Encoder, logger *slog.Logger) int {
	logger = logging.NewComponentLogger(logger, "encoding")
	cpus, err := cpuCounts(true)
	if err != nil || cpus < 1 {
		logging.WarnWithContext(logger, "cpu count unavailable; using one worker", "worker_autosize_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "set workers.count explicitly"),
			logging.String(logging.FieldImpact, "chunks are encoded one at a time"),
		)
		return 1
	}
	threads := max(enc.ThreadsPerWorker, 1)
	workers := max(cpus/threads, 1)

	if enc.MemoryPerWorker > 0 {
		vm, err := virtualMemory()
		if err != nil {
			logger.Debug("memory stats unavailable; skipping memory cap", logging.Error(err))
		} else if byMemory := int(vm.Available / enc.MemoryPerWorker); byMemory < workers {
			logger.Info("worker count capped by available memory",
				logging.Int("cpu_workers", workers),
				logging.Int("memory_workers", byMemory),
				logging.String("available", humanize.IBytes(vm.Available)),
				logging.String("per_worker", humanize.IBytes(enc.MemoryPerWorker)),
			)
			workers = max(byMemory, 1)
		}
	}
	return workers
}

// CPUSets partitions cpus logical CPUs into one contiguous set per worker.
// With more workers than CPUs the sets wrap around and share cores.
func CPUSets(workers, cpus int) [][]int {
	if workers < 1 || cpus < 1 {
		return nil
	}
	per := max(cpus/workers, 1)
	sets := make([][]int, workers)
	for slot := range sets {
		first := (slot * per) % cpus
		set := make([]int, 0, per)
		for i := range per {
			set = append(set, (first+i)%cpus)
		}
		sets[slot] = set
	}
	return sets
}
