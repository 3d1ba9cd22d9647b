// Package telemetry aggregates per-worker drop counters for the
// coordinator's periodic warning log, matching spec.md §4.H ("Report
// at warning level when any non-zero delta is observed"). Grounded on
// the teacher's internal/capture stats-reporting style (atomic
// counters, periodic delta logging).
package telemetry

// WorkerCounters is the minimal view a worker exposes of its drop
// counters; satisfied by *worker.Worker without an import-cycle-prone
// direct dependency on the worker package.
type WorkerCounters interface {
	TableFullDrops() uint64
	ProbeFailures() uint64
	QueueDrops() uint64
}

// DropCounts is the cumulative, cross-worker total of every drop
// category named in spec.md §4.H.
type DropCounts struct {
	TableFull     uint64
	ProbeFailures uint64
	QueueFull     uint64
}

// Aggregate sums every worker's cumulative counters.
func Aggregate(workers []WorkerCounters) DropCounts {
	var d DropCounts
	for _, w := range workers {
		d.TableFull += w.TableFullDrops()
		d.ProbeFailures += w.ProbeFailures()
		d.QueueFull += w.QueueDrops()
	}
	return d
}

// Delta computes the non-negative per-category increase from prev to
// current.
func Delta(prev, current DropCounts) DropCounts {
	return DropCounts{
		TableFull:     nonNegDiff(current.TableFull, prev.TableFull),
		ProbeFailures: nonNegDiff(current.ProbeFailures, prev.ProbeFailures),
		QueueFull:     nonNegDiff(current.QueueFull, prev.QueueFull),
	}
}

// Any reports whether any category is non-zero.
func (d DropCounts) Any() bool {
	return d.TableFull > 0 || d.ProbeFailures > 0 || d.QueueFull > 0
}

func nonNegDiff(current, prev uint64) uint64 {
	if current < prev {
		return 0
	}
	return current - prev
}
