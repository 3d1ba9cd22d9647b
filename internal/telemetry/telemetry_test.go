package telemetry

import "testing"

type fakeWorker struct {
	tableFull, probeFail, queueFull uint64
}

func (f fakeWorker) TableFullDrops() uint64 { return f.tableFull }
func (f fakeWorker) ProbeFailures() uint64  { return f.probeFail }
func (f fakeWorker) QueueDrops() uint64     { return f.queueFull }

func TestAggregateSumsAcrossWorkers(t *testing.T) {
	workers := []WorkerCounters{
		fakeWorker{tableFull: 1, probeFail: 2, queueFull: 3},
		fakeWorker{tableFull: 10, probeFail: 20, queueFull: 30},
	}
	got := Aggregate(workers)
	if got.TableFull != 11 || got.ProbeFailures != 22 || got.QueueFull != 33 {
		t.Fatalf("unexpected aggregate: %+v", got)
	}
}

func TestDeltaClampsNegative(t *testing.T) {
	prev := DropCounts{TableFull: 10}
	current := DropCounts{TableFull: 5}
	d := Delta(prev, current)
	if d.TableFull != 0 {
		t.Fatalf("expected 0, got %d", d.TableFull)
	}
}

func TestAnyDetectsNonZero(t *testing.T) {
	if (DropCounts{}).Any() {
		t.Fatal("zero value should not be Any")
	}
	if !(DropCounts{QueueFull: 1}).Any() {
		t.Fatal("non-zero queue drops should be Any")
	}
}
