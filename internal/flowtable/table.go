// Package flowtable implements the bounded, open-addressed flow table
// owned by a single worker. It is not safe for concurrent use — each
// worker owns exactly one Table and drives it from a single goroutine.
package flowtable

import (
	"sync/atomic"

	"github.com/cloudmirror/probe/internal/flow"
)

// DefaultCapacity is C_TABLE from the spec: 2^16 entries per worker.
const DefaultCapacity = 1 << 16

// maxProbe bounds the linear-probe chain length. A chain longer than
// this is treated the same as a full table: the insert is dropped and
// counted, rather than degrading lookup to O(n).
const maxProbe = 64

type slot struct {
	used     bool
	key      flow.Key
	counters flow.Counters
}

// Table is a fixed-capacity hash table keyed by flow.Key, open
// addressed with linear probing. Lookup/insert are amortized O(1).
type Table struct {
	slots    []slot
	mask     uint64
	count    int
	capacity int

	tableFullDrops uint64
	probeFailures  uint64
}

// New creates a Table holding at most capacity live entries. The
// backing array is rounded up to a power of two (required for the
// mask-based probe sequence); the logical capacity is not rounded.
func New(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	// Backing array is sized at double the logical capacity so an open
	// slot is always reachable by probing once the table is logically
	// full — otherwise a full table would exhaust maxProbe and get
	// misreported as probe failures rather than capacity drops.
	size := nextPow2(capacity * 2)
	return &Table{
		slots:    make([]slot, size),
		mask:     uint64(size - 1),
		capacity: capacity,
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// hash is a cheap, fixed mixing function over the flow key's fields.
// It only needs to distribute slots well; it has no bearing on the
// sampling decision in package sampling, which uses its own stable
// hash for a different purpose.
func hash(k flow.Key) uint64 {
	h := uint64(1469598103934665603) // FNV-1a offset basis
	mix := func(v uint64) {
		h ^= v
		h *= 1099511628211
	}
	mix(uint64(k.SrcIP))
	mix(uint64(k.DstIP))
	mix(uint64(k.Proto))
	mix(uint64(k.SrcPort))
	mix(uint64(k.DstPort))
	return h
}

// Record accounts one packet of the given length against key. If key
// is new and the table has room within the probe-chain cap, it is
// inserted with packets=1. If the table is full or the probe chain
// exceeds maxProbe, the record is dropped and counted.
func (t *Table) Record(key flow.Key, length uint16) {
	idx := hash(key) & t.mask
	for probes := 0; probes < maxProbe; probes++ {
		s := &t.slots[idx]
		if !s.used {
			if t.count >= t.capacity {
				atomic.AddUint64(&t.tableFullDrops, 1)
				return
			}
			s.used = true
			s.key = key
			s.counters = flow.Counters{Packets: 1, Bytes: uint64(length)}
			t.count++
			return
		}
		if s.key == key {
			s.counters.Packets++
			s.counters.Bytes += uint64(length)
			return
		}
		idx = (idx + 1) & t.mask
	}
	atomic.AddUint64(&t.probeFailures, 1)
}

// Flush atomically (from the single owning goroutine's perspective)
// snapshots all live entries into a freshly allocated flow.Snapshot and
// resets the table to empty, ready for the next epoch immediately.
func (t *Table) Flush() flow.Snapshot {
	snapshot := make(flow.Snapshot, 0, t.count)
	for i := range t.slots {
		if t.slots[i].used {
			snapshot = append(snapshot, flow.Entry{
				Key:      t.slots[i].key,
				Counters: t.slots[i].counters,
			})
		}
	}
	t.slots = make([]slot, len(t.slots))
	t.count = 0
	return snapshot
}

// TableFullDrops returns the cumulative count of inserts dropped
// because the table was at capacity.
func (t *Table) TableFullDrops() uint64 {
	return atomic.LoadUint64(&t.tableFullDrops)
}

// ProbeFailures returns the cumulative count of lookups that exceeded
// the probe-chain cap without finding a slot.
func (t *Table) ProbeFailures() uint64 {
	return atomic.LoadUint64(&t.probeFailures)
}

// Len reports the number of live entries currently held.
func (t *Table) Len() int {
	return t.count
}
