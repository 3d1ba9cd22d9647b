// Package flow defines the shared data model for the capture pipeline:
// the 5-tuple flow key, per-flow counters, host addresses and the
// inventory metadata attached to them. It has zero external
// dependencies so every other package can depend on it without cycles.
package flow

import (
	"fmt"
	"sort"
)

// Key is the immutable 5-tuple identity of a flow. Ports are zero for
// protocols other than TCP/UDP. Equality and hashing are structural —
// Key is comparable and safe to use as a map key directly.
type Key struct {
	SrcIP    uint32
	DstIP    uint32
	Proto    uint8
	SrcPort  uint16
	DstPort  uint16
}

// Less defines the natural order of keys, used to break ties when
// sorting flows with equal byte counts.
func (k Key) Less(o Key) bool {
	if k.SrcIP != o.SrcIP {
		return k.SrcIP < o.SrcIP
	}
	if k.DstIP != o.DstIP {
		return k.DstIP < o.DstIP
	}
	if k.Proto != o.Proto {
		return k.Proto < o.Proto
	}
	if k.SrcPort != o.SrcPort {
		return k.SrcPort < o.SrcPort
	}
	return k.DstPort < o.DstPort
}

// Counters holds the packet/byte accounting for a single flow. Zero
// value is a valid empty counter.
type Counters struct {
	Packets uint64
	Bytes   uint64
}

// Add accumulates o into c in place.
func (c *Counters) Add(o Counters) {
	c.Packets += o.Packets
	c.Bytes += o.Bytes
}

// Entry pairs a key with its counters, the unit exchanged between a
// worker's flush and the coordinator's accumulator.
type Entry struct {
	Key      Key
	Counters Counters
}

// Snapshot is an owned, point-in-time array of flow entries produced by
// a worker's table flush. Ownership transfers to the queue and then to
// the coordinator; nothing else retains a reference to the backing
// array after that.
type Snapshot []Entry

// SortByBytesDesc returns a new slice of the top n entries ordered by
// Bytes descending, ties broken by Key's natural order. Stable so equal
// keys in equal order never appear out of sequence across calls.
func SortByBytesDesc(entries []Entry, n int) []Entry {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Counters.Bytes != sorted[j].Counters.Bytes {
			return sorted[i].Counters.Bytes > sorted[j].Counters.Bytes
		}
		return sorted[i].Key.Less(sorted[j].Key)
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// Addr is an IPv4 address in network order, the key type for
// per-host aggregation and the metadata cache.
type Addr uint32

// String renders the address as dotted-quad.
func (a Addr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

// Metadata is the inventory-derived label set attached to an Addr.
// All fields are optional; the zero value means "unknown address" and
// reports should render just the IP.
type Metadata struct {
	InstanceID string
	Name       string
	ASG        string
	Owner      string
}

// Known reports whether any enrichment data was found for the address.
func (m Metadata) Known() bool {
	return m.InstanceID != "" || m.Name != "" || m.ASG != "" || m.Owner != ""
}

// AddrEntry pairs a host address with its aggregated counters and,
// once enriched, its metadata.
type AddrEntry struct {
	Addr     Addr
	Counters Counters
	Meta     Metadata
}

// SortAddrByBytesDesc mirrors SortByBytesDesc for per-host aggregates.
func SortAddrByBytesDesc(entries []AddrEntry, n int) []AddrEntry {
	sorted := make([]AddrEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Counters.Bytes != sorted[j].Counters.Bytes {
			return sorted[i].Counters.Bytes > sorted[j].Counters.Bytes
		}
		return sorted[i].Addr < sorted[j].Addr
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
