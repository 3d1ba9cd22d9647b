// Package sampling implements stable, per-flow-key sampling decisions.
// Sampling is keyed on the flow, not coin-flipped per packet, so that
// per-flow byte/packet counts can be inverse-scaled without bias: a
// flow that is "in" stays in for its entire life, and one that is
// "out" stays out, as required by spec.md §4.C and §9.
package sampling

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/cloudmirror/probe/internal/flow"
)

// scaleBuckets is the resolution of the sampling decision: rate is
// quantized to buckets-per-10000, matching the spec's
// "stable_hash(key) mod 10_000 < rate * 10_000" formula.
const scaleBuckets = 10000

// Decider makes a deterministic sample-in/sample-out decision per flow
// key at a fixed rate in (0, 1]. A rate of 1 (or above) always samples
// in, skipping the hash entirely.
type Decider struct {
	rate      float64
	threshold uint64
}

// New creates a Decider for the given rate. Callers are expected to
// clamp rate into [0.0001, 1.0] beforehand (see internal/config).
func New(rate float64) *Decider {
	if rate >= 1 {
		return &Decider{rate: 1}
	}
	if rate < 0 {
		rate = 0
	}
	return &Decider{
		rate:      rate,
		threshold: uint64(rate * scaleBuckets),
	}
}

// Rate returns the configured sampling rate.
func (d *Decider) Rate() float64 {
	return d.rate
}

// SampleIn reports whether key should be counted, given this
// Decider's rate. The result is a pure function of key: repeated calls
// with the same key always agree, for the lifetime of the process.
func (d *Decider) SampleIn(key flow.Key) bool {
	if d.rate >= 1 {
		return true
	}
	if d.rate <= 0 {
		return false
	}
	return stableHash(key)%scaleBuckets < d.threshold
}

// InverseScale returns counters scaled by 1/rate, undoing the sampling
// bias for reporting. A rate of 1 is a no-op.
func (d *Decider) InverseScale(c flow.Counters) flow.Counters {
	if d.rate >= 1 || d.rate <= 0 {
		return c
	}
	scale := 1 / d.rate
	return flow.Counters{
		Packets: uint64(float64(c.Packets) * scale),
		Bytes:   uint64(float64(c.Bytes) * scale),
	}
}

// stableHash hashes a flow key with xxhash over its fixed-width field
// encoding. xxhash is used (rather than Go's runtime map hash, which is
// randomized per process) specifically because the spec requires the
// sampling decision to be reproducible across calls within a process
// lifetime — a process-randomized hash would still satisfy that, but
// xxhash additionally gives bit-for-bit identical decisions across
// restarts, which makes the sampling behavior reproducible in tests
// and debugging.
func stableHash(key flow.Key) uint64 {
	var buf [13]byte
	binary.BigEndian.PutUint32(buf[0:4], key.SrcIP)
	binary.BigEndian.PutUint32(buf[4:8], key.DstIP)
	buf[8] = key.Proto
	binary.BigEndian.PutUint16(buf[9:11], key.SrcPort)
	binary.BigEndian.PutUint16(buf[11:13], key.DstPort)
	return xxhash.Sum64(buf[:])
}
