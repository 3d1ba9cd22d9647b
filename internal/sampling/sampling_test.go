package sampling

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudmirror/probe/internal/flow"
)

func TestSampleInIsStablePerKey(t *testing.T) {
	d := New(0.5)
	k := flow.Key{SrcIP: 10, DstIP: 20, Proto: 6, SrcPort: 1234, DstPort: 443}
	first := d.SampleIn(k)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, d.SampleIn(k))
	}
}

func TestSampleDistributionNear50Percent(t *testing.T) {
	d := New(0.5)
	sampledIn := 0
	const total = 10000
	for i := uint32(0); i < total; i++ {
		k := flow.Key{SrcIP: i, DstIP: i ^ 0xdeadbeef, Proto: 6, SrcPort: uint16(i), DstPort: uint16(i * 7)}
		if d.SampleIn(k) {
			sampledIn++
		}
	}
	require.Greater(t, sampledIn, total*35/100)
	require.Less(t, sampledIn, total*65/100)
}

func TestRateOneAlwaysSamples(t *testing.T) {
	d := New(1.0)
	k := flow.Key{SrcIP: 1, DstIP: 2}
	require.True(t, d.SampleIn(k))
}

func TestInverseScale(t *testing.T) {
	d := New(0.5)
	scaled := d.InverseScale(flow.Counters{Packets: 1000, Bytes: 1_000_000})
	require.Equal(t, uint64(2000), scaled.Packets)
	require.Equal(t, uint64(2_000_000), scaled.Bytes)
}

func TestInverseScaleNoOpAtFullRate(t *testing.T) {
	d := New(1.0)
	c := flow.Counters{Packets: 5, Bytes: 500}
	require.Equal(t, c, d.InverseScale(c))
}
