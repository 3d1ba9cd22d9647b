package flowtable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudmirror/probe/internal/flow"
)

func key(n uint32) flow.Key {
	return flow.Key{SrcIP: n, DstIP: n + 1, Proto: 6, SrcPort: 1, DstPort: 2}
}

func TestRecordAccumulates(t *testing.T) {
	tbl := New(16)
	k := key(1)
	tbl.Record(k, 100)
	tbl.Record(k, 50)

	snap := tbl.Flush()
	require.Len(t, snap, 1)
	require.Equal(t, k, snap[0].Key)
	require.Equal(t, uint64(2), snap[0].Counters.Packets)
	require.Equal(t, uint64(150), snap[0].Counters.Bytes)
}

func TestFlushResetsTableForNextEpoch(t *testing.T) {
	tbl := New(16)
	tbl.Record(key(1), 10)
	first := tbl.Flush()
	require.Len(t, first, 1)

	// Table must be immediately usable again, starting from empty.
	second := tbl.Flush()
	require.Len(t, second, 0)

	tbl.Record(key(2), 20)
	third := tbl.Flush()
	require.Len(t, third, 1)
	require.Equal(t, key(2), third[0].Key)
}

func TestTableFullDropsWhenCapacityExceeded(t *testing.T) {
	const capacity = 64
	tbl := New(capacity)

	for i := uint32(0); i < capacity+10; i++ {
		tbl.Record(key(i*4), 1)
	}

	snap := tbl.Flush()
	require.LessOrEqual(t, len(snap), capacity)
	require.GreaterOrEqual(t, tbl.TableFullDrops(), uint64(1))
}

func TestRecordDistinctKeysUnderCapacityNoDrops(t *testing.T) {
	tbl := New(DefaultCapacity)
	for i := 0; i < 100; i++ {
		tbl.Record(key(uint32(i)), 10)
	}
	snap := tbl.Flush()
	require.Len(t, snap, 100)
	require.Equal(t, uint64(0), tbl.TableFullDrops())
}
