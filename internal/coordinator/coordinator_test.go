package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudmirror/probe/internal/alert"
	"github.com/cloudmirror/probe/internal/flow"
	"github.com/cloudmirror/probe/internal/metadata"
)

type captureSink struct {
	subjects []string
}

func (s *captureSink) Send(subject, message string) {
	s.subjects = append(s.subjects, subject)
}

func newTestCoordinator(th alert.Thresholds, sink *captureSink) *Coordinator {
	engine := alert.NewEngine(th, sink)
	cache := metadata.New(nil, "")
	return New(nil, cache, engine)
}

func TestMergeAccumulatesAcrossSnapshots(t *testing.T) {
	c := newTestCoordinator(alert.Thresholds{}, &captureSink{})
	key := flow.Key{SrcIP: 1, DstIP: 2, Proto: 6, SrcPort: 100, DstPort: 443}

	c.merge([]flow.Snapshot{
		{{Key: key, Counters: flow.Counters{Packets: 1, Bytes: 60}}},
		{{Key: key, Counters: flow.Counters{Packets: 2, Bytes: 120}}},
	})

	got := c.accumulated[key]
	require.Equal(t, uint64(3), got.Packets)
	require.Equal(t, uint64(180), got.Bytes)
}

func TestTCPFlowRoundTrip(t *testing.T) {
	c := newTestCoordinator(alert.Thresholds{}, &captureSink{})
	key := flow.Key{SrcIP: 0x0A000164, DstIP: 0x0A0002C8, Proto: 6, SrcPort: 55555, DstPort: 443}

	c.merge([]flow.Snapshot{{{Key: key, Counters: flow.Counters{Packets: 1, Bytes: 60}}}})

	require.Len(t, c.accumulated, 1)
	got := c.accumulated[key]
	require.Equal(t, uint64(1), got.Packets)
	require.Equal(t, uint64(60), got.Bytes)
}

func TestAggregateByAddrSplitsSourceAndDest(t *testing.T) {
	entries := []flow.Entry{
		{Key: flow.Key{SrcIP: 1, DstIP: 2}, Counters: flow.Counters{Packets: 1, Bytes: 100}},
		{Key: flow.Key{SrcIP: 1, DstIP: 3}, Counters: flow.Counters{Packets: 1, Bytes: 50}},
	}
	src, dst := aggregateByAddr(entries)
	require.Equal(t, uint64(150), src[flow.Addr(1)].Bytes)
	require.Equal(t, uint64(100), dst[flow.Addr(2)].Bytes)
	require.Equal(t, uint64(50), dst[flow.Addr(3)].Bytes)
}

func TestPerHostSelectiveAlert(t *testing.T) {
	sink := &captureSink{}
	c := newTestCoordinator(alert.Thresholds{HostBPS: 1000, CooldownSec: 300}, sink)

	src := map[flow.Addr]flow.Counters{
		flow.Addr(1): {Packets: 10, Bytes: 2000},
		flow.Addr(2): {Packets: 5, Bytes: 50},
	}
	alerted := c.alerts.CheckHost(src, nil, 1, nil)
	require.Equal(t, []flow.Addr{flow.Addr(1)}, alerted)
}

func TestReportResetsWindowOnTick(t *testing.T) {
	c := newTestCoordinator(alert.Thresholds{}, &captureSink{})
	key := flow.Key{SrcIP: 1, DstIP: 2, Proto: 17}
	c.accumulated[key] = flow.Counters{Packets: 1, Bytes: 10}
	c.windowStart = time.Now().Add(-6 * time.Second)

	c.tick()

	require.Empty(t, c.accumulated)
}

func TestUnionAddrsDeduplicates(t *testing.T) {
	a := []flow.AddrEntry{{Addr: 1}, {Addr: 2}}
	b := []flow.AddrEntry{{Addr: 2}, {Addr: 3}}
	union := unionAddrs(a, b)
	require.ElementsMatch(t, []flow.Addr{1, 2, 3}, union)
}
