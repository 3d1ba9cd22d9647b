package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudmirror/probe/internal/flow"
)

type fakeSink struct {
	subjects []string
	messages []string
}

func (f *fakeSink) Send(subject, message string) {
	f.subjects = append(f.subjects, subject)
	f.messages = append(f.messages, message)
}

func newTestEngine(th Thresholds, sink *fakeSink) *Engine {
	e := NewEngine(th, sink)
	return e
}

func setClock(e *Engine, t *time.Time) {
	e.now = func() time.Time { return *t }
}

func TestCheckFastFiresOnBreachAndRespectsCooldown(t *testing.T) {
	sink := &fakeSink{}
	e := newTestEngine(Thresholds{BPS: 1000, PPS: 100, CooldownSec: 300}, sink)

	now := time.Unix(0, 0)
	setClock(e, &now)

	// 2000 bytes / 5 packets over 1.5s -> bps = 2000*8/1.5 = 10666, breach.
	fired := e.CheckFast(2000, 5, 1.5)
	require.True(t, fired)
	require.Len(t, sink.subjects, 1)
	require.Contains(t, sink.subjects[0], "[FAST]")
	require.True(t, e.pendingDetail)

	// Continuous breach within cooldown window: suppressed.
	now = now.Add(10 * time.Second)
	fired = e.CheckFast(2000, 5, 1.5)
	require.False(t, fired)
	require.Len(t, sink.subjects, 1)

	// Past cooldown: fires again.
	now = now.Add(301 * time.Second)
	fired = e.CheckFast(2000, 5, 1.5)
	require.True(t, fired)
	require.Len(t, sink.subjects, 2)
}

func TestFastThenDetailPairBypassesCooldown(t *testing.T) {
	sink := &fakeSink{}
	e := newTestEngine(Thresholds{BPS: 1000, PPS: 100, CooldownSec: 300}, sink)

	now := time.Unix(0, 0)
	setClock(e, &now)

	require.True(t, e.CheckFast(2000, 5, 1.5))
	require.Len(t, sink.subjects, 1)

	// Detail check 3.5s later, still breaching -> DETAIL fires despite
	// being well inside the cooldown window.
	now = now.Add(3500 * time.Millisecond)
	fired := e.CheckDetail(40000, 500, 5, nil, nil, nil)
	require.True(t, fired)
	require.Len(t, sink.subjects, 2)
	require.Contains(t, sink.subjects[1], "[DETAIL]")
	require.False(t, e.pendingDetail)

	// A later standalone detail check with no pending flag still
	// respects cooldown.
	now = now.Add(1 * time.Second)
	fired = e.CheckDetail(40000, 500, 5, nil, nil, nil)
	require.False(t, fired)
}

func TestDetailClearsPendingSilentlyWhenSpikeEnds(t *testing.T) {
	sink := &fakeSink{}
	e := newTestEngine(Thresholds{BPS: 1000, PPS: 100, CooldownSec: 300}, sink)
	now := time.Unix(0, 0)
	setClock(e, &now)

	require.True(t, e.CheckFast(2000, 5, 1.5))
	require.True(t, e.pendingDetail)

	// Spike subsided: bytes/packets back under threshold.
	now = now.Add(3500 * time.Millisecond)
	fired := e.CheckDetail(10, 1, 5, nil, nil, nil)
	require.False(t, fired)
	require.False(t, e.pendingDetail)
	require.Len(t, sink.subjects, 1) // only the original FAST alert
}

func TestStandaloneDetailBreachFiresFullAlert(t *testing.T) {
	sink := &fakeSink{}
	e := newTestEngine(Thresholds{BPS: 1000, PPS: 100, CooldownSec: 300}, sink)
	now := time.Unix(0, 0)
	setClock(e, &now)

	// No prior fast alert; a detail-only breach still fires (cooldown
	// not yet engaged).
	fired := e.CheckDetail(40000, 500, 5, nil, nil, nil)
	require.True(t, fired)
	require.Contains(t, sink.subjects[0], "Traffic Alert")
	require.NotContains(t, sink.subjects[0], "[DETAIL]")
}

func TestCheckHostSelectiveAlertAndIndependentCooldown(t *testing.T) {
	sink := &fakeSink{}
	e := newTestEngine(Thresholds{HostBPS: 1000, CooldownSec: 300}, sink)
	now := time.Unix(0, 0)
	setClock(e, &now)

	src := map[flow.Addr]flow.Counters{
		1: {Packets: 10, Bytes: 2000}, // bps = 2000*8/1 = 16000 > 1000: breach
		2: {Packets: 5, Bytes: 500},   // bps = 500*8/1 = 4000 > 1000: breach
	}
	dst := map[flow.Addr]flow.Counters{}

	alerted := e.CheckHost(src, dst, 1, nil)
	require.ElementsMatch(t, []flow.Addr{1, 2}, alerted)

	// Host 1 is now in cooldown; host 2 independently enters cooldown
	// too but a fresh host 3 can still alert.
	now = now.Add(1 * time.Second)
	src2 := map[flow.Addr]flow.Counters{
		1: {Packets: 10, Bytes: 2000},
		3: {Packets: 10, Bytes: 2000},
	}
	alerted2 := e.CheckHost(src2, nil, 1, nil)
	require.ElementsMatch(t, []flow.Addr{3}, alerted2)
}

func TestCheckHostDisabledWhenThresholdsZero(t *testing.T) {
	sink := &fakeSink{}
	e := newTestEngine(Thresholds{}, sink)
	alerted := e.CheckHost(map[flow.Addr]flow.Counters{1: {Bytes: 1_000_000, Packets: 1000}}, nil, 1, nil)
	require.Nil(t, alerted)
	require.Empty(t, sink.subjects)
}
