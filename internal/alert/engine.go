// Package alert implements the dual-latency alert state machine: a
// fast rate-only trigger backed by a deferred, detailed follow-up, plus
// independent per-host thresholds. Ported from
// original_source/probe/alerter.py's FlowAlerter, which this spec
// distills.
package alert

import (
	"sync"
	"time"

	"github.com/cloudmirror/probe/internal/flow"
	"github.com/cloudmirror/probe/internal/metrics"
)

// Thresholds configures the engine. Host thresholds of zero disable
// per-host alerting entirely.
type Thresholds struct {
	BPS        float64
	PPS        float64
	HostBPS    float64
	HostPPS    float64
	CooldownSec float64
}

// Sink delivers an alert to its transport (SNS, webhook, ...). Best
// effort: Sink implementations log and swallow their own errors, never
// propagating a failure back into the alert state machine (spec.md §7:
// "Notification failure ... alert state already advanced").
type Sink interface {
	Send(subject, message string)
}

// Engine is the single-writer (coordinator-owned) alert state machine.
// It is not safe for concurrent use from multiple goroutines; the
// coordinator drives it from its single poll loop. The mutex guards
// only per-host cooldown bookkeeping so that tests may query it
// concurrently with Check* calls if desired.
type Engine struct {
	thresholds Thresholds
	sinks      []Sink

	lastGlobalAlert time.Time
	pendingDetail   bool

	mu             sync.Mutex
	perHostLastTs  map[flow.Addr]time.Time

	now func() time.Time
}

// NewEngine creates an Engine with the given thresholds and outbound
// sinks. With no sinks, fired alerts are only counted in
// metrics.AlertsFiredTotal; they are not logged.
func NewEngine(t Thresholds, sinks ...Sink) *Engine {
	return &Engine{
		thresholds:    t,
		sinks:         sinks,
		perHostLastTs: make(map[flow.Addr]time.Time),
		now:           time.Now,
	}
}

func (e *Engine) cooldown() time.Duration {
	return time.Duration(e.thresholds.CooldownSec * float64(time.Second))
}

func (e *Engine) emit(tier, subject, message string) {
	metrics.AlertsFiredTotal.WithLabelValues(tier).Inc()
	for _, s := range e.sinks {
		s.Send(subject, message)
	}
}

// CheckFast is the sub-second rate-only trigger, called on each
// COORDINATOR_POLL tick that drained new snapshots. It never inspects
// top-N data. On a breach not
// suppressed by cooldown it fires a "[FAST]" alert, arms
// pendingDetail, and advances the cooldown clock.
func (e *Engine) CheckFast(totalBytes, totalPackets uint64, intervalSec float64) bool {
	if intervalSec <= 0 {
		return false
	}
	bps := float64(totalBytes) * 8 / intervalSec
	pps := float64(totalPackets) / intervalSec

	if bps <= e.thresholds.BPS && pps <= e.thresholds.PPS {
		return false
	}

	now := e.now()
	if !e.lastGlobalAlert.IsZero() && now.Sub(e.lastGlobalAlert) < e.cooldown() {
		return false
	}

	e.lastGlobalAlert = now
	e.pendingDetail = true

	subject := "[FAST] Traffic Alert: " + bpsToHuman(bps) + " / " + ppsToHuman(pps)
	message := "=== Mirror Traffic Alert (Fast) ===\n" +
		"Rate: " + bpsToHuman(bps) + " / " + ppsToHuman(pps) + "\n" +
		"Threshold: " + bpsToHuman(e.thresholds.BPS) + " / " + ppsToHuman(e.thresholds.PPS) + "\n" +
		"\nTop talker details will follow shortly."
	e.emit("fast", subject, message)
	return true
}

// TopFlow, TopAddr are the payload shapes CheckDetail formats into the
// detail/full alert message.
type TopFlow struct {
	Key      flow.Key
	Counters flow.Counters
}

type TopAddr struct {
	Addr     flow.Addr
	Bytes    uint64
	Meta     flow.Metadata
}

// CheckDetail is the 5s-cadence detailed check. Its outcome depends on
// pendingDetail:
//   - pendingDetail && breached: clears the flag, emits "[DETAIL]" with
//     top-N, bypassing cooldown — guarantees every fast alert gets its
//     context.
//   - !pendingDetail && breached: standard alert path, respects cooldown.
//   - !breached: clears pendingDetail silently (the spike ended before
//     detail could fire), emits nothing.
func (e *Engine) CheckDetail(totalBytes, totalPackets uint64, intervalSec float64, topSources, topDests []TopAddr, topFlows []TopFlow) bool {
	if intervalSec <= 0 {
		return false
	}
	bps := float64(totalBytes) * 8 / intervalSec
	pps := float64(totalPackets) / intervalSec
	breached := bps > e.thresholds.BPS || pps > e.thresholds.PPS

	if e.pendingDetail && breached {
		e.pendingDetail = false
		subject := "[DETAIL] Traffic Alert: " + bpsToHuman(bps) + " / " + ppsToHuman(pps)
		message := formatDetail(bps, pps, topSources, topDests, topFlows)
		e.emit("detail", subject, message)
		return true
	}

	e.pendingDetail = false

	if !breached {
		return false
	}

	now := e.now()
	if !e.lastGlobalAlert.IsZero() && now.Sub(e.lastGlobalAlert) < e.cooldown() {
		return false
	}
	e.lastGlobalAlert = now

	subject := "Traffic Alert: " + bpsToHuman(bps) + " / " + ppsToHuman(pps)
	message := formatDetail(bps, pps, topSources, topDests, topFlows)
	e.emit("detail", subject, message)
	return true
}

// CheckHost evaluates independent per-host thresholds over the
// direction (source or destination) with the larger byte count for
// each observed address, and returns the addresses that were actually
// alerted (i.e. breached and not suppressed by their own cooldown).
// Disabled entirely when both host thresholds are zero.
func (e *Engine) CheckHost(srcAgg, dstAgg map[flow.Addr]flow.Counters, intervalSec float64, enriched map[flow.Addr]flow.Metadata) []flow.Addr {
	if intervalSec <= 0 {
		return nil
	}
	if e.thresholds.HostBPS <= 0 && e.thresholds.HostPPS <= 0 {
		return nil
	}

	type observed struct {
		counters  flow.Counters
		direction string
	}
	merged := make(map[flow.Addr]observed, len(srcAgg)+len(dstAgg))
	for addr, c := range srcAgg {
		merged[addr] = observed{counters: c, direction: "source"}
	}
	for addr, c := range dstAgg {
		prev, exists := merged[addr]
		if !exists || c.Bytes > prev.counters.Bytes {
			merged[addr] = observed{counters: c, direction: "destination"}
		}
	}

	now := e.now()
	var alerted []flow.Addr

	e.mu.Lock()
	defer e.mu.Unlock()

	for addr, ob := range merged {
		bps := float64(ob.counters.Bytes) * 8 / intervalSec
		pps := float64(ob.counters.Packets) / intervalSec

		breached := (e.thresholds.HostBPS > 0 && bps > e.thresholds.HostBPS) ||
			(e.thresholds.HostPPS > 0 && pps > e.thresholds.HostPPS)
		if !breached {
			continue
		}

		last, seen := e.perHostLastTs[addr]
		if seen && now.Sub(last) < e.cooldown() {
			continue
		}
		e.perHostLastTs[addr] = now
		alerted = append(alerted, addr)

		meta := enriched[addr]
		subject := "[HOST] " + addr.String() + " (" + ob.direction + "): " + bpsToHuman(bps) + " / " + ppsToHuman(pps)
		message := formatHost(addr, ob.direction, bps, pps, meta)
		e.emit("host", subject, message)
	}
	return alerted
}
