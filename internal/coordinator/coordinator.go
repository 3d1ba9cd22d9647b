// Package coordinator owns every worker's handoff queue, the metadata
// cache, and the alert engine, merging flow snapshots on a fixed poll
// cadence and emitting a full Top-N report every REPORT_INTERVAL.
// Grounded on original_source/probe/multiproc_probe.py's Coordinator
// class, redesigned around goroutines and channels instead of
// multiprocessing.Queue/Process.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudmirror/probe/internal/alert"
	"github.com/cloudmirror/probe/internal/flow"
	"github.com/cloudmirror/probe/internal/kernelstats"
	"github.com/cloudmirror/probe/internal/metadata"
	"github.com/cloudmirror/probe/internal/metrics"
	"github.com/cloudmirror/probe/internal/telemetry"
	"github.com/cloudmirror/probe/internal/worker"
)

// pollInterval is COORDINATOR_POLL.
const pollInterval = 500 * time.Millisecond

// reportInterval is REPORT_INTERVAL: the cadence of full Top-N reports.
const reportInterval = 5 * time.Second

// topN bounds the flows/sources/destinations named in a report.
const topN = 10

// drainGracePeriod is the pause before the first post-stop-signal
// drain, giving workers a chance to push their final flush rather than
// racing their exit, matching multiproc_probe.py's Coordinator.stop
// "time.sleep(0.5)" before draining.
const drainGracePeriod = 500 * time.Millisecond

// workerJoinTimeout bounds how long shutdown waits for worker
// goroutines to exit before giving up and reporting whatever drained.
const workerJoinTimeout = 3 * time.Second

// Coordinator merges per-worker flow snapshots, drives the alert
// engine, and periodically reports.
type Coordinator struct {
	workers []*worker.Worker
	cache   *metadata.Cache
	alerts  *alert.Engine

	accumulated map[flow.Key]flow.Counters
	windowStart time.Time

	lastKernelDrops uint64
	lastDropCounts  telemetry.DropCounts
}

// New creates a Coordinator over the given workers, metadata cache and
// alert engine.
func New(workers []*worker.Worker, cache *metadata.Cache, alerts *alert.Engine) *Coordinator {
	return &Coordinator{
		workers:     workers,
		cache:       cache,
		alerts:      alerts,
		accumulated: make(map[flow.Key]flow.Counters),
	}
}

// Run starts every worker goroutine and the poll loop, blocking until
// ctx is cancelled, then performs the shutdown sequence: drain, join
// workers with a grace period, final drain+report, done.
func (c *Coordinator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range c.workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	c.windowStart = time.Now()
	c.pollLoop(ctx)

	c.shutdown(&wg)
}

func (c *Coordinator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick drains every worker queue, merges into the accumulator, and
// runs the fast check on every poll; at the report boundary it emits
// the full report and resets the window.
func (c *Coordinator) tick() {
	fresh := c.drainAll()
	if len(fresh) > 0 {
		c.merge(fresh)

		elapsed := time.Since(c.windowStart).Seconds()
		if elapsed > 0 {
			totalBytes, totalPackets := c.totals()
			c.alerts.CheckFast(totalBytes, totalPackets, elapsed)
		}
	}

	if time.Since(c.windowStart) >= reportInterval {
		c.report()
		c.accumulated = make(map[flow.Key]flow.Counters)
		c.windowStart = time.Now()
	}
}

func (c *Coordinator) drainAll() []flow.Snapshot {
	var all []flow.Snapshot
	for _, w := range c.workers {
		all = append(all, w.Queue.TryDrain()...)
	}
	return all
}

func (c *Coordinator) merge(snapshots []flow.Snapshot) {
	for _, snap := range snapshots {
		for _, e := range snap {
			counters := c.accumulated[e.Key]
			counters.Add(e.Counters)
			c.accumulated[e.Key] = counters
		}
	}
}

func (c *Coordinator) totals() (bytes, packets uint64) {
	for _, counters := range c.accumulated {
		bytes += counters.Bytes
		packets += counters.Packets
	}
	return
}

// report builds and emits the structured 5s report, then runs the
// detail and per-host checks and logs any kernel-drop delta.
func (c *Coordinator) report() {
	if len(c.accumulated) == 0 {
		return
	}
	interval := time.Since(c.windowStart).Seconds()
	if interval <= 0 {
		interval = reportInterval.Seconds()
	}

	entries := make([]flow.Entry, 0, len(c.accumulated))
	for k, v := range c.accumulated {
		entries = append(entries, flow.Entry{Key: k, Counters: v})
	}

	totalBytes, totalPackets := c.totals()
	topFlows := flow.SortByBytesDesc(entries, topN)

	srcAgg, dstAgg := aggregateByAddr(entries)
	topSrc := flow.SortAddrByBytesDesc(toAddrEntries(srcAgg), topN)
	topDst := flow.SortAddrByBytesDesc(toAddrEntries(dstAgg), topN)

	allAddrs := unionAddrs(topSrc, topDst)
	enriched := c.cache.EnrichMany(allAddrs)

	metrics.ReportFlowsTracked.Set(float64(len(entries)))

	slog.Info("flow report",
		"flows", len(entries),
		"packets", totalPackets,
		"bytes", totalBytes,
		"top_sources", top3Summary(topSrc),
		"top_dests", top3Summary(topDst),
	)

	c.alerts.CheckDetail(totalBytes, totalPackets, interval,
		toTopAddrs(topSrc, enriched), toTopAddrs(topDst, enriched), toTopFlows(topFlows))

	c.alerts.CheckHost(srcAgg, dstAgg, interval, enriched)

	c.reportKernelDrops()
	c.reportDropTelemetry()
}

// reportDropTelemetry logs a warning when any drop category has
// increased since the last report, matching spec.md §4.H.
func (c *Coordinator) reportDropTelemetry() {
	counters := make([]telemetry.WorkerCounters, len(c.workers))
	for i, w := range c.workers {
		counters[i] = w
	}
	current := telemetry.Aggregate(counters)
	delta := telemetry.Delta(c.lastDropCounts, current)
	if delta.Any() {
		slog.Warn("drop telemetry",
			"table_full_drops", delta.TableFull,
			"probe_failures", delta.ProbeFailures,
			"queue_full_drops", delta.QueueFull,
		)
	}
	c.lastDropCounts = current
}

func (c *Coordinator) reportKernelDrops() {
	current := kernelstats.ReadUDPDrops()
	delta := kernelstats.Delta(c.lastKernelDrops, current)
	if delta > 0 {
		slog.Warn("kernel UDP drops detected", "delta", delta, "total", current)
	}
	metrics.KernelUDPDropsTotal.Set(float64(current))
	c.lastKernelDrops = current
}

// shutdown performs the stop sequence once ctx is cancelled and
// pollLoop has returned: drain, join with grace, final drain+report.
func (c *Coordinator) shutdown(wg *sync.WaitGroup) {
	slog.Info("coordinator stopping")

	time.Sleep(drainGracePeriod)
	c.merge(c.drainAll())

	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(workerJoinTimeout):
		slog.Warn("workers did not exit within grace period")
	}

	c.merge(c.drainAll())
	if len(c.accumulated) > 0 {
		c.report()
	}

	slog.Info("coordinator stopped")
}

func aggregateByAddr(entries []flow.Entry) (src, dst map[flow.Addr]flow.Counters) {
	src = make(map[flow.Addr]flow.Counters)
	dst = make(map[flow.Addr]flow.Counters)
	for _, e := range entries {
		s := src[flow.Addr(e.Key.SrcIP)]
		s.Add(e.Counters)
		src[flow.Addr(e.Key.SrcIP)] = s

		d := dst[flow.Addr(e.Key.DstIP)]
		d.Add(e.Counters)
		dst[flow.Addr(e.Key.DstIP)] = d
	}
	return
}

func toAddrEntries(agg map[flow.Addr]flow.Counters) []flow.AddrEntry {
	out := make([]flow.AddrEntry, 0, len(agg))
	for addr, counters := range agg {
		out = append(out, flow.AddrEntry{Addr: addr, Counters: counters})
	}
	return out
}

func unionAddrs(groups ...[]flow.AddrEntry) []flow.Addr {
	seen := make(map[flow.Addr]struct{})
	var out []flow.Addr
	for _, g := range groups {
		for _, e := range g {
			if _, ok := seen[e.Addr]; !ok {
				seen[e.Addr] = struct{}{}
				out = append(out, e.Addr)
			}
		}
	}
	return out
}

func toTopAddrs(entries []flow.AddrEntry, enriched map[flow.Addr]flow.Metadata) []alert.TopAddr {
	out := make([]alert.TopAddr, 0, len(entries))
	for _, e := range entries {
		out = append(out, alert.TopAddr{Addr: e.Addr, Bytes: e.Counters.Bytes, Meta: enriched[e.Addr]})
	}
	return out
}

func toTopFlows(entries []flow.Entry) []alert.TopFlow {
	out := make([]alert.TopFlow, 0, len(entries))
	for _, e := range entries {
		out = append(out, alert.TopFlow{Key: e.Key, Counters: e.Counters})
	}
	return out
}

func top3Summary(entries []flow.AddrEntry) []string {
	n := min(3, len(entries))
	out := make([]string, 0, n)
	for _, e := range entries[:n] {
		out = append(out, e.Addr.String())
	}
	return out
}
