// Package worker implements one VXLAN-ingest worker: its own
// SO_REUSEPORT UDP socket, a bounded flow table, optional stable
// sampling, and a private handoff queue to the coordinator. Grounded
// on original_source/probe/multiproc_probe.py's _worker_c loop, with
// the socket fan-out pattern from
// _examples/jroosing-HydraDNS/internal/server/udp_server.go.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/cloudmirror/probe/internal/flow"
	"github.com/cloudmirror/probe/internal/flowtable"
	"github.com/cloudmirror/probe/internal/metrics"
	"github.com/cloudmirror/probe/internal/parser"
	"github.com/cloudmirror/probe/internal/sampling"
)

// BindAddr and BindPort are the fixed VXLAN listener address, matching
// spec.md §2 and original_source/probe/multiproc_probe.py's BIND_ADDR
// / BIND_PORT.
const (
	BindAddr = "0.0.0.0"
	BindPort = 4789
)

// flushInterval is CAP_FLUSH_INTERVAL: how often a worker flushes its
// flow table onto its SnapshotQueue.
const flushInterval = 1 * time.Second

// queuePutTimeout is the enqueue timeout past which a flushed
// snapshot is dropped and counted, matching spec.md §4.C.
const queuePutTimeout = 500 * time.Millisecond

// readTimeout bounds each socket read so the worker loop can notice
// shutdown and flush deadlines even when no traffic arrives.
const readTimeout = 1 * time.Second

// recvBufferSize is the read buffer a single datagram is parsed from.
// VXLAN mirror traffic over UDP is always well under 64 KiB.
const recvBufferSize = 65536

// Worker owns one ingest socket, flow table, and handoff queue.
type Worker struct {
	id      int
	conn    *net.UDPConn
	table   *flowtable.Table
	sampler *sampling.Decider
	Queue   *SnapshotQueue

	// lastTableFullDrops/lastProbeFailures remember the table's
	// cumulative counters as of the previous flush, since
	// flowtable.Table reports totals rather than per-epoch deltas.
	lastTableFullDrops uint64
	lastProbeFailures  uint64

	log *slog.Logger
}

// New opens a SO_REUSEPORT socket bound to BindAddr:BindPort and
// constructs a worker with the given table capacity and sample rate.
func New(id int, tableCapacity int, sampleRate float64) (*Worker, error) {
	addr := net.JoinHostPort(BindAddr, strconv.Itoa(BindPort))
	conn, err := listenReusePort(addr)
	if err != nil {
		return nil, err
	}

	granted, err := setRecvBuffer(conn)
	if err != nil {
		slog.Warn("worker could not confirm SO_RCVBUF grant", "worker", id, "error", err)
	}

	log := slog.With("worker", id)
	log.Info("worker socket ready", "bind", addr, "requested_rcvbuf", rcvBufBytes, "granted_rcvbuf", granted)

	w := &Worker{
		id:    id,
		conn:  conn,
		table: flowtable.New(tableCapacity),
		Queue: NewSnapshotQueue(),
		log:   log,
	}
	if sampleRate < 1.0 {
		w.sampler = sampling.New(sampleRate)
	}
	return w, nil
}

// Run drives the receive→parse→record loop until ctx is cancelled,
// flushing the flow table onto Queue every flushInterval and once more
// on exit, matching original_source/probe/multiproc_probe.py's worker
// shutdown ("finally: lib.cap_destroy").
func (w *Worker) Run(ctx context.Context) {
	workerLabel := strconv.Itoa(w.id)
	buf := make([]byte, recvBufferSize)
	lastFlush := time.Now()

	for {
		if ctx.Err() != nil {
			w.flush(workerLabel)
			return
		}

		_ = w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, _, err := w.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// Expected: lets us re-check ctx/flush cadence.
			} else if ctx.Err() != nil {
				w.flush(workerLabel)
				return
			}
			// Socket error unrelated to shutdown: keep looping, the
			// next read attempt will surface a persistent failure.
		} else {
			metrics.PacketsTotal.WithLabelValues(workerLabel).Inc()
			w.ingest(buf[:n], workerLabel)
		}

		if time.Since(lastFlush) >= flushInterval {
			w.flush(workerLabel)
			lastFlush = time.Now()
		}
	}
}

func (w *Worker) ingest(datagram []byte, workerLabel string) {
	key, innerLen, ok := parser.Parse(datagram)
	if !ok {
		return
	}
	if w.sampler != nil && !w.sampler.SampleIn(key) {
		return
	}
	metrics.ParsedTotal.WithLabelValues(workerLabel).Inc()
	w.table.Record(key, innerLen)
}

func (w *Worker) flush(workerLabel string) {
	snap := w.table.Flush()

	if drops := w.table.TableFullDrops(); drops > w.lastTableFullDrops {
		metrics.TableFullDropsTotal.WithLabelValues(workerLabel).Add(float64(drops - w.lastTableFullDrops))
		w.lastTableFullDrops = drops
	}
	if fails := w.table.ProbeFailures(); fails > w.lastProbeFailures {
		metrics.ProbeFailuresTotal.WithLabelValues(workerLabel).Add(float64(fails - w.lastProbeFailures))
		w.lastProbeFailures = fails
	}

	if len(snap) == 0 {
		return
	}

	if w.sampler != nil {
		for i := range snap {
			snap[i].Counters = w.sampler.InverseScale(snap[i].Counters)
		}
	}

	if !w.Queue.Put(snap, queuePutTimeout) {
		metrics.QueueFullDropsTotal.WithLabelValues(workerLabel).Inc()
		w.log.Warn("snapshot queue full, dropping flush", "flows", len(snap))
	}
}

// Close closes the worker's ingest socket, unblocking Run's pending
// read.
func (w *Worker) Close() error {
	return w.conn.Close()
}

// TableFullDrops returns the worker's cumulative flow-table-full drop
// count, for telemetry aggregation.
func (w *Worker) TableFullDrops() uint64 {
	return w.table.TableFullDrops()
}

// ProbeFailures returns the worker's cumulative probe-chain-exhausted
// count, for telemetry aggregation.
func (w *Worker) ProbeFailures() uint64 {
	return w.table.ProbeFailures()
}

// QueueDrops returns the worker's cumulative snapshot-queue-full drop
// count, for telemetry aggregation.
func (w *Worker) QueueDrops() uint64 {
	return w.Queue.Drops()
}
