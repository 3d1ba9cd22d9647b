// Package metrics implements Prometheus metrics for the mirror probe.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsTotal counts datagrams received per worker.
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_probe_packets_total",
			Help: "Total number of VXLAN datagrams received",
		},
		[]string{"worker"},
	)

	// ParsedTotal counts datagrams that parsed into a valid flow key.
	ParsedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_probe_parsed_total",
			Help: "Total number of datagrams successfully parsed",
		},
		[]string{"worker"},
	)

	// TableFullDropsTotal counts flow records dropped because a
	// worker's flow table was at capacity.
	TableFullDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_probe_table_full_drops_total",
			Help: "Total number of flow records dropped due to a full flow table",
		},
		[]string{"worker"},
	)

	// ProbeFailuresTotal counts flow records dropped because the open
	// addressing probe chain was exhausted.
	ProbeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_probe_probe_failures_total",
			Help: "Total number of flow table insertions that exhausted the probe chain",
		},
		[]string{"worker"},
	)

	// QueueFullDropsTotal counts flow table snapshots dropped because a
	// worker's snapshot queue to the coordinator was full.
	QueueFullDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_probe_queue_full_drops_total",
			Help: "Total number of flow table snapshots dropped due to a full handoff queue",
		},
		[]string{"worker"},
	)

	// KernelUDPDropsTotal tracks the cumulative kernel-reported UDP
	// socket drop counter read from /proc/net/udp.
	KernelUDPDropsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirror_probe_kernel_udp_drops_total",
			Help: "Cumulative UDP socket drops reported by the kernel",
		},
	)

	// ReportFlowsTracked tracks the number of distinct flow keys in the
	// most recent report window.
	ReportFlowsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirror_probe_report_flows_tracked",
			Help: "Number of distinct flow keys accumulated in the last report window",
		},
	)

	// MetadataCacheSize tracks the number of enriched addresses held in
	// the metadata cache's current snapshot.
	MetadataCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirror_probe_metadata_cache_size",
			Help: "Number of addresses known to the metadata cache",
		},
	)

	// MetadataRefreshErrorsTotal counts failed EC2 inventory refreshes.
	MetadataRefreshErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mirror_probe_metadata_refresh_errors_total",
			Help: "Total number of failed metadata cache refreshes",
		},
	)

	// AlertsFiredTotal counts alerts emitted by tier.
	AlertsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_probe_alerts_fired_total",
			Help: "Total number of alerts fired, by tier",
		},
		[]string{"tier"},
	)
)
