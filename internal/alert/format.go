package alert

import (
	"fmt"
	"strings"

	"github.com/cloudmirror/probe/internal/flow"
)

// bytesToHuman renders a byte count with a binary-prefix unit.
// Ported from original_source/probe/alerter.py's bytes_to_human.
func bytesToHuman(n float64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	for _, unit := range units {
		if n < 1024 {
			return fmt.Sprintf("%.1f %s", n, unit)
		}
		n /= 1024
	}
	return fmt.Sprintf("%.1f PB", n)
}

// bpsToHuman renders a bits-per-second rate with a decimal-prefix unit.
func bpsToHuman(bps float64) string {
	units := []string{"bps", "Kbps", "Mbps", "Gbps"}
	for _, unit := range units {
		if bps < 1000 {
			return fmt.Sprintf("%.1f %s", bps, unit)
		}
		bps /= 1000
	}
	return fmt.Sprintf("%.1f Tbps", bps)
}

// ppsToHuman renders a packets-per-second rate with a decimal-prefix unit.
func ppsToHuman(pps float64) string {
	units := []string{"pps", "Kpps", "Mpps"}
	for _, unit := range units {
		if pps < 1000 {
			return fmt.Sprintf("%.1f %s", pps, unit)
		}
		pps /= 1000
	}
	return fmt.Sprintf("%.1f Gpps", pps)
}

func formatMeta(m flow.Metadata) string {
	if !m.Known() {
		return "unknown"
	}
	parts := make([]string, 0, 3)
	if m.Name != "" {
		parts = append(parts, "name="+m.Name)
	}
	if m.InstanceID != "" {
		parts = append(parts, "instance="+m.InstanceID)
	}
	if m.ASG != "" {
		parts = append(parts, "asg="+m.ASG)
	}
	if m.Owner != "" {
		parts = append(parts, "owner="+m.Owner)
	}
	return strings.Join(parts, " ")
}

// formatDetail renders the "[DETAIL]"/full alert body: rate plus the
// top-5 sources, destinations and flows.
func formatDetail(bps, pps float64, topSources, topDests []TopAddr, topFlows []TopFlow) string {
	var b strings.Builder
	b.WriteString("=== Mirror Traffic Alert (Detail) ===\n")
	fmt.Fprintf(&b, "Rate: %s / %s\n\n", bpsToHuman(bps), ppsToHuman(pps))

	b.WriteString("Top Sources:\n")
	for _, s := range limitAddrs(topSources, 5) {
		fmt.Fprintf(&b, "  %s  %s  (%s)\n", s.Addr, bytesToHuman(float64(s.Bytes)), formatMeta(s.Meta))
	}

	b.WriteString("Top Destinations:\n")
	for _, d := range limitAddrs(topDests, 5) {
		fmt.Fprintf(&b, "  %s  %s  (%s)\n", d.Addr, bytesToHuman(float64(d.Bytes)), formatMeta(d.Meta))
	}

	b.WriteString("Top Flows:\n")
	for _, f := range limitFlows(topFlows, 5) {
		fmt.Fprintf(&b, "  %s:%d -> %s:%d proto=%d  %s\n",
			flow.Addr(f.Key.SrcIP), f.Key.SrcPort,
			flow.Addr(f.Key.DstIP), f.Key.DstPort,
			f.Key.Proto, bytesToHuman(float64(f.Counters.Bytes)))
	}
	return b.String()
}

// formatHost renders a single "[HOST]" alert body.
func formatHost(addr flow.Addr, direction string, bps, pps float64, meta flow.Metadata) string {
	return fmt.Sprintf(
		"=== Mirror Traffic Alert (Host) ===\nHost: %s (%s)\nRate: %s / %s\nInfo: %s",
		addr, direction, bpsToHuman(bps), ppsToHuman(pps), formatMeta(meta),
	)
}

func limitAddrs(in []TopAddr, n int) []TopAddr {
	if len(in) > n {
		return in[:n]
	}
	return in
}

func limitFlows(in []TopFlow, n int) []TopFlow {
	if len(in) > n {
		return in[:n]
	}
	return in
}
