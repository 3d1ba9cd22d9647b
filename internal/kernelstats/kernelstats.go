// Package kernelstats reads kernel-level UDP socket drop counters,
// ported from original_source/probe/multiproc_probe.py's
// _read_udp_drops (column 12 of /proc/net/udp).
package kernelstats

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

const procNetUDP = "/proc/net/udp"

// udpDropColumn is the 0-indexed column in /proc/net/udp holding the
// per-socket drop counter.
const udpDropColumn = 12

// ReadUDPDrops sums the drop counter across every line of
// /proc/net/udp. Returns 0 (not an error) if the file is unreadable,
// matching the Python original's best-effort OSError swallow — this is
// host telemetry, not a correctness-critical read.
func ReadUDPDrops() uint64 {
	f, err := os.Open(procNetUDP)
	if err != nil {
		return 0
	}
	defer f.Close()

	var total uint64
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue // header line
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) <= udpDropColumn {
			continue
		}
		n, err := strconv.ParseUint(fields[udpDropColumn], 10, 64)
		if err != nil {
			continue
		}
		total += n
	}
	return total
}

// Delta reports the increase from prev to current, clamping to 0 if
// the kernel counter somehow decreased (e.g. counter wrap, or a
// restarted netns in tests).
func Delta(prev, current uint64) uint64 {
	if current < prev {
		return 0
	}
	return current - prev
}
