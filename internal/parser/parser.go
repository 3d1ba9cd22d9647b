// Package parser implements the VXLAN/Ethernet/IPv4 layered parser.
// Parse is a pure, allocation-free function: given a mirrored UDP
// datagram payload it either rejects it or returns the inner 5-tuple
// and the IPv4 total-length field.
package parser

import (
	"encoding/binary"

	"github.com/cloudmirror/probe/internal/flow"
)

const (
	vxlanHeaderLen    = 8
	ethernetHeaderLen = 14
	ipv4HeaderMinLen  = 20
	transportHeaderLen = 4

	etherTypeIPv4 = 0x0800

	protoTCP = 6
	protoUDP = 17
)

// Parse decodes a VXLAN-encapsulated datagram and extracts the inner
// IPv4 5-tuple. ok is false if any layer fails its length or type
// check; in that case key and innerLen are the zero value and the
// packet must be discarded silently (spec: malformed packets are never
// reported as errors, only counted as non-parsed by the caller).
//
// innerLen is the IPv4 total_length field — the byte count to charge
// against the flow — not the size of datagram.
func Parse(datagram []byte) (key flow.Key, innerLen uint16, ok bool) {
	// Layer 1: VXLAN header, 8 bytes, fields unused.
	if len(datagram) < vxlanHeaderLen {
		return flow.Key{}, 0, false
	}
	rest := datagram[vxlanHeaderLen:]

	// Layer 2: inner Ethernet header, 14 bytes; only the ethertype at
	// offset +12 matters.
	if len(rest) < ethernetHeaderLen {
		return flow.Key{}, 0, false
	}
	etherType := binary.BigEndian.Uint16(rest[12:14])
	if etherType != etherTypeIPv4 {
		return flow.Key{}, 0, false
	}
	rest = rest[ethernetHeaderLen:]

	// Layer 3: inner IPv4 header, variable length via IHL.
	if len(rest) < ipv4HeaderMinLen {
		return flow.Key{}, 0, false
	}
	ihl := int(rest[0]&0x0F) * 4
	if ihl < ipv4HeaderMinLen || len(rest) < ihl {
		return flow.Key{}, 0, false
	}

	totalLen := binary.BigEndian.Uint16(rest[2:4])
	proto := rest[9]
	srcIP := binary.BigEndian.Uint32(rest[12:16])
	dstIP := binary.BigEndian.Uint32(rest[16:20])

	var srcPort, dstPort uint16
	if proto == protoTCP || proto == protoUDP {
		// Layer 4: ports, only if both the protocol calls for them and
		// there's room — otherwise leave them zero rather than reject.
		if len(rest) >= ihl+transportHeaderLen {
			transport := rest[ihl:]
			srcPort = binary.BigEndian.Uint16(transport[0:2])
			dstPort = binary.BigEndian.Uint16(transport[2:4])
		}
	}

	key = flow.Key{
		SrcIP:   srcIP,
		DstIP:   dstIP,
		Proto:   proto,
		SrcPort: srcPort,
		DstPort: dstPort,
	}
	return key, totalLen, true
}
