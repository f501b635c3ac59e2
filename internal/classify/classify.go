// Package classify derives a small descriptor from a raw IP packet read off
// the tunnel: destination address, protocol label and, for DNS queries, the
// queried name.
//
// Every offset is bounds-checked before it is read. Input bytes come straight
// from the network stack of the local host and must be treated as hostile;
// anything that cannot be read safely yields no descriptor, and callers
// forward such packets unfiltered.
package classify

import (
	"encoding/binary"
	"net/netip"
)

const (
	ipv4MinHeaderLen = 20
	ipv6HeaderLen    = 40
	udpHeaderLen     = 8
	dnsHeaderLen     = 12

	// maxLabelLen is the largest length byte accepted for a DNS label; larger
	// values are compression pointers or garbage.
	maxLabelLen = 63
	maxNameLen  = 253

	protoTCP = 6
	protoUDP = 17

	dnsPort = 53
)

// Descriptor is the result of classifying one packet. It is only valid for
// the duration of the decision on that packet.
type Descriptor struct {
	Dst      netip.Addr
	Domain   string // empty when no name could be extracted
	Protocol Protocol
}

// HasDomain reports whether a query name was extracted.
func (d Descriptor) HasDomain() bool {
	return d.Domain != ""
}

// Target returns the domain if present, otherwise the destination address.
func (d Descriptor) Target() string {
	if d.HasDomain() {
		return d.Domain
	}
	return d.Dst.String()
}

// Classify inspects buf and returns its descriptor. The second return value
// is false for unsupported IP versions and for any packet whose header fields
// cannot be read within the bounds of buf.
func Classify(buf []byte) (Descriptor, bool) {
	if len(buf) == 0 {
		return Descriptor{}, false
	}

	switch buf[0] >> 4 {
	case 4:
		return classifyIPv4(buf)
	case 6:
		return classifyIPv6(buf)
	default:
		return Descriptor{}, false
	}
}

func classifyIPv4(buf []byte) (Descriptor, bool) {
	if len(buf) < ipv4MinHeaderLen {
		return Descriptor{}, false
	}

	d := Descriptor{Dst: netip.AddrFrom4([4]byte(buf[16:20]))}
	proto := buf[9]

	switch proto {
	case protoUDP:
		return classifyUDP(buf, d)
	case protoTCP:
		return classifyTCP(buf, d)
	default:
		d.Protocol = Protocol{Kind: KindIP, Number: uint16(proto)}
		return d, true
	}
}

func classifyUDP(buf []byte, d Descriptor) (Descriptor, bool) {
	ihl, ok := headerLen(buf)
	if !ok {
		return Descriptor{}, false
	}
	port, ok := readUint16(buf, ihl+2)
	if !ok {
		return Descriptor{}, false
	}

	if port != dnsPort {
		d.Protocol = Protocol{Kind: KindUDP, Number: port}
		return d, true
	}

	// A query whose name cannot be parsed is still DNS, just without a domain.
	d.Protocol = Protocol{Kind: KindDNS, Number: port}
	if start := ihl + udpHeaderLen; start < len(buf) {
		d.Domain, _ = queryName(buf[start:])
	}
	return d, true
}

func classifyTCP(buf []byte, d Descriptor) (Descriptor, bool) {
	ihl, ok := headerLen(buf)
	if !ok {
		return Descriptor{}, false
	}
	port, ok := readUint16(buf, ihl+2)
	if !ok {
		return Descriptor{}, false
	}

	switch port {
	case 80, 443, 8080:
		d.Protocol = Protocol{Kind: KindHTTP, Number: port}
	default:
		d.Protocol = Protocol{Kind: KindTCP, Number: port}
	}
	return d, true
}

// classifyIPv6 does not walk extension headers: the fixed header is all that
// is read.
func classifyIPv6(buf []byte) (Descriptor, bool) {
	if len(buf) < ipv6HeaderLen {
		return Descriptor{}, false
	}
	return Descriptor{
		Dst:      netip.AddrFrom16([16]byte(buf[24:40])),
		Protocol: Protocol{Kind: KindIPv6},
	}, true
}

// headerLen returns the IPv4 header length in bytes from the IHL field.
func headerLen(buf []byte) (int, bool) {
	ihl := int(buf[0]&0x0f) * 4
	if ihl < ipv4MinHeaderLen {
		return 0, false
	}
	return ihl, true
}

func readUint16(buf []byte, off int) (uint16, bool) {
	if off < 0 || off+2 > len(buf) {
		return 0, false
	}
	return binary.BigEndian.Uint16(buf[off : off+2]), true
}

// queryName extracts the first question name of a DNS message as a
// dot-joined label sequence. Compression pointers are not followed.
func queryName(msg []byte) (string, bool) {
	off := dnsHeaderLen
	var name []byte

	for {
		if off >= len(msg) {
			return "", false
		}
		n := int(msg[off])
		off++
		if n == 0 {
			break
		}
		if n > maxLabelLen || off+n > len(msg) {
			return "", false
		}
		if len(name) > 0 {
			name = append(name, '.')
		}
		name = append(name, msg[off:off+n]...)
		if len(name) > maxNameLen {
			return "", false
		}
		off += n
	}

	if len(name) == 0 {
		return "", false
	}
	return string(name), true
}
