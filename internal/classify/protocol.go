package classify

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the closed set of protocol labels a packet can be classified as.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindDNS is a UDP datagram to port 53.
	KindDNS
	// KindHTTP is TCP to one of the web ports 80, 443 or 8080.
	KindHTTP
	// KindTCP is TCP to any other port.
	KindTCP
	// KindUDP is UDP to any port other than 53.
	KindUDP
	// KindIP is an IPv4 packet carrying neither TCP nor UDP.
	KindIP
	// KindIPv6 is any IPv6 packet; no transport parsing is done.
	KindIPv6
)

// Protocol is a protocol label. Number holds the destination port for
// transport kinds and the IANA protocol number for KindIP.
type Protocol struct {
	Kind   Kind
	Number uint16
}

// String returns the compact label stored with events, e.g. "DNS",
// "HTTP-443", "TCP-22", "UDP-123", "IP-1" or "IPv6".
func (p Protocol) String() string {
	switch p.Kind {
	case KindDNS:
		return "DNS"
	case KindHTTP:
		return fmt.Sprintf("HTTP-%d", p.Number)
	case KindTCP:
		return fmt.Sprintf("TCP-%d", p.Number)
	case KindUDP:
		return fmt.Sprintf("UDP-%d", p.Number)
	case KindIP:
		return fmt.Sprintf("IP-%d", p.Number)
	case KindIPv6:
		return "IPv6"
	default:
		return "unknown"
	}
}

// Display returns a human readable label for notifications.
func (p Protocol) Display() string {
	switch p.Kind {
	case KindDNS:
		return "DNS query"
	case KindHTTP:
		if p.Number == 443 {
			return "HTTPS connection"
		}
		return fmt.Sprintf("HTTP connection (port %d)", p.Number)
	case KindTCP:
		return fmt.Sprintf("TCP connection (port %d)", p.Number)
	case KindUDP:
		return fmt.Sprintf("UDP datagram (port %d)", p.Number)
	case KindIP:
		return fmt.Sprintf("IP protocol %d", p.Number)
	case KindIPv6:
		return "IPv6 packet"
	default:
		return "unknown traffic"
	}
}

// ParseProtocol is the inverse of Protocol.String. Unrecognized labels return
// a Protocol of KindUnknown.
func ParseProtocol(s string) Protocol {
	switch s {
	case "DNS":
		return Protocol{Kind: KindDNS, Number: dnsPort}
	case "IPv6":
		return Protocol{Kind: KindIPv6}
	}

	prefixes := map[string]Kind{"HTTP-": KindHTTP, "TCP-": KindTCP, "UDP-": KindUDP, "IP-": KindIP}
	for prefix, kind := range prefixes {
		rest, ok := strings.CutPrefix(s, prefix)
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(rest, 10, 16)
		if err != nil {
			return Protocol{}
		}
		return Protocol{Kind: kind, Number: uint16(n)}
	}
	return Protocol{}
}
