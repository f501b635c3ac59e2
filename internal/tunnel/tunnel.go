package tunnel

import (
	"errors"
	"fmt"
	"net"
)

var (
	ErrUnsupported = errors.New("tunnel devices are not supported on this platform")
	ErrClosed      = errors.New("tunnel device closed")
)

type Config struct {
	Name    string
	Address string
	MTU     int
	Routes  []string
}

func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("tunnel name is required")
	}
	if _, err := ParseCIDR(c.Address); err != nil {
		return fmt.Errorf("tunnel address: %w", err)
	}
	if c.MTU < 576 || c.MTU > 65535 {
		return fmt.Errorf("tunnel mtu %d must be within 576-65535", c.MTU)
	}
	for _, r := range c.Routes {
		if _, err := ParseCIDR(r); err != nil {
			return fmt.Errorf("tunnel route: %w", err)
		}
	}
	return nil
}

// ParseCIDR parses a CIDR string, treating a bare IP as a host route.
func ParseCIDR(s string) (*net.IPNet, error) {
	_, cidr, err := net.ParseCIDR(s)
	if err == nil {
		return cidr, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP or CIDR: %q", s)
	}
	if ip4 := ip.To4(); ip4 != nil {
		return &net.IPNet{IP: ip4, Mask: net.CIDRMask(32, 32)}, nil
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
}
