//go:build linux

package tunnel

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/songgao/water"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// Device is an open TUN interface.
type Device struct {
	iface *water.Interface
	name  string

	mu     sync.Mutex
	closed bool
}

// Open creates the TUN device described by cfg and configures it.
func Open(cfg Config) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	wcfg := water.Config{DeviceType: water.TUN}
	wcfg.Name = cfg.Name

	iface, err := water.New(wcfg)
	if err != nil {
		return nil, fmt.Errorf("creating tun device %s: %w", cfg.Name, err)
	}

	if err := configure(iface.Name(), cfg); err != nil {
		iface.Close()
		return nil, err
	}

	return &Device{iface: iface, name: iface.Name()}, nil
}

func configure(name string, cfg Config) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("getting interface %s: %w", name, err)
	}

	addr, err := netlink.ParseAddr(cfg.Address)
	if err != nil {
		ipnet, perr := ParseCIDR(cfg.Address)
		if perr != nil {
			return fmt.Errorf("parsing address %s: %w", cfg.Address, err)
		}
		addr = &netlink.Addr{IPNet: ipnet}
	}
	if err := netlink.AddrReplace(link, addr); err != nil {
		return fmt.Errorf("assigning %s to %s: %w", cfg.Address, name, err)
	}

	if err := netlink.LinkSetMTU(link, cfg.MTU); err != nil {
		return fmt.Errorf("setting mtu on %s: %w", name, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("bringing up %s: %w", name, err)
	}

	for _, r := range cfg.Routes {
		dst, err := ParseCIDR(r)
		if err != nil {
			return err
		}
		route := &netlink.Route{LinkIndex: link.Attrs().Index, Dst: dst}
		if err := netlink.RouteReplace(route); err != nil {
			return fmt.Errorf("adding route %s via %s: %w", r, name, err)
		}
	}
	return nil
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) Read(p []byte) (int, error) {
	n, err := d.iface.Read(p)
	if err != nil && d.isClosedErr(err) {
		return n, ErrClosed
	}
	return n, err
}

func (d *Device) Write(p []byte) (int, error) {
	n, err := d.iface.Write(p)
	if err != nil && d.isClosedErr(err) {
		return n, ErrClosed
	}
	return n, err
}

// Close releases the device and unblocks a pending Read.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.iface.Close()
}

func (d *Device) isClosedErr(err error) bool {
	if errors.Is(err, os.ErrClosed) || errors.Is(err, unix.EBADF) {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
