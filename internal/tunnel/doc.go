// Package tunnel provides the TUN device that the filter loop reads packets
// from and writes forwarded packets back to.
//
// # Device
//
// Open creates (or attaches to) a TUN interface, assigns its address and MTU,
// brings it up and installs the configured routes so that matching traffic
// is delivered to the daemon as whole IP datagrams, one per Read.
//
// # Closing
//
// Close unblocks a pending Read. Reads that fail because the device was
// closed return ErrClosed so callers can tell a shutdown apart from a
// device failure.
//
// # Example
//
//	dev, err := tunnel.Open(tunnel.Config{
//	    Name:    "tg0",
//	    Address: "10.0.0.2/32",
//	    MTU:     1500,
//	    Routes:  []string{"0.0.0.0/0"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Close()
//
// Only Linux is supported; elsewhere Open returns ErrUnsupported.
package tunnel
