package daemon

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/danthegoodman1/trackguard/internal/store"
	"github.com/danthegoodman1/trackguard/internal/trackers"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func newTestIndex(t *testing.T) *trackers.Index {
	t.Helper()
	idx := trackers.NewIndex(testLogger())
	require.NoError(t, idx.LoadSeed())
	return idx
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func dnsQueryPacket(t *testing.T, dst net.IP, name string) []byte {
	t.Helper()

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	payload, err := msg.Pack()
	require.NoError(t, err)

	return udpPacket(t, dst, 53, payload)
}

func udpPacket(t *testing.T, dst net.IP, port uint16, payload []byte) []byte {
	t.Helper()

	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 2),
		DstIP:    dst,
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(port)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

// fakeChannel is an in-memory tunnel. Reads return queued packets and block
// when none are queued, until Close.
type fakeChannel struct {
	in chan []byte

	mu       sync.Mutex
	written  [][]byte
	readErr  error
	writeErr error

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeChannel(packets ...[]byte) *fakeChannel {
	c := &fakeChannel{
		in:     make(chan []byte, len(packets)+16),
		closed: make(chan struct{}),
	}
	for _, p := range packets {
		c.in <- p
	}
	return c
}

func (c *fakeChannel) push(p []byte) {
	c.in <- p
}

func (c *fakeChannel) failReads(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
}

func (c *fakeChannel) Read(p []byte) (int, error) {
	select {
	case pkt := <-c.in:
		return copy(p, pkt), nil
	default:
	}

	c.mu.Lock()
	err := c.readErr
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}

	select {
	case pkt := <-c.in:
		return copy(p, pkt), nil
	case <-c.closed:
		return 0, os.ErrClosed
	case <-time.After(5 * time.Millisecond):
		// Lets a later failReads take effect.
		return 0, nil
	}
}

func (c *fakeChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.written = append(c.written, append([]byte(nil), p...))
	return len(p), nil
}

func (c *fakeChannel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeChannel) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

// blockingStore delays every insert until release is closed and can fail
// the first n inserts.
type blockingStore struct {
	*store.Store
	release chan struct{}

	mu       sync.Mutex
	failNext int
}

var errInsertFailed = errors.New("insert failed")

func (b *blockingStore) InsertEvent(e *store.Event) (int64, error) {
	if b.release != nil {
		<-b.release
	}
	b.mu.Lock()
	if b.failNext > 0 {
		b.failNext--
		b.mu.Unlock()
		return 0, errInsertFailed
	}
	b.mu.Unlock()
	return b.Store.InsertEvent(e)
}

func waitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
