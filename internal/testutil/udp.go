// Package testutil provides network clients for end-to-end relay tests.
package testutil

import (
	"errors"
	"net"
	"net/netip"
	"os"
	"testing"
	"time"
)

// UDPClient is a UDP peer talking to a single relay address.
type UDPClient struct {
	conn *net.UDPConn
	t    *testing.T
}

// NewUDPClient opens a UDP socket connected to addr.
//
// Precondition: addr must be a valid "host:port" string with a listening relay.
// Postcondition: Returns a connected UDPClient or fails the test. The socket
// is closed when the test ends.
func NewUDPClient(t *testing.T, addr string) *UDPClient {
	t.Helper()

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		t.Fatalf("resolving %s: %v", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		t.Fatalf("dialing %s: %v", addr, err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return &UDPClient{conn: conn, t: t}
}

// LocalAddr returns the client's own endpoint as the relay sees it.
func (c *UDPClient) LocalAddr() netip.AddrPort {
	ap := c.conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// Send writes payload as a single datagram.
func (c *UDPClient) Send(payload string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write([]byte(payload)); err != nil {
		c.t.Fatalf("sending %q: %v", payload, err)
	}
}

// Receive waits up to timeout for the next datagram and returns its payload.
//
// Postcondition: Returns the payload, or fails the test on timeout.
func (c *UDPClient) Receive(timeout time.Duration) string {
	c.t.Helper()
	payload, err := c.read(timeout)
	if err != nil {
		c.t.Fatalf("receiving datagram: %v", err)
	}
	return payload
}

// ExpectNone fails the test if any datagram arrives within wait.
func (c *UDPClient) ExpectNone(wait time.Duration) {
	c.t.Helper()
	payload, err := c.read(wait)
	if err == nil {
		c.t.Fatalf("expected no datagram, got %q", payload)
	}
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		c.t.Fatalf("waiting for silence: %v", err)
	}
}

func (c *UDPClient) read(timeout time.Duration) (string, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 64<<10)
	n, err := c.conn.Read(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}
