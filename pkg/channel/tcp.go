package channel

import (
	"fmt"
	"net"
	"time"

	"github.com/higebu/netfd"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// TCPChannel carries a UUCP session over a TCP tunnel (the common modern
// case — `uucico` invoked at the far end of an ssh/nc pipe). It is full
// duplex, so the link layer is free to use any protocol's multi-channel
// count.
type TCPChannel struct {
	base
	conn net.Conn
	fd   int // -1 if unavailable (e.g. the conn is not a *net.TCPConn)
}

// DialTCP connects to addr and wraps the resulting connection.
func DialTCP(addr string, timeout time.Duration) (*TCPChannel, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("channel: dial %s: %w", addr, err)
	}
	return NewTCPChannel(conn), nil
}

// NewTCPChannel wraps an already-established connection, e.g. one accepted
// by a listener in the callee role.
func NewTCPChannel(conn net.Conn) *TCPChannel {
	c := &TCPChannel{conn: conn, fd: -1}
	c.base = newBase(c, false)
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
		c.fd = netfd.GetFdFromConn(conn)
	}
	return c
}

func (c *TCPChannel) readInto(p []byte, deadline time.Time) (int, error) {
	c.conn.SetReadDeadline(deadline)
	return c.conn.Read(p)
}

func (c *TCPChannel) writeOut(p []byte) error {
	_, err := c.conn.Write(p)
	return err
}

// Break is not meaningful over a TCP tunnel; report the attempt but do not
// fail the session over it.
func (c *TCPChannel) Break() error {
	log.Debug("channel: BREAK requested on a TCP channel, ignoring")
	return nil
}

func (c *TCPChannel) Close() error {
	c.markClosed()
	return c.conn.Close()
}

// TCPInfo samples the kernel's tcp_info for the underlying socket — round
// trip time and retransmit counters. Protocol election (pkg/session) does
// not consult it, and nothing else in the module calls it. Returns false
// if the fd is unavailable or the platform does not support TCP_INFO.
func (c *TCPChannel) TCPInfo() (rttMicros uint32, retransmits uint32, ok bool) {
	if c.fd < 0 {
		return 0, 0, false
	}
	info, err := unix.GetsockoptTCPInfo(c.fd, unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return 0, 0, false
	}
	return info.Rtt, uint32(info.Retransmits), true
}
