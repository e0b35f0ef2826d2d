package channel

import (
	"net"
	"time"
)

// PipeChannel wraps an in-memory net.Pipe connection. It backs the tests
// throughout this module and the CLI's loopback diagnostic mode; setting
// halfDuplex lets link-layer tests exercise the channel-count-1 behavior
// spec §4.1 requires of half-duplex transports without needing real serial
// hardware.
type PipeChannel struct {
	base
	conn net.Conn
}

// NewPipePair returns two connected PipeChannels, as if each were one side
// of a call.
func NewPipePair(halfDuplex bool) (a, b *PipeChannel) {
	ca, cb := net.Pipe()
	a = newPipeChannel(ca, halfDuplex)
	b = newPipeChannel(cb, halfDuplex)
	return a, b
}

func newPipeChannel(conn net.Conn, halfDuplex bool) *PipeChannel {
	c := &PipeChannel{conn: conn}
	c.base = newBase(c, halfDuplex)
	return c
}

func (c *PipeChannel) readInto(p []byte, deadline time.Time) (int, error) {
	c.conn.SetReadDeadline(deadline)
	return c.conn.Read(p)
}

func (c *PipeChannel) writeOut(p []byte) error {
	_, err := c.conn.Write(p)
	return err
}

func (c *PipeChannel) Break() error {
	return nil
}

func (c *PipeChannel) Close() error {
	c.markClosed()
	return c.conn.Close()
}
