//go:build linux

package channel

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// SerialChannel is a raw-mode serial line — modem or direct cable — put
// into 8-bit-clean, non-canonical mode the way the reference's port layer
// does before handing the fd to the protocol stack.
type SerialChannel struct {
	base
	f  *os.File
	fd int
}

// OpenSerial opens device at the given baud rate (one of the unix.B*
// constants) and configures it for 8-bit-clean raw I/O.
func OpenSerial(device string, baud uint32) (*SerialChannel, error) {
	f, err := os.OpenFile(device, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("channel: open %s: %w", device, err)
	}
	fd := int(f.Fd())

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("channel: get termios on %s: %w", device, err)
	}
	cfmakeraw(t)
	t.Cflag |= unix.CLOCAL | unix.CREAD
	t.Cflag &^= unix.CSIZE
	t.Cflag |= unix.CS8
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		f.Close()
		return nil, fmt.Errorf("channel: set termios on %s: %w", device, err)
	}
	if err := setSpeed(fd, baud); err != nil {
		f.Close()
		return nil, err
	}

	c := &SerialChannel{f: f, fd: fd}
	c.base = newBase(c, false)
	return c, nil
}

// cfmakeraw mirrors glibc's cfmakeraw(3): disable all line-discipline
// processing so the channel is 8-bit clean.
func cfmakeraw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
}

func setSpeed(fd int, baud uint32) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Ispeed = baud
	t.Ospeed = baud
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}

func (c *SerialChannel) readInto(p []byte, deadline time.Time) (int, error) {
	// VTIME/VMIN governs intra-read blocking on a raw tty; emulate the
	// ReadTimeout deadline with a poll so the same base machinery as the
	// TCP/pipe channels can be reused.
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 0, timeoutErr{}
	}
	pfd := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, int(remaining.Milliseconds()))
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, timeoutErr{}
	}
	return c.f.Read(p)
}

func (c *SerialChannel) writeOut(p []byte) error {
	_, err := c.f.Write(p)
	return err
}

// Break emits a line BREAK condition for the configured duration, spec
// §4.1's Channel.Break.
func (c *SerialChannel) Break() error {
	return unix.IoctlSetInt(c.fd, unix.TCSBRKP, 0)
}

func (c *SerialChannel) Close() error {
	c.markClosed()
	return c.f.Close()
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "channel: read timeout" }
func (timeoutErr) Timeout() bool { return true }
