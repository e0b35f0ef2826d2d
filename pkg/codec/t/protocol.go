// Package t implements the 't' protocol (spec §4.2.2): no checksum, no
// retransmission, for use over a transport already known to be end-to-end
// reliable and 8-bit clean (a TCP tunnel being the common case).
package t

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/openuucp/gouucp/pkg/channel"
	"github.com/openuucp/gouucp/pkg/codec"
	"github.com/openuucp/gouucp/pkg/command"
)

// commandBlockSize is the NUL-padding multiple for command frames (spec
// §4.2.2: "padded to a 512-byte multiple with NULs").
const commandBlockSize = 512

// defaultReadTimeout matches spec §5's 't'/'f' default of 120 s.
const defaultReadTimeout = 120 * time.Second

// Config holds 't' protocol tunables; it has none specific to the wire
// format itself, only SegSize, the size of GetSpace's buffer. The read
// timeout is not configurable: readFull always uses defaultReadTimeout.
type Config struct {
	SegSize int
}

// DefaultConfig picks a generous in-memory buffer; 't' has no negotiated
// segment size, so this only bounds GetSpace's scratch buffer.
func DefaultConfig() Config {
	return Config{SegSize: 60 * 1024}
}

// Protocol implements codec.Protocol for 't'.
type Protocol struct {
	ch   channel.Channel
	disp codec.Dispatcher
	cfg  Config

	// recvBuf is not read or written anywhere: Wait reads each
	// commandBlockSize-byte block whole, so no partial command bytes are
	// carried from one call to the next.
	recvBuf []byte
}

var _ codec.Protocol = (*Protocol)(nil)

func New(ch channel.Channel, disp codec.Dispatcher, cfg Config) *Protocol {
	return &Protocol{ch: ch, disp: disp, cfg: cfg}
}

func (p *Protocol) Letter() codec.Letter { return codec.LetterT }

func (p *Protocol) Capabilities() codec.Capabilities {
	return codec.Capabilities{
		FullDuplex:        true,
		MultiChannelCount: 1,
		ReliabilityClass:  codec.ReliabilityEndToEnd,
	}
}

// Start has no handshake; the underlying transport already guarantees
// in-order, uncorrupted delivery.
func (p *Protocol) Start(ctx context.Context, isMaster bool) error { return nil }

func (p *Protocol) Shutdown(ctx context.Context) error { return nil }

// SendCmd pads text+NUL up to the next commandBlockSize boundary.
func (p *Protocol) SendCmd(ctx context.Context, text string) error {
	payload := append([]byte(text), 0)
	padded := make([]byte, roundUp(len(payload), commandBlockSize))
	copy(padded, payload)
	return p.ch.Write(padded)
}

func roundUp(n, multiple int) int {
	if n%multiple == 0 && n != 0 {
		return n
	}
	return (n/multiple + 1) * multiple
}

func (p *Protocol) GetSpace() []byte {
	return make([]byte, p.cfg.SegSize)
}

// SendData frames buf as a 4-byte big-endian length followed by the bytes
// themselves; a zero-length buf is the end-of-file marker.
func (p *Protocol) SendData(ctx context.Context, buf []byte, localChan, remoteChan uint8, filePos int64) error {
	var lenHdr [4]byte
	binary.BigEndian.PutUint32(lenHdr[:], uint32(len(buf)))
	if err := p.ch.Write(lenHdr[:]); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	return p.ch.Write(buf)
}

func (p *Protocol) File(ctx context.Context, xfer *command.Transfer, isStart, isSend bool, bytes int64) (bool, error) {
	return false, nil
}

func (p *Protocol) ErrorCount() int { return 0 }

// Wait reads one commandBlockSize-byte command block and delivers the
// bytes before its first NUL, followed by a single NUL, to disp on
// channel 0.
//
// Because 't' carries no type tag distinguishing "this is a command
// block" from "this is a length-prefixed file frame", Wait always applies
// command framing: it never reads a length-prefixed file frame, even
// while a receive transfer is open. ReadFileFrame reads those frames.
func (p *Protocol) Wait(ctx context.Context) (codec.WaitResult, error) {
	block := make([]byte, commandBlockSize)
	n, status, err := readFull(p.ch, block)
	if err != nil {
		return codec.WaitIdle, err
	}
	if status != channel.StatusOK {
		return codec.WaitIdle, nil
	}
	if n < commandBlockSize {
		return codec.WaitIdle, fmt.Errorf("t: short command block (%d bytes)", n)
	}
	nul := indexByte(block, 0)
	if nul < 0 {
		return codec.WaitIdle, fmt.Errorf("t: command block missing terminating NUL")
	}
	if err := p.disp.Deliver(0, block[:nul]); err != nil {
		return codec.WaitIdle, err
	}
	if err := p.disp.Deliver(0, []byte{0}); err != nil {
		return codec.WaitIdle, err
	}
	return codec.WaitCommand, nil
}

// ReadFileFrame reads one length-prefixed file frame, returning an empty,
// non-nil slice for the end-of-file marker. Wait never calls it, since 't'
// has no in-band tag to multiplex on, and outside this package's tests
// nothing in the module calls it either.
func (p *Protocol) ReadFileFrame() ([]byte, error) {
	var lenHdr [4]byte
	if _, _, err := readFull(p.ch, lenHdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenHdr[:])
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if _, _, err := readFull(p.ch, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func indexByte(b []byte, target byte) int {
	for i, c := range b {
		if c == target {
			return i
		}
	}
	return -1
}

// readFull blocks (with the channel's own large timeout) until exactly
// len(buf) bytes have arrived.
func readFull(ch channel.Channel, buf []byte) (int, channel.Status, error) {
	got := 0
	for got < len(buf) {
		n, status, err := ch.ReadTimeout(buf[got:], defaultReadTimeout)
		if err != nil {
			return got, status, err
		}
		if status != channel.StatusOK {
			return got, status, nil
		}
		got += n
	}
	return got, channel.StatusOK, nil
}
