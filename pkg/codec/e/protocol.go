// Package e implements the 'e' protocol (spec §4.2.4): "identical framing
// philosophy to 't' but with a slightly different header; treat as a
// variant, specify by analogy." Where 't' pads commands to a fixed
// 512-byte block and relies on a scan for the terminating NUL, 'e' tags
// every frame explicitly with a one-byte type so the receiver never has
// to guess which framing is in effect — useful on transports ('e' targets
// full-duplex pipes without 't's historical block-size assumption) where
// commands and file data may otherwise need external coordination.
package e

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/openuucp/gouucp/pkg/channel"
	"github.com/openuucp/gouucp/pkg/codec"
	"github.com/openuucp/gouucp/pkg/command"
)

const (
	frameCommand byte = 0
	frameData    byte = 1
)

// defaultReadTimeout matches spec §5's 't'/'f' default of 120 s, since
// 'e' shares 't's reliability assumptions.
const defaultReadTimeout = 120 * time.Second

type Config struct {
	SegSize int
}

func DefaultConfig() Config {
	return Config{SegSize: 60 * 1024}
}

// Protocol implements codec.Protocol for 'e'. Every frame is <type byte>
// <4-byte big-endian length> <length bytes>; a zero-length frameData
// frame is end-of-file, matching 't's convention.
type Protocol struct {
	ch   channel.Channel
	disp codec.Dispatcher
	cfg  Config
}

var _ codec.Protocol = (*Protocol)(nil)

func New(ch channel.Channel, disp codec.Dispatcher, cfg Config) *Protocol {
	return &Protocol{ch: ch, disp: disp, cfg: cfg}
}

func (p *Protocol) Letter() codec.Letter { return codec.LetterE }

func (p *Protocol) Capabilities() codec.Capabilities {
	return codec.Capabilities{
		FullDuplex:        true,
		MultiChannelCount: 1,
		ReliabilityClass:  codec.ReliabilityEndToEnd,
	}
}

func (p *Protocol) Start(ctx context.Context, isMaster bool) error { return nil }
func (p *Protocol) Shutdown(ctx context.Context) error             { return nil }

func (p *Protocol) writeFrame(kind byte, payload []byte) error {
	hdr := make([]byte, 5)
	hdr[0] = kind
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if err := p.ch.Write(hdr); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	return p.ch.Write(payload)
}

// SendCmd sends a command frame with no padding requirement — the
// explicit length prefix makes 't's block-padding unnecessary.
func (p *Protocol) SendCmd(ctx context.Context, text string) error {
	return p.writeFrame(frameCommand, append([]byte(text), 0))
}

func (p *Protocol) GetSpace() []byte {
	return make([]byte, p.cfg.SegSize)
}

func (p *Protocol) SendData(ctx context.Context, buf []byte, localChan, remoteChan uint8, filePos int64) error {
	return p.writeFrame(frameData, buf)
}

func (p *Protocol) File(ctx context.Context, xfer *command.Transfer, isStart, isSend bool, size int64) (bool, error) {
	return false, nil
}

func (p *Protocol) ErrorCount() int { return 0 }

// Wait reads one frame and, for a command frame, strips the terminating
// NUL and delivers it; for a data frame it delivers the payload directly
// (including the zero-length EOF marker).
func (p *Protocol) Wait(ctx context.Context) (codec.WaitResult, error) {
	var hdr [5]byte
	if _, _, err := readFull(p.ch, hdr[:]); err != nil {
		return codec.WaitIdle, err
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	var payload []byte
	if n > 0 {
		payload = make([]byte, n)
		if _, _, err := readFull(p.ch, payload); err != nil {
			return codec.WaitIdle, err
		}
	}

	switch hdr[0] {
	case frameCommand:
		if len(payload) > 0 && payload[len(payload)-1] == 0 {
			payload = payload[:len(payload)-1]
		}
		if err := p.disp.Deliver(0, payload); err != nil {
			return codec.WaitIdle, err
		}
		return codec.WaitCommand, nil
	case frameData:
		if err := p.disp.Deliver(0, payload); err != nil {
			return codec.WaitIdle, err
		}
		if len(payload) == 0 {
			return codec.WaitFileProgress, nil
		}
		return codec.WaitFileProgress, nil
	default:
		return codec.WaitIdle, fmt.Errorf("e: unknown frame type %#x", hdr[0])
	}
}

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
