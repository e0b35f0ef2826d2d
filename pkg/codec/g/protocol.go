package g

import (
	"bytes"
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/openuucp/gouucp/internal/checksum"
	"github.com/openuucp/gouucp/pkg/channel"
	"github.com/openuucp/gouucp/pkg/codec"
	"github.com/openuucp/gouucp/pkg/command"
)

// Config holds the per-peer tunable parameters spec §6 leaves opaque to
// the core ("per-peer window and segment-size overrides, protocol
// parameter tables keyed by protocol letter").
type Config struct {
	Window       int // 1..7
	SegSizeCode  int // k, 1..8 -> segment size 2^(k+4)
	Timeout      time.Duration
	Retries      int
	StartRetries int
	ErrorCeiling int
	EagerAck     bool
}

// DefaultConfig matches the reference's out-of-the-box 'g' parameters
// (spec §4.2.1, §5).
func DefaultConfig() Config {
	return Config{
		Window:       3,
		SegSizeCode:  5, // 512-byte segments
		Timeout:      10 * time.Second,
		Retries:      6,
		StartRetries: 8,
		ErrorCeiling: 100,
	}
}

// Protocol implements codec.Protocol for the 'g' wire protocol.
type Protocol struct {
	ch   channel.Channel
	disp codec.Dispatcher
	cfg  Config

	scan *scanner
	send *sendWindow
	recv *recvWindow

	segSize int

	pendingCmd bytes.Buffer
	fatal      error
}

var _ codec.Protocol = (*Protocol)(nil)

// New wraps ch for the 'g' protocol, delivering every assembled payload,
// command bytes and file data alike, to disp (pkg/mux) on channel 0.
func New(ch channel.Channel, disp codec.Dispatcher, cfg Config) *Protocol {
	return &Protocol{
		ch:      ch,
		disp:    disp,
		cfg:     cfg,
		scan:    newScanner(ch),
		send:    newSendWindow(cfg.Window),
		recv:    newRecvWindow(cfg.Window),
		segSize: segmentSize(cfg.SegSizeCode),
	}
}

func (p *Protocol) Letter() codec.Letter { return codec.LetterG }

func (p *Protocol) Capabilities() codec.Capabilities {
	return codec.Capabilities{
		FullDuplex:        true,
		MultiChannelCount: 1,
		ReliabilityClass:  codec.ReliabilityNone,
	}
}

func (p *Protocol) ErrorCount() int { return p.recv.errorTotal() }

// Start runs the three-way INITA/INITB/INITC handshake described in spec
// §4.2.1. Both ends run the identical sequence; whichever emitted INITA
// first does not matter since each step waits for its own echo.
func (p *Protocol) Start(ctx context.Context, isMaster bool) error {
	log.Debugf("g: starting handshake (master=%v, window=%d, seg=%d)", isMaster, p.cfg.Window, p.segSize)

restart:
	if err := p.negotiate(ctx, ctlINITA, p.cfg.Window, ctlINITC); err != nil {
		return err
	}
	if err := p.negotiate(ctx, ctlINITB, p.cfg.SegSizeCode, ctlINITC); err == errRestart {
		goto restart
	} else if err != nil {
		return err
	}
	if err := p.negotiate(ctx, ctlINITC, p.cfg.Window, ctlINITA); err == errRestart {
		goto restart
	} else if err != nil {
		return err
	}
	log.Debug("g: handshake complete")
	return nil
}

var errRestart = fmt.Errorf("g: handshake restart requested")

// negotiate sends `subtype(param)` repeatedly (up to StartRetries times,
// each bounded by Timeout) until it sees the same subtype echoed back. If
// it instead sees restartOn, the caller must restart the whole handshake
// at INITA (spec: "if while sending INITB a peer INITC is seen... restart
// at INITA"; symmetric for INITC/INITA).
func (p *Protocol) negotiate(ctx context.Context, subtype controlSubtype, param int, restartOn controlSubtype) error {
	out := initPacket(subtype, param)
	for attempt := 0; attempt < p.cfg.StartRetries; attempt++ {
		if err := p.ch.Write(out); err != nil {
			return fmt.Errorf("g: handshake write: %w", err)
		}
		deadline := time.Now().Add(p.cfg.Timeout)
		for time.Now().Before(deadline) {
			pkt, err := p.scan.next(ctx, deadline)
			if err != nil {
				if err == ErrBadHeader {
					continue
				}
				return err
			}
			if pkt == nil {
				break // timeout, retry
			}
			if pkt.hdr.k != 9 {
				continue // not a control packet, ignore during handshake
			}
			tt, low := unpackControl(pkt.hdr.control)
			if tt != typeControl {
				continue
			}
			seen, seenParam := splitSubtype(low)
			if seen == subtype {
				_ = seenParam
				return nil
			}
			if seen == restartOn {
				return errRestart
			}
		}
	}
	return fmt.Errorf("g: handshake timed out waiting for %v", subtype)
}

// SendCmd pads text+NUL to the smallest packet size that fits it, per
// spec §4.3: "Commands that fit within one packet are padded to the
// smallest valid packet size >= strlen+1; longer commands occupy multiple
// packets, with only the last containing the terminating NUL."
func (p *Protocol) SendCmd(ctx context.Context, text string) error {
	payload := append([]byte(text), 0)
	for len(payload) > 0 {
		k := smallestSegCode(len(payload))
		segSize := segmentSize(k)
		chunk := payload
		if len(chunk) > segSize {
			chunk = payload[:segSize]
		}
		if err := p.sendChunk(ctx, chunk, segSize); err != nil {
			return err
		}
		payload = payload[len(chunk):]
	}
	return nil
}

// smallestSegCode returns the smallest k in 1..8 whose segment size is >=
// n, clamping to 8 for oversized commands (split across multiple
// packets by the caller loop).
func smallestSegCode(n int) int {
	for k := 1; k <= 8; k++ {
		if segmentSize(k) >= n {
			return k
		}
	}
	return 8
}

// sendChunk frames and transmits one DATA (or SHORTDATA) packet carrying
// chunk, blocking until the send window admits it.
func (p *Protocol) sendChunk(ctx context.Context, chunk []byte, segSize int) error {
	if err := p.waitForWindow(ctx); err != nil {
		return err
	}
	seq := p.send.assign()
	ack := p.recv.recvSeq

	var payload []byte
	var tt packetType
	if len(chunk) < segSize {
		payload = encodeShortData(chunk, segSize)
		tt = typeShortData
	} else {
		payload = chunk
		tt = typeData
	}
	control := packSeqAck(tt, seq, ack)
	dataCheck := checksum.Data(payload)
	hdr := encodeHeader(segCodeFor(segSize), control, dataCheck)
	framed := append(hdr, payload...)

	p.send.put(seq, framed, control, tt == typeShortData, len(hdr))
	return p.ch.Write(framed)
}

func segCodeFor(segSize int) int {
	for k := 1; k <= 8; k++ {
		if segmentSize(k) == segSize {
			return k
		}
	}
	return 8
}

// waitForWindow blocks, servicing inbound control traffic, until the send
// window has room.
func (p *Protocol) waitForWindow(ctx context.Context) error {
	for !p.send.canSend() {
		if _, err := p.serviceOne(ctx, p.cfg.Timeout); err != nil {
			return err
		}
	}
	return nil
}

// GetSpace returns a scratch buffer sized to the current segment.
func (p *Protocol) GetSpace() []byte {
	return make([]byte, p.segSize)
}

// SendData frames and transmits one file-data payload. len(buf)==0 is the
// end-of-file marker (a zero-length SHORTDATA segment).
func (p *Protocol) SendData(ctx context.Context, buf []byte, localChan, remoteChan uint8, filePos int64) error {
	return p.sendChunk(ctx, buf, p.segSize)
}

// Shutdown emits CLOSE and stops servicing the channel.
func (p *Protocol) Shutdown(ctx context.Context) error {
	return p.ch.Write(controlPacket(ctlClose, 0))
}

// Wait services one round of inbound traffic and reports why it returned.
func (p *Protocol) Wait(ctx context.Context) (codec.WaitResult, error) {
	return p.serviceOne(ctx, p.cfg.Timeout)
}

// File implements the per-file hook; 'g' needs no size negotiation or
// checksum reset, so it never claims the transfer.
func (p *Protocol) File(ctx context.Context, xfer *command.Transfer, isStart, isSend bool, bytes int64) (bool, error) {
	return false, nil
}

// serviceOne reads and dispatches exactly one inbound packet (or handles
// one timeout), implementing spec §4.2.1's receive rules including the
// error ceiling.
func (p *Protocol) serviceOne(ctx context.Context, timeout time.Duration) (codec.WaitResult, error) {
	deadline := time.Now().Add(timeout)
	pkt, err := p.scan.next(ctx, deadline)
	if err == ErrBadHeader {
		p.recv.noteBadHeader()
		if p.recv.errorTotal() > p.cfg.ErrorCeiling {
			return codec.WaitIdle, fmt.Errorf("g: error ceiling exceeded (%d)", p.recv.errorTotal())
		}
		return codec.WaitIdle, nil
	}
	if err != nil {
		return codec.WaitIdle, err
	}
	if pkt == nil {
		return codec.WaitIdle, nil
	}

	if pkt.hdr.k == 9 {
		return p.handleControl(pkt)
	}
	return p.handleData(pkt)
}

func (p *Protocol) handleControl(pkt *packet) (codec.WaitResult, error) {
	tt, low := unpackControl(pkt.hdr.control)
	if tt == typeAltChan {
		return codec.WaitIdle, ErrAltChan
	}
	subtype, param := splitSubtype(low)
	switch subtype {
	case ctlRR:
		p.send.ackThrough(param)
		return codec.WaitIdle, nil
	case ctlRJ:
		p.recv.noteRemoteReject()
		resend := p.send.reject(param)
		if err := p.retransmit(resend); err != nil {
			return codec.WaitIdle, err
		}
		if p.recv.errorTotal() > p.cfg.ErrorCeiling {
			return codec.WaitIdle, fmt.Errorf("g: error ceiling exceeded (%d)", p.recv.errorTotal())
		}
		return codec.WaitIdle, nil
	case ctlSRJ:
		if err := p.retransmit(param); err != nil {
			return codec.WaitIdle, err
		}
		return codec.WaitIdle, nil
	case ctlClose:
		return codec.WaitFileProgress, nil
	default:
		return codec.WaitIdle, nil
	}
}

// retransmit re-sends the packet stored in slot seq (and the one
// immediately after, per spec §4.2.1: "advance remote_ack to n; if n ==
// retransmit_seq, re-send the next slot and the one after") after
// patching in the current receive ack.
func (p *Protocol) retransmit(seq int) error {
	s, ok := p.send.get(seq)
	if !ok {
		return nil
	}
	ugadjustAck(s.framed, p.recv.recvSeq)
	if err := p.ch.Write(s.framed); err != nil {
		return err
	}
	next, ok := p.send.get((seq + 1) % 8)
	if ok {
		ugadjustAck(next.framed, p.recv.recvSeq)
		return p.ch.Write(next.framed)
	}
	return nil
}

func (p *Protocol) handleData(pkt *packet) (codec.WaitResult, error) {
	tt, low := unpackControl(pkt.hdr.control)
	seq, ack := low>>3&0x7, low&0x7
	// Data packets piggyback the sender's ack in yyy (spec §4.2.1: "acks
	// are piggybacked via the yyy field instead").
	p.send.ackThrough(ack)

	if !checksum.VerifyData(pkt.payload, pkt.hdr.control, pkt.hdr.check) {
		p.recv.noteBadChecksum()
		if seq == (p.recv.recvSeq+1)%8 {
			if err := p.emitPendingRRs(); err != nil {
				return codec.WaitIdle, err
			}
			if err := p.ch.Write(controlPacket(ctlRJ, p.recv.recvSeq)); err != nil {
				return codec.WaitIdle, err
			}
		}
		if p.recv.errorTotal() > p.cfg.ErrorCeiling {
			return codec.WaitIdle, fmt.Errorf("g: error ceiling exceeded (%d)", p.recv.errorTotal())
		}
		return codec.WaitIdle, nil
	}

	if seq != p.recv.recvSeq {
		// Unexpected sequence on an otherwise valid packet: drop, a
		// following timeout will RJ (spec §4.2.1 "Receive").
		return codec.WaitIdle, nil
	}

	p.recv.advance()

	payload := pkt.payload
	if tt == typeShortData {
		var err error
		payload, err = decodeShortData(pkt.payload)
		if err != nil {
			return codec.WaitIdle, nil
		}
	}

	if len(payload) == 0 {
		if err := p.disp.Deliver(0, nil); err != nil {
			return codec.WaitIdle, err
		}
		if p.cfg.EagerAck {
			if err := p.ch.Write(controlPacket(ctlRR, p.recv.recvSeq)); err != nil {
				return codec.WaitIdle, err
			}
		}
		return codec.WaitFileProgress, nil
	}

	if err := p.deliverOrAccumulate(payload); err != nil {
		return codec.WaitIdle, err
	}

	if p.cfg.EagerAck {
		if err := p.ch.Write(controlPacket(ctlRR, p.recv.recvSeq)); err != nil {
			return codec.WaitIdle, err
		}
	}
	return codec.WaitCommand, nil
}

// deliverOrAccumulate hands a decoded payload to the multiplexer; command
// accumulation (stopping at the first NUL) is the multiplexer's job per
// spec §4.4, so this just forwards bytes.
func (p *Protocol) deliverOrAccumulate(payload []byte) error {
	return p.disp.Deliver(0, payload)
}

// emitPendingRRs acks everything already accepted before sending an RJ, so
// the sender does not needlessly resend packets we already have.
func (p *Protocol) emitPendingRRs() error {
	return p.ch.Write(controlPacket(ctlRR, p.recv.recvSeq))
}

