// Package codec defines the link-protocol vtable (spec §4.3) that each
// wire protocol ('g', 't', 'f', 'e' — spec §4.2) implements, and the shared
// capability/result types the transfer manager and session dialogue use to
// pick among them.
package codec

import (
	"context"

	"github.com/openuucp/gouucp/pkg/command"
)

// ReliabilityClass ranks how much a protocol depends on the underlying
// channel already being reliable (spec §4.3).
type ReliabilityClass int

const (
	// ReliabilityNone assumes nothing about the channel; the protocol
	// supplies its own checksums, retransmission and flow control ('g').
	ReliabilityNone ReliabilityClass = iota
	// ReliabilityLink assumes the channel delivers bytes in order but
	// may lose or corrupt them and is not 8-bit clean; the protocol adds
	// a whole-file checksum and byte-stuffing ('f').
	ReliabilityLink
	// ReliabilityEightBitClean assumes in-order, uncorrupted delivery of
	// arbitrary bytes but no end-to-end guarantee beyond the link. No
	// protocol in this module declares it; pkg/config maps a link's
	// eight-bit flag onto it.
	ReliabilityEightBitClean
	// ReliabilityEndToEnd assumes a fully reliable transport, e.g. TCP
	// ('t').
	ReliabilityEndToEnd
)

// Capabilities describes what a Protocol implementation can do; the
// session dialogue (spec §4.6) and transfer manager (spec §4.5) consult
// these during protocol election and channel allocation.
type Capabilities struct {
	FullDuplex        bool
	MultiChannelCount int
	ReliabilityClass  ReliabilityClass
}

// Letter identifies one of the four protocol letters a session can elect.
type Letter byte

const (
	LetterG Letter = 'g'
	LetterT Letter = 't'
	LetterF Letter = 'f'
	LetterE Letter = 'e'
)

// WaitResult tells the transfer manager why Wait returned control.
type WaitResult int

const (
	// WaitCommand indicates a command was fully accumulated and
	// dispatched to the framing multiplexer.
	WaitCommand WaitResult = iota
	// WaitFileProgress indicates an in-flight file transfer advanced a
	// state (e.g. completed, or an ack/reject changed its queue).
	WaitFileProgress
	// WaitIdle indicates nothing actionable happened before an internal
	// poll interval elapsed; the manager should call Wait again.
	WaitIdle
)

// Protocol is the per-protocol vtable of spec §4.3: start/shutdown,
// command and data transmission, the blocking receive-and-dispatch loop,
// and the per-file hook that lets 'g'/'t' negotiate size/restart and 'f'
// reset its whole-file checksum.
type Protocol interface {
	Letter() Letter
	Capabilities() Capabilities

	// Start runs the protocol's initialization handshake.
	Start(ctx context.Context, isMaster bool) error
	// Shutdown emits the protocol's close sequence and flushes
	// statistics.
	Shutdown(ctx context.Context) error

	// SendCmd delivers a null-terminated command, padded per spec
	// §4.3's packet-size rules.
	SendCmd(ctx context.Context, text string) error

	// GetSpace returns a writable buffer sized to the current segment;
	// callers fill it and pass it to SendData.
	GetSpace() []byte
	// SendData transmits one data payload on the given logical channel
	// pair; len(buf) == 0 signals end-of-file.
	SendData(ctx context.Context, buf []byte, localChan, remoteChan uint8, filePos int64) error

	// Wait blocks receiving and dispatching inbound packets until a
	// command is fully assembled or a file transfer completes a state
	// transition that should return control to the scheduler.
	Wait(ctx context.Context) (WaitResult, error)

	// File is the per-file hook: checksum reset for 'f', size
	// negotiation for 'g'/'t', restart decisions. If handled is true the
	// protocol has arranged its own next step and the caller should not
	// queue the transfer itself.
	File(ctx context.Context, xfer *command.Transfer, isStart, isSend bool, bytes int64) (handled bool, err error)

	// ErrorCount reports the running tally of decode errors counted
	// against the per-protocol ceiling (spec §4.2.1); protocols with no
	// such ceiling (t, f, e) return 0.
	ErrorCount() int
}

// Dispatcher is implemented by the framing multiplexer (pkg/mux); a
// Protocol delivers decoded payload bytes to it as they arrive, rather
// than deciding for itself where they go (spec §4.4).
type Dispatcher interface {
	// Deliver routes one payload to the multiplexer. channel is the
	// protocol-tagged logical channel id, or 0 if the protocol has no
	// explicit channel tagging (g, t, f all have MultiChannelCount==1).
	Deliver(channel uint8, payload []byte) error
}
