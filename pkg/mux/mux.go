// Package mux implements the framing multiplexer (spec §4.4): it sits
// between a pkg/codec.Protocol and the transfer manager, routing each
// decoded payload either to an open receive transfer's file, or into the
// pending-command accumulator, and dispatching complete command lines.
package mux

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/openuucp/gouucp/pkg/command"
	"github.com/openuucp/gouucp/pkg/uucplog"
)

// ErrShortWrite is returned when a receive transfer's file accepts fewer
// bytes than were delivered; spec §4.4 treats this as fatal, since the
// remote has no way to know the write was refused.
var ErrShortWrite = errors.New("mux: short write to receive file")

// Handlers is implemented by the transfer manager (pkg/manager) and
// supplies the business logic the multiplexer itself has no business
// knowing: how to create transfers, how to answer a hangup request, how
// a completed receive gets moved into the spool.
type Handlers interface {
	// AcceptSend handles a decoded S or E command: the peer wants to send
	// us a file (or a file-plus-execute-request).
	AcceptSend(cmd command.Command) error
	// AcceptReceive handles a decoded R command: the peer wants to pull a
	// file from us.
	AcceptReceive(cmd command.Command) error
	// AcceptWildcard handles a decoded X command and reports how many
	// files the wildcard expanded to, for mux's debug-level log line
	// (Taylor UUCP's trans.c logs this count; spec.md's distillation
	// keeps the XY/XN shape but drops the count log).
	AcceptWildcard(cmd command.Command) (expanded int, err error)
	// HangupRequested handles a bare H: the peer wants to end the
	// session (spec.md §4's master/slave switching).
	HangupRequested() error
	// HangupReply handles HY (ok=true) or HN (ok=false): the peer's
	// answer to an H we sent.
	HangupReply(ok bool) error
	// HangupFinal handles a bare Y (ok=true) or N (ok=false) closing out
	// the hangup exchange.
	HangupFinal(ok bool) error
	// TransferReply handles a decoded SY/SN/RY/RN/XY/XN/CY/CN reply to a
	// command we sent.
	TransferReply(reply command.Reply) error
	// ReceiveComplete is invoked when a zero-length payload closes out an
	// open receive transfer (spec.md §4.4 step 4): move the temp file to
	// its final spool name and emit CY/CN5.
	ReceiveComplete(xfer *command.Transfer) error
}

// Multiplexer is the codec.Dispatcher the link protocol writes decoded
// payloads into.
type Multiplexer struct {
	mu sync.Mutex

	byChannel     map[uint8]*command.Transfer
	activeReceive *command.Transfer // channel-0 fallback sink, spec.md step 1's "or else" case
	accum         bytes.Buffer

	handlers Handlers
	log      *uucplog.Logger
}

// New returns a Multiplexer dispatching to handlers. log may be nil.
func New(handlers Handlers, log *uucplog.Logger) *Multiplexer {
	return &Multiplexer{
		byChannel: make(map[uint8]*command.Transfer),
		handlers:  handlers,
		log:       log,
	}
}

// Register binds an explicit logical channel id to xfer, for protocols
// that tag payloads with a channel (spec.md step 1's first case). None of
// this module's four codecs currently emit a nonzero channel — they are
// all single-channel — so this path exists for forward compatibility and
// is exercised only by tests.
func (m *Multiplexer) Register(ch uint8, xfer *command.Transfer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byChannel[ch] = xfer
}

// Unregister removes ch's binding, e.g. once its transfer completes.
func (m *Multiplexer) Unregister(ch uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byChannel, ch)
}

// SetActiveReceive designates xfer as the sink for channel-0 payloads
// that are not command bytes — the open receive transfer currently
// expecting file data.
func (m *Multiplexer) SetActiveReceive(xfer *command.Transfer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeReceive = xfer
}

// ClearActiveReceive detaches whatever transfer SetActiveReceive last
// installed, once it completes or aborts.
func (m *Multiplexer) ClearActiveReceive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeReceive = nil
}

// Deliver implements codec.Dispatcher. It is the single entry point every
// link protocol calls with each decoded payload.
func (m *Multiplexer) Deliver(ch uint8, payload []byte) error {
	xfer := m.route(ch)
	if xfer != nil {
		return m.deliverFile(xfer, payload)
	}
	return m.accumulate(payload)
}

func (m *Multiplexer) route(ch uint8) *command.Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch != 0 {
		return m.byChannel[ch]
	}
	return m.activeReceive
}

// deliverFile implements spec.md step 3/4: write to the receive file, or
// on a zero-length payload, close out the transfer.
func (m *Multiplexer) deliverFile(xfer *command.Transfer, payload []byte) error {
	if len(payload) == 0 {
		return m.handlers.ReceiveComplete(xfer)
	}
	n, err := xfer.File.Write(payload)
	if err != nil {
		return fmt.Errorf("mux: write to receive file: %w", err)
	}
	if n != len(payload) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(payload))
	}
	xfer.Pos += int64(n)
	return nil
}

// accumulate implements spec.md step 2: buffer bytes up to and including
// the first NUL, then dispatch the completed line. A single Deliver call
// may carry more than one NUL-terminated line.
func (m *Multiplexer) accumulate(payload []byte) error {
	for _, b := range payload {
		m.mu.Lock()
		if b != 0 {
			m.accum.WriteByte(b)
			m.mu.Unlock()
			continue
		}
		line := m.accum.String()
		m.accum.Reset()
		m.mu.Unlock()

		if err := m.dispatchLine(line); err != nil {
			return err
		}
	}
	return nil
}

func (m *Multiplexer) dispatchLine(line string) error {
	if cmd, err := command.Parse(line); err == nil {
		return m.dispatchCommand(cmd)
	}
	if reply, err := command.ParseReply(line); err == nil {
		return m.handlers.TransferReply(reply)
	}
	if m.log != nil {
		m.log.Error("mux: unparseable command line %q", line)
	}
	return nil
}

func (m *Multiplexer) dispatchCommand(cmd command.Command) error {
	switch cmd.Type {
	case command.Send, command.Execute:
		return m.handlers.AcceptSend(cmd)
	case command.Receive:
		return m.handlers.AcceptReceive(cmd)
	case command.Wildcard:
		n, err := m.handlers.AcceptWildcard(cmd)
		if err == nil && m.log != nil {
			m.log.Debug("wildcard %s -> %s expanded to %d file(s)", cmd.From, cmd.To, n)
		}
		return err
	case command.Hangup:
		if cmd.Notify == "" {
			return m.handlers.HangupRequested()
		}
		return m.handlers.HangupReply(cmd.Notify == "Y")
	case command.HangupConfirm:
		return m.handlers.HangupFinal(true)
	case command.HangupDeny:
		return m.handlers.HangupFinal(false)
	default:
		return fmt.Errorf("mux: unexpected command type %q", cmd.Type)
	}
}
