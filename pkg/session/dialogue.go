// Package session implements the pre-protocol caller/callee handshake
// (spec §4.6): identity exchange over DLE/NUL-framed ASCII lines,
// protocol election, and the final "OOO..." hangup exchange.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openuucp/gouucp/pkg/channel"
	"github.com/openuucp/gouucp/pkg/codec"
	"github.com/openuucp/gouucp/pkg/config"
	"github.com/openuucp/gouucp/pkg/statusfile"
	"github.com/openuucp/gouucp/pkg/uucplog"
)

const dle = 0x10

const dialogueTimeout = 60 * time.Second
const hangupEchoTimeout = 5 * time.Second

// Caller sends 6 O's, callee sends 7 — the asymmetry spec §4.6 relies on
// so a genuine mismatch (rather than a coincidental echo) is the only
// thing that gets logged.
const callerHangupWord = "OOOOOO"
const calleeHangupWord = "OOOOOOO"

var (
	ErrHandshake  = errors.New("session: malformed handshake line")
	ErrRefused    = errors.New("session: peer refused the connection")
	ErrCallback   = errors.New("session: peer will call back")
	ErrNoProtocol = errors.New("session: no mutually supported protocol")
)

// Role distinguishes which side of the handshake this Dialogue plays.
type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

// Options bundles the per-peer dialogue parameters a config.System
// entry supplies.
type Options struct {
	Self            string
	Peer            string
	Ulimit          int
	DebugMask       string
	SequenceCheck   bool
	RoleRestriction config.RoleRestriction
	Protocols       []byte // preference order, highest first
	LinkReliability codec.ReliabilityClass

	// ResolvePeer lets a callee serving several systems on one port defer
	// choosing RoleRestriction/SequenceCheck/Protocols until the caller's
	// identity is known (Taylor UUCP looks the caller up by name before
	// deciding ROK/RCB/RLCK too). Answer calls it right after parsing the
	// S-line and, on a match, overrides these fields with the result
	// before making any accept/refuse decision. Callers that only ever
	// expect one system can leave this nil and rely on Options as given.
	ResolvePeer func(name string) (Options, bool)
}

// Dialogue runs one session's handshake over ch, electing one of
// protocols and handing control to its Start once chosen.
type Dialogue struct {
	ch        channel.Channel
	opts      Options
	seq       *statusfile.Store
	protocols map[codec.Letter]codec.Protocol
	log       *uucplog.Logger
}

// New builds a Dialogue. seq may be nil if Options.SequenceCheck is false.
func New(ch channel.Channel, opts Options, seq *statusfile.Store, protocols map[codec.Letter]codec.Protocol, log *uucplog.Logger) *Dialogue {
	return &Dialogue{ch: ch, opts: opts, seq: seq, protocols: protocols, log: log}
}

func (d *Dialogue) writeLine(text string) error {
	buf := make([]byte, 0, len(text)+2)
	buf = append(buf, dle)
	buf = append(buf, text...)
	buf = append(buf, 0)
	return d.ch.Write(buf)
}

func (d *Dialogue) readLine(timeout time.Duration) (string, error) {
	var buf bytes.Buffer
	sawDLE := false
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", fmt.Errorf("session: timed out waiting for a dialogue line")
		}
		b, status, err := d.ch.RecvByte(remaining)
		if err != nil {
			return "", fmt.Errorf("session: reading dialogue line: %w", err)
		}
		if status != channel.StatusOK {
			return "", fmt.Errorf("session: timed out waiting for a dialogue line")
		}
		if !sawDLE {
			if b == dle {
				sawDLE = true
			}
			continue
		}
		if b == 0 {
			return buf.String(), nil
		}
		buf.WriteByte(b)
	}
}

// Call runs the caller side of the handshake: expect Shere[=peer], send
// our S-line, read the accept/refuse reply, elect a protocol from the
// callee's P-line, and start it.
func (d *Dialogue) Call(ctx context.Context) (codec.Protocol, error) {
	greeting, err := d.readLine(dialogueTimeout)
	if err != nil {
		return nil, fmt.Errorf("session: waiting for greeting: %w", err)
	}
	if err := d.checkGreeting(greeting); err != nil {
		return nil, err
	}

	if err := d.writeLine(d.selfLine()); err != nil {
		return nil, fmt.Errorf("session: sending self line: %w", err)
	}

	reply, err := d.readLine(dialogueTimeout)
	if err != nil {
		return nil, fmt.Errorf("session: waiting for callee reply: %w", err)
	}
	if err := d.checkCalleeReply(reply); err != nil {
		return nil, err
	}

	protoLine, err := d.readLine(dialogueTimeout)
	if err != nil {
		return nil, fmt.Errorf("session: waiting for protocol list: %w", err)
	}
	offered, err := parseProtoList(protoLine)
	if err != nil {
		return nil, err
	}

	chosen := d.electProtocol(offered)
	if chosen == nil {
		_ = d.writeLine("UN")
		return nil, ErrNoProtocol
	}
	if err := d.writeLine(fmt.Sprintf("U%c", chosen.Letter())); err != nil {
		return nil, fmt.Errorf("session: sending protocol choice: %w", err)
	}
	if err := chosen.Start(ctx, true); err != nil {
		return nil, fmt.Errorf("session: starting protocol %c: %w", chosen.Letter(), err)
	}
	return chosen, nil
}

// Answer runs the callee side: send Shere[=self], read the caller's
// S-line, decide ROK/ROKN/R<reason>, offer our protocol list, read the
// caller's choice, and start it.
func (d *Dialogue) Answer(ctx context.Context) (codec.Protocol, error) {
	greeting := "Shere"
	if d.opts.Self != "" {
		greeting = "Shere=" + d.opts.Self
	}
	if err := d.writeLine(greeting); err != nil {
		return nil, fmt.Errorf("session: sending greeting: %w", err)
	}

	line, err := d.readLine(dialogueTimeout)
	if err != nil {
		return nil, fmt.Errorf("session: waiting for self line: %w", err)
	}
	caller, reqSeq, err := parseSelfLine(line)
	if err != nil {
		return nil, err
	}
	if d.opts.ResolvePeer != nil {
		if resolved, ok := d.opts.ResolvePeer(caller); ok {
			resolved.Self = d.opts.Self
			d.opts = resolved
		}
	}

	if d.opts.RoleRestriction == config.RoleCallerOnly {
		_ = d.writeLine("RLCK")
		return nil, fmt.Errorf("%w: %s may only call out", ErrRefused, caller)
	}

	if d.opts.SequenceCheck && d.seq != nil {
		expect, err := d.seq.NextSequence(caller)
		if err == nil && reqSeq >= 0 && reqSeq != expect {
			_ = d.writeLine("RBADSEQ")
			return nil, fmt.Errorf("%w: bad sequence from %s", ErrRefused, caller)
		}
	}

	if err := d.writeLine("ROKN"); err != nil {
		return nil, fmt.Errorf("session: sending accept: %w", err)
	}

	if err := d.writeLine("P" + string(d.opts.Protocols)); err != nil {
		return nil, fmt.Errorf("session: sending protocol list: %w", err)
	}

	reply, err := d.readLine(dialogueTimeout)
	if err != nil {
		return nil, fmt.Errorf("session: waiting for protocol choice: %w", err)
	}
	letter, err := parseUReply(reply)
	if err != nil {
		return nil, err
	}
	proto, ok := d.protocols[letter]
	if !ok {
		return nil, fmt.Errorf("%w: caller chose unsupported protocol %q", ErrNoProtocol, letter)
	}
	if err := proto.Start(ctx, false); err != nil {
		return nil, fmt.Errorf("session: starting protocol %c: %w", proto.Letter(), err)
	}
	return proto, nil
}

// Hangup runs the final O-exchange. debug controls whether the echo is
// read back at all; a mismatch is logged, never returned as an error,
// per spec §4.6 ("do not affect the exit status").
func (d *Dialogue) Hangup(role Role, debug bool) error {
	send, expect := callerHangupWord, calleeHangupWord
	if role == RoleCallee {
		send, expect = calleeHangupWord, callerHangupWord
	}

	for i := 0; i < 2; i++ {
		if err := d.ch.Write([]byte(send)); err != nil {
			return fmt.Errorf("session: sending hangup word: %w", err)
		}
	}
	if !debug {
		return nil
	}

	buf := make([]byte, len(expect))
	n, status, err := d.ch.ReadTimeout(buf, hangupEchoTimeout)
	got := string(buf[:n])
	if err != nil || status != channel.StatusOK || got != expect {
		if d.log != nil {
			d.log.Normal("hangup echo mismatch: got %q, want %q (status=%v err=%v)", got, expect, status, err)
		}
	}
	return nil
}

func (d *Dialogue) checkGreeting(line string) error {
	if line == "Shere" {
		return nil
	}
	rest, ok := strings.CutPrefix(line, "Shere=")
	if !ok {
		return fmt.Errorf("%w: unexpected greeting %q", ErrHandshake, line)
	}
	want, got := truncate7(d.opts.Peer), truncate7(rest)
	if want != got {
		return fmt.Errorf("%w: expected peer %q, got %q", ErrHandshake, want, got)
	}
	return nil
}

func truncate7(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}

func (d *Dialogue) selfLine() string {
	var b strings.Builder
	b.WriteString("S")
	b.WriteString(d.opts.Self)
	if d.opts.SequenceCheck && d.seq != nil {
		if n, err := d.seq.NextSequence(d.opts.Peer); err == nil {
			fmt.Fprintf(&b, " -Q%d", n)
		}
	}
	b.WriteString(" -N")
	if d.opts.RoleRestriction != config.RoleEither {
		b.WriteString(" -R")
	}
	if d.opts.Ulimit > 0 {
		fmt.Fprintf(&b, " -U%d", d.opts.Ulimit)
	}
	if d.opts.DebugMask != "" {
		fmt.Fprintf(&b, " -x%s", d.opts.DebugMask)
	}
	return b.String()
}

func (d *Dialogue) checkCalleeReply(reply string) error {
	switch {
	case reply == "ROK", reply == "ROKN":
		return nil
	case reply == "RCB":
		return ErrCallback
	case strings.HasPrefix(reply, "R"):
		return fmt.Errorf("%w: %s", ErrRefused, strings.TrimPrefix(reply, "R"))
	default:
		return fmt.Errorf("%w: unexpected reply %q", ErrHandshake, reply)
	}
}

func parseProtoList(line string) ([]byte, error) {
	rest, ok := strings.CutPrefix(line, "P")
	if !ok {
		return nil, fmt.Errorf("%w: expected protocol list, got %q", ErrHandshake, line)
	}
	return []byte(rest), nil
}

func parseSelfLine(line string) (name string, seq int, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0][0] != 'S' {
		return "", -1, fmt.Errorf("%w: expected S-line, got %q", ErrHandshake, line)
	}
	name = fields[0][1:]
	seq = -1
	for _, f := range fields[1:] {
		if n, ok := strings.CutPrefix(f, "-Q"); ok {
			if v, err := strconv.Atoi(n); err == nil {
				seq = v
			}
		}
	}
	return name, seq, nil
}

func parseUReply(line string) (codec.Letter, error) {
	if line == "UN" {
		return 0, ErrNoProtocol
	}
	if len(line) == 2 && line[0] == 'U' {
		return codec.Letter(line[1]), nil
	}
	return 0, fmt.Errorf("%w: bad protocol choice %q", ErrHandshake, line)
}

// electProtocol implements spec §4.6's preference rule: first match from
// our declared preference order, else the first mutually supported
// protocol whose reliability class the link can actually support.
func (d *Dialogue) electProtocol(offered []byte) codec.Protocol {
	offeredSet := make(map[byte]bool, len(offered))
	for _, l := range offered {
		offeredSet[l] = true
	}

	for _, l := range d.opts.Protocols {
		if !offeredSet[l] {
			continue
		}
		if p, ok := d.protocols[codec.Letter(l)]; ok {
			return p
		}
	}
	for _, l := range offered {
		p, ok := d.protocols[codec.Letter(l)]
		if !ok {
			continue
		}
		if p.Capabilities().ReliabilityClass <= d.opts.LinkReliability {
			return p
		}
	}
	return nil
}
