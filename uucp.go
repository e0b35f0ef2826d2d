// Package uucp ties the channel, codec, multiplexer, transfer manager and
// session dialogue packages into one Session value, mirroring the
// teacher's top-level Node/Network orchestration (canopen.go, network.go)
// generalized from a CANopen bus node to a UUCP conversation endpoint.
package uucp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openuucp/gouucp/pkg/channel"
	"github.com/openuucp/gouucp/pkg/codec"
	codece "github.com/openuucp/gouucp/pkg/codec/e"
	codecf "github.com/openuucp/gouucp/pkg/codec/f"
	codecg "github.com/openuucp/gouucp/pkg/codec/g"
	codect "github.com/openuucp/gouucp/pkg/codec/t"
	"github.com/openuucp/gouucp/pkg/config"
	"github.com/openuucp/gouucp/pkg/manager"
	"github.com/openuucp/gouucp/pkg/session"
	"github.com/openuucp/gouucp/pkg/spool"
	"github.com/openuucp/gouucp/pkg/statusfile"
	"github.com/openuucp/gouucp/pkg/uucplog"
)

// dialTimeout bounds opening the transport channel itself, before any
// dialogue traffic.
const dialTimeout = 30 * time.Second

// Session is one conversation with one remote system: a channel, an
// elected protocol, a transfer manager, and the signal/lock bookkeeping
// spec §5 requires around them.
type Session struct {
	system string
	log    *uucplog.Logger

	ch   channel.Channel
	lock *spool.Lock
	mgr  *manager.Manager

	dlg  *session.Dialogue
	role session.Role

	signal signalState
	cancel context.CancelFunc
}

// Endpoint bundles the registry lookups and collaborators a Session needs
// that have no business living on Session itself.
type Endpoint struct {
	// SelfName is this host's own uucp system name, sent in the S-line
	// (and offered as Shere=<name> on the callee side).
	SelfName string

	Registry *config.Registry
	Spool    spool.Spool
	Status   *statusfile.Store
	Log      *uucplog.Logger

	// LockDir overrides where per-system LCK files are created; empty
	// means "/var/spool/uucp".
	LockDir string
}

// Dial places an outbound call to system (caller role): opens the port's
// channel, runs the handshake, and returns a Session ready for Run.
func (e *Endpoint) Dial(ctx context.Context, systemName string) (*Session, error) {
	sys, ok := e.Registry.Systems[systemName]
	if !ok {
		return nil, fmt.Errorf("%w: unknown system %q", ErrConfigInvalid, systemName)
	}
	port, ok := e.Registry.Ports[sys.Port]
	if !ok {
		return nil, fmt.Errorf("%w: system %q references unknown port %q", ErrConfigInvalid, systemName, sys.Port)
	}

	ch, err := openChannel(port)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrChannel, err)
	}
	return e.callOverChannel(ctx, systemName, sys, ch)
}

// callOverChannel runs the caller-side handshake over an already-open
// channel, separated from Dial so tests can drive it over a
// channel.NewPipePair instead of a real transport.
func (e *Endpoint) callOverChannel(ctx context.Context, systemName string, sys config.System, ch channel.Channel) (*Session, error) {
	lock, err := spool.AcquireLock(e.lockPath(systemName))
	if err != nil {
		ch.Close()
		return nil, err
	}

	mgr := manager.New(manager.Config{
		Spool:     e.Spool,
		System:    systemName,
		IsMaster:  true,
		Timetable: sys.Timetable,
		Log:       e.Log,
	})

	protocols := buildProtocols(ch, mgr.Multiplexer(), sys.Protocols)
	opts := session.Options{
		Self:            e.SelfName,
		Peer:            systemName,
		SequenceCheck:   sys.SequenceCheck,
		RoleRestriction: sys.RoleRestriction,
		Protocols:       sys.Protocols,
		LinkReliability: sys.ReliabilityFlags.Capabilities().ReliabilityClass,
	}
	dlg := session.New(ch, opts, e.Status, protocols, e.Log)

	proto, err := dlg.Call(ctx)
	if err != nil {
		lock.Release()
		ch.Close()
		return nil, err
	}
	mgr.SetProtocol(proto)

	return newSession(systemName, ch, lock, mgr, dlg, session.RoleCaller, e.Log), nil
}

// Accept runs the callee side of one already-established connection:
// handshake, protocol election, and a ready-to-run Session. The caller's
// identity is not known until partway through the handshake, so
// Registry-backed systems are resolved lazily via session.Options.ResolvePeer.
func (e *Endpoint) Accept(ctx context.Context, ch channel.Channel, port config.Port) (*Session, error) {
	mgr := manager.New(manager.Config{
		Spool:    e.Spool,
		IsMaster: false,
		Log:      e.Log,
	})

	// Offer the union of every system's protocols reachable on this port
	// until the caller's identity narrows it via ResolvePeer.
	protocols := buildProtocols(ch, mgr.Multiplexer(), allProtocolLetters(e.Registry))
	opts := session.Options{
		Self:            e.SelfName,
		LinkReliability: port.ReliabilityFlags.Capabilities().ReliabilityClass,
		ResolvePeer:     e.resolvePeer,
	}
	dlg := session.New(ch, opts, e.Status, protocols, e.Log)

	proto, err := dlg.Answer(ctx)
	if err != nil {
		ch.Close()
		return nil, err
	}
	mgr.SetProtocol(proto)

	// The callee side takes no spool lock and leaves the Session's system
	// name empty: the caller's identity is resolved only inside Answer,
	// and a caller refused there never reaches this point.
	return newSession("", ch, nil, mgr, dlg, session.RoleCallee, e.Log), nil
}

func (e *Endpoint) resolvePeer(name string) (session.Options, bool) {
	sys, ok := e.Registry.Systems[name]
	if !ok {
		return session.Options{}, false
	}
	return session.Options{
		Peer:            name,
		SequenceCheck:   sys.SequenceCheck,
		RoleRestriction: sys.RoleRestriction,
		Protocols:       sys.Protocols,
		LinkReliability: sys.ReliabilityFlags.Capabilities().ReliabilityClass,
	}, true
}

func newSession(system string, ch channel.Channel, lock *spool.Lock, mgr *manager.Manager, dlg *session.Dialogue, role session.Role, log *uucplog.Logger) *Session {
	return &Session{system: system, log: log, ch: ch, lock: lock, mgr: mgr, dlg: dlg, role: role}
}

// Run drives the transfer manager's main loop until hangup, a fatal
// protocol error, or an abort signal, releasing the channel and spool
// lock on the way out.
func (s *Session) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	defer cancel()

	stop := s.watchSignals()
	defer stop()

	err := s.mgr.Run(ctx)

	if s.signalState() != signalAbort && (err == nil || errors.Is(err, manager.ErrHungUp)) {
		if shutdownErr := s.mgr.Shutdown(ctx); shutdownErr != nil && s.log != nil {
			s.log.Normal("protocol shutdown for %s: %v", s.system, shutdownErr)
		}
		if hangupErr := s.dlg.Hangup(s.role, true); hangupErr != nil && s.log != nil {
			s.log.Normal("hangup exchange for %s: %v", s.system, hangupErr)
		}
	}

	s.ch.Close()
	s.lock.Release()

	if s.signalState() == signalAbort {
		return fmt.Errorf("%w: %v", ErrSignalAbort, err)
	}
	if errors.Is(err, manager.ErrHungUp) {
		return nil
	}
	return err
}

func openChannel(port config.Port) (channel.Channel, error) {
	switch port.Kind {
	case "tcp":
		return channel.DialTCP(port.Device, dialTimeout)
	case "serial":
		return channel.OpenSerial(port.Device, uint32(port.Speed))
	default:
		return nil, fmt.Errorf("unsupported port kind %q", port.Kind)
	}
}

func (e *Endpoint) lockPath(system string) string {
	dir := e.LockDir
	if dir == "" {
		dir = "/var/spool/uucp"
	}
	return fmt.Sprintf("%s/.LCK..%s", dir, system)
}

// buildProtocols constructs one codec.Protocol per requested letter,
// wired to disp, using each protocol's default tunables (SPEC_FULL.md
// §6.4 leaves per-peer overrides to config.System/Port, not yet surfaced
// here).
func buildProtocols(ch channel.Channel, disp codec.Dispatcher, letters []byte) map[codec.Letter]codec.Protocol {
	out := make(map[codec.Letter]codec.Protocol, len(letters))
	seen := make(map[byte]bool, len(letters))
	for _, l := range letters {
		if seen[l] {
			continue
		}
		seen[l] = true
		switch l {
		case 'g':
			out[codec.LetterG] = codecg.New(ch, disp, codecg.DefaultConfig())
		case 't':
			out[codec.LetterT] = codect.New(ch, disp, codect.DefaultConfig())
		case 'f':
			out[codec.LetterF] = codecf.New(ch, disp, codecf.DefaultConfig())
		case 'e':
			out[codec.LetterE] = codece.New(ch, disp, codece.DefaultConfig())
		}
	}
	return out
}

func allProtocolLetters(reg *config.Registry) []byte {
	seen := make(map[byte]bool)
	var out []byte
	for _, sys := range reg.Systems {
		for _, l := range sys.Protocols {
			if !seen[l] {
				seen[l] = true
				out = append(out, l)
			}
		}
	}
	if len(out) == 0 {
		out = []byte{'g', 't', 'f', 'e'}
	}
	return out
}
