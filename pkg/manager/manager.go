// Package manager implements the per-session transfer manager (spec
// §4.5): the four intrusive queues, the master/slave main loop, grade
// gating, and the mux.Handlers callbacks that translate decoded commands
// into queued transfers.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/openuucp/gouucp/pkg/codec"
	"github.com/openuucp/gouucp/pkg/command"
	"github.com/openuucp/gouucp/pkg/grade"
	"github.com/openuucp/gouucp/pkg/metrics"
	"github.com/openuucp/gouucp/pkg/mux"
	"github.com/openuucp/gouucp/pkg/spool"
	"github.com/openuucp/gouucp/pkg/uucplog"
)

// ErrHungUp is returned by Run when the session ends via the spec §4.5
// master/slave hangup exchange, not a protocol error.
var ErrHungUp = errors.New("manager: session hung up")

// Queues bundles the four intrusive queues spec §3/§4.5 names.
type Queues struct {
	LocalReady   *command.Queue // locally queued work awaiting a channel
	RemoteReady  *command.Queue // transfers the peer just requested
	SendReady    *command.Queue // transfers actively being driven by psendfn
	ReceiveReady *command.Queue // transfers currently receiving file data
}

func newQueues() Queues {
	return Queues{
		LocalReady:   command.NewQueue("local-ready"),
		RemoteReady:  command.NewQueue("remote-ready"),
		SendReady:    command.NewQueue("send-ready"),
		ReceiveReady: command.NewQueue("receive-ready"),
	}
}

// Manager drives one session's worth of work for a single remote system.
type Manager struct {
	mu sync.Mutex

	sp     spool.Spool
	proto  codec.Protocol
	mx     *mux.Multiplexer
	pool   *command.Pool
	queues Queues

	system    string
	isMaster  bool
	ceiling   byte
	timetable *grade.Timetable

	log *uucplog.Logger

	byPseq map[string]*command.Transfer
	temp   map[*command.Transfer]string

	stats []TransferStat

	hangup   hangupState
	quiesced bool
}

type hangupState int

const (
	hangupNone hangupState = iota
	hangupSentH                 // we sent H, awaiting HY/HN
	hangupAwaitingMasterHY      // we (slave) replied HY, awaiting master's HY
	hangupDone
)

// Config bundles a Manager's fixed collaborators.
type Config struct {
	Spool     spool.Spool
	Protocol  codec.Protocol
	System    string
	IsMaster  bool
	Timetable *grade.Timetable
	Log       *uucplog.Logger
}

// New builds a Manager and its Multiplexer, wiring the Manager itself in
// as the Multiplexer's Handlers.
func New(cfg Config) *Manager {
	m := &Manager{
		sp:        cfg.Spool,
		proto:     cfg.Protocol,
		pool:      command.NewPool(),
		queues:    newQueues(),
		system:    cfg.System,
		isMaster:  cfg.IsMaster,
		ceiling:   grade.Highest,
		timetable: cfg.Timetable,
		log:       cfg.Log,
		byPseq:    make(map[string]*command.Transfer),
		temp:      make(map[*command.Transfer]string),
	}
	m.mx = mux.New(m, cfg.Log)
	return m
}

// Multiplexer returns the Multiplexer the owning protocol should use as
// its codec.Dispatcher. Candidate protocols are built against this before
// a session dialogue elects one of them and SetProtocol wires the winner
// in, since the Multiplexer (and thus the Handlers callbacks) must exist
// before any protocol.Start is called.
func (m *Manager) Multiplexer() *mux.Multiplexer { return m.mx }

// SetProtocol wires the protocol elected by the session dialogue (spec
// §4.6) in as the one Run drives. Config.Protocol may be left nil when a
// session's protocol is not known until after a handshake; callers that
// already know it (tests, loopback mode) can supply it directly in
// Config instead.
func (m *Manager) SetProtocol(p codec.Protocol) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proto = p
}

// Shutdown tears down the elected wire protocol (the CLOSE control packet
// for 'g', spec §4.2.1) once Run has returned. It is the wire-level half
// of session teardown; the dialogue-level O-exchange is a separate step
// the caller runs afterward.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	proto := m.proto
	m.mu.Unlock()
	if proto == nil {
		return nil
	}
	return proto.Shutdown(ctx)
}

// recomputeCeiling re-evaluates the allowed grade from the timetable, as
// spec §4.5 requires at every master-turnover point ("time-allowed-grade
// is recomputed at the swap").
func (m *Manager) recomputeCeiling(now time.Time) {
	if m.timetable == nil {
		m.ceiling = grade.Highest
		return
	}
	if g, _, ok := m.timetable.LowGrade(now); ok {
		m.ceiling = g
	} else {
		m.ceiling = grade.Lowest
	}
}

// Run drives the main loop (spec §4.5 steps 1-7) until the session hangs
// up or the protocol reports a fatal error.
func (m *Manager) Run(ctx context.Context) error {
	m.recomputeCeiling(time.Now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if m.hangup == hangupDone {
			return ErrHungUp
		}

		// Step 1: master with everything empty either finds new work or
		// hangs up.
		if m.isMaster && m.queuesEmpty() && m.hangup == hangupNone {
			if err := m.fqueue(); err != nil {
				return err
			}
		}

		// Step 2: drain remote_ready -> send_ready.
		if t := m.queues.RemoteReady.PopFront(); t != nil {
			m.queues.SendReady.PushBack(t)
		}

		// Step 3: allocate a local channel to queued local work once we
		// are master (or the protocol is multi-channel).
		caps := m.proto.Capabilities()
		if m.isMaster || caps.MultiChannelCount > 1 {
			if t := m.queues.LocalReady.Front(); t != nil {
				if err := m.startLocalTransfer(ctx, t); err != nil {
					return err
				}
			}
		}

		// Step 4/5: drive the head of send_ready.
		if head := m.queues.SendReady.Front(); head != nil {
			if head.Step == command.StepSendFile {
				if err := m.pumpSendFile(ctx, head); err != nil {
					return err
				}
				continue
			}
			if err := m.driveSendHead(ctx, head); err != nil {
				return err
			}
			continue
		}

		// Step 6: nothing to actively send; service the link.
		result, err := m.proto.Wait(ctx)
		if err != nil {
			m.failAllInFlight()
			return fmt.Errorf("manager: protocol wait: %w", err)
		}
		if result == codec.WaitIdle && m.hangup == hangupNone && m.queuesEmpty() && !m.isMaster {
			// Nothing to do as slave; keep polling.
			continue
		}

		// Step 7: error-ceiling escalation.
		if n := m.proto.ErrorCount(); n > 0 {
			metrics.ProtocolErrors.WithLabelValues(string(m.proto.Letter()), "ceiling").Add(0) // the codec keeps its own decode-error tally and enforces the ceiling itself; Add(0) only creates this series, counting nothing
		}
	}
}

func (m *Manager) queuesEmpty() bool {
	return m.queues.LocalReady.Empty() && m.queues.RemoteReady.Empty() &&
		m.queues.SendReady.Empty() && m.queues.ReceiveReady.Empty()
}

// Quiesce implements spec §7's SIGINT handling: new local work stops
// being picked up, but whatever is already in flight on the queues runs
// to completion before the next master turn hangs up.
func (m *Manager) Quiesce() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quiesced = true
}

// fqueue scans the spool for new work at the current grade ceiling; if
// none, it initiates a hangup (spec §4.5 step 1).
func (m *Manager) fqueue() error {
	if m.quiesced {
		if m.log != nil {
			m.log.Normal("quiesced, not queuing new work for %s", m.system)
		}
		m.hangup = hangupSentH
		return m.proto.SendCmd(context.Background(), "H")
	}
	cmd, err := m.sp.NextWork(m.ceiling)
	if errors.Is(err, spool.ErrNoWork) {
		if m.log != nil {
			m.log.Normal("no work at grade %q for %s, sending hangup", m.ceiling, m.system)
		}
		m.hangup = hangupSentH
		return m.proto.SendCmd(context.Background(), "H")
	}
	if err != nil {
		return fmt.Errorf("manager: fqueue: %w", err)
	}
	xfer := m.pool.Acquire(cmd)
	m.queues.LocalReady.PushBack(xfer)
	return nil
}

// startLocalTransfer sends a queued local command to the peer and moves
// its transfer onto send_ready once the peer's SY/RY/XY reply promotes it
// (TransferReply does the promotion); here we only emit the command and
// wait for the ack, same as spec: psendfn's first step is "send the
// command, await the reply".
func (m *Manager) startLocalTransfer(ctx context.Context, xfer *command.Transfer) error {
	line, err := command.Format(*xfer.Cmd)
	if err != nil {
		return fmt.Errorf("manager: formatting local command: %w", err)
	}
	xfer.Step = command.StepWaitReply
	m.byPseq[xfer.Cmd.Pseq.String()] = xfer
	return m.proto.SendCmd(ctx, line)
}

// pumpSendFile implements spec step 4: stream one file to completion
// while the protocol keeps accepting data and no higher-priority work
// shows up on remote_ready.
func (m *Manager) pumpSendFile(ctx context.Context, xfer *command.Transfer) error {
	for m.queues.RemoteReady.Empty() {
		buf := m.proto.GetSpace()
		n, err := readFull(xfer.File, buf)
		if err != nil && err != io.EOF {
			return fmt.Errorf("manager: reading local file for %s: %w", xfer.Cmd.To, err)
		}
		payload := buf[:n]
		if sendErr := m.proto.SendData(ctx, payload, xfer.LocalChan, xfer.RemoteChan, xfer.Pos); sendErr != nil {
			return fmt.Errorf("manager: send_data: %w", sendErr)
		}
		xfer.Pos += int64(n)
		xfer.Stats.Bytes += int64(n)
		metrics.BytesTransferred.WithLabelValues("send", string(m.proto.Letter())).Add(float64(n))

		if n == 0 || err == io.EOF {
			if sendErr := m.proto.SendData(ctx, nil, xfer.LocalChan, xfer.RemoteChan, xfer.Pos); sendErr != nil {
				return fmt.Errorf("manager: send_data EOF: %w", sendErr)
			}
			xfer.Step = command.StepWaitAck
			return nil
		}
	}
	return nil
}

func readFull(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return n, io.EOF
	}
	return n, err
}

// driveSendHead invokes a non-file-sending head transfer's next step
// exactly once (spec step 5's "invoke psendfn"); the only such step this
// module models is kicking off file transmission once the peer has ACKed
// our command.
func (m *Manager) driveSendHead(ctx context.Context, xfer *command.Transfer) error {
	switch xfer.Step {
	case command.StepSendFile:
		return m.pumpSendFile(ctx, xfer)
	default:
		// Nothing actionable until a reply or file-open event advances
		// this transfer's Step; fall through to servicing the link.
		_, err := m.proto.Wait(ctx)
		return err
	}
}

func (m *Manager) failAllInFlight() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, xfer := range m.byPseq {
		metrics.FilesTransferred.WithLabelValues("unknown", string(m.proto.Letter()), "failed").Inc()
		m.stats = append(m.stats, statFor(xfer, "failed"))
	}
}

// TransferStats returns the completed/failed transfer records accumulated
// this session, for CSV export (SPEC_FULL.md §6.4's stats expansion).
func (m *Manager) TransferStats() []TransferStat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TransferStat(nil), m.stats...)
}

var _ mux.Handlers = (*Manager)(nil)
