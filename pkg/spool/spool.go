// Package spool defines the contract between the transfer manager (spec
// §6.1) and whatever holds queued work and file bytes on disk. Only an
// in-process, map-backed implementation ships here: real spool-directory
// layout is an explicit Non-goal (spec.md §1), so Memory exists to let
// pkg/manager and pkg/session be exercised by tests and by a loopback CLI
// mode without a filesystem.
package spool

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/openuucp/gouucp/pkg/command"
	"github.com/openuucp/gouucp/pkg/grade"
)

// ErrNoWork is returned by NextWork when no queued job is permitted at the
// requested grade ceiling.
var ErrNoWork = errors.New("spool: no work at this grade")

// ErrUnknownJob is returned when a JobID or temp token does not match any
// job this Spool knows about.
var ErrUnknownJob = errors.New("spool: unknown job")

// Spool is the contract pkg/manager consumes (spec §6.1); it is deliberately
// narrow — everything about how jobs are discovered, named, and persisted
// lives on the other side of this interface.
type Spool interface {
	// NextWork returns the highest-priority queued command permitted at
	// grade, or ErrNoWork if none qualifies.
	NextWork(grade byte) (*command.Command, error)
	// DidWork marks pseq's job as handled, removing it from the queue.
	DidWork(pseq command.JobID) error
	// OpenSend opens cmd's local file for reading (a Send or Execute job).
	OpenSend(cmd *command.Command) (io.ReadCloser, error)
	// OpenReceive opens a temp file to write an inbound transfer into,
	// returning the temp path token to echo back through MoveToFinal.
	OpenReceive(cmd *command.Command) (io.WriteCloser, string, error)
	// MoveToFinal renames a completed temp file into its final spool name.
	MoveToFinal(temp, final string) error
	// SaveTemp allocates (or re-derives) the temp path for pseq, used when
	// a send must be restarted from a partial position.
	SaveTemp(pseq command.JobID) (string, error)
	// RememberReception records a fully-written, not-yet-acked file so it
	// survives a session restart before the peer's ack arrives.
	RememberReception(to, temp string) error
	// ForgetReception clears a reception record once acked.
	ForgetReception(to, temp string) error
	// HasWorkAtGrade reports whether any queued job is permitted at grade,
	// without consuming it (spec's fqueue re-scan on `H`/`HN`).
	HasWorkAtGrade(grade byte) (bool, error)
	// NotifyExecuteResult mails the requester the outcome of an E command
	// (Taylor UUCP's znotify mailback, supplemented per SPEC_FULL.md §10).
	NotifyExecuteResult(cmd *command.Command, ok bool, output []byte) error
}

type job struct {
	cmd  *command.Command
	done bool
}

type file struct {
	buf  *bytes.Buffer
	temp string
	to   string
}

// Memory is an in-process Spool backed by plain maps; nothing survives
// process exit. Safe for concurrent use.
type Memory struct {
	mu sync.Mutex

	jobs    map[string]*job // keyed by JobID string
	order   []command.JobID // insertion order, for stable NextWork ties
	sends   map[string]*bytes.Buffer
	recvs   map[string]*file
	remembered map[string]string // temp -> to, for reception records
	notifications []notification
	tempSeq int
}

type notification struct {
	Cmd    *command.Command
	OK     bool
	Output []byte
}

// NewMemory returns an empty in-memory spool.
func NewMemory() *Memory {
	return &Memory{
		jobs:       make(map[string]*job),
		sends:      make(map[string]*bytes.Buffer),
		recvs:      make(map[string]*file),
		remembered: make(map[string]string),
	}
}

// Enqueue adds cmd as queued work; tests and the loopback CLI call this to
// seed the spool instead of scanning a real directory.
func (m *Memory) Enqueue(cmd *command.Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cmd.Grade == 0 {
		cmd.Grade = grade.Highest
	}
	m.jobs[cmd.Pseq.String()] = &job{cmd: cmd}
	m.order = append(m.order, cmd.Pseq)
}

// PutSendFile registers the bytes OpenSend should hand back for cmd.
func (m *Memory) PutSendFile(pseq command.JobID, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends[pseq.String()] = bytes.NewBuffer(append([]byte(nil), data...))
}

// ReceivedBytes returns what was written to temp's buffer so far, for
// tests to assert against after a transfer completes.
func (m *Memory) ReceivedBytes(temp string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.recvs[temp]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), f.buf.Bytes()...), true
}

func (m *Memory) NextWork(allowed byte) (*command.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]*job, 0, len(m.order))
	for _, id := range m.order {
		j, ok := m.jobs[id.String()]
		if !ok || j.done {
			continue
		}
		if !grade.Permits(allowed, j.cmd.Grade) {
			continue
		}
		candidates = append(candidates, j)
	}
	if len(candidates) == 0 {
		return nil, ErrNoWork
	}
	sort.SliceStable(candidates, func(i, k int) bool {
		return grade.Rank(candidates[i].cmd.Grade) < grade.Rank(candidates[k].cmd.Grade)
	})
	return candidates[0].cmd, nil
}

func (m *Memory) HasWorkAtGrade(allowed byte) (bool, error) {
	_, err := m.NextWork(allowed)
	if errors.Is(err, ErrNoWork) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Memory) DidWork(pseq command.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[pseq.String()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, pseq)
	}
	j.done = true
	return nil
}

func (m *Memory) OpenSend(cmd *command.Command) (io.ReadCloser, error) {
	m.mu.Lock()
	buf, ok := m.sends[cmd.Pseq.String()]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no local file registered for %s", ErrUnknownJob, cmd.Pseq)
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

func (m *Memory) OpenReceive(cmd *command.Command) (io.WriteCloser, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tempSeq++
	temp := fmt.Sprintf("TM.%s.%d", cmd.Pseq, m.tempSeq)
	f := &file{buf: &bytes.Buffer{}, temp: temp, to: cmd.To}
	m.recvs[temp] = f
	return &memWriteCloser{buf: f.buf}, temp, nil
}

func (m *Memory) MoveToFinal(temp, final string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.recvs[temp]
	if !ok {
		return fmt.Errorf("%w: temp file %s", ErrUnknownJob, temp)
	}
	delete(m.recvs, temp)
	m.recvs[final] = f
	return nil
}

func (m *Memory) SaveTemp(pseq command.JobID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[pseq.String()]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, pseq)
	}
	m.tempSeq++
	return fmt.Sprintf("TM.%s.%d", pseq, m.tempSeq), nil
}

func (m *Memory) RememberReception(to, temp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remembered[temp] = to
	return nil
}

func (m *Memory) ForgetReception(to, temp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.remembered, temp)
	return nil
}

func (m *Memory) NotifyExecuteResult(cmd *command.Command, ok bool, output []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, notification{Cmd: cmd, OK: ok, Output: append([]byte(nil), output...)})
	return nil
}

// Notifications returns the execute-result mailbacks recorded so far, for
// tests to assert against.
func (m *Memory) Notifications() []notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notification(nil), m.notifications...)
}

type memWriteCloser struct {
	buf *bytes.Buffer
}

func (w *memWriteCloser) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *memWriteCloser) Close() error                { return nil }

var _ Spool = (*Memory)(nil)
