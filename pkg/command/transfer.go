package command

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// Step tags the state of a Transfer's pseudo-coroutine. The reference
// implementation drives each transfer with a pair of function pointers
// (psendfn/precfn) that are re-assigned as the transfer progresses; this is
// a tagged variant over the same progression (DESIGN NOTES §9), generalized
// to one enum shared by both send and receive transfers.
type Step int

const (
	StepIdle Step = iota
	StepSendCommand
	StepWaitReply
	StepSendFile
	StepRecvCommand
	StepRecvFile
	StepWaitAck
	StepDone
	StepFailed
)

func (s Step) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepSendCommand:
		return "send-command"
	case StepWaitReply:
		return "wait-reply"
	case StepSendFile:
		return "send-file"
	case StepRecvCommand:
		return "recv-command"
	case StepRecvFile:
		return "recv-file"
	case StepWaitAck:
		return "wait-ack"
	case StepDone:
		return "done"
	case StepFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is delivered to a Transfer's StepFn to advance its state machine.
type Event int

const (
	EventReady Event = iota
	EventReplyPositive
	EventReplyNegative
	EventDataSent
	EventEOF
	EventAcked
	EventError
)

// Stats accumulates the wall-clock/CPU-time counters spec §3 requires on
// every stransfer.
type Stats struct {
	Started   time.Time
	Bytes     int64
	WallClock time.Duration
}

// Transfer is the live in-flight instance of a Command — spec §3's
// stransfer. It is owned by exactly one of the four manager queues at any
// instant (invariant I4); Queue enforces that by clearing the pointer on
// removal.
type Transfer struct {
	Cmd *Command

	File io.ReadWriteCloser // nil until a local file is opened
	Pos  int64
	Bytes int64

	LocalChan  uint8 // 0 = unassigned
	RemoteChan uint8

	Step   Step
	StepFn func(Event) Step // the pseudo-coroutine hook; nil once Step reaches Done/Failed

	Accum bytes.Buffer // command-accumulation buffer (framing multiplexer)

	Stats Stats

	generation uint64
	queue      *Queue // current owning queue, nil if unqueued
}

// Generation returns the pool-reuse counter in effect when this Transfer
// was last acquired. A caller holding a stale *Transfer from before a
// Release should compare against Generation to detect that it no longer
// refers to the same logical transfer (DESIGN NOTES §9: "generation
// counter... validate stale pointers").
func (t *Transfer) Generation() uint64 { return t.generation }

// Pool recycles Transfer records instead of freeing them, per DESIGN NOTES
// §9 ("manual memory pools"). Go's GC makes outright freeing harmless, but
// the generation-counter discipline is preserved so that a Transfer's
// identity can still be validated after reuse — useful when a protocol
// codec or multiplexer holds onto a *Transfer across a loop iteration.
type Pool struct {
	mu   sync.Mutex
	free []*Transfer
	next uint64
}

func NewPool() *Pool {
	return &Pool{}
}

// Acquire returns a Transfer wrapping cmd, reusing a freed record when one
// is available.
func (p *Pool) Acquire(cmd *Command) *Transfer {
	p.mu.Lock()
	defer p.mu.Unlock()

	var t *Transfer
	if n := len(p.free); n > 0 {
		t = p.free[n-1]
		p.free = p.free[:n-1]
		*t = Transfer{}
	} else {
		t = &Transfer{}
	}
	p.next++
	t.generation = p.next
	t.Cmd = cmd
	t.Bytes = NoSize
	t.Stats.Started = time.Now()
	return t
}

// Release returns t to the pool. The caller must not use t afterward; any
// other holder can detect staleness via Generation.
func (p *Pool) Release(t *Transfer) {
	if t == nil {
		return
	}
	if t.queue != nil {
		t.queue.Remove(t)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, t)
}
