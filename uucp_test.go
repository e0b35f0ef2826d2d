package uucp

import (
	"context"
	"testing"
	"time"

	"github.com/openuucp/gouucp/pkg/channel"
	"github.com/openuucp/gouucp/pkg/config"
	"github.com/openuucp/gouucp/pkg/spool"
	"github.com/openuucp/gouucp/pkg/statusfile"
	"github.com/openuucp/gouucp/pkg/uucplog"
)

// TestSessionRunHangsUpImmediatelyWithNoWork drives a full caller/callee
// conversation over an in-memory pipe with both spools empty, exercising
// handshake, protocol election ('t'), and the immediate master/slave
// hangup exchange end to end.
func TestSessionRunHangsUpImmediatelyWithNoWork(t *testing.T) {
	a, b := channel.NewPipePair(false)

	callerStatus, err := statusfile.Open(t.TempDir() + "/caller-status.ini")
	if err != nil {
		t.Fatalf("open caller status file: %v", err)
	}
	calleeStatus, err := statusfile.Open(t.TempDir() + "/callee-status.ini")
	if err != nil {
		t.Fatalf("open callee status file: %v", err)
	}

	caller := &Endpoint{
		SelfName: "alice",
		Registry: &config.Registry{Systems: map[string]config.System{}},
		Spool:    spool.NewMemory(),
		Status:   callerStatus,
		Log:      uucplog.New(nil),
		LockDir:  t.TempDir(),
	}
	callee := &Endpoint{
		SelfName: "bob",
		Registry: &config.Registry{Systems: map[string]config.System{
			"alice": {Name: "alice", Protocols: []byte{'t'}},
		}},
		Spool:  spool.NewMemory(),
		Status: calleeStatus,
		Log:    uucplog.New(nil),
	}

	bob := config.System{Name: "bob", Protocols: []byte{'t'}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		err error
	}
	callerDone := make(chan result, 1)
	calleeDone := make(chan result, 1)

	go func() {
		sess, err := caller.callOverChannel(ctx, "bob", bob, a)
		if err != nil {
			callerDone <- result{err}
			return
		}
		callerDone <- result{sess.Run(ctx)}
	}()
	go func() {
		sess, err := callee.Accept(ctx, b, config.Port{Name: "pipe", Kind: "pipe"})
		if err != nil {
			calleeDone <- result{err}
			return
		}
		calleeDone <- result{sess.Run(ctx)}
	}()

	for i := 0; i < 2; i++ {
		select {
		case r := <-callerDone:
			if r.err != nil {
				t.Fatalf("caller session: %v", r.err)
			}
		case r := <-calleeDone:
			if r.err != nil {
				t.Fatalf("callee session: %v", r.err)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for both sides to hang up")
		}
	}
}
