package manager

import (
	"context"
	"strings"
	"testing"

	"github.com/openuucp/gouucp/pkg/codec"
	"github.com/openuucp/gouucp/pkg/command"
	"github.com/openuucp/gouucp/pkg/spool"
)

type fakeProtocol struct {
	sent  []string
	space int
}

func (f *fakeProtocol) Letter() codec.Letter { return codec.LetterG }
func (f *fakeProtocol) Capabilities() codec.Capabilities {
	return codec.Capabilities{MultiChannelCount: 1}
}
func (f *fakeProtocol) Start(ctx context.Context, isMaster bool) error    { return nil }
func (f *fakeProtocol) Shutdown(ctx context.Context) error                { return nil }
func (f *fakeProtocol) SendCmd(ctx context.Context, text string) error {
	f.sent = append(f.sent, text)
	return nil
}
func (f *fakeProtocol) GetSpace() []byte {
	n := f.space
	if n == 0 {
		n = 64
	}
	return make([]byte, n)
}
func (f *fakeProtocol) SendData(ctx context.Context, buf []byte, lc, rc uint8, pos int64) error {
	return nil
}
func (f *fakeProtocol) Wait(ctx context.Context) (codec.WaitResult, error) {
	return codec.WaitIdle, nil
}
func (f *fakeProtocol) File(ctx context.Context, xfer *command.Transfer, isStart, isSend bool, bytes int64) (bool, error) {
	return false, nil
}
func (f *fakeProtocol) ErrorCount() int { return 0 }

var _ codec.Protocol = (*fakeProtocol)(nil)

func newTestManager() (*Manager, *fakeProtocol, *spool.Memory) {
	sp := spool.NewMemory()
	proto := &fakeProtocol{}
	m := New(Config{
		Spool:    sp,
		Protocol: proto,
		System:   "venus",
		IsMaster: true,
	})
	return m, proto, sp
}

func TestAcceptSendThenReceiveCompleteMovesToFinal(t *testing.T) {
	m, proto, sp := newTestManager()

	cmd := command.Command{Type: command.Send, From: "a", To: "b", Pseq: command.NewJobID(), Mode: 0644}
	if err := m.AcceptSend(cmd); err != nil {
		t.Fatal(err)
	}
	if len(proto.sent) != 1 || !strings.HasPrefix(proto.sent[0], "SY") {
		t.Fatalf("sent = %v, want SY ack", proto.sent)
	}

	if err := m.mx.Deliver(0, []byte("hello world")); err != nil {
		t.Fatal(err)
	}
	if err := m.mx.Deliver(0, nil); err != nil {
		t.Fatal(err)
	}

	bytesAt, ok := sp.ReceivedBytes("b")
	if !ok {
		t.Fatalf("expected receive bytes to be moved under final name %q", "b")
	}
	if string(bytesAt) != "hello world" {
		t.Fatalf("received = %q", bytesAt)
	}

	if len(proto.sent) != 2 || proto.sent[1] != "CY" {
		t.Fatalf("sent = %v, want trailing CY", proto.sent)
	}

	stats := m.TransferStats()
	if len(stats) != 1 || stats[0].Outcome != "complete" {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestAcceptReceivePositiveReplyQueuesSend(t *testing.T) {
	m, proto, sp := newTestManager()

	pseq := command.NewJobID()
	sp.PutSendFile(pseq, []byte("payload"))
	cmd := command.Command{Type: command.Receive, From: "a", To: "b", Pseq: pseq, Mode: 0644}

	if err := m.AcceptReceive(cmd); err != nil {
		t.Fatal(err)
	}
	if len(proto.sent) != 1 || !strings.HasPrefix(proto.sent[0], "RY") {
		t.Fatalf("sent = %v", proto.sent)
	}

	xfer := m.queues.RemoteReady.Front()
	if xfer == nil {
		t.Fatal("expected transfer queued on remote_ready")
	}

	m.byPseq[pseq.String()] = xfer
	reply := command.Reply{To: command.Receive, Positive: true, Mode: 0644}
	if err := m.TransferReply(reply); err != nil {
		t.Fatal(err)
	}
	if xfer.Step != command.StepSendFile {
		t.Fatalf("Step = %v, want StepSendFile", xfer.Step)
	}
	if m.queues.SendReady.Front() != xfer {
		t.Fatal("expected transfer promoted onto send_ready")
	}
}

func TestTransferReplyPermissionDeletesJob(t *testing.T) {
	m, _, sp := newTestManager()

	pseq := command.NewJobID()
	cmd := &command.Command{Type: command.Send, Pseq: pseq}
	sp.Enqueue(cmd)
	xfer := m.pool.Acquire(cmd)
	m.byPseq[pseq.String()] = xfer

	reply := command.Reply{To: command.Send, Positive: false, Code: command.ReplyPermission}
	if err := m.TransferReply(reply); err != nil {
		t.Fatal(err)
	}

	if _, err := sp.NextWork(grade0()); err == nil {
		t.Fatal("expected job to be marked done after a permission refusal")
	}
}

func TestTransferReplyCannotCreateLeavesJobQueued(t *testing.T) {
	m, _, sp := newTestManager()

	pseq := command.NewJobID()
	cmd := &command.Command{Type: command.Send, Pseq: pseq}
	sp.Enqueue(cmd)
	xfer := m.pool.Acquire(cmd)
	m.byPseq[pseq.String()] = xfer

	reply := command.Reply{To: command.Send, Positive: false, Code: command.ReplyCannotCreate}
	if err := m.TransferReply(reply); err != nil {
		t.Fatal(err)
	}

	got, err := sp.NextWork(grade0())
	if err != nil {
		t.Fatalf("expected job still queued, got err %v", err)
	}
	if got.Pseq != pseq {
		t.Fatalf("got %v, want %v", got.Pseq, pseq)
	}
}

func TestTransferReplyAlreadyReceivedIsSilentSuccess(t *testing.T) {
	m, _, sp := newTestManager()

	pseq := command.NewJobID()
	cmd := &command.Command{Type: command.Send, Pseq: pseq}
	sp.Enqueue(cmd)
	xfer := m.pool.Acquire(cmd)
	m.byPseq[pseq.String()] = xfer

	reply := command.Reply{To: command.Send, Positive: false, Code: command.ReplyAlreadyReceived}
	if err := m.TransferReply(reply); err != nil {
		t.Fatal(err)
	}
	if _, err := sp.NextWork(grade0()); err == nil {
		t.Fatal("expected job removed from queue after already-received ack")
	}
}

func TestHangupRequestedBecomesMasterWhenWorkRemains(t *testing.T) {
	m, proto, sp := newTestManager()
	m.isMaster = false

	sp.Enqueue(&command.Command{Type: command.Send, Pseq: command.NewJobID()})

	if err := m.HangupRequested(); err != nil {
		t.Fatal(err)
	}
	if !m.isMaster {
		t.Fatal("expected manager to claim master role")
	}
	if len(proto.sent) != 1 || proto.sent[0] != "HN" {
		t.Fatalf("sent = %v, want HN", proto.sent)
	}
}

func TestHangupRequestedAgreesWhenNoWork(t *testing.T) {
	m, proto, _ := newTestManager()
	m.isMaster = false

	if err := m.HangupRequested(); err != nil {
		t.Fatal(err)
	}
	if len(proto.sent) != 1 || proto.sent[0] != "HY" {
		t.Fatalf("sent = %v, want HY", proto.sent)
	}
	if m.hangup != hangupAwaitingMasterHY {
		t.Fatalf("hangup state = %v", m.hangup)
	}
}

func TestHangupReplyClosesOutOnAgreement(t *testing.T) {
	m, proto, _ := newTestManager()
	if err := m.HangupReply(true); err != nil {
		t.Fatal(err)
	}
	if m.hangup != hangupDone {
		t.Fatalf("hangup state = %v, want done", m.hangup)
	}
	if len(proto.sent) != 1 || proto.sent[0] != "HY" {
		t.Fatalf("sent = %v, want HY", proto.sent)
	}
}

func TestHangupReplyYieldsMasterOnRefusal(t *testing.T) {
	m, _, _ := newTestManager()
	if err := m.HangupReply(false); err != nil {
		t.Fatal(err)
	}
	if m.isMaster {
		t.Fatal("expected manager to yield master role")
	}
	if m.hangup != hangupNone {
		t.Fatalf("hangup state = %v, want none", m.hangup)
	}
}

func TestFinishSentFileOnBareAck(t *testing.T) {
	m, _, sp := newTestManager()

	pseq := command.NewJobID()
	cmd := &command.Command{Type: command.Receive, Pseq: pseq}
	sp.Enqueue(cmd)
	xfer := m.pool.Acquire(cmd)
	xfer.File = readOnlyFile{readCloserFromString("x")}
	xfer.Step = command.StepWaitAck
	m.queues.SendReady.PushBack(xfer)

	if err := m.finishSentFile(true); err != nil {
		t.Fatal(err)
	}
	if m.queues.SendReady.Front() != nil {
		t.Fatal("expected send_ready head removed after ack")
	}
	stats := m.TransferStats()
	if len(stats) != 1 || stats[0].Outcome != "complete" {
		t.Fatalf("stats = %+v", stats)
	}
}

func readCloserFromString(s string) *nopReadCloser {
	return &nopReadCloser{Reader: strings.NewReader(s)}
}

type nopReadCloser struct {
	*strings.Reader
}

func (nopReadCloser) Close() error { return nil }

func grade0() byte { return '0' }
