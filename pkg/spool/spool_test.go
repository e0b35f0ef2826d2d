package spool

import (
	"errors"
	"testing"

	"github.com/openuucp/gouucp/pkg/command"
	"github.com/openuucp/gouucp/pkg/grade"
)

func newCmd(g byte) *command.Command {
	return &command.Command{
		Type:  command.Send,
		From:  "a",
		To:    "b",
		User:  "alice",
		Pseq:  command.NewJobID(),
		Bytes: command.NoSize,
		Grade: g,
	}
}

func TestNextWorkOrdersByGradeThenPermits(t *testing.T) {
	m := NewMemory()
	low := newCmd('z')
	high := newCmd('A')
	m.Enqueue(low)
	m.Enqueue(high)

	got, err := m.NextWork(grade.Highest)
	if err != nil {
		t.Fatal(err)
	}
	if got != high {
		t.Fatalf("expected the higher-priority job first, got %v", got)
	}

	if _, err := m.NextWork('A'); err != nil {
		t.Fatalf("grade 'A' should still permit an 'A' job: %v", err)
	}
	if err := m.DidWork(low.Pseq); err != nil {
		t.Fatal(err)
	}
	if _, err := m.NextWork('z'); err == nil {
		t.Fatal("grade 'z' ceiling should not permit an 'A' job once it is the only one left")
	}
}

func TestNextWorkNoWork(t *testing.T) {
	m := NewMemory()
	if _, err := m.NextWork(grade.Highest); !errors.Is(err, ErrNoWork) {
		t.Fatalf("err = %v, want ErrNoWork", err)
	}
}

func TestDidWorkRemovesFromQueue(t *testing.T) {
	m := NewMemory()
	cmd := newCmd('0')
	m.Enqueue(cmd)

	if err := m.DidWork(cmd.Pseq); err != nil {
		t.Fatal(err)
	}
	if _, err := m.NextWork(grade.Highest); !errors.Is(err, ErrNoWork) {
		t.Fatalf("err = %v, want ErrNoWork after DidWork", err)
	}
}

func TestOpenSendRoundTrip(t *testing.T) {
	m := NewMemory()
	cmd := newCmd('0')
	m.PutSendFile(cmd.Pseq, []byte("hello world"))

	rc, err := m.OpenSend(cmd)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	buf := make([]byte, 32)
	n, _ := rc.Read(buf)
	if string(buf[:n]) != "hello world" {
		t.Fatalf("read %q", buf[:n])
	}
}

func TestOpenReceiveAndMoveToFinal(t *testing.T) {
	m := NewMemory()
	cmd := newCmd('0')

	wc, temp, err := m.OpenReceive(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wc.Write([]byte("payload")); err != nil {
		t.Fatal(err)
	}
	wc.Close()

	got, ok := m.ReceivedBytes(temp)
	if !ok || string(got) != "payload" {
		t.Fatalf("ReceivedBytes = %q, %v", got, ok)
	}

	if err := m.MoveToFinal(temp, "final-name"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.ReceivedBytes(temp); ok {
		t.Fatal("temp name should no longer resolve after MoveToFinal")
	}
	if _, ok := m.ReceivedBytes("final-name"); !ok {
		t.Fatal("final name should resolve after MoveToFinal")
	}
}

func TestRememberAndForgetReception(t *testing.T) {
	m := NewMemory()
	if err := m.RememberReception("b", "TM.1"); err != nil {
		t.Fatal(err)
	}
	if err := m.ForgetReception("b", "TM.1"); err != nil {
		t.Fatal(err)
	}
}

func TestNotifyExecuteResult(t *testing.T) {
	m := NewMemory()
	cmd := newCmd('0')
	cmd.Type = command.Execute
	cmd.Exec = "rnews"
	if err := m.NotifyExecuteResult(cmd, true, []byte("ok")); err != nil {
		t.Fatal(err)
	}
	notes := m.Notifications()
	if len(notes) != 1 || !notes[0].OK || string(notes[0].Output) != "ok" {
		t.Fatalf("notifications = %+v", notes)
	}
}
