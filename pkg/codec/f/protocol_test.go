package f

import (
	"context"
	"testing"
	"time"

	"github.com/openuucp/gouucp/pkg/channel"
)

type recorder struct {
	delivered [][]byte
}

func (r *recorder) Deliver(ch uint8, payload []byte) error {
	var cp []byte
	if payload != nil {
		cp = append([]byte(nil), payload...)
	}
	r.delivered = append(r.delivered, cp)
	return nil
}

func TestSendCmdIsCRTerminated(t *testing.T) {
	a, b := channel.NewPipePair(false)
	defer a.Close()
	defer b.Close()

	p := New(a, &recorder{}, DefaultConfig())
	go p.SendCmd(context.Background(), "S a b user -C temp 0644 \"\" 5")

	var got []byte
	for {
		b2, status, err := b.RecvByte(time.Second)
		if err != nil || status != channel.StatusOK {
			t.Fatalf("RecvByte: status=%v err=%v", status, err)
		}
		got = append(got, b2)
		if b2 == cr || len(got) > 64 {
			break
		}
	}
	if len(got) == 0 || got[len(got)-1] != cr {
		t.Fatalf("command line not CR-terminated: %q", got)
	}
}

func TestFileChecksumRoundTrip(t *testing.T) {
	sender, receiver := channel.NewPipePair(false)
	defer sender.Close()
	defer receiver.Close()

	send := New(sender, &recorder{}, DefaultConfig())
	recvRec := &recorder{}
	recv := New(receiver, recvRec, DefaultConfig())

	recv.File(context.Background(), nil, true, false, -1)

	payload := []byte("the quick brown fox jumps over the lazy dog")
	sendDone := make(chan error, 1)
	go func() {
		if err := send.SendData(context.Background(), payload, 0, 0, 0); err != nil {
			sendDone <- err
			return
		}
		sendDone <- send.SendData(context.Background(), nil, 0, 0, 0)
	}()

	eof, err := recv.ReadFileData(context.Background())
	if err != nil {
		t.Fatalf("ReadFileData: %v", err)
	}
	if !eof {
		t.Fatal("expected ReadFileData to reach the whole-file trailer in one call")
	}
	if err := <-sendDone; err != nil {
		t.Fatalf("SendData: %v", err)
	}

	if len(recvRec.delivered) < 2 {
		t.Fatalf("expected at least a data delivery and an EOF delivery, got %d", len(recvRec.delivered))
	}
	last := recvRec.delivered[len(recvRec.delivered)-1]
	if last != nil {
		t.Fatalf("final delivery should be the nil EOF marker, got %v", last)
	}
}
