package g

import "testing"

func TestWindowFullVsEmptyAtSeven(t *testing.T) {
	w := newSendWindow(7)
	if !w.canSend() {
		t.Fatal("empty window should allow sending")
	}
	for i := 0; i < 7; i++ {
		w.assign()
	}
	if w.outstanding() != 7 {
		t.Fatalf("outstanding = %d, want 7", w.outstanding())
	}
	if w.canSend() {
		t.Fatal("a full window==7 should not allow another send")
	}
	w.ackThrough(7 % 8)
	if w.outstanding() != 0 {
		t.Fatalf("after full ack, outstanding = %d, want 0", w.outstanding())
	}
	if !w.canSend() {
		t.Fatal("empty window should allow sending again")
	}
}

func TestRejectSetsRetransmitHold(t *testing.T) {
	w := newSendWindow(3)
	w.assign()
	w.assign()
	resend := w.reject(0)
	if resend != 1 {
		t.Fatalf("reject(0) resend = %d, want 1", resend)
	}
	if w.canSend() {
		t.Fatal("a pending retransmit should hold new sends")
	}
	w.ackThrough(1)
	if w.canSend() != true {
		t.Fatal("ack of the retransmitted slot should release the hold")
	}
}

func TestOutOfOrderDiscount(t *testing.T) {
	r := newRecvWindow(3)
	r.noteBadChecksum()
	if r.outOfOrder != 2 {
		t.Fatalf("outOfOrder = %d, want window-1 = 2", r.outOfOrder)
	}
}

func TestUgadjustAckRewritesInPlace(t *testing.T) {
	payload := []byte("retransmit me")
	control := packSeqAck(typeData, 2, 0)
	hdr := encodeHeader(3, control, 0)
	framed := append(hdr, payload...)

	ugadjustAck(framed, 5)

	dec, err := decodeHeader(framed[:6])
	if err != nil {
		t.Fatalf("decodeHeader after adjust: %v", err)
	}
	_, low := unpackControl(dec.control)
	seq, ack := low>>3&0x7, low&0x7
	if seq != 2 {
		t.Fatalf("seq changed: got %d, want 2", seq)
	}
	if ack != 5 {
		t.Fatalf("ack = %d, want 5", ack)
	}
}
