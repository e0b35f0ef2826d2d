package g

import "github.com/openuucp/gouucp/internal/checksum"

// slot is one entry of the 8-deep retransmit ring. It stores a fully
// framed, ready-to-write packet so that a retransmit can patch the ack
// field and header check in place instead of re-encoding the payload
// (spec DESIGN NOTES §9, "ugadjust_ack").
type slot struct {
	inUse   bool
	framed  []byte // complete wire bytes: header + payload
	control byte   // control byte as last sent, for ugadjust_ack
	isShort bool
	dataLen int // offset into framed where payload begins
}

// sendWindow tracks the 8-slot retransmit ring and the send/ack sequence
// state described in spec §4.2.1's data-phase rules.
type sendWindow struct {
	slots        [8]slot
	sendSeq      int // next sequence number to assign
	remoteAck    int // highest ack (cumulative) received from the peer
	window       int // configured window size, 1..7
	retransmit   int // sequence currently being retransmitted, -1 if none
	haveRetransmit bool
}

func newSendWindow(window int) *sendWindow {
	return &sendWindow{window: window, retransmit: -1}
}

// outstanding returns the number of unacknowledged packets currently in
// flight.
func (w *sendWindow) outstanding() int {
	return (w.sendSeq - w.remoteAck + 8) % 8
}

// canSend reports whether a new packet may be transmitted, honoring both
// the configured window and the single-loss retransmit hold described in
// spec §4.2.1 ("hold new transmissions until the slot after the
// retransmitted one is acknowledged").
func (w *sendWindow) canSend() bool {
	if w.outstanding() >= w.window {
		return false
	}
	if w.haveRetransmit {
		return false
	}
	return true
}

// assign reserves the next sequence slot for a freshly-framed data packet.
func (w *sendWindow) assign() int {
	seq := w.sendSeq
	w.sendSeq = (w.sendSeq + 1) % 8
	return seq
}

// ackThrough advances remoteAck to n (cumulative ack, spec §5: "RR(n) acks
// all sequence numbers up to n modulo 8"), releasing the retransmit hold
// if its slot has now been acknowledged.
func (w *sendWindow) ackThrough(n int) {
	w.remoteAck = n
	if w.haveRetransmit && n == w.retransmit {
		w.haveRetransmit = false
		w.retransmit = -1
	}
}

// reject marks seq for retransmission (spec: "On RJ(n), set remote_ack =
// n, retransmit_seq = n+1, and immediately resend that one packet").
func (w *sendWindow) reject(n int) (resend int) {
	w.remoteAck = n
	w.retransmit = (n + 1) % 8
	w.haveRetransmit = true
	return w.retransmit
}

// put stores a freshly framed packet in its sequence slot.
func (w *sendWindow) put(seq int, framed []byte, control byte, isShort bool, dataOffset int) {
	w.slots[seq] = slot{inUse: true, framed: framed, control: control, isShort: isShort, dataLen: dataOffset}
}

func (w *sendWindow) get(seq int) (slot, bool) {
	s := w.slots[seq]
	return s, s.inUse
}

// recvWindow tracks the receive-side sequence state of spec §4.2.1's
// "Receive" rules.
type recvWindow struct {
	recvSeq        int // next expected sequence number
	window         int
	badHdr         int
	badChecksum    int
	outOfOrder     int // discounted per spec: "window-1 per prior bad packet"
	remoteRejects  int
}

func newRecvWindow(window int) *recvWindow {
	return &recvWindow{window: window}
}

// errorTotal is the running tally checked against the configured error
// ceiling (default 100, spec §4.2.1 "Error ceiling").
func (r *recvWindow) errorTotal() int {
	return r.badHdr + r.badChecksum + r.outOfOrder + r.remoteRejects
}

func (r *recvWindow) noteBadHeader() {
	r.badHdr++
}

func (r *recvWindow) noteBadChecksum() {
	r.badChecksum++
	if r.window > 1 {
		r.outOfOrder += r.window - 1
	}
}

func (r *recvWindow) noteRemoteReject() {
	r.remoteRejects++
}

func (r *recvWindow) advance() {
	r.recvSeq = (r.recvSeq + 1) % 8
}

// ugadjustAck rewrites an already-framed packet's ack field (yyy) and
// recomputes the header check, without touching the payload — spec DESIGN
// NOTES §9's "ugadjust_ack".
func ugadjustAck(framed []byte, newAck int) {
	if len(framed) < 6 {
		return
	}
	control := framed[4]
	tt, low := unpackControl(control)
	seq := (low >> 3) & 0x7
	newControl := byte(tt)<<6 | byte(seq&0x7)<<3 | byte(newAck&0x7)

	oldCheck := uint16(framed[2]) | uint16(framed[3])<<8
	// Recover the underlying data check from the old header/control pair,
	// then re-derive the header check against the new control byte.
	dataCheck := checksum.RecoverDataCheck(oldCheck, control)
	newCheck := checksum.HeaderCheck(dataCheck, newControl)

	framed[2] = byte(newCheck)
	framed[3] = byte(newCheck >> 8)
	framed[4] = newControl
	framed[5] = framed[1] ^ framed[2] ^ framed[3] ^ framed[4]
}
