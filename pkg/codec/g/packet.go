// Package g implements the 'g' protocol (spec §4.2.1): an 8-bit-clean,
// windowed, checksummed link protocol that assumes nothing about the
// underlying channel beyond byte-for-byte delivery. It is the default and
// most capable of the four wire protocols.
package g

import (
	"errors"
	"fmt"

	"github.com/openuucp/gouucp/internal/checksum"
)

const dle = 0x10

// packetType is the tt field of the control byte.
type packetType int

const (
	typeControl   packetType = 0
	typeAltChan   packetType = 1
	typeData      packetType = 2
	typeShortData packetType = 3
)

// controlSubtype is the xxx field of a CONTROL packet's control byte.
type controlSubtype int

const (
	ctlClose controlSubtype = 1
	ctlRJ    controlSubtype = 2
	ctlSRJ   controlSubtype = 3
	ctlRR    controlSubtype = 4
	ctlINITC controlSubtype = 5
	ctlINITB controlSubtype = 6
	ctlINITA controlSubtype = 7
)

// ErrBadHeader is counted against the error ceiling whenever a scanned DLE
// is not followed by a self-consistent header (spec I1).
var ErrBadHeader = errors.New("g: bad packet header")

// ErrAltChan is returned for an ALTCHAN packet, which this implementation
// never negotiates and must reject on receipt.
var ErrAltChan = errors.New("g: ALTCHAN packet type is not supported")

// header is the decoded form of a 'g' packet's 6-byte fixed header
// <DLE><k><c0><c1><C><x>.
type header struct {
	k       int  // 1..8 data packet segment-size code, 9 control
	check   uint16
	control byte
}

// segmentSize returns the negotiated payload size for k, or 0 for a pure
// control packet (k==9).
func segmentSize(k int) int {
	if k < 1 || k > 8 {
		return 0
	}
	return 1 << (uint(k) + 4)
}

// packControl packs tt/xxx (or tt/yyy) into the single control byte C.
func packControl(tt packetType, low int) byte {
	return byte(tt)<<6 | byte(low&0x3f)
}

func unpackControl(c byte) (tt packetType, low int) {
	return packetType(c >> 6), int(c & 0x3f)
}

// splitSubtype breaks a CONTROL packet's 6-bit low field into its xxx
// subtype and yyy parameter.
func splitSubtype(low int) (subtype controlSubtype, param int) {
	return controlSubtype(low >> 3), low & 0x7
}

// encodeHeader renders the 6-byte fixed header for k/control, deriving the
// check field from dataCheck per spec §4.2.1. For a pure control packet
// (k==9), dataCheck is ignored and ControlHeaderCheck is used instead.
func encodeHeader(k int, control byte, dataCheck uint16) []byte {
	var check uint16
	if k == 9 {
		check = checksum.ControlHeaderCheck(control)
	} else {
		check = checksum.HeaderCheck(dataCheck, control)
	}
	c0 := byte(check)
	c1 := byte(check >> 8)
	x := byte(k) ^ c0 ^ c1 ^ control
	return []byte{dle, byte(k), c0, c1, control, x}
}

// decodeHeader validates and parses a 6-byte header already known to begin
// with DLE (buf[0] is assumed to be dle and is ignored here).
func decodeHeader(buf []byte) (header, error) {
	if len(buf) < 6 {
		return header{}, fmt.Errorf("g: short header (%d bytes)", len(buf))
	}
	k := int(buf[1])
	c0, c1, control, x := buf[2], buf[3], buf[4], buf[5]
	if (byte(k) ^ c0 ^ c1 ^ control) != x {
		return header{}, ErrBadHeader
	}
	check := uint16(c0) | uint16(c1)<<8
	return header{k: k, check: check, control: control}, nil
}

// controlPacket builds a complete wire-ready CONTROL packet (header only,
// no payload).
func controlPacket(subtype controlSubtype, low int) []byte {
	control := packControl(typeControl, int(subtype)<<3|(low&0x7))
	return encodeHeader(9, control, 0)
}

// initPacket builds INITA/INITB/INITC, whose "low" field carries the
// window size (INITA, INITC) or the segment-size code (INITB) per spec
// §4.2.1's initialization description.
func initPacket(subtype controlSubtype, param int) []byte {
	return controlPacket(subtype, param)
}

// encodeShortData prepends the SHORTDATA length-deficit prefix (spec
// §4.2.1) to payload, zero-padding to the full segment size.
func encodeShortData(payload []byte, segSize int) []byte {
	u := segSize - len(payload)
	out := make([]byte, segSize)
	if u <= 0x7f {
		out[0] = byte(u)
		copy(out[1:], payload)
	} else {
		out[0] = 0x80 | byte(u&0x7f)
		out[1] = byte(u >> 7)
		copy(out[2:], payload)
	}
	return out
}

// decodeShortData strips the SHORTDATA prefix and returns the user-data
// portion of a full segSize-byte block.
func decodeShortData(block []byte) ([]byte, error) {
	if len(block) == 0 {
		return nil, fmt.Errorf("g: empty SHORTDATA block")
	}
	var u int
	var dataStart int
	if block[0]&0x80 == 0 {
		u = int(block[0])
		dataStart = 1
	} else {
		if len(block) < 2 {
			return nil, fmt.Errorf("g: truncated SHORTDATA prefix")
		}
		u = int(block[0]&0x7f) | int(block[1])<<7
		dataStart = 2
	}
	n := len(block) - u
	if n < 0 || u < dataStart {
		return nil, fmt.Errorf("g: bad SHORTDATA deficit %d for a %d-byte block", u, len(block))
	}
	return block[dataStart : dataStart+n], nil
}

// seqAck unpacks a DATA/SHORTDATA control byte's tt:2 xxx:3 yyy:3 fields
// into sequence and ack numbers.
func seqAck(c byte) (seq, ack int) {
	seq = int(c>>3) & 0x7
	ack = int(c) & 0x7
	return
}

func packSeqAck(tt packetType, seq, ack int) byte {
	return byte(tt)<<6 | byte(seq&0x7)<<3 | byte(ack&0x7)
}
