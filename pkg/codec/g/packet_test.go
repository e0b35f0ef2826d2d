package g

import (
	"testing"

	"github.com/openuucp/gouucp/internal/checksum"
)

func TestHeaderXORInvariant(t *testing.T) {
	payload := []byte("hello world, this is a test segment")
	control := packSeqAck(typeData, 3, 5)
	dataCheck := checksum.Data(payload)
	hdr := encodeHeader(5, control, dataCheck)

	x := hdr[1] ^ hdr[2] ^ hdr[3] ^ hdr[4]
	if x != hdr[5] {
		t.Fatalf("I1 violated: k^c0^c1^C = %x, header.x = %x", x, hdr[5])
	}

	dec, err := decodeHeader(hdr)
	if err != nil {
		t.Fatalf("decodeHeader: %v", err)
	}
	if dec.k != 5 || dec.control != control {
		t.Fatalf("round trip mismatch: %+v", dec)
	}
}

func TestHeaderCheckInvariant(t *testing.T) {
	payload := []byte("segment data")
	control := packSeqAck(typeShortData, 1, 2)
	dataCheck := checksum.Data(payload)
	hdr := encodeHeader(3, control, dataCheck)
	stored := uint16(hdr[2]) | uint16(hdr[3])<<8

	want := uint16((0xaaaa - (uint32(dataCheck) ^ uint32(control))) & 0xffff)
	if stored != want {
		t.Fatalf("I2 violated: stored=%x want=%x", stored, want)
	}
	if !checksum.VerifyData(payload, control, stored) {
		t.Fatal("VerifyData rejected a matching header")
	}
}

func TestBadHeaderDetected(t *testing.T) {
	hdr := encodeHeader(5, 0x42, 0x1234)
	hdr[5] ^= 0xff // corrupt the XOR check byte
	if _, err := decodeHeader(hdr); err != ErrBadHeader {
		t.Fatalf("err = %v, want ErrBadHeader", err)
	}
}

func TestShortDataOneByteBoundary(t *testing.T) {
	segSize := 128
	payload := make([]byte, segSize-0x7f)
	block := encodeShortData(payload, segSize)
	if block[0] != 0x7f {
		t.Fatalf("u=0x7f should use the 1-byte form, got prefix %x", block[0])
	}
	got, err := decodeShortData(block)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(payload) {
		t.Fatalf("decoded length = %d, want %d", len(got), len(payload))
	}
}

func TestShortDataTwoByteBoundary(t *testing.T) {
	segSize := 200
	payload := make([]byte, segSize-0x80)
	block := encodeShortData(payload, segSize)
	if block[0]&0x80 == 0 {
		t.Fatalf("u=0x80 should use the 2-byte form, got prefix %x", block[0])
	}
	got, err := decodeShortData(block)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(payload) {
		t.Fatalf("decoded length = %d, want %d", len(got), len(payload))
	}
}

func TestControlHeaderSkipsDataCheck(t *testing.T) {
	control := packControl(typeControl, int(ctlRR)<<3|4)
	hdr := encodeHeader(9, control, 0xbeef) // dataCheck must be ignored for k==9
	stored := uint16(hdr[2]) | uint16(hdr[3])<<8
	want := checksum.ControlHeaderCheck(control)
	if stored != want {
		t.Fatalf("control packet check = %x, want %x (dataCheck must be ignored)", stored, want)
	}
}
