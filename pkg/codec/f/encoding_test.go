package f

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	// Law L1: decode(encode(bytes)) == bytes, for every byte sequence.
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	got, err := Decode(Encode(data))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch")
	}
}

func TestRoundTripRandom(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		data := make([]byte, r.Intn(200))
		r.Read(data)
		got, err := Decode(Encode(data))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("mismatch at iteration %d", i)
		}
	}
}

func TestEncodingTableBoundaries(t *testing.T) {
	cases := []struct {
		in       byte
		prefixed bool
	}{
		{0x00, true}, {0x1F, true},
		{0x20, false}, {0x79, false},
		{0x7A, true}, {0x7F, true},
		{0x80, true}, {0x9F, true},
		{0xA0, true}, {0xF9, true},
		{0xFA, true}, {0xFF, true},
	}
	for _, c := range cases {
		enc := Encode([]byte{c.in})
		gotPrefixed := len(enc) == 2
		if gotPrefixed != c.prefixed {
			t.Fatalf("byte %#x: prefixed=%v, want %v", c.in, gotPrefixed, c.prefixed)
		}
		for _, b := range enc {
			if b > 0x7F {
				t.Fatalf("byte %#x produced a non-7-bit output byte %#x", c.in, b)
			}
		}
	}
}

func TestDecodeTruncatedEscape(t *testing.T) {
	if _, err := Decode([]byte{prefixLow}); err != errTruncatedEscape {
		t.Fatalf("err = %v, want errTruncatedEscape", err)
	}
}
