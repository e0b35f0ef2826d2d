package g

import (
	"context"
	"fmt"
	"time"

	"github.com/openuucp/gouucp/internal/ring"
	"github.com/openuucp/gouucp/pkg/channel"
)

// packet is one fully decoded 'g' frame: its header plus, for DATA and
// SHORTDATA, the raw segment bytes (still SHORTDATA-prefixed if
// applicable — callers that want user data call decodeShortData).
type packet struct {
	hdr     header
	payload []byte
}

// scanner pulls bytes from a channel.Channel into a ring buffer and slices
// out complete 'g' packets, per spec DESIGN NOTES §9's "ring-buffered
// in-place decode": it hunts for DLE, validates the header, and — for data
// packets — waits for the full segment before returning.
type scanner struct {
	ch  channel.Channel
	buf *ring.Buffer
}

func newScanner(ch channel.Channel) *scanner {
	return &scanner{ch: ch, buf: ring.New(ring.MinSize)}
}

// fill tops up the ring buffer with one read, bounded by deadline.
func (s *scanner) fill(deadline time.Time) (bool, error) {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false, nil
	}
	scratch := make([]byte, 4096)
	n, status, err := s.ch.ReadTimeout(scratch, remaining)
	if err != nil {
		return false, err
	}
	if status != channel.StatusOK || n == 0 {
		return false, nil
	}
	s.buf.Write(scratch[:n])
	return true, nil
}

// next reads the next complete packet off the channel, discarding garbage
// bytes up to the next DLE. Returns (nil, nil) on timeout.
func (s *scanner) next(ctx context.Context, deadline time.Time) (*packet, error) {
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if p, ok, badHdr := s.tryParse(); ok {
			return p, nil
		} else if badHdr {
			s.buf.Discard(1)
			return nil, ErrBadHeader
		}
		got, err := s.fill(deadline)
		if err != nil {
			return nil, err
		}
		if !got {
			if time.Now().After(deadline) {
				return nil, nil
			}
		}
	}
}

// tryParse attempts to decode one packet from the buffer without
// consuming a partial one. ok is false if more bytes are needed; badHdr is
// true if a DLE was found but the header failed its XOR self-check (spec
// I1), in which case the caller should drop one byte and keep scanning.
func (s *scanner) tryParse() (p *packet, ok bool, badHdr bool) {
	for s.buf.Len() > 0 {
		var b [1]byte
		s.buf.Peek(b[:])
		if b[0] != dle {
			s.buf.Discard(1)
			continue
		}
		if s.buf.Len() < 6 {
			return nil, false, false
		}
		hdrBuf := make([]byte, 6)
		s.buf.Peek(hdrBuf)
		hdr, err := decodeHeader(hdrBuf)
		if err != nil {
			return nil, false, true
		}
		segLen := segmentSize(hdr.k)
		if segLen == 0 {
			s.buf.Discard(6)
			return &packet{hdr: hdr}, true, false
		}
		if s.buf.Len() < 6+segLen {
			return nil, false, false
		}
		full := make([]byte, 6+segLen)
		s.buf.Peek(full)
		s.buf.Discard(6 + segLen)
		return &packet{hdr: hdr, payload: full[6:]}, true, false
	}
	return nil, false, false
}

func errShortRead(n, want int) error {
	return fmt.Errorf("g: short read, got %d want %d", n, want)
}
