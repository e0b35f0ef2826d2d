// Package ring implements the circular byte buffer shared by channel
// readers and frame codecs that prefer to decode packets in place.
package ring

// Buffer is a fixed-size circular byte region. Writers append at the tail,
// readers consume from the head; the two-slice accessors let a codec inspect
// the occupied region without forcing a copy when it wraps.
type Buffer struct {
	data     []byte
	readPos  int
	writePos int
	full     bool
}

// MinSize is the smallest capacity callers should request; a channel backed
// by less than this cannot hold a full 'g' segment plus header.
const MinSize = 16 * 1024

// New allocates a Buffer with the given capacity.
func New(size int) *Buffer {
	if size < 1 {
		size = MinSize
	}
	return &Buffer{data: make([]byte, size)}
}

// Len returns the number of unread bytes currently stored.
func (b *Buffer) Len() int {
	if b.full {
		return len(b.data)
	}
	if b.writePos >= b.readPos {
		return b.writePos - b.readPos
	}
	return len(b.data) - b.readPos + b.writePos
}

// Free returns the number of bytes that can still be written before the
// buffer is full.
func (b *Buffer) Free() int {
	return len(b.data) - b.Len()
}

// Write appends p to the buffer, returning the number of bytes actually
// stored (fewer than len(p) if the buffer fills up).
func (b *Buffer) Write(p []byte) int {
	n := 0
	for n < len(p) && b.Free() > 0 {
		b.data[b.writePos] = p[n]
		b.writePos = (b.writePos + 1) % len(b.data)
		n++
		if b.writePos == b.readPos {
			b.full = true
		}
	}
	return n
}

// Read copies up to len(p) unread bytes into p, advancing the read head.
func (b *Buffer) Read(p []byte) int {
	n := 0
	for n < len(p) && b.Len() > 0 {
		p[n] = b.data[b.readPos]
		b.readPos = (b.readPos + 1) % len(b.data)
		b.full = false
		n++
	}
	return n
}

// Peek behaves like Read but does not advance the read head.
func (b *Buffer) Peek(p []byte) int {
	n := 0
	pos := b.readPos
	avail := b.Len()
	for n < len(p) && n < avail {
		p[n] = b.data[pos]
		pos = (pos + 1) % len(b.data)
		n++
	}
	return n
}

// Discard advances the read head by n bytes without copying, used after a
// codec has decoded a packet via First/Second in place.
func (b *Buffer) Discard(n int) {
	if n <= 0 {
		return
	}
	if n > b.Len() {
		n = b.Len()
	}
	b.readPos = (b.readPos + n) % len(b.data)
	if n > 0 {
		b.full = false
	}
}

// First returns the first contiguous slice of unread data; Second returns
// the remainder after a wrap, or nil if the occupied region does not wrap.
// Together they let a codec scan for DLE without a contiguous-memory
// assumption (DESIGN NOTES: "ring-buffered in-place decode").
func (b *Buffer) First() []byte {
	if b.Len() == 0 {
		return nil
	}
	if b.writePos > b.readPos || b.full {
		end := b.writePos
		if b.full && b.writePos <= b.readPos {
			end = len(b.data)
		}
		if end <= b.readPos {
			return b.data[b.readPos:]
		}
		return b.data[b.readPos:end]
	}
	return b.data[b.readPos:]
}

// Second returns the wrapped-around remainder of the occupied region.
func (b *Buffer) Second() []byte {
	if b.writePos > b.readPos || b.Len() == 0 {
		return nil
	}
	return b.data[:b.writePos]
}

// Reset empties the buffer without releasing the backing array.
func (b *Buffer) Reset() {
	b.readPos = 0
	b.writePos = 0
	b.full = false
}
