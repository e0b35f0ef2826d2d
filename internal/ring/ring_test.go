package ring

import "testing"

func TestWriteRead(t *testing.T) {
	b := New(8)
	n := b.Write([]byte{1, 2, 3, 4, 5})
	if n != 5 {
		t.Fatalf("wrote %d, want 5", n)
	}
	out := make([]byte, 5)
	n = b.Read(out)
	if n != 5 {
		t.Fatalf("read %d, want 5", n)
	}
	for i, v := range out {
		if v != byte(i+1) {
			t.Errorf("out[%d] = %d", i, v)
		}
	}
}

func TestWrapAround(t *testing.T) {
	b := New(4)
	b.Write([]byte{1, 2, 3})
	out := make([]byte, 2)
	b.Read(out)
	n := b.Write([]byte{4, 5, 6})
	if n != 3 {
		t.Fatalf("wrote %d, want 3 (free space after reading 2 of 4)", n)
	}
	rest := make([]byte, 4)
	got := b.Read(rest)
	want := []byte{3, 4, 5, 6}
	for i := 0; i < got; i++ {
		if rest[i] != want[i] {
			t.Errorf("rest[%d] = %d, want %d", i, rest[i], want[i])
		}
	}
}

func TestFullBuffer(t *testing.T) {
	b := New(4)
	n := b.Write([]byte{1, 2, 3, 4, 5})
	if n != 4 {
		t.Fatalf("wrote %d, want 4 (capacity)", n)
	}
	if b.Free() != 0 {
		t.Errorf("free = %d, want 0", b.Free())
	}
}

func TestFirstSecondWrap(t *testing.T) {
	b := New(4)
	b.Write([]byte{1, 2, 3, 4})
	out := make([]byte, 2)
	b.Read(out)
	b.Write([]byte{5, 6})
	first := b.First()
	second := b.Second()
	total := append(append([]byte{}, first...), second...)
	want := []byte{3, 4, 5, 6}
	if len(total) != len(want) {
		t.Fatalf("got %v want %v", total, want)
	}
	for i := range want {
		if total[i] != want[i] {
			t.Errorf("byte %d = %d want %d", i, total[i], want[i])
		}
	}
}

func TestDiscard(t *testing.T) {
	b := New(8)
	b.Write([]byte{1, 2, 3, 4})
	b.Discard(2)
	if b.Len() != 2 {
		t.Fatalf("len = %d, want 2", b.Len())
	}
	out := make([]byte, 2)
	b.Read(out)
	if out[0] != 3 || out[1] != 4 {
		t.Errorf("got %v", out)
	}
}
