package channel

import (
	"testing"
	"time"
)

func TestPipeWriteRead(t *testing.T) {
	a, b := NewPipePair(false)
	defer a.Close()
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		done <- a.Write([]byte("hello"))
	}()

	buf := make([]byte, 5)
	n, status, err := b.ReadTimeout(buf, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusOK {
		t.Fatalf("status = %v", status)
	}
	if n != 5 || string(buf) != "hello" {
		t.Fatalf("got %q", buf[:n])
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestPipeReadTimeout(t *testing.T) {
	a, b := NewPipePair(false)
	defer a.Close()
	defer b.Close()

	buf := make([]byte, 1)
	_, status, err := b.ReadTimeout(buf, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusTimeout {
		t.Fatalf("status = %v, want timeout", status)
	}
}

func TestRecvByte(t *testing.T) {
	a, b := NewPipePair(false)
	defer a.Close()
	defer b.Close()

	go a.Write([]byte{0x42})
	got, status, err := b.RecvByte(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusOK || got != 0x42 {
		t.Fatalf("got %x status %v", got, status)
	}
}

func TestHalfDuplexFlag(t *testing.T) {
	a, _ := NewPipePair(true)
	defer a.Close()
	if !a.HalfDuplex() {
		t.Fatal("expected half duplex channel")
	}
}

func TestCloseRejectsWrite(t *testing.T) {
	a, b := NewPipePair(false)
	defer b.Close()
	a.Close()
	if err := a.Write([]byte("x")); err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
