//go:build linux

package ioprim

import (
	"bytes"
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func pipe(t *testing.T) (r, w FD) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	return FD(fds[0]), FD(fds[1])
}

func TestFullWriteFullRead(t *testing.T) {
	r, w := pipe(t)
	defer closeFD(r)
	defer closeFD(w)

	payload := bytes.Repeat([]byte("x"), 70000) // larger than one pipe buffer
	done := make(chan error, 1)
	go func() {
		_, err := FullWrite(w, payload)
		closeFD(w)
		done <- err
	}()

	got := make([]byte, len(payload))
	pos := 0
	for pos < len(got) {
		n, err := FullRead(r, got[pos:])
		if err != nil {
			t.Fatalf("FullRead: %v", err)
		}
		if n == 0 {
			break
		}
		pos += n
	}
	if err := <-done; err != nil {
		t.Fatalf("FullWrite: %v", err)
	}
	if pos != len(payload) {
		t.Fatalf("short read: got %d want %d", pos, len(payload))
	}
	if !bytes.Equal(got[:pos], payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestFullReadWouldBlockOnEmptyNonblockingPipe(t *testing.T) {
	r, w := pipe(t)
	defer closeFD(w)
	if err := SetNonblocking(r); err != nil {
		t.Fatalf("SetNonblocking: %v", err)
	}

	buf := make([]byte, 8)
	n, err := FullRead(r, buf)
	if n != 0 || !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("expected (0, ErrWouldBlock), got (%d, %v)", n, err)
	}
}

func TestFullReadReturnsPartialOnEOFWithoutError(t *testing.T) {
	r, w := pipe(t)
	if _, err := FullWrite(w, []byte("hi")); err != nil {
		t.Fatalf("FullWrite: %v", err)
	}
	closeFD(w)
	defer closeFD(r)

	buf := make([]byte, 8)
	n, err := FullRead(r, buf)
	if err != nil {
		t.Fatalf("FullRead: %v", err)
	}
	if string(buf[:n]) != "hi" {
		t.Fatalf("got %q want %q", buf[:n], "hi")
	}
}
