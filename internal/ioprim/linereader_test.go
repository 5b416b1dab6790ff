//go:build linux

package ioprim

import (
	"reflect"
	"testing"
)

func TestLineReaderBuffersPartialTail(t *testing.T) {
	r, w := pipe(t)
	defer closeFD(r)
	defer closeFD(w)
	if err := SetNonblocking(r); err != nil {
		t.Fatalf("SetNonblocking: %v", err)
	}

	lr := NewLineReader(r)

	if _, err := FullWrite(w, []byte("first line\nsecond line\npartial")); err != nil {
		t.Fatalf("FullWrite: %v", err)
	}

	lines, err := lr.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	want := []string{"first line", "second line"}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("got %v want %v", lines, want)
	}

	if _, err := FullWrite(w, []byte(" completed\n")); err != nil {
		t.Fatalf("FullWrite: %v", err)
	}
	lines, err = lr.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	want = []string{"partial completed"}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("got %v want %v", lines, want)
	}
}

func TestLineReaderNoDataReturnsNoLinesNoError(t *testing.T) {
	r, w := pipe(t)
	defer closeFD(r)
	defer closeFD(w)
	if err := SetNonblocking(r); err != nil {
		t.Fatalf("SetNonblocking: %v", err)
	}

	lr := NewLineReader(r)
	lines, err := lr.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no lines, got %v", lines)
	}
}
