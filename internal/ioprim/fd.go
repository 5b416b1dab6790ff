//go:build linux

// Package ioprim provides the raw file-descriptor primitives the tunnel
// supervisor is built on: short-I/O-tolerant read/write, non-blocking mode,
// and a triple-pipe abstraction with an explicit parent/child ownership
// split suitable for wiring into os/exec without leaking descriptors.
//
// Everything here operates on raw integer file descriptors obtained from
// golang.org/x/sys/unix rather than *os.File, because the Go runtime's
// netpoller silently turns a "non-blocking" os.File read into a parked
// goroutine — exactly the blocking behavior the tick-driven supervisor loop
// must not exhibit.
package ioprim

import (
	"errors"

	"golang.org/x/sys/unix"
)

// FD is a raw file descriptor. ClosedFD is the sentinel value for "this end
// is not open", mirroring the -1 convention in the original C sources.
type FD int

const ClosedFD FD = -1

// ErrWouldBlock is returned by FullRead when a non-blocking read reports
// EAGAIN/EWOULDBLOCK before any byte was read, and by FullWrite when a write
// makes no progress without reporting an error. FullWrite returns a kernel
// EAGAIN as-is, not as ErrWouldBlock.
var ErrWouldBlock = errors.New("ioprim: operation would block")

func (fd FD) valid() bool { return fd != ClosedFD }

// closeFD closes fd if open and returns ClosedFD (on a close error it returns
// fd unchanged with the error); for ClosedFD it is a no-op.
func closeFD(fd FD) (FD, error) {
	if fd == ClosedFD {
		return ClosedFD, nil
	}
	if err := unix.Close(int(fd)); err != nil {
		return fd, err
	}
	return ClosedFD, nil
}

// Close closes fd; for the ClosedFD sentinel it is a no-op. FD is a value,
// so Close does not mark the caller's copy as closed: calling it twice on the
// same descriptor number closes that number twice. Exported for callers outside this
// package that own a raw descriptor directly (e.g. cmd/uptoken-receiver,
// tests).
func (fd FD) Close() error {
	_, err := closeFD(fd)
	return err
}

// SetNonblocking puts fd into O_NONBLOCK mode.
func SetNonblocking(fd FD) error {
	return unix.SetNonblock(int(fd), true)
}
