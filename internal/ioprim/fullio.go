//go:build linux

package ioprim

import (
	"errors"

	"golang.org/x/sys/unix"
)

// FullWrite writes every byte of buf to fd, restarting on short writes.
// Behavior matches write_all() in the original C source: a zero-byte write
// with no error is not a legal outcome (the kernel doesn't do this for
// blocking writes, and for non-blocking writes it returns EAGAIN instead),
// so it is synthesized as ErrWouldBlock rather than silently spun on.
func FullWrite(fd FD, buf []byte) (int, error) {
	var written int
	for written < len(buf) {
		n, err := unix.Write(int(fd), buf[written:])
		if n == 0 && err == nil {
			return written, ErrWouldBlock
		}
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return written, err
		}
		written += n
	}
	return written, nil
}

// FullRead reads up to len(buf) bytes into buf, continuing on short reads
// until buf is full, end-of-stream is reached, or an error occurs.
//
// If at least one byte was already accumulated when EOF or would-block is
// reported, those bytes are returned with a nil error in preference to the
// sentinel — the heartbeat reader must be content with partial data, unlike
// FullWrite which treats any incompleteness as failure.
func FullRead(fd FD, buf []byte) (int, error) {
	var read int
	for read < len(buf) {
		n, err := unix.Read(int(fd), buf[read:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if read > 0 {
				return read, nil
			}
			if errors.Is(err, unix.EAGAIN) {
				return 0, ErrWouldBlock
			}
			return 0, err
		}
		if n == 0 {
			// End of stream (far end closed its write end).
			return read, nil
		}
		read += n
	}
	return read, nil
}
