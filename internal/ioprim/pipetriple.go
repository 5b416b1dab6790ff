//go:build linux

package ioprim

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// PipePair is one pipe: a read end and a write end.
type PipePair struct {
	Read, Write FD
}

func (p PipePair) closed() bool { return p.Read == ClosedFD && p.Write == ClosedFD }

// Triple holds the three pipes backing a child's stdin, stdout, and stderr.
// Immediately after creation every one of the six ends is open; ownership is
// split with SplitParent/ChildFiles before the child is launched.
type Triple struct {
	Stdin, Stdout, Stderr PipePair
}

func newPipePair() (PipePair, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return PipePair{ClosedFD, ClosedFD}, err
	}
	return PipePair{Read: FD(fds[0]), Write: FD(fds[1])}, nil
}

// CreateTriple allocates three independent pipes, one per standard stream.
// All six ends carry O_CLOEXEC, so a subsequent execve only keeps descriptors
// explicitly threaded through as the child's stdio — see ChildFiles.
func CreateTriple() (*Triple, error) {
	stdin, err := newPipePair()
	if err != nil {
		return nil, fmt.Errorf("ioprim: stdin pipe: %w", err)
	}
	stdout, err := newPipePair()
	if err != nil {
		_, _ = closeFD(stdin.Read)
		_, _ = closeFD(stdin.Write)
		return nil, fmt.Errorf("ioprim: stdout pipe: %w", err)
	}
	stderr, err := newPipePair()
	if err != nil {
		_, _ = closeFD(stdin.Read)
		_, _ = closeFD(stdin.Write)
		_, _ = closeFD(stdout.Read)
		_, _ = closeFD(stdout.Write)
		return nil, fmt.Errorf("ioprim: stderr pipe: %w", err)
	}
	return &Triple{Stdin: stdin, Stdout: stdout, Stderr: stderr}, nil
}

// ChildFiles wraps the ends the child must retain (stdin-read, stdout-write,
// stderr-write) as *os.File, suitable for assignment to exec.Cmd.Stdin/
// Stdout/Stderr. Because the underlying fds carry O_CLOEXEC, nothing else
// the parent holds leaks across the subsequent execve — this is the
// install-as-std step of the original design, delegated to the kernel via
// O_CLOEXEC plus os/exec's own fork/dup2 machinery instead of hand-rolled
// fork+dup2 code.
//
// Ownership of these three raw fds transfers to the returned *os.File
// values immediately: the Triple forgets them (they read as ClosedFD from
// here on) so that neither SplitParent nor CloseAll ever closes them too.
// The caller is responsible for closing the returned files itself once the
// child has inherited copies via cmd.Start.
func (t *Triple) ChildFiles() (stdin, stdout, stderr *os.File) {
	stdin = os.NewFile(uintptr(t.Stdin.Read), "tunnel-stdin")
	stdout = os.NewFile(uintptr(t.Stdout.Write), "tunnel-stdout")
	stderr = os.NewFile(uintptr(t.Stderr.Write), "tunnel-stderr")

	t.Stdin.Read = ClosedFD
	t.Stdout.Write = ClosedFD
	t.Stderr.Write = ClosedFD

	return
}

// ParentEnds is the set of descriptors the parent retains after a child has
// been launched: the write end of stdin, and the read ends of stdout/stderr.
type ParentEnds struct {
	StdinWrite        FD
	StdoutRead        FD
	StderrRead        FD
}

// SplitParent marks the parent-retained stdout/stderr read ends
// non-blocking, satisfying the invariant that a live tunnel's parent-side
// read ends are always non-blocking. The child-owned ends (stdin-read,
// stdout-write, stderr-write) are not this function's concern: ChildFiles
// already transferred their ownership to the *os.File values handed to
// exec.Cmd, so the caller's Close on those files — not a raw fd close here
// — is what releases them. Closing them again here would be a double close
// against a descriptor number the kernel may already have handed back out
// to an unrelated, concurrently-opened connection.
func (t *Triple) SplitParent() (ParentEnds, error) {
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := SetNonblocking(t.Stdout.Read); err != nil {
		note(fmt.Errorf("set stdout read non-blocking: %w", err))
	}
	if err := SetNonblocking(t.Stderr.Read); err != nil {
		note(fmt.Errorf("set stderr read non-blocking: %w", err))
	}

	return ParentEnds{
		StdinWrite: t.Stdin.Write,
		StdoutRead: t.Stdout.Read,
		StderrRead: t.Stderr.Read,
	}, firstErr
}

// CloseAll idempotently closes any still-open end of the triple.
func (t *Triple) CloseAll() error {
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, pair := range []*PipePair{&t.Stdin, &t.Stdout, &t.Stderr} {
		if fd, err := closeFD(pair.Read); err != nil {
			note(err)
		} else {
			pair.Read = fd
		}
		if fd, err := closeFD(pair.Write); err != nil {
			note(err)
		} else {
			pair.Write = fd
		}
	}
	return firstErr
}

// AllClosed reports whether every end of the triple is closed, the
// `pid = 0 <=> all pipe ends closed` half of the tunnel invariant.
func (t *Triple) AllClosed() bool {
	return t.Stdin.closed() && t.Stdout.closed() && t.Stderr.closed()
}
