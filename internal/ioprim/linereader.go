//go:build linux

package ioprim

import (
	"bytes"
	"errors"
)

// LineReader harvests complete lines from a non-blocking file descriptor,
// one drain per call, buffering any trailing partial line for the next
// call rather than emitting it as though it were complete — a deliberate
// correctness improvement over the original's per-tick fragment handling
// (see SPEC_FULL.md design note #2): a magic-word scan across a fragment
// split by an unlucky tick boundary would otherwise miss the match.
type LineReader struct {
	fd      FD
	partial []byte
}

// NewLineReader wraps fd, which must already be non-blocking.
func NewLineReader(fd FD) *LineReader {
	return &LineReader{fd: fd}
}

// Drain reads everything currently available on fd and returns the complete
// lines it contains (newline stripped), in order. Any bytes after the last
// newline are retained and prepended on the next call. Returns a nil error
// on a clean drain (including ErrWouldBlock, which just means "nothing more
// right now"); a non-nil error indicates a genuine read failure the caller
// should treat as tunnel-scoped trouble.
func (r *LineReader) Drain() ([]string, error) {
	const chunkSize = 4096

	buf := make([]byte, chunkSize)
	for {
		n, err := FullRead(r.fd, buf)
		if n > 0 {
			r.partial = append(r.partial, buf[:n]...)
		}
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				break
			}
			return r.splitComplete(), err
		}
		if n < chunkSize {
			// Short read with no error means we drained what the kernel had
			// buffered right now (EOF or a partial, non-blocking fill).
			break
		}
	}
	return r.splitComplete(), nil
}

// splitComplete extracts complete, newline-terminated lines from r.partial,
// leaving any trailing fragment buffered.
func (r *LineReader) splitComplete() []string {
	var lines []string
	for {
		idx := bytes.IndexByte(r.partial, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(r.partial[:idx]))
		r.partial = r.partial[idx+1:]
	}
	// Compact so the backing array doesn't grow without bound across ticks.
	if len(r.partial) > 0 {
		fresh := make([]byte, len(r.partial))
		copy(fresh, r.partial)
		r.partial = fresh
	} else {
		r.partial = nil
	}
	return lines
}
