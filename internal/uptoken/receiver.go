package uptoken

import (
	"fmt"
	"os"
	"time"

	"github.com/alexmarkley/sshtunnels/internal/ioprim"
)

// DefaultIntervalSeconds is the interval assumed when the header fails to
// parse, matching original_source/main.h's UPTOKEN_INTERVAL_DEFAULT.
const DefaultIntervalSeconds = 15

// DeadlineGraceSeconds is added to the interval to form the far end's
// silence deadline.
const DeadlineGraceSeconds = 5

// Receiver is the far-end agent's echo/deadline state machine: read a
// header off stdin, then echo bytes from stdin to stdout until the link
// goes silent for IntervalSeconds+5s.
type Receiver struct {
	stdin, stdout ioprim.FD

	headerParsed   bool
	intervalSecs   int
	headerBuf      []byte
	lastByteAt     time.Time
}

// NewReceiver constructs a Receiver reading from stdin and echoing to
// stdout. stdin must already be non-blocking; stdout may be blocking, in
// which case an echo write waits until the far side has room for it.
func NewReceiver(stdin, stdout ioprim.FD, now time.Time) *Receiver {
	return &Receiver{
		stdin:        stdin,
		stdout:       stdout,
		intervalSecs: DefaultIntervalSeconds,
		lastByteAt:   now,
	}
}

// Deadline reports the wall-clock instant at which the receiver gives up
// absent further input.
func (rv *Receiver) Deadline() time.Time {
	return rv.lastByteAt.Add(time.Duration(rv.intervalSecs+DeadlineGraceSeconds) * time.Second)
}

// Step performs one non-blocking read/echo cycle. It returns ok=false once
// the far end should terminate: either an I/O error occurred, or the
// silence deadline has elapsed.
func (rv *Receiver) Step(now time.Time) (ok bool, err error) {
	buf := make([]byte, BufferSize)
	n, rerr := ioprim.FullRead(rv.stdin, buf)

	if n > 0 {
		rv.lastByteAt = now
		if !rv.headerParsed {
			n = rv.consumeHeader(buf[:n], now)
		}
		if n > 0 {
			if _, werr := ioprim.FullWrite(rv.stdout, buf[:n]); werr != nil {
				return false, werr
			}
		}
	}

	if rerr != nil && rerr != ioprim.ErrWouldBlock {
		return false, rerr
	}

	if now.After(rv.Deadline()) {
		return false, nil
	}
	return true, nil
}

// consumeHeader scans buf for the header's terminating '\n'. Anything after
// the newline is echo-loop data and is shifted to the front of buf; the
// returned count is how many bytes of buf remain to be echoed.
func (rv *Receiver) consumeHeader(buf []byte, now time.Time) int {
	for i, b := range buf {
		if len(rv.headerBuf)+i >= HeaderMaxLen {
			rv.applyHeader(now) // overrun: fall back to defaults, treat the rest as data
			n := copy(buf, buf[i:])
			return n
		}
		if b == '\n' {
			rv.headerBuf = append(rv.headerBuf, buf[:i]...)
			rv.applyHeader(now)
			n := copy(buf, buf[i+1:])
			return n
		}
	}
	rv.headerBuf = append(rv.headerBuf, buf...)
	return 0
}

func (rv *Receiver) applyHeader(now time.Time) {
	rv.headerParsed = true
	parsed, err := ParseHeader(rv.headerBuf)
	if err == nil {
		rv.intervalSecs = parsed.IntervalSeconds
	} else {
		fmt.Fprintf(os.Stderr, "uptoken-receiver: warning: %v; using default interval %ds\n", err, rv.intervalSecs)
	}
	// Malformed header: keep DefaultIntervalSeconds. Not fatal per protocol.
	rv.lastByteAt = now
}
