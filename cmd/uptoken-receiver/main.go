//go:build linux

// Command uptoken-receiver runs at the far end of a tunnel: it reads the
// UpToken header and echoes subsequent challenge bytes back to the
// supervisor, killing its own parent process when the link goes silent.
// There is no successful terminal state; it always exits non-zero.
package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/alexmarkley/sshtunnels/internal/ioprim"
	"github.com/alexmarkley/sshtunnels/internal/uptoken"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Refuse to run interactively: a mistaken invocation here would
	// terminate the user's own shell via the SIGTERM-to-parent mechanism
	// below.
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Fprintln(os.Stderr, "uptoken-receiver: refusing to run attached to a terminal")
		return 1
	}

	stdin := ioprim.FD(os.Stdin.Fd())
	stdout := ioprim.FD(os.Stdout.Fd())
	if err := ioprim.SetNonblocking(stdin); err != nil {
		fmt.Fprintln(os.Stderr, "uptoken-receiver:", err)
		return 1
	}

	rv := uptoken.NewReceiver(stdin, stdout, time.Now())

	for {
		ok, err := rv.Step(time.Now())
		if !ok {
			if err != nil {
				fmt.Fprintln(os.Stderr, "uptoken-receiver:", err)
			} else {
				fmt.Fprintln(os.Stderr, "uptoken-receiver: timeout waiting for UpToken")
			}
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	ppid := syscall.Getppid()
	fmt.Fprintf(os.Stderr, "uptoken-receiver: sending SIGTERM to parent process (%d)\n", ppid)
	if err := syscall.Kill(ppid, syscall.SIGTERM); err != nil {
		fmt.Fprintln(os.Stderr, "uptoken-receiver: kill failed:", err)
	}

	return 1
}
