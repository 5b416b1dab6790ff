//go:build linux

// Package tunnel implements the supervised child-process state machine: one
// Tunnel per configured SSH command, launched, heartbeat-checked, and
// relaunched with exponential back-off by the supervisor's tick loop.
package tunnel

import (
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/alexmarkley/sshtunnels/internal/ioprim"
	"github.com/alexmarkley/sshtunnels/internal/uptoken"
)

// TroubleMax is the saturation ceiling for the consecutive-failure counter.
const TroubleMax = 8

// TroubleResetSeconds is how long a child must run before trouble resets.
const TroubleResetSeconds = 300 * time.Second

// magicWords are the fixed, case-insensitive diagnostic substrings that
// condemn a tunnel the moment they appear in drained output.
var magicWords = []string{"port forwarding failed", "combat check failed"}

// FatalError marks a tunnel-scoped failure that the supervisor cannot
// recover from by restarting the tunnel — fork/pipe/fcntl trouble during
// launch, or a waitpid error. The supervisor's tick loop treats this as
// fatal and exits, unlike a condemned child, which is routine.
type FatalError struct {
	TunnelID int
	Op       string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("tunnel %d: %s: %v", e.TunnelID, e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Tunnel is the central supervised entity: one configured command, its
// current child (if any), its heartbeat state, and its back-off schedule.
type Tunnel struct {
	log *zap.Logger
	id  int

	argv []string
	envp []string

	uptokenEnabled  bool
	uptokenInterval time.Duration

	pid     int
	pipes   *ioprim.Triple
	parent  ioprim.ParentEnds
	stderrR *ioprim.LineReader
	stdoutR *ioprim.LineReader // only drained when uptoken is disabled

	uptokenActive bool
	uptokenValue  byte
	uptokenSentAt time.Time

	trouble           int
	relaunchNotBefore time.Time
	pidLaunchedAt     time.Time
	condemned         bool

	logs *logRing
}

// Config describes the immutable parameters a Tunnel is created with.
type Config struct {
	ID              int
	Argv            []string
	Envp            []string
	UpTokenEnabled  bool
	UpTokenInterval time.Duration
}

// New constructs a Tunnel in its Idle state. It performs no I/O.
func New(log *zap.Logger, cfg Config) *Tunnel {
	if !cfg.UpTokenEnabled {
		log.Warn("tunnel UpToken is disabled; cannot reliably detect a silently dead tunnel",
			zap.Int("tunnel_id", cfg.ID))
	}
	return &Tunnel{
		log:             log.With(zap.Int("tunnel_id", cfg.ID)),
		id:              cfg.ID,
		argv:            cfg.Argv,
		envp:            cfg.Envp,
		uptokenEnabled:  cfg.UpTokenEnabled,
		uptokenInterval: cfg.UpTokenInterval,
		logs:            &logRing{},
	}
}

// ID returns the tunnel's stable identifier.
func (t *Tunnel) ID() int { return t.id }

// Running reports whether a child currently exists.
func (t *Tunnel) Running() bool { return t.pid != 0 }

// RecentLogs returns up to n of this tunnel's most recently drained output
// lines, newest first. Serves the optional status HTTP surface.
func (t *Tunnel) RecentLogs(n int) []string { return t.logs.recent(n) }

// Snapshot is an immutable, point-in-time view of a Tunnel's state, cheap to
// copy and safe to hand to another goroutine. The supervisor takes one per
// tick and publishes the whole batch under a lock; see
// internal/supervisor.Context.Snapshot.
type Snapshot struct {
	ID                int
	PID               int
	Trouble           int
	Condemned         bool
	RelaunchNotBefore time.Time
	Heartbeat         string
}

// Snapshot captures t's current state as of now. Like Maintain, this must
// only be called from the goroutine that owns t (the supervisor's tick
// loop): it reads the same fields Maintain mutates, without its own lock,
// because within that goroutine there is never a concurrent writer.
func (t *Tunnel) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		ID:                t.id,
		PID:               t.pid,
		Trouble:           t.trouble,
		Condemned:         t.condemned,
		RelaunchNotBefore: t.relaunchNotBefore,
		Heartbeat:         t.heartbeatState(now),
	}
}

// heartbeatState names which phase of the check-then-issue cycle (§9 Design
// Notes #3) a tunnel is currently in.
func (t *Tunnel) heartbeatState(now time.Time) string {
	switch {
	case !t.uptokenEnabled:
		return "disabled"
	case !t.uptokenActive:
		return "awaiting-challenge"
	case now.Before(t.uptokenSentAt.Add(t.uptokenInterval)):
		return "awaiting-response"
	default:
		return "checking-response"
	}
}

// Maintain performs one maintenance tick in the order the state machine
// requires: launch-if-idle, drain, trouble reset, heartbeat, condemnation
// signal, reap. A non-nil error is always a *FatalError and means the
// supervisor must stop.
func (t *Tunnel) Maintain(now time.Time) error {
	if t.pid == 0 && !now.Before(t.relaunchNotBefore) {
		if err := t.launch(now); err != nil {
			return &FatalError{TunnelID: t.id, Op: "launch", Err: err}
		}
	}

	t.drain(now)

	if t.pid != 0 {
		if t.trouble > 0 && now.Sub(t.pidLaunchedAt) > TroubleResetSeconds {
			t.log.Info("resetting trouble counter")
			t.trouble = 0
		}

		t.heartbeat(now)

		if t.condemned {
			t.log.Warn("tunnel condemned; sending SIGTERM", zap.Int("pid", t.pid))
			if err := syscall.Kill(t.pid, syscall.SIGTERM); err != nil {
				t.log.Warn("SIGTERM failed", zap.Error(err), zap.Int("pid", t.pid))
			}
		}

		if err := t.reap(now); err != nil {
			return &FatalError{TunnelID: t.id, Op: "waitpid", Err: err}
		}
	}

	return nil
}

// drain harvests stderr (and stdout, when heartbeats are disabled) into the
// log and runs the magic-word scanner over every line.
func (t *Tunnel) drain(now time.Time) {
	if t.stderrR != nil {
		lines, err := t.stderrR.Drain()
		if err != nil {
			t.log.Warn("stderr drain failed", zap.Error(err))
		}
		for _, line := range lines {
			t.log.Info(line, zap.String("stream", "stderr"))
			t.logs.append(line)
			t.scanMagicWords(line)
		}
	}

	if !t.uptokenEnabled && t.stdoutR != nil {
		lines, err := t.stdoutR.Drain()
		if err != nil {
			t.log.Warn("stdout drain failed", zap.Error(err))
		}
		for _, line := range lines {
			t.log.Info(line, zap.String("stream", "stdout"))
			t.logs.append(line)
			t.scanMagicWords(line)
		}
	}
}

func (t *Tunnel) scanMagicWords(line string) {
	lower := strings.ToLower(line)
	for _, word := range magicWords {
		if strings.Contains(lower, word) {
			t.log.Error("magic words discovered in tunnel output", zap.String("phrase", word))
			t.condemned = true
			return
		}
	}
}

// heartbeat implements the check-then-issue ordering: if a challenge is
// outstanding and its interval has elapsed, check the response first; then,
// if no challenge is active (freshly cleared or never sent), issue a new
// one. Both may happen within the same tick, matching the original's
// behavior (documented as an open question in the design notes).
func (t *Tunnel) heartbeat(now time.Time) {
	if !t.uptokenEnabled || t.condemned {
		return
	}
	if t.parent.StdinWrite == ioprim.ClosedFD || t.parent.StdoutRead == ioprim.ClosedFD {
		return
	}

	t.log.Debug("heartbeat tick", zap.Bool("uptoken_active", t.uptokenActive),
		zap.Time("uptoken_sent_at", t.uptokenSentAt), zap.Time("now", now))

	if t.uptokenActive && !now.Before(t.uptokenSentAt.Add(t.uptokenInterval)) {
		t.checkResponse()
	}

	if !t.uptokenActive {
		t.issueChallenge(now)
	}
}

func (t *Tunnel) checkResponse() {
	buf := make([]byte, uptoken.BufferSize-1)
	n, err := ioprim.FullRead(t.parent.StdoutRead, buf)
	switch {
	case err != nil && err != ioprim.ErrWouldBlock:
		t.log.Error("uptoken read failed", zap.Error(err))
		t.condemned = true
	case n < 2:
		t.log.Warn("uptoken read didn't return enough bytes; challenge did not come back")
		t.condemned = true
	case buf[0] != t.uptokenValue:
		t.log.Warn("uptoken mismatch; far end sent something unexpected")
		t.condemned = true
	default:
		t.uptokenActive = false
	}
}

func (t *Tunnel) issueChallenge(now time.Time) {
	token := uptoken.NewChallenge()
	wire := uptoken.EncodeChallenge(token)
	n, err := ioprim.FullWrite(t.parent.StdinWrite, wire)
	if err != nil || n != len(wire) {
		t.log.Error("uptoken write failed", zap.Error(err))
		t.condemned = true
		return
	}
	t.uptokenValue = token
	t.uptokenSentAt = now
	t.uptokenActive = true
}

// reap performs one non-blocking waitpid. On a hit it clears pid/uptoken,
// bumps trouble, schedules relaunchNotBefore, and closes remaining pipes.
func (t *Tunnel) reap(now time.Time) error {
	var status syscall.WaitStatus
	wpid, err := syscall.Wait4(t.pid, &status, syscall.WNOHANG, nil)
	if err != nil {
		return err
	}
	if wpid != t.pid {
		return nil
	}

	t.log.Warn("child process exited", zap.Int("pid", t.pid), zap.Int("exit_status", status.ExitStatus()),
		zap.Bool("signaled", status.Signaled()))

	t.pid = 0
	t.uptokenActive = false
	t.condemned = false

	if t.trouble < TroubleMax {
		t.trouble++
	}
	delay := time.Duration(1<<uint(t.trouble)) * time.Second
	t.relaunchNotBefore = now.Add(delay)
	t.log.Info("will wait before relaunching", zap.Duration("delay", delay))

	if t.pipes != nil {
		_ = t.pipes.CloseAll()
		t.pipes = nil
	}
	t.stderrR = nil
	t.stdoutR = nil
	t.parent = ioprim.ParentEnds{StdinWrite: ioprim.ClosedFD, StdoutRead: ioprim.ClosedFD, StderrRead: ioprim.ClosedFD}

	return nil
}

// launch creates the pipe triple, forks+execs the child, splits the pipe
// ownership, and — if heartbeats are enabled — writes the header.
func (t *Tunnel) launch(now time.Time) error {
	t.log.Info("launching child process", zap.String("argv", strings.Join(t.argv, " ")))

	triple, err := ioprim.CreateTriple()
	if err != nil {
		return fmt.Errorf("couldn't create pipes: %w", err)
	}

	stdin, stdout, stderr := triple.ChildFiles()
	defer stdin.Close()
	defer stdout.Close()
	defer stderr.Close()

	cmd := exec.Command(t.argv[0], t.argv[1:]...)
	cmd.Env = t.envp
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}

	if err := cmd.Start(); err != nil {
		_ = triple.CloseAll()
		return fmt.Errorf("call to exec failed: %w", err)
	}

	parent, err := triple.SplitParent()
	if err != nil {
		_ = triple.CloseAll()
		return fmt.Errorf("pipe split failed: %w", err)
	}

	t.pid = cmd.Process.Pid
	t.pipes = triple
	t.parent = parent
	t.stderrR = ioprim.NewLineReader(parent.StderrRead)
	if !t.uptokenEnabled {
		t.stdoutR = ioprim.NewLineReader(parent.StdoutRead)
	}
	t.pidLaunchedAt = now
	t.condemned = false
	t.uptokenActive = false

	t.log.Info("child process launched", zap.Int("pid", t.pid))

	if t.uptokenEnabled {
		header := uptoken.EncodeHeader(int(t.uptokenInterval.Seconds()))
		n, err := ioprim.FullWrite(parent.StdinWrite, header)
		if err != nil || n != len(header) {
			return fmt.Errorf("failed writing uptoken header: %w", err)
		}
	}

	return nil
}

// Close is invoked at supervisor teardown: SIGTERM the live child, reap it
// synchronously, and close pipes. Unlike Maintain's reap, this may block
// briefly waiting for the child to die.
func (t *Tunnel) Close() {
	if t.pid == 0 {
		return
	}
	t.log.Info("sending SIGTERM during teardown", zap.Int("pid", t.pid))
	if err := syscall.Kill(t.pid, syscall.SIGTERM); err != nil {
		t.log.Warn("SIGTERM failed", zap.Error(err), zap.Int("pid", t.pid))
	}

	var status syscall.WaitStatus
	_, _ = syscall.Wait4(t.pid, &status, 0, nil)
	t.pid = 0

	if t.pipes != nil {
		_ = t.pipes.CloseAll()
		t.pipes = nil
	}
}
