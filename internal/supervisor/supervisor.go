//go:build linux

// Package supervisor runs the single-threaded tick loop that maintains a
// fixed set of tunnels, and the signal plumbing that terminates it cleanly.
package supervisor

import (
	"context"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/alexmarkley/sshtunnels/internal/tunnel"
)

// Context is the explicit, non-global state the original program kept as
// process-wide singletons (log sink, log name, termination flag, tunnel
// list) — see SPEC_FULL.md/Design Notes §9. Signals remain the one
// unavoidable global; they deposit their notification into terminating,
// which is read through Context rather than a package-level variable.
type Context struct {
	Log     *zap.Logger
	Tunnels []*tunnel.Tunnel

	SleepInterval time.Duration

	terminating atomic.Bool

	// snapshotMu guards snapshot, the once-per-tick published view of every
	// tunnel's state (SPEC_FULL.md §6.5). The tick loop is the sole writer;
	// the status HTTP server's goroutines are readers. Tunnel fields
	// themselves are never read cross-goroutine — only this published copy
	// is, which is what keeps the status surface from racing the tick loop.
	snapshotMu sync.RWMutex
	snapshot   []tunnel.Snapshot
}

// New constructs a supervisor Context. Ownership of tunnels passes to the
// Context: Run's teardown path closes every one of them.
func New(log *zap.Logger, tunnels []*tunnel.Tunnel, sleepInterval time.Duration) *Context {
	return &Context{Log: log, Tunnels: tunnels, SleepInterval: sleepInterval}
}

// Terminating reports whether a termination signal has been observed.
func (c *Context) Terminating() bool { return c.terminating.Load() }

// Snapshot returns the most recently published per-tunnel state, satisfying
// status.TunnelLister. Safe to call from any goroutine.
func (c *Context) Snapshot() []tunnel.Snapshot {
	c.snapshotMu.RLock()
	defer c.snapshotMu.RUnlock()
	out := make([]tunnel.Snapshot, len(c.snapshot))
	copy(out, c.snapshot)
	return out
}

// publishSnapshot is called once per tick, from the tick-loop goroutine, so
// every tunnel.Snapshot it takes observes a consistent, non-racing view of
// that tunnel's fields.
func (c *Context) publishSnapshot(now time.Time) {
	fresh := make([]tunnel.Snapshot, len(c.Tunnels))
	for i, t := range c.Tunnels {
		fresh[i] = t.Snapshot(now)
	}
	c.snapshotMu.Lock()
	c.snapshot = fresh
	c.snapshotMu.Unlock()
}

// TunnelByID finds a supervised tunnel by its stable id, satisfying
// status.TunnelLister. Only RecentLogs is safe to call on the result from
// another goroutine — it has its own internal lock (internal/tunnel's
// logRing) — every other *Tunnel method must stay on the tick-loop
// goroutine; use Snapshot for those.
func (c *Context) TunnelByID(id int) (*tunnel.Tunnel, bool) {
	for _, t := range c.Tunnels {
		if t.ID() == id {
			return t, true
		}
	}
	return nil, false
}

// RequestTermination is invoked by the signal handler (or directly by a
// test) to begin graceful shutdown.
func (c *Context) RequestTermination() { c.terminating.Store(true) }

// WatchSignals arranges for SIGINT, SIGHUP, and SIGTERM to call
// RequestTermination, and neutralizes SIGPIPE so that a dying child's
// closed stdin can never kill the supervisor (SPEC_FULL.md §7). It returns
// a stop function the caller should defer.
func (c *Context) WatchSignals() (stop func()) {
	signal.Ignore(syscall.SIGPIPE)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.Log.Info("caught termination signal")
			c.RequestTermination()
		case <-done:
		}
	}()
	return func() {
		close(done)
		cancel()
	}
}

// Run executes the tick loop until termination is requested or a tunnel
// reports a fatal error. It always tears every tunnel down before
// returning, matching the original's atexit(teardown_tunnels).
func (c *Context) Run() error {
	defer c.teardown()

	for !c.Terminating() {
		now := time.Now()
		for _, t := range c.Tunnels {
			if c.Terminating() {
				break
			}
			if err := t.Maintain(now); err != nil {
				c.Log.Error("fatal tunnel error; supervisor exiting", zap.Error(err), zap.Int("tunnel_id", t.ID()))
				return err
			}
		}
		c.publishSnapshot(now)
		c.sleepUntilNextTickOrSignal()
	}
	return nil
}

// sleepUntilNextTickOrSignal sleeps in ~1s granules so that a termination
// signal arriving mid-sleep is noticed promptly rather than only at the
// next tick boundary.
func (c *Context) sleepUntilNextTickOrSignal() {
	deadline := time.Now().Add(c.SleepInterval)
	for time.Now().Before(deadline) {
		if c.Terminating() {
			return
		}
		remaining := time.Until(deadline)
		step := time.Second
		if remaining < step {
			step = remaining
		}
		if step > 0 {
			time.Sleep(step)
		}
	}
}

func (c *Context) teardown() {
	c.Log.Info("tearing down all tunnels")
	for _, t := range c.Tunnels {
		t.Close()
	}
}
