//go:build linux

package supervisor

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/alexmarkley/sshtunnels/internal/tunnel"
)

func TestRunExitsCleanlyOnTermination(t *testing.T) {
	tun := tunnel.New(zap.NewNop(), tunnel.Config{
		ID:              1,
		Argv:            []string{"/bin/cat"},
		Envp:            []string{},
		UpTokenEnabled:  true,
		UpTokenInterval: 100 * time.Millisecond,
	})

	ctx := New(zap.NewNop(), []*tunnel.Tunnel{tun}, 50*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- ctx.Run() }()

	time.Sleep(150 * time.Millisecond)
	ctx.RequestTermination()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not exit after termination was requested")
	}
}

func TestRunStopsOnFatalTunnelError(t *testing.T) {
	// An argv that can never exec successfully (nonexistent binary) makes
	// launch fail, which Maintain reports as a *tunnel.FatalError.
	tun := tunnel.New(zap.NewNop(), tunnel.Config{
		ID:              1,
		Argv:            []string{"/nonexistent/binary/path"},
		Envp:            []string{},
		UpTokenEnabled:  false,
		UpTokenInterval: time.Second,
	})

	ctx := New(zap.NewNop(), []*tunnel.Tunnel{tun}, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- ctx.Run() }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected Run to return a fatal error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not exit after fatal tunnel error")
	}
}
