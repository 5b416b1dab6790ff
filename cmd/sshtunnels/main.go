//go:build linux

// Command sshtunnels is the daemon entrypoint: it loads the configuration,
// builds the logger, constructs one Tunnel per configured entry, and runs
// the supervisor tick loop until a termination signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alexmarkley/sshtunnels/internal/config"
	"github.com/alexmarkley/sshtunnels/internal/logging"
	"github.com/alexmarkley/sshtunnels/internal/status"
	"github.com/alexmarkley/sshtunnels/internal/supervisor"
	"github.com/alexmarkley/sshtunnels/internal/tunnel"
	"github.com/alexmarkley/sshtunnels/pkg/fmtt"
)

func main() {
	os.Exit(run())
}

func run() int {
	prefix := flag.String("prefix", "/usr/local", "install prefix searched for SSHTunnels_config.xml")
	statusPort := flag.Int("status-port", 0, "if nonzero, serve a read-only status API on 127.0.0.1:<port>")
	flag.Parse()

	configPath, err := config.Find(*prefix)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sshtunnels:", err)
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sshtunnels:", err)
		return 1
	}

	log, err := logging.New("sshtunnels", cfg.LogOutput)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sshtunnels:", err)
		return 1
	}
	defer log.Sync()

	tunnels := make([]*tunnel.Tunnel, 0, len(cfg.Tunnels))
	for i, ts := range cfg.Tunnels {
		tunnels = append(tunnels, tunnel.New(log, tunnel.Config{
			ID:              i + 1,
			Argv:            ts.Argv,
			Envp:            ts.Envp,
			UpTokenEnabled:  ts.UpTokenEnabled,
			UpTokenInterval: time.Duration(ts.UpTokenInterval) * time.Second,
		}))
	}

	sup := supervisor.New(log, tunnels, time.Duration(cfg.SleepTimer)*time.Second)
	stopSignals := sup.WatchSignals()
	defer stopSignals()

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		// Once the tick loop returns, for whatever reason, stop the status
		// server too so that group.Wait can return.
		defer cancelRun()
		return sup.Run()
	})

	if *statusPort != 0 {
		srv := status.New(log, sup, *statusPort)
		group.Go(func() error { return srv.Run(groupCtx) })
	}

	if err := group.Wait(); err != nil {
		log.Error("supervisor exited with error", zap.Error(err))
		fmtt.PrintErrChain(err)
		return 1
	}
	return 0
}
