// Command corenetd is the ambient demo entrypoint wiring a complete
// corenet.Core and serving its control socket until interrupted.
//
// Generalized from examples/echo/main.go's shape: a flag-configured
// listener brought up under a signal.NotifyContext-driven graceful
// shutdown, substituting corenet.Core's arena/FIB/worker/stack/socket
// stack for that example's bare net.Listener WebSocket echo loop.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openperf/corenet"
	"github.com/openperf/corenet/obs"
)

func main() {
	cfg := corenet.DefaultConfig()

	flag.IntVar(&cfg.ArenaSize, "arena-size", cfg.ArenaSize, "shared-memory arena size in bytes")
	flag.IntVar(&cfg.NumWorkers, "workers", cfg.NumWorkers, "number of pinned worker goroutines")
	flag.IntVar(&cfg.NUMANode, "numa-node", cfg.NUMANode, "NUMA node to pin workers to, -1 to skip pinning")
	flag.BoolVar(&cfg.PinWorkers, "pin-workers", cfg.PinWorkers, "pin worker OS threads to NUMA/CPU")
	flag.StringVar(&cfg.ControlSocketPath, "control-socket", cfg.ControlSocketPath, "AF_UNIX control socket path")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "grace period for in-flight requests during shutdown")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	if *debug {
		obs.SetLevel(logrus.DebugLevel)
	}
	log := obs.For("corenetd")

	core, err := corenet.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "corenetd: %v\n", err)
		os.Exit(1)
	}
	if err := core.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "corenetd: start: %v\n", err)
		os.Exit(1)
	}
	log.WithField("control_socket", cfg.ControlSocketPath).
		WithField("workers", cfg.NumWorkers).
		Info("corenetd started")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	log.Info("shutdown signal received")
	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- core.Shutdown() }()

	select {
	case err := <-shutdownDone:
		if err != nil {
			log.WithField("error", err).Warn("shutdown completed with errors")
		}
	case <-time.After(cfg.ShutdownTimeout):
		log.Warn("shutdown timed out, exiting anyway")
	}
}
