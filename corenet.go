// Package corenet is the top-level facade orchestrating every
// subsystem: the shared-memory arena, the FIB/TIB forwarding tables,
// the pinned worker runtime, the TCP/IP stack adapter, the Unix
// socket control-plane server, and the traffic generator/learning
// engine. One call to New followed by Start brings up a fully wired
// core; Shutdown tears it down in reverse dependency order.
//
// Generalized from the teacher's facade.HioloadWS: the same
// config-struct-plus-one-call-constructor shape, the same
// mutex-guarded started flag, the same Submit/RegisterHandler
// surface — wired to this core's subsystems instead of a WebSocket
// transport and session manager.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package corenet

import (
	"sync"
	"time"

	"github.com/openperf/corenet/control"
	"github.com/openperf/corenet/errs"
	"github.com/openperf/corenet/internal/arena"
	"github.com/openperf/corenet/internal/fib"
	"github.com/openperf/corenet/internal/netstack"
	"github.com/openperf/corenet/internal/socket"
	"github.com/openperf/corenet/internal/worker"
	"github.com/openperf/corenet/obs"
)

var log = obs.For("corenet")

// Config exposes every tunable the core needs to start, grounded on
// facade.Config's flat, fully-defaulted shape.
type Config struct {
	ArenaSize         int
	NumWorkers        int
	NUMANode          int
	PinWorkers        bool
	WorkerMode        worker.Mode
	ControlSocketPath string
	ShutdownTimeout   time.Duration
}

// DefaultConfig mirrors facade.DefaultConfig's role: a sane baseline
// a caller can tweak before passing to New.
func DefaultConfig() *Config {
	return &Config{
		ArenaSize:         64 << 20,
		NumWorkers:        4,
		NUMANode:          -1,
		PinWorkers:        false,
		WorkerMode:        worker.ModePollable,
		ControlSocketPath: "/run/corenet/control.sock",
		ShutdownTimeout:   10 * time.Second,
	}
}

// Core is the main facade struct, bundling every subsystem behind one
// lifecycle.
type Core struct {
	config *Config

	arena     *arena.Arena
	reclaimer *fib.Reclaimer
	fib       *fib.FIB
	tib       *fib.TIB
	runtime   *worker.Runtime
	stack     netstack.Stack
	server    *socket.Server

	configStore *control.ConfigStore
	metrics     *control.MetricsRegistry
	debug       *control.DebugProbes

	metricsStop chan struct{}

	mu      sync.RWMutex
	started bool
}

// New constructs every subsystem but does not yet start the worker
// runtime or the control-plane server; call Start for that.
func New(cfg *Config) (*Core, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.NumWorkers < 1 {
		return nil, errs.New(errs.Invalid, "NumWorkers must be at least 1")
	}

	c := &Core{config: cfg}
	c.arena = arena.New(cfg.ArenaSize)

	workerCfgs := make([]worker.Config, cfg.NumWorkers)
	for i := range workerCfgs {
		workerCfgs[i] = worker.Config{
			ID:    i,
			NUMA:  cfg.NUMANode,
			CPU:   -1,
			Mode:  cfg.WorkerMode,
			PinOS: cfg.PinWorkers,
		}
	}
	rt, reclaimer := worker.New(workerCfgs)
	c.runtime = rt
	c.reclaimer = reclaimer
	c.fib = fib.New(reclaimer)
	c.tib = fib.NewTIB(reclaimer)

	c.stack = netstack.NewLoopbackStack()

	srv, err := socket.NewServer(cfg.ControlSocketPath, c.arena, c.stack)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "starting control socket server", err)
	}
	c.server = srv

	c.configStore, c.metrics, c.debug = newControlPlane()
	c.debug.RegisterProbe("corenet.started", func() any { return c.started })

	return c, nil
}

// Start launches the worker runtime and the control-plane server's
// accept loop.
func (c *Core) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	c.runtime.Start()
	go func() {
		if err := c.server.Serve(); err != nil {
			log.WithField("error", err).Warn("control socket server stopped")
		}
	}()
	c.started = true
	c.startMetricsSampler()
	log.WithField("workers", c.runtime.NumWorkers()).Info("core started")
	return nil
}

// Shutdown tears down the control-plane server and the worker runtime
// in reverse dependency order. The underlying stack is not closed.
func (c *Core) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	if err := c.server.Shutdown(); err != nil {
		log.WithField("error", err).Warn("control socket server shutdown error")
	}
	close(c.metricsStop)
	c.runtime.Shutdown()
	c.started = false
	log.Info("core shut down")
	return nil
}

// Submit dispatches a task onto the worker that owns workerID's
// queue, e.g. a newly-enabled generator's TX-scheduler poll task.
func (c *Core) Submit(workerID int, t worker.Task) error {
	return c.runtime.Submit(workerID, t)
}

// RegisterHandler attaches a per-iteration poll callback to the given
// worker, mirroring facade.RegisterHandler's role of wiring a new
// endpoint into the event loop.
func (c *Core) RegisterHandler(workerID int, fn func() bool) error {
	return c.runtime.RegisterPollSource(workerID, fn)
}

// FIB exposes the forwarding table for interface/port wiring done
// outside the facade (e.g. by a management API this core doesn't
// itself implement).
func (c *Core) FIB() *fib.FIB { return c.fib }

// TIB exposes the transmit information base backing generator sources.
func (c *Core) TIB() *fib.TIB { return c.tib }

// Stack exposes the TCP/IP stack adapter for interface configuration.
func (c *Core) Stack() netstack.Stack { return c.stack }

// Arena exposes the shared-memory allocator backing channel storage.
func (c *Core) Arena() *arena.Arena { return c.arena }

// NumWorkers reports the fixed worker pool size.
func (c *Core) NumWorkers() int { return c.runtime.NumWorkers() }
