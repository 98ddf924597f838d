package corenet

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/openperf/corenet/internal/worker"
)

func testConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.ArenaSize = 1 << 20
	cfg.NumWorkers = 2
	cfg.ControlSocketPath = filepath.Join(t.TempDir(), "control.sock")
	return cfg
}

func TestNewRejectsZeroWorkers(t *testing.T) {
	cfg := testConfig(t)
	cfg.NumWorkers = 0
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected error for NumWorkers = 0")
	}
}

func TestStartAndShutdownLifecycle(t *testing.T) {
	core, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := core.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if core.NumWorkers() != 2 {
		t.Fatalf("NumWorkers() = %d, want 2", core.NumWorkers())
	}
	if err := core.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	// A second Shutdown is a safe no-op, matching facade.Stop's
	// guarded-by-started-flag shape.
	if err := core.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestStatsAndReconfigureAndDebugProbes(t *testing.T) {
	core, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := core.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer core.Shutdown()

	// Reload hooks run asynchronously, each in its own goroutine.
	reloaded := make(chan struct{}, 1)
	core.OnReload(func() { reloaded <- struct{}{} })
	core.Reconfigure(map[string]any{"feature.x": "enabled"})
	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatalf("Reconfigure should have fired the registered reload hook")
	}

	probed := false
	core.RegisterDebugProbe("test.probe", func() any { probed = true; return "ok" })

	stats := core.Stats()
	if stats["feature.x"] != "enabled" {
		t.Fatalf("Stats()[feature.x] = %v, want enabled", stats["feature.x"])
	}
	if stats["debug.test.probe"] != "ok" {
		t.Fatalf("Stats()[debug.test.probe] = %v, want ok", stats["debug.test.probe"])
	}
	if !probed {
		t.Fatalf("RegisterDebugProbe's function should run when Stats() dumps debug state")
	}

	if core.Metrics() == nil || core.Metrics().Registry() == nil {
		t.Fatalf("Metrics() should expose a non-nil prometheus registry")
	}
}

func TestSubmitRejectsOutOfRangeWorker(t *testing.T) {
	core, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := core.Submit(99, worker.Task{Kind: worker.KindCallback, Run: func() {}}); err == nil {
		t.Fatalf("expected error submitting to out-of-range worker")
	}
}
