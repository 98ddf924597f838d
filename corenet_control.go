// Runtime configuration, metrics, and debug introspection wiring for
// Core, generalized from adapters/control_adapter.go's ControlAdapter
// (config+metrics+debug bundle behind one facade) with the
// api.Control interface indirection dropped — Core wires
// control.ConfigStore/MetricsRegistry/DebugProbes directly since it
// has no second implementation to abstract over.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package corenet

import (
	"time"

	"github.com/openperf/corenet/control"
)

// metricsSampleInterval paces the background gauge refresh started by
// Start and stopped by Shutdown.
const metricsSampleInterval = 5 * time.Second

func newControlPlane() (*control.ConfigStore, *control.MetricsRegistry, *control.DebugProbes) {
	cfg := control.NewConfigStore()
	metrics := control.NewMetricsRegistry()
	debug := control.NewDebugProbes()
	control.RegisterPlatformProbes(debug)
	return cfg, metrics, debug
}

// Reconfigure merges updated values into the runtime config store and
// fires every registered reload hook, mirroring
// ControlAdapter.SetConfig's merge-then-dispatch behavior.
func (c *Core) Reconfigure(values map[string]any) {
	c.configStore.SetConfig(values)
	control.TriggerHotReload()
}

// OnReload registers fn to run whenever Reconfigure is called.
func (c *Core) OnReload(fn func()) {
	c.configStore.OnReload(fn)
}

// RegisterDebugProbe exposes a named introspection hook under
// Stats()'s "debug." prefix.
func (c *Core) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

// Metrics exposes the metrics registry directly, e.g. for mounting
// promhttp.Handler(core.Metrics().Registry()) on a caller-owned mux.
func (c *Core) Metrics() *control.MetricsRegistry { return c.metrics }

// Stats merges the current config snapshot, metrics snapshot, and
// debug probe dump into one map, matching
// ControlAdapter.Stats's "metrics."/"debug." key prefixing.
func (c *Core) Stats() map[string]any {
	out := make(map[string]any)
	for k, v := range c.configStore.GetSnapshot() {
		out[k] = v
	}
	for k, v := range c.metrics.GetSnapshot() {
		out["metrics."+k] = v
	}
	for k, v := range c.debug.DumpState() {
		out["debug."+k] = v
	}
	return out
}

// startMetricsSampler launches the background loop that keeps
// size/occupancy gauges current while the core is running; Shutdown
// stops it via c.metricsStop.
func (c *Core) startMetricsSampler() {
	c.metricsStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(metricsSampleInterval)
		defer ticker.Stop()
		c.sampleMetrics()
		for {
			select {
			case <-ticker.C:
				c.sampleMetrics()
			case <-c.metricsStop:
				return
			}
		}
	}()
}

func (c *Core) sampleMetrics() {
	c.metrics.Set("corenet.workers", float64(c.runtime.NumWorkers()))
	c.metrics.Set("corenet.arena.capacity", float64(c.arena.Size()))
	c.metrics.Set("corenet.arena.used", float64(c.arena.InUse()))
}
