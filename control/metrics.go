// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for system-level monitoring.
// Exposes counters in a thread-safe map with dynamic registration,
// backed by a real prometheus.Registry for every numeric value so a
// caller can mount promhttp.Handler(Registry()) without this package
// knowing anything about HTTP.

package control

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRegistry holds mutable and read-only metrics. Numeric values
// additionally back a prometheus Gauge, grounded on
// runZeroInc-conniver/sockstats's pkg/exporter collector pattern of
// wrapping dynamically-discovered values as prometheus metrics.
type MetricsRegistry struct {
	mu       sync.RWMutex
	metrics  map[string]any
	gauges   map[string]prometheus.Gauge
	registry *prometheus.Registry
	updated  time.Time
}

// NewMetricsRegistry creates an empty registry with its own prometheus
// registry (not the global default, so multiple Cores in one process
// never collide on metric names).
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics:  make(map[string]any),
		gauges:   make(map[string]prometheus.Gauge),
		registry: prometheus.NewRegistry(),
	}
}

// Set sets or updates a metric key. Numeric values are additionally
// pushed to a lazily-registered prometheus Gauge; non-numeric values
// (strings, structs) are tracked only in the snapshot map, matching
// the registry's original dynamic any-valued contract.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.metrics[key] = value
	mr.updated = time.Now()

	f, ok := asFloat64(value)
	if !ok {
		return
	}
	g, ok := mr.gauges[key]
	if !ok {
		g = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: sanitizeMetricName(key),
			Help: "corenet runtime metric " + key,
		})
		mr.registry.MustRegister(g)
		mr.gauges[key] = g
	}
	g.Set(f)
}

// GetSnapshot returns the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}

// Registry exposes the backing prometheus.Registry so a caller can
// mount promhttp.Handler(mr.Registry()) on whatever HTTP mux it owns.
func (mr *MetricsRegistry) Registry() *prometheus.Registry {
	return mr.registry
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

var metricNameDisallowed = regexp.MustCompile(`[^a-zA-Z0-9_:]`)

// sanitizeMetricName maps a dotted metric key ("corenet.workers") onto
// a prometheus-legal name ("corenet_workers").
func sanitizeMetricName(key string) string {
	return metricNameDisallowed.ReplaceAllString(strings.ReplaceAll(key, ".", "_"), "_")
}
