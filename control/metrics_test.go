package control

import "testing"

func TestMetricsRegistrySetAndSnapshot(t *testing.T) {
	reg := NewMetricsRegistry()
	reg.Set("foo.count", int64(42))
	reg.Set("bar.status", "ok")

	snap := reg.GetSnapshot()
	if snap["foo.count"] != int64(42) {
		t.Errorf("GetSnapshot()[foo.count] = %v, want 42", snap["foo.count"])
	}
	if snap["bar.status"] != "ok" {
		t.Errorf("GetSnapshot()[bar.status] = %v, want ok", snap["bar.status"])
	}
}

func TestMetricsRegistryNumericValuesBackAPrometheusGauge(t *testing.T) {
	reg := NewMetricsRegistry()
	reg.Set("corenet.workers", float64(4))
	reg.Set("corenet.workers", float64(8))

	mf, err := reg.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, fam := range mf {
		if fam.GetName() != "corenet_workers" {
			continue
		}
		found = true
		if got := fam.GetMetric()[0].GetGauge().GetValue(); got != 8 {
			t.Errorf("corenet_workers gauge = %v, want 8", got)
		}
	}
	if !found {
		t.Fatalf("expected a registered corenet_workers gauge")
	}
}

func TestMetricsRegistryNonNumericValueSkipsGauge(t *testing.T) {
	reg := NewMetricsRegistry()
	reg.Set("bar.status", "ok")

	mf, err := reg.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mf) != 0 {
		t.Fatalf("expected no gauges registered for a non-numeric value, got %d", len(mf))
	}
}
