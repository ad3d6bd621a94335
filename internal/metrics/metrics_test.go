package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewWithRegistererRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)

	m.RequestsTotal.WithLabelValues("GET", "/prod/foo.txt", "200").Inc()
	m.CacheHitsTotal.WithLabelValues("memory").Inc()
	m.ActiveConnections.Set(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected at least one registered metric family")
	}

	var foundActive bool
	for _, fam := range families {
		if fam.GetName() == "yatagarasu_active_connections" {
			foundActive = true
			if got := fam.Metric[0].GetGauge().GetValue(); got != 3 {
				t.Fatalf("active_connections = %v, want 3", got)
			}
		}
	}
	if !foundActive {
		t.Fatalf("expected yatagarasu_active_connections to be registered")
	}
}

func TestNewWithRegistererPanicsOnDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewWithRegisterer(reg)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected duplicate registration against the same registerer to panic")
		}
	}()
	NewWithRegisterer(reg)
}
