package backend

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsRegistered(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	expected := []string{
		"basil_backend_triggers_total",
		"basil_backend_polls_total",
		"basil_backend_poll_errors_total",
		"basil_backend_results_total",
	}

	found := make(map[string]bool)
	for _, fam := range families {
		found[fam.GetName()] = true
	}
	for _, name := range expected {
		if !found[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestResultsTotalPreinitialized(t *testing.T) {
	fam := gatherFamily(t, "basil_backend_results_total")
	// Five backends times three results.
	if n := len(fam.GetMetric()); n < 15 {
		t.Errorf("expected at least 15 series, got %d", n)
	}
}

func TestTriggerDurationObserved(t *testing.T) {
	triggerDuration.WithLabelValues(KindLAVA.String()).Observe(0.2)

	fam := gatherFamily(t, "basil_backend_trigger_seconds")
	var count uint64
	for _, m := range fam.GetMetric() {
		count += m.GetHistogram().GetSampleCount()
	}
	if count == 0 {
		t.Error("trigger duration has no observations")
	}
}

func gatherFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() == name {
			return fam
		}
	}
	t.Fatalf("metric family %q not found", name)
	return nil
}
