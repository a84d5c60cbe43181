package engine

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRunMetricsRegistered(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	series := make(map[string]int)
	for _, fam := range families {
		series[fam.GetName()] = len(fam.GetMetric())
	}
	if series["basil_testruns_total"] < 10 {
		t.Errorf("basil_testruns_total has %d series, want one per exit code", series["basil_testruns_total"])
	}
	if _, ok := series["basil_testrun_duration_seconds"]; !ok {
		t.Error("basil_testrun_duration_seconds not registered")
	}
}
