package engine

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basil_testruns_total",
			Help: "Total number of test run executions by process exit code.",
		},
		[]string{"exit_code"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "basil_testrun_duration_seconds",
			Help:    "Wall time of a test run execution, in seconds.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
		},
	)
)

func codeLabel(code int) string { return strconv.Itoa(code) }

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(runDuration)

	for code := 0; code <= 9; code++ {
		runsTotal.WithLabelValues(codeLabel(code))
	}
}
