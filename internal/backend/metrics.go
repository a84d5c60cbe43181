package backend

import "github.com/prometheus/client_golang/prometheus"

// Trigger outcome label values.
const (
	triggerOK    = "ok"
	triggerError = "error"
)

var (
	triggerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "basil_backend_trigger_seconds",
			Help:    "Duration of the request that starts a remote test job, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	triggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basil_backend_triggers_total",
			Help: "Total number of remote test jobs triggered.",
		},
		[]string{"backend", "outcome"},
	)

	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basil_backend_polls_total",
			Help: "Total number of status polls of remote test jobs.",
		},
		[]string{"backend"},
	)

	pollErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basil_backend_poll_errors_total",
			Help: "Total number of polls that failed and were retried.",
		},
		[]string{"backend"},
	)

	resultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basil_backend_results_total",
			Help: "Total number of finished test runs by result.",
		},
		[]string{"backend", "result"},
	)
)

func init() {
	prometheus.MustRegister(triggerDuration)
	prometheus.MustRegister(triggersTotal)
	prometheus.MustRegister(pollsTotal)
	prometheus.MustRegister(pollErrorsTotal)
	prometheus.MustRegister(resultsTotal)

	// Pre-initialize label combinations so they appear in /metrics with
	// value 0 from startup.
	for _, k := range Kinds() {
		name := k.String()
		triggersTotal.WithLabelValues(name, triggerOK)
		triggersTotal.WithLabelValues(name, triggerError)
		pollsTotal.WithLabelValues(name)
		pollErrorsTotal.WithLabelValues(name)
		for _, o := range []Outcome{OutcomePass, OutcomeFail, OutcomeError} {
			resultsTotal.WithLabelValues(name, o.Result())
		}
	}
}
