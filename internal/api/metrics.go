package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	monitorRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "basil_monitor_http_requests_total",
			Help: "Monitor API requests by route and status code.",
		},
		[]string{"method", "route", "status"},
	)

	monitorLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "basil_monitor_http_request_duration_seconds",
			Help:    "Monitor API request latency, excluding log streams.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	logStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "basil_monitor_log_streams",
			Help: "Open run log streams.",
		},
	)
)

func init() {
	prometheus.MustRegister(monitorRequests, monitorLatency, logStreams)
}

// metricsMiddleware counts requests by chi route pattern. Streams are long
// lived, so their duration is tracked by the logStreams gauge instead.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		monitorRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		if ww.Header().Get("Content-Type") != "text/event-stream" {
			monitorLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
