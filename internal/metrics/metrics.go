package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Optimizations counts optimize outcomes by solver strategy
	Optimizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "route_optimizations_total", Help: "Route optimizations by outcome and strategy."},
		[]string{"outcome", "strategy"},
	)
	OptimizationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "route_optimization_duration_seconds", Help: "End-to-end optimize latency in seconds.", Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}},
	)

	// OracleRequests counts distance oracle round trips by outcome (ok, retry, error)
	OracleRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "oracle_requests_total", Help: "Distance oracle requests by outcome."},
		[]string{"outcome"},
	)
	OracleFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "oracle_fallbacks_total", Help: "Requests answered by the geometric strategy after the oracle failed."},
	)

	EtaRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "eta_requests_total", Help: "ETA computations by outcome."},
		[]string{"outcome"},
	)

	SchedulerRuns = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "scheduler_runs_total", Help: "Scheduled optimization sweeps."},
	)
	// SchedulerMerchantRuns counts per-merchant outcomes inside a sweep
	SchedulerMerchantRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "scheduler_merchant_runs_total", Help: "Per-merchant scheduled optimizations by outcome."},
		[]string{"outcome"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Optimizations)
		Registry.MustRegister(OptimizationDuration)
		Registry.MustRegister(OracleRequests)
		Registry.MustRegister(OracleFallbacks)
		Registry.MustRegister(EtaRequests)
		Registry.MustRegister(SchedulerRuns)
		Registry.MustRegister(SchedulerMerchantRuns)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
