// Package metrics provides the process-wide Prometheus registry. It is
// initialized once at startup; thereafter user-defined counters from
// metrics.counters are append-only and the hot path only does atomic
// increments via the *Vec handles Prometheus already gives us.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Buckets are the histogram buckets shared by every latency metric, in seconds.
var Buckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10}

// Registry holds every metric named plus any user-defined counters
// registered from metrics.counters at startup.
type Registry struct {
	reg *prometheus.Registry

	HTTPConnections        prometheus.Counter
	HTTPConnectionsCurrent prometheus.Gauge
	HTTPRequests           prometheus.Counter
	HTTPRequestsCurrent    prometheus.Gauge
	HTTPRequestDuration    *prometheus.HistogramVec // status

	StorageRequests        *prometheus.CounterVec   // name, operation
	StorageRequestDuration *prometheus.HistogramVec // name, operation

	FilterRequestDuration *prometheus.HistogramVec // name, phase
	FilterErrors          *prometheus.CounterVec   // name, phase

	HandlerErrors prometheus.Counter

	TasksCurrent prometheus.Gauge
	TaskDuration *prometheus.HistogramVec // name
	TaskErrors   *prometheus.CounterVec   // name

	ScriptUsedMemoryBytes *prometheus.GaugeVec // worker id
	ProcessThreadsCount   prometheus.Gauge

	extraLabels prometheus.Labels
	userCounter map[string]*prometheus.CounterVec
}

// New builds a Registry, applying extraLabels (metrics.extra_labels) to
// every metric family via a ConstLabels wrapper, and registering every
// entry of userCounters (metrics.counters) as a zero-label counter
// addressable by name from scripts via the metrics module.
func New(extraLabels map[string]string, userCounters map[string]string) *Registry {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{}
	for k, v := range extraLabels {
		constLabels[k] = v
	}

	r := &Registry{
		reg:         reg,
		extraLabels: constLabels,
		userCounter: make(map[string]*prometheus.CounterVec, len(userCounters)),
	}

	r.HTTPConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "http_connections", Help: "Total accepted TCP connections.", ConstLabels: constLabels,
	})
	r.HTTPConnectionsCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_connections_current", Help: "Currently open TCP connections.", ConstLabels: constLabels,
	})
	r.HTTPRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "http_requests", Help: "Total HTTP requests dispatched.", ConstLabels: constLabels,
	})
	r.HTTPRequestsCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_requests_current", Help: "Currently in-flight HTTP requests.", ConstLabels: constLabels,
	})
	r.HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_request_duration_seconds", Help: "End-to-end request latency.", Buckets: Buckets, ConstLabels: constLabels,
	}, []string{"status"})

	r.StorageRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_requests", Help: "Total storage operations.", ConstLabels: constLabels,
	}, []string{"name", "operation"})
	r.StorageRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "storage_request_duration_seconds", Help: "Storage operation latency.", Buckets: Buckets, ConstLabels: constLabels,
	}, []string{"name", "operation"})

	r.FilterRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "filter_request_duration_seconds", Help: "Per-filter callback latency.", Buckets: Buckets, ConstLabels: constLabels,
	}, []string{"name", "phase"})
	r.FilterErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "filter_errors", Help: "Total filter callback errors.", ConstLabels: constLabels,
	}, []string{"name", "phase"})

	r.HandlerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "handler_errors", Help: "Total main handler errors.", ConstLabels: constLabels,
	})

	r.TasksCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tasks_current", Help: "Currently running background tasks.", ConstLabels: constLabels,
	})
	r.TaskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "task_duration_seconds", Help: "Background task latency.", Buckets: Buckets, ConstLabels: constLabels,
	}, []string{"name"})
	r.TaskErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "task_errors", Help: "Total background task errors.", ConstLabels: constLabels,
	}, []string{"name"})

	r.ScriptUsedMemoryBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lua_used_memory_bytes", Help: "Approximate per-worker script VM memory use.", ConstLabels: constLabels,
	}, []string{"worker"})
	r.ProcessThreadsCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "process_threads_count", Help: "OS threads in use by the process.", ConstLabels: constLabels,
	})

	reg.MustRegister(
		r.HTTPConnections, r.HTTPConnectionsCurrent, r.HTTPRequests, r.HTTPRequestsCurrent,
		r.HTTPRequestDuration, r.StorageRequests, r.StorageRequestDuration,
		r.FilterRequestDuration, r.FilterErrors, r.HandlerErrors,
		r.TasksCurrent, r.TaskDuration, r.TaskErrors,
		r.ScriptUsedMemoryBytes, r.ProcessThreadsCount,
	)

	for name, help := range userCounters {
		cv := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name, Help: help, ConstLabels: constLabels,
		}, nil)
		reg.MustRegister(cv)
		r.userCounter[name] = cv
	}

	return r
}

// AddUserCounter increments a user-defined counter registered from
// metrics.counters, identified by its config name. Unknown names are
// silently ignored: a typo in a script should not crash the worker, it
// should be visible as "no such metric moved" during review.
func (r *Registry) AddUserCounter(name string, delta float64) {
	if cv, ok := r.userCounter[name]; ok {
		cv.WithLabelValues().Add(delta)
	}
}

// Handler returns an http.Handler serving this registry's exposition text
// at text/plain; version=0.0.4, for mounting at the configured metrics
// path (default /metrics).
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
