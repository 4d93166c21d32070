// Package metrics holds the per-app Prometheus collectors. Each App owns
// its own registry so several apps can run in one process.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "koishi"

// Metrics is the collector set of one App.
type Metrics struct {
	registry *prometheus.Registry

	Dispatches       prometheus.Counter
	Replies          prometheus.Counter
	Dropped          prometheus.Counter
	MiddlewareErrors prometheus.Counter
	ListenerErrors   *prometheus.CounterVec
	Commands         *prometheus.CounterVec
	Plugins          prometheus.Gauge
	DispatchSeconds  prometheus.Histogram
}

// New creates and registers the collectors on a fresh registry.
// With runtime set, Go and process collectors are registered too.
func New(runtime bool) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Dispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Sessions dispatched through the middleware chain.",
		}),
		Replies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Dispatches that produced a reply.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Sessions dropped by the flood guard.",
		}),
		MiddlewareErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "middleware_errors_total",
			Help:      "Middleware that returned an error or panicked.",
		}),
		ListenerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_errors_total",
			Help:      "Event listeners that failed during parallel emission.",
		}, []string{"event"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_executions_total",
			Help:      "Command executions by command and outcome.",
		}, []string{"command", "status"}),
		Plugins: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_plugins",
			Help:      "Plugin states currently registered.",
		}),
		DispatchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent dispatching one session.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.Dispatches, m.Replies, m.Dropped, m.MiddlewareErrors,
		m.ListenerErrors, m.Commands, m.Plugins, m.DispatchSeconds,
	)
	if runtime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Command outcome labels.
const (
	StatusOK      = "ok"
	StatusBlocked = "blocked"
	StatusInvalid = "invalid"
	StatusError   = "error"
)
