// Package telemetry declares the process's Prometheus metrics (spec §6
// telemetry surface: per-worker VM metrics, aggregated per tenant).
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "scriptrt",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"method", "path", "status"},
)

var VMUsedMemoryBytes = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "scriptrt",
		Subsystem: "vm",
		Name:      "used_memory_bytes",
		Help:      "Current memory usage of a tenant's isolate, in bytes.",
	},
	[]string{"tenant"},
)

var VMMemoryLimitBytes = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "scriptrt",
		Subsystem: "vm",
		Name:      "memory_limit_bytes",
		Help:      "Configured memory limit of a tenant's isolate, in bytes.",
	},
	[]string{"tenant"},
)

var VMActiveThreads = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "scriptrt",
		Subsystem: "vm",
		Name:      "active_threads",
		Help:      "Number of cooperative tasks currently scheduled on a tenant's isolate.",
	},
	[]string{"tenant"},
)

var VMBrokenTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scriptrt",
		Subsystem: "vm",
		Name:      "broken_total",
		Help:      "Total number of times a tenant's isolate was marked broken.",
	},
	[]string{"tenant", "reason"},
)

var DispatchTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scriptrt",
		Subsystem: "dispatch",
		Name:      "total",
		Help:      "Total number of per-template dispatch results, by outcome.",
	},
	[]string{"event", "outcome"},
)

var DispatchDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "scriptrt",
		Subsystem: "dispatch",
		Name:      "duration_seconds",
		Help:      "Wall-clock time to dispatch an event across all matching templates.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"event"},
)

var RateLimitedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scriptrt",
		Subsystem: "ratelimit",
		Name:      "denied_total",
		Help:      "Total number of capability calls denied by the ratelimiter.",
	},
	[]string{"taxonomy", "bucket"},
)

var CapDeniedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scriptrt",
		Subsystem: "capability",
		Name:      "denied_total",
		Help:      "Total number of host calls denied by the capability mediator.",
	},
	[]string{"category"},
)

var KeyExpiryFiredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scriptrt",
		Subsystem: "keyexpiry",
		Name:      "fired_total",
		Help:      "Total number of key-expiry wheel entries dispatched.",
	},
	[]string{"outcome"},
)

var KeyExpiryPending = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "scriptrt",
		Subsystem: "keyexpiry",
		Name:      "pending",
		Help:      "Number of entries currently scheduled on the key-expiry wheel.",
	},
)

// All returns every metric for registration with the process's registry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		VMUsedMemoryBytes,
		VMMemoryLimitBytes,
		VMActiveThreads,
		VMBrokenTotal,
		DispatchTotal,
		DispatchDuration,
		RateLimitedTotal,
		CapDeniedTotal,
		KeyExpiryFiredTotal,
		KeyExpiryPending,
	}
}
