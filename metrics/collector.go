// Package metrics exports di engine events as Prometheus metrics.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sghaida/odigraph/di"
)

// Collector holds the engine metrics and the registry they are registered in.
// It implements di.Observer; pass it to di.WithObserver.
type Collector struct {
	registry *prometheus.Registry

	Builds        *prometheus.CounterVec
	BuildDuration *prometheus.HistogramVec
	Models        *prometheus.GaugeVec

	Resolutions       *prometheus.CounterVec
	ResolveDuration   *prometheus.HistogramVec
	ScopesDisposed    prometheus.Counter
	InstancesDisposed prometheus.Counter
	DisposalFailures  prometheus.Counter
}

var _ di.Observer = (*Collector)(nil)

// NewCollector creates the metrics under namespace in a fresh registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	builds := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_builds_total",
			Help:      "Graph compilations by tenant and outcome",
		},
		[]string{"tenant", "outcome"},
	)
	buildDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_build_duration_seconds",
			Help:      "Time spent compiling a graph",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
		[]string{"tenant"},
	)
	models := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_models",
			Help:      "Models in the last successfully compiled graph",
		},
		[]string{"tenant"},
	)
	resolutions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Top-level resolutions by lifetime and outcome",
		},
		[]string{"lifetime", "outcome"},
	)
	resolveDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_duration_seconds",
			Help:      "Time spent in a top-level resolution",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
		[]string{"lifetime"},
	)
	scopes := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scopes_disposed_total",
		Help:      "Scopes and provider roots disposed",
	})
	instances := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "instances_disposed_total",
		Help:      "Tracked instances released by scope disposal",
	})
	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "disposal_failures_total",
		Help:      "Scope disposals that reported at least one failure",
	})

	registry.MustRegister(builds, buildDuration, models, resolutions, resolveDuration, scopes, instances, failures)

	return &Collector{
		registry:          registry,
		Builds:            builds,
		BuildDuration:     buildDuration,
		Models:            models,
		Resolutions:       resolutions,
		ResolveDuration:   resolveDuration,
		ScopesDisposed:    scopes,
		InstancesDisposed: instances,
		DisposalFailures:  failures,
	}
}

// Registry returns the registry holding the engine metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// BuildFinished implements di.Observer.
func (c *Collector) BuildFinished(tenant string, models int, elapsed time.Duration, err error) {
	tenant = tenantLabel(tenant)
	c.Builds.WithLabelValues(tenant, outcome(err)).Inc()
	c.BuildDuration.WithLabelValues(tenant).Observe(elapsed.Seconds())
	if err == nil {
		c.Models.WithLabelValues(tenant).Set(float64(models))
	}
}

// Resolved implements di.Observer.
func (c *Collector) Resolved(_ di.ServiceKey, lifetime di.Lifetime, elapsed time.Duration, err error) {
	c.Resolutions.WithLabelValues(lifetime.String(), outcome(err)).Inc()
	c.ResolveDuration.WithLabelValues(lifetime.String()).Observe(elapsed.Seconds())
}

// ScopeDisposed implements di.Observer.
func (c *Collector) ScopeDisposed(tracked int, err error) {
	c.ScopesDisposed.Inc()
	c.InstancesDisposed.Add(float64(tracked))
	if err != nil {
		c.DisposalFailures.Inc()
	}
}

// outcome is "ok" or the lower-case error code ("missing_registration", ...).
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code, ok := di.CodeOf(err); ok {
		return strings.ToLower(string(code))
	}
	return "error"
}

func tenantLabel(tenant string) string {
	if tenant == "" {
		return "root"
	}
	return tenant
}
