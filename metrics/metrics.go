// Package metrics exposes prometheus instrumentation for the job queues and
// provider invocations.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/docscope/jobs"
	"github.com/c360studio/docscope/provider"
)

// Metrics holds the process collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	jobsFinished *prometheus.CounterVec

	providerInvocations *prometheus.CounterVec
	providerRetries     *prometheus.CounterVec
	providerDuration    *prometheus.HistogramVec
	providerCost        *prometheus.CounterVec
}

// New creates the registry and its collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docscope_jobs_finished_total",
			Help: "Jobs that reached a terminal state, by kind and state.",
		}, []string{"kind", "state"}),
		providerInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docscope_provider_invocations_total",
			Help: "Provider invocations, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docscope_provider_retries_total",
			Help: "Provider invocation retries, by provider.",
		}, []string{"provider"}),
		providerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docscope_provider_invocation_seconds",
			Help:    "Provider invocation wall clock.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 11),
		}, []string{"provider"}),
		providerCost: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docscope_provider_cost_usd_total",
			Help: "Accumulated provider cost in USD.",
		}, []string{"provider"}),
	}
}

// Handler serves the exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WatchManager registers live queue gauges for one job manager.
func (m *Metrics) WatchManager(kind string, mgr *jobs.Manager) {
	labels := prometheus.Labels{"kind": kind}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "docscope_queue_depth",
		Help:        "Jobs waiting in the queue.",
		ConstLabels: labels,
	}, func() float64 {
		return float64(mgr.Stats().Queued)
	}))
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "docscope_jobs_running",
		Help:        "Jobs currently executing.",
		ConstLabels: labels,
	}, func() float64 {
		return float64(mgr.Stats().Running)
	}))
}

// JobFinished counts a terminal transition. Compose it into the manager's
// terminal hook.
func (m *Metrics) JobFinished(kind string, state jobs.State) {
	m.jobsFinished.WithLabelValues(kind, string(state)).Inc()
}

// RetryObserved counts one provider retry.
func (m *Metrics) RetryObserved(providerName string) {
	m.providerRetries.WithLabelValues(providerName).Inc()
}

// InstrumentProvider wraps a provider so every invocation is timed, counted,
// and its cost accumulated.
func (m *Metrics) InstrumentProvider(p provider.Provider) provider.Provider {
	return &instrumented{inner: p, metrics: m}
}

type instrumented struct {
	inner   provider.Provider
	metrics *Metrics
}

func (p *instrumented) Name() string { return p.inner.Name() }

func (p *instrumented) Invoke(ctx context.Context, prompt string, opts provider.Options) (*provider.Result, error) {
	start := time.Now()
	res, err := p.inner.Invoke(ctx, prompt, opts)
	p.metrics.providerDuration.WithLabelValues(p.inner.Name()).Observe(time.Since(start).Seconds())

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	p.metrics.providerInvocations.WithLabelValues(p.inner.Name(), outcome).Inc()
	if res != nil && res.CostUSD > 0 {
		p.metrics.providerCost.WithLabelValues(p.inner.Name()).Add(res.CostUSD)
	}
	return res, err
}
