// Package metrics exports action outcomes as Prometheus series.
package metrics

import (
	"net/http"
	"time"

	"browsernerd-actions/internal/action"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector implements action.Metrics.
type Collector struct {
	actionsTotal     *prometheus.CounterVec
	actionFailures   *prometheus.CounterVec
	actionDuration   *prometheus.HistogramVec
	precheckFailures *prometheus.CounterVec
	selfHealTotal    *prometheus.CounterVec

	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewCollector registers the action series on reg. A nil reg uses a private
// registry, which keeps tests independent of the global default.
func NewCollector(namespace string, reg *prometheus.Registry, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{
		gatherer: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.actionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Total number of actions by outcome",
		},
		[]string{"kind", "outcome"},
	)

	c.actionFailures = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_failures_total",
			Help:      "Failed actions by error kind",
		},
		[]string{"kind", "error_kind"},
	)

	c.actionDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Action latency from gate to report",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"kind"},
	)

	c.precheckFailures = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "precheck_failures_total",
			Help:      "Precheck failures by the first failed field",
		},
		[]string{"kind", "field"},
	)

	c.selfHealTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "self_heal_total",
			Help:      "Self-heal attempts by result",
		},
		[]string{"kind", "result"},
	)

	return c
}

func (c *Collector) ObserveAction(kind action.Kind, ok bool, errKind action.ErrorKind, latency time.Duration) {
	outcome := "success"
	if !ok {
		outcome = "failure"
		c.actionFailures.WithLabelValues(string(kind), string(errKind)).Inc()
	}
	c.actionsTotal.WithLabelValues(string(kind), outcome).Inc()
	c.actionDuration.WithLabelValues(string(kind)).Observe(latency.Seconds())
}

func (c *Collector) PrecheckFailed(kind action.Kind, field string) {
	c.precheckFailures.WithLabelValues(string(kind), field).Inc()
}

func (c *Collector) SelfHeal(kind action.Kind, success bool) {
	result := "exhausted"
	if success {
		result = "healed"
	}
	c.selfHealTotal.WithLabelValues(string(kind), result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

var _ action.Metrics = (*Collector)(nil)
