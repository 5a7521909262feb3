package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsRecorder is the interface the engine uses to export analytics to
// an external monitoring system alongside the in-memory report. It is
// intentionally narrow so a no-op implementation can sit on every call
// site without a nil check.
type MetricsRecorder interface {
	IncDecision(endpoint, tier, region string, allowed bool)
}

// NoOpMetricsRecorder discards everything. It is the default so callers
// never pay for metrics they did not ask for.
type NoOpMetricsRecorder struct{}

func (NoOpMetricsRecorder) IncDecision(endpoint, tier, region string, allowed bool) {}

// PrometheusRecorder exports the same per-(endpoint, tier, region) counts
// the in-memory analytics recorder keeps, as Prometheus counters.
type PrometheusRecorder struct {
	decisions *prometheus.CounterVec
}

// NewPrometheusRecorder registers its collectors against reg. Pass
// prometheus.DefaultRegisterer to use the global registry.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rateguard_decisions_total",
				Help: "Total rate limit decisions by endpoint, tier, region and outcome.",
			},
			[]string{"endpoint", "tier", "region", "outcome"},
		),
	}
}

func (p *PrometheusRecorder) IncDecision(endpoint, tier, region string, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	p.decisions.WithLabelValues(endpoint, tier, region, outcome).Inc()
}
