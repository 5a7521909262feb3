package ratelimit

import "time"

// Option configures an Engine at construction time, following the usual
// functional-options pattern for constructors with many optional knobs.
type Option func(*engineConfig)

type engineConfig struct {
	cacheTTL       time.Duration
	auditCapacity  int
	auditEnabled   bool
	slowStart      SlowStartConfig
	metrics        MetricsRecorder
	clock          clock
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		cacheTTL:      time.Second,
		auditCapacity: defaultAuditCapacity,
		auditEnabled:  true,
		slowStart:     DefaultSlowStartConfig(60),
		metrics:       NoOpMetricsRecorder{},
		clock:         realClock{},
	}
}

// WithCacheTTL sets the local decision cache TTL. The default favors a
// short window, at or below one second; this option lets callers override
// it for tests or unusual deployments, at the cost of staler decisions.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *engineConfig) { c.cacheTTL = ttl }
}

// WithAuditCapacity sets the audit ring's capacity (default 1000).
func WithAuditCapacity(capacity int) Option {
	return func(c *engineConfig) { c.auditCapacity = capacity }
}

// WithAuditEnabled toggles the audit log's enabled flag.
func WithAuditEnabled(enabled bool) Option {
	return func(c *engineConfig) { c.auditEnabled = enabled }
}

// WithSlowStart overrides the slow-start ramp configuration.
func WithSlowStart(cfg SlowStartConfig) Option {
	return func(c *engineConfig) { c.slowStart = cfg }
}

// WithMetricsRecorder wires an external metrics sink (e.g. PrometheusRecorder)
// alongside the required in-memory analytics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(c *engineConfig) { c.metrics = m }
}

// withClock overrides the engine's notion of "now". Unexported: only tests
// within this package need deterministic time.
func withClock(clk clock) Option {
	return func(c *engineConfig) { c.clock = clk }
}
