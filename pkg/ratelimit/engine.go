package ratelimit

import (
	"context"
)

// Engine is the decision orchestrator and public surface of this package.
// It wires the configuration registry, local cache, slow-start controller,
// atomic evaluator, fallback evaluator, analytics recorder and audit log
// into the single operation CheckLimit.
type Engine struct {
	registry  *Registry
	store     Store
	cache     *decisionCache
	slowStart *slowStartController
	fallback  *fallbackEvaluator
	analytics *analyticsRecorder
	audit     *auditLog
	metrics   MetricsRecorder
	clock     clock
}

// NewEngine constructs an Engine backed by store, using registry for policy
// and region lookups. registry may be nil, in which case a fresh one is
// created with the default policy and region tables.
func NewEngine(store Store, registry *Registry, opts ...Option) *Engine {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if registry == nil {
		registry = NewRegistry()
	}

	e := &Engine{
		registry:  registry,
		store:     store,
		cache:     newDecisionCache(cfg.cacheTTL, cfg.clock),
		slowStart: newSlowStartController(cfg.slowStart, store, cfg.clock),
		fallback:  newFallbackEvaluator(store, cfg.clock),
		analytics: newAnalyticsRecorder(),
		audit:     newAuditLog(cfg.auditCapacity, cfg.auditEnabled, cfg.clock),
		metrics:   cfg.metrics,
		clock:     cfg.clock,
	}

	e.slowStart.onNewIdentity = func(identity, endpoint string) {
		e.audit.append(AuditEvent{Type: EventNewUser, Identity: identity, Endpoint: endpoint})
	}
	e.registry.onChange(
		func(tier Tier, endpoint string, policy Policy) {
			e.audit.append(AuditEvent{Type: EventConfigurationChange, Endpoint: endpoint, Tier: tier})
		},
		func(region string, multiplier float64) {
			e.audit.append(AuditEvent{Type: EventConfigurationChange, Region: region})
		},
	)

	return e
}

// CheckLimit is the engine's single public operation. It never returns an
// error: every internal failure is recovered into a decision.
func (e *Engine) CheckLimit(ctx context.Context, req Request) Decision {
	req = req.normalize()

	// Unlimited tier bypasses the store and cache entirely.
	if req.Tier == TierUnlimited {
		dec := Decision{Allowed: true, Remaining: Unbounded, RetryAfterSeconds: 0, Cost: req.Cost}
		e.recordOutcome(req, dec)
		return dec
	}

	// No policy for this (tier, endpoint): unconditional allow, no
	// analytics, no cache.
	policy, ok := e.registry.PolicyFor(req.Tier, req.Endpoint)
	if !ok {
		return Decision{Allowed: true, Remaining: Unbounded, RetryAfterSeconds: 0, Cost: req.Cost}
	}

	// Cache probe.
	ckey := cacheKey(req.Identity, req.Endpoint, req.Tier)
	if dec, hit := e.cache.get(ckey); hit {
		e.recordOutcome(req, dec)
		return dec
	}

	// Compute adjusted ceilings.
	regionMult := e.registry.RegionMultiplier(req.Region)
	slowStartMult := e.slowStart.multiplier(ctx, req.Identity, req.Endpoint)
	adjMax, adjBurst := policy.adjusted(regionMult, slowStartMult)

	now := e.clock.Now().Unix()
	keys := bucketKeys(req.Identity, req.Endpoint)

	result, err := e.store.Eval(ctx, keys, now, adjMax, adjBurst, policy.WindowSeconds, req.Cost)
	if err != nil {
		result, err = e.fallback.evaluate(ctx, keys, now, adjMax, adjBurst, policy.WindowSeconds, req.Cost)
	}
	if err != nil {
		// Both the atomic and fallback paths failed to even read the
		// bucket: fail open.
		dec := Decision{Allowed: true, Remaining: Unbounded, RetryAfterSeconds: 0, Cost: req.Cost}
		e.recordOutcome(req, dec)
		return dec
	}

	dec := e.buildDecision(req, policy, adjMax, result)

	if dec.Allowed {
		e.cache.put(ckey, dec)
	} else {
		e.audit.append(AuditEvent{
			Type:     EventRateLimitExceeded,
			Identity: req.Identity,
			Endpoint: req.Endpoint,
			Tier:     req.Tier,
			Region:   req.Region,
		})
	}

	e.recordOutcome(req, dec)
	return dec
}

// buildDecision turns a raw EvalResult into the public Decision, including
// the retry_after computation on denial.
func (e *Engine) buildDecision(req Request, policy Policy, adjMax int64, result EvalResult) Decision {
	if result.Admitted {
		return Decision{Allowed: true, Remaining: result.TokensAfter, RetryAfterSeconds: 0, Cost: req.Cost}
	}

	var retry int64
	if result.CountAfter >= adjMax {
		retry = policy.WindowSeconds
	} else if adjMax <= 0 {
		retry = policy.WindowSeconds
	} else {
		deficit := float64(req.Cost) - float64(result.TokensAfter)
		if deficit < 0 {
			deficit = 0
		}
		secondsPerToken := float64(policy.WindowSeconds) / float64(adjMax)
		retry = maxInt64(1, ceilInt64(deficit*secondsPerToken))
	}

	return Decision{Allowed: false, Remaining: result.TokensAfter, RetryAfterSeconds: retry, Cost: req.Cost}
}

func (e *Engine) recordOutcome(req Request, dec Decision) {
	e.analytics.record(req.Endpoint, req.Tier, req.Region, dec.Allowed)
	e.metrics.IncDecision(req.Endpoint, string(req.Tier), req.Region, dec.Allowed)
}

// GetAnalyticsReport returns a snapshot of the in-memory analytics
// counters.
func (e *Engine) GetAnalyticsReport() AnalyticsReport {
	return e.analytics.report()
}

// GetAuditLog returns every stored audit event matching filter.
func (e *Engine) GetAuditLog(filter AuditFilter) []AuditEvent {
	return e.audit.query(filter)
}

// SetPolicy installs or replaces a (tier, endpoint) policy and emits a
// configuration_change audit event.
func (e *Engine) SetPolicy(tier Tier, endpoint string, policy Policy) {
	e.registry.SetPolicy(tier, endpoint, policy)
}

// SetRegionMultiplier installs or replaces a region multiplier.
func (e *Engine) SetRegionMultiplier(region string, multiplier float64) {
	e.registry.SetRegionMultiplier(region, multiplier)
}

// ClearCacheFor evicts every cached decision for identity, for use when a
// caller reassigns that identity's tier.
func (e *Engine) ClearCacheFor(identity string) {
	e.cache.clearFor(identity)
}

// Registry exposes the underlying configuration registry for callers that
// need direct access beyond SetPolicy (e.g. a config loader writing its
// policy rows and region multipliers at startup).
func (e *Engine) Registry() *Registry {
	return e.registry
}
