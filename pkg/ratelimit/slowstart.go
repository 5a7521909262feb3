package ratelimit

import (
	"context"
)

// SlowStartConfig configures the ramp a newly-observed identity climbs
// before receiving its full tier multiplier.
type SlowStartConfig struct {
	DurationSeconds int64
	Stages          []float64
}

// DefaultSlowStartConfig returns the default 3-stage ramp over the
// caller-chosen duration.
func DefaultSlowStartConfig(durationSeconds int64) SlowStartConfig {
	return SlowStartConfig{
		DurationSeconds: durationSeconds,
		Stages:          []float64{0.3, 0.6, 1.0},
	}
}

// slowStartController tracks first-seen time per (identity, endpoint) in
// the shared store and produces a ramp multiplier.
type slowStartController struct {
	cfg   SlowStartConfig
	store Store
	clock clock
	// onNewIdentity is invoked the first time an identity is observed, so
	// Engine can emit a new_user audit event without this controller
	// depending on the audit log directly.
	onNewIdentity func(identity, endpoint string)
}

func newSlowStartController(cfg SlowStartConfig, store Store, clk clock) *slowStartController {
	if len(cfg.Stages) == 0 {
		cfg.Stages = []float64{0.3, 0.6, 1.0}
	}
	return &slowStartController{cfg: cfg, store: store, clock: clk}
}

// multiplier returns the ramp factor for (identity, endpoint). On a store
// error it fails open for this factor only, returning 1.0: a slow-start
// read/write failure must never itself cause a denial.
func (s *slowStartController) multiplier(ctx context.Context, identity, endpoint string) float64 {
	key := slowStartKey(identity, endpoint)
	now := s.clock.Now().Unix()

	raw, err := s.store.Get(ctx, key)
	if err == ErrKeyNotFound {
		if werr := s.store.SetEX(ctx, key, s.cfg.DurationSeconds, formatFloat(float64(now))); werr != nil {
			return 1.0
		}
		if s.onNewIdentity != nil {
			s.onNewIdentity(identity, endpoint)
		}
		return s.cfg.Stages[0]
	}
	if err != nil {
		return 1.0
	}

	t0, perr := parseFloat(raw)
	if perr != nil {
		return 1.0
	}

	age := float64(now) - t0
	if age < 0 {
		age = 0
	}
	stageLength := float64(s.cfg.DurationSeconds) / float64(len(s.cfg.Stages))
	if stageLength <= 0 {
		return s.cfg.Stages[len(s.cfg.Stages)-1]
	}
	idx := int(age / stageLength)
	if idx >= len(s.cfg.Stages) {
		idx = len(s.cfg.Stages) - 1
	}
	return s.cfg.Stages[idx]
}
