package ratelimit

import (
	"context"
)

// fallbackEvaluator is the non-atomic bucket evaluator, used when the
// atomic evaluator cannot execute on the shared store. It reads the three
// bucket keys, performs the same refill/admission arithmetic as the bucket
// script in the calling process, then writes the keys back.
//
// It is racy across instances by design: two frontends running fallback
// concurrently for the same identity can both read the same pre-update
// state and double-admit. The purpose is availability during store
// degradation, not correctness.
type fallbackEvaluator struct {
	store Store
	clock clock
}

func newFallbackEvaluator(store Store, clk clock) *fallbackEvaluator {
	return &fallbackEvaluator{store: store, clock: clk}
}

// evaluate mirrors the bucket script's contract. If even the reads fail,
// the caller (Engine.CheckLimit) is responsible for failing open; evaluate
// itself only reports the error.
func (f *fallbackEvaluator) evaluate(ctx context.Context, keys [3]string, now, adjMax, adjBurst, windowSeconds, cost int64) (EvalResult, error) {
	tokens, err := f.readFloat(ctx, keys[0], float64(adjBurst))
	if err != nil {
		return EvalResult{}, err
	}
	lastRefill, err := f.readInt(ctx, keys[1], now)
	if err != nil {
		return EvalResult{}, err
	}
	count, err := f.readInt(ctx, keys[2], 0)
	if err != nil {
		return EvalResult{}, err
	}

	before := bucketState{tokens: tokens, lastRefill: lastRefill, count: count}
	after, admitted := before.refillAndConsume(now, adjMax, adjBurst, windowSeconds, cost)

	// Best-effort write-back: a failure here does not change the decision
	// already computed from the read snapshot, consistent with favoring
	// availability over correctness in this path.
	_ = f.store.SetEX(ctx, keys[0], windowSeconds, formatFloat(after.tokens))
	_ = f.store.SetEX(ctx, keys[1], windowSeconds, formatFloat(float64(after.lastRefill)))
	_ = f.store.SetEX(ctx, keys[2], windowSeconds, formatFloat(float64(after.count)))

	return EvalResult{Admitted: admitted, TokensAfter: int64(after.tokens), CountAfter: after.count}, nil
}

func (f *fallbackEvaluator) readFloat(ctx context.Context, key string, def float64) (float64, error) {
	raw, err := f.store.Get(ctx, key)
	if err == ErrKeyNotFound {
		return def, nil
	}
	if err != nil {
		return 0, err
	}
	v, perr := parseFloat(raw)
	if perr != nil {
		return def, nil
	}
	return v, nil
}

func (f *fallbackEvaluator) readInt(ctx context.Context, key string, def int64) (int64, error) {
	v, err := f.readFloat(ctx, key, float64(def))
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}
