package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// bypassSlowStart gives every identity its full multiplier immediately, so
// tests that aren't exercising the ramp itself don't have to account for a
// "new" identity's reduced ceiling.
func bypassSlowStart() SlowStartConfig {
	return SlowStartConfig{Stages: []float64{1.0}, DurationSeconds: 1}
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *MemoryStore, *fakeClock) {
	t.Helper()
	clk := newFakeClock(time.Unix(1_700_000_000, 0))
	store := NewMemoryStore()
	store.clock = clk

	allOpts := append([]Option{withClock(clk), WithCacheTTL(time.Second), WithSlowStart(bypassSlowStart())}, opts...)
	engine := NewEngine(store, NewRegistry(), allOpts...)
	return engine, store, clk
}

// Scenario 1: burst exhaustion (free/search/US).
func TestEngine_BurstExhaustion(t *testing.T) {
	engine, _, _ := newTestEngine(t, WithCacheTTL(-time.Second)) // every lookup misses, so each call is charged against the bucket
	ctx := context.Background()

	req := Request{Identity: "user_1", Endpoint: "/api/search", Tier: TierFree, Region: "US", Cost: 1}

	admitted, denied := 0, 0
	for i := 0; i < 25; i++ {
		dec := engine.CheckLimit(ctx, req)
		if dec.Allowed {
			admitted++
		} else {
			denied++
			if dec.RetryAfterSeconds < 1 {
				t.Errorf("call %d: denied decision must have retry_after >= 1, got %d", i, dec.RetryAfterSeconds)
			}
			if dec.Remaining != 0 {
				t.Errorf("call %d: expected remaining=0 on denial at burst limit, got %d", i, dec.Remaining)
			}
		}
	}

	if admitted != 20 {
		t.Errorf("admitted = %d, want 20", admitted)
	}
	if denied != 5 {
		t.Errorf("denied = %d, want 5", denied)
	}
}

// Scenario 3: geographic stricter (premium/checkout/CN, cost=5).
func TestEngine_GeographicStricter(t *testing.T) {
	engine, _, _ := newTestEngine(t, WithCacheTTL(-time.Second)) // every lookup misses, so each call is charged against the bucket
	ctx := context.Background()

	req := Request{Identity: "user_1", Endpoint: "/api/checkout", Tier: TierPremium, Region: "CN", Cost: 5}

	dec := engine.CheckLimit(ctx, req)
	if !dec.Allowed || dec.Remaining != 5 {
		t.Fatalf("first call = %+v, want allowed with remaining=5", dec)
	}

	dec = engine.CheckLimit(ctx, req)
	if !dec.Allowed || dec.Remaining != 0 {
		t.Fatalf("second call = %+v, want allowed with remaining=0", dec)
	}

	dec = engine.CheckLimit(ctx, req)
	if dec.Allowed {
		t.Fatalf("third call = %+v, want denied", dec)
	}
}

// Scenario 4: unlimited tier at scale — zero store operations.
func TestEngine_UnlimitedTierNeverTouchesStore(t *testing.T) {
	store := NewMemoryStore()
	clk := newFakeClock(time.Unix(1_700_000_000, 0))
	store.clock = clk
	store.FailEval(ErrStoreUnavailable) // tripwire: if the engine ever called Eval for the unlimited tier, it would go through the fallback path and return a finite Remaining instead of Unbounded

	engine := NewEngine(store, NewRegistry(), withClock(clk))
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		dec := engine.CheckLimit(ctx, Request{Identity: "user", Tier: TierUnlimited, Endpoint: "/api/search", Region: "US"})
		if !dec.Allowed || dec.Remaining != Unbounded || dec.RetryAfterSeconds != 0 {
			t.Fatalf("call %d: got %+v, want unconditional allow with unbounded remaining", i, dec)
		}
	}
}

// Scenario 5: slow-start stage 0 (new identity, free/search/US).
func TestEngine_SlowStartStageZero(t *testing.T) {
	engine, _, _ := newTestEngine(t, WithSlowStart(DefaultSlowStartConfig(60)), WithAuditCapacity(100), WithCacheTTL(-time.Second)) // every lookup misses, so each call is charged against the bucket
	ctx := context.Background()

	req := Request{Identity: "new_user", Endpoint: "/api/search", Tier: TierFree, Region: "US", Cost: 1}

	admitted, denied := 0, 0
	for i := 0; i < 10; i++ {
		dec := engine.CheckLimit(ctx, req)
		if dec.Allowed {
			admitted++
		} else {
			denied++
		}
	}

	if admitted != 6 {
		t.Errorf("admitted = %d, want 6 (burst 20*0.3=6)", admitted)
	}
	if denied != 4 {
		t.Errorf("denied = %d, want 4", denied)
	}

	newUserEvents := engine.GetAuditLog(AuditFilter{Type: EventNewUser})
	if len(newUserEvents) != 1 {
		t.Errorf("new_user audit events = %d, want 1", len(newUserEvents))
	}
	deniedEvents := engine.GetAuditLog(AuditFilter{Type: EventRateLimitExceeded})
	if len(deniedEvents) != 4 {
		t.Errorf("rate_limit_exceeded audit events = %d, want 4", len(deniedEvents))
	}
}

// Scenario 6: cache collapse — 50 calls within the cache TTL hit the store once.
func TestEngine_CacheCollapse(t *testing.T) {
	countingStore := &countingStore{MemoryStore: NewMemoryStore()}
	clk := newFakeClock(time.Unix(1_700_000_000, 0))
	countingStore.clock = clk

	engine := NewEngine(countingStore, NewRegistry(), withClock(clk), WithCacheTTL(time.Second))
	ctx := context.Background()
	req := Request{Identity: "user_1", Endpoint: "/api/search", Tier: TierPremium, Region: "US", Cost: 1}

	for i := 0; i < 50; i++ {
		dec := engine.CheckLimit(ctx, req)
		if !dec.Allowed {
			t.Fatalf("call %d unexpectedly denied", i)
		}
	}

	if countingStore.evalCalls != 1 {
		t.Errorf("store Eval calls = %d, want exactly 1", countingStore.evalCalls)
	}
}

// Scenario 2: concurrent burst (premium/search/US), burst=100.
func TestEngine_ConcurrentBurst(t *testing.T) {
	engine, _, _ := newTestEngine(t, WithCacheTTL(-time.Second)) // guarantee every lookup misses, so each call hits the store
	ctx := context.Background()
	req := Request{Identity: "user_1", Endpoint: "/api/search", Tier: TierPremium, Region: "US", Cost: 1}

	var wg sync.WaitGroup
	results := make([]Decision, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = engine.CheckLimit(ctx, req)
		}(i)
	}
	wg.Wait()

	allowedCount := 0
	for _, dec := range results {
		if dec.Allowed {
			allowedCount++
		}
	}
	if allowedCount != 50 {
		t.Errorf("allowedCount = %d, want 50 (burst=100 comfortably covers 50 concurrent calls)", allowedCount)
	}
}

func TestEngine_MissingPolicyIsUnconditionalAllow(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	dec := engine.CheckLimit(context.Background(), Request{
		Identity: "user_1", Endpoint: "/api/unconfigured", Tier: TierFree, Region: "US",
	})
	if !dec.Allowed || dec.Remaining != Unbounded {
		t.Errorf("got %+v, want unconditional allow for an unconfigured endpoint", dec)
	}
}

func TestEngine_StoreFailureFailsOpen(t *testing.T) {
	store := &unreachableStore{}
	clk := newFakeClock(time.Unix(1_700_000_000, 0))

	engine := NewEngine(store, NewRegistry(), withClock(clk))
	dec := engine.CheckLimit(context.Background(), Request{
		Identity: "user_1", Endpoint: "/api/search", Tier: TierFree, Region: "US",
	})

	if !dec.Allowed || dec.Remaining != Unbounded {
		t.Errorf("got %+v, want fail-open allow when both the atomic and fallback paths cannot reach the store", dec)
	}
}

func TestEngine_SetPolicyThenCheckLimitUsesNewPolicy(t *testing.T) {
	engine, _, _ := newTestEngine(t, WithCacheTTL(-time.Second)) // the second call must reach the bucket, not the cached allow
	engine.SetPolicy(TierFree, "/api/widgets", Policy{WindowSeconds: 60, Max: 1, Burst: 1})

	ctx := context.Background()
	req := Request{Identity: "user_1", Endpoint: "/api/widgets", Tier: TierFree, Region: "US"}

	dec := engine.CheckLimit(ctx, req)
	if !dec.Allowed {
		t.Fatal("first call should be allowed (burst=1)")
	}
	dec = engine.CheckLimit(ctx, req)
	if dec.Allowed {
		t.Fatal("second call should be denied (burst=1 exhausted)")
	}
}

func TestEngine_ClearCacheForForcesReEvaluation(t *testing.T) {
	countingStore := &countingStore{MemoryStore: NewMemoryStore()}
	clk := newFakeClock(time.Unix(1_700_000_000, 0))
	countingStore.clock = clk

	engine := NewEngine(countingStore, NewRegistry(), withClock(clk), WithCacheTTL(10*time.Second))
	ctx := context.Background()
	req := Request{Identity: "user_1", Endpoint: "/api/search", Tier: TierFree, Region: "US"}

	engine.CheckLimit(ctx, req)
	engine.CheckLimit(ctx, req) // cache hit, no extra store call

	if countingStore.evalCalls != 1 {
		t.Fatalf("evalCalls = %d before clear, want 1", countingStore.evalCalls)
	}

	engine.ClearCacheFor("user_1")
	engine.CheckLimit(ctx, req)

	if countingStore.evalCalls != 2 {
		t.Errorf("evalCalls = %d after ClearCacheFor, want 2", countingStore.evalCalls)
	}
}

func TestEngine_AnalyticsRecordedRegardlessOfPath(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	engine.CheckLimit(ctx, Request{Identity: "u1", Endpoint: "/api/search", Tier: TierUnlimited, Region: "US"})
	engine.CheckLimit(ctx, Request{Identity: "u2", Endpoint: "/api/search", Tier: TierFree, Region: "US"})

	report := engine.GetAnalyticsReport()
	if report.TotalAllowed < 2 {
		t.Errorf("TotalAllowed = %d, want at least 2", report.TotalAllowed)
	}
}

// countingStore wraps MemoryStore to count Eval invocations, for asserting
// the cache actually collapses repeat calls (scenario 6).
type countingStore struct {
	*MemoryStore
	mu        sync.Mutex
	evalCalls int
}

func (c *countingStore) Eval(ctx context.Context, keys [3]string, now, adjMax, adjBurst, windowSeconds, cost int64) (EvalResult, error) {
	c.mu.Lock()
	c.evalCalls++
	c.mu.Unlock()
	return c.MemoryStore.Eval(ctx, keys, now, adjMax, adjBurst, windowSeconds, cost)
}

// unreachableStore fails every operation, simulating a store that cannot be
// reached at all (as opposed to MemoryStore.FailEval, which only breaks
// Eval and leaves Get/SetEX healthy enough for the fallback path to still
// succeed against them).
type unreachableStore struct{}

func (unreachableStore) Get(ctx context.Context, key string) (string, error) {
	return "", ErrStoreUnavailable
}

func (unreachableStore) SetEX(ctx context.Context, key string, ttlSeconds int64, value string) error {
	return ErrStoreUnavailable
}

func (unreachableStore) Eval(ctx context.Context, keys [3]string, now, adjMax, adjBurst, windowSeconds, cost int64) (EvalResult, error) {
	return EvalResult{}, ErrStoreUnavailable
}
