package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in tests and local development.
// It has no cross-process visibility, unlike RedisStore — every instance
// owns its own map. It reproduces the bucket script's arithmetic in Go
// under a mutex instead of delegating to a server-side script, since a
// single process IS its own atomicity boundary.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]memEntry
	clock   clock
	evalErr error // when set, Eval always fails with this error (for fault injection in tests)
}

type memEntry struct {
	value    string
	expireAt time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]memEntry),
		clock:  realClock{},
	}
}

// FailEval makes every subsequent Eval call return err, simulating a
// store transport or script failure so callers can exercise the atomic-to-
// fallback path deterministically. Pass nil to clear it.
func (s *MemoryStore) FailEval(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evalErr = err
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.values[key]
	if !ok || s.clock.Now().After(e.expireAt) {
		delete(s.values, key)
		return "", ErrKeyNotFound
	}
	return e.value, nil
}

func (s *MemoryStore) SetEX(ctx context.Context, key string, ttlSeconds int64, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = memEntry{value: value, expireAt: s.clock.Now().Add(secondsToDuration(ttlSeconds))}
	return nil
}

// Eval reproduces the bucket script's refill/admission arithmetic directly
// in Go, holding the store mutex for the whole operation so it is atomic
// with respect to every other call on this MemoryStore.
func (s *MemoryStore) Eval(ctx context.Context, keys [3]string, now, adjMax, adjBurst, windowSeconds, cost int64) (EvalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.evalErr != nil {
		return EvalResult{}, s.evalErr
	}

	before := bucketState{
		tokens:     s.getFloatLocked(keys[0], float64(adjBurst)),
		lastRefill: s.getIntLocked(keys[1], now),
		count:      s.getIntLocked(keys[2], 0),
	}
	after, admitted := before.refillAndConsume(now, adjMax, adjBurst, windowSeconds, cost)

	s.setFloatLocked(keys[0], after.tokens, windowSeconds)
	s.setIntLocked(keys[1], after.lastRefill, windowSeconds)
	s.setIntLocked(keys[2], after.count, windowSeconds)

	return EvalResult{
		Admitted:    admitted,
		TokensAfter: int64(after.tokens),
		CountAfter:  after.count,
	}, nil
}

func (s *MemoryStore) getFloatLocked(key string, def float64) float64 {
	e, ok := s.values[key]
	if !ok || s.clock.Now().After(e.expireAt) {
		return def
	}
	v, err := parseFloat(e.value)
	if err != nil {
		return def
	}
	return v
}

func (s *MemoryStore) getIntLocked(key string, def int64) int64 {
	e, ok := s.values[key]
	if !ok || s.clock.Now().After(e.expireAt) {
		return def
	}
	v, err := parseFloat(e.value)
	if err != nil {
		return def
	}
	return int64(v)
}

func (s *MemoryStore) setFloatLocked(key string, value float64, ttlSeconds int64) {
	s.values[key] = memEntry{value: formatFloat(value), expireAt: s.clock.Now().Add(secondsToDuration(ttlSeconds))}
}

func (s *MemoryStore) setIntLocked(key string, value int64, ttlSeconds int64) {
	s.values[key] = memEntry{value: formatFloat(float64(value)), expireAt: s.clock.Now().Add(secondsToDuration(ttlSeconds))}
}
