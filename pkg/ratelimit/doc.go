// Package ratelimit implements a distributed rate-limiting decision engine
// for a multi-tenant HTTP platform.
//
// The primary entry point is the Engine type:
//
//	dec := engine.CheckLimit(ctx, Request{
//		Identity: "user_123",
//		Endpoint: "/api/search",
//		Tier:     "free",
//		Region:   "US",
//		Cost:     1,
//	})
//
// The returned Decision says whether the request is admitted and, if not,
// how long the caller should wait before retrying.
//
// # Overview
//
// Every decision is the product of a token bucket held in a shared store
// (Redis in production), so that a fleet of stateless frontends enforces a
// single consistent limit per identity. On top of the bucket itself, the
// engine layers:
//
//   - a tier lookup that can bypass the store entirely (unlimited tier),
//   - a region multiplier that loosens or tightens the bucket,
//   - a slow-start ramp that gives new identities a smaller bucket until
//     they have been seen for a configured duration,
//   - a short-TTL local cache that collapses bursts of identical calls
//     without re-consulting the store,
//   - a non-atomic fallback evaluator used when the store is unreachable,
//     so a store outage degrades enforcement instead of availability.
//
// # Backends
//
// Store implementations satisfy the Store interface. RedisStore is the
// production binding (backed by a Lua script run via EVALSHA/EVAL so the
// refill-and-consume sequence is atomic). MemoryStore is an in-process fake
// used in tests and local development; it has no cross-process visibility.
//
// # Failure policy
//
// The engine fails open: any store-reachability failure degrades
// enforcement rather than rejecting traffic. See Engine.CheckLimit for the
// exact fallback sequence.
package ratelimit
