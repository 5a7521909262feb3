package ratelimit

import "github.com/pkg/errors"

// Sentinel error kinds reported by the store drivers. The engine falls back
// from the atomic evaluator to the non-atomic one on any Eval error,
// whichever kind it is.
var (
	// ErrStoreUnavailable means a Get or SetEX could not reach the store
	// (connection refused, timeout, context cancellation).
	ErrStoreUnavailable = errors.New("ratelimit: store unavailable")

	// ErrScriptFailed means running the atomic bucket script failed.
	// RedisStore.Eval reports every EVALSHA/EVAL failure under it, transport
	// errors included, as well as a malformed reply.
	ErrScriptFailed = errors.New("ratelimit: atomic script failed")

	// ErrKeyNotFound is returned by Store.Get when the key is absent. It is
	// not a failure; callers treat it as "use the documented default".
	ErrKeyNotFound = errors.New("ratelimit: key not found")
)

// wrapStore wraps an underlying store error with a sentinel and context.
// The result still satisfies errors.Is(result, sentinel).
func wrapStore(sentinel error, msg string, cause error) error {
	if cause == nil {
		return nil
	}
	return errors.Wrapf(sentinel, "%s: %v", msg, cause)
}
