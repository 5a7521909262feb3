package ratelimit

import "time"

// Unbounded is the sentinel value returned in Decision.Remaining for tiers
// and endpoints that are not rate limited at all (unlimited tier, or an
// endpoint with no configured policy).
const Unbounded = -1

// Tier selects which policy row applies to a request.
type Tier string

const (
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
	TierUnlimited  Tier = "unlimited"
)

// DefaultRegion is applied when a request carries no region, or a region
// with no configured multiplier.
const DefaultRegion = "DEFAULT"

// Request is the normalized descriptor the engine evaluates. It is built by
// the HTTP boundary (or any other caller) from raw input; the engine itself
// never parses headers.
type Request struct {
	Identity string
	Endpoint string
	Tier     Tier
	Region   string
	Cost     int64
}

// normalize fills in the documented defaults for an incoming request:
// unknown tiers coerce to free, cost below 1 coerces to 1, empty region
// becomes DefaultRegion.
func (r Request) normalize() Request {
	switch r.Tier {
	case TierFree, TierPremium, TierEnterprise, TierUnlimited:
	default:
		r.Tier = TierFree
	}
	if r.Region == "" {
		r.Region = DefaultRegion
	}
	if r.Cost < 1 {
		r.Cost = 1
	}
	return r
}

// Decision is the outcome of a single CheckLimit call.
type Decision struct {
	Allowed           bool
	Remaining         int64
	RetryAfterSeconds int64
	Cost              int64
}

// Policy is the per-(tier, endpoint) rate-limiting rule.
type Policy struct {
	WindowSeconds int64
	Max           int64
	Burst         int64
}

// adjusted scales a policy by a region multiplier and a slow-start
// multiplier to get the ceilings actually enforced for one request.
func (p Policy) adjusted(regionMult, slowStartMult float64) (adjMax, adjBurst int64) {
	adjMax = int64(float64(p.Max) * regionMult * slowStartMult)
	adjBurst = int64(float64(p.Burst) * regionMult * slowStartMult)
	return
}

// bucketState is the (tokens, last_refill, count) triple held per identity
// and endpoint, either in the shared store or reconstructed locally by the
// fallback evaluator.
type bucketState struct {
	tokens     float64
	lastRefill int64 // unix seconds
	count      int64
}

// refillAndConsume applies the same refill-then-admit arithmetic as the
// bucket script: refill tokens for the elapsed time since lastRefill,
// clamp to [0, adjBurst], then admit iff enough tokens remain and count
// hasn't hit adjMax. It returns the resulting state and whether the
// request was admitted; callers are responsible for persisting the state.
func (b bucketState) refillAndConsume(now, adjMax, adjBurst, windowSeconds, cost int64) (bucketState, bool) {
	dt := now - b.lastRefill
	if dt < 0 {
		dt = 0
	}

	var refill float64
	if adjMax > 0 && windowSeconds > 0 {
		refill = float64(dt) * float64(adjMax) / float64(windowSeconds)
	}

	tokens1 := b.tokens + refill
	if tokens1 > float64(adjBurst) {
		tokens1 = float64(adjBurst)
	}
	if tokens1 < 0 {
		tokens1 = 0
	}

	admitted := false
	tokens2 := tokens1
	count2 := b.count
	if tokens1 >= float64(cost) && b.count < adjMax {
		admitted = true
		tokens2 = tokens1 - float64(cost)
		count2 = b.count + cost
	}
	if tokens2 < 0 {
		tokens2 = 0
	}

	return bucketState{tokens: tokens2, lastRefill: now, count: count2}, admitted
}

// clock abstracts time.Now so tests can control slow-start and cache aging
// deterministically. Production code uses realClock.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
