package ratelimit

// DefaultPolicies returns the shipped policy table: max/burst/window per
// (tier, endpoint). unlimited has no rows; PolicyFor always reports
// ok=false for it regardless of what this map contains.
func DefaultPolicies() map[policyKey]Policy {
	const hour = 3600
	return map[policyKey]Policy{
		{TierFree, "/api/search"}:         {WindowSeconds: hour, Max: 100, Burst: 20},
		{TierFree, "/api/checkout"}:       {WindowSeconds: hour, Max: 10, Burst: 2},
		{TierFree, "/api/profile"}:        {WindowSeconds: hour, Max: 50, Burst: 10},
		{TierPremium, "/api/search"}:      {WindowSeconds: hour, Max: 1000, Burst: 100},
		{TierPremium, "/api/checkout"}:    {WindowSeconds: hour, Max: 100, Burst: 20},
		{TierPremium, "/api/profile"}:     {WindowSeconds: hour, Max: 200, Burst: 40},
		{TierEnterprise, "/api/search"}:   {WindowSeconds: hour, Max: 10000, Burst: 1000},
		{TierEnterprise, "/api/checkout"}: {WindowSeconds: hour, Max: 1000, Burst: 200},
		{TierEnterprise, "/api/profile"}:  {WindowSeconds: hour, Max: 1000, Burst: 200},
	}
}

// DefaultRegionMultipliers returns the shipped region multiplier table.
func DefaultRegionMultipliers() map[string]float64 {
	return map[string]float64{
		"US":          1.0,
		"EU":          1.0,
		"CN":          0.5,
		"IN":          2.0,
		DefaultRegion: 1.0,
	}
}
