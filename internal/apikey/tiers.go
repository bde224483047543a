package apikey

import "strings"

const (
	TierFree       = "FREE"
	TierPro        = "PRO"
	TierEnterprise = "ENTERPRISE"
)

// Limits are the daily and monthly request ceilings of a tier.
type Limits struct {
	Daily   int64
	Monthly int64
}

var tierLimits = map[string]Limits{
	TierFree:       {Daily: 100, Monthly: 1000},
	TierPro:        {Daily: 1000, Monthly: 20000},
	TierEnterprise: {Daily: 10000, Monthly: 200000},
}

// ResolveTier normalizes a tier name and returns its limits. Unknown or
// empty tiers fall back to FREE.
func ResolveTier(tier string) (string, Limits) {
	name := strings.ToUpper(strings.TrimSpace(tier))
	if l, ok := tierLimits[name]; ok {
		return name, l
	}
	return TierFree, tierLimits[TierFree]
}
