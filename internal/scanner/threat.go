package scanner

import "github.com/kiranshivaraju/scanguard/pkg/models"

// Threat labels attached to URL scan results.
const (
	ThreatCritical = "Critical"
	ThreatHigh     = "High"
	ThreatMedium   = "Medium"
	ThreatLow      = "Low"
	ThreatClean    = "Clean"
	ThreatUnknown  = "Unknown"
)

// ThreatLevel derives a label from engine vote counts. Nil stats mean the
// analysis produced nothing usable.
func ThreatLevel(stats *models.URLStats) string {
	switch {
	case stats == nil:
		return ThreatUnknown
	case stats.Malicious > 5:
		return ThreatCritical
	case stats.Malicious > 0:
		return ThreatHigh
	case stats.Suspicious > 0:
		return ThreatMedium
	case stats.Harmless > 0 || stats.Undetected > 0:
		return ThreatClean
	default:
		return ThreatLow
	}
}
