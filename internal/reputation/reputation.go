// Package reputation scores custom domains for abuse risk. Scores are cached
// in the domain tracker and refreshed only when the cached value is stale.
package reputation

import (
	"context"
	"time"

	"github.com/wick3d/customdomains/internal/tracker"
)

// Source identifies the rule-based scorer in cached reputations.
const Source = "rules"

// Finding is a single rule match.
type Finding struct {
	Rule        string  `json:"rule"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// Scorer assesses a normalized domain name.
type Scorer interface {
	Score(ctx context.Context, domain string) (tracker.Reputation, error)
}

// riskLabel maps a 0–100 score to a risk bucket:
//
//	0–29   → low
//	30–59  → medium
//	60–100 → high
func riskLabel(score int) tracker.Risk {
	switch {
	case score >= 60:
		return tracker.RiskHigh
	case score >= 30:
		return tracker.RiskMedium
	default:
		return tracker.RiskLow
	}
}

// Unknown is the reputation recorded when scoring fails.
func Unknown(now time.Time, reason string) tracker.Reputation {
	return tracker.Reputation{
		Score:       0,
		Risk:        tracker.RiskUnknown,
		LastChecked: now.UTC(),
		Source:      Source,
		Details:     []string{reason},
	}
}
