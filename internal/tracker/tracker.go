// Package tracker holds recently registered or mutated custom domains in a
// cache with a bounded transition window. It bridges the gap between writing
// to the settings store and that store's read path becoming consistent; it is
// never the source of truth. A miss means "ask the settings store".
package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/wick3d/customdomains/internal/dns"
)

// DefaultTTL is the transition window after which an entry is evicted.
const DefaultTTL = 30 * time.Minute

// DefaultReputationMaxAge is how long a cached reputation counts as recent.
const DefaultReputationMaxAge = 24 * time.Hour

// ErrNotTracked is returned when mutating a domain that is not in the tracker.
var ErrNotTracked = errors.New("domain not tracked")

// Risk is a coarse reputation bucket.
type Risk string

const (
	RiskLow     Risk = "low"
	RiskMedium  Risk = "medium"
	RiskHigh    Risk = "high"
	RiskUnknown Risk = "unknown"
)

// Reputation is a cached risk assessment for a domain.
type Reputation struct {
	Score       int       `json:"score"` // 0–100, higher is riskier
	Risk        Risk      `json:"risk"`
	LastChecked time.Time `json:"last_checked"`
	Source      string    `json:"source"`
	Details     []string  `json:"details,omitempty"`
}

// DomainRecord is one tracked domain.
type DomainRecord struct {
	Domain     string      `json:"domain"`
	Target     string      `json:"target"` // ownership token, or CNAME target for MethodCNAME
	Method     dns.Method  `json:"method"`
	IsPrimary  bool        `json:"is_primary"`
	Verified   bool        `json:"verified"`
	AddedAt    time.Time   `json:"added_at"`
	Reputation *Reputation `json:"reputation,omitempty"`
}

// Tracker is the domain tracking cache. MemoryTracker and RedisTracker
// implement it. GetDomain returns (nil, nil) on a miss.
type Tracker interface {
	// AddDomain inserts or overwrites the entry for domain, resetting its
	// verified flag, reputation and transition window.
	AddDomain(ctx context.Context, domain, target string, method dns.Method, isPrimary bool) (*DomainRecord, error)
	GetDomain(ctx context.Context, domain string) (*DomainRecord, error)
	MarkVerified(ctx context.Context, domain string) error
	UpdateReputation(ctx context.Context, domain string, rep Reputation) error
	HasRecentReputationData(ctx context.Context, domain string, maxAge time.Duration) (bool, error)
	GetAllDomains(ctx context.Context) ([]*DomainRecord, error)
	RemoveDomain(ctx context.Context, domain string) error
	ClearAll(ctx context.Context) error
}

func recentReputation(rec *DomainRecord, maxAge time.Duration, now time.Time) bool {
	if rec == nil || rec.Reputation == nil {
		return false
	}
	if maxAge <= 0 {
		maxAge = DefaultReputationMaxAge
	}
	return now.Sub(rec.Reputation.LastChecked) < maxAge
}
