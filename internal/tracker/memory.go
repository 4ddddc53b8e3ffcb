package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wick3d/customdomains/internal/dns"
)

type memoryEntry struct {
	rec       DomainRecord
	expiresAt time.Time
}

// MemoryTracker is a mutex-guarded map with per-entry expiry. Expired entries
// are hidden on read and removed by Sweep. It is only valid within a single
// process; multi-instance deployments use RedisTracker.
type MemoryTracker struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// MemoryOption configures a MemoryTracker.
type MemoryOption func(*MemoryTracker)

// WithTTL overrides the transition window.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(t *MemoryTracker) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(t *MemoryTracker) { t.now = now }
}

// NewMemory creates an empty MemoryTracker.
func NewMemory(opts ...MemoryOption) *MemoryTracker {
	t := &MemoryTracker{
		entries: make(map[string]*memoryEntry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AddDomain implements Tracker.
func (t *MemoryTracker) AddDomain(_ context.Context, domain, target string, method dns.Method, isPrimary bool) (*DomainRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	e := &memoryEntry{
		rec: DomainRecord{
			Domain:    domain,
			Target:    target,
			Method:    method,
			IsPrimary: isPrimary,
			AddedAt:   now.UTC(),
		},
		expiresAt: now.Add(t.ttl),
	}
	t.entries[domain] = e
	return copyRecord(&e.rec), nil
}

// GetDomain implements Tracker.
func (t *MemoryTracker) GetDomain(_ context.Context, domain string) (*DomainRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e := t.live(domain)
	if e == nil {
		return nil, nil
	}
	return copyRecord(&e.rec), nil
}

// MarkVerified implements Tracker. The transition window is not extended.
func (t *MemoryTracker) MarkVerified(_ context.Context, domain string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.live(domain)
	if e == nil {
		return ErrNotTracked
	}
	e.rec.Verified = true
	return nil
}

// UpdateReputation implements Tracker.
func (t *MemoryTracker) UpdateReputation(_ context.Context, domain string, rep Reputation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.live(domain)
	if e == nil {
		return ErrNotTracked
	}
	if rep.LastChecked.IsZero() {
		rep.LastChecked = t.now().UTC()
	}
	e.rec.Reputation = &rep
	return nil
}

// HasRecentReputationData implements Tracker.
func (t *MemoryTracker) HasRecentReputationData(_ context.Context, domain string, maxAge time.Duration) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e := t.live(domain)
	if e == nil {
		return false, nil
	}
	return recentReputation(&e.rec, maxAge, t.now()), nil
}

// GetAllDomains implements Tracker. Records are sorted by domain.
func (t *MemoryTracker) GetAllDomains(_ context.Context) ([]*DomainRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*DomainRecord, 0, len(t.entries))
	for domain := range t.entries {
		if e := t.live(domain); e != nil {
			out = append(out, copyRecord(&e.rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

// RemoveDomain implements Tracker. Removing an unknown domain is a no-op.
func (t *MemoryTracker) RemoveDomain(_ context.Context, domain string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, domain)
	return nil
}

// ClearAll implements Tracker.
func (t *MemoryTracker) ClearAll(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*memoryEntry)
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (t *MemoryTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	n := 0
	for k, e := range t.entries {
		if !now.Before(e.expiresAt) {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired ones included.
func (t *MemoryTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// live returns the unexpired entry for domain. Callers hold t.mu.
func (t *MemoryTracker) live(domain string) *memoryEntry {
	e, ok := t.entries[domain]
	if !ok || !t.now().Before(e.expiresAt) {
		return nil
	}
	return e
}

func copyRecord(r *DomainRecord) *DomainRecord {
	cp := *r
	if r.Reputation != nil {
		rep := *r.Reputation
		rep.Details = append([]string(nil), r.Reputation.Details...)
		cp.Reputation = &rep
	}
	return &cp
}
