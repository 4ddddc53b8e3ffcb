package settings

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the config in process. Used in development and tests.
type MemoryStore struct {
	mu  sync.Mutex
	cfg *DomainConfig
}

// NewMemoryStore returns a store seeded with initial, or an empty config.
func NewMemoryStore(initial *DomainConfig) *MemoryStore {
	if initial == nil {
		initial = &DomainConfig{}
	}
	return &MemoryStore{cfg: initial.Clone()}
}

// GetSettings implements Store.
func (s *MemoryStore) GetSettings(_ context.Context) (*DomainConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone(), nil
}

// UpdateSettings implements Store.
func (s *MemoryStore) UpdateSettings(ctx context.Context, u Update) (*DomainConfig, error) {
	return s.Mutate(ctx, func(c *DomainConfig) error {
		u.Apply(c)
		return nil
	})
}

// Mutate implements Store.
func (s *MemoryStore) Mutate(ctx context.Context, fn func(*DomainConfig) error) (*DomainConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	s.cfg = next
	return next.Clone(), nil
}

var _ Store = (*MemoryStore)(nil)
