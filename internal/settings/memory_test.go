package settings_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wick3d/customdomains/internal/settings"
)

func TestMemoryStore_partialUpdate(t *testing.T) {
	ctx := context.Background()
	s := settings.NewMemoryStore(&settings.DomainConfig{CustomDomain: "example.com", DomainVerificationToken: "tok"})

	got, err := s.UpdateSettings(ctx, settings.Update{DomainVerified: settings.Bool(true)})
	require.NoError(t, err)
	assert.Equal(t, "example.com", got.CustomDomain)
	assert.Equal(t, "tok", got.DomainVerificationToken)
	assert.True(t, got.DomainVerified)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestMemoryStore_getReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := settings.NewMemoryStore(&settings.DomainConfig{
		AdditionalDomains: []settings.AdditionalDomain{{Domain: "a.example.com"}},
	})

	cfg, err := s.GetSettings(ctx)
	require.NoError(t, err)
	cfg.AdditionalDomains[0].Verified = true

	again, _ := s.GetSettings(ctx)
	assert.False(t, again.AdditionalDomains[0].Verified)
}

func TestMemoryStore_mutateErrorLeavesConfig(t *testing.T) {
	ctx := context.Background()
	s := settings.NewMemoryStore(&settings.DomainConfig{CustomDomain: "example.com"})
	boom := errors.New("boom")

	_, err := s.Mutate(ctx, func(c *settings.DomainConfig) error {
		c.CustomDomain = "changed.com"
		return boom
	})
	require.ErrorIs(t, err, boom)

	cfg, _ := s.GetSettings(ctx)
	assert.Equal(t, "example.com", cfg.CustomDomain)
}

func TestMemoryStore_concurrentMutateNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	s := settings.NewMemoryStore(nil)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Mutate(ctx, func(c *settings.DomainConfig) error {
				c.AdditionalDomains = append(c.AdditionalDomains, settings.AdditionalDomain{
					Domain: fmt.Sprintf("d%d.example.com", i),
				})
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	cfg, _ := s.GetSettings(ctx)
	assert.Len(t, cfg.AdditionalDomains, 25)
}

func TestDomainConfig_additionalHelpers(t *testing.T) {
	cfg := &settings.DomainConfig{AdditionalDomains: []settings.AdditionalDomain{
		{Domain: "a.example.com"}, {Domain: "b.example.com"},
	}}

	a := cfg.Additional("b.example.com")
	require.NotNil(t, a)
	a.Verified = true
	assert.True(t, cfg.AdditionalDomains[1].Verified)
	assert.Nil(t, cfg.Additional("c.example.com"))

	assert.True(t, cfg.RemoveAdditional("a.example.com"))
	assert.False(t, cfg.RemoveAdditional("a.example.com"))
	require.Len(t, cfg.AdditionalDomains, 1)
	assert.Equal(t, "b.example.com", cfg.AdditionalDomains[0].Domain)
}
