package settings_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wick3d/customdomains/internal/settings"
	"github.com/wick3d/customdomains/migrations"
)

func newPostgresStore(t *testing.T) (*settings.PostgresStore, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping postgres settings tests")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, migrations.Up(ctx, pool, zap.NewNop()))
	_, err = pool.Exec(ctx, `UPDATE domain_settings SET custom_domain = '', domain_cname_target = '',
		domain_verification_token = '', domain_verified = FALSE, use_custom_domain = FALSE,
		additional_domains = '[]'::jsonb WHERE id = 1`)
	require.NoError(t, err)

	return settings.NewPostgresStore(pool, zap.NewNop()), pool
}

func TestPostgresStore_roundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newPostgresStore(t)

	_, err := s.UpdateSettings(ctx, settings.Update{
		CustomDomain:            settings.String("example.com"),
		DomainVerificationToken: settings.String("wick3d-verification=abc"),
		UseCustomDomain:         settings.Bool(true),
		AdditionalDomains: []settings.AdditionalDomain{
			{Domain: "a.example.com", VerificationToken: "tok-a"},
		},
	})
	require.NoError(t, err)

	cfg, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "example.com", cfg.CustomDomain)
	assert.True(t, cfg.UseCustomDomain)
	assert.False(t, cfg.DomainVerified)
	require.Len(t, cfg.AdditionalDomains, 1)
	assert.Equal(t, "tok-a", cfg.AdditionalDomains[0].VerificationToken)
}

func TestPostgresStore_legacyBlob(t *testing.T) {
	ctx := context.Background()
	s, pool := newPostgresStore(t)

	_, err := pool.Exec(ctx, `UPDATE domain_settings SET additional_domains = '["old.example.com"]'::jsonb WHERE id = 1`)
	require.NoError(t, err)

	cfg, err := s.GetSettings(ctx)
	require.NoError(t, err)
	require.Len(t, cfg.AdditionalDomains, 1)
	assert.True(t, cfg.AdditionalDomains[0].NeedsMigration)
}

func TestPostgresStore_concurrentMutate(t *testing.T) {
	ctx := context.Background()
	s, _ := newPostgresStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
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

	cfg, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Len(t, cfg.AdditionalDomains, 10)
}
