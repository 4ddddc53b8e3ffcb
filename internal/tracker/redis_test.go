package tracker_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wick3d/customdomains/internal/dns"
	"github.com/wick3d/customdomains/internal/tracker"
)

func newRedisTracker(t *testing.T, prefix string, ttl time.Duration) *tracker.RedisTracker {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set; skipping redis tracker tests")
	}
	ctx := context.Background()
	client, err := tracker.Open(ctx, url)
	require.NoError(t, err)

	tr := tracker.NewRedis(client, prefix, ttl)
	t.Cleanup(func() {
		_ = tr.ClearAll(ctx)
		_ = client.Close()
	})
	return tr
}

func TestRedis_lifecycle(t *testing.T) {
	ctx := context.Background()
	tr := newRedisTracker(t, "test-tracker-lifecycle", time.Minute)

	_, err := tr.AddDomain(ctx, "example.com", "tok", dns.MethodTXT, true)
	require.NoError(t, err)

	require.NoError(t, tr.MarkVerified(ctx, "example.com"))
	require.NoError(t, tr.UpdateReputation(ctx, "example.com", tracker.Reputation{Score: 5, Risk: tracker.RiskLow, Source: "test"}))

	got, err := tr.GetDomain(ctx, "example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Verified)
	assert.True(t, got.IsPrimary)
	require.NotNil(t, got.Reputation)
	assert.Equal(t, 5, got.Reputation.Score)

	ok, err := tr.HasRecentReputationData(ctx, "example.com", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	all, err := tr.GetAllDomains(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, tr.RemoveDomain(ctx, "example.com"))
	got, err = tr.GetDomain(ctx, "example.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedis_unknownDomain(t *testing.T) {
	ctx := context.Background()
	tr := newRedisTracker(t, "test-tracker-unknown", time.Minute)

	assert.ErrorIs(t, tr.MarkVerified(ctx, "missing.com"), tracker.ErrNotTracked)
}

func TestRedis_expiry(t *testing.T) {
	ctx := context.Background()
	tr := newRedisTracker(t, "test-tracker-expiry", time.Second)

	_, err := tr.AddDomain(ctx, "example.com", "tok", dns.MethodTXT, false)
	require.NoError(t, err)
	require.NoError(t, tr.MarkVerified(ctx, "example.com"))

	require.Eventually(t, func() bool {
		got, err := tr.GetDomain(ctx, "example.com")
		return err == nil && got == nil
	}, 5*time.Second, 100*time.Millisecond)
}
