package main

import (
	"context"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wick3d/customdomains/internal/health"
)

func loadTestConfig(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	require.NoError(t, loadConfig(zap.NewNop()))
}

func TestLoadConfig_defaults(t *testing.T) {
	loadTestConfig(t)

	assert.Equal(t, 8080, viper.GetInt("server.port"))
	assert.Equal(t, "postgres", viper.GetString("settings.backend"))
	assert.Equal(t, []string{"google", "cloudflare"}, viper.GetStringSlice("dns.doh_providers"))
	assert.Equal(t, 30, viper.GetInt("reconcile.max_attempts"))
}

func TestBuildVerifier(t *testing.T) {
	loadTestConfig(t)

	v, err := buildVerifier(zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, v)

	viper.Set("dns.doh_providers", []string{"quad9-typo"})
	_, err = buildVerifier(zap.NewNop())
	assert.ErrorContains(t, err, "quad9-typo")
}

func TestOpenSettings_memory(t *testing.T) {
	loadTestConfig(t)
	viper.Set("settings.backend", "memory")
	viper.Set("tracker.backend", "memory")

	ctx := context.Background()
	checker := health.New(health.Config{}, zap.NewNop())
	store, ledger, closeStore, err := openSettings(ctx, checker, zap.NewNop())
	require.NoError(t, err)
	defer closeStore()
	assert.NotNil(t, store)
	require.NoError(t, ledger.Verify(ctx))

	tr, sweeper, closeTracker, err := openTracker(ctx, checker, zap.NewNop())
	require.NoError(t, err)
	defer closeTracker()
	assert.NotNil(t, tr)
	assert.NotNil(t, sweeper)
	assert.Empty(t, checker.Statuses())
}

func TestFanout(t *testing.T) {
	var got []string
	fn := fanout(
		func(_ context.Context, eventType string, _ map[string]string) { got = append(got, "audit:"+eventType) },
		nil,
		func(_ context.Context, eventType string, p map[string]string) { got = append(got, "hooks:"+p["domain"]) },
	)
	fn(context.Background(), "domain.verified", map[string]string{"domain": "example.com"})
	assert.Equal(t, []string{"audit:domain.verified", "hooks:example.com"}, got)
}
