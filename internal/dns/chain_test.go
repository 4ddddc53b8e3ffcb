package dns_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wick3d/customdomains/internal/dns"
	"go.uber.org/zap"
)

// ── Stub resolver ───────────────────────────────────────────────────────────

type stubResolver struct {
	name    string
	records []string
	err     error
	delay   time.Duration

	mu    sync.Mutex
	calls int
}

func (s *stubResolver) Name() string { return s.name }

func (s *stubResolver) Resolve(_ context.Context, _ string, _ dns.RecordType) ([]string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.records, s.err
}

func (s *stubResolver) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestChain(resolvers ...dns.Resolver) *dns.Chain {
	return dns.NewChain(dns.ChainConfig{
		LookupTimeout: time.Second,
		Retry:         fastPolicy(2),
	}, zap.NewNop(), resolvers...)
}

const testToken = "wick3d-verification=abc123"

// ── Tests ───────────────────────────────────────────────────────────────────

func TestChain_firstMethodWins(t *testing.T) {
	m1 := &stubResolver{name: "system", records: []string{testToken}}
	m2 := &stubResolver{name: "google-doh", records: []string{"other"}}
	m3 := &stubResolver{name: "cloudflare-doh", records: []string{"other"}}

	res := newTestChain(m1, m2, m3).Resolve(context.Background(), "example.com", dns.TypeTXT)

	assert.Equal(t, []string{testToken}, res.Records)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Methods, 1)
	assert.Equal(t, dns.MethodDiagnostic{Name: "system", Successful: true, Records: 1}, res.Methods[0])
	assert.Zero(t, m2.Calls(), "later methods must not run after a non-empty answer")
	assert.Zero(t, m3.Calls())
}

func TestChain_allEmpty(t *testing.T) {
	m1 := &stubResolver{name: "system", records: []string{}}
	m2 := &stubResolver{name: "google-doh"}
	m3 := &stubResolver{name: "cloudflare-doh", records: []string{}}

	res := newTestChain(m1, m2, m3).Resolve(context.Background(), "example.com", dns.TypeTXT)

	assert.Empty(t, res.Records)
	assert.NotNil(t, res.Records)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Methods, 3)
	for i, name := range []string{"system", "google-doh", "cloudflare-doh"} {
		assert.Equal(t, name, res.Methods[i].Name)
		assert.Zero(t, res.Methods[i].Records)
	}
}

func TestChain_fallsBackAfterError(t *testing.T) {
	m1 := &stubResolver{name: "system", err: fmt.Errorf("%w: example.com", dns.ErrNotFound)}
	m2 := &stubResolver{name: "google-doh", records: []string{testToken}}
	m3 := &stubResolver{name: "cloudflare-doh"}

	res := newTestChain(m1, m2, m3).Resolve(context.Background(), "example.com", dns.TypeTXT)

	assert.Equal(t, []string{testToken}, res.Records)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "system")
	require.Len(t, res.Methods, 2)
	assert.False(t, res.Methods[0].Successful)
	assert.NotEmpty(t, res.Methods[0].Error)
	assert.True(t, res.Methods[1].Successful)
	assert.Equal(t, 3, m1.Calls(), "transient failure retried twice")
	assert.Zero(t, m3.Calls())
}

func TestChain_fatalErrorNotRetried(t *testing.T) {
	m1 := &stubResolver{name: "system", err: fmt.Errorf("refused")}
	m2 := &stubResolver{name: "google-doh", records: []string{testToken}}

	res := newTestChain(m1, m2).Resolve(context.Background(), "example.com", dns.TypeTXT)

	assert.Equal(t, 1, m1.Calls())
	assert.Equal(t, []string{testToken}, res.Records)
}

func TestChain_slowResolverTimesOut(t *testing.T) {
	slow := &stubResolver{name: "system", delay: 200 * time.Millisecond, records: []string{"late"}}
	fast := &stubResolver{name: "google-doh", records: []string{testToken}}

	c := dns.NewChain(dns.ChainConfig{LookupTimeout: 20 * time.Millisecond}, zap.NewNop(), slow, fast)
	start := time.Now()
	res := c.Resolve(context.Background(), "example.com", dns.TypeTXT)

	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, []string{testToken}, res.Records)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], dns.ErrTimeout.Error())
}

// cancellingResolver cancels the caller's context and fails.
type cancellingResolver struct {
	cancel context.CancelFunc
}

func (c *cancellingResolver) Name() string { return "system" }

func (c *cancellingResolver) Resolve(context.Context, string, dns.RecordType) ([]string, error) {
	c.cancel()
	return nil, fmt.Errorf("refused")
}

func TestChain_cancelledContextReportsEveryMethod(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m2 := &stubResolver{name: "google-doh", records: []string{testToken}}
	m3 := &stubResolver{name: "cloudflare-doh", records: []string{testToken}}

	res := newTestChain(&cancellingResolver{cancel: cancel}, m2, m3).Resolve(ctx, "example.com", dns.TypeTXT)

	assert.Empty(t, res.Records)
	require.Len(t, res.Methods, 3)
	require.Len(t, res.Errors, 3)
	for i, name := range []string{"system", "google-doh", "cloudflare-doh"} {
		assert.Equal(t, name, res.Methods[i].Name)
		assert.False(t, res.Methods[i].Successful)
		assert.NotEmpty(t, res.Methods[i].Error)
	}
	assert.Contains(t, res.Methods[1].Error, context.Canceled.Error())
	assert.Zero(t, m2.Calls())
	assert.Zero(t, m3.Calls())
}

func TestChain_metricsCallback(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]string{}
	c := newTestChain(
		&stubResolver{name: "system", err: fmt.Errorf("refused")},
		&stubResolver{name: "google-doh"},
		&stubResolver{name: "cloudflare-doh", records: []string{"x"}},
	)
	c.SetMetricsRecord(func(method, outcome string) {
		mu.Lock()
		seen[method] = outcome
		mu.Unlock()
	})
	c.Resolve(context.Background(), "example.com", dns.TypeTXT)

	assert.Equal(t, map[string]string{"system": "error", "google-doh": "empty", "cloudflare-doh": "records"}, seen)
	assert.Equal(t, []string{"system", "google-doh", "cloudflare-doh"}, c.Methods())
}
