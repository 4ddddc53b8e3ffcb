package dns_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wick3d/customdomains/internal/dns"
)

func newDoHServer(t *testing.T, status int, body string) (*httptest.Server, *http.Request) {
	t.Helper()
	var last http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last = *r
		w.Header().Set("Content-Type", "application/dns-json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

func TestDoHResolver_txtStripsQuotesAndFiltersType(t *testing.T) {
	srv, last := newDoHServer(t, http.StatusOK, `{
		"Status": 0,
		"Answer": [
			{"name": "example.com.", "type": 5, "TTL": 60, "data": "alias.example.net."},
			{"name": "example.com.", "type": 16, "TTL": 60, "data": "\"wick3d-verification=abc123\""},
			{"name": "example.com.", "type": 16, "TTL": 60, "data": "\"v=spf1 \" \"-all\""}
		]
	}`)

	r := dns.NewDoHResolver(dns.DoHProvider{Name: "test-doh", Endpoint: srv.URL}, dns.WithHTTPClient(srv.Client()))
	records, err := r.Resolve(context.Background(), "example.com", dns.TypeTXT)
	require.NoError(t, err)
	assert.Equal(t, []string{"wick3d-verification=abc123", "v=spf1 -all"}, records)

	assert.Equal(t, "example.com", last.URL.Query().Get("name"))
	assert.Equal(t, "TXT", last.URL.Query().Get("type"))
	assert.Equal(t, "application/dns-json", last.Header.Get("Accept"))
	assert.Equal(t, "test-doh", r.Name())
}

func TestDoHResolver_cnameTrimsTrailingDot(t *testing.T) {
	srv, _ := newDoHServer(t, http.StatusOK, `{"Status":0,"Answer":[{"type":5,"data":"d-1a2b.domains.wick3d.link."}]}`)

	r := dns.NewDoHResolver(dns.DoHProvider{Name: "test-doh", Endpoint: srv.URL})
	records, err := r.Resolve(context.Background(), "links.example.com", dns.TypeCNAME)
	require.NoError(t, err)
	assert.Equal(t, []string{"d-1a2b.domains.wick3d.link"}, records)
}

func TestDoHResolver_missingAnswerIsEmpty(t *testing.T) {
	srv, _ := newDoHServer(t, http.StatusOK, `{"Status":0,"Question":[{"name":"nope.example.com.","type":16}]}`)

	r := dns.NewDoHResolver(dns.DoHProvider{Name: "test-doh", Endpoint: srv.URL})
	records, err := r.Resolve(context.Background(), "nope.example.com", dns.TypeTXT)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDoHResolver_nxdomainIsNotFound(t *testing.T) {
	srv, _ := newDoHServer(t, http.StatusOK, `{"Status":3,"Question":[{"name":"nope.example.com.","type":16}]}`)

	r := dns.NewDoHResolver(dns.DoHProvider{Name: "test-doh", Endpoint: srv.URL})
	records, err := r.Resolve(context.Background(), "nope.example.com", dns.TypeTXT)
	require.ErrorIs(t, err, dns.ErrNotFound)
	assert.Empty(t, records)
	assert.True(t, dns.IsTransient(err))
}

func TestDoHResolver_servfailIsError(t *testing.T) {
	srv, _ := newDoHServer(t, http.StatusOK, `{"Status":2}`)

	r := dns.NewDoHResolver(dns.DoHProvider{Name: "test-doh", Endpoint: srv.URL})
	_, err := r.Resolve(context.Background(), "example.com", dns.TypeTXT)
	assert.ErrorContains(t, err, "rcode 2")
}

func TestDoHResolver_httpErrorIsError(t *testing.T) {
	srv, _ := newDoHServer(t, http.StatusBadGateway, `upstream unavailable`)

	r := dns.NewDoHResolver(dns.DoHProvider{Name: "test-doh", Endpoint: srv.URL})
	_, err := r.Resolve(context.Background(), "example.com", dns.TypeTXT)
	assert.ErrorContains(t, err, "HTTP 502")
}

func TestDoHResolver_malformedJSON(t *testing.T) {
	srv, _ := newDoHServer(t, http.StatusOK, `{"Answer": [`)

	r := dns.NewDoHResolver(dns.DoHProvider{Name: "test-doh", Endpoint: srv.URL}, dns.WithRateLimit(100, 1))
	_, err := r.Resolve(context.Background(), "example.com", dns.TypeTXT)
	assert.ErrorContains(t, err, "decode")
}

func TestDoHProviderByName(t *testing.T) {
	p, ok := dns.DoHProviderByName("Google")
	require.True(t, ok)
	assert.Equal(t, dns.GoogleDoH, p)

	p, ok = dns.DoHProviderByName("cloudflare-doh")
	require.True(t, ok)
	assert.Equal(t, dns.CloudflareDoH, p)

	_, ok = dns.DoHProviderByName("quad9")
	assert.False(t, ok)
}
