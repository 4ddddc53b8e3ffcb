package dns_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wick3d/customdomains/internal/dns"
)

func TestNewOwnershipToken(t *testing.T) {
	tok, err := dns.NewOwnershipToken("")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok, dns.DefaultTokenPrefix), "token %q lacks default prefix", tok)
	assert.Len(t, strings.TrimPrefix(tok, dns.DefaultTokenPrefix), 32)

	other, err := dns.NewOwnershipToken("")
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)
}

func TestNewOwnershipToken_customPrefix(t *testing.T) {
	tok, err := dns.NewOwnershipToken("acme-site=")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok, "acme-site="))
}

func TestNewCNAMETarget(t *testing.T) {
	target, err := dns.NewCNAMETarget("Domains.Example.NET.")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(target, "d-"))
	assert.True(t, strings.HasSuffix(target, ".domains.example.net"))

	_, err = dns.NewCNAMETarget("  ")
	assert.ErrorIs(t, err, dns.ErrMissingToken)
}

func TestParseMethod(t *testing.T) {
	m, err := dns.ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, dns.MethodTXT, m)

	m, err = dns.ParseMethod(" CNAME ")
	require.NoError(t, err)
	assert.Equal(t, dns.MethodCNAME, m)
	assert.Equal(t, dns.TypeCNAME, m.RecordType())

	_, err = dns.ParseMethod("http")
	assert.Error(t, err)
}

func TestRecordType_String(t *testing.T) {
	assert.Equal(t, "TXT", dns.TypeTXT.String())
	assert.Equal(t, "CNAME", dns.TypeCNAME.String())
	assert.Equal(t, "TYPE1", dns.RecordType(1).String())
}

func TestNormalizeDomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Example.COM", "example.com"},
		{"  links.example.com.  ", "links.example.com"},
		{"https://go.example.com/path?q=1", "go.example.com"},
		{"bücher.example", "xn--bcher-kva.example"},
	}
	for _, tc := range cases {
		got, err := dns.NormalizeDomain(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestNormalizeDomain_invalid(t *testing.T) {
	for _, in := range []string{"", "localhost", "-bad.example.com", "bad-.example.com", "a..b", "exa mple.com", strings.Repeat("a", 64) + ".com"} {
		_, err := dns.NormalizeDomain(in)
		assert.True(t, errors.Is(err, dns.ErrInvalidDomain), "expected ErrInvalidDomain for %q, got %v", in, err)
	}
}
