package dns

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DoHProvider describes a public DNS-over-HTTPS endpoint speaking the
// application/dns-json dialect.
type DoHProvider struct {
	Name     string
	Endpoint string
}

var (
	GoogleDoH     = DoHProvider{Name: "google-doh", Endpoint: "https://dns.google/resolve"}
	CloudflareDoH = DoHProvider{Name: "cloudflare-doh", Endpoint: "https://cloudflare-dns.com/dns-query"}
)

// DoHProviderByName returns a built-in provider ("google" or "cloudflare").
func DoHProviderByName(name string) (DoHProvider, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "google", GoogleDoH.Name:
		return GoogleDoH, true
	case "cloudflare", CloudflareDoH.Name:
		return CloudflareDoH, true
	}
	return DoHProvider{}, false
}

// dohResponse is the subset of the JSON DNS answer format we need. A missing
// Answer key decodes to a nil slice, which means "no records".
// DNS response codes carried in the JSON Status field.
const (
	dohStatusNoError  = 0
	dohStatusNXDomain = 3
)

type dohResponse struct {
	Status int         `json:"Status"`
	Answer []dohAnswer `json:"Answer"`
}

type dohAnswer struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	TTL  int    `json:"TTL"`
	Data string `json:"data"`
}

// DoHResolver queries one DNS-over-HTTPS provider.
type DoHResolver struct {
	provider   DoHProvider
	httpClient *http.Client
	limiter    *rate.Limiter
}

// DoHOption configures a DoHResolver.
type DoHOption func(*DoHResolver)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) DoHOption {
	return func(r *DoHResolver) { r.httpClient = hc }
}

// WithRateLimit paces outgoing queries to rps requests per second.
func WithRateLimit(rps float64, burst int) DoHOption {
	return func(r *DoHResolver) {
		if rps > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// NewDoHResolver creates a resolver for the given provider.
func NewDoHResolver(p DoHProvider, opts ...DoHOption) *DoHResolver {
	r := &DoHResolver{
		provider:   p,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name implements Resolver.
func (r *DoHResolver) Name() string { return r.provider.Name }

// Resolve implements Resolver. Non-2xx responses and transport failures are
// errors; an NXDOMAIN status or absent Answer array is an empty result.
func (r *DoHResolver) Resolve(ctx context.Context, domain string, rt RecordType) ([]string, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, classifyLookupError(err)
		}
	}

	q := url.Values{}
	q.Set("name", domain)
	q.Set("type", rt.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.provider.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/dns-json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, classifyLookupError(fmt.Errorf("%s request failed: %w", r.provider.Name, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", r.provider.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned HTTP %d", r.provider.Name, resp.StatusCode)
	}

	var parsed dohResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", r.provider.Name, err)
	}
	switch parsed.Status {
	case dohStatusNoError:
	case dohStatusNXDomain:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, domain)
	default:
		return nil, fmt.Errorf("%s answered rcode %d for %s", r.provider.Name, parsed.Status, domain)
	}
	return parseDoHAnswers(parsed.Answer, rt), nil
}

func parseDoHAnswers(answers []dohAnswer, rt RecordType) []string {
	values := make([]string, 0, len(answers))
	for _, a := range answers {
		if a.Type != int(rt) {
			continue
		}
		switch rt {
		case TypeTXT:
			values = append(values, unquoteTXT(a.Data))
		case TypeCNAME:
			values = append(values, strings.TrimSuffix(strings.TrimSpace(a.Data), "."))
		default:
			values = append(values, a.Data)
		}
	}
	return values
}

// unquoteTXT strips the surrounding quotes DoH providers put around TXT data
// and joins multi-string records ("part1" "part2").
func unquoteTXT(data string) string {
	s := strings.TrimSpace(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
		s = strings.ReplaceAll(s, `" "`, "")
	}
	return s
}
