package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

// Resolver is one resolution strategy in the fallback chain. Implementations
// return the record values for rt at domain, normalized: TXT chunks joined
// without quotes, CNAME targets without the trailing dot.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, domain string, rt RecordType) ([]string, error)
}

// SystemResolver speaks the DNS wire protocol to the host's configured
// nameservers (resolv.conf) or an explicit list.
type SystemResolver struct {
	client  *mdns.Client
	servers []string
}

// NewSystemResolver creates a SystemResolver. An empty servers list loads
// /etc/resolv.conf and falls back to a public resolver when that fails.
func NewSystemResolver(servers []string, timeout time.Duration) *SystemResolver {
	resolved := normalizeServers(servers)
	if len(resolved) == 0 {
		resolved = loadSystemServers()
	}
	if len(resolved) == 0 {
		resolved = []string{"8.8.8.8:53"}
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &SystemResolver{
		client:  &mdns.Client{Timeout: timeout},
		servers: resolved,
	}
}

// Name implements Resolver.
func (r *SystemResolver) Name() string { return "system" }

// Servers returns the nameservers queried, in order.
func (r *SystemResolver) Servers() []string { return r.servers }

// Resolve implements Resolver. Servers are tried in order until one answers.
// NXDOMAIN maps to ErrNotFound and an empty answer section to ErrNoData.
func (r *SystemResolver) Resolve(ctx context.Context, domain string, rt RecordType) ([]string, error) {
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn(domain), uint16(rt))
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		resp, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = classifyLookupError(err)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}
		if resp == nil {
			lastErr = fmt.Errorf("empty dns response from %s", server)
			continue
		}
		switch resp.Rcode {
		case mdns.RcodeSuccess:
		case mdns.RcodeNameError:
			return nil, fmt.Errorf("%w: %s", ErrNotFound, domain)
		default:
			lastErr = fmt.Errorf("%s answered %s for %s", server, mdns.RcodeToString[resp.Rcode], domain)
			continue
		}

		values := extractAnswers(resp, rt)
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: %s %s", ErrNoData, rt, domain)
		}
		return values, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no nameservers configured")
	}
	return nil, lastErr
}

func extractAnswers(msg *mdns.Msg, rt RecordType) []string {
	var values []string
	for _, answer := range msg.Answer {
		switch record := answer.(type) {
		case *mdns.TXT:
			if rt == TypeTXT {
				values = append(values, strings.Join(record.Txt, ""))
			}
		case *mdns.CNAME:
			if rt == TypeCNAME {
				values = append(values, strings.TrimSuffix(record.Target, "."))
			}
		}
	}
	return values
}

// classifyLookupError maps deadline and network timeouts onto ErrTimeout so
// the retry policy can recognize them.
func classifyLookupError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func normalizeServers(servers []string) []string {
	var resolved []string
	seen := map[string]bool{}
	for _, server := range servers {
		value := strings.TrimSpace(server)
		if value == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(value); err != nil {
			value = net.JoinHostPort(value, "53")
		}
		if seen[value] {
			continue
		}
		seen[value] = true
		resolved = append(resolved, value)
	}
	return resolved
}

func loadSystemServers() []string {
	var servers []string
	if conf, err := mdns.ClientConfigFromFile("/etc/resolv.conf"); err == nil {
		for _, server := range conf.Servers {
			servers = append(servers, net.JoinHostPort(server, conf.Port))
		}
	}
	return servers
}
