package domains

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wick3d/customdomains/internal/dns"
	"github.com/wick3d/customdomains/internal/settings"
	"github.com/wick3d/customdomains/internal/tracker"
)

// DomainStatus is the merged view of one configured domain.
type DomainStatus struct {
	Domain         string              `json:"domain"`
	Method         dns.Method          `json:"method"`
	Value          string              `json:"value,omitempty"`
	IsPrimary      bool                `json:"is_primary"`
	Verified       bool                `json:"verified"`
	NeedsMigration bool                `json:"needs_migration,omitempty"`
	AddedAt        time.Time           `json:"added_at,omitempty"`
	Tracked        bool                `json:"tracked"`
	Reputation     *tracker.Reputation `json:"reputation,omitempty"`
}

// DomainList is the read-only projection returned by ListDomains.
type DomainList struct {
	Primary         *DomainStatus  `json:"primary"`
	UseCustomDomain bool           `json:"use_custom_domain"`
	Additional      []DomainStatus `json:"additional"`
	Default         string         `json:"default"`
}

// expectation returns the value the owner must publish and the method used
// to verify it. Tokens take precedence over legacy CNAME targets.
func expectation(token, cnameTarget string) (string, dns.Method) {
	if token != "" {
		return token, dns.MethodTXT
	}
	return cnameTarget, dns.MethodCNAME
}

func primaryStatus(cfg *settings.DomainConfig) *DomainStatus {
	if cfg.CustomDomain == "" {
		return nil
	}
	value, method := expectation(cfg.DomainVerificationToken, cfg.DomainCNAMETarget)
	return &DomainStatus{
		Domain:    cfg.CustomDomain,
		Method:    method,
		Value:     value,
		IsPrimary: true,
		Verified:  cfg.DomainVerified,
	}
}

func additionalStatus(a settings.AdditionalDomain) DomainStatus {
	value, method := expectation(a.VerificationToken, a.CNAMETarget)
	return DomainStatus{
		Domain:         a.Domain,
		Method:         method,
		Value:          value,
		Verified:       a.Verified,
		NeedsMigration: a.NeedsMigration,
		AddedAt:        a.AddedAt,
	}
}

// storeStatus finds domain in the persisted config.
func storeStatus(cfg *settings.DomainConfig, domain string) *DomainStatus {
	if p := primaryStatus(cfg); p != nil && p.Domain == domain {
		return p
	}
	if a := cfg.Additional(domain); a != nil {
		st := additionalStatus(*a)
		return &st
	}
	return nil
}

// overlay merges a tracker record into a persisted status. Inside the
// transition window the tracker's value wins; verification is sticky if
// either side saw it for the same value.
func overlay(st *DomainStatus, rec *tracker.DomainRecord) *DomainStatus {
	if rec == nil {
		return st
	}
	merged := &DomainStatus{
		Domain:     rec.Domain,
		Method:     rec.Method,
		Value:      rec.Target,
		IsPrimary:  rec.IsPrimary,
		Verified:   rec.Verified,
		AddedAt:    rec.AddedAt,
		Tracked:    true,
		Reputation: rec.Reputation,
	}
	if st != nil && st.Value == rec.Target && st.Verified {
		merged.Verified = true
	}
	return merged
}

// lookup resolves the current state of domain from tracker and store. A
// tracker failure falls back to the store; a store failure is tolerated
// while the tracker still holds the domain.
func (s *Service) lookup(ctx context.Context, domain string) (*DomainStatus, error) {
	rec, err := s.tracker.GetDomain(ctx, domain)
	if err != nil {
		s.logger.Warn("tracker lookup failed; using persisted settings",
			zap.String("domain", domain), zap.Error(err))
		rec = nil
	}

	cfg, err := s.store.GetSettings(ctx)
	if err != nil {
		if rec != nil {
			s.logger.Warn("settings read failed; using tracked state",
				zap.String("domain", domain), zap.Error(err))
			return overlay(nil, rec), nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}

	st := overlay(storeStatus(cfg, domain), rec)
	if st == nil {
		return nil, ErrDomainNotFound
	}
	return st, nil
}

// ListDomains returns the primary and additional domains with their
// verification state. Domains registered within the transition window are
// included even when the store does not return them yet.
func (s *Service) ListDomains(ctx context.Context) (*DomainList, error) {
	cfg, err := s.store.GetSettings(ctx)
	if err != nil && !errors.Is(err, settings.ErrSettingsNotFound) {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if cfg == nil {
		cfg = &settings.DomainConfig{}
	}

	tracked := map[string]*tracker.DomainRecord{}
	recs, err := s.tracker.GetAllDomains(ctx)
	if err != nil {
		s.logger.Warn("tracker listing failed; using persisted settings only", zap.Error(err))
	}
	for _, r := range recs {
		tracked[r.Domain] = r
	}

	out := &DomainList{
		UseCustomDomain: cfg.UseCustomDomain,
		Additional:      []DomainStatus{},
		Default:         s.cfg.DefaultDomain,
	}

	if p := primaryStatus(cfg); p != nil {
		out.Primary = overlay(p, tracked[p.Domain])
		out.Primary.IsPrimary = true
		delete(tracked, p.Domain)
	}
	for _, a := range cfg.AdditionalDomains {
		st := additionalStatus(a)
		merged := overlay(&st, tracked[a.Domain])
		merged.IsPrimary = false
		merged.NeedsMigration = a.NeedsMigration && merged.Value == ""
		out.Additional = append(out.Additional, *merged)
		delete(tracked, a.Domain)
	}

	// Registered but not yet visible in the store.
	for _, r := range recs {
		if _, pending := tracked[r.Domain]; !pending {
			continue
		}
		st := overlay(nil, r)
		if r.IsPrimary && (out.Primary == nil || !out.Primary.Tracked) {
			out.Primary = st
			out.UseCustomDomain = true
			continue
		}
		st.IsPrimary = false
		out.Additional = append(out.Additional, *st)
	}
	return out, nil
}
