package domains

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/wick3d/customdomains/internal/dns"
	"github.com/wick3d/customdomains/internal/settings"
	"github.com/wick3d/customdomains/internal/tracker"
)

// AddOptions controls how a domain is registered.
type AddOptions struct {
	// Primary replaces the primary domain slot instead of adding to the list.
	Primary bool
	// Method defaults to dns.MethodTXT.
	Method dns.Method
}

// Registration is returned by AddDomain.
type Registration struct {
	Domain       string              `json:"domain"`
	Method       dns.Method          `json:"method"`
	Value        string              `json:"value"`
	IsPrimary    bool                `json:"is_primary"`
	Instructions Instructions        `json:"instructions"`
	Reputation   *tracker.Reputation `json:"reputation,omitempty"`
}

// AddDomain registers domain with a fresh ownership token (or legacy CNAME
// target), tracks it for the transition window and starts background
// reconciliation. Registering an existing domain issues a new value and
// resets its verified state. Registrations of the same domain are
// serialised so the store, tracker and scheduler end up with one value.
func (s *Service) AddDomain(ctx context.Context, raw string, opts AddOptions) (*Registration, error) {
	name, err := dns.NormalizeDomain(raw)
	if err != nil {
		return nil, err
	}
	defer s.locks.lock(name)()
	method := opts.Method
	if method == "" {
		method = dns.MethodTXT
	}

	var value string
	switch method {
	case dns.MethodTXT:
		value, err = dns.NewOwnershipToken(s.cfg.TokenPrefix)
	case dns.MethodCNAME:
		value, err = dns.NewCNAMETarget(s.cfg.CNAMEBase)
	default:
		return nil, fmt.Errorf("unsupported verification method %q", method)
	}
	if err != nil {
		return nil, fmt.Errorf("generate verification value: %w", err)
	}

	token, target := value, ""
	if method == dns.MethodCNAME {
		token, target = "", value
	}

	var replacedPrimary string
	_, err = s.store.Mutate(ctx, func(cfg *settings.DomainConfig) error {
		if opts.Primary {
			if cfg.CustomDomain != "" && cfg.CustomDomain != name {
				replacedPrimary = cfg.CustomDomain
			}
			cfg.RemoveAdditional(name)
			cfg.CustomDomain = name
			cfg.DomainVerificationToken = token
			cfg.DomainCNAMETarget = target
			cfg.DomainVerified = false
			cfg.UseCustomDomain = true
			return nil
		}

		if cfg.CustomDomain == name {
			return ErrDomainConflict
		}
		entry := settings.AdditionalDomain{
			Domain:            name,
			VerificationToken: token,
			CNAMETarget:       target,
			AddedAt:           s.now().UTC(),
		}
		if existing := cfg.Additional(name); existing != nil {
			*existing = entry
			return nil
		}
		if len(cfg.AdditionalDomains) >= s.cfg.MaxAdditional {
			return ErrDomainLimitReached
		}
		cfg.AdditionalDomains = append(cfg.AdditionalDomains, entry)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDomainConflict) || errors.Is(err, ErrDomainLimitReached) {
			return nil, err
		}
		return nil, fmt.Errorf("save domain: %w", err)
	}

	if _, err := s.tracker.AddDomain(ctx, name, value, method, opts.Primary); err != nil {
		s.logger.Warn("failed to track domain", zap.String("domain", name), zap.Error(err))
	}
	if replacedPrimary != "" {
		s.forget(ctx, replacedPrimary)
	}

	reg := &Registration{
		Domain:       name,
		Method:       method,
		Value:        value,
		IsPrimary:    opts.Primary,
		Instructions: BuildInstructions(name, value, method),
		Reputation:   s.refreshReputation(ctx, name),
	}

	if s.scheduler != nil {
		s.scheduler.Schedule(name, value, method)
	}

	s.logger.Info("custom domain registered",
		zap.String("domain", name),
		zap.String("method", string(method)),
		zap.Bool("primary", opts.Primary),
	)
	s.emit(ctx, EventDomainRegistered, name, "method", string(method), "primary", strconv.FormatBool(opts.Primary))
	return reg, nil
}

// CheckResult is the outcome of a synchronous check. Instructions are set
// when the domain is not verified yet.
type CheckResult struct {
	*dns.Result
	IsPrimary    bool          `json:"is_primary"`
	Instructions *Instructions `json:"instructions,omitempty"`
}

// CheckDomainNow verifies domain immediately. On success the persisted
// config is updated before returning and background reconciliation stops.
// Concurrent checks of the same domain share one verification.
func (s *Service) CheckDomainNow(ctx context.Context, raw string) (*CheckResult, error) {
	name, err := dns.NormalizeDomain(raw)
	if err != nil {
		return nil, err
	}
	v, err, _ := s.checkFlight.Do(name, func() (any, error) {
		return s.checkNow(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CheckResult), nil
}

func (s *Service) checkNow(ctx context.Context, name string) (*CheckResult, error) {
	st, err := s.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if st.NeedsMigration || st.Value == "" {
		return nil, ErrNeedsMigration
	}

	res, err := s.verifier.Verify(ctx, name, st.Value, st.Method)
	if err != nil {
		s.record("check_now", "error")
		return nil, err
	}

	out := &CheckResult{Result: res, IsPrimary: st.IsPrimary}
	if !res.Verified {
		s.record("check_now", "not_verified")
		ins := BuildInstructions(name, st.Value, st.Method)
		out.Instructions = &ins
		s.logger.Info("domain not verified yet",
			zap.String("domain", name),
			zap.Int("records", len(res.RecordsFound)),
			zap.Strings("errors", res.Errors),
		)
		return out, nil
	}

	err = s.persistVerified(ctx, name, st.Value)
	if errors.Is(err, errSuperseded) {
		return s.superseded(ctx, name, out)
	}
	if err != nil {
		s.record("check_now", "error")
		return nil, err
	}
	s.record("check_now", "verified")
	s.markTracked(ctx, name)
	if s.scheduler != nil {
		s.scheduler.Cancel(name)
	}
	s.refreshReputation(ctx, name)

	s.logger.Info("domain verified", zap.String("domain", name), zap.String("path", "check_now"))
	s.emit(ctx, EventDomainVerified, name, "method", string(st.Method), "path", "check_now")
	return out, nil
}

// superseded answers a check whose matched value is no longer the one in the
// store. The tracker and scheduler are realigned with the store and the
// caller gets the current instructions.
func (s *Service) superseded(ctx context.Context, name string, out *CheckResult) (*CheckResult, error) {
	cur, err := s.resync(ctx, name)
	if err != nil {
		s.record("check_now", "error")
		return nil, err
	}
	s.record("check_now", "not_verified")
	s.logger.Info("matched a replaced verification value; returning current instructions",
		zap.String("domain", name))

	out.Verified = cur.Verified
	out.IsPrimary = cur.IsPrimary
	if !cur.Verified && cur.Value != "" {
		ins := BuildInstructions(name, cur.Value, cur.Method)
		out.Instructions = &ins
	}
	return out, nil
}

// resync copies the persisted state of domain into the tracker and restarts
// its reconciliation with the persisted value.
func (s *Service) resync(ctx context.Context, domain string) (*DomainStatus, error) {
	defer s.locks.lock(domain)()

	cfg, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	st := storeStatus(cfg, domain)
	if st == nil {
		s.forget(ctx, domain)
		return nil, ErrDomainNotFound
	}
	if st.NeedsMigration || st.Value == "" {
		return st, nil
	}

	if _, err := s.tracker.AddDomain(ctx, domain, st.Value, st.Method, st.IsPrimary); err != nil {
		s.logger.Warn("failed to track domain", zap.String("domain", domain), zap.Error(err))
	}
	if st.Verified {
		s.markTracked(ctx, domain)
		if s.scheduler != nil {
			s.scheduler.Cancel(domain)
		}
	} else if s.scheduler != nil {
		s.scheduler.Schedule(domain, st.Value, st.Method)
	}
	return st, nil
}

// Instructions returns the DNS setup instructions for a configured domain.
func (s *Service) Instructions(ctx context.Context, raw string) (*Instructions, error) {
	name, err := dns.NormalizeDomain(raw)
	if err != nil {
		return nil, err
	}
	st, err := s.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if st.NeedsMigration || st.Value == "" {
		return nil, ErrNeedsMigration
	}
	ins := BuildInstructions(name, st.Value, st.Method)
	return &ins, nil
}

// RemoveDomain deletes domain from the persisted config, drops it from the
// tracker and stops its reconciliation.
func (s *Service) RemoveDomain(ctx context.Context, raw string) error {
	name, err := dns.NormalizeDomain(raw)
	if err != nil {
		return err
	}
	defer s.locks.lock(name)()

	found := false
	_, err = s.store.Mutate(ctx, func(cfg *settings.DomainConfig) error {
		if cfg.CustomDomain == name {
			cfg.CustomDomain = ""
			cfg.DomainVerificationToken = ""
			cfg.DomainCNAMETarget = ""
			cfg.DomainVerified = false
			cfg.UseCustomDomain = false
			found = true
			return nil
		}
		found = cfg.RemoveAdditional(name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove domain: %w", err)
	}

	rec, _ := s.tracker.GetDomain(ctx, name)
	s.forget(ctx, name)

	if !found && rec == nil {
		return ErrDomainNotFound
	}
	s.logger.Info("custom domain removed", zap.String("domain", name))
	s.emit(ctx, EventDomainRemoved, name)
	return nil
}

// forget drops domain from the tracker and the scheduler.
func (s *Service) forget(ctx context.Context, domain string) {
	if err := s.tracker.RemoveDomain(ctx, domain); err != nil {
		s.logger.Warn("failed to untrack domain", zap.String("domain", domain), zap.Error(err))
	}
	if s.scheduler != nil {
		s.scheduler.Cancel(domain)
	}
}

func (s *Service) markTracked(ctx context.Context, domain string) {
	err := s.tracker.MarkVerified(ctx, domain)
	if err != nil && !errors.Is(err, tracker.ErrNotTracked) {
		s.logger.Warn("failed to mark tracked domain verified", zap.String("domain", domain), zap.Error(err))
	}
}

// refreshReputation scores domain unless the tracker holds a recent score.
func (s *Service) refreshReputation(ctx context.Context, domain string) *tracker.Reputation {
	if s.scorer == nil {
		return nil
	}
	recent, err := s.tracker.HasRecentReputationData(ctx, domain, s.cfg.ReputationMaxAge)
	if err == nil && recent {
		if rec, _ := s.tracker.GetDomain(ctx, domain); rec != nil {
			return rec.Reputation
		}
	}

	rep, err := s.scorer.Score(ctx, domain)
	if err != nil {
		s.logger.Warn("reputation scoring failed", zap.String("domain", domain), zap.Error(err))
		return nil
	}
	if err := s.tracker.UpdateReputation(ctx, domain, rep); err != nil && !errors.Is(err, tracker.ErrNotTracked) {
		s.logger.Warn("failed to cache reputation", zap.String("domain", domain), zap.Error(err))
	}
	if rep.Risk == tracker.RiskHigh {
		s.logger.Warn("high-risk custom domain registered",
			zap.String("domain", domain),
			zap.Int("score", rep.Score),
			zap.Strings("details", rep.Details),
		)
	}
	return &rep
}
