package domains

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/wick3d/customdomains/internal/email"
	"github.com/wick3d/customdomains/internal/reconcile"
	"github.com/wick3d/customdomains/internal/settings"
)

// errSuperseded means the domain was re-registered with a new value while a
// verification of the old value was in flight.
var errSuperseded = errors.New("verification value was replaced")

// Attempt is the reconcile.AttemptFunc for background verification. It
// re-reads the domain's state first and stops the chain if the domain was
// verified by another path or removed.
func (s *Service) Attempt(ctx context.Context, t reconcile.Task) (reconcile.Outcome, error) {
	log := s.logger.With(zap.String("domain", t.Domain), zap.Int("attempt", t.Attempt+1))

	st, err := s.lookup(ctx, t.Domain)
	if errors.Is(err, ErrDomainNotFound) {
		return reconcile.Gone, nil
	}
	if err != nil {
		return reconcile.NotVerified, err
	}
	if st.Value != t.Target {
		log.Info("verification value replaced; dropping stale chain")
		return reconcile.Gone, nil
	}
	if st.Verified {
		return reconcile.AlreadyVerified, nil
	}

	res, err := s.verifier.Verify(ctx, t.Domain, t.Target, t.Method)
	if err != nil {
		s.record("background", "error")
		return reconcile.NotVerified, err
	}
	if !res.Verified {
		s.record("background", "not_verified")
		log.Debug("background verification found no match",
			zap.Strings("records", res.RecordsFound),
			zap.Strings("errors", res.Errors),
		)
		return reconcile.NotVerified, nil
	}

	if err := s.persistVerified(ctx, t.Domain, t.Target); err != nil {
		switch {
		case errors.Is(err, ErrDomainNotFound):
			s.record("background", "not_verified")
			return reconcile.Gone, nil
		case errors.Is(err, errSuperseded):
			s.record("background", "not_verified")
			log.Info("verification value replaced in the store; following the stored value")
			if _, err := s.resync(ctx, t.Domain); err != nil && !errors.Is(err, ErrDomainNotFound) {
				log.Warn("failed to realign tracked state", zap.Error(err))
			}
			return reconcile.Gone, nil
		}
		s.record("background", "error")
		log.Error("domain verified but not persisted; will retry on next attempt", zap.Error(err))
		return reconcile.NotVerified, err
	}
	s.record("background", "verified")
	s.markTracked(ctx, t.Domain)

	log.Info("domain verified", zap.String("path", "background"))
	s.emit(ctx, EventDomainVerified, t.Domain, "method", string(t.Method), "path", "background")
	return reconcile.Verified, nil
}

// persistVerified marks domain verified in the store if it still expects
// value. Transient store failures are retried with backoff.
func (s *Service) persistVerified(ctx context.Context, domain, value string) error {
	b := retry.WithMaxRetries(uint64(s.cfg.PersistAttempts-1), retry.NewExponential(s.cfg.PersistBackoff))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		_, err := s.store.Mutate(ctx, func(cfg *settings.DomainConfig) error {
			if cfg.CustomDomain == domain {
				if v, _ := expectation(cfg.DomainVerificationToken, cfg.DomainCNAMETarget); v != value {
					return errSuperseded
				}
				cfg.DomainVerified = true
				return nil
			}
			a := cfg.Additional(domain)
			if a == nil {
				return ErrDomainNotFound
			}
			if v, _ := expectation(a.VerificationToken, a.CNAMETarget); v != value {
				return errSuperseded
			}
			a.Verified = true
			return nil
		})
		if err == nil || errors.Is(err, ErrDomainNotFound) || errors.Is(err, errSuperseded) {
			return err
		}
		s.logger.Warn("persisting verified domain failed; retrying",
			zap.String("domain", domain), zap.Error(err))
		return retry.RetryableError(err)
	})
	if errors.Is(err, ErrDomainNotFound) || errors.Is(err, errSuperseded) {
		return err
	}
	if err != nil {
		s.logger.Error("verified domain could not be persisted",
			zap.String("domain", domain), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	return nil
}

// ResumePending schedules every unverified persisted domain that has a
// verification value. Scheduler state is in memory, so this runs at startup.
func (s *Service) ResumePending(ctx context.Context) (int, error) {
	if s.scheduler == nil {
		return 0, nil
	}
	cfg, err := s.store.GetSettings(ctx)
	if errors.Is(err, settings.ErrSettingsNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read settings: %w", err)
	}

	n := 0
	if p := primaryStatus(cfg); p != nil && !p.Verified && p.Value != "" {
		s.scheduler.Schedule(p.Domain, p.Value, p.Method)
		n++
	}
	for _, a := range cfg.AdditionalDomains {
		st := additionalStatus(a)
		if st.Verified || st.NeedsMigration || st.Value == "" {
			continue
		}
		s.scheduler.Schedule(st.Domain, st.Value, st.Method)
		n++
	}
	if n > 0 {
		s.logger.Info("resumed background verification", zap.Int("domains", n))
	}
	return n, nil
}

// NotifyAbandoned reports a chain that ran out of attempts: a lifecycle
// event, plus an email when SetNotifier was called with an address.
func (s *Service) NotifyAbandoned(ctx context.Context, t reconcile.Task) {
	s.emit(ctx, EventDomainAbandoned, t.Domain, "method", string(t.Method), "attempts", strconv.Itoa(t.Attempt+1))
	if s.sender == nil || s.notifyTo == "" {
		return
	}
	notice := email.AbandonedNotice{
		Domain:      t.Domain,
		RecordType:  t.Method.RecordType().String(),
		Host:        t.Domain,
		Value:       t.Target,
		Attempts:    t.Attempt + 1,
		AbandonedAt: s.now(),
	}
	if err := s.sender.Send(ctx, notice.Message(s.notifyTo)); err != nil {
		s.logger.Error("failed to send abandoned verification notice",
			zap.String("domain", t.Domain), zap.Error(err))
	}
}
