// Package domains registers custom domains, verifies their ownership on
// demand and feeds the background reconciliation scheduler. It combines the
// persisted settings, which are the source of truth, with the tracker, which
// covers the window in which the store may still serve stale reads.
package domains

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wick3d/customdomains/internal/dns"
	"github.com/wick3d/customdomains/internal/email"
	"github.com/wick3d/customdomains/internal/reconcile"
	"github.com/wick3d/customdomains/internal/reputation"
	"github.com/wick3d/customdomains/internal/settings"
	"github.com/wick3d/customdomains/internal/tracker"
)

// Sentinel errors for the domains service.
var (
	ErrDomainNotFound     = errors.New("domain not configured")
	ErrDomainLimitReached = errors.New("additional domain limit reached")
	ErrDomainConflict     = errors.New("domain is already the primary domain")
	ErrNeedsMigration     = errors.New("domain uses the legacy format; add it again to get a verification token")
	ErrPersistFailed      = errors.New("domain verified but the result could not be saved")
)

// Config tunes the Service.
type Config struct {
	TokenPrefix string
	// CNAMEBase is the zone under which legacy CNAME targets are generated.
	CNAMEBase string
	// DefaultDomain is the platform hostname served when no custom domain is used.
	DefaultDomain    string
	MaxAdditional    int
	ReputationMaxAge time.Duration
	// PersistAttempts bounds writes of a verified result to the store.
	PersistAttempts int
	PersistBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.TokenPrefix == "" {
		c.TokenPrefix = dns.DefaultTokenPrefix
	}
	if c.MaxAdditional <= 0 {
		c.MaxAdditional = 10
	}
	if c.ReputationMaxAge <= 0 {
		c.ReputationMaxAge = tracker.DefaultReputationMaxAge
	}
	if c.PersistAttempts <= 0 {
		c.PersistAttempts = 3
	}
	if c.PersistBackoff <= 0 {
		c.PersistBackoff = 200 * time.Millisecond
	}
	return c
}

// verifier performs a single ownership check. *dns.Verifier satisfies it.
type verifier interface {
	Verify(ctx context.Context, domain, expected string, method dns.Method) (*dns.Result, error)
}

// scheduler is the part of *reconcile.Scheduler the service drives.
type scheduler interface {
	Schedule(domain, target string, method dns.Method) reconcile.Task
	Cancel(domain string) bool
}

// Service implements the custom-domain operations.
type Service struct {
	cfg      Config
	store    settings.Store
	tracker  tracker.Tracker
	verifier verifier
	logger   *zap.Logger

	scheduler   scheduler
	scorer      reputation.Scorer
	sender      email.Sender
	notifyTo    string
	onVerify    func(path, outcome string)
	onEvent     EventDispatchFunc
	checkFlight singleflight.Group
	locks       domainLocks
	now         func() time.Time
}

// NewService creates a Service. Call SetScheduler before AddDomain so new
// domains enter background reconciliation.
func NewService(cfg Config, store settings.Store, tr tracker.Tracker, v verifier, logger *zap.Logger) *Service {
	return &Service{
		cfg:      cfg.withDefaults(),
		store:    store,
		tracker:  tr,
		verifier: v,
		logger:   logger,
		now:      time.Now,
	}
}

// SetScheduler configures the background scheduler. The scheduler is
// usually built with Attempt as its AttemptFunc, hence the setter.
func (s *Service) SetScheduler(sch scheduler) {
	s.scheduler = sch
}

// SetScorer enables reputation scoring of registered domains.
func (s *Service) SetScorer(sc reputation.Scorer) {
	s.scorer = sc
}

// SetNotifier enables the abandoned-verification email to the given address.
func (s *Service) SetNotifier(sender email.Sender, to string) {
	s.sender = sender
	s.notifyTo = to
}

// SetMetricsRecord configures a callback invoked after every verification
// with the path ("check_now" or "background") and outcome
// ("verified", "not_verified", "error").
func (s *Service) SetMetricsRecord(fn func(path, outcome string)) {
	s.onVerify = fn
}

// Event types passed to the EventDispatchFunc.
const (
	EventDomainRegistered = "domain.registered"
	EventDomainVerified   = "domain.verified"
	EventDomainAbandoned  = "domain.abandoned"
	EventDomainRemoved    = "domain.removed"
)

// EventDispatchFunc is an optional callback for domain lifecycle events.
type EventDispatchFunc func(ctx context.Context, eventType string, payload map[string]string)

// SetEventDispatch configures the lifecycle event callback.
func (s *Service) SetEventDispatch(fn EventDispatchFunc) {
	s.onEvent = fn
}

func (s *Service) record(path, outcome string) {
	if s.onVerify != nil {
		s.onVerify(path, outcome)
	}
}

func (s *Service) emit(ctx context.Context, eventType, domain string, kv ...string) {
	if s.onEvent == nil {
		return
	}
	payload := map[string]string{"domain": domain}
	for i := 0; i+1 < len(kv); i += 2 {
		payload[kv[i]] = kv[i+1]
	}
	s.onEvent(ctx, eventType, payload)
}
