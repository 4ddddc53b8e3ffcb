package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wick3d/customdomains/internal/api"
	"github.com/wick3d/customdomains/internal/audit"
	"github.com/wick3d/customdomains/internal/dns"
	"github.com/wick3d/customdomains/internal/domains"
	"github.com/wick3d/customdomains/internal/email"
	"github.com/wick3d/customdomains/internal/health"
	"github.com/wick3d/customdomains/internal/settings"
	"github.com/wick3d/customdomains/internal/tracker"
	"github.com/wick3d/customdomains/internal/webhooks"
	"github.com/wick3d/customdomains/migrations"
)

// openSettings returns the settings store and the audit ledger kept next to
// it. For Postgres it also registers a ping probe with checker.
func openSettings(ctx context.Context, checker *health.Checker, logger *zap.Logger) (settings.Store, audit.Ledger, func(), error) {
	switch backend := viper.GetString("settings.backend"); backend {
	case "memory":
		logger.Warn("using in-memory settings store; registrations are lost on restart")
		return settings.NewMemoryStore(nil), audit.NewMemory(), func() {}, nil
	case "postgres":
		db, err := pgxpool.New(ctx, viper.GetString("database.url"))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		if viper.GetBool("database.migrate_on_start") {
			if err := migrations.Up(ctx, db, logger); err != nil {
				db.Close()
				return nil, nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		checker.Add("postgres", db.Ping)
		return settings.NewPostgresStore(db, logger), audit.NewPostgres(db, logger), db.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown settings backend %q", backend)
	}
}

// openTracker returns the tracker and, for the in-memory backend, the
// sweeper that evicts expired entries. Redis gets a ping probe.
func openTracker(ctx context.Context, checker *health.Checker, logger *zap.Logger) (tracker.Tracker, *tracker.MemoryTracker, func(), error) {
	ttl := viper.GetDuration("tracker.ttl")
	switch backend := viper.GetString("tracker.backend"); backend {
	case "memory":
		mt := tracker.NewMemory(tracker.WithTTL(ttl))
		return mt, mt, func() {}, nil
	case "redis":
		rdb, err := tracker.Open(ctx, viper.GetString("redis.url"))
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("connected to redis")
		checker.Add("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		closeFn := func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("close redis", zap.Error(err))
			}
		}
		return tracker.NewRedis(rdb, viper.GetString("redis.prefix"), ttl), nil, closeFn, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown tracker backend %q", backend)
	}
}

// buildVerifier assembles the resolver chain: the optional overrides file,
// the system resolver, then the configured DoH providers.
func buildVerifier(logger *zap.Logger) (*dns.Verifier, error) {
	var resolvers []dns.Resolver

	if path := viper.GetString("dns.overrides_file"); path != "" {
		fr, err := dns.NewFileResolver(path)
		if err != nil {
			return nil, fmt.Errorf("load dns overrides: %w", err)
		}
		logger.Warn("dns overrides file enabled", zap.String("path", path))
		resolvers = append(resolvers, fr)
	}

	timeout := viper.GetDuration("dns.lookup_timeout")
	sys := dns.NewSystemResolver(viper.GetStringSlice("dns.nameservers"), timeout)
	logger.Info("system resolver configured", zap.Strings("nameservers", sys.Servers()))
	resolvers = append(resolvers, sys)

	rps := viper.GetFloat64("dns.doh_rps")
	for _, name := range viper.GetStringSlice("dns.doh_providers") {
		p, ok := dns.DoHProviderByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown DoH provider %q", name)
		}
		resolvers = append(resolvers, dns.NewDoHResolver(p, dns.WithRateLimit(rps, int(rps)*2)))
	}

	policy := dns.RetryPolicy{
		MaxRetries:    viper.GetInt("dns.max_retries"),
		MinTimeout:    viper.GetDuration("dns.min_timeout"),
		BackoffFactor: viper.GetFloat64("dns.backoff_factor"),
	}
	chain := dns.NewChain(dns.ChainConfig{LookupTimeout: timeout, Retry: policy}, logger, resolvers...)
	chain.SetMetricsRecord(api.RecordDNSMethod)
	logger.Info("resolver chain ready",
		zap.Strings("methods", chain.Methods()),
		zap.Durations("retry_delays", policy.Delays()),
	)

	return dns.NewVerifier(chain), nil
}

func buildMailer(logger *zap.Logger) email.Sender {
	host := viper.GetString("email.smtp_host")
	if host == "" {
		logger.Info("SMTP not configured; abandoned-verification notices are logged only")
		return email.NewNoopSender(logger)
	}
	logger.Info("SMTP email sender configured", zap.String("host", host))
	return email.NewSMTPSender(email.SMTPConfig{
		Host:     host,
		Port:     viper.GetInt("email.smtp_port"),
		Username: viper.GetString("email.smtp_username"),
		Password: viper.GetString("email.smtp_password"),
		From:     viper.GetString("email.from_address"),
		Timeout:  10 * time.Second,
	})
}

// buildWebhooks returns nil when no endpoints are configured.
func buildWebhooks(logger *zap.Logger) (*webhooks.Dispatcher, error) {
	var endpoints []webhooks.Endpoint
	if err := viper.UnmarshalKey("webhooks.endpoints", &endpoints); err != nil {
		return nil, fmt.Errorf("parse webhooks.endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		return nil, nil
	}
	for _, ep := range endpoints {
		if ep.URL == "" {
			return nil, fmt.Errorf("webhook endpoint without url")
		}
	}
	d := webhooks.NewDispatcher(endpoints, webhooks.Config{
		Timeout:     viper.GetDuration("webhooks.timeout"),
		MaxAttempts: viper.GetInt("webhooks.max_attempts"),
		Backoff:     viper.GetDuration("webhooks.backoff"),
	}, logger)
	d.SetMetricsRecorder(api.RecordWebhookDelivery)
	logger.Info("webhooks configured", zap.Int("endpoints", len(endpoints)))
	return d, nil
}

// verifyAudit logs the audit chain's integrity at startup.
func verifyAudit(ctx context.Context, ledger audit.Ledger, logger *zap.Logger) {
	if err := ledger.Verify(ctx); err != nil {
		logger.Warn("audit chain integrity check FAILED", zap.Error(err))
		return
	}
	n, _ := ledger.Len(ctx)
	root, _ := ledger.Root(ctx)
	logger.Info("audit chain verified", zap.Int("entries", n), zap.String("root", root))
}

// fanout calls every non-nil event callback in order.
func fanout(fns ...domains.EventDispatchFunc) domains.EventDispatchFunc {
	return func(ctx context.Context, eventType string, payload map[string]string) {
		for _, fn := range fns {
			if fn != nil {
				fn(ctx, eventType, payload)
			}
		}
	}
}
