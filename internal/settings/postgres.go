package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const selectSettings = `
	SELECT custom_domain, domain_cname_target, domain_verification_token,
	       domain_verified, use_custom_domain, additional_domains, updated_at
	FROM domain_settings WHERE id = 1`

// PostgresStore persists the config in the single-row domain_settings table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// GetSettings implements Store.
func (s *PostgresStore) GetSettings(ctx context.Context) (*DomainConfig, error) {
	return scanConfig(s.pool.QueryRow(ctx, selectSettings))
}

// UpdateSettings implements Store.
func (s *PostgresStore) UpdateSettings(ctx context.Context, u Update) (*DomainConfig, error) {
	return s.Mutate(ctx, func(c *DomainConfig) error {
		u.Apply(c)
		return nil
	})
}

// Mutate implements Store. The row is locked with SELECT ... FOR UPDATE for
// the duration of fn, so concurrent mutations serialize instead of losing
// each other's additional-domain edits.
func (s *PostgresStore) Mutate(ctx context.Context, fn func(*DomainConfig) error) (*DomainConfig, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	cfg, err := scanConfig(tx.QueryRow(ctx, selectSettings+" FOR UPDATE"))
	if err != nil {
		return nil, err
	}
	if err := fn(cfg); err != nil {
		return nil, err
	}

	additional, err := EncodeAdditionalDomains(cfg.AdditionalDomains)
	if err != nil {
		return nil, err
	}
	if err := tx.QueryRow(ctx, `
		UPDATE domain_settings SET
			custom_domain = $1,
			domain_cname_target = $2,
			domain_verification_token = $3,
			domain_verified = $4,
			use_custom_domain = $5,
			additional_domains = $6::jsonb,
			updated_at = NOW()
		WHERE id = 1
		RETURNING updated_at`,
		cfg.CustomDomain, cfg.DomainCNAMETarget, cfg.DomainVerificationToken,
		cfg.DomainVerified, cfg.UseCustomDomain, string(additional),
	).Scan(&cfg.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit settings tx: %w", err)
	}

	s.logger.Debug("settings updated",
		zap.String("custom_domain", cfg.CustomDomain),
		zap.Int("additional", len(cfg.AdditionalDomains)),
	)
	return cfg, nil
}

func scanConfig(row pgx.Row) (*DomainConfig, error) {
	var (
		cfg DomainConfig
		raw []byte
	)
	err := row.Scan(
		&cfg.CustomDomain, &cfg.DomainCNAMETarget, &cfg.DomainVerificationToken,
		&cfg.DomainVerified, &cfg.UseCustomDomain, &raw, &cfg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	cfg.AdditionalDomains, err = DecodeAdditionalDomains(raw)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

var _ Store = (*PostgresStore)(nil)
