package dns

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// MethodDiagnostic records the outcome of one resolver strategy.
// Successful means the lookup completed without error, even if it was empty.
type MethodDiagnostic struct {
	Name       string `json:"name"`
	Successful bool   `json:"successful"`
	Records    int    `json:"records"`
	Error      string `json:"error,omitempty"`
}

// Resolution is the aggregate of a chain walk.
type Resolution struct {
	Records []string           `json:"records"`
	Errors  []string           `json:"errors"`
	Methods []MethodDiagnostic `json:"methods"`
}

// MethodMetricsFunc is an optional callback invoked once per attempted method.
type MethodMetricsFunc func(method string, outcome string)

// ChainConfig tunes lookups performed by a Chain.
type ChainConfig struct {
	// LookupTimeout bounds every individual resolver call, retries included separately.
	LookupTimeout time.Duration
	Retry         RetryPolicy
}

// Chain walks an ordered list of resolvers and stops at the first one that
// returns a non-empty record set. It is a fallback chain, not a quorum.
// Individual failures are collected into the Resolution and never returned.
type Chain struct {
	resolvers []Resolver
	cfg       ChainConfig
	onMetrics MethodMetricsFunc
	logger    *zap.Logger
}

// NewChain creates a Chain over resolvers in priority order.
func NewChain(cfg ChainConfig, logger *zap.Logger, resolvers ...Resolver) *Chain {
	if cfg.LookupTimeout == 0 {
		cfg.LookupTimeout = 5 * time.Second
	}
	return &Chain{resolvers: resolvers, cfg: cfg, logger: logger}
}

// SetMetricsRecord configures the per-method metrics callback.
func (c *Chain) SetMetricsRecord(fn MethodMetricsFunc) {
	c.onMetrics = fn
}

// Methods returns the resolver names in priority order.
func (c *Chain) Methods() []string {
	names := make([]string, len(c.resolvers))
	for i, r := range c.resolvers {
		names[i] = r.Name()
	}
	return names
}

// Resolve queries resolvers in order for rt records at domain.
func (c *Chain) Resolve(ctx context.Context, domain string, rt RecordType) *Resolution {
	res := &Resolution{Records: []string{}, Errors: []string{}, Methods: []MethodDiagnostic{}}

	for _, r := range c.resolvers {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", r.Name(), err))
			res.Methods = append(res.Methods, MethodDiagnostic{Name: r.Name(), Error: err.Error()})
			continue
		}

		records, err := WithRetry(ctx, c.cfg.Retry, func(ctx context.Context) ([]string, error) {
			return c.lookup(ctx, r, domain, rt)
		})

		diag := MethodDiagnostic{Name: r.Name(), Successful: err == nil, Records: len(records)}
		if err != nil {
			diag.Error = err.Error()
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", r.Name(), err))
			c.logger.Info("dns method failed",
				zap.String("method", r.Name()),
				zap.String("domain", domain),
				zap.Stringer("type", rt),
				zap.Error(err),
			)
			c.record(r.Name(), "error")
		} else {
			c.logger.Info("dns method answered",
				zap.String("method", r.Name()),
				zap.String("domain", domain),
				zap.Stringer("type", rt),
				zap.Int("records", len(records)),
			)
			if len(records) > 0 {
				c.record(r.Name(), "records")
			} else {
				c.record(r.Name(), "empty")
			}
		}
		res.Methods = append(res.Methods, diag)

		if err == nil && len(records) > 0 {
			res.Records = records
			break
		}
	}
	return res
}

// lookup races a single resolver call against LookupTimeout so a resolver
// that ignores its context cannot stall the chain.
func (c *Chain) lookup(ctx context.Context, r Resolver, domain string, rt RecordType) ([]string, error) {
	lctx, cancel := context.WithTimeout(ctx, c.cfg.LookupTimeout)
	defer cancel()

	type result struct {
		records []string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		records, err := r.Resolve(lctx, domain, rt)
		done <- result{records: records, err: err}
	}()

	select {
	case out := <-done:
		return out.records, out.err
	case <-lctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", ErrTimeout, c.cfg.LookupTimeout)
	}
}

func (c *Chain) record(method, outcome string) {
	if c.onMetrics != nil {
		c.onMetrics(method, outcome)
	}
}
