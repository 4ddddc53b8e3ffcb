package dns

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy governs retries of a single resolver call. It is distinct from
// the reconciliation scheduler's backoff, which spaces whole verification
// passes minutes apart.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first call. Zero disables retries.
	MaxRetries int
	// MinTimeout is the wait before the first retry.
	MinTimeout time.Duration
	// BackoffFactor multiplies the wait after every retry.
	BackoffFactor float64
}

// DefaultRetryPolicy retries three times starting at two seconds, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, MinTimeout: 2 * time.Second, BackoffFactor: 2}
}

// Delays returns the wait before each retry, in order.
func (p RetryPolicy) Delays() []time.Duration {
	b := p.backoff()
	var out []time.Duration
	for {
		d, stop := b.Next()
		if stop {
			return out
		}
		out = append(out, d)
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	if p.MinTimeout <= 0 {
		p.MinTimeout = 2 * time.Second
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 2
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}

	next := float64(p.MinTimeout)
	exp := retry.BackoffFunc(func() (time.Duration, bool) {
		d := time.Duration(next)
		next *= p.BackoffFactor
		return d, false
	})
	return retry.WithMaxRetries(uint64(p.MaxRetries), exp)
}

// WithRetry calls attempt until it succeeds, fails with a non-transient
// error, or the policy runs out of retries. The last error is returned.
func WithRetry[T any](ctx context.Context, p RetryPolicy, attempt func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		v, err := attempt(ctx)
		if err != nil {
			if IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// IsTransient reports whether err is a lookup failure worth retrying:
// NXDOMAIN, no data, or a timeout. Everything else is fatal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoData) || errors.Is(err, ErrTimeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound || dnsErr.IsTimeout || dnsErr.IsTemporary
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
