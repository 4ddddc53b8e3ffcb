// Package reconcile re-verifies unverified domains in the background. Each
// domain has at most one Task; a single loop pops due tasks from a priority
// queue ordered by run time and runs them concurrently. A failed attempt
// pushes a follow-up task with a longer delay until the domain verifies, is
// cancelled, or runs out of attempts.
package reconcile

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/wick3d/customdomains/internal/dns"
)

// Defaults for a reconciliation chain.
const (
	DefaultInitialDelay = 20 * time.Second
	DefaultMaxDelay     = 5 * time.Minute
	DefaultMaxAttempts  = 30
	DefaultGrowth       = 1.5
)

// Outcome is the result of one attempt.
type Outcome int

const (
	// NotVerified reschedules the domain, or abandons it after MaxAttempts.
	NotVerified Outcome = iota
	// Verified ends the chain after this attempt verified the domain.
	Verified
	// AlreadyVerified ends the chain because another path verified the domain first.
	AlreadyVerified
	// Gone ends the chain because the domain is no longer configured.
	Gone
)

func (o Outcome) String() string {
	switch o {
	case Verified:
		return "verified"
	case AlreadyVerified:
		return "already_verified"
	case Gone:
		return "gone"
	default:
		return "not_verified"
	}
}

// Task is one pending verification of a domain.
type Task struct {
	ID          uuid.UUID     `json:"id"`
	Domain      string        `json:"domain"`
	Target      string        `json:"target"`
	Method      dns.Method    `json:"method"`
	Attempt     int           `json:"attempt"` // zero-based
	MaxAttempts int           `json:"max_attempts"`
	Delay       time.Duration `json:"delay"`
	RunAt       time.Time     `json:"run_at"`
	Running     bool          `json:"running"`

	index int // heap position, -1 when not queued
}

// AttemptFunc performs one verification attempt. A returned error is logged
// and treated as NotVerified.
type AttemptFunc func(ctx context.Context, t Task) (Outcome, error)

// Config tunes the reconciliation chain.
type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Growth       float64
}

func (c Config) withDefaults() Config {
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Growth < 1 {
		c.Growth = DefaultGrowth
	}
	return c
}

// NextDelay returns the wait after failures consecutive failed attempts:
// initial × growth^failures, capped at ceiling.
func NextDelay(initial time.Duration, failures int, growth float64, ceiling time.Duration) time.Duration {
	d := float64(initial) * math.Pow(growth, float64(failures))
	if d > float64(ceiling) || math.IsInf(d, 0) {
		return ceiling
	}
	return time.Duration(d)
}
