package dns

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RecordResolver resolves all values of one record type for a domain.
// *Chain satisfies this interface.
type RecordResolver interface {
	Resolve(ctx context.Context, domain string, rt RecordType) *Resolution
}

// Result is the outcome of one verification attempt. It is never persisted.
type Result struct {
	Domain       string             `json:"domain"`
	Method       Method             `json:"method"`
	Verified     bool               `json:"verified"`
	RecordsFound []string           `json:"records_found"`
	Errors       []string           `json:"errors"`
	Methods      []MethodDiagnostic `json:"methods"`
	CheckedAt    time.Time          `json:"checked_at"`
}

// Verifier performs single, side-effect-free ownership checks. It is safe to
// call from the check-now request path and the background scheduler alike.
type Verifier struct {
	resolver RecordResolver
	now      func() time.Time
}

// NewVerifier creates a Verifier backed by resolver (typically a *Chain).
func NewVerifier(resolver RecordResolver) *Verifier {
	return &Verifier{resolver: resolver, now: func() time.Time { return time.Now().UTC() }}
}

// Verify resolves the record type for method at domain and reports whether
// any value matches expected. Malformed input fails fast with
// ErrInvalidDomain or ErrMissingToken; DNS trouble only shows up in the
// result's Errors and Methods.
func (v *Verifier) Verify(ctx context.Context, domain, expected string, method Method) (*Result, error) {
	name, err := NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return nil, ErrMissingToken
	}
	if method != MethodTXT && method != MethodCNAME {
		return nil, fmt.Errorf("unsupported verification method %q", method)
	}

	res := v.resolver.Resolve(ctx, name, method.RecordType())
	return &Result{
		Domain:       name,
		Method:       method,
		Verified:     Matches(res.Records, expected, ModeFor(method)),
		RecordsFound: res.Records,
		Errors:       res.Errors,
		Methods:      res.Methods,
		CheckedAt:    v.now(),
	}, nil
}
