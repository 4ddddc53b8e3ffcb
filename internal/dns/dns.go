// Package dns implements DNS-based custom-domain ownership proofing: an
// ordered chain of resolver strategies (system resolver, DNS-over-HTTPS
// providers), record matching, a single-attempt verifier and the retry policy
// that wraps each individual lookup.
package dns

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// RecordType is a DNS resource record type understood by the resolver chain.
// Values are the numeric type codes used on the wire and in DoH JSON answers.
type RecordType uint16

const (
	TypeCNAME RecordType = 5
	TypeTXT   RecordType = 16
)

func (t RecordType) String() string {
	switch t {
	case TypeTXT:
		return "TXT"
	case TypeCNAME:
		return "CNAME"
	default:
		return fmt.Sprintf("TYPE%d", uint16(t))
	}
}

// Method is the ownership proofing method for a domain.
type Method string

const (
	// MethodTXT expects the ownership token inside a TXT record at the domain.
	MethodTXT Method = "txt"
	// MethodCNAME is the legacy method: the domain must CNAME to a target.
	MethodCNAME Method = "cname"
)

// ParseMethod maps user input onto a Method. Empty input selects MethodTXT.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "", MethodTXT:
		return MethodTXT, nil
	case MethodCNAME:
		return MethodCNAME, nil
	default:
		return "", fmt.Errorf("unknown verification method %q", s)
	}
}

// RecordType returns the DNS record type queried for the method.
func (m Method) RecordType() RecordType {
	if m == MethodCNAME {
		return TypeCNAME
	}
	return TypeTXT
}

// Sentinel errors. ErrNotFound, ErrNoData and ErrTimeout are transient and
// retried by WithRetry; ErrInvalidDomain and ErrMissingToken are fatal.
var (
	ErrInvalidDomain = errors.New("invalid domain name")
	ErrMissingToken  = errors.New("verification token or target must not be empty")
	ErrNotFound      = errors.New("domain not found (NXDOMAIN)")
	ErrNoData        = errors.New("no records of requested type")
	ErrTimeout       = errors.New("dns lookup timed out")
)

// DefaultTokenPrefix namespaces ownership tokens so substring matching is safe.
const DefaultTokenPrefix = "wick3d-verification="

// NewOwnershipToken returns prefix followed by 16 random bytes in hex.
func NewOwnershipToken(prefix string) (string, error) {
	if prefix == "" {
		prefix = DefaultTokenPrefix
	}
	h, err := randomHex(16)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return prefix + h, nil
}

// NewCNAMETarget returns a per-domain legacy CNAME target under base,
// e.g. "d-1a2b3c4d.domains.example.net".
func NewCNAMETarget(base string) (string, error) {
	base = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(base)), ".")
	if base == "" {
		return "", ErrMissingToken
	}
	h, err := randomHex(4)
	if err != nil {
		return "", fmt.Errorf("generate cname target: %w", err)
	}
	return "d-" + h + "." + base, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
