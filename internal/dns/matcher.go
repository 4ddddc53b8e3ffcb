package dns

import "strings"

// MatchMode selects how resolved values are compared to the expected value.
type MatchMode int

const (
	// MatchContains accepts any record containing the expected token. Tokens
	// carry a namespaced random component, so containment tolerates
	// registrars that wrap the value in extra text.
	MatchContains MatchMode = iota
	// MatchFuzzy is the legacy CNAME comparison: both sides lowercased with
	// the trailing dot removed, then equal or either one containing the other.
	// The tolerance is intentional (providers return chains and partial
	// names); tightening it is a product decision.
	MatchFuzzy
)

// ModeFor returns the match mode used by a verification method.
func ModeFor(m Method) MatchMode {
	if m == MethodCNAME {
		return MatchFuzzy
	}
	return MatchContains
}

// Matches reports whether any record satisfies expected under mode.
// An empty expected value never matches.
func Matches(records []string, expected string, mode MatchMode) bool {
	if strings.TrimSpace(expected) == "" {
		return false
	}
	for _, rec := range records {
		if matchOne(rec, expected, mode) {
			return true
		}
	}
	return false
}

func matchOne(record, expected string, mode MatchMode) bool {
	switch mode {
	case MatchFuzzy:
		r := normalizeTarget(record)
		e := normalizeTarget(expected)
		if r == "" {
			return false
		}
		return r == e || strings.Contains(r, e) || strings.Contains(e, r)
	default:
		return strings.Contains(record, expected)
	}
}

func normalizeTarget(s string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), ".")
}
