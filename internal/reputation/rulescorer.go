package reputation

import (
	"context"
	"math"
	"net"
	"strings"
	"time"

	"github.com/wick3d/customdomains/internal/tracker"
)

// ruleFunc inspects a domain and returns zero or more Findings.
type ruleFunc func(domain string, labels []string) []Finding

// RuleBasedScorer runs a fixed set of lexical rules against a domain name and
// accumulates a score. It makes no network calls.
type RuleBasedScorer struct {
	rules []ruleFunc
	now   func() time.Time
}

// NewRuleBasedScorer returns a RuleBasedScorer loaded with the default rules.
func NewRuleBasedScorer() *RuleBasedScorer {
	return &RuleBasedScorer{
		rules: []ruleFunc{
			ruleAbusedTLD,
			rulePhishingKeywords,
			ruleHyphenation,
			ruleDigitHeavy,
			rulePunycode,
			ruleDeepNesting,
			ruleIPLiteral,
		},
		now: time.Now,
	}
}

// Score implements Scorer.
func (s *RuleBasedScorer) Score(_ context.Context, domain string) (tracker.Reputation, error) {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	labels := strings.Split(domain, ".")

	var findings []Finding
	for _, r := range s.rules {
		findings = append(findings, r(domain, labels)...)
	}

	total := 0
	details := make([]string, 0, len(findings))
	for _, f := range findings {
		total += int(math.Round(f.Confidence * 40))
		details = append(details, f.Rule+": "+f.Description)
	}
	if total > 100 {
		total = 100
	}

	return tracker.Reputation{
		Score:       total,
		Risk:        riskLabel(total),
		LastChecked: s.now().UTC(),
		Source:      Source,
		Details:     details,
	}, nil
}

// ── Rules ─────────────────────────────────────────────────────────────────────

// abusedTLDs are top-level domains with a high share of abuse reports.
var abusedTLDs = map[string]bool{
	"zip": true, "mov": true, "tk": true, "ml": true, "ga": true, "cf": true,
	"gq": true, "xyz": true, "top": true, "click": true, "country": true,
}

func ruleAbusedTLD(_ string, labels []string) []Finding {
	tld := labels[len(labels)-1]
	if abusedTLDs[tld] {
		return []Finding{{
			Rule:        "abused_tld",
			Description: "top-level domain ." + tld + " is frequently abused",
			Confidence:  0.6,
		}}
	}
	return nil
}

// phishingKeywords suggest credential phishing or brand impersonation.
var phishingKeywords = []string{
	"login", "signin", "verify-account", "account-update", "secure-",
	"wallet", "paypal", "appleid", "microsoft", "banking", "password",
}

func rulePhishingKeywords(domain string, _ []string) []Finding {
	var findings []Finding
	for _, kw := range phishingKeywords {
		if strings.Contains(domain, kw) {
			findings = append(findings, Finding{
				Rule:        "phishing_keyword",
				Description: "domain contains keyword " + kw,
				Confidence:  0.8,
			})
		}
	}
	return findings
}

func ruleHyphenation(_ string, labels []string) []Finding {
	for _, l := range labels {
		if strings.Count(l, "-") >= 3 {
			return []Finding{{
				Rule:        "hyphenation",
				Description: "label " + l + " has three or more hyphens",
				Confidence:  0.4,
			}}
		}
	}
	return nil
}

func ruleDigitHeavy(_ string, labels []string) []Finding {
	if len(labels) < 2 {
		return nil
	}
	l := labels[len(labels)-2]
	digits := 0
	for i := 0; i < len(l); i++ {
		if l[i] >= '0' && l[i] <= '9' {
			digits++
		}
	}
	if len(l) >= 6 && digits*2 >= len(l) {
		return []Finding{{
			Rule:        "digit_heavy",
			Description: "registered label " + l + " is mostly digits",
			Confidence:  0.4,
		}}
	}
	return nil
}

// rulePunycode flags internationalized labels, which enable homograph attacks.
func rulePunycode(_ string, labels []string) []Finding {
	for _, l := range labels {
		if strings.HasPrefix(l, "xn--") {
			return []Finding{{
				Rule:        "punycode",
				Description: "label " + l + " is an internationalized name",
				Confidence:  0.3,
			}}
		}
	}
	return nil
}

func ruleDeepNesting(_ string, labels []string) []Finding {
	if len(labels) > 5 {
		return []Finding{{
			Rule:        "deep_nesting",
			Description: "domain has more than five labels",
			Confidence:  0.3,
		}}
	}
	return nil
}

func ruleIPLiteral(domain string, _ []string) []Finding {
	if net.ParseIP(domain) != nil {
		return []Finding{{
			Rule:        "ip_literal",
			Description: "domain is an IP address",
			Confidence:  1.0,
		}}
	}
	return nil
}

var _ Scorer = (*RuleBasedScorer)(nil)
