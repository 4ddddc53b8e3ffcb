package domains

import (
	"fmt"

	"github.com/wick3d/customdomains/internal/dns"
)

// SuggestedTTL is the record TTL recommended to operators, in seconds.
const SuggestedTTL = 300

// Instructions tells an operator which DNS record to publish.
type Instructions struct {
	RecordType string   `json:"record_type"`
	Host       string   `json:"host"`
	Value      string   `json:"value"`
	TTL        int      `json:"ttl"`
	Steps      []string `json:"steps"`
}

// BuildInstructions returns setup instructions for publishing value at domain.
// Host is the fully qualified name; most providers accept it or expect the
// part left of the zone apex.
func BuildInstructions(domain, value string, method dns.Method) Instructions {
	rt := method.RecordType().String()
	steps := []string{
		"Sign in to the DNS provider that hosts " + domain + ".",
		fmt.Sprintf("Create a %s record with host %s.", rt, domain),
	}
	switch method {
	case dns.MethodCNAME:
		steps = append(steps,
			"Set the record to point at "+value+".",
			"Remove any A, AAAA or other CNAME records on the same host; a CNAME cannot share its name.",
		)
	default:
		steps = append(steps,
			"Set the record value to "+value+" exactly. Keep any existing TXT records.",
		)
	}
	steps = append(steps,
		fmt.Sprintf("Use a TTL of %d seconds or less if the provider allows it.", SuggestedTTL),
		"Save the record. Verification runs automatically in the background; use \"check now\" to verify immediately.",
	)
	return Instructions{
		RecordType: rt,
		Host:       domain,
		Value:      value,
		TTL:        SuggestedTTL,
		Steps:      steps,
	}
}
