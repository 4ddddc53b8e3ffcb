package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeAdditionalDomains parses the persisted additional-domains blob.
// It is the only place that understands the legacy formats:
//   - an entry that is a bare domain string decodes with NeedsMigration set
//   - a blob that is itself a JSON string (double encoded) is unwrapped once
//   - null, empty input and null entries decode to nothing
func DecodeAdditionalDomains(raw []byte) ([]AdditionalDomain, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []AdditionalDomain{}, nil
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("decode additional domains: %w", err)
		}
		return DecodeAdditionalDomains([]byte(inner))
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode additional domains: %w", err)
	}

	out := make([]AdditionalDomain, 0, len(items))
	for i, item := range items {
		item = bytes.TrimSpace(item)
		switch {
		case len(item) == 0 || bytes.Equal(item, []byte("null")):
			continue
		case item[0] == '"':
			var domain string
			if err := json.Unmarshal(item, &domain); err != nil {
				return nil, fmt.Errorf("decode additional domain %d: %w", i, err)
			}
			domain = strings.ToLower(strings.TrimSpace(domain))
			if domain == "" {
				continue
			}
			out = append(out, AdditionalDomain{Domain: domain, NeedsMigration: true})
		default:
			var d AdditionalDomain
			if err := json.Unmarshal(item, &d); err != nil {
				return nil, fmt.Errorf("decode additional domain %d: %w", i, err)
			}
			if d.Domain == "" {
				continue
			}
			out = append(out, d)
		}
	}
	return out, nil
}

// EncodeAdditionalDomains serializes the list in the object format. Legacy
// entries keep their marker so they still decode as needing migration.
func EncodeAdditionalDomains(list []AdditionalDomain) ([]byte, error) {
	if list == nil {
		list = []AdditionalDomain{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("encode additional domains: %w", err)
	}
	return b, nil
}
