package dns

import (
	"bufio"
	"context"
	"os"
	"strings"
)

// FileResolver serves records from a local overrides file so e2e runs can
// publish TXT/CNAME values without a real zone. Each line is
//
//	<host> <TXT|CNAME> <value>
//
// Blank lines and lines starting with '#' are ignored. The file is re-read on
// every call so records can be added while the service is running.
type FileResolver struct {
	path string
}

// NewFileResolver creates a FileResolver. The file must exist.
func NewFileResolver(path string) (*FileResolver, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return &FileResolver{path: path}, nil
}

// Name implements Resolver.
func (r *FileResolver) Name() string { return "overrides" }

// Resolve implements Resolver. Unknown hosts yield an empty result.
func (r *FileResolver) Resolve(_ context.Context, domain string, rt RecordType) ([]string, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	var records []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		if len(fields) != 3 {
			continue
		}
		host := strings.TrimSuffix(strings.ToLower(fields[0]), ".")
		if host != domain || !strings.EqualFold(fields[1], rt.String()) {
			continue
		}
		value := strings.TrimSpace(fields[2])
		if rt == TypeCNAME {
			value = strings.TrimSuffix(value, ".")
		}
		records = append(records, value)
	}
	return records, scanner.Err()
}
