package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Errors matched by APIError.Is, so callers can use errors.Is.
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("domain not found")
	ErrConflict       = errors.New("domain conflict")
	ErrNeedsMigration = errors.New("domain needs re-registration")
	ErrUnavailable    = errors.New("service unavailable")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Kind       string `json:"kind"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error %d", e.StatusCode)
	}
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// Is maps the status code onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrInvalidInput:
		return e.StatusCode == http.StatusBadRequest
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrNeedsMigration:
		return e.StatusCode == http.StatusUnprocessableEntity
	case ErrUnavailable:
		return e.StatusCode == http.StatusServiceUnavailable
	}
	return false
}

// Instructions describe the DNS record an owner must publish.
type Instructions struct {
	RecordType string   `json:"record_type"`
	Host       string   `json:"host"`
	Value      string   `json:"value"`
	TTL        int      `json:"ttl"`
	Steps      []string `json:"steps"`
}

// Reputation is the advisory risk score attached to a domain.
type Reputation struct {
	Score       int       `json:"score"`
	Risk        string    `json:"risk"`
	LastChecked time.Time `json:"last_checked"`
	Source      string    `json:"source"`
	Details     []string  `json:"details,omitempty"`
}

// AddRequest is the payload for AddDomain. Method is "txt" (default) or "cname".
type AddRequest struct {
	Domain  string `json:"domain"`
	Primary bool   `json:"primary"`
	Method  string `json:"method,omitempty"`
}

// Registration is returned by AddDomain.
type Registration struct {
	Domain       string       `json:"domain"`
	Method       string       `json:"method"`
	Value        string       `json:"value"`
	IsPrimary    bool         `json:"is_primary"`
	Instructions Instructions `json:"instructions"`
	Reputation   *Reputation  `json:"reputation,omitempty"`
}

// MethodDiagnostic reports how one resolver method fared.
type MethodDiagnostic struct {
	Name       string `json:"name"`
	Successful bool   `json:"successful"`
	Records    int    `json:"records"`
	Error      string `json:"error,omitempty"`
}

// CheckResult is the outcome of an immediate verification.
type CheckResult struct {
	Domain       string             `json:"domain"`
	Method       string             `json:"method"`
	Verified     bool               `json:"verified"`
	RecordsFound []string           `json:"records_found"`
	Errors       []string           `json:"errors"`
	Methods      []MethodDiagnostic `json:"methods"`
	CheckedAt    time.Time          `json:"checked_at"`
	IsPrimary    bool               `json:"is_primary"`
	Instructions *Instructions      `json:"instructions,omitempty"`
}

// DomainStatus is one row of ListDomains.
type DomainStatus struct {
	Domain         string      `json:"domain"`
	Method         string      `json:"method"`
	Value          string      `json:"value,omitempty"`
	IsPrimary      bool        `json:"is_primary"`
	Verified       bool        `json:"verified"`
	NeedsMigration bool        `json:"needs_migration,omitempty"`
	AddedAt        time.Time   `json:"added_at,omitempty"`
	Tracked        bool        `json:"tracked"`
	Reputation     *Reputation `json:"reputation,omitempty"`
}

// DomainList is returned by ListDomains.
type DomainList struct {
	Primary         *DomainStatus  `json:"primary"`
	UseCustomDomain bool           `json:"use_custom_domain"`
	Additional      []DomainStatus `json:"additional"`
	Default         string         `json:"default"`
}

// Task is a pending background verification.
type Task struct {
	ID          string        `json:"id"`
	Domain      string        `json:"domain"`
	Target      string        `json:"target"`
	Method      string        `json:"method"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	Delay       time.Duration `json:"delay"`
	RunAt       time.Time     `json:"run_at"`
	Running     bool          `json:"running"`
}

// AuditEntry is one record of the domain audit log.
type AuditEntry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Domain    string    `json:"domain"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	DataHash  string    `json:"data_hash"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// AuditPage is returned by AuditLog.
type AuditPage struct {
	Entries []AuditEntry `json:"entries"`
	Total   int          `json:"total"`
}

// AuditStatus is returned by VerifyAudit.
type AuditStatus struct {
	Valid   bool   `json:"valid"`
	Root    string `json:"root,omitempty"`
	Entries int    `json:"entries,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client talks to a running domain service.
type Client struct {
	base       string
	httpClient *http.Client
	userAgent  string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("nil http client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{Timeout: d}
		return nil
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// New creates a Client for the service at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  "domainctl",
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// AddDomain registers a domain and starts background verification.
func (c *Client) AddDomain(ctx context.Context, req AddRequest) (*Registration, error) {
	var reg Registration
	if err := c.call(ctx, http.MethodPost, "/api/v1/domains", req, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// CheckDomain verifies a registered domain immediately. A domain whose
// record is not yet visible is not an error: Verified is false and
// Instructions is set.
func (c *Client) CheckDomain(ctx context.Context, domain string) (*CheckResult, error) {
	var res CheckResult
	if err := c.call(ctx, http.MethodPost, domainPath(domain, "check"), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListDomains returns the primary and additional domains.
func (c *Client) ListDomains(ctx context.Context) (*DomainList, error) {
	var list DomainList
	if err := c.call(ctx, http.MethodGet, "/api/v1/domains", nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Instructions returns the DNS record to publish for a registered domain.
func (c *Client) Instructions(ctx context.Context, domain string) (*Instructions, error) {
	var ins Instructions
	if err := c.call(ctx, http.MethodGet, domainPath(domain, "instructions"), nil, &ins); err != nil {
		return nil, err
	}
	return &ins, nil
}

// RemoveDomain unregisters a domain and stops its background checks.
func (c *Client) RemoveDomain(ctx context.Context, domain string) error {
	return c.call(ctx, http.MethodDelete, domainPath(domain, ""), nil, nil)
}

// PendingTasks lists the background verifications still scheduled.
func (c *Client) PendingTasks(ctx context.Context) ([]Task, error) {
	var wrapper struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/reconcile/tasks", nil, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Tasks, nil
}

// AuditLog returns up to limit audit entries starting at offset.
func (c *Client) AuditLog(ctx context.Context, offset, limit int) (*AuditPage, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	var page AuditPage
	if err := c.call(ctx, http.MethodGet, "/api/v1/audit?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// VerifyAudit asks the server to check the audit chain. A broken chain is
// reported as Valid=false, not as an error.
func (c *Client) VerifyAudit(ctx context.Context) (*AuditStatus, error) {
	var st AuditStatus
	err := c.call(ctx, http.MethodGet, "/api/v1/audit/verify", nil, &st)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		return &AuditStatus{Valid: false, Error: apiErr.Message}, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func domainPath(domain, suffix string) string {
	p := "/api/v1/domains/" + url.PathEscape(domain)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

// call sends body as JSON (when non-nil) and decodes a 2xx response into out.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
