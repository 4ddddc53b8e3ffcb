package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wick3d/customdomains/internal/api"
	"github.com/wick3d/customdomains/internal/audit"
	"github.com/wick3d/customdomains/internal/dns"
	"github.com/wick3d/customdomains/internal/domains"
	"github.com/wick3d/customdomains/internal/health"
	"github.com/wick3d/customdomains/internal/reconcile"
	"github.com/wick3d/customdomains/internal/settings"
	"github.com/wick3d/customdomains/internal/tracker"
)

type stubDNS struct {
	mu      sync.Mutex
	records map[string][]string
}

func (s *stubDNS) set(domain string, values ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[domain] = values
}

func (s *stubDNS) Resolve(_ context.Context, domain string, _ dns.RecordType) *dns.Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := append([]string{}, s.records[domain]...)
	return &dns.Resolution{
		Records: recs,
		Errors:  []string{},
		Methods: []dns.MethodDiagnostic{{Name: "stub", Successful: true, Records: len(recs)}},
	}
}

type testServer struct {
	router *gin.Engine
	dns    *stubDNS
	store  *settings.MemoryStore
	sched  *reconcile.Scheduler
	ledger *audit.MemoryLedger
}

func setupRouter(t *testing.T, initial *settings.DomainConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := settings.NewMemoryStore(initial)
	stub := &stubDNS{records: map[string][]string{}}
	svc := domains.NewService(domains.Config{DefaultDomain: "acme.wick3d.app", CNAMEBase: "custom.wick3d.app"},
		store, tracker.NewMemory(), dns.NewVerifier(stub), zap.NewNop())
	sched := reconcile.New(reconcile.Config{}, svc.Attempt, zap.NewNop())
	svc.SetScheduler(sched)
	ledger := audit.NewMemory()
	svc.SetEventDispatch(audit.Recorder(ledger, zap.NewNop()))

	router := api.NewRouter(api.RouterConfig{
		Domains:     api.NewDomainHandler(svc, zap.NewNop()),
		Reconcile:   api.NewReconcileHandler(sched.Pending),
		Audit:       api.NewAuditHandler(ledger, zap.NewNop()),
		CORSOrigins: []string{"http://localhost:3000"},
		Logger:      zap.NewNop(),
	})
	return &testServer{router: router, dns: stub, store: store, sched: sched, ledger: ledger}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestAddDomain_201(t *testing.T) {
	s := setupRouter(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/domains", `{"domain":"Example.com","primary":true}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	reg := decode[domains.Registration](t, w)
	assert.Equal(t, "example.com", reg.Domain)
	assert.Equal(t, dns.MethodTXT, reg.Method)
	assert.True(t, strings.HasPrefix(reg.Value, dns.DefaultTokenPrefix))
	assert.Equal(t, "TXT", reg.Instructions.RecordType)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, 1, s.sched.Len())
}

func TestAddDomain_badInput(t *testing.T) {
	s := setupRouter(t, nil)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing domain", `{}`, http.StatusBadRequest},
		{"malformed json", `{"domain":`, http.StatusBadRequest},
		{"invalid domain", `{"domain":"not a domain"}`, http.StatusBadRequest},
		{"unknown method", `{"domain":"example.com","method":"http"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/domains", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestAddDomain_conflict409(t *testing.T) {
	s := setupRouter(t, &settings.DomainConfig{CustomDomain: "example.com", DomainVerificationToken: "tok"})

	w := s.do(t, http.MethodPost, "/api/v1/domains", `{"domain":"example.com"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCheckDomain(t *testing.T) {
	s := setupRouter(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/domains", `{"domain":"a.example.com"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	reg := decode[domains.Registration](t, w)

	// Not yet published: structured result with instructions.
	w = s.do(t, http.MethodPost, "/api/v1/domains/a.example.com/check", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[map[string]any](t, w)
	assert.Equal(t, false, body["verified"])
	assert.Equal(t, []any{}, body["records_found"])
	assert.NotNil(t, body["instructions"])
	assert.Len(t, body["methods"], 1)

	s.dns.set("a.example.com", reg.Value)
	w = s.do(t, http.MethodPost, "/api/v1/domains/a.example.com/check", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode[map[string]any](t, w)
	assert.Equal(t, true, body["verified"])
	assert.Nil(t, body["instructions"])

	cfg, _ := s.store.GetSettings(context.Background())
	assert.True(t, cfg.Additional("a.example.com").Verified)
	assert.Equal(t, 0, s.sched.Len())
}

func TestCheckDomain_errors(t *testing.T) {
	s := setupRouter(t, &settings.DomainConfig{
		AdditionalDomains: []settings.AdditionalDomain{{Domain: "legacy.example.com", NeedsMigration: true}},
	})

	w := s.do(t, http.MethodPost, "/api/v1/domains/missing.example.com/check", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/domains/legacy.example.com/check", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/domains/nodots/check", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "input", decode[map[string]any](t, w)["kind"])
}

func TestListDomains(t *testing.T) {
	s := setupRouter(t, nil)

	s.do(t, http.MethodPost, "/api/v1/domains", `{"domain":"example.com","primary":true}`)
	s.do(t, http.MethodPost, "/api/v1/domains", `{"domain":"www.example.com","method":"cname"}`)

	w := s.do(t, http.MethodGet, "/api/v1/domains", "")
	require.Equal(t, http.StatusOK, w.Code)

	list := decode[domains.DomainList](t, w)
	require.NotNil(t, list.Primary)
	assert.Equal(t, "example.com", list.Primary.Domain)
	assert.Equal(t, "acme.wick3d.app", list.Default)
	require.Len(t, list.Additional, 1)
	assert.Equal(t, dns.MethodCNAME, list.Additional[0].Method)
	assert.False(t, list.Additional[0].Verified)
}

func TestInstructionsAndRemove(t *testing.T) {
	s := setupRouter(t, nil)

	s.do(t, http.MethodPost, "/api/v1/domains", `{"domain":"a.example.com"}`)

	w := s.do(t, http.MethodGet, "/api/v1/domains/a.example.com/instructions", "")
	require.Equal(t, http.StatusOK, w.Code)
	ins := decode[domains.Instructions](t, w)
	assert.Equal(t, "a.example.com", ins.Host)

	w = s.do(t, http.MethodDelete, "/api/v1/domains/a.example.com", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, s.sched.Len())

	w = s.do(t, http.MethodDelete, "/api/v1/domains/a.example.com", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReconcileTasks(t *testing.T) {
	s := setupRouter(t, nil)

	s.do(t, http.MethodPost, "/api/v1/domains", `{"domain":"a.example.com"}`)
	s.do(t, http.MethodPost, "/api/v1/domains", `{"domain":"b.example.com"}`)

	w := s.do(t, http.MethodGet, "/api/v1/reconcile/tasks", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Tasks []reconcile.Task `json:"tasks"`
		Count int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Len(t, body.Tasks, 2)
	assert.Equal(t, 0, body.Tasks[0].Attempt)
}

func TestHealthAndMetrics(t *testing.T) {
	s := setupRouter(t, nil)

	w := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	api.RecordDNSMethod("system", "records")
	api.RecordVerification("check_now", "verified")
	api.RecordReconcileOutcome("abandoned")

	w = s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "customdomains_requests_total")
	assert.Contains(t, w.Body.String(), `customdomains_dns_method_total{method="system",outcome="records"}`)
	assert.Contains(t, w.Body.String(), "customdomains_reconcile_outcomes_total")
}

func TestHealth_notReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := api.NewRouter(api.RouterConfig{Logger: zap.NewNop(), Ready: func() bool { return false }})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealth_listsDependencies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	checker := health.New(health.Config{FailThreshold: 1}, zap.NewNop())
	checker.Add("redis", func(context.Context) error { return nil })
	checker.Add("postgres", func(context.Context) error { return errors.New("connection refused") })
	checker.CheckAll(context.Background())

	router := api.NewRouter(api.RouterConfig{
		Logger:       zap.NewNop(),
		Ready:        checker.Ready,
		Dependencies: checker.Statuses,
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Status       string          `json:"status"`
		Dependencies []health.Status `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body.Status)
	require.Len(t, body.Dependencies, 2)
	assert.Equal(t, "postgres", body.Dependencies[0].Name)
	assert.False(t, body.Dependencies[0].Healthy)
	assert.Equal(t, "connection refused", body.Dependencies[0].LastError)
	assert.Equal(t, "redis", body.Dependencies[1].Name)
	assert.True(t, body.Dependencies[1].Healthy)
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := domains.NewService(domains.Config{}, settings.NewMemoryStore(nil), tracker.NewMemory(),
		dns.NewVerifier(&stubDNS{records: map[string][]string{}}), zap.NewNop())
	router := api.NewRouter(api.RouterConfig{
		Domains:      api.NewDomainHandler(svc, zap.NewNop()),
		Logger:       zap.NewNop(),
		RateLimitRPS: 1,
	})

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/domains", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429, 429}, codes)

	// Health stays outside the limit.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuditLog(t *testing.T) {
	s := setupRouter(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/domains", `{"domain":"a.example.com"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	w = s.do(t, http.MethodDelete, "/api/v1/domains/a.example.com", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/audit?offset=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Entries []audit.Entry `json:"entries"`
		Total   int           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "domain.registered", page.Entries[0].Action)
	assert.Equal(t, "domain.removed", page.Entries[1].Action)
	assert.Equal(t, page.Entries[0].Hash, page.Entries[1].PrevHash)

	w = s.do(t, http.MethodGet, "/api/v1/audit/verify", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, page.Entries[1].Hash, body["root"])

	w = s.do(t, http.MethodGet, "/api/v1/audit?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
