package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ipsas-ledger/internal/observability"
	"github.com/odyssey-erp/ipsas-ledger/internal/shared"
	"github.com/odyssey-erp/ipsas-ledger/internal/testing/ledgertest"
)

func testConfig() *Config {
	return &Config{
		AppEnv:            "test",
		AppRequestTimeout: 5 * time.Second,
		AppRateLimit:      1000,
		Store:             StoreMemory,
		NetAssetsAccount:  "3100",
		StatementTimeout:  5 * time.Second,
		StatementCacheTTL: time.Minute,
		PostRetries:       1,
		PostRetryBackoff:  time.Millisecond,
	}
}

func newTestRouter(t *testing.T) (http.Handler, *ledgertest.Fixture) {
	t.Helper()
	f := ledgertest.New(t)
	cfg := testConfig()
	metrics := observability.NewMetrics()
	svcs := NewServices(cfg, f.Store, nil, metrics, ledgertest.Logger())
	return svcs.Router(cfg, ledgertest.Logger(), metrics, nil), f
}

func do(h http.Handler, method, path, body string, p *shared.Principal) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if p != nil {
		req.Header.Set(HeaderPrincipalID, p.ID)
		caps := make([]string, len(p.Capabilities))
		for i, c := range p.Capabilities {
			caps[i] = string(c)
		}
		req.Header.Set(HeaderPrincipalCapabilities, strings.Join(caps, ","))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := do(h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
}

func TestPrincipalMiddleware(t *testing.T) {
	var seen shared.Principal
	var ok bool
	h := PrincipalMiddleware(ledgertest.Logger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, ok = shared.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderPrincipalID, "ana")
	req.Header.Set(HeaderPrincipalCapabilities, "creator, Approver")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.True(t, ok)
	assert.Equal(t, "ana", seen.ID)
	assert.True(t, seen.Has(shared.CapabilityApprover))
	assert.False(t, seen.Has(shared.CapabilityAdmin))

	ok = false
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, ok)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderPrincipalID, "ana")
	req.Header.Set(HeaderPrincipalCapabilities, "root")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestJournalWorkflowOverHTTP(t *testing.T) {
	h, f := newTestRouter(t)
	body := fmt.Sprintf(`{
		"period_id": %d,
		"entry_date": "2024-01-20T00:00:00Z",
		"memo": "office supplies",
		"lines": [
			{"account_id": %d, "debit": "100.00"},
			{"account_id": %d, "credit": "100.00"}
		]
	}`, f.Period.ID, f.Accounts["5000"].ID, f.Accounts["1000"].ID)

	rr := do(h, http.MethodPost, "/journals", body, nil)
	require.Equal(t, http.StatusForbidden, rr.Code, rr.Body.String())

	rr = do(h, http.MethodPost, "/journals", body, &ledgertest.Clerk)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "draft", created.Status)

	path := fmt.Sprintf("/journals/%d", created.ID)
	rr = do(h, http.MethodPost, path+"/submit", "", &ledgertest.Clerk)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(h, http.MethodPost, path+"/approve", "", &ledgertest.Clerk)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(h, http.MethodPost, path+"/approve", "", &ledgertest.Approver)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = do(h, http.MethodPost, path+"/post", "", &ledgertest.Approver)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"status":"posted"`)

	rr = do(h, http.MethodPost, path+"/cancel", "", &ledgertest.Clerk)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(h, http.MethodGet, fmt.Sprintf("/statements/%d/trial-balance", f.Period.ID), "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"total_debit":"100`)

	rr = do(h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `ledger_postings_total{outcome="posted"} 1`)
}

func TestUnknownRoutesAndPeriods(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := do(h, http.MethodGet, "/statements/999", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(h, http.MethodPost, "/periods/1/close", "", &ledgertest.Clerk)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
