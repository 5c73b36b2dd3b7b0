package audithttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ipsas-ledger/internal/audit"
	"github.com/odyssey-erp/ipsas-ledger/internal/shared"
)

type stubTimelineService struct {
	result      audit.Result
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func newRouter(svc *stubTimelineService) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	h.now = func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/audit", h.MountRoutes)
	return r
}

func request(target string, p *shared.Principal) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if p != nil {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), *p))
	}
	return req
}

func TestTimelineDefaultsWindowAndPaging(t *testing.T) {
	svc := &stubTimelineService{result: audit.Result{
		Rows:   []audit.TimelineRow{{Actor: "clerk", Action: "submit", Entity: "journal_entry", EntityID: "7"}},
		Paging: audit.PagingInfo{Page: 1, PageSize: 20},
	}}
	approver := shared.NewPrincipal("approver", shared.CapabilityApprover)
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, request("/audit?actor=clerk&page_size=500", &approver))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), svc.lastFilters.From)
	assert.Equal(t, "clerk", svc.lastFilters.Actor)
	assert.Equal(t, audit.MaxPageSize, svc.lastFilters.PageSize)

	var body audit.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
	assert.Equal(t, "7", body.Rows[0].EntityID)
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	approver := shared.NewPrincipal("approver", shared.CapabilityApprover)
	for _, target := range []string{
		"/audit?from=2024-03-10&to=2024-03-01",
		"/audit?from=2023-01-01&to=2024-03-01",
		"/audit?page=0",
		"/audit?to=yesterday",
	} {
		rec := httptest.NewRecorder()
		newRouter(&stubTimelineService{}).ServeHTTP(rec, request(target, &approver))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, target)
	}
}

func TestTimelineRequiresReviewer(t *testing.T) {
	clerk := shared.NewPrincipal("clerk", shared.CapabilityCreator)
	rec := httptest.NewRecorder()
	newRouter(&stubTimelineService{}).ServeHTTP(rec, request("/audit", &clerk))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	newRouter(&stubTimelineService{}).ServeHTTP(rec, request("/audit", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
