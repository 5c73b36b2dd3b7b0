package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/audit"
	"github.com/odyssey-erp/ipsas-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/ipsas-ledger/internal/shared"
)

const (
	defaultDateRange  = 7 * 24 * time.Hour
	maxDateRangeHours = 24 * 90
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
}

// Handler menangani permintaan audit timeline.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	now     func() time.Time
}

// NewHandler membuat handler audit baru.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:  logger,
		service: service,
		now:     time.Now,
	}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	p, _ := shared.PrincipalFromContext(r.Context())
	if err := accounting.Require(p, "view audit timeline", shared.CapabilityApprover, shared.CapabilityAdmin); err != nil {
		httpx.RespondError(w, err)
		return
	}

	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	now := h.now().UTC()
	q := r.URL.Query()
	toStr := strings.TrimSpace(q.Get("to"))
	if toStr == "" {
		toStr = now.Format("2006-01-02")
	}
	toTime, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return audit.TimelineFilters{}, invalid("to", "expected YYYY-MM-DD")
	}
	fromStr := strings.TrimSpace(q.Get("from"))
	if fromStr == "" {
		fromStr = toTime.Add(-defaultDateRange).Format("2006-01-02")
	}
	fromTime, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return audit.TimelineFilters{}, invalid("from", "expected YYYY-MM-DD")
	}
	if fromTime.After(toTime) {
		return audit.TimelineFilters{}, invalid("range", "from is after to")
	}
	if toTime.Sub(fromTime) > maxDateRangeHours*time.Hour {
		return audit.TimelineFilters{}, invalid("range", "window exceeds 90 days")
	}

	page := 1
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, invalid("page", "must be a positive integer")
		}
		page = parsed
	}
	pageSize := audit.DefaultPageSize
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, invalid("page_size", "must be a positive integer")
		}
		if parsed > audit.MaxPageSize {
			parsed = audit.MaxPageSize
		}
		pageSize = parsed
	}

	// "to" covers the whole day.
	toTime = toTime.Add(24*time.Hour - time.Nanosecond)

	return audit.TimelineFilters{
		From:     fromTime,
		To:       toTime,
		Actor:    strings.TrimSpace(q.Get("actor")),
		Entity:   strings.TrimSpace(q.Get("entity")),
		EntityID: strings.TrimSpace(q.Get("entity_id")),
		Action:   strings.TrimSpace(q.Get("action")),
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func invalid(field, reason string) error {
	return accounting.Invalid("audit_filter", "", field, reason)
}
