package reports

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/platform/httpx"
)

// Handler serves derived statements over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs the statements HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// Statements returns the full statement bundle for a period.
func (h *Handler) Statements(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "period")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.Statements(r.Context(), id)
	if err != nil {
		h.fail(w, "statements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

// TrialBalance returns only the trial balance of the bundle.
func (h *Handler) TrialBalance(w http.ResponseWriter, r *http.Request) {
	h.part(w, r, func(st Statements) any { return st.TrialBalance })
}

// FinancialPosition returns the statement of financial position.
func (h *Handler) FinancialPosition(w http.ResponseWriter, r *http.Request) {
	h.part(w, r, func(st Statements) any { return st.FinancialPosition })
}

// Performance returns the statement of financial performance.
func (h *Handler) Performance(w http.ResponseWriter, r *http.Request) {
	h.part(w, r, func(st Statements) any { return st.Performance })
}

// CashFlows returns the statement of cash flows.
func (h *Handler) CashFlows(w http.ResponseWriter, r *http.Request) {
	h.part(w, r, func(st Statements) any { return st.CashFlows })
}

// NetAssets returns the statement of changes in net assets.
func (h *Handler) NetAssets(w http.ResponseWriter, r *http.Request) {
	h.part(w, r, func(st Statements) any { return st.NetAssets })
}

// Segment returns the reports for ?dimension=&value=.
func (h *Handler) Segment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "period")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	seg, err := h.service.Segment(r.Context(), id, accounting.Dimension(q.Get("dimension")), q.Get("value"))
	if err != nil {
		h.fail(w, "segment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, seg)
}

// Consolidated returns one segment per value of ?dimension (entity by default).
func (h *Handler) Consolidated(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "period")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.Consolidated(r.Context(), id, accounting.Dimension(r.URL.Query().Get("dimension")))
	if err != nil {
		h.fail(w, "consolidated", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) part(w http.ResponseWriter, r *http.Request, pick func(Statements) any) {
	id, err := httpx.IDParam(r, "period")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.Statements(r.Context(), id)
	if err != nil {
		h.fail(w, "statements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pick(st))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, accounting.ErrInvariantViolation) {
		h.logger.Error(op, slog.Any("error", err))
	} else {
		h.logger.Warn(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
