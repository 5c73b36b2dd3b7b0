package periods

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/ipsas-ledger/internal/shared"
)

// Handler exposes fiscal periods over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs the period HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

type periodView struct {
	ID         int64      `json:"id"`
	FiscalYear string     `json:"fiscal_year"`
	Code       string     `json:"code"`
	StartDate  string     `json:"start_date"`
	EndDate    string     `json:"end_date"`
	Status     string     `json:"status"`
	Halted     bool       `json:"halted"`
	HaltReason string     `json:"halt_reason,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	ClosedBy   string     `json:"closed_by,omitempty"`
}

func toView(p accounting.Period) periodView {
	return periodView{
		ID:         p.ID,
		FiscalYear: p.FiscalYear,
		Code:       p.Code,
		StartDate:  p.StartDate.Format("2006-01-02"),
		EndDate:    p.EndDate.Format("2006-01-02"),
		Status:     string(p.Status),
		Halted:     p.Halted,
		HaltReason: p.HaltReason,
		ClosedAt:   p.ClosedAt,
		ClosedBy:   p.ClosedBy,
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, "list periods", err)
		return
	}
	out := make([]periodView, len(list))
	for i, p := range list {
		out[i] = toView(p)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": out})
}

func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Current(r.Context())
	if err != nil {
		h.fail(w, "current period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(p))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(p))
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Create(r.Context(), principal(r), in)
	if err != nil {
		h.fail(w, "create period", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toView(p))
}

func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Open(r.Context(), principal(r), id)
	if err != nil {
		h.fail(w, "open period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(p))
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Close(r.Context(), principal(r), id)
	if err != nil {
		h.fail(w, "close period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"closed":       toView(res.Closed),
		"next":         toView(res.Next),
		"next_created": res.NextCreated,
		"carried":      res.Carried,
		"surplus":      res.Surplus.StringFixed(2),
	})
}

type clearHaltRequest struct {
	Note string `json:"note" validate:"required"`
}

func (h *Handler) ClearHalt(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in clearHaltRequest
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.ClearHalt(r.Context(), principal(r), id, in.Note)
	if err != nil {
		h.fail(w, "clear period halt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(p))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func principal(r *http.Request) shared.Principal {
	p, _ := shared.PrincipalFromContext(r.Context())
	return p
}
