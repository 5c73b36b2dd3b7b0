package reconciliation

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/ipsas-ledger/internal/shared"
)

// Handler exposes reconciliation over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs the reconciliation HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

type recordView struct {
	ID           int64      `json:"id"`
	PeriodID     int64      `json:"period_id"`
	Source       string     `json:"source"`
	RunID        string     `json:"run_id"`
	ExternalCode string     `json:"external_code"`
	AccountID    *int64     `json:"account_id,omitempty"`
	External     string     `json:"external"`
	Internal     string     `json:"internal"`
	Variance     string     `json:"variance"`
	Status       string     `json:"status"`
	Note         string     `json:"note,omitempty"`
	ResolvedBy   string     `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

func toView(r accounting.ReconciliationRecord) recordView {
	return recordView{
		ID:           r.ID,
		PeriodID:     r.PeriodID,
		Source:       r.Source,
		RunID:        r.RunID.String(),
		ExternalCode: r.ExternalCode,
		AccountID:    r.AccountID,
		External:     r.External.StringFixed(2),
		Internal:     r.Internal.StringFixed(2),
		Variance:     r.Variance.StringFixed(2),
		Status:       string(r.Status),
		Note:         r.Note,
		ResolvedBy:   r.ResolvedBy,
		ResolvedAt:   r.ResolvedAt,
	}
}

func views(list []accounting.ReconciliationRecord) []recordView {
	out := make([]recordView, len(list))
	for i, r := range list {
		out[i] = toView(r)
	}
	return out
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	run, err := h.service.Reconcile(r.Context(), principal(r), in)
	if err != nil {
		h.fail(w, "reconcile", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"run_id":         run.ID.String(),
		"period_id":      run.PeriodID,
		"source":         run.Source,
		"matched":        run.Summary.Matched,
		"flagged":        run.Summary.Flagged,
		"unreconciled":   run.Summary.Unreconciled,
		"total_variance": run.Summary.TotalVariance.StringFixed(2),
		"records":        views(run.Records),
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.QueryInt(r, "period_id", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.List(r.Context(), int64(periodID))
	if err != nil {
		h.fail(w, "list reconciliations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": views(list)})
}

type resolveRequest struct {
	Note string `json:"note" validate:"required"`
}

func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in resolveRequest
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.Resolve(r.Context(), principal(r), id, in.Note)
	if err != nil {
		h.fail(w, "resolve reconciliation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(rec))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func principal(r *http.Request) shared.Principal {
	p, _ := shared.PrincipalFromContext(r.Context())
	return p
}
