package journals

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/ipsas-ledger/internal/shared"
)

// Handler exposes the journal workflow over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs the journal HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

type lineView struct {
	ID         int64                 `json:"id"`
	Seq        int                   `json:"seq"`
	AccountID  int64                 `json:"account_id"`
	Debit      string                `json:"debit"`
	Credit     string                `json:"credit"`
	Memo       string                `json:"memo,omitempty"`
	Dimensions accounting.Dimensions `json:"dimensions"`
}

type entryView struct {
	ID           int64      `json:"id"`
	Number       string     `json:"number"`
	PeriodID     int64      `json:"period_id"`
	EntryDate    string     `json:"entry_date"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	Memo         string     `json:"memo,omitempty"`
	SourceSystem string     `json:"source_system,omitempty"`
	CreatedBy    string     `json:"created_by"`
	ApprovedBy   string     `json:"approved_by,omitempty"`
	PostedBy     string     `json:"posted_by,omitempty"`
	RejectReason string     `json:"reject_reason,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	ReversesID   *int64     `json:"reverses_id,omitempty"`
	ReversedByID *int64     `json:"reversed_by_id,omitempty"`
	PostedAt     *time.Time `json:"posted_at,omitempty"`
	TotalDebit   string     `json:"total_debit"`
	TotalCredit  string     `json:"total_credit"`
	Allowed      []Action   `json:"allowed_actions"`
	Lines        []lineView `json:"lines"`
}

func toView(e accounting.JournalEntry) entryView {
	debit, credit := e.Totals()
	v := entryView{
		ID:           e.ID,
		Number:       e.Number,
		PeriodID:     e.PeriodID,
		EntryDate:    e.EntryDate.Format("2006-01-02"),
		Type:         string(e.Type),
		Status:       string(e.Status),
		Memo:         e.Memo,
		SourceSystem: e.SourceSystem,
		CreatedBy:    e.CreatedBy,
		ApprovedBy:   e.ApprovedBy,
		PostedBy:     e.PostedBy,
		RejectReason: e.RejectReason,
		CancelReason: e.CancelReason,
		ReversesID:   e.ReversesID,
		ReversedByID: e.ReversedByID,
		PostedAt:     e.PostedAt,
		TotalDebit:   debit.StringFixed(2),
		TotalCredit:  credit.StringFixed(2),
		Allowed:      Allowed(e.Status),
		Lines:        make([]lineView, len(e.Lines)),
	}
	for i, l := range e.Lines {
		v.Lines[i] = lineView{
			ID:         l.ID,
			Seq:        l.Seq,
			AccountID:  l.AccountID,
			Debit:      l.Debit.StringFixed(2),
			Credit:     l.Credit.StringFixed(2),
			Memo:       l.Memo,
			Dimensions: l.Dimensions,
		}
	}
	return v
}

// List returns entries, optionally filtered by period and status.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := accounting.EntryFilter{Status: accounting.EntryStatus(r.URL.Query().Get("status"))}
	var err error
	if filter.Limit, err = httpx.QueryInt(r, "limit", 50); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Offset, err = httpx.QueryInt(r, "offset", 0); err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := httpx.QueryInt(r, "period_id", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.PeriodID = int64(period)
	entries, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list journals", err)
		return
	}
	out := make([]entryView, len(entries))
	for i, e := range entries {
		out[i] = toView(e)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

// Get returns a single entry.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get journal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(entry))
}

// Create stores a draft entry.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.Create(r.Context(), principal(r), in)
	if err != nil {
		h.fail(w, "create journal", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toView(entry))
}

// Amend replaces the lines of a draft or rejected entry.
func (h *Handler) Amend(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in AmendInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.Amend(r.Context(), principal(r), id, in)
	h.respond(w, "amend journal", entry, err)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// Transition handles the body-less workflow steps (submit, approve, post).
func (h *Handler) Transition(action Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		p := principal(r)
		var entry accounting.JournalEntry
		switch action {
		case ActionSubmit:
			entry, err = h.service.Submit(r.Context(), p, id)
		case ActionApprove:
			entry, err = h.service.Approve(r.Context(), p, id)
		case ActionPost:
			entry, err = h.service.Post(r.Context(), p, id)
		default:
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.respond(w, string(action)+" journal", entry, err)
	}
}

// Reject returns a pending entry with a reason.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in reasonRequest
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.Reject(r.Context(), principal(r), id, in.Reason)
	h.respond(w, "reject journal", entry, err)
}

// Cancel abandons an unposted entry.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in reasonRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	entry, err := h.service.Cancel(r.Context(), principal(r), id, in.Reason)
	h.respond(w, "cancel journal", entry, err)
}

// Reverse creates a reversing draft for a posted entry.
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in ReverseInput
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	entry, err := h.service.Reverse(r.Context(), principal(r), id, in)
	if err != nil {
		h.fail(w, "reverse journal", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toView(entry))
}

func (h *Handler) respond(w http.ResponseWriter, op string, entry accounting.JournalEntry, err error) {
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(entry))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func principal(r *http.Request) shared.Principal {
	p, _ := shared.PrincipalFromContext(r.Context())
	return p
}
