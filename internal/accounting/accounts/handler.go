package accounts

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/ipsas-ledger/internal/shared"
)

// Handler exposes the chart of accounts over HTTP.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs the chart of accounts HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

type accountView struct {
	ID         int64  `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	TypeCode   string `json:"type_code"`
	GroupCode  string `json:"group_code"`
	Category   string `json:"category"`
	NormalSide string `json:"normal_side"`
	Cash       bool   `json:"cash"`
	Active     bool   `json:"active"`
}

func toView(a accounting.Account) accountView {
	return accountView{
		ID:         a.ID,
		Code:       a.Code,
		Name:       a.Name,
		TypeCode:   a.TypeCode,
		GroupCode:  a.GroupCode,
		Category:   string(a.Category),
		NormalSide: string(a.NormalSide),
		Cash:       a.Cash,
		Active:     a.Active,
	}
}

// List returns accounts filtered by ?category=&active=&cash=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := accounting.AccountFilter{Category: accounting.Category(q.Get("category"))}
	filter.ActiveOnly, _ = strconv.ParseBool(q.Get("active"))
	filter.CashOnly, _ = strconv.ParseBool(q.Get("cash"))
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list accounts", err)
		return
	}
	out := make([]accountView, len(list))
	for i, a := range list {
		out[i] = toView(a)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": out})
}

// Chart returns the full category, group, type and account tree.
func (h *Handler) Chart(w http.ResponseWriter, r *http.Request) {
	chart, err := h.service.Chart(r.Context())
	if err != nil {
		h.fail(w, "chart of accounts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, chart)
}

// Get returns an account by id.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(a))
}

// CreateGroup adds a chart group.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var in GroupInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	g, err := h.service.CreateGroup(r.Context(), principal(r), in)
	if err != nil {
		h.fail(w, "create group", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, g)
}

// CreateType adds an account type.
func (h *Handler) CreateType(w http.ResponseWriter, r *http.Request) {
	var in TypeInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.CreateType(r.Context(), principal(r), in)
	if err != nil {
		h.fail(w, "create type", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

// Create adds a postable account.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in AccountInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	a, err := h.service.CreateAccount(r.Context(), principal(r), in)
	if err != nil {
		h.fail(w, "create account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toView(a))
}

// SetActive returns a handler that activates or deactivates the account.
func (h *Handler) SetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var a accounting.Account
		if active {
			a, err = h.service.Activate(r.Context(), principal(r), id)
		} else {
			a, err = h.service.Deactivate(r.Context(), principal(r), id)
		}
		if err != nil {
			h.fail(w, "set account status", err)
			return
		}
		httpx.JSON(w, http.StatusOK, toView(a))
	}
}

type mappingRequest struct {
	System       string `json:"system" validate:"required"`
	ExternalCode string `json:"external_code" validate:"required"`
}

// Map links an external system code to the account.
func (h *Handler) Map(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in mappingRequest
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.service.MapExternal(r.Context(), principal(r), MappingInput{AccountID: id, System: in.System, ExternalCode: in.ExternalCode})
	if err != nil {
		h.fail(w, "map account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"account_id":    m.AccountID,
		"system":        m.System,
		"external_code": m.ExternalCode,
	})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func principal(r *http.Request) shared.Principal {
	p, _ := shared.PrincipalFromContext(r.Context())
	return p
}
