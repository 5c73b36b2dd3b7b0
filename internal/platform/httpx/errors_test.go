package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

func TestRespondErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"malformed", fmt.Errorf("%w: bad json", ErrMalformed), http.StatusBadRequest, ""},
		{"unbalanced", &accounting.UnbalancedEntryError{EntryID: 1, Debit: decimal.RequireFromString("100"), Credit: decimal.RequireFromString("99.99")}, http.StatusUnprocessableEntity, "urn:ledger:unbalanced-entry"},
		{"validation", accounting.Invalid(accounting.EntityJournalEntry, "1", "lines", "too few"), http.StatusUnprocessableEntity, "urn:ledger:validation"},
		{"not found", accounting.NotFound(accounting.EntityPeriod, "9"), http.StatusNotFound, ""},
		{"unauthorized", &accounting.AuthorizationError{Principal: "clerk", Action: "approve"}, http.StatusForbidden, "urn:ledger:unauthorized"},
		{"transition", &accounting.StateTransitionError{EntryID: 1, From: accounting.StatusDraft, Action: "post"}, http.StatusConflict, "urn:ledger:state-transition"},
		{"not ready", &accounting.PeriodNotReadyError{PeriodID: 1, Open: map[accounting.EntryStatus]int{accounting.StatusPending: 2}}, http.StatusConflict, "urn:ledger:period-not-ready"},
		{"halted", &accounting.PeriodHaltedError{PeriodID: 1, Reason: "replay"}, http.StatusConflict, "urn:ledger:period-halted"},
		{"invariant", &accounting.InvariantViolationError{Check: "period_zero_sum", PeriodID: 1}, http.StatusInternalServerError, "urn:ledger:invariant-violation"},
		{"transient", &accounting.TransientError{Op: "post", Err: context.DeadlineExceeded}, http.StatusServiceUnavailable, "urn:ledger:transient"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tc.err)
			require.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

			var body ProblemDetail
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.status, body.Status)
			assert.Equal(t, tc.typ, body.Type)
		})
	}
}

func TestRespondErrorExtensions(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, &accounting.UnbalancedEntryError{Debit: decimal.RequireFromString("100"), Credit: decimal.RequireFromString("99.99")})
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "100.00", body.Extensions["debit"])
	assert.Equal(t, "99.99", body.Extensions["credit"])

	rec = httptest.NewRecorder()
	RespondError(rec, &accounting.TransientError{Op: "post", Err: errors.New("serialization failure")})
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	RespondError(rec, errors.New("database password is hunter2"))
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

type createRequest struct {
	Name string `json:"name" validate:"required"`
}

func TestDecodeJSON(t *testing.T) {
	var in createRequest
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"rates"}`))
	require.NoError(t, DecodeJSON(req, &in))
	assert.Equal(t, "rates", in.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"rates","extra":1}`))
	require.ErrorIs(t, DecodeJSON(req, &in), ErrMalformed)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	require.ErrorIs(t, DecodeJSON(req, &createRequest{}), ErrMalformed)
}

func TestIDParam(t *testing.T) {
	r := chi.NewRouter()
	var got int64
	var gotErr error
	r.Get("/entries/{id}", func(w http.ResponseWriter, req *http.Request) {
		got, gotErr = IDParam(req, "id")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/entries/42", nil))
	require.NoError(t, gotErr)
	assert.Equal(t, int64(42), got)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/entries/-3", nil))
	require.ErrorIs(t, gotErr, ErrMalformed)
}
