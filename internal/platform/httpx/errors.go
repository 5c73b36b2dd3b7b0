// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

// ErrMalformed marks request bodies or parameters that could not be decoded.
var ErrMalformed = errors.New("malformed request")

// RespondError maps ledger errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var (
		unbalanced *accounting.UnbalancedEntryError
		notReady   *accounting.PeriodNotReadyError
		violation  *accounting.InvariantViolationError
	)
	switch {
	case errors.Is(err, ErrMalformed):
		Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
	case errors.As(err, &unbalanced):
		WriteProblem(w, ProblemDetail{
			Type:   "urn:ledger:unbalanced-entry",
			Title:  "Unbalanced Entry",
			Status: http.StatusUnprocessableEntity,
			Detail: err.Error(),
			Extensions: map[string]any{
				"debit":  unbalanced.Debit.StringFixed(2),
				"credit": unbalanced.Credit.StringFixed(2),
			},
		})
	case errors.Is(err, accounting.ErrValidation):
		ProblemType(w, http.StatusUnprocessableEntity, "urn:ledger:validation", "Validation Failed", err.Error())
	case errors.Is(err, accounting.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, accounting.ErrUnauthorized):
		ProblemType(w, http.StatusForbidden, "urn:ledger:unauthorized", "Forbidden", err.Error())
	case errors.Is(err, accounting.ErrStateTransition):
		ProblemType(w, http.StatusConflict, "urn:ledger:state-transition", "Invalid Transition", err.Error())
	case errors.As(err, &notReady):
		open := make(map[string]int, len(notReady.Open))
		for status, n := range notReady.Open {
			open[string(status)] = n
		}
		WriteProblem(w, ProblemDetail{
			Type:       "urn:ledger:period-not-ready",
			Title:      "Period Not Ready",
			Status:     http.StatusConflict,
			Detail:     err.Error(),
			Extensions: map[string]any{"open_entries": open},
		})
	case errors.Is(err, accounting.ErrPeriodHalted):
		ProblemType(w, http.StatusConflict, "urn:ledger:period-halted", "Period Halted", err.Error())
	case errors.As(err, &violation):
		WriteProblem(w, ProblemDetail{
			Type:   "urn:ledger:invariant-violation",
			Title:  "Ledger Invariant Violated",
			Status: http.StatusInternalServerError,
			Detail: err.Error(),
			Extensions: map[string]any{
				"check":     violation.Check,
				"period_id": violation.PeriodID,
			},
		})
	case errors.Is(err, accounting.ErrTransient):
		w.Header().Set("Retry-After", "1")
		ProblemType(w, http.StatusServiceUnavailable, "urn:ledger:transient", "Try Again", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
