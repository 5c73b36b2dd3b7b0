package accounting

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Sentinels matched through errors.Is by the typed errors below.
var (
	ErrValidation         = errors.New("accounting: validation failed")
	ErrUnbalanced         = errors.New("accounting: journal lines must balance")
	ErrUnauthorized       = errors.New("accounting: not authorized")
	ErrStateTransition    = errors.New("accounting: invalid status transition")
	ErrPeriodNotReady     = errors.New("accounting: period not ready to close")
	ErrInvariantViolation = errors.New("accounting: ledger invariant violated")
	ErrNotFound           = errors.New("accounting: not found")
	ErrPeriodHalted       = errors.New("accounting: period halted")
	ErrTransient          = errors.New("accounting: transient failure")
)

// ValidationError reports malformed or out-of-policy input.
type ValidationError struct {
	Entity string
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("accounting: invalid ")
	b.WriteString(e.Entity)
	if e.ID != "" {
		b.WriteString(" " + e.ID)
	}
	if e.Field != "" {
		b.WriteString(" field " + e.Field)
	}
	b.WriteString(": " + e.Reason)
	return b.String()
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(entity, id, field, reason string) *ValidationError {
	return &ValidationError{Entity: entity, ID: id, Field: field, Reason: reason}
}

// UnbalancedEntryError reports a debit/credit mismatch.
type UnbalancedEntryError struct {
	EntryID int64
	Debit   decimal.Decimal
	Credit  decimal.Decimal
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("accounting: entry %d unbalanced: debit %s, credit %s",
		e.EntryID, e.Debit.StringFixed(2), e.Credit.StringFixed(2))
}

func (e *UnbalancedEntryError) Is(target error) bool { return target == ErrUnbalanced }

// AuthorizationError reports a capability or self-approval violation.
type AuthorizationError struct {
	Principal string
	Action    string
	Required  string
	Reason    string
}

func (e *AuthorizationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("accounting: principal %q may not %s: %s", e.Principal, e.Action, e.Reason)
	}
	return fmt.Sprintf("accounting: principal %q may not %s: requires %s", e.Principal, e.Action, e.Required)
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrUnauthorized }

// StateTransitionError reports an action that is illegal from the current status.
type StateTransitionError struct {
	EntryID int64
	From    EntryStatus
	Action  string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("accounting: entry %d cannot %s from status %s", e.EntryID, e.Action, e.From)
}

func (e *StateTransitionError) Is(target error) bool { return target == ErrStateTransition }

// PeriodNotReadyError reports non-terminal entries blocking a close.
type PeriodNotReadyError struct {
	PeriodID int64
	Open     map[EntryStatus]int
}

func (e *PeriodNotReadyError) Error() string {
	statuses := make([]string, 0, len(e.Open))
	for status, n := range e.Open {
		statuses = append(statuses, fmt.Sprintf("%s=%d", status, n))
	}
	sort.Strings(statuses)
	return fmt.Sprintf("accounting: period %d has non-terminal entries (%s)", e.PeriodID, strings.Join(statuses, ", "))
}

func (e *PeriodNotReadyError) Is(target error) bool { return target == ErrPeriodNotReady }

// InvariantViolationError reports an internal ledger defect. It is never retried.
type InvariantViolationError struct {
	Check    string
	PeriodID int64
	EntryID  int64
	Expected decimal.Decimal
	Actual   decimal.Decimal
	Detail   string
}

func (e *InvariantViolationError) Error() string {
	msg := fmt.Sprintf("accounting: invariant %s violated in period %d: expected %s, got %s",
		e.Check, e.PeriodID, e.Expected.StringFixed(2), e.Actual.StringFixed(2))
	if e.EntryID != 0 {
		msg += fmt.Sprintf(" (entry %d)", e.EntryID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *InvariantViolationError) Is(target error) bool { return target == ErrInvariantViolation }

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("accounting: %s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// PeriodHaltedError reports a period frozen after an invariant violation.
type PeriodHaltedError struct {
	PeriodID int64
	Reason   string
}

func (e *PeriodHaltedError) Error() string {
	return fmt.Sprintf("accounting: period %d halted: %s", e.PeriodID, e.Reason)
}

func (e *PeriodHaltedError) Is(target error) bool { return target == ErrPeriodHalted }

// TransientError wraps retryable persistence contention and statement timeouts.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("accounting: %s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// IsRetryable reports whether err may be retried safely by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) && !errors.Is(err, ErrInvariantViolation)
}
