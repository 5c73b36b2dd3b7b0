package journals

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

// maxScale is the number of decimal places a ledger amount may carry. Amounts with
// more places are rejected rather than rounded.
const maxScale = 2

// LineInput describes a journal line in a create or amend request.
type LineInput struct {
	AccountID  int64                 `json:"account_id" validate:"required"`
	Debit      decimal.Decimal       `json:"debit"`
	Credit     decimal.Decimal       `json:"credit"`
	Memo       string                `json:"memo"`
	Dimensions accounting.Dimensions `json:"dimensions"`
}

// CreateInput groups fields required to create a draft entry.
type CreateInput struct {
	PeriodID     int64                `json:"period_id" validate:"required"`
	EntryDate    time.Time            `json:"entry_date" validate:"required"`
	Type         accounting.EntryType `json:"type" validate:"omitempty,oneof=regular adjusting closing reversing"`
	Memo         string               `json:"memo"`
	SourceSystem string               `json:"source_system"`
	BatchID      uuid.UUID            `json:"batch_id"`
	Lines        []LineInput          `json:"lines" validate:"dive"`
}

// AmendInput replaces the lines (and optionally the memo) of a draft or rejected entry.
type AmendInput struct {
	Memo  *string     `json:"memo"`
	Lines []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// ReverseInput requests a reversing draft for a posted entry.
type ReverseInput struct {
	Memo string `json:"memo"`
}

// validateLines checks the shape of each line. Balance is checked on submission.
func validateLines(entity string, lines []LineInput) error {
	if len(lines) == 0 {
		return accounting.Invalid(accounting.EntityJournalEntry, entity, "lines", "at least one line required")
	}
	for idx, line := range lines {
		field := fmt.Sprintf("lines[%d]", idx)
		if line.AccountID == 0 {
			return accounting.Invalid(accounting.EntityJournalEntry, entity, field+".account_id", "required")
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return accounting.Invalid(accounting.EntityJournalEntry, entity, field, "negative amount")
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return accounting.Invalid(accounting.EntityJournalEntry, entity, field, "exactly one of debit or credit must be positive")
		}
		if !line.Debit.Equal(line.Debit.Truncate(maxScale)) || !line.Credit.Equal(line.Credit.Truncate(maxScale)) {
			return accounting.Invalid(accounting.EntityJournalEntry, entity, field, "amount has more than 2 decimal places")
		}
		if cf := line.Dimensions.CashFlow; cf != "" && !cf.Valid() {
			return accounting.Invalid(accounting.EntityJournalEntry, entity, field+".dimensions.cash_flow", "unknown activity "+string(cf))
		}
	}
	return nil
}

func toLines(in []LineInput) []accounting.Line {
	out := make([]accounting.Line, len(in))
	for i, l := range in {
		out[i] = accounting.Line{
			AccountID:  l.AccountID,
			Debit:      l.Debit,
			Credit:     l.Credit,
			Memo:       l.Memo,
			Dimensions: l.Dimensions,
		}
	}
	return out
}

// Validate ensures the create input meets minimum criteria.
func (in CreateInput) Validate() error {
	if in.PeriodID == 0 {
		return accounting.Invalid(accounting.EntityJournalEntry, "", "period_id", "required")
	}
	if in.EntryDate.IsZero() {
		return accounting.Invalid(accounting.EntityJournalEntry, "", "entry_date", "required")
	}
	if in.Type != "" && !in.Type.Valid() {
		return accounting.Invalid(accounting.EntityJournalEntry, "", "type", "unknown entry type "+string(in.Type))
	}
	return validateLines("", in.Lines)
}

// reverseLines swaps debit and credit on every line.
func reverseLines(lines []accounting.Line) []accounting.Line {
	out := make([]accounting.Line, len(lines))
	for i, l := range lines {
		out[i] = accounting.Line{
			AccountID:  l.AccountID,
			Debit:      l.Credit,
			Credit:     l.Debit,
			Memo:       l.Memo,
			Dimensions: l.Dimensions,
		}
	}
	return out
}

func defaultReversalMemo(number string) string {
	return "Reversal of " + number
}

// Entry numbers read JE{YYYY}{MM}{NNNN}.
func entryPrefix(date time.Time) string {
	return fmt.Sprintf("JE%04d%02d", date.Year(), int(date.Month()))
}

func entryNumber(prefix string, seq int) string {
	return fmt.Sprintf("%s%04d", prefix, seq)
}
