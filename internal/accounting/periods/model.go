package periods

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

// DefaultNetAssetsAccount receives the period surplus or deficit at close.
const DefaultNetAssetsAccount = "3100"

// CreateInput describes a new fiscal period.
type CreateInput struct {
	FiscalYear string                  `json:"fiscal_year"`
	Code       string                  `json:"code" validate:"required"`
	StartDate  time.Time               `json:"start_date" validate:"required"`
	EndDate    time.Time               `json:"end_date" validate:"required"`
	Status     accounting.PeriodStatus `json:"status" validate:"omitempty,oneof=future open"`
}

// Validate ensures the period window is coherent.
func (in CreateInput) Validate() error {
	if in.Code == "" {
		return accounting.Invalid(accounting.EntityPeriod, "", "code", "required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return accounting.Invalid(accounting.EntityPeriod, in.Code, "start_date", "start and end dates required")
	}
	if in.EndDate.Before(in.StartDate) {
		return accounting.Invalid(accounting.EntityPeriod, in.Code, "end_date", "ends before it starts")
	}
	if in.Status != "" && in.Status != accounting.PeriodFuture && in.Status != accounting.PeriodOpen {
		return accounting.Invalid(accounting.EntityPeriod, in.Code, "status", "new periods are future or open")
	}
	return nil
}

// CloseResult summarises a close and its roll-forward.
type CloseResult struct {
	Closed      accounting.Period
	Next        accounting.Period
	NextCreated bool
	// Carried counts the balance rows written as next-period openings.
	Carried int
	// Surplus is the revenue less expenses moved into net assets (credit-positive).
	Surplus decimal.Decimal
}

// successor computes the window following p. Calendar-month periods roll to the
// next calendar month; other periods keep their length in days.
func successor(p accounting.Period) accounting.Period {
	start, end := p.StartDate, p.EndDate
	var next accounting.Period
	if start.Day() == 1 && end.Equal(start.AddDate(0, 1, -1)) {
		next.StartDate = start.AddDate(0, 1, 0)
		next.EndDate = next.StartDate.AddDate(0, 1, -1)
		next.Code = next.StartDate.Format("2006-01")
	} else {
		days := int(end.Sub(start).Hours() / 24)
		next.StartDate = end.AddDate(0, 0, 1)
		next.EndDate = next.StartDate.AddDate(0, 0, days)
		next.Code = next.StartDate.Format("2006-01-02")
	}
	next.FiscalYear = next.StartDate.Format("2006")
	next.Status = accounting.PeriodFuture
	return next
}
