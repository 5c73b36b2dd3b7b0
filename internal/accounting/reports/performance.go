package reports

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

// Performance is the statement of financial performance.
type Performance struct {
	Revenue  Section `json:"revenue"`
	Expenses Section `json:"expenses"`
	Surplus  Figure  `json:"surplus"`
}

// BuildPerformance aggregates period movements into revenue and expense sections.
func BuildPerformance(l *Ledger) Performance {
	return buildPerformance(l.Rows(), priorRows(l))
}

func buildPerformance(cur, prior []AccountBalance) Performance {
	movement := func(r AccountBalance) decimal.Decimal { return r.PresentedMovement() }
	p := Performance{
		Revenue:  buildSection("Revenue", cur, prior, inCategory(accounting.CategoryRevenue), movement),
		Expenses: buildSection("Expenses", cur, prior, inCategory(accounting.CategoryExpenses), movement),
	}
	p.Surplus = p.Revenue.Total.Sub(p.Expenses.Total)
	return p
}
