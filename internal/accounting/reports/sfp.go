package reports

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

// SurplusLineCode identifies the synthetic net-assets line carrying the
// unclosed surplus or deficit of the period.
const SurplusLineCode = "surplus"

// FinancialPosition is the statement of financial position.
type FinancialPosition struct {
	CurrentAssets         Section `json:"current_assets"`
	NonCurrentAssets      Section `json:"non_current_assets"`
	CurrentLiabilities    Section `json:"current_liabilities"`
	NonCurrentLiabilities Section `json:"non_current_liabilities"`
	NetAssets             Section `json:"net_assets"`
	TotalAssets           Figure  `json:"total_assets"`
	TotalLiabilities      Figure  `json:"total_liabilities"`
	TotalNetAssets        Figure  `json:"total_net_assets"`
	WorkingCapital        Figure  `json:"working_capital"`
}

// BuildFinancialPosition classifies closing balances into the IPSAS sections.
// Net assets include the surplus of revenue and expense accounts that have
// not yet been rolled into accumulated surplus.
func BuildFinancialPosition(l *Ledger) FinancialPosition {
	cur, prior := l.Rows(), priorRows(l)
	presented := func(r AccountBalance) decimal.Decimal { return r.Presented() }
	isCurrent := func(c accounting.Category, current bool) func(AccountBalance) bool {
		return func(r AccountBalance) bool { return r.Account.Category == c && r.Group.Current == current }
	}

	sfp := FinancialPosition{
		CurrentAssets:         buildSection("Current assets", cur, prior, isCurrent(accounting.CategoryAssets, true), presented),
		NonCurrentAssets:      buildSection("Non-current assets", cur, prior, isCurrent(accounting.CategoryAssets, false), presented),
		CurrentLiabilities:    buildSection("Current liabilities", cur, prior, isCurrent(accounting.CategoryLiabilities, true), presented),
		NonCurrentLiabilities: buildSection("Non-current liabilities", cur, prior, isCurrent(accounting.CategoryLiabilities, false), presented),
		NetAssets:             buildSection("Net assets/equity", cur, prior, inCategory(accounting.CategoryEquity), presented),
	}

	surplus := Figure{Current: unclosedSurplus(cur), Prior: unclosedSurplus(prior)}
	sfp.NetAssets.Lines = append(sfp.NetAssets.Lines, StatementLine{
		Code:   SurplusLineCode,
		Name:   "Surplus (deficit) for the period",
		Amount: surplus,
	})
	sfp.NetAssets.Total = sfp.NetAssets.Total.Add(surplus)

	sfp.TotalAssets = sfp.CurrentAssets.Total.Add(sfp.NonCurrentAssets.Total)
	sfp.TotalLiabilities = sfp.CurrentLiabilities.Total.Add(sfp.NonCurrentLiabilities.Total)
	sfp.TotalNetAssets = sfp.NetAssets.Total
	sfp.WorkingCapital = sfp.CurrentAssets.Total.Sub(sfp.CurrentLiabilities.Total)
	return sfp
}

// unclosedSurplus is the credit-positive closing of revenue and expense accounts.
func unclosedSurplus(rows []AccountBalance) decimal.Decimal {
	temporary := sumWhere(rows, func(r AccountBalance) bool { return !r.Account.Category.Permanent() },
		func(r AccountBalance) decimal.Decimal { return r.Closing() })
	return temporary.Neg()
}

// Check verifies assets equal liabilities plus net assets.
func (s FinancialPosition) Check(periodID int64) error {
	rhs := s.TotalLiabilities.Current.Add(s.TotalNetAssets.Current)
	if !s.TotalAssets.Current.Equal(rhs) {
		return &accounting.InvariantViolationError{
			Check:    "sfp_balance",
			PeriodID: periodID,
			Expected: s.TotalAssets.Current,
			Actual:   rhs,
			Detail:   "assets differ from liabilities plus net assets",
		}
	}
	return nil
}
