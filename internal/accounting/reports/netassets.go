package reports

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

// NetAssetsChanges is the statement of changes in net assets/equity.
type NetAssetsChanges struct {
	Opening     decimal.Decimal `json:"opening"`
	Surplus     decimal.Decimal `json:"surplus"`
	Adjustments Section         `json:"adjustments"`
	Closing     decimal.Decimal `json:"closing"`
}

// BuildNetAssetsChanges reconciles opening net assets to closing through the
// period surplus and direct movements on net-asset accounts.
func BuildNetAssetsChanges(l *Ledger) NetAssetsChanges {
	rows := l.Rows()
	opening := sumWhere(rows, func(r AccountBalance) bool {
		return r.Account.Category == accounting.CategoryAssets || r.Account.Category == accounting.CategoryLiabilities
	}, func(r AccountBalance) decimal.Decimal { return r.Opening })
	surplus := sumWhere(rows, func(r AccountBalance) bool { return !r.Account.Category.Permanent() },
		func(r AccountBalance) decimal.Decimal { return r.Movement() }).Neg()
	adjustments := buildSection("Direct net asset movements", rows, nil, func(r AccountBalance) bool {
		return r.Account.Category == accounting.CategoryEquity && !r.Movement().IsZero()
	}, func(r AccountBalance) decimal.Decimal { return r.PresentedMovement() })

	return NetAssetsChanges{
		Opening:     opening,
		Surplus:     surplus,
		Adjustments: adjustments,
		Closing:     opening.Add(surplus).Add(adjustments.Total.Current),
	}
}

// Check verifies the closing figure agrees with net assets on the statement of
// financial position.
func (n NetAssetsChanges) Check(periodID int64, sfp FinancialPosition) error {
	if !n.Closing.Equal(sfp.TotalNetAssets.Current) {
		return &accounting.InvariantViolationError{
			Check:    "scna_sfp",
			PeriodID: periodID,
			Expected: sfp.TotalNetAssets.Current,
			Actual:   n.Closing,
			Detail:   "closing net assets differ from the statement of financial position",
		}
	}
	return nil
}
