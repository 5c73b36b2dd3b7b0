package reports

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

// CashFlowSection totals cash movements for one activity.
type CashFlowSection struct {
	Activity accounting.CashFlowActivity `json:"activity"`
	Inflows  decimal.Decimal             `json:"inflows"`
	Outflows decimal.Decimal             `json:"outflows"`
	Net      decimal.Decimal             `json:"net"`
}

// CashFlowWarning flags a cash line left out of the classified sections.
type CashFlowWarning struct {
	EntryNumber string          `json:"entry_number"`
	Seq         int             `json:"seq"`
	AccountCode string          `json:"account_code"`
	Amount      decimal.Decimal `json:"amount"`
	Message     string          `json:"message"`
}

// CashFlows is the statement of cash flows.
type CashFlows struct {
	Sections  []CashFlowSection `json:"sections"`
	NetChange decimal.Decimal   `json:"net_change"`
	Excluded  decimal.Decimal   `json:"excluded"`
	Beginning decimal.Decimal   `json:"beginning"`
	Ending    decimal.Decimal   `json:"ending"`
	Warnings  []CashFlowWarning `json:"warnings"`
}

// BuildCashFlows classifies posted lines on cash accounts by their cash_flow
// tag. Beginning and ending cash come from the cash account balances.
func BuildCashFlows(l *Ledger) CashFlows {
	rows := l.Rows()
	isCash := func(r AccountBalance) bool { return r.Account.Cash }
	beginning := sumWhere(rows, isCash, func(r AccountBalance) decimal.Decimal { return r.Opening })
	ending := sumWhere(rows, isCash, func(r AccountBalance) decimal.Decimal { return r.Closing() })
	return buildCashFlows(l.accountIndex(), l.Lines, beginning, ending)
}

func buildCashFlows(accounts map[int64]accounting.Account, lines []accounting.PostedLine, beginning, ending decimal.Decimal) CashFlows {
	cf := CashFlows{
		NetChange: decimal.Zero,
		Excluded:  decimal.Zero,
		Beginning: beginning,
		Ending:    ending,
		Warnings:  []CashFlowWarning{},
	}
	sections := make(map[accounting.CashFlowActivity]*CashFlowSection, len(accounting.CashFlowActivities))
	for _, a := range accounting.CashFlowActivities {
		sections[a] = &CashFlowSection{Activity: a, Inflows: decimal.Zero, Outflows: decimal.Zero, Net: decimal.Zero}
	}
	for _, line := range lines {
		acc, ok := accounts[line.AccountID]
		if !ok || !acc.Cash {
			continue
		}
		amount := line.Amount()
		sec, ok := sections[line.Dimensions.CashFlow]
		if !ok {
			cf.Excluded = cf.Excluded.Add(amount)
			cf.Warnings = append(cf.Warnings, CashFlowWarning{
				EntryNumber: line.EntryNumber,
				Seq:         line.Seq,
				AccountCode: acc.Code,
				Amount:      amount,
				Message:     "cash line has no cash_flow classification",
			})
			continue
		}
		if amount.IsPositive() {
			sec.Inflows = sec.Inflows.Add(amount)
		} else {
			sec.Outflows = sec.Outflows.Add(amount.Neg())
		}
		sec.Net = sec.Net.Add(amount)
		cf.NetChange = cf.NetChange.Add(amount)
	}
	for _, a := range accounting.CashFlowActivities {
		cf.Sections = append(cf.Sections, *sections[a])
	}
	return cf
}

// Section returns the totals for activity a.
func (c CashFlows) Section(a accounting.CashFlowActivity) CashFlowSection {
	for _, s := range c.Sections {
		if s.Activity == a {
			return s
		}
	}
	return CashFlowSection{Activity: a, Inflows: decimal.Zero, Outflows: decimal.Zero, Net: decimal.Zero}
}

// Check verifies beginning cash plus classified and excluded movements equals ending cash.
func (c CashFlows) Check(periodID int64) error {
	got := c.Beginning.Add(c.NetChange).Add(c.Excluded)
	if !got.Equal(c.Ending) {
		return &accounting.InvariantViolationError{
			Check:    "cash_flow",
			PeriodID: periodID,
			Expected: c.Ending,
			Actual:   got,
			Detail:   "cash movements do not reconcile to ending cash",
		}
	}
	return nil
}
