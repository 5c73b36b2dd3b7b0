package reports

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

// TrialBalanceAccount represents a row inside a trial balance group.
type TrialBalanceAccount struct {
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Active        bool            `json:"active"`
	Opening       decimal.Decimal `json:"opening"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	Closing       decimal.Decimal `json:"closing"`
	ClosingDebit  decimal.Decimal `json:"closing_debit"`
	ClosingCredit decimal.Decimal `json:"closing_credit"`
}

// TrialBalanceGroup aggregates accounts for presentation.
type TrialBalanceGroup struct {
	Key      string                `json:"key"`
	Name     string                `json:"name"`
	Accounts []TrialBalanceAccount `json:"accounts"`
	Opening  decimal.Decimal       `json:"opening"`
	Debit    decimal.Decimal       `json:"debit"`
	Credit   decimal.Decimal       `json:"credit"`
	Closing  decimal.Decimal       `json:"closing"`
}

// TrialBalance lists every account with its opening, movement and closing amounts.
type TrialBalance struct {
	Groups             []TrialBalanceGroup `json:"groups"`
	TotalOpening       decimal.Decimal     `json:"total_opening"`
	TotalDebit         decimal.Decimal     `json:"total_debit"`
	TotalCredit        decimal.Decimal     `json:"total_credit"`
	TotalClosing       decimal.Decimal     `json:"total_closing"`
	TotalClosingDebit  decimal.Decimal     `json:"total_closing_debit"`
	TotalClosingCredit decimal.Decimal     `json:"total_closing_credit"`
}

// BuildTrialBalance converts account balances into grouped trial balance data.
func BuildTrialBalance(accounts []AccountBalance) TrialBalance {
	groups := make(map[string]*TrialBalanceGroup)
	keys := make([]string, 0)
	for _, acc := range accounts {
		key := acc.GroupKey()
		grp, ok := groups[key]
		if !ok {
			grp = &TrialBalanceGroup{
				Key:     key,
				Name:    acc.Group.Name,
				Opening: decimal.Zero,
				Debit:   decimal.Zero,
				Credit:  decimal.Zero,
				Closing: decimal.Zero,
			}
			groups[key] = grp
			keys = append(keys, key)
		}
		closing := acc.Closing()
		row := TrialBalanceAccount{
			Code:          acc.Account.Code,
			Name:          acc.Account.Name,
			Active:        acc.Account.Active,
			Opening:       acc.Opening,
			Debit:         acc.Debit,
			Credit:        acc.Credit,
			Closing:       closing,
			ClosingDebit:  decimal.Zero,
			ClosingCredit: decimal.Zero,
		}
		if closing.IsPositive() {
			row.ClosingDebit = closing
		} else {
			row.ClosingCredit = closing.Neg()
		}
		grp.Accounts = append(grp.Accounts, row)
		grp.Opening = grp.Opening.Add(row.Opening)
		grp.Debit = grp.Debit.Add(row.Debit)
		grp.Credit = grp.Credit.Add(row.Credit)
		grp.Closing = grp.Closing.Add(row.Closing)
	}

	sort.Strings(keys)
	result := TrialBalance{
		TotalOpening:       decimal.Zero,
		TotalDebit:         decimal.Zero,
		TotalCredit:        decimal.Zero,
		TotalClosing:       decimal.Zero,
		TotalClosingDebit:  decimal.Zero,
		TotalClosingCredit: decimal.Zero,
	}
	for _, key := range keys {
		grp := groups[key]
		sort.Slice(grp.Accounts, func(i, j int) bool {
			return grp.Accounts[i].Code < grp.Accounts[j].Code
		})
		result.Groups = append(result.Groups, *grp)
		result.TotalOpening = result.TotalOpening.Add(grp.Opening)
		result.TotalDebit = result.TotalDebit.Add(grp.Debit)
		result.TotalCredit = result.TotalCredit.Add(grp.Credit)
		result.TotalClosing = result.TotalClosing.Add(grp.Closing)
		for _, row := range grp.Accounts {
			result.TotalClosingDebit = result.TotalClosingDebit.Add(row.ClosingDebit)
			result.TotalClosingCredit = result.TotalClosingCredit.Add(row.ClosingCredit)
		}
	}
	return result
}

// Check verifies total debits equal total credits and the closing column nets to zero.
func (tb TrialBalance) Check(periodID int64) error {
	if !tb.TotalDebit.Equal(tb.TotalCredit) {
		return &accounting.InvariantViolationError{
			Check:    "trial_balance",
			PeriodID: periodID,
			Expected: tb.TotalDebit,
			Actual:   tb.TotalCredit,
			Detail:   "total debits differ from total credits",
		}
	}
	if !tb.TotalClosing.IsZero() {
		return &accounting.InvariantViolationError{
			Check:    "trial_balance_closing",
			PeriodID: periodID,
			Expected: decimal.Zero,
			Actual:   tb.TotalClosing,
			Detail:   "closing balances do not net to zero",
		}
	}
	return nil
}
