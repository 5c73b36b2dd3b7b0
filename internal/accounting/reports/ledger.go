// Package reports derives the trial balance and the IPSAS statements from
// posted ledger state. Builders are pure functions of a Ledger value.
package reports

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

// Unassigned labels lines without a tag for the requested dimension.
const Unassigned = "unassigned"

// Ledger is the posted state of one period as read from a snapshot.
type Ledger struct {
	Period   accounting.Period
	Accounts []accounting.Account
	Groups   []accounting.Group
	Balances []accounting.PostedBalance
	Lines    []accounting.PostedLine
	// Prior is the preceding period, when one exists. It feeds comparatives.
	Prior *Ledger
}

// AccountBalance models a general ledger account with aggregated balances.
type AccountBalance struct {
	Account accounting.Account
	Group   accounting.Group
	Opening decimal.Decimal
	Debit   decimal.Decimal
	Credit  decimal.Decimal
}

// Closing computes the debit-positive closing balance for the account.
func (a AccountBalance) Closing() decimal.Decimal {
	return a.Opening.Add(a.Debit).Sub(a.Credit)
}

// Movement is the period activity, debit-positive.
func (a AccountBalance) Movement() decimal.Decimal {
	return a.Debit.Sub(a.Credit)
}

// Presented is the closing balance signed for its category: assets and
// expenses debit-positive, the rest credit-positive. Contra accounts come out
// negative inside their section.
func (a AccountBalance) Presented() decimal.Decimal {
	return a.Account.Category.DefaultNormalSide().Natural(a.Closing())
}

// PresentedMovement is Movement signed the same way as Presented.
func (a AccountBalance) PresentedMovement() decimal.Decimal {
	return a.Account.Category.DefaultNormalSide().Natural(a.Movement())
}

// GroupKey returns a key used for grouping trial balance rows.
func (a AccountBalance) GroupKey() string {
	if a.Group.Code != "" {
		return a.Group.Code
	}
	return a.Account.GroupCode
}

func (a AccountBalance) active() bool {
	return !a.Opening.IsZero() || !a.Debit.IsZero() || !a.Credit.IsZero()
}

func (l *Ledger) groupIndex() map[string]accounting.Group {
	out := make(map[string]accounting.Group, len(l.Groups))
	for _, g := range l.Groups {
		out[g.Code] = g
	}
	return out
}

func (l *Ledger) accountIndex() map[int64]accounting.Account {
	out := make(map[int64]accounting.Account, len(l.Accounts))
	for _, a := range l.Accounts {
		out[a.ID] = a
	}
	return out
}

// Rows returns one AccountBalance per active account plus every inactive
// account that carries a balance or activity, ordered by code.
func (l *Ledger) Rows() []AccountBalance {
	balances := make(map[int64]accounting.PostedBalance, len(l.Balances))
	for _, b := range l.Balances {
		balances[b.AccountID] = b
	}
	return l.rows(func(a accounting.Account) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
		b, ok := balances[a.ID]
		if !ok {
			return decimal.Zero, decimal.Zero, decimal.Zero
		}
		return b.Opening, b.Debit, b.Credit
	})
}

// SegmentRows returns movement-only rows rebuilt from the posted lines tagged
// with value for dim. Opening balances carry no dimensions and are zero.
func (l *Ledger) SegmentRows(dim accounting.Dimension, value string) []AccountBalance {
	type totals struct{ debit, credit decimal.Decimal }
	sums := make(map[int64]totals)
	for _, line := range l.SegmentLines(dim, value) {
		t, ok := sums[line.AccountID]
		if !ok {
			t = totals{debit: decimal.Zero, credit: decimal.Zero}
		}
		t.debit = t.debit.Add(line.Debit)
		t.credit = t.credit.Add(line.Credit)
		sums[line.AccountID] = t
	}
	return l.rows(func(a accounting.Account) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
		t, ok := sums[a.ID]
		if !ok {
			return decimal.Zero, decimal.Zero, decimal.Zero
		}
		return decimal.Zero, t.debit, t.credit
	})
}

// SegmentLines returns the posted lines whose dim tag equals value. The value
// Unassigned selects lines with an empty tag.
func (l *Ledger) SegmentLines(dim accounting.Dimension, value string) []accounting.PostedLine {
	var out []accounting.PostedLine
	for _, line := range l.Lines {
		if tagOf(line, dim) == value {
			out = append(out, line)
		}
	}
	return out
}

// DimensionValues lists the distinct tag values for dim, Unassigned included
// when any line is untagged.
func (l *Ledger) DimensionValues(dim accounting.Dimension) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, line := range l.Lines {
		v := tagOf(line, dim)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func tagOf(line accounting.PostedLine, dim accounting.Dimension) string {
	if v := line.Dimensions.Value(dim); v != "" {
		return v
	}
	return Unassigned
}

func (l *Ledger) rows(amounts func(accounting.Account) (decimal.Decimal, decimal.Decimal, decimal.Decimal)) []AccountBalance {
	groups := l.groupIndex()
	out := make([]AccountBalance, 0, len(l.Accounts))
	for _, a := range l.Accounts {
		opening, debit, credit := amounts(a)
		row := AccountBalance{
			Account: a,
			Group:   groups[a.GroupCode],
			Opening: opening,
			Debit:   debit,
			Credit:  credit,
		}
		if !a.Active && !row.active() {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account.Code < out[j].Account.Code })
	return out
}

func sumWhere(rows []AccountBalance, keep func(AccountBalance) bool, value func(AccountBalance) decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		if keep(r) {
			total = total.Add(value(r))
		}
	}
	return total
}

func inCategory(c accounting.Category) func(AccountBalance) bool {
	return func(r AccountBalance) bool { return r.Account.Category == c }
}
