package reports

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Figure pairs the current amount with the prior-period comparative.
type Figure struct {
	Current decimal.Decimal `json:"current"`
	Prior   decimal.Decimal `json:"prior"`
}

func zeroFigure() Figure {
	return Figure{Current: decimal.Zero, Prior: decimal.Zero}
}

// Add sums two figures column by column.
func (f Figure) Add(o Figure) Figure {
	return Figure{Current: f.Current.Add(o.Current), Prior: f.Prior.Add(o.Prior)}
}

// Sub subtracts o column by column.
func (f Figure) Sub(o Figure) Figure {
	return Figure{Current: f.Current.Sub(o.Current), Prior: f.Prior.Sub(o.Prior)}
}

// StatementLine is a single presented account.
type StatementLine struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Amount Figure `json:"amount"`
}

// Section contains the lines and totals for a classification.
type Section struct {
	Label string          `json:"label"`
	Lines []StatementLine `json:"lines"`
	Total Figure          `json:"total"`
}

// buildSection merges current and prior rows by account code.
func buildSection(label string, current, prior []AccountBalance, keep func(AccountBalance) bool, value func(AccountBalance) decimal.Decimal) Section {
	sec := Section{Label: label, Lines: []StatementLine{}, Total: zeroFigure()}
	index := make(map[string]int)
	add := func(r AccountBalance, isPrior bool) {
		if !keep(r) {
			return
		}
		i, ok := index[r.Account.Code]
		if !ok {
			i = len(sec.Lines)
			index[r.Account.Code] = i
			sec.Lines = append(sec.Lines, StatementLine{Code: r.Account.Code, Name: r.Account.Name, Amount: zeroFigure()})
		}
		v := value(r)
		if isPrior {
			sec.Lines[i].Amount.Prior = sec.Lines[i].Amount.Prior.Add(v)
			sec.Total.Prior = sec.Total.Prior.Add(v)
		} else {
			sec.Lines[i].Amount.Current = sec.Lines[i].Amount.Current.Add(v)
			sec.Total.Current = sec.Total.Current.Add(v)
		}
	}
	for _, r := range current {
		add(r, false)
	}
	for _, r := range prior {
		add(r, true)
	}
	sort.Slice(sec.Lines, func(i, j int) bool { return sec.Lines[i].Code < sec.Lines[j].Code })
	return sec
}

func priorRows(l *Ledger) []AccountBalance {
	if l.Prior == nil {
		return nil
	}
	return l.Prior.Rows()
}
