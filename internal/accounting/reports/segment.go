package reports

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

// Segment is the movement view of the ledger restricted to one dimension value.
// Opening balances are not dimensioned, so no financial position is produced.
type Segment struct {
	Dimension    accounting.Dimension `json:"dimension"`
	Value        string               `json:"value"`
	TrialBalance TrialBalance         `json:"trial_balance"`
	Performance  Performance          `json:"performance"`
	CashFlows    CashFlows            `json:"cash_flows"`
}

// Consolidated lists one segment per dimension value and the whole-book surplus.
type Consolidated struct {
	Dimension accounting.Dimension `json:"dimension"`
	Segments  []Segment            `json:"segments"`
	Surplus   decimal.Decimal      `json:"surplus"`
}

// BuildSegment filters posted lines by dim == value. Pass Unassigned for
// untagged lines.
func BuildSegment(l *Ledger, dim accounting.Dimension, value string) (Segment, error) {
	if err := validateSegment(dim, value); err != nil {
		return Segment{}, err
	}
	return buildSegment(l, dim, value), nil
}

func validateSegment(dim accounting.Dimension, value string) error {
	if !dim.Valid() {
		return accounting.Invalid("segment", "", "dimension", "unknown dimension "+string(dim))
	}
	if value == "" {
		return accounting.Invalid("segment", "", "value", "required")
	}
	return nil
}

func buildSegment(l *Ledger, dim accounting.Dimension, value string) Segment {
	rows := l.SegmentRows(dim, value)
	lines := l.SegmentLines(dim, value)
	movement := decimal.Zero
	accounts := l.accountIndex()
	for _, line := range lines {
		if accounts[line.AccountID].Cash {
			movement = movement.Add(line.Amount())
		}
	}
	return Segment{
		Dimension:    dim,
		Value:        value,
		TrialBalance: BuildTrialBalance(rows),
		Performance:  buildPerformance(rows, nil),
		CashFlows:    buildCashFlows(accounts, lines, decimal.Zero, movement),
	}
}

// BuildConsolidated builds a segment per value of dim, entity by default, and
// checks the segment surpluses add up to the whole-book surplus.
func BuildConsolidated(l *Ledger, dim accounting.Dimension) (Consolidated, error) {
	if dim == "" {
		dim = accounting.DimensionEntity
	}
	if err := validateSegment(dim, Unassigned); err != nil {
		return Consolidated{}, err
	}
	whole := buildPerformance(l.Rows(), nil).Surplus.Current
	out := Consolidated{Dimension: dim, Segments: []Segment{}, Surplus: whole}
	sum := decimal.Zero
	for _, value := range l.DimensionValues(dim) {
		seg := buildSegment(l, dim, value)
		sum = sum.Add(seg.Performance.Surplus.Current)
		out.Segments = append(out.Segments, seg)
	}
	if !sum.Equal(whole) {
		return Consolidated{}, &accounting.InvariantViolationError{
			Check:    "consolidation_sum",
			PeriodID: l.Period.ID,
			Expected: whole,
			Actual:   sum,
			Detail:   "segment surpluses by " + string(dim) + " differ from the whole-book surplus",
		}
	}
	return out, nil
}
