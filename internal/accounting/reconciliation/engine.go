// Package reconciliation compares externally imported trial balances with the
// posted ledger. It never posts.
package reconciliation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

// Resolved is an external balance paired with the ledger account it maps to.
// Account is nil when the code could not be resolved.
type Resolved struct {
	ExternalCode string
	Account      *accounting.Account
	External     decimal.Decimal
}

// Compare computes the internal balance, variance and status for each resolved
// row. Internal balances are expressed on the account's normal side so they
// compare directly with the signless figures external systems report.
func Compare(rows []Resolved, balances map[int64]accounting.PostedBalance) []accounting.ReconciliationRecord {
	out := make([]accounting.ReconciliationRecord, 0, len(rows))
	for _, row := range rows {
		rec := accounting.ReconciliationRecord{
			ExternalCode: row.ExternalCode,
			External:     row.External,
			Internal:     decimal.Zero,
			Status:       accounting.ReconUnreconciled,
		}
		if row.Account != nil {
			id := row.Account.ID
			rec.AccountID = &id
			if b, ok := balances[id]; ok {
				rec.Internal = row.Account.NormalSide.Natural(b.Net)
			}
			rec.Status = accounting.ReconMatched
		}
		rec.Variance = rec.External.Sub(rec.Internal)
		if rec.AccountID != nil && !rec.Variance.IsZero() {
			rec.Status = accounting.ReconFlagged
		}
		out = append(out, rec)
	}
	// Largest absolute variances first; ties by code.
	sort.SliceStable(out, func(i, j int) bool {
		vi, vj := out[i].Variance.Abs(), out[j].Variance.Abs()
		if !vi.Equal(vj) {
			return vi.GreaterThan(vj)
		}
		return out[i].ExternalCode < out[j].ExternalCode
	})
	return out
}

// Summary counts records by status.
type Summary struct {
	Matched       int             `json:"matched"`
	Flagged       int             `json:"flagged"`
	Unreconciled  int             `json:"unreconciled"`
	TotalVariance decimal.Decimal `json:"total_variance"`
}

// Summarize tallies records.
func Summarize(records []accounting.ReconciliationRecord) Summary {
	s := Summary{TotalVariance: decimal.Zero}
	for _, r := range records {
		switch r.Status {
		case accounting.ReconMatched:
			s.Matched++
		case accounting.ReconFlagged:
			s.Flagged++
		default:
			s.Unreconciled++
		}
		s.TotalVariance = s.TotalVariance.Add(r.Variance.Abs())
	}
	return s
}
