package reports

import "time"

// Statements bundles every report derived from one ledger snapshot.
type Statements struct {
	PeriodID          int64             `json:"period_id"`
	PeriodCode        string            `json:"period_code"`
	PriorPeriodID     *int64            `json:"prior_period_id,omitempty"`
	GeneratedAt       time.Time         `json:"generated_at"`
	TrialBalance      TrialBalance      `json:"trial_balance"`
	FinancialPosition FinancialPosition `json:"financial_position"`
	Performance       Performance       `json:"performance"`
	CashFlows         CashFlows         `json:"cash_flows"`
	NetAssets         NetAssetsChanges  `json:"net_assets"`
}

// Generate builds all statements and runs their cross-checks. Any failed check
// returns an InvariantViolationError and no statements.
func Generate(l *Ledger, at time.Time) (Statements, error) {
	id := l.Period.ID
	out := Statements{
		PeriodID:          id,
		PeriodCode:        l.Period.Code,
		GeneratedAt:       at,
		TrialBalance:      BuildTrialBalance(l.Rows()),
		FinancialPosition: BuildFinancialPosition(l),
		Performance:       BuildPerformance(l),
		CashFlows:         BuildCashFlows(l),
		NetAssets:         BuildNetAssetsChanges(l),
	}
	if l.Prior != nil {
		prior := l.Prior.Period.ID
		out.PriorPeriodID = &prior
	}
	checks := []error{
		out.TrialBalance.Check(id),
		out.FinancialPosition.Check(id),
		out.CashFlows.Check(id),
		out.NetAssets.Check(id, out.FinancialPosition),
	}
	for _, err := range checks {
		if err != nil {
			return Statements{}, err
		}
	}
	return out, nil
}
