// Package posting is the only writer of posted balances.
package posting

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

// Engine applies approved entries to per-account, per-period balances.
type Engine struct{}

// NewEngine constructs the posting engine.
func NewEngine() *Engine {
	return &Engine{}
}

type movement struct {
	debit  decimal.Decimal
	credit decimal.Decimal
}

// Apply adds the entry's lines to the period balances inside the caller's
// transaction. The caller is responsible for the entry status flip in the same
// transaction; Apply never commits.
func (e *Engine) Apply(ctx context.Context, tx accounting.Tx, entry accounting.JournalEntry) ([]accounting.PostedBalance, error) {
	moves := make(map[int64]movement, len(entry.Lines))
	delta := decimal.Zero
	for _, l := range entry.Lines {
		m, ok := moves[l.AccountID]
		if !ok {
			m = movement{debit: decimal.Zero, credit: decimal.Zero}
		}
		m.debit = m.debit.Add(l.Debit)
		m.credit = m.credit.Add(l.Credit)
		moves[l.AccountID] = m
		delta = delta.Add(l.Amount())
	}
	if !delta.IsZero() {
		return nil, &accounting.InvariantViolationError{
			Check:    "entry_delta",
			PeriodID: entry.PeriodID,
			EntryID:  entry.ID,
			Expected: decimal.Zero,
			Actual:   delta,
			Detail:   "entry lines do not net to zero",
		}
	}

	ids := make([]int64, 0, len(moves))
	for id := range moves {
		ids = append(ids, id)
	}
	// Ascending order keeps concurrent posters from deadlocking on shared rows.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	current, err := tx.LockBalances(ctx, entry.PeriodID, ids)
	if err != nil {
		return nil, err
	}
	updated := make([]accounting.PostedBalance, 0, len(ids))
	for _, id := range ids {
		b, ok := current[id]
		if !ok {
			b = accounting.NewBalance(id, entry.PeriodID)
		}
		m := moves[id]
		updated = append(updated, b.Apply(m.debit, m.credit))
	}
	if err := tx.UpsertBalances(ctx, updated); err != nil {
		return nil, err
	}

	sum, err := tx.SumNet(ctx, entry.PeriodID)
	if err != nil {
		return nil, err
	}
	if !sum.IsZero() {
		return nil, &accounting.InvariantViolationError{
			Check:    "period_zero_sum",
			PeriodID: entry.PeriodID,
			EntryID:  entry.ID,
			Expected: decimal.Zero,
			Actual:   sum,
			Detail:   "sum of net balances across accounts is not zero",
		}
	}
	return updated, nil
}

// Replay rebuilds the period balances from stored openings and posted lines.
func (e *Engine) Replay(ctx context.Context, r accounting.Reader, periodID int64) (map[int64]accounting.PostedBalance, error) {
	stored, err := r.ListBalances(ctx, periodID)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]accounting.PostedBalance, len(stored))
	for _, b := range stored {
		out[b.AccountID] = accounting.NewBalance(b.AccountID, periodID).WithOpening(b.Opening)
	}
	lines, err := r.ListPostedLines(ctx, periodID)
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		b, ok := out[l.AccountID]
		if !ok {
			b = accounting.NewBalance(l.AccountID, periodID)
		}
		out[l.AccountID] = b.Apply(l.Debit, l.Credit)
	}
	return out, nil
}

// Mismatch describes a stored balance that disagrees with its replay.
type Mismatch struct {
	AccountID int64
	Stored    accounting.PostedBalance
	Replayed  accounting.PostedBalance
}

// Verify compares stored balances with a replay of posted lines and checks the
// period zero-sum. It returns the mismatching accounts and an
// InvariantViolationError when anything disagrees.
func (e *Engine) Verify(ctx context.Context, r accounting.Reader, periodID int64) ([]Mismatch, error) {
	replayed, err := e.Replay(ctx, r, periodID)
	if err != nil {
		return nil, err
	}
	stored, err := r.ListBalances(ctx, periodID)
	if err != nil {
		return nil, err
	}
	var mismatches []Mismatch
	seen := make(map[int64]struct{}, len(stored))
	sum := decimal.Zero
	for _, b := range stored {
		seen[b.AccountID] = struct{}{}
		sum = sum.Add(b.Net)
		want := replayed[b.AccountID]
		if !want.Debit.Equal(b.Debit) || !want.Credit.Equal(b.Credit) || !want.Net.Equal(b.Net) {
			mismatches = append(mismatches, Mismatch{AccountID: b.AccountID, Stored: b, Replayed: want})
		}
	}
	for id, want := range replayed {
		if _, ok := seen[id]; !ok {
			mismatches = append(mismatches, Mismatch{AccountID: id, Stored: accounting.NewBalance(id, periodID), Replayed: want})
		}
	}
	sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].AccountID < mismatches[j].AccountID })
	if len(mismatches) > 0 {
		first := mismatches[0]
		return mismatches, &accounting.InvariantViolationError{
			Check:    "balance_replay",
			PeriodID: periodID,
			Expected: first.Replayed.Net,
			Actual:   first.Stored.Net,
			Detail:   "stored balances differ from posted lines for account " + accounting.IDString(first.AccountID),
		}
	}
	if !sum.IsZero() {
		return nil, &accounting.InvariantViolationError{
			Check:    "period_zero_sum",
			PeriodID: periodID,
			Expected: decimal.Zero,
			Actual:   sum,
		}
	}
	return nil, nil
}
