package posting_test

import (
	"context"
	"errors"
	"testing"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/posting"
	"github.com/odyssey-erp/ipsas-ledger/internal/testing/ledgertest"
)

func TestApplyAccumulatesBalances(t *testing.T) {
	f := ledgertest.New(t)
	f.PostDirect(t, f.Period.ID, "rates", f.Debit("1000", "500"), f.Credit("4000", "500"))
	f.PostDirect(t, f.Period.ID, "supplies", f.Debit("5000", "120.50"), f.Credit("1000", "120.50"))

	cash := f.Balance(t, f.Period.ID, "1000")
	if !cash.Net.Equal(ledgertest.Dec("379.50")) {
		t.Fatalf("expected cash net 379.50, got %s", cash.Net)
	}
	if !cash.Debit.Equal(ledgertest.Dec("500")) || !cash.Credit.Equal(ledgertest.Dec("120.50")) {
		t.Fatalf("unexpected cash movement: debit %s credit %s", cash.Debit, cash.Credit)
	}
	revenue := f.Balance(t, f.Period.ID, "4000")
	if !revenue.Net.Equal(ledgertest.Dec("-500")) {
		t.Fatalf("expected revenue net -500, got %s", revenue.Net)
	}
}

func TestApplyRejectsUnbalancedEntry(t *testing.T) {
	f := ledgertest.New(t)
	engine := posting.NewEngine()
	entry := accounting.JournalEntry{
		ID:       42,
		PeriodID: f.Period.ID,
		Lines:    []accounting.Line{f.Debit("1000", "100"), f.Credit("4000", "90")},
	}
	err := f.Store.WithTx(context.Background(), func(ctx context.Context, tx accounting.Tx) error {
		_, err := engine.Apply(ctx, tx, entry)
		return err
	})
	var violation *accounting.InvariantViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if violation.Check != "entry_delta" || violation.EntryID != 42 {
		t.Fatalf("unexpected violation: %+v", violation)
	}
	if !errors.Is(err, accounting.ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation sentinel")
	}
	if b := f.Balance(t, f.Period.ID, "1000"); !b.Net.IsZero() {
		t.Fatalf("balances must be untouched, got %s", b.Net)
	}
}

func TestVerifyCleanAndCorrupted(t *testing.T) {
	f := ledgertest.New(t)
	f.PostDirect(t, f.Period.ID, "rates", f.Debit("1000", "1000"), f.Credit("4000", "1000"))
	engine := posting.NewEngine()

	verify := func() ([]posting.Mismatch, error) {
		var mismatches []posting.Mismatch
		var verr error
		err := f.Store.Snapshot(context.Background(), func(ctx context.Context, r accounting.Reader) error {
			mismatches, verr = engine.Verify(ctx, r, f.Period.ID)
			return nil
		})
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		return mismatches, verr
	}

	if m, err := verify(); err != nil || len(m) != 0 {
		t.Fatalf("expected clean ledger, got %v %v", m, err)
	}

	err := f.Store.WithTx(context.Background(), func(ctx context.Context, tx accounting.Tx) error {
		id := f.Accounts["4000"].ID
		rows, err := tx.LockBalances(ctx, f.Period.ID, []int64{id})
		if err != nil {
			return err
		}
		b := rows[id]
		b.Credit = b.Credit.Add(ledgertest.Dec("5"))
		b.Net = b.Net.Sub(ledgertest.Dec("5"))
		return tx.UpsertBalances(ctx, []accounting.PostedBalance{b})
	})
	if err != nil {
		t.Fatalf("corrupt balance: %v", err)
	}

	mismatches, err := verify()
	var violation *accounting.InvariantViolationError
	if !errors.As(err, &violation) || violation.Check != "balance_replay" {
		t.Fatalf("expected balance_replay violation, got %v", err)
	}
	if len(mismatches) != 1 || mismatches[0].AccountID != f.Accounts["4000"].ID {
		t.Fatalf("unexpected mismatches: %+v", mismatches)
	}
	if !mismatches[0].Replayed.Net.Equal(ledgertest.Dec("-1000")) {
		t.Fatalf("expected replayed net -1000, got %s", mismatches[0].Replayed.Net)
	}
}

func TestReplayKeepsOpenings(t *testing.T) {
	f := ledgertest.New(t)
	err := f.Store.WithTx(context.Background(), func(ctx context.Context, tx accounting.Tx) error {
		return tx.UpsertBalances(ctx, []accounting.PostedBalance{
			accounting.NewBalance(f.Accounts["1000"].ID, f.Period.ID).WithOpening(ledgertest.Dec("250")),
			accounting.NewBalance(f.Accounts["3100"].ID, f.Period.ID).WithOpening(ledgertest.Dec("-250")),
		})
	})
	if err != nil {
		t.Fatalf("seed openings: %v", err)
	}
	f.PostDirect(t, f.Period.ID, "rates", f.Debit("1000", "100"), f.Credit("4000", "100"))

	var replayed map[int64]accounting.PostedBalance
	err = f.Store.Snapshot(context.Background(), func(ctx context.Context, r accounting.Reader) error {
		var err error
		replayed, err = posting.NewEngine().Replay(ctx, r, f.Period.ID)
		return err
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got := replayed[f.Accounts["1000"].ID].Net; !got.Equal(ledgertest.Dec("350")) {
		t.Fatalf("expected cash net 350, got %s", got)
	}
	if got := replayed[f.Accounts["3100"].ID].Opening; !got.Equal(ledgertest.Dec("-250")) {
		t.Fatalf("expected net assets opening -250, got %s", got)
	}
}
