// Package ledgertest builds seeded in-memory ledgers for package tests.
package ledgertest

import (
	"bytes"
	"context"
	_ "embed"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/memstore"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/posting"
	"github.com/odyssey-erp/ipsas-ledger/internal/shared"
)

//go:embed chart.yaml
var chartYAML []byte

// Principals used across ledger tests.
var (
	Admin     = shared.NewPrincipal("admin", shared.CapabilityAdmin)
	Clerk     = shared.NewPrincipal("clerk", shared.CapabilityCreator)
	Approver  = shared.NewPrincipal("approver", shared.CapabilityApprover)
	Reviewer  = shared.NewPrincipal("reviewer", shared.CapabilityApprover)
	SelfMaker = shared.NewPrincipal("maker", shared.CapabilityCreator, shared.CapabilityApprover)
)

// Clock is a manually advanced clock safe for concurrent use.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Fixture is a seeded ledger with one open period (January 2024).
type Fixture struct {
	Store    *memstore.Store
	Clock    *Clock
	Accounts map[string]accounting.Account
	Period   accounting.Period
}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Date builds a UTC date.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Dec parses a decimal literal.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// New seeds the chart of accounts and opens January 2024.
func New(t testing.TB) *Fixture {
	t.Helper()
	ctx := context.Background()
	clock := NewClock(time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC))
	store := memstore.New()
	store.WithNow(clock.Now)

	svc := accounts.NewService(store, Logger())
	svc.WithNow(clock.Now)
	seed, err := accounts.LoadSeed(bytes.NewReader(chartYAML))
	require.NoError(t, err)
	_, err = svc.ApplySeed(ctx, Admin, seed)
	require.NoError(t, err)

	list, err := svc.List(ctx, accounting.AccountFilter{})
	require.NoError(t, err)
	f := &Fixture{Store: store, Clock: clock, Accounts: map[string]accounting.Account{}}
	for _, a := range list {
		f.Accounts[a.Code] = a
	}
	f.Period = f.AddPeriod(t, "2024-01", Date(2024, time.January, 1), Date(2024, time.January, 31), accounting.PeriodOpen)
	return f
}

// AddPeriod inserts a period directly.
func (f *Fixture) AddPeriod(t testing.TB, code string, start, end time.Time, status accounting.PeriodStatus) accounting.Period {
	t.Helper()
	var p accounting.Period
	err := f.Store.WithTx(context.Background(), func(ctx context.Context, tx accounting.Tx) error {
		var err error
		p, err = tx.InsertPeriod(ctx, accounting.Period{
			FiscalYear: start.Format("2006"),
			Code:       code,
			StartDate:  start,
			EndDate:    end,
			Status:     status,
		})
		return err
	})
	require.NoError(t, err)
	return p
}

// Account returns the seeded account with code.
func (f *Fixture) Account(t testing.TB, code string) accounting.Account {
	t.Helper()
	a, ok := f.Accounts[code]
	require.True(t, ok, "account %s not seeded", code)
	return a
}

// Debit builds a debit line on the account with code.
func (f *Fixture) Debit(code, amount string) accounting.Line {
	return accounting.Line{AccountID: f.Accounts[code].ID, Debit: Dec(amount), Credit: decimal.Zero}
}

// Credit builds a credit line on the account with code.
func (f *Fixture) Credit(code, amount string) accounting.Line {
	return accounting.Line{AccountID: f.Accounts[code].ID, Debit: decimal.Zero, Credit: Dec(amount)}
}

// Tag sets dimensions on a line.
func Tag(l accounting.Line, dims accounting.Dimensions) accounting.Line {
	l.Dimensions = dims
	return l
}

// PostDirect writes an already-posted entry through the posting engine, bypassing the workflow.
func (f *Fixture) PostDirect(t testing.TB, periodID int64, memo string, lines ...accounting.Line) accounting.JournalEntry {
	t.Helper()
	var entry accounting.JournalEntry
	engine := posting.NewEngine()
	err := f.Store.WithTx(context.Background(), func(ctx context.Context, tx accounting.Tx) error {
		seq, err := tx.NextEntrySeq(ctx, "JETEST")
		if err != nil {
			return err
		}
		period, err := tx.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		now := f.Clock.Now()
		entry, err = tx.InsertEntry(ctx, accounting.JournalEntry{
			Number:    "JETEST" + accounting.IDString(int64(seq)),
			PeriodID:  periodID,
			EntryDate: period.StartDate,
			Type:      accounting.EntryRegular,
			Status:    accounting.StatusPosted,
			Memo:      memo,
			CreatedBy: Clerk.ID,
			PostedBy:  Approver.ID,
			PostedAt:  &now,
			Lines:     lines,
		})
		if err != nil {
			return err
		}
		_, err = engine.Apply(ctx, tx, entry)
		return err
	})
	require.NoError(t, err)
	return entry
}

// Balance reads the posted balance for the account code in the period.
func (f *Fixture) Balance(t testing.TB, periodID int64, code string) accounting.PostedBalance {
	t.Helper()
	id := f.Account(t, code).ID
	out := accounting.NewBalance(id, periodID)
	err := f.Store.Snapshot(context.Background(), func(ctx context.Context, r accounting.Reader) error {
		list, err := r.ListBalances(ctx, periodID)
		if err != nil {
			return err
		}
		for _, b := range list {
			if b.AccountID == id {
				out = b
			}
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

// Audit lists audit records for an entity, newest first.
func (f *Fixture) Audit(t testing.TB, entityType, entityID string) []accounting.AuditRecord {
	t.Helper()
	var out []accounting.AuditRecord
	err := f.Store.Snapshot(context.Background(), func(ctx context.Context, r accounting.Reader) error {
		var err error
		out, err = r.ListAudit(ctx, accounting.AuditFilter{EntityType: entityType, EntityID: entityID})
		return err
	})
	require.NoError(t, err)
	return out
}

// CorruptBalance adds amount to the stored debit and net of an account without a
// matching line, leaving the period out of balance.
func (f *Fixture) CorruptBalance(t testing.TB, periodID int64, code, amount string) {
	t.Helper()
	id := f.Account(t, code).ID
	err := f.Store.WithTx(context.Background(), func(ctx context.Context, tx accounting.Tx) error {
		rows, err := tx.LockBalances(ctx, periodID, []int64{id})
		if err != nil {
			return err
		}
		b := rows[id]
		b.Debit = b.Debit.Add(Dec(amount))
		b.Net = b.Net.Add(Dec(amount))
		return tx.UpsertBalances(ctx, []accounting.PostedBalance{b})
	})
	require.NoError(t, err)
}

// ReadPeriod reads the stored state of a period.
func (f *Fixture) ReadPeriod(t testing.TB, id int64) accounting.Period {
	t.Helper()
	var p accounting.Period
	err := f.Store.Snapshot(context.Background(), func(ctx context.Context, r accounting.Reader) error {
		var err error
		p, err = r.GetPeriod(ctx, id)
		return err
	})
	require.NoError(t, err)
	return p
}
