package journals_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/ipsas-ledger/internal/testing/ledgertest"
)

func newService(f *ledgertest.Fixture, store accounting.Store) *journals.Service {
	svc := journals.NewService(store, nil, ledgertest.Logger())
	svc.WithNow(f.Clock.Now)
	svc.WithRetry(4, time.Millisecond)
	return svc
}

func debit(f *ledgertest.Fixture, code, amount string) journals.LineInput {
	return journals.LineInput{AccountID: f.Accounts[code].ID, Debit: ledgertest.Dec(amount)}
}

func credit(f *ledgertest.Fixture, code, amount string) journals.LineInput {
	return journals.LineInput{AccountID: f.Accounts[code].ID, Credit: ledgertest.Dec(amount)}
}

func draft(t *testing.T, f *ledgertest.Fixture, svc *journals.Service, lines ...journals.LineInput) accounting.JournalEntry {
	t.Helper()
	entry, err := svc.Create(context.Background(), ledgertest.Clerk, journals.CreateInput{
		PeriodID:  f.Period.ID,
		EntryDate: ledgertest.Date(2024, time.January, 15),
		Memo:      "office supplies",
		Lines:     lines,
	})
	require.NoError(t, err)
	return entry
}

func approved(t *testing.T, f *ledgertest.Fixture, svc *journals.Service, lines ...journals.LineInput) accounting.JournalEntry {
	t.Helper()
	ctx := context.Background()
	entry := draft(t, f, svc, lines...)
	_, err := svc.Submit(ctx, ledgertest.Clerk, entry.ID)
	require.NoError(t, err)
	entry, err = svc.Approve(ctx, ledgertest.Approver, entry.ID)
	require.NoError(t, err)
	return entry
}

func TestWorkflowPostsBalancedEntry(t *testing.T) {
	f := ledgertest.New(t)
	svc := newService(f, f.Store)
	ctx := context.Background()

	entry := draft(t, f, svc, debit(f, "5000", "100.00"), credit(f, "1000", "100.00"))
	assert.Equal(t, accounting.StatusDraft, entry.Status)
	assert.Equal(t, "JE2024010001", entry.Number)

	entry, err := svc.Submit(ctx, ledgertest.Clerk, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, accounting.StatusPending, entry.Status)

	entry, err = svc.Approve(ctx, ledgertest.Approver, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, accounting.StatusApproved, entry.Status)
	assert.Equal(t, ledgertest.Approver.ID, entry.ApprovedBy)

	entry, err = svc.Post(ctx, ledgertest.Approver, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, accounting.StatusPosted, entry.Status)
	require.NotNil(t, entry.PostedAt)

	supplies := f.Balance(t, f.Period.ID, "5000")
	assert.True(t, supplies.Debit.Equal(ledgertest.Dec("100")))
	assert.True(t, supplies.Net.Equal(ledgertest.Dec("100")))
	cash := f.Balance(t, f.Period.ID, "1000")
	assert.True(t, cash.Credit.Equal(ledgertest.Dec("100")))
	assert.True(t, cash.Net.Equal(ledgertest.Dec("-100")))

	records := f.Audit(t, accounting.EntityJournalEntry, accounting.IDString(entry.ID))
	require.Len(t, records, 4)
	actions := []string{records[3].Action, records[2].Action, records[1].Action, records[0].Action}
	assert.Equal(t, []string{accounting.ActionCreate, accounting.ActionSubmit, accounting.ActionApprove, accounting.ActionPost}, actions)
	assert.Equal(t, ledgertest.Approver.ID, records[0].Actor)
	assert.NotEmpty(t, records[0].Before)
	assert.NotEmpty(t, records[0].After)
}

func TestSubmitRejectsOneCentImbalance(t *testing.T) {
	f := ledgertest.New(t)
	svc := newService(f, f.Store)

	entry := draft(t, f, svc, debit(f, "5000", "100.00"), credit(f, "1000", "99.99"))
	_, err := svc.Submit(context.Background(), ledgertest.Clerk, entry.ID)

	var unbalanced *accounting.UnbalancedEntryError
	require.ErrorAs(t, err, &unbalanced)
	assert.True(t, unbalanced.Debit.Equal(ledgertest.Dec("100.00")))
	assert.True(t, unbalanced.Credit.Equal(ledgertest.Dec("99.99")))

	current, err := svc.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, accounting.StatusDraft, current.Status)
}

func TestCreateValidation(t *testing.T) {
	f := ledgertest.New(t)
	svc := newService(f, f.Store)
	ctx := context.Background()

	cases := map[string]journals.CreateInput{
		"three decimals": {
			PeriodID: f.Period.ID, EntryDate: ledgertest.Date(2024, time.January, 2),
			Lines: []journals.LineInput{debit(f, "5000", "10.005"), credit(f, "1000", "10.005")},
		},
		"both sides": {
			PeriodID: f.Period.ID, EntryDate: ledgertest.Date(2024, time.January, 2),
			Lines: []journals.LineInput{{AccountID: f.Accounts["5000"].ID, Debit: ledgertest.Dec("1"), Credit: ledgertest.Dec("1")}},
		},
		"negative": {
			PeriodID: f.Period.ID, EntryDate: ledgertest.Date(2024, time.January, 2),
			Lines: []journals.LineInput{debit(f, "5000", "-5"), credit(f, "1000", "5")},
		},
		"outside period": {
			PeriodID: f.Period.ID, EntryDate: ledgertest.Date(2024, time.February, 2),
			Lines: []journals.LineInput{debit(f, "5000", "5"), credit(f, "1000", "5")},
		},
		"unknown account": {
			PeriodID: f.Period.ID, EntryDate: ledgertest.Date(2024, time.January, 2),
			Lines: []journals.LineInput{{AccountID: 9999, Debit: ledgertest.Dec("5")}, credit(f, "1000", "5")},
		},
		"unknown cash flow": {
			PeriodID: f.Period.ID, EntryDate: ledgertest.Date(2024, time.January, 2),
			Lines: []journals.LineInput{
				{AccountID: f.Accounts["1000"].ID, Debit: ledgertest.Dec("5"), Dimensions: accounting.Dimensions{CashFlow: "speculative"}},
				credit(f, "4000", "5"),
			},
		},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(ctx, ledgertest.Clerk, in)
			require.ErrorIs(t, err, accounting.ErrValidation)
		})
	}
}

func TestSubmitRequiresTwoLines(t *testing.T) {
	f := ledgertest.New(t)
	svc := newService(f, f.Store)
	entry := draft(t, f, svc, debit(f, "5000", "5"))
	_, err := svc.Submit(context.Background(), ledgertest.Clerk, entry.ID)
	require.ErrorIs(t, err, accounting.ErrValidation)
}

func TestApproveRejectsSelfApproval(t *testing.T) {
	f := ledgertest.New(t)
	svc := newService(f, f.Store)
	ctx := context.Background()

	entry, err := svc.Create(ctx, ledgertest.SelfMaker, journals.CreateInput{
		PeriodID:  f.Period.ID,
		EntryDate: ledgertest.Date(2024, time.January, 3),
		Lines:     []journals.LineInput{debit(f, "5000", "40"), credit(f, "1000", "40")},
	})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, ledgertest.SelfMaker, entry.ID)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, ledgertest.SelfMaker, entry.ID)
	var authz *accounting.AuthorizationError
	require.ErrorAs(t, err, &authz)
	assert.Equal(t, ledgertest.SelfMaker.ID, authz.Principal)

	_, err = svc.Approve(ctx, ledgertest.Clerk, entry.ID)
	require.ErrorIs(t, err, accounting.ErrUnauthorized)

	current, err := svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, accounting.StatusPending, current.Status)
}

func TestIllegalTransitions(t *testing.T) {
	f := ledgertest.New(t)
	svc := newService(f, f.Store)
	ctx := context.Background()

	entry := draft(t, f, svc, debit(f, "5000", "5"), credit(f, "1000", "5"))
	_, err := svc.Post(ctx, ledgertest.Approver, entry.ID)
	require.ErrorIs(t, err, accounting.ErrStateTransition)
	_, err = svc.Approve(ctx, ledgertest.Approver, entry.ID)
	require.ErrorIs(t, err, accounting.ErrStateTransition)

	_, err = svc.Cancel(ctx, ledgertest.Clerk, entry.ID, "duplicate")
	require.NoError(t, err)
	_, err = svc.Submit(ctx, ledgertest.Clerk, entry.ID)
	require.ErrorIs(t, err, accounting.ErrStateTransition)
}

func TestRejectAmendResubmit(t *testing.T) {
	f := ledgertest.New(t)
	svc := newService(f, f.Store)
	ctx := context.Background()

	entry := draft(t, f, svc, debit(f, "5000", "70"), credit(f, "1000", "70"))
	_, err := svc.Submit(ctx, ledgertest.Clerk, entry.ID)
	require.NoError(t, err)

	_, err = svc.Reject(ctx, ledgertest.Reviewer, entry.ID, "")
	require.ErrorIs(t, err, accounting.ErrValidation)
	entry, err = svc.Reject(ctx, ledgertest.Reviewer, entry.ID, "wrong expense account")
	require.NoError(t, err)
	assert.Equal(t, accounting.StatusRejected, entry.Status)
	assert.Equal(t, "wrong expense account", entry.RejectReason)

	_, err = svc.Amend(ctx, ledgertest.Reviewer, entry.ID, journals.AmendInput{
		Lines: []journals.LineInput{debit(f, "5500", "70"), credit(f, "1000", "70")},
	})
	require.ErrorIs(t, err, accounting.ErrUnauthorized)

	entry, err = svc.Amend(ctx, ledgertest.Clerk, entry.ID, journals.AmendInput{
		Lines: []journals.LineInput{debit(f, "5500", "70"), credit(f, "1000", "70")},
	})
	require.NoError(t, err)
	assert.Equal(t, accounting.StatusDraft, entry.Status)
	assert.Empty(t, entry.RejectReason)
	require.Len(t, entry.Lines, 2)
	assert.Equal(t, f.Accounts["5500"].ID, entry.Lines[0].AccountID)

	entry, err = svc.Submit(ctx, ledgertest.Clerk, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, accounting.StatusPending, entry.Status)
}

func TestPostTwiceIsNoop(t *testing.T) {
	f := ledgertest.New(t)
	svc := newService(f, f.Store)
	ctx := context.Background()

	entry := approved(t, f, svc, debit(f, "5000", "100.00"), credit(f, "1000", "100.00"))
	first, err := svc.Post(ctx, ledgertest.Approver, entry.ID)
	require.NoError(t, err)
	auditBefore := len(f.Audit(t, accounting.EntityJournalEntry, accounting.IDString(entry.ID)))

	second, err := svc.Post(ctx, ledgertest.Reviewer, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, first.PostedBy, second.PostedBy)
	assert.True(t, f.Balance(t, f.Period.ID, "5000").Net.Equal(ledgertest.Dec("100")))
	assert.Len(t, f.Audit(t, accounting.EntityJournalEntry, accounting.IDString(entry.ID)), auditBefore)
}

func TestConcurrentPostsKeepPeriodZeroSum(t *testing.T) {
	f := ledgertest.New(t)
	svc := newService(f, f.Store)
	ctx := context.Background()

	const n = 20
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = approved(t, f, svc, debit(f, "5000", "12.34"), credit(f, "1000", "12.34")).ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := svc.Post(ctx, ledgertest.Approver, id)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	want := ledgertest.Dec("12.34").Mul(decimal.NewFromInt(n))
	assert.True(t, f.Balance(t, f.Period.ID, "5000").Net.Equal(want))
	assert.True(t, f.Balance(t, f.Period.ID, "1000").Net.Equal(want.Neg()))

	err := f.Store.Snapshot(ctx, func(ctx context.Context, r accounting.Reader) error {
		sum, err := r.SumNet(ctx, f.Period.ID)
		require.NoError(t, err)
		assert.True(t, sum.IsZero())
		return nil
	})
	require.NoError(t, err)
}

// flakyStore fails the first n transactions with a serialization conflict.
type flakyStore struct {
	accounting.Store
	fails atomic.Int32
	calls atomic.Int32
}

func (s *flakyStore) WithTx(ctx context.Context, fn func(context.Context, accounting.Tx) error) error {
	s.calls.Add(1)
	if s.fails.Add(-1) >= 0 {
		return &accounting.TransientError{Op: "commit", Err: errors.New("could not serialize access")}
	}
	return s.Store.WithTx(ctx, fn)
}

func TestPostRetriesTransientFailures(t *testing.T) {
	f := ledgertest.New(t)
	entry := approved(t, f, newService(f, f.Store), debit(f, "5000", "8"), credit(f, "1000", "8"))

	flaky := &flakyStore{Store: f.Store}
	flaky.fails.Store(2)
	svc := newService(f, flaky)

	posted, err := svc.Post(context.Background(), ledgertest.Approver, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, accounting.StatusPosted, posted.Status)
	assert.EqualValues(t, 3, flaky.calls.Load())
}

func TestPostGivesUpAfterRetries(t *testing.T) {
	f := ledgertest.New(t)
	entry := approved(t, f, newService(f, f.Store), debit(f, "5000", "8"), credit(f, "1000", "8"))

	flaky := &flakyStore{Store: f.Store}
	flaky.fails.Store(100)
	svc := newService(f, flaky)
	svc.WithRetry(2, time.Millisecond)

	_, err := svc.Post(context.Background(), ledgertest.Approver, entry.ID)
	require.ErrorIs(t, err, accounting.ErrTransient)
	assert.EqualValues(t, 3, flaky.calls.Load())

	current, err := svc.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, accounting.StatusApproved, current.Status)
}

func TestInvariantViolationHaltsPeriod(t *testing.T) {
	f := ledgertest.New(t)
	svc := newService(f, f.Store)
	ctx := context.Background()

	// An approved entry that bypassed submission checks.
	var corrupt accounting.JournalEntry
	err := f.Store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		corrupt, err = tx.InsertEntry(ctx, accounting.JournalEntry{
			Number:    "JE-CORRUPT",
			PeriodID:  f.Period.ID,
			EntryDate: f.Period.StartDate,
			Type:      accounting.EntryRegular,
			Status:    accounting.StatusApproved,
			CreatedBy: ledgertest.Clerk.ID,
			Lines:     []accounting.Line{f.Debit("5000", "10"), f.Credit("1000", "9")},
		})
		return err
	})
	require.NoError(t, err)

	_, err = svc.Post(ctx, ledgertest.Approver, corrupt.ID)
	var violation *accounting.InvariantViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "entry_delta", violation.Check)
	assert.False(t, accounting.IsRetryable(err))

	assert.True(t, f.Balance(t, f.Period.ID, "5000").Net.IsZero())

	alerts := f.Audit(t, accounting.EntityPeriod, accounting.IDString(f.Period.ID))
	require.NotEmpty(t, alerts)
	assert.Equal(t, accounting.ActionInvariantAlert, alerts[0].Action)

	entry := draft(t, f, svc, debit(f, "5000", "1"), credit(f, "1000", "1"))
	_, err = svc.Submit(ctx, ledgertest.Clerk, entry.ID)
	require.ErrorIs(t, err, accounting.ErrPeriodHalted)
}

func TestReverseCreatesMirrorDraft(t *testing.T) {
	f := ledgertest.New(t)
	svc := newService(f, f.Store)
	ctx := context.Background()

	entry := approved(t, f, svc, debit(f, "5000", "25.50"), credit(f, "1000", "25.50"))
	_, err := svc.Reverse(ctx, ledgertest.Clerk, entry.ID, journals.ReverseInput{})
	require.ErrorIs(t, err, accounting.ErrStateTransition)

	original, err := svc.Post(ctx, ledgertest.Approver, entry.ID)
	require.NoError(t, err)

	reversal, err := svc.Reverse(ctx, ledgertest.Clerk, original.ID, journals.ReverseInput{})
	require.NoError(t, err)
	assert.Equal(t, accounting.EntryReversing, reversal.Type)
	assert.Equal(t, accounting.StatusDraft, reversal.Status)
	require.NotNil(t, reversal.ReversesID)
	assert.Equal(t, original.ID, *reversal.ReversesID)
	assert.Equal(t, "Reversal of "+original.Number, reversal.Memo)
	require.Len(t, reversal.Lines, 2)
	assert.True(t, reversal.Lines[0].Credit.Equal(ledgertest.Dec("25.50")))
	assert.True(t, reversal.Lines[1].Debit.Equal(ledgertest.Dec("25.50")))

	reloaded, err := svc.Get(ctx, original.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.ReversedByID)
	assert.Equal(t, reversal.ID, *reloaded.ReversedByID)

	_, err = svc.Reverse(ctx, ledgertest.Clerk, original.ID, journals.ReverseInput{})
	require.ErrorIs(t, err, accounting.ErrValidation)

	_, err = svc.Submit(ctx, ledgertest.Clerk, reversal.ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, ledgertest.Approver, reversal.ID)
	require.NoError(t, err)
	_, err = svc.Post(ctx, ledgertest.Approver, reversal.ID)
	require.NoError(t, err)
	assert.True(t, f.Balance(t, f.Period.ID, "5000").Net.IsZero())
}

// lockRecorder records the period locks taken inside transactions.
type lockRecorder struct {
	accounting.Store
	mu    sync.Mutex
	locks map[int64][]accounting.LockMode
}

func (s *lockRecorder) WithTx(ctx context.Context, fn func(context.Context, accounting.Tx) error) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		return fn(ctx, &lockRecorderTx{Tx: tx, rec: s})
	})
}

func (s *lockRecorder) reset() {
	s.mu.Lock()
	s.locks = map[int64][]accounting.LockMode{}
	s.mu.Unlock()
}

func (s *lockRecorder) modes(periodID int64) []accounting.LockMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]accounting.LockMode(nil), s.locks[periodID]...)
}

type lockRecorderTx struct {
	accounting.Tx
	rec *lockRecorder
}

func (t *lockRecorderTx) LockPeriod(ctx context.Context, id int64, mode accounting.LockMode) (accounting.Period, error) {
	t.rec.mu.Lock()
	t.rec.locks[id] = append(t.rec.locks[id], mode)
	t.rec.mu.Unlock()
	return t.Tx.LockPeriod(ctx, id, mode)
}

func TestDraftInsertsHoldPeriodShareLock(t *testing.T) {
	f := ledgertest.New(t)
	rec := &lockRecorder{Store: f.Store}
	rec.reset()
	svc := newService(f, rec)
	ctx := context.Background()

	entry := draft(t, f, svc, debit(f, "5000", "12"), credit(f, "1000", "12"))
	assert.Equal(t, []accounting.LockMode{accounting.LockShare}, rec.modes(f.Period.ID))

	_, err := svc.Submit(ctx, ledgertest.Clerk, entry.ID)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, ledgertest.Approver, entry.ID)
	require.NoError(t, err)
	_, err = svc.Post(ctx, ledgertest.Approver, entry.ID)
	require.NoError(t, err)

	rec.reset()
	_, err = svc.Reverse(ctx, ledgertest.Clerk, entry.ID, journals.ReverseInput{})
	require.NoError(t, err)
	assert.Equal(t, []accounting.LockMode{accounting.LockShare}, rec.modes(f.Period.ID))
}

func TestCreateUnknownPeriodUnderLock(t *testing.T) {
	f := ledgertest.New(t)
	svc := newService(f, f.Store)
	_, err := svc.Create(context.Background(), ledgertest.Clerk, journals.CreateInput{
		PeriodID:  999,
		EntryDate: ledgertest.Date(2024, time.January, 15),
		Lines:     []journals.LineInput{debit(f, "5000", "1"), credit(f, "1000", "1")},
	})
	require.ErrorIs(t, err, accounting.ErrValidation)
}
