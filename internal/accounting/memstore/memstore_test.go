package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

func insertPeriod(ctx context.Context, tx accounting.Tx, code string, month time.Month) (accounting.Period, error) {
	start := time.Date(2024, month, 1, 0, 0, 0, 0, time.UTC)
	return tx.InsertPeriod(ctx, accounting.Period{
		FiscalYear: "2024",
		Code:       code,
		StartDate:  start,
		EndDate:    start.AddDate(0, 1, -1),
		Status:     accounting.PeriodOpen,
	})
}

func TestWithTxDiscardsOnError(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	err := s.WithTx(context.Background(), func(ctx context.Context, tx accounting.Tx) error {
		if _, err := insertPeriod(ctx, tx, "2024-01", time.January); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.Snapshot(context.Background(), func(ctx context.Context, r accounting.Reader) error {
		periods, err := r.ListPeriods(ctx)
		require.NoError(t, err)
		assert.Empty(t, periods)
		return nil
	})
	require.NoError(t, err)
}

func TestSnapshotIsolatedFromLaterCommits(t *testing.T) {
	s := New()
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx accounting.Tx) error {
		_, err := insertPeriod(ctx, tx, "2024-01", time.January)
		return err
	}))

	err := s.Snapshot(context.Background(), func(ctx context.Context, r accounting.Reader) error {
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
			_, err := insertPeriod(ctx, tx, "2024-02", time.February)
			return err
		}))
		periods, err := r.ListPeriods(ctx)
		require.NoError(t, err)
		assert.Len(t, periods, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.WithTx(ctx, func(context.Context, accounting.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
