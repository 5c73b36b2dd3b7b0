package accounting

import (
	"context"
	"time"
)

// SystemActor is recorded on audit rows written without a requesting principal.
const SystemActor = "system"

// HaltPeriod freezes posting to the violated period and appends an
// invariant.alert record. It runs in its own transaction so the alert survives
// the rollback of the work that detected the violation. A period that is
// already halted is left untouched and false is returned.
func HaltPeriod(ctx context.Context, store Store, actor string, violation *InvariantViolationError, at time.Time) (bool, error) {
	if violation == nil || violation.PeriodID == 0 {
		return false, nil
	}
	halted := false
	err := store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		period, err := tx.LockPeriod(ctx, violation.PeriodID, LockExclusive)
		if err != nil {
			return err
		}
		if period.Halted {
			return nil
		}
		before := period
		period.Halted = true
		period.HaltReason = violation.Error()
		if err := tx.UpdatePeriod(ctx, period); err != nil {
			return err
		}
		alert := map[string]any{
			"check":    violation.Check,
			"entry_id": violation.EntryID,
			"expected": violation.Expected.StringFixed(2),
			"actual":   violation.Actual.StringFixed(2),
			"detail":   violation.Detail,
			"halted":   true,
		}
		if err := AppendAuditRecord(ctx, tx, actor, EntityPeriod, IDString(period.ID), ActionInvariantAlert, before, alert, at); err != nil {
			return err
		}
		halted = true
		return nil
	})
	return halted, err
}
