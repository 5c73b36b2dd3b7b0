package periods

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/posting"
	"github.com/odyssey-erp/ipsas-ledger/internal/shared"
)

// Service manages fiscal periods and the close with roll-forward.
type Service struct {
	store       accounting.Store
	engine      *posting.Engine
	logger      *slog.Logger
	now         func() time.Time
	netAssets   string
	invalidator accounting.Invalidator
}

// NewService constructs the period service.
func NewService(store accounting.Store, engine *posting.Engine, logger *slog.Logger) *Service {
	if engine == nil {
		engine = posting.NewEngine()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, engine: engine, logger: logger, now: time.Now, netAssets: DefaultNetAssetsAccount}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithNetAssetsAccount sets the account code that absorbs the surplus at close.
func (s *Service) WithNetAssetsAccount(code string) {
	if code = strings.TrimSpace(code); code != "" {
		s.netAssets = code
	}
}

// WithInvalidator registers the hook notified when period balances change.
func (s *Service) WithInvalidator(inv accounting.Invalidator) {
	s.invalidator = inv
}

// Create inserts a period. Without an explicit status it opens when no other
// period is open and is future otherwise.
func (s *Service) Create(ctx context.Context, p shared.Principal, in CreateInput) (accounting.Period, error) {
	if err := accounting.Require(p, "create period", shared.CapabilityAdmin); err != nil {
		return accounting.Period{}, err
	}
	in.Code = strings.TrimSpace(in.Code)
	if err := in.Validate(); err != nil {
		return accounting.Period{}, err
	}
	fiscalYear := in.FiscalYear
	if fiscalYear == "" {
		fiscalYear = in.StartDate.Format("2006")
	}
	var created accounting.Period
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		status := in.Status
		switch status {
		case accounting.PeriodOpen:
			if err := ensureNoOpenPeriod(ctx, tx, in.Code); err != nil {
				return err
			}
		case "":
			// The first period of an empty book opens immediately.
			status = accounting.PeriodFuture
			if _, err := tx.OpenPeriod(ctx); errors.Is(err, accounting.ErrNotFound) {
				status = accounting.PeriodOpen
			} else if err != nil {
				return err
			}
		}
		period, err := tx.InsertPeriod(ctx, accounting.Period{
			FiscalYear: fiscalYear,
			Code:       in.Code,
			StartDate:  in.StartDate,
			EndDate:    in.EndDate,
			Status:     status,
		})
		if err != nil {
			return err
		}
		created = period
		return accounting.AppendAuditRecord(ctx, tx, p.ID, accounting.EntityPeriod, accounting.IDString(period.ID), accounting.ActionCreate, nil, period, s.now())
	})
	if err != nil {
		return accounting.Period{}, err
	}
	return created, nil
}

// Open moves a future period to open when no other period is open.
func (s *Service) Open(ctx context.Context, p shared.Principal, id int64) (accounting.Period, error) {
	if err := accounting.Require(p, "open period", shared.CapabilityAdmin); err != nil {
		return accounting.Period{}, err
	}
	var opened accounting.Period
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		period, err := tx.LockPeriod(ctx, id, accounting.LockExclusive)
		if err != nil {
			return err
		}
		if period.Status != accounting.PeriodFuture {
			return accounting.Invalid(accounting.EntityPeriod, accounting.IDString(id), "status", "only future periods can be opened")
		}
		if err := ensureNoOpenPeriod(ctx, tx, period.Code); err != nil {
			return err
		}
		before := period
		period.Status = accounting.PeriodOpen
		if err := tx.UpdatePeriod(ctx, period); err != nil {
			return err
		}
		opened = period
		return accounting.AppendAuditRecord(ctx, tx, p.ID, accounting.EntityPeriod, accounting.IDString(id), accounting.ActionUpdate, before, period, s.now())
	})
	if err != nil {
		return accounting.Period{}, err
	}
	return opened, nil
}

func ensureNoOpenPeriod(ctx context.Context, r accounting.Reader, code string) error {
	current, err := r.OpenPeriod(ctx)
	switch {
	case err == nil:
		return accounting.Invalid(accounting.EntityPeriod, code, "status", "period "+current.Code+" is already open")
	case errors.Is(err, accounting.ErrNotFound):
		return nil
	default:
		return err
	}
}

// Close closes an open period and rolls balances into the next period. Asset,
// liability and equity accounts carry their closing net forward; revenue and
// expense accounts start the next period at zero and their combined net moves
// into the net assets account. The next period is created when missing and is
// opened. The whole close commits or fails as one transaction.
func (s *Service) Close(ctx context.Context, p shared.Principal, id int64) (CloseResult, error) {
	if err := accounting.Require(p, "close period", shared.CapabilityAdmin); err != nil {
		return CloseResult{}, err
	}
	var res CloseResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		res = CloseResult{}
		period, err := tx.LockPeriod(ctx, id, accounting.LockExclusive)
		if err != nil {
			return err
		}
		if period.Status != accounting.PeriodOpen {
			return accounting.Invalid(accounting.EntityPeriod, accounting.IDString(id), "status", "period "+period.Code+" is "+string(period.Status))
		}
		if period.Halted {
			return &accounting.PeriodHaltedError{PeriodID: period.ID, Reason: period.HaltReason}
		}
		counts, err := tx.CountEntriesByStatus(ctx, period.ID)
		if err != nil {
			return err
		}
		blocking := map[accounting.EntryStatus]int{}
		for status, n := range counts {
			if !status.Terminal() && n > 0 {
				blocking[status] = n
			}
		}
		if len(blocking) > 0 {
			return &accounting.PeriodNotReadyError{PeriodID: period.ID, Open: blocking}
		}
		sum, err := tx.SumNet(ctx, period.ID)
		if err != nil {
			return err
		}
		if !sum.IsZero() {
			return &accounting.InvariantViolationError{
				Check: "period_zero_sum", PeriodID: period.ID,
				Expected: decimal.Zero, Actual: sum, Detail: "refusing to close",
			}
		}

		next, created, err := s.nextPeriod(ctx, tx, period)
		if err != nil {
			return err
		}
		carried, surplus, err := s.rollForward(ctx, tx, period, next)
		if err != nil {
			return err
		}

		now := s.now()
		before := period
		period.Status = accounting.PeriodClosed
		period.ClosedAt = &now
		period.ClosedBy = p.ID
		if err := tx.UpdatePeriod(ctx, period); err != nil {
			return err
		}
		if err := accounting.AppendAuditRecord(ctx, tx, p.ID, accounting.EntityPeriod, accounting.IDString(period.ID), accounting.ActionClose, before, period, now); err != nil {
			return err
		}

		nextBefore := next
		next.Status = accounting.PeriodOpen
		if err := tx.UpdatePeriod(ctx, next); err != nil {
			return err
		}
		summary := map[string]any{
			"from_period":   period.ID,
			"period":        next,
			"carried":       carried,
			"surplus":       surplus.StringFixed(2),
			"net_assets":    s.netAssets,
			"period_create": created,
		}
		if err := accounting.AppendAuditRecord(ctx, tx, p.ID, accounting.EntityPeriod, accounting.IDString(next.ID), accounting.ActionRollForward, nextBefore, summary, now); err != nil {
			return err
		}
		res = CloseResult{Closed: period, Next: next, NextCreated: created, Carried: carried, Surplus: surplus}
		return nil
	})
	if err != nil {
		var violation *accounting.InvariantViolationError
		if errors.As(err, &violation) {
			s.logger.Error("ledger invariant violated on close",
				slog.Int64("period_id", violation.PeriodID), slog.String("check", violation.Check),
				slog.String("actual", violation.Actual.StringFixed(2)))
			if _, herr := accounting.HaltPeriod(ctx, s.store, p.ID, violation, s.now()); herr != nil {
				s.logger.Error("halt period failed", slog.Int64("period_id", violation.PeriodID), slog.Any("error", herr))
			}
		}
		return CloseResult{}, err
	}
	s.logger.Info("period closed",
		slog.String("period", res.Closed.Code), slog.String("next", res.Next.Code),
		slog.Bool("next_created", res.NextCreated), slog.Int("carried", res.Carried),
		slog.String("surplus", res.Surplus.StringFixed(2)), slog.String("principal", p.ID))
	s.invalidate(ctx, res.Closed.ID)
	s.invalidate(ctx, res.Next.ID)
	return res, nil
}

func (s *Service) nextPeriod(ctx context.Context, tx accounting.Tx, period accounting.Period) (accounting.Period, bool, error) {
	next, err := tx.NextPeriod(ctx, period)
	switch {
	case err == nil:
		if next.Status != accounting.PeriodFuture {
			return accounting.Period{}, false, accounting.Invalid(accounting.EntityPeriod, accounting.IDString(next.ID), "status", "next period "+next.Code+" is "+string(next.Status))
		}
		locked, err := tx.LockPeriod(ctx, next.ID, accounting.LockExclusive)
		return locked, false, err
	case errors.Is(err, accounting.ErrNotFound):
		next, err = tx.InsertPeriod(ctx, successor(period))
		if err != nil {
			return accounting.Period{}, false, err
		}
		if err := accounting.AppendAuditRecord(ctx, tx, accounting.SystemActor, accounting.EntityPeriod, accounting.IDString(next.ID), accounting.ActionCreate, nil, next, s.now()); err != nil {
			return accounting.Period{}, false, err
		}
		return next, true, nil
	default:
		return accounting.Period{}, false, err
	}
}

// rollForward writes the opening balances of next from the closing balances of
// period. It returns the number of rows written and the surplus transferred.
func (s *Service) rollForward(ctx context.Context, tx accounting.Tx, period, next accounting.Period) (int, decimal.Decimal, error) {
	accts, err := tx.ListAccounts(ctx, accounting.AccountFilter{})
	if err != nil {
		return 0, decimal.Zero, err
	}
	byID := make(map[int64]accounting.Account, len(accts))
	for _, a := range accts {
		byID[a.ID] = a
	}
	netAssets, err := tx.GetAccountByCode(ctx, s.netAssets)
	if err != nil {
		if errors.Is(err, accounting.ErrNotFound) {
			return 0, decimal.Zero, accounting.Invalid(accounting.EntityAccount, s.netAssets, "code", "net assets account missing")
		}
		return 0, decimal.Zero, err
	}
	if netAssets.Category != accounting.CategoryEquity || !netAssets.Active {
		return 0, decimal.Zero, accounting.Invalid(accounting.EntityAccount, s.netAssets, "category", "net assets account must be an active equity account")
	}

	closing, err := tx.ListBalances(ctx, period.ID)
	if err != nil {
		return 0, decimal.Zero, err
	}
	openings := map[int64]decimal.Decimal{}
	temporary := decimal.Zero
	for _, b := range closing {
		acct, ok := byID[b.AccountID]
		if !ok {
			return 0, decimal.Zero, accounting.NotFound(accounting.EntityAccount, accounting.IDString(b.AccountID))
		}
		if acct.Category.Permanent() {
			openings[b.AccountID] = openings[b.AccountID].Add(b.Net)
			continue
		}
		temporary = temporary.Add(b.Net)
	}
	openings[netAssets.ID] = openings[netAssets.ID].Add(temporary)

	ids := make([]int64, 0, len(openings))
	total := decimal.Zero
	for id, amt := range openings {
		ids = append(ids, id)
		total = total.Add(amt)
	}
	if !total.IsZero() {
		return 0, decimal.Zero, &accounting.InvariantViolationError{
			Check: "rollforward_zero_sum", PeriodID: period.ID,
			Expected: decimal.Zero, Actual: total, Detail: "opening balances for period " + next.Code + " do not net to zero",
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	current, err := tx.LockBalances(ctx, next.ID, ids)
	if err != nil {
		return 0, decimal.Zero, err
	}
	rows := make([]accounting.PostedBalance, 0, len(ids))
	for _, id := range ids {
		b, ok := current[id]
		if !ok {
			b = accounting.NewBalance(id, next.ID)
		}
		rows = append(rows, b.WithOpening(openings[id]))
	}
	if err := tx.UpsertBalances(ctx, rows); err != nil {
		return 0, decimal.Zero, err
	}
	return len(rows), temporary.Neg(), nil
}

// ClearHalt lifts a halt once a replay of the period matches its stored balances.
func (s *Service) ClearHalt(ctx context.Context, p shared.Principal, id int64, note string) (accounting.Period, error) {
	if err := accounting.Require(p, "clear period halt", shared.CapabilityAdmin); err != nil {
		return accounting.Period{}, err
	}
	var cleared accounting.Period
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		period, err := tx.LockPeriod(ctx, id, accounting.LockExclusive)
		if err != nil {
			return err
		}
		if !period.Halted {
			cleared = period
			return nil
		}
		if _, err := s.engine.Verify(ctx, tx, period.ID); err != nil {
			return err
		}
		before := period
		period.Halted = false
		period.HaltReason = ""
		if err := tx.UpdatePeriod(ctx, period); err != nil {
			return err
		}
		cleared = period
		return accounting.AppendAuditRecord(ctx, tx, p.ID, accounting.EntityPeriod, accounting.IDString(id), accounting.ActionClearHalt, before, map[string]any{"period": period, "note": note}, s.now())
	})
	if err != nil {
		return accounting.Period{}, err
	}
	return cleared, nil
}

// Get returns a single period.
func (s *Service) Get(ctx context.Context, id int64) (accounting.Period, error) {
	var out accounting.Period
	err := s.store.Snapshot(ctx, func(ctx context.Context, r accounting.Reader) error {
		period, err := r.GetPeriod(ctx, id)
		out = period
		return err
	})
	return out, err
}

// List returns every period ordered by start date.
func (s *Service) List(ctx context.Context) ([]accounting.Period, error) {
	var out []accounting.Period
	err := s.store.Snapshot(ctx, func(ctx context.Context, r accounting.Reader) error {
		list, err := r.ListPeriods(ctx)
		out = list
		return err
	})
	return out, err
}

// Current returns the open period.
func (s *Service) Current(ctx context.Context) (accounting.Period, error) {
	var out accounting.Period
	err := s.store.Snapshot(ctx, func(ctx context.Context, r accounting.Reader) error {
		period, err := r.OpenPeriod(ctx)
		out = period
		return err
	})
	return out, err
}

func (s *Service) invalidate(ctx context.Context, periodID int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, periodID); err != nil {
		s.logger.Warn("statement cache invalidation failed", slog.Int64("period_id", periodID), slog.Any("error", err))
	}
}
