package reconciliation

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/ipsas-ledger/internal/shared"
)

// Input is an external trial balance for one period.
type Input struct {
	PeriodID int64                      `json:"period_id" validate:"required"`
	Source   string                     `json:"source" validate:"required"`
	Balances map[string]decimal.Decimal `json:"balances" validate:"required,min=1"`
}

// Run is the outcome of a reconciliation.
type Run struct {
	ID       uuid.UUID
	PeriodID int64
	Source   string
	Records  []accounting.ReconciliationRecord
	Summary  Summary
}

// Service runs reconciliations against posted balances.
type Service struct {
	store  accounting.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the reconciliation service.
func NewService(store accounting.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Reconcile compares the external balances with the period's posted balances
// and stores one record per external code.
func (s *Service) Reconcile(ctx context.Context, p shared.Principal, in Input) (Run, error) {
	if err := accounting.Require(p, "reconcile", shared.CapabilityApprover, shared.CapabilityAdmin); err != nil {
		return Run{}, err
	}
	source := accounts.NormalizeSystem(in.Source)
	if source == "" {
		return Run{}, accounting.Invalid(accounting.EntityReconciliation, "", "source", "required")
	}
	if len(in.Balances) == 0 {
		return Run{}, accounting.Invalid(accounting.EntityReconciliation, "", "balances", "at least one balance required")
	}
	external := make(map[string]decimal.Decimal, len(in.Balances))
	for raw, amount := range in.Balances {
		code := accounts.NormalizeCode(raw)
		if code == "" {
			return Run{}, accounting.Invalid(accounting.EntityReconciliation, "", "balances", "empty account code")
		}
		if _, dup := external[code]; dup {
			return Run{}, accounting.Invalid(accounting.EntityReconciliation, code, "balances", "duplicate code after normalization")
		}
		if !amount.Equal(amount.Truncate(2)) {
			return Run{}, accounting.Invalid(accounting.EntityReconciliation, code, "balances", "amount has more than 2 decimal places")
		}
		external[code] = amount
	}
	codes := make([]string, 0, len(external))
	for code := range external {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	run := Run{ID: uuid.New(), PeriodID: in.PeriodID, Source: source}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		if _, err := tx.GetPeriod(ctx, in.PeriodID); err != nil {
			return err
		}
		rows := make([]Resolved, 0, len(codes))
		for _, code := range codes {
			acct, err := resolve(ctx, tx, source, code)
			if err != nil {
				return err
			}
			rows = append(rows, Resolved{ExternalCode: code, Account: acct, External: external[code]})
		}
		list, err := tx.ListBalances(ctx, in.PeriodID)
		if err != nil {
			return err
		}
		balances := make(map[int64]accounting.PostedBalance, len(list))
		for _, b := range list {
			balances[b.AccountID] = b
		}
		records := Compare(rows, balances)
		run.Records = make([]accounting.ReconciliationRecord, 0, len(records))
		for _, rec := range records {
			rec.PeriodID = in.PeriodID
			rec.Source = source
			rec.RunID = run.ID
			stored, err := tx.InsertReconciliation(ctx, rec)
			if err != nil {
				return err
			}
			run.Records = append(run.Records, stored)
		}
		run.Summary = Summarize(run.Records)
		return accounting.AppendAuditRecord(ctx, tx, p.ID, accounting.EntityReconciliation, run.ID.String(), accounting.ActionReconcile, nil, map[string]any{
			"period_id":    in.PeriodID,
			"source":       source,
			"records":      len(run.Records),
			"matched":      run.Summary.Matched,
			"flagged":      run.Summary.Flagged,
			"unreconciled": run.Summary.Unreconciled,
		}, s.now())
	})
	if err != nil {
		return Run{}, err
	}
	s.logger.Info("reconciliation run",
		slog.String("run_id", run.ID.String()), slog.Int64("period_id", run.PeriodID),
		slog.String("source", source), slog.Int("matched", run.Summary.Matched),
		slog.Int("flagged", run.Summary.Flagged), slog.Int("unreconciled", run.Summary.Unreconciled))
	return run, nil
}

// resolve looks the code up as a ledger account code, then through the source's
// external mapping. It returns nil when neither matches.
func resolve(ctx context.Context, r accounting.Reader, source, code string) (*accounting.Account, error) {
	acct, err := r.GetAccountByCode(ctx, code)
	if err == nil {
		return &acct, nil
	}
	if !errors.Is(err, accounting.ErrNotFound) {
		return nil, err
	}
	m, err := r.FindMapping(ctx, source, code)
	if errors.Is(err, accounting.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	acct, err = r.GetAccount(ctx, m.AccountID)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// Resolve annotates a flagged or unreconciled record. The computed status is kept.
func (s *Service) Resolve(ctx context.Context, p shared.Principal, id int64, note string) (accounting.ReconciliationRecord, error) {
	if err := accounting.Require(p, "resolve reconciliation", shared.CapabilityApprover, shared.CapabilityAdmin); err != nil {
		return accounting.ReconciliationRecord{}, err
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return accounting.ReconciliationRecord{}, accounting.Invalid(accounting.EntityReconciliation, accounting.IDString(id), "note", "required")
	}
	var out accounting.ReconciliationRecord
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		rec, err := tx.GetReconciliation(ctx, id)
		if err != nil {
			return err
		}
		if rec.Status == accounting.ReconMatched {
			return accounting.Invalid(accounting.EntityReconciliation, accounting.IDString(id), "status", "matched records need no resolution")
		}
		if rec.ResolvedAt != nil {
			return accounting.Invalid(accounting.EntityReconciliation, accounting.IDString(id), "resolved_at", "already resolved")
		}
		before := rec
		now := s.now()
		rec.Note = note
		rec.ResolvedBy = p.ID
		rec.ResolvedAt = &now
		if err := tx.UpdateReconciliation(ctx, rec); err != nil {
			return err
		}
		out = rec
		return accounting.AppendAuditRecord(ctx, tx, p.ID, accounting.EntityReconciliation, accounting.IDString(id), accounting.ActionResolve, before, rec, now)
	})
	if err != nil {
		return accounting.ReconciliationRecord{}, err
	}
	return out, nil
}

// List returns the period's reconciliation records.
func (s *Service) List(ctx context.Context, periodID int64) ([]accounting.ReconciliationRecord, error) {
	var out []accounting.ReconciliationRecord
	err := s.store.Snapshot(ctx, func(ctx context.Context, r accounting.Reader) error {
		list, err := r.ListReconciliations(ctx, periodID)
		out = list
		return err
	})
	return out, err
}
