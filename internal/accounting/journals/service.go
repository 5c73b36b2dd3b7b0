package journals

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/posting"
	"github.com/odyssey-erp/ipsas-ledger/internal/shared"
)

// PostObserver receives the outcome of each posting attempt.
type PostObserver interface {
	ObservePost(outcome string, elapsed time.Duration)
}

// Posting outcomes reported to the observer.
const (
	OutcomePosted    = "posted"
	OutcomeNoop      = "noop"
	OutcomeRejected  = "rejected"
	OutcomeInvariant = "invariant"
	OutcomeTransient = "transient"
)

// Service drives journal entries through the approval workflow.
type Service struct {
	store       accounting.Store
	engine      *posting.Engine
	logger      *slog.Logger
	now         func() time.Time
	retries     uint64
	backoff     time.Duration
	invalidator accounting.Invalidator
	observer    PostObserver
}

// NewService wires the journal workflow.
func NewService(store accounting.Store, engine *posting.Engine, logger *slog.Logger) *Service {
	if engine == nil {
		engine = posting.NewEngine()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		engine:  engine,
		logger:  logger,
		now:     time.Now,
		retries: 4,
		backoff: 25 * time.Millisecond,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithRetry sets how many times a transient posting failure is retried and the base backoff.
func (s *Service) WithRetry(retries uint64, base time.Duration) {
	s.retries = retries
	if base > 0 {
		s.backoff = base
	}
}

// WithInvalidator registers the hook notified after posted balances change.
func (s *Service) WithInvalidator(inv accounting.Invalidator) {
	s.invalidator = inv
}

// WithObserver registers a posting metrics sink.
func (s *Service) WithObserver(o PostObserver) {
	s.observer = o
}

// Create stores a new draft entry.
func (s *Service) Create(ctx context.Context, p shared.Principal, in CreateInput) (accounting.JournalEntry, error) {
	if err := accounting.Require(p, "create journal entry", shared.CapabilityCreator); err != nil {
		return accounting.JournalEntry{}, err
	}
	if err := in.Validate(); err != nil {
		return accounting.JournalEntry{}, err
	}
	typ := in.Type
	if typ == "" {
		typ = accounting.EntryRegular
	}
	var created accounting.JournalEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		period, err := tx.LockPeriod(ctx, in.PeriodID, accounting.LockShare)
		if err != nil {
			if errors.Is(err, accounting.ErrNotFound) {
				return accounting.Invalid(accounting.EntityJournalEntry, "", "period_id", "unknown period")
			}
			return err
		}
		if err := checkPeriodWritable(period); err != nil {
			return err
		}
		if !period.Contains(in.EntryDate) {
			return accounting.Invalid(accounting.EntityJournalEntry, "", "entry_date", "outside period "+period.Code)
		}
		lines := toLines(in.Lines)
		if err := checkAccounts(ctx, tx, "", lines); err != nil {
			return err
		}
		prefix := entryPrefix(in.EntryDate)
		seq, err := tx.NextEntrySeq(ctx, prefix)
		if err != nil {
			return err
		}
		entry, err := tx.InsertEntry(ctx, accounting.JournalEntry{
			Number:       entryNumber(prefix, seq),
			PeriodID:     period.ID,
			EntryDate:    in.EntryDate,
			Type:         typ,
			Status:       accounting.StatusDraft,
			Memo:         in.Memo,
			SourceSystem: in.SourceSystem,
			BatchID:      in.BatchID,
			CreatedBy:    p.ID,
			Lines:        lines,
		})
		if err != nil {
			return err
		}
		created = entry
		return accounting.AppendAuditRecord(ctx, tx, p.ID, accounting.EntityJournalEntry, accounting.IDString(entry.ID), accounting.ActionCreate, nil, entry, s.now())
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	return created, nil
}

// Amend replaces the lines of a draft or rejected entry and returns it to draft.
func (s *Service) Amend(ctx context.Context, p shared.Principal, id int64, in AmendInput) (accounting.JournalEntry, error) {
	if err := accounting.Require(p, "amend journal entry", shared.CapabilityCreator, shared.CapabilityAdmin); err != nil {
		return accounting.JournalEntry{}, err
	}
	if err := validateLines(accounting.IDString(id), in.Lines); err != nil {
		return accounting.JournalEntry{}, err
	}
	return s.transition(ctx, p, id, ActionAmend, func(ctx context.Context, tx accounting.Tx, period accounting.Period, entry *accounting.JournalEntry) error {
		if entry.CreatedBy != p.ID && !p.Has(shared.CapabilityAdmin) {
			return &accounting.AuthorizationError{Principal: p.ID, Action: "amend journal entry", Reason: "only the creator may amend"}
		}
		if err := checkPeriodWritable(period); err != nil {
			return err
		}
		lines := toLines(in.Lines)
		if err := checkAccounts(ctx, tx, accounting.IDString(id), lines); err != nil {
			return err
		}
		stored, err := tx.ReplaceLines(ctx, entry.ID, lines)
		if err != nil {
			return err
		}
		entry.Lines = stored
		if in.Memo != nil {
			entry.Memo = *in.Memo
		}
		entry.RejectReason = ""
		entry.SubmittedAt = nil
		return nil
	})
}

// Submit sends a draft to review after checking it balances exactly.
func (s *Service) Submit(ctx context.Context, p shared.Principal, id int64) (accounting.JournalEntry, error) {
	if err := accounting.Require(p, "submit journal entry", shared.CapabilityCreator, shared.CapabilityAdmin); err != nil {
		return accounting.JournalEntry{}, err
	}
	return s.transition(ctx, p, id, ActionSubmit, func(ctx context.Context, tx accounting.Tx, period accounting.Period, entry *accounting.JournalEntry) error {
		if period.Halted {
			return &accounting.PeriodHaltedError{PeriodID: period.ID, Reason: period.HaltReason}
		}
		if err := checkPeriodWritable(period); err != nil {
			return err
		}
		if len(entry.Lines) < 2 {
			return accounting.Invalid(accounting.EntityJournalEntry, accounting.IDString(entry.ID), "lines", "at least two lines required")
		}
		if err := checkAccounts(ctx, tx, accounting.IDString(entry.ID), entry.Lines); err != nil {
			return err
		}
		if !entry.Balanced() {
			debit, credit := entry.Totals()
			return &accounting.UnbalancedEntryError{EntryID: entry.ID, Debit: debit, Credit: credit}
		}
		now := s.now()
		entry.SubmittedAt = &now
		return nil
	})
}

// Approve marks a pending entry approved. The approver cannot be the creator.
func (s *Service) Approve(ctx context.Context, p shared.Principal, id int64) (accounting.JournalEntry, error) {
	if err := accounting.Require(p, "approve journal entry", shared.CapabilityApprover); err != nil {
		return accounting.JournalEntry{}, err
	}
	return s.transition(ctx, p, id, ActionApprove, func(_ context.Context, _ accounting.Tx, _ accounting.Period, entry *accounting.JournalEntry) error {
		if entry.CreatedBy == p.ID {
			return &accounting.AuthorizationError{Principal: p.ID, Action: "approve journal entry", Reason: "creator cannot approve own entry"}
		}
		now := s.now()
		entry.ApprovedBy = p.ID
		entry.ApprovedAt = &now
		return nil
	})
}

// Reject returns a pending entry to its creator with a reason.
func (s *Service) Reject(ctx context.Context, p shared.Principal, id int64, reason string) (accounting.JournalEntry, error) {
	if err := accounting.Require(p, "reject journal entry", shared.CapabilityApprover); err != nil {
		return accounting.JournalEntry{}, err
	}
	if reason == "" {
		return accounting.JournalEntry{}, accounting.Invalid(accounting.EntityJournalEntry, accounting.IDString(id), "reason", "required")
	}
	return s.transition(ctx, p, id, ActionReject, func(_ context.Context, _ accounting.Tx, _ accounting.Period, entry *accounting.JournalEntry) error {
		if entry.CreatedBy == p.ID {
			return &accounting.AuthorizationError{Principal: p.ID, Action: "reject journal entry", Reason: "creator cannot review own entry"}
		}
		entry.RejectReason = reason
		return nil
	})
}

// Cancel abandons an entry that has not been posted.
func (s *Service) Cancel(ctx context.Context, p shared.Principal, id int64, reason string) (accounting.JournalEntry, error) {
	if err := accounting.Require(p, "cancel journal entry", shared.CapabilityCreator, shared.CapabilityApprover, shared.CapabilityAdmin); err != nil {
		return accounting.JournalEntry{}, err
	}
	return s.transition(ctx, p, id, ActionCancel, func(_ context.Context, _ accounting.Tx, _ accounting.Period, entry *accounting.JournalEntry) error {
		if entry.CreatedBy != p.ID && !p.HasAny(shared.CapabilityApprover, shared.CapabilityAdmin) {
			return &accounting.AuthorizationError{Principal: p.ID, Action: "cancel journal entry", Reason: "only the creator or a reviewer may cancel"}
		}
		now := s.now()
		entry.CancelReason = reason
		entry.CancelledAt = &now
		return nil
	})
}

type mutateFunc func(ctx context.Context, tx accounting.Tx, period accounting.Period, entry *accounting.JournalEntry) error

// transition runs a non-posting workflow step under a share lock on the period
// and a row lock on the entry, then records the before and after images.
func (s *Service) transition(ctx context.Context, p shared.Principal, id int64, action Action, mutate mutateFunc) (accounting.JournalEntry, error) {
	var result accounting.JournalEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		current, err := tx.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		period, err := tx.LockPeriod(ctx, current.PeriodID, accounting.LockShare)
		if err != nil {
			return err
		}
		entry, err := tx.LockEntry(ctx, id)
		if err != nil {
			return err
		}
		to, err := Transition(entry.ID, entry.Status, action)
		if err != nil {
			return err
		}
		before := entry
		if err := mutate(ctx, tx, period, &entry); err != nil {
			return err
		}
		entry.Status = to
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
		result = entry
		return accounting.AppendAuditRecord(ctx, tx, p.ID, accounting.EntityJournalEntry, accounting.IDString(entry.ID), string(action), before, entry, s.now())
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.logger.Debug("journal transition",
		slog.Int64("entry_id", result.ID), slog.String("action", string(action)),
		slog.String("status", string(result.Status)), slog.String("principal", p.ID))
	return result, nil
}

// Post applies an approved entry to the period balances. Posting an entry that
// is already posted returns it unchanged. Transient store failures are retried
// with exponential backoff; an invariant violation halts the period.
func (s *Service) Post(ctx context.Context, p shared.Principal, id int64) (accounting.JournalEntry, error) {
	if err := accounting.Require(p, "post journal entry", shared.CapabilityApprover, shared.CapabilityAdmin); err != nil {
		return accounting.JournalEntry{}, err
	}
	start := time.Now()
	var (
		posted  accounting.JournalEntry
		already bool
	)
	backoff := retry.WithMaxRetries(s.retries, retry.NewExponential(s.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		entry, noop, err := s.post(ctx, p, id)
		if err != nil {
			if accounting.IsRetryable(err) {
				s.logger.Warn("journal post retry", slog.Int64("entry_id", id), slog.Any("error", err))
				return retry.RetryableError(err)
			}
			return err
		}
		posted, already = entry, noop
		return nil
	})
	if err != nil {
		var violation *accounting.InvariantViolationError
		switch {
		case errors.As(err, &violation):
			s.observe(OutcomeInvariant, start)
			s.logger.Error("ledger invariant violated on post",
				slog.Int64("entry_id", id), slog.Int64("period_id", violation.PeriodID),
				slog.String("check", violation.Check), slog.String("expected", violation.Expected.StringFixed(2)),
				slog.String("actual", violation.Actual.StringFixed(2)))
			if _, herr := accounting.HaltPeriod(ctx, s.store, p.ID, violation, s.now()); herr != nil {
				s.logger.Error("halt period failed", slog.Int64("period_id", violation.PeriodID), slog.Any("error", herr))
			}
		case accounting.IsRetryable(err):
			s.observe(OutcomeTransient, start)
		default:
			s.observe(OutcomeRejected, start)
		}
		return accounting.JournalEntry{}, err
	}
	if already {
		s.observe(OutcomeNoop, start)
		return posted, nil
	}
	s.observe(OutcomePosted, start)
	s.logger.Info("journal posted",
		slog.Int64("entry_id", posted.ID), slog.String("number", posted.Number),
		slog.Int64("period_id", posted.PeriodID), slog.String("principal", p.ID))
	s.invalidate(ctx, posted.PeriodID)
	return posted, nil
}

func (s *Service) post(ctx context.Context, p shared.Principal, id int64) (accounting.JournalEntry, bool, error) {
	var (
		result  accounting.JournalEntry
		already bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		current, err := tx.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		period, err := tx.LockPeriod(ctx, current.PeriodID, accounting.LockShare)
		if err != nil {
			return err
		}
		entry, err := tx.LockEntry(ctx, id)
		if err != nil {
			return err
		}
		if entry.Status == accounting.StatusPosted {
			result, already = entry, true
			return nil
		}
		to, err := Transition(entry.ID, entry.Status, ActionPost)
		if err != nil {
			return err
		}
		if period.Halted {
			return &accounting.PeriodHaltedError{PeriodID: period.ID, Reason: period.HaltReason}
		}
		if period.Status != accounting.PeriodOpen {
			return accounting.Invalid(accounting.EntityPeriod, accounting.IDString(period.ID), "status", "period "+period.Code+" is not open for posting")
		}
		if _, err := s.engine.Apply(ctx, tx, entry); err != nil {
			return err
		}
		before := entry
		now := s.now()
		entry.Status = to
		entry.PostedBy = p.ID
		entry.PostedAt = &now
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
		result = entry
		return accounting.AppendAuditRecord(ctx, tx, p.ID, accounting.EntityJournalEntry, accounting.IDString(entry.ID), accounting.ActionPost, before, entry, now)
	})
	return result, already, err
}

// Reverse creates a draft that mirrors a posted entry. The reversal lands in the
// original period while it is open, otherwise in the current open period.
func (s *Service) Reverse(ctx context.Context, p shared.Principal, id int64, in ReverseInput) (accounting.JournalEntry, error) {
	if err := accounting.Require(p, "reverse journal entry", shared.CapabilityCreator, shared.CapabilityAdmin); err != nil {
		return accounting.JournalEntry{}, err
	}
	var reversal accounting.JournalEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		original, err := tx.LockEntry(ctx, id)
		if err != nil {
			return err
		}
		if original.Status != accounting.StatusPosted {
			return &accounting.StateTransitionError{EntryID: original.ID, From: original.Status, Action: "reverse"}
		}
		if original.ReversedByID != nil {
			return accounting.Invalid(accounting.EntityJournalEntry, accounting.IDString(original.ID), "reversed_by", "entry already reversed")
		}
		target, err := tx.GetPeriod(ctx, original.PeriodID)
		if err != nil {
			return err
		}
		if target.Status != accounting.PeriodOpen {
			target, err = tx.OpenPeriod(ctx)
			if err != nil {
				if errors.Is(err, accounting.ErrNotFound) {
					return accounting.Invalid(accounting.EntityJournalEntry, accounting.IDString(original.ID), "period_id", "no open period for the reversal")
				}
				return err
			}
		}
		// A concurrent close must not slip in between the check and the insert.
		target, err = tx.LockPeriod(ctx, target.ID, accounting.LockShare)
		if err != nil {
			return err
		}
		if target.Status != accounting.PeriodOpen {
			return accounting.Invalid(accounting.EntityPeriod, accounting.IDString(target.ID), "status", "period "+target.Code+" closed during reversal")
		}
		date := original.EntryDate
		if !target.Contains(date) {
			date = target.StartDate
		}
		memo := in.Memo
		if memo == "" {
			memo = defaultReversalMemo(original.Number)
		}
		prefix := entryPrefix(date)
		seq, err := tx.NextEntrySeq(ctx, prefix)
		if err != nil {
			return err
		}
		originalID := original.ID
		reversal, err = tx.InsertEntry(ctx, accounting.JournalEntry{
			Number:       entryNumber(prefix, seq),
			PeriodID:     target.ID,
			EntryDate:    date,
			Type:         accounting.EntryReversing,
			Status:       accounting.StatusDraft,
			Memo:         memo,
			SourceSystem: original.SourceSystem,
			BatchID:      original.BatchID,
			CreatedBy:    p.ID,
			ReversesID:   &originalID,
			Lines:        reverseLines(original.Lines),
		})
		if err != nil {
			return err
		}
		before := original
		reversalID := reversal.ID
		original.ReversedByID = &reversalID
		if err := tx.UpdateEntry(ctx, original); err != nil {
			return err
		}
		now := s.now()
		if err := accounting.AppendAuditRecord(ctx, tx, p.ID, accounting.EntityJournalEntry, accounting.IDString(original.ID), accounting.ActionReverse, before, original, now); err != nil {
			return err
		}
		return accounting.AppendAuditRecord(ctx, tx, p.ID, accounting.EntityJournalEntry, accounting.IDString(reversal.ID), accounting.ActionCreate, nil, reversal, now)
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	return reversal, nil
}

// Get returns an entry with its lines.
func (s *Service) Get(ctx context.Context, id int64) (accounting.JournalEntry, error) {
	var out accounting.JournalEntry
	err := s.store.Snapshot(ctx, func(ctx context.Context, r accounting.Reader) error {
		e, err := r.GetEntry(ctx, id)
		out = e
		return err
	})
	return out, err
}

// List returns entries matching filter, newest first.
func (s *Service) List(ctx context.Context, filter accounting.EntryFilter) ([]accounting.JournalEntry, error) {
	var out []accounting.JournalEntry
	err := s.store.Snapshot(ctx, func(ctx context.Context, r accounting.Reader) error {
		list, err := r.ListEntries(ctx, filter)
		out = list
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

func (s *Service) observe(outcome string, start time.Time) {
	if s.observer != nil {
		s.observer.ObservePost(outcome, time.Since(start))
	}
}

func checkPeriodWritable(p accounting.Period) error {
	if p.Status == accounting.PeriodClosed {
		return accounting.Invalid(accounting.EntityPeriod, accounting.IDString(p.ID), "status", "period "+p.Code+" is closed")
	}
	return nil
}

// checkAccounts ensures every referenced account exists and is active.
func checkAccounts(ctx context.Context, r accounting.Reader, entryID string, lines []accounting.Line) error {
	seen := make(map[int64]struct{}, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.AccountID]; ok {
			continue
		}
		seen[l.AccountID] = struct{}{}
		acct, err := r.GetAccount(ctx, l.AccountID)
		if err != nil {
			if errors.Is(err, accounting.ErrNotFound) {
				return accounting.Invalid(accounting.EntityJournalEntry, entryID, "account_id", "unknown account "+accounting.IDString(l.AccountID))
			}
			return err
		}
		if !acct.Active {
			return accounting.Invalid(accounting.EntityJournalEntry, entryID, "account_id", "account "+acct.Code+" is inactive")
		}
	}
	return nil
}
