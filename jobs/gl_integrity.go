package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/posting"
	jobmetrics "github.com/odyssey-erp/ipsas-ledger/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SystemActor is recorded on audit rows written by background jobs.
const SystemActor = accounting.SystemActor

// IntegrityFailure describes one period whose balances disagree with a replay.
type IntegrityFailure struct {
	PeriodID   int64
	Check      string
	Mismatches []posting.Mismatch
	Halted     bool
}

// IntegrityReport summarises a run.
type IntegrityReport struct {
	Checked  []int64
	Failures []IntegrityFailure
}

// GLIntegrityJob verifies stored balances against the posted lines of each period.
type GLIntegrityJob struct {
	Store   accounting.Store
	Engine  *posting.Engine
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewGLIntegrityJob wires dependencies for the integrity handler.
func NewGLIntegrityJob(store accounting.Store, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{
		Store:   store,
		Engine:  posting.NewEngine(),
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithNow overrides the audit clock.
func (j *GLIntegrityJob) WithNow(now func() time.Time) {
	if now != nil {
		j.clock = now
	}
}

// Handle processes ledger integrity tasks. Mismatches are not retried.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload IntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	report, err := j.Run(ctx, payload)
	if err != nil {
		return err
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("gl integrity: %d period(s) failed: %w", len(report.Failures), asynq.SkipRetry)
	}
	return nil
}

// Run checks the selected periods, halting open ones that fail.
func (j *GLIntegrityJob) Run(ctx context.Context, payload IntegrityPayload) (report IntegrityReport, err error) {
	tracker := j.metrics().Track(TaskLedgerIntegrity)
	defer func() {
		err = tracker.End(err)
	}()

	targets, err := j.targets(ctx, payload.PeriodID)
	if err != nil {
		j.logger().Error("load integrity targets", slog.Any("error", err))
		return report, err
	}

	for _, periodID := range targets {
		logger := j.logger().With(slog.Int64("period_id", periodID))
		mismatches, verr := j.verify(ctx, periodID)
		report.Checked = append(report.Checked, periodID)
		if verr == nil {
			continue
		}
		var violation *accounting.InvariantViolationError
		if !errors.As(verr, &violation) {
			logger.Error("verify period", slog.Any("error", verr))
			return report, verr
		}
		failure := IntegrityFailure{PeriodID: periodID, Check: violation.Check, Mismatches: mismatches}
		halted, ferr := j.flag(ctx, violation, mismatches)
		if ferr != nil {
			logger.Error("record integrity failure", slog.Any("error", ferr))
			return report, ferr
		}
		failure.Halted = halted
		count := len(mismatches)
		if count == 0 {
			count = 1
		}
		j.metrics().AddMismatches(violation.Check, periodID, count)
		logger.Error("ledger integrity check failed",
			slog.String("check", violation.Check),
			slog.Int("mismatches", len(mismatches)),
			slog.Bool("halted", halted),
			slog.Any("error", violation),
		)
		report.Failures = append(report.Failures, failure)
	}
	j.logger().Info("ledger integrity check completed",
		slog.Int("periods", len(report.Checked)),
		slog.Int("failures", len(report.Failures)),
	)
	return report, nil
}

func (j *GLIntegrityJob) targets(ctx context.Context, periodID int64) ([]int64, error) {
	var ids []int64
	err := j.Store.Snapshot(ctx, func(ctx context.Context, r accounting.Reader) error {
		if periodID != 0 {
			p, err := r.GetPeriod(ctx, periodID)
			if err != nil {
				return err
			}
			ids = append(ids, p.ID)
			return nil
		}
		periods, err := r.ListPeriods(ctx)
		if err != nil {
			return err
		}
		for _, p := range periods {
			if p.Status == accounting.PeriodFuture {
				continue
			}
			ids = append(ids, p.ID)
		}
		return nil
	})
	return ids, err
}

func (j *GLIntegrityJob) verify(ctx context.Context, periodID int64) ([]posting.Mismatch, error) {
	var mismatches []posting.Mismatch
	var verr error
	err := j.Store.Snapshot(ctx, func(ctx context.Context, r accounting.Reader) error {
		mismatches, verr = j.Engine.Verify(ctx, r, periodID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mismatches, verr
}

// flag halts an open period and records the failure. Closed periods only get
// the audit row since they accept no further postings.
func (j *GLIntegrityJob) flag(ctx context.Context, violation *accounting.InvariantViolationError, mismatches []posting.Mismatch) (bool, error) {
	halted := false
	err := j.Store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		period, err := tx.LockPeriod(ctx, violation.PeriodID, accounting.LockExclusive)
		if err != nil {
			return err
		}
		before := period
		if period.Status == accounting.PeriodOpen && !period.Halted {
			period.Halted = true
			period.HaltReason = violation.Error()
			if err := tx.UpdatePeriod(ctx, period); err != nil {
				return err
			}
			halted = true
		}
		accounts := make([]string, 0, len(mismatches))
		for _, m := range mismatches {
			accounts = append(accounts, accounting.IDString(m.AccountID))
		}
		alert := map[string]any{
			"check":    violation.Check,
			"expected": violation.Expected.StringFixed(2),
			"actual":   violation.Actual.StringFixed(2),
			"detail":   violation.Detail,
			"accounts": accounts,
			"halted":   period.Halted,
		}
		return accounting.AppendAuditRecord(ctx, tx, SystemActor, accounting.EntityPeriod, accounting.IDString(period.ID), accounting.ActionIntegrityFailed, before, alert, j.now())
	})
	return halted, err
}

func (j *GLIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *GLIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *GLIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
