package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/reports"
	jobmetrics "github.com/odyssey-erp/ipsas-ledger/internal/jobs"
)

// StatementBuilder produces the statement bundle of a period.
type StatementBuilder interface {
	Statements(ctx context.Context, periodID int64) (reports.Statements, error)
}

// StatementWarmupJob pre-builds statements so the first reader hits the cache.
type StatementWarmupJob struct {
	Store   accounting.Store
	Reports StatementBuilder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStatementWarmupJob wires dependencies for the warm-up handler.
func NewStatementWarmupJob(store accounting.Store, builder StatementBuilder, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatementWarmupJob {
	return &StatementWarmupJob{Store: store, Reports: builder, Logger: logger, Metrics: metrics}
}

// Handle processes statement warm-up tasks.
func (j *StatementWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reports == nil || j.Store == nil {
		return errors.New("statement warmup: handler not configured")
	}
	var payload WarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	err := j.Run(ctx, payload)
	if errors.Is(err, accounting.ErrInvariantViolation) || errors.Is(err, accounting.ErrNotFound) {
		return fmt.Errorf("statement warmup: %v: %w", err, asynq.SkipRetry)
	}
	return err
}

// Run builds the statements of the selected period. Without an open period
// there is nothing to warm.
func (j *StatementWarmupJob) Run(ctx context.Context, payload WarmupPayload) (err error) {
	tracker := j.metrics().Track(TaskStatementWarmup)
	defer func() {
		err = tracker.End(err)
	}()

	periodID := payload.PeriodID
	if periodID == 0 {
		err = j.Store.Snapshot(ctx, func(ctx context.Context, r accounting.Reader) error {
			p, err := r.OpenPeriod(ctx)
			if err != nil {
				return err
			}
			periodID = p.ID
			return nil
		})
		if errors.Is(err, accounting.ErrNotFound) {
			j.logger().Info("no open period to warm")
			return nil
		}
		if err != nil {
			return err
		}
	}

	logger := j.logger().With(slog.Int64("period_id", periodID))
	st, err := j.Reports.Statements(ctx, periodID)
	if err != nil {
		if errors.Is(err, accounting.ErrInvariantViolation) {
			logger.Error("warm statements", slog.Any("error", err))
		} else {
			logger.Warn("warm statements", slog.Any("error", err))
		}
		return err
	}
	logger.Info("statements warmed", slog.String("period_code", st.PeriodCode))
	return nil
}

func (j *StatementWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StatementWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
