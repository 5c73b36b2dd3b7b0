package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity replays posted lines against stored balances.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskStatementWarmup pre-builds the statement bundle of a period.
	TaskStatementWarmup = "ledger:statements_warmup"
)

// IntegrityPayload selects the periods checked by TaskLedgerIntegrity.
// A zero PeriodID checks every open and closed period.
type IntegrityPayload struct {
	PeriodID int64 `json:"period_id,omitempty"`
}

// WarmupPayload selects the period warmed by TaskStatementWarmup.
// A zero PeriodID warms the open period.
type WarmupPayload struct {
	PeriodID int64 `json:"period_id,omitempty"`
}

// NewIntegrityTask constructs an integrity check task.
func NewIntegrityTask(periodID int64) (*asynq.Task, error) {
	data, err := json.Marshal(IntegrityPayload{PeriodID: periodID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// NewWarmupTask constructs a statement warm-up task.
func NewWarmupTask(periodID int64) (*asynq.Task, error) {
	data, err := json.Marshal(WarmupPayload{PeriodID: periodID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStatementWarmup, data), nil
}
