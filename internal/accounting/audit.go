package accounting

import (
	"context"
	"time"
)

// AppendAuditRecord appends a transition record inside tx.
func AppendAuditRecord(ctx context.Context, tx Tx, actor, entityType, entityID, action string, before, after any, at time.Time) error {
	rec := AuditRecord{
		Actor:      actor,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		At:         at,
	}
	if before != nil {
		rec.Before = Snapshot(before)
	}
	if after != nil {
		rec.After = Snapshot(after)
	}
	return tx.AppendAudit(ctx, rec)
}
