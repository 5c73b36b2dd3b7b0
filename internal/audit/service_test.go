package audit

import (
	"context"
	"testing"
	"time"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/memstore"
)

func seedAudit(t *testing.T, n int) *memstore.Store {
	t.Helper()
	store := memstore.New()
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	err := store.WithTx(context.Background(), func(ctx context.Context, tx accounting.Tx) error {
		for i := 0; i < n; i++ {
			actor := "clerk"
			if i%2 == 1 {
				actor = "approver"
			}
			err := tx.AppendAudit(ctx, accounting.AuditRecord{
				Actor:      actor,
				EntityType: accounting.EntityJournalEntry,
				EntityID:   accounting.IDString(int64(i + 1)),
				Action:     accounting.ActionSubmit,
				At:         base.Add(time.Duration(i) * time.Hour),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed audit: %v", err)
	}
	return store
}

func TestServiceTimelinePaging(t *testing.T) {
	svc := NewService(seedAudit(t, 5))
	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if !result.Paging.HasNext || result.Paging.NextPage != 2 {
		t.Fatalf("expected next page 2, got %+v", result.Paging)
	}
	if result.Rows[0].EntityID != "5" {
		t.Fatalf("expected newest first, got entity %s", result.Rows[0].EntityID)
	}

	last, err := svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 2})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(last.Rows) != 1 || last.Paging.HasNext {
		t.Fatalf("expected final page with one row, got %d rows hasNext=%v", len(last.Rows), last.Paging.HasNext)
	}
	if last.Paging.PrevPage != 2 {
		t.Fatalf("expected prev page 2, got %d", last.Paging.PrevPage)
	}
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	svc := NewService(seedAudit(t, 60))
	result, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if result.Paging.PageSize != MaxPageSize || len(result.Rows) != MaxPageSize {
		t.Fatalf("expected %d rows, got %d", MaxPageSize, len(result.Rows))
	}
	def, err := svc.Timeline(context.Background(), TimelineFilters{})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if def.Paging.PageSize != DefaultPageSize || def.Paging.Page != 1 {
		t.Fatalf("unexpected default paging %+v", def.Paging)
	}
}

func TestServiceTimelineFilters(t *testing.T) {
	svc := NewService(seedAudit(t, 6))
	result, err := svc.Timeline(context.Background(), TimelineFilters{
		Actor: " approver ",
		From:  time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		To:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(result.Rows))
	}
	if result.Rows[0].EntityID != "4" || result.Rows[0].Actor != "approver" {
		t.Fatalf("unexpected row %+v", result.Rows[0])
	}
}
