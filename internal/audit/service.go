// Package audit serves the append-only ledger audit trail as a paged timeline.
package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

const (
	// DefaultPageSize is used when the caller does not ask for one.
	DefaultPageSize = 20
	// MaxPageSize caps a single page.
	MaxPageSize = 50
)

// Result is one page of the audit timeline.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}

// Service mengoordinasikan pengambilan data audit.
type Service struct {
	store accounting.Store
}

// NewService membuat service audit timeline baru.
func NewService(store accounting.Store) *Service {
	return &Service{store: store}
}

// Timeline returns audit records page by page, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.store == nil {
		return Result{}, fmt.Errorf("audit: store not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	filter := accounting.AuditFilter{
		EntityType: strings.TrimSpace(filters.Entity),
		EntityID:   strings.TrimSpace(filters.EntityID),
		Actor:      strings.TrimSpace(filters.Actor),
		Action:     strings.TrimSpace(filters.Action),
		From:       filters.From,
		To:         filters.To,
		Offset:     offset,
		Limit:      pageSize + 1,
	}
	var rows []accounting.AuditRecord
	err := s.store.Snapshot(ctx, func(ctx context.Context, r accounting.Reader) error {
		var err error
		rows, err = r.ListAudit(ctx, filter)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	resultRows := make([]TimelineRow, 0, len(rows))
	for _, row := range rows {
		resultRows = append(resultRows, TimelineRow{
			At:       row.At,
			Actor:    row.Actor,
			Action:   row.Action,
			Entity:   row.EntityType,
			EntityID: row.EntityID,
			Before:   row.Before,
			After:    row.After,
		})
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: resultRows, Paging: paging}, nil
}
