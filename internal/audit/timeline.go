package audit

import (
	"encoding/json"
	"time"
)

// TimelineFilters narrows the audit timeline.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Entity   string
	EntityID string
	Action   string
	Page     int
	PageSize int
}

// TimelineRow mewakili satu baris audit timeline.
type TimelineRow struct {
	At       time.Time       `json:"at"`
	Actor    string          `json:"actor"`
	Action   string          `json:"action"`
	Entity   string          `json:"entity"`
	EntityID string          `json:"entity_id"`
	Before   json.RawMessage `json:"before,omitempty"`
	After    json.RawMessage `json:"after,omitempty"`
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}
