package accounting

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category enumerates chart of accounts categories.
type Category string

const (
	CategoryAssets      Category = "assets"
	CategoryLiabilities Category = "liabilities"
	CategoryEquity      Category = "equity"
	CategoryRevenue     Category = "revenue"
	CategoryExpenses    Category = "expenses"
)

// Categories lists categories in statement order.
var Categories = []Category{CategoryAssets, CategoryLiabilities, CategoryEquity, CategoryRevenue, CategoryExpenses}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryAssets, CategoryLiabilities, CategoryEquity, CategoryRevenue, CategoryExpenses:
		return true
	}
	return false
}

// CodePrefix is the leading digit every code in the category starts with.
func (c Category) CodePrefix() string {
	switch c {
	case CategoryAssets:
		return "1"
	case CategoryLiabilities:
		return "2"
	case CategoryEquity:
		return "3"
	case CategoryRevenue:
		return "4"
	case CategoryExpenses:
		return "5"
	}
	return ""
}

// DefaultNormalSide returns the conventional normal balance for the category.
func (c Category) DefaultNormalSide() NormalSide {
	if c == CategoryAssets || c == CategoryExpenses {
		return NormalDebit
	}
	return NormalCredit
}

// Permanent reports whether balances roll forward unchanged at period close.
func (c Category) Permanent() bool {
	return c == CategoryAssets || c == CategoryLiabilities || c == CategoryEquity
}

// CategoryForCode derives the category from the leading digit of a code.
func CategoryForCode(code string) (Category, bool) {
	for _, c := range Categories {
		if strings.HasPrefix(code, c.CodePrefix()) {
			return c, true
		}
	}
	return "", false
}

// NormalSide is the side on which an account's balance normally sits.
type NormalSide string

const (
	NormalDebit  NormalSide = "debit"
	NormalCredit NormalSide = "credit"
)

// Natural expresses a debit-positive net amount on the given normal side.
func (s NormalSide) Natural(net decimal.Decimal) decimal.Decimal {
	if s == NormalCredit {
		return net.Neg()
	}
	return net
}

// Group is the second level of the chart (category -> group).
type Group struct {
	Code     string
	Name     string
	Category Category
	Current  bool
}

// AccountType is the third level of the chart (group -> type).
type AccountType struct {
	Code       string
	Name       string
	GroupCode  string
	NormalSide NormalSide
}

// Account is a postable leaf of the chart of accounts.
type Account struct {
	ID         int64
	Code       string
	Name       string
	TypeCode   string
	GroupCode  string
	Category   Category
	NormalSide NormalSide
	Cash       bool
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Label renders "code-name" the way accountants refer to accounts.
func (a Account) Label() string {
	return a.Code + "-" + a.Name
}

// ExternalMapping links an account in an external system (PROMUN, LADS) to a ledger account.
type ExternalMapping struct {
	System       string
	ExternalCode string
	AccountID    int64
	CreatedAt    time.Time
}

// PeriodStatus enumerates fiscal period states.
type PeriodStatus string

const (
	PeriodFuture PeriodStatus = "future"
	PeriodOpen   PeriodStatus = "open"
	PeriodClosed PeriodStatus = "closed"
)

// Period is a fiscal period window.
type Period struct {
	ID         int64
	FiscalYear string
	Code       string
	StartDate  time.Time
	EndDate    time.Time
	Status     PeriodStatus
	Halted     bool
	HaltReason string
	ClosedAt   *time.Time
	ClosedBy   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Contains reports whether the date falls inside the period, inclusive.
func (p Period) Contains(date time.Time) bool {
	d := truncateDay(date)
	return !d.Before(truncateDay(p.StartDate)) && !d.After(truncateDay(p.EndDate))
}

// Overlaps reports whether two periods share at least one day.
func (p Period) Overlaps(other Period) bool {
	return !truncateDay(p.EndDate).Before(truncateDay(other.StartDate)) &&
		!truncateDay(other.EndDate).Before(truncateDay(p.StartDate))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EntryStatus enumerates journal lifecycle states.
type EntryStatus string

const (
	StatusDraft     EntryStatus = "draft"
	StatusPending   EntryStatus = "pending"
	StatusApproved  EntryStatus = "approved"
	StatusRejected  EntryStatus = "rejected"
	StatusPosted    EntryStatus = "posted"
	StatusCancelled EntryStatus = "cancelled"
)

// Terminal reports whether no transition can leave the status.
func (s EntryStatus) Terminal() bool {
	return s == StatusPosted || s == StatusCancelled
}

// EntryType enumerates journal entry kinds.
type EntryType string

const (
	EntryRegular   EntryType = "regular"
	EntryAdjusting EntryType = "adjusting"
	EntryClosing   EntryType = "closing"
	EntryReversing EntryType = "reversing"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryRegular, EntryAdjusting, EntryClosing, EntryReversing:
		return true
	}
	return false
}

// JournalEntry is a dated set of balanced lines moving through the approval workflow.
type JournalEntry struct {
	ID           int64
	Number       string
	PeriodID     int64
	EntryDate    time.Time
	Type         EntryType
	Status       EntryStatus
	Memo         string
	SourceSystem string
	BatchID      uuid.UUID
	CreatedBy    string
	ApprovedBy   string
	PostedBy     string
	RejectReason string
	CancelReason string
	ReversesID   *int64
	ReversedByID *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	SubmittedAt  *time.Time
	ApprovedAt   *time.Time
	PostedAt     *time.Time
	CancelledAt  *time.Time
	Lines        []Line
}

// Totals sums debit and credit amounts across the lines.
func (e JournalEntry) Totals() (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, l := range e.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// Balanced reports exact equality of debit and credit totals.
func (e JournalEntry) Balanced() bool {
	debit, credit := e.Totals()
	return debit.Equal(credit)
}

// AccountIDs returns the distinct accounts referenced by the lines.
func (e JournalEntry) AccountIDs() []int64 {
	seen := make(map[int64]struct{}, len(e.Lines))
	ids := make([]int64, 0, len(e.Lines))
	for _, l := range e.Lines {
		if _, ok := seen[l.AccountID]; ok {
			continue
		}
		seen[l.AccountID] = struct{}{}
		ids = append(ids, l.AccountID)
	}
	return ids
}

// CashFlowActivity classifies cash movements on the statement of cash flows.
type CashFlowActivity string

const (
	CashFlowOperating CashFlowActivity = "operating"
	CashFlowInvesting CashFlowActivity = "investing"
	CashFlowFinancing CashFlowActivity = "financing"
)

// CashFlowActivities lists activities in statement order.
var CashFlowActivities = []CashFlowActivity{CashFlowOperating, CashFlowInvesting, CashFlowFinancing}

// Valid reports whether a is a known activity. Empty is not valid.
func (a CashFlowActivity) Valid() bool {
	return a == CashFlowOperating || a == CashFlowInvesting || a == CashFlowFinancing
}

// Dimension names a line tag usable for segment reporting.
type Dimension string

const (
	DimensionSegment    Dimension = "segment"
	DimensionEntity     Dimension = "entity"
	DimensionProject    Dimension = "project"
	DimensionFund       Dimension = "fund"
	DimensionCostCenter Dimension = "cost_center"
)

// Valid reports whether d is a known reporting dimension.
func (d Dimension) Valid() bool {
	switch d {
	case DimensionSegment, DimensionEntity, DimensionProject, DimensionFund, DimensionCostCenter:
		return true
	}
	return false
}

// Dimensions are optional tags carried by a line.
type Dimensions struct {
	Segment    string           `json:"segment,omitempty"`
	Entity     string           `json:"entity,omitempty"`
	Project    string           `json:"project,omitempty"`
	Fund       string           `json:"fund,omitempty"`
	CostCenter string           `json:"cost_center,omitempty"`
	CashFlow   CashFlowActivity `json:"cash_flow,omitempty"`
}

// Value returns the tag stored for dimension d.
func (d Dimensions) Value(dim Dimension) string {
	switch dim {
	case DimensionSegment:
		return d.Segment
	case DimensionEntity:
		return d.Entity
	case DimensionProject:
		return d.Project
	case DimensionFund:
		return d.Fund
	case DimensionCostCenter:
		return d.CostCenter
	}
	return ""
}

// Line is a single debit or credit against an account.
type Line struct {
	ID         int64
	EntryID    int64
	Seq        int
	AccountID  int64
	Debit      decimal.Decimal
	Credit     decimal.Decimal
	Memo       string
	Dimensions Dimensions
}

// Amount returns the debit-positive signed amount of the line.
func (l Line) Amount() decimal.Decimal {
	return l.Debit.Sub(l.Credit)
}

// PostedLine is a line of a posted entry, as seen by statement builders.
type PostedLine struct {
	Line
	EntryNumber string
	PeriodID    int64
}

// PostedBalance is the running balance of an account within a period.
type PostedBalance struct {
	AccountID int64
	PeriodID  int64
	Opening   decimal.Decimal
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Net       decimal.Decimal
	UpdatedAt time.Time
}

// NewBalance returns an empty balance row for the account and period.
func NewBalance(accountID, periodID int64) PostedBalance {
	return PostedBalance{
		AccountID: accountID,
		PeriodID:  periodID,
		Opening:   decimal.Zero,
		Debit:     decimal.Zero,
		Credit:    decimal.Zero,
		Net:       decimal.Zero,
	}
}

// Apply adds movement totals and recomputes net.
func (b PostedBalance) Apply(debit, credit decimal.Decimal) PostedBalance {
	b.Debit = b.Debit.Add(debit)
	b.Credit = b.Credit.Add(credit)
	b.Net = b.Opening.Add(b.Debit).Sub(b.Credit)
	return b
}

// WithOpening replaces the opening amount and recomputes net.
func (b PostedBalance) WithOpening(opening decimal.Decimal) PostedBalance {
	b.Opening = opening
	b.Net = b.Opening.Add(b.Debit).Sub(b.Credit)
	return b
}

// Movement is the period activity excluding the opening amount.
func (b PostedBalance) Movement() decimal.Decimal {
	return b.Debit.Sub(b.Credit)
}

// ReconciliationStatus enumerates reconciliation outcomes.
type ReconciliationStatus string

const (
	ReconUnreconciled ReconciliationStatus = "unreconciled"
	ReconMatched      ReconciliationStatus = "matched"
	ReconFlagged      ReconciliationStatus = "flagged"
)

// ReconciliationRecord compares an external balance with the posted ledger.
type ReconciliationRecord struct {
	ID           int64
	PeriodID     int64
	Source       string
	RunID        uuid.UUID
	ExternalCode string
	AccountID    *int64
	External     decimal.Decimal
	Internal     decimal.Decimal
	Variance     decimal.Decimal
	Status       ReconciliationStatus
	Note         string
	ResolvedBy   string
	ResolvedAt   *time.Time
	CreatedAt    time.Time
}

// AuditRecord is an append-only trace of a state transition.
type AuditRecord struct {
	ID         int64
	Actor      string
	EntityType string
	EntityID   string
	Action     string
	Before     json.RawMessage
	After      json.RawMessage
	At         time.Time
}

// Audit entity types.
const (
	EntityAccount        = "account"
	EntityGroup          = "account_group"
	EntityAccountType    = "account_type"
	EntityPeriod         = "period"
	EntityJournalEntry   = "journal_entry"
	EntityReconciliation = "reconciliation"
)

// Audit actions.
const (
	ActionCreate          = "create"
	ActionUpdate          = "update"
	ActionActivate        = "activate"
	ActionDeactivate      = "deactivate"
	ActionMap             = "map"
	ActionAmend           = "amend"
	ActionSubmit          = "submit"
	ActionApprove         = "approve"
	ActionReject          = "reject"
	ActionPost            = "post"
	ActionCancel          = "cancel"
	ActionReverse         = "reverse"
	ActionClose           = "period.close"
	ActionRollForward     = "period.rollforward"
	ActionInvariantAlert  = "invariant.alert"
	ActionClearHalt       = "period.clear_halt"
	ActionReconcile       = "reconciliation.run"
	ActionResolve         = "reconciliation.resolve"
	ActionIntegrityFailed = "integrity.failed"
)

// Snapshot encodes v for an audit record. Encoding failures are embedded so the
// audit append never fails on a snapshot.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"snapshot_error": err.Error()})
	}
	return data
}

// IDString formats numeric identifiers for audit records.
func IDString(id int64) string {
	return fmt.Sprintf("%d", id)
}
