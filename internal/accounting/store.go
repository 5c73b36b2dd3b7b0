package accounting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LockMode selects the row lock taken on a period.
type LockMode int

const (
	// LockShare is held by submit and post; many writers may share it.
	LockShare LockMode = iota
	// LockExclusive is held by close and excludes every share holder.
	LockExclusive
)

// Store is the persistence port for the ledger.
type Store interface {
	// WithTx runs fn inside an all-or-nothing read-write transaction.
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	// Snapshot runs fn against a consistent read-only view of committed state.
	Snapshot(ctx context.Context, fn func(context.Context, Reader) error) error
}

// AccountFilter narrows account listings.
type AccountFilter struct {
	Category   Category
	ActiveOnly bool
	CashOnly   bool
}

// EntryFilter narrows journal listings.
type EntryFilter struct {
	PeriodID int64
	Status   EntryStatus
	Limit    int
	Offset   int
}

// AuditFilter narrows audit timeline queries.
type AuditFilter struct {
	EntityType string
	EntityID   string
	Actor      string
	Action     string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Reader exposes read operations shared by snapshots and transactions.
type Reader interface {
	ListGroups(ctx context.Context) ([]Group, error)
	ListTypes(ctx context.Context) ([]AccountType, error)
	GetGroup(ctx context.Context, code string) (Group, error)
	GetType(ctx context.Context, code string) (AccountType, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	GetAccountByCode(ctx context.Context, code string) (Account, error)
	ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error)
	FindMapping(ctx context.Context, system, externalCode string) (ExternalMapping, error)
	ListMappings(ctx context.Context, accountID int64) ([]ExternalMapping, error)

	GetPeriod(ctx context.Context, id int64) (Period, error)
	ListPeriods(ctx context.Context) ([]Period, error)
	// NextPeriod returns the period starting right after p, or ErrNotFound.
	NextPeriod(ctx context.Context, p Period) (Period, error)
	// PreviousPeriod returns the period ending right before p, or ErrNotFound.
	PreviousPeriod(ctx context.Context, p Period) (Period, error)
	// OpenPeriod returns the single open period, or ErrNotFound.
	OpenPeriod(ctx context.Context) (Period, error)

	GetEntry(ctx context.Context, id int64) (JournalEntry, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error)
	CountEntriesByStatus(ctx context.Context, periodID int64) (map[EntryStatus]int, error)

	ListBalances(ctx context.Context, periodID int64) ([]PostedBalance, error)
	SumNet(ctx context.Context, periodID int64) (decimal.Decimal, error)
	ListPostedLines(ctx context.Context, periodID int64) ([]PostedLine, error)

	GetReconciliation(ctx context.Context, id int64) (ReconciliationRecord, error)
	ListReconciliations(ctx context.Context, periodID int64) ([]ReconciliationRecord, error)

	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditRecord, error)
}

// Tx exposes transactional writes. Balances are written only by posting and roll-forward.
type Tx interface {
	Reader

	InsertGroup(ctx context.Context, g Group) error
	InsertType(ctx context.Context, t AccountType) error
	InsertAccount(ctx context.Context, a Account) (Account, error)
	UpdateAccount(ctx context.Context, a Account) error
	InsertMapping(ctx context.Context, m ExternalMapping) error

	InsertPeriod(ctx context.Context, p Period) (Period, error)
	LockPeriod(ctx context.Context, id int64, mode LockMode) (Period, error)
	UpdatePeriod(ctx context.Context, p Period) error

	// NextEntrySeq reserves the next sequence number for an entry number prefix.
	NextEntrySeq(ctx context.Context, prefix string) (int, error)
	InsertEntry(ctx context.Context, e JournalEntry) (JournalEntry, error)
	// LockEntry reads the entry with its lines and holds it until commit.
	LockEntry(ctx context.Context, id int64) (JournalEntry, error)
	UpdateEntry(ctx context.Context, e JournalEntry) error
	ReplaceLines(ctx context.Context, entryID int64, lines []Line) ([]Line, error)

	// LockBalances locks the (account, period) rows, creating empty ones as needed.
	LockBalances(ctx context.Context, periodID int64, accountIDs []int64) (map[int64]PostedBalance, error)
	UpsertBalances(ctx context.Context, balances []PostedBalance) error

	InsertReconciliation(ctx context.Context, r ReconciliationRecord) (ReconciliationRecord, error)
	UpdateReconciliation(ctx context.Context, r ReconciliationRecord) error

	AppendAudit(ctx context.Context, rec AuditRecord) error
}

// Invalidator is notified after a commit changes posted balances of a period.
type Invalidator interface {
	Invalidate(ctx context.Context, periodID int64) error
}
