package accounting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ipsas-ledger/internal/platform/db"
)

// Repository persists the ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, db.ReadWrite, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{q: tx})
	})
	return mapPgError("transaction", err)
}

// Snapshot executes fn within a read-only repeatable-read transaction.
func (r *Repository) Snapshot(ctx context.Context, fn func(context.Context, Reader) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, db.ReadOnlySnapshot, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{q: tx})
	})
	return mapPgError("snapshot", err)
}

type txRepository struct {
	q pgx.Tx
}

// mapPgError turns serialization failures and deadlocks into retryable errors and
// constraint violations into validation errors. Ledger errors pass through.
func mapPgError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return &TransientError{Op: op, Err: err}
	case "23505":
		return Invalid(pgErr.TableName, pgErr.ConstraintName, pgErr.ColumnName, "duplicate value")
	case "23P01":
		return Invalid(EntityPeriod, "", "start_date", "overlaps an existing period")
	case "23514":
		return Invalid(pgErr.TableName, pgErr.ConstraintName, pgErr.ColumnName, "check constraint failed")
	}
	return err
}

func numeric(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func parseNumeric(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("accounting: parse numeric %q: %w", raw, err)
	}
	return d, nil
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

const groupColumns = `code, name, category, is_current`

func (r *txRepository) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := r.q.Query(ctx, `SELECT `+groupColumns+` FROM account_groups ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.Code, &g.Name, &g.Category, &g.Current); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *txRepository) GetGroup(ctx context.Context, code string) (Group, error) {
	var g Group
	err := r.q.QueryRow(ctx, `SELECT `+groupColumns+` FROM account_groups WHERE code=$1`, code).
		Scan(&g.Code, &g.Name, &g.Category, &g.Current)
	if errors.Is(err, pgx.ErrNoRows) {
		return Group{}, NotFound(EntityGroup, code)
	}
	return g, err
}

func (r *txRepository) ListTypes(ctx context.Context) ([]AccountType, error) {
	rows, err := r.q.Query(ctx, `SELECT code, name, group_code, normal_side FROM account_types ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountType
	for rows.Next() {
		var t AccountType
		if err := rows.Scan(&t.Code, &t.Name, &t.GroupCode, &t.NormalSide); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *txRepository) GetType(ctx context.Context, code string) (AccountType, error) {
	var t AccountType
	err := r.q.QueryRow(ctx, `SELECT code, name, group_code, normal_side FROM account_types WHERE code=$1`, code).
		Scan(&t.Code, &t.Name, &t.GroupCode, &t.NormalSide)
	if errors.Is(err, pgx.ErrNoRows) {
		return AccountType{}, NotFound(EntityAccountType, code)
	}
	return t, err
}

const accountColumns = `id, code, name, type_code, group_code, category, normal_side, is_cash, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.TypeCode, &a.GroupCode, &a.Category, &a.NormalSide, &a.Cash, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *txRepository) GetAccount(ctx context.Context, id int64) (Account, error) {
	a, err := scanAccount(r.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, NotFound(EntityAccount, IDString(id))
	}
	return a, err
}

func (r *txRepository) GetAccountByCode(ctx context.Context, code string) (Account, error) {
	a, err := scanAccount(r.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code=$1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, NotFound(EntityAccount, code)
	}
	return a, err
}

func (r *txRepository) ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error) {
	var (
		where []string
		args  []any
	)
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category=$%d", len(args)))
	}
	if filter.ActiveOnly {
		where = append(where, "is_active")
	}
	if filter.CashOnly {
		where = append(where, "is_cash")
	}
	query := `SELECT ` + accountColumns + ` FROM accounts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	rows, err := r.q.Query(ctx, query+` ORDER BY code`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *txRepository) FindMapping(ctx context.Context, system, externalCode string) (ExternalMapping, error) {
	var m ExternalMapping
	err := r.q.QueryRow(ctx, `SELECT system, external_code, account_id, created_at FROM account_mappings WHERE system=$1 AND external_code=$2`, system, externalCode).
		Scan(&m.System, &m.ExternalCode, &m.AccountID, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ExternalMapping{}, NotFound("mapping", system+":"+externalCode)
	}
	return m, err
}

func (r *txRepository) ListMappings(ctx context.Context, accountID int64) ([]ExternalMapping, error) {
	rows, err := r.q.Query(ctx, `SELECT system, external_code, account_id, created_at FROM account_mappings WHERE account_id=$1 ORDER BY system, external_code`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExternalMapping
	for rows.Next() {
		var m ExternalMapping
		if err := rows.Scan(&m.System, &m.ExternalCode, &m.AccountID, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const periodColumns = `id, fiscal_year, code, start_date, end_date, status, halted, halt_reason, closed_at, closed_by, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.FiscalYear, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &p.Halted, &p.HaltReason, &p.ClosedAt, &p.ClosedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *txRepository) GetPeriod(ctx context.Context, id int64) (Period, error) {
	p, err := scanPeriod(r.q.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, NotFound(EntityPeriod, IDString(id))
	}
	return p, err
}

func (r *txRepository) ListPeriods(ctx context.Context) ([]Period, error) {
	rows, err := r.q.Query(ctx, `SELECT `+periodColumns+` FROM periods ORDER BY start_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *txRepository) NextPeriod(ctx context.Context, p Period) (Period, error) {
	next, err := scanPeriod(r.q.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE start_date > $1 ORDER BY start_date ASC LIMIT 1`, p.EndDate))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, NotFound(EntityPeriod, "after "+p.Code)
	}
	return next, err
}

func (r *txRepository) PreviousPeriod(ctx context.Context, p Period) (Period, error) {
	prev, err := scanPeriod(r.q.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE end_date < $1 ORDER BY end_date DESC LIMIT 1`, p.StartDate))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, NotFound(EntityPeriod, "before "+p.Code)
	}
	return prev, err
}

func (r *txRepository) OpenPeriod(ctx context.Context) (Period, error) {
	p, err := scanPeriod(r.q.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE status='open'`))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, NotFound(EntityPeriod, "open")
	}
	return p, err
}

const entryColumns = `id, number, period_id, entry_date, entry_type, status, memo, source_system, batch_id,
created_by, approved_by, posted_by, reject_reason, cancel_reason, reverses_id, reversed_by_id,
created_at, updated_at, submitted_at, approved_at, posted_at, cancelled_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var (
		e     JournalEntry
		batch *uuid.UUID
	)
	err := row.Scan(&e.ID, &e.Number, &e.PeriodID, &e.EntryDate, &e.Type, &e.Status, &e.Memo, &e.SourceSystem, &batch,
		&e.CreatedBy, &e.ApprovedBy, &e.PostedBy, &e.RejectReason, &e.CancelReason, &e.ReversesID, &e.ReversedByID,
		&e.CreatedAt, &e.UpdatedAt, &e.SubmittedAt, &e.ApprovedAt, &e.PostedAt, &e.CancelledAt)
	if batch != nil {
		e.BatchID = *batch
	}
	return e, err
}

func (r *txRepository) getEntry(ctx context.Context, id int64, lock bool) (JournalEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM journal_entries WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	e, err := scanEntry(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return JournalEntry{}, NotFound(EntityJournalEntry, IDString(id))
	}
	if err != nil {
		return JournalEntry{}, err
	}
	lines, err := r.linesFor(ctx, []int64{id})
	if err != nil {
		return JournalEntry{}, err
	}
	e.Lines = lines[id]
	return e, nil
}

func (r *txRepository) GetEntry(ctx context.Context, id int64) (JournalEntry, error) {
	return r.getEntry(ctx, id, false)
}

func (r *txRepository) LockEntry(ctx context.Context, id int64) (JournalEntry, error) {
	return r.getEntry(ctx, id, true)
}

const lineColumns = `id, entry_id, seq, account_id, debit::text, credit::text, memo,
dim_segment, dim_entity, dim_project, dim_fund, dim_cost_center, cash_flow`

func scanLine(row pgx.Row) (Line, error) {
	var (
		l             Line
		debit, credit string
	)
	err := row.Scan(&l.ID, &l.EntryID, &l.Seq, &l.AccountID, &debit, &credit, &l.Memo,
		&l.Dimensions.Segment, &l.Dimensions.Entity, &l.Dimensions.Project, &l.Dimensions.Fund, &l.Dimensions.CostCenter, &l.Dimensions.CashFlow)
	if err != nil {
		return Line{}, err
	}
	if l.Debit, err = parseNumeric(debit); err != nil {
		return Line{}, err
	}
	if l.Credit, err = parseNumeric(credit); err != nil {
		return Line{}, err
	}
	return l, nil
}

func (r *txRepository) linesFor(ctx context.Context, entryIDs []int64) (map[int64][]Line, error) {
	out := make(map[int64][]Line, len(entryIDs))
	if len(entryIDs) == 0 {
		return out, nil
	}
	rows, err := r.q.Query(ctx, `SELECT `+lineColumns+` FROM journal_lines WHERE entry_id = ANY($1) ORDER BY entry_id, seq`, entryIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out[l.EntryID] = append(out[l.EntryID], l)
	}
	return out, rows.Err()
}

func (r *txRepository) ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.PeriodID != 0 {
		args = append(args, filter.PeriodID)
		where = append(where, fmt.Sprintf("period_id=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	query := `SELECT ` + entryColumns + ` FROM journal_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var (
		entries []JournalEntry
		ids     []int64
	)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
		ids = append(ids, e.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	lines, err := r.linesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Lines = lines[entries[i].ID]
	}
	return entries, nil
}

func (r *txRepository) CountEntriesByStatus(ctx context.Context, periodID int64) (map[EntryStatus]int, error) {
	rows, err := r.q.Query(ctx, `SELECT status, COUNT(*) FROM journal_entries WHERE period_id=$1 GROUP BY status`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[EntryStatus]int{}
	for rows.Next() {
		var (
			status EntryStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

const balanceColumns = `account_id, period_id, opening::text, debit::text, credit::text, net::text, updated_at`

func scanBalance(row pgx.Row) (PostedBalance, error) {
	var (
		b                            PostedBalance
		opening, debit, credit, net string
	)
	if err := row.Scan(&b.AccountID, &b.PeriodID, &opening, &debit, &credit, &net, &b.UpdatedAt); err != nil {
		return PostedBalance{}, err
	}
	var err error
	if b.Opening, err = parseNumeric(opening); err != nil {
		return PostedBalance{}, err
	}
	if b.Debit, err = parseNumeric(debit); err != nil {
		return PostedBalance{}, err
	}
	if b.Credit, err = parseNumeric(credit); err != nil {
		return PostedBalance{}, err
	}
	if b.Net, err = parseNumeric(net); err != nil {
		return PostedBalance{}, err
	}
	return b, nil
}

func (r *txRepository) ListBalances(ctx context.Context, periodID int64) ([]PostedBalance, error) {
	rows, err := r.q.Query(ctx, `SELECT `+balanceColumns+` FROM posted_balances WHERE period_id=$1 ORDER BY account_id`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PostedBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *txRepository) SumNet(ctx context.Context, periodID int64) (decimal.Decimal, error) {
	var raw string
	if err := r.q.QueryRow(ctx, `SELECT COALESCE(SUM(net), 0)::text FROM posted_balances WHERE period_id=$1`, periodID).Scan(&raw); err != nil {
		return decimal.Zero, err
	}
	return parseNumeric(raw)
}

func (r *txRepository) ListPostedLines(ctx context.Context, periodID int64) ([]PostedLine, error) {
	rows, err := r.q.Query(ctx, `SELECT l.id, l.entry_id, l.seq, l.account_id, l.debit::text, l.credit::text, l.memo,
l.dim_segment, l.dim_entity, l.dim_project, l.dim_fund, l.dim_cost_center, l.cash_flow, e.number
FROM journal_lines l JOIN journal_entries e ON e.id = l.entry_id
WHERE e.period_id=$1 AND e.status='posted' ORDER BY l.entry_id, l.seq`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PostedLine
	for rows.Next() {
		var (
			pl            PostedLine
			debit, credit string
		)
		d := &pl.Dimensions
		if err := rows.Scan(&pl.ID, &pl.EntryID, &pl.Seq, &pl.AccountID, &debit, &credit, &pl.Memo,
			&d.Segment, &d.Entity, &d.Project, &d.Fund, &d.CostCenter, &d.CashFlow, &pl.EntryNumber); err != nil {
			return nil, err
		}
		if pl.Debit, err = parseNumeric(debit); err != nil {
			return nil, err
		}
		if pl.Credit, err = parseNumeric(credit); err != nil {
			return nil, err
		}
		pl.PeriodID = periodID
		out = append(out, pl)
	}
	return out, rows.Err()
}

const reconColumns = `id, period_id, source, run_id, external_code, account_id, external::text, internal::text, variance::text,
status, note, resolved_by, resolved_at, created_at`

func scanRecon(row pgx.Row) (ReconciliationRecord, error) {
	var (
		rec                          ReconciliationRecord
		external, internal, variance string
	)
	if err := row.Scan(&rec.ID, &rec.PeriodID, &rec.Source, &rec.RunID, &rec.ExternalCode, &rec.AccountID, &external, &internal, &variance,
		&rec.Status, &rec.Note, &rec.ResolvedBy, &rec.ResolvedAt, &rec.CreatedAt); err != nil {
		return ReconciliationRecord{}, err
	}
	var err error
	if rec.External, err = parseNumeric(external); err != nil {
		return ReconciliationRecord{}, err
	}
	if rec.Internal, err = parseNumeric(internal); err != nil {
		return ReconciliationRecord{}, err
	}
	if rec.Variance, err = parseNumeric(variance); err != nil {
		return ReconciliationRecord{}, err
	}
	return rec, nil
}

func (r *txRepository) GetReconciliation(ctx context.Context, id int64) (ReconciliationRecord, error) {
	rec, err := scanRecon(r.q.QueryRow(ctx, `SELECT `+reconColumns+` FROM reconciliation_records WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ReconciliationRecord{}, NotFound(EntityReconciliation, IDString(id))
	}
	return rec, err
}

func (r *txRepository) ListReconciliations(ctx context.Context, periodID int64) ([]ReconciliationRecord, error) {
	rows, err := r.q.Query(ctx, `SELECT `+reconColumns+` FROM reconciliation_records WHERE period_id=$1 ORDER BY id`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReconciliationRecord
	for rows.Next() {
		rec, err := scanRecon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *txRepository) ListAudit(ctx context.Context, filter AuditFilter) ([]AuditRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.EntityType != "" {
		add("entity_type=$%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		add("entity_id=$%d", filter.EntityID)
	}
	if filter.Actor != "" {
		add("actor=$%d", filter.Actor)
	}
	if filter.Action != "" {
		add("action=$%d", filter.Action)
	}
	if !filter.From.IsZero() {
		add("occurred_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("occurred_at <= $%d", filter.To)
	}
	query := `SELECT id, actor, entity_type, entity_id, action, before, after, occurred_at FROM audit_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY occurred_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		if err := rows.Scan(&rec.ID, &rec.Actor, &rec.EntityType, &rec.EntityID, &rec.Action, &rec.Before, &rec.After, &rec.At); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertGroup(ctx context.Context, g Group) error {
	_, err := r.q.Exec(ctx, `INSERT INTO account_groups (code, name, category, is_current) VALUES ($1,$2,$3,$4)`, g.Code, g.Name, g.Category, g.Current)
	return mapPgError("insert group", err)
}

func (r *txRepository) InsertType(ctx context.Context, t AccountType) error {
	_, err := r.q.Exec(ctx, `INSERT INTO account_types (code, name, group_code, normal_side) VALUES ($1,$2,$3,$4)`, t.Code, t.Name, t.GroupCode, t.NormalSide)
	return mapPgError("insert type", err)
}

func (r *txRepository) InsertAccount(ctx context.Context, a Account) (Account, error) {
	row := r.q.QueryRow(ctx, `INSERT INTO accounts (code, name, type_code, group_code, category, normal_side, is_cash, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at, updated_at`,
		a.Code, a.Name, a.TypeCode, a.GroupCode, a.Category, a.NormalSide, a.Cash, a.Active)
	if err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Account{}, mapPgError("insert account", err)
	}
	return a, nil
}

func (r *txRepository) UpdateAccount(ctx context.Context, a Account) error {
	cmd, err := r.q.Exec(ctx, `UPDATE accounts SET name=$2, is_cash=$3, is_active=$4, updated_at=NOW() WHERE id=$1`, a.ID, a.Name, a.Cash, a.Active)
	if err != nil {
		return mapPgError("update account", err)
	}
	if cmd.RowsAffected() == 0 {
		return NotFound(EntityAccount, IDString(a.ID))
	}
	return nil
}

func (r *txRepository) InsertMapping(ctx context.Context, m ExternalMapping) error {
	_, err := r.q.Exec(ctx, `INSERT INTO account_mappings (system, external_code, account_id) VALUES ($1,$2,$3)`, m.System, m.ExternalCode, m.AccountID)
	return mapPgError("insert mapping", err)
}

func (r *txRepository) InsertPeriod(ctx context.Context, p Period) (Period, error) {
	row := r.q.QueryRow(ctx, `INSERT INTO periods (fiscal_year, code, start_date, end_date, status)
VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at, updated_at`, p.FiscalYear, p.Code, p.StartDate, p.EndDate, p.Status)
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Period{}, mapPgError("insert period", err)
	}
	return p, nil
}

func (r *txRepository) LockPeriod(ctx context.Context, id int64, mode LockMode) (Period, error) {
	lock := ` FOR SHARE`
	if mode == LockExclusive {
		lock = ` FOR UPDATE`
	}
	p, err := scanPeriod(r.q.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE id=$1`+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, NotFound(EntityPeriod, IDString(id))
	}
	return p, mapPgError("lock period", err)
}

func (r *txRepository) UpdatePeriod(ctx context.Context, p Period) error {
	cmd, err := r.q.Exec(ctx, `UPDATE periods SET status=$2, halted=$3, halt_reason=$4, closed_at=$5, closed_by=$6, updated_at=NOW() WHERE id=$1`,
		p.ID, p.Status, p.Halted, p.HaltReason, p.ClosedAt, p.ClosedBy)
	if err != nil {
		return mapPgError("update period", err)
	}
	if cmd.RowsAffected() == 0 {
		return NotFound(EntityPeriod, IDString(p.ID))
	}
	return nil
}

func (r *txRepository) NextEntrySeq(ctx context.Context, prefix string) (int, error) {
	var seq int
	err := r.q.QueryRow(ctx, `INSERT INTO entry_sequences (prefix, last_value) VALUES ($1, 1)
ON CONFLICT (prefix) DO UPDATE SET last_value = entry_sequences.last_value + 1 RETURNING last_value`, prefix).Scan(&seq)
	return seq, mapPgError("entry sequence", err)
}

func (r *txRepository) InsertEntry(ctx context.Context, e JournalEntry) (JournalEntry, error) {
	row := r.q.QueryRow(ctx, `INSERT INTO journal_entries (number, period_id, entry_date, entry_type, status, memo, source_system, batch_id, created_by, reverses_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at, updated_at`,
		e.Number, e.PeriodID, e.EntryDate, e.Type, e.Status, e.Memo, e.SourceSystem, nullUUID(e.BatchID), e.CreatedBy, e.ReversesID)
	if err := row.Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return JournalEntry{}, mapPgError("insert entry", err)
	}
	lines, err := r.insertLines(ctx, e.ID, e.Lines)
	if err != nil {
		return JournalEntry{}, err
	}
	e.Lines = lines
	return e, nil
}

func (r *txRepository) insertLines(ctx context.Context, entryID int64, lines []Line) ([]Line, error) {
	batch := &pgx.Batch{}
	for i, l := range lines {
		d := l.Dimensions
		batch.Queue(`INSERT INTO journal_lines (entry_id, seq, account_id, debit, credit, memo, dim_segment, dim_entity, dim_project, dim_fund, dim_cost_center, cash_flow)
VALUES ($1,$2,$3,$4::numeric,$5::numeric,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
			entryID, i+1, l.AccountID, numeric(l.Debit), numeric(l.Credit), l.Memo, d.Segment, d.Entity, d.Project, d.Fund, d.CostCenter, d.CashFlow)
	}
	results := r.q.SendBatch(ctx, batch)
	defer results.Close()
	out := make([]Line, len(lines))
	for i, l := range lines {
		l.EntryID = entryID
		l.Seq = i + 1
		if err := results.QueryRow().Scan(&l.ID); err != nil {
			return nil, mapPgError("insert lines", err)
		}
		out[i] = l
	}
	return out, nil
}

func (r *txRepository) UpdateEntry(ctx context.Context, e JournalEntry) error {
	cmd, err := r.q.Exec(ctx, `UPDATE journal_entries SET status=$2, memo=$3, approved_by=$4, posted_by=$5, reject_reason=$6, cancel_reason=$7,
reversed_by_id=$8, submitted_at=$9, approved_at=$10, posted_at=$11, cancelled_at=$12, updated_at=NOW() WHERE id=$1`,
		e.ID, e.Status, e.Memo, e.ApprovedBy, e.PostedBy, e.RejectReason, e.CancelReason,
		e.ReversedByID, e.SubmittedAt, e.ApprovedAt, e.PostedAt, e.CancelledAt)
	if err != nil {
		return mapPgError("update entry", err)
	}
	if cmd.RowsAffected() == 0 {
		return NotFound(EntityJournalEntry, IDString(e.ID))
	}
	return nil
}

func (r *txRepository) ReplaceLines(ctx context.Context, entryID int64, lines []Line) ([]Line, error) {
	if _, err := r.q.Exec(ctx, `DELETE FROM journal_lines WHERE entry_id=$1`, entryID); err != nil {
		return nil, mapPgError("replace lines", err)
	}
	return r.insertLines(ctx, entryID, lines)
}

func (r *txRepository) LockBalances(ctx context.Context, periodID int64, accountIDs []int64) (map[int64]PostedBalance, error) {
	out := make(map[int64]PostedBalance, len(accountIDs))
	if len(accountIDs) == 0 {
		return out, nil
	}
	// Missing rows are created first so every pair has a row to lock.
	if _, err := r.q.Exec(ctx, `INSERT INTO posted_balances (period_id, account_id)
SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`, periodID, accountIDs); err != nil {
		return nil, mapPgError("seed balances", err)
	}
	rows, err := r.q.Query(ctx, `SELECT `+balanceColumns+` FROM posted_balances WHERE period_id=$1 AND account_id = ANY($2)
ORDER BY account_id FOR UPDATE`, periodID, accountIDs)
	if err != nil {
		return nil, mapPgError("lock balances", err)
	}
	defer rows.Close()
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out[b.AccountID] = b
	}
	return out, mapPgError("lock balances", rows.Err())
}

func (r *txRepository) UpsertBalances(ctx context.Context, balances []PostedBalance) error {
	batch := &pgx.Batch{}
	for _, b := range balances {
		batch.Queue(`INSERT INTO posted_balances (period_id, account_id, opening, debit, credit, net, updated_at)
VALUES ($1,$2,$3::numeric,$4::numeric,$5::numeric,$6::numeric,NOW())
ON CONFLICT (period_id, account_id) DO UPDATE SET opening=EXCLUDED.opening, debit=EXCLUDED.debit,
credit=EXCLUDED.credit, net=EXCLUDED.net, updated_at=NOW()`,
			b.PeriodID, b.AccountID, numeric(b.Opening), numeric(b.Debit), numeric(b.Credit), numeric(b.Net))
	}
	results := r.q.SendBatch(ctx, batch)
	defer results.Close()
	for range balances {
		if _, err := results.Exec(); err != nil {
			return mapPgError("upsert balances", err)
		}
	}
	return nil
}

func (r *txRepository) InsertReconciliation(ctx context.Context, rec ReconciliationRecord) (ReconciliationRecord, error) {
	row := r.q.QueryRow(ctx, `INSERT INTO reconciliation_records (period_id, source, run_id, external_code, account_id, external, internal, variance, status, note)
VALUES ($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8::numeric,$9,$10) RETURNING id, created_at`,
		rec.PeriodID, rec.Source, rec.RunID, rec.ExternalCode, rec.AccountID,
		numeric(rec.External), numeric(rec.Internal), numeric(rec.Variance), rec.Status, rec.Note)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return ReconciliationRecord{}, mapPgError("insert reconciliation", err)
	}
	return rec, nil
}

func (r *txRepository) UpdateReconciliation(ctx context.Context, rec ReconciliationRecord) error {
	cmd, err := r.q.Exec(ctx, `UPDATE reconciliation_records SET note=$2, resolved_by=$3, resolved_at=$4 WHERE id=$1`,
		rec.ID, rec.Note, rec.ResolvedBy, rec.ResolvedAt)
	if err != nil {
		return mapPgError("update reconciliation", err)
	}
	if cmd.RowsAffected() == 0 {
		return NotFound(EntityReconciliation, IDString(rec.ID))
	}
	return nil
}

func (r *txRepository) AppendAudit(ctx context.Context, rec AuditRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := r.q.Exec(ctx, `INSERT INTO audit_records (actor, entity_type, entity_id, action, before, after, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, rec.Actor, rec.EntityType, rec.EntityID, rec.Action, rawJSON(rec.Before), rawJSON(rec.After), at)
	return mapPgError("append audit", err)
}

func rawJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
