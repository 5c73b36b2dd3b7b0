// Package memstore implements accounting.Store in process memory.
//
// Write transactions are serialised and applied copy-on-write: a transaction works
// on a private clone of the committed state which replaces it on commit. Snapshots
// read the committed state without taking the writer lock.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

type mappingKey struct {
	system string
	code   string
}

type balanceKey struct {
	account int64
	period  int64
}

type state struct {
	groups        map[string]accounting.Group
	types         map[string]accounting.AccountType
	accounts      map[int64]accounting.Account
	accountByCode map[string]int64
	mappings      map[mappingKey]accounting.ExternalMapping
	periods       map[int64]accounting.Period
	entries       map[int64]accounting.JournalEntry
	entrySeq      map[string]int
	balances      map[balanceKey]accounting.PostedBalance
	recons        map[int64]accounting.ReconciliationRecord
	audit         []accounting.AuditRecord

	nextAccount int64
	nextPeriod  int64
	nextEntry   int64
	nextLine    int64
	nextRecon   int64
	nextAudit   int64
}

func newState() *state {
	return &state{
		groups:        map[string]accounting.Group{},
		types:         map[string]accounting.AccountType{},
		accounts:      map[int64]accounting.Account{},
		accountByCode: map[string]int64{},
		mappings:      map[mappingKey]accounting.ExternalMapping{},
		periods:       map[int64]accounting.Period{},
		entries:       map[int64]accounting.JournalEntry{},
		entrySeq:      map[string]int{},
		balances:      map[balanceKey]accounting.PostedBalance{},
		recons:        map[int64]accounting.ReconciliationRecord{},
	}
}

func (s *state) clone() *state {
	c := *s
	c.groups = cloneMap(s.groups)
	c.types = cloneMap(s.types)
	c.accounts = cloneMap(s.accounts)
	c.accountByCode = cloneMap(s.accountByCode)
	c.mappings = cloneMap(s.mappings)
	c.periods = cloneMap(s.periods)
	c.entries = cloneMap(s.entries)
	c.entrySeq = cloneMap(s.entrySeq)
	c.balances = cloneMap(s.balances)
	c.recons = cloneMap(s.recons)
	// Appends past the capped length reallocate, leaving the committed slice intact.
	c.audit = s.audit[:len(s.audit):len(s.audit)]
	return &c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store is an in-memory accounting.Store.
type Store struct {
	writeMu sync.Mutex
	current atomic.Pointer[state]
	now     func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	s := &Store{now: time.Now}
	s.current.Store(newState())
	return s
}

// WithNow overrides the clock for testing.
func (s *Store) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithTx executes fn against a private copy of the state and commits it when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, accounting.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	working := s.current.Load().clone()
	if err := fn(ctx, &tx{reader: reader{st: working}, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.current.Store(working)
	return nil
}

// Snapshot executes fn against the last committed state.
func (s *Store) Snapshot(ctx context.Context, fn func(context.Context, accounting.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, reader{st: s.current.Load()})
}

type reader struct {
	st *state
}

func (r reader) ListGroups(_ context.Context) ([]accounting.Group, error) {
	out := make([]accounting.Group, 0, len(r.st.groups))
	for _, g := range r.st.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r reader) ListTypes(_ context.Context) ([]accounting.AccountType, error) {
	out := make([]accounting.AccountType, 0, len(r.st.types))
	for _, t := range r.st.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r reader) GetGroup(_ context.Context, code string) (accounting.Group, error) {
	g, ok := r.st.groups[code]
	if !ok {
		return accounting.Group{}, accounting.NotFound(accounting.EntityGroup, code)
	}
	return g, nil
}

func (r reader) GetType(_ context.Context, code string) (accounting.AccountType, error) {
	t, ok := r.st.types[code]
	if !ok {
		return accounting.AccountType{}, accounting.NotFound(accounting.EntityAccountType, code)
	}
	return t, nil
}

func (r reader) GetAccount(_ context.Context, id int64) (accounting.Account, error) {
	a, ok := r.st.accounts[id]
	if !ok {
		return accounting.Account{}, accounting.NotFound(accounting.EntityAccount, accounting.IDString(id))
	}
	return a, nil
}

func (r reader) GetAccountByCode(ctx context.Context, code string) (accounting.Account, error) {
	id, ok := r.st.accountByCode[code]
	if !ok {
		return accounting.Account{}, accounting.NotFound(accounting.EntityAccount, code)
	}
	return r.GetAccount(ctx, id)
}

func (r reader) ListAccounts(_ context.Context, filter accounting.AccountFilter) ([]accounting.Account, error) {
	out := make([]accounting.Account, 0, len(r.st.accounts))
	for _, a := range r.st.accounts {
		if filter.Category != "" && a.Category != filter.Category {
			continue
		}
		if filter.ActiveOnly && !a.Active {
			continue
		}
		if filter.CashOnly && !a.Cash {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r reader) FindMapping(_ context.Context, system, externalCode string) (accounting.ExternalMapping, error) {
	m, ok := r.st.mappings[mappingKey{system: system, code: externalCode}]
	if !ok {
		return accounting.ExternalMapping{}, accounting.NotFound("mapping", system+":"+externalCode)
	}
	return m, nil
}

func (r reader) ListMappings(_ context.Context, accountID int64) ([]accounting.ExternalMapping, error) {
	var out []accounting.ExternalMapping
	for _, m := range r.st.mappings {
		if m.AccountID == accountID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].System != out[j].System {
			return out[i].System < out[j].System
		}
		return out[i].ExternalCode < out[j].ExternalCode
	})
	return out, nil
}

func (r reader) GetPeriod(_ context.Context, id int64) (accounting.Period, error) {
	p, ok := r.st.periods[id]
	if !ok {
		return accounting.Period{}, accounting.NotFound(accounting.EntityPeriod, accounting.IDString(id))
	}
	return p, nil
}

func (r reader) ListPeriods(_ context.Context) ([]accounting.Period, error) {
	out := make([]accounting.Period, 0, len(r.st.periods))
	for _, p := range r.st.periods {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (r reader) NextPeriod(ctx context.Context, p accounting.Period) (accounting.Period, error) {
	periods, _ := r.ListPeriods(ctx)
	for _, candidate := range periods {
		if candidate.StartDate.After(p.EndDate) {
			return candidate, nil
		}
	}
	return accounting.Period{}, accounting.NotFound(accounting.EntityPeriod, "after "+p.Code)
}

func (r reader) PreviousPeriod(ctx context.Context, p accounting.Period) (accounting.Period, error) {
	periods, _ := r.ListPeriods(ctx)
	for i := len(periods) - 1; i >= 0; i-- {
		if periods[i].EndDate.Before(p.StartDate) {
			return periods[i], nil
		}
	}
	return accounting.Period{}, accounting.NotFound(accounting.EntityPeriod, "before "+p.Code)
}

func (r reader) OpenPeriod(ctx context.Context) (accounting.Period, error) {
	periods, _ := r.ListPeriods(ctx)
	for _, p := range periods {
		if p.Status == accounting.PeriodOpen {
			return p, nil
		}
	}
	return accounting.Period{}, accounting.NotFound(accounting.EntityPeriod, "open")
}

func (r reader) GetEntry(_ context.Context, id int64) (accounting.JournalEntry, error) {
	e, ok := r.st.entries[id]
	if !ok {
		return accounting.JournalEntry{}, accounting.NotFound(accounting.EntityJournalEntry, accounting.IDString(id))
	}
	return copyEntry(e), nil
}

func (r reader) ListEntries(_ context.Context, filter accounting.EntryFilter) ([]accounting.JournalEntry, error) {
	out := make([]accounting.JournalEntry, 0)
	for _, e := range r.st.entries {
		if filter.PeriodID != 0 && e.PeriodID != filter.PeriodID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, copyEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []accounting.JournalEntry{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r reader) CountEntriesByStatus(_ context.Context, periodID int64) (map[accounting.EntryStatus]int, error) {
	counts := map[accounting.EntryStatus]int{}
	for _, e := range r.st.entries {
		if e.PeriodID == periodID {
			counts[e.Status]++
		}
	}
	return counts, nil
}

func (r reader) ListBalances(_ context.Context, periodID int64) ([]accounting.PostedBalance, error) {
	var out []accounting.PostedBalance
	for k, b := range r.st.balances {
		if k.period == periodID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (r reader) SumNet(_ context.Context, periodID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for k, b := range r.st.balances {
		if k.period == periodID {
			sum = sum.Add(b.Net)
		}
	}
	return sum, nil
}

func (r reader) ListPostedLines(_ context.Context, periodID int64) ([]accounting.PostedLine, error) {
	var out []accounting.PostedLine
	for _, e := range r.st.entries {
		if e.PeriodID != periodID || e.Status != accounting.StatusPosted {
			continue
		}
		for _, l := range e.Lines {
			out = append(out, accounting.PostedLine{Line: l, EntryNumber: e.Number, PeriodID: e.PeriodID})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryID != out[j].EntryID {
			return out[i].EntryID < out[j].EntryID
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (r reader) GetReconciliation(_ context.Context, id int64) (accounting.ReconciliationRecord, error) {
	rec, ok := r.st.recons[id]
	if !ok {
		return accounting.ReconciliationRecord{}, accounting.NotFound(accounting.EntityReconciliation, accounting.IDString(id))
	}
	return rec, nil
}

func (r reader) ListReconciliations(_ context.Context, periodID int64) ([]accounting.ReconciliationRecord, error) {
	var out []accounting.ReconciliationRecord
	for _, rec := range r.st.recons {
		if rec.PeriodID == periodID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r reader) ListAudit(_ context.Context, filter accounting.AuditFilter) ([]accounting.AuditRecord, error) {
	out := make([]accounting.AuditRecord, 0)
	for i := len(r.st.audit) - 1; i >= 0; i-- {
		rec := r.st.audit[i]
		if filter.EntityType != "" && rec.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && rec.EntityID != filter.EntityID {
			continue
		}
		if filter.Actor != "" && rec.Actor != filter.Actor {
			continue
		}
		if filter.Action != "" && rec.Action != filter.Action {
			continue
		}
		if !filter.From.IsZero() && rec.At.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && rec.At.After(filter.To) {
			continue
		}
		out = append(out, rec)
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []accounting.AuditRecord{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

type tx struct {
	reader
	now func() time.Time
}

func (t *tx) InsertGroup(_ context.Context, g accounting.Group) error {
	if _, exists := t.st.groups[g.Code]; exists {
		return accounting.Invalid(accounting.EntityGroup, g.Code, "code", "already exists")
	}
	t.st.groups[g.Code] = g
	return nil
}

func (t *tx) InsertType(_ context.Context, at accounting.AccountType) error {
	if _, exists := t.st.types[at.Code]; exists {
		return accounting.Invalid(accounting.EntityAccountType, at.Code, "code", "already exists")
	}
	t.st.types[at.Code] = at
	return nil
}

func (t *tx) InsertAccount(_ context.Context, a accounting.Account) (accounting.Account, error) {
	if _, exists := t.st.accountByCode[a.Code]; exists {
		return accounting.Account{}, accounting.Invalid(accounting.EntityAccount, a.Code, "code", "already exists")
	}
	t.st.nextAccount++
	a.ID = t.st.nextAccount
	now := t.now()
	a.CreatedAt, a.UpdatedAt = now, now
	t.st.accounts[a.ID] = a
	t.st.accountByCode[a.Code] = a.ID
	return a, nil
}

func (t *tx) UpdateAccount(_ context.Context, a accounting.Account) error {
	current, ok := t.st.accounts[a.ID]
	if !ok {
		return accounting.NotFound(accounting.EntityAccount, accounting.IDString(a.ID))
	}
	if current.Code != a.Code {
		return accounting.Invalid(accounting.EntityAccount, current.Code, "code", "is immutable")
	}
	a.CreatedAt = current.CreatedAt
	a.UpdatedAt = t.now()
	t.st.accounts[a.ID] = a
	return nil
}

func (t *tx) InsertMapping(_ context.Context, m accounting.ExternalMapping) error {
	key := mappingKey{system: m.System, code: m.ExternalCode}
	if _, exists := t.st.mappings[key]; exists {
		return accounting.Invalid("mapping", m.System+":"+m.ExternalCode, "external_code", "already mapped")
	}
	m.CreatedAt = t.now()
	t.st.mappings[key] = m
	return nil
}

func (t *tx) InsertPeriod(_ context.Context, p accounting.Period) (accounting.Period, error) {
	for _, existing := range t.st.periods {
		if existing.Overlaps(p) {
			return accounting.Period{}, accounting.Invalid(accounting.EntityPeriod, p.Code, "start_date", "overlaps period "+existing.Code)
		}
	}
	t.st.nextPeriod++
	p.ID = t.st.nextPeriod
	now := t.now()
	p.CreatedAt, p.UpdatedAt = now, now
	t.st.periods[p.ID] = p
	return p, nil
}

func (t *tx) LockPeriod(ctx context.Context, id int64, _ accounting.LockMode) (accounting.Period, error) {
	return t.GetPeriod(ctx, id)
}

func (t *tx) UpdatePeriod(_ context.Context, p accounting.Period) error {
	current, ok := t.st.periods[p.ID]
	if !ok {
		return accounting.NotFound(accounting.EntityPeriod, accounting.IDString(p.ID))
	}
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = t.now()
	t.st.periods[p.ID] = p
	return nil
}

func (t *tx) NextEntrySeq(_ context.Context, prefix string) (int, error) {
	t.st.entrySeq[prefix]++
	return t.st.entrySeq[prefix], nil
}

func (t *tx) InsertEntry(_ context.Context, e accounting.JournalEntry) (accounting.JournalEntry, error) {
	for _, existing := range t.st.entries {
		if existing.Number == e.Number {
			return accounting.JournalEntry{}, accounting.Invalid(accounting.EntityJournalEntry, e.Number, "number", "already exists")
		}
	}
	t.st.nextEntry++
	e.ID = t.st.nextEntry
	now := t.now()
	e.CreatedAt, e.UpdatedAt = now, now
	e.Lines = t.numberLines(e.ID, e.Lines)
	t.st.entries[e.ID] = copyEntry(e)
	return copyEntry(e), nil
}

func (t *tx) LockEntry(ctx context.Context, id int64) (accounting.JournalEntry, error) {
	return t.GetEntry(ctx, id)
}

func (t *tx) UpdateEntry(_ context.Context, e accounting.JournalEntry) error {
	current, ok := t.st.entries[e.ID]
	if !ok {
		return accounting.NotFound(accounting.EntityJournalEntry, accounting.IDString(e.ID))
	}
	e.Lines = current.Lines
	e.CreatedAt = current.CreatedAt
	e.UpdatedAt = t.now()
	t.st.entries[e.ID] = e
	return nil
}

func (t *tx) ReplaceLines(_ context.Context, entryID int64, lines []accounting.Line) ([]accounting.Line, error) {
	current, ok := t.st.entries[entryID]
	if !ok {
		return nil, accounting.NotFound(accounting.EntityJournalEntry, accounting.IDString(entryID))
	}
	current.Lines = t.numberLines(entryID, lines)
	current.UpdatedAt = t.now()
	t.st.entries[entryID] = current
	return copyLines(current.Lines), nil
}

func (t *tx) numberLines(entryID int64, lines []accounting.Line) []accounting.Line {
	out := copyLines(lines)
	for i := range out {
		t.st.nextLine++
		out[i].ID = t.st.nextLine
		out[i].EntryID = entryID
		out[i].Seq = i + 1
	}
	return out
}

func (t *tx) LockBalances(_ context.Context, periodID int64, accountIDs []int64) (map[int64]accounting.PostedBalance, error) {
	out := make(map[int64]accounting.PostedBalance, len(accountIDs))
	for _, id := range accountIDs {
		b, ok := t.st.balances[balanceKey{account: id, period: periodID}]
		if !ok {
			b = accounting.NewBalance(id, periodID)
		}
		out[id] = b
	}
	return out, nil
}

func (t *tx) UpsertBalances(_ context.Context, balances []accounting.PostedBalance) error {
	now := t.now()
	for _, b := range balances {
		b.UpdatedAt = now
		t.st.balances[balanceKey{account: b.AccountID, period: b.PeriodID}] = b
	}
	return nil
}

func (t *tx) InsertReconciliation(_ context.Context, rec accounting.ReconciliationRecord) (accounting.ReconciliationRecord, error) {
	t.st.nextRecon++
	rec.ID = t.st.nextRecon
	rec.CreatedAt = t.now()
	t.st.recons[rec.ID] = rec
	return rec, nil
}

func (t *tx) UpdateReconciliation(_ context.Context, rec accounting.ReconciliationRecord) error {
	if _, ok := t.st.recons[rec.ID]; !ok {
		return accounting.NotFound(accounting.EntityReconciliation, strconv.FormatInt(rec.ID, 10))
	}
	t.st.recons[rec.ID] = rec
	return nil
}

func (t *tx) AppendAudit(_ context.Context, rec accounting.AuditRecord) error {
	t.st.nextAudit++
	rec.ID = t.st.nextAudit
	if rec.At.IsZero() {
		rec.At = t.now()
	}
	t.st.audit = append(t.st.audit, rec)
	return nil
}

func copyEntry(e accounting.JournalEntry) accounting.JournalEntry {
	e.Lines = copyLines(e.Lines)
	return e
}

func copyLines(lines []accounting.Line) []accounting.Line {
	if lines == nil {
		return nil
	}
	out := make([]accounting.Line, len(lines))
	copy(out, lines)
	return out
}
