package accounts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/shared"
)

// Service maintains the chart of accounts.
type Service struct {
	store  accounting.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the chart of accounts registry.
func NewService(store accounting.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateGroup adds a group under a category.
func (s *Service) CreateGroup(ctx context.Context, p shared.Principal, in GroupInput) (accounting.Group, error) {
	if err := accounting.Require(p, "create account group", shared.CapabilityAdmin); err != nil {
		return accounting.Group{}, err
	}
	in.Code = strings.TrimSpace(in.Code)
	if err := in.Validate(); err != nil {
		return accounting.Group{}, err
	}
	group := accounting.Group{Code: in.Code, Name: strings.TrimSpace(in.Name), Category: in.Category, Current: in.Current}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		if err := tx.InsertGroup(ctx, group); err != nil {
			return err
		}
		return accounting.AppendAuditRecord(ctx, tx, p.ID, accounting.EntityGroup, group.Code, accounting.ActionCreate, nil, group, s.now())
	})
	if err != nil {
		return accounting.Group{}, err
	}
	return group, nil
}

// CreateType adds an account type under a group.
func (s *Service) CreateType(ctx context.Context, p shared.Principal, in TypeInput) (accounting.AccountType, error) {
	if err := accounting.Require(p, "create account type", shared.CapabilityAdmin); err != nil {
		return accounting.AccountType{}, err
	}
	var created accounting.AccountType
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		t, err := s.createType(ctx, tx, p, in)
		created = t
		return err
	})
	return created, err
}

func (s *Service) createType(ctx context.Context, tx accounting.Tx, p shared.Principal, in TypeInput) (accounting.AccountType, error) {
	code := strings.TrimSpace(in.Code)
	if strings.TrimSpace(in.Name) == "" {
		return accounting.AccountType{}, accounting.Invalid(accounting.EntityAccountType, code, "name", "required")
	}
	group, err := tx.GetGroup(ctx, in.GroupCode)
	if err != nil {
		if errors.Is(err, accounting.ErrNotFound) {
			return accounting.AccountType{}, accounting.Invalid(accounting.EntityAccountType, code, "group_code", "unknown group "+in.GroupCode)
		}
		return accounting.AccountType{}, err
	}
	if !ExtendsCode(code, group.Code) {
		return accounting.AccountType{}, accounting.Invalid(accounting.EntityAccountType, code, "code", "must extend group code "+group.Code)
	}
	side := in.NormalSide
	if side == "" {
		side = group.Category.DefaultNormalSide()
	}
	if side != accounting.NormalDebit && side != accounting.NormalCredit {
		return accounting.AccountType{}, accounting.Invalid(accounting.EntityAccountType, code, "normal_side", "must be debit or credit")
	}
	t := accounting.AccountType{Code: code, Name: strings.TrimSpace(in.Name), GroupCode: group.Code, NormalSide: side}
	if err := tx.InsertType(ctx, t); err != nil {
		return accounting.AccountType{}, err
	}
	if err := accounting.AppendAuditRecord(ctx, tx, p.ID, accounting.EntityAccountType, t.Code, accounting.ActionCreate, nil, t, s.now()); err != nil {
		return accounting.AccountType{}, err
	}
	return t, nil
}

// CreateAccount adds a postable account. Category and normal side come from the type chain.
func (s *Service) CreateAccount(ctx context.Context, p shared.Principal, in AccountInput) (accounting.Account, error) {
	if err := accounting.Require(p, "create account", shared.CapabilityAdmin); err != nil {
		return accounting.Account{}, err
	}
	var created accounting.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		a, err := s.createAccount(ctx, tx, p, in)
		created = a
		return err
	})
	return created, err
}

func (s *Service) createAccount(ctx context.Context, tx accounting.Tx, p shared.Principal, in AccountInput) (accounting.Account, error) {
	code := strings.TrimSpace(in.Code)
	if strings.TrimSpace(in.Name) == "" {
		return accounting.Account{}, accounting.Invalid(accounting.EntityAccount, code, "name", "required")
	}
	t, err := tx.GetType(ctx, in.TypeCode)
	if err != nil {
		if errors.Is(err, accounting.ErrNotFound) {
			return accounting.Account{}, accounting.Invalid(accounting.EntityAccount, code, "type_code", "unknown type "+in.TypeCode)
		}
		return accounting.Account{}, err
	}
	if !ExtendsCode(code, t.Code) {
		return accounting.Account{}, accounting.Invalid(accounting.EntityAccount, code, "code", "must extend type code "+t.Code)
	}
	if _, err := tx.GetAccountByCode(ctx, code); err == nil {
		return accounting.Account{}, accounting.Invalid(accounting.EntityAccount, code, "code", "already exists")
	} else if !errors.Is(err, accounting.ErrNotFound) {
		return accounting.Account{}, err
	}
	group, err := tx.GetGroup(ctx, t.GroupCode)
	if err != nil {
		return accounting.Account{}, err
	}
	if in.Cash && group.Category != accounting.CategoryAssets {
		return accounting.Account{}, accounting.Invalid(accounting.EntityAccount, code, "cash", "only asset accounts may hold cash")
	}
	acct, err := tx.InsertAccount(ctx, accounting.Account{
		Code:       code,
		Name:       strings.TrimSpace(in.Name),
		TypeCode:   t.Code,
		GroupCode:  group.Code,
		Category:   group.Category,
		NormalSide: t.NormalSide,
		Cash:       in.Cash,
		Active:     true,
	})
	if err != nil {
		return accounting.Account{}, err
	}
	if err := accounting.AppendAuditRecord(ctx, tx, p.ID, accounting.EntityAccount, accounting.IDString(acct.ID), accounting.ActionCreate, nil, acct, s.now()); err != nil {
		return accounting.Account{}, err
	}
	return acct, nil
}

// Deactivate retires an account. Referenced accounts are never deleted.
func (s *Service) Deactivate(ctx context.Context, p shared.Principal, id int64) (accounting.Account, error) {
	return s.setActive(ctx, p, id, false)
}

// Activate returns a retired account to service.
func (s *Service) Activate(ctx context.Context, p shared.Principal, id int64) (accounting.Account, error) {
	return s.setActive(ctx, p, id, true)
}

func (s *Service) setActive(ctx context.Context, p shared.Principal, id int64, active bool) (accounting.Account, error) {
	action := accounting.ActionDeactivate
	if active {
		action = accounting.ActionActivate
	}
	if err := accounting.Require(p, action+" account", shared.CapabilityAdmin); err != nil {
		return accounting.Account{}, err
	}
	var updated accounting.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		before, err := tx.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		updated = before
		if before.Active == active {
			return nil
		}
		updated.Active = active
		if err := tx.UpdateAccount(ctx, updated); err != nil {
			return err
		}
		return accounting.AppendAuditRecord(ctx, tx, p.ID, accounting.EntityAccount, accounting.IDString(id), action, before, updated, s.now())
	})
	if err != nil {
		return accounting.Account{}, err
	}
	return updated, nil
}

// MapExternal links an external system code to an account.
func (s *Service) MapExternal(ctx context.Context, p shared.Principal, in MappingInput) (accounting.ExternalMapping, error) {
	if err := accounting.Require(p, "map account", shared.CapabilityAdmin); err != nil {
		return accounting.ExternalMapping{}, err
	}
	var mapping accounting.ExternalMapping
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		m, err := s.mapExternal(ctx, tx, p, in)
		mapping = m
		return err
	})
	return mapping, err
}

func (s *Service) mapExternal(ctx context.Context, tx accounting.Tx, p shared.Principal, in MappingInput) (accounting.ExternalMapping, error) {
	system := NormalizeSystem(in.System)
	code := NormalizeCode(in.ExternalCode)
	if system == "" || code == "" {
		return accounting.ExternalMapping{}, accounting.Invalid("mapping", "", "external_code", "system and code required")
	}
	if _, err := tx.GetAccount(ctx, in.AccountID); err != nil {
		return accounting.ExternalMapping{}, err
	}
	m := accounting.ExternalMapping{System: system, ExternalCode: code, AccountID: in.AccountID}
	if err := tx.InsertMapping(ctx, m); err != nil {
		return accounting.ExternalMapping{}, err
	}
	if err := accounting.AppendAuditRecord(ctx, tx, p.ID, accounting.EntityAccount, accounting.IDString(in.AccountID), accounting.ActionMap, nil, m, s.now()); err != nil {
		return accounting.ExternalMapping{}, err
	}
	return m, nil
}

// Get returns a single account.
func (s *Service) Get(ctx context.Context, id int64) (accounting.Account, error) {
	var out accounting.Account
	err := s.store.Snapshot(ctx, func(ctx context.Context, r accounting.Reader) error {
		a, err := r.GetAccount(ctx, id)
		out = a
		return err
	})
	return out, err
}

// GetByCode returns the account with the given code.
func (s *Service) GetByCode(ctx context.Context, code string) (accounting.Account, error) {
	var out accounting.Account
	err := s.store.Snapshot(ctx, func(ctx context.Context, r accounting.Reader) error {
		a, err := r.GetAccountByCode(ctx, code)
		out = a
		return err
	})
	return out, err
}

// List returns accounts matching filter ordered by code.
func (s *Service) List(ctx context.Context, filter accounting.AccountFilter) ([]accounting.Account, error) {
	var out []accounting.Account
	err := s.store.Snapshot(ctx, func(ctx context.Context, r accounting.Reader) error {
		list, err := r.ListAccounts(ctx, filter)
		out = list
		return err
	})
	return out, err
}

// Chart returns the full hierarchy.
func (s *Service) Chart(ctx context.Context) (*Chart, error) {
	var chart *Chart
	err := s.store.Snapshot(ctx, func(ctx context.Context, r accounting.Reader) error {
		groups, err := r.ListGroups(ctx)
		if err != nil {
			return err
		}
		types, err := r.ListTypes(ctx)
		if err != nil {
			return err
		}
		accts, err := r.ListAccounts(ctx, accounting.AccountFilter{})
		if err != nil {
			return err
		}
		chart = BuildChart(groups, types, accts)
		return nil
	})
	return chart, err
}
