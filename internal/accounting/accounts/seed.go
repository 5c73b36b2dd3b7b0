package accounts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/shared"
)

// Seed is a chart of accounts file.
type Seed struct {
	Groups   []SeedGroup   `yaml:"groups"`
	Types    []SeedType    `yaml:"types"`
	Accounts []SeedAccount `yaml:"accounts"`
}

// SeedGroup is a group entry in a seed file.
type SeedGroup struct {
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Current  bool   `yaml:"current"`
}

// SeedType is a type entry in a seed file.
type SeedType struct {
	Code       string `yaml:"code"`
	Name       string `yaml:"name"`
	Group      string `yaml:"group"`
	NormalSide string `yaml:"normal_side"`
}

// SeedAccount is an account entry in a seed file.
type SeedAccount struct {
	Code     string        `yaml:"code"`
	Name     string        `yaml:"name"`
	Type     string        `yaml:"type"`
	Cash     bool          `yaml:"cash"`
	Mappings []SeedMapping `yaml:"mappings"`
}

// SeedMapping maps the account to an external system code.
type SeedMapping struct {
	System string `yaml:"system"`
	Code   string `yaml:"code"`
}

// LoadSeed decodes a YAML chart file.
func LoadSeed(r io.Reader) (Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return Seed{}, fmt.Errorf("accounts: decode seed: %w", err)
	}
	return seed, nil
}

// SeedResult counts what ApplySeed created.
type SeedResult struct {
	Groups   int
	Types    int
	Accounts int
	Mappings int
}

// ApplySeed creates every missing group, type, account and mapping in one transaction.
// Existing codes are left untouched so the seed can be re-applied.
func (s *Service) ApplySeed(ctx context.Context, p shared.Principal, seed Seed) (SeedResult, error) {
	if err := accounting.Require(p, "seed chart of accounts", shared.CapabilityAdmin); err != nil {
		return SeedResult{}, err
	}
	var res SeedResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		res = SeedResult{}
		for _, g := range seed.Groups {
			if _, err := tx.GetGroup(ctx, g.Code); err == nil {
				continue
			} else if !errors.Is(err, accounting.ErrNotFound) {
				return err
			}
			in := GroupInput{Code: g.Code, Name: g.Name, Category: accounting.Category(g.Category), Current: g.Current}
			if err := in.Validate(); err != nil {
				return err
			}
			group := accounting.Group{Code: in.Code, Name: in.Name, Category: in.Category, Current: in.Current}
			if err := tx.InsertGroup(ctx, group); err != nil {
				return err
			}
			if err := accounting.AppendAuditRecord(ctx, tx, p.ID, accounting.EntityGroup, group.Code, accounting.ActionCreate, nil, group, s.now()); err != nil {
				return err
			}
			res.Groups++
		}
		for _, t := range seed.Types {
			if _, err := tx.GetType(ctx, t.Code); err == nil {
				continue
			} else if !errors.Is(err, accounting.ErrNotFound) {
				return err
			}
			if _, err := s.createType(ctx, tx, p, TypeInput{Code: t.Code, Name: t.Name, GroupCode: t.Group, NormalSide: accounting.NormalSide(t.NormalSide)}); err != nil {
				return err
			}
			res.Types++
		}
		for _, a := range seed.Accounts {
			acct, err := tx.GetAccountByCode(ctx, a.Code)
			switch {
			case errors.Is(err, accounting.ErrNotFound):
				acct, err = s.createAccount(ctx, tx, p, AccountInput{Code: a.Code, Name: a.Name, TypeCode: a.Type, Cash: a.Cash})
				if err != nil {
					return err
				}
				res.Accounts++
			case err != nil:
				return err
			}
			for _, m := range a.Mappings {
				if _, err := tx.FindMapping(ctx, NormalizeSystem(m.System), NormalizeCode(m.Code)); err == nil {
					continue
				} else if !errors.Is(err, accounting.ErrNotFound) {
					return err
				}
				if _, err := s.mapExternal(ctx, tx, p, MappingInput{AccountID: acct.ID, System: m.System, ExternalCode: m.Code}); err != nil {
					return err
				}
				res.Mappings++
			}
		}
		return nil
	})
	if err != nil {
		return SeedResult{}, err
	}
	s.logger.Info("chart of accounts seeded",
		slog.Int("groups", res.Groups), slog.Int("types", res.Types),
		slog.Int("accounts", res.Accounts), slog.Int("mappings", res.Mappings))
	return res, nil
}
