package accounts_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/memstore"
	"github.com/odyssey-erp/ipsas-ledger/internal/testing/ledgertest"
)

func newService(f *ledgertest.Fixture) *accounts.Service {
	svc := accounts.NewService(f.Store, ledgertest.Logger())
	svc.WithNow(f.Clock.Now)
	return svc
}

func TestCreateAccountDerivesCategoryAndSide(t *testing.T) {
	f := ledgertest.New(t)
	svc := newService(f)
	ctx := context.Background()

	a, err := svc.CreateAccount(ctx, ledgertest.Admin, accounts.AccountInput{Code: "1595", Name: "Accumulated Depreciation - Vehicles", TypeCode: "159"})
	require.NoError(t, err)
	assert.Equal(t, accounting.CategoryAssets, a.Category)
	assert.Equal(t, accounting.NormalCredit, a.NormalSide)
	assert.Equal(t, "15", a.GroupCode)
	assert.True(t, a.Active)

	records := f.Audit(t, accounting.EntityAccount, accounting.IDString(a.ID))
	require.Len(t, records, 1)
	assert.Equal(t, accounting.ActionCreate, records[0].Action)
	assert.Equal(t, ledgertest.Admin.ID, records[0].Actor)
}

func TestCreateAccountValidation(t *testing.T) {
	f := ledgertest.New(t)
	svc := newService(f)
	ctx := context.Background()

	cases := map[string]accounts.AccountInput{
		"wrong prefix":   {Code: "2100", Name: "Misfiled", TypeCode: "100"},
		"duplicate code": {Code: "1000", Name: "Cash again", TypeCode: "100"},
		"unknown type":   {Code: "1900", Name: "Orphan", TypeCode: "190"},
		"missing name":   {Code: "1001", TypeCode: "100"},
		"cash liability": {Code: "2001", Name: "Overdraft", TypeCode: "200", Cash: true},
		"same as type":   {Code: "100", Name: "Cash type", TypeCode: "100"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateAccount(ctx, ledgertest.Admin, in)
			require.ErrorIs(t, err, accounting.ErrValidation)
		})
	}

	_, err := svc.CreateAccount(ctx, ledgertest.Clerk, accounts.AccountInput{Code: "1001", Name: "Petty Cash", TypeCode: "100"})
	require.ErrorIs(t, err, accounting.ErrUnauthorized)
}

func TestCreateGroupAndTypeChain(t *testing.T) {
	f := ledgertest.New(t)
	svc := newService(f)
	ctx := context.Background()

	_, err := svc.CreateGroup(ctx, ledgertest.Admin, accounts.GroupInput{Code: "26", Name: "Provisions", Category: accounting.CategoryAssets})
	require.ErrorIs(t, err, accounting.ErrValidation)

	g, err := svc.CreateGroup(ctx, ledgertest.Admin, accounts.GroupInput{Code: "26", Name: "Provisions", Category: accounting.CategoryLiabilities})
	require.NoError(t, err)

	typ, err := svc.CreateType(ctx, ledgertest.Admin, accounts.TypeInput{Code: "260", Name: "Employee Provisions", GroupCode: g.Code})
	require.NoError(t, err)
	assert.Equal(t, accounting.NormalCredit, typ.NormalSide)

	_, err = svc.CreateType(ctx, ledgertest.Admin, accounts.TypeInput{Code: "360", Name: "Elsewhere", GroupCode: g.Code})
	require.ErrorIs(t, err, accounting.ErrValidation)
	_, err = svc.CreateType(ctx, ledgertest.Admin, accounts.TypeInput{Code: "26", Name: "Same as group", GroupCode: g.Code})
	require.ErrorIs(t, err, accounting.ErrValidation)

	// Sibling ranges under one category digit are accepted.
	_, err = svc.CreateType(ctx, ledgertest.Admin, accounts.TypeInput{Code: "270", Name: "Other Provisions", GroupCode: g.Code})
	require.NoError(t, err)

	a, err := svc.CreateAccount(ctx, ledgertest.Admin, accounts.AccountInput{Code: "2600", Name: "Leave Provision", TypeCode: "260"})
	require.NoError(t, err)
	assert.Equal(t, accounting.CategoryLiabilities, a.Category)
}

func TestDeactivateKeepsAccount(t *testing.T) {
	f := ledgertest.New(t)
	svc := newService(f)
	ctx := context.Background()
	id := f.Account(t, "1100").ID

	a, err := svc.Deactivate(ctx, ledgertest.Admin, id)
	require.NoError(t, err)
	assert.False(t, a.Active)

	_, err = svc.Deactivate(ctx, ledgertest.Admin, id)
	require.NoError(t, err)

	active, err := svc.List(ctx, accounting.AccountFilter{ActiveOnly: true})
	require.NoError(t, err)
	for _, acc := range active {
		assert.NotEqual(t, "1100", acc.Code)
	}
	all, err := svc.List(ctx, accounting.AccountFilter{})
	require.NoError(t, err)
	assert.Len(t, all, len(f.Accounts))

	a, err = svc.Activate(ctx, ledgertest.Admin, id)
	require.NoError(t, err)
	assert.True(t, a.Active)

	records := f.Audit(t, accounting.EntityAccount, accounting.IDString(id))
	require.Len(t, records, 3)
	assert.Equal(t, accounting.ActionActivate, records[0].Action)
	assert.Equal(t, accounting.ActionDeactivate, records[1].Action)
}

func TestMapExternalNormalizesCodes(t *testing.T) {
	f := ledgertest.New(t)
	svc := newService(f)
	ctx := context.Background()
	id := f.Account(t, "4000").ID

	m, err := svc.MapExternal(ctx, ledgertest.Admin, accounts.MappingInput{AccountID: id, System: " promun ", ExternalCode: " r-４０００ "})
	require.NoError(t, err)
	assert.Equal(t, "PROMUN", m.System)
	assert.Equal(t, "R-4000", m.ExternalCode)

	_, err = svc.MapExternal(ctx, ledgertest.Admin, accounts.MappingInput{AccountID: f.Account(t, "4500").ID, System: "PROMUN", ExternalCode: "R-4000"})
	require.ErrorIs(t, err, accounting.ErrValidation)

	_, err = svc.MapExternal(ctx, ledgertest.Admin, accounts.MappingInput{AccountID: 9999, System: "LADS", ExternalCode: "X"})
	require.ErrorIs(t, err, accounting.ErrNotFound)
}

func TestApplySeedIsIdempotent(t *testing.T) {
	f := ledgertest.New(t)
	svc := newService(f)
	seed, err := accounts.LoadSeed(strings.NewReader(`
groups:
  - {code: "10", name: Current Assets, category: assets, current: true}
types:
  - {code: "100", name: Cash and Cash Equivalents, group: "10"}
accounts:
  - code: "1000"
    name: Cash
    type: "100"
    cash: true
    mappings:
      - {system: PROMUN, code: "A-1000"}
  - {code: "1020", name: Petty Cash, type: "100", cash: true}
`))
	require.NoError(t, err)

	res, err := svc.ApplySeed(context.Background(), ledgertest.Admin, seed)
	require.NoError(t, err)
	assert.Equal(t, accounts.SeedResult{Accounts: 1}, res)

	res, err = svc.ApplySeed(context.Background(), ledgertest.Admin, seed)
	require.NoError(t, err)
	assert.Equal(t, accounts.SeedResult{}, res)
}

func TestApplyShippedChart(t *testing.T) {
	file, err := os.Open("../../../configs/chart_of_accounts.yaml")
	require.NoError(t, err)
	defer file.Close()
	seed, err := accounts.LoadSeed(file)
	require.NoError(t, err)

	store := memstore.New()
	svc := accounts.NewService(store, ledgertest.Logger())
	res, err := svc.ApplySeed(context.Background(), ledgertest.Admin, seed)
	require.NoError(t, err)
	assert.Equal(t, accounts.SeedResult{Groups: 9, Types: 12, Accounts: 13, Mappings: 2}, res)

	chart, err := svc.Chart(context.Background())
	require.NoError(t, err)
	for _, code := range []string{"1000", "1010", "1100", "3100", "5500"} {
		_, ok := chart.Lookup(code)
		assert.True(t, ok, "account %s missing from chart", code)
	}
}

func TestLoadSeedRejectsUnknownFields(t *testing.T) {
	_, err := accounts.LoadSeed(strings.NewReader("groups:\n  - {code: \"10\", colour: red}\n"))
	require.Error(t, err)
}

func TestChartLookup(t *testing.T) {
	f := ledgertest.New(t)
	chart, err := newService(f).Chart(context.Background())
	require.NoError(t, err)
	require.Len(t, chart.Categories, len(accounting.Categories))

	path, ok := chart.Lookup("1590")
	require.True(t, ok)
	assert.Equal(t, accounting.CategoryAssets, path.Category)
	assert.Equal(t, "15", path.Group.Code)
	assert.Equal(t, "159", path.Type.Code)
	assert.Equal(t, accounting.NormalCredit, path.Type.NormalSide)
	assert.Equal(t, "Accumulated Depreciation - Equipment", path.Account.Name)

	_, ok = chart.Lookup("9999")
	assert.False(t, ok)
}
