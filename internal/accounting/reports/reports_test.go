package reports

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/ipsas-ledger/internal/testing/ledgertest"
	_ "github.com/odyssey-erp/ipsas-ledger/testing"
)

func operating(l accounting.Line) accounting.Line {
	return cashTag(l, accounting.CashFlowOperating)
}

func cashTag(l accounting.Line, a accounting.CashFlowActivity) accounting.Line {
	l.Dimensions.CashFlow = a
	return l
}

func entity(l accounting.Line, name string) accounting.Line {
	l.Dimensions.Entity = name
	return l
}

// seedJanuary posts a month of activity:
// rates 1000, supplies 300, loan 500, capital 2000 (untagged cash), equipment 800, salaries 200.
func seedJanuary(t *testing.T, f *ledgertest.Fixture) {
	t.Helper()
	p := f.Period.ID
	f.PostDirect(t, p, "rates", entity(operating(f.Debit("1000", "1000")), "north"), entity(f.Credit("4000", "1000"), "north"))
	f.PostDirect(t, p, "supplies", entity(f.Debit("5000", "300"), "south"), entity(operating(f.Credit("1000", "300")), "south"))
	f.PostDirect(t, p, "loan", cashTag(f.Debit("1000", "500"), accounting.CashFlowFinancing), f.Credit("2500", "500"))
	f.PostDirect(t, p, "capital", f.Debit("1010", "2000"), f.Credit("3000", "2000"))
	f.PostDirect(t, p, "equipment", f.Debit("1500", "800"), cashTag(f.Credit("1010", "800"), accounting.CashFlowInvesting))
	f.PostDirect(t, p, "salaries", f.Debit("5500", "200"), f.Credit("2000", "200"))
}

func load(t *testing.T, f *ledgertest.Fixture, periodID int64) *Ledger {
	t.Helper()
	l, err := NewService(f.Store, nil, ledgertest.Logger()).Load(context.Background(), periodID)
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	return l
}

func expect(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s: expected %s got %s", name, want, got.StringFixed(2))
	}
}

func TestBuildTrialBalance(t *testing.T) {
	f := ledgertest.New(t)
	seedJanuary(t, f)
	l := load(t, f, f.Period.ID)

	tb := BuildTrialBalance(l.Rows())
	if len(tb.Groups) != 9 {
		t.Fatalf("expected 9 groups, got %d", len(tb.Groups))
	}
	expect(t, "total debit", tb.TotalDebit, "4800")
	expect(t, "total credit", tb.TotalCredit, "4800")
	expect(t, "total closing", tb.TotalClosing, "0")
	expect(t, "closing debit", tb.TotalClosingDebit, "3700")
	expect(t, "closing credit", tb.TotalClosingCredit, "3700")
	if err := tb.Check(f.Period.ID); err != nil {
		t.Fatalf("unexpected check failure: %v", err)
	}

	first := tb.Groups[0]
	if first.Key != "10" || first.Name != "Current Assets" {
		t.Fatalf("unexpected first group %s %s", first.Key, first.Name)
	}
	if first.Accounts[0].Code != "1000" {
		t.Fatalf("expected cash first, got %s", first.Accounts[0].Code)
	}
	expect(t, "cash closing debit", first.Accounts[0].ClosingDebit, "1200")
}

func TestTrialBalanceCheckDetectsImbalance(t *testing.T) {
	f := ledgertest.New(t)
	seedJanuary(t, f)
	l := load(t, f, f.Period.ID)
	l.Balances[0].Debit = l.Balances[0].Debit.Add(decimal.RequireFromString("0.01"))

	err := BuildTrialBalance(l.Rows()).Check(f.Period.ID)
	if !errors.Is(err, accounting.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if _, err := Generate(l, f.Clock.Now()); !errors.Is(err, accounting.ErrInvariantViolation) {
		t.Fatalf("expected generate to refuse a corrupt ledger, got %v", err)
	}
}

func TestTrialBalanceIncludesInactiveAccountsWithActivity(t *testing.T) {
	f := ledgertest.New(t)
	seedJanuary(t, f)
	l := load(t, f, f.Period.ID)
	for i := range l.Accounts {
		switch l.Accounts[i].Code {
		case "5500", "4500":
			l.Accounts[i].Active = false
		}
	}
	codes := map[string]bool{}
	for _, r := range l.Rows() {
		codes[r.Account.Code] = true
	}
	if !codes["5500"] {
		t.Fatalf("inactive account with activity must be listed")
	}
	if codes["4500"] {
		t.Fatalf("inactive account without activity must be hidden")
	}
}

func TestBuildFinancialPosition(t *testing.T) {
	f := ledgertest.New(t)
	seedJanuary(t, f)
	sfp := BuildFinancialPosition(load(t, f, f.Period.ID))

	expect(t, "current assets", sfp.CurrentAssets.Total.Current, "2400")
	expect(t, "non-current assets", sfp.NonCurrentAssets.Total.Current, "800")
	expect(t, "current liabilities", sfp.CurrentLiabilities.Total.Current, "200")
	expect(t, "non-current liabilities", sfp.NonCurrentLiabilities.Total.Current, "500")
	expect(t, "total assets", sfp.TotalAssets.Current, "3200")
	expect(t, "total net assets", sfp.TotalNetAssets.Current, "2500")
	expect(t, "working capital", sfp.WorkingCapital.Current, "2200")
	expect(t, "no comparative", sfp.TotalAssets.Prior, "0")

	last := sfp.NetAssets.Lines[len(sfp.NetAssets.Lines)-1]
	if last.Code != SurplusLineCode {
		t.Fatalf("expected surplus line last, got %s", last.Code)
	}
	expect(t, "surplus line", last.Amount.Current, "500")
	if err := sfp.Check(f.Period.ID); err != nil {
		t.Fatalf("unexpected check failure: %v", err)
	}
}

func TestBuildPerformance(t *testing.T) {
	f := ledgertest.New(t)
	seedJanuary(t, f)
	perf := BuildPerformance(load(t, f, f.Period.ID))

	expect(t, "revenue", perf.Revenue.Total.Current, "1000")
	expect(t, "expenses", perf.Expenses.Total.Current, "500")
	expect(t, "surplus", perf.Surplus.Current, "500")
}

func TestBuildCashFlows(t *testing.T) {
	f := ledgertest.New(t)
	seedJanuary(t, f)
	cf := BuildCashFlows(load(t, f, f.Period.ID))

	op := cf.Section(accounting.CashFlowOperating)
	expect(t, "operating inflows", op.Inflows, "1000")
	expect(t, "operating outflows", op.Outflows, "300")
	expect(t, "operating net", op.Net, "700")
	expect(t, "investing", cf.Section(accounting.CashFlowInvesting).Net, "-800")
	expect(t, "financing", cf.Section(accounting.CashFlowFinancing).Net, "500")
	expect(t, "net change", cf.NetChange, "400")
	expect(t, "excluded", cf.Excluded, "2000")
	expect(t, "beginning", cf.Beginning, "0")
	expect(t, "ending", cf.Ending, "2400")

	if len(cf.Warnings) != 1 {
		t.Fatalf("expected one warning, got %d", len(cf.Warnings))
	}
	w := cf.Warnings[0]
	if w.AccountCode != "1010" || w.Seq != 1 || w.EntryNumber == "" {
		t.Fatalf("unexpected warning %+v", w)
	}
	expect(t, "warning amount", w.Amount, "2000")
	if err := cf.Check(f.Period.ID); err != nil {
		t.Fatalf("unexpected check failure: %v", err)
	}
}

func TestNetAssetsAgreesWithFinancialPosition(t *testing.T) {
	f := ledgertest.New(t)
	seedJanuary(t, f)
	l := load(t, f, f.Period.ID)
	scna := BuildNetAssetsChanges(l)

	expect(t, "opening", scna.Opening, "0")
	expect(t, "surplus", scna.Surplus, "500")
	expect(t, "adjustments", scna.Adjustments.Total.Current, "2000")
	expect(t, "closing", scna.Closing, "2500")
	if err := scna.Check(f.Period.ID, BuildFinancialPosition(l)); err != nil {
		t.Fatalf("unexpected check failure: %v", err)
	}

	broken := FinancialPosition{TotalNetAssets: Figure{Current: decimal.RequireFromString("2499"), Prior: decimal.Zero}}
	err := scna.Check(f.Period.ID, broken)
	var inv *accounting.InvariantViolationError
	if !errors.As(err, &inv) || inv.Check != "scna_sfp" {
		t.Fatalf("expected scna_sfp violation, got %v", err)
	}
}

func TestComparativesAfterRollForward(t *testing.T) {
	f := ledgertest.New(t)
	ctx := context.Background()
	seedJanuary(t, f)

	closer := periods.NewService(f.Store, nil, ledgertest.Logger())
	closer.WithNow(f.Clock.Now)
	res, err := closer.Close(ctx, ledgertest.Admin, f.Period.ID)
	if err != nil {
		t.Fatalf("close january: %v", err)
	}
	feb := res.Next.ID
	f.PostDirect(t, feb, "fees", operating(f.Debit("1000", "100")), f.Credit("4500", "100"))

	st, err := Generate(load(t, f, feb), f.Clock.Now())
	if err != nil {
		t.Fatalf("generate february: %v", err)
	}
	if st.PriorPeriodID == nil || *st.PriorPeriodID != f.Period.ID {
		t.Fatalf("expected january as prior period")
	}
	sfp := st.FinancialPosition
	expect(t, "current assets", sfp.CurrentAssets.Total.Current, "2500")
	expect(t, "current assets prior", sfp.CurrentAssets.Total.Prior, "2400")
	expect(t, "net assets", sfp.TotalNetAssets.Current, "2600")
	expect(t, "net assets prior", sfp.TotalNetAssets.Prior, "2500")
	expect(t, "revenue", st.Performance.Revenue.Total.Current, "100")
	expect(t, "revenue prior", st.Performance.Revenue.Total.Prior, "1000")
	expect(t, "surplus prior", st.Performance.Surplus.Prior, "500")
	expect(t, "scna opening", st.NetAssets.Opening, "2500")
	expect(t, "scna closing", st.NetAssets.Closing, "2600")
	expect(t, "cash beginning", st.CashFlows.Beginning, "2400")
	expect(t, "cash ending", st.CashFlows.Ending, "2500")
	expect(t, "tb opening", st.TrialBalance.TotalOpening, "0")
}

func TestBuildSegment(t *testing.T) {
	f := ledgertest.New(t)
	seedJanuary(t, f)
	l := load(t, f, f.Period.ID)

	north, err := BuildSegment(l, accounting.DimensionEntity, "north")
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	expect(t, "north surplus", north.Performance.Surplus.Current, "1000")
	expect(t, "north cash", north.CashFlows.Ending, "1000")
	expect(t, "north tb debit", north.TrialBalance.TotalDebit, "1000")

	if _, err := BuildSegment(l, accounting.Dimension("region"), "north"); !errors.Is(err, accounting.ErrValidation) {
		t.Fatalf("expected validation error for unknown dimension, got %v", err)
	}
}

func TestBuildConsolidatedSumsToWholeBook(t *testing.T) {
	f := ledgertest.New(t)
	seedJanuary(t, f)
	c, err := BuildConsolidated(load(t, f, f.Period.ID), "")
	if err != nil {
		t.Fatalf("consolidated: %v", err)
	}
	if c.Dimension != accounting.DimensionEntity {
		t.Fatalf("expected entity default, got %s", c.Dimension)
	}
	if len(c.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(c.Segments))
	}
	want := map[string]string{"north": "1000", "south": "-300", Unassigned: "-200"}
	for _, seg := range c.Segments {
		expect(t, seg.Value+" surplus", seg.Performance.Surplus.Current, want[seg.Value])
	}
	expect(t, "whole book", c.Surplus, "500")
}
