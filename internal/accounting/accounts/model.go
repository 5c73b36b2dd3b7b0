package accounts

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
)

// GroupInput creates a chart group under a category.
type GroupInput struct {
	Code     string              `json:"code" validate:"required,numeric"`
	Name     string              `json:"name" validate:"required"`
	Category accounting.Category `json:"category" validate:"required,oneof=assets liabilities equity revenue expenses"`
	Current  bool                `json:"current"`
}

// Validate checks the group code sits under its category digit.
func (in GroupInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return accounting.Invalid(accounting.EntityGroup, in.Code, "name", "required")
	}
	if !in.Category.Valid() {
		return accounting.Invalid(accounting.EntityGroup, in.Code, "category", "unknown category "+string(in.Category))
	}
	if in.Code == "" || !strings.HasPrefix(in.Code, in.Category.CodePrefix()) {
		return accounting.Invalid(accounting.EntityGroup, in.Code, "code", "must start with "+in.Category.CodePrefix())
	}
	return nil
}

// ExtendsCode reports whether code sits under parent in the chart. Codes
// below a group keep the group's category digit and are longer than their parent.
func ExtendsCode(code, parent string) bool {
	if code == "" || parent == "" || len(code) <= len(parent) {
		return false
	}
	return code[0] == parent[0]
}

// TypeInput creates an account type under a group. NormalSide defaults to the category's side.
type TypeInput struct {
	Code       string                `json:"code" validate:"required,numeric"`
	Name       string                `json:"name" validate:"required"`
	GroupCode  string                `json:"group_code" validate:"required"`
	NormalSide accounting.NormalSide `json:"normal_side" validate:"omitempty,oneof=debit credit"`
}

// AccountInput creates a postable account under a type.
type AccountInput struct {
	Code     string `json:"code" validate:"required,numeric"`
	Name     string `json:"name" validate:"required"`
	TypeCode string `json:"type_code" validate:"required"`
	Cash     bool   `json:"cash"`
}

// MappingInput links an external system code to an account.
type MappingInput struct {
	AccountID    int64  `json:"account_id" validate:"required"`
	System       string `json:"system" validate:"required"`
	ExternalCode string `json:"external_code" validate:"required"`
}

// NormalizeSystem upper-cases external system names (PROMUN, LADS).
func NormalizeSystem(system string) string {
	return strings.ToUpper(strings.TrimSpace(system))
}

// NormalizeCode folds an external account code to its comparable form: NFKC,
// trimmed and upper-cased. Full-width digits from spreadsheet exports compare
// equal to their ASCII forms.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(norm.NFKC.String(code)))
}

// Chart is the account hierarchy. Categories own groups, groups own types and types
// own accounts; the code index resolves an account back to its ancestors.
type Chart struct {
	Categories []CategoryNode `json:"categories"`
	index      map[string]position
}

// CategoryNode is a category with its groups.
type CategoryNode struct {
	Category accounting.Category `json:"category"`
	Groups   []GroupNode         `json:"groups"`
}

// GroupNode is a group with its account types.
type GroupNode struct {
	Group accounting.Group `json:"group"`
	Types []TypeNode       `json:"types"`
}

// TypeNode is an account type with its accounts.
type TypeNode struct {
	Type     accounting.AccountType `json:"type"`
	Accounts []accounting.Account   `json:"accounts"`
}

type position struct {
	category, group, typ, account int
}

// AccountPath is an account together with its ancestors.
type AccountPath struct {
	Category accounting.Category
	Group    accounting.Group
	Type     accounting.AccountType
	Account  accounting.Account
}

// Lookup resolves an account code to its position in the hierarchy.
func (c *Chart) Lookup(code string) (AccountPath, bool) {
	pos, ok := c.index[code]
	if !ok {
		return AccountPath{}, false
	}
	cat := c.Categories[pos.category]
	grp := cat.Groups[pos.group]
	typ := grp.Types[pos.typ]
	return AccountPath{
		Category: cat.Category,
		Group:    grp.Group,
		Type:     typ.Type,
		Account:  typ.Accounts[pos.account],
	}, true
}

// BuildChart assembles the tree from flat listings. Items whose parent is missing are skipped.
func BuildChart(groups []accounting.Group, types []accounting.AccountType, accts []accounting.Account) *Chart {
	chart := &Chart{index: map[string]position{}}
	catIdx := map[accounting.Category]int{}
	for _, cat := range accounting.Categories {
		catIdx[cat] = len(chart.Categories)
		chart.Categories = append(chart.Categories, CategoryNode{Category: cat})
	}
	groupPos := map[string][2]int{}
	for _, g := range groups {
		ci, ok := catIdx[g.Category]
		if !ok {
			continue
		}
		groupPos[g.Code] = [2]int{ci, len(chart.Categories[ci].Groups)}
		chart.Categories[ci].Groups = append(chart.Categories[ci].Groups, GroupNode{Group: g})
	}
	typePos := map[string][3]int{}
	for _, t := range types {
		gp, ok := groupPos[t.GroupCode]
		if !ok {
			continue
		}
		node := &chart.Categories[gp[0]].Groups[gp[1]]
		typePos[t.Code] = [3]int{gp[0], gp[1], len(node.Types)}
		node.Types = append(node.Types, TypeNode{Type: t})
	}
	for _, a := range accts {
		tp, ok := typePos[a.TypeCode]
		if !ok {
			continue
		}
		node := &chart.Categories[tp[0]].Groups[tp[1]].Types[tp[2]]
		chart.index[a.Code] = position{category: tp[0], group: tp[1], typ: tp[2], account: len(node.Accounts)}
		node.Accounts = append(node.Accounts, a)
	}
	return chart
}
