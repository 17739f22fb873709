package models

import (
	"fmt"
	"sort"
	"strings"
)

type Category string

const (
	CategoryTaxes           Category = "TAXES"
	CategoryEZPass          Category = "EZPASS"
	CategoryLease           Category = "LEASE"
	CategoryPVB             Category = "PVB"
	CategoryTLC             Category = "TLC"
	CategoryRepair          Category = "REPAIR"
	CategoryLoan            Category = "LOAN"
	CategoryMisc            Category = "MISC"
	CategoryEarnings        Category = "EARNINGS"
	CategoryInterimPayment  Category = "INTERIM_PAYMENT"
	CategoryDeposit         Category = "DEPOSIT"
	CategoryCancellationFee Category = "CANCELLATION_FEE"
)

var categories = map[Category]bool{
	CategoryTaxes:           true,
	CategoryEZPass:          true,
	CategoryLease:           true,
	CategoryPVB:             true,
	CategoryTLC:             true,
	CategoryRepair:          true,
	CategoryLoan:            true,
	CategoryMisc:            true,
	CategoryEarnings:        true,
	CategoryInterimPayment:  true,
	CategoryDeposit:         true,
	CategoryCancellationFee: true,
}

// Valid reports whether c belongs to the closed category set.
func (c Category) Valid() bool {
	return categories[c]
}

// CreditOnly reports whether c can only appear on the credit side.
func (c Category) CreditOnly() bool {
	return c == CategoryEarnings || c == CategoryInterimPayment
}

// ParseCategory normalizes and validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// DefaultPriority is the order earnings are applied in, first entry first.
var DefaultPriority = []Category{
	CategoryTaxes,
	CategoryEZPass,
	CategoryLease,
	CategoryPVB,
	CategoryTLC,
	CategoryRepair,
	CategoryLoan,
	CategoryMisc,
}

// PriorityTable ranks categories for the payment hierarchy.
// Categories missing from the table rank after every listed one.
type PriorityTable struct {
	rank map[Category]int
}

func NewPriorityTable(order []Category) (*PriorityTable, error) {
	rank := make(map[Category]int, len(order))
	for i, c := range order {
		if !c.Valid() {
			return nil, fmt.Errorf("priority table: unknown category %q", c)
		}
		if _, dup := rank[c]; dup {
			return nil, fmt.Errorf("priority table: duplicate category %q", c)
		}
		rank[c] = i + 1
	}
	return &PriorityTable{rank: rank}, nil
}

// MustPriorityTable is NewPriorityTable for hardcoded orders.
func MustPriorityTable(order []Category) *PriorityTable {
	t, err := NewPriorityTable(order)
	if err != nil {
		panic(err)
	}
	return t
}

// Rank returns 1 for the first category; unlisted categories share the last rank.
func (t *PriorityTable) Rank(c Category) int {
	if r, ok := t.rank[c]; ok {
		return r
	}
	return len(t.rank) + 1
}

// Sort orders balances by category rank, then oldest first, then id.
func (t *PriorityTable) Sort(balances []*Balance) {
	sort.SliceStable(balances, func(i, j int) bool {
		ri, rj := t.Rank(balances[i].Category), t.Rank(balances[j].Category)
		if ri != rj {
			return ri < rj
		}
		if !balances[i].CreatedAt.Equal(balances[j].CreatedAt) {
			return balances[i].CreatedAt.Before(balances[j].CreatedAt)
		}
		return balances[i].ID < balances[j].ID
	})
}
