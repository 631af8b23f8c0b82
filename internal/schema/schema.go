// Package schema defines the persisted field layout of the ledger across its
// three logic generations.
//
// Every generation's field list repeats the previous generation's list in
// the same order and appends its own fields. Each generation also declares a
// reserved gap so that the total number of slots stays constant: a field
// added later occupies the gap instead of moving anything that is already
// persisted. The layout is checked twice: by the array-length assertions
// below, which stop the package from compiling when slot counts drift, and by
// Validate, which runs at package init and panics on any ordering, type or
// slot violation.
package schema

import (
	"fmt"
	"strings"
)

// Generation identifies one logic/schema version of the ledger.
type Generation uint8

const (
	Gen1 Generation = 1
	Gen2 Generation = 2
	Gen3 Generation = 3

	// Latest is the newest generation this build understands.
	Latest = Gen3
)

// Version returns the implementation version string reported by the generation.
func (g Generation) Version() string {
	switch g {
	case Gen1:
		return "1.0.0"
	case Gen2:
		return "2.0.0"
	case Gen3:
		return "3.0.0"
	default:
		return "0.0.0"
	}
}

// Valid reports whether g is a known generation.
func (g Generation) Valid() bool {
	return g >= Gen1 && g <= Latest
}

func (g Generation) String() string {
	return fmt.Sprintf("gen%d", uint8(g))
}

// ParseGeneration accepts "1", "gen1", "v1" or a version string like "1.0.0".
func ParseGeneration(s string) (Generation, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(strings.TrimPrefix(s, "gen"), "v")
	s = strings.TrimSuffix(s, ".0.0")
	switch s {
	case "1":
		return Gen1, nil
	case "2":
		return Gen2, nil
	case "3":
		return Gen3, nil
	}
	return 0, fmt.Errorf("unknown generation %q", s)
}

// Kind is the storage type of a field. A slot never changes kind.
type Kind string

const (
	KindAddress            Kind = "address"
	KindUint               Kind = "uint"
	KindBool               Kind = "bool"
	KindUintByAccount      Kind = "map[account]uint"
	KindTimestampByAccount Kind = "map[account]timestamp"
	KindRequestByAccount   Kind = "map[account]withdrawal_request"
)

// Table names used by the relational store.
const (
	TableState    = "ledger_state"
	TableAccounts = "ledger_accounts"
)

// Field is one persisted slot.
type Field struct {
	Name    string
	Kind    Kind
	Slot    int
	Table   string
	Columns []string
}

// TotalSlots is the fixed slot budget shared by all generations.
const TotalSlots = 50

const (
	gen1Fields   = 4
	gen1Reserved = 46

	gen2Fields   = 8
	gen2Reserved = 42

	gen3Fields   = 10
	gen3Reserved = 40
)

// Each pair fails to compile unless fields+reserved == TotalSlots exactly.
var (
	_ [TotalSlots - gen1Fields - gen1Reserved]struct{}
	_ [gen1Fields + gen1Reserved - TotalSlots]struct{}
	_ [TotalSlots - gen2Fields - gen2Reserved]struct{}
	_ [gen2Fields + gen2Reserved - TotalSlots]struct{}
	_ [TotalSlots - gen3Fields - gen3Reserved]struct{}
	_ [gen3Fields + gen3Reserved - TotalSlots]struct{}

	// generations only ever grow
	_ [gen2Fields - gen1Fields]struct{}
	_ [gen3Fields - gen2Fields]struct{}
)

// Layout is the complete persisted layout of one generation.
type Layout struct {
	Generation Generation
	Fields     []Field
	Reserved   int
}

var gen1 = []Field{
	{Name: "asset", Kind: KindAddress, Slot: 0, Table: TableState, Columns: []string{"asset"}},
	{Name: "balances", Kind: KindUintByAccount, Slot: 1, Table: TableAccounts, Columns: []string{"balance"}},
	{Name: "totalDeposits", Kind: KindUint, Slot: 2, Table: TableState, Columns: []string{"total_deposits"}},
	{Name: "depositFeeBps", Kind: KindUint, Slot: 3, Table: TableState, Columns: []string{"deposit_fee_bps"}},
}

var gen2Added = []Field{
	{Name: "yieldRateBps", Kind: KindUint, Slot: 4, Table: TableState, Columns: []string{"yield_rate_bps"}},
	{Name: "lastYieldUpdate", Kind: KindTimestampByAccount, Slot: 5, Table: TableAccounts, Columns: []string{"last_yield_update"}},
	{Name: "accumulatedYield", Kind: KindUintByAccount, Slot: 6, Table: TableAccounts, Columns: []string{"accumulated_yield"}},
	{Name: "depositsPaused", Kind: KindBool, Slot: 7, Table: TableState, Columns: []string{"deposits_paused"}},
}

var gen3Added = []Field{
	{Name: "withdrawalRequests", Kind: KindRequestByAccount, Slot: 8, Table: TableAccounts, Columns: []string{"pending_amount", "pending_requested_at"}},
	{Name: "withdrawalDelay", Kind: KindUint, Slot: 9, Table: TableState, Columns: []string{"withdrawal_delay_seconds"}},
}

var layouts = map[Generation]Layout{
	Gen1: {Generation: Gen1, Fields: gen1, Reserved: gen1Reserved},
	Gen2: {Generation: Gen2, Fields: concat(gen1, gen2Added), Reserved: gen2Reserved},
	Gen3: {Generation: Gen3, Fields: concat(gen1, gen2Added, gen3Added), Reserved: gen3Reserved},
}

func init() {
	if err := Validate(); err != nil {
		panic(err)
	}
}

// Generations lists every known generation, oldest first.
func Generations() []Generation {
	return []Generation{Gen1, Gen2, Gen3}
}

// For returns the layout of generation g.
func For(g Generation) (Layout, bool) {
	l, ok := layouts[g]
	return l, ok
}

// Added returns the fields generation g appends to its predecessor.
func Added(g Generation) []Field {
	cur, ok := layouts[g]
	if !ok {
		return nil
	}
	prev, ok := layouts[g-1]
	if !ok {
		return cur.Fields
	}
	return cur.Fields[len(prev.Fields):]
}

// AddedColumns returns the relational columns introduced by generation g, in slot order.
func AddedColumns(g Generation) []string {
	var out []string
	for _, f := range Added(g) {
		out = append(out, f.Columns...)
	}
	return out
}

// Has reports whether the layout of g contains the named field.
func Has(g Generation, name string) bool {
	l, ok := layouts[g]
	if !ok {
		return false
	}
	for _, f := range l.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Validate checks the append-only rules over every consecutive pair of layouts.
func Validate() error {
	return validateLayouts(layouts)
}

func validateLayouts(set map[Generation]Layout) error {
	var prev *Layout
	for g := Gen1; g <= Latest; g++ {
		cur, ok := set[g]
		if !ok {
			return fmt.Errorf("schema: missing layout for %s", g)
		}
		if len(cur.Fields)+cur.Reserved != TotalSlots {
			return fmt.Errorf("schema: %s uses %d slots, want %d", g, len(cur.Fields)+cur.Reserved, TotalSlots)
		}
		seen := make(map[string]bool, len(cur.Fields))
		for i, f := range cur.Fields {
			if f.Slot != i {
				return fmt.Errorf("schema: %s field %q at slot %d, want %d", g, f.Name, f.Slot, i)
			}
			if seen[f.Name] {
				return fmt.Errorf("schema: %s field %q declared twice", g, f.Name)
			}
			seen[f.Name] = true
		}
		if prev != nil {
			if len(cur.Fields) < len(prev.Fields) {
				return fmt.Errorf("schema: %s drops fields from %s", g, prev.Generation)
			}
			for i, old := range prev.Fields {
				nf := cur.Fields[i]
				if nf.Name != old.Name || nf.Kind != old.Kind || nf.Table != old.Table || !sameColumns(nf.Columns, old.Columns) {
					return fmt.Errorf("schema: %s changes slot %d (%s %s -> %s %s)", g, i, old.Name, old.Kind, nf.Name, nf.Kind)
				}
			}
			consumed := len(cur.Fields) - len(prev.Fields)
			if prev.Reserved-cur.Reserved != consumed {
				return fmt.Errorf("schema: %s reserved gap shrinks by %d, fields added %d", g, prev.Reserved-cur.Reserved, consumed)
			}
		}
		c := cur
		prev = &c
	}
	return nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func concat(parts ...[]Field) []Field {
	var out []Field
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
