package catalog

import (
	"sort"

	"cqadvisor/pkg/common"

	"github.com/cockroachdb/errors"
)

// DefaultStringWidth is the assumed byte width of a string column when no
// statistics say otherwise.
const DefaultStringWidth = 16

type Column struct {
	Name        string
	Type        common.Dtype
	Cardinality float64 // number of distinct values
	Width       float64 // average stored bytes per value
}

// BaseRelation is an immutable relation schema with statistics.
type BaseRelation struct {
	id      int
	name    string
	columns []Column
	rows    float64
}

// NewBaseRelation validates and freezes a relation. Cardinalities and the row
// count are floored at 1 so estimators never divide by zero.
func NewBaseRelation(ids *common.IDAllocator, name string, rows float64, columns []Column) *BaseRelation {
	if name == "" {
		panic(errors.AssertionFailedf("relation without a name"))
	}
	if len(columns) == 0 {
		panic(errors.AssertionFailedf("relation %s has no columns", name))
	}
	cols := make([]Column, len(columns))
	copy(cols, columns)
	for i := range cols {
		if cols[i].Cardinality < 1 {
			cols[i].Cardinality = 1
		}
		if cols[i].Width <= 0 {
			if cols[i].Type == common.Int {
				cols[i].Width = 4
			} else {
				cols[i].Width = DefaultStringWidth
			}
		}
	}
	if rows < 1 {
		rows = 1
	}
	return &BaseRelation{id: ids.Next(), name: name, columns: cols, rows: rows}
}

func (r *BaseRelation) ID() int                 { return r.id }
func (r *BaseRelation) Name() string            { return r.name }
func (r *BaseRelation) Arity() int              { return len(r.columns) }
func (r *BaseRelation) Rows() float64           { return r.rows }
func (r *BaseRelation) Column(i int) Column     { return r.columns[i] }
func (r *BaseRelation) Columns() []Column       { return r.columns }
func (r *BaseRelation) Type(i int) common.Dtype { return r.columns[i].Type }

// Catalog resolves relation names.
type Catalog struct {
	byName map[string]*BaseRelation
}

func New(rels ...*BaseRelation) *Catalog {
	c := &Catalog{byName: make(map[string]*BaseRelation)}
	for _, r := range rels {
		c.Add(r)
	}
	return c
}

func (c *Catalog) Add(r *BaseRelation) {
	if _, ok := c.byName[r.Name()]; ok {
		panic(errors.AssertionFailedf("duplicate relation %s", r.Name()))
	}
	c.byName[r.Name()] = r
}

func (c *Catalog) Lookup(name string) (*BaseRelation, bool) {
	r, ok := c.byName[name]
	return r, ok
}

// Relations returns all relations sorted by name.
func (c *Catalog) Relations() []*BaseRelation {
	out := make([]*BaseRelation, 0, len(c.byName))
	for _, r := range c.byName {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
