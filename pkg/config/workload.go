package config

import (
	"math"
	"os"

	"cqadvisor/pkg/catalog"
	"cqadvisor/pkg/common"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Workload is the input file: base relation statistics and weighted queries
// in the conjunctive-query mini-language.
type Workload struct {
	Relations []RelationSpec `yaml:"relations"`
	Queries   []QuerySpec    `yaml:"queries"`
}

type RelationSpec struct {
	Name    string       `yaml:"name"`
	Rows    float64      `yaml:"rows"`
	Columns []ColumnSpec `yaml:"columns"`
}

type ColumnSpec struct {
	Name        string  `yaml:"name"`
	Type        string  `yaml:"type"` // int or string
	Cardinality float64 `yaml:"cardinality"`
	Width       float64 `yaml:"width"` // optional
}

type QuerySpec struct {
	Expr   string   `yaml:"expr"`
	Weight *float64 `yaml:"weight"` // nil counts as 1
}

// LoadWorkload reads a workload file and normalizes the query weights to sum
// to 1. A missing weight counts as 1; an explicit 0 stays 0.
func LoadWorkload(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read workload")
	}
	w := &Workload{}
	if err := yaml.Unmarshal(data, w); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if len(w.Queries) == 0 {
		return nil, errors.Newf("workload %s: no queries", path)
	}
	if err := w.normalize(); err != nil {
		return nil, errors.Wrapf(err, "workload %s", path)
	}
	return w, nil
}

func (w *Workload) normalize() error {
	total := 0.0
	for i := range w.Queries {
		q := &w.Queries[i]
		if q.Weight == nil {
			one := 1.0
			q.Weight = &one
		}
		if *q.Weight < 0 || math.IsNaN(*q.Weight) {
			return errors.Newf("query %d: negative weight %v", i, *q.Weight)
		}
		total += *q.Weight
	}
	if total == 0 {
		return errors.New("query weights sum to zero")
	}
	for i := range w.Queries {
		*w.Queries[i].Weight /= total
	}
	return nil
}

// Catalog builds the base relations of the workload, drawing relation ids
// from ids.
func (w *Workload) Catalog(ids *common.IDAllocator) (*catalog.Catalog, error) {
	cat := catalog.New()
	for _, r := range w.Relations {
		if r.Name == "" || len(r.Columns) == 0 {
			return nil, errors.Newf("relation %q: name and columns are required", r.Name)
		}
		if _, dup := cat.Lookup(r.Name); dup {
			return nil, errors.Newf("relation %s declared twice", r.Name)
		}
		cols := make([]catalog.Column, len(r.Columns))
		for i, c := range r.Columns {
			t, ok := common.ParseDtype(c.Type)
			if !ok {
				return nil, errors.Newf("relation %s column %s: unknown type %q", r.Name, c.Name, c.Type)
			}
			cols[i] = catalog.Column{Name: c.Name, Type: t, Cardinality: c.Cardinality, Width: c.Width}
		}
		cat.Add(catalog.NewBaseRelation(ids, r.Name, r.Rows, cols))
	}
	return cat, nil
}
