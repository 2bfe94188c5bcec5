package optimizer

import (
	"fmt"

	"cqadvisor/pkg/core"
	"cqadvisor/pkg/util/intset"

	"github.com/xlab/treeprint"
)

// Design is a set of stored indexes plus one plan per query. Designs share
// plans copy-on-write: a plan is copied before the first append through a
// given design.
type Design struct {
	app     *Application
	stored  intset.Set
	plans   []*core.Plan
	storage float64
	cost    float64

	// Search bounds, set when the design enters the frontier.
	lb, ub float64
}

// EmptyDesign stores nothing and has an empty plan per query.
func (a *Application) EmptyDesign() *Design {
	d := &Design{app: a, plans: make([]*core.Plan, len(a.queries))}
	for i, q := range a.queries {
		d.plans[i] = core.NewPlan(q, a.params.Cost)
	}
	return d
}

func (d *Design) clone() *Design {
	c := *d
	c.stored = d.stored.Copy()
	c.plans = append([]*core.Plan(nil), d.plans...)
	return &c
}

// incremental is the exact cost of adding vt: its index storage if not yet
// stored plus the weighted time of the new stage.
func (d *Design) incremental(vt *core.ViewTuple) float64 {
	inc := vt.Query().Weight() * d.plans[vt.Query().ID()].Time(vt)
	if !d.stored.Contains(int(vt.Index().ID())) {
		inc += d.app.params.WtStorage * vt.Index().StorageCost()
	}
	return inc
}

// add appends vt to its query's plan and stores its index. d must not be
// shared with another search path.
func (d *Design) add(vt *core.ViewTuple) {
	d.cost += d.incremental(vt)
	if id := int(vt.Index().ID()); !d.stored.Contains(id) {
		d.stored.Add(id)
		d.storage += vt.Index().StorageCost()
	}
	q := vt.Query().ID()
	p := d.plans[q].Copy()
	p.Append(vt)
	d.plans[q] = p
}

// with returns a copy of d extended by vt.
func (d *Design) with(vt *core.ViewTuple) *Design {
	c := d.clone()
	c.add(vt)
	return c
}

// IsComplete reports whether every plan answers its query.
func (d *Design) IsComplete() bool {
	for _, p := range d.plans {
		if !p.IsComplete() {
			return false
		}
	}
	return true
}

// NumGoalsRemaining counts the goals no plan covers, even weakly.
func (d *Design) NumGoalsRemaining() int {
	n := 0
	for _, p := range d.plans {
		n += p.NumRemaining()
	}
	return n
}

func (d *Design) Cost() float64                  { return d.cost }
func (d *Design) StorageCost() float64           { return d.storage }
func (d *Design) Plan(q core.QueryID) *core.Plan { return d.plans[q] }

// QueryTime is the weighted time of all plans.
func (d *Design) QueryTime() float64 {
	t := 0.0
	for _, p := range d.plans {
		t += p.Query().Weight() * p.Cost()
	}
	return t
}

// Stored returns the stored indexes in id order.
func (d *Design) Stored() []*core.Index {
	out := make([]*core.Index, 0, d.stored.Len())
	d.stored.ForEach(func(id int) { out = append(out, d.app.indexes[id]) })
	return out
}

// Show renders the design as a tree of stored indexes and plans.
func (d *Design) Show() string {
	tree := treeprint.NewWithRoot(fmt.Sprintf("Design cost=%.6g storage=%.6g time=%.6g complete=%t",
		d.cost, d.storage, d.QueryTime(), d.IsComplete()))
	stored := tree.AddMetaBranch("stored", d.stored.Len())
	for _, idx := range d.Stored() {
		stored.AddMetaNode(fmt.Sprintf("I%d", idx.ID()),
			fmt.Sprintf("%s storage=%.4g", idx.Expr().Show(), idx.StorageCost()))
	}
	plans := tree.AddBranch("plans")
	for _, p := range d.plans {
		q := p.Query()
		br := plans.AddMetaBranch(fmt.Sprintf("Q%d", q.ID()),
			fmt.Sprintf("%s cost=%.4g complete=%t", q.Expr().Name(), p.Cost(), p.IsComplete()))
		for _, vt := range p.Stages() {
			br.AddMetaNode(fmt.Sprintf("V%d", vt.ID()),
				fmt.Sprintf("I%d {%s} %s", vt.Index().ID(), vt.Assignment(), vt.SubcoreString()))
		}
	}
	return tree.String()
}

func (d *Design) String() string {
	return fmt.Sprintf("design cost=%.6g stored=%s", d.cost, d.stored)
}
