package core

import (
	"fmt"
	"math"
	"strings"

	"cqadvisor/pkg/util/intset"

	"github.com/cockroachdb/errors"
)

// Plan is an ordered list of view tuples answering one query.
type Plan struct {
	query  *Query
	cm     CostModel
	stages []*ViewTuple
	cost   float64

	strong   intset.Set
	weak     intset.Set
	exact    intset.Set
	subcores []intset.Set
	complete bool

	// Running per-variable estimate: the minimum over the query estimator
	// and every stage.
	varCard map[int]float64
}

func NewPlan(q *Query, cm CostModel) *Plan {
	p := &Plan{query: q, cm: cm, varCard: make(map[int]float64, len(q.varCard))}
	for v, c := range q.varCard {
		p.varCard[v] = c
	}
	return p
}

// Time is the cost of appending vt next: one seek and one block read per
// expected lookup.
func (p *Plan) Time(vt *ViewTuple) float64 {
	if vt.query != p.query {
		panic(errors.AssertionFailedf("plan for %s costed with view tuple of %s",
			p.query.Expr().Name(), vt.query.Expr().Name()))
	}
	lookups := 1.0
	for _, v := range vt.lookupVars {
		c := p.varCard[v]
		if vc, ok := vt.varCard[v]; ok {
			c = math.Min(c, vc)
		}
		lookups *= c
	}
	lookups = math.Max(1, lookups)
	return lookups * (p.cm.SeekTime + p.cm.ReadTimePerUnit*vt.index.AvgDiskBlockSize())
}

// Append adds vt as the next stage. Cost and covered sets only grow.
func (p *Plan) Append(vt *ViewTuple) {
	p.cost += p.Time(vt)
	p.stages = append(p.stages, vt)
	p.strong = p.strong.Union(vt.strong)
	p.weak = p.weak.Union(vt.weak)
	for _, sc := range vt.subcores {
		p.subcores = append(p.subcores, sc)
		if !sc.Intersects(p.exact) {
			p.exact = p.exact.Union(sc)
		}
	}
	for v, c := range vt.varCard {
		if c < p.varCard[v] {
			p.varCard[v] = c
		}
	}
	if !p.complete {
		p.complete = p.checkComplete()
	}
}

func (p *Plan) checkComplete() bool {
	n := p.query.NumGoals()
	if p.weak.Len() < n {
		return false
	}
	if p.exact.Len() == n {
		return true
	}
	seen := make(map[string]bool)
	var uniq []intset.Set
	for _, sc := range p.subcores {
		k := sc.String()
		if !seen[k] {
			seen[k] = true
			uniq = append(uniq, sc)
		}
	}
	return exactCover(uniq, 0, intset.Set{}, n)
}

// exactCover reports whether some disjoint selection of subcores[i:] extends
// covered to all n goals.
func exactCover(subcores []intset.Set, i int, covered intset.Set, n int) bool {
	if covered.Len() == n {
		return true
	}
	if i == len(subcores) {
		return false
	}
	if sc := subcores[i]; !sc.Intersects(covered) {
		if exactCover(subcores, i+1, covered.Union(sc), n) {
			return true
		}
	}
	return exactCover(subcores, i+1, covered, n)
}

// Copy returns a plan that can be appended to independently.
func (p *Plan) Copy() *Plan {
	c := *p
	c.stages = append([]*ViewTuple(nil), p.stages...)
	c.subcores = append([]intset.Set(nil), p.subcores...)
	c.varCard = make(map[int]float64, len(p.varCard))
	for v, x := range p.varCard {
		c.varCard[v] = x
	}
	return &c
}

// ExtraWeak is the number of goals vt would newly cover weakly.
func (p *Plan) ExtraWeak(vt *ViewTuple) int {
	return vt.weak.Difference(p.weak).Len()
}

// ExtraExact is the number of goals vt would add to the disjoint cover.
func (p *Plan) ExtraExact(vt *ViewTuple) int {
	n := 0
	covered := p.exact
	for _, sc := range vt.subcores {
		if !sc.Intersects(covered) {
			n += sc.Len()
			covered = covered.Union(sc)
		}
	}
	return n
}

// Contains reports whether vt is already a stage.
func (p *Plan) Contains(vt *ViewTuple) bool {
	for _, s := range p.stages {
		if s == vt {
			return true
		}
	}
	return false
}

// NumRemaining is the number of goals not yet weakly covered.
func (p *Plan) NumRemaining() int {
	return p.query.NumGoals() - p.weak.Len()
}

func (p *Plan) Query() *Query        { return p.query }
func (p *Plan) Stages() []*ViewTuple { return p.stages }
func (p *Plan) Cost() float64        { return p.cost }
func (p *Plan) Strong() intset.Set   { return p.strong }
func (p *Plan) Weak() intset.Set     { return p.weak }
func (p *Plan) Exact() intset.Set    { return p.exact }
func (p *Plan) IsComplete() bool     { return p.complete }

func (p *Plan) String() string {
	ids := make([]string, len(p.stages))
	for i, vt := range p.stages {
		ids[i] = fmt.Sprintf("V%d", vt.id)
	}
	return fmt.Sprintf("Q%d [%s] cost=%.4g complete=%t", p.query.id, strings.Join(ids, " "), p.cost, p.complete)
}
