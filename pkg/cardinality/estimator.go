// Package cardinality estimates distinct-value counts of expression variables
// from per-column statistics, using Fraction arithmetic so products of large
// domains and tiny selectivities never overflow or underflow.
package cardinality

import (
	"math"

	"cqadvisor/pkg/expr"
	"cqadvisor/pkg/util/intset"

	"github.com/cockroachdb/errors"
)

// smallProduct is the x*n threshold below which 1-(1-x)^n is taken as x*n
// and kept symbolic.
const smallProduct = 0.01

// Estimator answers cardinality questions about one expression restricted to
// the goals added so far.
type Estimator struct {
	e      *expr.Expression
	goals  intset.Set
	sel    map[int]Fraction
	domain map[int]float64
}

func NewEstimator(e *expr.Expression) *Estimator {
	return &Estimator{
		e:      e,
		sel:    make(map[int]Fraction),
		domain: make(map[int]float64),
	}
}

// NewEstimatorAll returns an estimator over every goal of e.
func NewEstimatorAll(e *expr.Expression) *Estimator {
	est := NewEstimator(e)
	for gid := 0; gid < e.NumGoals(); gid++ {
		est.AddGoal(gid)
	}
	return est
}

func (est *Estimator) Expr() *expr.Expression { return est.e }

// Goals returns the considered goals; do not mutate.
func (est *Estimator) Goals() intset.Set { return est.goals }

// AddGoal starts considering goal gid. Adding a goal twice is a no-op.
func (est *Estimator) AddGoal(gid int) {
	if gid < 0 || gid >= est.e.NumGoals() {
		panic(errors.AssertionFailedf("%s: goal %d out of range", est.e.Name(), gid))
	}
	if est.goals.Contains(gid) {
		return
	}
	est.goals.Add(gid)

	g := est.e.Goal(gid)
	dom := One()
	for col, s := range g.Args {
		card := g.Rel.Column(col).Cardinality
		dom = dom.Mul(card)
		if s.IsConst {
			continue
		}
		if cur, ok := est.domain[s.Var]; !ok || card < cur {
			est.domain[s.Var] = card
		}
	}
	est.sel[gid] = existence(dom.Inv(), Of(g.Rel.Rows()))
}

// existence returns 1-(1-x)^n, the chance that at least one of n trials with
// success probability x succeeds.
func existence(x, n Fraction) Fraction {
	nx := x.MulFrac(n)
	if nx.Value() < smallProduct {
		return nx
	}
	p := 1 - OneMinusXN(x, n)
	if p <= 0 {
		return nx
	}
	return Of(p)
}

// Selectivity returns the probability that a tuple of values for goal gid
// is present in its relation.
func (est *Estimator) Selectivity(gid int) float64 {
	s, ok := est.sel[gid]
	if !ok {
		panic(errors.AssertionFailedf("%s: goal %d not considered", est.e.Name(), gid))
	}
	return s.Value()
}

// Domain returns the smallest column cardinality v was seen under.
func (est *Estimator) Domain(v int) (float64, bool) {
	d, ok := est.domain[v]
	return d, ok
}

// Cardinality estimates the number of distinct values of v once every variable
// in bound is fixed. Variables the estimator has not seen yield +Inf.
func (est *Estimator) Cardinality(v int, bound intset.Set) float64 {
	dom, ok := est.domain[v]
	if !ok {
		return math.Inf(1)
	}
	if bound.Contains(v) {
		return 1
	}

	var comp, seen intset.Set
	seen.Add(v)
	prob := One()
	others := One()
	queue := []int{v}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		est.e.VarGoals(u).Intersection(est.goals).ForEach(func(gid int) {
			if comp.Contains(gid) {
				return
			}
			comp.Add(gid)
			prob = prob.MulFrac(est.sel[gid])
			est.e.GoalVars(gid).ForEach(func(w int) {
				if seen.Contains(w) || bound.Contains(w) {
					return
				}
				seen.Add(w)
				others = others.Mul(est.domain[w])
				queue = append(queue, w)
			})
		})
	}
	if comp.Empty() {
		return math.Inf(1)
	}
	return existence(prob, others).Mul(dom).Eval(0, dom)
}

// Cardinalities answers Cardinality for each variable in order, treating
// preselected and every earlier variable in vars as bound.
func (est *Estimator) Cardinalities(vars []int, preselected intset.Set) []float64 {
	bound := preselected.Copy()
	out := make([]float64, len(vars))
	for i, v := range vars {
		out[i] = est.Cardinality(v, bound)
		bound.Add(v)
	}
	return out
}

// Clone returns an independent copy.
func (est *Estimator) Clone() *Estimator {
	c := &Estimator{
		e:      est.e,
		goals:  est.goals.Copy(),
		sel:    make(map[int]Fraction, len(est.sel)),
		domain: make(map[int]float64, len(est.domain)),
	}
	for k, v := range est.sel {
		c.sel[k] = v
	}
	for k, v := range est.domain {
		c.domain[k] = v
	}
	return c
}
