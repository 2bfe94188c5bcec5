package core

import (
	"fmt"
	"math"
	"strconv"

	"cqadvisor/pkg/cardinality"
	"cqadvisor/pkg/common"
	"cqadvisor/pkg/expr"
	"cqadvisor/pkg/util/intset"

	"github.com/cockroachdb/errors"
	"github.com/xlab/treeprint"
)

type QueryID int

// Query is one weighted workload query.
type Query struct {
	id     QueryID
	e      *expr.Expression
	weight float64
	est    *cardinality.Estimator

	goalOrder []int
	varCard   map[int]float64

	frozen  map[int]common.Datum
	thawed  map[common.Datum]int
	samples [][]common.Datum
}

func NewQuery(id QueryID, e *expr.Expression, weight float64) *Query {
	if weight < 0 || weight > 1 || math.IsNaN(weight) {
		panic(errors.AssertionFailedf("query %s: weight %v outside [0,1]", e.Name(), weight))
	}
	q := &Query{id: id, e: e, weight: weight, est: cardinality.NewEstimatorAll(e)}
	q.varCard = make(map[int]float64)
	e.Vars().ForEach(func(v int) {
		q.varCard[v] = q.est.Cardinality(v, e.Bound())
	})
	q.orderGoals()
	q.freeze()
	return q
}

// orderGoals picks, starting from the bound head variables, the goal whose
// newly bound variables have the smallest estimated cardinality product.
func (q *Query) orderGoals() {
	bound := q.e.Bound().Copy()
	var done intset.Set
	for done.Len() < q.e.NumGoals() {
		best, bestCost := -1, math.Inf(1)
		for gid := 0; gid < q.e.NumGoals(); gid++ {
			if done.Contains(gid) {
				continue
			}
			cost := 1.0
			for _, c := range q.est.Cardinalities(q.e.GoalVars(gid).Difference(bound).Ordered(), bound) {
				cost *= c
			}
			if best < 0 || cost < bestCost {
				best, bestCost = gid, cost
			}
		}
		done.Add(best)
		bound.UnionWith(q.e.GoalVars(best))
		q.goalOrder = append(q.goalOrder, best)
	}
}

// freeze assigns every variable a constant that does not occur in the query:
// integers count up from 0, strings are decimal text.
func (q *Query) freeze() {
	used := make(map[common.Datum]bool)
	for _, c := range q.e.Constants() {
		used[c] = true
	}
	q.frozen = make(map[int]common.Datum)
	q.thawed = make(map[common.Datum]int)
	n := int64(0)
	q.e.Vars().ForEach(func(v int) {
		for {
			var d common.Datum
			if q.e.VarType(v) == common.Int {
				d = common.NewInt(n)
			} else {
				d = common.NewString(strconv.FormatInt(n, 10))
			}
			n++
			if !used[d] {
				used[d] = true
				q.frozen[v] = d
				q.thawed[d] = v
				return
			}
		}
	})
}

func (q *Query) ID() QueryID                       { return q.id }
func (q *Query) Expr() *expr.Expression            { return q.e }
func (q *Query) Weight() float64                   { return q.weight }
func (q *Query) Estimator() *cardinality.Estimator { return q.est }
func (q *Query) GoalOrder() []int                  { return q.goalOrder }
func (q *Query) NumGoals() int                     { return q.e.NumGoals() }
func (q *Query) Samples() [][]common.Datum         { return q.samples }
func (q *Query) SetSamples(rows [][]common.Datum)  { q.samples = rows }

// VarCardinality is the estimated number of values of v per input binding.
func (q *Query) VarCardinality(v int) float64 {
	c, ok := q.varCard[v]
	if !ok {
		panic(errors.AssertionFailedf("query %s: unknown variable %d", q.e.Name(), v))
	}
	return c
}

// CanonicalRows is the query body with every variable frozen, keyed by
// relation name.
func (q *Query) CanonicalRows() map[string][][]common.Datum {
	out := make(map[string][][]common.Datum)
	for _, g := range q.e.Goals() {
		row := make([]common.Datum, len(g.Args))
		for i, s := range g.Args {
			if s.IsConst {
				row[i] = s.Const
			} else {
				row[i] = q.frozen[s.Var]
			}
		}
		out[g.Rel.Name()] = append(out[g.Rel.Name()], row)
	}
	return out
}

// Thaw maps a value from the canonical database back to the query symbol it
// stands for.
func (q *Query) Thaw(d common.Datum) expr.Symbol {
	if v, ok := q.thawed[d]; ok {
		return expr.VarSym(v)
	}
	return expr.ConstSym(d)
}

// SymbolString renders a query symbol by name.
func (q *Query) SymbolString(s expr.Symbol) string {
	if s.IsConst {
		return s.Const.String()
	}
	return q.e.VarName(s.Var)
}

// Show renders the query with its goal order and the estimated cardinality of
// every variable.
func (q *Query) Show() string {
	tree := treeprint.NewWithRoot(q.String())
	order := tree.AddBranch("goal order")
	for i, gid := range q.goalOrder {
		order.AddMetaNode(i, q.e.ShowGoal(gid))
	}
	vars := tree.AddBranch("cardinality")
	for _, v := range q.e.Vars().Ordered() {
		vars.AddMetaNode(q.e.VarName(v), fmt.Sprintf("%.4g", q.varCard[v]))
	}
	return tree.String()
}

func (q *Query) String() string {
	return fmt.Sprintf("Q%d (w=%.3g) %s", q.id, q.weight, q.e.Show())
}
