package core

import (
	"fmt"
	"sort"
	"strings"

	"cqadvisor/pkg/cardinality"
	"cqadvisor/pkg/expr"
	"cqadvisor/pkg/util/bimap"
	"cqadvisor/pkg/util/intset"

	"github.com/cockroachdb/errors"
)

type ViewTupleID int

// ViewTuple is one way of using an index for a query: an assignment of the
// index head variables to query symbols, and the groups of query goals
// (subcores) the index answers under that assignment.
type ViewTuple struct {
	id          ViewTupleID
	index       *Index
	query       *Query
	index2query map[int]expr.Symbol

	subcores []intset.Set
	strong   intset.Set
	weak     intset.Set

	// Estimates from the index body rewritten into query variables.
	varCard    map[int]float64
	lookupVars []int

	costLB float64
	costUB float64
}

// NewViewTuple matches idx against q under index2query. It reports false when
// no query goal can be answered, which makes the tuple useless.
func NewViewTuple(id ViewTupleID, idx *Index, q *Query, index2query map[int]expr.Symbol) (*ViewTuple, bool) {
	ie := idx.Expr()
	if len(index2query) != ie.Head().Len() {
		panic(errors.AssertionFailedf("view tuple of %s for %s: %d head assignments, want %d",
			ie.Name(), q.Expr().Name(), len(index2query), ie.Head().Len()))
	}
	ie.Head().ForEach(func(v int) {
		if _, ok := index2query[v]; !ok {
			panic(errors.AssertionFailedf("view tuple of %s: head variable %s unassigned", ie.Name(), ie.VarName(v)))
		}
	})

	m := &matcher{idx: ie, q: q.Expr(), i2q: index2query}
	vt := &ViewTuple{id: id, index: idx, query: q, index2query: index2query}
	for gid := 0; gid < q.NumGoals(); gid++ {
		if m.claimed.Contains(gid) {
			continue
		}
		sc, ok := m.grow(intset.Set{}, intset.Make(gid), bimap.New[int, int]())
		if !ok {
			continue
		}
		vt.subcores = append(vt.subcores, sc)
		m.claimed.UnionWith(sc)
		vt.weak.UnionWith(sc)
		if sc.Len() == 1 {
			vt.strong.UnionWith(sc)
		}
	}
	if len(vt.subcores) == 0 {
		return nil, false
	}
	vt.estimate()
	return vt, true
}

// matcher grows subcores. mu pairs query variables with index variables
// one-to-one; claimed holds goals already in an earlier subcore.
type matcher struct {
	idx     *expr.Expression
	q       *expr.Expression
	i2q     map[int]expr.Symbol
	claimed intset.Set
}

// grow extends subcore by the pending query goals, trying every index goal
// over the same relation for the smallest pending goal and backtracking on
// conflict. Unifying with a variable the index hides pulls every query goal
// that shares it into the subcore.
func (m *matcher) grow(subcore, pending intset.Set, mu *bimap.Map[int, int]) (intset.Set, bool) {
	qg, ok := pending.Min()
	if !ok {
		return subcore, true
	}
	rest := pending.Copy()
	rest.Remove(qg)
	sc := subcore.Copy()
	sc.Add(qg)
	rel := m.q.Goal(qg).Rel
	for ig, g := range m.idx.Goals() {
		if g.Rel != rel {
			continue
		}
		next := mu.Clone()
		pulled, ok := m.unify(qg, ig, next)
		if !ok || pulled.Intersects(m.claimed) {
			continue
		}
		if res, ok := m.grow(sc, rest.Union(pulled.Difference(sc)), next); ok {
			return res, true
		}
	}
	return intset.Set{}, false
}

func (m *matcher) fixed(iv int, qs expr.Symbol) bool {
	s, ok := m.i2q[iv]
	return ok && s == qs
}

func (m *matcher) unify(qg, ig int, mu *bimap.Map[int, int]) (intset.Set, bool) {
	var pulled intset.Set
	qArgs, iArgs := m.q.Goal(qg).Args, m.idx.Goal(ig).Args
	for i, qs := range qArgs {
		is := iArgs[i]
		switch {
		case qs.IsConst:
			if is.IsConst {
				if is.Const != qs.Const {
					return pulled, false
				}
			} else if !m.fixed(is.Var, qs) {
				return pulled, false
			}
		case m.q.IsHead(qs.Var):
			if is.IsConst || !m.fixed(is.Var, qs) {
				return pulled, false
			}
		default:
			if is.IsConst {
				return pulled, false
			}
			if m.idx.IsHead(is.Var) && !m.fixed(is.Var, qs) {
				return pulled, false
			}
			if !mu.TryInsert(qs.Var, is.Var) {
				return pulled, false
			}
			if !m.idx.IsHead(is.Var) {
				pulled.UnionWith(m.q.VarGoals(qs.Var))
			}
		}
	}
	return pulled, true
}

// estimate rewrites the index body into query variables, renaming hidden
// index variables apart, and records per-variable cardinalities given the
// query's inputs.
func (vt *ViewTuple) estimate() {
	ie, qe := vt.index.Expr(), vt.query.Expr()
	base := 0
	qe.Vars().ForEach(func(v int) { base = v + 1 })

	names := make(map[int]string)
	hidden := make(map[int]int)
	goals := make([]expr.Goal, ie.NumGoals())
	var head intset.Set
	for gid, g := range ie.Goals() {
		args := make([]expr.Symbol, len(g.Args))
		for i, s := range g.Args {
			switch {
			case s.IsConst:
				args[i] = s
			case ie.IsHead(s.Var):
				args[i] = vt.index2query[s.Var]
				if !args[i].IsConst {
					head.Add(args[i].Var)
					names[args[i].Var] = qe.VarName(args[i].Var)
				}
			default:
				h, ok := hidden[s.Var]
				if !ok {
					h = base + len(hidden)
					hidden[s.Var] = h
					names[h] = "_" + ie.VarName(s.Var)
				}
				args[i] = expr.VarSym(h)
			}
		}
		goals[gid] = expr.Goal{Rel: g.Rel, Args: args}
	}
	name := fmt.Sprintf("%s@%s", ie.Name(), qe.Name())
	if head.Empty() {
		vt.varCard = map[int]float64{}
	} else {
		x := expr.Build(name, goals, nil, head.Ordered(), names)
		est := cardinality.NewEstimatorAll(x)
		inputs := qe.Bound().Intersection(x.Vars())
		vt.varCard = make(map[int]float64)
		head.ForEach(func(v int) {
			vt.varCard[v] = est.Cardinality(v, inputs)
		})
	}

	var lookups intset.Set
	ie.Bound().ForEach(func(v int) {
		s := vt.index2query[v]
		if !s.IsConst && !qe.IsBound(s.Var) {
			lookups.Add(s.Var)
		}
	})
	vt.lookupVars = lookups.Ordered()
}

func (vt *ViewTuple) ID() ViewTupleID                  { return vt.id }
func (vt *ViewTuple) Index() *Index                    { return vt.index }
func (vt *ViewTuple) Query() *Query                    { return vt.query }
func (vt *ViewTuple) Index2Query() map[int]expr.Symbol { return vt.index2query }
func (vt *ViewTuple) Subcores() []intset.Set           { return vt.subcores }
func (vt *ViewTuple) Strong() intset.Set               { return vt.strong }
func (vt *ViewTuple) Weak() intset.Set                 { return vt.weak }
func (vt *ViewTuple) LookupVars() []int                { return vt.lookupVars }
func (vt *ViewTuple) CostLB() float64                  { return vt.costLB }
func (vt *ViewTuple) CostUB() float64                  { return vt.costUB }

// SetCostBounds records the marginal-cost bounds computed during candidate
// pruning. It is called once, before the tuple is used by any search.
func (vt *ViewTuple) SetCostBounds(lb, ub float64) {
	vt.costLB, vt.costUB = lb, ub
}

// HasSingleton reports whether some subcore is exactly {gid}.
func (vt *ViewTuple) HasSingleton(gid int) bool {
	return vt.strong.Contains(gid)
}

// Assignment renders index2query, e.g. "x=k1, y=d".
func (vt *ViewTuple) Assignment() string {
	ie := vt.index.Expr()
	parts := make([]string, 0, len(vt.index2query))
	ie.Head().ForEach(func(v int) {
		parts = append(parts, ie.VarName(v)+"="+vt.query.SymbolString(vt.index2query[v]))
	})
	return strings.Join(parts, ", ")
}

// SubcoreString renders the subcores as goal lists, e.g. "[K(k1, d)] [E(e, d) C(e, c)]".
func (vt *ViewTuple) SubcoreString() string {
	qe := vt.query.Expr()
	parts := make([]string, len(vt.subcores))
	for i, sc := range vt.subcores {
		var goals []string
		sc.ForEach(func(gid int) { goals = append(goals, qe.ShowGoal(gid)) })
		parts[i] = "[" + strings.Join(goals, " ") + "]"
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func (vt *ViewTuple) String() string {
	return fmt.Sprintf("V%d I%d->Q%d {%s} %s", vt.id, vt.index.ID(), vt.query.ID(), vt.Assignment(), vt.SubcoreString())
}
