package expr

import (
	"cqadvisor/pkg/common"
	"cqadvisor/pkg/util/intset"

	"github.com/cockroachdb/errors"
)

// Subexpression projects the given goals into a standalone expression that
// shares e's variable ids. Every variable it touches is a free head variable.
func (e *Expression) Subexpression(goals intset.Set) *Expression {
	if goals.Empty() {
		panic(errors.AssertionFailedf("%s: empty subexpression", e.name))
	}
	var sub []Goal
	var vars intset.Set
	goals.ForEach(func(gid int) {
		if gid >= len(e.goals) {
			panic(errors.AssertionFailedf("%s: goal %d out of range", e.name, gid))
		}
		sub = append(sub, e.goals[gid])
		vars.UnionWith(e.GoalVars(gid))
	})
	return Build(e.name+goals.String(), sub, nil, vars.Ordered(), e.names)
}

// Connected reports whether the goals form one component of the variable
// sharing graph restricted to the subset.
func (e *Expression) Connected(goals intset.Set) bool {
	start, ok := goals.Min()
	if !ok {
		return false
	}
	var seen intset.Set
	seen.Add(start)
	queue := []int{start}
	for len(queue) > 0 {
		gid := queue[0]
		queue = queue[1:]
		e.GoalVars(gid).ForEach(func(v int) {
			e.varGoals[v].ForEach(func(next int) {
				if goals.Contains(next) && !seen.Contains(next) {
					seen.Add(next)
					queue = append(queue, next)
				}
			})
		})
	}
	return seen.Len() == goals.Len()
}

func (e *Expression) withHead(name string, bound, free intset.Set) *Expression {
	return Build(name, e.goals, bound.Ordered(), free.Ordered(), e.names)
}

// DropHeadVar projects v out of the head. At least one head variable must
// remain.
func (e *Expression) DropHeadVar(v int) *Expression {
	if !e.head.Contains(v) {
		panic(errors.AssertionFailedf("%s: %d is not a head variable", e.name, v))
	}
	if e.head.Len() == 1 {
		panic(errors.AssertionFailedf("%s: cannot drop the last head variable", e.name))
	}
	bound, free := e.bound.Copy(), e.free.Copy()
	bound.Remove(v)
	free.Remove(v)
	return e.withHead(e.name+"-"+e.names[v], bound, free)
}

// MakeHeadVarBound turns free head variable v into an input. At least one free
// variable must remain.
func (e *Expression) MakeHeadVarBound(v int) *Expression {
	if !e.free.Contains(v) {
		panic(errors.AssertionFailedf("%s: %d is not a free head variable", e.name, v))
	}
	if e.free.Len() == 1 {
		panic(errors.AssertionFailedf("%s: cannot bind the last free variable", e.name))
	}
	bound, free := e.bound.Copy(), e.free.Copy()
	free.Remove(v)
	bound.Add(v)
	return e.withHead(e.name+"^"+e.names[v], bound, free)
}

// Select replaces variable v by the constant d everywhere. v leaves the head.
func (e *Expression) Select(v int, d common.Datum) *Expression {
	if e.VarType(v) != d.Type {
		panic(errors.AssertionFailedf("%s: selecting %s on %s variable %s", e.name, d, e.types[v], e.names[v]))
	}
	goals := make([]Goal, len(e.goals))
	for i, g := range e.goals {
		goals[i] = g.clone()
		for j, s := range goals[i].Args {
			if !s.IsConst && s.Var == v {
				goals[i].Args[j] = ConstSym(d)
			}
		}
	}
	bound, free := e.bound.Copy(), e.free.Copy()
	bound.Remove(v)
	free.Remove(v)
	if bound.Empty() && free.Empty() {
		panic(errors.AssertionFailedf("%s: selection removes the last head variable", e.name))
	}
	return Build(e.name+"|"+e.names[v]+"="+d.String(), goals, bound.Ordered(), free.Ordered(), e.names)
}

// Join conjoins e and o, identifying each pair (e variable, o variable) in on.
// The two expressions must use disjoint variable ids. A joined variable is
// bound only if every side that exposes it binds it.
func (e *Expression) Join(o *Expression, on [][2]int) *Expression {
	if e.vars.Intersects(o.vars) {
		panic(errors.AssertionFailedf("join of %s and %s: variable ids overlap", e.name, o.name))
	}
	rename := make(map[int]int)
	for _, p := range on {
		if e.VarType(p[0]) != o.VarType(p[1]) {
			panic(errors.AssertionFailedf("join of %s and %s: type mismatch on %s=%s",
				e.name, o.name, e.names[p[0]], o.names[p[1]]))
		}
		rename[p[1]] = p[0]
	}
	target := func(v int) int {
		if t, ok := rename[v]; ok {
			return t
		}
		return v
	}

	b := newBuilder()
	e.vars.ForEach(func(v int) { b.name(v, e.names[v]) })
	o.vars.ForEach(func(v int) {
		if _, ok := rename[v]; !ok {
			b.name(v, o.names[v])
		}
	})
	b.goals = append(b.goals, e.goals...)
	for _, g := range o.goals {
		g = g.clone()
		for i, s := range g.Args {
			if !s.IsConst {
				g.Args[i] = VarSym(target(s.Var))
			}
		}
		b.goals = append(b.goals, g)
	}

	var head, bound intset.Set
	consider := func(x *Expression, v, t int) {
		if !x.IsHead(v) {
			return
		}
		if !head.Contains(t) {
			head.Add(t)
			if x.IsBound(v) {
				bound.Add(t)
			}
			return
		}
		if !x.IsBound(v) {
			bound.Remove(t)
		}
	}
	e.head.ForEach(func(v int) { consider(e, v, v) })
	o.head.ForEach(func(v int) { consider(o, v, target(v)) })
	return Build(e.name+"*"+o.name, b.goals, bound.Ordered(), head.Difference(bound).Ordered(), b.names)
}
