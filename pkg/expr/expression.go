// Package expr implements conjunctive-query expressions: goals over base
// relations plus bound and free head variables, with the structural
// operations candidate generation needs (subexpressions, isomorphism, merge,
// head-variable edits).
package expr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"cqadvisor/pkg/catalog"
	"cqadvisor/pkg/common"
	"cqadvisor/pkg/util/intset"

	"github.com/cockroachdb/errors"
)

// Symbol is one goal argument: a constant or a variable id.
type Symbol struct {
	IsConst bool
	Var     int
	Const   common.Datum
}

func VarSym(v int) Symbol { return Symbol{Var: v} }

func ConstSym(d common.Datum) Symbol { return Symbol{IsConst: true, Const: d} }

// Goal is a base relation applied to one symbol per column.
type Goal struct {
	Rel  *catalog.BaseRelation
	Args []Symbol
}

func (g Goal) clone() Goal {
	args := make([]Symbol, len(g.Args))
	copy(args, g.Args)
	return Goal{Rel: g.Rel, Args: args}
}

// Expression is an immutable conjunctive rule. Transformations return new
// expressions with every derived signature recomputed.
type Expression struct {
	name  string
	goals []Goal
	names map[int]string
	types map[int]common.Dtype

	bound intset.Set
	free  intset.Set
	head  intset.Set
	vars  intset.Set

	varGoals map[int]intset.Set
	joinVars intset.Set

	sketch          string
	shape           string
	joinMergeSketch string
}

// Build assembles an expression from parts and panics if the parts violate
// an expression invariant. Variables missing from names get a generated name.
func Build(name string, goals []Goal, bound, free []int, names map[int]string) *Expression {
	e, err := build(name, goals, bound, free, names)
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "invalid expression %s", name))
	}
	return e
}

func build(name string, goals []Goal, bound, free []int, names map[int]string) (*Expression, error) {
	if len(goals) == 0 {
		return nil, errors.Newf("%s: expression has no goals", name)
	}
	e := &Expression{
		name:     name,
		goals:    make([]Goal, len(goals)),
		names:    make(map[int]string),
		types:    make(map[int]common.Dtype),
		varGoals: make(map[int]intset.Set),
	}
	for gid, g := range goals {
		if g.Rel == nil {
			return nil, errors.Newf("%s: goal %d has no relation", name, gid)
		}
		if len(g.Args) != g.Rel.Arity() {
			return nil, errors.Newf("%s: goal %d over %s has %d arguments, want %d",
				name, gid, g.Rel.Name(), len(g.Args), g.Rel.Arity())
		}
		for col, s := range g.Args {
			want := g.Rel.Type(col)
			if s.IsConst {
				if s.Const.Type != want {
					return nil, errors.Newf("%s: constant %s in %s column %d, want %s",
						name, s.Const, g.Rel.Name(), col, want)
				}
				continue
			}
			if s.Var < 0 {
				return nil, errors.Newf("%s: negative variable id %d", name, s.Var)
			}
			if t, ok := e.types[s.Var]; ok && t != want {
				return nil, errors.Newf("%s: variable %s used as both %s and %s",
					name, varLabel(names, s.Var), t, want)
			}
			e.types[s.Var] = want
			e.vars.Add(s.Var)
			gs := e.varGoals[s.Var]
			gs.Add(gid)
			e.varGoals[s.Var] = gs
		}
		e.goals[gid] = g.clone()
	}
	for _, v := range bound {
		if !e.vars.Contains(v) {
			return nil, errors.Newf("%s: bound head variable %s does not appear in the body", name, varLabel(names, v))
		}
		e.bound.Add(v)
	}
	for _, v := range free {
		if !e.vars.Contains(v) {
			return nil, errors.Newf("%s: free head variable %s does not appear in the body", name, varLabel(names, v))
		}
		if e.bound.Contains(v) {
			return nil, errors.Newf("%s: variable %s is both bound and free", name, varLabel(names, v))
		}
		e.free.Add(v)
	}
	e.head = e.bound.Union(e.free)
	e.vars.ForEach(func(v int) {
		e.names[v] = varLabel(names, v)
	})
	e.computeSignatures()
	return e, nil
}

func varLabel(names map[int]string, v int) string {
	if n, ok := names[v]; ok && n != "" {
		return n
	}
	return "v" + strconv.Itoa(v)
}

func (e *Expression) computeSignatures() {
	var consts []string
	rels := make([]string, 0, len(e.goals))
	relCount := make(map[string]int)
	for _, g := range e.goals {
		rels = append(rels, g.Rel.Name())
		relCount[g.Rel.Name()]++
		for _, s := range g.Args {
			if s.IsConst {
				consts = append(consts, s.Const.String())
			}
		}
	}
	sort.Strings(consts)
	sort.Strings(rels)
	relList := strings.Join(rels, ",")
	e.sketch = fmt.Sprintf("%d|%s|%s", e.head.Len(), strings.Join(consts, ","), relList)
	e.shape = fmt.Sprintf("%d|#%d|%s", e.head.Len(), len(consts), relList)

	var mult []int
	e.joinVars = intset.Set{}
	for _, v := range e.vars.Ordered() {
		if n := e.varGoals[v].Len(); n > 1 {
			e.joinVars.Add(v)
			mult = append(mult, n)
		}
	}
	sort.Ints(mult)
	counts := make([]string, 0, len(relCount))
	for r, n := range relCount {
		counts = append(counts, r+":"+strconv.Itoa(n))
	}
	sort.Strings(counts)
	ms := make([]string, len(mult))
	for i, n := range mult {
		ms[i] = strconv.Itoa(n)
	}
	e.joinMergeSketch = strings.Join(counts, ",") + "|" + strings.Join(ms, ",")
}

func (e *Expression) Name() string    { return e.name }
func (e *Expression) NumGoals() int   { return len(e.goals) }
func (e *Expression) Goal(i int) Goal { return e.goals[i] }

// Goals returns the goal slice. Callers must not modify it.
func (e *Expression) Goals() []Goal { return e.goals }

// AllGoals is the set {0, ..., NumGoals()-1}.
func (e *Expression) AllGoals() intset.Set { return intset.Range(0, len(e.goals)) }

// The variable sets below are shared with the expression; Copy before mutating.
func (e *Expression) Bound() intset.Set { return e.bound }
func (e *Expression) Free() intset.Set  { return e.free }
func (e *Expression) Head() intset.Set  { return e.head }
func (e *Expression) Vars() intset.Set  { return e.vars }

func (e *Expression) IsHead(v int) bool  { return e.head.Contains(v) }
func (e *Expression) IsBound(v int) bool { return e.bound.Contains(v) }
func (e *Expression) IsFree(v int) bool  { return e.free.Contains(v) }

// IsJoinVar reports whether v occurs in more than one goal.
func (e *Expression) IsJoinVar(v int) bool { return e.joinVars.Contains(v) }

// VarGoals returns the goals in which v occurs.
func (e *Expression) VarGoals(v int) intset.Set { return e.varGoals[v] }

func (e *Expression) VarType(v int) common.Dtype {
	t, ok := e.types[v]
	if !ok {
		panic(errors.AssertionFailedf("%s: unknown variable %d", e.name, v))
	}
	return t
}

func (e *Expression) VarName(v int) string {
	n, ok := e.names[v]
	if !ok {
		panic(errors.AssertionFailedf("%s: unknown variable %d", e.name, v))
	}
	return n
}

// VarByName finds a variable by its source name.
func (e *Expression) VarByName(name string) (int, bool) {
	for v, n := range e.names {
		if n == name {
			return v, true
		}
	}
	return 0, false
}

func (e *Expression) Sketch() string          { return e.sketch }
func (e *Expression) JoinMergeSketch() string { return e.joinMergeSketch }

// Constants returns every constant in the body, in goal order.
func (e *Expression) Constants() []common.Datum {
	var out []common.Datum
	for _, g := range e.goals {
		for _, s := range g.Args {
			if s.IsConst {
				out = append(out, s.Const)
			}
		}
	}
	return out
}

// GoalVars returns the variables of goal gid.
func (e *Expression) GoalVars(gid int) intset.Set {
	var s intset.Set
	for _, a := range e.goals[gid].Args {
		if !a.IsConst {
			s.Add(a.Var)
		}
	}
	return s
}

func (e *Expression) symbolString(s Symbol) string {
	if s.IsConst {
		return s.Const.String()
	}
	return e.names[s.Var]
}

func (e *Expression) varList(s intset.Set) string {
	names := make([]string, 0, s.Len())
	s.ForEach(func(v int) { names = append(names, e.names[v]) })
	return strings.Join(names, ", ")
}

// Show renders the expression in the query mini-language.
func (e *Expression) Show() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%s](%s) :- ", e.name, e.varList(e.bound), e.varList(e.free))
	for i := range e.goals {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(e.ShowGoal(i))
	}
	return b.String()
}

// ShowGoal renders one goal, e.g. K(k1, d).
func (e *Expression) ShowGoal(gid int) string {
	g := e.goals[gid]
	args := make([]string, len(g.Args))
	for i, s := range g.Args {
		args[i] = e.symbolString(s)
	}
	return g.Rel.Name() + "(" + strings.Join(args, ", ") + ")"
}

func (e *Expression) String() string { return e.Show() }
