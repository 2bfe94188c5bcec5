package expr

import (
	"strconv"

	"cqadvisor/pkg/common"
	"cqadvisor/pkg/util/bimap"
)

// MatchOptions control Isomorphic.
type MatchOptions struct {
	// MatchConstants requires aligned constants to be equal. When false any
	// constant matches any constant in the same position.
	MatchConstants bool
	// RespectHead requires bound variables to map to bound variables, free to
	// free and non-head to non-head. Without it the test is body-only.
	RespectHead bool
}

type headKind uint8

const (
	nonHead headKind = iota
	boundHead
	freeHead
)

func (e *Expression) headKind(v int) headKind {
	switch {
	case e.bound.Contains(v):
		return boundHead
	case e.free.Contains(v):
		return freeHead
	}
	return nonHead
}

// Isomorphic searches for a goal bijection from e to o under which the
// variable identifications of the two bodies mirror each other exactly. On
// success it returns the variable mapping from o's variables to e's.
func (e *Expression) Isomorphic(o *Expression, opts MatchOptions) (map[int]int, bool) {
	if opts.MatchConstants {
		if e.sketch != o.sketch {
			return nil, false
		}
	} else if e.shape != o.shape {
		return nil, false
	}
	m := bimap.New[int, int]()
	used := make([]bool, len(o.goals))
	res, ok := e.isoSearch(o, opts, 0, used, m)
	if !ok {
		return nil, false
	}
	return res.Forward(), true
}

func (e *Expression) isoSearch(
	o *Expression, opts MatchOptions, gi int, used []bool, m *bimap.Map[int, int],
) (*bimap.Map[int, int], bool) {
	if gi == len(e.goals) {
		return m, true
	}
	g := e.goals[gi]
	for j, h := range o.goals {
		if used[j] || h.Rel != g.Rel {
			continue
		}
		next := m.Clone()
		if !e.alignGoal(g, o, h, opts, next) {
			continue
		}
		used[j] = true
		if res, ok := e.isoSearch(o, opts, gi+1, used, next); ok {
			return res, true
		}
		used[j] = false
	}
	return nil, false
}

func (e *Expression) alignGoal(g Goal, o *Expression, h Goal, opts MatchOptions, m *bimap.Map[int, int]) bool {
	for i, a := range g.Args {
		b := h.Args[i]
		if a.IsConst != b.IsConst {
			return false
		}
		if a.IsConst {
			if opts.MatchConstants && a.Const != b.Const {
				return false
			}
			continue
		}
		if opts.RespectHead && e.headKind(a.Var) != o.headKind(b.Var) {
			return false
		}
		if !m.TryInsert(b.Var, a.Var) {
			return false
		}
	}
	return true
}

// Equivalent reports whether e and o are the same candidate up to variable
// renaming: isomorphic bodies with matching constants and head variables.
func (e *Expression) Equivalent(o *Expression) bool {
	_, ok := e.Isomorphic(o, MatchOptions{MatchConstants: true, RespectHead: true})
	return ok
}

// MergeWith generalizes two expressions with the same join shape into one
// parameterized expression. Goals are paired so that join variables (those in
// two or more goals) correspond one-to-one; every other position that differs
// between the two becomes a new free head variable. It returns false when the
// join-merge sketches differ or no pairing exists.
func (e *Expression) MergeWith(o *Expression, ids *common.IDAllocator) (*Expression, bool) {
	if e.joinMergeSketch != o.joinMergeSketch {
		return nil, false
	}
	pair := make([]int, len(e.goals))
	used := make([]bool, len(o.goals))
	if !e.mergeSearch(o, 0, pair, used, bimap.New[int, int]()) {
		return nil, false
	}

	b := newBuilder()
	joinVar := make(map[int]int) // e join var -> merged var
	for gi, g := range e.goals {
		h := o.goals[pair[gi]]
		args := make([]Symbol, len(g.Args))
		for i, a := range g.Args {
			s := h.Args[i]
			typ := g.Rel.Type(i)
			switch {
			case !a.IsConst && e.IsJoinVar(a.Var):
				v, ok := joinVar[a.Var]
				if !ok {
					v = ids.Next()
					joinVar[a.Var] = v
					b.name(v, e.names[a.Var])
					b.head(v, e.IsHead(a.Var) || o.IsHead(s.Var), e.IsBound(a.Var) && o.IsBound(s.Var))
				}
				args[i] = VarSym(v)
			case a.IsConst && s.IsConst && a.Const == s.Const:
				args[i] = a
			case !a.IsConst && !s.IsConst:
				v := ids.Next()
				b.name(v, e.names[a.Var])
				b.head(v, e.IsHead(a.Var) || o.IsHead(s.Var), e.IsBound(a.Var) && o.IsBound(s.Var))
				args[i] = VarSym(v)
			default:
				v := ids.Next()
				b.name(v, "p"+typ.String())
				b.head(v, true, false)
				args[i] = VarSym(v)
			}
		}
		b.goals = append(b.goals, Goal{Rel: g.Rel, Args: args})
	}
	if len(b.bound)+len(b.free) == 0 {
		return nil, false
	}
	return Build(e.name+"+"+o.name, b.goals, b.bound, b.free, b.names), true
}

func (e *Expression) mergeSearch(o *Expression, gi int, pair []int, used []bool, jm *bimap.Map[int, int]) bool {
	if gi == len(e.goals) {
		return true
	}
	g := e.goals[gi]
	for j, h := range o.goals {
		if used[j] || h.Rel != g.Rel {
			continue
		}
		next := jm.Clone()
		if !e.alignJoinShape(g, o, h, next) {
			continue
		}
		used[j] = true
		pair[gi] = j
		if e.mergeSearch(o, gi+1, pair, used, next) {
			return true
		}
		used[j] = false
	}
	return false
}

func (e *Expression) alignJoinShape(g Goal, o *Expression, h Goal, jm *bimap.Map[int, int]) bool {
	for i, a := range g.Args {
		b := h.Args[i]
		aj := !a.IsConst && e.IsJoinVar(a.Var)
		bj := !b.IsConst && o.IsJoinVar(b.Var)
		if aj != bj {
			return false
		}
		if aj && !jm.TryInsert(a.Var, b.Var) {
			return false
		}
	}
	return true
}

// builder collects the parts of a synthesized expression and keeps variable
// names unique.
type builder struct {
	goals []Goal
	bound []int
	free  []int
	names map[int]string
	taken map[string]bool
}

func newBuilder() *builder {
	return &builder{names: make(map[int]string), taken: make(map[string]bool)}
}

func (b *builder) name(v int, want string) {
	n := want
	for i := 1; b.taken[n]; i++ {
		n = want + "_" + strconv.Itoa(i)
	}
	b.taken[n] = true
	b.names[v] = n
}

func (b *builder) head(v int, isHead, isBound bool) {
	switch {
	case isHead && isBound:
		b.bound = append(b.bound, v)
	case isHead:
		b.free = append(b.free, v)
	}
}
