package optimizer

import (
	"context"
	"math"

	"cqadvisor/pkg/common"
	"cqadvisor/pkg/core"
	"cqadvisor/pkg/expr"
	"cqadvisor/pkg/storage"
	"cqadvisor/pkg/util/intset"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// maxVariantHead caps the head size whose projection and binding variants
// are enumerated; each variant set is exponential in it.
const maxVariantHead = 10

var dedupOpts = expr.MatchOptions{MatchConstants: true, RespectHead: true}

type candidate struct {
	e         *expr.Expression
	essential bool
}

// candidateSet deduplicates expressions up to isomorphism, bucketed by sketch.
type candidateSet struct {
	list     []*candidate
	bySketch map[string][]int
}

func newCandidateSet() *candidateSet {
	return &candidateSet{bySketch: make(map[string][]int)}
}

// add inserts e unless an isomorphic candidate exists. An essential duplicate
// marks the existing candidate essential.
func (cs *candidateSet) add(e *expr.Expression, essential bool) bool {
	for _, i := range cs.bySketch[e.Sketch()] {
		if _, ok := cs.list[i].e.Isomorphic(e, dedupOpts); ok {
			cs.list[i].essential = cs.list[i].essential || essential
			return false
		}
	}
	cs.bySketch[e.Sketch()] = append(cs.bySketch[e.Sketch()], len(cs.list))
	cs.list = append(cs.list, &candidate{e: e, essential: essential})
	return true
}

// mergeAll merges every pair of candidates with equal join-merge sketches
// until no new candidate appears. Merged candidates take part in later
// merges, so constants shared by only some queries are generalized in stages.
func (cs *candidateSet) mergeAll(ids *common.IDAllocator) {
	for j := 1; j < len(cs.list); j++ {
		for i := 0; i < j; i++ {
			ei, ej := cs.list[i].e, cs.list[j].e
			if ei.JoinMergeSketch() != ej.JoinMergeSketch() {
				continue
			}
			if m, ok := ei.MergeWith(ej, ids); ok {
				cs.add(m, false)
			}
		}
	}
}

// GenerateCandidates populates the candidate indexes and view tuples.
func (a *Application) GenerateCandidates(ctx context.Context, engine *storage.Engine) error {
	cs := newCandidateSet()

	// Connected goal subsets of every query.
	for _, q := range a.queries {
		for _, goals := range connectedSubsets(q.Expr(), a.params.MaxNumGoalsIndex) {
			cs.add(q.Expr().Subexpression(goals), goals.Len() == 1)
		}
	}
	nsub := len(cs.list)

	// Merges of same-shaped candidates.
	cs.mergeAll(a.ids)
	nmerged := len(cs.list)

	// Projection and binding-pattern variants.
	for i := 0; i < nmerged; i++ {
		for _, v := range headVariants(cs.list[i].e) {
			cs.add(v, false)
		}
	}
	a.log.Info("candidate expressions",
		zap.Int("subexpressions", nsub), zap.Int("merged", nmerged-nsub), zap.Int("total", len(cs.list)))

	// Storage cap.
	for _, c := range cs.list {
		idx := core.NewIndex(core.IndexID(len(a.indexes)), c.e, a.params.Cost)
		if idx.StorageCost() > a.params.MaxIndexSize && !c.essential {
			a.log.Debug("index over storage cap", zap.Stringer("index", idx), zap.Float64("storage", idx.StorageCost()))
			continue
		}
		a.indexes = append(a.indexes, idx)
		if c.essential {
			a.essential[idx.ID()] = true
		}
	}

	if err := a.generateViewTuples(ctx, engine); err != nil {
		return err
	}
	a.buildPrefixPlans()
	a.boundViewTuples()

	a.log.Info("candidates generated",
		zap.Int("indexes", len(a.candidates)), zap.Int("view_tuples", a.numViewTuples()))
	return nil
}

// connectedSubsets lists the connected goal subsets of size 1..k, smaller
// sets first, each once.
func connectedSubsets(e *expr.Expression, k int) []intset.Set {
	seen := make(map[string]bool)
	var level []intset.Set
	for gid := 0; gid < e.NumGoals(); gid++ {
		s := intset.Make(gid)
		seen[s.String()] = true
		level = append(level, s)
	}
	out := append([]intset.Set(nil), level...)
	for size := 2; size <= k; size++ {
		var next []intset.Set
		for _, s := range level {
			var adj intset.Set
			s.ForEach(func(gid int) {
				e.GoalVars(gid).ForEach(func(v int) { adj.UnionWith(e.VarGoals(v)) })
			})
			adj.DifferenceWith(s)
			adj.ForEach(func(gid int) {
				grown := s.Copy()
				grown.Add(gid)
				if key := grown.String(); !seen[key] {
					seen[key] = true
					next = append(next, grown)
				}
			})
		}
		out = append(out, next...)
		level = next
	}
	return out
}

// headVariants returns every expression obtained from e by dropping a proper
// subset of its head variables and then promoting a subset of the remaining
// free variables to bound, leaving at least one free variable.
func headVariants(e *expr.Expression) []*expr.Expression {
	head := e.Head().Ordered()
	if len(head) > maxVariantHead {
		return nil
	}
	var out []*expr.Expression
	for drop := 0; drop < 1<<len(head)-1; drop++ {
		d := e
		for i, v := range head {
			if drop&(1<<i) != 0 {
				d = d.DropHeadVar(v)
			}
		}
		if drop != 0 {
			out = append(out, d)
		}
		free := d.Free().Ordered()
		for promote := 1; promote < 1<<len(free)-1; promote++ {
			p := d
			for i, v := range free {
				if promote&(1<<i) != 0 {
					p = p.MakeHeadVarBound(v)
				}
			}
			out = append(out, p)
		}
	}
	return out
}

// generateViewTuples evaluates every index over each query's canonical
// database. Each distinct row is one assignment of the index head.
func (a *Application) generateViewTuples(ctx context.Context, engine *storage.Engine) error {
	for _, q := range a.queries {
		db, err := engine.CreateDatabase(ctx, q.Expr().Name(), a.cat, q.CanonicalRows())
		if err != nil {
			return errors.Wrapf(err, "canonical database of %s", q.Expr().Name())
		}
		for _, idx := range a.indexes {
			ie := idx.Expr()
			head := ie.Head().Ordered()
			rows, err := db.Select(ctx, ie, head)
			if err != nil {
				return errors.CombineErrors(err, db.Drop(ctx))
			}
			for _, row := range rows {
				i2q := make(map[int]expr.Symbol, len(head))
				for i, v := range head {
					i2q[v] = q.Thaw(row[i])
				}
				vt, ok := core.NewViewTuple(core.ViewTupleID(len(a.vts)), idx, q, i2q)
				if !ok {
					continue
				}
				a.vts = append(a.vts, vt)
				a.link(vt)
			}
		}
		if err := db.Drop(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *Application) link(vt *core.ViewTuple) {
	id, q := vt.Index().ID(), vt.Query().ID()
	if a.index2query2vt[id] == nil {
		a.index2query2vt[id] = make(map[core.QueryID][]core.ViewTupleID)
	}
	if a.query2index2vt[q] == nil {
		a.query2index2vt[q] = make(map[core.IndexID][]core.ViewTupleID)
	}
	a.index2query2vt[id][q] = append(a.index2query2vt[id][q], vt.ID())
	a.query2index2vt[q][id] = append(a.query2index2vt[q][id], vt.ID())
}

// buildPrefixPlans builds, per query, the plans covering the first i goals of
// its goal order, each extending the last by the cheapest view tuple that
// strongly covers the next goal.
func (a *Application) buildPrefixPlans() {
	for _, q := range a.queries {
		plans := []*core.Plan{core.NewPlan(q, a.params.Cost)}
		for _, gid := range q.GoalOrder() {
			last := plans[len(plans)-1]
			var best *core.ViewTuple
			bestTime := math.Inf(1)
			for _, idx := range a.indexes {
				for _, v := range a.query2index2vt[q.ID()][idx.ID()] {
					vt := a.vts[v]
					if !vt.HasSingleton(gid) {
						continue
					}
					if t := last.Time(vt); t < bestTime {
						best, bestTime = vt, t
					}
				}
			}
			if best == nil {
				break
			}
			next := last.Copy()
			next.Append(best)
			plans = append(plans, next)
		}
		a.prefix[q.ID()] = plans
	}
}

// reference is the complete prefix plan of q, or the empty plan when no
// single-goal view tuple exists for some goal.
func (a *Application) reference(q core.QueryID) *core.Plan {
	plans := a.prefix[q]
	if last := plans[len(plans)-1]; last.IsComplete() {
		return last
	}
	return plans[0]
}

// boundViewTuples sets CostLB and CostUB, drops view tuples above MaxVTLB
// and then indexes left without view tuples.
func (a *Application) boundViewTuples() {
	for _, q := range a.queries {
		ref := a.reference(q.ID())
		pos := make(map[int]int, q.NumGoals())
		for i, gid := range q.GoalOrder() {
			pos[gid] = i
		}
		plans := a.prefix[q.ID()]
		for id, vtids := range a.query2index2vt[q.ID()] {
			var kept []core.ViewTupleID
			for _, v := range vtids {
				vt := a.vts[v]
				lb := ref.Time(vt)
				anchor := vt.Strong()
				if anchor.Empty() {
					anchor = vt.Weak()
				}
				p := q.NumGoals()
				anchor.ForEach(func(gid int) { p = min(p, pos[gid]) })
				ub := plans[min(p, len(plans)-1)].Time(vt)
				vt.SetCostBounds(lb, ub)
				if lb > a.params.MaxVTLB && !(a.essential[id] && !vt.Strong().Empty()) {
					a.log.Debug("view tuple over lower-bound cap", zap.Stringer("view_tuple", vt), zap.Float64("lb", lb))
					continue
				}
				kept = append(kept, v)
			}
			a.query2index2vt[q.ID()][id] = kept
			a.index2query2vt[id][q.ID()] = kept
			if len(kept) == 0 {
				delete(a.query2index2vt[q.ID()], id)
				delete(a.index2query2vt[id], q.ID())
			}
		}
	}
	for _, idx := range a.indexes {
		if len(a.index2query2vt[idx.ID()]) == 0 {
			delete(a.index2query2vt, idx.ID())
			continue
		}
		a.candidates = append(a.candidates, idx.ID())
	}
}

func (a *Application) numViewTuples() int {
	n := 0
	for _, byQuery := range a.index2query2vt {
		for _, vts := range byQuery {
			n += len(vts)
		}
	}
	return n
}
