package optimizer

import (
	"math"

	"cqadvisor/pkg/core"

	"github.com/cockroachdb/errors"
)

// wscMode selects how the greedy cover measures progress and cost. Exact
// mode counts goals added to a plan's disjoint cover and costs stages by
// Plan.Time; it stops once every plan is complete. Estimate mode counts
// weakly covered goals and costs stages by their precomputed lower bound; it
// stops once every goal is weakly covered.
type wscMode bool

const (
	wscEstimate wscMode = false
	wscExact    wscMode = true
)

func (m wscMode) done(p *core.Plan) bool {
	if m == wscExact {
		return p.IsComplete()
	}
	return p.NumRemaining() == 0
}

func (m wscMode) coverage(p *core.Plan, vt *core.ViewTuple) int {
	if m == wscExact {
		return p.ExtraExact(vt)
	}
	return p.ExtraWeak(vt)
}

func (m wscMode) time(p *core.Plan, vt *core.ViewTuple) float64 {
	if m == wscExact {
		return p.Time(vt)
	}
	return vt.CostLB()
}

// pick is a group of view tuples of one index chosen together.
type pick struct {
	vts   []*core.ViewTuple
	cost  float64
	ratio float64
}

// OptimizeWSC extends from by greedy weighted set cover and returns the
// resulting design and its objective: from's cost plus the incremental cost
// of every pick as measured in the chosen mode. In exact mode the objective
// equals the design's cost.
func (a *Application) OptimizeWSC(from *Design, exact bool) (*Design, float64) {
	a.stats.RecordWSC()
	mode := wscMode(exact)
	d := from.clone()
	obj := from.cost
	for !a.wscDone(d, mode) {
		var best *pick
		for _, id := range a.candidates {
			if p, ok := a.bestPick(d, id, mode); ok && (best == nil || p.ratio < best.ratio) {
				best = p
			}
		}
		if best == nil {
			panic(errors.AssertionFailedf("greedy cover stalled with %d goals uncovered", d.NumGoalsRemaining()))
		}
		for _, vt := range best.vts {
			d.add(vt)
		}
		obj += best.cost
	}
	return d, obj
}

// OptimizeWSCStandalone runs the greedy cover from the empty design.
func (a *Application) OptimizeWSCStandalone(exact bool) (*Design, float64) {
	return a.OptimizeWSC(a.EmptyDesign(), exact)
}

func (a *Application) wscDone(d *Design, mode wscMode) bool {
	for _, p := range d.plans {
		if !mode.done(p) {
			return false
		}
	}
	return true
}

// bestPick grows a tentative set of view tuples of index id, one best
// marginal ratio at a time, and returns the prefix with the best total ratio
// of cost to coverage. The index storage is paid once by the whole set.
func (a *Application) bestPick(d *Design, id core.IndexID, mode wscMode) (*pick, bool) {
	idx := a.indexes[id]
	total := 0.0
	if !d.stored.Contains(int(id)) {
		total = a.params.WtStorage * idx.StorageCost()
	}
	covered := 0
	tentative := make(map[core.QueryID]*core.Plan)
	planOf := func(q core.QueryID) *core.Plan {
		if p, ok := tentative[q]; ok {
			return p
		}
		return d.plans[q]
	}

	var chosen []*core.ViewTuple
	var best *pick
	for {
		var next *core.ViewTuple
		nextCost, nextCov, nextRatio := 0.0, 0, math.Inf(1)
		for _, q := range a.queries {
			p := planOf(q.ID())
			if mode.done(p) {
				continue
			}
			for _, v := range a.query2index2vt[q.ID()][id] {
				vt := a.vts[v]
				if p.Contains(vt) {
					continue
				}
				cov := mode.coverage(p, vt)
				if cov == 0 {
					continue
				}
				c := q.Weight() * mode.time(p, vt)
				if r := c / float64(cov); r < nextRatio {
					next, nextCost, nextCov, nextRatio = vt, c, cov, r
				}
			}
		}
		if next == nil {
			break
		}
		q := next.Query().ID()
		p, ok := tentative[q]
		if !ok {
			p = d.plans[q].Copy()
			tentative[q] = p
		}
		p.Append(next)
		chosen = append(chosen, next)
		total += nextCost
		covered += nextCov
		if r := total / float64(covered); best == nil || r < best.ratio {
			best = &pick{vts: append([]*core.ViewTuple(nil), chosen...), cost: total, ratio: r}
		}
	}
	return best, best != nil
}
