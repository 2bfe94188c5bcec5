package optimizer

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"cqadvisor/pkg/core"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const frontierDegree = 32

// atomicFloat is a float64 that only ever decreases.
type atomicFloat struct {
	bits atomic.Uint64
}

func newAtomicFloat(v float64) *atomicFloat {
	f := &atomicFloat{}
	f.bits.Store(math.Float64bits(v))
	return f
}

func (f *atomicFloat) load() float64 {
	return math.Float64frombits(f.bits.Load())
}

// lower sets the value to v if v is smaller and reports whether it did.
func (f *atomicFloat) lower(v float64) bool {
	for {
		old := f.bits.Load()
		if v >= math.Float64frombits(old) {
			return false
		}
		if f.bits.CompareAndSwap(old, math.Float64bits(v)) {
			return true
		}
	}
}

// incumbent is the best complete design found. Among equal costs the one
// found earliest in (iteration, neighbor) order wins, so parallel and serial
// runs agree.
type incumbent struct {
	mu   sync.Mutex
	d    *Design
	cost float64
	key  [2]int
}

func (in *incumbent) offer(d *Design, cost float64, key [2]int) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if cost < in.cost || (cost == in.cost && (key[0] < in.key[0] || key[0] == in.key[0] && key[1] < in.key[1])) {
		in.d, in.cost, in.key = d, cost, key
		return true
	}
	return false
}

// Optimize runs branch and bound over partial designs and returns the best
// complete design found. The greedy cover from the empty design seeds the
// incumbent, so the result never costs more than it.
func (a *Application) Optimize(ctx context.Context) (*Design, error) {
	first, cost := a.OptimizeWSCStandalone(true)
	inc := &incumbent{d: first, cost: cost, key: [2]int{-1, -1}}
	lub := newAtomicFloat(cost)
	factor := math.Max(1, 2*math.Pow(math.Log(float64(a.totalGoals)), 2))
	a.log.Info("search started", zap.Float64("greedy_cost", cost), zap.Float64("lb_factor", factor),
		zap.String("pick_fn", string(a.params.PickFn)), zap.Int("parallelism", a.params.Parallelism))

	fr := newFrontier(frontierDegree)
	root := a.EmptyDesign()
	a.bound(root, factor)
	if root.lb < lub.load() {
		a.push(fr, root)
	}

	iter := 0
	for ; iter < a.params.MaxIters; iter++ {
		if err := ctx.Err(); err != nil {
			return inc.d, err
		}
		d, ok := fr.pop()
		if !ok {
			break
		}
		if d.lb >= lub.load() {
			a.stats.RecordPruneLB()
			continue
		}
		a.stats.RecordExpand()
		neighbors := a.expand(d, lub.load())

		if err := a.evaluate(ctx, neighbors, factor, lub, inc, iter); err != nil {
			return inc.d, err
		}
		bound := lub.load()
		for _, nb := range neighbors {
			if nb.IsComplete() {
				continue
			}
			if nb.lb >= bound {
				a.stats.RecordPruneLB()
				continue
			}
			a.push(fr, nb)
		}
		if n := fr.discard(bound); n > 0 {
			a.log.Debug("frontier pruned", zap.Int("designs", n), zap.Float64("lub", bound))
		}
	}

	a.log.Info("search finished", zap.Int("iterations", iter), zap.Int("frontier", fr.len()),
		zap.Float64("cost", inc.cost), a.stats.Field())
	return inc.d, nil
}

// bound sets d's upper bound from the exact greedy cover and its lower bound
// from the estimate-mode cover scaled down by factor. It returns the design
// reached by the exact cover.
func (a *Application) bound(d *Design, factor float64) *Design {
	ubDesign, ub := a.OptimizeWSC(d, true)
	_, est := a.OptimizeWSC(d, false)
	d.ub = ub
	d.lb = d.cost + math.Max(0, est-d.cost)/factor
	return ubDesign
}

func (a *Application) push(fr *frontier, d *Design) {
	var prio float64
	switch a.params.PickFn {
	case PickUB:
		prio = d.ub
	case PickGoals:
		prio = float64(d.NumGoalsRemaining())
	default:
		prio = d.lb
	}
	fr.push(d, prio, d.lb)
}

// evaluate bounds every neighbor, lowering lub and offering the exact greedy
// completion to the incumbent. Neighbors are independent, so with
// Parallelism > 1 they are bounded concurrently.
func (a *Application) evaluate(
	ctx context.Context, neighbors []*Design, factor float64, lub *atomicFloat, inc *incumbent, iter int,
) error {
	one := func(i int) {
		nb := neighbors[i]
		ubDesign := a.bound(nb, factor)
		if inc.offer(ubDesign, nb.ub, [2]int{iter, i}) {
			a.stats.RecordIncumbent()
		}
		if lub.lower(nb.ub) {
			a.log.Debug("incumbent improved", zap.Int("iteration", iter), zap.Float64("cost", nb.ub))
		}
	}
	if a.params.Parallelism <= 1 {
		for i := range neighbors {
			one(i)
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.params.Parallelism)
	for i := range neighbors {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			one(i)
			return nil
		})
	}
	return g.Wait()
}

// expand lists the designs reachable from d by one more view tuple for a
// query whose plan is incomplete. Neighbors whose own cost reaches lub are
// pruned. With a branch factor only the neighbors with the best incremental
// cost per newly covered goal are kept.
func (a *Application) expand(d *Design, lub float64) []*Design {
	type cand struct {
		vt    *core.ViewTuple
		ratio float64
	}
	var cands []cand
	for _, q := range a.queries {
		p := d.plans[q.ID()]
		if p.IsComplete() {
			continue
		}
		for _, id := range a.candidates {
			for _, v := range a.query2index2vt[q.ID()][id] {
				vt := a.vts[v]
				if p.Contains(vt) {
					continue
				}
				gain := max(p.ExtraWeak(vt), p.ExtraExact(vt))
				if gain == 0 {
					continue
				}
				a.stats.RecordNeighbor()
				c := d.incremental(vt)
				if d.cost+c >= lub {
					a.stats.RecordPruneCost()
					continue
				}
				cands = append(cands, cand{vt: vt, ratio: c / float64(gain)})
			}
		}
	}
	if bf := a.params.BranchFactor; bf > 0 && len(cands) > bf {
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].ratio < cands[j].ratio })
		cands = cands[:bf]
	}
	out := make([]*Design, len(cands))
	for i, c := range cands {
		out[i] = d.with(c.vt)
	}
	return out
}
