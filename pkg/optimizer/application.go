// Package optimizer searches for a physical design of a conjunctive-query
// workload: it generates candidate indexes and their view tuples, then picks a
// set of indexes and one plan per query by greedy weighted set cover and by
// branch and bound.
package optimizer

import (
	"context"
	"math/rand"

	"cqadvisor/pkg/catalog"
	"cqadvisor/pkg/common"
	"cqadvisor/pkg/config"
	"cqadvisor/pkg/core"
	"cqadvisor/pkg/expr"
	"cqadvisor/pkg/logging"
	"cqadvisor/pkg/monitor"
	"cqadvisor/pkg/storage"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// PickFn orders the branch-and-bound frontier.
type PickFn string

const (
	PickLB    PickFn = "lb"    // smallest lower bound first
	PickUB    PickFn = "ub"    // smallest upper bound first
	PickGoals PickFn = "goals" // fewest goals left to cover first
)

type Params struct {
	MaxNumGoalsIndex int
	MaxIters         int
	MaxIndexSize     float64
	MaxVTLB          float64
	WtStorage        float64
	PickFn           PickFn
	BranchFactor     int // 0 keeps every neighbor
	Parallelism      int
	NumSamples       int
	Seed             int64
	Cost             core.CostModel
}

func DefaultParams() Params {
	return ParamsFromConfig(config.Default())
}

func ParamsFromConfig(cfg *config.Config) Params {
	a := cfg.Advisor
	return Params{
		MaxNumGoalsIndex: a.MaxNumGoalsIndex,
		MaxIters:         a.MaxIters,
		MaxIndexSize:     a.MaxIndexSize,
		MaxVTLB:          a.MaxVTLB,
		WtStorage:        a.WtStorage,
		PickFn:           PickFn(a.PickFn),
		BranchFactor:     a.BranchFactor,
		Parallelism:      a.Parallelism,
		NumSamples:       a.NumSamples,
		Seed:             a.Seed,
		Cost:             cfg.Cost.Model(),
	}
}

// Workload is a catalog plus weighted queries. Query ids are positions in
// Queries.
type Workload struct {
	Catalog *catalog.Catalog
	IDs     *common.IDAllocator
	Queries []*core.Query
}

// NewWorkload parses the query texts against cat. Weights must lie in [0,1].
func NewWorkload(cat *catalog.Catalog, ids *common.IDAllocator, texts []string, weights []float64) (*Workload, error) {
	if len(texts) != len(weights) {
		return nil, errors.Newf("%d queries but %d weights", len(texts), len(weights))
	}
	w := &Workload{Catalog: cat, IDs: ids}
	for i, text := range texts {
		e, err := expr.Parse(text, cat, ids)
		if err != nil {
			return nil, errors.Wrapf(err, "query %d", i)
		}
		for gid := 0; gid < e.NumGoals(); gid++ {
			if e.GoalVars(gid).Empty() {
				return nil, errors.Newf("query %s: goal %s has no variables", e.Name(), e.ShowGoal(gid))
			}
		}
		if weights[i] < 0 || weights[i] > 1 {
			return nil, errors.Newf("query %s: weight %v outside [0,1]", e.Name(), weights[i])
		}
		w.Queries = append(w.Queries, core.NewQuery(core.QueryID(i), e, weights[i]))
	}
	if len(w.Queries) == 0 {
		return nil, errors.New("empty workload")
	}
	return w, nil
}

// Application owns every entity of one advisor run. Indexes and view tuples
// live in arenas addressed by their ids.
type Application struct {
	params Params
	log    *zap.Logger
	ids    *common.IDAllocator
	cat    *catalog.Catalog
	stats  *monitor.SearchStats

	queries []*core.Query
	indexes []*core.Index
	vts     []*core.ViewTuple

	// Surviving candidates in ascending id order.
	candidates []core.IndexID
	essential  map[core.IndexID]bool

	index2query2vt map[core.IndexID]map[core.QueryID][]core.ViewTupleID
	query2index2vt map[core.QueryID]map[core.IndexID][]core.ViewTupleID

	// prefix[q][i] covers the first i goals of q's goal order.
	prefix map[core.QueryID][]*core.Plan

	totalGoals int
}

// New builds the application and generates candidates. A nil engine gets a
// private in-memory one for the duration of the call.
func New(ctx context.Context, w *Workload, p Params, engine *storage.Engine, log *zap.Logger) (*Application, error) {
	log = logging.OrNop(log)
	if p.MaxNumGoalsIndex <= 0 {
		return nil, errors.Newf("max_num_goals_index must be positive, got %d", p.MaxNumGoalsIndex)
	}
	if engine == nil {
		e, err := storage.Open("", log)
		if err != nil {
			return nil, err
		}
		defer e.Close()
		engine = e
	}
	a := &Application{
		params:         p,
		log:            log,
		ids:            w.IDs,
		cat:            w.Catalog,
		stats:          monitor.NewSearchStats(),
		queries:        w.Queries,
		essential:      make(map[core.IndexID]bool),
		index2query2vt: make(map[core.IndexID]map[core.QueryID][]core.ViewTupleID),
		query2index2vt: make(map[core.QueryID]map[core.IndexID][]core.ViewTupleID),
		prefix:         make(map[core.QueryID][]*core.Plan),
	}
	for i, q := range a.queries {
		if q.ID() != core.QueryID(i) {
			panic(errors.AssertionFailedf("query %s has id %d at position %d", q.Expr().Name(), q.ID(), i))
		}
		a.totalGoals += q.NumGoals()
	}
	if err := a.sampleInputs(ctx, engine); err != nil {
		return nil, err
	}
	if err := a.GenerateCandidates(ctx, engine); err != nil {
		return nil, err
	}
	return a, nil
}

// sampleInputs draws up to NumSamples bound-input rows per query from the
// base tables, when the engine holds every relation the query reads.
func (a *Application) sampleInputs(ctx context.Context, engine *storage.Engine) error {
	if a.params.NumSamples <= 0 {
		return nil
	}
	base, err := engine.Base(ctx)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(a.params.Seed))
	for _, q := range a.queries {
		e := q.Expr()
		if e.Bound().Empty() {
			continue
		}
		ok := true
		for _, g := range e.Goals() {
			ok = ok && base.Has(g.Rel.Name())
		}
		if !ok {
			continue
		}
		rows, err := base.Sample(ctx, e, e.Bound().Ordered(), a.params.NumSamples, rng)
		if err != nil {
			return err
		}
		q.SetSamples(rows)
		a.log.Debug("sampled inputs", zap.String("query", e.Name()), zap.Int("rows", len(rows)))
	}
	return nil
}

func (a *Application) Params() Params                    { return a.params }
func (a *Application) Queries() []*core.Query            { return a.queries }
func (a *Application) Stats() *monitor.SearchStats       { return a.stats }
func (a *Application) Index(id core.IndexID) *core.Index { return a.indexes[id] }
func (a *Application) ViewTuple(id core.ViewTupleID) *core.ViewTuple {
	return a.vts[id]
}

// Candidates returns the surviving candidate indexes.
func (a *Application) Candidates() []*core.Index {
	out := make([]*core.Index, len(a.candidates))
	for i, id := range a.candidates {
		out[i] = a.indexes[id]
	}
	return out
}

// ViewTuples returns the view tuples of index id for query q, in id order.
func (a *Application) ViewTuples(q core.QueryID, id core.IndexID) []*core.ViewTuple {
	ids := a.query2index2vt[q][id]
	out := make([]*core.ViewTuple, len(ids))
	for i, v := range ids {
		out[i] = a.vts[v]
	}
	return out
}
