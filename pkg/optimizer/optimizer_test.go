package optimizer

import (
	"context"
	"math"
	"strings"
	"testing"

	"cqadvisor/pkg/catalog"
	"cqadvisor/pkg/common"
	"cqadvisor/pkg/expr"
	"cqadvisor/pkg/storage"

	"github.com/stretchr/testify/require"
)

const (
	qent = "Qent[k1, k2, c](d, e) :- K(k1, d); K(k2, d); E(e, d); C(e, c)"
	qkd  = "Qkd[k1, k2](d) :- K(k1, d); K(k2, d)"
	qkc  = "Qkc[k](c) :- K(k, d); E(e, d); C(e, c)"
)

func testCatalog(ids *common.IDAllocator) *catalog.Catalog {
	str := func(name string, card float64) catalog.Column {
		return catalog.Column{Name: name, Type: common.String, Cardinality: card}
	}
	num := func(name string, card float64) catalog.Column {
		return catalog.Column{Name: name, Type: common.Int, Cardinality: card}
	}
	return catalog.New(
		catalog.NewBaseRelation(ids, "K", 1000, []catalog.Column{str("k", 100), num("d", 100)}),
		catalog.NewBaseRelation(ids, "E", 800, []catalog.Column{num("e", 80), num("d", 100)}),
		catalog.NewBaseRelation(ids, "C", 200, []catalog.Column{num("e", 80), str("c", 10)}),
	)
}

func newApp(t *testing.T, p Params, texts []string, weights []float64) *Application {
	t.Helper()
	ids := common.NewIDAllocator()
	w, err := NewWorkload(testCatalog(ids), ids, texts, weights)
	require.NoError(t, err)
	a, err := New(context.Background(), w, p, nil, nil)
	require.NoError(t, err)
	return a
}

func params(k int) Params {
	p := DefaultParams()
	p.MaxNumGoalsIndex = k
	p.MaxIters = 50
	return p
}

func TestCandidatesSingleGoal(t *testing.T) {
	a := newApp(t, params(1), []string{qent}, []float64{1})

	cands := a.Candidates()
	require.GreaterOrEqual(t, len(cands), 4)
	for _, idx := range cands {
		require.Equal(t, 1, idx.Expr().NumGoals(), idx.String())
	}
	q := a.Queries()[0]
	for _, idx := range cands {
		vts := a.ViewTuples(q.ID(), idx.ID())
		require.NotEmpty(t, vts, idx.String())
		for _, vt := range vts {
			require.Len(t, vt.Subcores(), 1, vt.String())
			require.Equal(t, 1, vt.Subcores()[0].Len(), vt.String())
			require.True(t, vt.Strong().Equals(vt.Weak()))
			require.LessOrEqual(t, vt.CostLB(), vt.CostUB()+1e-9)
		}
	}

	// The two K goals share one index with a view tuple each.
	var kAll int
	for _, idx := range cands {
		if idx.Expr().Goal(0).Rel.Name() == "K" && idx.Expr().Bound().Empty() {
			kAll++
			require.Len(t, a.ViewTuples(q.ID(), idx.ID()), 2)
		}
	}
	require.Equal(t, 1, kAll)

	out := a.ShowCandidates()
	require.Contains(t, out, "Qent[k1, k2, c](d, e)")
	require.Contains(t, out, "[K(k1, d)]")
	require.Contains(t, out, "[C(e, c)]")
}

func TestCandidatesMultiGoal(t *testing.T) {
	a := newApp(t, params(2), []string{qent, qkd, qkc}, []float64{0.4, 0.3, 0.3})
	var joins int
	for _, idx := range a.Candidates() {
		require.LessOrEqual(t, idx.Expr().NumGoals(), 2)
		if idx.Expr().NumGoals() == 2 {
			joins++
		}
	}
	require.Positive(t, joins)

	// An index hiding the E-C join answers both goals of Qkc in one subcore.
	var grouped bool
	for _, idx := range a.Candidates() {
		for _, vt := range a.ViewTuples(a.Queries()[2].ID(), idx.ID()) {
			for _, sc := range vt.Subcores() {
				grouped = grouped || sc.Len() == 2
			}
		}
	}
	require.True(t, grouped)
}

func TestConnectedSubsets(t *testing.T) {
	ids := common.NewIDAllocator()
	e := expr.MustParse(qent, testCatalog(ids), ids)
	require.Len(t, connectedSubsets(e, 1), 4)
	two := connectedSubsets(e, 2)
	require.Len(t, two, 8)
	for _, s := range two {
		require.True(t, e.Connected(s), s.String())
	}
	require.Len(t, connectedSubsets(e, 3), 11)
	require.Len(t, connectedSubsets(e, 4), 12)
}

func TestMergeReachesFixpoint(t *testing.T) {
	ids := common.NewIDAllocator()
	cat := testCatalog(ids)
	cs := newCandidateSet()
	for _, text := range []string{
		"Q1[](d) :- K(str_a, d); K(str_x, d); E(int_1, d)",
		"Q2[](d) :- K(str_a, d); K(str_y, d); E(int_2, d)",
		"Q3[](d) :- K(str_b, d); K(str_x, d); E(int_2, d)",
	} {
		cs.add(expr.MustParse(text, cat, ids), false)
	}
	cs.mergeAll(ids)

	// Each pairwise merge keeps one shared constant; only a merge of a merge
	// parameterizes every position.
	var general bool
	for _, c := range cs.list {
		general = general || (c.e.NumGoals() == 3 && len(c.e.Constants()) == 0)
	}
	require.True(t, general)

	// Another pass finds nothing new.
	n := len(cs.list)
	cs.mergeAll(ids)
	require.Len(t, cs.list, n)
}

func TestHeadVariants(t *testing.T) {
	ids := common.NewIDAllocator()
	e := expr.MustParse("K[](k, d) :- K(k, d)", testCatalog(ids), ids)
	vs := headVariants(e)
	require.Len(t, vs, 4)
	shows := make([]string, len(vs))
	for i, v := range vs {
		require.Positive(t, v.Free().Len())
		shows[i] = v.Show()
	}
	joined := strings.Join(shows, "\n")
	require.Contains(t, joined, "[k](d)")
	require.Contains(t, joined, "[d](k)")
}

func TestWSCComplete(t *testing.T) {
	a := newApp(t, params(2), []string{qent, qkd}, []float64{0.5, 0.5})

	d, obj := a.OptimizeWSCStandalone(true)
	require.True(t, d.IsComplete(), d.Show())
	require.InDelta(t, d.Cost(), obj, 1e-6*math.Max(1, obj))
	require.Equal(t, 0, d.NumGoalsRemaining())
	require.InDelta(t, a.Params().WtStorage*d.StorageCost()+d.QueryTime(), d.Cost(), 1e-6*math.Max(1, obj))
	require.NotEmpty(t, d.Stored())

	est, estObj := a.OptimizeWSCStandalone(false)
	require.Equal(t, 0, est.NumGoalsRemaining())
	require.Greater(t, estObj, 0.0)

	// Starting from a partial design keeps its stages.
	empty := a.EmptyDesign()
	vt := a.ViewTuples(0, a.Candidates()[0].ID())
	if len(vt) > 0 {
		partial := empty.with(vt[0])
		done, _ := a.OptimizeWSC(partial, true)
		require.True(t, done.IsComplete())
		require.True(t, done.Plan(0).Contains(vt[0]))
		require.GreaterOrEqual(t, done.Cost(), partial.Cost())
		// The partial design itself is untouched.
		require.Len(t, partial.Plan(0).Stages(), 1)
	}
	require.Empty(t, empty.Plan(0).Stages())
}

func TestOptimizeNotWorseThanGreedy(t *testing.T) {
	for _, fn := range []PickFn{PickLB, PickUB, PickGoals} {
		t.Run(string(fn), func(t *testing.T) {
			p := params(2)
			p.PickFn = fn
			a := newApp(t, p, []string{qent, qkd}, []float64{0.5, 0.5})
			_, greedy := a.OptimizeWSCStandalone(true)

			d, err := a.Optimize(context.Background())
			require.NoError(t, err)
			require.True(t, d.IsComplete())
			require.LessOrEqual(t, d.Cost(), greedy+1e-9)
			require.Positive(t, a.Stats().WSCRuns)
		})
	}
}

func TestOptimizeReproducible(t *testing.T) {
	run := func(parallelism, branch int) (string, float64, float64) {
		p := params(2)
		p.Parallelism = parallelism
		p.BranchFactor = branch
		a := newApp(t, p, []string{qent, qkd}, []float64{0.5, 0.5})
		_, greedy := a.OptimizeWSCStandalone(true)
		d, err := a.Optimize(context.Background())
		require.NoError(t, err)
		return d.Show(), d.Cost(), greedy
	}
	show1, cost1, _ := run(1, 0)
	show2, cost2, _ := run(1, 0)
	require.Equal(t, show1, show2)
	require.Equal(t, cost1, cost2)

	show3, cost3, _ := run(4, 0)
	require.Equal(t, cost1, cost3)
	require.Equal(t, show1, show3)

	_, cost4, greedy := run(1, 2)
	require.LessOrEqual(t, cost4, greedy+1e-9)
}

func TestOptimizeCanceled(t *testing.T) {
	a := newApp(t, params(1), []string{qkd}, []float64{1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d, err := a.Optimize(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, d.IsComplete())
}

func TestNewWorkloadErrors(t *testing.T) {
	ids := common.NewIDAllocator()
	cat := testCatalog(ids)
	_, err := NewWorkload(cat, ids, []string{qkd}, []float64{0.5, 0.5})
	require.Error(t, err)
	_, err = NewWorkload(cat, ids, []string{"Q[](x) :- Z(x)"}, []float64{1})
	require.Error(t, err)
	_, err = NewWorkload(cat, ids, []string{"Q[](x) :- K(str_a, x); E(int_1, int_2)"}, []float64{1})
	require.Error(t, err)
	_, err = NewWorkload(cat, ids, []string{qkd}, []float64{2})
	require.Error(t, err)
	_, err = NewWorkload(cat, ids, nil, nil)
	require.Error(t, err)
}

func TestSampledInputs(t *testing.T) {
	ctx := context.Background()
	ids := common.NewIDAllocator()
	cat := testCatalog(ids)
	engine, err := storage.Open("", nil)
	require.NoError(t, err)
	defer engine.Close()

	k, _ := cat.Lookup("K")
	require.NoError(t, engine.CreateTable(ctx, "K", k))
	require.NoError(t, engine.Insert(ctx, "K", 2, [][]common.Datum{
		{common.NewString("a"), common.NewInt(1)},
		{common.NewString("b"), common.NewInt(1)},
		{common.NewString("c"), common.NewInt(2)},
	}))

	w, err := NewWorkload(cat, ids, []string{qkd, qent}, []float64{0.5, 0.5})
	require.NoError(t, err)
	p := params(1)
	p.NumSamples = 2
	a, err := New(ctx, w, p, engine, nil)
	require.NoError(t, err)

	// Qkd reads only K; Qent also needs E and C, which are absent.
	require.Len(t, a.Queries()[0].Samples(), 2)
	require.Empty(t, a.Queries()[1].Samples())
	require.Contains(t, a.ShowCandidates(), "samples")

	// Canonical tables are cleaned up.
	rels, err := engine.LoadRelations(ctx, common.NewIDAllocator())
	require.NoError(t, err)
	require.Len(t, rels, 1)
}
