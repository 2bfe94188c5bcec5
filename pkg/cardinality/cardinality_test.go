package cardinality

import (
	"math"
	"testing"

	"cqadvisor/pkg/catalog"
	"cqadvisor/pkg/common"
	"cqadvisor/pkg/expr"
	"cqadvisor/pkg/util/intset"

	"github.com/stretchr/testify/require"
)

func TestFractionArithmetic(t *testing.T) {
	f := Of(1e200).Mul(3e200).Div(2e200).Div(1.5e200)
	require.InDelta(t, 1.0, f.Value(), 1e-9)

	require.Equal(t, 0.5, Of(0.5).Value())
	require.InDelta(t, 8.0, Of(0.25).Inv().Mul(2).Value(), 1e-12)

	c := Of(4).Div(4)
	require.Empty(t, c.num)
	require.Empty(t, c.den)
	require.Equal(t, 1.0, c.Value())

	require.Equal(t, 5.0, Of(10).Eval(0, 5))
	require.Equal(t, 0.5, Of(0.1).Eval(0.5, 1))
	require.Equal(t, math.MaxFloat64, Of(1e300).Mul(1e300).Value())

	prod := Of(3).MulFrac(Of(1.0 / 3))
	require.InDelta(t, 1.0, prod.Value(), 1e-12)

	require.Panics(t, func() { Of(0) })
	require.Panics(t, func() { One().Div(-1) })
}

func TestFractionIsImmutable(t *testing.T) {
	a := Of(2)
	b := a.Mul(3)
	_ = a.Div(2)
	require.Equal(t, 2.0, a.Value())
	require.Equal(t, 6.0, b.Value())
}

func TestOneMinusXN(t *testing.T) {
	for _, tc := range []struct {
		name string
		x, n float64
		want float64
		tol  float64
	}{
		{"taylor", 1e-6, 100, 1 - 1e-4, 1e-9},
		{"quadratic", 1e-3, 50, math.Pow(1-1e-3, 50), 1e-4},
		{"exponential", 1e-4, 1e5, math.Exp(-10), 1e-6},
		{"exact", 0.5, 3, 0.125, 1e-12},
		{"saturated", 2, 3, 0, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.InDelta(t, tc.want, OneMinusXN(Of(tc.x), Of(tc.n)), tc.tol)
		})
	}

	// 1e-20 chance per trial, 1e25 trials: no overflow, result near zero.
	tiny := Of(1e20).Inv()
	r := OneMinusXN(tiny, Of(1e25))
	require.False(t, math.IsNaN(r))
	require.InDelta(t, 0, r, 1e-12)
}

func testExpr(t *testing.T) (*expr.Expression, *catalog.Catalog, *common.IDAllocator) {
	t.Helper()
	ids := common.NewIDAllocator()
	str := func(name string, card float64) catalog.Column {
		return catalog.Column{Name: name, Type: common.String, Cardinality: card}
	}
	num := func(name string, card float64) catalog.Column {
		return catalog.Column{Name: name, Type: common.Int, Cardinality: card}
	}
	cat := catalog.New(
		catalog.NewBaseRelation(ids, "K", 1000, []catalog.Column{str("k", 100), num("d", 50)}),
		catalog.NewBaseRelation(ids, "E", 500, []catalog.Column{num("e", 400), num("d", 50)}),
		catalog.NewBaseRelation(ids, "C", 800, []catalog.Column{num("e", 400), str("c", 3)}),
		catalog.NewBaseRelation(ids, "W", 1e7, []catalog.Column{num("a", 1e7), num("b", 1e7), num("c", 1e7)}),
	)
	e := expr.MustParse("Qent[k1,k2,c](d,e) :- K(k1,d); K(k2,d); E(e,d); C(e,c)", cat, ids)
	return e, cat, ids
}

func mustVar(t *testing.T, e *expr.Expression, name string) int {
	t.Helper()
	v, ok := e.VarByName(name)
	require.True(t, ok, name)
	return v
}

func TestSelectivity(t *testing.T) {
	e, _, _ := testExpr(t)
	est := NewEstimatorAll(e)
	// 1 - (1 - 1/5000)^1000
	require.InDelta(t, 1-math.Pow(1-1.0/5000, 1000), est.Selectivity(0), 1e-3)

	d, ok := est.Domain(mustVar(t, e, "d"))
	require.True(t, ok)
	require.Equal(t, 50.0, d)
}

func TestCardinalityBounds(t *testing.T) {
	e, _, _ := testExpr(t)
	est := NewEstimatorAll(e)
	e.Vars().ForEach(func(v int) {
		c := est.Cardinality(v, intset.Set{})
		dom, _ := est.Domain(v)
		require.False(t, math.IsNaN(c))
		require.GreaterOrEqual(t, c, 0.0)
		require.LessOrEqual(t, c, dom)
	})

	d := mustVar(t, e, "d")
	require.Equal(t, 1.0, est.Cardinality(d, intset.Make(d)))

	// Binding more variables never increases a cardinality.
	k1 := mustVar(t, e, "k1")
	free := est.Cardinality(d, intset.Set{})
	given := est.Cardinality(d, intset.Make(k1))
	require.LessOrEqual(t, given, free)
}

func TestCardinalitiesOrderInvariant(t *testing.T) {
	e, _, _ := testExpr(t)
	est := NewEstimatorAll(e)
	k1 := mustVar(t, e, "k1")
	c := mustVar(t, e, "c")
	pre := e.Vars().Difference(intset.Make(k1, c))

	fwd := est.Cardinalities([]int{k1, c}, pre)
	rev := est.Cardinalities([]int{c, k1}, pre)
	require.InDelta(t, fwd[0], rev[1], 1e-9)
	require.InDelta(t, fwd[1], rev[0], 1e-9)
}

func TestUnseenVariableAndClone(t *testing.T) {
	e, _, _ := testExpr(t)
	est := NewEstimator(e)
	est.AddGoal(3)
	est.AddGoal(3)
	require.Equal(t, 1, est.Goals().Len())

	k1 := mustVar(t, e, "k1")
	require.True(t, math.IsInf(est.Cardinality(k1, intset.Set{}), 1))

	clone := est.Clone()
	clone.AddGoal(0)
	require.Equal(t, 1, est.Goals().Len())
	require.Equal(t, 2, clone.Goals().Len())
	require.False(t, math.IsInf(clone.Cardinality(k1, intset.Set{}), 1))
	require.Panics(t, func() { est.AddGoal(9) })
}

func TestWideDomainsStayFinite(t *testing.T) {
	_, cat, ids := testExpr(t)
	chain := expr.MustParse("X[](a,g) :- W(a,b,c); W(c,d,e); W(e,f,g); W(g,h,i)", cat, ids)
	est := NewEstimatorAll(chain)
	a := mustVar(t, chain, "a")
	g := mustVar(t, chain, "g")
	cards := est.Cardinalities([]int{a, g}, intset.Set{})
	for _, c := range cards {
		require.False(t, math.IsNaN(c))
		require.False(t, math.IsInf(c, 0))
		require.GreaterOrEqual(t, c, 0.0)
		require.LessOrEqual(t, c, 1e7)
	}
}
