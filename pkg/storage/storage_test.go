package storage

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"cqadvisor/pkg/catalog"
	"cqadvisor/pkg/common"
	"cqadvisor/pkg/expr"

	"github.com/stretchr/testify/require"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func schema(ids *common.IDAllocator) *catalog.Catalog {
	return catalog.New(
		catalog.NewBaseRelation(ids, "K", 4, []catalog.Column{
			{Name: "k", Type: common.String, Cardinality: 3},
			{Name: "d", Type: common.Int, Cardinality: 2},
		}),
		catalog.NewBaseRelation(ids, "E", 3, []catalog.Column{
			{Name: "e", Type: common.Int, Cardinality: 3},
			{Name: "d", Type: common.Int, Cardinality: 2},
		}),
	)
}

func str(v string) common.Datum { return common.NewString(v) }
func num(v int64) common.Datum  { return common.NewInt(v) }

func loadBase(t *testing.T, e *Engine, cat *catalog.Catalog) {
	t.Helper()
	ctx := context.Background()
	k, _ := cat.Lookup("K")
	en, _ := cat.Lookup("E")
	require.NoError(t, e.CreateTable(ctx, "K", k))
	require.NoError(t, e.CreateTable(ctx, "E", en))
	require.NoError(t, e.Insert(ctx, "K", 2, [][]common.Datum{
		{str("a"), num(1)}, {str("b"), num(1)}, {str("c"), num(2)}, {str("a"), num(2)},
	}))
	require.NoError(t, e.Insert(ctx, "E", 2, [][]common.Datum{
		{num(10), num(1)}, {num(11), num(1)}, {num(12), num(2)},
	}))
}

func TestLoadRelations(t *testing.T) {
	e := openTestEngine(t)
	ids := common.NewIDAllocator()
	loadBase(t, e, schema(ids))

	rels, err := e.LoadRelations(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, rels, 2)

	require.Equal(t, "E", rels[0].Name())
	require.Equal(t, "K", rels[1].Name())
	k := rels[1]
	require.Equal(t, 4.0, k.Rows())
	require.Equal(t, common.String, k.Type(0))
	require.Equal(t, common.Int, k.Type(1))
	require.Equal(t, 3.0, k.Column(0).Cardinality)
	require.Equal(t, 2.0, k.Column(1).Cardinality)
	require.Equal(t, 1.0, k.Column(0).Width)
}

func TestSelectJoin(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)
	ids := common.NewIDAllocator()
	cat := schema(ids)
	loadBase(t, e, cat)
	base, err := e.Base(ctx)
	require.NoError(t, err)
	require.True(t, base.Has("K"))

	q := expr.MustParse("Q[k](x) :- K(k, d); E(x, d)", cat, ids)
	kv, _ := q.VarByName("k")
	xv, _ := q.VarByName("x")
	rows, err := base.Select(ctx, q, []int{kv, xv})
	require.NoError(t, err)
	require.Equal(t, [][]common.Datum{
		{str("a"), num(10)}, {str("a"), num(11)}, {str("a"), num(12)},
		{str("b"), num(10)}, {str("b"), num(11)},
		{str("c"), num(12)},
	}, rows)

	sel := expr.MustParse("Q[](x) :- K(str_c, d); E(x, d)", cat, ids)
	xv, _ = sel.VarByName("x")
	rows, err = base.Select(ctx, sel, []int{xv})
	require.NoError(t, err)
	require.Equal(t, [][]common.Datum{{num(12)}}, rows)

	require.Panics(t, func() { base.Select(ctx, sel, nil) })
}

func TestSampleIsSeeded(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)
	ids := common.NewIDAllocator()
	cat := schema(ids)
	loadBase(t, e, cat)
	base, err := e.Base(ctx)
	require.NoError(t, err)

	q := expr.MustParse("Q[k](d) :- K(k, d)", cat, ids)
	kv, _ := q.VarByName("k")
	a, err := base.Sample(ctx, q, []int{kv}, 2, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	b, err := base.Sample(ctx, q, []int{kv}, 2, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	require.Len(t, a, 2)
	require.Equal(t, a, b)

	all, err := base.Sample(ctx, q, []int{kv}, 10, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestCanonicalDatabase(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)
	ids := common.NewIDAllocator()
	cat := schema(ids)

	db, err := e.CreateDatabase(ctx, "Q", cat, map[string][][]common.Datum{
		"K": {{str("0"), num(1)}, {str("1"), num(1)}},
	})
	require.NoError(t, err)
	require.True(t, db.Has("K"))
	require.False(t, db.Has("E"))

	idx := expr.MustParse("I[](k) :- K(k, d)", cat, ids)
	kv, _ := idx.VarByName("k")
	rows, err := db.Select(ctx, idx, []int{kv})
	require.NoError(t, err)
	require.Equal(t, [][]common.Datum{{str("0")}, {str("1")}}, rows)

	// A relation missing from the database yields no rows.
	other := expr.MustParse("J[](x) :- E(x, d)", cat, ids)
	xv, _ := other.VarByName("x")
	rows, err = db.Select(ctx, other, []int{xv})
	require.NoError(t, err)
	require.Empty(t, rows)

	// Canonical tables are not base relations.
	rels, err := e.LoadRelations(ctx, ids)
	require.NoError(t, err)
	require.Empty(t, rels)

	require.NoError(t, db.Drop(ctx))
	require.False(t, db.Has("K"))
}

func TestCreateDatabaseCleansUpOnError(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t)
	ids := common.NewIDAllocator()

	// K is created before the unknown relation Z fails the lookup.
	_, err := e.CreateDatabase(ctx, "Q", schema(ids), map[string][][]common.Datum{
		"K": {{str("0"), num(1)}},
		"Z": {{num(1)}},
	})
	require.Error(t, err)

	var n int
	require.NoError(t, e.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE ?", CanonicalPrefix+"%").Scan(&n))
	require.Zero(t, n)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base.db")
	e, err := Open(path, nil)
	require.NoError(t, err)
	ids := common.NewIDAllocator()
	loadBase(t, e, schema(ids))
	require.NoError(t, e.Close())

	e, err = Open(path, nil)
	require.NoError(t, err)
	defer e.Close()
	rels, err := e.LoadRelations(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, rels, 2)
}
