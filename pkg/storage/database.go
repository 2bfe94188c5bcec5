package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"cqadvisor/pkg/catalog"
	"cqadvisor/pkg/common"
	"cqadvisor/pkg/expr"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

type table struct {
	name string
	cols []string
}

// Database is a set of tables, one per relation name, over which expressions
// are evaluated.
type Database struct {
	e      *Engine
	name   string
	tables map[string]table
	owned  bool
}

// Base returns the database of base tables already present in the engine,
// keyed by table name.
func (e *Engine) Base(ctx context.Context) (*Database, error) {
	names, err := e.baseTables(ctx)
	if err != nil {
		return nil, err
	}
	d := &Database{e: e, name: "base", tables: make(map[string]table)}
	for _, n := range names {
		cols, err := e.tableColumns(ctx, n)
		if err != nil {
			return nil, err
		}
		t := table{name: n}
		for _, c := range cols {
			t.cols = append(t.cols, c.Name)
		}
		d.tables[n] = t
	}
	return d, nil
}

// CreateDatabase materializes rows, keyed by relation name, into fresh tables
// private to the returned Database.
func (e *Engine) CreateDatabase(
	ctx context.Context, name string, cat *catalog.Catalog, rows map[string][][]common.Datum,
) (*Database, error) {
	e.mu.Lock()
	e.seq++
	prefix := fmt.Sprintf("%s%d_", CanonicalPrefix, e.seq)
	e.mu.Unlock()

	d := &Database{e: e, name: name, tables: make(map[string]table), owned: true}
	rels := make([]string, 0, len(rows))
	for r := range rows {
		rels = append(rels, r)
	}
	sort.Strings(rels)
	for _, r := range rels {
		if err := d.load(ctx, prefix, r, cat, rows[r]); err != nil {
			return nil, errors.CombineErrors(err, d.Drop(ctx))
		}
	}
	e.log.Debug("database created", zap.String("database", name), zap.Int("tables", len(d.tables)))
	return d, nil
}

// load creates and fills the table of relation r. The table is registered
// before it is filled, so Drop removes it even when Insert fails.
func (d *Database) load(ctx context.Context, prefix, r string, cat *catalog.Catalog, rows [][]common.Datum) error {
	rel, ok := cat.Lookup(r)
	if !ok {
		return errors.Newf("database %s: unknown relation %s", d.name, r)
	}
	t := table{name: prefix + r}
	for i := 0; i < rel.Arity(); i++ {
		t.cols = append(t.cols, columnName(rel, i))
	}
	if err := d.e.CreateTable(ctx, t.name, rel); err != nil {
		return err
	}
	d.tables[r] = t
	return d.e.Insert(ctx, t.name, rel.Arity(), rows)
}

// Drop removes the tables of a database created by CreateDatabase.
func (d *Database) Drop(ctx context.Context) error {
	if !d.owned {
		return nil
	}
	for _, t := range d.tables {
		if _, err := d.e.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(t.name)); err != nil {
			return errors.Wrapf(err, "drop %s", t.name)
		}
	}
	d.tables = nil
	return nil
}

// Has reports whether the database holds a table for relation rel.
func (d *Database) Has(rel string) bool {
	_, ok := d.tables[rel]
	return ok
}

// Select evaluates x over the database and returns the distinct values of the
// project variables, sorted. A goal over a relation the database lacks makes
// the result empty.
func (d *Database) Select(ctx context.Context, x *expr.Expression, project []int) ([][]common.Datum, error) {
	q, args, ok := d.compile(x, project)
	if !ok {
		return nil, nil
	}
	rows, err := d.e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "evaluate %s on %s", x.Name(), d.name)
	}
	defer rows.Close()

	var out [][]common.Datum
	for rows.Next() {
		dest := make([]any, len(project))
		for i, v := range project {
			if x.VarType(v) == common.Int {
				dest[i] = new(sql.NullInt64)
			} else {
				dest[i] = new(sql.NullString)
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrapf(err, "scan %s", x.Name())
		}
		row := make([]common.Datum, len(project))
		for i, p := range dest {
			switch p := p.(type) {
			case *sql.NullInt64:
				row[i] = common.NewInt(p.Int64)
			case *sql.NullString:
				row[i] = common.NewString(p.String)
			}
		}
		out = append(out, row)
	}
	return out, errors.Wrapf(rows.Err(), "evaluate %s", x.Name())
}

// compile turns x into
//
//	SELECT DISTINCT g0.a, g1.b FROM t0 AS g0, t1 AS g1 WHERE g0.b = g1.a AND g1.c = ?
//
// The first occurrence of each variable is its column; later occurrences
// become equalities and constants become parameters.
func (d *Database) compile(x *expr.Expression, project []int) (string, []any, bool) {
	if len(project) == 0 {
		panic(errors.AssertionFailedf("%s: empty projection", x.Name()))
	}
	var from, where []string
	var args []any
	first := make(map[int]string)
	for gid, g := range x.Goals() {
		t, ok := d.tables[g.Rel.Name()]
		if !ok {
			return "", nil, false
		}
		alias := "g" + strconv.Itoa(gid)
		from = append(from, quote(t.name)+" AS "+alias)
		for i, s := range g.Args {
			col := alias + "." + quote(t.cols[i])
			if s.IsConst {
				where = append(where, col+" = ?")
				args = append(args, s.Const.Value())
				continue
			}
			if prev, ok := first[s.Var]; ok {
				where = append(where, col+" = "+prev)
				continue
			}
			first[s.Var] = col
		}
	}

	sel := make([]string, len(project))
	order := make([]string, len(project))
	for i, v := range project {
		col, ok := first[v]
		if !ok {
			panic(errors.AssertionFailedf("%s: projected variable %d not in body", x.Name(), v))
		}
		sel[i] = col
		order[i] = strconv.Itoa(i + 1)
	}
	var b strings.Builder
	b.WriteString("SELECT DISTINCT ")
	b.WriteString(strings.Join(sel, ", "))
	b.WriteString(" FROM ")
	b.WriteString(strings.Join(from, ", "))
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(order, ", "))
	return b.String(), args, true
}

// Sample returns up to n distinct rows of the project variables, chosen by a
// random permutation drawn from rng.
func (d *Database) Sample(
	ctx context.Context, x *expr.Expression, project []int, n int, rng *rand.Rand,
) ([][]common.Datum, error) {
	rows, err := d.Select(ctx, x, project)
	if err != nil || len(rows) <= n {
		return rows, err
	}
	out := make([][]common.Datum, 0, n)
	for _, i := range rng.Perm(len(rows))[:n] {
		out = append(out, rows[i])
	}
	return out, nil
}
