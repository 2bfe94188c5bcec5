// Package storage is the tabular engine behind statistics and view-tuple
// discovery. It keeps base data and per-query canonical databases in SQLite
// and evaluates conjunctive expressions over them as SELECT DISTINCT joins.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"cqadvisor/pkg/catalog"
	"cqadvisor/pkg/common"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// CanonicalPrefix prefixes every table created by CreateDatabase. Such tables
// are never reported as base relations.
const CanonicalPrefix = "canon_"

type Engine struct {
	db  *sql.DB
	mu  sync.Mutex
	log *zap.Logger
	seq int
}

// Open opens (or creates) the SQLite file at path. An empty path gives a
// private in-memory database.
func Open(path string, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %q", dsn)
	}
	// A single connection keeps an in-memory database alive and shared.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "ping sqlite %q", dsn)
	}
	if path != "" {
		if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL;`); err != nil {
			log.Warn("failed to set PRAGMA", zap.Error(err))
		}
	}
	log.Debug("storage opened", zap.String("dsn", dsn))
	return &Engine{db: db, log: log}, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func sqlType(t common.Dtype) string {
	if t == common.Int {
		return "INTEGER"
	}
	return "TEXT"
}

// CreateTable creates a table for rel using its column names.
func (e *Engine) CreateTable(ctx context.Context, table string, rel *catalog.BaseRelation) error {
	cols := make([]string, rel.Arity())
	for i, c := range rel.Columns() {
		cols[i] = quote(columnName(rel, i)) + " " + sqlType(c.Type)
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(table), strings.Join(cols, ", "))
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "create table %s", table)
	}
	return nil
}

func columnName(rel *catalog.BaseRelation, i int) string {
	if n := rel.Column(i).Name; n != "" {
		return n
	}
	return fmt.Sprintf("c%d", i)
}

// Insert writes rows into table in one transaction.
func (e *Engine) Insert(ctx context.Context, table string, arity int, rows [][]common.Datum) error {
	if len(rows) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", arity), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quote(table), marks))
	if err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "prepare insert into %s", table)
	}
	defer stmt.Close()

	args := make([]any, arity)
	for _, row := range rows {
		if len(row) != arity {
			tx.Rollback()
			return errors.Newf("insert into %s: row has %d values, want %d", table, len(row), arity)
		}
		for i, d := range row {
			args[i] = d.Value()
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "insert into %s", table)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// LoadRelations builds catalog relations, with row counts and per-column
// distinct counts, for every base table in the database.
func (e *Engine) LoadRelations(ctx context.Context, ids *common.IDAllocator) ([]*catalog.BaseRelation, error) {
	names, err := e.baseTables(ctx)
	if err != nil {
		return nil, err
	}
	var rels []*catalog.BaseRelation
	for _, name := range names {
		cols, err := e.tableColumns(ctx, name)
		if err != nil {
			return nil, err
		}
		var rows float64
		if err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(name)).Scan(&rows); err != nil {
			return nil, errors.Wrapf(err, "count %s", name)
		}
		for i := range cols {
			q := fmt.Sprintf("SELECT COUNT(DISTINCT %[1]s), COALESCE(AVG(LENGTH(%[1]s)), 0) FROM %[2]s",
				quote(cols[i].Name), quote(name))
			var width float64
			if err := e.db.QueryRowContext(ctx, q).Scan(&cols[i].Cardinality, &width); err != nil {
				return nil, errors.Wrapf(err, "column statistics %s.%s", name, cols[i].Name)
			}
			if cols[i].Type == common.String {
				cols[i].Width = width
			}
		}
		rel := catalog.NewBaseRelation(ids, name, rows, cols)
		e.log.Debug("loaded relation", zap.String("relation", name),
			zap.Float64("rows", rel.Rows()), zap.Int("columns", rel.Arity()))
		rels = append(rels, rel)
	}
	return rels, nil
}

func (e *Engine) baseTables(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "list tables")
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, errors.Wrap(err, "list tables")
		}
		if !strings.HasPrefix(n, CanonicalPrefix) {
			names = append(names, n)
		}
	}
	return names, errors.Wrap(rows.Err(), "list tables")
}

func (e *Engine) tableColumns(ctx context.Context, table string) ([]catalog.Column, error) {
	rows, err := e.db.QueryContext(ctx, "PRAGMA table_info("+quote(table)+")")
	if err != nil {
		return nil, errors.Wrapf(err, "table_info %s", table)
	}
	defer rows.Close()
	var cols []catalog.Column
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             any
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, errors.Wrapf(err, "table_info %s", table)
		}
		t := common.String
		if strings.Contains(strings.ToUpper(typ), "INT") {
			t = common.Int
		}
		cols = append(cols, catalog.Column{Name: name, Type: t})
	}
	return cols, errors.Wrapf(rows.Err(), "table_info %s", table)
}
