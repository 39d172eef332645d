package container

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// Column declares one typed column of a record table.
type Column struct {
	Name string
	Kind ir.Kind
}

// Table is a record table with a fixed column schema.
// Rows are addressed by zero-based insertion index.
type Table struct {
	g    *Group
	id   int64
	path string
	cols []Column
}

func recTable(id int64) string {
	return fmt.Sprintf("rec_%d", id)
}

// sqlType is the physical column type for k. Reals are stored as their
// IEEE-754 bits because SQLite turns a bound NaN into NULL.
func sqlType(k ir.Kind) string {
	switch k {
	case ir.KindText:
		return "TEXT"
	default:
		return "INTEGER"
	}
}

// CreateTable adds a record table with the given columns.
// Column kinds must be scalar (int, real, text, bool).
func (g *Group) CreateTable(ctx context.Context, name string, cols []Column) (*Table, error) {
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if c.Name == "" {
			return nil, fmt.Errorf("table %s: empty column name", g.childPath(name))
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("table %s: duplicate column %q", g.childPath(name), c.Name)
		}
		if !c.Kind.IsScalar() {
			return nil, ir.Errorf(ir.ErrCodeType, "column kind %s is not a scalar", c.Kind).
				WithKey(c.Name).WithPath(g.childPath(name))
		}
		seen[c.Name] = true
	}

	id, err := g.createNode(ctx, name, NodeTable)
	if err != nil {
		return nil, err
	}

	defs := []string{"row_idx INTEGER PRIMARY KEY"}
	for i, c := range cols {
		if _, err := g.q.ExecContext(ctx,
			`INSERT INTO record_columns (node_id, position, name, kind) VALUES (?, ?, ?, ?)`,
			id, i, c.Name, c.Kind.String(),
		); err != nil {
			return nil, fmt.Errorf("declare column %s.%s: %w", g.childPath(name), c.Name, err)
		}
		defs = append(defs, fmt.Sprintf("c%d %s", i, sqlType(c.Kind)))
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", recTable(id), strings.Join(defs, ", "))
	if _, err := g.q.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create table %s: %w", g.childPath(name), err)
	}

	return &Table{g: g, id: id, path: g.childPath(name), cols: append([]Column(nil), cols...)}, nil
}

// Table opens the named record table.
func (g *Group) Table(ctx context.Context, name string) (*Table, error) {
	id, err := g.lookupKind(ctx, name, NodeTable)
	if err != nil {
		return nil, err
	}

	rows, err := g.q.QueryContext(ctx,
		`SELECT name, kind FROM record_columns WHERE node_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("read columns %s: %w", g.childPath(name), err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		var kind string
		if err := rows.Scan(&c.Name, &kind); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		c.Kind, err = ir.ParseKind(kind)
		if err != nil || !c.Kind.IsScalar() {
			return nil, ir.Errorf(ir.ErrCodeSerialization, "column %q has kind %q", c.Name, kind).
				WithPath(g.childPath(name))
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &Table{g: g, id: id, path: g.childPath(name), cols: cols}, nil
}

// Path returns the table's path from the root.
func (t *Table) Path() string {
	return t.path
}

// Columns returns the declared columns in order.
func (t *Table) Columns() []Column {
	return append([]Column(nil), t.cols...)
}

func (t *Table) column(name string) (int, Column, bool) {
	for i, c := range t.cols {
		if c.Name == name {
			return i, c, true
		}
	}
	return 0, Column{}, false
}

func realBits(x float64) int64 { return int64(math.Float64bits(x)) }

func realFrom(bits int64) float64 { return math.Float64frombits(uint64(bits)) }

// bind converts v to the driver value for column c.
// Null binds as SQL NULL. Int widens to Real.
func (t *Table) bind(c Column, v ir.Value) (any, error) {
	if ir.IsNull(v) {
		return nil, nil
	}
	switch c.Kind {
	case ir.KindInt:
		if x, ok := v.(ir.Int); ok {
			return int64(x), nil
		}
	case ir.KindReal:
		switch x := v.(type) {
		case ir.Real:
			return realBits(float64(x)), nil
		case ir.Int:
			return realBits(float64(x)), nil
		}
	case ir.KindText:
		if x, ok := v.(ir.Text); ok {
			return string(x), nil
		}
	case ir.KindBool:
		if x, ok := v.(ir.Bool); ok {
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		}
	}
	return nil, ir.Errorf(ir.ErrCodeType, "column of kind %s cannot hold %s", c.Kind, kindOf(v)).
		WithKey(c.Name).WithPath(t.path)
}

// Append adds one row. Columns missing from row are stored as null;
// keys that are not columns are rejected.
func (t *Table) Append(ctx context.Context, row ir.Object) error {
	if err := t.g.checkWritable(); err != nil {
		return err
	}
	for _, k := range row.SortedKeys() {
		if _, _, ok := t.column(k); !ok {
			return fmt.Errorf("table %s has no column %q", t.path, k)
		}
	}

	names := make([]string, len(t.cols))
	marks := make([]string, len(t.cols))
	args := make([]any, len(t.cols))
	for i, c := range t.cols {
		v, err := t.bind(c, row[c.Name])
		if err != nil {
			return err
		}
		names[i] = fmt.Sprintf("c%d", i)
		marks[i] = "?"
		args[i] = v
	}

	query := fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", recTable(t.id))
	if len(t.cols) > 0 {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			recTable(t.id), strings.Join(names, ", "), strings.Join(marks, ", "))
	}
	if _, err := t.g.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append to %s: %w", t.path, err)
	}
	return nil
}

// Len returns the number of rows.
func (t *Table) Len(ctx context.Context) (int, error) {
	var n int
	err := t.g.q.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", recTable(t.id))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", t.path, err)
	}
	return n, nil
}

func (t *Table) selectList() string {
	cols := []string{"row_idx"}
	for i := range t.cols {
		cols = append(cols, fmt.Sprintf("c%d", i))
	}
	return strings.Join(cols, ", ")
}

// scanRow reads one row into an Object, omitting null columns.
func (t *Table) scanRow(s scanner) (int64, ir.Object, error) {
	var rowIdx int64
	dest := []any{&rowIdx}
	for _, c := range t.cols {
		switch c.Kind {
		case ir.KindText:
			dest = append(dest, new(sql.NullString))
		default:
			dest = append(dest, new(sql.NullInt64))
		}
	}
	if err := s.Scan(dest...); err != nil {
		return 0, nil, err
	}

	obj := ir.Object{}
	for i, c := range t.cols {
		switch d := dest[i+1].(type) {
		case *sql.NullString:
			if d.Valid {
				obj[c.Name] = ir.Text(d.String)
			}
		case *sql.NullInt64:
			if !d.Valid {
				continue
			}
			switch c.Kind {
			case ir.KindBool:
				obj[c.Name] = ir.Bool(d.Int64 != 0)
			case ir.KindReal:
				obj[c.Name] = ir.Real(realFrom(d.Int64))
			default:
				obj[c.Name] = ir.Int(d.Int64)
			}
		}
	}
	return rowIdx, obj, nil
}

// Rows returns every row in insertion order.
func (t *Table) Rows(ctx context.Context) ([]ir.Object, error) {
	rows, err := t.g.q.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s ORDER BY row_idx", t.selectList(), recTable(t.id)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.path, err)
	}
	defer rows.Close()

	var out []ir.Object
	for rows.Next() {
		_, obj, err := t.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.path, err)
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

// Row returns the row at zero-based index i.
func (t *Table) Row(ctx context.Context, i int) (ir.Object, error) {
	row := t.g.q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE row_idx = ?", t.selectList(), recTable(t.id)), i+1)
	_, obj, err := t.scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s row %d: %w", t.path, i, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s row %d: %w", t.path, i, err)
	}
	return obj, nil
}

// Find returns the index and content of the first row whose column col
// equals v.
func (t *Table) Find(ctx context.Context, col string, v ir.Value) (int, ir.Object, error) {
	pos, c, ok := t.column(col)
	if !ok {
		return 0, nil, fmt.Errorf("table %s has no column %q", t.path, col)
	}
	arg, err := t.bind(c, v)
	if err != nil {
		return 0, nil, err
	}
	row := t.g.q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE c%d = ? ORDER BY row_idx LIMIT 1",
			t.selectList(), recTable(t.id), pos), arg)
	idx, obj, err := t.scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, fmt.Errorf("%s[%s]: %w", t.path, col, ErrNotFound)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("search %s: %w", t.path, err)
	}
	return int(idx - 1), obj, nil
}

// Update sets one cell of the row at zero-based index i.
func (t *Table) Update(ctx context.Context, i int, col string, v ir.Value) error {
	if err := t.g.checkWritable(); err != nil {
		return err
	}
	pos, c, ok := t.column(col)
	if !ok {
		return fmt.Errorf("table %s has no column %q", t.path, col)
	}
	arg, err := t.bind(c, v)
	if err != nil {
		return err
	}
	res, err := t.g.q.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET c%d = ? WHERE row_idx = ?", recTable(t.id), pos), arg, i+1)
	if err != nil {
		return fmt.Errorf("update %s row %d: %w", t.path, i, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s row %d: %w", t.path, i, ErrNotFound)
	}
	return nil
}
