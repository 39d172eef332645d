package container

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

var (
	// ErrNotFound is returned when a named node or attribute does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned when creating a node whose name is taken.
	ErrExists = errors.New("already exists")

	// ErrReadOnly is returned by writes through a handle from Open.
	ErrReadOnly = errors.New("container is read-only")
)

// NodeKind distinguishes the three node types.
type NodeKind string

const (
	NodeGroup NodeKind = "group"
	NodeTable NodeKind = "table"
	NodeArray NodeKind = "array"
)

// Node describes one child of a group.
type Node struct {
	Name string
	Kind NodeKind
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Group is a named node holding attributes and child nodes.
//
// A Group obtained inside Update is bound to that transaction and must not
// be used after Update returns. The handle holds a single connection, so
// using a non-transactional Group while an Update is running blocks.
type Group struct {
	f    *File
	q    querier
	tx   *sql.Tx
	id   int64
	path string
}

// Path returns the slash-separated path from the root.
func (g *Group) Path() string {
	return g.path
}

// Name returns the last path element, or "" for the root.
func (g *Group) Name() string {
	if g.path == "/" {
		return ""
	}
	return g.path[strings.LastIndexByte(g.path, '/')+1:]
}

// Update runs fn inside one transaction. When g is already inside a
// transaction, fn joins it instead of starting a new one.
func (g *Group) Update(ctx context.Context, fn func(g *Group) error) error {
	if err := g.checkWritable(); err != nil {
		return err
	}
	if g.tx != nil {
		return fn(g)
	}

	tx, err := g.f.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	scoped := &Group{f: g.f, q: tx, tx: tx, id: g.id, path: g.path}
	if err := fn(scoped); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (g *Group) checkWritable() error {
	if g.f.db == nil {
		return errors.New("container is closed")
	}
	if !g.f.writable {
		return fmt.Errorf("%s: %w", g.f.path, ErrReadOnly)
	}
	return nil
}

func (g *Group) childPath(name string) string {
	if g.path == "/" {
		return "/" + name
	}
	return g.path + "/" + name
}

func validName(name string) error {
	if name == "" {
		return errors.New("node name must not be empty")
	}
	if strings.ContainsRune(name, '/') {
		return fmt.Errorf("node name %q must not contain '/'", name)
	}
	return nil
}

// lookup returns the id and kind of the named child.
func (g *Group) lookup(ctx context.Context, name string) (int64, NodeKind, error) {
	var id int64
	var kind string
	err := g.q.QueryRowContext(ctx,
		`SELECT id, kind FROM nodes WHERE parent_id = ? AND name = ?`,
		g.id, name,
	).Scan(&id, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", fmt.Errorf("%s: %w", g.childPath(name), ErrNotFound)
	}
	if err != nil {
		return 0, "", fmt.Errorf("lookup %s: %w", g.childPath(name), err)
	}
	return id, NodeKind(kind), nil
}

// lookupKind is lookup plus a kind check.
func (g *Group) lookupKind(ctx context.Context, name string, want NodeKind) (int64, error) {
	id, kind, err := g.lookup(ctx, name)
	if err != nil {
		return 0, err
	}
	if kind != want {
		return 0, fmt.Errorf("%s: node kind %s, want %s", g.childPath(name), kind, want)
	}
	return id, nil
}

func (g *Group) createNode(ctx context.Context, name string, kind NodeKind) (int64, error) {
	if err := g.checkWritable(); err != nil {
		return 0, err
	}
	if err := validName(name); err != nil {
		return 0, err
	}
	if _, _, err := g.lookup(ctx, name); err == nil {
		return 0, fmt.Errorf("%s: %w", g.childPath(name), ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	res, err := g.q.ExecContext(ctx,
		`INSERT INTO nodes (parent_id, name, kind) VALUES (?, ?, ?)`,
		g.id, name, string(kind),
	)
	if err != nil {
		return 0, fmt.Errorf("create %s %s: %w", kind, g.childPath(name), err)
	}
	return res.LastInsertId()
}

// CreateGroup adds a child group.
func (g *Group) CreateGroup(ctx context.Context, name string) (*Group, error) {
	id, err := g.createNode(ctx, name, NodeGroup)
	if err != nil {
		return nil, err
	}
	return &Group{f: g.f, q: g.q, tx: g.tx, id: id, path: g.childPath(name)}, nil
}

// Group returns the named child group.
func (g *Group) Group(ctx context.Context, name string) (*Group, error) {
	id, err := g.lookupKind(ctx, name, NodeGroup)
	if err != nil {
		return nil, err
	}
	return &Group{f: g.f, q: g.q, tx: g.tx, id: id, path: g.childPath(name)}, nil
}

// Has reports whether a child of any kind exists under name.
func (g *Group) Has(ctx context.Context, name string) (bool, error) {
	_, _, err := g.lookup(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Children lists child nodes in creation order.
func (g *Group) Children(ctx context.Context) ([]Node, error) {
	rows, err := g.q.QueryContext(ctx,
		`SELECT name, kind FROM nodes WHERE parent_id = ? ORDER BY id`, g.id)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", g.path, err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		var kind string
		if err := rows.Scan(&n.Name, &kind); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.Kind = NodeKind(kind)
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Walk visits every descendant depth-first in creation order.
func (g *Group) Walk(ctx context.Context, fn func(path string, n Node) error) error {
	children, err := g.Children(ctx)
	if err != nil {
		return err
	}
	for _, n := range children {
		if err := fn(g.childPath(n.Name), n); err != nil {
			return err
		}
		if n.Kind != NodeGroup {
			continue
		}
		child, err := g.Group(ctx, n.Name)
		if err != nil {
			return err
		}
		if err := child.Walk(ctx, fn); err != nil {
			return err
		}
	}
	return nil
}

// SetAttr stores a scalar attribute, replacing any previous value.
func (g *Group) SetAttr(ctx context.Context, key string, v ir.Value) error {
	if err := g.checkWritable(); err != nil {
		return err
	}
	var iv sql.NullInt64
	var tv sql.NullString
	switch val := v.(type) {
	case ir.Int:
		iv = sql.NullInt64{Int64: int64(val), Valid: true}
	case ir.Bool:
		iv = sql.NullInt64{Valid: true}
		if val {
			iv.Int64 = 1
		}
	case ir.Real:
		iv = sql.NullInt64{Int64: realBits(float64(val)), Valid: true}
	case ir.Text:
		tv = sql.NullString{String: string(val), Valid: true}
	default:
		return ir.Errorf(ir.ErrCodeType, "attribute value must be a scalar, got %s", kindOf(v)).
			WithKey(key).WithPath(g.path)
	}

	_, err := g.q.ExecContext(ctx, `
		INSERT INTO attrs (node_id, attr_key, kind, int_value, text_value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (node_id, attr_key) DO UPDATE SET
			kind = excluded.kind,
			int_value = excluded.int_value,
			text_value = excluded.text_value
	`, g.id, key, v.Kind().String(), iv, tv)
	if err != nil {
		return fmt.Errorf("set attr %s@%s: %w", g.path, key, err)
	}
	return nil
}

// Attr returns one attribute. Missing attributes wrap ErrNotFound.
func (g *Group) Attr(ctx context.Context, key string) (ir.Value, error) {
	row := g.q.QueryRowContext(ctx, `
		SELECT kind, int_value, text_value
		FROM attrs WHERE node_id = ? AND attr_key = ?
	`, g.id, key)
	v, err := scanAttr(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s@%s: %w", g.path, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read attr %s@%s: %w", g.path, key, err)
	}
	return v, nil
}

// Attrs returns all attributes of the group.
func (g *Group) Attrs(ctx context.Context) (ir.Object, error) {
	rows, err := g.q.QueryContext(ctx, `
		SELECT attr_key, kind, int_value, text_value
		FROM attrs WHERE node_id = ? ORDER BY attr_key
	`, g.id)
	if err != nil {
		return nil, fmt.Errorf("read attrs %s: %w", g.path, err)
	}
	defer rows.Close()

	out := ir.Object{}
	for rows.Next() {
		var key string
		v, err := scanAttr(keyedScanner{rows: rows, key: &key})
		if err != nil {
			return nil, fmt.Errorf("read attrs %s: %w", g.path, err)
		}
		out[key] = v
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

// keyedScanner prepends the attr_key column to a scanAttr read.
type keyedScanner struct {
	rows *sql.Rows
	key  *string
}

func (k keyedScanner) Scan(dest ...any) error {
	return k.rows.Scan(append([]any{k.key}, dest...)...)
}

func scanAttr(s scanner) (ir.Value, error) {
	var kind string
	var iv sql.NullInt64
	var tv sql.NullString
	if err := s.Scan(&kind, &iv, &tv); err != nil {
		return nil, err
	}
	switch kind {
	case "int":
		return ir.Int(iv.Int64), nil
	case "bool":
		return ir.Bool(iv.Int64 != 0), nil
	case "real":
		return ir.Real(realFrom(iv.Int64)), nil
	case "text":
		return ir.Text(tv.String), nil
	}
	return nil, fmt.Errorf("unknown attribute kind %q", kind)
}

func kindOf(v ir.Value) string {
	if v == nil {
		return ir.KindNull.String()
	}
	return v.Kind().String()
}
