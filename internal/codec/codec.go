// Package codec writes estimators into container groups and reads them back.
//
// A persisted estimator is a group named after its type (or, when nested,
// after the entry that holds it) with:
//   - attribute "class": the registered type name, used for dispatch on read
//   - record table "<Type>__params_table": exactly one row holding every
//     present integer, real, text and boolean entry
//   - one array per present array entry
//   - one child group per present nested estimator
//   - one child group with class "__list__" per present estimator list,
//     whose children are named "0", "1", ...
//
// Absent values are never written, and on read anything not found is
// absent. Writes are buffered and validated before the first row is
// stored, then applied in one transaction.
package codec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/rmcgibbo/msmbuilder3/internal/container"
	"github.com/rmcgibbo/msmbuilder3/internal/estimator"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// ClassAttr names the group attribute holding the registered type name.
const ClassAttr = "class"

// node is the buffered form of one persisted estimator or list.
type node struct {
	name     string
	class    string
	record   string
	columns  []container.Column
	row      ir.Object
	arrays   []namedArray
	children []*node
}

type namedArray struct {
	name string
	a    ir.Array
}

// Write stores e as a new child of parent named after e's type.
// Nothing is written if any entry cannot be stored.
func Write(ctx context.Context, e estimator.Estimator, parent *container.Group) error {
	n, err := build(e, e.TypeName(), parent.Path())
	if err != nil {
		return err
	}
	err = parent.Update(ctx, func(g *container.Group) error {
		return n.write(ctx, g)
	})
	if err != nil {
		return err
	}
	slog.Debug("estimator written", "type", e.TypeName(), "parent", parent.Path())
	return nil
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// build flattens e into a node, checking every entry.
func build(e estimator.Estimator, name, parentPath string) (*node, error) {
	path := joinPath(parentPath, name)
	schema, err := estimator.SchemaOf(e)
	if err != nil {
		return nil, ir.Errorf(ir.ErrCodeSerialization, "cannot write %s", e.TypeName()).WithPath(path).Wrap(err)
	}

	n := &node{
		name:   name,
		class:  schema.Type,
		record: estimator.RecordName(schema.Type),
		row:    ir.Object{},
	}

	fields := append(append([]estimator.Field(nil), schema.Params...), schema.Estimates...)
	for _, f := range fields {
		v := e.Get(f.Name)
		if ir.IsNull(v) {
			continue
		}
		if err := n.add(f.Name, v, path); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (n *node) add(key string, v ir.Value, path string) error {
	switch val := v.(type) {
	case ir.Int, ir.Real, ir.Text, ir.Bool:
		n.columns = append(n.columns, container.Column{Name: key, Kind: v.Kind()})
		n.row[key] = v
	case ir.Array:
		if err := val.Validate(); err != nil {
			return ir.Errorf(ir.ErrCodeSerialization, "malformed array: %v", err).
				WithKey(key).WithPath(path).Wrap(err)
		}
		n.arrays = append(n.arrays, namedArray{name: key, a: val})
	case ir.Model:
		child, ok := val.M.(estimator.Estimator)
		if !ok {
			return ir.Errorf(ir.ErrCodeSerialization, "nested %T is not an estimator", val.M).
				WithKey(key).WithPath(path)
		}
		c, err := build(child, key, path)
		if err != nil {
			return err
		}
		n.children = append(n.children, c)
	case ir.ModelList:
		list := &node{name: key, class: estimator.ListClass}
		listPath := joinPath(path, key)
		for i, m := range val {
			child, ok := m.(estimator.Estimator)
			if !ok || child == nil {
				return ir.Errorf(ir.ErrCodeSerialization, "list element %d is not an estimator", i).
					WithKey(key).WithPath(path)
			}
			c, err := build(child, strconv.Itoa(i), listPath)
			if err != nil {
				return err
			}
			list.children = append(list.children, c)
		}
		n.children = append(n.children, list)
	default:
		return ir.Errorf(ir.ErrCodeSerialization, "unsupported value of kind %s", v.Kind()).
			WithKey(key).WithPath(path)
	}
	return nil
}

func (n *node) write(ctx context.Context, parent *container.Group) error {
	g, err := parent.CreateGroup(ctx, n.name)
	if err != nil {
		return fmt.Errorf("write %s: %w", n.class, err)
	}
	if err := g.SetAttr(ctx, ClassAttr, ir.Text(n.class)); err != nil {
		return err
	}

	if n.record != "" {
		tbl, err := g.CreateTable(ctx, n.record, n.columns)
		if err != nil {
			return err
		}
		if err := tbl.Append(ctx, n.row); err != nil {
			return err
		}
	}
	for _, a := range n.arrays {
		if err := g.CreateArray(ctx, a.name, a.a); err != nil {
			return err
		}
	}
	for _, c := range n.children {
		if err := c.write(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

// Read reconstructs the estimator stored in g.
//
// typeName may be empty, in which case g's class attribute decides.
// Parameters not found in g are passed to the constructor as absent.
func Read(ctx context.Context, g *container.Group, typeName string) (estimator.Estimator, error) {
	class, err := classOf(ctx, g)
	if err != nil {
		return nil, err
	}
	if typeName == "" {
		typeName = class
	}
	if class != typeName {
		return nil, ir.Errorf(ir.ErrCodeSerialization, "node holds a %s, not a %s", class, typeName).WithPath(g.Path())
	}
	schema, ok := estimator.Lookup(typeName)
	if !ok {
		return nil, ir.Errorf(ir.ErrCodeSerialization, "unknown estimator type %q", typeName).WithPath(g.Path())
	}

	values, err := readEntries(ctx, g, schema)
	if err != nil {
		return nil, err
	}

	initData := ir.Object{}
	postData := ir.Object{}
	for k, v := range values {
		if _, isParam := schema.Param(k); isParam {
			initData[k] = v
		} else {
			postData[k] = v
		}
	}

	e, err := estimator.New(typeName, initData)
	if err != nil {
		return nil, ir.Errorf(ir.ErrCodeSerialization, "cannot construct %s", typeName).WithPath(g.Path()).Wrap(err)
	}
	for _, k := range postData.SortedKeys() {
		if _, ok := schema.Estimate(k); !ok {
			return nil, ir.Errorf(ir.ErrCodeSerialization, "%s has no estimate %q", typeName, k).
				WithKey(k).WithPath(g.Path())
		}
		if err := e.Set(k, postData[k]); err != nil {
			return nil, ir.Errorf(ir.ErrCodeSerialization, "cannot restore %s", k).
				WithKey(k).WithPath(g.Path()).Wrap(err)
		}
	}
	return e, nil
}

func classOf(ctx context.Context, g *container.Group) (string, error) {
	v, err := g.Attr(ctx, ClassAttr)
	if errors.Is(err, container.ErrNotFound) {
		return "", ir.Errorf(ir.ErrCodeSerialization, "node has no %s attribute", ClassAttr).WithPath(g.Path())
	}
	if err != nil {
		return "", err
	}
	class, ok := v.(ir.Text)
	if !ok {
		return "", ir.Errorf(ir.ErrCodeSerialization, "%s attribute is %s, not text", ClassAttr, v.Kind()).WithPath(g.Path())
	}
	return string(class), nil
}

// readEntries collects the scalar row, arrays and nested estimators of g.
func readEntries(ctx context.Context, g *container.Group, schema *estimator.Schema) (ir.Object, error) {
	record := estimator.RecordName(schema.Type)
	children, err := g.Children(ctx)
	if err != nil {
		return nil, err
	}

	values := ir.Object{}
	for _, c := range children {
		switch c.Kind {
		case container.NodeTable:
			if c.Name != record {
				return nil, ir.Errorf(ir.ErrCodeSerialization, "unexpected table %q", c.Name).WithPath(g.Path())
			}
			tbl, err := g.Table(ctx, c.Name)
			if err != nil {
				return nil, err
			}
			rows, err := tbl.Rows(ctx)
			if err != nil {
				return nil, err
			}
			if len(rows) != 1 {
				return nil, ir.Errorf(ir.ErrCodeSerialization, "scalar record has %d rows, want 1", len(rows)).
					WithPath(tbl.Path())
			}
			for k, v := range rows[0] {
				values[k] = v
			}
		case container.NodeArray:
			a, err := g.ReadArray(ctx, c.Name)
			if err != nil {
				return nil, err
			}
			values[c.Name] = a
		case container.NodeGroup:
			sub, err := g.Group(ctx, c.Name)
			if err != nil {
				return nil, err
			}
			v, err := readNested(ctx, sub)
			if err != nil {
				return nil, err
			}
			values[c.Name] = v
		}
	}
	return values, nil
}

func readNested(ctx context.Context, g *container.Group) (ir.Value, error) {
	class, err := classOf(ctx, g)
	if err != nil {
		return nil, err
	}
	if class != estimator.ListClass {
		e, err := Read(ctx, g, class)
		if err != nil {
			return nil, err
		}
		return ir.Model{M: e}, nil
	}

	children, err := g.Children(ctx)
	if err != nil {
		return nil, err
	}
	type indexed struct {
		i int
		e estimator.Estimator
	}
	items := make([]indexed, 0, len(children))
	for _, c := range children {
		i, err := strconv.Atoi(c.Name)
		if err != nil || c.Kind != container.NodeGroup || i < 0 {
			return nil, ir.Errorf(ir.ErrCodeSerialization, "list element %q is not an indexed group", c.Name).WithPath(g.Path())
		}
		sub, err := g.Group(ctx, c.Name)
		if err != nil {
			return nil, err
		}
		e, err := Read(ctx, sub, "")
		if err != nil {
			return nil, err
		}
		items = append(items, indexed{i: i, e: e})
	}
	sort.Slice(items, func(a, b int) bool { return items[a].i < items[b].i })

	list := make(ir.ModelList, len(items))
	for pos, it := range items {
		if it.i != pos {
			return nil, ir.Errorf(ir.ErrCodeSerialization, "list is missing element %d", pos).WithPath(g.Path())
		}
		list[pos] = it.e
	}
	return list, nil
}
