package container

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// ArrayInfo describes a stored array without decoding it.
type ArrayInfo struct {
	DType       ir.DType
	Shape       []int
	Compression Compression
	StoredBytes int
}

// CreateArray stores a as a new child array. Fails if name is taken.
func (g *Group) CreateArray(ctx context.Context, name string, a ir.Array) error {
	if err := a.Validate(); err != nil {
		return ir.Errorf(ir.ErrCodeType, "cannot store array: %v", err).WithPath(g.childPath(name)).Wrap(err)
	}
	id, err := g.createNode(ctx, name, NodeArray)
	if err != nil {
		return err
	}
	return g.writeArray(ctx, id, name, a, false)
}

// PutArray stores a under name, replacing the content of an existing array.
// Shape and dtype may change on replacement.
func (g *Group) PutArray(ctx context.Context, name string, a ir.Array) error {
	if err := g.checkWritable(); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return ir.Errorf(ir.ErrCodeType, "cannot store array: %v", err).WithPath(g.childPath(name)).Wrap(err)
	}
	id, err := g.lookupKind(ctx, name, NodeArray)
	if errors.Is(err, ErrNotFound) {
		return g.CreateArray(ctx, name, a)
	}
	if err != nil {
		return err
	}
	return g.writeArray(ctx, id, name, a, true)
}

func (g *Group) writeArray(ctx context.Context, id int64, name string, a ir.Array, replace bool) error {
	raw, err := a.MarshalBinary()
	if err != nil {
		return ir.Errorf(ir.ErrCodeType, "cannot store array").WithPath(g.childPath(name)).Wrap(err)
	}
	shape, err := json.Marshal(a.Shape)
	if err != nil {
		return fmt.Errorf("encode shape: %w", err)
	}
	codec := g.f.compression
	data, err := compress(codec, raw)
	if err != nil {
		return fmt.Errorf("compress %s: %w", g.childPath(name), err)
	}

	query := `INSERT INTO arrays (node_id, dtype, shape, codec, data) VALUES (?, ?, ?, ?, ?)`
	args := []any{id, string(a.DType), string(shape), string(codec), data}
	if replace {
		query = `UPDATE arrays SET dtype = ?, shape = ?, codec = ?, data = ? WHERE node_id = ?`
		args = []any{string(a.DType), string(shape), string(codec), data, id}
	}
	if _, err := g.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write array %s: %w", g.childPath(name), err)
	}
	return nil
}

// ReadArray decodes the named array in full.
func (g *Group) ReadArray(ctx context.Context, name string) (ir.Array, error) {
	id, err := g.lookupKind(ctx, name, NodeArray)
	if err != nil {
		return ir.Array{}, err
	}

	var dtype, shapeJSON, codec string
	var data []byte
	err = g.q.QueryRowContext(ctx,
		`SELECT dtype, shape, codec, data FROM arrays WHERE node_id = ?`, id,
	).Scan(&dtype, &shapeJSON, &codec, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Array{}, ir.Errorf(ir.ErrCodeSerialization, "array node has no payload").WithPath(g.childPath(name))
	}
	if err != nil {
		return ir.Array{}, fmt.Errorf("read array %s: %w", g.childPath(name), err)
	}

	var shape []int
	if err := json.Unmarshal([]byte(shapeJSON), &shape); err != nil {
		return ir.Array{}, ir.Errorf(ir.ErrCodeSerialization, "corrupt shape %q", shapeJSON).
			WithPath(g.childPath(name)).Wrap(err)
	}
	raw, err := decompress(Compression(codec), data)
	if err != nil {
		return ir.Array{}, ir.Errorf(ir.ErrCodeSerialization, "corrupt array payload").
			WithPath(g.childPath(name)).Wrap(err)
	}
	a, err := ir.UnmarshalArray(ir.DType(dtype), shape, raw)
	if err != nil {
		return ir.Array{}, ir.Errorf(ir.ErrCodeSerialization, "corrupt array payload").
			WithPath(g.childPath(name)).Wrap(err)
	}
	return a, nil
}

// ArrayInfo returns dtype, shape and storage details of the named array.
func (g *Group) ArrayInfo(ctx context.Context, name string) (ArrayInfo, error) {
	id, err := g.lookupKind(ctx, name, NodeArray)
	if err != nil {
		return ArrayInfo{}, err
	}

	var info ArrayInfo
	var dtype, shapeJSON, codec string
	err = g.q.QueryRowContext(ctx,
		`SELECT dtype, shape, codec, length(data) FROM arrays WHERE node_id = ?`, id,
	).Scan(&dtype, &shapeJSON, &codec, &info.StoredBytes)
	if err != nil {
		return ArrayInfo{}, fmt.Errorf("read array info %s: %w", g.childPath(name), err)
	}
	if err := json.Unmarshal([]byte(shapeJSON), &info.Shape); err != nil {
		return ArrayInfo{}, ir.Errorf(ir.ErrCodeSerialization, "corrupt shape %q", shapeJSON).
			WithPath(g.childPath(name)).Wrap(err)
	}
	info.DType = ir.DType(dtype)
	info.Compression = Compression(codec)
	return info, nil
}
