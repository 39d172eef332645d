// Package dataset stores one numeric array per sequence in a container,
// with an index of sequence keys and an append-only provenance log.
//
// Layout of a dataset container:
//
//	/                 attrs: format, format_version, name, timestep
//	/index            record table (key, filename, nodename)
//	/provenance       record table (user, timestamp, workdir, cmdline, executable)
//	/data/<key>       one array per sequence, named by the decimal key
//
// A store is opened for reading or for writing and keeps that mode until
// Close. Writing sessions append exactly one provenance row, at Close.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rmcgibbo/msmbuilder3/internal/codec"
	"github.com/rmcgibbo/msmbuilder3/internal/container"
	"github.com/rmcgibbo/msmbuilder3/internal/estimator"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// Node names and root attributes of a dataset container.
const (
	IndexTable   = "index"
	DataGroup    = "data"
	NameAttr     = "name"
	TimestepAttr = "timestep"
)

var indexColumns = []container.Column{
	{Name: "key", Kind: ir.KindInt},
	{Name: "filename", Kind: ir.KindText},
	{Name: "nodename", Kind: ir.KindText},
}

// Mode is fixed for the lifetime of a Store.
type Mode int

const (
	Read Mode = iota
	Write
)

func (m Mode) String() string {
	if m == Write {
		return "write"
	}
	return "read"
}

// ParseMode accepts "r", "read", "w" and "write".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "r", "read":
		return Read, nil
	case "w", "write":
		return Write, nil
	}
	return 0, ir.Errorf(ir.ErrCodeConfiguration, "mode must be read or write, got %q", s)
}

// Options controls Open. Everything except Overwrite and Compression is
// only consulted in write mode, and Overwrite only when creating.
type Options struct {
	Overwrite   bool
	Compression container.Compression

	// Name and Timestep are stamped on a new store.
	Name     string
	Timestep float64

	// Clock stamps the provenance row. Nil uses the wall clock.
	Clock Clock

	// Origin describes the writing process. Nil uses CurrentProcess.
	Origin *Provenance
}

// Store is an open sequence store.
type Store struct {
	h       *handle
	cleanup runtime.Cleanup
}

// handle owns the container. It is kept apart from Store so the cleanup
// registered on Store can close it.
type handle struct {
	mu       sync.Mutex
	f        *container.File
	mode     Mode
	closed   bool
	name     string
	timestep float64
	clock    Clock
	origin   *Provenance
}

// Open opens path in the given mode.
//
// In write mode a fresh container is created; an existing path is an
// ALREADY_EXISTS error unless opts.Overwrite is set. In read mode the
// format tag and version must match exactly, otherwise Open fails with
// UNRECOGNIZED_FORMAT and nothing stays open.
//
// Callers should defer Close. A store that becomes unreachable while open
// is closed by the runtime as a last resort.
func Open(ctx context.Context, path string, mode Mode, opts Options) (*Store, error) {
	var (
		h   *handle
		err error
	)
	switch mode {
	case Write:
		h, err = create(ctx, path, opts)
	case Read:
		h, err = open(ctx, path)
	default:
		return nil, ir.Errorf(ir.ErrCodeConfiguration, "unknown mode %d", mode)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{h: h}
	s.cleanup = runtime.AddCleanup(s, func(h *handle) {
		if err := h.close(context.Background()); err != nil {
			slog.Warn("closing abandoned dataset", "path", h.f.Path(), "error", err)
		}
	}, h)
	slog.Debug("dataset opened", "path", path, "mode", mode.String())
	return s, nil
}

func create(ctx context.Context, path string, opts Options) (*handle, error) {
	f, err := container.Create(path, container.Options{Overwrite: opts.Overwrite, Compression: opts.Compression})
	if err != nil {
		return nil, err
	}
	err = f.Update(ctx, func(root *container.Group) error {
		attrs := []struct {
			key string
			v   ir.Value
		}{
			{codec.FormatAttr, ir.Text(ir.DatasetFormat)},
			{codec.VersionAttr, ir.Text(ir.FormatVersion)},
			{NameAttr, ir.Text(opts.Name)},
			{TimestepAttr, ir.Real(opts.Timestep)},
		}
		for _, a := range attrs {
			if err := root.SetAttr(ctx, a.key, a.v); err != nil {
				return err
			}
		}
		if _, err := root.CreateTable(ctx, IndexTable, indexColumns); err != nil {
			return err
		}
		if _, err := root.CreateTable(ctx, ProvenanceTable, provenanceColumns); err != nil {
			return err
		}
		_, err := root.CreateGroup(ctx, DataGroup)
		return err
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("initialize dataset %s: %w", path, err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = wallClock{}
	}
	return &handle{
		f:        f,
		mode:     Write,
		name:     opts.Name,
		timestep: opts.Timestep,
		clock:    clock,
		origin:   opts.Origin,
	}, nil
}

func open(ctx context.Context, path string) (*handle, error) {
	f, err := container.Open(path)
	if err != nil {
		return nil, err
	}
	h := &handle{f: f, mode: Read}
	if err := h.check(ctx); err != nil {
		f.Close()
		return nil, err
	}
	return h, nil
}

// check validates the layout of a store opened for reading and loads its
// metadata.
func (h *handle) check(ctx context.Context) error {
	root := h.f.Root()
	if err := codec.CheckFormat(ctx, root, ir.DatasetFormat); err != nil {
		return err
	}
	for _, want := range []container.Node{
		{Name: IndexTable, Kind: container.NodeTable},
		{Name: ProvenanceTable, Kind: container.NodeTable},
		{Name: DataGroup, Kind: container.NodeGroup},
	} {
		var err error
		switch want.Kind {
		case container.NodeTable:
			_, err = root.Table(ctx, want.Name)
		default:
			_, err = root.Group(ctx, want.Name)
		}
		if err != nil {
			return ir.Errorf(ir.ErrCodeUnrecognizedFormat, "dataset has no %s %q", want.Kind, want.Name).
				WithPath(h.f.Path()).Wrap(err)
		}
	}

	attrs, err := root.Attrs(ctx)
	if err != nil {
		return err
	}
	if name, ok := attrs[NameAttr].(ir.Text); ok {
		h.name = string(name)
	}
	switch ts := attrs[TimestepAttr].(type) {
	case ir.Real:
		h.timestep = float64(ts)
	case ir.Int:
		h.timestep = float64(ts)
	}
	return nil
}

// nodeName maps a sequence key to its array name under /data.
func nodeName(key int) string {
	return strconv.Itoa(key)
}

// keyOf inverts nodeName.
func keyOf(name string) (int, error) {
	k, err := strconv.Atoi(name)
	if err != nil || k < 0 || nodeName(k) != name {
		return 0, ir.Errorf(ir.ErrCodeSerialization, "data node %q is not a sequence key", name)
	}
	return k, nil
}

func (s *Store) live() (*handle, error) {
	h := s.h
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("dataset %s: %w", h.f.Path(), ErrClosed)
	}
	return h, nil
}

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("store is closed")

func (s *Store) writable() (*handle, error) {
	h, err := s.live()
	if err != nil {
		return nil, err
	}
	if h.mode != Write {
		return nil, fmt.Errorf("dataset %s: %w", h.f.Path(), container.ErrReadOnly)
	}
	return h, nil
}

func keyNotFound(key int) error {
	return ir.Errorf(ir.ErrCodeKeyNotFound, "no sequence with key %d", key).WithKey(strconv.Itoa(key))
}

func checkKey(key int) error {
	if key < 0 {
		return ir.Errorf(ir.ErrCodeType, "sequence key must be a non-negative integer, got %d", key).WithKey(strconv.Itoa(key))
	}
	return nil
}

// Path returns the file the store was opened on.
func (s *Store) Path() string { return s.h.f.Path() }

func (s *Store) Mode() Mode { return s.h.mode }

// Name returns the free-text name stamped at creation.
func (s *Store) Name() string { return s.h.name }

// Timestep returns the time between frames stamped at creation.
func (s *Store) Timestep() float64 { return s.h.timestep }

// Put stores a under key. An existing key has its array replaced in place,
// possibly with a different shape or dtype, and keeps its index row.
func (s *Store) Put(ctx context.Context, key int, a ir.Array) error {
	h, err := s.writable()
	if err != nil {
		return err
	}
	if err := checkKey(key); err != nil {
		return err
	}
	if a.Ndim() == 0 {
		return ir.Errorf(ir.ErrCodeType, "sequence %d is not a numeric array (dtype %q, shape %s)", key, a.DType, a.ShapeString()).
			WithKey(strconv.Itoa(key))
	}
	if err := a.Validate(); err != nil {
		return ir.Errorf(ir.ErrCodeType, "sequence %d is not a valid numeric array: %v", key, err).
			WithKey(strconv.Itoa(key)).Wrap(err)
	}

	return h.f.Update(ctx, func(root *container.Group) error {
		index, err := root.Table(ctx, IndexTable)
		if err != nil {
			return err
		}
		data, err := root.Group(ctx, DataGroup)
		if err != nil {
			return err
		}

		_, row, err := index.Find(ctx, "key", ir.Int(key))
		switch {
		case err == nil:
			name, _ := row["nodename"].(ir.Text)
			return data.PutArray(ctx, string(name), a)
		case errors.Is(err, container.ErrNotFound):
			name := nodeName(key)
			if err := data.CreateArray(ctx, name, a); err != nil {
				return err
			}
			return index.Append(ctx, ir.Object{"key": ir.Int(key), "nodename": ir.Text(name)})
		default:
			return err
		}
	})
}

// lookup returns the index position and data node name of key.
func (h *handle) lookup(ctx context.Context, key int) (int, string, error) {
	index, err := h.f.Root().Table(ctx, IndexTable)
	if err != nil {
		return 0, "", err
	}
	i, row, err := index.Find(ctx, "key", ir.Int(key))
	if errors.Is(err, container.ErrNotFound) {
		return 0, "", keyNotFound(key)
	}
	if err != nil {
		return 0, "", err
	}
	name, ok := row["nodename"].(ir.Text)
	if !ok {
		return 0, "", ir.Errorf(ir.ErrCodeSerialization, "index row for key %d has no node name", key).
			WithKey(strconv.Itoa(key)).WithPath(index.Path())
	}
	return i, string(name), nil
}

// Get returns the full array stored under key.
func (s *Store) Get(ctx context.Context, key int) (ir.Array, error) {
	h, err := s.live()
	if err != nil {
		return ir.Array{}, err
	}
	_, name, err := h.lookup(ctx, key)
	if err != nil {
		return ir.Array{}, err
	}
	data, err := h.f.Root().Group(ctx, DataGroup)
	if err != nil {
		return ir.Array{}, err
	}
	return data.ReadArray(ctx, name)
}

// GetRange returns rows [lo, hi) of the array stored under key.
func (s *Store) GetRange(ctx context.Context, key, lo, hi int) (ir.Array, error) {
	a, err := s.Get(ctx, key)
	if err != nil {
		return ir.Array{}, err
	}
	r, err := a.Rows(lo, hi)
	if err != nil {
		return ir.Array{}, ir.Errorf(ir.ErrCodeShape, "sequence %d: %v", key, err).WithKey(strconv.Itoa(key))
	}
	return r, nil
}

// Length returns the number of rows stored under key without reading the
// data.
func (s *Store) Length(ctx context.Context, key int) (int, error) {
	h, err := s.live()
	if err != nil {
		return 0, err
	}
	_, name, err := h.lookup(ctx, key)
	if err != nil {
		return 0, err
	}
	data, err := h.f.Root().Group(ctx, DataGroup)
	if err != nil {
		return 0, err
	}
	info, err := data.ArrayInfo(ctx, name)
	if err != nil {
		return 0, err
	}
	if len(info.Shape) == 0 {
		return 0, nil
	}
	return info.Shape[0], nil
}

// Keys returns every indexed key in ascending order.
func (s *Store) Keys(ctx context.Context) ([]int, error) {
	h, err := s.live()
	if err != nil {
		return nil, err
	}
	index, err := h.f.Root().Table(ctx, IndexTable)
	if err != nil {
		return nil, err
	}
	rows, err := index.Rows(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]int, 0, len(rows))
	for _, row := range rows {
		k, ok := row["key"].(ir.Int)
		name, _ := row["nodename"].(ir.Text)
		if !ok {
			return nil, ir.Errorf(ir.ErrCodeSerialization, "index row without a key").WithPath(index.Path())
		}
		if back, err := keyOf(string(name)); err != nil || back != int(k) {
			return nil, ir.Errorf(ir.ErrCodeSerialization, "index maps key %d to node %q", k, name).WithPath(index.Path())
		}
		keys = append(keys, int(k))
	}
	slices.Sort(keys)
	return keys, nil
}

// Sequences yields every stored array in key order, reading one at a time.
// Each iteration re-reads the index, so the source can be replayed.
func (s *Store) Sequences(ctx context.Context) estimator.BatchSource {
	return func(yield func(ir.Array, error) bool) {
		keys, err := s.Keys(ctx)
		if err != nil {
			yield(ir.Array{}, err)
			return
		}
		for _, k := range keys {
			a, err := s.Get(ctx, k)
			if !yield(a, err) || err != nil {
				return
			}
		}
	}
}

// SetSourceLabel records the file a sequence came from.
func (s *Store) SetSourceLabel(ctx context.Context, key int, label string) error {
	h, err := s.writable()
	if err != nil {
		return err
	}
	return h.f.Update(ctx, func(root *container.Group) error {
		index, err := root.Table(ctx, IndexTable)
		if err != nil {
			return err
		}
		i, _, err := index.Find(ctx, "key", ir.Int(key))
		if errors.Is(err, container.ErrNotFound) {
			return keyNotFound(key)
		}
		if err != nil {
			return err
		}
		return index.Update(ctx, i, "filename", ir.Text(label))
	})
}

// SourceLabel returns the file a sequence came from, or "" if none was
// recorded.
func (s *Store) SourceLabel(ctx context.Context, key int) (string, error) {
	h, err := s.live()
	if err != nil {
		return "", err
	}
	index, err := h.f.Root().Table(ctx, IndexTable)
	if err != nil {
		return "", err
	}
	_, row, err := index.Find(ctx, "key", ir.Int(key))
	if errors.Is(err, container.ErrNotFound) {
		return "", keyNotFound(key)
	}
	if err != nil {
		return "", err
	}
	label, _ := row["filename"].(ir.Text)
	return string(label), nil
}

// Provenance returns the provenance log, oldest first.
func (s *Store) Provenance(ctx context.Context) ([]Provenance, error) {
	h, err := s.live()
	if err != nil {
		return nil, err
	}
	tbl, err := h.f.Root().Table(ctx, ProvenanceTable)
	if err != nil {
		return nil, err
	}
	rows, err := tbl.Rows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Provenance, len(rows))
	for i, r := range rows {
		out[i] = provenanceFrom(r)
	}
	return out, nil
}

// AppendProvenance copies rows into the log, typically the history of an
// input store this one was derived from. The session's own row is still
// added at Close.
func (s *Store) AppendProvenance(ctx context.Context, rows ...Provenance) error {
	h, err := s.writable()
	if err != nil {
		return err
	}
	return h.f.Update(ctx, func(root *container.Group) error {
		return appendProvenance(ctx, root, rows...)
	})
}

func appendProvenance(ctx context.Context, root *container.Group, rows ...Provenance) error {
	tbl, err := root.Table(ctx, ProvenanceTable)
	if err != nil {
		return err
	}
	for _, p := range rows {
		if err := tbl.Append(ctx, p.row()); err != nil {
			return err
		}
	}
	return nil
}

// Close ends the session. In write mode it first appends this session's
// provenance row. Repeated calls are no-ops.
func (s *Store) Close() error {
	s.cleanup.Stop()
	return s.h.close(context.Background())
}

func (h *handle) close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	var errs []error
	if h.mode == Write {
		p := CurrentProcess()
		if h.origin != nil {
			p = *h.origin
		}
		p.Timestamp = h.clock.Now().UTC().Format(time.RFC3339)
		err := h.f.Update(ctx, func(root *container.Group) error {
			return appendProvenance(ctx, root, p)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("append provenance: %w", err))
		}
	}
	if err := h.f.Close(); err != nil {
		errs = append(errs, err)
	}
	slog.Debug("dataset closed", "path", h.f.Path(), "mode", h.mode.String())
	return errors.Join(errs...)
}
