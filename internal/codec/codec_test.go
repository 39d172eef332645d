package codec

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmcgibbo/msmbuilder3/internal/container"
	"github.com/rmcgibbo/msmbuilder3/internal/estimator"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

const fixtureType = "codec_test.Fixture"

// fixture stores its declared fields in a map so every value kind can be
// exercised without a real model behind it.
type fixture struct {
	fields ir.Object
}

var fixtureSchema = estimator.Schema{
	Type: fixtureType,
	Params: []estimator.Field{
		{Name: "count", Kind: ir.KindInt},
		{Name: "rate", Kind: ir.KindReal},
		{Name: "name", Kind: ir.KindText},
		{Name: "flag", Kind: ir.KindBool},
		{Name: "weights", Kind: ir.KindArray},
		{Name: "child", Kind: ir.KindModel},
		{Name: "stages", Kind: ir.KindModelList},
	},
	Estimates: []estimator.Field{
		{Name: "total_", Kind: ir.KindInt},
		{Name: "mean_", Kind: ir.KindArray},
	},
}

func init() {
	estimator.MustRegister(fixtureSchema, func(params ir.Object) (estimator.Estimator, error) {
		p := &fixture{fields: ir.Object{}}
		if err := estimator.SetParams(p, params); err != nil {
			return nil, err
		}
		return p, nil
	})
}

func newFixture(fields ir.Object) *fixture {
	return &fixture{fields: fields}
}

func (p *fixture) TypeName() string { return fixtureType }

func (p *fixture) Get(name string) ir.Value {
	if v, ok := p.fields[name]; ok {
		return v
	}
	return ir.Null{}
}

func (p *fixture) Set(name string, v ir.Value) error {
	if _, ok := fixtureSchema.Field(name); !ok {
		return estimator.Unknown(fixtureType, name)
	}
	if ir.IsNull(v) {
		delete(p.fields, name)
		return nil
	}
	p.fields[name] = v
	return nil
}

// unregistered is an estimator no factory knows about.
type unregistered struct{}

func (unregistered) TypeName() string { return "codec_test.Unregistered" }
func (unregistered) Get(string) ir.Value { return ir.Null{} }
func (unregistered) Set(string, ir.Value) error { return nil }

func fullFixture() *fixture {
	return newFixture(ir.Object{
		"count":   ir.Int(3),
		"rate":    ir.Real(0.5),
		"name":    ir.Text("p"),
		"flag":    ir.Bool(true),
		"weights": ir.Vector(1, 2),
		"child":   ir.Model{M: newFixture(ir.Object{"count": ir.Int(1)})},
		"stages":  ir.ModelList{newFixture(ir.Object{"name": ir.Text("s0")})},
		"total_":  ir.Int(7),
		"mean_":   ir.Vector(1.5),
	})
}

func newContainer(t *testing.T) *container.File {
	t.Helper()
	f, err := container.Create(filepath.Join(t.TempDir(), "m.db"), container.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

// assertSameEstimator compares declared params and present estimates,
// descending into nested models.
func assertSameEstimator(t *testing.T, want, got estimator.Estimator) {
	t.Helper()
	require.Equal(t, want.TypeName(), got.TypeName())
	wantParams, err := estimator.GetParams(want)
	require.NoError(t, err)
	gotParams, err := estimator.GetParams(got)
	require.NoError(t, err)
	for _, k := range wantParams.SortedKeys() {
		assertSameValue(t, want.TypeName()+"."+k, wantParams[k], gotParams[k])
	}

	names, err := estimator.EstimateNames(want)
	require.NoError(t, err)
	for _, n := range names {
		assertSameValue(t, want.TypeName()+"."+n, want.Get(n), got.Get(n))
	}
	gotNames, err := estimator.EstimateNames(got)
	require.NoError(t, err)
	assert.Equal(t, names, gotNames)
}

func assertSameValue(t *testing.T, name string, want, got ir.Value) {
	t.Helper()
	switch w := want.(type) {
	case ir.Model:
		g, ok := got.(ir.Model)
		require.True(t, ok, "%s: want a model, got %v", name, got)
		assertSameEstimator(t, w.M.(estimator.Estimator), g.M.(estimator.Estimator))
	case ir.ModelList:
		g, ok := got.(ir.ModelList)
		require.True(t, ok, "%s: want a model list, got %v", name, got)
		require.Len(t, g, len(w), name)
		for i := range w {
			assertSameEstimator(t, w[i].(estimator.Estimator), g[i].(estimator.Estimator))
		}
	case ir.Real:
		g, ok := got.(ir.Real)
		require.True(t, ok, "%s: want a real, got %v", name, got)
		if math.IsNaN(float64(w)) {
			assert.True(t, math.IsNaN(float64(g)), "%s: want NaN, got %v", name, g)
			return
		}
		assert.Equal(t, w, g, name)
	default:
		assert.True(t, ir.Equal(want, got), "%s: want %v, got %v", name, want, got)
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newContainer(t)
	want := fullFixture()

	require.NoError(t, Write(ctx, want, f.Root()))

	g, err := f.Root().Group(ctx, fixtureType)
	require.NoError(t, err)
	got, err := Read(ctx, g, fixtureType)
	require.NoError(t, err)
	assertSameEstimator(t, want, got)

	child, _, err := estimator.Model("child", got.Get("child"))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1), child.Get("count"))

	stages, _, err := estimator.Models("stages", got.Get("stages"))
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, ir.Text("s0"), stages[0].Get("name"))
}

func TestWriteRead_NonFiniteReals(t *testing.T) {
	ctx := context.Background()
	for name, x := range map[string]float64{
		"nan":      math.NaN(),
		"pos_inf":  math.Inf(1),
		"neg_inf":  math.Inf(-1),
		"neg_zero": math.Copysign(0, -1),
	} {
		t.Run(name, func(t *testing.T) {
			f := newContainer(t)
			want := newFixture(ir.Object{"rate": ir.Real(x), "child": ir.Model{M: newFixture(ir.Object{"rate": ir.Real(x)})}})
			require.NoError(t, Write(ctx, want, f.Root()))

			g, err := f.Root().Group(ctx, fixtureType)
			require.NoError(t, err)
			got, err := Read(ctx, g, fixtureType)
			require.NoError(t, err)

			rate, ok := got.Get("rate").(ir.Real)
			require.True(t, ok, "rate read back as %v", got.Get("rate"))
			assert.Equal(t, math.Float64bits(x), math.Float64bits(float64(rate)))
			assertSameEstimator(t, want, got)
		})
	}
}

func TestWrite_MalformedArrayLeavesNothing(t *testing.T) {
	ctx := context.Background()
	f := newContainer(t)

	bad := newFixture(ir.Object{"mean_": ir.Array{DType: ir.Float64, Shape: []int{2, 3}, Data: []float64{1, 2}}})
	err := Write(ctx, bad, f.Root())
	require.Error(t, err)

	var e *ir.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ir.ErrCodeSerialization, e.Code)
	assert.Equal(t, "mean_", e.Key)

	children, err := f.Root().Children(ctx)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestWrite_Layout(t *testing.T) {
	ctx := context.Background()
	f := newContainer(t)
	require.NoError(t, Write(ctx, fullFixture(), f.Root()))

	g, err := f.Root().Group(ctx, fixtureType)
	require.NoError(t, err)

	class, err := g.Attr(ctx, ClassAttr)
	require.NoError(t, err)
	assert.Equal(t, ir.Text(fixtureType), class)

	children, err := g.Children(ctx)
	require.NoError(t, err)
	assert.Equal(t, []container.Node{
		{Name: fixtureType + "__params_table", Kind: container.NodeTable},
		{Name: "weights", Kind: container.NodeArray},
		{Name: "mean_", Kind: container.NodeArray},
		{Name: "child", Kind: container.NodeGroup},
		{Name: "stages", Kind: container.NodeGroup},
	}, children)

	tbl, err := g.Table(ctx, estimator.RecordName(fixtureType))
	require.NoError(t, err)
	rows, err := tbl.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ir.Object{
		"count":  ir.Int(3),
		"rate":   ir.Real(0.5),
		"name":   ir.Text("p"),
		"flag":   ir.Bool(true),
		"total_": ir.Int(7),
	}, rows[0])

	stages, err := g.Group(ctx, "stages")
	require.NoError(t, err)
	class, err = stages.Attr(ctx, ClassAttr)
	require.NoError(t, err)
	assert.Equal(t, ir.Text(estimator.ListClass), class)
	ok, err := stages.Has(ctx, "0")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWriteRead_AbsenceSymmetry(t *testing.T) {
	ctx := context.Background()
	f := newContainer(t)
	want := newFixture(ir.Object{"count": ir.Int(2)})
	require.NoError(t, want.Set("rate", ir.Null{}))

	require.NoError(t, Write(ctx, want, f.Root()))
	g, err := f.Root().Group(ctx, fixtureType)
	require.NoError(t, err)

	has, err := g.Has(ctx, "weights")
	require.NoError(t, err)
	assert.False(t, has, "absent array must not be written")

	got, err := Read(ctx, g, "")
	require.NoError(t, err)
	params, err := estimator.GetParams(got)
	require.NoError(t, err)
	assert.Equal(t, ir.Null{}, params["rate"])
	assert.Equal(t, ir.Null{}, params["weights"])
	assert.Equal(t, ir.Int(2), params["count"])

	names, err := estimator.EstimateNames(got)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestWrite_UnsupportedValueLeavesNothing(t *testing.T) {
	ctx := context.Background()
	f := newContainer(t)

	bad := fullFixture()
	bad.fields["child"] = ir.Model{M: unregistered{}}

	err := Write(ctx, bad, f.Root())
	require.Error(t, err)
	assert.True(t, ir.IsSerializationError(err), "got %v", err)

	children, err := f.Root().Children(ctx)
	require.NoError(t, err)
	assert.Empty(t, children, "failed write left a partial node")
}

func TestWrite_BadArrayNamesKey(t *testing.T) {
	ctx := context.Background()
	f := newContainer(t)

	bad := newFixture(ir.Object{"weights": ir.Array{DType: "complex128"}})
	err := Write(ctx, bad, f.Root())
	require.Error(t, err)

	var e *ir.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ir.ErrCodeSerialization, e.Code)
	assert.Equal(t, "weights", e.Key)
}

func TestRead_WrongType(t *testing.T) {
	ctx := context.Background()
	f := newContainer(t)
	require.NoError(t, Write(ctx, newFixture(ir.Object{}), f.Root()))

	g, err := f.Root().Group(ctx, fixtureType)
	require.NoError(t, err)
	_, err = Read(ctx, g, "something.Else")
	assert.True(t, ir.IsSerializationError(err))
}

func TestRead_MissingClass(t *testing.T) {
	ctx := context.Background()
	f := newContainer(t)
	g, err := f.Root().CreateGroup(ctx, "bare")
	require.NoError(t, err)

	_, err = Read(ctx, g, "")
	assert.True(t, ir.IsSerializationError(err))
}

func TestRead_UndeclaredEntry(t *testing.T) {
	ctx := context.Background()
	f := newContainer(t)
	require.NoError(t, Write(ctx, newFixture(ir.Object{}), f.Root()))

	g, err := f.Root().Group(ctx, fixtureType)
	require.NoError(t, err)
	require.NoError(t, g.CreateArray(ctx, "stray_", ir.Vector(1)))

	_, err = Read(ctx, g, "")
	require.Error(t, err)
	assert.True(t, ir.IsSerializationError(err))
	assert.Contains(t, err.Error(), "stray_")
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "model.db")
	want := fullFixture()

	require.NoError(t, Save(ctx, path, want, container.Options{}))
	got, err := Load(ctx, path)
	require.NoError(t, err)
	assertSameEstimator(t, want, got)

	err = Save(ctx, path, want, container.Options{})
	assert.True(t, ir.IsAlreadyExistsError(err))
	require.NoError(t, Save(ctx, path, want, container.Options{Overwrite: true, Compression: container.CompressionZlib}))
}

func TestLoad_RejectsForeignFormat(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "other.db")

	f, err := container.Create(path, container.Options{})
	require.NoError(t, err)
	require.NoError(t, f.Root().SetAttr(ctx, FormatAttr, ir.Text(ir.DatasetFormat)))
	require.NoError(t, f.Root().SetAttr(ctx, VersionAttr, ir.Text(ir.FormatVersion)))
	require.NoError(t, f.Close())

	_, err = Load(ctx, path)
	assert.True(t, ir.IsUnrecognizedFormatError(err), "got %v", err)
}

func TestDump_Golden(t *testing.T) {
	out, err := DumpJSON(fullFixture())
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "fixture_dump", out)
}
