package pipeline

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmcgibbo/msmbuilder3/internal/cluster"
	"github.com/rmcgibbo/msmbuilder3/internal/codec"
	"github.com/rmcgibbo/msmbuilder3/internal/container"
	"github.com/rmcgibbo/msmbuilder3/internal/decomposition"
	"github.com/rmcgibbo/msmbuilder3/internal/estimator"
	"github.com/rmcgibbo/msmbuilder3/internal/featurizer"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// trajectory places three atoms on a line and lets them breathe.
func trajectory(frames int, phase float64) ir.Array {
	data := make([]float64, 0, frames*9)
	for f := 0; f < frames; f++ {
		s := 1 + 0.5*math.Sin(phase+0.3*float64(f))
		c := 2 + 0.2*math.Cos(phase+1.1*float64(f))
		data = append(data, 0, 0, 0, s, 0, 0, s+c, 0.1*s, 0)
	}
	return ir.MustArray(ir.Float64, []int{frames, 3, 3}, data)
}

func newPipeline(t *testing.T) *Pipeline {
	t.Helper()
	seed := 0
	kc := cluster.NewKCenters(3)
	kc.Seed = &seed
	p, err := New(
		featurizer.NewDistanceFeaturizer([2]int{0, 1}, [2]int{1, 2}, [2]int{0, 2}),
		decomposition.NewTICA(1, 2),
		kc,
	)
	require.NoError(t, err)
	return p
}

func TestPipeline_FitStreamsThroughStages(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	src := estimator.Batches(trajectory(40, 0), trajectory(30, 1))
	require.NoError(t, p.FitSource(ctx, src))

	tica := p.Stages()[1].(*decomposition.TICA)
	assert.Equal(t, 2*(39+29), tica.Observations())

	kc := p.Stages()[2].(*cluster.KCenters)
	require.True(t, kc.Fitted())
	labels := kc.Get("labels_").(ir.Array)
	assert.Equal(t, []int{70}, labels.Shape)

	y, err := p.Transform(trajectory(5, 2))
	require.NoError(t, err)
	assert.Equal(t, []int{5}, y.Shape)
	for _, l := range y.Data {
		assert.GreaterOrEqual(t, l, 0.0)
		assert.Less(t, l, 3.0)
	}
}

func TestPipeline_Validation(t *testing.T) {
	_, err := New(cluster.NewKCenters(2), decomposition.NewPCA(1))
	require.NoError(t, err, "KCenters transforms, so it may lead")

	_, err = New(&opaque{}, decomposition.NewPCA(1))
	assert.True(t, ir.IsConfigurationError(err))

	p, err := New(decomposition.NewPCA(1), &opaque{})
	require.NoError(t, err)
	_, err = p.Transform(ir.Vector(1))
	assert.True(t, ir.IsConfigurationError(err))

	empty := &Pipeline{}
	assert.True(t, ir.IsConfigurationError(empty.Fit(ir.Vector(1))))
	_, err = empty.Transform(ir.Vector(1))
	assert.True(t, ir.IsConfigurationError(err))
}

type opaque struct{}

func (*opaque) TypeName() string { return "pipeline_test.Opaque" }
func (*opaque) Get(string) ir.Value { return ir.Null{} }
func (*opaque) Set(string, ir.Value) error { return nil }

func TestPipeline_StageErrorNamesStage(t *testing.T) {
	p, err := New(decomposition.NewPCA(1))
	require.NoError(t, err)
	err = p.Fit(ir.Vector(1, 2), ir.Vector(1, 2, 3))
	require.Error(t, err)
	assert.True(t, ir.IsShapeError(err))
	assert.Contains(t, err.Error(), "stage 0 (PCA)")
}

func TestPipeline_RoundTrip(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	require.NoError(t, p.Fit(trajectory(50, 0), trajectory(20, 0.5)))
	require.NoError(t, p.Finalize())

	path := filepath.Join(t.TempDir(), "pipeline.db")
	require.NoError(t, codec.Save(ctx, path, p, container.Options{}))
	e, err := codec.Load(ctx, path)
	require.NoError(t, err)
	got, ok := e.(*Pipeline)
	require.True(t, ok)
	require.Len(t, got.Stages(), 3)
	assert.True(t, got.Stages()[1].(*decomposition.TICA).Finalized())

	x := trajectory(8, 3)
	want, err := p.Transform(x)
	require.NoError(t, err)
	have, err := got.Transform(x)
	require.NoError(t, err)
	assert.Equal(t, want, have)
}
