package decomposition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/rmcgibbo/msmbuilder3/internal/estimator"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
	"github.com/rmcgibbo/msmbuilder3/internal/testutil"
)

func TestTICA_PairsStayWithinBatch(t *testing.T) {
	tica := NewTICA(1, 1)
	require.NoError(t, tica.FitUpdate(matrix(t, []float64{1, 2}, []float64{3, 4})))
	require.NoError(t, tica.FitUpdate(matrix(t, []float64{5, 6})))

	assert.Equal(t, 2, tica.Observations())
	assert.True(t, ir.Equal(ir.Vector(4, 6), tica.Get("running_sum_")))

	single := NewTICA(1, 1)
	require.NoError(t, single.Fit(matrix(t, []float64{1}, []float64{2}, []float64{3})))
	assert.Equal(t, 4, single.Observations())
	assert.True(t, ir.Equal(ir.Vector(8), single.Get("running_sum_")))
	assert.True(t, ir.Equal(ir.MustArray(ir.Float64, []int{1, 1}, []float64{16}), single.Get("timelag_corr_sum_")),
		"2*(1*2 + 2*3)")
}

func TestTICA_SolvesGeneralizedEigenproblem(t *testing.T) {
	tica := NewTICA(1, 2)
	require.NoError(t, tica.Fit(testutil.SlowFast(200, 0), testutil.SlowFast(150, 7)))
	require.NoError(t, tica.Finalize())

	vals, err := tica.Eigenvalues()
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.Greater(t, vals[0], 0.9, "slow mode")
	assert.Less(t, vals[1], 0.0, "alternating mode")

	cov, err := symFrom("cov", tica.Get("cov_mat_").(ir.Array))
	require.NoError(t, err)
	lag, err := symFrom("lag", tica.Get("timelag_corr_mat_").(ir.Array))
	require.NoError(t, err)

	for k, lambda := range vals {
		v := tica.vectors.ColView(k)
		var lhs, rhs mat.VecDense
		lhs.MulVec(lag, v)
		rhs.MulVec(cov, v)
		rhs.ScaleVec(lambda, &rhs)
		assert.True(t, mat.EqualApprox(&lhs, &rhs, 1e-9), "eigenpair %d", k)
	}

	var c0 mat.Dense
	c0.Mul(tica.vectors.T(), cov)
	var gram mat.Dense
	gram.Mul(&c0, tica.vectors)
	assert.True(t, mat.EqualApprox(&gram, eye(2), 1e-9), "eigenvectors are C(0)-orthonormal")
}

func eye(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

func TestTICA_OrderIndependence(t *testing.T) {
	seqs := []ir.Array{testutil.SlowFast(40, 0), testutil.SlowFast(25, 3), testutil.SlowFast(60, 11)}

	forward := NewTICA(2, 2)
	require.NoError(t, forward.Fit(seqs...))
	want, err := forward.Eigenvalues()
	require.NoError(t, err)

	backward := NewTICA(2, 2)
	require.NoError(t, backward.Fit(seqs[2], seqs[1], seqs[0]))
	got, err := backward.Eigenvalues()
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-9)

	left, right := NewTICA(2, 2), NewTICA(2, 2)
	require.NoError(t, left.Fit(seqs[0]))
	require.NoError(t, right.Fit(seqs[1:]...))
	require.NoError(t, left.Merge(right))
	assert.Equal(t, forward.Observations(), left.Observations())
	got, err = left.Eigenvalues()
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-9)

	err = left.Merge(NewTICA(3, 2))
	assert.True(t, ir.IsConfigurationError(err))
}

func TestTICA_StreamsFromSource(t *testing.T) {
	ctx := context.Background()
	seqs := []ir.Array{testutil.SlowFast(30, 0), testutil.SlowFast(30, 1)}

	tica := NewTICA(1, 1)
	require.NoError(t, estimator.FitSource(ctx, tica, estimator.Batches(seqs...)))
	assert.Equal(t, 2*29*2, tica.Observations())
}

func TestTICA_Errors(t *testing.T) {
	tica := NewTICA(3, 1)
	require.NoError(t, tica.FitUpdate(testutil.SlowFast(3, 0)))
	assert.True(t, ir.IsNotFittedError(tica.Finalize()), "no sequence longer than the lag")

	err := tica.FitUpdate(ir.Vector(1, 2, 3))
	assert.True(t, ir.IsShapeError(err))

	unset := NewTICA(1, 0)
	require.NoError(t, unset.Fit(testutil.SlowFast(20, 0)))
	_, err = unset.Transform(testutil.SlowFast(2, 0))
	assert.True(t, ir.IsConfigurationError(err))

	bad := NewTICA(0, 1)
	assert.True(t, ir.IsConfigurationError(bad.FitUpdate(testutil.SlowFast(4, 0))))
}

func TestTICA_Params(t *testing.T) {
	e, err := estimator.New(TICAType, nil)
	require.NoError(t, err)
	assert.Equal(t, ir.Int(1), e.Get("lag_time"))
	assert.Equal(t, ir.Null{}, e.Get("n_components"))

	_, err = estimator.New(TICAType, ir.Object{"lag_time": ir.Int(0)})
	assert.True(t, ir.IsConfigurationError(err))

	e, err = estimator.New(TICAType, ir.Object{"lag_time": ir.Int(5), "n_components": ir.Int(2)})
	require.NoError(t, err)
	tica := e.(*TICA)
	assert.Equal(t, 5, tica.LagTime)
	assert.Equal(t, 2, *tica.NComponents)
}

func TestTICA_TransformAll(t *testing.T) {
	tica := NewTICA(1, 1)
	require.NoError(t, tica.Fit(testutil.SlowFast(50, 0)))

	out, err := estimator.TransformAll(tica, []ir.Array{testutil.SlowFast(5, 0), testutil.SlowFast(8, 2)})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []int{5, 1}, out[0].Shape)
	assert.Equal(t, []int{8, 1}, out[1].Shape)
}

func TestTICA_RoundTrip(t *testing.T) {
	tica := NewTICA(2, 2)
	tica.SubtractMean = true
	require.NoError(t, tica.Fit(testutil.SlowFast(80, 0), testutil.SlowFast(40, 5)))
	require.NoError(t, tica.Finalize())

	e := saveLoad(t, tica)
	got, ok := e.(*TICA)
	require.True(t, ok)
	assert.Equal(t, 2, got.LagTime)
	assert.True(t, got.SubtractMean)
	assert.True(t, got.Finalized())

	names, err := estimator.EstimateNames(tica)
	require.NoError(t, err)
	assert.Len(t, names, len(ticaSchema.Estimates))
	for _, name := range names {
		assert.True(t, ir.Equal(tica.Get(name), got.Get(name)), "estimate %s", name)
	}

	x := testutil.SlowFast(6, 3)
	want, err := tica.Transform(x)
	require.NoError(t, err)
	have, err := got.Transform(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want.Data, have.Data, 1e-12)
}

func TestTICA_RoundTripAccumulatorOnly(t *testing.T) {
	tica := NewTICA(1, 1)
	require.NoError(t, tica.FitUpdate(testutil.SlowFast(10, 0)))

	e := saveLoad(t, tica)
	got := e.(*TICA)
	assert.False(t, got.Finalized())
	assert.Equal(t, ir.Null{}, got.Get("cov_mat_"))
	assert.Equal(t, 18, got.Observations())

	require.NoError(t, got.FitUpdate(testutil.SlowFast(10, 3)))
	require.NoError(t, tica.FitUpdate(testutil.SlowFast(10, 3)))
	want, err := tica.Eigenvalues()
	require.NoError(t, err)
	have, err := got.Eigenvalues()
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, have, 1e-12)
}
