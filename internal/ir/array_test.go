package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewArrayValidatesShape(t *testing.T) {
	_, err := NewArray(Float64, []int{2, 3}, []float64{1, 2, 3})
	assert.Error(t, err)

	_, err = NewArray("complex128", []int{1}, []float64{1})
	assert.Error(t, err)

	_, err = NewArray(Float64, []int{-1}, nil)
	assert.Error(t, err)

	a, err := NewArray(Float64, []int{2, 2}, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 2, a.Ndim())
	assert.Equal(t, 4, a.Size())
	assert.Equal(t, 2, a.Len())
}

func TestArrayValidate(t *testing.T) {
	assert.NoError(t, Vector(1, 2).Validate())
	assert.NoError(t, MustArray(Int32, []int{0, 4}, nil).Validate())

	tests := []struct {
		name string
		arr  Array
	}{
		{"zero value", Array{}},
		{"short data", Array{DType: Float64, Shape: []int{2, 3}, Data: []float64{1, 2}}},
		{"long data", Array{DType: Int64, Shape: []int{1}, Data: []float64{1, 2}}},
		{"bad dtype", Array{DType: "complex128", Shape: []int{1}, Data: []float64{1}}},
		{"negative extent", Array{DType: Float64, Shape: []int{-1, -2}, Data: []float64{1, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.arr.Validate())
		})
	}
}

func TestNewArrayCoercesToDType(t *testing.T) {
	a := MustArray(Int32, []int{3}, []float64{1.9, -2.7, 3})
	assert.Equal(t, []float64{1, -2, 3}, a.Data)

	f := MustArray(Float32, []int{1}, []float64{0.1})
	assert.Equal(t, float64(float32(0.1)), f.Data[0])
}

func TestArrayBinaryRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		arr  Array
	}{
		{"float64 matrix", MustArray(Float64, []int{2, 3}, []float64{1, -2.5, math.Pi, 0, 1e-300, 7})},
		{"float32 vector", MustArray(Float32, []int{3}, []float64{0.1, 0.2, 0.3})},
		{"int64 vector", IntVector(0, -1, 1 << 40)},
		{"int32 labels", MustArray(Int32, []int{4}, []float64{0, 1, 1, 0})},
		{"empty", MustArray(Float64, []int{0, 3}, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := tt.arr.MarshalBinary()
			require.NoError(t, err)
			assert.Len(t, buf, tt.arr.Size()*tt.arr.DType.Size())

			back, err := UnmarshalArray(tt.arr.DType, tt.arr.Shape, buf)
			require.NoError(t, err)
			assert.True(t, tt.arr.Equal(back))
		})
	}
}

func TestUnmarshalArrayRejectsTruncatedBuffer(t *testing.T) {
	_, err := UnmarshalArray(Float64, []int{1}, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestArrayRows(t *testing.T) {
	a := MustArray(Float64, []int{4, 2}, []float64{0, 1, 2, 3, 4, 5, 6, 7})

	sub, err := a.Rows(1, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, sub.Shape)
	assert.Equal(t, []float64{2, 3, 4, 5}, sub.Data)

	empty, err := a.Rows(2, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())

	_, err = a.Rows(3, 5)
	assert.Error(t, err)
}

func TestArrayDensePromotesVector(t *testing.T) {
	d, err := Vector(1, 2, 3).Dense()
	require.NoError(t, err)
	r, c := d.Dims()
	assert.Equal(t, 1, r)
	assert.Equal(t, 3, c)

	_, err = MustArray(Float64, []int{1, 1, 1}, []float64{1}).Dense()
	assert.Error(t, err)

	_, err = Vector().Dense()
	assert.Error(t, err)
}

func TestFromDense(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	a := FromDense(m)
	assert.Equal(t, []int{2, 2}, a.Shape)
	assert.Equal(t, []float64{1, 2, 3, 4}, a.Data)

	v := FromVec(mat.NewVecDense(2, []float64{5, 6}))
	assert.Equal(t, []int{2}, v.Shape)
}

func TestMatrix(t *testing.T) {
	a, err := Matrix([]float64{1, 2}, []float64{3, 4})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, a.Shape)

	_, err = Matrix([]float64{1, 2}, []float64{3})
	assert.Error(t, err)
}
