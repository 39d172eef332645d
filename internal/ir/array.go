package ir

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// DType is the element type an array is persisted with.
type DType string

const (
	Float64 DType = "float64"
	Float32 DType = "float32"
	Int64   DType = "int64"
	Int32   DType = "int32"
)

// Size returns the number of bytes one element occupies on disk.
func (d DType) Size() int {
	switch d {
	case Float64, Int64:
		return 8
	case Float32, Int32:
		return 4
	}
	return 0
}

// Valid reports whether d is one of the supported dtypes.
func (d DType) Valid() bool {
	return d.Size() > 0
}

// Array is an n-dimensional numeric array in row-major order.
//
// Elements are held as float64 regardless of DType; NewArray rounds them to
// the dtype so an encode/decode cycle is exact. int64 values beyond 2^53 are
// not representable.
type Array struct {
	DType DType     `json:"dtype"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// NewArray validates shape against data and coerces data to dtype.
// The data slice is copied.
func NewArray(dtype DType, shape []int, data []float64) (Array, error) {
	if err := (Array{DType: dtype, Shape: shape, Data: data}).Validate(); err != nil {
		return Array{}, err
	}
	out := Array{DType: dtype, Shape: slices.Clone(shape), Data: make([]float64, len(data))}
	for i, x := range data {
		out.Data[i] = coerce(dtype, x)
	}
	return out, nil
}

// Validate checks that the dtype is supported and that the shape accounts
// for exactly len(Data) elements. Arrays built with a literal rather than
// NewArray may fail it.
func (a Array) Validate() error {
	if !a.DType.Valid() {
		return fmt.Errorf("unsupported dtype %q", a.DType)
	}
	n := 1
	for i, d := range a.Shape {
		if d < 0 {
			return fmt.Errorf("negative extent %d on axis %d", d, i)
		}
		n *= d
	}
	if n != len(a.Data) {
		return fmt.Errorf("shape %v needs %d elements, got %d", a.Shape, n, len(a.Data))
	}
	return nil
}

// MustArray is NewArray that panics on error. Intended for literals in tests
// and package-level tables.
func MustArray(dtype DType, shape []int, data []float64) Array {
	a, err := NewArray(dtype, shape, data)
	if err != nil {
		panic(err)
	}
	return a
}

// Vector builds a 1-D float64 array.
func Vector(data ...float64) Array {
	return MustArray(Float64, []int{len(data)}, data)
}

// IntVector builds a 1-D int64 array.
func IntVector(data ...int) Array {
	f := make([]float64, len(data))
	for i, x := range data {
		f[i] = float64(x)
	}
	return MustArray(Int64, []int{len(data)}, f)
}

// Matrix builds a 2-D float64 array from rows. All rows must be the same length.
func Matrix(rows ...[]float64) (Array, error) {
	if len(rows) == 0 {
		return NewArray(Float64, []int{0, 0}, nil)
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return Array{}, fmt.Errorf("row %d has %d columns, want %d", i, len(r), cols)
		}
		data = append(data, r...)
	}
	return NewArray(Float64, []int{len(rows), cols}, data)
}

// FromDense copies a gonum matrix into a 2-D float64 array.
func FromDense(m mat.Matrix) Array {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, m.At(i, j))
		}
	}
	return Array{DType: Float64, Shape: []int{r, c}, Data: data}
}

// FromVec copies a gonum vector into a 1-D float64 array.
func FromVec(v mat.Vector) Array {
	data := make([]float64, v.Len())
	for i := range data {
		data[i] = v.AtVec(i)
	}
	return Array{DType: Float64, Shape: []int{len(data)}, Data: data}
}

func coerce(dtype DType, x float64) float64 {
	switch dtype {
	case Float32:
		return float64(float32(x))
	case Int64:
		return float64(int64(x))
	case Int32:
		return float64(int32(x))
	}
	return x
}

// Ndim returns the number of axes.
func (a Array) Ndim() int { return len(a.Shape) }

// Size returns the total number of elements.
func (a Array) Size() int { return len(a.Data) }

// Len returns the extent of the first axis, or 0 for a scalar array.
func (a Array) Len() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return a.Shape[0]
}

// rowWidth is the number of elements in one slice along axis 0.
func (a Array) rowWidth() int {
	w := 1
	for _, d := range a.Shape[1:] {
		w *= d
	}
	return w
}

// Rows returns the half-open range [lo, hi) along the first axis.
func (a Array) Rows(lo, hi int) (Array, error) {
	if a.Ndim() == 0 {
		return Array{}, fmt.Errorf("cannot slice a 0-d array")
	}
	if lo < 0 || hi > a.Shape[0] || lo > hi {
		return Array{}, fmt.Errorf("row range [%d, %d) out of bounds for shape %v", lo, hi, a.Shape)
	}
	w := a.rowWidth()
	shape := slices.Clone(a.Shape)
	shape[0] = hi - lo
	return Array{DType: a.DType, Shape: shape, Data: slices.Clone(a.Data[lo*w : hi*w])}, nil
}

// Dense returns the array as a gonum matrix. A 1-D array is promoted to a
// single row; arrays with more than two axes are rejected.
func (a Array) Dense() (*mat.Dense, error) {
	switch a.Ndim() {
	case 1:
		if a.Shape[0] == 0 {
			return nil, fmt.Errorf("empty 1-d array")
		}
		return mat.NewDense(1, a.Shape[0], slices.Clone(a.Data)), nil
	case 2:
		if a.Shape[0] == 0 || a.Shape[1] == 0 {
			return nil, fmt.Errorf("empty array of shape %v", a.Shape)
		}
		return mat.NewDense(a.Shape[0], a.Shape[1], slices.Clone(a.Data)), nil
	default:
		return nil, fmt.Errorf("array of shape %v is not one- or two-dimensional", a.Shape)
	}
}

// Ints returns the elements as Go ints.
func (a Array) Ints() []int {
	out := make([]int, len(a.Data))
	for i, x := range a.Data {
		out[i] = int(x)
	}
	return out
}

// Equal reports element-wise equality including dtype and shape.
func (a Array) Equal(b Array) bool {
	return a.DType == b.DType && slices.Equal(a.Shape, b.Shape) && slices.Equal(a.Data, b.Data)
}

// ShapeString formats the shape the way error messages report it.
func (a Array) ShapeString() string {
	return fmt.Sprint(a.Shape)
}

// MarshalBinary packs the elements little-endian at the dtype's width.
func (a Array) MarshalBinary() ([]byte, error) {
	size := a.DType.Size()
	if size == 0 {
		return nil, fmt.Errorf("unsupported dtype %q", a.DType)
	}
	buf := make([]byte, size*len(a.Data))
	for i, x := range a.Data {
		off := i * size
		switch a.DType {
		case Float64:
			binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(x))
		case Float32:
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(x)))
		case Int64:
			binary.LittleEndian.PutUint64(buf[off:], uint64(int64(x)))
		case Int32:
			binary.LittleEndian.PutUint32(buf[off:], uint32(int32(x)))
		}
	}
	return buf, nil
}

// UnmarshalArray is the inverse of MarshalBinary.
func UnmarshalArray(dtype DType, shape []int, buf []byte) (Array, error) {
	size := dtype.Size()
	if size == 0 {
		return Array{}, fmt.Errorf("unsupported dtype %q", dtype)
	}
	if len(buf)%size != 0 {
		return Array{}, fmt.Errorf("buffer of %d bytes is not a multiple of %s", len(buf), dtype)
	}
	data := make([]float64, len(buf)/size)
	for i := range data {
		off := i * size
		switch dtype {
		case Float64:
			data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
		case Float32:
			data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])))
		case Int64:
			data[i] = float64(int64(binary.LittleEndian.Uint64(buf[off:])))
		case Int32:
			data[i] = float64(int32(binary.LittleEndian.Uint32(buf[off:])))
		}
	}
	return NewArray(dtype, shape, data)
}
