package decomposition

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// Moments is the sufficient-statistics accumulator behind PCA: a running
// sum of samples, a running sum of outer products and a sample count.
//
// Merge is exactly additive, so any split of the data into batches, in any
// order, gives the same totals up to floating-point summation order.
type Moments struct {
	Sum  *mat.VecDense
	Corr *mat.SymDense
	N    int
}

// NewMoments allocates a zero accumulator for n features.
func NewMoments(n int) *Moments {
	return &Moments{
		Sum:  mat.NewVecDense(n, nil),
		Corr: mat.NewSymDense(n, nil),
	}
}

// Features returns the dimensionality fixed at allocation.
func (m *Moments) Features() int {
	return m.Sum.Len()
}

// Add absorbs the rows of x.
func (m *Moments) Add(x *mat.Dense) {
	r, _ := x.Dims()
	sum := m.Sum.RawVector().Data
	for i := 0; i < r; i++ {
		floats.Add(sum, x.RawRowView(i))
	}
	m.Corr.SymRankK(m.Corr, 1, x.T())
	m.N += r
}

// Merge adds other's totals into m.
func (m *Moments) Merge(other *Moments) error {
	if other.Features() != m.Features() {
		return ir.Errorf(ir.ErrCodeShape, "cannot merge %d-feature moments into %d-feature moments",
			other.Features(), m.Features())
	}
	m.Sum.AddVec(m.Sum, other.Sum)
	m.Corr.AddSym(m.Corr, other.Corr)
	m.N += other.N
	return nil
}

// Covariance returns the mean and the biased covariance estimate
// corr/N - mean⊗mean.
func (m *Moments) Covariance() (*mat.VecDense, *mat.SymDense, error) {
	if m.N == 0 {
		return nil, nil, ir.Errorf(ir.ErrCodeNotFitted, "no samples accumulated")
	}
	n := float64(m.N)
	mean := mat.NewVecDense(m.Features(), nil)
	mean.ScaleVec(1/n, m.Sum)

	cov := mat.NewSymDense(m.Features(), nil)
	cov.ScaleSym(1/n, m.Corr)
	cov.SymRankOne(cov, -1, mean)
	return mean, cov, nil
}

// asMatrix converts a batch to a matrix, promoting a 1-D batch to one row.
// A batch with zero rows returns a nil matrix and its feature count.
func asMatrix(name string, a ir.Array) (*mat.Dense, int, error) {
	switch {
	case a.Ndim() == 1:
		if a.Shape[0] == 0 {
			return nil, 0, ir.Errorf(ir.ErrCodeShape, "%s is an empty 1-d array", name)
		}
		return mat.NewDense(1, a.Shape[0], append([]float64(nil), a.Data...)), a.Shape[0], nil
	case a.Ndim() == 2:
		if a.Shape[1] == 0 {
			return nil, 0, ir.Errorf(ir.ErrCodeShape, "%s of shape %s has no features", name, a.ShapeString())
		}
		if a.Shape[0] == 0 {
			return nil, a.Shape[1], nil
		}
		d, err := a.Dense()
		if err != nil {
			return nil, 0, ir.Errorf(ir.ErrCodeShape, "%s: %v", name, err)
		}
		return d, a.Shape[1], nil
	}
	return nil, 0, ir.Errorf(ir.ErrCodeShape, "%s of shape %s is not one- or two-dimensional", name, a.ShapeString())
}

func shapeMismatch(a ir.Array, want int) error {
	return ir.Errorf(ir.ErrCodeShape, "batch of shape %s has %d features, accumulator has %d",
		a.ShapeString(), a.Shape[a.Ndim()-1], want)
}

// eighDescending returns the eigen-decomposition of s with eigenvalues in
// descending order and eigenvectors as the matching columns.
func eighDescending(s mat.Symmetric) ([]float64, *mat.Dense, error) {
	var es mat.EigenSym
	if ok := es.Factorize(s, true); !ok {
		return nil, nil, fmt.Errorf("eigen-decomposition did not converge")
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	return sortDescending(vals, &vecs), &vecs, nil
}

// sortDescending reorders vals descending, permuting the columns of vecs to
// match. vecs is modified in place.
func sortDescending(vals []float64, vecs *mat.Dense) []float64 {
	n := len(vals)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return vals[order[a]] > vals[order[b]] })

	sorted := make([]float64, n)
	src := mat.DenseCopyOf(vecs)
	for dst, from := range order {
		sorted[dst] = vals[from]
		vecs.SetCol(dst, mat.Col(nil, from, src))
	}
	return sorted
}

// vecFrom converts a 1-D array estimate.
func vecFrom(name string, a ir.Array) (*mat.VecDense, error) {
	if a.Ndim() != 1 || a.Len() == 0 {
		return nil, ir.Errorf(ir.ErrCodeShape, "%s must be non-empty and 1-d, got shape %s", name, a.ShapeString()).WithKey(name)
	}
	return mat.NewVecDense(a.Len(), append([]float64(nil), a.Data...)), nil
}

// denseFrom converts a 2-D array estimate.
func denseFrom(name string, a ir.Array) (*mat.Dense, error) {
	if a.Ndim() != 2 {
		return nil, ir.Errorf(ir.ErrCodeShape, "%s must be 2-d, got shape %s", name, a.ShapeString()).WithKey(name)
	}
	d, err := a.Dense()
	if err != nil {
		return nil, ir.Errorf(ir.ErrCodeShape, "%s: %v", name, err).WithKey(name)
	}
	return d, nil
}

// symFrom converts a square 2-D array estimate, taking the upper triangle.
func symFrom(name string, a ir.Array) (*mat.SymDense, error) {
	d, err := denseFrom(name, a)
	if err != nil {
		return nil, err
	}
	r, c := d.Dims()
	if r != c {
		return nil, ir.Errorf(ir.ErrCodeShape, "%s must be square, got shape %s", name, a.ShapeString()).WithKey(name)
	}
	s := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			s.SetSym(i, j, d.At(i, j))
		}
	}
	return s, nil
}

func vecValue(v *mat.VecDense) ir.Value {
	if v == nil {
		return ir.Null{}
	}
	return ir.FromVec(v)
}

func symValue(m *mat.SymDense) ir.Value {
	if m == nil {
		return ir.Null{}
	}
	return ir.FromDense(m)
}

func denseValue(m *mat.Dense) ir.Value {
	if m == nil {
		return ir.Null{}
	}
	return ir.FromDense(m)
}
