package decomposition

import (
	"gonum.org/v1/gonum/mat"

	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// projection is the cached, derived half of a decomposition: the mean
// and the eigenpairs sorted by descending eigenvalue.
type projection struct {
	mean    *mat.VecDense
	values  *mat.VecDense
	vectors *mat.Dense
}

// ready reports whether every derived quantity is present.
func (p *projection) ready() bool {
	return p.mean != nil && p.values != nil && p.vectors != nil
}

func (p *projection) reset() {
	*p = projection{}
}

// components returns the leading k eigenvectors as rows.
func (p *projection) components(k int) (*mat.Dense, error) {
	n, cols := p.vectors.Dims()
	if k < 1 || k > cols {
		return nil, ir.Errorf(ir.ErrCodeConfiguration, "n_components=%d out of range for %d features", k, n).
			WithKey("n_components")
	}
	out := mat.DenseCopyOf(p.vectors.Slice(0, n, 0, k).T())
	return out, nil
}

// project maps each row of x onto the leading k eigenvectors.
func (p *projection) project(x ir.Array, k int, subtractMean bool) (ir.Array, error) {
	n, cols := p.vectors.Dims()
	if k < 1 || k > cols {
		return ir.Array{}, ir.Errorf(ir.ErrCodeConfiguration, "n_components=%d out of range for %d features", k, n).
			WithKey("n_components")
	}

	m, features, err := asMatrix("input", x)
	if err != nil {
		return ir.Array{}, err
	}
	if features != n {
		return ir.Array{}, shapeMismatch(x, n)
	}
	if m == nil {
		return ir.MustArray(ir.Float64, []int{0, k}, nil), nil
	}

	if subtractMean {
		r, _ := m.Dims()
		mean := p.mean.RawVector().Data
		for i := 0; i < r; i++ {
			row := m.RawRowView(i)
			for j := range row {
				row[j] -= mean[j]
			}
		}
	}

	var out mat.Dense
	out.Mul(m, p.vectors.Slice(0, n, 0, k))
	return ir.FromDense(&out), nil
}

// get returns the derived estimate called name.
func (p *projection) get(name string) (ir.Value, bool) {
	switch name {
	case "mean_":
		return vecValue(p.mean), true
	case "eigenvalues_":
		return vecValue(p.values), true
	case "eigenvectors_":
		return denseValue(p.vectors), true
	}
	return nil, false
}

// set assigns the derived estimate called name. Null clears it.
func (p *projection) set(name string, a ir.Array, ok bool) (bool, error) {
	var err error
	switch name {
	case "mean_":
		p.mean = nil
		if ok {
			p.mean, err = vecFrom(name, a)
		}
	case "eigenvalues_":
		p.values = nil
		if ok {
			p.values, err = vecFrom(name, a)
		}
	case "eigenvectors_":
		p.vectors = nil
		if ok {
			p.vectors, err = denseFrom(name, a)
		}
	default:
		return false, nil
	}
	return true, err
}
