// Package decomposition provides incremental covariance-based
// dimensionality reduction: PCA and tICA.
//
// Both estimators keep an additive accumulator between batches and compute
// their eigen-decomposition on Finalize. Accessors that need the
// decomposition finalize lazily.
package decomposition

import (
	"gonum.org/v1/gonum/mat"

	"github.com/rmcgibbo/msmbuilder3/internal/estimator"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// PCAType is the registered type name of PCA.
const PCAType = "PCA"

var pcaSchema = estimator.Schema{
	Type: PCAType,
	Params: []estimator.Field{
		{Name: "n_components", Kind: ir.KindInt},
		{Name: "subtract_mean", Kind: ir.KindBool},
	},
	Estimates: []estimator.Field{
		{Name: "running_sum_", Kind: ir.KindArray},
		{Name: "running_corr_mat_", Kind: ir.KindArray},
		{Name: "total_samples_", Kind: ir.KindInt},
		{Name: "mean_", Kind: ir.KindArray},
		{Name: "eigenvalues_", Kind: ir.KindArray},
		{Name: "eigenvectors_", Kind: ir.KindArray},
	},
}

func init() {
	estimator.MustRegister(pcaSchema, func(params ir.Object) (estimator.Estimator, error) {
		p := &PCA{}
		if err := estimator.SetParams(p, params); err != nil {
			return nil, err
		}
		return p, nil
	})
}

// PCA is principal component analysis over batches that need not fit in
// memory together. The components are the eigenvectors of
//
//	S = E[(X - mean)(X - mean)^T]
//
// sorted by descending eigenvalue.
type PCA struct {
	// NComponents is how many leading components Transform projects onto.
	// Nil means unset.
	NComponents *int

	// SubtractMean centers each sample on the accumulated mean before
	// projecting.
	SubtractMean bool

	acc *Moments
	projection
}

// NewPCA returns an empty PCA projecting onto nComponents components.
// Pass 0 to leave the width unset.
func NewPCA(nComponents int) *PCA {
	p := &PCA{}
	if nComponents > 0 {
		p.NComponents = &nComponents
	}
	return p
}

func (p *PCA) TypeName() string { return PCAType }

// Get returns a parameter or estimate. Derived estimates are only present
// once finalized; Get never finalizes.
func (p *PCA) Get(name string) ir.Value {
	switch name {
	case "n_components":
		return estimator.OptInt(p.NComponents)
	case "subtract_mean":
		return ir.Bool(p.SubtractMean)
	case "running_sum_":
		if p.acc == nil {
			return ir.Null{}
		}
		return vecValue(p.acc.Sum)
	case "running_corr_mat_":
		if p.acc == nil {
			return ir.Null{}
		}
		return symValue(p.acc.Corr)
	case "total_samples_":
		if p.acc == nil {
			return ir.Null{}
		}
		return ir.Int(p.acc.N)
	}
	if !p.ready() {
		return ir.Null{}
	}
	if v, ok := p.projection.get(name); ok {
		return v
	}
	return ir.Null{}
}

func (p *PCA) Set(name string, v ir.Value) error {
	if _, ok := pcaSchema.Field(name); !ok {
		return estimator.Unknown(PCAType, name)
	}
	switch name {
	case "n_components":
		n, ok, err := estimator.Int(name, v)
		if err != nil {
			return err
		}
		if ok && n < 1 {
			return ir.Errorf(ir.ErrCodeConfiguration, "n_components must be positive, got %d", n).WithKey(name)
		}
		p.NComponents = nil
		if ok {
			p.NComponents = &n
		}
		return nil
	case "subtract_mean":
		b, _, err := estimator.Bool(name, v)
		if err != nil {
			return err
		}
		p.SubtractMean = b
		return nil
	case "total_samples_":
		n, ok, err := estimator.Int(name, v)
		if err != nil {
			return err
		}
		if ok || p.acc != nil {
			p.restoring().N = n
		}
		return nil
	}

	a, ok, err := estimator.Array(name, v)
	if err != nil {
		return err
	}
	switch name {
	case "running_sum_":
		if !ok {
			if p.acc != nil {
				p.acc.Sum = nil
			}
			return nil
		}
		sum, err := vecFrom(name, a)
		if err != nil {
			return err
		}
		p.restoring().Sum = sum
		return nil
	case "running_corr_mat_":
		if !ok {
			if p.acc != nil {
				p.acc.Corr = nil
			}
			return nil
		}
		corr, err := symFrom(name, a)
		if err != nil {
			return err
		}
		p.restoring().Corr = corr
		return nil
	}
	_, err = p.projection.set(name, a, ok)
	return err
}

// restoring returns the accumulator being rebuilt field by field.
func (p *PCA) restoring() *Moments {
	if p.acc == nil {
		p.acc = &Moments{}
	}
	return p.acc
}

// Fit retrains from scratch on batches.
func (p *PCA) Fit(batches ...ir.Array) error {
	p.Clear()
	return p.FitUpdate(batches...)
}

// FitUpdate absorbs batches in order. Each batch is independent: a
// rejected batch leaves earlier ones absorbed.
func (p *PCA) FitUpdate(batches ...ir.Array) error {
	for _, b := range batches {
		x, features, err := asMatrix("batch", b)
		if err != nil {
			return err
		}
		if p.acc == nil {
			p.acc = NewMoments(features)
		} else if p.acc.Sum == nil || p.acc.Corr == nil {
			return ir.Errorf(ir.ErrCodeShape, "accumulator is incomplete")
		} else if features != p.acc.Features() {
			return shapeMismatch(b, p.acc.Features())
		}
		p.reset()
		if x != nil {
			p.acc.Add(x)
		}
	}
	return nil
}

// Merge adds another PCA's accumulated statistics into p.
func (p *PCA) Merge(other *PCA) error {
	if other.acc == nil {
		return nil
	}
	if p.acc == nil {
		p.acc = NewMoments(other.acc.Features())
	}
	if err := p.acc.Merge(other.acc); err != nil {
		return err
	}
	p.reset()
	return nil
}

// Clear drops the accumulator and the cached decomposition. Parameters are
// kept.
func (p *PCA) Clear() {
	p.acc = nil
	p.reset()
}

// Finalize computes the mean and the eigen-decomposition of the
// covariance. It is a no-op when already finalized.
func (p *PCA) Finalize() error {
	if p.ready() {
		return nil
	}
	if p.acc == nil || p.acc.N == 0 {
		return ir.Errorf(ir.ErrCodeNotFitted, "PCA has not been fit")
	}
	if p.acc.Sum == nil || p.acc.Corr == nil {
		return ir.Errorf(ir.ErrCodeNotFitted, "PCA accumulator is incomplete")
	}
	mean, cov, err := p.acc.Covariance()
	if err != nil {
		return err
	}
	vals, vecs, err := eighDescending(cov)
	if err != nil {
		return err
	}
	p.mean = mean
	p.values = mat.NewVecDense(len(vals), vals)
	p.vectors = vecs
	return nil
}

// Finalized reports whether the decomposition is cached.
func (p *PCA) Finalized() bool {
	return p.ready()
}

// Samples returns the number of samples absorbed since the last Clear.
func (p *PCA) Samples() int {
	if p.acc == nil {
		return 0
	}
	return p.acc.N
}

// Mean returns the accumulated mean, finalizing if needed.
func (p *PCA) Mean() (*mat.VecDense, error) {
	if err := p.Finalize(); err != nil {
		return nil, err
	}
	return p.mean, nil
}

// Eigenvalues returns the covariance eigenvalues in descending order,
// finalizing if needed.
func (p *PCA) Eigenvalues() ([]float64, error) {
	if err := p.Finalize(); err != nil {
		return nil, err
	}
	return append([]float64(nil), p.values.RawVector().Data...), nil
}

// Eigenvectors returns the eigenvectors as columns, finalizing if needed.
func (p *PCA) Eigenvectors() (*mat.Dense, error) {
	if err := p.Finalize(); err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(p.vectors), nil
}

// Components returns the leading NComponents eigenvectors as rows,
// finalizing if needed.
func (p *PCA) Components() (*mat.Dense, error) {
	if p.NComponents == nil {
		return nil, ir.Errorf(ir.ErrCodeConfiguration, "n_components is not set").WithKey("n_components")
	}
	if err := p.Finalize(); err != nil {
		return nil, err
	}
	return p.components(*p.NComponents)
}

// Transform projects x onto the leading NComponents components,
// finalizing if needed.
func (p *PCA) Transform(x ir.Array) (ir.Array, error) {
	if p.NComponents == nil {
		return ir.Array{}, ir.Errorf(ir.ErrCodeConfiguration, "n_components is not set").WithKey("n_components")
	}
	if err := p.Finalize(); err != nil {
		return ir.Array{}, err
	}
	return p.project(x, *p.NComponents, p.SubtractMean)
}
