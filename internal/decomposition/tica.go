package decomposition

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/rmcgibbo/msmbuilder3/internal/estimator"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// TICAType is the registered type name of TICA.
const TICAType = "tICA"

var ticaSchema = estimator.Schema{
	Type: TICAType,
	Params: []estimator.Field{
		{Name: "lag_time", Kind: ir.KindInt},
		{Name: "n_components", Kind: ir.KindInt},
		{Name: "subtract_mean", Kind: ir.KindBool},
	},
	Estimates: []estimator.Field{
		{Name: "running_sum_", Kind: ir.KindArray},
		{Name: "corr_sum_", Kind: ir.KindArray},
		{Name: "timelag_corr_sum_", Kind: ir.KindArray},
		{Name: "n_observations_", Kind: ir.KindInt},
		{Name: "mean_", Kind: ir.KindArray},
		{Name: "cov_mat_", Kind: ir.KindArray},
		{Name: "timelag_corr_mat_", Kind: ir.KindArray},
		{Name: "eigenvalues_", Kind: ir.KindArray},
		{Name: "eigenvectors_", Kind: ir.KindArray},
	},
}

func init() {
	estimator.MustRegister(ticaSchema, func(params ir.Object) (estimator.Estimator, error) {
		t := &TICA{LagTime: 1}
		if err := estimator.SetParams(t, params); err != nil {
			return nil, err
		}
		return t, nil
	})
}

// LagMoments accumulates time-lagged pair statistics. Every pair
// (x_t, x_t+lag) inside one sequence contributes both endpoints to Sum and
// Corr, and the symmetrized product x_t x_t+lag^T + x_t+lag x_t^T to
// LagCorr, so N counts two observations per pair.
type LagMoments struct {
	Sum     *mat.VecDense
	Corr    *mat.SymDense
	LagCorr *mat.SymDense
	N       int
}

// NewLagMoments allocates a zero accumulator for n features.
func NewLagMoments(n int) *LagMoments {
	return &LagMoments{
		Sum:     mat.NewVecDense(n, nil),
		Corr:    mat.NewSymDense(n, nil),
		LagCorr: mat.NewSymDense(n, nil),
	}
}

func (m *LagMoments) Features() int {
	return m.Sum.Len()
}

func (m *LagMoments) complete() bool {
	return m.Sum != nil && m.Corr != nil && m.LagCorr != nil
}

// Add absorbs the lagged pairs of one time-ordered sequence. A sequence no
// longer than lag has no pairs.
func (m *LagMoments) Add(x *mat.Dense, lag int) {
	r, c := x.Dims()
	if r <= lag {
		return
	}
	head := x.Slice(0, r-lag, 0, c)
	tail := x.Slice(lag, r, 0, c)

	sum := m.Sum.RawVector().Data
	for i := 0; i < r-lag; i++ {
		for j := 0; j < c; j++ {
			sum[j] += head.At(i, j) + tail.At(i, j)
		}
	}
	m.Corr.SymRankK(m.Corr, 1, head.T())
	m.Corr.SymRankK(m.Corr, 1, tail.T())

	var cross mat.Dense
	cross.Mul(head.T(), tail)
	for i := 0; i < c; i++ {
		for j := i; j < c; j++ {
			m.LagCorr.SetSym(i, j, m.LagCorr.At(i, j)+cross.At(i, j)+cross.At(j, i))
		}
	}
	m.N += 2 * (r - lag)
}

// Merge adds other's totals into m.
func (m *LagMoments) Merge(other *LagMoments) error {
	if other.Features() != m.Features() {
		return ir.Errorf(ir.ErrCodeShape, "cannot merge %d-feature moments into %d-feature moments",
			other.Features(), m.Features())
	}
	m.Sum.AddVec(m.Sum, other.Sum)
	m.Corr.AddSym(m.Corr, other.Corr)
	m.LagCorr.AddSym(m.LagCorr, other.LagCorr)
	m.N += other.N
	return nil
}

// Covariances returns the mean, the instantaneous covariance C(0) and the
// symmetrized time-lagged covariance C(lag).
func (m *LagMoments) Covariances() (*mat.VecDense, *mat.SymDense, *mat.SymDense, error) {
	if m.N == 0 {
		return nil, nil, nil, ir.Errorf(ir.ErrCodeNotFitted, "no lagged pairs accumulated")
	}
	n := float64(m.N)
	mean := mat.NewVecDense(m.Features(), nil)
	mean.ScaleVec(1/n, m.Sum)

	cov := mat.NewSymDense(m.Features(), nil)
	cov.ScaleSym(1/n, m.Corr)
	cov.SymRankOne(cov, -1, mean)

	lag := mat.NewSymDense(m.Features(), nil)
	lag.ScaleSym(1/n, m.LagCorr)
	lag.SymRankOne(lag, -1, mean)
	return mean, cov, lag, nil
}

// TICA is time-structure based independent component analysis. It finds
// the slowest linear combinations of features by solving
//
//	C(lag) v = λ C(0) v
//
// with eigenvalues sorted in descending order. Each batch passed to
// FitUpdate is one time-ordered sequence; pairs never span batches.
type TICA struct {
	// LagTime is the pair offset in frames. Values below 1 are rejected.
	LagTime int

	NComponents  *int
	SubtractMean bool

	acc      *LagMoments
	cov, lag *mat.SymDense
	projection
}

// NewTICA returns an empty TICA with the given lag and width. Pass 0 for
// nComponents to leave the width unset.
func NewTICA(lagTime, nComponents int) *TICA {
	t := &TICA{LagTime: lagTime}
	if nComponents > 0 {
		t.NComponents = &nComponents
	}
	return t
}

func (t *TICA) TypeName() string { return TICAType }

func (t *TICA) Get(name string) ir.Value {
	switch name {
	case "lag_time":
		return ir.Int(t.LagTime)
	case "n_components":
		return estimator.OptInt(t.NComponents)
	case "subtract_mean":
		return ir.Bool(t.SubtractMean)
	}
	if t.acc != nil {
		switch name {
		case "running_sum_":
			return vecValue(t.acc.Sum)
		case "corr_sum_":
			return symValue(t.acc.Corr)
		case "timelag_corr_sum_":
			return symValue(t.acc.LagCorr)
		case "n_observations_":
			return ir.Int(t.acc.N)
		}
	}
	if !t.ready() {
		return ir.Null{}
	}
	switch name {
	case "cov_mat_":
		return symValue(t.cov)
	case "timelag_corr_mat_":
		return symValue(t.lag)
	}
	if v, ok := t.projection.get(name); ok {
		return v
	}
	return ir.Null{}
}

func (t *TICA) Set(name string, v ir.Value) error {
	if _, ok := ticaSchema.Field(name); !ok {
		return estimator.Unknown(TICAType, name)
	}
	switch name {
	case "lag_time":
		n, ok, err := estimator.Int(name, v)
		if err != nil {
			return err
		}
		if !ok {
			n = 1
		}
		if n < 1 {
			return ir.Errorf(ir.ErrCodeConfiguration, "lag_time must be at least 1, got %d", n).WithKey(name)
		}
		t.LagTime = n
		return nil
	case "n_components":
		n, ok, err := estimator.Int(name, v)
		if err != nil {
			return err
		}
		if ok && n < 1 {
			return ir.Errorf(ir.ErrCodeConfiguration, "n_components must be positive, got %d", n).WithKey(name)
		}
		t.NComponents = nil
		if ok {
			t.NComponents = &n
		}
		return nil
	case "subtract_mean":
		b, _, err := estimator.Bool(name, v)
		if err != nil {
			return err
		}
		t.SubtractMean = b
		return nil
	case "n_observations_":
		n, ok, err := estimator.Int(name, v)
		if err != nil {
			return err
		}
		if ok || t.acc != nil {
			t.restoring().N = n
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
			if t.acc != nil {
				t.acc.Sum = nil
			}
			return nil
		}
		sum, err := vecFrom(name, a)
		if err != nil {
			return err
		}
		t.restoring().Sum = sum
		return nil
	case "corr_sum_", "timelag_corr_sum_":
		var s *mat.SymDense
		if ok {
			if s, err = symFrom(name, a); err != nil {
				return err
			}
		} else if t.acc == nil {
			return nil
		}
		if name == "corr_sum_" {
			t.restoring().Corr = s
		} else {
			t.restoring().LagCorr = s
		}
		return nil
	case "cov_mat_", "timelag_corr_mat_":
		var s *mat.SymDense
		if ok {
			if s, err = symFrom(name, a); err != nil {
				return err
			}
		}
		if name == "cov_mat_" {
			t.cov = s
		} else {
			t.lag = s
		}
		return nil
	}
	_, err = t.projection.set(name, a, ok)
	return err
}

func (t *TICA) restoring() *LagMoments {
	if t.acc == nil {
		t.acc = &LagMoments{}
	}
	return t.acc
}

func (t *TICA) invalidate() {
	t.projection.reset()
	t.cov, t.lag = nil, nil
}

// Fit retrains from scratch, treating each batch as one sequence.
func (t *TICA) Fit(batches ...ir.Array) error {
	t.Clear()
	return t.FitUpdate(batches...)
}

// FitUpdate absorbs each batch as an independent time-ordered sequence.
func (t *TICA) FitUpdate(batches ...ir.Array) error {
	if t.LagTime < 1 {
		return ir.Errorf(ir.ErrCodeConfiguration, "lag_time must be at least 1, got %d", t.LagTime).WithKey("lag_time")
	}
	for _, b := range batches {
		x, features, err := asMatrix("batch", b)
		if err != nil {
			return err
		}
		if t.acc == nil {
			t.acc = NewLagMoments(features)
		} else if !t.acc.complete() {
			return ir.Errorf(ir.ErrCodeShape, "accumulator is incomplete")
		} else if features != t.acc.Features() {
			return shapeMismatch(b, t.acc.Features())
		}
		t.invalidate()
		if x != nil {
			t.acc.Add(x, t.LagTime)
		}
	}
	return nil
}

// Merge adds another TICA's accumulated statistics into t. Both must use
// the same lag.
func (t *TICA) Merge(other *TICA) error {
	if other.LagTime != t.LagTime {
		return ir.Errorf(ir.ErrCodeConfiguration, "cannot merge lag_time=%d into lag_time=%d",
			other.LagTime, t.LagTime).WithKey("lag_time")
	}
	if other.acc == nil {
		return nil
	}
	if t.acc == nil {
		t.acc = NewLagMoments(other.acc.Features())
	}
	if err := t.acc.Merge(other.acc); err != nil {
		return err
	}
	t.invalidate()
	return nil
}

func (t *TICA) Clear() {
	t.acc = nil
	t.invalidate()
}

// Finalize solves the generalized eigenproblem by Cholesky reduction:
// with C(0) = L L^T it diagonalizes L^-1 C(lag) L^-T and maps the
// eigenvectors back through L^-T.
func (t *TICA) Finalize() error {
	if t.ready() {
		return nil
	}
	if t.acc == nil || t.acc.N == 0 {
		return ir.Errorf(ir.ErrCodeNotFitted, "tICA has not seen any lagged pairs")
	}
	if !t.acc.complete() {
		return ir.Errorf(ir.ErrCodeNotFitted, "tICA accumulator is incomplete")
	}
	mean, cov, lag, err := t.acc.Covariances()
	if err != nil {
		return err
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return fmt.Errorf("tICA: covariance matrix is not positive definite")
	}
	var l, linv mat.TriDense
	chol.LTo(&l)
	if err := linv.InverseTri(&l); err != nil {
		return fmt.Errorf("tICA: invert cholesky factor: %w", err)
	}

	var tmp, reduced mat.Dense
	tmp.Mul(&linv, lag)
	reduced.Mul(&tmp, linv.T())
	n := t.acc.Features()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, (reduced.At(i, j)+reduced.At(j, i))/2)
		}
	}

	vals, w, err := eighDescending(sym)
	if err != nil {
		return fmt.Errorf("tICA: %w", err)
	}
	var vecs mat.Dense
	vecs.Mul(linv.T(), w)

	t.mean = mean
	t.values = mat.NewVecDense(len(vals), vals)
	t.vectors = &vecs
	t.cov, t.lag = cov, lag
	return nil
}

func (t *TICA) Finalized() bool {
	return t.ready()
}

// Observations returns the number of pair endpoints absorbed, two per pair.
func (t *TICA) Observations() int {
	if t.acc == nil {
		return 0
	}
	return t.acc.N
}

// Eigenvalues returns the generalized eigenvalues in descending order,
// finalizing if needed.
func (t *TICA) Eigenvalues() ([]float64, error) {
	if err := t.Finalize(); err != nil {
		return nil, err
	}
	return append([]float64(nil), t.values.RawVector().Data...), nil
}

// Components returns the leading NComponents eigenvectors as rows.
func (t *TICA) Components() (*mat.Dense, error) {
	if t.NComponents == nil {
		return nil, ir.Errorf(ir.ErrCodeConfiguration, "n_components is not set").WithKey("n_components")
	}
	if err := t.Finalize(); err != nil {
		return nil, err
	}
	return t.components(*t.NComponents)
}

// Transform projects x onto the leading NComponents slow components,
// finalizing if needed.
func (t *TICA) Transform(x ir.Array) (ir.Array, error) {
	if t.NComponents == nil {
		return ir.Array{}, ir.Errorf(ir.ErrCodeConfiguration, "n_components is not set").WithKey("n_components")
	}
	if err := t.Finalize(); err != nil {
		return ir.Array{}, err
	}
	return t.project(x, *t.NComponents, t.SubtractMean)
}
