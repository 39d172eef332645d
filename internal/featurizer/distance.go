package featurizer

import (
	"gonum.org/v1/gonum/floats"

	"github.com/rmcgibbo/msmbuilder3/internal/estimator"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// DistanceType is the registered type name of DistanceFeaturizer.
const DistanceType = "DistanceFeaturizer"

var distanceSchema = estimator.Schema{
	Type: DistanceType,
	Params: []estimator.Field{
		{Name: "pair_indices", Kind: ir.KindArray},
	},
}

func init() {
	estimator.MustRegister(distanceSchema, func(params ir.Object) (estimator.Estimator, error) {
		d := &DistanceFeaturizer{}
		if err := estimator.SetParams(d, params); err != nil {
			return nil, err
		}
		return d, nil
	})
}

// DistanceFeaturizer computes, for every frame, the euclidean distance
// between each configured pair of atoms.
type DistanceFeaturizer struct {
	Pairs [][2]int
}

// NewDistanceFeaturizer returns a featurizer over pairs of atom indices.
func NewDistanceFeaturizer(pairs ...[2]int) *DistanceFeaturizer {
	return &DistanceFeaturizer{Pairs: pairs}
}

func (d *DistanceFeaturizer) TypeName() string { return DistanceType }

func (d *DistanceFeaturizer) Get(name string) ir.Value {
	if name != "pair_indices" || d.Pairs == nil {
		return ir.Null{}
	}
	data := make([]float64, 0, 2*len(d.Pairs))
	for _, p := range d.Pairs {
		data = append(data, float64(p[0]), float64(p[1]))
	}
	return ir.MustArray(ir.Int64, []int{len(d.Pairs), 2}, data)
}

func (d *DistanceFeaturizer) Set(name string, v ir.Value) error {
	if name != "pair_indices" {
		return estimator.Unknown(DistanceType, name)
	}
	a, ok, err := estimator.Array(name, v)
	if err != nil {
		return err
	}
	d.Pairs = nil
	if !ok {
		return nil
	}
	if a.Ndim() != 2 || a.Shape[1] != 2 {
		return ir.Errorf(ir.ErrCodeShape, "pair_indices must have shape (n, 2), got %s", a.ShapeString()).WithKey(name)
	}
	idx := a.Ints()
	d.Pairs = make([][2]int, a.Shape[0])
	for i := range d.Pairs {
		d.Pairs[i] = [2]int{idx[2*i], idx[2*i+1]}
		if d.Pairs[i][0] < 0 || d.Pairs[i][1] < 0 {
			return ir.Errorf(ir.ErrCodeConfiguration, "pair %d has a negative atom index", i).WithKey(name)
		}
	}
	return nil
}

func (d *DistanceFeaturizer) Featurize(traj Trajectory) (ir.Array, error) {
	if d.Pairs == nil {
		return ir.Array{}, ir.Errorf(ir.ErrCodeConfiguration, "pair_indices is not set").WithKey("pair_indices")
	}
	for i, p := range d.Pairs {
		if p[0] >= traj.Atoms() || p[1] >= traj.Atoms() {
			return ir.Array{}, ir.Errorf(ir.ErrCodeShape, "pair %d %v out of range for %d atoms", i, p, traj.Atoms())
		}
	}
	out := make([]float64, 0, traj.Frames()*len(d.Pairs))
	for f := 0; f < traj.Frames(); f++ {
		for _, p := range d.Pairs {
			out = append(out, floats.Distance(traj.Position(f, p[0]), traj.Position(f, p[1]), 2))
		}
	}
	return ir.NewArray(ir.Float64, []int{traj.Frames(), len(d.Pairs)}, out)
}

// Transform featurizes x, which must be shaped (frames, atoms, 3).
func (d *DistanceFeaturizer) Transform(x ir.Array) (ir.Array, error) {
	traj, err := NewTrajectory(x)
	if err != nil {
		return ir.Array{}, err
	}
	return d.Featurize(traj)
}
