// Package featurizer turns molecular trajectories into per-frame feature
// vectors, and combines transformers side by side.
package featurizer

import (
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// Featurizer computes one feature row per frame of a trajectory.
type Featurizer interface {
	Featurize(traj Trajectory) (ir.Array, error)
}

// Trajectory is a sequence of frames of atom positions, held as a
// (frames, atoms, 3) array.
type Trajectory struct {
	xyz ir.Array
}

// NewTrajectory validates the shape of xyz.
func NewTrajectory(xyz ir.Array) (Trajectory, error) {
	if xyz.Ndim() != 3 || xyz.Shape[2] != 3 {
		return Trajectory{}, ir.Errorf(ir.ErrCodeShape, "trajectory must have shape (frames, atoms, 3), got %s", xyz.ShapeString())
	}
	return Trajectory{xyz: xyz}, nil
}

func (t Trajectory) Frames() int { return t.xyz.Shape[0] }

func (t Trajectory) Atoms() int { return t.xyz.Shape[1] }

// Position returns the coordinates of atom in frame. The slice aliases the
// trajectory.
func (t Trajectory) Position(frame, atom int) []float64 {
	off := (frame*t.Atoms() + atom) * 3
	return t.xyz.Data[off : off+3 : off+3]
}
