package testutil

import (
	"math"

	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// Wave returns n deterministic, non-degenerate samples of d features.
func Wave(n, d int) ir.Array {
	data := make([]float64, 0, n*d)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			data = append(data, math.Sin(float64(i*(j+1))*0.37)+0.1*float64(j)*math.Cos(float64(i)))
		}
	}
	return ir.MustArray(ir.Float64, []int{n, d}, data)
}

// SlowFast returns an n-frame, two-feature sequence whose first feature
// drifts slowly and whose second flips sign every frame. offset shifts the
// frame counter so sequences differ.
func SlowFast(n, offset int) ir.Array {
	data := make([]float64, 0, 2*n)
	for i := offset; i < offset+n; i++ {
		sign := 1.0
		if i%2 == 1 {
			sign = -1
		}
		data = append(data, math.Sin(0.05*float64(i)), sign*0.5+0.1*math.Cos(0.7*float64(i)))
	}
	return ir.MustArray(ir.Float64, []int{n, 2}, data)
}
