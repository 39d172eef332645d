package cluster

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// Metric names a distance between two samples.
type Metric string

const (
	Euclidean   Metric = "euclidean"
	SqEuclidean Metric = "sqeuclidean"
	Cityblock   Metric = "cityblock"
	Chebyshev   Metric = "chebyshev"
)

// ParseMetric validates a metric name. The empty name selects Euclidean.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case "":
		return Euclidean, nil
	case Euclidean, SqEuclidean, Cityblock, Chebyshev:
		return m, nil
	}
	return "", ir.Errorf(ir.ErrCodeConfiguration, "unknown metric %q", s).WithKey("metric")
}

// Distance returns the distance between a and b, which must have equal
// length.
func (m Metric) Distance(a, b []float64) float64 {
	switch m {
	case SqEuclidean:
		d := floats.Distance(a, b, 2)
		return d * d
	case Cityblock:
		return floats.Distance(a, b, 1)
	case Chebyshev:
		return floats.Distance(a, b, math.Inf(1))
	}
	return floats.Distance(a, b, 2)
}

// Precision selects the floating-point width samples are rounded to.
type Precision string

const (
	Single Precision = "single"
	Double Precision = "double"
)

// ParsePrecision validates a precision name. The empty name selects
// Single.
func ParsePrecision(s string) (Precision, error) {
	switch p := Precision(s); p {
	case "":
		return Single, nil
	case Single, Double:
		return p, nil
	}
	return "", ir.Errorf(ir.ErrCodeConfiguration, "precision must be %q or %q, got %q", Single, Double, s).
		WithKey("precision")
}

// DType is the array element type matching p.
func (p Precision) DType() ir.DType {
	if p == Double {
		return ir.Float64
	}
	return ir.Float32
}

func (p Precision) round(row []float64) {
	if p == Double {
		return
	}
	for i, x := range row {
		row[i] = float64(float32(x))
	}
}
