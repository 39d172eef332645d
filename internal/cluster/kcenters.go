// Package cluster provides centroid-based clustering of feature vectors.
package cluster

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/rmcgibbo/msmbuilder3/internal/estimator"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// KCentersType is the registered type name of KCenters.
const KCentersType = "KCenters"

var kcentersSchema = estimator.Schema{
	Type: KCentersType,
	Params: []estimator.Field{
		{Name: "n_clusters", Kind: ir.KindInt},
		{Name: "seed", Kind: ir.KindInt},
		{Name: "random_state", Kind: ir.KindInt},
		{Name: "precision", Kind: ir.KindText},
		{Name: "metric", Kind: ir.KindText},
		{Name: "n_jobs", Kind: ir.KindInt},
	},
	Estimates: []estimator.Field{
		{Name: "labels_", Kind: ir.KindArray},
		{Name: "scores_", Kind: ir.KindArray},
		{Name: "centers_", Kind: ir.KindArray},
		{Name: "center_indices_", Kind: ir.KindArray},
	},
}

func init() {
	estimator.MustRegister(kcentersSchema, func(params ir.Object) (estimator.Estimator, error) {
		k := &KCenters{Precision: Single, Metric: Euclidean}
		if err := estimator.SetParams(k, params); err != nil {
			return nil, err
		}
		return k, nil
	})
}

// blockRows is the number of samples one worker handles per distance sweep.
const blockRows = 4096

// KCenters is farthest-point clustering. Starting from a seed sample, each
// new center is the sample farthest from every existing center, and every
// sample is labelled with its nearest center. The largest score bounds the
// cluster radius within a factor of two of optimal.
type KCenters struct {
	NClusters *int

	// Seed is the index of the first center. Nil picks one at random.
	Seed *int

	// RandomState seeds the random pick. Nil uses a fresh source.
	RandomState *int

	Precision Precision
	Metric    Metric

	// NJobs is the number of goroutines a distance sweep is split across.
	// Nil or 1 sweeps on the calling goroutine; -1 uses GOMAXPROCS.
	NJobs *int

	labels        []int
	scores        []float64
	centers       *mat.Dense
	centerIndices []int
}

// NewKCenters returns an unfitted KCenters with single precision and the
// euclidean metric.
func NewKCenters(nClusters int) *KCenters {
	return &KCenters{NClusters: &nClusters, Precision: Single, Metric: Euclidean}
}

func (k *KCenters) TypeName() string { return KCentersType }

func (k *KCenters) Get(name string) ir.Value {
	switch name {
	case "n_clusters":
		return estimator.OptInt(k.NClusters)
	case "seed":
		return estimator.OptInt(k.Seed)
	case "random_state":
		return estimator.OptInt(k.RandomState)
	case "precision":
		return ir.Text(k.Precision)
	case "metric":
		return ir.Text(k.Metric)
	case "n_jobs":
		return estimator.OptInt(k.NJobs)
	case "labels_":
		if k.labels == nil {
			return ir.Null{}
		}
		return ir.IntVector(k.labels...)
	case "scores_":
		if k.scores == nil {
			return ir.Null{}
		}
		return ir.MustArray(k.Precision.DType(), []int{len(k.scores)}, k.scores)
	case "centers_":
		if k.centers == nil {
			return ir.Null{}
		}
		c := ir.FromDense(k.centers)
		return ir.MustArray(k.Precision.DType(), c.Shape, c.Data)
	case "center_indices_":
		if k.centerIndices == nil {
			return ir.Null{}
		}
		return ir.IntVector(k.centerIndices...)
	}
	return ir.Null{}
}

func (k *KCenters) Set(name string, v ir.Value) error {
	switch name {
	case "n_clusters", "seed", "random_state":
		n, ok, err := estimator.Int(name, v)
		if err != nil {
			return err
		}
		var p *int
		if ok {
			if n < 0 || (name == "n_clusters" && n == 0) {
				return ir.Errorf(ir.ErrCodeConfiguration, "%s must be positive, got %d", name, n).WithKey(name)
			}
			p = &n
		}
		switch name {
		case "n_clusters":
			k.NClusters = p
		case "seed":
			k.Seed = p
		default:
			k.RandomState = p
		}
		return nil
	case "n_jobs":
		n, ok, err := estimator.Int(name, v)
		if err != nil {
			return err
		}
		k.NJobs = nil
		if ok {
			if n == 0 || n < -1 {
				return ir.Errorf(ir.ErrCodeConfiguration, "n_jobs must be positive or -1, got %d", n).WithKey(name)
			}
			k.NJobs = &n
		}
		return nil
	case "precision":
		s, _, err := estimator.Text(name, v)
		if err != nil {
			return err
		}
		p, err := ParsePrecision(s)
		if err != nil {
			return err
		}
		k.Precision = p
		return nil
	case "metric":
		s, _, err := estimator.Text(name, v)
		if err != nil {
			return err
		}
		m, err := ParseMetric(s)
		if err != nil {
			return err
		}
		k.Metric = m
		return nil
	}

	if _, ok := kcentersSchema.Estimate(name); !ok {
		return estimator.Unknown(KCentersType, name)
	}
	a, ok, err := estimator.Array(name, v)
	if err != nil {
		return err
	}
	switch name {
	case "labels_":
		k.labels = nil
		if ok {
			k.labels = a.Ints()
		}
	case "center_indices_":
		k.centerIndices = nil
		if ok {
			k.centerIndices = a.Ints()
		}
	case "scores_":
		k.scores = nil
		if ok {
			k.scores = append([]float64(nil), a.Data...)
		}
	case "centers_":
		k.centers = nil
		if ok {
			if a.Ndim() != 2 {
				return ir.Errorf(ir.ErrCodeShape, "centers_ must be 2-d, got shape %s", a.ShapeString()).WithKey(name)
			}
			if k.centers, err = a.Dense(); err != nil {
				return ir.Errorf(ir.ErrCodeShape, "centers_: %v", err).WithKey(name)
			}
		}
	}
	return nil
}

// Fitted reports whether centers are available.
func (k *KCenters) Fitted() bool {
	return k.centers != nil
}

// Fit clusters the concatenation of batches. Labels and scores are indexed
// by sample position across all batches.
func (k *KCenters) Fit(batches ...ir.Array) error {
	return k.FitContext(context.Background(), batches...)
}

// FitContext is Fit with cancellation between center picks.
func (k *KCenters) FitContext(ctx context.Context, batches ...ir.Array) error {
	if k.NClusters == nil {
		return ir.Errorf(ir.ErrCodeConfiguration, "n_clusters is not set").WithKey("n_clusters")
	}
	x, err := k.samples(batches)
	if err != nil {
		return err
	}
	n := len(x)
	nClusters := *k.NClusters
	if nClusters > n {
		return ir.Errorf(ir.ErrCodeConfiguration, "n_clusters=%d exceeds %d samples", nClusters, n).WithKey("n_clusters")
	}

	next, err := k.firstCenter(n)
	if err != nil {
		return err
	}

	scores := make([]float64, n)
	for i := range scores {
		scores[i] = math.Inf(1)
	}
	labels := make([]int, n)
	centers := mat.NewDense(nClusters, len(x[0]), nil)
	indices := make([]int, nClusters)
	d := make([]float64, n)

	for c := 0; c < nClusters; c++ {
		if err := k.sweep(ctx, x, x[next], d); err != nil {
			return err
		}
		for i, di := range d {
			if di < scores[i] {
				scores[i] = di
				labels[i] = c
			}
		}
		centers.SetRow(c, x[next])
		indices[c] = next
		next = argmax(scores)
	}

	k.labels, k.scores, k.centers, k.centerIndices = labels, scores, centers, indices
	slog.Debug("kcenters fit", "samples", n, "clusters", nClusters, "radius", scores[argmax(scores)])
	return nil
}

// samples flattens batches into rows rounded to the working precision.
func (k *KCenters) samples(batches []ir.Array) ([][]float64, error) {
	var rows [][]float64
	width := -1
	for i, b := range batches {
		var w int
		switch b.Ndim() {
		case 1:
			w = b.Len()
		case 2:
			w = b.Shape[1]
		default:
			return nil, ir.Errorf(ir.ErrCodeShape, "batch %d of shape %s is not one- or two-dimensional", i, b.ShapeString())
		}
		if w == 0 {
			return nil, ir.Errorf(ir.ErrCodeShape, "batch %d of shape %s has no features", i, b.ShapeString())
		}
		if width >= 0 && w != width {
			return nil, ir.Errorf(ir.ErrCodeShape, "batch %d of shape %s has %d features, want %d", i, b.ShapeString(), w, width)
		}
		width = w
		for lo := 0; lo < len(b.Data); lo += w {
			row := append([]float64(nil), b.Data[lo:lo+w]...)
			k.Precision.round(row)
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return nil, ir.Errorf(ir.ErrCodeShape, "no samples to cluster")
	}
	return rows, nil
}

func (k *KCenters) firstCenter(n int) (int, error) {
	if k.Seed != nil {
		if *k.Seed >= n {
			return 0, ir.Errorf(ir.ErrCodeConfiguration, "seed index %d out of range for %d samples", *k.Seed, n).WithKey("seed")
		}
		return *k.Seed, nil
	}
	if k.RandomState != nil {
		r := rand.New(rand.NewPCG(uint64(*k.RandomState), 0))
		return r.IntN(n), nil
	}
	return rand.IntN(n), nil
}

// workers resolves NJobs.
func (k *KCenters) workers() int {
	switch {
	case k.NJobs == nil:
		return 1
	case *k.NJobs == -1:
		return runtime.GOMAXPROCS(0)
	}
	return *k.NJobs
}

// sweep fills d with the distance from center to every row of x. With more
// than one worker the rows are split into blocks swept concurrently; each
// block writes a disjoint range of d, so the result does not depend on
// scheduling.
func (k *KCenters) sweep(ctx context.Context, x [][]float64, center []float64, d []float64) error {
	jobs := k.workers()
	if jobs == 1 || len(x) <= blockRows {
		for i := range x {
			d[i] = k.Metric.Distance(center, x[i])
		}
		return ctx.Err()
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for lo := 0; lo < len(x); lo += blockRows {
		hi := min(lo+blockRows, len(x))
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				d[i] = k.Metric.Distance(center, x[i])
			}
			return nil
		})
	}
	return g.Wait()
}

func argmax(xs []float64) int {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return best
}

// Predict labels each sample of x with its nearest center. Ties go to the
// lower center index.
func (k *KCenters) Predict(x ir.Array) (ir.Array, error) {
	if k.centers == nil {
		return ir.Array{}, ir.Errorf(ir.ErrCodeNotFitted, "KCenters has not been fit")
	}
	rows, err := k.samples([]ir.Array{x})
	if err != nil {
		return ir.Array{}, err
	}
	nc, width := k.centers.Dims()
	if len(rows[0]) != width {
		return ir.Array{}, ir.Errorf(ir.ErrCodeShape, "input of shape %s has %d features, centers have %d",
			x.ShapeString(), len(rows[0]), width)
	}

	labels := make([]int, len(rows))
	for i, row := range rows {
		best := math.Inf(1)
		for c := 0; c < nc; c++ {
			if d := k.Metric.Distance(row, k.centers.RawRowView(c)); d < best {
				best, labels[i] = d, c
			}
		}
	}
	return ir.IntVector(labels...), nil
}

// Transform is Predict, so a fitted KCenters can end a pipeline.
func (k *KCenters) Transform(x ir.Array) (ir.Array, error) {
	return k.Predict(x)
}
