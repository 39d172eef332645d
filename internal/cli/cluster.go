package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rmcgibbo/msmbuilder3/internal/cluster"
	"github.com/rmcgibbo/msmbuilder3/internal/codec"
	"github.com/rmcgibbo/msmbuilder3/internal/container"
	"github.com/rmcgibbo/msmbuilder3/internal/dataset"
	"github.com/rmcgibbo/msmbuilder3/internal/estimator"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// ClusterOptions holds flags for the cluster command.
type ClusterOptions struct {
	Input       string
	Output      string
	ModelOut    string
	NClusters   int
	Seed        int
	RandomState int
	Metric      string
	NJobs       int
	Precision   string
	Compression string
	Overwrite   bool
}

// ClusterResult summarizes a clustering run.
type ClusterResult struct {
	Input     string  `json:"input"`
	Output    string  `json:"output"`
	Model     string  `json:"model,omitempty"`
	Clusters  int     `json:"clusters"`
	Sequences int     `json:"sequences"`
	Radius    float64 `json:"radius"`
}

func (r ClusterResult) String() string {
	s := fmt.Sprintf("Clustered %d sequences from %s into %d centers (radius %.6g)\nLabels written to %s",
		r.Sequences, r.Input, r.Clusters, r.Radius, r.Output)
	if r.Model != "" {
		s += "\nModel written to " + r.Model
	}
	return s
}

// NewClusterCommand creates the cluster command.
func NewClusterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClusterOptions{}

	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Cluster a dataset with k-centers and write per-frame labels",
		Long: `Run k-centers over every frame of every sequence in a dataset, then
write a dataset of integer cluster labels under the same keys.

Use --model-out to also keep the fitted model for later transforms.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCluster(cmd.Context(), rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "dataset of feature sequences")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "label dataset to write")
	cmd.Flags().StringVar(&opts.ModelOut, "model-out", "", "also save the fitted model here")
	cmd.Flags().IntVarP(&opts.NClusters, "n-clusters", "k", 8, "number of centers")
	cmd.Flags().IntVar(&opts.Seed, "seed", 0, "index of the first center (random when unset)")
	cmd.Flags().IntVar(&opts.RandomState, "random-state", 0, "seed for the random first center")
	cmd.Flags().StringVar(&opts.Metric, "metric", string(cluster.Euclidean), "distance (euclidean|sqeuclidean|cityblock|chebyshev)")
	cmd.Flags().IntVar(&opts.NJobs, "n-jobs", 1, "goroutines per distance sweep (-1 for GOMAXPROCS)")
	cmd.Flags().StringVar(&opts.Precision, "precision", string(cluster.Single), "sample precision (single|double)")
	cmd.Flags().StringVar(&opts.Compression, "compression", string(container.CompressionZstd), "array compression (zstd|zlib|none)")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "replace existing output files")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")

	return cmd
}

func runCluster(ctx context.Context, rootOpts *RootOptions, opts *ClusterOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(rootOpts, cmd)

	params := ir.Object{
		"n_clusters": ir.Int(opts.NClusters),
		"metric":     ir.Text(opts.Metric),
		"precision":  ir.Text(opts.Precision),
		"n_jobs":     ir.Int(opts.NJobs),
	}
	if cmd.Flags().Changed("seed") {
		params["seed"] = ir.Int(opts.Seed)
	}
	if cmd.Flags().Changed("random-state") {
		params["random_state"] = ir.Int(opts.RandomState)
	}
	e, err := estimator.New(cluster.KCentersType, params)
	if err != nil {
		return out.Fail("configure k-centers", err)
	}
	kc := e.(*cluster.KCenters)

	in, err := dataset.Open(ctx, opts.Input, dataset.Read, dataset.Options{})
	if err != nil {
		return out.Fail("open input", err)
	}
	batches, err := estimator.Collect(ctx, in.Sequences(ctx))
	in.Close()
	if err != nil {
		return out.Fail("read input", err)
	}
	if err := kc.FitContext(ctx, batches...); err != nil {
		return out.Fail("fit k-centers", err)
	}
	out.VerboseLog("Found %d centers", len(kc.Get("center_indices_").(ir.Array).Data))

	compression := container.Compression(opts.Compression)
	if opts.ModelOut != "" {
		copts := container.Options{Overwrite: opts.Overwrite, Compression: compression}
		if err := codec.Save(ctx, opts.ModelOut, kc, copts); err != nil {
			return out.Fail("save model", err)
		}
	}

	n, err := writeTransformed(ctx, kc, opts.Input, opts.Output, dataset.Options{
		Overwrite:   opts.Overwrite,
		Compression: compression,
	})
	if err != nil {
		return out.Fail("write labels", err)
	}
	slog.Info("dataset clustered", "clusters", opts.NClusters, "sequences", n, "output", opts.Output)

	return out.Success(ClusterResult{
		Input:     opts.Input,
		Output:    opts.Output,
		Model:     opts.ModelOut,
		Clusters:  len(kc.Get("center_indices_").(ir.Array).Data),
		Sequences: n,
		Radius:    radius(kc),
	})
}

// radius is the largest distance from a sample to its center.
func radius(kc *cluster.KCenters) float64 {
	scores, ok := kc.Get("scores_").(ir.Array)
	if !ok {
		return 0
	}
	r := 0.0
	for _, s := range scores.Data {
		r = max(r, s)
	}
	return r
}
