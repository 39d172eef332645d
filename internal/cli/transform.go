package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rmcgibbo/msmbuilder3/internal/codec"
	"github.com/rmcgibbo/msmbuilder3/internal/container"
	"github.com/rmcgibbo/msmbuilder3/internal/dataset"
	"github.com/rmcgibbo/msmbuilder3/internal/estimator"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// TransformOptions holds flags for the transform command.
type TransformOptions struct {
	Model       string
	Input       string
	Output      string
	Compression string
	Overwrite   bool
}

// TransformResult summarizes a transform.
type TransformResult struct {
	Model     string `json:"model"`
	Input     string `json:"input"`
	Output    string `json:"output"`
	Sequences int    `json:"sequences"`
}

func (r TransformResult) String() string {
	return fmt.Sprintf("Transformed %d sequences from %s with %s\nOutput written to %s",
		r.Sequences, r.Input, r.Model, r.Output)
}

// NewTransformCommand creates the transform command.
func NewTransformCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TransformOptions{}

	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Apply a fitted model to every sequence of a dataset",
		Long: `Load a fitted model, transform every sequence of the input dataset and
write the results to a new dataset under the same keys.

The output inherits the input's name, timestep, source labels and
provenance log, and gains one provenance row for this run.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransform(cmd.Context(), rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "fitted model container")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "dataset to transform")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "dataset to write")
	cmd.Flags().StringVar(&opts.Compression, "compression", string(container.CompressionZstd), "array compression (zstd|zlib|none)")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "replace an existing output file")
	cmd.MarkFlagRequired("model")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")

	return cmd
}

func runTransform(ctx context.Context, rootOpts *RootOptions, opts *TransformOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(rootOpts, cmd)

	model, err := codec.Load(ctx, opts.Model)
	if err != nil {
		return out.Fail("load model", err)
	}
	t, ok := model.(estimator.Transformer)
	if !ok {
		return out.Fail("transform", ir.Errorf(ir.ErrCodeConfiguration, "%s cannot transform", model.TypeName()).WithPath(opts.Model))
	}

	n, err := writeTransformed(ctx, t, opts.Input, opts.Output, dataset.Options{
		Overwrite:   opts.Overwrite,
		Compression: container.Compression(opts.Compression),
	})
	if err != nil {
		return out.Fail("transform", err)
	}
	slog.Info("dataset transformed", "model", model.TypeName(), "sequences", n, "output", opts.Output)

	return out.Success(TransformResult{
		Model:     modelName(model),
		Input:     opts.Input,
		Output:    opts.Output,
		Sequences: n,
	})
}

// writeTransformed writes t applied to every sequence of the dataset at
// input to a new dataset at output, carrying over metadata and history.
// A partially written output is removed.
func writeTransformed(ctx context.Context, t estimator.Transformer, input, output string, opts dataset.Options) (n int, err error) {
	in, err := dataset.Open(ctx, input, dataset.Read, dataset.Options{})
	if err != nil {
		return 0, err
	}
	defer in.Close()

	history, err := in.Provenance(ctx)
	if err != nil {
		return 0, err
	}
	keys, err := in.Keys(ctx)
	if err != nil {
		return 0, err
	}

	opts.Name, opts.Timestep = in.Name(), in.Timestep()
	dst, err := dataset.Open(ctx, output, dataset.Write, opts)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = errors.Join(err, dst.Close())
		if err != nil {
			os.Remove(output)
		}
	}()

	if err := dst.AppendProvenance(ctx, history...); err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		x, err := in.Get(ctx, k)
		if err != nil {
			return n, err
		}
		y, err := t.Transform(x)
		if err != nil {
			return n, fmt.Errorf("sequence %d: %w", k, err)
		}
		if err := dst.Put(ctx, k, y); err != nil {
			return n, err
		}
		label, err := in.SourceLabel(ctx, k)
		if err != nil {
			return n, err
		}
		if label != "" {
			if err := dst.SetSourceLabel(ctx, k, label); err != nil {
				return n, err
			}
		}
		n++
	}
	return n, nil
}
