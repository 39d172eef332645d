package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rmcgibbo/msmbuilder3/internal/codec"
	"github.com/rmcgibbo/msmbuilder3/internal/config"
	"github.com/rmcgibbo/msmbuilder3/internal/container"
	"github.com/rmcgibbo/msmbuilder3/internal/dataset"
	"github.com/rmcgibbo/msmbuilder3/internal/estimator"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// FitOptions holds flags for the fit command.
type FitOptions struct {
	Config    string
	Input     string
	Output    string
	Overwrite bool
}

// FitResult summarizes a fit.
type FitResult struct {
	Model     string `json:"model"`
	Input     string `json:"input"`
	Output    string `json:"output"`
	Sequences int    `json:"sequences"`
	Frames    int    `json:"frames"`
}

func (r FitResult) String() string {
	return fmt.Sprintf("Fitted %s on %d sequences (%d frames) from %s\nModel written to %s",
		r.Model, r.Sequences, r.Frames, r.Input, r.Output)
}

// NewFitCommand creates the fit command.
func NewFitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FitOptions{}

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit the model described by a workflow file",
		Long: `Fit the model named in a workflow file on every sequence of a dataset
and save it to a model container.

--input and --output override the paths given in the workflow file.
Sequences are streamed one at a time to incremental estimators.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFit(cmd.Context(), rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "workflow file (.yaml, .yml, .cue, .json)")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "dataset to fit on")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "model container to write")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "replace an existing output file")
	cmd.MarkFlagRequired("config")

	return cmd
}

func runFit(ctx context.Context, rootOpts *RootOptions, opts *FitOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(rootOpts, cmd)

	w, err := config.Load(opts.Config)
	if err != nil {
		return out.Fail("load workflow", err)
	}
	if opts.Input != "" {
		w.Input = opts.Input
	}
	if opts.Output != "" {
		w.Output = opts.Output
	}
	w.Overwrite = w.Overwrite || opts.Overwrite
	if w.Input == "" || w.Output == "" {
		return out.Fail("fit", ir.Errorf(ir.ErrCodeConfiguration, "both an input dataset and an output path are required"))
	}

	model, err := config.Build(w.Model)
	if err != nil {
		return out.Fail("build model", err)
	}
	fitter, ok := model.(estimator.Fitter)
	if !ok {
		return out.Fail("fit", ir.Errorf(ir.ErrCodeConfiguration, "%s cannot be fit", model.TypeName()))
	}

	in, err := dataset.Open(ctx, w.Input, dataset.Read, dataset.Options{})
	if err != nil {
		return out.Fail("open input", err)
	}
	defer in.Close()

	seqs, frames, err := countFrames(ctx, in)
	if err != nil {
		return out.Fail("read input", err)
	}
	out.VerboseLog("Fitting %s on %d sequences (%d frames)", model.TypeName(), seqs, frames)

	if err := estimator.FitSource(ctx, fitter, in.Sequences(ctx)); err != nil {
		return out.Fail("fit "+model.TypeName(), err)
	}
	if fz, ok := model.(estimator.Finalizer); ok {
		if err := fz.Finalize(); err != nil {
			return out.Fail("finalize "+model.TypeName(), err)
		}
	}

	copts := container.Options{Overwrite: w.Overwrite, Compression: container.Compression(w.Compression)}
	if err := codec.Save(ctx, w.Output, model, copts); err != nil {
		return out.Fail("save model", err)
	}
	slog.Info("model fitted", "type", model.TypeName(), "sequences", seqs, "output", w.Output)

	return out.Success(FitResult{
		Model:     modelName(model),
		Input:     w.Input,
		Output:    w.Output,
		Sequences: seqs,
		Frames:    frames,
	})
}

// countFrames reads only the index and array shapes.
func countFrames(ctx context.Context, s *dataset.Store) (int, int, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return 0, 0, err
	}
	frames := 0
	for _, k := range keys {
		n, err := s.Length(ctx, k)
		if err != nil {
			return 0, 0, err
		}
		frames += n
	}
	return len(keys), frames, nil
}

// modelName renders a pipeline as its stage types, e.g.
// "Pipeline(DistanceFeaturizer, tICA, KCenters)".
func modelName(e estimator.Estimator) string {
	list, ok := e.Get("stages").(ir.ModelList)
	if !ok || len(list) == 0 {
		return e.TypeName()
	}
	names := make([]string, len(list))
	for i, m := range list {
		if sub, ok := m.(estimator.Estimator); ok {
			names[i] = modelName(sub)
		} else {
			names[i] = m.TypeName()
		}
	}
	return fmt.Sprintf("%s(%s)", e.TypeName(), strings.Join(names, ", "))
}
