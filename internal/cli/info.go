package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rmcgibbo/msmbuilder3/internal/codec"
	"github.com/rmcgibbo/msmbuilder3/internal/container"
	"github.com/rmcgibbo/msmbuilder3/internal/dataset"
	"github.com/rmcgibbo/msmbuilder3/internal/estimator"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// SequenceInfo describes one stored sequence.
type SequenceInfo struct {
	Key    int    `json:"key"`
	Frames int    `json:"frames"`
	Source string `json:"source,omitempty"`
}

// DatasetInfo summarizes a dataset container.
type DatasetInfo struct {
	Kind       string               `json:"kind"`
	Path       string               `json:"path"`
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Timestep   float64              `json:"timestep"`
	Sequences  []SequenceInfo       `json:"sequences"`
	Provenance []dataset.Provenance `json:"provenance"`
}

func (d DatasetInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset %s\n", d.Path)
	fmt.Fprintf(&b, "  id:        %s\n", d.ID)
	fmt.Fprintf(&b, "  name:      %s\n", d.Name)
	fmt.Fprintf(&b, "  timestep:  %g\n", d.Timestep)
	fmt.Fprintf(&b, "  sequences: %d\n", len(d.Sequences))
	for _, s := range d.Sequences {
		fmt.Fprintf(&b, "    %d: %d frames", s.Key, s.Frames)
		if s.Source != "" {
			fmt.Fprintf(&b, " (%s)", s.Source)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "  provenance:\n")
	for _, p := range d.Provenance {
		fmt.Fprintf(&b, "    %s %s@%s: %s\n", p.Timestamp, p.User, p.Workdir, p.Cmdline)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ModelInfo summarizes a model container.
type ModelInfo struct {
	Kind      string          `json:"kind"`
	Path      string          `json:"path"`
	ID        string          `json:"id"`
	Model     string          `json:"model"`
	Estimates []string        `json:"estimates"`
	Dump      json.RawMessage `json:"dump"`
}

func (m ModelInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Model %s\n", m.Path)
	fmt.Fprintf(&b, "  id:        %s\n", m.ID)
	fmt.Fprintf(&b, "  type:      %s\n", m.Model)
	fmt.Fprintf(&b, "  estimates: %s\n", strings.Join(m.Estimates, ", "))
	fmt.Fprintf(&b, "  %s", m.Dump)
	return b.String()
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <path>",
		Short: "Describe a dataset or model container",
		Long: `Print a summary of a dataset (sequences, lengths, source labels and
provenance) or of a model (type, estimates and a canonical JSON dump).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(cmd.Context(), rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runInfo(ctx context.Context, rootOpts *RootOptions, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(rootOpts, cmd)

	format, id, err := identify(ctx, path)
	if err != nil {
		return out.Fail("inspect "+path, err)
	}

	var info any
	switch format {
	case ir.DatasetFormat:
		info, err = datasetInfo(ctx, path, id)
	case ir.ModelFormat:
		info, err = modelInfo(ctx, path, id)
	default:
		err = ir.Errorf(ir.ErrCodeUnrecognizedFormat, "unknown container format %q", format).WithPath(path)
	}
	if err != nil {
		return out.Fail("inspect "+path, err)
	}
	return out.Success(info)
}

// identify reads the format tag and identity of a container.
func identify(ctx context.Context, path string) (string, string, error) {
	f, err := container.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	id, err := f.ID(ctx)
	if err != nil {
		return "", "", err
	}
	v, err := f.Root().Attr(ctx, codec.FormatAttr)
	if err != nil {
		return "", "", ir.Errorf(ir.ErrCodeUnrecognizedFormat, "container has no format tag").WithPath(path).Wrap(err)
	}
	format, _ := v.(ir.Text)
	return string(format), id, nil
}

func datasetInfo(ctx context.Context, path, id string) (DatasetInfo, error) {
	s, err := dataset.Open(ctx, path, dataset.Read, dataset.Options{})
	if err != nil {
		return DatasetInfo{}, err
	}
	defer s.Close()

	keys, err := s.Keys(ctx)
	if err != nil {
		return DatasetInfo{}, err
	}
	info := DatasetInfo{
		Kind:      "dataset",
		Path:      path,
		ID:        id,
		Name:      s.Name(),
		Timestep:  s.Timestep(),
		Sequences: make([]SequenceInfo, 0, len(keys)),
	}
	for _, k := range keys {
		n, err := s.Length(ctx, k)
		if err != nil {
			return DatasetInfo{}, err
		}
		src, err := s.SourceLabel(ctx, k)
		if err != nil {
			return DatasetInfo{}, err
		}
		info.Sequences = append(info.Sequences, SequenceInfo{Key: k, Frames: n, Source: src})
	}
	if info.Provenance, err = s.Provenance(ctx); err != nil {
		return DatasetInfo{}, err
	}
	return info, nil
}

func modelInfo(ctx context.Context, path, id string) (ModelInfo, error) {
	e, err := codec.Load(ctx, path)
	if err != nil {
		return ModelInfo{}, err
	}
	names, err := estimator.EstimateNames(e)
	if err != nil {
		return ModelInfo{}, err
	}
	dump, err := codec.DumpJSON(e)
	if err != nil {
		return ModelInfo{}, err
	}
	return ModelInfo{
		Kind:      "model",
		Path:      path,
		ID:        id,
		Model:     modelName(e),
		Estimates: names,
		Dump:      dump,
	}, nil
}
