package codec

import (
	"context"
	"errors"

	"github.com/rmcgibbo/msmbuilder3/internal/container"
	"github.com/rmcgibbo/msmbuilder3/internal/estimator"
	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

// Root attributes of a model container.
const (
	FormatAttr  = "format"
	VersionAttr = "format_version"
)

// Save writes e as the single model in a new container at path.
func Save(ctx context.Context, path string, e estimator.Estimator, opts container.Options) error {
	f, err := container.Create(path, opts)
	if err != nil {
		return err
	}
	defer f.Close()

	err = f.Update(ctx, func(root *container.Group) error {
		if err := root.SetAttr(ctx, FormatAttr, ir.Text(ir.ModelFormat)); err != nil {
			return err
		}
		if err := root.SetAttr(ctx, VersionAttr, ir.Text(ir.FormatVersion)); err != nil {
			return err
		}
		return Write(ctx, e, root)
	})
	if err != nil {
		return err
	}
	return f.Close()
}

// Load reads the model stored at path.
func Load(ctx context.Context, path string) (estimator.Estimator, error) {
	f, err := container.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	root := f.Root()
	if err := CheckFormat(ctx, root, ir.ModelFormat); err != nil {
		return nil, err
	}

	children, err := root.Children(ctx)
	if err != nil {
		return nil, err
	}
	if len(children) != 1 || children[0].Kind != container.NodeGroup {
		return nil, ir.Errorf(ir.ErrCodeSerialization, "model container holds %d nodes, want one group", len(children)).WithPath(path)
	}
	g, err := root.Group(ctx, children[0].Name)
	if err != nil {
		return nil, err
	}
	return Read(ctx, g, "")
}

// CheckFormat verifies the format tag and version attributes of root match
// exactly.
func CheckFormat(ctx context.Context, root *container.Group, format string) error {
	for _, want := range []struct{ key, value string }{
		{FormatAttr, format},
		{VersionAttr, ir.FormatVersion},
	} {
		v, err := root.Attr(ctx, want.key)
		if errors.Is(err, container.ErrNotFound) {
			return ir.Errorf(ir.ErrCodeUnrecognizedFormat, "missing %s attribute", want.key).WithKey(want.key)
		}
		if err != nil {
			return err
		}
		if got, ok := v.(ir.Text); !ok || string(got) != want.value {
			return ir.Errorf(ir.ErrCodeUnrecognizedFormat, "%s is %v, want %q", want.key, v, want.value).WithKey(want.key)
		}
	}
	return nil
}
