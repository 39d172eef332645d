// Package config loads workflow files for the msmb command.
//
// A workflow names the model to fit and, optionally, where to read
// sequences from and where to write results. Files are YAML (.yaml, .yml)
// or CUE (.cue, .json). Both are unified with the embedded schema.cue, so
// defaults and constraints are the same whichever syntax is used.
//
//	model:
//	  type: Pipeline
//	  stages:
//	    - type: tICA
//	      params: {lag_time: 2, n_components: 3}
//	    - type: KCenters
//	      params: {n_clusters: 10, seed: 0}
//	input: trajectories.db
//	output: model.db
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/rmcgibbo/msmbuilder3/internal/ir"
)

//go:embed schema.cue
var schemaCUE string

// Workflow is a decoded, validated workflow file.
type Workflow struct {
	Model       Model   `json:"model" yaml:"model"`
	Input       string  `json:"input,omitempty" yaml:"input"`
	Output      string  `json:"output,omitempty" yaml:"output"`
	Name        string  `json:"name,omitempty" yaml:"name"`
	Timestep    float64 `json:"timestep,omitempty" yaml:"timestep"`
	Compression string  `json:"compression,omitempty" yaml:"compression"`
	Overwrite   bool    `json:"overwrite,omitempty" yaml:"overwrite"`
}

// Model describes an estimator by registered type name and parameters.
// Stages is shorthand for the "stages" parameter of a Pipeline.
type Model struct {
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params"`
	Stages []Model        `json:"stages,omitempty" yaml:"stages"`
}

// Syntax is the surface syntax of a workflow file.
type Syntax int

const (
	YAML Syntax = iota
	CUE
)

// SyntaxOf picks the syntax from a file extension.
func SyntaxOf(path string) (Syntax, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".cue", ".json":
		return CUE, nil
	}
	return 0, ir.Errorf(ir.ErrCodeConfiguration, "unrecognized workflow file extension %q", filepath.Ext(path)).WithPath(path)
}

// Load reads and validates the workflow at path. Relative input and
// output paths are resolved against the directory holding the file.
func Load(path string) (*Workflow, error) {
	syntax, err := SyntaxOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	w, err := Parse(data, syntax, path)
	if err != nil {
		return nil, err
	}
	w.resolve(filepath.Dir(path))
	return w, nil
}

// Parse decodes a workflow from data. name is used in error messages.
func Parse(data []byte, syntax Syntax, name string) (*Workflow, error) {
	src := data
	if syntax == YAML {
		var err error
		if src, err = yamlToJSON(data, name); err != nil {
			return nil, err
		}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	file := ctx.CompileBytes(src, cue.Filename(name))
	if err := file.Err(); err != nil {
		return nil, cueError(name, err)
	}

	v := schema.LookupPath(cue.ParsePath("#Workflow")).Unify(file)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(name, err)
	}

	var w Workflow
	if err := v.Decode(&w); err != nil {
		return nil, cueError(name, err)
	}
	return &w, nil
}

// yamlToJSON decodes YAML strictly into a Workflow and re-encodes it as
// JSON, which CUE reads natively.
func yamlToJSON(data []byte, name string) ([]byte, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var w Workflow
	if err := dec.Decode(&w); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ir.Errorf(ir.ErrCodeConfiguration, "%s: empty workflow", name).WithPath(name)
		}
		return nil, ir.Errorf(ir.ErrCodeConfiguration, "%s: %v", name, err).WithPath(name).Wrap(err)
	}
	out, err := json.Marshal(w)
	if err != nil {
		return nil, ir.Errorf(ir.ErrCodeConfiguration, "%s: %v", name, err).WithPath(name).Wrap(err)
	}
	return out, nil
}

// cueError reports the first CUE error with its position.
func cueError(name string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return ir.Errorf(ir.ErrCodeConfiguration, "%s: %v", name, err).WithPath(name).Wrap(err)
	}
	first := errs[0]
	msg := first.Error()
	if pos := cueerrors.Positions(first); len(pos) > 0 && pos[0].IsValid() {
		msg = fmt.Sprintf("%s:%d:%d: %s", pos[0].Filename(), pos[0].Line(), pos[0].Column(), msg)
	}
	return ir.Errorf(ir.ErrCodeConfiguration, "%s", msg).WithPath(name).Wrap(err)
}

func (w *Workflow) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	w.Input = abs(w.Input)
	w.Output = abs(w.Output)
}
