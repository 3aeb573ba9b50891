// Package config loads a declarative pipeline definition (YAML or JSON)
// into a PipelineSpec that Build turns into a wired, unstarted
// engine.Pipeline.
package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/mramospe/jobmgr/engine"
)

// StageSpec is one entry in PipelineSpec.Stages.
type StageSpec struct {
	Name       string   `koanf:"name"`
	Executable string   `koanf:"executable"`
	Opts       []string `koanf:"opts"`
	DataRegex  string   `koanf:"data_regex"`
}

// PipelineSpec is the decoded shape of a pipeline definition file.
type PipelineSpec struct {
	RootDir  string      `koanf:"root"`
	LogLevel string      `koanf:"log-level"`
	Stages   []StageSpec `koanf:"stages"`
}

// Load reads and decodes a YAML pipeline definition at path. JSON is
// valid YAML, so the same parser handles both without a separate code
// path.
//
// If overlay is non-nil, flags explicitly set on it take precedence
// over the same-named keys loaded from the file, and any flag left at
// its default falls back to the file value (or the flag's own default
// if the file doesn't set that key either) — the usual "file config,
// flags as overrides" layering.
func Load(path string, overlay *pflag.FlagSet) (*PipelineSpec, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: could not load %q: %w", path, err)
	}

	if overlay != nil {
		if err := k.Load(posflag.Provider(overlay, ".", k), nil); err != nil {
			return nil, fmt.Errorf("config: could not apply flag overrides: %w", err)
		}
	}

	var spec PipelineSpec
	if err := k.Unmarshal("", &spec); err != nil {
		return nil, fmt.Errorf("config: could not decode %q: %w", path, err)
	}

	return &spec, nil
}

// Build walks spec.Stages in order and assembles a Pipeline registered
// in reg (the process-wide default registry if reg is nil). Errors from
// engine.NewPipeline surface unchanged; errors from
// engine.Pipeline.AddStage (duplicate name, invalid regex) are wrapped
// with the stage name, so errors.Is still matches the engine sentinels.
func (spec *PipelineSpec) Build(reg *engine.Registry) (*engine.Pipeline, error) {
	p, err := engine.NewPipeline(spec.RootDir, reg)
	if err != nil {
		return nil, err
	}

	for _, st := range spec.Stages {
		if _, err := p.AddStage(st.Name, st.Executable, st.Opts, st.DataRegex, nil); err != nil {
			return nil, fmt.Errorf("config: stage %q: %w", st.Name, err)
		}
	}

	return p, nil
}
