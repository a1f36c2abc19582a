package extract

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/exp/maps"
	"gopkg.in/yaml.v3"
)

// Pipeline selects and orders the extractors a scheduler runs.
type Pipeline struct {
	Version    int             `yaml:"version"`
	Extractors []PipelineEntry `yaml:"extractors"`
}

type PipelineEntry struct {
	Name             string `yaml:"name"`
	DisablePerfBoost bool   `yaml:"disable_perf_boost"`
}

// ParsePipeline parses the given YAML document into a Pipeline.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var pipeline Pipeline
	if err := yaml.Unmarshal(data, &pipeline); err != nil {
		return nil, err
	}
	if err := pipeline.validate(); err != nil {
		return nil, err
	}
	return &pipeline, nil
}

func (p *Pipeline) validate() error {
	if p.Version != 1 {
		return fmt.Errorf("unsupported version: %d", p.Version)
	}
	if len(p.Extractors) == 0 {
		return errors.New("missing extractors")
	}
	seen := map[string]bool{}
	for _, entry := range p.Extractors {
		if entry.Name == "" {
			return errors.New("missing extractor name")
		}
		if seen[entry.Name] {
			return fmt.Errorf("duplicate extractor: %s", entry.Name)
		}
		seen[entry.Name] = true
	}
	return nil
}

// Registry registers the extractors named by the pipeline, in pipeline order,
// from the available ones.
func (p *Pipeline) Registry(available []Extractor) (*Registry, error) {
	byName := make(map[string]Extractor, len(available))
	for _, extractor := range available {
		byName[extractor.Name()] = extractor
	}
	extractors := make([]Extractor, 0, len(p.Extractors))
	var disabled []string
	for _, entry := range p.Extractors {
		extractor, ok := byName[entry.Name]
		if !ok {
			names := maps.Keys(byName)
			sort.Strings(names)
			return nil, fmt.Errorf("unknown extractor %s (available: %v)", entry.Name, names)
		}
		extractors = append(extractors, extractor)
		if entry.DisablePerfBoost {
			disabled = append(disabled, entry.Name)
		}
	}
	return NewRegistry(extractors, WithPerfBoostDisabled(disabled...))
}
