package core

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParsePipeline parses YAML content into a Pipeline and validates it.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var pipeline Pipeline
	if err := yaml.Unmarshal(data, &pipeline); err != nil {
		return nil, fmt.Errorf("parsing pipeline: %w", err)
	}
	if err := pipeline.Validate(); err != nil {
		return nil, err
	}
	return &pipeline, nil
}

// LoadPipeline reads and parses the pipeline file at path.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline %s: %w", path, err)
	}
	return ParsePipeline(data)
}

// Validate checks the fields the runner depends on.
func (p *Pipeline) Validate() error {
	if p.PipelineID == "" {
		return errors.New("pipeline: pipelineId is required")
	}
	for i, stage := range p.Stages {
		for j, step := range stage.Steps {
			if step.Run == "" {
				return fmt.Errorf("pipeline: stage %d (%s) step %d has no run command", i+1, stage.Name, j+1)
			}
		}
	}
	return nil
}
