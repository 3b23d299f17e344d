// Package pipeline loads, validates, and executes document processing
// pipelines built from registered stages plus the compose and chunk
// meta-stages.
package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StageSpec is one node of a pipeline configuration tree. Children is present
// only for the compose and chunk meta-stages.
type StageSpec struct {
	Capability string         `yaml:"capability" json:"capability"`
	Backend    string         `yaml:"backend,omitempty"    json:"backend,omitempty"`
	Params     map[string]any `yaml:"params,omitempty"     json:"params,omitempty"`
	Children   []StageSpec    `yaml:"children,omitempty"   json:"children,omitempty"`
}

// Spec is an ordered list of stage descriptors. Loaded once per deployment;
// immutable at runtime.
type Spec struct {
	Pipeline []StageSpec `yaml:"pipeline" json:"pipeline"`
}

// LoadSpecFile reads and parses a pipeline spec from a YAML file.
func LoadSpecFile(path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline spec: %w", err)
	}
	return ParseSpec(raw)
}

// ParseSpec parses a YAML pipeline spec.
func ParseSpec(raw []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parse pipeline spec: %w", err)
	}
	if len(spec.Pipeline) == 0 {
		return nil, fmt.Errorf("pipeline spec has no stages")
	}
	return &spec, nil
}
