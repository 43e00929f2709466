package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PipelineFile is the optional YAML document that overrides stage slot addresses
// and adds named material profiles.
//
//	stages:
//	  image:
//	    template: stage1_image.json
//	    prompt: "34:27"
//	    seeds: ["34:3"]
//	    outputs: ["9"]
//	materials:
//	  petg:
//	    density: 1.27
//	    costPerGram: 0.04
type PipelineFile struct {
	Stages          map[string]StageFile    `yaml:"stages"`
	Materials       map[string]MaterialFile `yaml:"materials"`
	DefaultMaterial string                  `yaml:"defaultMaterial"`
}

// StageFile mirrors the slot addresses a stage template exposes.
type StageFile struct {
	Template string   `yaml:"template"`
	Prompt   string   `yaml:"prompt"`
	Seeds    []string `yaml:"seeds"`
	Sampler  string   `yaml:"sampler"`
	Latent   string   `yaml:"latent"`
	Image    string   `yaml:"image"`
	Outputs  []string `yaml:"outputs"`
}

// MaterialFile is one filament profile. Omitted fields fall back to the service cost
// model; an explicit zero overrides it.
type MaterialFile struct {
	Density              *float64 `yaml:"density"`
	SetupFee             *float64 `yaml:"setupFee"`
	CostPerGram          *float64 `yaml:"costPerGram"`
	TimeSurchargePerGram *float64 `yaml:"timeSurchargePerGram"`
}

// LoadPipelineFile reads a pipeline YAML file. An empty path returns an empty file.
func LoadPipelineFile(path string) (*PipelineFile, error) {
	if path == "" {
		return &PipelineFile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline config: %w", err)
	}
	var pf PipelineFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline config %s: %w", path, err)
	}
	return &pf, nil
}
