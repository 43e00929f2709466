package pipeline

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"giftforge/internal/config"
	"giftforge/internal/engine"
	"giftforge/internal/workflow"
)

// Stage pairs a loaded template with the profile describing its slots.
type Stage struct {
	Profile  workflow.StageProfile
	Template *workflow.Template
}

// Slots returns the output slot ids the stage produces artifacts under.
func (s Stage) Slots() []engine.SlotID {
	out := make([]engine.SlotID, len(s.Profile.Outputs))
	for i, o := range s.Profile.Outputs {
		out[i] = engine.SlotID(o)
	}
	return out
}

// LoadStages loads the image and mesh templates from dir, applying any overrides
// from the pipeline file.
func LoadStages(dir string, pf *config.PipelineFile) (map[string]Stage, error) {
	profiles := []workflow.StageProfile{workflow.ImageStage(), workflow.MeshStage()}

	stages := make(map[string]Stage, len(profiles))
	for _, p := range profiles {
		if pf != nil {
			if override, ok := pf.Stages[p.Name]; ok {
				p = p.WithOverrides(override)
			}
		}
		tpl, err := workflow.LoadTemplate(filepath.Join(dir, p.Template))
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", p.Name, err)
		}
		for _, addr := range missingSlots(p, tpl) {
			slog.Warn("Stage slot not in template, binding will be skipped", "stage", p.Name, "template", tpl.Name(), "address", addr)
		}
		stages[p.Name] = Stage{Profile: p, Template: tpl}
	}
	return stages, nil
}

// missingSlots lists the profile's input and output addresses the template lacks.
func missingSlots(p workflow.StageProfile, tpl *workflow.Template) []workflow.NodeAddress {
	addrs := append([]workflow.NodeAddress{p.PromptAddress, p.SamplerAddress, p.LatentAddress, p.ImageAddress}, p.SeedAddresses...)
	for _, o := range p.Outputs {
		addrs = append(addrs, workflow.NodeAddress(o))
	}
	var missing []workflow.NodeAddress
	seen := make(map[workflow.NodeAddress]bool)
	for _, addr := range addrs {
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		if _, ok := tpl.Lookup(addr); !ok {
			missing = append(missing, addr)
		}
	}
	return missing
}
