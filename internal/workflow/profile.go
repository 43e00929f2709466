package workflow

import (
	"giftforge/internal/config"
)

// Parameter field names used by the engine's stock nodes.
const (
	FieldText   = "text"
	FieldSeed   = "seed"
	FieldCFG    = "cfg"
	FieldSteps  = "steps"
	FieldWidth  = "width"
	FieldHeight = "height"
	FieldImage  = "image"
)

// StageProfile names the template a stage uses and where its dynamic slots live.
type StageProfile struct {
	Name           string
	Template       string
	PromptAddress  NodeAddress
	SeedAddresses  []NodeAddress
	SamplerAddress NodeAddress
	LatentAddress  NodeAddress
	ImageAddress   NodeAddress
	Outputs        []string
}

// Params are the per-request values a stage may inject.
// Zero values leave the template's own setting untouched.
type Params struct {
	Prompt   string
	Image    string
	Guidance float64
	Steps    int
	Width    int
	Height   int
}

// ImageStage is the text-to-image profile.
func ImageStage() StageProfile {
	return StageProfile{
		Name:           "image",
		Template:       "stage1_image.json",
		PromptAddress:  "34:27",
		SeedAddresses:  []NodeAddress{"34:3"},
		SamplerAddress: "34:3",
		LatentAddress:  "34:13",
		Outputs:        []string{"9"},
	}
}

// MeshStage is the image-to-mesh profile.
func MeshStage() StageProfile {
	return StageProfile{
		Name:           "mesh",
		Template:       "stage2_3d.json",
		SeedAddresses:  []NodeAddress{"7"},
		SamplerAddress: "7",
		ImageAddress:   "2",
		Outputs:        []string{"10"},
	}
}

// Bindings converts request parameters into slot bindings with a fresh seed.
func (p StageProfile) Bindings(params Params) Bindings {
	b := Bindings{}
	if params.Prompt != "" {
		b.Set(p.PromptAddress, FieldText, params.Prompt)
	}
	if params.Image != "" {
		b.Set(p.ImageAddress, FieldImage, params.Image)
	}
	for _, addr := range p.SeedAddresses {
		b.Set(addr, FieldSeed, NewSeed())
	}
	if params.Guidance > 0 {
		b.Set(p.SamplerAddress, FieldCFG, params.Guidance)
	}
	if params.Steps > 0 {
		b.Set(p.SamplerAddress, FieldSteps, params.Steps)
	}
	if params.Width > 0 {
		b.Set(p.LatentAddress, FieldWidth, params.Width)
	}
	if params.Height > 0 {
		b.Set(p.LatentAddress, FieldHeight, params.Height)
	}
	return b
}

// WithOverrides applies the non-empty fields of a pipeline file stage.
func (p StageProfile) WithOverrides(f config.StageFile) StageProfile {
	if f.Template != "" {
		p.Template = f.Template
	}
	if f.Prompt != "" {
		p.PromptAddress = NodeAddress(f.Prompt)
	}
	if len(f.Seeds) > 0 {
		p.SeedAddresses = make([]NodeAddress, len(f.Seeds))
		for i, s := range f.Seeds {
			p.SeedAddresses[i] = NodeAddress(s)
		}
	}
	if f.Sampler != "" {
		p.SamplerAddress = NodeAddress(f.Sampler)
	}
	if f.Latent != "" {
		p.LatentAddress = NodeAddress(f.Latent)
	}
	if f.Image != "" {
		p.ImageAddress = NodeAddress(f.Image)
	}
	if len(f.Outputs) > 0 {
		p.Outputs = append([]string(nil), f.Outputs...)
	}
	return p
}
