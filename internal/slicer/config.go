package slicer

import (
	"time"

	"giftforge/internal/config"
)

// Runtime selects how the slicer binary is launched.
type Runtime string

const (
	RuntimeExec   Runtime = "exec"
	RuntimeDocker Runtime = "docker"
)

// Config holds slicing settings.
type Config struct {
	Path      string // slicer executable; inside the image for the docker runtime
	Profile   string // host path of the profile passed with --load; mounted read-only by the docker runtime
	WorkDir   string
	Timeout   time.Duration
	BedCenter string // "X,Y" in millimetres
	Runtime   Runtime
	Image     string
	Cost      CostModel
}

// LoadConfigFromEnv loads slicer configuration from environment variables.
func LoadConfigFromEnv() Config {
	def := DefaultCostModel()
	return Config{
		Path:      config.GetEnv("SLICER_PATH", "prusa-slicer"),
		Profile:   config.GetEnv("SLICER_CONFIG", "config.ini"),
		WorkDir:   config.GetEnv("SLICER_WORK_DIR", "./slices"),
		Timeout:   config.GetDurationEnv("SLICER_TIMEOUT", 5*time.Minute),
		BedCenter: config.GetEnv("SLICER_BED_CENTER", "125,105"),
		Runtime:   Runtime(config.GetEnv("SLICER_RUNTIME", string(RuntimeExec))),
		Image:     config.GetEnv("SLICER_IMAGE", ""),
		Cost: CostModel{
			Density:              config.GetFloatEnv("MATERIAL_DENSITY", def.Density),
			SetupFee:             config.GetFloatEnv("SETUP_FEE", def.SetupFee),
			CostPerGram:          config.GetFloatEnv("COST_PER_GRAM", def.CostPerGram),
			TimeSurchargePerGram: config.GetFloatEnv("TIME_SURCHARGE_PER_GRAM", def.TimeSurchargePerGram),
		},
	}
}
