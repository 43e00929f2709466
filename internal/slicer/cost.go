package slicer

import (
	"fmt"
	"math"
	"sort"

	"giftforge/internal/config"
)

// CostModel is the linear quote model:
//
//	weight = volume * Density
//	price  = SetupFee + CostPerGram*weight + TimeSurchargePerGram*weight
type CostModel struct {
	Density              float64 // g/cm3
	SetupFee             float64
	CostPerGram          float64
	TimeSurchargePerGram float64
}

// DefaultCostModel is PLA at the original shop rates.
func DefaultCostModel() CostModel {
	return CostModel{
		Density:              1.24,
		SetupFee:             2.00,
		CostPerGram:          0.03,
		TimeSurchargePerGram: 0.05,
	}
}

// Validate rejects models that could price a heavier part below a lighter one.
func (m CostModel) Validate() error {
	if m.Density <= 0 {
		return fmt.Errorf("density must be positive, got %v", m.Density)
	}
	if m.SetupFee < 0 || m.CostPerGram < 0 || m.TimeSurchargePerGram < 0 {
		return fmt.Errorf("cost coefficients must not be negative")
	}
	return nil
}

// Weight converts filament volume in cm3 to grams, rounded to 0.1 g.
func (m CostModel) Weight(volumeCM3 float64) float64 {
	if volumeCM3 <= 0 {
		return 0
	}
	return math.Round(volumeCM3*m.Density*10) / 10
}

// Price quotes a part of the given weight, rounded to cents.
func (m CostModel) Price(weightGrams float64) float64 {
	if weightGrams < 0 {
		weightGrams = 0
	}
	p := m.SetupFee + m.CostPerGram*weightGrams + m.TimeSurchargePerGram*weightGrams
	return math.Round(p*100) / 100
}

// merge overlays the fields a material profile sets, zeros included.
func (m CostModel) merge(f config.MaterialFile) CostModel {
	overlay := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	overlay(&m.Density, f.Density)
	overlay(&m.SetupFee, f.SetupFee)
	overlay(&m.CostPerGram, f.CostPerGram)
	overlay(&m.TimeSurchargePerGram, f.TimeSurchargePerGram)
	return m
}

// Materials is a set of named cost models with a default.
type Materials struct {
	base        CostModel
	byName      map[string]CostModel
	defaultName string
}

// NewMaterials builds material profiles on top of base. Each profile inherits the
// base fields it leaves unset.
func NewMaterials(base CostModel, files map[string]config.MaterialFile, defaultName string) (*Materials, error) {
	if err := base.Validate(); err != nil {
		return nil, fmt.Errorf("base cost model: %w", err)
	}
	m := &Materials{base: base, byName: make(map[string]CostModel, len(files)), defaultName: defaultName}
	for name, f := range files {
		model := base.merge(f)
		if err := model.Validate(); err != nil {
			return nil, fmt.Errorf("material %s: %w", name, err)
		}
		m.byName[name] = model
	}
	if defaultName != "" {
		if _, ok := m.byName[defaultName]; !ok {
			return nil, fmt.Errorf("default material %q is not defined", defaultName)
		}
	}
	return m, nil
}

// Lookup returns the model for name. An empty name selects the default.
func (m *Materials) Lookup(name string) (CostModel, bool) {
	if name == "" {
		name = m.defaultName
	}
	if name == "" {
		return m.base, true
	}
	model, ok := m.byName[name]
	return model, ok
}

// Names lists the configured material names.
func (m *Materials) Names() []string {
	names := make([]string, 0, len(m.byName))
	for name := range m.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
