package workflow

import "math/rand/v2"

// Bindings maps node address to field to value.
type Bindings map[NodeAddress]map[string]any

// Set records value for field at addr. A later Set for the same field wins.
func (b Bindings) Set(addr NodeAddress, field string, value any) Bindings {
	if addr == "" {
		return b
	}
	fields, ok := b[addr]
	if !ok {
		fields = make(map[string]any)
		b[addr] = fields
	}
	fields[field] = value
	return b
}

// NewSeed returns a uniformly random seed over the full unsigned 64-bit range.
func NewSeed() uint64 {
	return rand.Uint64()
}
