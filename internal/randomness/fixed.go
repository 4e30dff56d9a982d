package randomness

import (
	"sync"

	"kittycore/pkg/domain"
)

var _ domain.Randomness = (*Fixed)(nil)

// Fixed replays scripted outputs in order, repeating the last one once the
// script runs out. An empty script yields zero genes. Requests are recorded.
type Fixed struct {
	mu       sync.Mutex
	outputs  []domain.Genes
	next     int
	requests []domain.SeedMaterial
}

// NewFixed returns a stub that yields outputs in order.
func NewFixed(outputs ...domain.Genes) *Fixed {
	return &Fixed{outputs: outputs}
}

// Derive implements domain.Randomness.
func (f *Fixed) Derive(material domain.SeedMaterial) domain.Genes {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, material)
	if len(f.outputs) == 0 {
		return domain.Genes{}
	}
	i := f.next
	if i >= len(f.outputs) {
		i = len(f.outputs) - 1
	} else {
		f.next++
	}
	return f.outputs[i]
}

// Requests returns the seed material of every call so far.
func (f *Fixed) Requests() []domain.SeedMaterial {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SeedMaterial, len(f.requests))
	copy(out, f.requests)
	return out
}
