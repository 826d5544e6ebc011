package routing

import (
	"sort"
	"sync"
)

// Capability is a coarse model skill tag.
type Capability string

const (
	CapGeneral   Capability = "GENERAL"
	CapCode      Capability = "CODE"
	CapMath      Capability = "MATH"
	CapReasoning Capability = "REASONING"
	CapVision    Capability = "VISION"
	CapSpeed     Capability = "SPEED"
)

// SpeedClass buckets expected generation latency.
type SpeedClass string

const (
	SpeedInstant  SpeedClass = "INSTANT"
	SpeedFast     SpeedClass = "FAST"
	SpeedBalanced SpeedClass = "BALANCED"
	SpeedSlow     SpeedClass = "SLOW"
)

var speedRank = map[SpeedClass]int{
	SpeedInstant:  0,
	SpeedFast:     1,
	SpeedBalanced: 2,
	SpeedSlow:     3,
}

// ModelDescriptor describes a routable model. Immutable after
// registration except for the availability flag, which the registry
// owns.
type ModelDescriptor struct {
	ModelID       string
	DisplayName   string
	BackendID     string
	APIModelName  string
	Capabilities  []Capability
	SpeedClass    SpeedClass
	ParameterSize string
	ContextWindow int
	Cost          float64
	QualityScore  float64
	Available     bool
}

// HasCapability reports whether the descriptor carries cap.
func (d ModelDescriptor) HasCapability(cap Capability) bool {
	for _, c := range d.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Registry is the catalog of registered models.
type Registry struct {
	mu     sync.RWMutex
	models map[string]ModelDescriptor
}

// NewRegistry creates an empty model registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]ModelDescriptor)}
}

// Register adds or replaces a descriptor under its ModelID.
func (r *Registry) Register(d ModelDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[d.ModelID] = d
}

// Get looks up a descriptor by model id.
func (r *Registry) Get(modelID string) (ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.models[modelID]
	return d, ok
}

// List returns all descriptors ordered by model id.
func (r *Registry) List() []ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelDescriptor, 0, len(r.models))
	for _, d := range r.models {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// SetAvailable flips the availability flag of a registered model.
func (r *Registry) SetAvailable(modelID string, available bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.models[modelID]
	if !ok {
		return false
	}
	d.Available = available
	r.models[modelID] = d
	return true
}

// FastestWith returns the fastest available model carrying cap (any
// capability when cap is empty). Ordering: speed class, then ascending
// cost, then lexicographic model id. Returns false when nothing
// matches.
func (r *Registry) FastestWith(cap Capability) (ModelDescriptor, bool) {
	return r.pick(cap, -1, func(a, b ModelDescriptor) bool {
		if speedRank[a.SpeedClass] != speedRank[b.SpeedClass] {
			return speedRank[a.SpeedClass] < speedRank[b.SpeedClass]
		}
		if a.Cost != b.Cost {
			return a.Cost < b.Cost
		}
		return a.ModelID < b.ModelID
	})
}

// BestQualityWith returns the highest-quality available model carrying
// cap with cost not exceeding maxCost. Ordering: descending quality,
// then ascending cost, then lexicographic model id.
func (r *Registry) BestQualityWith(cap Capability, maxCost float64) (ModelDescriptor, bool) {
	return r.pick(cap, maxCost, func(a, b ModelDescriptor) bool {
		if a.QualityScore != b.QualityScore {
			return a.QualityScore > b.QualityScore
		}
		if a.Cost != b.Cost {
			return a.Cost < b.Cost
		}
		return a.ModelID < b.ModelID
	})
}

// CheapestWith returns the cheapest available model carrying cap.
// Ties break by descending quality, then lexicographic model id.
func (r *Registry) CheapestWith(cap Capability) (ModelDescriptor, bool) {
	return r.pick(cap, -1, func(a, b ModelDescriptor) bool {
		if a.Cost != b.Cost {
			return a.Cost < b.Cost
		}
		if a.QualityScore != b.QualityScore {
			return a.QualityScore > b.QualityScore
		}
		return a.ModelID < b.ModelID
	})
}

// AvailableByQuality returns available models ordered by descending
// quality score, ties by lexicographic model id.
func (r *Registry) AvailableByQuality() []ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelDescriptor, 0, len(r.models))
	for _, d := range r.models {
		if d.Available {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QualityScore != out[j].QualityScore {
			return out[i].QualityScore > out[j].QualityScore
		}
		return out[i].ModelID < out[j].ModelID
	})
	return out
}

func (r *Registry) pick(cap Capability, maxCost float64, less func(a, b ModelDescriptor) bool) (ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best ModelDescriptor
	found := false
	for _, d := range r.models {
		if !d.Available {
			continue
		}
		if cap != "" && !d.HasCapability(cap) {
			continue
		}
		if maxCost >= 0 && d.Cost > maxCost {
			continue
		}
		if !found || less(d, best) {
			best = d
			found = true
		}
	}
	return best, found
}
