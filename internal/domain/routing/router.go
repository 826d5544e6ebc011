package routing

import "fmt"

// Strategy selects the model-picking policy.
type Strategy string

const (
	StrategyAuto          Strategy = "AUTO"
	StrategySpeed         Strategy = "SPEED"
	StrategyQuality       Strategy = "QUALITY"
	StrategyBalanced      Strategy = "BALANCED"
	StrategyCostOptimized Strategy = "COST_OPTIMIZED"
)

// UnavailableModelID is the sentinel primary used when no model is
// available anywhere. The execution engine treats it as fatal.
const UnavailableModelID = "unavailable"

var unavailableDescriptor = ModelDescriptor{
	ModelID:     UnavailableModelID,
	DisplayName: "unavailable",
	SpeedClass:  SpeedSlow,
}

// Decision is the immutable output of one routing call.
type Decision struct {
	Primary        string
	Fallbacks      []string
	Classification Classification
	Strategy       Strategy
	Reasoning      string
}

// Router turns a query plus operator policy into a Decision.
type Router struct {
	registry    *Registry
	strategy    Strategy
	preferences map[Complexity][]string
}

// NewRouter creates a router over registry. preferences may be nil.
func NewRouter(registry *Registry, strategy Strategy, preferences map[Complexity][]string) *Router {
	return &Router{
		registry:    registry,
		strategy:    strategy,
		preferences: preferences,
	}
}

// Route classifies the query and selects a primary model plus up to
// three fallbacks. It never fails; when nothing is available the
// decision references the unavailable sentinel.
func (r *Router) Route(query string, maxCost float64, hasAttachment bool) Decision {
	c := Classify(query, hasAttachment)
	primary, ok := r.selectPrimary(r.strategy, c, maxCost)
	if !ok {
		primary = unavailableDescriptor
	}

	fallbacks := make([]string, 0, 3)
	for _, d := range r.registry.AvailableByQuality() {
		if d.ModelID == primary.ModelID {
			continue
		}
		fallbacks = append(fallbacks, d.ModelID)
		if len(fallbacks) == 3 {
			break
		}
	}

	return Decision{
		Primary:        primary.ModelID,
		Fallbacks:      fallbacks,
		Classification: c,
		Strategy:       r.strategy,
		Reasoning: fmt.Sprintf("task: %s %s | strategy: %s | selected: %s | speed: %s",
			c.Complexity, c.Category, r.strategy, primary.DisplayName, primary.SpeedClass),
	}
}

func (r *Router) selectPrimary(s Strategy, c Classification, maxCost float64) (ModelDescriptor, bool) {
	cap := requiredCapability(c)

	switch s {
	case StrategySpeed:
		if d, ok := r.registry.FastestWith(cap); ok {
			return d, true
		}
		return r.registry.FastestWith("")

	case StrategyQuality:
		if d, ok := r.registry.BestQualityWith(cap, maxCost); ok {
			return d, true
		}
		if d, ok := r.registry.BestQualityWith("", maxCost); ok {
			return d, true
		}
		// Every available model is over budget; serving with any of
		// them beats refusing the request.
		return r.registry.FastestWith("")

	case StrategyCostOptimized:
		if d, ok := r.registry.CheapestWith(cap); ok {
			return d, true
		}
		return r.registry.CheapestWith("")

	case StrategyBalanced:
		switch c.Complexity {
		case ComplexityTrivial, ComplexitySimple:
			return r.selectPrimary(StrategySpeed, c, maxCost)
		case ComplexityComplex, ComplexityExpert:
			return r.selectPrimary(StrategyQuality, c, maxCost)
		}
		return r.selectPrimary(StrategyAuto, c, maxCost*0.7)

	default: // AUTO
		if preferred, ok := r.fromPreferences(c.Complexity, maxCost); ok {
			return preferred, true
		}
		switch c.Complexity {
		case ComplexityTrivial, ComplexitySimple:
			if d, ok := r.registry.FastestWith(cap); ok {
				return d, true
			}
		default:
			if d, ok := r.registry.BestQualityWith(cap, maxCost); ok {
				return d, true
			}
		}
		// Any available model beats none.
		return r.registry.FastestWith("")
	}
}

// fromPreferences honors the operator override list for a complexity
// bucket: first registered, available entry within budget wins.
func (r *Router) fromPreferences(c Complexity, maxCost float64) (ModelDescriptor, bool) {
	for _, id := range r.preferences[c] {
		d, ok := r.registry.Get(id)
		if ok && d.Available && d.Cost <= maxCost {
			return d, true
		}
	}
	return ModelDescriptor{}, false
}

// requiredCapability derives the strongest capability the query needs.
// Code dominates, then vision, then math, then reasoning for the heavy
// complexity buckets.
func requiredCapability(c Classification) Capability {
	switch {
	case c.RequiresCode:
		return CapCode
	case c.RequiresVision:
		return CapVision
	case c.RequiresMath:
		return CapMath
	case c.Complexity == ComplexityComplex || c.Complexity == ComplexityExpert:
		return CapReasoning
	}
	return CapGeneral
}
