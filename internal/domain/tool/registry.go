package tool

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stats are the mutable per-tool execution counters.
type Stats struct {
	Attempts         int64
	Successes        int64
	Failures         int64
	TotalSuccessMs   int64
	LastInvocationAt time.Time
}

// SuccessRate returns successes over attempts, 0 with no attempts.
func (s Stats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// LoadFailure records a tool that could not be registered. Failures
// never abort registry creation.
type LoadFailure struct {
	Name   string
	Source string
	Err    error
}

// HealthReport flags tools that were never executed and tools with a
// poor success rate over a meaningful sample.
type HealthReport struct {
	NeverExecuted  []string
	LowSuccessRate []string
}

const (
	healthMinExecutions  = 10
	healthMinSuccessRate = 0.5
)

// Registry holds tools, their descriptors and execution stats.
type Registry struct {
	mu           sync.RWMutex
	tools        map[string]Tool
	stats        map[string]*Stats
	loadFailures []LoadFailure
	logger       *zap.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		stats:  make(map[string]*Stats),
		logger: logger.With(zap.String("component", "tool_registry")),
	}
}

// Register adds a tool. Duplicate names are recorded as load failures.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		r.loadFailures = append(r.loadFailures, LoadFailure{
			Name: name, Source: "register", Err: fmt.Errorf("duplicate tool name %q", name),
		})
		r.logger.Warn("duplicate tool registration", zap.String("tool", name))
		return
	}
	r.tools[name] = t
	r.stats[name] = &Stats{}
	r.logger.Debug("tool registered", zap.String("tool", name), zap.String("category", t.Category()))
}

// RecordLoadFailure notes a tool that failed to construct.
func (r *Registry) RecordLoadFailure(name, source string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadFailures = append(r.loadFailures, LoadFailure{Name: name, Source: source, Err: err})
	r.logger.Warn("tool load failed", zap.String("tool", name), zap.String("source", source), zap.Error(err))
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns every descriptor ordered by tool name.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, DescriptorOf(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByCategory returns descriptors in one category, ordered by name.
func (r *Registry) ByCategory(category string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Descriptor
	for _, t := range r.tools {
		if t.Category() == category {
			out = append(out, DescriptorOf(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate checks that every declared-required parameter is present.
func (r *Registry) Validate(name string, args map[string]any) (bool, string) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return false, fmt.Sprintf("tool %q not found", name)
	}
	for _, p := range t.Parameters() {
		if !p.Required {
			continue
		}
		if _, present := args[p.Name]; !present {
			return false, fmt.Sprintf("missing required parameter %q", p.Name)
		}
	}
	return true, ""
}

// RecordExecution updates the tool's counters after an invocation.
func (r *Registry) RecordExecution(name string, success bool, elapsedMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[name]
	if !ok {
		return
	}
	s.Attempts++
	s.LastInvocationAt = time.Now()
	if success {
		s.Successes++
		s.TotalSuccessMs += elapsedMs
	} else {
		s.Failures++
	}
}

// StatsFor returns a copy of one tool's counters.
func (r *Registry) StatsFor(name string) (Stats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stats[name]
	if !ok {
		return Stats{}, false
	}
	return *s, true
}

// LoadFailures returns a copy of all recorded load failures.
func (r *Registry) LoadFailures() []LoadFailure {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]LoadFailure(nil), r.loadFailures...)
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Health lists never-executed tools and tools with at least ten
// executions below a 50% success rate.
func (r *Registry) Health() HealthReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var report HealthReport
	for name, s := range r.stats {
		if s.Attempts == 0 {
			report.NeverExecuted = append(report.NeverExecuted, name)
			continue
		}
		if s.Attempts >= healthMinExecutions && s.SuccessRate() < healthMinSuccessRate {
			report.LowSuccessRate = append(report.LowSuccessRate, name)
		}
	}
	sort.Strings(report.NeverExecuted)
	sort.Strings(report.LowSuccessRate)
	return report
}
