package llm

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// FailureKind tags a generate-call failure.
type FailureKind string

const (
	FailTimeout     FailureKind = "TIMEOUT"
	FailTransport   FailureKind = "TRANSPORT"
	FailAuth        FailureKind = "AUTH"
	FailBadRequest  FailureKind = "BAD_REQUEST"
	FailServerError FailureKind = "SERVER_ERROR"
	FailUnavailable FailureKind = "UNAVAILABLE"
	// FailCancelled marks a caller-driven abort; it never counts
	// against a breaker.
	FailCancelled FailureKind = "CANCELLED"
)

// CountsForBreaker reports whether the kind signals backend ill health.
// Caller errors (AUTH, BAD_REQUEST) do not trip the circuit.
func (k FailureKind) CountsForBreaker() bool {
	switch k {
	case FailTimeout, FailTransport, FailServerError:
		return true
	}
	return false
}

// BackendError is the failure a backend returns from Generate.
type BackendError struct {
	Backend string
	Kind    FailureKind
	Status  int
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Backend, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Backend, e.Kind, e.Message)
}

func (e *BackendError) Unwrap() error { return e.Err }

// GenerateRequest carries one generation call to a backend.
type GenerateRequest struct {
	ModelName    string
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// GenerateResult is a successful generation.
type GenerateResult struct {
	Text      string
	Tokens    int
	ElapsedMs int64
}

// Backend is the uniform adapter contract over one LLM server.
// Implementations must be safe for concurrent use.
type Backend interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	IsAvailable(ctx context.Context) bool
	Name() string
	Close() error
}

// Config is what a factory needs to construct a backend.
type Config struct {
	BackendID string
	BaseURL   string
	Logger    *zap.Logger
}

// Factory constructs a backend from config. API keys are read from
// the environment at construction; a missing key fails the factory.
type Factory func(cfg Config) (Backend, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory installs a backend factory under backendType.
// Backend packages call this from init().
func RegisterFactory(backendType string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[backendType] = f
}

// NewBackend constructs a backend of the given type.
func NewBackend(backendType string, cfg Config) (Backend, error) {
	factoriesMu.RLock()
	f, ok := factories[backendType]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend type %q", backendType)
	}
	return f(cfg)
}

// RegisteredTypes lists all installed factory types.
func RegisteredTypes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for t := range factories {
		out = append(out, t)
	}
	return out
}
