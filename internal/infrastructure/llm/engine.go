package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pocketportal/pocketportal/internal/domain/entity"
	"github.com/pocketportal/pocketportal/internal/domain/routing"
	"github.com/pocketportal/pocketportal/internal/infrastructure/eventbus"
)

// DefaultGenerateTimeout bounds one generate attempt.
const DefaultGenerateTimeout = 60 * time.Second

// EventPublisher is the slice of the event bus the engine needs.
type EventPublisher interface {
	Publish(eventbus.Event)
}

// ExecuteRequest is one end-to-end generation request.
type ExecuteRequest struct {
	Query         string
	SystemPrompt  string
	MaxTokens     int
	Temperature   float64
	MaxCost       float64
	HasAttachment bool
	ChatID        string
	TraceID       string
}

// backendStats tracks per-backend call outcomes.
type backendStats struct {
	calls          int64
	successes      int64
	failures       int64
	totalLatencyMs int64
	lastUsed       time.Time
}

// Engine walks a routing chain against registered backends, guarded by
// per-backend circuit breakers. Safe for concurrent use.
type Engine struct {
	registry *routing.Registry
	router   *routing.Router
	backends map[string]Backend

	breakersMu sync.Mutex
	breakers   map[string]*CircuitBreaker

	statsMu sync.Mutex
	stats   map[string]*backendStats

	availability *availabilityCache
	events       EventPublisher

	generateTimeout  time.Duration
	failureThreshold int
	openDuration     time.Duration
	logger           *zap.Logger
}

// EngineOptions tunes engine timeouts and breaker parameters. Zero
// values select the defaults.
type EngineOptions struct {
	GenerateTimeout  time.Duration
	FailureThreshold int
	OpenDuration     time.Duration
	AvailabilityTTL  time.Duration
}

// NewEngine creates an engine over the given backends, keyed by
// backend id. events may be nil.
func NewEngine(registry *routing.Registry, router *routing.Router, backends map[string]Backend, events EventPublisher, opts EngineOptions, logger *zap.Logger) *Engine {
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = DefaultGenerateTimeout
	}
	return &Engine{
		registry:         registry,
		router:           router,
		backends:         backends,
		breakers:         make(map[string]*CircuitBreaker),
		stats:            make(map[string]*backendStats),
		availability:     newAvailabilityCache(opts.AvailabilityTTL),
		events:           events,
		generateTimeout:  opts.GenerateTimeout,
		failureThreshold: opts.FailureThreshold,
		openDuration:     opts.OpenDuration,
		logger:           logger.With(zap.String("component", "execution_engine")),
	}
}

// Execute routes the query and walks the chain until a model succeeds
// or the chain is exhausted. It never returns an error; failures are
// carried in the result.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) *entity.ExecutionResult {
	started := time.Now()

	decision := e.router.Route(req.Query, req.MaxCost, req.HasAttachment)
	e.publish(eventbus.RoutingDecision, req, map[string]any{
		"primary":    decision.Primary,
		"fallbacks":  decision.Fallbacks,
		"strategy":   string(decision.Strategy),
		"complexity": string(decision.Classification.Complexity),
		"category":   string(decision.Classification.Category),
		"reasoning":  decision.Reasoning,
	})

	if decision.Primary == routing.UnavailableModelID {
		return &entity.ExecutionResult{
			Success:     false,
			ErrorKind:   entity.KindAllModelsFailed,
			ErrorDetail: "no model is available",
			ElapsedMs:   time.Since(started).Milliseconds(),
		}
	}

	chain := append([]string{decision.Primary}, decision.Fallbacks...)
	var diagnostics []string
	fallbacksUsed := 0

	for idx, modelID := range chain {
		if err := ctx.Err(); err != nil {
			return e.cancelled(started, fallbacksUsed, diagnostics)
		}

		desc, ok := e.registry.Get(modelID)
		if !ok {
			diagnostics = append(diagnostics, fmt.Sprintf("%s: not in registry", modelID))
			continue
		}
		backend, ok := e.backends[desc.BackendID]
		if !ok {
			diagnostics = append(diagnostics, fmt.Sprintf("%s: backend %q not configured", modelID, desc.BackendID))
			continue
		}

		cb := e.breaker(desc.BackendID)
		if cb.State() == StateOpen {
			diagnostics = append(diagnostics, fmt.Sprintf("%s: %s", modelID, entity.KindBackendOpen))
			continue
		}
		if !e.availability.check(ctx, backend) {
			// Unreachable is not a failure against the breaker.
			diagnostics = append(diagnostics, fmt.Sprintf("%s: %s", modelID, entity.KindBackendUnavailable))
			continue
		}
		if !cb.Allow() {
			diagnostics = append(diagnostics, fmt.Sprintf("%s: %s", modelID, entity.KindBackendOpen))
			continue
		}

		e.publish(eventbus.ModelGenerating, req, map[string]any{
			"model_id": modelID,
			"backend":  desc.BackendID,
			"attempt":  idx,
		})

		result, err := e.attempt(ctx, backend, desc, req)
		if err == nil {
			cb.RecordSuccess()
			e.recordStats(desc.BackendID, true, result.ElapsedMs)
			return &entity.ExecutionResult{
				Success:       true,
				Text:          result.Text,
				ModelUsed:     desc.DisplayName,
				Tokens:        result.Tokens,
				ElapsedMs:     time.Since(started).Milliseconds(),
				FallbacksUsed: idx,
			}
		}

		kind := classifyError(err)
		if kind == entity.KindCancelled {
			// Caller-driven abort: release the breaker slot without
			// judging backend health.
			cb.RecordFailure(FailCancelled)
			return e.cancelled(started, fallbacksUsed, diagnostics)
		}

		cb.RecordFailure(FailureKind(kind))
		e.recordStats(desc.BackendID, false, 0)
		fallbacksUsed++
		diagnostics = append(diagnostics, fmt.Sprintf("%s: %s: %v", modelID, kind, err))
		e.logger.Warn("model attempt failed",
			zap.String("model_id", modelID),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}

	return &entity.ExecutionResult{
		Success:       false,
		ErrorKind:     entity.KindAllModelsFailed,
		ErrorDetail:   strings.Join(diagnostics, "; "),
		ElapsedMs:     time.Since(started).Milliseconds(),
		FallbacksUsed: fallbacksUsed,
	}
}

// Route exposes the router decision without executing, for diagnostics.
func (e *Engine) Route(query string, maxCost float64, hasAttachment bool) routing.Decision {
	return e.router.Route(query, maxCost, hasAttachment)
}

// BreakerSnapshots returns the state of every breaker created so far.
func (e *Engine) BreakerSnapshots() []BreakerSnapshot {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	out := make([]BreakerSnapshot, 0, len(e.breakers))
	for _, cb := range e.breakers {
		out = append(out, cb.Snapshot())
	}
	return out
}

// Status reports per-backend call statistics.
func (e *Engine) Status() map[string]map[string]any {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	out := make(map[string]map[string]any, len(e.stats))
	for id, s := range e.stats {
		avg := int64(0)
		if s.successes > 0 {
			avg = s.totalLatencyMs / s.successes
		}
		out[id] = map[string]any{
			"calls":          s.calls,
			"successes":      s.successes,
			"failures":       s.failures,
			"avg_latency_ms": avg,
			"last_used":      s.lastUsed,
		}
	}
	return out
}

// Backends returns the configured adapters keyed by backend id.
func (e *Engine) Backends() map[string]Backend {
	return e.backends
}

// CheckAvailability probes one backend through the cache.
func (e *Engine) CheckAvailability(ctx context.Context, backendID string) bool {
	b, ok := e.backends[backendID]
	if !ok {
		return false
	}
	return e.availability.check(ctx, b)
}

// Close releases all backend transports.
func (e *Engine) Close() {
	for id, b := range e.backends {
		if err := b.Close(); err != nil {
			e.logger.Warn("backend close failed", zap.String("backend", id), zap.Error(err))
		}
	}
}

func (e *Engine) attempt(ctx context.Context, backend Backend, desc routing.ModelDescriptor, req ExecuteRequest) (*GenerateResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.generateTimeout)
	defer cancel()

	return backend.Generate(attemptCtx, GenerateRequest{
		ModelName:    desc.APIModelName,
		Prompt:       req.Query,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
	})
}

func (e *Engine) cancelled(started time.Time, fallbacksUsed int, diagnostics []string) *entity.ExecutionResult {
	return &entity.ExecutionResult{
		Success:       false,
		ErrorKind:     entity.KindCancelled,
		ErrorDetail:   strings.Join(diagnostics, "; "),
		ElapsedMs:     time.Since(started).Milliseconds(),
		FallbacksUsed: fallbacksUsed,
	}
}

func (e *Engine) breaker(backendID string) *CircuitBreaker {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	cb, ok := e.breakers[backendID]
	if !ok {
		cb = NewCircuitBreaker(backendID, e.failureThreshold, e.openDuration, e.logger)
		e.breakers[backendID] = cb
	}
	return cb
}

func (e *Engine) recordStats(backendID string, success bool, latencyMs int64) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	s, ok := e.stats[backendID]
	if !ok {
		s = &backendStats{}
		e.stats[backendID] = s
	}
	s.calls++
	s.lastUsed = time.Now()
	if success {
		s.successes++
		s.totalLatencyMs += latencyMs
	} else {
		s.failures++
	}
}

func (e *Engine) publish(t eventbus.EventType, req ExecuteRequest, payload map[string]any) {
	if e.events == nil {
		return
	}
	e.events.Publish(eventbus.Event{
		Type:    t,
		ChatID:  req.ChatID,
		TraceID: req.TraceID,
		Payload: payload,
	})
}

// classifyError maps an attempt error to the boundary taxonomy.
func classifyError(err error) entity.ErrorKind {
	var be *BackendError
	if errors.As(err, &be) {
		switch be.Kind {
		case FailTimeout:
			return entity.KindTimeout
		case FailTransport:
			return entity.KindTransport
		case FailAuth:
			return entity.KindAuth
		case FailBadRequest:
			return entity.KindBadRequest
		case FailUnavailable:
			return entity.KindBackendUnavailable
		default:
			return entity.KindServerError
		}
	}
	if errors.Is(err, context.Canceled) {
		return entity.KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return entity.KindTimeout
	}
	return entity.KindTransport
}
