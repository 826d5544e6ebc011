package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pocketportal/pocketportal/internal/domain/contextmgr"
	"github.com/pocketportal/pocketportal/internal/domain/entity"
	"github.com/pocketportal/pocketportal/internal/domain/routing"
	"github.com/pocketportal/pocketportal/internal/domain/service"
	domaintool "github.com/pocketportal/pocketportal/internal/domain/tool"
	"github.com/pocketportal/pocketportal/internal/domain/valueobject"
	"github.com/pocketportal/pocketportal/internal/infrastructure/eventbus"
	"github.com/pocketportal/pocketportal/internal/infrastructure/llm"
	"github.com/pocketportal/pocketportal/internal/infrastructure/monitoring"
	"github.com/pocketportal/pocketportal/internal/infrastructure/prompt"
)

// DefaultProcessTimeout is the overall ceiling on one processMessage
// call, covering routing, generation and fallbacks.
const DefaultProcessTimeout = 400 * time.Second

const historyWindow = 10

// ExecutionEngine is the slice of the engine the orchestrator uses.
type ExecutionEngine interface {
	Execute(ctx context.Context, req llm.ExecuteRequest) *entity.ExecutionResult
	BreakerSnapshots() []llm.BreakerSnapshot
	Status() map[string]map[string]any
	Backends() map[string]llm.Backend
	CheckAvailability(ctx context.Context, backendID string) bool
}

// EventPublisher is the slice of the event bus the orchestrator uses.
type EventPublisher interface {
	Publish(eventbus.Event)
	Recent(n int) []eventbus.Event
	Stats() map[string]int64
}

// GenerationDefaults are applied to every execute call.
type GenerationDefaults struct {
	MaxTokens   int
	Temperature float64
	MaxCost     float64
}

// HealthReport is the healthCheck result.
type HealthReport struct {
	Status               string                `json:"status"` // healthy, degraded, unhealthy
	Backends             map[string]bool       `json:"backends"`
	Circuits             []llm.BreakerSnapshot `json:"circuits"`
	Models               int                   `json:"models"`
	Tools                int                   `json:"tools"`
	PendingConfirmations int                   `json:"pending_confirmations"`
	ActiveChats          int                   `json:"active_chats"`
}

// Orchestrator is the single entry point interface adapters talk to.
type Orchestrator struct {
	contexts      *contextmgr.Manager
	prompts       *prompt.Manager
	tools         *domaintool.Registry
	models        *routing.Registry
	confirmations *service.ConfirmationMiddleware
	engine        ExecutionEngine
	events        EventPublisher
	monitor       *monitoring.Monitor

	defaults       GenerationDefaults
	processTimeout time.Duration
	logger         *zap.Logger
}

// NewOrchestrator wires the processing pipeline. confirmations may be
// nil; confirmation-gated tools then run without a human gate.
func NewOrchestrator(
	contexts *contextmgr.Manager,
	prompts *prompt.Manager,
	tools *domaintool.Registry,
	models *routing.Registry,
	confirmations *service.ConfirmationMiddleware,
	engine ExecutionEngine,
	events EventPublisher,
	monitor *monitoring.Monitor,
	defaults GenerationDefaults,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		contexts:       contexts,
		prompts:        prompts,
		tools:          tools,
		models:         models,
		confirmations:  confirmations,
		engine:         engine,
		events:         events,
		monitor:        monitor,
		defaults:       defaults,
		processTimeout: DefaultProcessTimeout,
		logger:         logger.With(zap.String("component", "orchestrator")),
	}
}

// ProcessMessage runs one request end to end. It never returns an
// error; failures are carried in the result with a human-readable
// response.
func (o *Orchestrator) ProcessMessage(ctx context.Context, chatID, message string, tag valueobject.InterfaceType, userCtx valueobject.UserContext) *entity.ProcessingResult {
	started := time.Now()

	if chatID == "" || strings.TrimSpace(message) == "" {
		return &entity.ProcessingResult{
			Success:   false,
			ChatID:    chatID,
			ErrorKind: entity.KindValidation,
			Response:  entity.KindValidation.UserMessage(),
		}
	}

	traceID := service.NewTraceID()
	ctx, cancel := context.WithTimeout(ctx, o.processTimeout)
	defer cancel()

	o.publish(eventbus.ProcessingStarted, chatID, traceID, map[string]any{
		"interface": string(tag),
		"length":    len(message),
	})

	history := o.contexts.History(chatID, historyWindow)
	o.publish(eventbus.ContextLoaded, chatID, traceID, map[string]any{
		"messages": len(history),
	})

	// The user's message is persisted before anything that can fail.
	o.contexts.Append(chatID, entity.NewUserMessage(message, string(tag)))

	systemPrompt := o.prompts.Render(tag, userCtx.Preferences, o.toolsSummary())

	exec := o.engine.Execute(ctx, llm.ExecuteRequest{
		Query:         o.buildPrompt(history, message),
		SystemPrompt:  systemPrompt,
		MaxTokens:     o.defaults.MaxTokens,
		Temperature:   o.defaults.Temperature,
		MaxCost:       o.defaults.MaxCost,
		HasAttachment: userCtx.HasAttachment,
		ChatID:        chatID,
		TraceID:       traceID,
	})

	elapsedMs := time.Since(started).Milliseconds()

	if !exec.Success {
		o.publish(eventbus.ProcessingFailed, chatID, traceID, map[string]any{
			"error_kind": string(exec.ErrorKind),
			"detail":     exec.ErrorDetail,
			"interface":  string(tag),
		})
		o.monitor.RecordRequest(false, elapsedMs, 0, exec.FallbacksUsed)
		o.logger.Warn("processing failed",
			zap.String("chat_id", chatID),
			zap.String("trace_id", traceID),
			zap.String("error_kind", string(exec.ErrorKind)))
		return &entity.ProcessingResult{
			Success:       false,
			Response:      exec.ErrorKind.UserMessage(),
			ChatID:        chatID,
			TraceID:       traceID,
			ElapsedMs:     elapsedMs,
			FallbacksUsed: exec.FallbacksUsed,
			ErrorKind:     exec.ErrorKind,
		}
	}

	o.contexts.Append(chatID, entity.NewAssistantMessage(exec.Text, string(tag), exec.ModelUsed, nil, exec.ElapsedMs))
	o.publish(eventbus.ProcessingCompleted, chatID, traceID, map[string]any{
		"user_message": message,
		"response":     exec.Text,
		"interface":    string(tag),
		"model_used":   exec.ModelUsed,
		"tokens":       exec.Tokens,
		"elapsed_ms":   elapsedMs,
		"fallbacks":    exec.FallbacksUsed,
	})
	o.monitor.RecordRequest(true, elapsedMs, exec.Tokens, exec.FallbacksUsed)

	return &entity.ProcessingResult{
		Success:       true,
		Response:      exec.Text,
		ChatID:        chatID,
		TraceID:       traceID,
		ModelUsed:     exec.ModelUsed,
		Tokens:        exec.Tokens,
		ElapsedMs:     elapsedMs,
		FallbacksUsed: exec.FallbacksUsed,
	}
}

// ExecuteTool runs one tool directly, gating confirmation-required
// tools through the middleware when one is configured.
func (o *Orchestrator) ExecuteTool(ctx context.Context, name string, params map[string]any, chatID, userID string) *entity.ToolResult {
	if chatID == "" {
		// Direct invocations have no conversation; events still need
		// a non-empty chat id.
		chatID = "direct"
	}
	t, ok := o.tools.Get(name)
	if !ok {
		return &entity.ToolResult{
			ToolName:  name,
			ErrorKind: entity.KindToolNotFound,
			Error:     fmt.Sprintf("tool %q not found", name),
		}
	}

	if t.RequiresConfirmation() && o.confirmations != nil {
		traceID := service.NewTraceID()
		if !o.confirmations.RequestConfirmation(ctx, name, params, chatID, userID, traceID, 0) {
			o.monitor.RecordToolCall(false)
			return &entity.ToolResult{
				ToolName:  name,
				ErrorKind: entity.KindToolDenied,
				Error:     "tool call was not approved",
			}
		}
	}

	if ok, reason := o.tools.Validate(name, params); !ok {
		o.monitor.RecordToolCall(false)
		return &entity.ToolResult{
			ToolName:  name,
			ErrorKind: entity.KindToolValidation,
			Error:     reason,
		}
	}

	started := time.Now()
	res, err := t.Execute(ctx, params)
	elapsedMs := time.Since(started).Milliseconds()

	success := err == nil && res != nil && res.Error == ""
	o.tools.RecordExecution(name, success, elapsedMs)
	o.monitor.RecordToolCall(success)

	if !success {
		detail := "tool execution failed"
		if err != nil {
			detail = err.Error()
		} else if res != nil && res.Error != "" {
			detail = res.Error
		}
		return &entity.ToolResult{
			ToolName:  name,
			ElapsedMs: elapsedMs,
			ErrorKind: entity.KindToolExecution,
			Error:     detail,
		}
	}
	return &entity.ToolResult{
		Success:   true,
		Output:    res.Output,
		ToolName:  name,
		ElapsedMs: elapsedMs,
	}
}

// HealthCheck reports backend reachability, circuit states and
// registry sizes.
func (o *Orchestrator) HealthCheck(ctx context.Context) *HealthReport {
	backends := make(map[string]bool)
	anyAvailable := false
	anyUnreachable := false
	for id := range o.engine.Backends() {
		ok := o.engine.CheckAvailability(ctx, id)
		backends[id] = ok
		if ok {
			anyAvailable = true
		} else {
			anyUnreachable = true
		}
	}

	circuits := o.engine.BreakerSnapshots()
	anyOpen := false
	for _, c := range circuits {
		if c.State == "OPEN" {
			anyOpen = true
		}
	}

	status := "healthy"
	switch {
	case !anyAvailable:
		status = "unhealthy"
	case anyOpen || anyUnreachable:
		status = "degraded"
	}

	pending := 0
	if o.confirmations != nil {
		pending = o.confirmations.PendingCount()
	}

	return &HealthReport{
		Status:               status,
		Backends:             backends,
		Circuits:             circuits,
		Models:               len(o.models.List()),
		Tools:                o.tools.Count(),
		PendingConfirmations: pending,
		ActiveChats:          o.contexts.Count(),
	}
}

// GetStats aggregates monitor, engine, bus and tool counters.
func (o *Orchestrator) GetStats() map[string]any {
	return map[string]any{
		"monitor":  o.monitor.Snapshot(),
		"backends": o.engine.Status(),
		"events":   o.events.Stats(),
		"models":   len(o.models.List()),
		"tools":    o.tools.Count(),
		"chats":    o.contexts.Count(),
	}
}

// GetToolList returns every registered tool descriptor.
func (o *Orchestrator) GetToolList() []domaintool.Descriptor {
	return o.tools.All()
}

// RecentEvents exposes the bus diagnostics ring.
func (o *Orchestrator) RecentEvents(n int) []eventbus.Event {
	return o.events.Recent(n)
}

// History returns the retained conversation for one chat.
func (o *Orchestrator) History(chatID string, limit int) []entity.Message {
	return o.contexts.History(chatID, limit)
}

// ClearHistory drops one chat's retained conversation.
func (o *Orchestrator) ClearHistory(chatID string) {
	o.contexts.Clear(chatID)
}

// Confirmations exposes the middleware for adapters that resolve
// approve/deny callbacks.
func (o *Orchestrator) Confirmations() *service.ConfirmationMiddleware {
	return o.confirmations
}

func (o *Orchestrator) buildPrompt(history []entity.Message, message string) string {
	if len(history) == 0 {
		return message
	}
	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for _, msg := range history {
		role := "User"
		if msg.Role == entity.RoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, msg.Content)
	}
	b.WriteString("\nCurrent message: ")
	b.WriteString(message)
	return b.String()
}

func (o *Orchestrator) toolsSummary() string {
	descriptors := o.tools.All()
	if len(descriptors) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		parts = append(parts, fmt.Sprintf("%s: %s", d.Name, d.Description))
	}
	return strings.Join(parts, "\n")
}

func (o *Orchestrator) publish(t eventbus.EventType, chatID, traceID string, payload map[string]any) {
	o.events.Publish(eventbus.Event{
		Type:    t,
		ChatID:  chatID,
		TraceID: traceID,
		Payload: payload,
	})
}
