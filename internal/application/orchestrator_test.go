package application

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
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

type fakeEngine struct {
	result *entity.ExecutionResult
	// last request seen, for prompt assertions
	mu   sync.Mutex
	last llm.ExecuteRequest
}

func (f *fakeEngine) Execute(ctx context.Context, req llm.ExecuteRequest) *entity.ExecutionResult {
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return &entity.ExecutionResult{Success: false, ErrorKind: entity.KindCancelled}
	}
	return f.result
}

func (f *fakeEngine) BreakerSnapshots() []llm.BreakerSnapshot { return nil }
func (f *fakeEngine) Status() map[string]map[string]any       { return nil }
func (f *fakeEngine) Backends() map[string]llm.Backend        { return nil }
func (f *fakeEngine) CheckAvailability(context.Context, string) bool {
	return false
}

type confirmTool struct {
	executed bool
}

func (c *confirmTool) Name() string                      { return "delete_files" }
func (c *confirmTool) Description() string               { return "deletes files" }
func (c *confirmTool) Category() string                  { return "filesystem" }
func (c *confirmTool) Parameters() []domaintool.ParamSpec { return nil }
func (c *confirmTool) RequiresConfirmation() bool        { return true }
func (c *confirmTool) Execute(context.Context, map[string]any) (*domaintool.Result, error) {
	c.executed = true
	return &domaintool.Result{Output: "deleted"}, nil
}

func testPrompts(t *testing.T) *prompt.Manager {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"manifest.yaml": "templates:\n  default: default.tmpl\n",
		"default.tmpl":  "interface {interface}, tools: {toolsSummary}",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	m, err := prompt.NewManager(dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

type fixture struct {
	orch     *Orchestrator
	engine   *fakeEngine
	contexts *contextmgr.Manager
	bus      *eventbus.Bus
	confirm  *service.ConfirmationMiddleware
	tools    *domaintool.Registry
}

func newFixture(t *testing.T, result *entity.ExecutionResult) *fixture {
	t.Helper()
	bus := eventbus.New(zap.NewNop())
	t.Cleanup(bus.Close)

	engine := &fakeEngine{result: result}
	contexts := contextmgr.NewManager(-1)
	tools := domaintool.NewRegistry(zap.NewNop())
	confirm := service.NewConfirmationMiddleware(nil, bus, time.Minute, zap.NewNop())
	models := routing.NewRegistry()

	orch := NewOrchestrator(
		contexts, testPrompts(t), tools, models, confirm, engine, bus,
		monitoring.NewMonitor(),
		GenerationDefaults{MaxTokens: 512, Temperature: 0.7, MaxCost: 1.0},
		zap.NewNop(),
	)
	return &fixture{orch: orch, engine: engine, contexts: contexts, bus: bus, confirm: confirm, tools: tools}
}

func TestProcessMessageHappyPath(t *testing.T) {
	f := newFixture(t, &entity.ExecutionResult{
		Success: true, Text: "the answer", ModelUsed: "local-code-7b", Tokens: 20,
	})

	res := f.orch.ProcessMessage(context.Background(), "chat-1", "write a python function to reverse a string", valueobject.InterfaceWeb, valueobject.UserContext{})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if res.Response != "the answer" || res.ModelUsed != "local-code-7b" {
		t.Errorf("result = %+v", res)
	}
	if res.TraceID == "" {
		t.Error("TraceID must be set")
	}

	h := f.contexts.History("chat-1", 0)
	if len(h) != 2 {
		t.Fatalf("history = %d messages, want USER + ASSISTANT", len(h))
	}
	if h[0].Role != entity.RoleUser || h[1].Role != entity.RoleAssistant {
		t.Errorf("roles = %s, %s", h[0].Role, h[1].Role)
	}
	if h[1].ModelUsed != "local-code-7b" {
		t.Errorf("assistant ModelUsed = %q", h[1].ModelUsed)
	}
}

func TestProcessMessageEmptyIsValidation(t *testing.T) {
	f := newFixture(t, &entity.ExecutionResult{Success: true, Text: "x"})

	for _, msg := range []string{"", "   ", "\n\t"} {
		res := f.orch.ProcessMessage(context.Background(), "chat-1", msg, valueobject.InterfaceAPI, valueobject.UserContext{})
		if res.Success || res.ErrorKind != entity.KindValidation {
			t.Errorf("message %q: result = %+v, want VALIDATION", msg, res)
		}
		if res.Response == "" {
			t.Error("response must be human-readable even on failure")
		}
	}
	if len(f.contexts.History("chat-1", 0)) != 0 {
		t.Error("invalid messages must not be appended")
	}
}

func TestProcessMessageFailureKeepsUserMessage(t *testing.T) {
	f := newFixture(t, &entity.ExecutionResult{
		Success: false, ErrorKind: entity.KindAllModelsFailed, ErrorDetail: "all broken",
	})

	res := f.orch.ProcessMessage(context.Background(), "chat-1", "hello", valueobject.InterfaceTelegram, valueobject.UserContext{})
	if res.Success || res.ErrorKind != entity.KindAllModelsFailed {
		t.Fatalf("result = %+v", res)
	}
	if res.Response == "" {
		t.Error("failure response must be populated")
	}

	h := f.contexts.History("chat-1", 0)
	if len(h) != 1 || h[0].Role != entity.RoleUser || h[0].Content != "hello" {
		t.Errorf("history = %+v, want single USER message", h)
	}
}

func TestProcessMessageCancelled(t *testing.T) {
	f := newFixture(t, &entity.ExecutionResult{Success: true, Text: "x"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := f.orch.ProcessMessage(ctx, "chat-1", "hello", valueobject.InterfaceCLI, valueobject.UserContext{})
	if res.Success || res.ErrorKind != entity.KindCancelled {
		t.Fatalf("result = %+v, want CANCELLED", res)
	}

	h := f.contexts.History("chat-1", 0)
	if len(h) != 1 || h[0].Role != entity.RoleUser {
		t.Errorf("history = %+v, cancelled request must not append assistant", h)
	}
}

func TestProcessMessageEventSequence(t *testing.T) {
	f := newFixture(t, &entity.ExecutionResult{Success: true, Text: "ok"})

	events := make(chan eventbus.Event, 16)
	f.bus.Subscribe(eventbus.Wildcard, func(ev eventbus.Event) { events <- ev })

	f.orch.ProcessMessage(context.Background(), "chat-1", "hello there", valueobject.InterfaceWeb, valueobject.UserContext{})

	want := []eventbus.EventType{eventbus.ProcessingStarted, eventbus.ContextLoaded, eventbus.ProcessingCompleted}
	var trace string
	for i, wantType := range want {
		select {
		case ev := <-events:
			if ev.Type != wantType {
				t.Fatalf("event %d = %s, want %s", i, ev.Type, wantType)
			}
			if ev.TraceID == "" || ev.ChatID != "chat-1" {
				t.Errorf("event %s missing ids: %+v", ev.Type, ev)
			}
			if trace == "" {
				trace = ev.TraceID
			} else if ev.TraceID != trace {
				t.Error("all events of one request must share a trace id")
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %s", wantType)
		}
	}
}

func TestProcessMessagePromptCarriesHistory(t *testing.T) {
	f := newFixture(t, &entity.ExecutionResult{Success: true, Text: "fine"})

	f.orch.ProcessMessage(context.Background(), "chat-1", "first question", valueobject.InterfaceWeb, valueobject.UserContext{})
	f.orch.ProcessMessage(context.Background(), "chat-1", "second question", valueobject.InterfaceWeb, valueobject.UserContext{})

	f.engine.mu.Lock()
	last := f.engine.last
	f.engine.mu.Unlock()
	if last.Query == "second question" {
		t.Error("follow-up prompt should include prior conversation")
	}
	if last.SystemPrompt == "" {
		t.Error("system prompt must be rendered")
	}
}

func TestExecuteToolNotFound(t *testing.T) {
	f := newFixture(t, nil)
	res := f.orch.ExecuteTool(context.Background(), "missing", nil, "chat-1", "")
	if res.Success || res.ErrorKind != entity.KindToolNotFound {
		t.Errorf("result = %+v, want TOOL_NOT_FOUND", res)
	}
}

func TestExecuteToolConfirmationApproved(t *testing.T) {
	f := newFixture(t, nil)
	tool := &confirmTool{}
	f.tools.Register(tool)

	ids := make(chan string, 1)
	f.confirm.SetSender(func(req *service.ConfirmationRequest) { ids <- req.ID })

	done := make(chan *entity.ToolResult, 1)
	go func() {
		done <- f.orch.ExecuteTool(context.Background(), "delete_files", nil, "chat-1", "user-1")
	}()

	select {
	case id := <-ids:
		f.confirm.Approve(id, "admin")
	case <-time.After(time.Second):
		t.Fatal("confirmation was never requested")
	}

	res := <-done
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if !tool.executed {
		t.Error("approved tool should have run")
	}
}

func TestExecuteToolWithoutChatIDTagsEvents(t *testing.T) {
	f := newFixture(t, nil)
	f.tools.Register(&confirmTool{})

	chatIDs := make(chan string, 1)
	f.bus.Subscribe(eventbus.ToolConfirmationRequested, func(ev eventbus.Event) { chatIDs <- ev.ChatID })

	ids := make(chan string, 1)
	f.confirm.SetSender(func(req *service.ConfirmationRequest) { ids <- req.ID })

	done := make(chan *entity.ToolResult, 1)
	go func() {
		done <- f.orch.ExecuteTool(context.Background(), "delete_files", nil, "", "")
	}()

	select {
	case id := <-ids:
		f.confirm.Approve(id, "admin")
	case <-time.After(time.Second):
		t.Fatal("confirmation was never requested")
	}
	<-done

	select {
	case chatID := <-chatIDs:
		if chatID != "direct" {
			t.Errorf("event ChatID = %q, want direct placeholder", chatID)
		}
	case <-time.After(time.Second):
		t.Fatal("confirmation event was never published")
	}
}

func TestExecuteToolConfirmationTimeout(t *testing.T) {
	bus := eventbus.New(zap.NewNop())
	t.Cleanup(bus.Close)
	confirm := service.NewConfirmationMiddleware(nil, bus, 50*time.Millisecond, zap.NewNop())
	tools := domaintool.NewRegistry(zap.NewNop())
	tool := &confirmTool{}
	tools.Register(tool)

	orch := NewOrchestrator(
		contextmgr.NewManager(-1), testPrompts(t), tools, routing.NewRegistry(), confirm,
		&fakeEngine{}, bus, monitoring.NewMonitor(), GenerationDefaults{}, zap.NewNop(),
	)

	res := orch.ExecuteTool(context.Background(), "delete_files", nil, "chat-1", "")
	if res.Success || res.ErrorKind != entity.KindToolDenied {
		t.Fatalf("result = %+v, want TOOL_DENIED on expiry", res)
	}
	if tool.executed {
		t.Error("expired tool must not run")
	}
}

func TestHealthCheckNoBackends(t *testing.T) {
	f := newFixture(t, nil)
	report := f.orch.HealthCheck(context.Background())
	if report.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy with zero backends", report.Status)
	}
}
