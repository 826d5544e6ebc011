package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pocketportal/pocketportal/internal/domain/entity"
	"github.com/pocketportal/pocketportal/internal/domain/routing"
	"github.com/pocketportal/pocketportal/internal/infrastructure/eventbus"
)

// fakeBackend replays a scripted sequence of outcomes.
type fakeBackend struct {
	mu        sync.Mutex
	name      string
	script    []error // nil entry = success
	calls     int
	available bool
	blockOn   context.Context
}

func (f *fakeBackend) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.mu.Unlock()

	if f.blockOn != nil {
		select {
		case <-f.blockOn.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var err error
	if idx < len(f.script) {
		err = f.script[idx]
	}
	if err != nil {
		return nil, err
	}
	return &GenerateResult{Text: "ok from " + f.name, Tokens: 10, ElapsedMs: 1}, nil
}

func (f *fakeBackend) IsAvailable(context.Context) bool { return f.available }
func (f *fakeBackend) Name() string                     { return f.name }
func (f *fakeBackend) Close() error                     { return nil }

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func twoModelRegistry() *routing.Registry {
	reg := routing.NewRegistry()
	reg.Register(routing.ModelDescriptor{
		ModelID: "model-a", DisplayName: "model-a", BackendID: "backend-a",
		APIModelName: "a", Capabilities: []routing.Capability{routing.CapGeneral},
		SpeedClass: routing.SpeedFast, QualityScore: 0.9, Available: true,
	})
	reg.Register(routing.ModelDescriptor{
		ModelID: "model-b", DisplayName: "model-b", BackendID: "backend-b",
		APIModelName: "b", Capabilities: []routing.Capability{routing.CapGeneral},
		SpeedClass: routing.SpeedFast, QualityScore: 0.5, Available: true,
	})
	return reg
}

func newTestEngine(reg *routing.Registry, backends map[string]Backend, opts EngineOptions) *Engine {
	router := routing.NewRouter(reg, routing.StrategyQuality, nil)
	return NewEngine(reg, router, backends, nil, opts, zap.NewNop())
}

func TestExecuteHappyPath(t *testing.T) {
	reg := twoModelRegistry()
	a := &fakeBackend{name: "backend-a", available: true}
	b := &fakeBackend{name: "backend-b", available: true}
	e := newTestEngine(reg, map[string]Backend{"backend-a": a, "backend-b": b}, EngineOptions{})

	res := e.Execute(context.Background(), ExecuteRequest{Query: "tell me about cats", MaxCost: 1.0})
	if !res.Success {
		t.Fatalf("Execute failed: %s %s", res.ErrorKind, res.ErrorDetail)
	}
	if res.ModelUsed != "model-a" {
		t.Errorf("ModelUsed = %q, want model-a", res.ModelUsed)
	}
	if res.FallbacksUsed != 0 {
		t.Errorf("FallbacksUsed = %d, want 0", res.FallbacksUsed)
	}
	if b.callCount() != 0 {
		t.Error("fallback backend should not be touched on primary success")
	}
}

func TestExecuteFallsBackAfterFailures(t *testing.T) {
	reg := twoModelRegistry()
	a := &fakeBackend{name: "backend-a", available: true, script: []error{
		&BackendError{Backend: "backend-a", Kind: FailTimeout, Message: "slow"},
	}}
	b := &fakeBackend{name: "backend-b", available: true}
	e := newTestEngine(reg, map[string]Backend{"backend-a": a, "backend-b": b}, EngineOptions{})

	res := e.Execute(context.Background(), ExecuteRequest{Query: "tell me about cats", MaxCost: 1.0})
	if !res.Success {
		t.Fatalf("Execute failed: %s", res.ErrorDetail)
	}
	if res.ModelUsed != "model-b" {
		t.Errorf("ModelUsed = %q, want model-b", res.ModelUsed)
	}
	if res.FallbacksUsed != 1 {
		t.Errorf("FallbacksUsed = %d, want 1", res.FallbacksUsed)
	}

	for _, snap := range e.BreakerSnapshots() {
		if snap.BackendID == "backend-a" {
			if snap.State != "CLOSED" || snap.ConsecutiveFailures != 1 {
				t.Errorf("breaker = %+v, want CLOSED with 1 failure", snap)
			}
		}
	}
}

func TestExecuteAllModelsFailed(t *testing.T) {
	reg := twoModelRegistry()
	fail := &BackendError{Kind: FailServerError, Status: 500, Message: "boom"}
	a := &fakeBackend{name: "backend-a", available: true, script: []error{fail, fail}}
	b := &fakeBackend{name: "backend-b", available: true, script: []error{fail, fail}}
	e := newTestEngine(reg, map[string]Backend{"backend-a": a, "backend-b": b}, EngineOptions{})

	res := e.Execute(context.Background(), ExecuteRequest{Query: "tell me about cats", MaxCost: 1.0})
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ErrorKind != entity.KindAllModelsFailed {
		t.Errorf("ErrorKind = %s, want ALL_MODELS_FAILED", res.ErrorKind)
	}
	if res.ErrorDetail == "" {
		t.Error("diagnostics should not be empty")
	}
}

func TestExecuteNoModels(t *testing.T) {
	reg := routing.NewRegistry()
	e := newTestEngine(reg, map[string]Backend{}, EngineOptions{})

	res := e.Execute(context.Background(), ExecuteRequest{Query: "hello there", MaxCost: 1.0})
	if res.Success || res.ErrorKind != entity.KindAllModelsFailed {
		t.Errorf("result = %+v, want ALL_MODELS_FAILED", res)
	}
}

func TestExecuteSkipsUnavailableBackend(t *testing.T) {
	reg := twoModelRegistry()
	a := &fakeBackend{name: "backend-a", available: false}
	b := &fakeBackend{name: "backend-b", available: true}
	e := newTestEngine(reg, map[string]Backend{"backend-a": a, "backend-b": b}, EngineOptions{})

	res := e.Execute(context.Background(), ExecuteRequest{Query: "tell me about cats", MaxCost: 1.0})
	if !res.Success || res.ModelUsed != "model-b" {
		t.Fatalf("result = %+v, want success on model-b", res)
	}
	if a.callCount() != 0 {
		t.Error("unavailable backend must not receive generate calls")
	}

	// Unreachable does not count as a breaker failure.
	for _, snap := range e.BreakerSnapshots() {
		if snap.BackendID == "backend-a" && snap.ConsecutiveFailures != 0 {
			t.Errorf("breaker failures = %d, want 0", snap.ConsecutiveFailures)
		}
	}
}

func TestExecuteCircuitOpensAndSkips(t *testing.T) {
	reg := routing.NewRegistry()
	reg.Register(routing.ModelDescriptor{
		ModelID: "only", DisplayName: "only", BackendID: "backend-a",
		Capabilities: []routing.Capability{routing.CapGeneral},
		SpeedClass:   routing.SpeedFast, QualityScore: 0.9, Available: true,
	})
	fail := &BackendError{Kind: FailTimeout, Message: "slow"}
	a := &fakeBackend{name: "backend-a", available: true, script: []error{fail, fail, fail, fail}}
	e := newTestEngine(reg, map[string]Backend{"backend-a": a}, EngineOptions{
		FailureThreshold: 3, OpenDuration: time.Minute,
	})

	for i := 0; i < 3; i++ {
		e.Execute(context.Background(), ExecuteRequest{Query: "tell me about cats", MaxCost: 1.0})
	}
	calls := a.callCount()
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}

	res := e.Execute(context.Background(), ExecuteRequest{Query: "tell me about cats", MaxCost: 1.0})
	if res.Success {
		t.Fatal("expected failure with open circuit")
	}
	if a.callCount() != calls {
		t.Error("open circuit must not forward calls")
	}
}

func TestExecuteCancellation(t *testing.T) {
	reg := twoModelRegistry()
	blocker, release := context.WithCancel(context.Background())
	defer release()
	a := &fakeBackend{name: "backend-a", available: true, blockOn: blocker}
	b := &fakeBackend{name: "backend-b", available: true}
	e := newTestEngine(reg, map[string]Backend{"backend-a": a, "backend-b": b}, EngineOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *entity.ExecutionResult, 1)
	go func() {
		done <- e.Execute(ctx, ExecuteRequest{Query: "tell me about cats", MaxCost: 1.0})
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		if res.Success || res.ErrorKind != entity.KindCancelled {
			t.Errorf("result = %+v, want CANCELLED", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not short-circuit")
	}
	if b.callCount() != 0 {
		t.Error("chain must not continue after cancellation")
	}
}

func TestExecutePublishesRoutingEvents(t *testing.T) {
	bus := eventbus.New(zap.NewNop())
	defer bus.Close()

	var types []eventbus.EventType
	var mu sync.Mutex
	bus.Subscribe(eventbus.Wildcard, func(ev eventbus.Event) {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})

	reg := twoModelRegistry()
	a := &fakeBackend{name: "backend-a", available: true}
	b := &fakeBackend{name: "backend-b", available: true}
	router := routing.NewRouter(reg, routing.StrategyQuality, nil)
	e := NewEngine(reg, router, map[string]Backend{"backend-a": a, "backend-b": b}, bus, EngineOptions{}, zap.NewNop())

	e.Execute(context.Background(), ExecuteRequest{
		Query: "tell me about cats", MaxCost: 1.0, ChatID: "c", TraceID: "t",
	})

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(types) != 2 || types[0] != eventbus.RoutingDecision || types[1] != eventbus.ModelGenerating {
		t.Errorf("events = %v, want ROUTING_DECISION then MODEL_GENERATING", types)
	}
}
