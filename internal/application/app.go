package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pocketportal/pocketportal/internal/domain/contextmgr"
	"github.com/pocketportal/pocketportal/internal/domain/routing"
	"github.com/pocketportal/pocketportal/internal/domain/service"
	domaintool "github.com/pocketportal/pocketportal/internal/domain/tool"
	"github.com/pocketportal/pocketportal/internal/infrastructure/config"
	"github.com/pocketportal/pocketportal/internal/infrastructure/eventbus"
	"github.com/pocketportal/pocketportal/internal/infrastructure/llm"
	"github.com/pocketportal/pocketportal/internal/infrastructure/monitoring"
	"github.com/pocketportal/pocketportal/internal/infrastructure/persistence"
	"github.com/pocketportal/pocketportal/internal/infrastructure/prompt"
	infratool "github.com/pocketportal/pocketportal/internal/infrastructure/tool"

	// Backend factories self-register on import.
	_ "github.com/pocketportal/pocketportal/internal/infrastructure/llm/anthropic"
	_ "github.com/pocketportal/pocketportal/internal/infrastructure/llm/ollama"
	_ "github.com/pocketportal/pocketportal/internal/infrastructure/llm/openaichat"
)

// App is the composition root: it owns every component and wires the
// processing pipeline from configuration.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Orchestrator *Orchestrator
	Models       *routing.Registry
	Bus          *eventbus.Bus

	engine  *llm.Engine
	archive *persistence.Archive
	events  EventPublisher
	ctx     context.Context
	cancel  context.CancelFunc
}

// New builds the application. Backends whose construction fails (for
// example a missing API key) are skipped with a warning, not fatal.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{Config: cfg, Logger: logger, ctx: ctx, cancel: cancel}

	bus := eventbus.New(logger)
	app.Bus = bus
	var publisher EventPublisher = bus
	if cfg.Events.JournalEnabled {
		pb, err := eventbus.NewPersistent(bus, cfg.Events.JournalPath, cfg.Events.JournalMaxBytes, logger)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("event journal: %w", err)
		}
		publisher = pb
	}
	app.events = publisher

	models := routing.NewRegistry()
	for _, mc := range cfg.Models {
		models.Register(descriptorFromConfig(mc))
	}
	app.Models = models

	backends := make(map[string]llm.Backend)
	for _, bc := range cfg.Backends {
		b, err := llm.NewBackend(bc.Type, llm.Config{
			BackendID: bc.ID,
			BaseURL:   bc.BaseURL,
			Logger:    logger,
		})
		if err != nil {
			logger.Warn("backend disabled",
				zap.String("backend", bc.ID),
				zap.String("type", bc.Type),
				zap.Error(err))
			continue
		}
		backends[bc.ID] = b
	}

	prefs := make(map[routing.Complexity][]string, len(cfg.Routing.Preferences))
	for complexity, ids := range cfg.Routing.Preferences {
		prefs[routing.Complexity(complexity)] = ids
	}
	router := routing.NewRouter(models, routing.Strategy(cfg.Routing.Strategy), prefs)

	app.engine = llm.NewEngine(models, router, backends, publisher, llm.EngineOptions{
		GenerateTimeout:  cfg.Engine.GenerateTimeout,
		FailureThreshold: cfg.Engine.FailureThreshold,
		OpenDuration:     cfg.Engine.OpenDuration,
		AvailabilityTTL:  cfg.Engine.AvailabilityTTL,
	}, logger)

	prompts, err := prompt.NewManager(cfg.Prompts.Dir, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("prompt manager: %w", err)
	}
	if cfg.Prompts.HotReload {
		if err := prompts.Watch(ctx); err != nil {
			logger.Warn("prompt hot reload disabled", zap.Error(err))
		}
	}

	tools := domaintool.NewRegistry(logger)
	infratool.RegisterAllTools(tools, infratool.Deps{Logger: logger})

	confirmations := service.NewConfirmationMiddleware(nil, publisher, cfg.Confirmation.Timeout, logger)
	confirmations.StartSweeper(ctx)

	if cfg.Database.Enabled {
		db, err := persistence.Open(persistence.Options{
			Driver: cfg.Database.Driver,
			DSN:    cfg.Database.DSN,
		}, logger)
		if err != nil {
			logger.Warn("message archive disabled", zap.Error(err))
		} else {
			app.archive = persistence.NewArchive(db, bus, logger)
		}
	}

	contexts := contextmgr.NewManager(cfg.Context.MaxMessages)
	monitor := monitoring.NewMonitor()

	app.Orchestrator = NewOrchestrator(
		contexts, prompts, tools, models, confirmations, app.engine, publisher, monitor,
		GenerationDefaults{
			MaxTokens:   cfg.Engine.MaxTokens,
			Temperature: cfg.Engine.Temperature,
			MaxCost:     cfg.Routing.MaxCost,
		},
		logger,
	)

	logger.Info("application wired",
		zap.Int("models", len(cfg.Models)),
		zap.Int("backends", len(backends)),
		zap.Strings("backend_types", llm.RegisteredTypes()))
	return app, nil
}

// Close shuts background work down and releases transports.
func (a *App) Close() {
	a.cancel()
	if a.archive != nil {
		a.archive.Close()
	}
	a.engine.Close()
	if pb, ok := a.events.(*eventbus.PersistentBus); ok {
		pb.Close()
	} else {
		a.Bus.Close()
	}
	// Give dispatch goroutines a moment to drain.
	time.Sleep(10 * time.Millisecond)
}

func descriptorFromConfig(mc config.ModelConfig) routing.ModelDescriptor {
	caps := make([]routing.Capability, 0, len(mc.Capabilities))
	for _, c := range mc.Capabilities {
		caps = append(caps, routing.Capability(c))
	}
	display := mc.DisplayName
	if display == "" {
		display = mc.ModelID
	}
	return routing.ModelDescriptor{
		ModelID:       mc.ModelID,
		DisplayName:   display,
		BackendID:     mc.BackendID,
		APIModelName:  mc.APIModelName,
		Capabilities:  caps,
		SpeedClass:    routing.SpeedClass(mc.SpeedClass),
		ParameterSize: mc.ParameterSize,
		ContextWindow: mc.ContextWindow,
		Cost:          mc.Cost,
		QualityScore:  mc.QualityScore,
		Available:     true,
	}
}
