package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/opsdeskhq/opsdesk/config"
	"github.com/opsdeskhq/opsdesk/repositories"
	"github.com/opsdeskhq/opsdesk/repositories/postgres"
	"github.com/opsdeskhq/opsdesk/services/interactions"
	"github.com/opsdeskhq/opsdesk/services/orchestrator"
	"github.com/opsdeskhq/opsdesk/services/providers"
	"github.com/opsdeskhq/opsdesk/services/providers/claude"
	"github.com/opsdeskhq/opsdesk/services/providers/gemini"
	"github.com/opsdeskhq/opsdesk/services/providers/openai"
	"github.com/opsdeskhq/opsdesk/services/providers/openaicompat"
	"github.com/opsdeskhq/opsdesk/services/settings"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB // nil when running without a database
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Services
	Settings     *settings.Service
	Registry     *providers.Registry
	Interactions *interactions.Service
	Orchestrator *orchestrator.Service

	started bool
}

// NewDependencies creates and wires up all application dependencies.
// A missing or unreachable database is not fatal: the service starts in
// degraded mode with in-memory selection state and log-only interactions.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	deps.initDatabase(ctx, cfg)
	deps.initServices(ctx, cfg)

	logger.Info("all dependencies initialized",
		zap.Bool("persistent", deps.Settings.Persistent()))
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection and schema when
// configured. Failures degrade to no-database mode instead of aborting.
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) {
	if !cfg.HasDatabase() {
		d.Logger.Warn("no database configured, running in degraded mode")
		return
	}

	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		d.Logger.Warn("database unavailable, running in degraded mode", zap.Error(err))
		return
	}

	if err := factory.GetDB().InitSchema(ctx); err != nil {
		d.Logger.Warn("schema initialization failed, running in degraded mode", zap.Error(err))
		_ = factory.Close()
		return
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()
	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
}

// initServices wires the settings store, provider registry, interaction
// logger and chat orchestrator.
func (d *Dependencies) initServices(ctx context.Context, cfg *config.Config) {
	var repos *repositories.Repositories
	if d.RepoFactory != nil {
		repos = d.RepoFactory.NewRepositories()
	}

	var settingRepo repositories.SettingRepository
	var interactionRepo repositories.InteractionRepository
	if repos != nil {
		settingRepo = repos.Settings
		interactionRepo = repos.Interactions
	}

	d.Settings = settings.NewService(settingRepo, d.Logger)

	d.Registry = providers.NewRegistry(d.Settings, providerBuilders(), d.Logger)
	d.Registry.Configure(ctx, nil)

	d.Interactions = interactions.NewService(interactionRepo, d.Logger, interactions.Config{
		BufferSize:  cfg.Interactions.BufferSize,
		WorkerCount: cfg.Interactions.WorkerCount,
	})

	d.Orchestrator = orchestrator.NewService(d.Registry, d.Settings, d.Interactions, d.Logger, orchestrator.Config{
		RetryBackoff:   cfg.Chat.RetryBackoff,
		AttemptTimeout: cfg.Chat.AttemptTimeout,
		MaxFallbacks:   cfg.Chat.MaxFallbacks,
	})
	d.Orchestrator.LoadSelection(ctx)
}

// providerBuilders returns the adapter constructors for every supported
// provider.
func providerBuilders() map[providers.ID]providers.Builder {
	return map[providers.ID]providers.Builder{
		providers.Claude: claude.NewBuilder(),
		providers.OpenAI: openai.NewBuilder(),
		providers.Gemini: gemini.NewBuilder(),
		providers.Kimi:   openaicompat.NewKimiBuilder(),
		providers.Groq:   openaicompat.NewGroqBuilder(),
	}
}

// Start launches background services
func (d *Dependencies) Start() error {
	if err := d.Interactions.Start(); err != nil {
		return fmt.Errorf("failed to start interaction logger: %w", err)
	}
	d.started = true
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.started {
		if err := d.Interactions.Stop(d.Config.Interactions.StopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop interaction logger: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
