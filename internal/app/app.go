// -----------------------------------------------------------------------
// App - dependency container. Construction order: storage, events and
// telemetry, remote clients, job store, services, workflow runtime and
// pool, handlers.
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/clients"
	"github.com/ternarybob/scribo/internal/common"
	"github.com/ternarybob/scribo/internal/handlers"
	"github.com/ternarybob/scribo/internal/interfaces"
	"github.com/ternarybob/scribo/internal/models"
	"github.com/ternarybob/scribo/internal/services/events"
	"github.com/ternarybob/scribo/internal/services/extract"
	jobsvc "github.com/ternarybob/scribo/internal/services/jobs"
	"github.com/ternarybob/scribo/internal/services/registry"
	"github.com/ternarybob/scribo/internal/services/render"
	"github.com/ternarybob/scribo/internal/services/scheduler"
	"github.com/ternarybob/scribo/internal/services/telemetry"
	"github.com/ternarybob/scribo/internal/storage"
	"github.com/ternarybob/scribo/internal/workflow"
	"github.com/ternarybob/scribo/internal/workflow/stages"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager

	EventService     interfaces.EventService
	TelemetryService *telemetry.Service

	Clients *clients.Bundle

	JobStore        *jobsvc.Store
	ProjectRegistry interfaces.ProjectRegistry
	Extractor       interfaces.PDFExtractor
	RenderService   *render.Service
	TonePolicy      models.TonePolicy

	Runtime   *workflow.Runtime
	Pool      *workflow.Pool
	Scheduler *scheduler.Service

	WorkflowHandler *handlers.WorkflowHandler
	StreamHandler   *handlers.StreamHandler
	ProjectHandler  *handlers.ProjectHandler
	HealthHandler   *handlers.HealthHandler
}

// New initializes the application with all dependencies
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	storageManager, err := storage.NewStorageManager(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager
	logger.Debug().
		Str("storage", "badger").
		Str("path", cfg.Storage.Badger.Path).
		Msg("Storage layer initialized")

	a.EventService = events.NewService(logger)
	a.TelemetryService = telemetry.NewService(logger)
	a.EventService.Subscribe(interfaces.EventJobStatusChanged, a.TelemetryService.JobStatusSubscriber())

	bundle, err := clients.NewBundle(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize remote clients: %w", err)
	}
	a.Clients = bundle

	policy, err := models.LoadTonePolicy(cfg.Policy.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tone policy: %w", err)
	}
	a.TonePolicy = policy

	a.JobStore = jobsvc.NewStore(
		storageManager.JobStorage(),
		a.EventService,
		a.TelemetryService,
		bundle.Graph,
		logger,
	)

	a.ProjectRegistry = registry.NewService(bundle.Graph, a.JobStore, models.RigorLevel(cfg.Policy.DefaultRigor), logger)
	a.Extractor = extract.NewExtractor(logger)
	a.RenderService = render.NewService(logger)

	a.Runtime = workflow.NewRuntime(cfg, a.JobStore, bundle, policy, a.TelemetryService, storageManager.IngestionStorage(), logger)
	a.Runtime.Register(stages.NewIngest(a.Extractor, storageManager.IngestionStorage()))
	a.Runtime.Register(stages.NewCartographer())
	a.Runtime.Register(stages.NewVerifier())
	a.Runtime.Register(stages.NewCritic())
	a.Runtime.Register(stages.NewDrafter())
	a.Runtime.Register(stages.NewSaver(cfg.Artifacts.Root, a.TelemetryService))

	a.Pool = workflow.NewPool(a.JobStore, a.Runtime, cfg.WorkerCount(), cfg.Workers.QueueSize, logger)
	a.Scheduler = scheduler.NewService(cfg, a.JobStore, storageManager, a.EventService, a.TelemetryService, logger)

	uploadDir := filepath.Join(cfg.Artifacts.Root, "uploads")
	a.WorkflowHandler = handlers.NewWorkflowHandler(a.Pool, a.JobStore, a.ProjectRegistry, storageManager.IngestionStorage(), uploadDir, logger)
	a.StreamHandler = handlers.NewStreamHandler(a.JobStore, logger)
	a.ProjectHandler = handlers.NewProjectHandler(a.ProjectRegistry, storageManager.IngestionStorage(), bundle.Graph, a.RenderService, logger)
	a.HealthHandler = handlers.NewHealthHandler(bundle.Graph, bundle.Vector, logger)

	logger.Info().
		Int("workers", cfg.WorkerCount()).
		Int("queue_size", cfg.Workers.QueueSize).
		Msg("Application initialized")

	return a, nil
}

// Start launches the worker pool and the maintenance scheduler
func (a *App) Start() error {
	a.Pool.Start()
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// Close shuts down components in reverse construction order
func (a *App) Close() error {
	a.Logger.Info().Msg("Shutting down application")

	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Scheduler stop failed")
		}
	}
	if a.Pool != nil {
		a.Pool.Stop()
	}
	if a.EventService != nil {
		a.EventService.Close()
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
			return err
		}
	}

	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
