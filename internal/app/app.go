// -----------------------------------------------------------------------
// Last Modified: Tuesday, 25th August 2026 11:02:14 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/handlers"
	"github.com/ternarybob/aestimo/internal/interfaces"
	"github.com/ternarybob/aestimo/internal/logs"
	"github.com/ternarybob/aestimo/internal/services/chat"
	"github.com/ternarybob/aestimo/internal/services/chunker"
	"github.com/ternarybob/aestimo/internal/services/criteria"
	"github.com/ternarybob/aestimo/internal/services/documents"
	"github.com/ternarybob/aestimo/internal/services/embeddings"
	"github.com/ternarybob/aestimo/internal/services/events"
	"github.com/ternarybob/aestimo/internal/services/extraction"
	"github.com/ternarybob/aestimo/internal/services/llm"
	"github.com/ternarybob/aestimo/internal/services/pdf"
	"github.com/ternarybob/aestimo/internal/services/processing"
	"github.com/ternarybob/aestimo/internal/services/reports"
	"github.com/ternarybob/aestimo/internal/services/scheduler"
	"github.com/ternarybob/aestimo/internal/services/scoring"
	"github.com/ternarybob/aestimo/internal/services/sessions"
	"github.com/ternarybob/aestimo/internal/storage/badger"
)

// App wires storage, services, and handlers into one dependency graph.
// Construction order matters: storage first, then the event plumbing the
// log consumer needs, then services, then handlers.
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService interfaces.EventService
	LogConsumer  *logs.Consumer // Log consumer for arbor context channel

	// LLM service (Gemini embeddings + Claude completions)
	LLMService interfaces.LLMService

	// Document and session services
	DocumentService *documents.Service
	SessionService  *sessions.Service

	// Evaluation pipeline
	ProcessingService *processing.Service
	ChatService       interfaces.ChatService
	ReportService     *reports.Service

	// Retention scheduler
	SchedulerService *scheduler.Service

	// HTTP handlers
	UploadHandler  *handlers.UploadHandler
	ProcessHandler *handlers.ProcessHandler
	ScoresHandler  *handlers.ScoresHandler
	ChatHandler    *handlers.ChatHandler
	StatusHandler  *handlers.StatusHandler
	PageHandler    *handlers.PageHandler
	WSHandler      *handlers.WebSocketHandler
}

// New builds a fully wired application from configuration
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize WebSocket handler early so the log consumer can broadcast
	// through it. EventService is needed for WebSocketHandler initialization.
	app.EventService = events.NewService(app.Logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, app.Logger, &app.Config.WebSocket)

	// Create log consumer for the arbor context channel. The consumer batches
	// log events and publishes them for websocket delivery.
	logConsumer := logs.NewConsumer(app.EventService, app.Logger, app.Config.Logging.MinEventLevel)
	if err := logConsumer.Start(); err != nil {
		return nil, fmt.Errorf("failed to start log consumer: %w", err)
	}
	app.LogConsumer = logConsumer

	// Route arbor's context channel into the consumer
	logBatchChannel := logConsumer.GetChannel()
	app.Logger.SetChannel("context", logBatchChannel)

	app.Logger.Debug().
		Int("channel_capacity", cap(logBatchChannel)).
		Msg("Log consumer attached to arbor context channel")

	// Initialize services
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	logger.Info().
		Bool("retention_enabled", cfg.Retention.Enabled).
		Str("embed_model", cfg.Processing.EmbedModel).
		Str("chat_model", cfg.Claude.Model).
		Msg("Application wired")

	return app, nil
}

// initDatabase opens the Badger store and seeds the KV defaults
func (a *App) initDatabase() error {
	storageManager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = storageManager

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer ready")

	// Seed default KV entries (API key slots) so operators can fill them in
	// without a schema reference. Existing values are never overwritten.
	if seeder, ok := storageManager.(interface {
		SeedDefaultKVValues(context.Context) error
	}); ok {
		if err := seeder.SeedDefaultKVValues(context.Background()); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to seed default KV values")
		}
	}

	return nil
}

// initServices initializes all business services in dependency order
func (a *App) initServices() error {
	// LLM service resolves API keys lazily, so startup succeeds without keys;
	// upload endpoints work and processing reports clear errors when used.
	llmService, err := llm.NewService(a.Config, a.StorageManager.KeyValueStorage(), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM service: %w", err)
	}
	a.LLMService = llmService

	// Scoring rubric: built-in categories unless a criteria file is configured
	rubric := criteria.Default()
	if a.Config.Scoring.CriteriaFile != "" {
		rubric, err = criteria.LoadFile(a.Config.Scoring.CriteriaFile)
		if err != nil {
			return fmt.Errorf("failed to load criteria file %s: %w", a.Config.Scoring.CriteriaFile, err)
		}
		a.Logger.Info().
			Str("file", a.Config.Scoring.CriteriaFile).
			Msg("Loaded scoring criteria from file")
	}

	a.SessionService = sessions.NewService(
		a.StorageManager.SessionStorage(),
		a.StorageManager.DocumentStorage(),
		a.EventService,
		&a.Config.Storage.Filesystem,
		a.Logger,
	)

	a.DocumentService = documents.NewService(
		a.StorageManager.DocumentStorage(),
		&a.Config.Uploads,
		a.Config.Storage.Filesystem.Uploads,
		a.Logger,
	)

	embedder := embeddings.NewService(a.LLMService, a.EventService, &a.Config.Processing, a.Logger)
	extractor := extraction.NewService(a.LLMService, rubric, a.Config.Claude.Model, a.Logger)
	scorer := scoring.NewService(
		a.LLMService,
		embedder,
		rubric,
		&a.Config.Scoring,
		a.Config.Claude.Model,
		a.EventService,
		a.Logger,
	)

	a.ProcessingService = processing.NewService(
		a.StorageManager.DocumentStorage(),
		a.SessionService,
		chunker.NewService(&a.Config.Processing, a.Logger),
		embedder,
		extractor,
		scorer,
		a.EventService,
		a.Logger,
	)

	a.ChatService = chat.NewService(a.LLMService, embedder, a.SessionService, &a.Config.Chat, a.Logger)
	a.ReportService = reports.NewService(pdf.NewService(a.Logger), a.Logger)

	// Retention scheduler purges idle sessions and their artifacts
	schedulerService, err := scheduler.NewService(a.SessionService, &a.Config.Retention, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize retention scheduler: %w", err)
	}
	a.SchedulerService = schedulerService
	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start retention scheduler: %w", err)
	}

	a.Logger.Debug().Msg("Services initialized")
	return nil
}

// initHandlers constructs the HTTP layer over the services
func (a *App) initHandlers() error {
	a.UploadHandler = handlers.NewUploadHandler(a.DocumentService, a.SessionService, a.Logger)
	a.ProcessHandler = handlers.NewProcessHandler(a.ProcessingService, a.SessionService, a.Logger)
	a.ScoresHandler = handlers.NewScoresHandler(a.ProcessingService, a.SessionService, a.ReportService, a.Logger)
	a.ChatHandler = handlers.NewChatHandler(a.ChatService, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.SessionService, a.LLMService, a.Logger)
	a.PageHandler = handlers.NewPageHandler(a.Logger, a.Config.Logging.ClientDebug)
	// WSHandler already initialized in New() before the log consumer

	a.Logger.Debug().Msg("Handlers initialized")
	return nil
}

// Close closes all application resources in reverse dependency order
func (a *App) Close() error {
	// Stop the retention scheduler first so no sweep races the storage close
	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
	}

	// Stop log consumer before the event service so in-flight batches drain
	if a.LogConsumer != nil {
		if err := a.LogConsumer.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop log consumer")
		}
	}

	if a.LLMService != nil {
		if err := a.LLMService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM service")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	// Storage last; everything above may still flush writes while draining
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
