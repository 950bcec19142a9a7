package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/phrazzld/orchestra-api/internal/config"
	"github.com/phrazzld/orchestra-api/internal/generation"
	"github.com/phrazzld/orchestra-api/internal/platform/gemini"
	"github.com/phrazzld/orchestra-api/internal/platform/postgres"
	"github.com/phrazzld/orchestra-api/internal/queue"
	"github.com/phrazzld/orchestra-api/internal/service"
	"github.com/phrazzld/orchestra-api/internal/service/auth"
	"github.com/phrazzld/orchestra-api/internal/store"
	"github.com/phrazzld/orchestra-api/internal/worker"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	userStore store.UserStore
	taskStore store.TaskStore

	jwtService       auth.JWTService
	passwordVerifier auth.PasswordVerifier
	generator        generation.Generator
	taskService      service.TaskService

	taskQueue  queue.Queue
	workerPool *worker.Pool
}

// newApplication creates a new application instance with all dependencies
// initialized. It accepts the configuration, logger, and database connection
// that must be established before application wiring.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *sql.DB,
) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	logger.Info("JWT authentication service initialized",
		"token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes)

	app.passwordVerifier = auth.NewBcryptVerifier()

	app.userStore = postgres.NewUserStore(db, bcrypt.DefaultCost)
	app.taskStore = postgres.NewTaskStore(db)

	app.generator, err = gemini.NewGenerator(
		ctx,
		logger.With("component", "llm_generator"),
		cfg.LLM,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM generator: %w", err)
	}
	logger.Info("LLM generator initialized", "model", cfg.LLM.ModelName)

	app.taskQueue, err = setupQueue(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to setup task queue: %w", err)
	}

	app.taskService, err = service.NewTaskService(app.taskStore, app.taskQueue, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	app.workerPool, err = worker.NewPool(
		app.taskStore,
		app.taskQueue,
		app.generator,
		worker.Config{
			Count:        cfg.Worker.Count,
			MaxRetries:   cfg.Worker.MaxRetries,
			RetryBackoff: time.Duration(cfg.Worker.RetryBackoffSeconds) * time.Second,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	app.workerPool.Start()
	logger.Info("Worker pool started",
		"worker_count", cfg.Worker.Count,
		"max_retries", cfg.Worker.MaxRetries)

	logger.Info("Application initialized successfully")
	return app, nil
}

// setupQueue builds the task queue for the configured driver.
func setupQueue(cfg *config.Config, logger *slog.Logger) (queue.Queue, error) {
	switch cfg.Queue.Driver {
	case "redis":
		return queue.NewRedisQueue(cfg.Queue.RedisAddr, logger)
	case "memory":
		return queue.NewMemoryQueue(cfg.Queue.BufferSize, logger), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
}

// Run starts the application server, handling lifecycle and cleanup.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources. Workers are
// stopped before the queue closes so in-flight tasks finish or re-enqueue.
func (app *application) cleanup() {
	if app.workerPool != nil {
		app.workerPool.Stop()
	}

	if app.taskQueue != nil {
		if err := app.taskQueue.Close(); err != nil {
			app.logger.Error("Error closing task queue", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
