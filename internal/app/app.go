// Package app assembles the stores, providers, and job handlers shared by the
// worker process and the CLI.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"quill/internal/blob"
	"quill/internal/config"
	"quill/internal/database"
	"quill/internal/generation"
	"quill/internal/logging"
	"quill/internal/notifications"
	"quill/internal/pipeline"
	"quill/internal/publishing"
	"quill/internal/queue"
	"quill/internal/ratelimit"
	"quill/internal/reaper"
	"quill/internal/services/llm"
	"quill/internal/services/social"
	"quill/internal/store"
	"quill/internal/worker"
)

// App holds every long-lived collaborator for one process.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	DB       *sql.DB
	Entities *store.Store
	Jobs     *queue.Store
	Blobs    blob.Store
	Redis    *redis.Client
	Limiter  *ratelimit.Limiter
	Notifier notifications.Service

	Orchestrator *generation.Orchestrator
	Pipeline     *pipeline.Runner
	Syncer       *publishing.Syncer
	Reaper       *reaper.Reaper
}

// Open connects to the database, blob storage, and Redis, and constructs the
// job handlers.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	db, err := database.OpenFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	blobs, err := blob.New(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Entities: store.New(db),
		Jobs:     queue.NewFromConfig(db, cfg),
		Blobs:    blobs,
		Redis:    ratelimit.NewClient(cfg),
		Notifier: notifications.NewService(cfg),
	}
	a.Limiter = ratelimit.NewFromConfig(a.Redis, cfg)

	text := llm.NewClient(llm.Config(cfg.GetLLM()))
	a.Orchestrator = generation.New(a.Entities, a.Jobs, blobs, a.Notifier, logger,
		&generation.StoryStrategy{LLM: text},
		&generation.MonologueStrategy{LLM: text},
	)
	var afterDerived pipeline.CompletionHook
	if cfg.Social.Enabled {
		afterDerived = publishing.AfterDerived(a.Entities, a.Jobs)
	}
	a.Pipeline = pipeline.NewFromConfig(cfg, a.Entities, blobs, logger, afterDerived)
	a.Syncer = publishing.NewSyncer(a.Entities,
		social.NewClient(cfg.Social.BaseURL, cfg.Social.Token, cfg.Social.TimeoutSeconds),
		a.Limiter, a.Jobs, a.Notifier, logger)
	a.Reaper = reaper.NewFromConfig(cfg, a.Entities, blobs, logger)
	return a, nil
}

// Register attaches every job handler to runner.
func (a *App) Register(runner *worker.Runner) {
	runner.Register(config.QueueGeneration, generation.JobType, a.Orchestrator.HandleJob)
	runner.Register(config.QueueDerived, pipeline.JobType, a.Pipeline.HandleJob)
	runner.Register(config.QueueMaintenance, reaper.JobType, a.Reaper.HandleJob)
	runner.Register(config.QueueMaintenance, reaper.SweepJobType, a.Reaper.HandleSweepJob(a.Config.ExpiredRetention()))
	if a.Config.Social.Enabled {
		runner.Register(config.QueueSocial, publishing.JobType, a.Syncer.HandleJob)
	}
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
