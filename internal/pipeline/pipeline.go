package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quill/internal/blob"
	"quill/internal/config"
	"quill/internal/logging"
	"quill/internal/media/ffprobe"
	"quill/internal/media/render"
	"quill/internal/notifications"
	"quill/internal/queue"
	"quill/internal/services"
	"quill/internal/services/llm"
	"quill/internal/services/narration"
	"quill/internal/store"
)

// JobType is the queue job type handled by Runner.HandleJob.
const JobType = "derived.run"

// JobID returns the dedupe id of the pipeline job for an artifact.
func JobID(artifactID string) string {
	return "derive:" + artifactID
}

// Request selects what a run does per stage.
type Request struct {
	ArtifactID string                   `json:"artifact_id"`
	Reset      map[store.AssetKind]bool `json:"reset,omitempty"`
	Skip       map[store.AssetKind]bool `json:"skip,omitempty"`
}

// StageStatus is the outcome of one stage.
type StageStatus string

const (
	StageProduced  StageStatus = "produced"
	StageExisting  StageStatus = "existing"
	StageSkipped   StageStatus = "skipped"
	StageDuplicate StageStatus = "duplicate"
	StageBlocked   StageStatus = "blocked"
	StageStale     StageStatus = "stale"
	StageFailed    StageStatus = "failed"
)

// StageReport describes one stage of a run.
type StageReport struct {
	Kind     store.AssetKind     `json:"kind"`
	Status   StageStatus         `json:"status"`
	Asset    *store.DerivedAsset `json:"-"`
	URL      string              `json:"url,omitempty"`
	Fallback string              `json:"fallback,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Report summarizes a run.
type Report struct {
	ArtifactID string        `json:"artifact_id"`
	Cycle      int           `json:"cycle"`
	Stages     []StageReport `json:"stages"`
	CostUSD    float64       `json:"cost_usd"`
	Skipped    string        `json:"skipped,omitempty"`
}

// Stage returns the report for kind, if the stage ran.
func (r Report) Stage(kind store.AssetKind) (StageReport, bool) {
	for _, stage := range r.Stages {
		if stage.Kind == kind {
			return stage, true
		}
	}
	return StageReport{}, false
}

// ScriptWriter turns primary content into a narration script.
type ScriptWriter interface {
	Complete(ctx context.Context, req llm.Request) (llm.Completion, error)
}

// Synthesizer renders narration audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, dst string) (narration.Result, error)
}

// VideoRenderer renders the final video.
type VideoRenderer interface {
	Render(ctx context.Context, req render.Request) (render.Result, error)
}

// Dependencies are the collaborators a Runner drives.
type Dependencies struct {
	Store    *store.Store
	Blobs    blob.Store
	Writer   ScriptWriter
	Voice    Synthesizer
	Probe    ffprobe.Prober
	Renderer VideoRenderer
	Notifier notifications.Service
	Logger   *slog.Logger
	WorkDir  string

	// OnComplete runs after a pipeline pass finishes without failures.
	OnComplete CompletionHook
}

// CompletionHook is called with the artifact once its derived assets are
// all in place. A hook error fails the job so the hook is retried.
type CompletionHook func(ctx context.Context, artifact *store.Artifact, report Report) error

// Runner executes derived stages.
type Runner struct {
	store    *store.Store
	blobs    blob.Store
	writer   ScriptWriter
	voice    Synthesizer
	probe    ffprobe.Prober
	renderer VideoRenderer
	notifier notifications.Service
	logger   *slog.Logger
	workDir  string
	onDone   CompletionHook
}

// New constructs a Runner.
func New(deps Dependencies) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	workDir := deps.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "quill-derived")
	}
	return &Runner{
		store:    deps.Store,
		blobs:    deps.Blobs,
		writer:   deps.Writer,
		voice:    deps.Voice,
		probe:    deps.Probe,
		renderer: deps.Renderer,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "pipeline"),
		workDir:  workDir,
		onDone:   deps.OnComplete,
	}
}

// NewFromConfig wires the production collaborators.
func NewFromConfig(cfg *config.Config, entities *store.Store, blobs blob.Store, logger *slog.Logger, onComplete CompletionHook) *Runner {
	return New(Dependencies{
		Store:  entities,
		Blobs:  blobs,
		Writer: llm.NewClient(llm.Config(cfg.GetLLM())),
		Voice: narration.NewClient(narration.Config{
			APIKey:         cfg.Narration.APIKey,
			BaseURL:        cfg.Narration.BaseURL,
			Model:          cfg.Narration.Model,
			Voice:          cfg.Narration.Voice,
			TimeoutSeconds: cfg.Narration.TimeoutSeconds,
			CostPerKChar:   cfg.Narration.CostPerKChar,
		}),
		Probe:    ffprobe.Binary(cfg.Video.FFprobeBinary),
		Renderer: render.NewFromConfig(cfg),
		Notifier: notifications.NewService(cfg),
		Logger:   logger,
		WorkDir:  filepath.Join(cfg.Paths.WorkDir, "derived"),

		OnComplete: onComplete,
	})
}

// HandleJob adapts Run to the worker contract.
func (r *Runner) HandleJob(ctx context.Context, job *queue.Job) (any, error) {
	var req Request
	if err := job.Decode(&req); err != nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "decode", "invalid job payload", err)
	}
	report, err := r.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// Run executes every stage for the artifact's current generation cycle.
func (r *Runner) Run(ctx context.Context, req Request) (Report, error) {
	req.ArtifactID = strings.TrimSpace(req.ArtifactID)
	if req.ArtifactID == "" {
		return Report{}, services.Wrap(services.ErrValidation, "pipeline", "run", "artifact id is required", nil)
	}
	ctx = services.WithArtifactID(ctx, req.ArtifactID)
	logger := logging.WithContext(ctx, r.logger)

	artifact, err := r.store.GetArtifact(ctx, req.ArtifactID)
	if err != nil {
		return Report{}, err
	}
	report := Report{ArtifactID: artifact.ID, Cycle: artifact.GenerationCount}
	if artifact.Status != store.StatusCompleted {
		logging.WarnWithContext(logger, "derived pipeline skipped; artifact is not completed", "precondition_warning",
			logging.String("status", string(artifact.Status)),
			logging.String(logging.FieldImpact, "the next completed cycle schedules its own pipeline run"),
		)
		report.Skipped = "artifact status " + string(artifact.Status)
		return report, nil
	}

	run := &stageRun{
		runner:   r,
		artifact: artifact,
		cycle:    artifact.GenerationCount,
		workDir:  filepath.Join(r.workDir, artifact.ID, fmt.Sprintf("c%d", artifact.GenerationCount)),
		outputs:  make(map[store.AssetKind]*store.DerivedAsset),
	}
	defer os.RemoveAll(run.workDir)

	var (
		failures     []error
		upstreamDown bool
		stale        bool
	)
	for _, kind := range store.AssetKinds() {
		stageCtx := services.WithStage(ctx, string(kind))
		stageLogger := logging.WithContext(stageCtx, r.logger)
		started := time.Now()
		stageReport, err := run.execute(stageCtx, stageLogger, kind, req)
		switch {
		case err != nil && stageReport.Status == StageBlocked && upstreamDown:
			// The upstream failure already fails the run and decides whether
			// it is retried.
			stageReport.Error = err.Error()
			logging.WarnWithContext(stageLogger, "derived stage blocked by upstream failure", "stage_blocked",
				logging.Error(err))
		case err != nil:
			failures = append(failures, fmt.Errorf("%s stage: %w", kind, err))
			if stageReport.Status == "" {
				stageReport.Status = StageFailed
			}
			stageReport.Error = err.Error()
			stageLogger.Error("derived stage failed",
				logging.Error(err),
				logging.String("error_kind", services.Kind(err)),
				logging.Seconds("elapsed_seconds", time.Since(started)),
				logging.Event("stage_failed"),
				logging.Alert("stage_failed"),
			)
		default:
			stageLogger.Info("derived stage finished",
				logging.String("status", string(stageReport.Status)),
				logging.Seconds("elapsed_seconds", time.Since(started)),
				logging.Event("stage_complete"),
			)
		}
		if stageReport.Asset != nil {
			stageReport.URL = stageReport.Asset.URL
			if stageReport.Status == StageProduced {
				report.CostUSD += stageReport.Asset.CostUSD
			}
		}
		report.Stages = append(report.Stages, stageReport)
		switch stageReport.Status {
		case StageFailed, StageBlocked:
			upstreamDown = true
		case StageStale:
			upstreamDown = true
			stale = true
		}
	}

	if len(failures) > 0 {
		return report, fmt.Errorf("derived pipeline for %s: %w", artifact.ID, errors.Join(failures...))
	}
	if stale {
		report.Skipped = "artifact regenerated during run"
		return report, nil
	}
	r.notifyProduced(ctx, report)
	if r.onDone != nil {
		if err := r.onDone(ctx, artifact, report); err != nil {
			return report, fmt.Errorf("derived pipeline for %s: completion hook: %w", artifact.ID, err)
		}
	}
	return report, nil
}

func (r *Runner) notifyProduced(ctx context.Context, report Report) {
	var produced []string
	for _, stage := range report.Stages {
		if stage.Status == StageProduced {
			produced = append(produced, string(stage.Kind))
		}
	}
	if len(produced) == 0 {
		return
	}
	if err := r.notifier.Publish(ctx, notifications.EventDerivedCompleted, notifications.Payload{
		"artifactID": report.ArtifactID,
		"kinds":      strings.Join(produced, ", "),
	}); err != nil {
		r.logger.Warn("derived notification failed", logging.Error(err))
	}
}
