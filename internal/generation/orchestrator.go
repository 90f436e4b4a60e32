package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quill/internal/blob"
	"quill/internal/config"
	"quill/internal/logging"
	"quill/internal/notifications"
	"quill/internal/pipeline"
	"quill/internal/queue"
	"quill/internal/services"
	"quill/internal/store"
)

// JobType is the queue job type handled by Orchestrator.HandleJob.
const JobType = "generation.run"

// JobID returns the dedupe id of the generation job for an artifact.
func JobID(artifactID string) string {
	return "generate:" + artifactID
}

// Enqueuer is the part of the job queue the orchestrator needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName, jobType string, payload any, opts queue.EnqueueOptions) (*queue.Job, error)
}

// Request is the generation job payload.
type Request struct {
	ArtifactID string       `json:"artifact_id"`
	Regenerate bool         `json:"regenerate,omitempty"`
	Family     store.Family `json:"family,omitempty"`
	SkipText   bool         `json:"skip_text,omitempty"`
	SkipAudio  bool         `json:"skip_audio,omitempty"`
	SkipVideo  bool         `json:"skip_video,omitempty"`
}

// Result is reported back as the job result.
type Result struct {
	ArtifactID      string       `json:"artifact_id"`
	Status          store.Status `json:"status"`
	Cycle           int          `json:"cycle,omitempty"`
	Skipped         bool         `json:"skipped,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	CostUSD         float64      `json:"cost_usd,omitempty"`
	DerivedEnqueued bool         `json:"derived_enqueued,omitempty"`
	RemovedBlobs    int          `json:"removed_blobs,omitempty"`
}

// Orchestrator drives generation cycles.
type Orchestrator struct {
	store      *store.Store
	jobs       Enqueuer
	blobs      blob.Store
	notifier   notifications.Service
	logger     *slog.Logger
	strategies map[store.Family]Strategy
}

// New constructs an orchestrator. blobs and notifier may be nil.
func New(entities *store.Store, jobs Enqueuer, blobs blob.Store, notifier notifications.Service, logger *slog.Logger, strategies ...Strategy) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	o := &Orchestrator{
		store:      entities,
		jobs:       jobs,
		blobs:      blobs,
		notifier:   notifier,
		logger:     logging.NewComponentLogger(logger, "generation"),
		strategies: make(map[store.Family]Strategy, len(strategies)),
	}
	for _, s := range strategies {
		o.strategies[s.Family()] = s
	}
	return o
}

// HandleJob adapts Handle to the worker contract.
func (o *Orchestrator) HandleJob(ctx context.Context, job *queue.Job) (any, error) {
	var req Request
	if err := job.Decode(&req); err != nil {
		return nil, services.Wrap(services.ErrValidation, "generation", "decode", "invalid job payload", err)
	}
	return o.Handle(ctx, req)
}

// Handle runs one generation cycle for req.ArtifactID.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Result, error) {
	req.ArtifactID = strings.TrimSpace(req.ArtifactID)
	if req.ArtifactID == "" {
		return Result{}, services.Wrap(services.ErrValidation, "generation", "handle", "artifact id is required", nil)
	}
	ctx = services.WithArtifactID(ctx, req.ArtifactID)
	ctx = services.WithStage(ctx, "generation")
	logger := logging.WithContext(ctx, o.logger)

	artifact, err := o.store.GetArtifact(ctx, req.ArtifactID)
	if err != nil {
		return Result{}, err
	}
	input, err := o.store.GetInput(ctx, artifact.InputID)
	if err != nil {
		return Result{}, err
	}

	result := Result{ArtifactID: artifact.ID, Status: artifact.Status}
	switch {
	case !req.Regenerate && artifact.Status == store.StatusCompleted:
		logging.WarnWithContext(logger, "artifact already completed; duplicate delivery ignored", "precondition_warning",
			logging.Int("generation_count", artifact.GenerationCount),
			logging.String(logging.FieldImpact, "no new cycle started"),
			logging.String(logging.FieldErrorHint, "enqueue with regenerate to produce new content"),
		)
		result.Skipped = true
		result.Reason = "already completed"
		result.Cycle = artifact.GenerationCount
		// An earlier delivery may have completed the cycle and then failed
		// to schedule the pipeline.
		enqueued, err := o.resumeDerived(ctx, artifact, req)
		if err != nil {
			return result, err
		}
		result.DerivedEnqueued = enqueued
		return result, nil
	case req.Regenerate && !artifact.Status.Terminal():
		logging.WarnWithContext(logger, "regenerating an artifact that is not in a terminal state", "precondition_warning",
			logging.String("status", string(artifact.Status)),
			logging.String(logging.FieldImpact, "any in-flight cycle will be superseded"),
		)
	}

	reset, err := o.store.BeginGeneration(ctx, artifact.ID, artifact.GenerationToken)
	if err != nil {
		if errors.Is(err, services.ErrConflict) {
			logger.Info("another worker owns this artifact; nothing to do",
				logging.Event("generation_superseded"))
			result.Skipped = true
			result.Reason = "generation token changed"
			return result, nil
		}
		return Result{}, err
	}
	artifact = reset.Artifact
	token := artifact.GenerationToken
	result.Cycle = artifact.GenerationCount
	result.RemovedBlobs = o.deleteBlobs(ctx, logger, reset.RemovedStorageKeys)

	family := artifact.Family
	strategy, dispatchErr := o.dispatch(family, req.Family)
	if dispatchErr != nil {
		return o.fail(ctx, logger, result, artifact.ID, token, store.Telemetry{}, dispatchErr)
	}

	logger.Info("generation started",
		logging.String("family", string(family)),
		logging.Int("cycle", artifact.GenerationCount),
		logging.String("previous_status", string(reset.PreviousStatus)),
		logging.Bool("regenerate", req.Regenerate),
		logging.Event("generation_start"),
	)
	started := time.Now()

	output, genErr := generate(ctx, strategy, input, artifact)
	if output.Telemetry.GenerationSeconds == 0 {
		output.Telemetry.GenerationSeconds = time.Since(started).Seconds()
	}
	var encoded json.RawMessage
	if genErr == nil {
		encoded, genErr = o.persist(ctx, artifact.ID, token, output)
	}
	if genErr != nil {
		return o.fail(ctx, logger, result, artifact.ID, token, output.Telemetry, genErr)
	}

	completed, err := o.store.CompleteGeneration(ctx, artifact.ID, token, store.Completion{
		Title:     output.Title,
		Result:    encoded,
		Telemetry: output.Telemetry,
	})
	if err != nil {
		if errors.Is(err, services.ErrConflict) {
			logging.WarnWithContext(logger, "cycle superseded before completion; result discarded", "generation_superseded",
				logging.String(logging.FieldImpact, "the newer cycle owns the artifact"))
			result.Skipped = true
			result.Reason = "superseded"
			return result, nil
		}
		return o.fail(ctx, logger, result, artifact.ID, token, output.Telemetry,
			services.Wrap(services.ErrTransient, "generation", "complete", "record completed cycle", err))
	}
	result.Status = completed.Status
	result.CostUSD = completed.Telemetry.CostUSD
	logger.Info("generation completed",
		logging.String("title", completed.Title),
		logging.Int("prompt_tokens", completed.Telemetry.PromptTokens),
		logging.Int("completion_tokens", completed.Telemetry.CompletionTokens),
		logging.Cost(completed.Telemetry.CostUSD),
		logging.Seconds("elapsed_seconds", time.Since(started)),
		logging.Event("generation_complete"),
	)
	if err := o.notifier.Publish(ctx, notifications.EventGenerationCompleted, notifications.Payload{
		"artifactID": completed.ID,
		"title":      completed.Title,
		"family":     string(completed.Family),
	}); err != nil {
		logger.Warn("generation notification failed", logging.Error(err))
	}

	enqueued, err := o.enqueueDerived(ctx, completed.ID, req)
	if err != nil {
		return result, err
	}
	result.DerivedEnqueued = enqueued
	return result, nil
}

// dispatch picks the strategy for the artifact's family. requested, when
// set, must agree with it.
func (o *Orchestrator) dispatch(family, requested store.Family) (Strategy, error) {
	if requested != "" && requested != family {
		return nil, services.Wrap(services.ErrValidation, "generation", "dispatch",
			fmt.Sprintf("request family %q does not match artifact family %q", requested, family), nil)
	}
	strategy, ok := o.strategies[family]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "generation", "dispatch", fmt.Sprintf("no strategy for family %q", family), nil)
	}
	return strategy, nil
}

// generate calls the strategy and turns a panic into a generation failure
// so the artifact is marked failed instead of left generating.
func generate(ctx context.Context, strategy Strategy, input *store.Input, artifact *store.Artifact) (out Output, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = services.Wrap(services.ErrGeneration, "generation", "generate",
				fmt.Sprintf("strategy panicked: %v", recovered), nil)
		}
	}()
	return strategy.Generate(ctx, input, artifact)
}

// persist writes the pages of the cycle and returns the encoded result.
func (o *Orchestrator) persist(ctx context.Context, artifactID, token string, output Output) (json.RawMessage, error) {
	if output.Payload == nil {
		return nil, services.Wrap(services.ErrGeneration, "generation", "persist", "strategy returned no payload", nil)
	}
	if len(output.Pages) == 0 {
		return nil, services.Wrap(services.ErrGeneration, "generation", "persist", "strategy returned no content", nil)
	}
	encoded, err := EncodeResult(output.Payload)
	if err != nil {
		return nil, err
	}
	if err := o.store.ReplacePages(ctx, artifactID, token, output.Pages); err != nil {
		return nil, err
	}
	return encoded, nil
}

func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, result Result, artifactID, token string, telemetry store.Telemetry, cause error) (Result, error) {
	message := services.Details(cause).Message
	failed, err := o.store.FailGeneration(ctx, artifactID, token, message, telemetry)
	if err != nil {
		if errors.Is(err, services.ErrConflict) {
			logging.WarnWithContext(logger, "cycle superseded before failure was recorded", "generation_superseded",
				logging.Error(cause))
			result.Skipped = true
			result.Reason = "superseded"
			return result, nil
		}
		return Result{}, fmt.Errorf("record generation failure: %w (cause: %v)", err, cause)
	}
	result.Status = failed.Status
	logging.ErrorWithContext(logger, "generation failed", "generation_failed",
		logging.Error(cause),
		logging.String("error_kind", services.Kind(cause)),
		logging.Bool("retryable", services.Retryable(cause)),
		logging.Alert("generation_failed"),
	)
	if err := o.notifier.Publish(ctx, notifications.EventGenerationFailed, notifications.Payload{
		"artifactID": artifactID,
		"error":      message,
	}); err != nil {
		logger.Warn("failure notification failed", logging.Error(err))
	}
	var svcErr *services.ServiceError
	if errors.As(cause, &svcErr) {
		return result, cause
	}
	return result, services.Wrap(services.ErrGeneration, "generation", "generate", "strategy failed", cause)
}

// deleteBlobs removes the blobs of derived assets dropped by a reset.
// Failures leave orphans behind and are only logged.
func (o *Orchestrator) deleteBlobs(ctx context.Context, logger *slog.Logger, keys []string) int {
	if o.blobs == nil || len(keys) == 0 {
		return 0
	}
	removed := 0
	for _, key := range keys {
		if err := o.blobs.Delete(ctx, key); err != nil {
			logging.WarnWithContext(logger, "derived blob delete failed after reset", "storage_inconsistency",
				logging.String("storage_key", key),
				logging.Error(err),
				logging.String(logging.FieldImpact, "orphaned object remains in blob storage"),
			)
			continue
		}
		removed++
	}
	return removed
}

// resumeDerived re-enqueues the pipeline for a completed cycle that is
// still missing derived assets. The job id dedupes against a pending run.
func (o *Orchestrator) resumeDerived(ctx context.Context, artifact *store.Artifact, req Request) (bool, error) {
	if o.jobs == nil {
		return false, nil
	}
	assets, err := o.store.ListDerived(ctx, artifact.ID)
	if err != nil {
		return false, err
	}
	have := make(map[store.AssetKind]bool, len(assets))
	for _, asset := range assets {
		if asset.GenerationCycle == artifact.GenerationCount {
			have[asset.Kind] = true
		}
	}
	skipped := map[store.AssetKind]bool{
		store.AssetText:  req.SkipText,
		store.AssetAudio: req.SkipAudio,
		store.AssetVideo: req.SkipVideo,
	}
	for _, kind := range store.AssetKinds() {
		if !have[kind] && !skipped[kind] {
			return o.enqueueDerived(ctx, artifact.ID, req)
		}
	}
	return false, nil
}

func (o *Orchestrator) enqueueDerived(ctx context.Context, artifactID string, req Request) (bool, error) {
	if o.jobs == nil || (req.SkipText && req.SkipAudio && req.SkipVideo) {
		return false, nil
	}
	skip := map[store.AssetKind]bool{}
	if req.SkipText {
		skip[store.AssetText] = true
	}
	if req.SkipAudio {
		skip[store.AssetAudio] = true
	}
	if req.SkipVideo {
		skip[store.AssetVideo] = true
	}
	payload := pipeline.Request{ArtifactID: artifactID}
	if len(skip) > 0 {
		payload.Skip = skip
	}
	if _, err := o.jobs.Enqueue(ctx, config.QueueDerived, pipeline.JobType, payload, queue.EnqueueOptions{
		JobID:    pipeline.JobID(artifactID),
		Priority: queue.PriorityDefault,
	}); err != nil {
		return false, fmt.Errorf("enqueue derived pipeline: %w", err)
	}
	return true, nil
}

// Submit creates a pending artifact for in and enqueues its first cycle.
func Submit(ctx context.Context, entities *store.Store, jobs Enqueuer, in store.Input) (*store.Artifact, error) {
	_, artifact, err := entities.CreateArtifact(ctx, in, store.StatusPending)
	if err != nil {
		return nil, err
	}
	if err := Enqueue(ctx, jobs, Request{ArtifactID: artifact.ID}); err != nil {
		return artifact, err
	}
	return artifact, nil
}

// SubmitDraft moves a draft to pending and enqueues its first cycle.
func SubmitDraft(ctx context.Context, entities *store.Store, jobs Enqueuer, artifactID string) (*store.Artifact, error) {
	artifact, err := entities.Submit(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if err := Enqueue(ctx, jobs, Request{ArtifactID: artifact.ID}); err != nil {
		return artifact, err
	}
	return artifact, nil
}

// Enqueue schedules a generation job. Repeated requests for the same
// artifact collapse into one pending job.
func Enqueue(ctx context.Context, jobs Enqueuer, req Request) error {
	if _, err := jobs.Enqueue(ctx, config.QueueGeneration, JobType, req, queue.EnqueueOptions{
		JobID:    JobID(req.ArtifactID),
		Priority: queue.PriorityUser,
	}); err != nil {
		return fmt.Errorf("enqueue generation: %w", err)
	}
	return nil
}
