package publishing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quill/internal/config"
	"quill/internal/generation"
	"quill/internal/logging"
	"quill/internal/notifications"
	"quill/internal/pipeline"
	"quill/internal/queue"
	"quill/internal/ratelimit"
	"quill/internal/services"
	"quill/internal/services/social"
	"quill/internal/store"
)

// JobType is the queue job type handled by Syncer.HandleJob.
const JobType = "social.sync"

// Request is the sync job payload.
type Request struct {
	SubjectID string `json:"subject_id"`
	Limit     int    `json:"limit,omitempty"`
}

// Platform is the social API surface used by the syncer.
type Platform interface {
	Timeline(ctx context.Context, subject string, limit int) ([]social.Post, error)
	CreatePost(ctx context.Context, subject string, req social.PostRequest) (social.Post, error)
}

// Limiter is the rate limiter surface used by the syncer.
type Limiter interface {
	Check(ctx context.Context, endpoint, subject string) (ratelimit.Decision, error)
	Record(ctx context.Context, endpoint, subject string) error
}

// Result is reported back as the job result.
type Result struct {
	SubjectID   string                 `json:"subject_id"`
	Published   int                    `json:"published"`
	Reconciled  int                    `json:"reconciled"`
	Remaining   int                    `json:"remaining"`
	Rescheduled *ratelimit.Rescheduled `json:"rescheduled,omitempty"`
}

// Syncer publishes pending monologues for one subject per run.
type Syncer struct {
	store         *store.Store
	platform      Platform
	limiter       Limiter
	jobs          ratelimit.Enqueuer
	notifier      notifications.Service
	logger        *slog.Logger
	timelineLimit int
}

// NewSyncer constructs a Syncer.
func NewSyncer(entities *store.Store, platform Platform, limiter Limiter, jobs ratelimit.Enqueuer, notifier notifications.Service, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	return &Syncer{
		store:         entities,
		platform:      platform,
		limiter:       limiter,
		jobs:          jobs,
		notifier:      notifier,
		logger:        logging.NewComponentLogger(logger, "publishing"),
		timelineLimit: 50,
	}
}

// ClientRef is the idempotency marker attached to a post for an artifact
// cycle.
func ClientRef(artifact *store.Artifact) string {
	return fmt.Sprintf("quill-%s-c%d", artifact.ID, artifact.GenerationCount)
}

// HandleJob adapts Sync to the worker contract.
func (s *Syncer) HandleJob(ctx context.Context, job *queue.Job) (any, error) {
	var req Request
	if err := job.Decode(&req); err != nil {
		return nil, services.Wrap(services.ErrValidation, "publishing", "decode", "invalid job payload", err)
	}
	return s.Sync(ctx, req)
}

// Sync publishes every publishable artifact of req.SubjectID that the quota
// allows.
func (s *Syncer) Sync(ctx context.Context, req Request) (Result, error) {
	subject := strings.TrimSpace(req.SubjectID)
	if subject == "" {
		return Result{}, services.Wrap(services.ErrValidation, "publishing", "sync", "subject id is required", nil)
	}
	ctx = services.WithStage(ctx, "social")
	logger := logging.WithContext(ctx, s.logger).With(logging.String("subject", subject))
	result := Result{SubjectID: subject}

	pending, err := s.store.ListPublishable(ctx, subject, req.Limit)
	if err != nil {
		return result, err
	}
	result.Remaining = len(pending)
	if len(pending) == 0 {
		return result, nil
	}

	decision, err := s.acquire(ctx, config.EndpointUserTimeline, subject)
	if err != nil {
		return result, err
	}
	if !decision.Allowed {
		return s.reschedule(ctx, logger, result, req, config.EndpointUserTimeline, decision)
	}
	timeline, err := s.platform.Timeline(ctx, subject, s.timelineLimit)
	if err != nil {
		if d, ok := upstreamLimited(err); ok {
			return s.reschedule(ctx, logger, result, req, config.EndpointUserTimeline, d)
		}
		return result, err
	}
	byRef := make(map[string]social.Post, len(timeline))
	for _, post := range timeline {
		if post.ClientRef != "" {
			byRef[post.ClientRef] = post
		}
	}

	for _, artifact := range pending {
		ref := ClientRef(artifact)
		if post, ok := byRef[ref]; ok {
			at := post.CreatedAt
			if at.IsZero() {
				at = s.store.Now()
			}
			if err := s.store.MarkPublished(ctx, artifact.ID, post.ID, at); err != nil {
				return result, err
			}
			result.Reconciled++
			result.Remaining--
			logger.Info("post already on timeline; recorded",
				logging.ArtifactID(artifact.ID),
				logging.String("post_id", post.ID),
				logging.Event("post_reconciled"),
			)
			continue
		}

		postReq, err := s.buildPost(ctx, artifact, ref)
		if err != nil {
			logging.WarnWithContext(logger, "artifact cannot be posted; skipped", "precondition_warning",
				logging.ArtifactID(artifact.ID),
				logging.Error(err),
			)
			continue
		}

		decision, err := s.acquire(ctx, config.EndpointPostCreate, subject)
		if err != nil {
			return result, err
		}
		if !decision.Allowed {
			return s.reschedule(ctx, logger, result, req, config.EndpointPostCreate, decision)
		}
		post, err := s.platform.CreatePost(ctx, subject, postReq)
		if err != nil {
			if d, ok := upstreamLimited(err); ok {
				return s.reschedule(ctx, logger, result, req, config.EndpointPostCreate, d)
			}
			return result, err
		}
		at := post.CreatedAt
		if at.IsZero() {
			at = s.store.Now()
		}
		if err := s.store.MarkPublished(ctx, artifact.ID, post.ID, at); err != nil {
			return result, err
		}
		result.Published++
		result.Remaining--
		logger.Info("artifact published",
			logging.ArtifactID(artifact.ID),
			logging.String("post_id", post.ID),
			logging.Event("post_created"),
		)
	}

	if result.Published > 0 {
		if err := s.notifier.Publish(ctx, notifications.EventPublished, notifications.Payload{
			"subject": subject,
			"count":   result.Published,
		}); err != nil {
			logger.Warn("publish notification failed", logging.Error(err))
		}
	}
	return result, nil
}

// acquire checks the quota and, when allowed, records the call about to be
// made.
func (s *Syncer) acquire(ctx context.Context, endpoint, subject string) (ratelimit.Decision, error) {
	decision, err := s.limiter.Check(ctx, endpoint, subject)
	if err != nil || !decision.Allowed {
		return decision, err
	}
	if err := s.limiter.Record(ctx, endpoint, subject); err != nil {
		return decision, err
	}
	return decision, nil
}

func (s *Syncer) reschedule(ctx context.Context, logger *slog.Logger, result Result, req Request, endpoint string, decision ratelimit.Decision) (Result, error) {
	rescheduled, err := ratelimit.Reschedule(ctx, s.jobs, logger, config.QueueSocial, JobType,
		ratelimit.SocialSyncJobID(result.SubjectID), req, endpoint, result.SubjectID, decision)
	if err != nil {
		return result, err
	}
	result.Rescheduled = rescheduled
	return result, nil
}

// upstreamLimited converts a platform 429 into a denied decision.
func upstreamLimited(err error) (ratelimit.Decision, bool) {
	var limited *social.RateLimitedError
	if !errors.As(err, &limited) {
		return ratelimit.Decision{}, false
	}
	retry := limited.RetryAfter
	if retry <= 0 {
		retry = time.Minute
	}
	return ratelimit.Decision{Allowed: false, RetryAfter: retry}, true
}

func (s *Syncer) buildPost(ctx context.Context, artifact *store.Artifact, ref string) (social.PostRequest, error) {
	payload, err := generation.DecodeResult(artifact.Result)
	if err != nil {
		return social.PostRequest{}, err
	}
	mono, ok := payload.(generation.MonologuePayload)
	if !ok {
		return social.PostRequest{}, services.Wrap(services.ErrValidation, "publishing", "build post", "artifact has no monologue result", nil)
	}
	text := strings.TrimSpace(mono.PostText)
	if text == "" {
		text = strings.TrimSpace(mono.Script)
	}
	if text == "" {
		return social.PostRequest{}, services.Wrap(services.ErrValidation, "publishing", "build post", "artifact has no post text", nil)
	}
	if len(mono.Hashtags) > 0 {
		tags := make([]string, 0, len(mono.Hashtags))
		for _, tag := range mono.Hashtags {
			tags = append(tags, "#"+tag)
		}
		text += "\n" + strings.Join(tags, " ")
	}
	req := social.PostRequest{Text: text, ClientRef: ref}
	video, err := s.store.GetDerived(ctx, artifact.ID, store.AssetVideo)
	if err != nil {
		return social.PostRequest{}, err
	}
	if video != nil && video.GenerationCycle == artifact.GenerationCount {
		req.MediaURL = video.URL
	}
	return req, nil
}

// EnqueueSync schedules a sync for subject. Pending syncs for the same
// subject collapse into one job, and a pending sync already delayed past
// delay keeps its run time.
func EnqueueSync(ctx context.Context, jobs ratelimit.Enqueuer, subject string, delay time.Duration) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return services.Wrap(services.ErrValidation, "publishing", "enqueue", "subject id is required", nil)
	}
	if _, err := jobs.Enqueue(ctx, config.QueueSocial, JobType, Request{SubjectID: subject}, queue.EnqueueOptions{
		JobID:     ratelimit.SocialSyncJobID(subject),
		Delay:     delay,
		Priority:  queue.PriorityDefault,
		KeepLater: true,
	}); err != nil {
		return fmt.Errorf("enqueue social sync: %w", err)
	}
	return nil
}

// AfterDerived returns a pipeline completion hook that schedules a sync when
// a monologue's derived media is ready.
func AfterDerived(entities *store.Store, jobs ratelimit.Enqueuer) pipeline.CompletionHook {
	return func(ctx context.Context, artifact *store.Artifact, _ pipeline.Report) error {
		if artifact.Family != store.FamilyMonologue || artifact.PublishedAt != nil {
			return nil
		}
		input, err := entities.GetInput(ctx, artifact.InputID)
		if err != nil {
			return err
		}
		if input.SubjectID == "" {
			return nil
		}
		return EnqueueSync(ctx, jobs, input.SubjectID, 0)
	}
}
