package publishing_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"quill/internal/config"
	"quill/internal/generation"
	"quill/internal/pipeline"
	"quill/internal/publishing"
	"quill/internal/queue"
	"quill/internal/ratelimit"
	"quill/internal/services/social"
	"quill/internal/store"
	"quill/internal/testsupport"
)

type platform struct {
	mu        sync.Mutex
	posts     []social.Post
	created   []social.PostRequest
	timelines int
	limited   bool
}

func (p *platform) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(r.URL.Path, "/users/acct-1/posts") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			p.timelines++
			_ = json.NewEncoder(w).Encode(map[string]any{"data": p.posts})
		case http.MethodPost:
			if p.limited {
				w.Header().Set("Retry-After", "90")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			var req social.PostRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode post: %v", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			p.created = append(p.created, req)
			post := social.Post{
				ID:        "post-" + string(rune('a'+len(p.created)-1)),
				Text:      req.Text,
				ClientRef: req.ClientRef,
				MediaURL:  req.MediaURL,
				CreatedAt: time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
			}
			p.posts = append(p.posts, post)
			_ = json.NewEncoder(w).Encode(map[string]any{"data": post})
		}
	})
}

type fixture struct {
	entities *store.Store
	jobs     *queue.Store
	clock    *testsupport.Clock
	limiter  *ratelimit.Limiter
	platform *platform
	syncer   *publishing.Syncer
}

func newFixture(t *testing.T, postLimit int) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	entities, jobs := testsupport.MustOpenStores(t, cfg, clock)
	client, _ := testsupport.NewRedis(t)
	limiter := ratelimit.New(client, map[string]ratelimit.Quota{
		config.EndpointPostCreate:   {Limit: postLimit, Window: 15 * time.Minute},
		config.EndpointUserTimeline: {Limit: 100, Window: 15 * time.Minute},
	}, ratelimit.WithClock(clock.Now))

	p := &platform{}
	server := httptest.NewServer(p.handler(t))
	t.Cleanup(server.Close)

	f := &fixture{entities: entities, jobs: jobs, clock: clock, limiter: limiter, platform: p}
	f.syncer = publishing.NewSyncer(entities, social.NewClient(server.URL, "token", 5), limiter, jobs, nil, nil)
	return f
}

// monologue creates a completed monologue carrying a real post payload.
func (f *fixture) monologue(t *testing.T, title string) *store.Artifact {
	t.Helper()
	ctx := context.Background()
	_, artifact, err := f.entities.CreateArtifact(ctx, store.Input{
		Prompt:    "a keeper talks to the sea",
		Family:    store.FamilyMonologue,
		SubjectID: "acct-1",
	}, store.StatusPending)
	if err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}
	reset, err := f.entities.BeginGeneration(ctx, artifact.ID, artifact.GenerationToken)
	if err != nil {
		t.Fatalf("BeginGeneration: %v", err)
	}
	token := reset.Artifact.GenerationToken
	if err := f.entities.ReplacePages(ctx, artifact.ID, token, []store.Page{{Body: "The sea called again."}}); err != nil {
		t.Fatalf("ReplacePages: %v", err)
	}
	result, err := generation.EncodeResult(generation.MonologuePayload{
		Title:    title,
		Script:   "The sea called again.",
		PostText: title + " tonight",
		Hashtags: []string{"sea"},
	})
	if err != nil {
		t.Fatalf("EncodeResult: %v", err)
	}
	completed, err := f.entities.CompleteGeneration(ctx, artifact.ID, token, store.Completion{Title: title, Result: result})
	if err != nil {
		t.Fatalf("CompleteGeneration: %v", err)
	}
	f.clock.Advance(time.Minute)
	return completed
}

func TestSyncPublishesPendingMonologues(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	first := f.monologue(t, "Lantern")
	f.monologue(t, "Tide")
	if _, _, err := f.entities.InsertDerived(ctx, store.DerivedAsset{
		ArtifactID:      first.ID,
		Kind:            store.AssetVideo,
		StorageKey:      "derived/x/video.mp4",
		URL:             "https://cdn.test/video.mp4",
		GenerationCycle: first.GenerationCount,
	}); err != nil {
		t.Fatalf("InsertDerived: %v", err)
	}

	result, err := f.syncer.Sync(ctx, publishing.Request{SubjectID: "acct-1"})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Published != 2 || result.Remaining != 0 || result.Rescheduled != nil {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(f.platform.created) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(f.platform.created))
	}
	req := f.platform.created[0]
	if req.Text != "Lantern tonight\n#sea" || req.MediaURL != "https://cdn.test/video.mp4" || req.ClientRef != publishing.ClientRef(first) {
		t.Fatalf("unexpected post request %+v", req)
	}
	if f.platform.created[1].MediaURL != "" {
		t.Fatalf("artifact without video should post text only")
	}

	got, err := f.entities.GetArtifact(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if got.PublishedAt == nil || got.ExternalPostID != "post-a" {
		t.Fatalf("artifact not marked published: %+v", got)
	}

	again, err := f.syncer.Sync(ctx, publishing.Request{SubjectID: "acct-1"})
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if again.Published != 0 || f.platform.timelines != 1 {
		t.Fatalf("second sync should find nothing to do: %+v timelines=%d", again, f.platform.timelines)
	}
}

func TestSyncReconcilesPostsAlreadyOnTimeline(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	artifact := f.monologue(t, "Lantern")
	f.platform.posts = []social.Post{{
		ID:        "post-earlier",
		ClientRef: publishing.ClientRef(artifact),
		CreatedAt: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}}

	result, err := f.syncer.Sync(ctx, publishing.Request{SubjectID: "acct-1"})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Reconciled != 1 || result.Published != 0 || len(f.platform.created) != 0 {
		t.Fatalf("expected reconciliation without a new post, got %+v", result)
	}
	got, err := f.entities.GetArtifact(ctx, artifact.ID)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if got.ExternalPostID != "post-earlier" {
		t.Fatalf("expected earlier post id, got %q", got.ExternalPostID)
	}
}

func TestSyncReschedulesWhenQuotaExhausted(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.monologue(t, "Lantern")
	f.monologue(t, "Tide")
	f.monologue(t, "Gull")

	result, err := f.syncer.Sync(ctx, publishing.Request{SubjectID: "acct-1"})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Published != 1 || result.Remaining != 2 {
		t.Fatalf("expected one post before the quota ran out, got %+v", result)
	}
	if result.Rescheduled == nil || result.Rescheduled.JobID != "social-sync:acct-1" || result.Rescheduled.Endpoint != config.EndpointPostCreate {
		t.Fatalf("expected reschedule, got %+v", result.Rescheduled)
	}
	if result.Rescheduled.RetryAfter <= 0 {
		t.Fatalf("expected a positive delay, got %v", result.Rescheduled.RetryAfter)
	}

	// A second denied run collapses into the same pending successor.
	if _, err := f.syncer.Sync(ctx, publishing.Request{SubjectID: "acct-1"}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	pending, err := f.jobs.List(ctx, queue.ListFilter{Statuses: []queue.Status{queue.StatusPending}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "social-sync:acct-1" || pending[0].Type != publishing.JobType {
		t.Fatalf("expected one pending sync, got %+v", pending)
	}
}

func TestSyncReschedulesOnUpstream429(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	f.monologue(t, "Lantern")
	f.platform.limited = true

	result, err := f.syncer.Sync(ctx, publishing.Request{SubjectID: "acct-1"})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Rescheduled == nil || result.Rescheduled.RetryAfter != 90 {
		t.Fatalf("expected reschedule honoring Retry-After, got %+v", result.Rescheduled)
	}
}

func TestSyncWithNothingPendingSkipsPlatform(t *testing.T) {
	f := newFixture(t, 5)
	result, err := f.syncer.Sync(context.Background(), publishing.Request{SubjectID: "acct-1"})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Remaining != 0 || f.platform.timelines != 0 {
		t.Fatalf("expected no platform calls, got %+v timelines=%d", result, f.platform.timelines)
	}
	if _, err := f.syncer.Sync(context.Background(), publishing.Request{}); err == nil {
		t.Fatal("expected validation error for empty subject")
	}
}

func TestAfterDerivedEnqueuesSyncForSubject(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	artifact := f.monologue(t, "Lantern")
	hook := publishing.AfterDerived(f.entities, f.jobs)

	for i := 0; i < 2; i++ {
		if err := hook(ctx, artifact, pipelineReport(artifact)); err != nil {
			t.Fatalf("hook: %v", err)
		}
	}
	job, err := f.jobs.FindPending(ctx, ratelimit.SocialSyncJobID("acct-1"))
	if err != nil {
		t.Fatalf("FindPending: %v", err)
	}
	if job == nil || job.Queue != config.QueueSocial {
		t.Fatalf("expected pending social sync, got %+v", job)
	}

	story := testsupport.MustCompletedArtifact(t, f.entities, store.FamilyStory, "acct-2")
	if err := hook(ctx, story, pipelineReport(story)); err != nil {
		t.Fatalf("hook on story: %v", err)
	}
	if job, _ := f.jobs.FindPending(ctx, ratelimit.SocialSyncJobID("acct-2")); job != nil {
		t.Fatalf("stories should not schedule a sync")
	}
}

func TestAfterDerivedKeepsRateLimitDelay(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.monologue(t, "Lantern")
	artifact := f.monologue(t, "Tide")

	result, err := f.syncer.Sync(ctx, publishing.Request{SubjectID: "acct-1"})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Rescheduled == nil {
		t.Fatalf("expected reschedule, got %+v", result)
	}
	delayed, err := f.jobs.FindPending(ctx, ratelimit.SocialSyncJobID("acct-1"))
	if err != nil || delayed == nil {
		t.Fatalf("expected pending sync, got %v %v", delayed, err)
	}

	if err := publishing.AfterDerived(f.entities, f.jobs)(ctx, artifact, pipelineReport(artifact)); err != nil {
		t.Fatalf("hook: %v", err)
	}
	job, err := f.jobs.FindPending(ctx, ratelimit.SocialSyncJobID("acct-1"))
	if err != nil || job == nil {
		t.Fatalf("expected pending sync, got %v %v", job, err)
	}
	if job.RunAt.Before(delayed.RunAt) {
		t.Fatalf("hook pulled the sync forward from %v to %v", delayed.RunAt, job.RunAt)
	}
}

func pipelineReport(artifact *store.Artifact) pipeline.Report {
	return pipeline.Report{ArtifactID: artifact.ID, Cycle: artifact.GenerationCount}
}
