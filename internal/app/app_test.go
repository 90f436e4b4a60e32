package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"quill/internal/app"
	"quill/internal/config"
	"quill/internal/generation"
	"quill/internal/pipeline"
	"quill/internal/store"
	"quill/internal/testsupport"
	"quill/internal/worker"
)

func storyServer(t *testing.T) *httptest.Server {
	t.Helper()
	content, _ := json.Marshal(map[string]any{
		"title":   "the storm keeper",
		"summary": "A keeper bottles storms.",
		"themes":  []string{"sea"},
		"pages":   []map[string]string{{"text": "The storm arrived at dusk.", "image_prompt": "lighthouse"}},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "demo",
			"choices": []map[string]any{{"message": map[string]string{"content": string(content)}}},
			"usage":   map[string]any{"prompt_tokens": 12, "completion_tokens": 40},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenRegistersHandlersAndRunsGeneration(t *testing.T) {
	_, redisServer := testsupport.NewRedis(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRedisAddr(redisServer.Addr()))
	cfg.LLM.BaseURL = storyServer(t).URL
	cfg.Social.Enabled = true
	cfg.Social.Token = "token"
	ctx := context.Background()

	a, err := app.Open(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	runner := worker.NewFromConfig(a.Jobs, nil, cfg)
	a.Register(runner)
	want := []string{config.QueueDerived, config.QueueGeneration, config.QueueMaintenance, config.QueueSocial}
	if got := runner.Queues(); !slices.Equal(got, want) {
		t.Fatalf("unexpected queues %v", got)
	}

	artifact, err := generation.Submit(ctx, a.Entities, a.Jobs, store.Input{Prompt: "storms", Family: store.FamilyStory})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	processed, err := runner.Drain(ctx, config.QueueGeneration)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected one generation job, got %d", processed)
	}
	got, err := a.Entities.GetArtifact(ctx, artifact.ID)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if got.Status != store.StatusCompleted || got.Title != "The Storm Keeper" {
		t.Fatalf("unexpected artifact %+v", got)
	}
	job, err := a.Jobs.FindPending(ctx, pipeline.JobID(artifact.ID))
	if err != nil || job == nil {
		t.Fatalf("expected pending derived job, got %v %v", job, err)
	}
}

func TestSocialHandlerOnlyWhenEnabled(t *testing.T) {
	_, redisServer := testsupport.NewRedis(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRedisAddr(redisServer.Addr()))
	cfg.Social.Enabled = false

	a, err := app.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	runner := worker.NewFromConfig(a.Jobs, nil, cfg)
	a.Register(runner)
	if slices.Contains(runner.Queues(), config.QueueSocial) {
		t.Fatalf("social queue registered while disabled")
	}
}
