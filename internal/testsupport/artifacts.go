package testsupport

import (
	"context"
	"encoding/json"
	"testing"

	"quill/internal/store"
)

// MustCompletedArtifact creates an artifact and drives it through one
// generation cycle that stores pages and finishes as completed.
func MustCompletedArtifact(t testing.TB, entities *store.Store, family store.Family, subject string, pages ...string) *store.Artifact {
	t.Helper()
	ctx := context.Background()

	_, artifact, err := entities.CreateArtifact(ctx, store.Input{
		Prompt:    "a lighthouse keeper who collects storms",
		Family:    family,
		SubjectID: subject,
	}, store.StatusPending)
	if err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}
	reset, err := entities.BeginGeneration(ctx, artifact.ID, artifact.GenerationToken)
	if err != nil {
		t.Fatalf("BeginGeneration: %v", err)
	}
	token := reset.Artifact.GenerationToken
	if len(pages) == 0 {
		pages = []string{"The storm arrived at dusk."}
	}
	rows := make([]store.Page, 0, len(pages))
	for _, body := range pages {
		rows = append(rows, store.Page{Body: body})
	}
	if err := entities.ReplacePages(ctx, artifact.ID, token, rows); err != nil {
		t.Fatalf("ReplacePages: %v", err)
	}
	result, _ := json.Marshal(map[string]any{"family": family, "payload": map[string]string{"title": "Storm Keeper"}})
	completed, err := entities.CompleteGeneration(ctx, artifact.ID, token, store.Completion{
		Title:     "Storm Keeper",
		Result:    result,
		Telemetry: store.Telemetry{PromptTokens: 10, CompletionTokens: 20, CostUSD: 0.001},
	})
	if err != nil {
		t.Fatalf("CompleteGeneration: %v", err)
	}
	return completed
}
