package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quill/internal/blob"
	"quill/internal/logging"
	"quill/internal/media/render"
	"quill/internal/services"
	"quill/internal/services/llm"
	"quill/internal/store"
)

const scriptSystemPrompt = `You adapt written content into a narration script that is read aloud.
Keep the meaning and tone. Remove headings, lists and markup. Reply with the script text only.`

type stageRun struct {
	runner   *Runner
	artifact *store.Artifact
	cycle    int
	workDir  string
	outputs  map[store.AssetKind]*store.DerivedAsset
}

// produced is what a stage hands back before the row is inserted.
type produced struct {
	sourceKind  store.AssetKind
	localPath   string
	contentType string
	ext         string
	costUSD     float64
	duration    float64
	provider    string
	model       string
	fallback    string
}

func (s *stageRun) execute(ctx context.Context, logger *slog.Logger, kind store.AssetKind, req Request) (StageReport, error) {
	r := s.runner
	report := StageReport{Kind: kind}

	if req.Skip[kind] {
		report.Status = StageSkipped
		if existing, err := r.store.GetDerived(ctx, s.artifact.ID, kind); err == nil && existing != nil {
			s.outputs[kind] = existing
		}
		return report, nil
	}

	if req.Reset[kind] {
		if err := s.remove(ctx, logger, kind, "reset requested"); err != nil {
			return report, err
		}
	}

	existing, err := r.store.GetDerived(ctx, s.artifact.ID, kind)
	if err != nil {
		return report, err
	}
	if existing != nil {
		if existing.GenerationCycle == s.cycle {
			s.outputs[kind] = existing
			report.Status = StageExisting
			report.Asset = existing
			return report, nil
		}
		logging.WarnWithContext(logger, "derived asset belongs to an older cycle; replacing", "storage_inconsistency",
			logging.Int("asset_cycle", existing.GenerationCycle),
			logging.Int("current_cycle", s.cycle),
		)
		if err := s.remove(ctx, logger, kind, "stale cycle"); err != nil {
			return report, err
		}
	}

	var (
		out     produced
		blocked string
	)
	started := time.Now()
	switch kind {
	case store.AssetText:
		out, err = s.text(ctx)
	case store.AssetAudio:
		out, blocked, err = s.audio(ctx)
	case store.AssetVideo:
		out, blocked, err = s.video(ctx, logger)
	default:
		err = services.Wrap(services.ErrValidation, "pipeline", "stage", fmt.Sprintf("unknown stage %q", kind), nil)
	}
	if err != nil {
		return report, err
	}
	if blocked != "" {
		report.Status = StageBlocked
		return report, services.Wrap(services.ErrValidation, "pipeline", string(kind), blocked, nil)
	}
	elapsed := time.Since(started)

	current, err := r.store.GetArtifact(ctx, s.artifact.ID)
	if err != nil {
		return report, err
	}
	if current.GenerationCount != s.cycle || current.Status != store.StatusCompleted {
		report.Status = StageStale
		logging.WarnWithContext(logger, "artifact was regenerated while the stage ran; output discarded", "precondition_warning",
			logging.Int("stage_cycle", s.cycle),
			logging.Int("current_cycle", current.GenerationCount),
		)
		return report, nil
	}

	key := blob.DerivedKey(s.artifact.ID, s.cycle, string(kind), out.ext)
	obj, err := blob.PutFile(ctx, r.blobs, key, out.localPath, out.contentType)
	if err != nil {
		return report, services.Wrap(services.ErrTransient, "pipeline", "upload", fmt.Sprintf("store %s output", kind), err)
	}

	asset, inserted, err := r.store.InsertDerived(ctx, store.DerivedAsset{
		ArtifactID:        s.artifact.ID,
		Kind:              kind,
		SourceKind:        out.sourceKind,
		StorageKey:        obj.Key,
		URL:               obj.URL,
		ContentType:       out.contentType,
		CostUSD:           out.costUSD,
		DurationSeconds:   out.duration,
		GenerationSeconds: elapsed.Seconds(),
		Provider:          out.provider,
		Model:             out.model,
		GenerationCycle:   s.cycle,
	})
	if err != nil {
		return report, err
	}
	s.outputs[kind] = asset
	report.Asset = asset
	report.Fallback = out.fallback
	if !inserted {
		report.Status = StageDuplicate
		logger.Info("derived asset already recorded by a concurrent run",
			logging.Event("stage_duplicate"))
		return report, nil
	}
	report.Status = StageProduced
	return report, nil
}

// remove deletes the row of kind and then its blob. A blob that cannot be
// deleted is logged and left behind.
func (s *stageRun) remove(ctx context.Context, logger *slog.Logger, kind store.AssetKind, reason string) error {
	key, err := s.runner.store.DeleteDerived(ctx, s.artifact.ID, kind)
	if err != nil {
		return err
	}
	delete(s.outputs, kind)
	if key == "" {
		return nil
	}
	if err := s.runner.blobs.Delete(ctx, key); err != nil {
		logging.WarnWithContext(logger, "derived blob delete failed; orphaned object left in storage", "storage_inconsistency",
			logging.String("storage_key", key),
			logging.String("reason", reason),
			logging.Error(err),
		)
	}
	return nil
}

func (s *stageRun) text(ctx context.Context) (produced, error) {
	r := s.runner
	if r.writer == nil {
		return produced{}, services.Wrap(services.ErrConfiguration, "pipeline", "text", "script writer not configured", nil)
	}
	pages, err := r.store.Pages(ctx, s.artifact.ID)
	if err != nil {
		return produced{}, err
	}
	var source strings.Builder
	if s.artifact.Title != "" {
		source.WriteString(s.artifact.Title)
		source.WriteString("\n\n")
	}
	for _, page := range pages {
		if body := strings.TrimSpace(page.Body); body != "" {
			source.WriteString(body)
			source.WriteString("\n\n")
		}
	}
	if len(pages) == 0 || strings.TrimSpace(source.String()) == "" {
		return produced{}, services.Wrap(services.ErrValidation, "pipeline", "text", "artifact has no primary content to narrate", nil)
	}

	completion, err := r.writer.Complete(ctx, llm.Request{
		System: scriptSystemPrompt,
		User:   strings.TrimSpace(source.String()),
	})
	if err != nil {
		return produced{}, err
	}
	script := strings.TrimSpace(completion.Content)
	if script == "" {
		return produced{}, services.Wrap(services.ErrGeneration, "pipeline", "text", "narration script is empty", nil)
	}
	path := filepath.Join(s.workDir, "text.txt")
	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return produced{}, fmt.Errorf("create work dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		return produced{}, fmt.Errorf("write script: %w", err)
	}
	return produced{
		localPath:   path,
		contentType: "text/plain; charset=utf-8",
		ext:         ".txt",
		costUSD:     completion.CostUSD,
		provider:    completion.Provider,
		model:       completion.Model,
	}, nil
}

func (s *stageRun) audio(ctx context.Context) (produced, string, error) {
	r := s.runner
	textAsset := s.outputs[store.AssetText]
	if textAsset == nil {
		return produced{}, "text asset is missing", nil
	}
	if r.voice == nil || r.probe == nil {
		return produced{}, "", services.Wrap(services.ErrConfiguration, "pipeline", "audio", "narration is not configured", nil)
	}
	scriptPath := filepath.Join(s.workDir, "source-text.txt")
	if err := blob.Download(ctx, r.blobs, textAsset.StorageKey, scriptPath); err != nil {
		return produced{}, "", err
	}
	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return produced{}, "", fmt.Errorf("read script: %w", err)
	}

	audioPath := filepath.Join(s.workDir, "audio.mp3")
	result, err := r.voice.Synthesize(ctx, string(script), audioPath)
	if err != nil {
		return produced{}, "", err
	}
	probe, err := r.probe.Inspect(ctx, audioPath)
	if err != nil {
		return produced{}, "", services.Wrap(services.ErrGeneration, "pipeline", "audio", "measure narration duration", err)
	}
	duration := probe.DurationSeconds()
	if duration <= 0 || probe.AudioStreamCount() == 0 {
		return produced{}, "", services.Wrap(services.ErrGeneration, "pipeline", "audio", "narration audio has no measurable duration", nil)
	}
	return produced{
		sourceKind:  store.AssetText,
		localPath:   audioPath,
		contentType: result.ContentType,
		ext:         ".mp3",
		costUSD:     result.CostUSD,
		duration:    duration,
		provider:    result.Provider,
		model:       result.Model,
	}, "", nil
}

func (s *stageRun) video(ctx context.Context, logger *slog.Logger) (produced, string, error) {
	r := s.runner
	audioAsset := s.outputs[store.AssetAudio]
	if audioAsset == nil {
		return produced{}, "audio asset is missing", nil
	}
	if r.renderer == nil {
		return produced{}, "", services.Wrap(services.ErrConfiguration, "pipeline", "video", "renderer not configured", nil)
	}
	audioPath := filepath.Join(s.workDir, "audio.mp3")
	if _, err := os.Stat(audioPath); err != nil {
		if err := blob.Download(ctx, r.blobs, audioAsset.StorageKey, audioPath); err != nil {
			return produced{}, "", err
		}
	}

	imagePath := s.cover(ctx, logger)
	result, err := r.renderer.Render(ctx, render.Request{
		AudioPath:       audioPath,
		ImagePath:       imagePath,
		DurationSeconds: audioAsset.DurationSeconds,
		OutputPath:      filepath.Join(s.workDir, "video.mp4"),
	})
	if err != nil {
		return produced{}, "", err
	}
	out := produced{
		sourceKind:  store.AssetAudio,
		localPath:   result.Path,
		contentType: "video/mp4",
		ext:         ".mp4",
		duration:    audioAsset.DurationSeconds,
		provider:    "ffmpeg",
	}
	if result.Background {
		out.fallback = "background"
	}
	return out, "", nil
}

// cover downloads the artifact's committed cover image. Any problem falls
// back to the solid background.
func (s *stageRun) cover(ctx context.Context, logger *slog.Logger) string {
	id := s.artifact.CoverResourceID
	if id == "" {
		return ""
	}
	res, err := s.runner.store.GetProvisional(ctx, id)
	if err != nil || res.Status != store.ResourceCommitted {
		logging.WarnWithContext(logger, "cover image unavailable; rendering on background", "precondition_warning",
			logging.String("resource_id", id),
			logging.Error(err),
		)
		return ""
	}
	path := filepath.Join(s.workDir, "cover"+filepath.Ext(res.StorageKey))
	if err := blob.Download(ctx, s.runner.blobs, res.StorageKey, path); err != nil {
		logging.WarnWithContext(logger, "cover image download failed; rendering on background", "storage_inconsistency",
			logging.String("storage_key", res.StorageKey),
			logging.Error(err),
		)
		return ""
	}
	return path
}
