package main

import (
	"encoding/json"
	"strconv"
	"time"

	"quill/internal/queue"
	"quill/internal/store"
	"quill/internal/textutil"
)

type artifactJSON struct {
	ID              string          `json:"id"`
	Family          string          `json:"family"`
	Status          string          `json:"status"`
	Title           string          `json:"title,omitempty"`
	GenerationCount int             `json:"generation_count"`
	Error           string          `json:"error,omitempty"`
	CostUSD         float64         `json:"cost_usd"`
	CoverResourceID string          `json:"cover_resource_id,omitempty"`
	ExternalPostID  string          `json:"external_post_id,omitempty"`
	CompletedAt     string          `json:"completed_at,omitempty"`
	PublishedAt     string          `json:"published_at,omitempty"`
	CreatedAt       string          `json:"created_at"`
	Result          json.RawMessage `json:"result,omitempty"`
}

func artifactView(a *store.Artifact) artifactJSON {
	return artifactJSON{
		ID:              a.ID,
		Family:          string(a.Family),
		Status:          string(a.Status),
		Title:           a.Title,
		GenerationCount: a.GenerationCount,
		Error:           a.ErrorMessage,
		CostUSD:         a.Telemetry.CostUSD,
		CoverResourceID: a.CoverResourceID,
		ExternalPostID:  a.ExternalPostID,
		CompletedAt:     formatTimePtr(a.CompletedAt),
		PublishedAt:     formatTimePtr(a.PublishedAt),
		CreatedAt:       formatTime(a.CreatedAt),
		Result:          a.Result,
	}
}

type jobJSON struct {
	Seq       int64   `json:"seq"`
	ID        string  `json:"id,omitempty"`
	Queue     string  `json:"queue"`
	Type      string  `json:"type"`
	Status    string  `json:"status"`
	Attempts  int     `json:"attempts"`
	Progress  float64 `json:"progress"`
	RunAt     string  `json:"run_at"`
	LastError string  `json:"last_error,omitempty"`
}

func jobView(j *queue.Job) jobJSON {
	return jobJSON{
		Seq:       j.Seq,
		ID:        j.ID,
		Queue:     j.Queue,
		Type:      j.Type,
		Status:    string(j.Status),
		Attempts:  j.Attempts,
		Progress:  j.Progress,
		RunAt:     formatTime(j.RunAt),
		LastError: j.LastError,
	}
}

func jobRow(j *queue.Job) []string {
	return []string{
		strconv.FormatInt(j.Seq, 10),
		j.Queue,
		j.Type,
		j.ID,
		string(j.Status),
		strconv.Itoa(j.Attempts) + "/" + strconv.Itoa(j.MaxAttempts),
		formatTime(j.RunAt),
		textutil.Truncate(j.LastError, 48),
	}
}

var jobColumns = []tableColumn{right("Seq"), left("Queue"), left("Type"), left("ID"), left("Status"), right("Attempts"), left("Run At"), left("Last Error")}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

type derivedJSON struct {
	Kind            string  `json:"kind"`
	URL             string  `json:"url"`
	ContentType     string  `json:"content_type,omitempty"`
	CostUSD         float64 `json:"cost_usd"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Provider        string  `json:"provider,omitempty"`
	GenerationCycle int     `json:"generation_cycle"`
}

func derivedViews(assets []*store.DerivedAsset) []derivedJSON {
	views := make([]derivedJSON, 0, len(assets))
	for _, d := range assets {
		views = append(views, derivedJSON{
			Kind:            string(d.Kind),
			URL:             d.URL,
			ContentType:     d.ContentType,
			CostUSD:         d.CostUSD,
			DurationSeconds: d.DurationSeconds,
			Provider:        d.Provider,
			GenerationCycle: d.GenerationCycle,
		})
	}
	return views
}
