package generation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	xlang "golang.org/x/text/language"

	"quill/internal/language"
	"quill/internal/services"
	"quill/internal/services/llm"
	"quill/internal/store"
	"quill/internal/textutil"
)

// Completer is the text provider used by strategies.
type Completer interface {
	CompleteJSON(ctx context.Context, system, user string, target any) (llm.Completion, error)
}

// Output is what a strategy produced for one cycle.
type Output struct {
	Title     string
	Pages     []store.Page
	Payload   Payload
	Telemetry store.Telemetry
}

// Strategy generates content for one family.
type Strategy interface {
	Family() store.Family
	Generate(ctx context.Context, input *store.Input, artifact *store.Artifact) (Output, error)
}

func telemetryOf(c llm.Completion) store.Telemetry {
	return store.Telemetry{
		PromptTokens:      c.PromptTokens,
		CompletionTokens:  c.CompletionTokens,
		CostUSD:           c.CostUSD,
		GenerationSeconds: c.Duration.Seconds(),
		Provider:          c.Provider,
		Model:             c.Model,
	}
}

func titleCase(lang, title string) string {
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return ""
	}
	tag, err := xlang.Parse(lang)
	if err != nil {
		tag = xlang.English
	}
	return cases.Title(tag).String(title)
}

func metadataLines(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, meta[k])
	}
	return b.String()
}

// StoryStrategy writes a paginated narrative.
type StoryStrategy struct {
	LLM      Completer
	MaxPages int
}

const storySystemPrompt = `You write short illustrated stories.
Respond with JSON only: {"title": string, "summary": string, "themes": [string],
"pages": [{"text": string, "image_prompt": string}]}.`

type storyResponse struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Themes  []string `json:"themes"`
	Pages   []struct {
		Text        string `json:"text"`
		ImagePrompt string `json:"image_prompt"`
	} `json:"pages"`
}

// Family implements Strategy.
func (s *StoryStrategy) Family() store.Family { return store.FamilyStory }

// Generate implements Strategy.
func (s *StoryStrategy) Generate(ctx context.Context, input *store.Input, _ *store.Artifact) (Output, error) {
	maxPages := s.MaxPages
	if maxPages <= 0 {
		maxPages = 8
	}
	user := fmt.Sprintf("Language: %s\nPages: at most %d\n%sPrompt: %s", language.DisplayName(input.Language), maxPages, metadataLines(input.Metadata), input.Prompt)

	var resp storyResponse
	completion, err := s.LLM.CompleteJSON(ctx, storySystemPrompt, user, &resp)
	telemetry := telemetryOf(completion)
	if err != nil {
		return Output{Telemetry: telemetry}, err
	}

	pages := make([]store.Page, 0, len(resp.Pages))
	for _, page := range resp.Pages {
		text := strings.TrimSpace(page.Text)
		if text == "" {
			continue
		}
		pages = append(pages, store.Page{Body: text, ImagePrompt: strings.TrimSpace(page.ImagePrompt)})
		if len(pages) == maxPages {
			break
		}
	}
	if len(pages) == 0 {
		return Output{Telemetry: telemetry}, services.Wrap(services.ErrGeneration, "generation", "story", "model returned no pages", nil)
	}
	title := titleCase(input.Language, resp.Title)
	if title == "" {
		title = "Untitled Story"
	}
	return Output{
		Title: title,
		Pages: pages,
		Payload: StoryPayload{
			Title:     title,
			Summary:   strings.TrimSpace(resp.Summary),
			PageCount: len(pages),
			Themes:    resp.Themes,
		},
		Telemetry: telemetry,
	}, nil
}

// MonologueStrategy writes a single spoken script suited to a social post.
type MonologueStrategy struct {
	LLM Completer
	// MaxPostChars bounds the accompanying post text.
	MaxPostChars int
}

const monologueSystemPrompt = `You write short first-person monologues for social video.
Respond with JSON only: {"title": string, "script": string, "post_text": string, "hashtags": [string]}.`

type monologueResponse struct {
	Title    string   `json:"title"`
	Script   string   `json:"script"`
	PostText string   `json:"post_text"`
	Hashtags []string `json:"hashtags"`
}

// Family implements Strategy.
func (s *MonologueStrategy) Family() store.Family { return store.FamilyMonologue }

// Generate implements Strategy.
func (s *MonologueStrategy) Generate(ctx context.Context, input *store.Input, _ *store.Artifact) (Output, error) {
	maxChars := s.MaxPostChars
	if maxChars <= 0 {
		maxChars = 280
	}
	user := fmt.Sprintf("Language: %s\nPost text: at most %d characters\n%sPrompt: %s", language.DisplayName(input.Language), maxChars, metadataLines(input.Metadata), input.Prompt)

	var resp monologueResponse
	completion, err := s.LLM.CompleteJSON(ctx, monologueSystemPrompt, user, &resp)
	telemetry := telemetryOf(completion)
	if err != nil {
		return Output{Telemetry: telemetry}, err
	}
	script := strings.TrimSpace(resp.Script)
	if script == "" {
		return Output{Telemetry: telemetry}, services.Wrap(services.ErrGeneration, "generation", "monologue", "model returned an empty script", nil)
	}
	post := textutil.Truncate(strings.TrimSpace(resp.PostText), maxChars)
	if post == "" {
		post = textutil.Truncate(script, maxChars)
	}
	title := titleCase(input.Language, resp.Title)
	hashtags := make([]string, 0, len(resp.Hashtags))
	for _, tag := range resp.Hashtags {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
		if tag != "" {
			hashtags = append(hashtags, tag)
		}
	}
	return Output{
		Title: title,
		Pages: []store.Page{{Number: 1, Body: script}},
		Payload: MonologuePayload{
			Title:    title,
			Script:   script,
			PostText: post,
			Hashtags: hashtags,
		},
		Telemetry: telemetry,
	}, nil
}
