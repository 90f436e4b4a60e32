package generation

import (
	"encoding/json"
	"fmt"

	"quill/internal/services"
	"quill/internal/store"
)

// Payload is the family-specific part of a generation result.
type Payload interface {
	Family() store.Family
}

// StoryPayload is the result of the story family.
type StoryPayload struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	PageCount int      `json:"page_count"`
	Themes    []string `json:"themes,omitempty"`
}

// Family implements Payload.
func (StoryPayload) Family() store.Family { return store.FamilyStory }

// MonologuePayload is the result of the monologue family.
type MonologuePayload struct {
	Title    string   `json:"title"`
	Script   string   `json:"script"`
	PostText string   `json:"post_text"`
	Hashtags []string `json:"hashtags,omitempty"`
}

// Family implements Payload.
func (MonologuePayload) Family() store.Family { return store.FamilyMonologue }

// Envelope carries the fields every family shares.
type Envelope struct {
	Status           store.Status `json:"status"`
	CostUSD          float64      `json:"cost_usd"`
	PromptTokens     int          `json:"prompt_tokens"`
	CompletionTokens int          `json:"completion_tokens"`
	Error            string       `json:"error,omitempty"`
}

// Outcome is the full result of a cycle.
type Outcome struct {
	Envelope
	Payload Payload
}

type taggedResult struct {
	Family  store.Family    `json:"family"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeResult serializes payload with its family tag.
func EncodeResult(payload Payload) (json.RawMessage, error) {
	if payload == nil {
		return nil, services.Wrap(services.ErrValidation, "generation", "encode", "payload is required", nil)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", payload.Family(), err)
	}
	return json.Marshal(taggedResult{Family: payload.Family(), Payload: body})
}

// DecodeResult restores the payload stored on an artifact.
func DecodeResult(raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var tagged taggedResult
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	switch tagged.Family {
	case store.FamilyStory:
		var p StoryPayload
		if err := json.Unmarshal(tagged.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode story payload: %w", err)
		}
		return p, nil
	case store.FamilyMonologue:
		var p MonologuePayload
		if err := json.Unmarshal(tagged.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode monologue payload: %w", err)
		}
		return p, nil
	default:
		return nil, services.Wrap(services.ErrValidation, "generation", "decode", fmt.Sprintf("unknown result family %q", tagged.Family), nil)
	}
}

// OutcomeOf summarizes a stored artifact.
func OutcomeOf(artifact *store.Artifact) (Outcome, error) {
	payload, err := DecodeResult(artifact.Result)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Envelope: Envelope{
			Status:           artifact.Status,
			CostUSD:          artifact.Telemetry.CostUSD,
			PromptTokens:     artifact.Telemetry.PromptTokens,
			CompletionTokens: artifact.Telemetry.CompletionTokens,
			Error:            artifact.ErrorMessage,
		},
		Payload: payload,
	}, nil
}
