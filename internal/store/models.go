package store

import (
	"encoding/json"
	"errors"
	"time"
)

// Family selects the content-generation strategy for an artifact.
type Family string

const (
	FamilyStory     Family = "story"
	FamilyMonologue Family = "monologue"
)

// Families lists the supported content families.
func Families() []Family {
	return []Family{FamilyStory, FamilyMonologue}
}

// ParseFamily converts a string to a Family.
func ParseFamily(value string) (Family, bool) {
	for _, f := range Families() {
		if string(f) == value {
			return f, true
		}
	}
	return "", false
}

// Status is the artifact lifecycle state.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// AllStatuses lists artifact statuses in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusDraft, StatusPending, StatusGenerating, StatusCompleted, StatusFailed}
}

// ParseStatus converts a string to a Status.
func ParseStatus(value string) (Status, bool) {
	for _, s := range AllStatuses() {
		if string(s) == value {
			return s, true
		}
	}
	return "", false
}

var allowedTransitions = map[Status][]Status{
	StatusDraft:      {StatusPending},
	StatusPending:    {StatusGenerating},
	StatusGenerating: {StatusGenerating, StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusGenerating},
	StatusFailed:     {StatusGenerating},
}

// CanTransition reports whether moving from s to next is permitted.
// generating -> generating covers recovery of a cycle abandoned by a crashed
// worker.
func (s Status) CanTransition(next Status) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no generation cycle is in flight.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Input is the immutable request an artifact was generated from.
type Input struct {
	ID        string
	Prompt    string
	Family    Family
	Language  string
	SubjectID string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Telemetry is the per-cycle cost and usage summary.
type Telemetry struct {
	PromptTokens      int     `json:"prompt_tokens"`
	CompletionTokens  int     `json:"completion_tokens"`
	CostUSD           float64 `json:"cost_usd"`
	GenerationSeconds float64 `json:"generation_seconds"`
	Provider          string  `json:"provider,omitempty"`
	Model             string  `json:"model,omitempty"`
}

// Artifact is the generated content entity.
type Artifact struct {
	ID                  string
	InputID             string
	Family              Family
	Status              Status
	Title               string
	GenerationCount     int
	GenerationToken     string
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
	FailedAt            *time.Time
	ErrorMessage        string
	Telemetry           Telemetry
	Result              json.RawMessage
	CoverResourceID     string
	PublishedAt         *time.Time
	ExternalPostID      string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Page is one unit of paginated story content.
type Page struct {
	Number          int
	Body            string
	ImagePrompt     string
	GenerationCycle int
}

// AssetKind names a derived pipeline output.
type AssetKind string

const (
	AssetText  AssetKind = "text"
	AssetAudio AssetKind = "audio"
	AssetVideo AssetKind = "video"
)

// AssetKinds lists derived kinds in pipeline order.
func AssetKinds() []AssetKind {
	return []AssetKind{AssetText, AssetAudio, AssetVideo}
}

// DerivedAsset is a pipeline output attached to an artifact.
type DerivedAsset struct {
	ID                string
	ArtifactID        string
	Kind              AssetKind
	SourceKind        AssetKind
	StorageKey        string
	URL               string
	ContentType       string
	CostUSD           float64
	DurationSeconds   float64
	GenerationSeconds float64
	Provider          string
	Model             string
	GenerationCycle   int
	CreatedAt         time.Time
}

// ResourceStatus is the lifecycle state of a provisional upload.
type ResourceStatus string

const (
	ResourcePending   ResourceStatus = "pending"
	ResourceCommitted ResourceStatus = "committed"
	ResourceExpired   ResourceStatus = "expired"
)

// ProvisionalResource is an uploaded blob that must be claimed before it
// expires.
type ProvisionalResource struct {
	ID          string
	StorageKey  string
	ContentType string
	SizeBytes   int64
	Status      ResourceStatus
	OwnerType   string
	OwnerID     string
	ExpiresAt   time.Time
	CommittedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ErrExpired is returned when a provisional resource is accessed after its
// expiry.
var ErrExpired = errors.New("provisional resource expired")

// ArtifactFilter narrows ListArtifacts.
type ArtifactFilter struct {
	Statuses  []Status
	Family    Family
	SubjectID string
	Limit     int
}

// Completion is what a successful generation cycle persists.
type Completion struct {
	Title     string
	Result    json.RawMessage
	Telemetry Telemetry
}

// Reset describes the outcome of BeginGeneration.
type Reset struct {
	Artifact *Artifact
	// RemovedStorageKeys are blob keys of derived assets deleted by the reset;
	// callers delete the blobs after commit.
	RemovedStorageKeys []string
	PreviousStatus     Status
}
