package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"quill/internal/database"
	"quill/internal/language"
	"quill/internal/services"
)

const component = "store"

// Store provides entity persistence on a shared database handle.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source. A nil function keeps the default.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New wraps an open database.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store clock in UTC.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

func notFound(kind, id string) error {
	return services.Wrap(services.ErrNotFound, component, "load", fmt.Sprintf("%s %s not found", kind, id), nil)
}

func conflict(operation, message string) error {
	return services.Wrap(services.ErrConflict, component, operation, message, nil)
}

// CreateArtifact inserts an input and its artifact in one transaction. Status
// must be draft or pending.
func (s *Store) CreateArtifact(ctx context.Context, in Input, status Status) (*Input, *Artifact, error) {
	if status != StatusDraft && status != StatusPending {
		return nil, nil, services.Wrap(services.ErrValidation, component, "create artifact", "initial status must be draft or pending", nil)
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, nil, services.Wrap(services.ErrValidation, component, "create artifact", "prompt is required", nil)
	}
	if _, ok := ParseFamily(string(in.Family)); !ok {
		return nil, nil, services.Wrap(services.ErrValidation, component, "create artifact", fmt.Sprintf("unknown family %q", in.Family), nil)
	}
	lang, ok := language.Normalize(in.Language)
	if !ok {
		return nil, nil, services.Wrap(services.ErrValidation, component, "create artifact", fmt.Sprintf("unsupported language %q", in.Language), nil)
	}
	in.Language = lang
	now := s.Now()
	in.ID = uuid.NewString()
	in.CreatedAt = now
	var metadata any
	if len(in.Metadata) > 0 {
		encoded, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("encode input metadata: %w", err)
		}
		metadata = string(encoded)
	}
	artifact := &Artifact{
		ID:              uuid.NewString(),
		InputID:         in.ID,
		Family:          in.Family,
		Status:          status,
		GenerationToken: uuid.NewString(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	nowText := database.FormatTime(now)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO inputs (id, prompt, family, language, subject_id, metadata_json, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			in.ID, in.Prompt, in.Family, in.Language, database.NullableString(in.SubjectID), metadata, nowText,
		); err != nil {
			return fmt.Errorf("insert input: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO artifacts (id, input_id, family, status, generation_count, generation_token, created_at, updated_at)
             VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
			artifact.ID, artifact.InputID, artifact.Family, artifact.Status, artifact.GenerationToken, nowText, nowText,
		); err != nil {
			return fmt.Errorf("insert artifact: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &in, artifact, nil
}

// CreateDraft inserts an input with a draft artifact awaiting submission.
func (s *Store) CreateDraft(ctx context.Context, in Input) (*Input, *Artifact, error) {
	return s.CreateArtifact(ctx, in, StatusDraft)
}

// Submit moves a draft artifact to pending.
func (s *Store) Submit(ctx context.Context, artifactID string) (*Artifact, error) {
	res, err := database.Exec(ctx, s.db,
		`UPDATE artifacts SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusPending, database.FormatTime(s.Now()), artifactID, StatusDraft,
	)
	if err != nil {
		return nil, fmt.Errorf("submit artifact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		current, err := s.GetArtifact(ctx, artifactID)
		if err != nil {
			return nil, err
		}
		return nil, conflict("submit", fmt.Sprintf("artifact is %s, not draft", current.Status))
	}
	return s.GetArtifact(ctx, artifactID)
}

// GetInput loads an input by id.
func (s *Store) GetInput(ctx context.Context, id string) (*Input, error) {
	var (
		in        Input
		family    string
		subjectID sql.NullString
		metadata  sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, prompt, family, language, subject_id, metadata_json, created_at FROM inputs WHERE id = ?`, id,
	).Scan(&in.ID, &in.Prompt, &family, &in.Language, &subjectID, &metadata, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("input", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get input: %w", err)
	}
	in.Family = Family(family)
	in.SubjectID = subjectID.String
	in.CreatedAt = database.TimeOrZero(createdAt)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &in.Metadata); err != nil {
			return nil, fmt.Errorf("decode input metadata: %w", err)
		}
	}
	return &in, nil
}

const artifactColumns = "a.id, a.input_id, a.family, a.status, a.title, a.generation_count, a.generation_token, a.processing_started_at, a.completed_at, a.failed_at, a.error_message, a.metadata_json, a.result_json, a.cover_resource_id, a.published_at, a.external_post_id, a.created_at, a.updated_at"

// GetArtifact loads an artifact by id.
func (s *Store) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	return getArtifact(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getArtifact(ctx context.Context, q queryRower, id string) (*Artifact, error) {
	row := q.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts a WHERE a.id = ?`, id)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("artifact", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return artifact, nil
}

// ListArtifacts returns artifacts matching filter, most recently updated first.
func (s *Store) ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]*Artifact, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "a.status IN ("+database.Placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if filter.Family != "" {
		clauses = append(clauses, "a.family = ?")
		args = append(args, filter.Family)
	}
	if filter.SubjectID != "" {
		clauses = append(clauses, "i.subject_id = ?")
		args = append(args, filter.SubjectID)
	}
	query := `SELECT ` + artifactColumns + ` FROM artifacts a JOIN inputs i ON i.id = a.input_id`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY a.updated_at DESC, a.id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()
	var out []*Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, artifact)
	}
	return out, rows.Err()
}

// CountByStatus counts artifacts grouped by status.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM artifacts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("artifact stats: %w", err)
	}
	defer rows.Close()
	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// SetCover attaches a committed provisional resource as the artifact cover.
func (s *Store) SetCover(ctx context.Context, artifactID, resourceID string) error {
	res, err := database.Exec(ctx, s.db,
		`UPDATE artifacts SET cover_resource_id = ?, updated_at = ?
         WHERE id = ? AND EXISTS (SELECT 1 FROM provisional_resources r WHERE r.id = ? AND r.status = ?)`,
		resourceID, database.FormatTime(s.Now()), artifactID, resourceID, ResourceCommitted,
	)
	if err != nil {
		return fmt.Errorf("set cover: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.GetArtifact(ctx, artifactID); err != nil {
			return err
		}
		return services.Wrap(services.ErrValidation, component, "set cover", fmt.Sprintf("resource %s is not committed", resourceID), nil)
	}
	return nil
}

// ListPublishable returns completed monologue artifacts for subjectID that
// have not been published yet, oldest completion first.
func (s *Store) ListPublishable(ctx context.Context, subjectID string, limit int) ([]*Artifact, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts a JOIN inputs i ON i.id = a.input_id
         WHERE i.subject_id = ? AND a.family = ? AND a.status = ? AND a.published_at IS NULL
         ORDER BY a.completed_at, a.id LIMIT ?`,
		subjectID, FamilyMonologue, StatusCompleted, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list publishable: %w", err)
	}
	defer rows.Close()
	var out []*Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, artifact)
	}
	return out, rows.Err()
}

// MarkPublished records the external post for an artifact. Re-marking with
// the same post id is a no-op.
func (s *Store) MarkPublished(ctx context.Context, artifactID, externalPostID string, at time.Time) error {
	res, err := database.Exec(ctx, s.db,
		`UPDATE artifacts SET published_at = ?, external_post_id = ?, updated_at = ?
         WHERE id = ? AND (published_at IS NULL OR external_post_id = ?)`,
		database.FormatTime(at), externalPostID, database.FormatTime(s.Now()), artifactID, externalPostID,
	)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.GetArtifact(ctx, artifactID); err != nil {
			return err
		}
		return conflict("mark published", "artifact already published under a different post")
	}
	return nil
}

func scanArtifact(scanner interface{ Scan(dest ...any) error }) (*Artifact, error) {
	var (
		a                   Artifact
		family, status      string
		title               sql.NullString
		processingStartedAt sql.NullString
		completedAt         sql.NullString
		failedAt            sql.NullString
		errorMessage        sql.NullString
		metadata            sql.NullString
		result              sql.NullString
		coverID             sql.NullString
		publishedAt         sql.NullString
		externalPostID      sql.NullString
		createdAt           string
		updatedAt           string
	)
	if err := scanner.Scan(
		&a.ID, &a.InputID, &family, &status, &title, &a.GenerationCount, &a.GenerationToken,
		&processingStartedAt, &completedAt, &failedAt, &errorMessage, &metadata, &result,
		&coverID, &publishedAt, &externalPostID, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	a.Family = Family(family)
	a.Status = Status(status)
	a.Title = title.String
	a.ProcessingStartedAt = database.TimeFromNull(processingStartedAt)
	a.CompletedAt = database.TimeFromNull(completedAt)
	a.FailedAt = database.TimeFromNull(failedAt)
	a.ErrorMessage = errorMessage.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &a.Telemetry); err != nil {
			return nil, fmt.Errorf("decode artifact telemetry: %w", err)
		}
	}
	if result.Valid {
		a.Result = json.RawMessage(result.String)
	}
	a.CoverResourceID = coverID.String
	a.PublishedAt = database.TimeFromNull(publishedAt)
	a.ExternalPostID = externalPostID.String
	a.CreatedAt = database.TimeOrZero(createdAt)
	a.UpdatedAt = database.TimeOrZero(updatedAt)
	return &a, nil
}
