package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"quill/internal/database"
	"quill/internal/services"
)

// BeginGeneration starts a new generation cycle for an artifact. In one
// transaction it deletes every page and derived asset, clears result fields,
// increments generation_count, rotates the generation token and moves the
// artifact to generating. expectedToken must match the token the caller
// observed; a mismatch means another worker won the race and returns
// ErrConflict.
func (s *Store) BeginGeneration(ctx context.Context, artifactID, expectedToken string) (*Reset, error) {
	reset := &Reset{}
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		reset.RemovedStorageKeys = nil
		var status, token string
		err := tx.QueryRowContext(ctx,
			`SELECT status, generation_token FROM artifacts WHERE id = ?`, artifactID,
		).Scan(&status, &token)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("artifact", artifactID)
		}
		if err != nil {
			return fmt.Errorf("load artifact: %w", err)
		}
		if token != expectedToken {
			return conflict("begin generation", "generation token changed")
		}
		current := Status(status)
		if !current.CanTransition(StatusGenerating) {
			return services.Wrap(services.ErrValidation, component, "begin generation",
				fmt.Sprintf("cannot generate from %s", current), nil)
		}
		reset.PreviousStatus = current

		rows, err := tx.QueryContext(ctx, `SELECT storage_key FROM derived_assets WHERE artifact_id = ? ORDER BY kind`, artifactID)
		if err != nil {
			return fmt.Errorf("list derived keys: %w", err)
		}
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return err
			}
			reset.RemovedStorageKeys = append(reset.RemovedStorageKeys, key)
		}
		if err := rows.Close(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM artifact_pages WHERE artifact_id = ?`, artifactID); err != nil {
			return fmt.Errorf("delete pages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM derived_assets WHERE artifact_id = ?`, artifactID); err != nil {
			return fmt.Errorf("delete derived assets: %w", err)
		}
		now := database.FormatTime(s.Now())
		res, err := tx.ExecContext(ctx,
			`UPDATE artifacts SET
                status = ?, generation_count = generation_count + 1, generation_token = ?,
                processing_started_at = ?, completed_at = NULL, failed_at = NULL, error_message = NULL,
                result_json = NULL, metadata_json = NULL, title = NULL, updated_at = ?
             WHERE id = ? AND generation_token = ?`,
			StatusGenerating, uuid.NewString(), now, now, artifactID, expectedToken,
		)
		if err != nil {
			return fmt.Errorf("reset artifact: %w", err)
		}
		if affected, err := res.RowsAffected(); err != nil {
			return err
		} else if affected == 0 {
			return conflict("begin generation", "generation token changed")
		}
		reset.Artifact, err = getArtifact(ctx, tx, artifactID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reset, nil
}

// ReplacePages stores the pages of the current cycle. token must be the
// token returned by BeginGeneration.
func (s *Store) ReplacePages(ctx context.Context, artifactID, token string, pages []Page) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		cycle, err := activeCycle(ctx, tx, artifactID, token)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM artifact_pages WHERE artifact_id = ?`, artifactID); err != nil {
			return fmt.Errorf("delete pages: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO artifact_pages (artifact_id, page_number, body, image_prompt, generation_cycle) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare page insert: %w", err)
		}
		defer stmt.Close()
		for i, page := range pages {
			number := page.Number
			if number <= 0 {
				number = i + 1
			}
			if _, err := stmt.ExecContext(ctx, artifactID, number, page.Body, database.NullableString(page.ImagePrompt), cycle); err != nil {
				return fmt.Errorf("insert page %d: %w", number, err)
			}
		}
		return nil
	})
}

// Pages returns the stored pages in order.
func (s *Store) Pages(ctx context.Context, artifactID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page_number, body, image_prompt, generation_cycle FROM artifact_pages WHERE artifact_id = ? ORDER BY page_number`,
		artifactID,
	)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()
	var pages []Page
	for rows.Next() {
		var (
			page   Page
			prompt sql.NullString
		)
		if err := rows.Scan(&page.Number, &page.Body, &prompt, &page.GenerationCycle); err != nil {
			return nil, err
		}
		page.ImagePrompt = prompt.String
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

// CompleteGeneration finalizes the current cycle as completed.
func (s *Store) CompleteGeneration(ctx context.Context, artifactID, token string, completion Completion) (*Artifact, error) {
	telemetry, err := json.Marshal(completion.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("encode telemetry: %w", err)
	}
	var result any
	if len(completion.Result) > 0 {
		result = string(completion.Result)
	}
	now := database.FormatTime(s.Now())
	if err := s.finishGeneration(ctx, "complete generation", artifactID, token,
		`UPDATE artifacts SET status = ?, title = ?, result_json = ?, metadata_json = ?, completed_at = ?,
            failed_at = NULL, error_message = NULL, updated_at = ?
         WHERE id = ? AND generation_token = ? AND status = ?`,
		StatusCompleted, database.NullableString(completion.Title), result, string(telemetry), now, now,
		artifactID, token, StatusGenerating,
	); err != nil {
		return nil, err
	}
	return s.GetArtifact(ctx, artifactID)
}

// FailGeneration records a failed cycle. Telemetry gathered before the
// failure is kept.
func (s *Store) FailGeneration(ctx context.Context, artifactID, token, message string, telemetry Telemetry) (*Artifact, error) {
	encoded, err := json.Marshal(telemetry)
	if err != nil {
		return nil, fmt.Errorf("encode telemetry: %w", err)
	}
	now := database.FormatTime(s.Now())
	if err := s.finishGeneration(ctx, "fail generation", artifactID, token,
		`UPDATE artifacts SET status = ?, error_message = ?, metadata_json = ?, failed_at = ?, updated_at = ?
         WHERE id = ? AND generation_token = ? AND status = ?`,
		StatusFailed, message, string(encoded), now, now,
		artifactID, token, StatusGenerating,
	); err != nil {
		return nil, err
	}
	return s.GetArtifact(ctx, artifactID)
}

func (s *Store) finishGeneration(ctx context.Context, operation, artifactID, token, query string, args ...any) error {
	res, err := database.Exec(ctx, s.db, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.GetArtifact(ctx, artifactID); err != nil {
			return err
		}
		return conflict(operation, "artifact is no longer in the cycle started with this token")
	}
	return nil
}

// activeCycle returns generation_count when the artifact is generating under
// token.
func activeCycle(ctx context.Context, tx *sql.Tx, artifactID, token string) (int, error) {
	var (
		status string
		stored string
		cycle  int
	)
	err := tx.QueryRowContext(ctx,
		`SELECT status, generation_token, generation_count FROM artifacts WHERE id = ?`, artifactID,
	).Scan(&status, &stored, &cycle)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound("artifact", artifactID)
	}
	if err != nil {
		return 0, fmt.Errorf("load artifact: %w", err)
	}
	if stored != token || Status(status) != StatusGenerating {
		return 0, conflict("write pages", "artifact is no longer in the cycle started with this token")
	}
	return cycle, nil
}
