package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"quill/internal/database"
)

const derivedColumns = "id, artifact_id, kind, source_kind, storage_key, url, content_type, cost_usd, duration_seconds, generation_seconds, provider, model, generation_cycle, created_at"

// InsertDerived records a derived asset. When an asset of the same kind
// already exists the insert is ignored and inserted is false; callers then
// treat their own output as a duplicate.
func (s *Store) InsertDerived(ctx context.Context, asset DerivedAsset) (*DerivedAsset, bool, error) {
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	asset.CreatedAt = s.Now()
	var duration any
	if asset.DurationSeconds > 0 {
		duration = asset.DurationSeconds
	}
	res, err := database.Exec(ctx, s.db,
		`INSERT INTO derived_assets (`+derivedColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(artifact_id, kind) DO NOTHING`,
		asset.ID, asset.ArtifactID, asset.Kind, database.NullableString(string(asset.SourceKind)), asset.StorageKey,
		database.NullableString(asset.URL), database.NullableString(asset.ContentType), asset.CostUSD, duration,
		asset.GenerationSeconds, database.NullableString(asset.Provider), database.NullableString(asset.Model),
		asset.GenerationCycle, database.FormatTime(asset.CreatedAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert derived %s: %w", asset.Kind, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected == 0 {
		existing, err := s.GetDerived(ctx, asset.ArtifactID, asset.Kind)
		return existing, false, err
	}
	return &asset, true, nil
}

// GetDerived returns the asset of kind, or nil when none exists.
func (s *Store) GetDerived(ctx context.Context, artifactID string, kind AssetKind) (*DerivedAsset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+derivedColumns+` FROM derived_assets WHERE artifact_id = ? AND kind = ?`, artifactID, kind)
	asset, err := scanDerived(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get derived %s: %w", kind, err)
	}
	return asset, nil
}

// ListDerived returns all derived assets of an artifact in pipeline order.
func (s *Store) ListDerived(ctx context.Context, artifactID string) ([]*DerivedAsset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+derivedColumns+` FROM derived_assets WHERE artifact_id = ?
         ORDER BY CASE kind WHEN 'text' THEN 0 WHEN 'audio' THEN 1 WHEN 'video' THEN 2 ELSE 3 END`,
		artifactID,
	)
	if err != nil {
		return nil, fmt.Errorf("list derived: %w", err)
	}
	defer rows.Close()
	var out []*DerivedAsset
	for rows.Next() {
		asset, err := scanDerived(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, asset)
	}
	return out, rows.Err()
}

// DeleteDerived removes the asset of kind and returns its storage key. An
// empty key means nothing was stored.
func (s *Store) DeleteDerived(ctx context.Context, artifactID string, kind AssetKind) (string, error) {
	var key string
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		key = ""
		err := tx.QueryRowContext(ctx,
			`DELETE FROM derived_assets WHERE artifact_id = ? AND kind = ? RETURNING storage_key`, artifactID, kind,
		).Scan(&key)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("delete derived %s: %w", kind, err)
	}
	return key, nil
}

// DerivedCost sums derived asset cost for an artifact.
func (s *Store) DerivedCost(ctx context.Context, artifactID string) (float64, error) {
	var total sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT SUM(cost_usd) FROM derived_assets WHERE artifact_id = ?`, artifactID,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("derived cost: %w", err)
	}
	return total.Float64, nil
}

func scanDerived(scanner interface{ Scan(dest ...any) error }) (*DerivedAsset, error) {
	var (
		asset       DerivedAsset
		kind        string
		sourceKind  sql.NullString
		url         sql.NullString
		contentType sql.NullString
		duration    sql.NullFloat64
		provider    sql.NullString
		model       sql.NullString
		createdAt   string
	)
	if err := scanner.Scan(
		&asset.ID, &asset.ArtifactID, &kind, &sourceKind, &asset.StorageKey, &url, &contentType,
		&asset.CostUSD, &duration, &asset.GenerationSeconds, &provider, &model, &asset.GenerationCycle, &createdAt,
	); err != nil {
		return nil, err
	}
	asset.Kind = AssetKind(kind)
	asset.SourceKind = AssetKind(sourceKind.String)
	asset.URL = url.String
	asset.ContentType = contentType.String
	asset.DurationSeconds = duration.Float64
	asset.Provider = provider.String
	asset.Model = model.String
	asset.CreatedAt = database.TimeOrZero(createdAt)
	return &asset, nil
}
