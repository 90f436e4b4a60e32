package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"quill/internal/database"
	"quill/internal/services"
)

const provisionalColumns = "id, storage_key, content_type, size_bytes, status, owner_type, owner_id, expires_at, committed_at, created_at, updated_at"

// CreateProvisional records an uploaded blob that expires after ttl unless
// committed.
func (s *Store) CreateProvisional(ctx context.Context, storageKey, contentType string, sizeBytes int64, ttl time.Duration) (*ProvisionalResource, error) {
	if strings.TrimSpace(storageKey) == "" {
		return nil, services.Wrap(services.ErrValidation, component, "create provisional", "storage key is required", nil)
	}
	if ttl <= 0 {
		return nil, services.Wrap(services.ErrValidation, component, "create provisional", "ttl must be positive", nil)
	}
	now := s.Now()
	res := &ProvisionalResource{
		ID:          uuid.NewString(),
		StorageKey:  storageKey,
		ContentType: contentType,
		SizeBytes:   sizeBytes,
		Status:      ResourcePending,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := database.Exec(ctx, s.db,
		`INSERT INTO provisional_resources (id, storage_key, content_type, size_bytes, status, expires_at, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.StorageKey, database.NullableString(res.ContentType), res.SizeBytes, res.Status,
		database.FormatTime(res.ExpiresAt), database.FormatTime(now), database.FormatTime(now),
	); err != nil {
		return nil, fmt.Errorf("insert provisional: %w", err)
	}
	return res, nil
}

// GetProvisional loads a resource. Expired resources are never returned: a
// pending row past its expiry is marked expired and ErrExpired is returned.
func (s *Store) GetProvisional(ctx context.Context, id string) (*ProvisionalResource, error) {
	res, err := s.loadProvisional(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.rejectExpired(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// CommitProvisional claims a pending, unexpired resource for an owner.
// Committing to the same owner twice is a no-op.
func (s *Store) CommitProvisional(ctx context.Context, id, ownerType, ownerID string) (*ProvisionalResource, error) {
	res, err := s.GetProvisional(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.Status == ResourceCommitted {
		if res.OwnerType == ownerType && res.OwnerID == ownerID {
			return res, nil
		}
		return nil, conflict("commit provisional", "resource already committed to another owner")
	}
	now := s.Now()
	result, err := database.Exec(ctx, s.db,
		`UPDATE provisional_resources SET status = ?, owner_type = ?, owner_id = ?, committed_at = ?, updated_at = ?
         WHERE id = ? AND status = ? AND expires_at > ?`,
		ResourceCommitted, ownerType, ownerID, database.FormatTime(now), database.FormatTime(now),
		id, ResourcePending, database.FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("commit provisional: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Lost a race with expiry or another commit; reload to report which.
		return s.CommitProvisional(ctx, id, ownerType, ownerID)
	}
	return s.loadProvisional(ctx, id)
}

// CountExpiredPending counts pending resources whose expiry has passed.
func (s *Store) CountExpiredPending(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM provisional_resources WHERE status = ? AND expires_at <= ?`,
		ResourcePending, database.FormatTime(s.Now()),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count expired: %w", err)
	}
	return count, nil
}

// ExpiryCursor marks a position in (expires_at, id) order. The zero value
// starts at the beginning.
type ExpiryCursor struct {
	ExpiresAt time.Time
	ID        string
}

// CursorAt returns the cursor positioned at res.
func CursorAt(res *ProvisionalResource) ExpiryCursor {
	return ExpiryCursor{ExpiresAt: res.ExpiresAt, ID: res.ID}
}

func (c ExpiryCursor) clause() (string, []any) {
	if c.ID == "" {
		return "", nil
	}
	at := database.FormatTime(c.ExpiresAt)
	return ` AND (expires_at > ? OR (expires_at = ? AND id > ?))`, []any{at, at, c.ID}
}

// ListExpiredPending returns up to limit pending resources past expiry
// that sort after the cursor, oldest expiry first.
func (s *Store) ListExpiredPending(ctx context.Context, after ExpiryCursor, limit int) ([]*ProvisionalResource, error) {
	cond, args := after.clause()
	args = append([]any{ResourcePending, database.FormatTime(s.Now())}, args...)
	return s.listProvisional(ctx,
		`WHERE status = ? AND expires_at <= ?`+cond+` ORDER BY expires_at, id LIMIT ?`,
		append(args, limit)...,
	)
}

// ListExpiredBefore returns up to limit resources in status expired whose
// expiry is older than cutoff and that sort after the cursor.
func (s *Store) ListExpiredBefore(ctx context.Context, cutoff time.Time, after ExpiryCursor, limit int) ([]*ProvisionalResource, error) {
	cond, args := after.clause()
	args = append([]any{ResourceExpired, database.FormatTime(cutoff)}, args...)
	return s.listProvisional(ctx,
		`WHERE status = ? AND expires_at < ?`+cond+` ORDER BY expires_at, id LIMIT ?`,
		append(args, limit)...,
	)
}

// DeleteProvisional removes an uncommitted resource row. Committed resources
// and pending resources that have not expired are left alone; deleted
// reports whether a row was removed.
func (s *Store) DeleteProvisional(ctx context.Context, id string) (bool, error) {
	now := database.FormatTime(s.Now())
	res, err := database.Exec(ctx, s.db,
		`DELETE FROM provisional_resources
         WHERE id = ? AND ((status = ? AND expires_at <= ?) OR status = ?)`,
		id, ResourcePending, now, ResourceExpired,
	)
	if err != nil {
		return false, fmt.Errorf("delete provisional: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) rejectExpired(ctx context.Context, res *ProvisionalResource) error {
	switch {
	case res.Status == ResourceExpired:
		return ErrExpired
	case res.Status == ResourcePending && !res.ExpiresAt.After(s.Now()):
		if _, err := database.Exec(ctx, s.db,
			`UPDATE provisional_resources SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			ResourceExpired, database.FormatTime(s.Now()), res.ID, ResourcePending,
		); err != nil {
			return fmt.Errorf("expire provisional: %w", err)
		}
		res.Status = ResourceExpired
		return ErrExpired
	}
	return nil
}

func (s *Store) loadProvisional(ctx context.Context, id string) (*ProvisionalResource, error) {
	rows, err := s.listProvisional(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound("provisional resource", id)
	}
	return rows[0], nil
}

func (s *Store) listProvisional(ctx context.Context, where string, args ...any) ([]*ProvisionalResource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+provisionalColumns+` FROM provisional_resources `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query provisional: %w", err)
	}
	defer rows.Close()
	var out []*ProvisionalResource
	for rows.Next() {
		res, err := scanProvisional(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func scanProvisional(scanner interface{ Scan(dest ...any) error }) (*ProvisionalResource, error) {
	var (
		res         ProvisionalResource
		status      string
		contentType sql.NullString
		ownerType   sql.NullString
		ownerID     sql.NullString
		expiresAt   string
		committedAt sql.NullString
		createdAt   string
		updatedAt   string
	)
	if err := scanner.Scan(&res.ID, &res.StorageKey, &contentType, &res.SizeBytes, &status, &ownerType, &ownerID,
		&expiresAt, &committedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	res.Status = ResourceStatus(status)
	res.ContentType = contentType.String
	res.OwnerType = ownerType.String
	res.OwnerID = ownerID.String
	res.ExpiresAt = database.TimeOrZero(expiresAt)
	res.CommittedAt = database.TimeFromNull(committedAt)
	res.CreatedAt = database.TimeOrZero(createdAt)
	res.UpdatedAt = database.TimeOrZero(updatedAt)
	return &res, nil
}

// IsExpired reports whether err signals an expired provisional resource.
func IsExpired(err error) bool {
	return errors.Is(err, ErrExpired)
}
