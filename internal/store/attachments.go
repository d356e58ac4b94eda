package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/erazemk/stoneshop/internal/apperr"
	"github.com/erazemk/stoneshop/internal/model"
)

const attachmentColumns = `id, filename, content_type, size_bytes, sha256, blob_key, created_at`

// InsertAttachment records metadata for a stored blob.
func InsertAttachment(ctx context.Context, db *sql.DB, a *model.Attachment) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO attachments (id, filename, content_type, size_bytes, sha256, blob_key)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Filename, a.ContentType, a.SizeBytes, a.SHA256, a.BlobKey,
	)
	if err != nil {
		return apperr.Storage("inserting attachment", err)
	}
	return nil
}

// GetAttachment returns attachment metadata by id.
func GetAttachment(ctx context.Context, db *sql.DB, id string) (*model.Attachment, error) {
	id, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	a := &model.Attachment{}
	err = db.QueryRowContext(ctx,
		`SELECT `+attachmentColumns+` FROM attachments WHERE id = ?`, id,
	).Scan(&a.ID, &a.Filename, &a.ContentType, &a.SizeBytes, &a.SHA256, &a.BlobKey, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attachment %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.Storage("getting attachment", err)
	}
	return a, nil
}

// DeleteAttachment removes attachment metadata.
func DeleteAttachment(ctx context.Context, db *sql.DB, id string) error {
	id, err := ParseID(id)
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, id)
	if err != nil {
		return apperr.Storage("deleting attachment", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.Storage("deleting attachment", err)
	}
	if n == 0 {
		return fmt.Errorf("attachment %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// ListOrphanedAttachments returns attachments created before cutoff that no
// item references.
func ListOrphanedAttachments(ctx context.Context, db *sql.DB, cutoff time.Time) ([]model.Attachment, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+attachmentColumns+` FROM attachments a
		 WHERE a.created_at < ?
		   AND NOT EXISTS (SELECT 1 FROM item_photos p WHERE p.attachment_id = a.id)
		 ORDER BY a.created_at`,
		cutoff.UTC().Format(time.DateTime),
	)
	if err != nil {
		return nil, apperr.Storage("listing orphaned attachments", err)
	}
	defer rows.Close()

	var out []model.Attachment
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.Filename, &a.ContentType, &a.SizeBytes, &a.SHA256, &a.BlobKey, &a.CreatedAt); err != nil {
			return nil, apperr.Storage("scanning attachment", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("listing orphaned attachments", err)
	}
	return out, nil
}
