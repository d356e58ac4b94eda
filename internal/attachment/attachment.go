// Package attachment stores uploaded photos: bytes go to a blob backend,
// metadata goes to the attachments table.
package attachment

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/erazemk/stoneshop/internal/apperr"
	"github.com/erazemk/stoneshop/internal/blob"
	"github.com/erazemk/stoneshop/internal/model"
	"github.com/erazemk/stoneshop/internal/store"
)

const fallbackContentType = "application/octet-stream"

// Store puts, reads and deletes attachments.
type Store struct {
	DB      *sql.DB
	Backend blob.Backend
	// TempDir holds staged uploads. Empty means os.TempDir().
	TempDir string
	// MaxSize rejects larger uploads with apperr.ErrTooLarge. Zero disables the limit.
	MaxSize int64
	Logger  *slog.Logger

	now func() time.Time
}

// Content is an open attachment. Callers must close Body.
type Content struct {
	model.Attachment
	Body io.ReadCloser
}

func (s *Store) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Store) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// storageKey places blobs under a date prefix so directories stay small.
func storageKey(t time.Time, id string) string {
	return fmt.Sprintf("%d/%02d/%02d/%s", t.Year(), t.Month(), t.Day(), id)
}

// Put streams r into the blob backend and records its metadata. Either both
// the blob and its metadata are stored, or neither is. An empty content type
// is detected from the bytes.
func (s *Store) Put(ctx context.Context, r io.Reader, filename, contentType string) (*model.Attachment, error) {
	if r == nil {
		return nil, fmt.Errorf("attachment content is required")
	}

	tmp, err := os.CreateTemp(s.TempDir, "upload-*")
	if err != nil {
		return nil, apperr.Storage("staging upload", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	src := r
	if s.MaxSize > 0 {
		src = io.LimitReader(r, s.MaxSize+1)
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), src)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if s.MaxSize > 0 && n > s.MaxSize {
		return nil, fmt.Errorf("upload exceeds %d bytes: %w", s.MaxSize, apperr.ErrTooLarge)
	}

	contentType, err = resolveContentType(tmp, contentType)
	if err != nil {
		return nil, apperr.Storage("detecting content type", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, apperr.Storage("rewinding upload", err)
	}

	id := uuid.NewString()
	a := &model.Attachment{
		ID:          id,
		Filename:    cleanFilename(filename, id),
		ContentType: contentType,
		SizeBytes:   n,
		SHA256:      hex.EncodeToString(h.Sum(nil)),
		BlobKey:     storageKey(s.clock().UTC(), id),
	}

	if err := s.Backend.Put(ctx, a.BlobKey, tmp, n, contentType); err != nil {
		return nil, err
	}

	if err := store.InsertAttachment(ctx, s.DB, a); err != nil {
		if delErr := s.Backend.Delete(context.WithoutCancel(ctx), a.BlobKey); delErr != nil {
			s.logger().Error("failed to remove blob after metadata insert failed",
				"attachment", id, "key", a.BlobKey, "error", delErr)
		}
		return nil, err
	}

	a.CreatedAt = s.clock().UTC()
	return a, nil
}

// Stat returns attachment metadata without opening the blob.
func (s *Store) Stat(ctx context.Context, id string) (*model.Attachment, error) {
	return store.GetAttachment(ctx, s.DB, id)
}

// Get opens an attachment for reading. The body is read lazily.
func (s *Store) Get(ctx context.Context, id string) (*Content, error) {
	a, err := store.GetAttachment(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	rc, err := s.Backend.Open(ctx, a.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("opening attachment %s: %w", a.ID, err)
	}
	return &Content{Attachment: *a, Body: rc}, nil
}

// Delete removes an attachment's blob and then its metadata. The row is kept
// until the blob is gone, so a failed delete can be retried or swept later.
// Deleting an attachment that does not exist reports apperr.ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	a, err := store.GetAttachment(ctx, s.DB, id)
	if err != nil {
		return err
	}

	err = s.Backend.Delete(ctx, a.BlobKey)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrNotFound):
		s.logger().Warn("attachment blob already gone", "attachment", a.ID, "key", a.BlobKey)
	default:
		return fmt.Errorf("deleting blob of attachment %s: %w", a.ID, err)
	}

	return store.DeleteAttachment(ctx, s.DB, a.ID)
}

// SweepOrphans deletes attachments older than olderThan that no item links
// to, and returns how many were removed.
func (s *Store) SweepOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	orphans, err := store.ListOrphanedAttachments(ctx, s.DB, s.clock().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, a := range orphans {
		if err := s.Delete(ctx, a.ID); err != nil {
			s.logger().Error("failed to sweep orphaned attachment", "attachment", a.ID, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func resolveContentType(f *os.File, declared string) (string, error) {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != fallbackContentType {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt, nil
		}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	detected, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	mt, _, err := mime.ParseMediaType(detected.String())
	if err != nil {
		return fallbackContentType, nil
	}
	return mt, nil
}

// cleanFilename keeps the base name of an uploaded file and drops characters
// that would break a Content-Disposition header.
func cleanFilename(name, fallback string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	name = strings.Map(func(r rune) rune {
		if r == '"' || unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" {
		return fallback
	}
	return name
}
