// Package inventory keeps items and their photo attachments linked: photos
// are stored before they are linked, unlinked before they are deleted, and
// deleted along with their item.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/erazemk/stoneshop/internal/apperr"
	"github.com/erazemk/stoneshop/internal/attachment"
	"github.com/erazemk/stoneshop/internal/model"
)

// ItemRepository is the item storage the service coordinates with.
type ItemRepository interface {
	Get(ctx context.Context, id string) (*model.Item, error)
	Delete(ctx context.Context, id string) error
	AppendPhoto(ctx context.Context, itemID, attachmentID string) error
	RemovePhoto(ctx context.Context, itemID, attachmentID string) error
}

// AttachmentStore holds photo bytes and metadata.
type AttachmentStore interface {
	Put(ctx context.Context, r io.Reader, filename, contentType string) (*model.Attachment, error)
	Get(ctx context.Context, id string) (*attachment.Content, error)
	Delete(ctx context.Context, id string) error
}

// DefaultConcurrency bounds parallel blob deletes during a cascade.
const DefaultConcurrency = 4

// Service attaches, detaches and cascades photo deletes.
type Service struct {
	Items  ItemRepository
	Photos AttachmentStore
	Logger *slog.Logger
	// Concurrency bounds parallel blob deletes. Zero means DefaultConcurrency.
	Concurrency int
}

// CascadeResult reports what happened to an item's photos when it was deleted.
type CascadeResult struct {
	ItemID   string           `json:"item_id"`
	Deleted  []string         `json:"deleted"`
	Failures []apperr.Failure `json:"failures,omitempty"`
}

// Err returns a *apperr.PartialFailure when any photo could not be deleted.
func (r *CascadeResult) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}
	return &apperr.PartialFailure{Op: "deleting photos of item " + r.ItemID, Failures: r.Failures}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Attach stores a photo and appends it to the item's photo list. If the
// photo is stored but cannot be linked, the blob stays behind and the error
// wraps apperr.ErrOrphaned.
func (s *Service) Attach(ctx context.Context, itemID string, r io.Reader, filename, contentType string) (string, error) {
	if _, err := s.Items.Get(ctx, itemID); err != nil {
		return "", err
	}

	a, err := s.Photos.Put(ctx, r, filename, contentType)
	if err != nil {
		return "", fmt.Errorf("storing photo: %w", err)
	}

	if err := s.Items.AppendPhoto(ctx, itemID, a.ID); err != nil {
		s.logger().Error("photo stored but not linked to item",
			"item", itemID, "attachment", a.ID, "error", err)
		return a.ID, fmt.Errorf("linking photo %s: %w: %w", a.ID, apperr.ErrOrphaned, err)
	}
	return a.ID, nil
}

// Detach removes the photo from the item first, then deletes the blob.
// Reference removal errors are returned; blob delete errors are only logged.
func (s *Service) Detach(ctx context.Context, itemID, attachmentID string) error {
	if err := s.Items.RemovePhoto(ctx, itemID, attachmentID); err != nil {
		return err
	}
	if err := s.Photos.Delete(ctx, attachmentID); err != nil {
		s.logger().Error("failed to delete detached photo",
			"item", itemID, "attachment", attachmentID, "error", err)
	}
	return nil
}

// DeleteItem deletes every photo of the item and then the item itself. Photo
// delete failures are collected in the result and never stop the item
// delete; the item delete's own failure is always returned. Nothing is
// deleted when the item cannot be read.
func (s *Service) DeleteItem(ctx context.Context, itemID string) (*CascadeResult, error) {
	item, err := s.Items.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}

	res := &CascadeResult{ItemID: item.ID, Deleted: []string{}}

	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(limit)
	for _, photoID := range item.Photo {
		g.Go(func() error {
			err := s.Photos.Delete(ctx, photoID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger().Error("failed to delete photo during item delete",
					"item", item.ID, "attachment", photoID, "error", err)
				res.Failures = append(res.Failures, apperr.Failure{ID: photoID, Err: err})
				return nil
			}
			res.Deleted = append(res.Deleted, photoID)
			return nil
		})
	}
	_ = g.Wait()

	if err := s.Items.Delete(ctx, item.ID); err != nil {
		return res, fmt.Errorf("deleting item %s: %w", item.ID, err)
	}

	if perr := res.Err(); perr != nil {
		s.logger().Warn("item deleted with photo failures", "item", item.ID, "failed", len(res.Failures))
	}
	return res, nil
}

// Download opens a photo for streaming.
func (s *Service) Download(ctx context.Context, attachmentID string) (*attachment.Content, error) {
	return s.Photos.Get(ctx, attachmentID)
}

// IsOrphaned reports whether err came from a photo that was stored but not
// linked.
func IsOrphaned(err error) bool {
	return errors.Is(err, apperr.ErrOrphaned)
}
