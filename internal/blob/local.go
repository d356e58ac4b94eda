package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/erazemk/stoneshop/internal/apperr"
)

// Local stores blobs as files under a root directory. Writes land in
// root/tmp first and are renamed into place, so a blob is either fully
// present or missing.
type Local struct {
	root string
}

// NewLocal creates the root and its staging directory.
func NewLocal(root string) (*Local, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("local blob root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute blob directory.
func (l *Local) Root() string { return l.root }

func (l *Local) Put(ctx context.Context, key string, r io.Reader, _ int64, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := l.pathFromKey(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Join(l.root, "tmp"), "put-*")
	if err != nil {
		return apperr.Storage("staging blob", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := io.Copy(tmp, r); err != nil {
		cleanup()
		return apperr.Storage("writing blob", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return apperr.Storage("syncing blob", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return apperr.Storage("closing blob", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		cleanup()
		return apperr.Storage("creating blob directory", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		cleanup()
		return apperr.Storage("moving blob into place", err)
	}
	return nil
}

func (l *Local) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := l.pathFromKey(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", key, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.Storage("opening blob", err)
	}
	return f, nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := l.pathFromKey(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blob %s: %w", key, apperr.ErrNotFound)
	}
	if err != nil {
		return apperr.Storage("deleting blob", err)
	}
	return nil
}

func (l *Local) pathFromKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty blob key", apperr.ErrInvalidID)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return "", fmt.Errorf("%w: blob key must be relative", apperr.ErrInvalidID)
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) ||
		clean == "tmp" || strings.HasPrefix(clean, "tmp"+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: invalid blob key %q", apperr.ErrInvalidID, key)
	}
	return filepath.Join(l.root, clean), nil
}
