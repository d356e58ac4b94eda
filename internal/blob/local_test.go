package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/erazemk/stoneshop/internal/apperr"
)

func TestLocalPutOpenDelete(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	ctx := context.Background()

	if err := l.Put(ctx, "2026/10/16/a", bytes.NewBufferString("hello"), 5, "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}

	rc, err := l.Open(ctx, "2026/10/16/a")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected hello, got %q", string(data))
	}

	if err := l.Delete(ctx, "2026/10/16/a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := l.Delete(ctx, "2026/10/16/a"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := l.Open(ctx, "2026/10/16/a"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on open, got %v", err)
	}
}

func TestLocalPutLeavesNoStagingFiles(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	ctx := context.Background()

	l.Put(ctx, "ok", bytes.NewBufferString("x"), 1, "")
	l.Put(ctx, "broken", iotestErrReader{}, -1, "")

	entries, err := os.ReadDir(filepath.Join(l.Root(), "tmp"))
	if err != nil {
		t.Fatalf("reading tmp: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty staging dir, found %d entries", len(entries))
	}
	if _, err := os.Stat(filepath.Join(l.Root(), "broken")); !os.IsNotExist(err) {
		t.Errorf("failed put must not leave a blob behind")
	}
}

type iotestErrReader struct{}

func (iotestErrReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestLocalRejectsTraversalKeys(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"", "/etc/passwd", "../x", "a/../../x", "..", "tmp/put-1", `a\b`} {
		if err := l.Put(ctx, key, bytes.NewBufferString("x"), 1, ""); !errors.Is(err, apperr.ErrInvalidID) {
			t.Errorf("Put(%q): expected ErrInvalidID, got %v", key, err)
		}
		if _, err := l.Open(ctx, key); !errors.Is(err, apperr.ErrInvalidID) {
			t.Errorf("Open(%q): expected ErrInvalidID, got %v", key, err)
		}
	}
}

func TestLocalRespectsCanceledContext(t *testing.T) {
	l, _ := NewLocal(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Put(ctx, "k", bytes.NewBufferString("x"), 1, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
