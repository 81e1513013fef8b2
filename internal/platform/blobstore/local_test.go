package blobstore

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

func newLocal(t *testing.T) Backend {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	b, err := NewLocalBackend(log, t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	return b
}

func TestLocalRoundTrip(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()
	key := Key(PrefixDocuments, "tenant-1", "doc-9", "raw.txt")

	if err := b.Upload(ctx, key, strings.NewReader("hello world"), ""); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	ok, err := b.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Exists: ok=%v err=%v", ok, err)
	}
	r, err := b.Download(ctx, key)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, _ := io.ReadAll(r)
	_ = r.Close()
	if string(got) != "hello world" {
		t.Fatalf("content: %q", got)
	}

	url, err := b.PresignedURL(ctx, key, time.Minute)
	if err != nil || !strings.HasPrefix(url, "file://") {
		t.Fatalf("PresignedURL: url=%q err=%v", url, err)
	}

	if err := b.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, err = b.Exists(ctx, key)
	if err != nil || ok {
		t.Fatalf("Exists after delete: ok=%v err=%v", ok, err)
	}
	// Deleting again is a no-op.
	if err := b.Delete(ctx, key); err != nil {
		t.Fatalf("Delete twice: %v", err)
	}
}

func TestLocalRejectsTraversal(t *testing.T) {
	b := newLocal(t)
	if err := b.Upload(context.Background(), "../escape.txt", strings.NewReader("x"), ""); err == nil {
		t.Fatalf("expected traversal rejection")
	}
}

func TestKeyLayout(t *testing.T) {
	got := Key(PrefixFills, "t1", "run-5", "output.json")
	if got != "fills/t1/run-5/output.json" {
		t.Fatalf("key: %q", got)
	}
}
