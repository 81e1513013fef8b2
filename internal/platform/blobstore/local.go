package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

// localBackend stores objects under a root directory, mirroring the key
// layout. Used for development and tests.
type localBackend struct {
	log  *logger.Logger
	root string
}

func NewLocalBackend(log *logger.Logger, root string) (Backend, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("local storage root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	serviceLog := log.With("service", "LocalBlobStore")
	serviceLog.Info("Object storage initialized", "mode", "local", "root", root)
	return &localBackend{log: serviceLog, root: root}, nil
}

func (b *localBackend) StorageType() string { return "local" }

func (b *localBackend) pathFor(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(b.root, clean), nil
}

func (b *localBackend) Upload(_ context.Context, key string, r io.Reader, _ string) error {
	path, err := b.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (b *localBackend) Download(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := b.pathFor(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", key, err)
	}
	return f, nil
}

func (b *localBackend) Exists(_ context.Context, key string) (bool, error) {
	path, err := b.pathFor(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

func (b *localBackend) Delete(_ context.Context, key string) error {
	path, err := b.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (b *localBackend) DeletePrefix(_ context.Context, prefix string) error {
	path, err := b.pathFor(prefix)
	if err != nil {
		return err
	}
	return os.RemoveAll(path)
}

func (b *localBackend) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	path, err := b.pathFor(key)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}
