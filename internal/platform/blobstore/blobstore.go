package blobstore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docmindhq/docmind-backend/internal/platform/envutil"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

// Prefix namespaces object keys by purpose.
type Prefix string

const (
	PrefixDocuments Prefix = "documents"
	PrefixTemplates Prefix = "templates"
	PrefixFills     Prefix = "fills"
	PrefixArtifacts Prefix = "artifacts"
)

// Backend is the object storage boundary. Keys are always built through
// Key() so every object lands under a tenant-scoped prefix.
type Backend interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	// PresignedURL returns a time-limited download URL. Local mode returns a
	// file:// URL since there is nothing to sign.
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	StorageType() string
}

// Key builds the canonical object key: {prefix}/{tenant_id}/{rest...}.
func Key(prefix Prefix, tenantID string, parts ...string) string {
	segs := append([]string{string(prefix), tenantID}, parts...)
	for i, s := range segs {
		segs[i] = strings.Trim(strings.TrimSpace(s), "/")
	}
	return strings.Join(segs, "/")
}

// New picks the backend from STORAGE_MODE: "gcs" (default) or "local".
func New(log *logger.Logger) (Backend, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	mode := strings.ToLower(strings.TrimSpace(envutil.GetEnv("STORAGE_MODE", "gcs")))
	switch mode {
	case "gcs":
		return newGCSBackend(log)
	case "local":
		dir := envutil.GetEnv("LOCAL_STORAGE_DIR", "")
		if dir == "" {
			return nil, fmt.Errorf("STORAGE_MODE=local requires LOCAL_STORAGE_DIR")
		}
		return NewLocalBackend(log, dir)
	default:
		return nil, fmt.Errorf("unknown STORAGE_MODE %q (want gcs or local)", mode)
	}
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(s, ".docx"):
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	case strings.HasSuffix(s, ".txt"):
		return "text/plain; charset=utf-8"
	case strings.HasSuffix(s, ".yaml"), strings.HasSuffix(s, ".yml"):
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}
