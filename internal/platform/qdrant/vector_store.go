package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

const maxErrorBodyBytes = 1024

// pointIDNamespaceUUID seeds deterministic point ids so re-upserting a chunk
// overwrites its previous point instead of duplicating it.
var pointIDNamespaceUUID = uuid.MustParse("7a7cf2a3-9a1e-4a86-9c2f-31c2a86df7b1")

type Vector struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

type Match struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// VectorStore is the dense retrieval index. Namespaces are tenant-scoped;
// filters select by document_id / collection_id payload fields.
type VectorStore interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]Match, error)
	DeleteByFilter(ctx context.Context, namespace string, filter map[string]any) error
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	VectorDim  int
	Transport  http.RoundTripper // injected by tests
}

func (c Config) validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("qdrant: missing url")
	}
	if strings.TrimSpace(c.Collection) == "" {
		return fmt.Errorf("qdrant: missing collection")
	}
	if c.VectorDim <= 0 {
		return fmt.Errorf("qdrant: vector dim must be positive")
	}
	return nil
}

type vectorStore struct {
	log        *logger.Logger
	cfg        Config
	baseURL    string
	httpClient *http.Client
}

func NewVectorStore(log *logger.Logger, cfg Config) (VectorStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	if cfg.Transport != nil {
		client.Transport = cfg.Transport
	}
	return &vectorStore{
		log:        log.With("service", "QdrantVectorStore"),
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: client,
	}, nil
}

func (s *vectorStore) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	points := make([]map[string]any, 0, len(vectors))
	for _, v := range vectors {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			return fmt.Errorf("qdrant upsert: vector id required")
		}
		// Dimension mismatch at store time is a hard error.
		if len(v.Values) != s.cfg.VectorDim {
			return fmt.Errorf("qdrant upsert: vector %q dimension mismatch: expected=%d got=%d", id, s.cfg.VectorDim, len(v.Values))
		}
		payload := map[string]any{}
		for k, val := range v.Metadata {
			payload[k] = val
		}
		payload["_namespace"] = namespace
		payload["_vector_id"] = id
		points = append(points, map[string]any{
			"id":      s.pointID(namespace, id),
			"vector":  v.Values,
			"payload": payload,
		})
	}
	body := map[string]any{"points": points}
	return s.doJSON(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), body, nil)
}

func (s *vectorStore) QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]Match, error) {
	if len(q) == 0 || topK <= 0 {
		return nil, nil
	}
	body := map[string]any{
		"vector":       q,
		"limit":        topK,
		"with_payload": true,
		"filter":       buildFilter(namespace, filter),
	}
	var result []struct {
		ID      json.RawMessage `json:"id"`
		Score   float64         `json:"score"`
		Payload map[string]any  `json:"payload"`
	}
	if err := s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/search"), body, &result); err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(result))
	for _, item := range result {
		id, _ := item.Payload["_vector_id"].(string)
		if id == "" {
			id = strings.Trim(string(item.ID), `"`)
		}
		out = append(out, Match{ID: id, Score: item.Score, Payload: item.Payload})
	}
	return out, nil
}

func (s *vectorStore) DeleteByFilter(ctx context.Context, namespace string, filter map[string]any) error {
	body := map[string]any{"filter": buildFilter(namespace, filter)}
	return s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), body, nil)
}

func buildFilter(namespace string, filter map[string]any) map[string]any {
	must := []map[string]any{
		{"key": "_namespace", "match": map[string]any{"value": namespace}},
	}
	for k, v := range filter {
		switch vv := v.(type) {
		case []string:
			must = append(must, map[string]any{"key": k, "match": map[string]any{"any": vv}})
		default:
			must = append(must, map[string]any{"key": k, "match": map[string]any{"value": v}})
		}
	}
	return map[string]any{"must": must}
}

func (s *vectorStore) pointID(namespace, vectorID string) string {
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(namespace+"/"+vectorID)).String()
}

func (s *vectorStore) collectionPath(suffix string) string {
	return "/collections/" + s.cfg.Collection + suffix
}

func (s *vectorStore) doJSON(ctx context.Context, method, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("qdrant: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("qdrant: %s %s: status=%d body=%s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("qdrant: decode response: %w", err)
	}
	return json.Unmarshal(envelope.Result, out)
}
