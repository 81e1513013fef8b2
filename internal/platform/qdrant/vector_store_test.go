package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

type rtFunc func(r *http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newTestStore(t *testing.T, fn rtFunc) VectorStore {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	s, err := NewVectorStore(log, Config{
		URL:        "http://qdrant.test",
		Collection: "docmind",
		VectorDim:  3,
		Transport:  fn,
	})
	if err != nil {
		t.Fatalf("NewVectorStore: %v", err)
	}
	return s
}

func okResponse(t *testing.T, result any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"result": result, "status": "ok"})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(raw)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestUpsertRequestShape(t *testing.T) {
	var captured map[string]any
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPut {
			t.Fatalf("method: want=PUT got=%s", r.Method)
		}
		if r.URL.Path != "/collections/docmind/points" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	err := s.Upsert(context.Background(), "tenant-1", []Vector{
		{ID: "chunk-1", Values: []float32{1, 2, 3}, Metadata: map[string]any{"document_id": "d1"}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	points := captured["points"].([]any)
	if len(points) != 1 {
		t.Fatalf("points: want=1 got=%d", len(points))
	}
	payload := points[0].(map[string]any)["payload"].(map[string]any)
	if payload["_namespace"] != "tenant-1" || payload["_vector_id"] != "chunk-1" {
		t.Fatalf("payload: %v", payload)
	}
}

func TestUpsertDimensionMismatchIsHardError(t *testing.T) {
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("request must not be sent on dimension mismatch")
		return nil, nil
	})
	err := s.Upsert(context.Background(), "tenant-1", []Vector{
		{ID: "chunk-1", Values: []float32{1, 2}},
	})
	if err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestQueryMatchesFilterAndIDs(t *testing.T) {
	s := newTestStore(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/docmind/points/search" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		must := body["filter"].(map[string]any)["must"].([]any)
		if len(must) != 2 {
			t.Fatalf("filter must clauses: want=2 got=%d", len(must))
		}
		return okResponse(t, []map[string]any{
			{"id": "p1", "score": 0.93, "payload": map[string]any{"_vector_id": "chunk-9"}},
			{"id": "p2", "score": 0.81, "payload": map[string]any{"_vector_id": "chunk-4"}},
		}), nil
	})

	matches, err := s.QueryMatches(context.Background(), "tenant-1", []float32{1, 0, 0}, 5, map[string]any{"document_id": "d1"})
	if err != nil {
		t.Fatalf("QueryMatches: %v", err)
	}
	if len(matches) != 2 || matches[0].ID != "chunk-9" || matches[1].ID != "chunk-4" {
		t.Fatalf("matches: %+v", matches)
	}
	if matches[0].Score < matches[1].Score {
		t.Fatalf("matches must be score-descending")
	}
}
