package workflow

import (
	"os"
	"path/filepath"
	"testing"
)

const memoYAML = `name: investment_memo
category: finance
prompt_template: |
  Write an investment memo about {{company}}.
output_format: json
min_documents: 1
max_documents: 5
output_schema:
  type: object
  properties:
    sections:
      type: array
      minItems: 3
retrieval:
  - key: overview
    title: Overview
    queries: ["company overview", "business model", "products and services"]
    max_chunks: 8
  - key: financials
    title: Financials
    queries: ["revenue and growth", "margins", "cash flow"]
    prefer_tables: true
    max_chunks: 10
`

func TestLoadDefinitions(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "memo.yaml"), []byte(memoYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	defs, err := LoadDefinitions(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("defs: want=1 got=%d", len(defs))
	}
	d := defs[0]
	if d.Name != "investment_memo" || len(d.Retrieval) != 2 {
		t.Fatalf("definition: %+v", d)
	}
	if !d.Retrieval[1].PreferTables || d.Retrieval[1].MaxChunks != 10 {
		t.Fatalf("section spec: %+v", d.Retrieval[1])
	}

	w, err := d.toModel()
	if err != nil {
		t.Fatalf("to model: %v", err)
	}
	if w.Name != "investment_memo" || w.MaxDocuments != 5 {
		t.Fatalf("model: %+v", w)
	}
	specs, err := ParseRetrievalSpec(w)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if len(specs) != 2 || specs[0].Key != "overview" {
		t.Fatalf("specs: %+v", specs)
	}
}

func TestLoadDefinitionsRejectsEmptySection(t *testing.T) {
	dir := t.TempDir()
	bad := "name: broken\nprompt_template: x\nretrieval:\n  - key: a\n"
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(bad), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadDefinitions(dir); err == nil {
		t.Fatalf("expected validation error")
	}
}
