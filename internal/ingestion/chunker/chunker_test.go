package chunker

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/ingestion/parser"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

func newChunker(t *testing.T, cfg Config) *SmartChunker {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return New(log, cfg)
}

func meta(t *testing.T, c domain.Chunk) map[string]any {
	t.Helper()
	m := map[string]any{}
	if err := json.Unmarshal(c.Metadata, &m); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	return m
}

func TestChunkIndexesAndFilename(t *testing.T) {
	doc := &parser.Document{
		PageCount: 1,
		Pages: []parser.Page{{
			Number: 1,
			Blocks: []parser.Block{
				{Type: parser.BlockHeading, Text: "Overview", Level: 1},
				{Type: parser.BlockParagraph, Text: "First paragraph."},
				{Type: parser.BlockHeading, Text: "Financials", Level: 1},
				{Type: parser.BlockParagraph, Text: "Revenue grew."},
			},
		}},
	}
	chunks, err := newChunker(t, DefaultConfig()).Chunk(doc, "memo.pdf")
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks: want=2 got=%d", len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Fatalf("chunk_index gap at %d: got=%d", i, c.ChunkIndex)
		}
		m := meta(t, c)
		if m["document_filename"] != "memo.pdf" {
			t.Fatalf("document_filename missing: %v", m)
		}
	}
	if chunks[1].SectionHeading != "Financials" {
		t.Fatalf("section heading: got=%q", chunks[1].SectionHeading)
	}
}

func TestOversizeNarrativeSplitsIntoContinuations(t *testing.T) {
	sentence := "This sentence repeats to exceed the narrative ceiling. "
	long := strings.Repeat(sentence, 80)
	doc := &parser.Document{
		PageCount: 1,
		Pages: []parser.Page{{
			Number: 1,
			Blocks: []parser.Block{
				{Type: parser.BlockHeading, Text: "Risks", Level: 1},
				{Type: parser.BlockParagraph, Text: long},
			},
		}},
	}
	cfg := DefaultConfig()
	cfg.MaxNarrativeTokens = 100
	chunks, err := newChunker(t, cfg).Chunk(doc, "memo.pdf")
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected a split, got %d chunks", len(chunks))
	}

	first := meta(t, chunks[0])
	if first["chunk_sequence"] != float64(1) {
		t.Fatalf("first chunk_sequence: %v", first["chunk_sequence"])
	}
	if first["is_continuation"] != nil {
		t.Fatalf("first chunk must not be a continuation")
	}
	total := int(first["total_chunks_in_section"].(float64))
	if total != len(chunks) {
		t.Fatalf("total_chunks_in_section: want=%d got=%d", len(chunks), total)
	}

	parentID := chunks[0].ID.String()
	for i := 1; i < len(chunks); i++ {
		m := meta(t, chunks[i])
		if m["is_continuation"] != true {
			t.Fatalf("chunk %d not marked continuation", i)
		}
		if m["parent_chunk_id"] != parentID {
			t.Fatalf("chunk %d parent: want=%s got=%v", i, parentID, m["parent_chunk_id"])
		}
		sibs := m["sibling_chunk_ids"].([]any)
		if len(sibs) != len(chunks)-1 {
			t.Fatalf("chunk %d siblings: want=%d got=%d", i, len(chunks)-1, len(sibs))
		}
		if chunks[i].TokenCount > cfg.MaxNarrativeTokens {
			t.Fatalf("chunk %d over ceiling: %d tokens", i, chunks[i].TokenCount)
		}
	}
}

func TestTableChunkLinksBackToNarrative(t *testing.T) {
	doc := &parser.Document{
		PageCount: 1,
		Pages: []parser.Page{{
			Number: 1,
			Blocks: []parser.Block{
				{Type: parser.BlockHeading, Text: "Revenue", Level: 1},
				{Type: parser.BlockParagraph, Text: "Revenue breakdown by segment follows."},
				{Type: parser.BlockTable, Rows: [][]string{
					{"Segment", "2024", "2025"},
					{"Cloud", "10", "14"},
				}},
			},
		}},
	}
	chunks, err := newChunker(t, DefaultConfig()).Chunk(doc, "memo.pdf")
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks: want=2 got=%d", len(chunks))
	}
	narrative, table := chunks[0], chunks[1]
	if !table.IsTabular || narrative.IsTabular {
		t.Fatalf("tabular flags wrong")
	}
	if table.NarrativeText != "" {
		t.Fatalf("table chunk must have empty narrative_text")
	}

	tm := meta(t, table)
	if tm["linked_narrative_id"] != narrative.ID.String() {
		t.Fatalf("linked_narrative_id: %v", tm["linked_narrative_id"])
	}
	if tm["table_caption"] != "Revenue" {
		t.Fatalf("table_caption: %v", tm["table_caption"])
	}
	if !strings.Contains(tm["table_context"].(string), "Revenue breakdown") {
		t.Fatalf("table_context: %v", tm["table_context"])
	}
	if tm["table_row_count"] != float64(2) || tm["table_column_count"] != float64(3) {
		t.Fatalf("table dims: %v", tm)
	}

	nm := meta(t, narrative)
	linked := nm["linked_table_ids"].([]any)
	if len(linked) != 1 || linked[0] != table.ID.String() {
		t.Fatalf("linked_table_ids: %v", linked)
	}

	var rows [][]string
	if err := json.Unmarshal(table.Tables, &rows); err != nil || len(rows) != 2 || rows[1][0] != "Cloud" {
		t.Fatalf("raw rows not preserved: %v %v", rows, err)
	}
}

func TestHeadingHierarchyBreadcrumb(t *testing.T) {
	doc := &parser.Document{
		PageCount: 1,
		Pages: []parser.Page{{
			Number: 1,
			Blocks: []parser.Block{
				{Type: parser.BlockHeading, Text: "Business", Level: 1},
				{Type: parser.BlockHeading, Text: "Products", Level: 2},
				{Type: parser.BlockParagraph, Text: "The flagship product."},
				{Type: parser.BlockHeading, Text: "Legal", Level: 1},
				{Type: parser.BlockParagraph, Text: "Pending litigation."},
			},
		}},
	}
	chunks, err := newChunker(t, DefaultConfig()).Chunk(doc, "10k.pdf")
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	m0 := meta(t, chunks[0])
	h0 := m0["heading_hierarchy"].([]any)
	if len(h0) != 2 || h0[0] != "Business" || h0[1] != "Products" {
		t.Fatalf("breadcrumb: %v", h0)
	}
	m1 := meta(t, chunks[1])
	h1 := m1["heading_hierarchy"].([]any)
	if len(h1) != 1 || h1[0] != "Legal" {
		t.Fatalf("breadcrumb after pop: %v", h1)
	}
}
