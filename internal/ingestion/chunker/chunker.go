package chunker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/ingestion/parser"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
	"github.com/docmindhq/docmind-backend/internal/platform/tokens"
)

type Config struct {
	// MaxNarrativeTokens caps narrative chunk size; oversize sections split
	// into continuation sequences.
	MaxNarrativeTokens int
	// TableContextChars bounds the preceding-paragraph snippet carried by
	// table chunks.
	TableContextChars int
	// MaxLinkedTables bounds linked_table_ids per narrative chunk.
	MaxLinkedTables int
}

func DefaultConfig() Config {
	return Config{
		MaxNarrativeTokens: 500,
		TableContextChars:  300,
		MaxLinkedTables:    4,
	}
}

// SmartChunker walks a parsed document in reading order, grouping paragraphs
// under their heading hierarchy into sections, splitting oversize narratives
// into continuation sequences, and emitting tables verbatim with narrative
// back-links.
type SmartChunker struct {
	log *logger.Logger
	cfg Config
}

func New(log *logger.Logger, cfg Config) *SmartChunker {
	if cfg.MaxNarrativeTokens <= 0 {
		cfg = DefaultConfig()
	}
	return &SmartChunker{log: log.With("service", "SmartChunker"), cfg: cfg}
}

// draft accumulates chunk state before metadata is frozen to JSON.
type draft struct {
	id            uuid.UUID
	text          string
	narrativeText string
	tableRows     [][]string
	pageStart     int
	pageEnd       int
	sectionType   string
	heading       string
	isTabular     bool
	meta          map[string]any
}

func (c *SmartChunker) Chunk(doc *parser.Document, filename string) ([]domain.Chunk, error) {
	if doc == nil || len(doc.Pages) == 0 {
		return nil, apierr.Newf(apierr.KindChunking, "", false, "empty parsed document")
	}

	w := &walker{cfg: c.cfg, filename: filename}
	for _, page := range doc.Pages {
		w.page = page.Number
		for _, blk := range page.Blocks {
			switch blk.Type {
			case parser.BlockHeading:
				w.flushSection()
				w.pushHeading(blk.Level, blk.Text)
			case parser.BlockParagraph:
				w.addParagraph(blk.Text)
			case parser.BlockTable:
				w.addTable(blk)
			}
		}
	}
	w.flushSection()

	if len(w.drafts) == 0 {
		return nil, apierr.Newf(apierr.KindChunking, "", false, "document produced no chunks")
	}
	return materialize(w.drafts)
}

type walker struct {
	cfg      Config
	filename string
	page     int

	headings []string // breadcrumb, index = depth-1

	sectionID    uuid.UUID
	paras        []string
	sectionStart int

	lastNarrative *draft
	drafts        []*draft
}

func (w *walker) pushHeading(level int, text string) {
	if level < 1 {
		level = 1
	}
	if level <= len(w.headings) {
		w.headings = w.headings[:level-1]
	}
	w.headings = append(w.headings, strings.TrimSpace(text))
	w.sectionID = uuid.Nil
}

func (w *walker) currentHeading() string {
	if len(w.headings) == 0 {
		return ""
	}
	return w.headings[len(w.headings)-1]
}

func (w *walker) addParagraph(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if len(w.paras) == 0 {
		w.sectionStart = w.page
		if w.sectionID == uuid.Nil {
			w.sectionID = uuid.New()
		}
	}
	w.paras = append(w.paras, text)
}

// flushSection turns buffered paragraphs into one narrative chunk, or a
// continuation sequence when over the token ceiling.
func (w *walker) flushSection() {
	if len(w.paras) == 0 {
		return
	}
	full := strings.Join(w.paras, "\n\n")
	w.paras = nil

	pieces := splitByTokens(full, w.cfg.MaxNarrativeTokens)
	total := len(pieces)
	members := make([]*draft, 0, total)
	for i, piece := range pieces {
		d := &draft{
			id:            uuid.New(),
			text:          piece,
			narrativeText: piece,
			pageStart:     w.sectionStart,
			pageEnd:       w.page,
			sectionType:   "narrative",
			heading:       w.currentHeading(),
			meta: map[string]any{
				"content_type":      "narrative",
				"document_filename": w.filename,
				"section_id":        w.sectionID.String(),
				"first_sentence":    firstSentence(piece),
			},
		}
		if len(w.headings) > 0 {
			d.meta["heading_hierarchy"] = append([]string{}, w.headings...)
		}
		if total > 1 {
			d.meta["chunk_sequence"] = i + 1
			d.meta["total_chunks_in_section"] = total
			if i > 0 {
				d.meta["is_continuation"] = true
				d.meta["parent_chunk_id"] = members[0].id.String()
			}
		}
		members = append(members, d)
	}
	if total > 1 {
		for _, d := range members {
			siblings := make([]string, 0, total-1)
			for _, other := range members {
				if other.id != d.id {
					siblings = append(siblings, other.id.String())
				}
			}
			d.meta["sibling_chunk_ids"] = siblings
		}
	}
	w.drafts = append(w.drafts, members...)
	w.lastNarrative = members[0]
}

func (w *walker) addTable(blk parser.Block) {
	if len(blk.Rows) == 0 {
		return
	}
	// Tables close out the running narrative so the back-link lands on it.
	w.flushSection()

	cols := 0
	var text strings.Builder
	for _, row := range blk.Rows {
		if len(row) > cols {
			cols = len(row)
		}
		text.WriteString(strings.Join(row, " | "))
		text.WriteString("\n")
	}

	caption := strings.TrimSpace(blk.Caption)
	if caption == "" {
		caption = w.currentHeading()
	}
	d := &draft{
		id:          uuid.New(),
		text:        strings.TrimSpace(text.String()),
		tableRows:   blk.Rows,
		pageStart:   w.page,
		pageEnd:     w.page,
		sectionType: "table",
		heading:     w.currentHeading(),
		isTabular:   true,
		meta: map[string]any{
			"content_type":       "table",
			"document_filename":  w.filename,
			"table_caption":      caption,
			"table_row_count":    len(blk.Rows),
			"table_column_count": cols,
		},
	}
	if len(w.headings) > 0 {
		d.meta["heading_hierarchy"] = append([]string{}, w.headings...)
	}
	if w.lastNarrative != nil {
		d.meta["linked_narrative_id"] = w.lastNarrative.id.String()
		d.meta["table_context"] = snippet(w.lastNarrative.narrativeText, w.cfg.TableContextChars)
		linkTable(w.lastNarrative, d.id, w.cfg.MaxLinkedTables)
	}
	w.drafts = append(w.drafts, d)
}

func linkTable(narrative *draft, tableID uuid.UUID, max int) {
	existing, _ := narrative.meta["linked_table_ids"].([]string)
	if len(existing) >= max {
		return
	}
	narrative.meta["linked_table_ids"] = append(existing, tableID.String())
}

func materialize(drafts []*draft) ([]domain.Chunk, error) {
	out := make([]domain.Chunk, 0, len(drafts))
	for i, d := range drafts {
		metaRaw, err := json.Marshal(d.meta)
		if err != nil {
			return nil, apierr.New(apierr.KindChunking, "", false, err)
		}
		chunk := domain.Chunk{
			ID:             d.id,
			ChunkIndex:     i,
			Text:           d.text,
			NarrativeText:  d.narrativeText,
			PageNumber:     d.pageStart,
			SectionType:    d.sectionType,
			SectionHeading: d.heading,
			IsTabular:      d.isTabular,
			TokenCount:     tokens.Estimate(d.text),
			Metadata:       datatypes.JSON(metaRaw),
		}
		if d.pageEnd > d.pageStart {
			chunk.PageRange = fmt.Sprintf("%d-%d", d.pageStart, d.pageEnd)
		}
		if len(d.tableRows) > 0 {
			rowsRaw, err := json.Marshal(d.tableRows)
			if err != nil {
				return nil, apierr.New(apierr.KindChunking, "", false, err)
			}
			chunk.Tables = datatypes.JSON(rowsRaw)
		}
		out = append(out, chunk)
	}
	return out, nil
}

// splitByTokens breaks text into pieces of at most maxTokens, preferring
// sentence boundaries, falling back to word boundaries for run-on text.
func splitByTokens(text string, maxTokens int) []string {
	if tokens.Estimate(text) <= maxTokens {
		return []string{text}
	}
	sentences := splitSentences(text)
	var out []string
	var cur strings.Builder
	curTokens := 0
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
		curTokens = 0
	}
	for _, s := range sentences {
		st := tokens.Estimate(s)
		if st > maxTokens {
			flush()
			out = append(out, splitWords(s, maxTokens)...)
			continue
		}
		if curTokens+st > maxTokens {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(s)
		curTokens += st
	}
	flush()
	return out
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 >= len(text) || text[i+1] == ' ' || text[i+1] == '\n' {
				if s := strings.TrimSpace(text[start : i+1]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		case '\n':
			if i+1 < len(text) && text[i+1] == '\n' {
				if s := strings.TrimSpace(text[start:i]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func splitWords(s string, maxTokens int) []string {
	words := strings.Fields(s)
	var out []string
	var cur []string
	curTokens := 0
	for _, w := range words {
		wt := tokens.Estimate(w)
		if curTokens+wt > maxTokens && len(cur) > 0 {
			out = append(out, strings.Join(cur, " "))
			cur, curTokens = nil, 0
		}
		cur = append(cur, w)
		curTokens += wt
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, " "))
	}
	return out
}

func firstSentence(text string) string {
	sents := splitSentences(text)
	if len(sents) == 0 {
		return ""
	}
	return snippet(sents[0], 200)
}

func snippet(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	if i := strings.LastIndex(cut, " "); i > max/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
