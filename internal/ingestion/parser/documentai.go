package parser

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/envutil"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

// documentAIParser is the premium layout-aware parser: paragraphs with
// detected structure plus tables with cells preserved.
type documentAIParser struct {
	log       *logger.Logger
	client    *documentai.DocumentProcessorClient
	processor string
}

func NewDocumentAIParser(log *logger.Logger) (Parser, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	project := strings.TrimSpace(envutil.GetEnv("DOCUMENTAI_PROJECT_ID", ""))
	processorID := strings.TrimSpace(envutil.GetEnv("DOCUMENTAI_PROCESSOR_ID", ""))
	if project == "" || processorID == "" {
		return nil, fmt.Errorf("missing DOCUMENTAI_PROJECT_ID or DOCUMENTAI_PROCESSOR_ID")
	}
	location := envutil.GetEnv("DOCUMENTAI_LOCATION", "us")
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)

	opts := []option.ClientOption{option.WithEndpoint(endpoint)}
	if creds := envutil.GetEnv("GOOGLE_APPLICATION_CREDENTIALS", ""); creds != "" {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	client, err := documentai.NewDocumentProcessorClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}
	serviceLog := log.With("service", "DocumentAIParser")
	serviceLog.Info("Document AI initialized", "endpoint", endpoint)
	return &documentAIParser{
		log:       serviceLog,
		client:    client,
		processor: fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID),
	}, nil
}

func (p *documentAIParser) Name() string { return "documentai" }

func (p *documentAIParser) Parse(ctx context.Context, data []byte, _ string) (*Document, error) {
	if len(data) == 0 {
		return nil, apierr.Newf(apierr.KindParsing, "", false, "empty file")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	resp, err := p.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: p.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: "application/pdf",
			},
		},
	})
	if err != nil {
		return nil, apierr.New(apierr.KindParsing, "", true, fmt.Errorf("documentai ProcessDocument: %w", err))
	}
	if resp == nil || resp.Document == nil {
		return nil, apierr.Newf(apierr.KindParsing, "", false, "documentai returned empty document")
	}
	return buildDocument(resp.Document, p.Name())
}

func buildDocument(d *documentaipb.Document, parserName string) (*Document, error) {
	doc := &Document{ParserUsed: parserName, PageCount: len(d.Pages)}
	for _, pg := range d.Pages {
		if pg == nil {
			continue
		}
		page := Page{Number: int(pg.PageNumber)}
		if page.Number == 0 {
			page.Number = len(doc.Pages) + 1
		}

		// Tables with their anchor offsets so blocks interleave in reading order.
		type placed struct {
			offset int
			block  Block
		}
		var items []placed
		for _, para := range pg.Paragraphs {
			if para == nil || para.Layout == nil || para.Layout.TextAnchor == nil {
				continue
			}
			text := strings.TrimSpace(anchorText(d.Text, para.Layout.TextAnchor))
			if text == "" {
				continue
			}
			block := Block{Type: BlockParagraph, Text: text}
			if isHeadingLayout(para.Layout, text) {
				block.Type = BlockHeading
				block.Level = 2
			}
			items = append(items, placed{offset: anchorStart(para.Layout.TextAnchor), block: block})
		}
		for _, tbl := range pg.Tables {
			rows := tableRows(d.Text, tbl)
			if len(rows) == 0 {
				continue
			}
			offset := 0
			if tbl.Layout != nil && tbl.Layout.TextAnchor != nil {
				offset = anchorStart(tbl.Layout.TextAnchor)
			}
			items = append(items, placed{offset: offset, block: Block{Type: BlockTable, Rows: rows}})
		}
		sort.SliceStable(items, func(i, j int) bool { return items[i].offset < items[j].offset })
		for _, it := range items {
			page.Blocks = append(page.Blocks, it.block)
		}
		doc.Pages = append(doc.Pages, page)
	}
	if len(doc.Pages) == 0 {
		if strings.TrimSpace(d.Text) == "" {
			return nil, apierr.Newf(apierr.KindParsing, "", false, "documentai produced no pages")
		}
		page := Page{Number: 1}
		for _, para := range splitParagraphs(d.Text) {
			page.Blocks = append(page.Blocks, Block{Type: BlockParagraph, Text: para})
		}
		doc.Pages = append(doc.Pages, page)
		doc.PageCount = 1
	}
	return doc, nil
}

func anchorText(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.TextSegments {
		if seg == nil {
			continue
		}
		start, end := int(seg.StartIndex), int(seg.EndIndex)
		if start < 0 {
			start = 0
		}
		if end > len(full) {
			end = len(full)
		}
		if start < end {
			b.WriteString(full[start:end])
		}
	}
	return b.String()
}

func anchorStart(anchor *documentaipb.Document_TextAnchor) int {
	if anchor == nil || len(anchor.TextSegments) == 0 || anchor.TextSegments[0] == nil {
		return 0
	}
	return int(anchor.TextSegments[0].StartIndex)
}

// isHeadingLayout treats short, standalone lines as headings. Document AI
// layout types are processor-dependent; length is the portable signal.
func isHeadingLayout(_ *documentaipb.Document_Page_Layout, text string) bool {
	return len(text) < 80 && !strings.ContainsAny(text, ".!?") && strings.Count(text, " ") < 10
}

func tableRows(full string, t *documentaipb.Document_Page_Table) [][]string {
	if t == nil {
		return nil
	}
	var rows [][]string
	appendRows := func(src []*documentaipb.Document_Page_Table_TableRow) {
		for _, r := range src {
			if r == nil {
				continue
			}
			row := make([]string, 0, len(r.Cells))
			for _, c := range r.Cells {
				if c == nil || c.Layout == nil {
					row = append(row, "")
					continue
				}
				row = append(row, strings.TrimSpace(anchorText(full, c.Layout.TextAnchor)))
			}
			rows = append(rows, row)
		}
	}
	appendRows(t.HeaderRows)
	appendRows(t.BodyRows)
	return rows
}

func (p *documentAIParser) Close() error { return p.client.Close() }
