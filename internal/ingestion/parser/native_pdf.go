package parser

import (
	"bytes"
	"context"
	"regexp"
	"strings"

	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
)

// nativePDFParser extracts text directly from digital PDF content streams:
// it inflates each stream and replays the Tj/TJ show-text operators between
// BT/ET pairs. It handles the simple-font common case; scanned or exotic
// encodings route to the OCR parsers instead.
type nativePDFParser struct{}

func NewNativePDFParser() Parser { return &nativePDFParser{} }

func (p *nativePDFParser) Name() string { return "native_pdf" }

var (
	pageObjRe = regexp.MustCompile(`/Type\s*/Page[^s]`)
	btRe      = regexp.MustCompile(`(?s)BT(.*?)ET`)
	// (text) Tj and [(a) -250 (b)] TJ; parens inside strings are escaped.
	tjRe = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)\s*Tj`)
	tjaRe = regexp.MustCompile(`(?s)\[(.*?)\]\s*TJ`)
	strRe = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)`)
	tdRe  = regexp.MustCompile(`T[dD*]|'|"`)
)

func (p *nativePDFParser) Parse(_ context.Context, data []byte, _ string) (*Document, error) {
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return nil, apierr.Newf(apierr.KindParsing, "", false, "not a pdf file")
	}
	pageCount := len(pageObjRe.FindAll(data, -1))
	if pageCount == 0 {
		pageCount = 1
	}

	streams := streamRe.FindAllSubmatch(data, -1)
	pageTexts := make([]string, 0, len(streams))
	for _, m := range streams {
		content := m[1]
		if decoded, ok := inflate(content); ok {
			content = decoded
		}
		text := extractTextOps(content)
		if strings.TrimSpace(text) != "" {
			pageTexts = append(pageTexts, text)
		}
	}
	if len(pageTexts) == 0 {
		return nil, apierr.Newf(apierr.KindParsing, "", false, "no extractable text found in pdf")
	}

	// Content streams appear in page order for linear PDFs; fold extras into
	// the last page when stream count exceeds the page count.
	doc := &Document{PageCount: pageCount, ParserUsed: p.Name()}
	perPage := make([]string, pageCount)
	for i, t := range pageTexts {
		idx := i
		if idx >= pageCount {
			idx = pageCount - 1
		}
		if perPage[idx] != "" {
			perPage[idx] += "\n"
		}
		perPage[idx] += t
	}
	for i, t := range perPage {
		page := Page{Number: i + 1}
		for _, para := range splitParagraphs(t) {
			page.Blocks = append(page.Blocks, Block{Type: BlockParagraph, Text: para})
		}
		doc.Pages = append(doc.Pages, page)
	}
	return doc, nil
}

// extractTextOps replays show-text operators in a content stream, inserting
// newlines on text-positioning operators.
func extractTextOps(content []byte) string {
	var out strings.Builder
	for _, bt := range btRe.FindAllSubmatch(content, -1) {
		body := bt[1]
		// Walk the block token-ish: line breaks on Td/TD/T*.
		for _, line := range tdRe.Split(string(body), -1) {
			var lineText strings.Builder
			for _, m := range tjRe.FindAllStringSubmatch(line, -1) {
				lineText.WriteString(unescapePDFString(m[1]))
			}
			for _, m := range tjaRe.FindAllStringSubmatch(line, -1) {
				for _, s := range strRe.FindAllStringSubmatch(m[1], -1) {
					lineText.WriteString(unescapePDFString(s[1]))
				}
			}
			if t := lineText.String(); strings.TrimSpace(t) != "" {
				out.WriteString(t)
				out.WriteString("\n")
			}
		}
	}
	return out.String()
}

func unescapePDFString(s string) string {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			out.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			out.WriteByte('\n')
		case 't':
			out.WriteByte('\t')
		case 'r':
			out.WriteByte('\r')
		case '(', ')', '\\':
			out.WriteByte(s[i])
		default:
			out.WriteByte(s[i])
		}
	}
	return out.String()
}

func splitParagraphs(text string) []string {
	var out []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			out = append(out, strings.Join(current, " "))
			current = nil
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return out
}
