package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
)

// docxParser reads word/document.xml from the OOXML container directly.
// Headings map to Block levels via the Heading1..9 paragraph styles; w:tbl
// elements become table blocks with cells preserved.
type docxParser struct{}

func NewDOCXParser() Parser { return &docxParser{} }

func (p *docxParser) Name() string { return "docx" }

// docxPageChars approximates pagination; OOXML has no fixed page boundaries.
const docxPageChars = 3000

func (p *docxParser) Parse(_ context.Context, data []byte, _ string) (*Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apierr.New(apierr.KindParsing, "", false, fmt.Errorf("open docx container: %w", err))
	}
	var docXML []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return nil, apierr.New(apierr.KindParsing, "", false, err)
			}
			docXML, err = io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				return nil, apierr.New(apierr.KindParsing, "", false, err)
			}
			break
		}
	}
	if docXML == nil {
		return nil, apierr.Newf(apierr.KindParsing, "", false, "docx missing word/document.xml")
	}

	blocks, err := parseDocumentXML(docXML)
	if err != nil {
		return nil, apierr.New(apierr.KindParsing, "", false, err)
	}
	if len(blocks) == 0 {
		return nil, apierr.Newf(apierr.KindParsing, "", false, "docx has no readable content")
	}
	return paginateBlocks(blocks, "docx"), nil
}

func parseDocumentXML(raw []byte) ([]Block, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var blocks []Block
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode document.xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "p":
			text, style := readParagraph(dec, start)
			if strings.TrimSpace(text) == "" {
				continue
			}
			if lvl := headingLevel(style); lvl > 0 {
				blocks = append(blocks, Block{Type: BlockHeading, Text: text, Level: lvl})
			} else {
				blocks = append(blocks, Block{Type: BlockParagraph, Text: text})
			}
		case "tbl":
			rows := readTable(dec, start)
			if len(rows) > 0 {
				blocks = append(blocks, Block{Type: BlockTable, Rows: rows})
			}
		}
	}
	return blocks, nil
}

// readParagraph consumes a w:p element, collecting run text and the pStyle.
func readParagraph(dec *xml.Decoder, start xml.StartElement) (text, style string) {
	var b strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "pStyle":
				for _, a := range t.Attr {
					if a.Name.Local == "val" {
						style = a.Value
					}
				}
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err == nil {
					b.WriteString(s)
				}
				depth--
			case "br", "cr":
				b.WriteString("\n")
			case "tab":
				b.WriteString("\t")
			}
		case xml.EndElement:
			depth--
		}
	}
	return b.String(), style
}

func readTable(dec *xml.Decoder, start xml.StartElement) [][]string {
	var rows [][]string
	var row []string
	var cell strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "tr":
				row = nil
			case "tc":
				cell.Reset()
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err == nil {
					cell.WriteString(s)
				}
				depth--
			}
		case xml.EndElement:
			depth--
			switch t.Name.Local {
			case "tc":
				row = append(row, strings.TrimSpace(cell.String()))
			case "tr":
				if len(row) > 0 {
					rows = append(rows, row)
				}
			}
		}
	}
	return rows
}

func headingLevel(style string) int {
	s := strings.ToLower(strings.TrimSpace(style))
	if s == "title" {
		return 1
	}
	if !strings.HasPrefix(s, "heading") {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "heading"))
	if err != nil || n < 1 || n > 9 {
		return 0
	}
	return n
}

// paginateBlocks distributes blocks over synthetic pages of roughly
// docxPageChars characters each.
func paginateBlocks(blocks []Block, parserName string) *Document {
	doc := &Document{ParserUsed: parserName}
	page := Page{Number: 1}
	chars := 0
	flush := func() {
		if len(page.Blocks) > 0 {
			doc.Pages = append(doc.Pages, page)
			page = Page{Number: len(doc.Pages) + 1}
			chars = 0
		}
	}
	for _, blk := range blocks {
		size := len(blk.Text)
		for _, row := range blk.Rows {
			for _, c := range row {
				size += len(c)
			}
		}
		if chars > 0 && chars+size > docxPageChars {
			flush()
		}
		page.Blocks = append(page.Blocks, blk)
		chars += size
	}
	flush()
	doc.PageCount = len(doc.Pages)
	return doc
}
