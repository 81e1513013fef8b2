package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

// Tier is the subscription level gating parser selection.
type Tier int

const (
	TierBasic Tier = iota
	TierStandard
	TierPremium
)

func ParseTier(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "premium":
		return TierPremium
	case "standard":
		return TierStandard
	default:
		return TierBasic
	}
}

func (t Tier) String() string {
	switch t {
	case TierPremium:
		return "premium"
	case TierStandard:
		return "standard"
	default:
		return "basic"
	}
}

type PDFType string

const (
	PDFTypeDigital PDFType = "digital"
	PDFTypeScanned PDFType = "scanned"
)

type BlockType string

const (
	BlockHeading   BlockType = "heading"
	BlockParagraph BlockType = "paragraph"
	BlockTable     BlockType = "table"
)

// Block is a reading-order element emitted by any parser. Table blocks carry
// Rows verbatim; heading blocks carry Level (1 = document title level).
type Block struct {
	Type    BlockType
	Text    string
	Level   int
	Rows    [][]string
	Caption string
}

type Page struct {
	Number int
	Blocks []Block
}

type Document struct {
	Pages      []Page
	PageCount  int
	ParserUsed string
}

// Parser converts raw file bytes into a reading-order block stream.
type Parser interface {
	Name() string
	Parse(ctx context.Context, data []byte, filename string) (*Document, error)
}

// Registry selects a parser from (tier, file type, pdf type). Tiers below
// the required level get upgrade_required, never a silent downgrade.
type Registry struct {
	log        *logger.Logger
	native     Parser
	docx       Parser
	visionOCR  Parser // standard tier, scanned PDFs
	documentAI Parser // premium tier, layout + tables
}

func NewRegistry(log *logger.Logger, visionOCR, documentAI Parser) *Registry {
	return &Registry{
		log:        log.With("service", "ParserRegistry"),
		native:     NewNativePDFParser(),
		docx:       NewDOCXParser(),
		visionOCR:  visionOCR,
		documentAI: documentAI,
	}
}

// Select resolves the parser for an upload. DOCX files always use the OOXML
// parser. PDFs route on detected type: digital text extracts natively at any
// tier; scanned PDFs need OCR (standard+); premium tier upgrades both to the
// layout-aware parser when available.
func (r *Registry) Select(tier Tier, filename string, data []byte) (Parser, PDFType, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".docx":
		return r.docx, "", nil
	case ".pdf":
	default:
		return nil, "", apierr.Newf(apierr.KindValidation, "", false, "unsupported file extension %q", ext)
	}

	pdfType := DetectPDFType(data)
	if tier >= TierPremium && r.documentAI != nil {
		return r.documentAI, pdfType, nil
	}
	switch pdfType {
	case PDFTypeDigital:
		return r.native, pdfType, nil
	case PDFTypeScanned:
		if tier < TierStandard {
			return nil, pdfType, apierr.New(apierr.KindUpgradeRequired, "", false,
				fmt.Errorf("scanned pdf requires standard tier or above, current tier is %s", tier))
		}
		if r.visionOCR == nil {
			return nil, pdfType, apierr.Newf(apierr.KindParsing, "", false, "ocr parser not configured")
		}
		return r.visionOCR, pdfType, nil
	default:
		return nil, pdfType, apierr.Newf(apierr.KindParsing, "", false, "unknown pdf type %q", pdfType)
	}
}

// Text flattens a parsed document back to plain text, one page marker per
// page. Used for the raw-text pipeline artifact.
func (d *Document) Text() string {
	var b strings.Builder
	for _, p := range d.Pages {
		fmt.Fprintf(&b, "[Page %d]\n", p.Number)
		for _, blk := range p.Blocks {
			switch blk.Type {
			case BlockTable:
				for _, row := range blk.Rows {
					b.WriteString(strings.Join(row, " | "))
					b.WriteString("\n")
				}
			default:
				b.WriteString(blk.Text)
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
