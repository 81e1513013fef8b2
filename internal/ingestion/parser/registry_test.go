package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

type stubParser struct{ name string }

func (s *stubParser) Name() string { return s.name }
func (s *stubParser) Parse(context.Context, []byte, string) (*Document, error) {
	return &Document{ParserUsed: s.name, PageCount: 1, Pages: []Page{{Number: 1}}}, nil
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewRegistry(log, &stubParser{name: "vision_ocr"}, &stubParser{name: "documentai"})
}

// Minimal digital PDF: declares a font and shows text uncompressed.
var digitalPDF = []byte(`%PDF-1.4
1 0 obj << /Type /Page /Resources << /Font << /F1 2 0 R >> >> >> endobj
stream
BT /F1 12 Tf (Hello) Tj ET
endstream
%%EOF`)

// Scanned PDF: image XObject, no fonts.
var scannedPDF = []byte(`%PDF-1.4
1 0 obj << /Type /Page >> endobj
2 0 obj << /Subtype /Image /Width 100 >> endobj
stream
...binarydata...
endstream
%%EOF`)

func TestDetectPDFType(t *testing.T) {
	if got := DetectPDFType(digitalPDF); got != PDFTypeDigital {
		t.Fatalf("digital detection: got=%s", got)
	}
	if got := DetectPDFType(scannedPDF); got != PDFTypeScanned {
		t.Fatalf("scanned detection: got=%s", got)
	}
}

func TestSelectScannedBelowStandardIsUpgradeRequired(t *testing.T) {
	r := newRegistry(t)
	_, _, err := r.Select(TierBasic, "scan.pdf", scannedPDF)
	if err == nil || apierr.KindOf(err) != apierr.KindUpgradeRequired {
		t.Fatalf("want upgrade_required, got %v", err)
	}
}

func TestSelectRouting(t *testing.T) {
	r := newRegistry(t)

	p, pdfType, err := r.Select(TierBasic, "doc.pdf", digitalPDF)
	if err != nil || p.Name() != "native_pdf" || pdfType != PDFTypeDigital {
		t.Fatalf("basic digital: parser=%v type=%s err=%v", p, pdfType, err)
	}

	p, _, err = r.Select(TierStandard, "scan.pdf", scannedPDF)
	if err != nil || p.Name() != "vision_ocr" {
		t.Fatalf("standard scanned: parser=%v err=%v", p, err)
	}

	p, _, err = r.Select(TierPremium, "doc.pdf", digitalPDF)
	if err != nil || p.Name() != "documentai" {
		t.Fatalf("premium: parser=%v err=%v", p, err)
	}

	p, _, err = r.Select(TierBasic, "report.docx", nil)
	if err != nil || p.Name() != "docx" {
		t.Fatalf("docx: parser=%v err=%v", p, err)
	}

	_, _, err = r.Select(TierBasic, "notes.txt", nil)
	if err == nil || apierr.KindOf(err) != apierr.KindValidation {
		t.Fatalf("txt: want validation error, got %v", err)
	}
}

func TestNativeParserExtractsText(t *testing.T) {
	doc, err := NewNativePDFParser().Parse(context.Background(), digitalPDF, "doc.pdf")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.PageCount != 1 || len(doc.Pages) != 1 {
		t.Fatalf("pages: count=%d len=%d", doc.PageCount, len(doc.Pages))
	}
	if len(doc.Pages[0].Blocks) == 0 || doc.Pages[0].Blocks[0].Text != "Hello" {
		t.Fatalf("blocks: %+v", doc.Pages[0].Blocks)
	}
}

func TestNativeParserRejectsNonPDF(t *testing.T) {
	_, err := NewNativePDFParser().Parse(context.Background(), []byte("plain text"), "x.pdf")
	var ae *apierr.Error
	if err == nil || !errors.As(err, &ae) || ae.Kind != apierr.KindParsing {
		t.Fatalf("want parsing_error, got %v", err)
	}
}
