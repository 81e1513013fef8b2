package parser

import (
	"context"
	"fmt"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/envutil"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

// visionPagesPerRequest is the inline-PDF page limit of files:annotate.
const visionPagesPerRequest = 5

// visionOCRParser runs DOCUMENT_TEXT_DETECTION over scanned PDFs, paging
// through the file five pages at a time. Standard tier.
type visionOCRParser struct {
	log    *logger.Logger
	client *vision.ImageAnnotatorClient
}

func NewVisionOCRParser(log *logger.Logger) (Parser, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	opts := []option.ClientOption{}
	if creds := envutil.GetEnv("GOOGLE_APPLICATION_CREDENTIALS", ""); creds != "" {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	client, err := vision.NewImageAnnotatorClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &visionOCRParser{
		log:    log.With("service", "VisionOCRParser"),
		client: client,
	}, nil
}

func (p *visionOCRParser) Name() string { return "vision_ocr" }

func (p *visionOCRParser) Parse(ctx context.Context, data []byte, _ string) (*Document, error) {
	if len(data) == 0 {
		return nil, apierr.Newf(apierr.KindParsing, "", false, "empty pdf")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	doc := &Document{ParserUsed: p.Name()}
	pageStart := int32(1)
	for {
		pages := make([]int32, 0, visionPagesPerRequest)
		for i := int32(0); i < visionPagesPerRequest; i++ {
			pages = append(pages, pageStart+i)
		}
		req := &visionpb.BatchAnnotateFilesRequest{
			Requests: []*visionpb.AnnotateFileRequest{{
				InputConfig: &visionpb.InputConfig{
					Content:  data,
					MimeType: "application/pdf",
				},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
				Pages: pages,
			}},
		}
		resp, err := p.client.BatchAnnotateFiles(ctx, req)
		if err != nil {
			return nil, apierr.New(apierr.KindParsing, "", true, fmt.Errorf("vision BatchAnnotateFiles: %w", err))
		}
		if len(resp.Responses) == 0 || resp.Responses[0] == nil {
			break
		}
		fileResp := resp.Responses[0]
		if fileResp.Error != nil && fileResp.Error.Message != "" {
			// Past-the-end page requests fail; stop if we already got pages.
			if len(doc.Pages) > 0 {
				break
			}
			return nil, apierr.Newf(apierr.KindParsing, "", false, "vision annotate error: %s", fileResp.Error.Message)
		}
		if fileResp.TotalPages > 0 {
			doc.PageCount = int(fileResp.TotalPages)
		}
		got := 0
		for _, r := range fileResp.Responses {
			if r == nil {
				continue
			}
			got++
			pageNum := len(doc.Pages) + 1
			if r.Context != nil && r.Context.PageNumber > 0 {
				pageNum = int(r.Context.PageNumber)
			}
			page := Page{Number: pageNum}
			if fta := r.FullTextAnnotation; fta != nil {
				for _, para := range splitParagraphs(fta.Text) {
					page.Blocks = append(page.Blocks, Block{Type: BlockParagraph, Text: para})
				}
			}
			doc.Pages = append(doc.Pages, page)
		}
		if got < visionPagesPerRequest {
			break
		}
		pageStart += visionPagesPerRequest
		if doc.PageCount > 0 && int(pageStart) > doc.PageCount {
			break
		}
	}
	if doc.PageCount == 0 {
		doc.PageCount = len(doc.Pages)
	}
	if len(doc.Pages) == 0 || strings.TrimSpace(doc.Text()) == "" {
		return nil, apierr.Newf(apierr.KindParsing, "", false, "ocr produced no text")
	}
	return doc, nil
}

func (p *visionOCRParser) Close() error { return p.client.Close() }
