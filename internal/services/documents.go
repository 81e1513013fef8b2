package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	collectionsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/collections"
	documentsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/documents"
	jobsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/jobs"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/jobs"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/blobstore"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/envutil"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
	"github.com/docmindhq/docmind-backend/internal/platform/qdrant"
)

// UploadResult reports the dedup outcome alongside the document and, for
// fresh uploads, the indexing job to follow.
type UploadResult struct {
	Document *domain.Document `json:"document"`
	Job      *domain.Job      `json:"job,omitempty"`
	Reused   bool             `json:"reused"`
	Message  string           `json:"message,omitempty"`
}

type DocumentService interface {
	Upload(dbc dbctx.Context, actor Actor, filename string, data []byte, tier string, collectionID *uuid.UUID) (*UploadResult, error)
	Get(dbc dbctx.Context, actor Actor, id uuid.UUID) (*domain.Document, error)
	List(dbc dbctx.Context, actor Actor, limit, offset int) ([]*domain.Document, error)
	Delete(dbc dbctx.Context, actor Actor, id uuid.UUID) error
	DownloadURL(dbc dbctx.Context, actor Actor, id uuid.UUID) (string, error)
}

type documentService struct {
	log         *logger.Logger
	docs        documentsrepo.DocumentRepo
	collections collectionsrepo.CollectionRepo
	jobRepo     jobsrepo.JobRepo
	blobs       blobstore.Backend
	vectors     qdrant.VectorStore // may be nil

	maxUploadBytes int64
	urlTTL         time.Duration
}

func NewDocumentService(
	baseLog *logger.Logger,
	docRepo documentsrepo.DocumentRepo,
	collectionRepo collectionsrepo.CollectionRepo,
	jobRepo jobsrepo.JobRepo,
	blobs blobstore.Backend,
	vectors qdrant.VectorStore,
) DocumentService {
	return &documentService{
		log:            baseLog.With("service", "DocumentService"),
		docs:           docRepo,
		collections:    collectionRepo,
		jobRepo:        jobRepo,
		blobs:          blobs,
		vectors:        vectors,
		maxUploadBytes: int64(envutil.GetEnvInt("MAX_UPLOAD_BYTES", 52428800)),
		urlTTL:         time.Duration(envutil.GetEnvInt("DOWNLOAD_URL_TTL_SECONDS", 900)) * time.Second,
	}
}

var allowedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
}

// Upload is content-addressed: the same bytes within a tenant always resolve
// to the same document row, and a re-upload of an already indexed file
// creates no new job.
func (s *documentService) Upload(dbc dbctx.Context, actor Actor, filename string, data []byte, tier string, collectionID *uuid.UUID) (*UploadResult, error) {
	if !actor.Valid() {
		return nil, apierr.ErrInvalidArgument
	}
	filename = strings.TrimSpace(filepath.Base(filename))
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return nil, apierr.Newf(apierr.KindValidation, "", false, "unsupported file type %q (want .pdf or .docx)", ext)
	}
	if len(data) == 0 {
		return nil, apierr.Newf(apierr.KindValidation, "", false, "empty upload")
	}
	if int64(len(data)) > s.maxUploadBytes {
		return nil, apierr.Newf(apierr.KindValidation, "", false, "upload exceeds %d bytes", s.maxUploadBytes)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	id := uuid.New()
	doc := &domain.Document{
		ID:          id,
		TenantID:    actor.TenantID,
		UserID:      actor.UserID,
		Filename:    filename,
		FilePath:    blobstore.Key(blobstore.PrefixDocuments, actor.TenantID.String(), id.String(), filename),
		SizeBytes:   int64(len(data)),
		ContentHash: hash,
		Status:      domain.StatusProcessing,
	}
	doc, reused, err := s.docs.Create(dbc, doc)
	if err != nil {
		return nil, err
	}

	if collectionID != nil && *collectionID != uuid.Nil {
		if _, err := s.collections.GetByID(dbc, actor.TenantID, *collectionID); err != nil {
			return nil, err
		}
		if err := s.collections.LinkDocument(dbc, *collectionID, doc.ID); err != nil {
			return nil, err
		}
		if err := s.collections.RecomputeCounters(dbc, *collectionID); err != nil {
			s.log.Warn("collection counter recompute failed", "collection_id", collectionID.String(), "error", err)
		}
	}

	if reused {
		out := &UploadResult{Document: doc, Reused: true, Message: "Reused existing document"}
		// A previously failed document gets a fresh indexing attempt.
		if doc.Status == domain.StatusFailed {
			job, err := s.enqueueIndex(dbc, actor, doc.ID, tier, collectionID)
			if err != nil {
				return nil, err
			}
			out.Job = job
			out.Message = "Reused existing document, re-indexing after earlier failure"
		}
		return out, nil
	}

	if err := s.blobs.Upload(dbc.Ctx, doc.FilePath, bytes.NewReader(data), contentTypeFor(ext)); err != nil {
		// A row without bytes would poison dedup for this hash forever.
		if delErr := s.docs.Delete(dbc, actor.TenantID, doc.ID); delErr != nil {
			s.log.Warn("orphan document cleanup failed", "document_id", doc.ID.String(), "error", delErr)
		}
		if delErr := s.blobs.Delete(dbc.Ctx, doc.FilePath); delErr != nil {
			s.log.Warn("partial blob cleanup failed", "document_id", doc.ID.String(), "error", delErr)
		}
		return nil, apierr.New(apierr.KindStorage, "", true, err)
	}
	job, err := s.enqueueIndex(dbc, actor, doc.ID, tier, collectionID)
	if err != nil {
		return nil, err
	}
	s.log.Info("document uploaded",
		"document_id", doc.ID.String(), "job_id", job.ID.String(),
		"size_bytes", doc.SizeBytes, "content_hash", hash[:12])
	return &UploadResult{Document: doc, Job: job}, nil
}

func (s *documentService) enqueueIndex(dbc dbctx.Context, actor Actor, documentID uuid.UUID, tier string, collectionID *uuid.UUID) (*domain.Job, error) {
	payload, err := json.Marshal(jobs.DocumentIndexPayload{Tier: tier, CollectionID: collectionID})
	if err != nil {
		return nil, err
	}
	return s.jobRepo.Create(dbc, &domain.Job{
		TenantID:   actor.TenantID,
		UserID:     actor.UserID,
		JobType:    jobs.TypeDocumentIndex,
		DocumentID: &documentID,
		Status:     domain.StatusQueued,
		Payload:    datatypes.JSON(payload),
	})
}

func (s *documentService) Get(dbc dbctx.Context, actor Actor, id uuid.UUID) (*domain.Document, error) {
	return s.docs.GetByID(dbc, actor.TenantID, id)
}

func (s *documentService) List(dbc dbctx.Context, actor Actor, limit, offset int) ([]*domain.Document, error) {
	return s.docs.ListByUser(dbc, actor.TenantID, actor.UserID, limit, offset)
}

// Delete removes the row (chunks cascade, extractions keep a null
// document_id) and best-effort cleans the blob and vector copies. Cleanup
// failures are logged, not surfaced: the row delete is the authority.
func (s *documentService) Delete(dbc dbctx.Context, actor Actor, id uuid.UUID) error {
	doc, err := s.docs.GetByID(dbc, actor.TenantID, id)
	if err != nil {
		return err
	}
	if err := s.docs.Delete(dbc, actor.TenantID, id); err != nil {
		return err
	}
	if s.vectors != nil {
		if err := s.vectors.DeleteByFilter(dbc.Ctx, actor.TenantID.String(), map[string]any{"document_id": id.String()}); err != nil {
			s.log.Warn("vector cleanup failed", "document_id", id.String(), "error", err)
		}
	}
	if doc.FilePath != "" {
		if err := s.blobs.Delete(dbc.Ctx, doc.FilePath); err != nil {
			s.log.Warn("blob cleanup failed", "document_id", id.String(), "error", err)
		}
	}
	return nil
}

func (s *documentService) DownloadURL(dbc dbctx.Context, actor Actor, id uuid.UUID) (string, error) {
	doc, err := s.docs.GetByID(dbc, actor.TenantID, id)
	if err != nil {
		return "", err
	}
	if doc.FilePath == "" {
		return "", fmt.Errorf("%w: document has no stored file", apierr.ErrNotFound)
	}
	return s.blobs.PresignedURL(dbc.Ctx, doc.FilePath, s.urlTTL)
}

func contentTypeFor(ext string) string {
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}
