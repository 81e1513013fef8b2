package services

import (
	"strings"

	"github.com/google/uuid"

	collectionsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/collections"
	documentsrepo "github.com/docmindhq/docmind-backend/internal/data/repos/documents"
	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/apierr"
	"github.com/docmindhq/docmind-backend/internal/platform/dbctx"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

type CollectionService interface {
	Create(dbc dbctx.Context, actor Actor, name string) (*domain.Collection, error)
	Get(dbc dbctx.Context, actor Actor, id uuid.UUID) (*domain.Collection, []uuid.UUID, error)
	List(dbc dbctx.Context, actor Actor) ([]*domain.Collection, error)
	AddDocument(dbc dbctx.Context, actor Actor, collectionID, documentID uuid.UUID) error
	RemoveDocument(dbc dbctx.Context, actor Actor, collectionID, documentID uuid.UUID) error
	Delete(dbc dbctx.Context, actor Actor, id uuid.UUID) error
}

type collectionService struct {
	log         *logger.Logger
	collections collectionsrepo.CollectionRepo
	docs        documentsrepo.DocumentRepo
}

func NewCollectionService(baseLog *logger.Logger, collectionRepo collectionsrepo.CollectionRepo, docRepo documentsrepo.DocumentRepo) CollectionService {
	return &collectionService{
		log:         baseLog.With("service", "CollectionService"),
		collections: collectionRepo,
		docs:        docRepo,
	}
}

func (s *collectionService) Create(dbc dbctx.Context, actor Actor, name string) (*domain.Collection, error) {
	if !actor.Valid() {
		return nil, apierr.ErrInvalidArgument
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apierr.Newf(apierr.KindValidation, "", false, "collection name required")
	}
	return s.collections.Create(dbc, &domain.Collection{
		TenantID: actor.TenantID,
		UserID:   actor.UserID,
		Name:     name,
	})
}

func (s *collectionService) Get(dbc dbctx.Context, actor Actor, id uuid.UUID) (*domain.Collection, []uuid.UUID, error) {
	col, err := s.collections.GetByID(dbc, actor.TenantID, id)
	if err != nil {
		return nil, nil, err
	}
	docIDs, err := s.collections.DocumentIDs(dbc, col.ID)
	if err != nil {
		return nil, nil, err
	}
	return col, docIDs, nil
}

func (s *collectionService) List(dbc dbctx.Context, actor Actor) ([]*domain.Collection, error) {
	return s.collections.ListByUser(dbc, actor.TenantID, actor.UserID)
}

func (s *collectionService) AddDocument(dbc dbctx.Context, actor Actor, collectionID, documentID uuid.UUID) error {
	if _, err := s.collections.GetByID(dbc, actor.TenantID, collectionID); err != nil {
		return err
	}
	if _, err := s.docs.GetByID(dbc, actor.TenantID, documentID); err != nil {
		return err
	}
	if err := s.collections.LinkDocument(dbc, collectionID, documentID); err != nil {
		return err
	}
	return s.collections.RecomputeCounters(dbc, collectionID)
}

func (s *collectionService) RemoveDocument(dbc dbctx.Context, actor Actor, collectionID, documentID uuid.UUID) error {
	if _, err := s.collections.GetByID(dbc, actor.TenantID, collectionID); err != nil {
		return err
	}
	if err := s.collections.UnlinkDocument(dbc, collectionID, documentID); err != nil {
		return err
	}
	return s.collections.RecomputeCounters(dbc, collectionID)
}

func (s *collectionService) Delete(dbc dbctx.Context, actor Actor, id uuid.UUID) error {
	return s.collections.Delete(dbc, actor.TenantID, id)
}
