package domain

import (
	"time"

	"github.com/google/uuid"
)

// Collection counters are recomputed from aggregates inside the transaction
// that mutated membership or chunks; application code never increments them.
type Collection struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Name               string `gorm:"column:name;not null" json:"name"`
	DocumentCount      int    `gorm:"column:document_count;not null;default:0" json:"document_count"`
	TotalChunks        int    `gorm:"column:total_chunks;not null;default:0" json:"total_chunks"`
	EmbeddingModel     string `gorm:"column:embedding_model" json:"embedding_model,omitempty"`
	EmbeddingDimension int    `gorm:"column:embedding_dimension;not null;default:0" json:"embedding_dimension,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Collection) TableName() string { return "collection" }

type CollectionDocument struct {
	CollectionID uuid.UUID `gorm:"type:uuid;not null;primaryKey" json:"collection_id"`
	DocumentID   uuid.UUID `gorm:"type:uuid;not null;primaryKey;index" json:"document_id"`
	LinkedAt     time.Time `gorm:"not null;default:now()" json:"linked_at"`
}

func (CollectionDocument) TableName() string { return "collection_document" }
