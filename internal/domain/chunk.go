package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Chunk is a reading-order unit of a document, either narrative or table.
// ChunkIndex is monotone within a document (0..N-1, no gaps).
type Chunk struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID   uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uq_chunk_doc_index" json:"document_id"`
	Document   *Document `gorm:"constraint:OnDelete:CASCADE;foreignKey:DocumentID;references:ID" json:"document,omitempty"`

	ChunkIndex int `gorm:"column:chunk_index;not null;uniqueIndex:uq_chunk_doc_index" json:"chunk_index"`

	// Text is the authoritative searchable form. NarrativeText has tables
	// stripped and is empty for table chunks. Tables preserves raw rows/cols
	// verbatim for table chunks.
	Text          string         `gorm:"column:text;type:text;not null" json:"text"`
	NarrativeText string         `gorm:"column:narrative_text;type:text" json:"narrative_text,omitempty"`
	Tables        datatypes.JSON `gorm:"type:jsonb;column:tables" json:"tables,omitempty"`

	Embedding          datatypes.JSON `gorm:"type:jsonb;column:embedding" json:"embedding,omitempty"`
	EmbeddingModel     string         `gorm:"column:embedding_model" json:"embedding_model,omitempty"`
	EmbeddingDimension int            `gorm:"column:embedding_dimension;not null;default:0" json:"embedding_dimension,omitempty"`

	PageNumber     int    `gorm:"column:page_number;not null;default:0;index" json:"page_number"`
	PageRange      string `gorm:"column:page_range" json:"page_range,omitempty"`
	SectionType    string `gorm:"column:section_type;index" json:"section_type,omitempty"`
	SectionHeading string `gorm:"column:section_heading" json:"section_heading,omitempty"`
	IsTabular      bool   `gorm:"column:is_tabular;not null;default:false;index" json:"is_tabular"`
	TokenCount     int    `gorm:"column:token_count;not null;default:0" json:"token_count"`

	// Relationship metadata (section_id, parent_chunk_id, sibling_chunk_ids,
	// linked_narrative_id, linked_table_ids, is_continuation, chunk_sequence,
	// heading_hierarchy, table_caption, document_filename, ...).
	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Chunk) TableName() string { return "chunk" }
