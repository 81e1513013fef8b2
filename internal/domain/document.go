package domain

import (
	"time"

	"github.com/google/uuid"
)

// Document is the canonical, content-hash-addressed record for a file's
// contents within a tenant. Uniqueness: (tenant_id, content_hash).
type Document struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uq_document_tenant_hash" json:"tenant_id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Filename    string `gorm:"column:filename;not null" json:"filename"`
	FilePath    string `gorm:"column:file_path" json:"file_path"`
	SizeBytes   int64  `gorm:"column:size_bytes;not null;default:0" json:"size_bytes"`
	ContentHash string `gorm:"column:content_hash;not null;uniqueIndex:uq_document_tenant_hash" json:"content_hash"`

	PageCount        int     `gorm:"column:page_count;not null;default:0" json:"page_count"`
	ChunkCount       int     `gorm:"column:chunk_count;not null;default:0" json:"chunk_count"`
	Status           string  `gorm:"column:status;not null;default:processing;index" json:"status"`
	ParserUsed       string  `gorm:"column:parser_used" json:"parser_used,omitempty"`
	ProcessingTimeMs int64   `gorm:"column:processing_time_ms;not null;default:0" json:"processing_time_ms"`
	Cost             float64 `gorm:"column:cost;not null;default:0" json:"cost"`
	ErrorMessage     string  `gorm:"column:error_message" json:"error_message,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Document) TableName() string { return "document" }
