package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Extraction is a one-shot structured extraction of a document. DocumentID
// is nullable: deleting a document preserves the extraction as audit trail.
type Extraction struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	DocumentID *uuid.UUID `gorm:"type:uuid;column:document_id;index" json:"document_id,omitempty"`

	Context    string `gorm:"column:context" json:"context,omitempty"`
	ParserUsed string `gorm:"column:parser_used" json:"parser_used,omitempty"`
	Pages      int    `gorm:"column:pages;not null;default:0" json:"pages"`
	Status     string `gorm:"column:status;not null;default:queued;index" json:"status"`

	Result datatypes.JSON `gorm:"type:jsonb;column:result" json:"result,omitempty"`

	Tokens int     `gorm:"column:tokens;not null;default:0" json:"tokens"`
	Cost   float64 `gorm:"column:cost;not null;default:0" json:"cost"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Extraction) TableName() string { return "extraction" }
