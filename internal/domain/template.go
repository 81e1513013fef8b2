package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Template is an uploaded Excel template whose fields are filled from
// extracted document data. Only the boundary status machine lives here.
type Template struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Name       string `gorm:"column:name;not null" json:"name"`
	FilePath   string `gorm:"column:file_path" json:"file_path"`
	FieldCount int    `gorm:"column:field_count;not null;default:0" json:"field_count"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Template) TableName() string { return "template" }

// TemplateFillRun status machine:
// queued -> processing -> awaiting_review -> processing -> completed|failed.
type TemplateFillRun struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TemplateID uuid.UUID `gorm:"type:uuid;not null;index" json:"template_id"`
	TenantID   uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	DocumentID *uuid.UUID `gorm:"type:uuid;column:document_id;index" json:"document_id,omitempty"`

	Status     string         `gorm:"column:status;not null;default:queued;index" json:"status"`
	FieldValues datatypes.JSON `gorm:"type:jsonb;column:field_values" json:"field_values,omitempty"`
	OutputPath string         `gorm:"column:output_path" json:"output_path,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (TemplateFillRun) TableName() string { return "template_fill_run" }

// ValidFillTransition reports whether a TemplateFillRun status change is
// allowed by the review loop.
func ValidFillTransition(from, to string) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusAwaitingReview || to == StatusCompleted || to == StatusFailed
	case StatusAwaitingReview:
		return to == StatusProcessing || to == StatusFailed
	default:
		return false
	}
}
