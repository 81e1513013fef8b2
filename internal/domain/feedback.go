package domain

import (
	"time"

	"github.com/google/uuid"
)

// Feedback rates any operation type; exactly one operation-entity foreign
// key must be set (repository guard).
type Feedback struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	MessageID     *uuid.UUID `gorm:"type:uuid;column:message_id;index" json:"message_id,omitempty"`
	ExtractionID  *uuid.UUID `gorm:"type:uuid;column:extraction_id;index" json:"extraction_id,omitempty"`
	WorkflowRunID *uuid.UUID `gorm:"type:uuid;column:workflow_run_id;index" json:"workflow_run_id,omitempty"`

	Rating  int    `gorm:"column:rating;not null" json:"rating"`
	Comment string `gorm:"column:comment;type:text" json:"comment,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Feedback) TableName() string { return "feedback" }

func (f *Feedback) OwnerCount() int {
	n := 0
	for _, id := range []*uuid.UUID{f.MessageID, f.ExtractionID, f.WorkflowRunID} {
		if id != nil && *id != uuid.Nil {
			n++
		}
	}
	return n
}
