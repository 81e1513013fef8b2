package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Session is a chat session over a user-selected document set. The rolling
// summary fields are the persistent half of conversation memory; Redis holds
// the read-through copy.
type Session struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Title        string `gorm:"column:title" json:"title,omitempty"`
	MessageCount int    `gorm:"column:message_count;not null;default:0" json:"message_count"`

	LastSummaryText     string         `gorm:"column:last_summary_text;type:text" json:"last_summary_text,omitempty"`
	LastSummaryKeyFacts datatypes.JSON `gorm:"type:jsonb;column:last_summary_key_facts" json:"last_summary_key_facts,omitempty"`
	LastSummarizedIndex int            `gorm:"column:last_summarized_index;not null;default:0" json:"last_summarized_index"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Session) TableName() string { return "session" }

type SessionDocument struct {
	SessionID  uuid.UUID `gorm:"type:uuid;not null;primaryKey" json:"session_id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;primaryKey;index" json:"document_id"`
	LinkedAt   time.Time `gorm:"not null;default:now()" json:"linked_at"`
}

func (SessionDocument) TableName() string { return "session_document" }

// Message ordering within a session is strict: message_index is 0..M-1 with
// no gaps, assigned inside the transaction that saves the message pair.
type Message struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uq_message_session_index" json:"session_id"`
	Session   *Session  `gorm:"constraint:OnDelete:CASCADE;foreignKey:SessionID;references:ID" json:"session,omitempty"`

	Role         string `gorm:"column:role;not null" json:"role"`
	Content      string `gorm:"column:content;type:text;not null" json:"content"`
	MessageIndex int    `gorm:"column:message_index;not null;uniqueIndex:uq_message_session_index" json:"message_index"`

	SourceChunkIDs     datatypes.JSON `gorm:"type:jsonb;column:source_chunk_ids" json:"source_chunk_ids,omitempty"`
	RetrievalQuery     string         `gorm:"column:retrieval_query" json:"retrieval_query,omitempty"`
	NumChunksRetrieved int            `gorm:"column:num_chunks_retrieved;not null;default:0" json:"num_chunks_retrieved"`

	Model  string  `gorm:"column:model" json:"model,omitempty"`
	Tokens int     `gorm:"column:tokens;not null;default:0" json:"tokens"`
	Cost   float64 `gorm:"column:cost;not null;default:0" json:"cost"`

	ComparisonMetadata datatypes.JSON `gorm:"type:jsonb;column:comparison_metadata" json:"comparison_metadata,omitempty"`
	CitationMetadata   datatypes.JSON `gorm:"type:jsonb;column:citation_metadata" json:"citation_metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (Message) TableName() string { return "message" }
