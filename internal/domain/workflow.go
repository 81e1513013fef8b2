package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Workflow is a template-driven long-form generation definition. Definitions
// ship as YAML and are synced into this table at startup.
type Workflow struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;index" json:"tenant_id,omitempty"`

	Name           string `gorm:"column:name;not null;uniqueIndex" json:"name"`
	Category       string `gorm:"column:category;index" json:"category,omitempty"`
	PromptTemplate string `gorm:"column:prompt_template;type:text" json:"prompt_template,omitempty"`

	VariablesSchema datatypes.JSON `gorm:"type:jsonb;column:variables_schema" json:"variables_schema,omitempty"`
	OutputSchema    datatypes.JSON `gorm:"type:jsonb;column:output_schema" json:"output_schema,omitempty"`
	OutputFormat    string         `gorm:"column:output_format" json:"output_format,omitempty"`

	MinDocuments int `gorm:"column:min_documents;not null;default:1" json:"min_documents"`
	MaxDocuments int `gorm:"column:max_documents;not null;default:10" json:"max_documents"`

	RetrievalSpec datatypes.JSON `gorm:"type:jsonb;column:retrieval_spec" json:"retrieval_spec,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Workflow) TableName() string { return "workflow" }

// WorkflowRun executes a workflow over a document set. DocumentIDs keeps the
// 1-based citation order ([D{n}:p{page}] indexes into it).
type WorkflowRun struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	WorkflowID uuid.UUID `gorm:"type:uuid;not null;index" json:"workflow_id"`
	TenantID   uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	DocumentIDs datatypes.JSON `gorm:"type:jsonb;column:document_ids" json:"document_ids,omitempty"`
	Variables   datatypes.JSON `gorm:"type:jsonb;column:variables" json:"variables,omitempty"`

	Mode   string `gorm:"column:mode" json:"mode,omitempty"` // direct | map_reduce
	Status string `gorm:"column:status;not null;default:queued;index" json:"status"`

	Artifact         datatypes.JSON `gorm:"type:jsonb;column:artifact" json:"artifact,omitempty"`
	SectionSummaries datatypes.JSON `gorm:"type:jsonb;column:section_summaries" json:"section_summaries,omitempty"`

	TokenUsage     int            `gorm:"column:token_usage;not null;default:0" json:"token_usage"`
	Cost           float64        `gorm:"column:cost;not null;default:0" json:"cost"`
	CitationsCount int            `gorm:"column:citations_count;not null;default:0" json:"citations_count"`
	ValidationErrs datatypes.JSON `gorm:"type:jsonb;column:validation_errors" json:"validation_errors,omitempty"`
	ContextStats   datatypes.JSON `gorm:"type:jsonb;column:context_stats" json:"context_stats,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (WorkflowRun) TableName() string { return "workflow_run" }
